package api

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"

	"github.com/maksimkurb/vpnc-enforcer/src/internal/dnscheck"
	"github.com/maksimkurb/vpnc-enforcer/src/internal/enforcer"
	"github.com/maksimkurb/vpnc-enforcer/src/internal/service"
	"github.com/maksimkurb/vpnc-enforcer/src/internal/vpnclient"
)

// Engine is the enforcement surface exposed over HTTP. *enforcer.Enforcer implements it.
type Engine interface {
	service.Engine
	RoutingTableID(iface string) (int, error)
	Inspect(iface string, opts enforcer.InspectOptions) ([]enforcer.Component, error)
}

// Supervisor reports supervised profiles. *service.Supervisor implements it.
type Supervisor interface {
	Status() []service.ClientStatus
	Client(iface string) *vpnclient.Client
}

// Prober probes resolvers. *dnscheck.Prober implements it.
type Prober interface {
	ProbeAll(ctx context.Context, servers []string) []dnscheck.Result
}

// ProberFactory returns a Prober whose queries carry the given fwmark.
type ProberFactory func(mark uint32) Prober

// Handler manages all API endpoints and dependencies.
type Handler struct {
	engine     Engine
	supervisor Supervisor
	probers    ProberFactory
	version    VersionInfo
}

// NewHandler creates a new API handler. supervisor and probers may be nil.
func NewHandler(engine Engine, supervisor Supervisor, probers ProberFactory, version VersionInfo) *Handler {
	return &Handler{
		engine:     engine,
		supervisor: supervisor,
		probers:    probers,
		version:    version,
	}
}

// client returns the supervised client bound to iface, or nil.
func (h *Handler) client(iface string) *vpnclient.Client {
	if h.supervisor == nil {
		return nil
	}
	return h.supervisor.Client(iface)
}

// writeJSON writes a JSON response with the given status code and data.
func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(DataResponse{Data: data})
}

// writeJSONData writes a successful JSON response with data.
func writeJSONData(w http.ResponseWriter, data interface{}) {
	writeJSON(w, http.StatusOK, data)
}

// decodeOptionalJSON decodes JSON from the request body. An empty body leaves v untouched.
func decodeOptionalJSON(r *http.Request, v interface{}) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if stderrors.Is(err, io.EOF) {
		return nil
	}
	return err
}
