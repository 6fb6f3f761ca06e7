package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/maksimkurb/vpnc-enforcer/src/internal/enforcer"
	"github.com/maksimkurb/vpnc-enforcer/src/internal/errors"
	"github.com/maksimkurb/vpnc-enforcer/src/internal/log"
)

// CheckClient compares the kernel state of a VPN client with the expected layout.
// Query parameters override the supervised profile:
//
//	remote_ip=<addr>  dns=<a,b,...>  strict=<bool>  override=<bool>  probe=<bool>
//
// GET /api/v1/vpn-clients/{iface}/check
func (h *Handler) CheckClient(w http.ResponseWriter, r *http.Request) {
	iface := chi.URLParam(r, "iface")

	opts, err := h.inspectOptions(iface, r)
	if err != nil {
		WriteInvalidRequest(w, err.Error())
		return
	}

	components, err := h.engine.Inspect(iface, opts)
	if err != nil {
		if errors.HasCode(err, errors.ErrCodeAllocation) {
			WriteNotFound(w, "routing table of "+iface)
			return
		}
		WriteEnforcementError(w, err)
		return
	}

	resp := CheckResponse{
		Interface:  iface,
		Healthy:    true,
		Components: enforcer.CheckComponents(components),
	}
	for _, c := range resp.Components {
		if !c.OK {
			resp.Healthy = false
		}
	}

	if probe, _ := strconv.ParseBool(r.URL.Query().Get("probe")); probe && h.probers != nil && len(opts.DNSServers) > 0 {
		rtID, err := h.engine.RoutingTableID(iface)
		if err != nil {
			log.Warnf("Probing resolvers of %s without fwmark: %v", iface, err)
		}
		resp.Resolvers = h.probers(uint32(rtID)).ProbeAll(r.Context(), opts.DNSServers)
		for _, res := range resp.Resolvers {
			if !res.OK {
				resp.Healthy = false
			}
		}
	}

	writeJSONData(w, resp)
}

func (h *Handler) inspectOptions(iface string, r *http.Request) (enforcer.InspectOptions, error) {
	opts := enforcer.InspectOptions{OverrideDefault: true}
	if c := h.client(iface); c != nil {
		opts.RemoteIP = c.RemoteIP()
		opts.DNSServers = c.DNSServers()
		opts.StrictVPN = c.Profile().StrictVPN
		opts.OverrideDefault = c.Profile().ShouldOverrideDefaultRoute()
	}

	q := r.URL.Query()
	if q.Has("remote_ip") {
		opts.RemoteIP = q.Get("remote_ip")
		if !validRemoteIP(opts.RemoteIP) {
			return opts, errors.NewInputError("remote_ip is not an IP address: "+opts.RemoteIP, nil)
		}
	}
	if q.Has("dns") {
		opts.DNSServers = nil
		for _, s := range strings.Split(q.Get("dns"), ",") {
			if s = strings.TrimSpace(s); s != "" {
				opts.DNSServers = append(opts.DNSServers, s)
			}
		}
	}
	for name, dst := range map[string]*bool{"strict": &opts.StrictVPN, "override": &opts.OverrideDefault} {
		if !q.Has(name) {
			continue
		}
		v, err := strconv.ParseBool(q.Get(name))
		if err != nil {
			return opts, errors.NewInputError(name+" must be a boolean", err)
		}
		*dst = v
	}
	return opts, nil
}
