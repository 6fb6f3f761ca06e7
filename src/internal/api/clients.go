package api

import (
	"net/http"
	"net/netip"

	"github.com/go-chi/chi/v5"

	"github.com/maksimkurb/vpnc-enforcer/src/internal/service"
)

const statusOK = "ok"

// ListClients returns the supervised VPN clients.
// GET /api/v1/vpn-clients
func (h *Handler) ListClients(w http.ResponseWriter, r *http.Request) {
	clients := []service.ClientStatus{}
	if h.supervisor != nil {
		clients = h.supervisor.Status()
	}
	writeJSONData(w, ClientsResponse{Clients: clients})
}

// EnforceRoutes installs the routing layout of a VPN client.
// PUT /api/v1/vpn-clients/{iface}/routes
func (h *Handler) EnforceRoutes(w http.ResponseWriter, r *http.Request) {
	iface := chi.URLParam(r, "iface")

	var req RoutesRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		WriteInvalidRequest(w, "Invalid JSON: "+err.Error())
		return
	}

	var remoteIP string
	var subnets []string
	override := true
	if c := h.client(iface); c != nil {
		remoteIP, subnets = c.RemoteIP(), c.RoutedSubnets()
		override = c.Profile().ShouldOverrideDefaultRoute()
	}
	if req.RemoteIP != nil {
		remoteIP = *req.RemoteIP
	}
	if req.Subnets != nil {
		subnets = req.Subnets
	}
	if req.OverrideDefaultRoute != nil {
		override = *req.OverrideDefaultRoute
	}
	if !validRemoteIP(remoteIP) {
		WriteInvalidRequest(w, "remote_ip is not an IP address: "+remoteIP)
		return
	}

	if err := h.engine.EnforceVPNClientRoutes(remoteIP, iface, subnets, override); err != nil {
		WriteEnforcementError(w, err)
		return
	}
	writeJSONData(w, OperationResponse{Interface: iface, Operation: "enforce_routes", Status: statusOK})
}

// FlushRoutes removes the routing layout of a VPN client.
// DELETE /api/v1/vpn-clients/{iface}/routes
func (h *Handler) FlushRoutes(w http.ResponseWriter, r *http.Request) {
	iface := chi.URLParam(r, "iface")
	if err := h.engine.FlushVPNClientRoutes(iface); err != nil {
		WriteEnforcementError(w, err)
		return
	}
	writeJSONData(w, OperationResponse{Interface: iface, Operation: "flush_routes", Status: statusOK})
}

// EnforceStrict installs the strict VPN lock.
// PUT /api/v1/vpn-clients/{iface}/strict
func (h *Handler) EnforceStrict(w http.ResponseWriter, r *http.Request) {
	iface := chi.URLParam(r, "iface")
	if err := h.engine.EnforceStrictVPN(iface); err != nil {
		WriteEnforcementError(w, err)
		return
	}
	writeJSONData(w, OperationResponse{Interface: iface, Operation: "enforce_strict", Status: statusOK})
}

// UnenforceStrict removes the strict VPN lock. Unlike the other operations, teardown
// failures are reported.
// DELETE /api/v1/vpn-clients/{iface}/strict
func (h *Handler) UnenforceStrict(w http.ResponseWriter, r *http.Request) {
	iface := chi.URLParam(r, "iface")
	if err := h.engine.UnenforceStrictVPN(iface); err != nil {
		WriteEnforcementError(w, err)
		return
	}
	writeJSONData(w, OperationResponse{Interface: iface, Operation: "unenforce_strict", Status: statusOK})
}

// EnforceDNS redirects DNS queries of steered devices to the tunnel resolvers.
// PUT /api/v1/vpn-clients/{iface}/dns
func (h *Handler) EnforceDNS(w http.ResponseWriter, r *http.Request) {
	h.dns(w, r, true)
}

// UnenforceDNS removes DNS redirection.
// DELETE /api/v1/vpn-clients/{iface}/dns
func (h *Handler) UnenforceDNS(w http.ResponseWriter, r *http.Request) {
	h.dns(w, r, false)
}

func (h *Handler) dns(w http.ResponseWriter, r *http.Request, enforce bool) {
	iface := chi.URLParam(r, "iface")

	var req DNSRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		WriteInvalidRequest(w, "Invalid JSON: "+err.Error())
		return
	}

	var remoteIP string
	var servers []string
	if c := h.client(iface); c != nil {
		remoteIP, servers = c.RemoteIP(), c.DNSServers()
	}
	if req.RemoteIP != nil {
		remoteIP = *req.RemoteIP
	}
	if req.DNSServers != nil {
		servers = req.DNSServers
	}
	if !validRemoteIP(remoteIP) {
		WriteInvalidRequest(w, "remote_ip is not an IP address: "+remoteIP)
		return
	}

	operation := "enforce_dns"
	fn := h.engine.EnforceDNSRedirect
	if !enforce {
		operation = "unenforce_dns"
		fn = h.engine.UnenforceDNSRedirect
	}
	if err := fn(iface, servers, remoteIP); err != nil {
		WriteEnforcementError(w, err)
		return
	}
	writeJSONData(w, OperationResponse{Interface: iface, Operation: operation, Status: statusOK})
}

// validRemoteIP accepts an empty value (device-only routes) or an address literal.
func validRemoteIP(s string) bool {
	if s == "" {
		return true
	}
	_, err := netip.ParseAddr(s)
	return err == nil
}
