package api

import (
	"github.com/maksimkurb/vpnc-enforcer/src/internal/dnscheck"
	"github.com/maksimkurb/vpnc-enforcer/src/internal/enforcer"
	"github.com/maksimkurb/vpnc-enforcer/src/internal/service"
)

// DataResponse wraps successful responses with a "data" field.
type DataResponse struct {
	Data interface{} `json:"data"`
}

// RoutesRequest enforces routes for a VPN client. Omitted fields are taken from the
// supervised profile when there is one.
type RoutesRequest struct {
	RemoteIP             *string  `json:"remote_ip,omitempty"`
	Subnets              []string `json:"subnets,omitempty"`
	OverrideDefaultRoute *bool    `json:"override_default_route,omitempty"`
}

// DNSRequest enforces or removes DNS redirection. Omitted fields are taken from the
// supervised profile when there is one.
type DNSRequest struct {
	DNSServers []string `json:"dns_servers,omitempty"`
	RemoteIP   *string  `json:"remote_ip,omitempty"`
}

// OperationResponse acknowledges an enforcement operation.
type OperationResponse struct {
	Interface string `json:"interface"`
	Operation string `json:"operation"`
	Status    string `json:"status"`
}

// ClientsResponse lists supervised VPN clients.
type ClientsResponse struct {
	Clients []service.ClientStatus `json:"clients"`
}

// CheckResponse is the self-check of one VPN client.
type CheckResponse struct {
	Interface  string                     `json:"interface"`
	Healthy    bool                       `json:"healthy"`
	Components []enforcer.ComponentStatus `json:"components"`
	Resolvers  []dnscheck.Result          `json:"resolvers,omitempty"`
}

// VersionInfo contains build version information.
type VersionInfo struct {
	Version string `json:"version"`
	Date    string `json:"date"`
	Commit  string `json:"commit"`
}

// HealthCheckResponse contains the health check results.
type HealthCheckResponse struct {
	Healthy bool                   `json:"healthy"`
	Version VersionInfo            `json:"version"`
	Checks  map[string]CheckResult `json:"checks"`
}

// CheckResult represents the result of a single health check.
type CheckResult struct {
	Passed  bool   `json:"passed"`
	Message string `json:"message"`
}
