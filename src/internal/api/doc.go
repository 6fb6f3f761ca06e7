// Package api provides the HTTP control surface of vpnc-enforcer.
//
// It exposes the enforcement operations per VPN interface, a self-check that compares
// kernel state with the expected layout, the supervisor status and Prometheus metrics:
//
//	GET    /api/v1/vpn-clients
//	PUT    /api/v1/vpn-clients/{iface}/routes   (DELETE flushes)
//	PUT    /api/v1/vpn-clients/{iface}/strict   (DELETE unenforces)
//	PUT    /api/v1/vpn-clients/{iface}/dns      (DELETE unenforces)
//	GET    /api/v1/vpn-clients/{iface}/check
//	GET    /api/v1/health
//	GET    /metrics
//
// Requests are only accepted from private, loopback and link-local addresses.
//
// # Response Format
//
// All successful responses wrap data in a "data" field:
//
//	{
//	  "data": { /* response payload */ }
//	}
//
// Error responses use the following format:
//
//	{
//	  "error": {
//	    "code": "enforcement_failed",
//	    "message": "Human-readable error message",
//	    "details": { /* optional context */ }
//	  }
//	}
package api
