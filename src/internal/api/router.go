package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/maksimkurb/vpnc-enforcer/src/internal/metrics"
)

// NewRouter creates a new HTTP router with all API endpoints. A nil reg disables
// request metrics and the /metrics endpoint.
func NewRouter(h *Handler, reg *metrics.Registry) http.Handler {
	r := chi.NewRouter()

	// Apply middleware
	r.Use(Recovery)
	r.Use(Logger)
	r.Use(Metrics(reg))
	r.Use(PrivateSubnetOnly) // Restrict access to private subnets
	r.Use(JSONContentType)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/vpn-clients", h.ListClients)

		r.Route("/vpn-clients/{iface}", func(r chi.Router) {
			r.Use(ValidInterface)

			r.Put("/routes", h.EnforceRoutes)
			r.Delete("/routes", h.FlushRoutes)

			r.Put("/strict", h.EnforceStrict)
			r.Delete("/strict", h.UnenforceStrict)

			r.Put("/dns", h.EnforceDNS)
			r.Delete("/dns", h.UnenforceDNS)

			r.Get("/check", h.CheckClient)
		})

		// Health check endpoint
		r.Get("/health", h.CheckHealth)
	})

	if reg != nil {
		r.Handle("/metrics", reg.Handler())
	}

	return r
}
