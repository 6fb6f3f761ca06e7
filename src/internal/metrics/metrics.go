// Package metrics exposes Prometheus counters for enforcement activity.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "vpnc"

// Result label values.
const (
	ResultOK      = "ok"
	ResultFailed  = "failed"
	ResultSkipped = "skipped"
)

var (
	once     sync.Once
	registry *Registry
)

// Registry holds all vpnc-enforcer metrics on a dedicated prometheus.Registry.
type Registry struct {
	reg *prometheus.Registry

	// Kernel primitive calls made by the enforcer, by primitive and result.
	PrimitiveOps *prometheus.CounterVec
	// Enforcer operations, by operation and result.
	EnforcementOps *prometheus.CounterVec

	// Supervisor state
	ClientLinkUp    *prometheus.GaugeVec
	ClientEnforced  *prometheus.GaugeVec
	LinkTransitions *prometheus.CounterVec

	// Resolver probes through the tunnel
	DNSProbes *prometheus.CounterVec

	// API
	APIRequests *prometheus.CounterVec
	APILatency  *prometheus.HistogramVec
}

// Get returns the process-wide registry, creating it if necessary.
func Get() *Registry {
	once.Do(func() {
		registry = New()
		registry.reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	})
	return registry
}

// New returns an independent registry. Tests use it to read counters in isolation.
func New() *Registry {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	r := &Registry{reg: reg}

	r.PrimitiveOps = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "primitive_ops_total",
		Help:      "Routing and packet filter primitive calls by primitive and result",
	}, []string{"primitive", "result"})

	r.EnforcementOps = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "enforcement_ops_total",
		Help:      "Enforcement operations by operation and result",
	}, []string{"operation", "result"})

	r.ClientLinkUp = f.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "client_link_up",
		Help:      "1 when the VPN client reports its link as up",
	}, []string{"profile", "interface"})

	r.ClientEnforced = f.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "client_enforced",
		Help:      "1 when routes and DNS redirection are applied for the VPN client",
	}, []string{"profile", "interface"})

	r.LinkTransitions = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "client_link_transitions_total",
		Help:      "VPN client link transitions seen by the supervisor",
	}, []string{"profile", "direction"})

	r.DNSProbes = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "dns_probes_total",
		Help:      "Resolver probes through VPN tunnels by result",
	}, []string{"result"})

	r.APIRequests = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "api_requests_total",
		Help:      "Control API requests by method, route and status",
	}, []string{"method", "route", "status"})

	r.APILatency = f.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "api_request_duration_seconds",
		Help:      "Control API request latency",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})

	return r
}

// Gatherer exposes the underlying registry.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}

// ObservePrimitive counts one primitive call.
func (r *Registry) ObservePrimitive(primitive string, err error) {
	r.PrimitiveOps.WithLabelValues(primitive, resultOf(err)).Inc()
}

// ObserveOperation counts one enforcer operation.
func (r *Registry) ObserveOperation(operation string, err error) {
	r.EnforcementOps.WithLabelValues(operation, resultOf(err)).Inc()
}

func resultOf(err error) string {
	if err != nil {
		return ResultFailed
	}
	return ResultOK
}

// SetClientState records the supervisor view of a profile.
func (r *Registry) SetClientState(profile, iface string, linkUp, enforced bool) {
	r.ClientLinkUp.WithLabelValues(profile, iface).Set(boolToFloat(linkUp))
	r.ClientEnforced.WithLabelValues(profile, iface).Set(boolToFloat(enforced))
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
