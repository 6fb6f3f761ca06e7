package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/maksimkurb/vpnc-enforcer/src/internal/log"
	"github.com/maksimkurb/vpnc-enforcer/src/internal/metrics"
	"github.com/maksimkurb/vpnc-enforcer/src/internal/vpnclient"
)

// Engine is the enforcement surface driven by the Supervisor. *enforcer.Enforcer implements it.
type Engine interface {
	EnforceVPNClientRoutes(remoteIP, iface string, subnets []string, overrideDefault bool) error
	FlushVPNClientRoutes(iface string) error
	EnforceStrictVPN(iface string) error
	UnenforceStrictVPN(iface string) error
	EnforceDNSRedirect(iface string, dnsServers []string, remoteIP string) error
	UnenforceDNSRedirect(iface string, dnsServers []string, remoteIP string) error
	DestroyRoutingTable(iface string) error
}

const (
	directionUp   = "up"
	directionDown = "down"
)

// ClientStatus is the supervisor view of one profile.
type ClientStatus struct {
	Profile    string          `json:"profile"`
	Interface  string          `json:"interface"`
	StrictVPN  bool            `json:"strict_vpn"`
	Enforced   bool            `json:"enforced"`
	Strict     bool            `json:"strict_applied"`
	State      vpnclient.State `json:"state"`
	LastError  string          `json:"last_error,omitempty"`
	LastChange time.Time       `json:"last_change,omitempty"`
}

type tracked struct {
	client *vpnclient.Client
	log    *log.Logger

	seen       vpnclient.State
	applied    vpnclient.State
	enforced   bool
	strict     bool
	dirty      bool
	lastErr    error
	lastChange time.Time
}

// Supervisor reconciles VPN client link state with the enforced layout.
type Supervisor struct {
	mu       sync.Mutex
	engine   Engine
	clients  []*tracked
	interval time.Duration
	metrics  *metrics.Registry
	now      func() time.Time
}

type Option func(*Supervisor)

// WithMetrics records client state in reg. A nil reg disables metrics.
func WithMetrics(reg *metrics.Registry) Option {
	return func(s *Supervisor) {
		s.metrics = reg
	}
}

// NewSupervisor tracks the given clients. Disabled profiles are skipped.
func NewSupervisor(engine Engine, clients []*vpnclient.Client, interval time.Duration, opts ...Option) *Supervisor {
	s := &Supervisor{
		engine:   engine,
		interval: interval,
		metrics:  metrics.Get(),
		now:      time.Now,
	}
	for _, c := range clients {
		if !c.Profile().IsEnabled() {
			log.Infof("VPN client profile %s is disabled, skipping", c.Name())
			continue
		}
		s.clients = append(s.clients, &tracked{
			client: c,
			log:    log.With(fmt.Sprintf("[%s %s]", c.Name(), c.Interface())),
		})
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run reconciles immediately and then on every poll interval until ctx is done.
func (s *Supervisor) Run(ctx context.Context) error {
	log.Infof("Supervising %d VPN client(s), polling every %s", len(s.clients), s.interval)
	s.Reconcile()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.Reconcile()
		}
	}
}

// Reconcile reads every client once and applies what changed.
func (s *Supervisor) Reconcile() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.clients {
		s.reconcile(t)
	}
}

// Refresh forces every linked client to be enforced again on the next Reconcile.
func (s *Supervisor) Refresh() {
	s.mu.Lock()
	for _, t := range s.clients {
		t.dirty = true
	}
	s.mu.Unlock()

	s.Reconcile()
}

func (s *Supervisor) reconcile(t *tracked) {
	st := t.client.Snapshot()
	s.observeTransition(t, st)
	t.seen = st

	switch {
	case st.LinkUp && (!t.enforced || t.dirty || !sameLayout(st, t.applied)):
		if t.enforced {
			t.log.Infof("VPN client layout changed, re-enforcing")
			s.unenforceDNS(t)
		}
		s.enforce(t, st)
	case !st.LinkUp && t.enforced:
		s.withdraw(t)
	case !st.LinkUp && t.client.Profile().StrictVPN && !t.strict:
		s.enforceStrict(t)
	}

	if s.metrics != nil {
		s.metrics.SetClientState(t.client.Name(), t.client.Interface(), st.LinkUp, t.enforced)
	}
}

func (s *Supervisor) observeTransition(t *tracked, st vpnclient.State) {
	if st.LinkUp == t.seen.LinkUp {
		return
	}
	direction := directionDown
	if st.LinkUp {
		direction = directionUp
	}
	t.log.Infof("VPN client link is %s", direction)
	t.lastChange = s.now()
	if s.metrics != nil {
		s.metrics.LinkTransitions.WithLabelValues(t.client.Name(), direction).Inc()
	}
}

func (s *Supervisor) enforce(t *tracked, st vpnclient.State) {
	iface := t.client.Interface()
	profile := t.client.Profile()

	if err := s.engine.EnforceVPNClientRoutes(st.RemoteIP, iface, st.Subnets, profile.ShouldOverrideDefaultRoute()); err != nil {
		t.log.Errorf("Failed to enforce routes: %v", err)
		t.lastErr = err
		t.enforced = false
		return
	}
	if err := s.engine.EnforceDNSRedirect(iface, st.DNSServers, st.RemoteIP); err != nil {
		t.log.Errorf("Failed to enforce DNS redirection: %v", err)
		t.lastErr = err
	} else {
		t.lastErr = nil
	}
	if profile.StrictVPN {
		s.enforceStrict(t)
	}

	t.applied = st
	t.enforced = true
	t.dirty = false
	t.log.Infof("VPN client enforced (remote %q, %d subnet(s), %d resolver(s))", st.RemoteIP, len(st.Subnets), len(st.DNSServers))
}

func (s *Supervisor) enforceStrict(t *tracked) {
	if err := s.engine.EnforceStrictVPN(t.client.Interface()); err != nil {
		t.log.Errorf("Failed to enforce strict VPN: %v", err)
		t.lastErr = err
		return
	}
	t.strict = true
}

func (s *Supervisor) unenforceDNS(t *tracked) error {
	err := s.engine.UnenforceDNSRedirect(t.client.Interface(), t.applied.DNSServers, t.applied.RemoteIP)
	if err != nil {
		t.log.Errorf("Failed to remove DNS redirection: %v", err)
	}
	return err
}

// withdraw removes DNS redirection and routes. The strict lock is kept.
func (s *Supervisor) withdraw(t *tracked) error {
	var result *multierror.Error
	if err := s.unenforceDNS(t); err != nil {
		result = multierror.Append(result, err)
	}
	if err := s.engine.FlushVPNClientRoutes(t.client.Interface()); err != nil {
		t.log.Errorf("Failed to flush routes: %v", err)
		result = multierror.Append(result, err)
	}
	t.applied = vpnclient.State{}
	t.enforced = false
	t.lastErr = result.ErrorOrNil()
	t.log.Infof("VPN client withdrawn")
	return t.lastErr
}

// Shutdown withdraws every enforced client. With undo, strict locks are removed and the
// routing tables released as well.
func (s *Supervisor) Shutdown(undo bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result *multierror.Error
	for _, t := range s.clients {
		if t.enforced {
			if err := s.withdraw(t); err != nil {
				result = multierror.Append(result, err)
			}
		}
		if !undo {
			continue
		}

		iface := t.client.Interface()
		if t.strict || t.client.Profile().StrictVPN {
			if err := s.engine.UnenforceStrictVPN(iface); err != nil {
				result = multierror.Append(result, fmt.Errorf("%s: %w", iface, err))
			} else {
				t.strict = false
			}
		}
		if err := s.engine.DestroyRoutingTable(iface); err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", iface, err))
		}
		if s.metrics != nil {
			s.metrics.SetClientState(t.client.Name(), iface, t.seen.LinkUp, false)
		}
	}
	return result.ErrorOrNil()
}

// Status returns the last observed state of every supervised profile.
func (s *Supervisor) Status() []ClientStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	statuses := make([]ClientStatus, 0, len(s.clients))
	for _, t := range s.clients {
		st := ClientStatus{
			Profile:    t.client.Name(),
			Interface:  t.client.Interface(),
			StrictVPN:  t.client.Profile().StrictVPN,
			Enforced:   t.enforced,
			Strict:     t.strict,
			State:      t.seen,
			LastChange: t.lastChange,
		}
		if t.lastErr != nil {
			st.LastError = t.lastErr.Error()
		}
		statuses = append(statuses, st)
	}
	return statuses
}

// Client returns the supervised client bound to iface, or nil.
func (s *Supervisor) Client(iface string) *vpnclient.Client {
	for _, t := range s.clients {
		if t.client.Interface() == iface {
			return t.client
		}
	}
	return nil
}

// sameLayout ignores the status message.
func sameLayout(a, b vpnclient.State) bool {
	a.Message, b.Message = "", ""
	return a.Equal(b)
}
