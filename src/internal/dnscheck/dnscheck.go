// Package dnscheck probes VPN client resolvers.
//
// Probes can carry the fwmark of a VPN client so that they follow the same policy
// routing as the redirected queries of steered devices.
package dnscheck

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"time"

	"github.com/miekg/dns"
	"golang.org/x/sys/unix"

	"github.com/maksimkurb/vpnc-enforcer/src/internal/log"
	"github.com/maksimkurb/vpnc-enforcer/src/internal/metrics"
)

const (
	defaultDNSPort = "53"

	// DefaultTimeout bounds a single probe.
	DefaultTimeout = 3 * time.Second

	// DefaultQueryName is resolved by probes when no name is given.
	DefaultQueryName = "example.com."
)

// Result is the outcome of one probe.
type Result struct {
	Server  string        `json:"server"`
	OK      bool          `json:"ok"`
	RTT     time.Duration `json:"rtt"`
	Rcode   string        `json:"rcode,omitempty"`
	Answers int           `json:"answers"`
	Error   string        `json:"error,omitempty"`
}

// Prober sends A queries to resolvers.
type Prober struct {
	client  *dns.Client
	name    string
	metrics *metrics.Registry
}

type Option func(*Prober)

// WithMark sets SO_MARK on probe sockets. Needs CAP_NET_ADMIN.
func WithMark(mark uint32) Option {
	return func(p *Prober) {
		if mark == 0 {
			return
		}
		p.client.Dialer = &net.Dialer{
			Timeout: p.client.Timeout,
			Control: func(network, address string, c syscall.RawConn) error {
				var sockErr error
				err := c.Control(func(fd uintptr) {
					sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_MARK, int(mark))
				})
				if err != nil {
					return err
				}
				return sockErr
			},
		}
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(p *Prober) {
		p.client.Timeout = timeout
		if p.client.Dialer != nil {
			p.client.Dialer.Timeout = timeout
		}
	}
}

// WithQueryName changes the probed name.
func WithQueryName(name string) Option {
	return func(p *Prober) {
		p.name = dns.Fqdn(name)
	}
}

func WithMetrics(reg *metrics.Registry) Option {
	return func(p *Prober) {
		p.metrics = reg
	}
}

func NewProber(opts ...Option) *Prober {
	p := &Prober{
		client: &dns.Client{
			Net:     "udp",
			Timeout: DefaultTimeout,
		},
		name:    DefaultQueryName,
		metrics: metrics.Get(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Probe resolves the probe name through server. Any answer from the server, including
// NXDOMAIN, counts as a working resolver; SERVFAIL and REFUSED do not.
func (p *Prober) Probe(ctx context.Context, server string) Result {
	res := Result{Server: server}
	address := server
	if _, _, err := net.SplitHostPort(server); err != nil {
		address = net.JoinHostPort(server, defaultDNSPort)
	}

	req := new(dns.Msg)
	req.SetQuestion(p.name, dns.TypeA)
	req.RecursionDesired = true

	resp, rtt, err := p.client.ExchangeContext(ctx, req, address)
	res.RTT = rtt
	switch {
	case err != nil:
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			res.Error = fmt.Sprintf("timeout after %s", p.client.Timeout)
		} else {
			res.Error = err.Error()
		}
	case resp.Rcode == dns.RcodeServerFailure || resp.Rcode == dns.RcodeRefused:
		res.Rcode = dns.RcodeToString[resp.Rcode]
		res.Error = "resolver answered " + res.Rcode
	default:
		res.Rcode = dns.RcodeToString[resp.Rcode]
		res.Answers = len(resp.Answer)
		res.OK = true
	}

	if p.metrics != nil {
		result := metrics.ResultOK
		if !res.OK {
			result = metrics.ResultFailed
		}
		p.metrics.DNSProbes.WithLabelValues(result).Inc()
	}
	if res.OK {
		log.Debugf("Resolver %s answered %s in %s", server, res.Rcode, rtt)
	} else {
		log.Warnf("Resolver %s probe failed: %s", server, res.Error)
	}
	return res
}

// ProbeAll probes servers in order.
func (p *Prober) ProbeAll(ctx context.Context, servers []string) []Result {
	results := make([]Result, 0, len(servers))
	for _, s := range servers {
		results = append(results, p.Probe(ctx, s))
	}
	return results
}
