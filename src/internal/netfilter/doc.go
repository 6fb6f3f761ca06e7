// Package netfilter applies iptables and ip6tables rules idempotently through
// github.com/coreos/go-iptables.
//
// Each Rule names its address family, so callers pick iptables or ip6tables per
// rule instead of per call site. When ip6tables is missing, IPv6 rules are
// skipped and logged at debug level.
package netfilter
