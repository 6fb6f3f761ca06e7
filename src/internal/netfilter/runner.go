package netfilter

import (
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	"github.com/coreos/go-iptables/iptables"
	"github.com/hashicorp/go-multierror"

	"github.com/maksimkurb/vpnc-enforcer/src/internal/log"
	"github.com/maksimkurb/vpnc-enforcer/src/internal/utils"
)

const (
	TableFilter = "filter"
	TableNat    = "nat"
	TableMangle = "mangle"
)

// IPTables is the subset of *iptables.IPTables used by the Runner.
type IPTables interface {
	Insert(table, chain string, pos int, rulespec ...string) error
	Append(table, chain string, rulespec ...string) error
	Exists(table, chain string, rulespec ...string) (bool, error)
	Delete(table, chain string, rulespec ...string) error
	ChainExists(table, chain string) (bool, error)
	NewChain(table, chain string) error
	ClearChain(table, chain string) error
	DeleteChain(table, chain string) error
}

// Rule is a rule spec in a chain of one address family.
type Rule struct {
	Family int
	Table  string
	Chain  string
	Spec   []string
}

func (r Rule) String() string {
	cmd := "iptables"
	if r.Family == utils.FamilyV6 {
		cmd = "ip6tables"
	}
	return fmt.Sprintf("%s -t %s %s %s", cmd, r.Table, r.Chain, strings.Join(r.Spec, " "))
}

// Runner applies rules idempotently: Append and Insert are no-ops when the rule is
// present, Delete is a no-op when it is absent.
type Runner struct {
	mu          sync.Mutex
	ipt4        IPTables
	ipt6        IPTables
	v6Available bool
}

// NewRunner creates handles for iptables and ip6tables. A missing ip6tables binary
// disables the IPv6 family instead of failing.
func NewRunner() (*Runner, error) {
	ipt4, err := iptables.NewWithProtocol(iptables.ProtocolIPv4)
	if err != nil {
		return nil, fmt.Errorf("failed to create iptables (IPv4): %w", err)
	}

	var ipt6 IPTables
	if _, err := exec.LookPath("ip6tables"); err != nil {
		log.Debugf("ip6tables not available: %v", err)
	} else if h, err := iptables.NewWithProtocol(iptables.ProtocolIPv6); err != nil {
		log.Debugf("IPv6 iptables not available: %v", err)
	} else {
		ipt6 = h
	}

	return NewRunnerWithHandles(ipt4, ipt6), nil
}

// NewRunnerWithHandles builds a Runner on existing handles. A nil ipt6 disables IPv6.
func NewRunnerWithHandles(ipt4, ipt6 IPTables) *Runner {
	return &Runner{
		ipt4:        ipt4,
		ipt6:        ipt6,
		v6Available: ipt6 != nil,
	}
}

func (r *Runner) HasIPv6() bool {
	return r.v6Available
}

func (r *Runner) handle(family int) IPTables {
	if family == utils.FamilyV6 {
		if !r.v6Available {
			return nil
		}
		return r.ipt6
	}
	return r.ipt4
}

// Append adds the rule to the end of the chain unless it exists.
func (r *Runner) Append(rule Rule) error {
	return r.apply(rule, "append", func(ipt IPTables) error {
		exists, err := ipt.Exists(rule.Table, rule.Chain, rule.Spec...)
		if err != nil || exists {
			return err
		}
		return ipt.Append(rule.Table, rule.Chain, rule.Spec...)
	})
}

// Insert adds the rule at the head of the chain unless it exists.
func (r *Runner) Insert(rule Rule) error {
	return r.apply(rule, "insert", func(ipt IPTables) error {
		exists, err := ipt.Exists(rule.Table, rule.Chain, rule.Spec...)
		if err != nil || exists {
			return err
		}
		return ipt.Insert(rule.Table, rule.Chain, 1, rule.Spec...)
	})
}

// Delete removes the rule if it exists.
func (r *Runner) Delete(rule Rule) error {
	return r.apply(rule, "delete", func(ipt IPTables) error {
		exists, err := ipt.Exists(rule.Table, rule.Chain, rule.Spec...)
		if err != nil || !exists {
			return err
		}
		if err := ipt.Delete(rule.Table, rule.Chain, rule.Spec...); err != nil && !isNotExist(err) {
			return err
		}
		return nil
	})
}

func (r *Runner) Exists(rule Rule) (bool, error) {
	ipt := r.handle(rule.Family)
	if ipt == nil {
		return false, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return ipt.Exists(rule.Table, rule.Chain, rule.Spec...)
}

func (r *Runner) apply(rule Rule, op string, fn func(IPTables) error) error {
	ipt := r.handle(rule.Family)
	if ipt == nil {
		log.Debugf("Skipping %s of [%v]: IPv6 is not available", op, rule)
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	log.Debugf("Running %s of [%v]", op, rule)
	if err := fn(ipt); err != nil {
		return fmt.Errorf("%s [%v]: %w", op, rule, err)
	}
	return nil
}

// EnsureChain creates the chain if needed and, when parent is set, jumps to it from parent.
func (r *Runner) EnsureChain(family int, table, chain, parent string) error {
	ipt := r.handle(family)
	if ipt == nil {
		return nil
	}

	r.mu.Lock()
	exists, err := ipt.ChainExists(table, chain)
	if err == nil && !exists {
		log.Infof("Creating %s chain %s/%s", utils.FamilyName(family), table, chain)
		err = ipt.NewChain(table, chain)
	}
	r.mu.Unlock()
	if err != nil {
		return fmt.Errorf("ensure chain %s/%s: %w", table, chain, err)
	}

	if parent == "" {
		return nil
	}
	return r.Append(Rule{Family: family, Table: table, Chain: parent, Spec: []string{"-j", chain}})
}

// TeardownChain removes the jump from parent, then flushes and deletes the chain.
func (r *Runner) TeardownChain(family int, table, chain, parent string) error {
	ipt := r.handle(family)
	if ipt == nil {
		return nil
	}

	var result *multierror.Error
	if parent != "" {
		if err := r.Delete(Rule{Family: family, Table: table, Chain: parent, Spec: []string{"-j", chain}}); err != nil {
			result = multierror.Append(result, err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	exists, err := ipt.ChainExists(table, chain)
	if err != nil {
		return multierror.Append(result, err).ErrorOrNil()
	}
	if !exists {
		return result.ErrorOrNil()
	}
	if err := ipt.ClearChain(table, chain); err != nil {
		result = multierror.Append(result, fmt.Errorf("flush chain %s/%s: %w", table, chain, err))
	} else if err := ipt.DeleteChain(table, chain); err != nil {
		result = multierror.Append(result, fmt.Errorf("delete chain %s/%s: %w", table, chain, err))
	}
	return result.ErrorOrNil()
}

func isNotExist(err error) bool {
	var e *iptables.Error
	return errors.As(err, &e) && e.IsNotExist()
}
