package netfilter

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// FakeIPTables is an in-memory IPTables keyed by "table/chain". Rules are stored as
// their space-joined spec.
type FakeIPTables struct {
	mu sync.Mutex
	n  map[string][]string

	// FailOn makes every mutating call whose joined spec contains the string fail.
	FailOn string
}

func NewFakeIPTables() *FakeIPTables {
	return &FakeIPTables{
		n: map[string][]string{
			"filter/INPUT":      nil,
			"filter/OUTPUT":     nil,
			"filter/FORWARD":    nil,
			"nat/PREROUTING":    nil,
			"nat/OUTPUT":        nil,
			"nat/POSTROUTING":   nil,
			"mangle/PREROUTING": nil,
		},
	}
}

// NewFakeRunner returns a Runner backed by two FakeIPTables.
func NewFakeRunner() (*Runner, *FakeIPTables, *FakeIPTables) {
	ipt4 := NewFakeIPTables()
	ipt6 := NewFakeIPTables()
	return NewRunnerWithHandles(ipt4, ipt6), ipt4, ipt6
}

func (n *FakeIPTables) fail(args []string) error {
	if n.FailOn != "" && strings.Contains(strings.Join(args, " "), n.FailOn) {
		return errors.New("exit status 1: injected failure")
	}
	return nil
}

func (n *FakeIPTables) Insert(table, chain string, pos int, args ...string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.fail(args); err != nil {
		return err
	}
	k := table + "/" + chain
	rules, ok := n.n[k]
	if !ok {
		return fmt.Errorf("unknown table/chain %s", k)
	}
	if pos < 1 || pos > len(rules)+1 {
		return fmt.Errorf("bad position %d in %s", pos, k)
	}
	rules = append(rules, "")
	copy(rules[pos:], rules[pos-1:])
	rules[pos-1] = strings.Join(args, " ")
	n.n[k] = rules
	return nil
}

func (n *FakeIPTables) Append(table, chain string, args ...string) error {
	n.mu.Lock()
	size := len(n.n[table+"/"+chain])
	n.mu.Unlock()
	return n.Insert(table, chain, size+1, args...)
}

func (n *FakeIPTables) Exists(table, chain string, args ...string) (bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	k := table + "/" + chain
	rules, ok := n.n[k]
	if !ok {
		return false, fmt.Errorf("unknown table/chain %s", k)
	}
	spec := strings.Join(args, " ")
	for _, rule := range rules {
		if rule == spec {
			return true, nil
		}
	}
	return false, nil
}

func (n *FakeIPTables) Delete(table, chain string, args ...string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.fail(args); err != nil {
		return err
	}
	k := table + "/" + chain
	rules, ok := n.n[k]
	if !ok {
		return fmt.Errorf("unknown table/chain %s", k)
	}
	spec := strings.Join(args, " ")
	for i, rule := range rules {
		if rule == spec {
			n.n[k] = append(rules[:i], rules[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("delete of unknown rule %q from %s", spec, k)
}

func (n *FakeIPTables) ChainExists(table, chain string) (bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	_, ok := n.n[table+"/"+chain]
	return ok, nil
}

func (n *FakeIPTables) NewChain(table, chain string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	k := table + "/" + chain
	if _, ok := n.n[k]; ok {
		return fmt.Errorf("table/chain %s already exists", k)
	}
	n.n[k] = nil
	return nil
}

func (n *FakeIPTables) ClearChain(table, chain string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.n[table+"/"+chain] = nil
	return nil
}

func (n *FakeIPTables) DeleteChain(table, chain string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	k := table + "/" + chain
	rules, ok := n.n[k]
	if !ok {
		return fmt.Errorf("unknown table/chain %s", k)
	}
	if len(rules) != 0 {
		return fmt.Errorf("table/chain %s is not empty", k)
	}
	delete(n.n, k)
	return nil
}

// Rules returns a copy of the chain content.
func (n *FakeIPTables) Rules(table, chain string) []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.n[table+"/"+chain]...)
}
