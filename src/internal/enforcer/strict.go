package enforcer

import (
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/maksimkurb/vpnc-enforcer/src/internal/errors"
	"github.com/maksimkurb/vpnc-enforcer/src/internal/log"
)

// EnforceStrictVPN drops traffic marked for the VPN client that would leave through
// any other interface, except to networks of the monitored set. Filter failures are
// logged only.
func (e *Enforcer) EnforceStrictVPN(iface string) error {
	if iface == "" {
		return errors.ErrInterfaceNotSpecified
	}
	l := log.With(scope(iface))

	rtID, err := e.RoutingTableID(iface)
	if err != nil {
		l.Debugf("Strict VPN not enforced, no routing table: %v", err)
		e.observe("enforce_strict", nil)
		return nil
	}

	for _, family := range families {
		rule := e.strictRule(iface, rtID, family)
		e.call(primFilterAppend, rule, func() error { return e.filter.Append(rule) }).logAndContinue(l)
	}
	l.Infof("Strict VPN enforced")
	e.observe("enforce_strict", nil)
	return nil
}

// UnenforceStrictVPN removes the strict VPN rules of iface. Both families are always
// attempted; their failures are returned together.
func (e *Enforcer) UnenforceStrictVPN(iface string) error {
	if iface == "" {
		return errors.ErrInterfaceNotSpecified
	}
	l := log.With(scope(iface))

	rtID, err := e.RoutingTableID(iface)
	if err != nil {
		l.Debugf("Strict VPN not unenforced, no routing table: %v", err)
		e.observe("unenforce_strict", nil)
		return nil
	}

	var result *multierror.Error
	for _, family := range families {
		rule := e.strictRule(iface, rtID, family)
		result = e.call(primFilterDelete, rule, func() error { return e.filter.Delete(rule) }).logAndPropagate(l, result)
	}
	if err := result.ErrorOrNil(); err != nil {
		e.observe("unenforce_strict", err)
		return errors.NewFilterError(fmt.Sprintf("failed to remove strict VPN rules of %s", iface), err)
	}
	l.Infof("Strict VPN unenforced")
	e.observe("unenforce_strict", nil)
	return nil
}
