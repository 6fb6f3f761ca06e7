package enforcer

import (
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/maksimkurb/vpnc-enforcer/src/internal/log"
)

type primitive struct {
	name string
	verb string
}

var (
	primTableCreate  = primitive{"table_create", "allocate routing table"}
	primTableFlush   = primitive{"table_flush", "flush routing table"}
	primRuleAdd      = primitive{"rule_add", "add IP rule"}
	primRuleRemove   = primitive{"rule_remove", "remove IP rule"}
	primRouteAdd     = primitive{"route_add", "add IP route"}
	primRouteRemove  = primitive{"route_remove", "remove IP route"}
	primRouteList    = primitive{"route_list", "list IP routes"}
	primFilterAppend = primitive{"filter_append", "append iptables rule"}
	primFilterInsert = primitive{"filter_insert", "insert iptables rule"}
	primFilterDelete = primitive{"filter_delete", "delete iptables rule"}
)

// outcome is the result of one primitive call.
type outcome struct {
	prim   primitive
	target string
	err    error
}

func (o outcome) ok() bool {
	return o.err == nil
}

func (o outcome) wrapped() error {
	if o.err == nil {
		return nil
	}
	return fmt.Errorf("failed to %s [%s]: %w", o.prim.verb, o.target, o.err)
}

// logAndContinue reports a failure and drops it.
func (o outcome) logAndContinue(l *log.Logger) {
	if o.err != nil {
		l.Errorf("Failed to %s [%s]: %v", o.prim.verb, o.target, o.err)
	}
}

// logAndPropagate reports a failure and adds it to result.
func (o outcome) logAndPropagate(l *log.Logger, result *multierror.Error) *multierror.Error {
	if o.err == nil {
		return result
	}
	o.logAndContinue(l)
	return multierror.Append(result, o.wrapped())
}

// call runs one primitive and counts it.
func (e *Enforcer) call(p primitive, target fmt.Stringer, fn func() error) outcome {
	err := fn()
	if e.metrics != nil {
		e.metrics.ObservePrimitive(p.name, err)
	}
	return outcome{prim: p, target: target.String(), err: err}
}
