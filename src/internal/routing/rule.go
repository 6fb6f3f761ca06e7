package routing

import (
	"fmt"

	"github.com/vishvananda/netlink"

	"github.com/maksimkurb/vpnc-enforcer/src/internal/utils"
)

// Rule is a policy routing rule. A rule selects either fwmark-matched traffic
// (Mask != 0) or traffic arriving on an interface (Iif != ""), or all traffic.
type Rule struct {
	Table    string
	Priority int
	Mark     uint32
	Mask     uint32
	Iif      string
	Family   int
}

func (r Rule) String() string {
	sel := "from all"
	if r.Iif != "" {
		sel += " iif " + r.Iif
	}
	if r.Mask != 0 {
		sel += fmt.Sprintf(" fwmark 0x%x/0x%x", r.Mark, r.Mask)
	}
	return fmt.Sprintf("%s %d: %s lookup %s", utils.FamilyName(r.family()), r.Priority, sel, r.Table)
}

func (r Rule) family() int {
	if r.Family == 0 {
		return netlink.FAMILY_V4
	}
	return r.Family
}

func (r Rule) toNetlink(tableID int) *netlink.Rule {
	nr := netlink.NewRule()
	nr.Family = r.family()
	nr.Table = tableID
	nr.Priority = r.Priority
	if r.Mask != 0 {
		mask := r.Mask
		nr.Mark = r.Mark
		nr.Mask = &mask
	}
	if r.Iif != "" {
		nr.IifName = r.Iif
	}
	return nr
}

// matches compares the selector of a kernel rule with r. Table and priority are
// already filtered by the netlink query.
func (r Rule) matches(nr netlink.Rule) bool {
	if nr.IifName != r.Iif {
		return false
	}
	if r.Mask == 0 {
		return nr.Mask == nil || *nr.Mask == 0
	}
	return nr.Mask != nil && *nr.Mask == r.Mask && nr.Mark == r.Mark
}
