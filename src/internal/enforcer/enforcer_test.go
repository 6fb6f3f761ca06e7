package enforcer

import (
	"fmt"
	"net"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maksimkurb/vpnc-enforcer/src/internal/errors"
	"github.com/maksimkurb/vpnc-enforcer/src/internal/log"
	"github.com/maksimkurb/vpnc-enforcer/src/internal/metrics"
	"github.com/maksimkurb/vpnc-enforcer/src/internal/netfilter"
	"github.com/maksimkurb/vpnc-enforcer/src/internal/platform"
	"github.com/maksimkurb/vpnc-enforcer/src/internal/routing"
	"github.com/maksimkurb/vpnc-enforcer/src/internal/utils"
)

type testEnv struct {
	e       *Enforcer
	routes  *fakeRoutes
	ipt4    *netfilter.FakeIPTables
	ipt6    *netfilter.FakeIPTables
	metrics *metrics.Registry
}

func newTestEnv(t *testing.T, caps platform.Capabilities) *testEnv {
	t.Helper()
	log.DisableLogs()
	t.Cleanup(log.EnableLogs)

	runner, ipt4, ipt6 := netfilter.NewFakeRunner()
	settings := DefaultSettings()
	for _, ipt := range []*netfilter.FakeIPTables{ipt4, ipt6} {
		require.NoError(t, ipt.NewChain(netfilter.TableFilter, settings.StrictChain))
		require.NoError(t, ipt.NewChain(netfilter.TableNat, settings.DNSChain))
		require.NoError(t, ipt.NewChain(netfilter.TableNat, settings.InboundChain))
	}

	routes := newFakeRoutes()
	routes.seedMain(routing.Route{Dst: routing.DefaultDst, Gateway: "192.168.1.1", Device: "eth0"})
	routes.seedMain(routing.Route{Dst: "192.168.1.0/24", Device: "eth0"})

	reg := metrics.New()
	return &testEnv{
		e:       New(routes, runner, caps, settings, WithMetrics(reg)),
		routes:  routes,
		ipt4:    ipt4,
		ipt6:    ipt6,
		metrics: reg,
	}
}

var (
	legacy      = platform.Static{}
	managed     = platform.Static{Managed: true}
	managedDHCP = platform.Static{Managed: true, DHCP: true}
)

func TestTableName(t *testing.T) {
	assert.Equal(t, "vpn_client_tun0", TableName("tun0"))
	assert.Equal(t, "vpn_client_wg1", TableName("wg1"))
}

func TestDeriveMetric(t *testing.T) {
	tests := []struct {
		mask uint32
		id   int
		want int
	}{
		{0x3ff0000, 0x10000, 1},
		{0x3ff0000, 0x20000, 2},
		{0x3ff0000, 0x3ff0000, 0x3ff},
		{0xffff, 5, 5},
		{0xff00, 0x0300, 3},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%#x/%#x", tt.id, tt.mask), func(t *testing.T) {
			assert.Equal(t, tt.want, DeriveMetric(tt.mask, tt.id))
		})
	}
}

func TestDeriveMetricIsUniquePerTable(t *testing.T) {
	const mask = 0x3ff0000
	seen := map[int]int{}
	for index := 1; index <= 0x3ff; index++ {
		id := index << 16
		m := DeriveMetric(mask, id)
		if prev, ok := seen[m]; ok {
			t.Fatalf("tables %#x and %#x share metric %d", prev, id, m)
		}
		seen[m] = id
	}
}

func TestNormalizeSubnet(t *testing.T) {
	p, err := NormalizeSubnet("10.0.0.5/24")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.0", p.Addr().String())
	assert.Equal(t, "255.255.255.0", net.IP(net.CIDRMask(p.Bits(), 32)).String())

	p, err = NormalizeSubnet("192.168.1.7")
	require.NoError(t, err)
	assert.Equal(t, "192.168.1.7/32", p.String())

	p, err = NormalizeSubnet("2001:db8::1/64")
	require.NoError(t, err)
	assert.Equal(t, "2001:db8::/64", p.String())

	_, err = NormalizeSubnet("not-an-ip")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeInput))
}

func TestEmptyInterfaceIsRejectedBeforeAnyPrimitive(t *testing.T) {
	env := newTestEnv(t, legacy)

	ops := map[string]func() error{
		"routes":   func() error { return env.e.EnforceVPNClientRoutes("1.2.3.4", "", []string{"10.0.0.0/8"}, true) },
		"flush":    func() error { return env.e.FlushVPNClientRoutes("") },
		"strict":   func() error { return env.e.EnforceStrictVPN("") },
		"unstrict": func() error { return env.e.UnenforceStrictVPN("") },
		"dns":      func() error { return env.e.EnforceDNSRedirect("", []string{"10.8.0.1"}, "") },
		"undns":    func() error { return env.e.UnenforceDNSRedirect("", []string{"10.8.0.1"}, "") },
		"destroy":  func() error { return env.e.DestroyRoutingTable("") },
	}
	for name, op := range ops {
		t.Run(name, func(t *testing.T) {
			err := op()
			require.Error(t, err)
			assert.True(t, errors.HasCode(err, errors.ErrCodePrecondition))
		})
	}
	assert.Empty(t, env.routes.calls)

	_, err := env.e.RoutingTableID("")
	assert.ErrorIs(t, err, errors.ErrInterfaceNotSpecified)
}

func TestRoutingTableIDAndDestroy(t *testing.T) {
	env := newTestEnv(t, legacy)

	id, err := env.e.RoutingTableID("tun0")
	require.NoError(t, err)
	assert.Equal(t, 0x10000, id)

	again, err := env.e.RoutingTableID("tun0")
	require.NoError(t, err)
	assert.Equal(t, id, again)

	other, err := env.e.RoutingTableID("tun1")
	require.NoError(t, err)
	assert.Equal(t, 0x20000, other)

	require.NoError(t, env.e.DestroyRoutingTable("tun0"))
	_, err = env.routes.TableID("vpn_client_tun0")
	assert.ErrorIs(t, err, routing.ErrTableNotFound)

	env.routes.fail["CreateTable"] = true
	_, err = env.e.RoutingTableID("tun2")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeAllocation))
}

func TestPrimitiveMetrics(t *testing.T) {
	env := newTestEnv(t, legacy)

	require.NoError(t, env.e.EnforceStrictVPN("tun0"))
	assert.Equal(t, float64(2), testutil.ToFloat64(env.metrics.PrimitiveOps.WithLabelValues("filter_append", metrics.ResultOK)))
	assert.Equal(t, float64(1), testutil.ToFloat64(env.metrics.EnforcementOps.WithLabelValues("enforce_strict", metrics.ResultOK)))

	env.ipt4.FailOn = "DROP"
	require.Error(t, env.e.UnenforceStrictVPN("tun0"))
	assert.Equal(t, float64(1), testutil.ToFloat64(env.metrics.PrimitiveOps.WithLabelValues("filter_delete", metrics.ResultFailed)))
	assert.Equal(t, float64(1), testutil.ToFloat64(env.metrics.PrimitiveOps.WithLabelValues("filter_delete", metrics.ResultOK)))
	assert.Equal(t, float64(1), testutil.ToFloat64(env.metrics.EnforcementOps.WithLabelValues("unenforce_strict", metrics.ResultFailed)))
}

func TestSettingsFromConfigDefaults(t *testing.T) {
	s := DefaultSettings()
	assert.Equal(t, uint32(0x3ff0000), s.VCMask)
	assert.Equal(t, uint32(0x3ffffff), s.AllMask)
	assert.Equal(t, 6000, s.EgressPriority)
	assert.Equal(t, 5000, s.GrantPriority)
	assert.Equal(t, "FW_VPN_CLIENT", s.StrictChain)
	assert.Equal(t, "FW_PREROUTING_DNS_VPN_CLIENT", s.DNSChain)
	assert.Equal(t, "FW_PREROUTING_VC_INBOUND", s.InboundChain)
	assert.Equal(t, "monitored_net_set", s.MonitoredSet)
	assert.Equal(t, utils.FamilyV4, families[0])
}
