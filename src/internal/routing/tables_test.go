package routing

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const stockRTTables = `#
# reserved values
#
255	local
254	main
253	default
0	unspec
#
# local
#
1	wan_routable
2	lan_routable
0x3	global_local
`

func newTestAllocator(t *testing.T, content string) *TableAllocator {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rt_tables")
	if content != "" {
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}
	return NewTableAllocator(path, 0x3ff0000, 0xffff)
}

func TestTableAllocator_CreateVPNClientTables(t *testing.T) {
	a := newTestAllocator(t, stockRTTables)

	id, err := a.Create("vpn_client_tun0", KindVPNClient)
	require.NoError(t, err)
	assert.Equal(t, 0x10000, id)

	id2, err := a.Create("vpn_client_tun1", KindVPNClient)
	require.NoError(t, err)
	assert.Equal(t, 0x20000, id2)

	again, err := a.Create("vpn_client_tun0", KindVPNClient)
	require.NoError(t, err)
	assert.Equal(t, id, again, "existing binding must be returned")

	content, err := os.ReadFile(a.Path())
	require.NoError(t, err)
	assert.Contains(t, string(content), "65536\tvpn_client_tun0\n")
	assert.Contains(t, string(content), "131072\tvpn_client_tun1\n")
}

func TestTableAllocator_CreateRegularSkipsUsedAndReserved(t *testing.T) {
	a := newTestAllocator(t, stockRTTables)

	id, err := a.Create("lan_1", KindRegular)
	require.NoError(t, err)
	assert.Equal(t, 4, id)

	var b strings.Builder
	b.WriteString("4\tlan_1\n")
	for i := 5; i <= 252; i++ {
		fmt.Fprintf(&b, "%d\tt%d\n", i, i)
	}
	require.NoError(t, os.WriteFile(a.Path(), []byte(stockRTTables+b.String()), 0644))

	id, err = a.Create("lan_2", KindRegular)
	require.NoError(t, err)
	assert.Equal(t, 256, id, "253-255 are reserved")
}

func TestTableAllocator_MissingFileIsCreated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "iproute2", "rt_tables")
	a := NewTableAllocator(path, 0x3ff0000, 0xffff)

	_, ok, err := a.Lookup("vpn_client_tun0")
	require.NoError(t, err)
	assert.False(t, ok)

	id, err := a.Create("vpn_client_tun0", KindVPNClient)
	require.NoError(t, err)
	assert.Equal(t, 0x10000, id)

	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestTableAllocator_WellKnownNames(t *testing.T) {
	a := newTestAllocator(t, "")

	for name, want := range map[string]int{"main": 254, "local": 255, "default": 253} {
		id, ok, err := a.Lookup(name)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, want, id)

		id, err = a.Create(name, KindVPNClient)
		require.NoError(t, err)
		assert.Equal(t, want, id)
	}

	_, err := a.Remove("main")
	assert.Error(t, err)
}

func TestTableAllocator_Lookup(t *testing.T) {
	a := newTestAllocator(t, stockRTTables)

	id, ok, err := a.Lookup("global_local")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 3, id)

	_, ok, err = a.Lookup("nope")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTableAllocator_RemoveKeepsComments(t *testing.T) {
	a := newTestAllocator(t, stockRTTables)

	id, err := a.Create("vpn_client_tun0", KindVPNClient)
	require.NoError(t, err)

	removed, err := a.Remove("vpn_client_tun0")
	require.NoError(t, err)
	assert.Equal(t, id, removed)

	content, err := os.ReadFile(a.Path())
	require.NoError(t, err)
	assert.Equal(t, stockRTTables, string(content))

	removed, err = a.Remove("vpn_client_tun0")
	require.NoError(t, err)
	assert.Zero(t, removed)

	// the released ID is handed out again
	id2, err := a.Create("vpn_client_tun9", KindVPNClient)
	require.NoError(t, err)
	assert.Equal(t, id, id2)
}

func TestTableAllocator_Exhaustion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rt_tables")
	a := NewTableAllocator(path, 0x30000, 0xffff)

	for i := 0; i < 3; i++ {
		_, err := a.Create(fmt.Sprintf("vpn_client_tun%d", i), KindVPNClient)
		require.NoError(t, err)
	}
	_, err := a.Create("vpn_client_tun3", KindVPNClient)
	assert.Error(t, err)
}

func TestTableAllocator_InvalidName(t *testing.T) {
	a := newTestAllocator(t, "")

	_, err := a.Create("", KindVPNClient)
	assert.Error(t, err)
	_, err = a.Create("bad name", KindVPNClient)
	assert.Error(t, err)
}

func TestTableAllocator_ConcurrentCreateYieldsDistinctIDs(t *testing.T) {
	a := newTestAllocator(t, stockRTTables)

	const n = 20
	ids := make([]int, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := a.Create(fmt.Sprintf("vpn_client_tun%d", i), KindVPNClient)
			assert.NoError(t, err)
			ids[i] = id
		}(i)
	}
	wg.Wait()

	seen := map[int]bool{}
	for _, id := range ids {
		assert.False(t, seen[id], "duplicate ID %d", id)
		seen[id] = true
		assert.Zero(t, id&^0x3ff0000, "ID %#x outside vc mask", id)
	}

	entries, err := a.Entries()
	require.NoError(t, err)
	assert.Len(t, entries, 7+n)
}

func TestTableAllocator_MalformedLinesAreSkipped(t *testing.T) {
	a := newTestAllocator(t, "garbage\nxx name\n1 wan_routable extra\n254 main\n")

	entries, err := a.Entries()
	require.NoError(t, err)
	assert.Equal(t, []TableEntry{{ID: 254, Name: "main"}}, entries)
}
