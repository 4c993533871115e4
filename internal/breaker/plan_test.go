package breaker

import (
	"math/rand"
	"net/netip"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uprootnetworks/uproot/internal/config"
	"github.com/uprootnetworks/uproot/internal/ios"
)

func TestPlanSwitchChaosBounds(t *testing.T) {
	eligible := []string{"Gi0/0", "Gi0/1", "Gi0/2", "Gi0/3", "Gi1/0", "Gi1/1", "Gi1/2"}

	for seed := int64(0); seed < 20; seed++ {
		rng := rand.New(rand.NewSource(seed))
		plan := PlanSwitchChaos(rng, eligible)
		require.LessOrEqual(t, len(plan), maxPorts)
		require.NotEmpty(t, plan)

		seen := map[string]bool{}
		for _, p := range plan {
			assert.False(t, seen[p.Port], "port %s planned twice", p.Port)
			seen[p.Port] = true

			switch p.Mode {
			case "access":
				assert.GreaterOrEqual(t, p.AccessVLAN, vlanMin)
				assert.LessOrEqual(t, p.AccessVLAN, vlanMax)
				assert.NotEqual(t, mgmtVLAN, p.AccessVLAN)
			case "trunk":
				assert.GreaterOrEqual(t, len(p.Allowed), trunkAllowedMin)
				assert.LessOrEqual(t, len(p.Allowed), trunkAllowedMax)
				for _, v := range p.Allowed {
					assert.NotEqual(t, mgmtVLAN, v)
					assert.NotEqual(t, p.Native, v, "native VLAN listed as allowed")
				}
				assert.NotEqual(t, mgmtVLAN, p.Native)
			default:
				t.Fatalf("unknown mode %q", p.Mode)
			}
		}
	}
}

func TestPlanSwitchChaosDeterministic(t *testing.T) {
	eligible := []string{"Gi0/0", "Gi0/1", "Gi0/2", "Gi0/3", "Gi1/0"}
	a := PlanSwitchChaos(rand.New(rand.NewSource(7)), eligible)
	b := PlanSwitchChaos(rand.New(rand.NewSource(7)), eligible)
	assert.Equal(t, a, b)
}

func TestPlanSwitchChaosFewPorts(t *testing.T) {
	plan := PlanSwitchChaos(rand.New(rand.NewSource(1)), []string{"Gi0/0"})
	require.Len(t, plan, 1)
	assert.Equal(t, "Gi0/0", plan[0].Port)
}

func TestPortFaultCommands(t *testing.T) {
	access := PortFault{Port: "Gi0/1", Mode: "access", AccessVLAN: 777}
	assert.Equal(t, []string{
		"interface Gi0/1",
		"switchport",
		"switchport mode access",
		"switchport access vlan 777",
		"no shutdown",
	}, access.Commands())

	trunk := PortFault{Port: "Gi0/2", Mode: "trunk", Allowed: []int{10, 20, 30}, Native: 99}
	assert.Equal(t, []string{
		"interface Gi0/2",
		"switchport",
		"switchport mode trunk",
		"switchport trunk allowed vlan 10,20,30",
		"no shutdown",
		"switchport trunk native vlan 99",
	}, trunk.Commands())
}

func TestVLANsToCreate(t *testing.T) {
	plan := []PortFault{
		{Port: "Gi0/0", Mode: "access", AccessVLAN: 200},
		{Port: "Gi0/1", Mode: "trunk", Allowed: []int{30, 10, 200}, Native: 40},
	}
	assert.Equal(t, []int{10, 30, 40, 200}, VLANsToCreate(plan))
}

func TestFullFaultsCatalog(t *testing.T) {
	net := netip.MustParsePrefix("10.20.0.0/24")
	faults := FullFaults("Gi0/0", "Gi0/1", net, true)
	require.Len(t, faults, 7)

	names := map[string][]string{}
	for _, f := range faults {
		names[f.Name] = f.Commands
	}
	assert.Contains(t, names, "remove_default_route")
	assert.Equal(t, []string{
		"no ip route 0.0.0.0 0.0.0.0",
		"ip route 0.0.0.0 0.0.0.0 Gi0/0 203.0.113.1",
	}, names["wrong_default_next_hop_forced_interface"])
	assert.Equal(t, []string{"interface Gi0/0", "shutdown"}, names["shutdown_northbound"])
	assert.Equal(t, []string{
		"ip route 10.20.0.0 255.255.255.0 Null0",
	}, names["blackhole_south_connected_subnet"])

	// Without a connected south net the blackhole fault is dropped.
	assert.Len(t, FullFaults("Gi0/0", "Gi0/1", netip.Prefix{}, false), 6)
}

func TestSafeFaultsNeverTouchNorthbound(t *testing.T) {
	net := netip.MustParsePrefix("192.168.50.0/24")
	for _, f := range SafeFaults("Gi0/1", net, true) {
		for _, cmd := range f.Commands {
			assert.NotContains(t, cmd, "Gi0/0", "fault %s references the northbound interface", f.Name)
			assert.NotContains(t, cmd, "0.0.0.0 0.0.0.0", "fault %s alters the default route", f.Name)
		}
	}
}

func TestPickInterfaces(t *testing.T) {
	rows := []ios.L3Interface{
		{Name: "GigabitEthernet0/0", Address: "203.0.113.10", Status: "up", Protocol: "up"},
		{Name: "GigabitEthernet0/1", Address: "10.0.0.1", Status: "up", Protocol: "up"},
		{Name: "GigabitEthernet0/2", Address: "unassigned", Status: "administratively down", Protocol: "down"},
		{Name: "Loopback0", Address: "1.1.1.1", Status: "up", Protocol: "up"},
	}

	north, south, err := pickInterfaces(rows, "GigabitEthernet0/1")
	require.NoError(t, err)
	assert.Equal(t, "GigabitEthernet0/1", north)
	assert.Equal(t, "GigabitEthernet0/0", south)

	// No default route match: first two candidates in table order.
	north, south, err = pickInterfaces(rows, "")
	require.NoError(t, err)
	assert.Equal(t, "GigabitEthernet0/0", north)
	assert.Equal(t, "GigabitEthernet0/1", south)

	_, _, err = pickInterfaces(rows[2:], "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "could not identify 2 L3 interfaces")
}

func TestPickInterfacesPrefersUpPairs(t *testing.T) {
	rows := []ios.L3Interface{
		{Name: "Gi0/0", Address: "10.0.0.1", Status: "down", Protocol: "down"},
		{Name: "Gi0/1", Address: "10.0.1.1", Status: "up", Protocol: "up"},
		{Name: "Gi0/2", Address: "10.0.2.1", Status: "up", Protocol: "up"},
	}
	north, south, err := pickInterfaces(rows, "")
	require.NoError(t, err)
	assert.Equal(t, "Gi0/1", north)
	assert.Equal(t, "Gi0/2", south)
}

func TestRoutersBreakOrder(t *testing.T) {
	north := &config.Device{Name: "R1", Position: "north"}
	south := &config.Device{Name: "R2", Position: "south"}

	ordered := routersBreakOrder([]*config.Device{north, south})
	assert.Equal(t, "R2", ordered[0].Name)
	assert.Equal(t, "R1", ordered[1].Name)
	assert.True(t, safeSet(ordered[0], ordered))
	assert.False(t, safeSet(ordered[1], ordered))

	// Unpositioned routers: last one is treated as south.
	a, b := &config.Device{Name: "A"}, &config.Device{Name: "B"}
	ordered = routersBreakOrder([]*config.Device{a, b})
	assert.Equal(t, "B", ordered[0].Name)
	assert.True(t, safeSet(ordered[0], ordered))
	assert.False(t, safeSet(ordered[1], ordered))

	// A single router gets the full catalog.
	solo := routersBreakOrder([]*config.Device{a})
	assert.False(t, safeSet(solo[0], solo))
}

func TestHostEgressMAC(t *testing.T) {
	origRoute, origMAC := routeGetOutput, readIfaceMAC
	defer func() { routeGetOutput, readIfaceMAC = origRoute, origMAC }()

	routeGetOutput = func(dest string) (string, error) {
		assert.Equal(t, "10.0.0.5", dest)
		return "10.0.0.5 via 10.0.0.1 dev eth1 src 10.0.0.9 uid 0", nil
	}
	readIfaceMAC = func(iface string) (string, error) {
		assert.Equal(t, "eth1", iface)
		return "aa:bb:cc:00:04:00", nil
	}

	mac, err := hostEgressMAC("10.0.0.5")
	require.NoError(t, err)
	assert.Equal(t, "aabb.cc00.0400", mac)
}

func TestHostEgressMACNoRoute(t *testing.T) {
	orig := routeGetOutput
	defer func() { routeGetOutput = orig }()
	routeGetOutput = func(string) (string, error) { return "RTNETLINK answers: Network is unreachable", nil }

	_, err := hostEgressMAC("203.0.113.9")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "no egress interface"))
}
