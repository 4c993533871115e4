package breaker

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"strings"

	"github.com/uprootnetworks/uproot/internal/config"
	"github.com/uprootnetworks/uproot/internal/ios"
	"github.com/uprootnetworks/uproot/internal/journal"
	"github.com/uprootnetworks/uproot/internal/log"
)

// BogusNextHop is a TEST-NET-3 address no lab route can reach.
const BogusNextHop = "203.0.113.1"

// Fault is one named router misconfiguration.
type Fault struct {
	Name     string
	Commands []string
}

// FullFaults is the catalog for routers whose management path does not
// depend on the interfaces being broken.
func FullFaults(northIf, southIf string, southNet netip.Prefix, haveSouthNet bool) []Fault {
	faults := []Fault{
		{"remove_default_route", []string{"no ip route 0.0.0.0 0.0.0.0"}},
		{"wrong_default_next_hop_forced_interface", []string{
			"no ip route 0.0.0.0 0.0.0.0",
			fmt.Sprintf("ip route 0.0.0.0 0.0.0.0 %s %s", northIf, BogusNextHop),
		}},
		{"default_out_wrong_interface_south", []string{
			"no ip route 0.0.0.0 0.0.0.0",
			fmt.Sprintf("ip route 0.0.0.0 0.0.0.0 %s %s", southIf, BogusNextHop),
		}},
		{"shutdown_northbound", []string{"interface " + northIf, "shutdown"}},
		{"remove_northbound_ip", []string{"interface " + northIf, "no ip address"}},
		{"drop_all_outbound_on_northbound", []string{
			"ip access-list extended CHAOS_OUT",
			"deny ip any any",
			"exit",
			"interface " + northIf,
			"ip access-group CHAOS_OUT out",
		}},
	}
	if haveSouthNet {
		faults = append(faults, blackholeFault(southNet))
	}
	return faults
}

// SafeFaults only touches the southbound side, for the router that
// carries the management path to the rest of the lab.
func SafeFaults(southIf string, southNet netip.Prefix, haveSouthNet bool) []Fault {
	faults := []Fault{
		{"shutdown_southbound", []string{"interface " + southIf, "shutdown"}},
		{"remove_southbound_ip", []string{"interface " + southIf, "no ip address"}},
		{"drop_all_outbound_on_southbound", []string{
			"ip access-list extended CHAOS_SB_OUT",
			"deny ip any any",
			"exit",
			"interface " + southIf,
			"ip access-group CHAOS_SB_OUT out",
		}},
	}
	if haveSouthNet {
		faults = append(faults, blackholeFault(southNet))
	}
	return faults
}

func blackholeFault(net netip.Prefix) Fault {
	return Fault{
		"blackhole_south_connected_subnet",
		[]string{fmt.Sprintf("ip route %s %s Null0", net.Addr(), ios.Netmask(net))},
	}
}

// pickInterfaces chooses the two L3 interfaces to break: loopbacks and
// unaddressed interfaces are out, up/up preferred, and the default
// route's egress interface is northbound when it is one of the pair.
func pickInterfaces(rows []ios.L3Interface, defaultOIF string) (north, south string, err error) {
	var candidates []ios.L3Interface
	for _, row := range rows {
		if strings.HasPrefix(strings.ToLower(row.Name), "loop") {
			continue
		}
		if !row.Assigned() {
			continue
		}
		candidates = append(candidates, row)
	}

	var up []ios.L3Interface
	for _, row := range candidates {
		if row.Up() {
			up = append(up, row)
		}
	}
	pair := up
	if len(pair) < 2 {
		pair = candidates
	}
	if len(pair) < 2 {
		return "", "", fmt.Errorf("could not identify 2 L3 interfaces (found %d candidates)", len(candidates))
	}
	pair = pair[:2]

	if defaultOIF != "" && (pair[0].Name == defaultOIF || pair[1].Name == defaultOIF) {
		north = defaultOIF
		if pair[0].Name == defaultOIF {
			south = pair[1].Name
		} else {
			south = pair[0].Name
		}
		return north, south, nil
	}
	return pair[0].Name, pair[1].Name, nil
}

// routersBreakOrder returns the lab's routers with the south
// (management-path) router first, so the far side breaks while the near
// path still works.
func routersBreakOrder(routers []*config.Device) []*config.Device {
	ordered := append([]*config.Device(nil), routers...)
	for i, d := range ordered {
		if d.Position == "south" && i != 0 {
			ordered[0], ordered[i] = ordered[i], ordered[0]
			break
		}
	}
	if len(ordered) > 1 && ordered[0].Position == "" {
		// No positions configured: treat the last router as south.
		last := len(ordered) - 1
		ordered[0], ordered[last] = ordered[last], ordered[0]
	}
	return ordered
}

func safeSet(d *config.Device, ordered []*config.Device) bool {
	if d.Position != "" {
		return d.Position == "south"
	}
	return len(ordered) > 1 && d == ordered[0]
}

func (r *Runner) breakRouters(ctx context.Context, run *journal.Run) error {
	routers := r.Lab.ByRole(config.RoleRouter)
	if len(routers) == 0 {
		return fmt.Errorf("lab %s has no router devices", r.LabID)
	}

	ordered := routersBreakOrder(routers)
	for _, d := range ordered {
		if err := r.breakOneRouter(ctx, run, d, safeSet(d, ordered)); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) breakOneRouter(ctx context.Context, run *journal.Run, d *config.Device, safe bool) error {
	sess, err := r.connect(ctx, d)
	if err != nil {
		return err
	}
	defer sess.Close()

	l := log.With("device", d.Name)

	briefOut, err := sess.Run(ctx, "show ip interface brief")
	if err != nil {
		return err
	}
	routeOut, err := sess.Run(ctx, "show ip route 0.0.0.0")
	if err != nil {
		return err
	}
	north, south, err := pickInterfaces(ios.ParseIPInterfaceBrief(briefOut), ios.ParseDefaultRouteInterface(routeOut))
	if err != nil {
		return fmt.Errorf("%s: %w", d.Name, err)
	}

	southDetail, err := sess.Run(ctx, "show ip interface "+south)
	if err != nil {
		return err
	}
	southNet, haveSouthNet := ios.ParseConnectedNetwork(southDetail)

	l.Info("interface roles", "northbound", north, "southbound", south, "south_net", prefixString(southNet, haveSouthNet))

	var faults []Fault
	if safe {
		faults = SafeFaults(south, southNet, haveSouthNet)
	} else {
		faults = FullFaults(north, south, southNet, haveSouthNet)
	}
	fault := faults[r.Rand.Intn(len(faults))]
	l.Info("introducing fault", "fault", fault.Name)

	if r.DryRun {
		l.Info("dry run, not applying router fault")
		return nil
	}

	if err := sess.ConfigSet(ctx, fault.Commands); err != nil {
		if errors.Is(err, ios.ErrSessionDropped) {
			// Expected when the fault severs the management path.
			l.Info("session dropped during commit, expected for this fault type")
		} else {
			r.record(run, d.Name, fault.Name, nil, false)
			return fmt.Errorf("%s: applying %s: %w", d.Name, fault.Name, err)
		}
	}
	r.record(run, d.Name, fault.Name, strings.Join(fault.Commands, "; "), true)

	if d.WriteMem {
		if err := sess.WriteMemory(ctx); err != nil && !errors.Is(err, ios.ErrSessionDropped) {
			return err
		}
	}

	l.Info("router broken successfully")
	return nil
}

func prefixString(p netip.Prefix, ok bool) string {
	if !ok {
		return "unknown"
	}
	return p.String()
}
