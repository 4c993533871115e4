package breaker

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/exec"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/uprootnetworks/uproot/internal/config"
	"github.com/uprootnetworks/uproot/internal/ios"
	"github.com/uprootnetworks/uproot/internal/journal"
	"github.com/uprootnetworks/uproot/internal/log"
)

// Switch chaos tuning. VLAN 1 carries management traffic and is never
// assigned or stripped.
const (
	mgmtVLAN = 1
	vlanMin  = 2
	vlanMax  = 4094

	maxPorts        = 4
	trunkProb       = 0.25
	trunkAllowedMin = 3
	trunkAllowedMax = 12
	setNativeVLAN   = true
)

// PortFault is the planned misconfiguration of one switchport.
type PortFault struct {
	Port       string
	Mode       string // "access" or "trunk"
	AccessVLAN int    // access mode
	Allowed    []int  // trunk mode
	Native     int    // trunk mode, 0 = unset
}

// Commands renders the IOS config lines for this port.
func (p PortFault) Commands() []string {
	cmds := []string{"interface " + p.Port, "switchport"}
	if p.Mode == "access" {
		cmds = append(cmds,
			"switchport mode access",
			fmt.Sprintf("switchport access vlan %d", p.AccessVLAN),
			"no shutdown",
		)
		return cmds
	}
	cmds = append(cmds,
		"switchport mode trunk",
		"switchport trunk allowed vlan "+joinVLANs(p.Allowed),
		"no shutdown",
	)
	if p.Native != 0 {
		cmds = append(cmds, fmt.Sprintf("switchport trunk native vlan %d", p.Native))
	}
	return cmds
}

func joinVLANs(vlans []int) string {
	parts := make([]string, len(vlans))
	for i, v := range vlans {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}

func randVLAN(rng *rand.Rand, exclude map[int]bool) int {
	for i := 0; i < 50; i++ {
		v := vlanMin + rng.Intn(vlanMax-vlanMin+1)
		if !exclude[v] {
			return v
		}
	}
	for v := vlanMin; v <= vlanMax; v++ {
		if !exclude[v] {
			return v
		}
	}
	// 4093 VLANs available; unreachable with sane exclusions.
	panic("no VLAN IDs left to choose from")
}

func randVLANSet(rng *rand.Rand, count int, exclude map[int]bool) []int {
	picked := map[int]bool{}
	for len(picked) < count {
		merged := make(map[int]bool, len(exclude)+len(picked))
		for v := range exclude {
			merged[v] = true
		}
		for v := range picked {
			merged[v] = true
		}
		picked[randVLAN(rng, merged)] = true
	}
	out := make([]int, 0, count)
	for v := range picked {
		out = append(out, v)
	}
	sort.Ints(out)
	return out
}

// PlanSwitchChaos picks up to maxPorts of the eligible ports and assigns
// each a random access VLAN or trunk config. Deterministic for a seeded
// rand source.
func PlanSwitchChaos(rng *rand.Rand, eligible []string) []PortFault {
	ports := append([]string(nil), eligible...)
	rng.Shuffle(len(ports), func(i, j int) { ports[i], ports[j] = ports[j], ports[i] })
	if len(ports) > maxPorts {
		ports = ports[:maxPorts]
	}

	exclude := map[int]bool{mgmtVLAN: true}
	var plan []PortFault
	for _, port := range ports {
		if rng.Float64() < trunkProb {
			count := trunkAllowedMin + rng.Intn(trunkAllowedMax-trunkAllowedMin+1)
			allowed := randVLANSet(rng, count, exclude)
			fault := PortFault{Port: port, Mode: "trunk", Allowed: allowed}
			if setNativeVLAN {
				merged := map[int]bool{mgmtVLAN: true}
				for _, v := range allowed {
					merged[v] = true
				}
				fault.Native = randVLAN(rng, merged)
			}
			plan = append(plan, fault)
		} else {
			plan = append(plan, PortFault{Port: port, Mode: "access", AccessVLAN: randVLAN(rng, exclude)})
		}
	}
	return plan
}

// VLANsToCreate collects every VLAN the plan references, sorted.
func VLANsToCreate(plan []PortFault) []int {
	set := map[int]bool{}
	for _, p := range plan {
		if p.AccessVLAN != 0 {
			set[p.AccessVLAN] = true
		}
		for _, v := range p.Allowed {
			set[v] = true
		}
		if p.Native != 0 {
			set[p.Native] = true
		}
	}
	out := make([]int, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Ints(out)
	return out
}

func vlanCreateCommands(vlans []int) []string {
	var cmds []string
	for _, v := range vlans {
		cmds = append(cmds, fmt.Sprintf("vlan %d", v), "exit")
	}
	return cmds
}

// Test seams for host-side egress discovery.
var (
	routeGetOutput = func(dest string) (string, error) {
		out, err := exec.Command("ip", "-o", "route", "get", dest).Output()
		return string(out), err
	}
	readIfaceMAC = func(iface string) (string, error) {
		b, err := os.ReadFile("/sys/class/net/" + iface + "/address")
		return strings.ToLower(strings.TrimSpace(string(b))), err
	}
)

var devRE = regexp.MustCompile(`\bdev\s+(\S+)`)

// hostEgressMAC returns the MAC of the local interface routing toward
// dest, in Cisco dotted form. Used to find and spare the switchport
// that keeps management connectivity alive.
func hostEgressMAC(dest string) (string, error) {
	out, err := routeGetOutput(dest)
	if err != nil {
		return "", fmt.Errorf("resolving egress route for %s: %w", dest, err)
	}
	m := devRE.FindStringSubmatch(out)
	if m == nil {
		return "", fmt.Errorf("no egress interface for %s in: %s", dest, strings.TrimSpace(out))
	}
	mac, err := readIfaceMAC(m[1])
	if err != nil {
		return "", fmt.Errorf("reading MAC of %s: %w", m[1], err)
	}
	return ios.DottedMAC(mac)
}

func (r *Runner) breakSwitch(ctx context.Context, run *journal.Run) error {
	switches := r.Lab.ByRole(config.RoleSwitch)
	if len(switches) == 0 {
		return fmt.Errorf("lab %s has no switch devices", r.LabID)
	}
	for _, d := range switches {
		if err := r.breakOneSwitch(ctx, run, d); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) breakOneSwitch(ctx context.Context, run *journal.Run, d *config.Device) error {
	sess, err := r.connect(ctx, d)
	if err != nil {
		return err
	}
	defer sess.Close()

	l := log.With("device", d.Name)

	exclude := map[string]bool{}
	if mac, err := hostEgressMAC(d.Address); err != nil {
		l.Warn("host port auto-detect failed, continuing without exclusion", "err", err)
	} else {
		out, err := sess.Run(ctx, "show mac address-table | include "+mac)
		if err != nil {
			return err
		}
		if port := ios.ParseMACPort(out); port != "" {
			exclude[port] = true
			l.Info("sparing host-facing switchport", "port", port)
		} else {
			l.Warn("host MAC not found in switch MAC table; no port excluded")
		}
	}

	out, err := sess.Run(ctx, "show interfaces status")
	if err != nil {
		return err
	}
	var eligible []string
	for _, row := range ios.ParseInterfacesStatus(out) {
		if row.Status == "connected" && !exclude[row.Port] {
			eligible = append(eligible, row.Port)
		}
	}
	if len(eligible) == 0 {
		l.Warn("no eligible connected ports after exclusions")
		return nil
	}

	plan := PlanSwitchChaos(r.Rand, eligible)
	for _, p := range plan {
		if p.Mode == "access" {
			l.Info("planned port fault", "port", p.Port, "mode", "access", "vlan", p.AccessVLAN)
		} else {
			l.Info("planned port fault", "port", p.Port, "mode", "trunk", "allowed", joinVLANs(p.Allowed), "native", p.Native)
		}
	}

	if r.DryRun {
		l.Info("dry run, not applying switch plan")
		return nil
	}

	if vlans := VLANsToCreate(plan); len(vlans) > 0 {
		if err := sess.ConfigSet(ctx, vlanCreateCommands(vlans)); err != nil {
			return fmt.Errorf("%s: creating VLANs: %w", d.Name, err)
		}
	}
	for _, p := range plan {
		if err := sess.ConfigSet(ctx, p.Commands()); err != nil {
			r.record(run, d.Name, "port_"+p.Mode, p.Port, false)
			return fmt.Errorf("%s: configuring %s: %w", d.Name, p.Port, err)
		}
		detail := map[string]any{"port": p.Port, "mode": p.Mode}
		if p.Mode == "access" {
			detail["vlan"] = p.AccessVLAN
		} else {
			detail["allowed"] = p.Allowed
			detail["native"] = p.Native
		}
		r.record(run, d.Name, "port_"+p.Mode, detail, true)
	}

	if d.WriteMem {
		if err := sess.WriteMemory(ctx); err != nil {
			return err
		}
	}

	l.Info("switch successfully broken", "ports", len(plan))
	return nil
}
