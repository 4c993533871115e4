package ios

import (
	"fmt"
	"net/netip"
	"regexp"
	"strings"
)

// PortStatus is one row of `show interfaces status`.
type PortStatus struct {
	Port   string
	Status string
	VLAN   string
}

// ParseInterfacesStatus parses `show interfaces status`. The Name column
// is often empty, so rows are sliced by the header's column offsets
// rather than split on whitespace.
func ParseInterfacesStatus(out string) []PortStatus {
	lines := strings.Split(strings.ReplaceAll(out, "\r\n", "\n"), "\n")

	statusIdx, vlanIdx, duplexIdx := -1, -1, -1
	var rows []PortStatus
	for _, line := range lines {
		if statusIdx < 0 {
			if strings.Contains(line, "Port") && strings.Contains(line, "Status") {
				statusIdx = strings.Index(line, "Status")
				vlanIdx = strings.Index(line, "Vlan")
				duplexIdx = strings.Index(line, "Duplex")
			}
			continue
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		if len(line) < vlanIdx || vlanIdx < 0 || duplexIdx < 0 {
			continue
		}
		port := strings.TrimSpace(firstField(line))
		if port == "" {
			continue
		}
		status := sliceColumn(line, statusIdx, vlanIdx)
		vlan := sliceColumn(line, vlanIdx, duplexIdx)
		rows = append(rows, PortStatus{Port: port, Status: status, VLAN: vlan})
	}
	return rows
}

func firstField(line string) string {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

func sliceColumn(line string, from, to int) string {
	if from < 0 || from >= len(line) {
		return ""
	}
	if to < 0 || to > len(line) {
		to = len(line)
	}
	if to < from {
		return ""
	}
	return strings.TrimSpace(line[from:to])
}

// L3Interface is one row of `show ip interface brief`.
type L3Interface struct {
	Name     string
	Address  string
	Status   string
	Protocol string
}

// Assigned reports whether the interface has an IPv4 address.
func (i L3Interface) Assigned() bool {
	switch strings.ToLower(i.Address) {
	case "", "unassigned", "unknown":
		return false
	}
	return true
}

// Up reports line status up/up.
func (i L3Interface) Up() bool {
	return strings.EqualFold(i.Status, "up") && strings.EqualFold(i.Protocol, "up")
}

// ParseIPInterfaceBrief parses `show ip interface brief`. Status can be
// multi-word ("administratively down"), so it is everything between the
// Method column and the trailing Protocol field.
func ParseIPInterfaceBrief(out string) []L3Interface {
	var rows []L3Interface
	for _, line := range strings.Split(strings.ReplaceAll(out, "\r\n", "\n"), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(strings.ToLower(line), "interface") {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) < 6 {
			continue
		}
		rows = append(rows, L3Interface{
			Name:     parts[0],
			Address:  parts[1],
			Status:   strings.Join(parts[4:len(parts)-1], " "),
			Protocol: parts[len(parts)-1],
		})
	}
	return rows
}

var internetAddrRE = regexp.MustCompile(`Internet address is (\d+\.\d+\.\d+\.\d+)/(\d+)`)

// ParseConnectedNetwork extracts the connected IPv4 network from
// `show ip interface <if>` output.
func ParseConnectedNetwork(out string) (netip.Prefix, bool) {
	m := internetAddrRE.FindStringSubmatch(out)
	if m == nil {
		return netip.Prefix{}, false
	}
	p, err := netip.ParsePrefix(m[1] + "/" + m[2])
	if err != nil {
		return netip.Prefix{}, false
	}
	return p.Masked(), true
}

var ifaceNameRE = regexp.MustCompile(`^[A-Za-z][A-Za-z\-]*[0-9][0-9/.]*$`)

// ParseDefaultRouteInterface extracts the egress interface of the static
// default route from `show ip route 0.0.0.0` output, or "".
func ParseDefaultRouteInterface(out string) string {
	for _, line := range strings.Split(strings.ReplaceAll(out, "\r\n", "\n"), "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "S*") && !strings.Contains(line, "0.0.0.0/0") && !strings.Contains(line, ", via ") {
			continue
		}
		tokens := strings.Fields(strings.ReplaceAll(line, ",", " "))
		if len(tokens) == 0 {
			continue
		}
		last := tokens[len(tokens)-1]
		if ifaceNameRE.MatchString(last) {
			return last
		}
	}
	return ""
}

// ParseMACPort returns the switchport holding a MAC from filtered
// `show mac address-table` output, skipping CPU-facing pseudo ports.
func ParseMACPort(out string) string {
	for _, line := range strings.Split(strings.ReplaceAll(out, "\r\n", "\n"), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) < 2 {
			continue
		}
		candidate := parts[len(parts)-1]
		switch strings.ToLower(candidate) {
		case "cpu", "router", "sup":
			continue
		}
		if ifaceNameRE.MatchString(candidate) {
			return candidate
		}
	}
	return ""
}

// DottedMAC converts aa:bb:cc:00:04:00 (or dash-separated) to the Cisco
// aabb.cc00.0400 form used by the MAC address table.
func DottedMAC(mac string) (string, error) {
	hexchars := strings.ToLower(strings.NewReplacer(":", "", "-", "", ".", "").Replace(mac))
	if len(hexchars) != 12 {
		return "", fmt.Errorf("unexpected MAC format: %q", mac)
	}
	return hexchars[0:4] + "." + hexchars[4:8] + "." + hexchars[8:12], nil
}

// Netmask renders a prefix length as a dotted-quad mask for `ip route`.
func Netmask(p netip.Prefix) string {
	bits := p.Bits()
	var mask [4]byte
	for i := 0; i < 4; i++ {
		if bits >= 8 {
			mask[i] = 0xff
			bits -= 8
		} else if bits > 0 {
			mask[i] = ^byte(0xff >> bits)
			bits = 0
		}
	}
	return fmt.Sprintf("%d.%d.%d.%d", mask[0], mask[1], mask[2], mask[3])
}
