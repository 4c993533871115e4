package pfsense

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/uprootnetworks/uproot/internal/log"
)

// FaultFunc applies one misconfiguration and describes what it did.
type FaultFunc func(ctx context.Context, c *Client, api string) (string, error)

// Faults is the firewall fault catalog. One entry is chosen at random
// per firewall.
var Faults = []struct {
	Name  string
	Apply FaultFunc
}{
	{"default_gateway_chaos", DisableDefaultGateway},
	{"disable_outbound_nat", DisableOutboundNAT},
	{"insert_block_all_rule", InsertBlockAll},
}

type apiInterface struct {
	If        string `json:"if"`
	Interface string `json:"interface"`
	Descr     string `json:"descr"`
}

func (i apiInterface) id() string {
	for _, v := range []string{i.Descr, i.If, i.Interface} {
		if v != "" {
			return strings.ToLower(v)
		}
	}
	return ""
}

func (i apiInterface) isWAN() bool {
	return strings.EqualFold(i.If, "wan") || strings.EqualFold(i.Interface, "wan") || strings.EqualFold(i.Descr, "wan")
}

// InsertBlockAll adds a floating quick block-all rule on the first
// non-WAN interface and applies the change.
func InsertBlockAll(ctx context.Context, c *Client, api string) (string, error) {
	iface := "lan"
	if res, err := c.Get(ctx, api+"/interfaces"); err == nil && res.Data != nil {
		var interfaces []apiInterface
		if json.Unmarshal(res.Data, &interfaces) == nil {
			for _, i := range interfaces {
				if i.isWAN() {
					continue
				}
				if id := i.id(); id != "" {
					iface = id
					break
				}
			}
		}
	} else if err != nil {
		// Fall back to "lan"; the rule POST will surface real failures.
		log.Debug("interface list failed", "host", c.Host, "err", err)
	}

	rule := map[string]any{
		"type":        "block",
		"interface":   []string{iface}, // API requires an array
		"ipprotocol":  "inet",
		"protocol":    nil,
		"source":      "any",
		"destination": "any",
		"descr":       fmt.Sprintf("CHAOS: BLOCK ALL (%d)", time.Now().Unix()),
		"disabled":    false,
		"floating":    true,
		"quick":       true,
		"direction":   "any",
	}
	if _, err := c.Post(ctx, api+"/firewall/rule", rule); err != nil {
		return "", err
	}
	if _, err := c.Post(ctx, api+"/firewall/apply", map[string]any{}); err != nil {
		return "", err
	}
	return fmt.Sprintf("inserted block-all rule on %s and applied", iface), nil
}

// DisableOutboundNAT switches outbound NAT mode to disabled and applies.
func DisableOutboundNAT(ctx context.Context, c *Client, api string) (string, error) {
	if _, err := c.Patch(ctx, api+"/firewall/nat/outbound/mode", map[string]any{"mode": "disabled"}); err != nil {
		return "", err
	}
	if _, err := c.Post(ctx, api+"/firewall/apply", map[string]any{}); err != nil {
		return "", err
	}
	return "outbound NAT mode set to disabled and applied", nil
}

type apiGateway struct {
	ID        *int            `json:"id"`
	Name      string          `json:"name"`
	Gateway   string          `json:"gateway"`
	Descr     string          `json:"descr"`
	Default   bool            `json:"default"`
	IsDefault bool            `json:"is_default"`
	DefaultGW bool            `json:"defaultgw"`
	Disabled  json.RawMessage `json:"disabled"`
}

func (g apiGateway) isDisabled() bool {
	s := strings.ToLower(strings.Trim(string(g.Disabled), `"`))
	return s == "true" || s == "yes" || s == "1"
}

func (g apiGateway) label() string {
	for _, v := range []string{g.Name, g.Gateway, g.Descr} {
		if v != "" {
			return v
		}
	}
	return "UNKNOWN"
}

// DisableDefaultGateway disables the WAN default gateway. It prefers the
// gateway named WANGW, then one flagged default, then the first enabled.
func DisableDefaultGateway(ctx context.Context, c *Client, api string) (string, error) {
	var gateways []apiGateway
	for _, path := range []string{api + "/routing/gateways", api + "/routing/gateway"} {
		res, err := c.Get(ctx, path)
		if err != nil || res.Data == nil {
			continue
		}
		if json.Unmarshal(res.Data, &gateways) == nil && len(gateways) > 0 {
			break
		}
		var single apiGateway
		if json.Unmarshal(res.Data, &single) == nil && single.label() != "UNKNOWN" {
			gateways = []apiGateway{single}
			break
		}
	}
	if len(gateways) == 0 {
		return "", fmt.Errorf("unable to list gateways on %s", c.Host)
	}

	var target *apiGateway
	for i := range gateways {
		if strings.EqualFold(gateways[i].Name, "WANGW") {
			target = &gateways[i]
			break
		}
	}
	if target == nil {
		for i := range gateways {
			if gateways[i].Default || gateways[i].IsDefault || gateways[i].DefaultGW {
				target = &gateways[i]
				break
			}
		}
	}
	if target == nil {
		for i := range gateways {
			if !gateways[i].isDisabled() {
				target = &gateways[i]
				break
			}
		}
	}
	if target == nil {
		return "", fmt.Errorf("no enabled gateway found on %s", c.Host)
	}

	payload := map[string]any{"disabled": true, "apply": true}
	if target.ID != nil {
		payload["id"] = *target.ID
	} else {
		payload["name"] = target.label()
	}
	if _, err := c.Patch(ctx, api+"/routing/gateway", payload); err != nil {
		return "", err
	}
	if target.ID != nil {
		return fmt.Sprintf("disabled default gateway (id=%d, name=%s)", *target.ID, target.label()), nil
	}
	return fmt.Sprintf("disabled default gateway (name=%s)", target.label()), nil
}
