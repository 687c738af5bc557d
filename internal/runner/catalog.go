package runner

import (
	"fmt"

	"github.com/btsentry/btsentry/pkg/types"
)

// InvocationSpec describes how a scenario kind maps onto an external
// tool invocation. Argv excludes any privilege escalation prefix; the
// broker wraps it at execution time.
type InvocationSpec struct {
	Binary string
	Args   func(req types.ScenarioRequest) []string
}

// Catalog resolves scenario kinds to tool invocations. The production
// catalog is a fixed table; tests substitute stub commands.
type Catalog interface {
	Resolve(kind types.ScenarioKind) (InvocationSpec, error)
}

type toolCatalog struct {
	adapter string
	specs   map[types.ScenarioKind]InvocationSpec
}

// NewCatalog builds the production kind-to-tool table bound to the
// given Bluetooth adapter.
func NewCatalog(adapter string) Catalog {
	c := &toolCatalog{adapter: adapter}
	c.specs = map[types.ScenarioKind]InvocationSpec{
		types.KindFlood: {
			Binary: "l2ping",
			Args: func(req types.ScenarioRequest) []string {
				size := param(req, "packet_size", "600")
				return []string{"-i", adapter, "-s", size, "-f", req.Target}
			},
		},
		types.KindDeauth: {
			Binary: "bluetoothctl",
			Args: func(req types.ScenarioRequest) []string {
				return []string{"disconnect", req.Target}
			},
		},
		types.KindSniff: {
			Binary: "tshark",
			Args: func(req types.ScenarioRequest) []string {
				iface := param(req, "interface", "bluetooth0")
				args := []string{"-i", iface, "-l"}
				if capture := param(req, "capture_file", ""); capture != "" {
					args = append(args, "-w", capture)
				}
				return args
			},
		},
		types.KindPinBrute: {
			Binary: "btpincrack",
			Args: func(req types.ScenarioRequest) []string {
				wordlist := param(req, "wordlist", "pins.txt")
				return []string{"-t", req.Target, "-p", wordlist}
			},
		},
		types.KindHijack: {
			Binary: "spooftooph",
			Args: func(req types.ScenarioRequest) []string {
				return []string{"-i", adapter, "-a", req.Target}
			},
		},
		types.KindMITM: {
			Binary: "bettercap",
			Args: func(req types.ScenarioRequest) []string {
				return []string{"-iface", adapter, "-eval", "ble.recon on"}
			},
		},
	}
	return c
}

func (c *toolCatalog) Resolve(kind types.ScenarioKind) (InvocationSpec, error) {
	spec, ok := c.specs[kind]
	if !ok {
		return InvocationSpec{}, fmt.Errorf("no tool mapping for scenario kind %q", kind)
	}
	return spec, nil
}

func param(req types.ScenarioRequest, key, fallback string) string {
	if v, ok := req.Parameters[key]; ok && v != "" {
		return v
	}
	return fallback
}
