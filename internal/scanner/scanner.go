package scanner

import (
	"context"
	"fmt"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/btsentry/btsentry/internal/config"
	"github.com/btsentry/btsentry/internal/core"
	"github.com/btsentry/btsentry/internal/logger"
	"github.com/btsentry/btsentry/internal/validation"
	"github.com/btsentry/btsentry/pkg/types"
)

// BluetoothScanner discovers nearby peripherals with the BlueZ command
// line tools and enumerates their SDP services. Low-energy scans need
// elevated rights, so invocations go through the privilege broker.
type BluetoothScanner struct {
	cfg    config.BluetoothConfig
	broker core.PrivilegeBroker
	log    *logger.Logger

	// overridable in tests
	runCmd   func(ctx context.Context, argv []string) (string, error)
	lookPath func(string) (string, error)
}

var _ core.Scanner = (*BluetoothScanner)(nil)

func New(cfg config.BluetoothConfig, broker core.PrivilegeBroker, log *logger.Logger) *BluetoothScanner {
	return &BluetoothScanner{
		cfg:      cfg,
		broker:   broker,
		log:      log.WithComponent("scanner"),
		runCmd:   runCommand,
		lookPath: exec.LookPath,
	}
}

func runCommand(ctx context.Context, argv []string) (string, error) {
	out, err := exec.CommandContext(ctx, argv[0], argv[1:]...).CombinedOutput()
	// An le scan runs until its deadline kills it; the output gathered
	// up to that point is the result.
	if ctx.Err() == context.DeadlineExceeded {
		return string(out), nil
	}
	if err != nil {
		return string(out), fmt.Errorf("%s: %w", argv[0], err)
	}
	return string(out), nil
}

// Scan runs classic inquiry and low-energy discovery concurrently and
// merges the results, deduplicated by MAC.
func (s *BluetoothScanner) Scan(ctx context.Context, duration time.Duration) (result []types.DeviceInfo, err error) {
	start := time.Now()
	ctx, span := s.log.StartOperation(ctx, "bluetooth_scan", "adapter", s.cfg.Adapter)
	defer func() {
		s.log.FinishOperation(ctx, span, "bluetooth_scan", start, err, "devices", len(result))
	}()

	if _, err := s.lookPath("hcitool"); err != nil {
		return nil, &types.ToolUnavailable{Binary: "hcitool"}
	}
	if duration <= 0 {
		duration = s.cfg.ScanDuration
	}

	grant, err := s.broker.Acquire(ctx, "scan-"+uuid.New().String())
	if err != nil {
		return nil, fmt.Errorf("scanner: %w", err)
	}
	defer s.broker.Release(grant)

	var (
		mu      sync.Mutex
		devices = make(map[string]types.DeviceInfo)
	)
	merge := func(found []types.DeviceInfo) {
		mu.Lock()
		defer mu.Unlock()
		for _, d := range found {
			if existing, ok := devices[d.MAC]; ok {
				// Classic inquiry carries the richer record.
				if existing.Name == "" {
					existing.Name = d.Name
				}
				devices[d.MAC] = existing
				continue
			}
			devices[d.MAC] = d
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	if s.cfg.Classic {
		g.Go(func() error {
			found, err := s.scanClassic(gctx, grant)
			if err != nil {
				return err
			}
			merge(found)
			return nil
		})
	}
	if s.cfg.LowEnergy {
		g.Go(func() error {
			found, err := s.scanLowEnergy(gctx, grant, duration)
			if err != nil {
				return err
			}
			merge(found)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]types.DeviceInfo, 0, len(devices))
	for _, d := range devices {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MAC < out[j].MAC })
	s.log.Infow("Scan complete", "devices", len(out))
	return out, nil
}

func (s *BluetoothScanner) scanClassic(ctx context.Context, grant *types.PrivilegeGrant) ([]types.DeviceInfo, error) {
	argv := s.broker.Wrap(grant, []string{"hcitool", "-i", s.cfg.Adapter, "scan", "--class"})
	out, err := s.runCmd(ctx, argv)
	if err != nil {
		return nil, fmt.Errorf("classic scan: %w", err)
	}
	return parseClassicScan(out), nil
}

func (s *BluetoothScanner) scanLowEnergy(ctx context.Context, grant *types.PrivilegeGrant, duration time.Duration) ([]types.DeviceInfo, error) {
	// lescan never exits on its own; the deadline bounds it.
	ctx, cancel := context.WithTimeout(ctx, duration)
	defer cancel()

	argv := s.broker.Wrap(grant, []string{"hcitool", "-i", s.cfg.Adapter, "lescan"})
	out, err := s.runCmd(ctx, argv)
	if err != nil {
		return nil, fmt.Errorf("le scan: %w", err)
	}
	return parseLEScan(out), nil
}

// EnumerateServices browses the SDP records of one device.
func (s *BluetoothScanner) EnumerateServices(ctx context.Context, mac string) (*types.ServiceReport, error) {
	if !validation.ValidMAC(mac) {
		return nil, types.NewValidationError("target", fmt.Sprintf("%q is not a MAC address", mac))
	}
	if _, err := s.lookPath("sdptool"); err != nil {
		return nil, &types.ToolUnavailable{Binary: "sdptool"}
	}
	mac = validation.NormalizeMAC(mac)

	out, err := s.runCmd(ctx, []string{"sdptool", "browse", mac})
	if err != nil {
		return nil, fmt.Errorf("sdp browse: %w", err)
	}
	return &types.ServiceReport{
		MAC:          mac,
		Services:     parseSDPBrowse(out),
		EnumeratedAt: time.Now().UTC(),
	}, nil
}

// parseClassicScan reads `hcitool scan --class` output. Lines carry a
// MAC, an optional 0x-prefixed class-of-device word, and the name.
func parseClassicScan(out string) []types.DeviceInfo {
	var devices []types.DeviceInfo
	now := time.Now().UTC()
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 || !validation.ValidMAC(fields[0]) {
			continue
		}
		device := types.DeviceInfo{
			MAC:          validation.NormalizeMAC(fields[0]),
			Type:         "classic",
			DiscoveredAt: now,
		}
		rest := fields[1:]
		if len(rest) > 0 && strings.HasPrefix(rest[0], "0x") {
			if class, err := strconv.ParseUint(strings.TrimPrefix(rest[0], "0x"), 16, 32); err == nil {
				device.DeviceClass = uint32(class)
				device.MajorClass = validation.MajorDeviceClass(uint32(class))
			}
			rest = rest[1:]
		}
		device.Name = strings.Join(rest, " ")
		devices = append(devices, device)
	}
	return devices
}

// parseLEScan reads `hcitool lescan` output, one advertisement per
// line as "MAC name". Repeated advertisements are collapsed, keeping
// the first line that carries a real name.
func parseLEScan(out string) []types.DeviceInfo {
	seen := make(map[string]int)
	var devices []types.DeviceInfo
	now := time.Now().UTC()
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 || !validation.ValidMAC(fields[0]) {
			continue
		}
		mac := validation.NormalizeMAC(fields[0])
		name := strings.Join(fields[1:], " ")
		if name == "(unknown)" {
			name = ""
		}
		if idx, ok := seen[mac]; ok {
			if devices[idx].Name == "" && name != "" {
				devices[idx].Name = name
			}
			continue
		}
		seen[mac] = len(devices)
		devices = append(devices, types.DeviceInfo{
			MAC:          mac,
			Name:         name,
			Type:         "le",
			DiscoveredAt: now,
		})
	}
	return devices
}

// parseSDPBrowse reads `sdptool browse` output into service records.
func parseSDPBrowse(out string) []types.ServiceInfo {
	var (
		services []types.ServiceInfo
		current  *types.ServiceInfo
	)
	flush := func() {
		if current != nil && current.Name != "" {
			services = append(services, *current)
		}
		current = nil
	}
	for _, line := range strings.Split(out, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "Service Name:"):
			flush()
			current = &types.ServiceInfo{Name: strings.TrimSpace(strings.TrimPrefix(trimmed, "Service Name:"))}
		case current == nil:
			continue
		case strings.HasPrefix(trimmed, "\"") && strings.Contains(trimmed, "("):
			// Protocol descriptor such as `"RFCOMM" (0x0003)`.
			if current.Protocol == "" {
				current.Protocol = strings.Trim(strings.SplitN(trimmed, "(", 2)[0], "\" ")
			}
		case strings.HasPrefix(trimmed, "Channel:"):
			current.Channel = strings.TrimSpace(strings.TrimPrefix(trimmed, "Channel:"))
		case strings.HasPrefix(trimmed, "UUID 128:"):
			current.UUID = strings.TrimSpace(strings.TrimPrefix(trimmed, "UUID 128:"))
		}
	}
	flush()
	return services
}
