package validation

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/btsentry/btsentry/pkg/types"
)

var macPattern = regexp.MustCompile(`^([0-9A-Fa-f]{2}[:-]){5}[0-9A-Fa-f]{2}$`)

// ValidMAC reports whether s looks like a Bluetooth device address.
func ValidMAC(s string) bool {
	return macPattern.MatchString(strings.TrimSpace(s))
}

// NormalizeMAC converts a MAC to the canonical uppercase colon form.
// The input must already satisfy ValidMAC.
func NormalizeMAC(s string) string {
	cleaned := strings.ToUpper(strings.NewReplacer(":", "", "-", "").Replace(strings.TrimSpace(s)))
	parts := make([]string, 0, 6)
	for i := 0; i+2 <= len(cleaned); i += 2 {
		parts = append(parts, cleaned[i:i+2])
	}
	return strings.Join(parts, ":")
}

// ValidateDuration checks a requested scenario duration against the
// policy ceiling. Zero means "unbounded subject to max policy" and is
// accepted; the runner clamps it to max.
func ValidateDuration(d, max time.Duration) error {
	if d < 0 {
		return types.NewValidationError("duration", fmt.Sprintf("must not be negative, got %s", d))
	}
	if max > 0 && d > max {
		return types.NewValidationError("duration", fmt.Sprintf("%s exceeds policy maximum %s", d, max))
	}
	return nil
}

// Major device classes from the Bluetooth baseband assigned numbers.
var majorClasses = map[uint32]string{
	0x00: "Miscellaneous",
	0x01: "Computer",
	0x02: "Phone",
	0x03: "LAN/Network Access Point",
	0x04: "Audio/Video",
	0x05: "Peripheral",
	0x06: "Imaging",
	0x07: "Wearable",
	0x08: "Toy",
	0x09: "Health",
	0x1F: "Uncategorized",
}

// MajorDeviceClass decodes the major class bits of a Bluetooth class
// of device value into a human-readable label.
func MajorDeviceClass(deviceClass uint32) string {
	major := (deviceClass >> 8) & 0x1F
	if name, ok := majorClasses[major]; ok {
		return name
	}
	return "Unknown"
}
