package validation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/btsentry/btsentry/pkg/types"
)

func TestValidMAC(t *testing.T) {
	valid := []string{
		"AA:BB:CC:DD:EE:FF",
		"aa:bb:cc:dd:ee:ff",
		"AA-BB-CC-DD-EE-FF",
		"00:11:22:33:44:55",
		" AA:BB:CC:DD:EE:FF ",
	}
	for _, mac := range valid {
		assert.True(t, ValidMAC(mac), "expected %q to be valid", mac)
	}

	invalid := []string{
		"",
		"AA:BB:CC:DD:EE",
		"AA:BB:CC:DD:EE:FF:00",
		"GG:BB:CC:DD:EE:FF",
		"AABBCCDDEEFF",
		"192.168.1.1",
	}
	for _, mac := range invalid {
		assert.False(t, ValidMAC(mac), "expected %q to be invalid", mac)
	}
}

func TestNormalizeMAC(t *testing.T) {
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", NormalizeMAC("aa:bb:cc:dd:ee:ff"))
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", NormalizeMAC("AA-BB-CC-DD-EE-FF"))
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", NormalizeMAC(" aa-bb-cc-dd-ee-ff "))
}

func TestValidateDuration(t *testing.T) {
	max := 5 * time.Minute

	assert.NoError(t, ValidateDuration(0, max), "zero means run to the policy ceiling")
	assert.NoError(t, ValidateDuration(30*time.Second, max))
	assert.NoError(t, ValidateDuration(max, max))

	err := ValidateDuration(-time.Second, max)
	assert.True(t, types.IsValidation(err))

	err = ValidateDuration(max+time.Second, max)
	assert.True(t, types.IsValidation(err))
}

func TestMajorDeviceClass(t *testing.T) {
	assert.Equal(t, "Audio/Video", MajorDeviceClass(0x240404))
	assert.Equal(t, "Phone", MajorDeviceClass(0x5A020C))
	assert.Equal(t, "Computer", MajorDeviceClass(0x000104))
	assert.Equal(t, "Wearable", MajorDeviceClass(0x000704))
	assert.Equal(t, "Unknown", MajorDeviceClass(0x000A00))
}
