package ccd_simulator

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"indicam/pkg/indi"
)

func TestCameraDefinitions(t *testing.T) {
	c := NewCamera(DefaultConfig())

	var names []string
	for _, p := range c.Definitions() {
		assert.Equal(t, DefaultDevice, p.Device)
		assert.Equal(t, indi.StateIdle, p.State)
		names = append(names, p.Name)
	}
	assert.Equal(t, []string{
		"CONNECTION", "READ_MODE", "CCD_GAIN", "CCD_OFFSET",
		"CCD_TEMPERATURE", "CCD_INFO", "CCD_EXPOSURE", "CCD1",
	}, names)
}

func TestCameraApply(t *testing.T) {
	tests := []struct {
		name        string
		property    *indi.Property
		expectError bool
		expected    float64
	}{
		{
			name: "Gain",
			property: &indi.Property{Device: DefaultDevice, Name: "CCD_GAIN", Type: indi.Number,
				Elements: []indi.Element{{Name: "GAIN", Number: 56}}},
			expected: 56,
		},
		{
			name: "Unknown device",
			property: &indi.Property{Device: "Telescope Simulator", Name: "CCD_GAIN", Type: indi.Number,
				Elements: []indi.Element{{Name: "GAIN", Number: 56}}},
			expectError: true,
		},
		{
			name: "Unknown property",
			property: &indi.Property{Device: DefaultDevice, Name: "CCD_BINNING", Type: indi.Number,
				Elements: []indi.Element{{Name: "HOR_BIN", Number: 2}}},
			expectError: true,
		},
		{
			name: "Unknown element",
			property: &indi.Property{Device: DefaultDevice, Name: "CCD_GAIN", Type: indi.Number,
				Elements: []indi.Element{{Name: "CCD_GAIN_VALUE", Number: 56}}},
			expectError: true,
		},
		{
			name: "Wrong type",
			property: &indi.Property{Device: DefaultDevice, Name: "CCD_GAIN", Type: indi.Text,
				Elements: []indi.Element{{Name: "GAIN", Text: "56"}}},
			expectError: true,
		},
		{
			name: "Read only",
			property: &indi.Property{Device: DefaultDevice, Name: "CCD_INFO", Type: indi.Number,
				Elements: []indi.Element{{Name: "CCD_MAX_X", Number: 1}}},
			expectError: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := NewCamera(DefaultConfig())
			updated, err := c.Apply(tc.property)
			if tc.expectError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, indi.StateOk, updated.State)
			e, _ := updated.Primary()
			assert.Equal(t, tc.expected, e.Number)

			stored, _ := c.Get(tc.property.Name)
			e, _ = stored.Primary()
			assert.Equal(t, tc.expected, e.Number)
		})
	}
}

func TestCameraFrozen(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Frozen = []string{"CCD_OFFSET"}
	c := NewCamera(cfg)

	updated, err := c.Apply(&indi.Property{Device: DefaultDevice, Name: "CCD_OFFSET", Type: indi.Number,
		Elements: []indi.Element{{Name: "OFFSET", Number: 20}}})
	require.NoError(t, err)
	assert.Nil(t, updated)

	stored, _ := c.Get("CCD_OFFSET")
	e, _ := stored.Primary()
	assert.Equal(t, cfg.Offset, e.Number)
}

func TestMakeFITS(t *testing.T) {
	data := makeFITS(frameInfo{Width: 32, Height: 16, Exposure: 1, Gain: 56, Offset: 20, Date: time.Unix(0, 0)})

	assert.Equal(t, 0, len(data)%fitsBlock)
	assert.Equal(t, 2*fitsBlock, len(data), "one header block and one data block")
	assert.True(t, bytes.HasPrefix(data, []byte("SIMPLE  =                    T")))
	assert.Contains(t, string(data[:fitsBlock]), "NAXIS1  =                   32")
	assert.Contains(t, string(data[:fitsBlock]), "END")
}
