package capture

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"indicam/pkg/indi"
)

const testDevice = "QHY CCD QHY268M-b93fd94"

func numberProperty(device, name string, state indi.State, value float64) *indi.Property {
	return &indi.Property{
		Device:   device,
		Name:     name,
		Type:     indi.Number,
		State:    state,
		Elements: []indi.Element{{Name: name + "_VALUE", Number: value}},
	}
}

func TestStoreUpsertMergesElements(t *testing.T) {
	s := NewStore()

	def := &indi.Property{
		Device: testDevice,
		Name:   "CCD_INFO",
		Type:   indi.Number,
		State:  indi.StateIdle,
		Elements: []indi.Element{
			{Name: "WIDTH", Label: "Width", Number: 6280},
			{Name: "HEIGHT", Label: "Height", Number: 4210},
		},
	}
	s.Upsert(def, false)

	entry, ok := s.Get(testDevice, "CCD_INFO")
	require.True(t, ok)
	assert.False(t, entry.Observed)
	assert.Len(t, entry.Property.Elements, 2)

	s.Upsert(&indi.Property{
		Device:   testDevice,
		Name:     "CCD_INFO",
		Type:     indi.Number,
		State:    indi.StateOk,
		Elements: []indi.Element{{Name: "HEIGHT", Number: 4200}},
	}, true)

	entry, ok = s.Get(testDevice, "CCD_INFO")
	require.True(t, ok)
	assert.True(t, entry.Observed)
	assert.Equal(t, indi.StateOk, entry.Property.State)

	width, _ := entry.Property.Element("WIDTH")
	height, _ := entry.Property.Element("HEIGHT")
	assert.Equal(t, 6280.0, width.Number)
	assert.Equal(t, 4200.0, height.Number)
	assert.Equal(t, "Height", height.Label, "label from definition is kept")
}

func TestStoreObservedIsSticky(t *testing.T) {
	s := NewStore()
	s.Upsert(numberProperty(testDevice, PropGain, indi.StateOk, 56), true)
	s.Upsert(numberProperty(testDevice, PropGain, indi.StateOk, 60), true)

	entry, ok := s.Get(testDevice, PropGain)
	require.True(t, ok)
	assert.True(t, entry.Observed)
	e, _ := entry.Property.Primary()
	assert.Equal(t, 60.0, e.Number)
}

func TestStoreDefinitionAfterUpdate(t *testing.T) {
	s := NewStore()
	s.Upsert(numberProperty(testDevice, PropGain, indi.StateIdle, 0), false)
	s.Upsert(numberProperty(testDevice, PropGain, indi.StateOk, 56), true)
	s.Upsert(numberProperty(testDevice, PropGain, indi.StateIdle, 30), false)

	entry, ok := s.Get(testDevice, PropGain)
	require.True(t, ok)
	assert.True(t, entry.Observed)
	assert.Equal(t, indi.StateOk, entry.Property.State)
	e, _ := entry.Property.Primary()
	assert.Equal(t, 56.0, e.Number, "redefinition must not replace the confirmed value")

	assert.False(t, settled(s, testDevice, Setting{Property: PropGain, Value: 30}))
	assert.True(t, settled(s, testDevice, Setting{Property: PropGain, Value: 56}))
}

func TestStoreDropsBlobBytes(t *testing.T) {
	s := NewStore()
	p := &indi.Property{
		Device:   testDevice,
		Name:     PropPayload,
		Type:     indi.BLOB,
		Elements: []indi.Element{{Name: "CCD1", Blob: []byte("SIMPLE"), Format: ".fits", Size: 6}},
	}
	s.Upsert(p, true)

	entry, ok := s.Get(testDevice, PropPayload)
	require.True(t, ok)
	e, _ := entry.Property.Primary()
	assert.Nil(t, e.Blob)
	assert.Equal(t, ".fits", e.Format)
	assert.Equal(t, []byte("SIMPLE"), p.Elements[0].Blob, "input is not modified")
}

func TestStoreGetReturnsCopy(t *testing.T) {
	s := NewStore()
	s.Upsert(numberProperty(testDevice, PropOffset, indi.StateOk, 20), true)

	entry, _ := s.Get(testDevice, PropOffset)
	entry.Property.Elements[0].Number = 99

	again, _ := s.Get(testDevice, PropOffset)
	e, _ := again.Property.Primary()
	assert.Equal(t, 20.0, e.Number)
}

func TestStoreKeysByDevice(t *testing.T) {
	s := NewStore()
	s.Upsert(numberProperty(testDevice, PropGain, indi.StateOk, 56), true)
	s.Upsert(numberProperty("Telescope Simulator", PropGain, indi.StateOk, 1), true)

	assert.Equal(t, 2, s.Len())
	_, ok := s.Get("Focuser Simulator", PropGain)
	assert.False(t, ok)
}
