package indi

import (
	"bytes"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseNumber(t *testing.T) {
	tests := []struct {
		input       string
		expected    float64
		expectError bool
	}{
		{input: "56", expected: 56},
		{input: " 1.5\n", expected: 1.5},
		{input: "-20", expected: -20},
		{input: "1e-3", expected: 0.001},
		{input: "12:30:00", expected: 12.5},
		{input: "-0:30", expected: -0.5},
		{input: "10 15 00", expected: 10.25},
		{input: "", expectError: true},
		{input: "abc", expectError: true},
		{input: "1:2:3:4", expectError: true},
	}

	for _, tc := range tests {
		t.Run(tc.input, func(t *testing.T) {
			v, err := ParseNumber(tc.input)
			if tc.expectError {
				assert.Error(t, err, "expected error for input: %q", tc.input)
				return
			}
			assert.NoError(t, err, "unexpected error for input: %q", tc.input)
			assert.InDelta(t, tc.expected, v, 1e-9)
		})
	}
}

func TestParseVectorTag(t *testing.T) {
	tests := []struct {
		tag  string
		kind FrameKind
		typ  PropertyType
		ok   bool
	}{
		{"defNumberVector", FrameDefine, Number, true},
		{"setSwitchVector", FrameSet, Switch, true},
		{"newTextVector", FrameNew, Text, true},
		{"defLightVector", FrameDefine, Light, true},
		{"setBLOBVector", FrameSet, BLOB, true},
		{"defVector", 0, 0, false},
		{"getProperties", 0, 0, false},
		{"setFooVector", 0, 0, false},
		{"oneNumber", 0, 0, false},
	}

	for _, tc := range tests {
		t.Run(tc.tag, func(t *testing.T) {
			kind, typ, ok := parseVectorTag(tc.tag)
			assert.Equal(t, tc.ok, ok)
			if tc.ok {
				assert.Equal(t, tc.kind, kind)
				assert.Equal(t, tc.typ, typ)
			}
		})
	}
}

func TestDecodeStream(t *testing.T) {
	payload := []byte("SIMPLE  =                    T")
	stream := `<?xml version="1.0"?>
<defNumberVector device="CCD Simulator" name="CCD_GAIN" label="Gain" group="Main" state="Idle" perm="rw" timeout="60" timestamp="2024-01-02T03:04:05">
  <defNumber name="GAIN" label="Gain" format="%.f" min="0" max="100" step="1">
    56
  </defNumber>
</defNumberVector>
<defSwitchVector device="CCD Simulator" name="CONNECTION" state="Ok" perm="rw" rule="OneOfMany">
  <defSwitch name="CONNECT">On</defSwitch>
  <defSwitch name="DISCONNECT">Off</defSwitch>
</defSwitchVector>
<unknownElement foo="bar"><child/></unknownElement>
<message device="CCD Simulator" timestamp="2024-01-02T03:04:05.123" message="Exposure done"/>
<setBLOBVector device="CCD Simulator" name="CCD1" state="Ok">
  <oneBLOB name="CCD1" size="` + "30" + `" format=".fits" enclen="40">` + base64.StdEncoding.EncodeToString(payload) + `</oneBLOB>
</setBLOBVector>
<delProperty device="CCD Simulator" name="CCD_GAIN"/>
`

	dec := NewDecoder(strings.NewReader(stream))

	f, err := dec.Decode()
	require.NoError(t, err)
	assert.Equal(t, FrameDefine, f.Kind)
	assert.Equal(t, "CCD Simulator", f.Property.Device)
	assert.Equal(t, "CCD_GAIN", f.Property.Name)
	assert.Equal(t, Number, f.Property.Type)
	assert.Equal(t, StateIdle, f.Property.State)
	assert.Equal(t, "rw", f.Property.Perm)
	require.Len(t, f.Property.Elements, 1)
	assert.Equal(t, "GAIN", f.Property.Elements[0].Name)
	assert.Equal(t, 56.0, f.Property.Elements[0].Number)
	assert.Equal(t, 2024, f.Timestamp.Year())

	f, err = dec.Decode()
	require.NoError(t, err)
	assert.Equal(t, Switch, f.Property.Type)
	require.Len(t, f.Property.Elements, 2)
	assert.True(t, f.Property.Elements[0].Switch)
	assert.False(t, f.Property.Elements[1].Switch)

	f, err = dec.Decode()
	require.NoError(t, err)
	assert.Equal(t, FrameMessage, f.Kind)
	assert.Equal(t, "Exposure done", f.Message)
	assert.False(t, f.Timestamp.IsZero())

	f, err = dec.Decode()
	require.NoError(t, err)
	assert.Equal(t, FrameSet, f.Kind)
	assert.Equal(t, BLOB, f.Property.Type)
	require.Len(t, f.Property.Elements, 1)
	assert.Equal(t, payload, f.Property.Elements[0].Blob)
	assert.Equal(t, ".fits", f.Property.Elements[0].Format)
	assert.Equal(t, 30, f.Property.Elements[0].Size)

	f, err = dec.Decode()
	require.NoError(t, err)
	assert.Equal(t, FrameDelete, f.Kind)
	assert.Equal(t, "CCD_GAIN", f.Name)

	_, err = dec.Decode()
	assert.Error(t, err)
}

func TestDecodeMalformedNumberKeepsStream(t *testing.T) {
	stream := `<setNumberVector device="D" name="P"><oneNumber name="V">not-a-number</oneNumber></setNumberVector>
<setNumberVector device="D" name="P"><oneNumber name="V">3</oneNumber></setNumberVector>`

	dec := NewDecoder(strings.NewReader(stream))
	_, err := dec.Decode()
	assert.ErrorIs(t, err, ErrMalformed)

	f, err := dec.Decode()
	require.NoError(t, err)
	assert.Equal(t, 3.0, f.Property.Elements[0].Number)
}

func TestEncodeRoundTrip(t *testing.T) {
	frames := []*Frame{
		{Kind: FrameGetProperties},
		{Kind: FrameEnableBLOB, Device: "Cam", Name: "CCD1", BLOBMode: BLOBAlso},
		{Kind: FrameNew, Property: &Property{
			Device: "Cam", Name: "CCD_EXPOSURE", Type: Number,
			Elements: []Element{{Name: "CCD_EXPOSURE_VALUE", Number: 2.5}},
		}},
		{Kind: FrameDefine, Property: &Property{
			Device: "Cam", Name: "CCD_COOLER", Type: Switch, State: StateOk, Perm: "rw",
			Elements: []Element{{Name: "COOLER_ON", Switch: true}, {Name: "COOLER_OFF"}},
		}},
		{Kind: FrameSet, Property: &Property{
			Device: "Cam", Name: "CCD1", Type: BLOB, State: StateOk,
			Elements: []Element{{Name: "CCD1", Format: ".fits", Blob: []byte{0, 1, 2, 0xff}}},
		}},
		{Kind: FrameMessage, Device: "Cam", Message: "hello & <bye>"},
	}

	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	for _, f := range frames {
		require.NoError(t, enc.Encode(f))
	}

	assert.Contains(t, buf.String(), `<getProperties version="1.7"></getProperties>`)
	assert.Contains(t, buf.String(), `<oneNumber name="CCD_EXPOSURE_VALUE">2.5</oneNumber>`)

	dec := NewDecoder(&buf)

	f, err := dec.Decode()
	require.NoError(t, err)
	assert.Equal(t, FrameGetProperties, f.Kind)
	assert.Equal(t, ProtocolVersion, f.Version)

	f, err = dec.Decode()
	require.NoError(t, err)
	assert.Equal(t, FrameEnableBLOB, f.Kind)
	assert.Equal(t, BLOBAlso, f.BLOBMode)
	assert.Equal(t, "CCD1", f.Name)

	f, err = dec.Decode()
	require.NoError(t, err)
	assert.Equal(t, FrameNew, f.Kind)
	assert.Equal(t, 2.5, f.Property.Elements[0].Number)

	f, err = dec.Decode()
	require.NoError(t, err)
	assert.Equal(t, FrameDefine, f.Kind)
	assert.True(t, f.Property.Elements[0].Switch)
	assert.False(t, f.Property.Elements[1].Switch)

	f, err = dec.Decode()
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 1, 2, 0xff}, f.Property.Elements[0].Blob)
	assert.Equal(t, 4, f.Property.Elements[0].Size)

	f, err = dec.Decode()
	require.NoError(t, err)
	assert.Equal(t, "hello & <bye>", f.Message)
}

func TestPropertyClone(t *testing.T) {
	p := &Property{Device: "D", Name: "B", Type: BLOB, Elements: []Element{{Name: "B", Blob: []byte{1, 2}}}}
	c := p.Clone()
	c.Elements[0].Blob[0] = 9
	c.Elements[0].Name = "X"

	assert.Equal(t, byte(1), p.Elements[0].Blob[0])
	assert.Equal(t, "B", p.Elements[0].Name)

	e, ok := p.Primary()
	assert.True(t, ok)
	assert.Equal(t, "B", e.Name)

	_, ok = (&Property{}).Primary()
	assert.False(t, ok)
}
