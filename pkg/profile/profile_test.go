package profile

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
server: indi.local
port: 7625
device: QHY CCD QHY268M-b93fd94
exposure: 2.5
gain: 0
offset: 20
controls:
  CCD_TEMPERATURE: -10
  CCD_BINNING: 2
mqtt:
  broker: tcp://broker.local:1883
  topic_root: observatory/cam1
`

func TestDecode(t *testing.T) {
	p, err := Decode(strings.NewReader(sample))
	require.NoError(t, err)

	assert.Equal(t, map[string]string{
		"server":          "indi.local",
		"port":            "7625",
		"device":          "QHY CCD QHY268M-b93fd94",
		"exposure":        "2.5",
		"gain":            "0",
		"offset":          "20",
		"mqtt-broker":     "tcp://broker.local:1883",
		"mqtt-topic-root": "observatory/cam1",
	}, p.Values())

	assert.Equal(t, []string{"CCD_BINNING", "CCD_TEMPERATURE"}, p.ControlNames())
	assert.Equal(t, -10.0, p.Controls["CCD_TEMPERATURE"])
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "Unknown key", input: "exposure_time: 1\n"},
		{name: "Wrong type", input: "gain: high\n"},
		{name: "Empty control name", input: "controls:\n  \"\": 1\n"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode(strings.NewReader(tc.input))
			assert.Error(t, err, "expected error for input: %s", tc.input)
		})
	}
}

func TestDecodeEmpty(t *testing.T) {
	p, err := Decode(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, p.Values())
	assert.Empty(t, p.ControlNames())
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0644))

	p, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "indi.local", p.Server)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
