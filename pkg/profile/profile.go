package profile

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Profile holds capture settings loaded from a YAML file. Unset fields
// leave the command line defaults untouched.
type Profile struct {
	Server   string   `yaml:"server"`
	Port     *int     `yaml:"port"`
	Device   string   `yaml:"device"`
	BLOB     string   `yaml:"blob"`
	Exposure *float64 `yaml:"exposure"`
	Mode     *float64 `yaml:"mode"`
	Gain     *float64 `yaml:"gain"`
	Offset   *float64 `yaml:"offset"`
	Timeout  *float64 `yaml:"timeout"`
	Output   string   `yaml:"output"`

	// Controls are extra number properties set before the capture, keyed
	// by property name, e.g. CCD_TEMPERATURE.
	Controls map[string]float64 `yaml:"controls"`

	MQTT *MQTT `yaml:"mqtt"`
}

type MQTT struct {
	Broker    string `yaml:"broker"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	TopicRoot string `yaml:"topic_root"`
}

// Load reads a profile file. Unknown keys are rejected.
func Load(path string) (*Profile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open profile: %v", err)
	}
	defer f.Close()

	p, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse profile %s: %v", path, err)
	}
	return p, nil
}

func Decode(r io.Reader) (*Profile, error) {
	var p Profile

	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}

	for name := range p.Controls {
		if name == "" {
			return nil, errors.New("control property name cannot be empty")
		}
	}
	return &p, nil
}

// Values returns the profile settings as flag values keyed by flag name.
func (p *Profile) Values() map[string]string {
	v := make(map[string]string)

	setString := func(name, value string) {
		if value != "" {
			v[name] = value
		}
	}
	setFloat := func(name string, value *float64) {
		if value != nil {
			v[name] = strconv.FormatFloat(*value, 'f', -1, 64)
		}
	}

	setString("server", p.Server)
	if p.Port != nil {
		v["port"] = strconv.Itoa(*p.Port)
	}
	setString("device", p.Device)
	setString("blob", p.BLOB)
	setFloat("exposure", p.Exposure)
	setFloat("mode", p.Mode)
	setFloat("gain", p.Gain)
	setFloat("offset", p.Offset)
	setFloat("timeout", p.Timeout)
	setString("output", p.Output)

	if p.MQTT != nil {
		setString("mqtt-broker", p.MQTT.Broker)
		setString("mqtt-username", p.MQTT.Username)
		setString("mqtt-password", p.MQTT.Password)
		setString("mqtt-topic-root", p.MQTT.TopicRoot)
	}
	return v
}

// ControlNames returns the names of the extra controls in a stable order.
func (p *Profile) ControlNames() []string {
	names := make([]string, 0, len(p.Controls))
	for name := range p.Controls {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
