package ccd_simulator

import (
	"fmt"
	"sync"

	"indicam/pkg/indi"
)

const (
	DefaultDevice = "CCD Simulator"

	groupMain     = "Main Control"
	groupSettings = "Image Settings"
)

// CameraConfig holds the initial state of the simulated camera.
type CameraConfig struct {
	Device      string
	ReadMode    float64
	Gain        float64
	Offset      float64
	Temperature float64
	Width       int
	Height      int

	// Frozen properties accept new values without applying them and
	// never report an update, like a driver that does not answer.
	Frozen []string
}

var defaultConfig = CameraConfig{
	Device:      DefaultDevice,
	ReadMode:    0,
	Gain:        30,
	Offset:      10,
	Temperature: 20,
	Width:       64,
	Height:      48,
}

// DefaultConfig returns the default camera configuration.
func DefaultConfig() CameraConfig {
	return defaultConfig
}

// Camera is the property model of a simulated INDI CCD.
type Camera struct {
	config CameraConfig

	mu    sync.Mutex
	props map[string]*indi.Property
	order []string
}

func NewCamera(cfg CameraConfig) *Camera {
	if cfg.Device == "" {
		cfg.Device = DefaultDevice
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		cfg.Width, cfg.Height = defaultConfig.Width, defaultConfig.Height
	}

	c := &Camera{config: cfg, props: make(map[string]*indi.Property)}

	c.add(&indi.Property{
		Name: "CONNECTION", Label: "Connection", Group: groupMain, Type: indi.Switch, Perm: "rw",
		Elements: []indi.Element{
			{Name: "CONNECT", Label: "Connect", Switch: true},
			{Name: "DISCONNECT", Label: "Disconnect"},
		},
	})
	c.add(&indi.Property{
		Name: "READ_MODE", Label: "Read Mode", Group: groupSettings, Type: indi.Number, Perm: "rw",
		Elements: []indi.Element{{Name: "MODE", Label: "Mode", Number: cfg.ReadMode}},
	})
	c.add(&indi.Property{
		Name: "CCD_GAIN", Label: "Gain", Group: groupMain, Type: indi.Number, Perm: "rw",
		Elements: []indi.Element{{Name: "GAIN", Label: "Gain", Number: cfg.Gain}},
	})
	c.add(&indi.Property{
		Name: "CCD_OFFSET", Label: "Offset", Group: groupMain, Type: indi.Number, Perm: "rw",
		Elements: []indi.Element{{Name: "OFFSET", Label: "Offset", Number: cfg.Offset}},
	})
	c.add(&indi.Property{
		Name: "CCD_TEMPERATURE", Label: "Temperature", Group: groupMain, Type: indi.Number, Perm: "rw",
		Elements: []indi.Element{{Name: "CCD_TEMPERATURE_VALUE", Label: "Temperature (C)", Number: cfg.Temperature}},
	})
	c.add(&indi.Property{
		Name: "CCD_INFO", Label: "CCD Information", Group: groupSettings, Type: indi.Number, Perm: "ro",
		Elements: []indi.Element{
			{Name: "CCD_MAX_X", Label: "Max. Width", Number: float64(cfg.Width)},
			{Name: "CCD_MAX_Y", Label: "Max. Height", Number: float64(cfg.Height)},
			{Name: "CCD_BITSPERPIXEL", Label: "Bits per pixel", Number: 16},
		},
	})
	c.add(&indi.Property{
		Name: "CCD_EXPOSURE", Label: "Expose", Group: groupMain, Type: indi.Number, Perm: "rw",
		Elements: []indi.Element{{Name: "CCD_EXPOSURE_VALUE", Label: "Duration (s)", Number: 0}},
	})
	c.add(&indi.Property{
		Name: "CCD1", Label: "Image Data", Group: "Image Info", Type: indi.BLOB, Perm: "ro",
		Elements: []indi.Element{{Name: "CCD1", Label: "Image"}},
	})

	return c
}

func (c *Camera) add(p *indi.Property) {
	p.Device = c.config.Device
	p.State = indi.StateIdle
	c.props[p.Name] = p
	c.order = append(c.order, p.Name)
}

func (c *Camera) Device() string {
	return c.config.Device
}

// Definitions returns copies of all properties in definition order.
func (c *Camera) Definitions() []*indi.Property {
	c.mu.Lock()
	defer c.mu.Unlock()

	defs := make([]*indi.Property, 0, len(c.order))
	for _, name := range c.order {
		p := c.props[name].Clone()
		defs = append(defs, &p)
	}
	return defs
}

// Get returns a copy of a property.
func (c *Camera) Get(name string) (*indi.Property, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.props[name]
	if !ok {
		return nil, false
	}
	cp := p.Clone()
	return &cp, true
}

func (c *Camera) frozen(name string) bool {
	for _, f := range c.config.Frozen {
		if f == name {
			return true
		}
	}
	return false
}

// Apply sets the number elements in p and returns the updated property,
// or nil when the property is frozen.
func (c *Camera) Apply(p *indi.Property) (*indi.Property, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if p.Device != c.config.Device {
		return nil, fmt.Errorf("unknown device %s", p.Device)
	}
	cur, ok := c.props[p.Name]
	if !ok {
		return nil, fmt.Errorf("unknown property %s", p)
	}
	if cur.Type != p.Type {
		return nil, fmt.Errorf("property %s is a %s vector, not %s", p, cur.Type, p.Type)
	}
	if cur.Perm == "ro" {
		return nil, fmt.Errorf("property %s is read only", p)
	}
	if c.frozen(p.Name) {
		return nil, nil
	}

	for _, e := range p.Elements {
		found := false
		for i := range cur.Elements {
			if cur.Elements[i].Name != e.Name {
				continue
			}
			switch cur.Type {
			case indi.Number:
				cur.Elements[i].Number = e.Number
			case indi.Switch:
				cur.Elements[i].Switch = e.Switch
			}
			found = true
		}
		if !found {
			return nil, fmt.Errorf("unknown element %s.%s", p, e.Name)
		}
	}
	cur.State = indi.StateOk

	updated := cur.Clone()
	return &updated, nil
}

// setExposure records the remaining exposure time and state.
func (c *Camera) setExposure(remaining float64, state indi.State) *indi.Property {
	c.mu.Lock()
	defer c.mu.Unlock()

	p := c.props["CCD_EXPOSURE"]
	p.Elements[0].Number = remaining
	p.State = state

	updated := p.Clone()
	return &updated
}

// settings returns the current primary values used in the image header.
func (c *Camera) settings() (gain, offset, temperature float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.props["CCD_GAIN"].Elements[0].Number,
		c.props["CCD_OFFSET"].Elements[0].Number,
		c.props["CCD_TEMPERATURE"].Elements[0].Number
}
