package capture

import (
	"errors"
	"fmt"
	"time"
)

// Default property names of an INDI CCD driver.
const (
	PropReadMode = "READ_MODE"
	PropGain     = "CCD_GAIN"
	PropOffset   = "CCD_OFFSET"
	PropExposure = "CCD_EXPOSURE"
	PropPayload  = "CCD1"
)

const (
	// PollInterval is the readiness polling cadence, 10 checks per second
	// of timeout budget.
	PollInterval = 100 * time.Millisecond

	// ResultGrace is added to the exposure time when no explicit result
	// timeout is configured.
	ResultGrace = 60 * time.Second
)

// Setting is a target value for the primary element of a number property.
type Setting struct {
	Property string
	Value    float64
}

// Targets describes what a run negotiates on the device.
type Targets struct {
	Device string

	// Controlled properties are set at discovery and waited upon until
	// the device confirms the exact value.
	Controlled []Setting

	// Trigger is written once every controlled property is confirmed.
	// Its value is the capture value, e.g. the exposure in seconds.
	Trigger Setting

	// Payload is the BLOB property carrying the captured image.
	Payload string
}

// Setting returns the controlled setting for a property.
func (t Targets) Setting(property string) (Setting, bool) {
	for _, s := range t.Controlled {
		if s.Property == property {
			return s, true
		}
	}
	return Setting{}, false
}

func (t Targets) Validate() error {
	if t.Device == "" {
		return errors.New("device name cannot be empty")
	}
	if t.Trigger.Property == "" {
		return errors.New("trigger property cannot be empty")
	}
	if t.Payload == "" {
		return errors.New("payload property cannot be empty")
	}

	seen := map[string]bool{t.Trigger.Property: true, t.Payload: true}
	for _, s := range t.Controlled {
		if s.Property == "" {
			return errors.New("controlled property name cannot be empty")
		}
		if seen[s.Property] {
			return fmt.Errorf("property %s listed more than once", s.Property)
		}
		seen[s.Property] = true
	}
	return nil
}

// Config holds everything a Controller needs for one run.
type Config struct {
	Targets

	// Output is the file the payload is written to.
	Output string

	// Timeout bounds the wait for readiness.
	Timeout time.Duration

	// ResultTimeout bounds the wait for the payload once the capture is
	// triggered. Zero means exposure plus ResultGrace; negative waits
	// forever.
	ResultTimeout time.Duration
}

func (c Config) Validate() error {
	if err := c.Targets.Validate(); err != nil {
		return err
	}
	if c.Output == "" {
		return errors.New("output path cannot be empty")
	}
	if c.Timeout < 0 {
		return fmt.Errorf("invalid timeout: %v", c.Timeout)
	}
	return nil
}

// timeoutTicks is the number of poll intervals in the readiness budget,
// rounded up so the budget is never cut short.
func (c Config) timeoutTicks() int {
	if c.Timeout <= 0 {
		return 0
	}
	return int((c.Timeout + PollInterval - 1) / PollInterval)
}

func (c Config) resultTimeout() time.Duration {
	if c.ResultTimeout != 0 {
		return c.ResultTimeout
	}
	return time.Duration(c.Trigger.Value*float64(time.Second)) + ResultGrace
}
