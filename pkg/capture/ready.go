package capture

import (
	"fmt"
	"strings"
)

// Predicate reports whether a capture may be triggered.
type Predicate func(s *Store, t Targets) bool

// Ready is the default Predicate. The trigger property must be known and
// every controlled property must have a confirmed primary value exactly
// equal to its target. Controlled values are discrete settings, so no
// tolerance applies.
func Ready(s *Store, t Targets) bool {
	if _, ok := s.Get(t.Device, t.Trigger.Property); !ok {
		return false
	}
	for _, target := range t.Controlled {
		if !settled(s, t.Device, target) {
			return false
		}
	}
	return true
}

func settled(s *Store, device string, target Setting) bool {
	entry, ok := s.Get(device, target.Property)
	if !ok || !entry.Observed {
		return false
	}
	e, ok := entry.Property.Primary()
	return ok && e.Number == target.Value
}

// Pending describes what still blocks readiness, for error reports.
func Pending(s *Store, t Targets) string {
	var missing []string
	if _, ok := s.Get(t.Device, t.Trigger.Property); !ok {
		missing = append(missing, t.Trigger.Property+" not defined")
	}
	for _, target := range t.Controlled {
		if settled(s, t.Device, target) {
			continue
		}
		entry, ok := s.Get(t.Device, target.Property)
		switch {
		case !ok:
			missing = append(missing, target.Property+" not defined")
		case !entry.Observed:
			missing = append(missing, fmt.Sprintf("%s not confirmed (want %g)", target.Property, target.Value))
		default:
			e, _ := entry.Property.Primary()
			missing = append(missing, fmt.Sprintf("%s=%g (want %g)", target.Property, e.Number, target.Value))
		}
	}
	return strings.Join(missing, ", ")
}
