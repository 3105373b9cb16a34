package capture

import "fmt"

// State is the phase of a capture run.
type State int

const (
	StateConnecting State = iota
	StateWaitingForProperties
	StateCapturing
	StateWaitingForResult
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "Connecting"
	case StateWaitingForProperties:
		return "WaitingForProperties"
	case StateCapturing:
		return "Capturing"
	case StateWaitingForResult:
		return "WaitingForResult"
	case StateDone:
		return "Done"
	case StateFailed:
		return "Failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Terminal reports whether no further transitions can happen.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}
