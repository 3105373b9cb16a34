package trace

import (
	"time"

	"indicam/pkg/indi"
)

// Event is one entry of a trace file. CBOR encoding uses integer keys.
type Event struct {
	Timestamp time.Time `cbor:"1,keyasint"`
	RunID     string    `cbor:"2,keyasint,omitempty"`
	Direction Direction `cbor:"3,keyasint"`
	Kind      Kind      `cbor:"4,keyasint"`

	Device   string    `cbor:"5,keyasint,omitempty"`
	Property string    `cbor:"6,keyasint,omitempty"`
	Type     string    `cbor:"7,keyasint,omitempty"`
	State    string    `cbor:"8,keyasint,omitempty"`
	Elements []Element `cbor:"9,keyasint,omitempty"`

	// RunState is set for KindState events.
	RunState string `cbor:"10,keyasint,omitempty"`
}

// Element is the recorded value of a property element. Values are kept in
// their textual form; BLOBs only record size and format.
type Element struct {
	Name   string `cbor:"1,keyasint"`
	Value  string `cbor:"2,keyasint,omitempty"`
	Size   int    `cbor:"3,keyasint,omitempty"`
	Format string `cbor:"4,keyasint,omitempty"`
}

type Direction uint8

const (
	DirectionIn  Direction = 0
	DirectionOut Direction = 1
)

func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

type Kind uint8

const (
	KindDefined Kind = 0
	KindUpdated Kind = 1
	KindCommand Kind = 2
	KindState   Kind = 3
)

func (k Kind) String() string {
	switch k {
	case KindDefined:
		return "DEF"
	case KindUpdated:
		return "SET"
	case KindCommand:
		return "NEW"
	case KindState:
		return "STATE"
	default:
		return "UNKNOWN"
	}
}

// PropertyEvent builds an event describing p. Timestamp and RunID are left
// for the caller.
func PropertyEvent(dir Direction, kind Kind, p *indi.Property) Event {
	ev := Event{
		Direction: dir,
		Kind:      kind,
		Device:    p.Device,
		Property:  p.Name,
		Type:      p.Type.String(),
		State:     string(p.State),
		Elements:  make([]Element, 0, len(p.Elements)),
	}

	for _, e := range p.Elements {
		el := Element{Name: e.Name}
		switch p.Type {
		case indi.Number:
			el.Value = formatFloat(e.Number)
		case indi.Switch:
			el.Value = "Off"
			if e.Switch {
				el.Value = "On"
			}
		case indi.Text:
			el.Value = e.Text
		case indi.Light:
			el.Value = string(e.Light)
		case indi.BLOB:
			el.Size = len(e.Blob)
			if el.Size == 0 {
				el.Size = e.Size
			}
			el.Format = e.Format
		}
		ev.Elements = append(ev.Elements, el)
	}
	return ev
}

// StateEvent builds an event recording a controller state change.
func StateEvent(state string) Event {
	return Event{
		Direction: DirectionOut,
		Kind:      KindState,
		RunState:  state,
	}
}
