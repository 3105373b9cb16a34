package indi

import "fmt"

type PropertyType int

const (
	Number PropertyType = iota
	Switch
	Text
	Light
	BLOB
)

func (t PropertyType) String() string {
	switch t {
	case Number:
		return "Number"
	case Switch:
		return "Switch"
	case Text:
		return "Text"
	case Light:
		return "Light"
	case BLOB:
		return "BLOB"
	default:
		return fmt.Sprintf("PropertyType(%d)", int(t))
	}
}

// State is the INDI property state carried by every vector.
type State string

const (
	StateIdle  State = "Idle"
	StateOk    State = "Ok"
	StateBusy  State = "Busy"
	StateAlert State = "Alert"
)

// Element is a single named member of a property vector. Only the field
// matching the owning property's type is meaningful.
type Element struct {
	Name  string
	Label string

	Number float64 // Number
	Switch bool    // Switch: true when "On"
	Text   string  // Text
	Light  State   // Light

	// BLOB payload and metadata. Size is the decoded length as
	// announced by the server.
	Blob   []byte
	Format string
	Size   int
}

// Property is a device property vector as seen by a client.
type Property struct {
	Device string
	Name   string
	Label  string
	Group  string
	Type   PropertyType
	State  State
	Perm   string

	Elements []Element
}

// Primary returns the first element of the vector. Controlled settings and
// the exposure property all carry their value in the first element.
func (p *Property) Primary() (Element, bool) {
	if len(p.Elements) == 0 {
		return Element{}, false
	}
	return p.Elements[0], true
}

// Element returns the element with the given name.
func (p *Property) Element(name string) (Element, bool) {
	for _, e := range p.Elements {
		if e.Name == name {
			return e, true
		}
	}
	return Element{}, false
}

// Clone returns a deep copy of the property.
func (p *Property) Clone() Property {
	c := *p
	c.Elements = make([]Element, len(p.Elements))
	copy(c.Elements, p.Elements)
	for i := range c.Elements {
		if c.Elements[i].Blob != nil {
			c.Elements[i].Blob = append([]byte(nil), c.Elements[i].Blob...)
		}
	}
	return c
}

func (p *Property) String() string {
	return p.Device + "." + p.Name
}

// Handler receives property events from a Client. Methods are called from
// the client's read goroutine, one at a time.
type Handler interface {
	PropertyDefined(p *Property)
	PropertyUpdated(p *Property)
}
