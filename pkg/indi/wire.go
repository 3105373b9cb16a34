package indi

import (
	"encoding/base64"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ProtocolVersion is the INDI protocol version announced in getProperties.
const ProtocolVersion = "1.7"

const timestampLayout = "2006-01-02T15:04:05"

// ErrMalformed is returned by Decoder.Decode for a well-formed XML element
// that is not a valid INDI message. The stream stays usable.
var ErrMalformed = errors.New("malformed INDI message")

// FrameKind identifies a top-level INDI message.
type FrameKind int

const (
	FrameDefine        FrameKind = iota // def*Vector
	FrameSet                            // set*Vector
	FrameNew                            // new*Vector
	FrameMessage                        // message
	FrameDelete                         // delProperty
	FrameGetProperties                  // getProperties
	FrameEnableBLOB                     // enableBLOB
)

var verbs = map[FrameKind]string{
	FrameDefine: "def",
	FrameSet:    "set",
	FrameNew:    "new",
}

// BLOB delivery modes for enableBLOB.
const (
	BLOBNever = "Never"
	BLOBAlso  = "Also"
	BLOBOnly  = "Only"
)

// Frame is one top-level element of an INDI stream.
type Frame struct {
	Kind      FrameKind
	Property  *Property // def/set/new vectors
	Device    string
	Name      string
	Message   string
	Version   string // getProperties
	BLOBMode  string // enableBLOB
	Timestamp time.Time
}

type vector struct {
	XMLName   xml.Name
	Device    string   `xml:"device,attr"`
	Name      string   `xml:"name,attr"`
	Label     string   `xml:"label,attr,omitempty"`
	Group     string   `xml:"group,attr,omitempty"`
	State     string   `xml:"state,attr,omitempty"`
	Perm      string   `xml:"perm,attr,omitempty"`
	Rule      string   `xml:"rule,attr,omitempty"`
	Timeout   string   `xml:"timeout,attr,omitempty"`
	Timestamp string   `xml:"timestamp,attr,omitempty"`
	Message   string   `xml:"message,attr,omitempty"`
	Members   []member `xml:",any"`
}

type member struct {
	XMLName xml.Name
	Name    string `xml:"name,attr"`
	Label   string `xml:"label,attr,omitempty"`
	Format  string `xml:"format,attr,omitempty"`
	Min     string `xml:"min,attr,omitempty"`
	Max     string `xml:"max,attr,omitempty"`
	Step    string `xml:"step,attr,omitempty"`
	Size    string `xml:"size,attr,omitempty"`
	Enclen  string `xml:"enclen,attr,omitempty"`
	Value   string `xml:",chardata"`
}

type message struct {
	XMLName   xml.Name `xml:"message"`
	Device    string   `xml:"device,attr,omitempty"`
	Timestamp string   `xml:"timestamp,attr,omitempty"`
	Message   string   `xml:"message,attr"`
}

type delProperty struct {
	XMLName   xml.Name `xml:"delProperty"`
	Device    string   `xml:"device,attr"`
	Name      string   `xml:"name,attr,omitempty"`
	Timestamp string   `xml:"timestamp,attr,omitempty"`
	Message   string   `xml:"message,attr,omitempty"`
}

type getProperties struct {
	XMLName xml.Name `xml:"getProperties"`
	Version string   `xml:"version,attr"`
	Device  string   `xml:"device,attr,omitempty"`
	Name    string   `xml:"name,attr,omitempty"`
}

type enableBLOB struct {
	XMLName xml.Name `xml:"enableBLOB"`
	Device  string   `xml:"device,attr"`
	Name    string   `xml:"name,attr,omitempty"`
	Mode    string   `xml:",chardata"`
}

// parseVectorTag splits e.g. "setNumberVector" into its kind and type.
func parseVectorTag(local string) (FrameKind, PropertyType, bool) {
	if !strings.HasSuffix(local, "Vector") || len(local) < len("defVector")+1 {
		return 0, 0, false
	}

	var kind FrameKind
	switch local[:3] {
	case "def":
		kind = FrameDefine
	case "set":
		kind = FrameSet
	case "new":
		kind = FrameNew
	default:
		return 0, 0, false
	}

	switch strings.TrimSuffix(local[3:], "Vector") {
	case "Number":
		return kind, Number, true
	case "Switch":
		return kind, Switch, true
	case "Text":
		return kind, Text, true
	case "Light":
		return kind, Light, true
	case "BLOB":
		return kind, BLOB, true
	}
	return 0, 0, false
}

// ParseNumber parses an INDI number. Besides plain decimals INDI allows
// sexagesimal values such as "-12:30:36" or "12 30".
func ParseNumber(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return v, nil
	}

	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ':' || r == ' ' })
	if len(fields) < 2 || len(fields) > 3 {
		return 0, fmt.Errorf("invalid number: %q", s)
	}

	neg := strings.HasPrefix(fields[0], "-")
	var v float64
	scale := 1.0
	for _, f := range fields {
		part, err := strconv.ParseFloat(strings.TrimPrefix(f, "-"), 64)
		if err != nil {
			return 0, fmt.Errorf("invalid number: %q", s)
		}
		v += part / scale
		scale *= 60
	}
	if neg {
		v = -v
	}
	return v, nil
}

func formatNumber(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "0"
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func (v *vector) toProperty(typ PropertyType, kind FrameKind) (*Property, error) {
	p := Property{
		Device:   v.Device,
		Name:     v.Name,
		Label:    v.Label,
		Group:    v.Group,
		Type:     typ,
		State:    State(v.State),
		Perm:     v.Perm,
		Elements: make([]Element, 0, len(v.Members)),
	}

	for _, m := range v.Members {
		e := Element{Name: m.Name, Label: m.Label}
		switch typ {
		case Number:
			n, err := ParseNumber(m.Value)
			if err != nil {
				return nil, fmt.Errorf("%w: %s.%s.%s: %v", ErrMalformed, v.Device, v.Name, m.Name, err)
			}
			e.Number = n
		case Switch:
			e.Switch = strings.TrimSpace(m.Value) == "On"
		case Text:
			e.Text = m.Value
		case Light:
			e.Light = State(strings.TrimSpace(m.Value))
		case BLOB:
			e.Format = m.Format
			if m.Size != "" {
				size, err := strconv.Atoi(m.Size)
				if err != nil {
					return nil, fmt.Errorf("%w: %s.%s.%s: invalid size %q", ErrMalformed, v.Device, v.Name, m.Name, m.Size)
				}
				e.Size = size
			}
			if kind != FrameDefine {
				data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(m.Value))
				if err != nil {
					return nil, fmt.Errorf("%w: %s.%s.%s: %v", ErrMalformed, v.Device, v.Name, m.Name, err)
				}
				e.Blob = data
				if m.Size == "" {
					e.Size = len(data)
				}
			}
		}
		p.Elements = append(p.Elements, e)
	}
	return &p, nil
}

func fromProperty(kind FrameKind, p *Property, ts time.Time) vector {
	v := vector{
		XMLName: xml.Name{Local: verbs[kind] + p.Type.String() + "Vector"},
		Device:  p.Device,
		Name:    p.Name,
		State:   string(p.State),
	}
	if !ts.IsZero() {
		v.Timestamp = ts.UTC().Format(timestampLayout)
	}
	if kind == FrameDefine {
		v.Label = p.Label
		v.Group = p.Group
		v.Perm = p.Perm
		if p.Type == Switch {
			v.Rule = "OneOfMany"
		}
	}

	prefix := "one"
	if kind == FrameDefine {
		prefix = "def"
	}
	for _, e := range p.Elements {
		m := member{XMLName: xml.Name{Local: prefix + p.Type.String()}, Name: e.Name}
		if kind == FrameDefine {
			m.Label = e.Label
		}
		switch p.Type {
		case Number:
			m.Value = formatNumber(e.Number)
			if kind == FrameDefine {
				m.Format = "%g"
			}
		case Switch:
			m.Value = "Off"
			if e.Switch {
				m.Value = "On"
			}
		case Text:
			m.Value = e.Text
		case Light:
			m.Value = string(e.Light)
		case BLOB:
			if kind != FrameDefine {
				m.Format = e.Format
				m.Size = strconv.Itoa(len(e.Blob))
				m.Value = base64.StdEncoding.EncodeToString(e.Blob)
				m.Enclen = strconv.Itoa(len(m.Value))
			}
		}
		v.Members = append(v.Members, m)
	}
	return v
}

// Decoder reads INDI messages from a stream of concatenated XML elements.
type Decoder struct {
	dec *xml.Decoder
}

func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{dec: xml.NewDecoder(r)}
}

// Decode returns the next INDI message. Unknown elements are skipped. An
// error wrapping ErrMalformed leaves the decoder positioned after the bad
// element; any other error is fatal for the stream.
func (d *Decoder) Decode() (*Frame, error) {
	for {
		tok, err := d.dec.Token()
		if err != nil {
			return nil, err
		}

		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}

		frame, err := d.decodeElement(start)
		if err != nil {
			return nil, err
		}
		if frame != nil {
			return frame, nil
		}
	}
}

func (d *Decoder) decodeElement(start xml.StartElement) (*Frame, error) {
	switch start.Name.Local {
	case "message":
		var m message
		if err := d.dec.DecodeElement(&m, &start); err != nil {
			return nil, err
		}
		return &Frame{Kind: FrameMessage, Device: m.Device, Message: m.Message, Timestamp: parseTimestamp(m.Timestamp)}, nil

	case "delProperty":
		var m delProperty
		if err := d.dec.DecodeElement(&m, &start); err != nil {
			return nil, err
		}
		return &Frame{Kind: FrameDelete, Device: m.Device, Name: m.Name, Message: m.Message, Timestamp: parseTimestamp(m.Timestamp)}, nil

	case "getProperties":
		var m getProperties
		if err := d.dec.DecodeElement(&m, &start); err != nil {
			return nil, err
		}
		return &Frame{Kind: FrameGetProperties, Device: m.Device, Name: m.Name, Version: m.Version}, nil

	case "enableBLOB":
		var m enableBLOB
		if err := d.dec.DecodeElement(&m, &start); err != nil {
			return nil, err
		}
		return &Frame{Kind: FrameEnableBLOB, Device: m.Device, Name: m.Name, BLOBMode: strings.TrimSpace(m.Mode)}, nil
	}

	kind, typ, ok := parseVectorTag(start.Name.Local)
	if !ok {
		return nil, d.dec.Skip()
	}

	var v vector
	if err := d.dec.DecodeElement(&v, &start); err != nil {
		return nil, err
	}
	p, err := v.toProperty(typ, kind)
	if err != nil {
		return nil, err
	}
	return &Frame{
		Kind:      kind,
		Property:  p,
		Device:    p.Device,
		Name:      p.Name,
		Message:   v.Message,
		Timestamp: parseTimestamp(v.Timestamp),
	}, nil
}

func parseTimestamp(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	// Fractional seconds are optional.
	if i := strings.IndexByte(s, '.'); i > 0 {
		s = s[:i]
	}
	t, err := time.Parse(timestampLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Encoder writes INDI messages. It is safe for concurrent use.
type Encoder struct {
	mu sync.Mutex
	w  io.Writer
}

func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Encode writes a single message followed by a newline.
func (e *Encoder) Encode(f *Frame) error {
	var v any
	switch f.Kind {
	case FrameDefine, FrameSet, FrameNew:
		if f.Property == nil {
			return fmt.Errorf("%w: vector without property", ErrMalformed)
		}
		vec := fromProperty(f.Kind, f.Property, f.Timestamp)
		vec.Message = f.Message
		v = vec
	case FrameMessage:
		m := message{Device: f.Device, Message: f.Message}
		if !f.Timestamp.IsZero() {
			m.Timestamp = f.Timestamp.UTC().Format(timestampLayout)
		}
		v = m
	case FrameDelete:
		v = delProperty{Device: f.Device, Name: f.Name, Message: f.Message}
	case FrameGetProperties:
		version := f.Version
		if version == "" {
			version = ProtocolVersion
		}
		v = getProperties{Version: version, Device: f.Device, Name: f.Name}
	case FrameEnableBLOB:
		v = enableBLOB{Device: f.Device, Name: f.Name, Mode: f.BLOBMode}
	default:
		return fmt.Errorf("unknown frame kind: %d", f.Kind)
	}

	data, err := xml.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %v", err)
	}
	data = append(data, '\n')

	e.mu.Lock()
	defer e.mu.Unlock()
	_, err = e.w.Write(data)
	return err
}
