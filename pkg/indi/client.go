package indi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"

	log "github.com/sirupsen/logrus"
)

// DefaultPort is the standard INDI server port.
const DefaultPort = 7624

var (
	ErrNotConnected     = errors.New("not connected to INDI server")
	ErrAlreadyConnected = errors.New("already connected to INDI server")
)

// Client is a minimal INDI client: it keeps one TCP connection to an INDI
// server, forwards property definitions and updates to a Handler and sends
// new values back to devices.
type Client struct {
	addr   string
	logger log.Ext1FieldLogger

	mu      sync.RWMutex
	handler Handler
	conn    net.Conn
	enc     *Encoder
	closing bool

	done     chan struct{}
	doneOnce sync.Once
	err      error
}

func NewClient(host string, port int, logger log.Ext1FieldLogger) *Client {
	return &Client{
		addr:   net.JoinHostPort(host, strconv.Itoa(port)),
		logger: logger.WithField("component", "indi"),
		done:   make(chan struct{}),
	}
}

// SetHandler sets the receiver of property events. It must be called
// before Connect.
func (c *Client) SetHandler(h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = h
}

func (c *Client) Addr() string {
	return c.addr
}

// Connect dials the server, asks for all properties and starts the read
// loop. There is a single attempt.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return ErrAlreadyConnected
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return fmt.Errorf("failed to connect to INDI server %s: %v", c.addr, err)
	}

	enc := NewEncoder(conn)
	if err := enc.Encode(&Frame{Kind: FrameGetProperties, Version: ProtocolVersion}); err != nil {
		conn.Close()
		return fmt.Errorf("failed to send getProperties: %v", err)
	}

	c.conn = conn
	c.enc = enc
	c.logger.Debugf("Connected to INDI server %s", c.addr)

	go c.readLoop(conn)
	return nil
}

// Close closes the connection. Done is closed once the read loop exits.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.closing = true
	c.mu.Unlock()

	if conn == nil {
		c.finish(nil)
		return nil
	}
	return conn.Close()
}

// Done is closed when the connection is lost or closed.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns the reason the connection ended, or nil after Close.
func (c *Client) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

func (c *Client) finish(err error) {
	c.doneOnce.Do(func() {
		c.err = err
		close(c.done)
	})
}

func (c *Client) readLoop(conn net.Conn) {
	dec := NewDecoder(conn)
	for {
		frame, err := dec.Decode()
		if err != nil {
			if errors.Is(err, ErrMalformed) {
				c.logger.Warnf("Ignoring message: %v", err)
				continue
			}

			c.mu.RLock()
			closing := c.closing
			c.mu.RUnlock()
			if closing {
				err = nil
			} else {
				err = fmt.Errorf("connection to %s lost: %v", c.addr, err)
				c.logger.Debug(err)
			}
			c.finish(err)
			return
		}
		c.dispatch(frame)
	}
}

func (c *Client) dispatch(f *Frame) {
	c.mu.RLock()
	h := c.handler
	c.mu.RUnlock()

	switch f.Kind {
	case FrameDefine:
		c.logger.Tracef("def %s (%s)", f.Property, f.Property.Type)
		if h != nil {
			h.PropertyDefined(f.Property)
		}
	case FrameSet:
		c.logger.Tracef("set %s state=%s", f.Property, f.Property.State)
		if h != nil {
			h.PropertyUpdated(f.Property)
		}
	case FrameMessage:
		if f.Device != "" {
			c.logger.Infof("%s: %s", f.Device, f.Message)
		} else {
			c.logger.Info(f.Message)
		}
	case FrameDelete:
		c.logger.Debugf("Property deleted: %s.%s", f.Device, f.Name)
	default:
		c.logger.Debugf("Ignoring unexpected message kind %d from server", f.Kind)
	}
}

func (c *Client) send(f *Frame) error {
	c.mu.RLock()
	enc := c.enc
	c.mu.RUnlock()

	if enc == nil {
		return ErrNotConnected
	}
	select {
	case <-c.done:
		return ErrNotConnected
	default:
	}
	return enc.Encode(f)
}

// EnableBLOB asks the server to deliver BLOBs of the given property along
// with regular messages.
func (c *Client) EnableBLOB(device, property string) error {
	return c.send(&Frame{Kind: FrameEnableBLOB, Device: device, Name: property, BLOBMode: BLOBAlso})
}

// Send sends new element values for a property. Only the elements present
// in p are changed on the device.
func (c *Client) Send(p *Property) error {
	return c.send(&Frame{Kind: FrameNew, Property: p})
}

// SendNumber sets a single element of a number property.
func (c *Client) SendNumber(device, property, element string, value float64) error {
	return c.Send(&Property{
		Device:   device,
		Name:     property,
		Type:     Number,
		Elements: []Element{{Name: element, Number: value}},
	})
}
