package capture

import (
	"encoding/hex"
	"fmt"
	"os"
	"sync"

	log "github.com/sirupsen/logrus"
	"github.com/zeebo/blake3"

	"indicam/pkg/indi"
)

// Result describes a written payload. The payload bytes themselves are
// not kept.
type Result struct {
	Device   string
	Property string
	Element  string
	Label    string
	Format   string
	Size     int
	Path     string
	Digest   [32]byte // BLAKE3 of the written bytes
}

func (r *Result) DigestHex() string {
	return hex.EncodeToString(r.Digest[:])
}

// Consumer writes the first payload of the watched BLOB property to a file.
type Consumer struct {
	device   string
	property string
	path     string
	logger   log.Ext1FieldLogger

	once   sync.Once
	done   chan struct{}
	result *Result
	err    error
}

func NewConsumer(device, property, path string, logger log.Ext1FieldLogger) *Consumer {
	return &Consumer{
		device:   device,
		property: property,
		path:     path,
		logger:   logger.WithField("component", "consumer"),
		done:     make(chan struct{}),
	}
}

// HandleUpdate consumes p if it is the watched payload property. Other
// properties are ignored. Only the first matching update is consumed.
func (c *Consumer) HandleUpdate(p *indi.Property) {
	if p.Type != indi.BLOB {
		return
	}
	if p.Device != c.device || p.Name != c.property {
		c.logger.Tracef("Ignoring BLOB from %s", p)
		return
	}

	c.once.Do(func() {
		c.result, c.err = c.consume(p)
		close(c.done)
	})
}

// Done is closed once a payload has been consumed, successfully or not.
func (c *Consumer) Done() <-chan struct{} {
	return c.done
}

// Result returns the outcome after Done is closed.
func (c *Consumer) Result() (*Result, error) {
	select {
	case <-c.done:
		return c.result, c.err
	default:
		return nil, fmt.Errorf("no payload received yet")
	}
}

func (c *Consumer) consume(p *indi.Property) (*Result, error) {
	e, ok := p.Primary()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrEmptyPayload, p)
	}

	c.logger.Debugf("Received camera image: Label=%s Name=%s Format=%s Size=%d", e.Label, e.Name, e.Format, len(e.Blob))
	c.logger.Debugf("Saving to %s", c.path)

	if err := writePayload(c.path, e.Blob); err != nil {
		return nil, err
	}

	return &Result{
		Device:   p.Device,
		Property: p.Name,
		Element:  e.Name,
		Label:    e.Label,
		Format:   e.Format,
		Size:     len(e.Blob),
		Path:     c.path,
		Digest:   blake3.Sum256(e.Blob),
	}, nil
}

// writePayload writes data verbatim, replacing any existing file.
func writePayload(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("%w: failed to open %s: %v", ErrDestination, path, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("%w: failed to write %s: %v", ErrDestination, path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: failed to close %s: %v", ErrDestination, path, err)
	}
	return nil
}
