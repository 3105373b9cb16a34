package capture

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"

	"indicam/pkg/indi"
	"indicam/pkg/trace"
)

// Adapter is the protocol client used by the Controller. Property events
// flow the other way, through the indi.Handler methods of the Controller.
type Adapter interface {
	Connect(ctx context.Context) error
	EnableBLOB(device, property string) error
	SendNumber(device, property, element string, value float64) error

	// Done is closed when the connection is lost.
	Done() <-chan struct{}
	Err() error
}

// Controller drives a single capture: it pushes the controlled settings to
// the device, waits until the device confirms them, triggers the exposure
// once and hands the resulting BLOB to a Consumer.
type Controller struct {
	cfg      Config
	adapter  Adapter
	store    *Store
	ready    Predicate
	consumer *Consumer
	clock    clockwork.Clock
	logger   log.Ext1FieldLogger
	tracer   trace.Logger
	runID    string

	mu    sync.Mutex
	state State

	wake      chan struct{}
	triggered atomic.Bool
}

var _ indi.Handler = (*Controller)(nil)

func NewController(cfg Config, adapter Adapter, logger log.Ext1FieldLogger) *Controller {
	logger = logger.WithField("device", cfg.Device)
	return &Controller{
		cfg:      cfg,
		adapter:  adapter,
		store:    NewStore(),
		ready:    Ready,
		consumer: NewConsumer(cfg.Device, cfg.Payload, cfg.Output, logger),
		clock:    clockwork.NewRealClock(),
		logger:   logger.WithField("component", "controller"),
		tracer:   trace.NoopLogger{},
		state:    StateConnecting,
		wake:     make(chan struct{}, 1),
	}
}

// SetClock replaces the clock used for polling and timeouts.
func (c *Controller) SetClock(clock clockwork.Clock) {
	c.clock = clock
}

// SetPredicate replaces the readiness check.
func (c *Controller) SetPredicate(p Predicate) {
	c.ready = p
}

// SetTracer records every property event, command and state change of the
// run under runID.
func (c *Controller) SetTracer(tracer trace.Logger, runID string) {
	c.tracer = tracer
	c.runID = runID
}

func (c *Controller) Store() *Store {
	return c.store
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	if c.state == s || c.state.Terminal() {
		c.mu.Unlock()
		return
	}
	c.logger.Debugf("State %s -> %s", c.state, s)
	c.state = s
	c.mu.Unlock()

	ev := trace.StateEvent(s.String())
	c.stamp(&ev)
	c.tracer.Log(ev)
}

func (c *Controller) stamp(ev *trace.Event) {
	ev.Timestamp = c.clock.Now()
	ev.RunID = c.runID
}

func (c *Controller) traceProperty(dir trace.Direction, kind trace.Kind, p *indi.Property) {
	ev := trace.PropertyEvent(dir, kind, p)
	c.stamp(&ev)
	c.tracer.Log(ev)
}

func (c *Controller) send(property, element string, value float64) error {
	c.traceProperty(trace.DirectionOut, trace.KindCommand, &indi.Property{
		Device:   c.cfg.Device,
		Name:     property,
		Type:     indi.Number,
		Elements: []indi.Element{{Name: element, Number: value}},
	})
	return c.adapter.SendNumber(c.cfg.Device, property, element, value)
}

// PropertyDefined handles a property announced by the server. Controlled
// properties are set to their target right away; the value only counts
// once the device reports it back in an update.
func (c *Controller) PropertyDefined(p *indi.Property) {
	c.traceProperty(trace.DirectionIn, trace.KindDefined, p)

	if p.Device != c.cfg.Device {
		c.logger.Tracef("Ignoring device %s", p.Device)
		return
	}
	c.store.Upsert(p, false)

	if target, ok := c.cfg.Setting(p.Name); ok {
		e, ok := p.Primary()
		if !ok {
			c.logger.Warnf("Property %s has no elements", p)
		} else {
			c.logger.Debugf("Setting %s.%s to %g", p.Name, e.Name, target.Value)
			if err := c.send(p.Name, e.Name, target.Value); err != nil {
				c.logger.Errorf("Failed to set %s: %v", p.Name, err)
			}
		}
	} else if p.Name == c.cfg.Trigger.Property {
		c.logger.Debugf("Found %s", p)
	}

	c.evaluate()
}

// PropertyUpdated handles a new value reported by the server. Payload
// BLOBs are passed to the Consumer once the capture has been triggered.
func (c *Controller) PropertyUpdated(p *indi.Property) {
	c.traceProperty(trace.DirectionIn, trace.KindUpdated, p)

	if p.Device != c.cfg.Device {
		c.logger.Tracef("Ignoring device %s", p.Device)
		return
	}

	if p.Type == indi.BLOB {
		if !c.triggered.Load() {
			c.logger.Debugf("Ignoring BLOB %s received before the capture was triggered", p)
			return
		}
		c.consumer.HandleUpdate(p)
		return
	}

	c.store.Upsert(p, true)

	if p.Name == c.cfg.Trigger.Property {
		if e, ok := p.Primary(); ok {
			c.logger.Debugf("%s = %7.3f", p.Name, e.Number)
		}
	} else if _, ok := c.cfg.Setting(p.Name); ok {
		if e, ok := p.Primary(); ok {
			c.logger.Debugf("%s = %g (%s)", p.Name, e.Number, p.State)
		}
	}

	c.evaluate()
}

// evaluate wakes WaitReady when the predicate holds.
func (c *Controller) evaluate() {
	if c.triggered.Load() {
		return
	}
	if c.ready(c.store, c.cfg.Targets) {
		select {
		case c.wake <- struct{}{}:
		default:
		}
	}
}

// WaitReady blocks until the predicate holds. Readiness is checked every
// PollInterval and right after every event; once the timeout budget has
// elapsed the run fails with ErrReadinessTimeout.
func (c *Controller) WaitReady(ctx context.Context) error {
	ticks := c.cfg.timeoutTicks()

	timer := c.clock.NewTimer(PollInterval)
	defer timer.Stop()

	for elapsed := 0; ; {
		if c.ready(c.store, c.cfg.Targets) {
			return nil
		}
		if elapsed >= ticks {
			return fmt.Errorf("%w after %v: %s", ErrReadinessTimeout, c.cfg.Timeout, Pending(c.store, c.cfg.Targets))
		}

		select {
		case <-timer.Chan():
			elapsed++
			timer.Reset(PollInterval)
		case <-c.wake:
		case <-c.adapter.Done():
			return fmt.Errorf("%w: %v", ErrConnection, c.adapter.Err())
		case <-ctx.Done():
			return context.Cause(ctx)
		}
	}
}

// Trigger sends the capture value to the trigger property. It does so at
// most once per Controller; later calls return false.
func (c *Controller) Trigger() (bool, error) {
	if !c.triggered.CompareAndSwap(false, true) {
		return false, nil
	}
	c.setState(StateCapturing)

	entry, ok := c.store.Get(c.cfg.Device, c.cfg.Trigger.Property)
	if !ok {
		return true, fmt.Errorf("property %s not defined", c.cfg.Trigger.Property)
	}
	e, ok := entry.Property.Primary()
	if !ok {
		return true, fmt.Errorf("property %s has no elements", c.cfg.Trigger.Property)
	}

	c.logger.Debugf("Setting %s to %f", c.cfg.Trigger.Property, c.cfg.Trigger.Value)
	if err := c.send(c.cfg.Trigger.Property, e.Name, c.cfg.Trigger.Value); err != nil {
		return true, fmt.Errorf("%w: failed to send %s: %v", ErrConnection, c.cfg.Trigger.Property, err)
	}

	c.setState(StateWaitingForResult)
	return true, nil
}

func (c *Controller) waitResult(ctx context.Context) (*Result, error) {
	var expired <-chan time.Time
	if timeout := c.cfg.resultTimeout(); timeout > 0 {
		timer := c.clock.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.Chan()
	}

	select {
	case <-c.consumer.Done():
		return c.consumer.Result()
	case <-expired:
		return nil, fmt.Errorf("%w: no %s received after %v", ErrResultTimeout, c.cfg.Payload, c.cfg.resultTimeout())
	case <-c.adapter.Done():
		return nil, fmt.Errorf("%w: %v", ErrConnection, c.adapter.Err())
	case <-ctx.Done():
		return nil, context.Cause(ctx)
	}
}

// Run performs the whole capture: connect, negotiate, trigger, wait for
// the payload. The first error ends the run.
func (c *Controller) Run(ctx context.Context) (*Result, error) {
	res, err := c.run(ctx)
	if err != nil {
		c.setState(StateFailed)
		return nil, err
	}
	c.setState(StateDone)
	return res, nil
}

func (c *Controller) run(ctx context.Context) (*Result, error) {
	if err := c.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %v", err)
	}

	c.setState(StateConnecting)
	if err := c.adapter.Connect(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnection, err)
	}
	if err := c.adapter.EnableBLOB(c.cfg.Device, c.cfg.Payload); err != nil {
		return nil, fmt.Errorf("%w: failed to enable BLOB %s: %v", ErrConnection, c.cfg.Payload, err)
	}
	c.setState(StateWaitingForProperties)

	if err := c.WaitReady(ctx); err != nil {
		return nil, err
	}
	if _, err := c.Trigger(); err != nil {
		return nil, err
	}
	return c.waitResult(ctx)
}
