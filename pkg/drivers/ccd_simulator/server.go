package ccd_simulator

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"

	"indicam/pkg/indi"
)

const countdownStep = time.Second

type session struct {
	conn     net.Conn
	enc      *indi.Encoder
	mu       sync.Mutex
	blobMode string
}

func (s *session) mode() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blobMode
}

func (s *session) setMode(mode string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobMode = mode
}

// Server serves a simulated camera over the INDI protocol.
type Server struct {
	camera *Camera
	clock  clockwork.Clock
	logger log.FieldLogger

	// SettleDelay is the time the camera takes to report a new setting.
	SettleDelay time.Duration

	mu       sync.Mutex
	sessions map[*session]struct{}
	exposing bool
	wg       sync.WaitGroup
}

func NewServer(camera *Camera, logger log.FieldLogger) *Server {
	return &Server{
		camera:   camera,
		clock:    clockwork.NewRealClock(),
		logger:   logger.WithField("component", "ccd_simulator"),
		sessions: make(map[*session]struct{}),
	}
}

func (s *Server) SetClock(clock clockwork.Clock) {
	s.clock = clock
}

// ListenAndServe listens on addr and serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %v", addr, err)
	}
	return s.Serve(ctx, l)
}

// Serve accepts clients on l until ctx is done. The listener and all
// client connections are closed on return.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	s.logger.Infof("%s listening on %s", s.camera.Device(), l.Addr())

	go func() {
		<-ctx.Done()
		l.Close()
		s.mu.Lock()
		for sess := range s.sessions {
			sess.conn.Close()
		}
		s.mu.Unlock()
	}()

	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				s.wg.Wait()
				return nil
			}
			return fmt.Errorf("failed to accept connection: %v", err)
		}

		sess := &session{conn: conn, enc: indi.NewEncoder(conn), blobMode: indi.BLOBNever}
		s.mu.Lock()
		s.sessions[sess] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(ctx, sess)
		}()
	}
}

func (s *Server) handle(ctx context.Context, sess *session) {
	logger := s.logger.WithField("client", sess.conn.RemoteAddr().String())
	logger.Debug("Client connected")

	defer func() {
		s.mu.Lock()
		delete(s.sessions, sess)
		s.mu.Unlock()
		sess.conn.Close()
		logger.Debug("Client disconnected")
	}()

	dec := indi.NewDecoder(sess.conn)
	for {
		f, err := dec.Decode()
		if err != nil {
			if errors.Is(err, indi.ErrMalformed) {
				logger.Warnf("Ignoring message: %v", err)
				continue
			}
			return
		}

		switch f.Kind {
		case indi.FrameGetProperties:
			s.define(sess, f)
		case indi.FrameEnableBLOB:
			if f.Device == "" || f.Device == s.camera.Device() {
				logger.Debugf("BLOB mode %s", f.BLOBMode)
				sess.setMode(f.BLOBMode)
			}
		case indi.FrameNew:
			s.apply(ctx, sess, f.Property)
		default:
			logger.Debugf("Ignoring message kind %d", f.Kind)
		}
	}
}

func (s *Server) send(sess *session, f *indi.Frame) {
	if err := sess.enc.Encode(f); err != nil {
		s.logger.Debugf("Failed to send to %s: %v", sess.conn.RemoteAddr(), err)
		sess.conn.Close()
	}
}

// broadcast sends f to every client, honoring each client's BLOB mode.
func (s *Server) broadcast(f *indi.Frame) {
	blob := f.Property != nil && f.Property.Type == indi.BLOB

	s.mu.Lock()
	sessions := make([]*session, 0, len(s.sessions))
	for sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	for _, sess := range sessions {
		mode := sess.mode()
		if blob && mode == indi.BLOBNever {
			continue
		}
		if !blob && mode == indi.BLOBOnly {
			continue
		}
		s.send(sess, f)
	}
}

func (s *Server) define(sess *session, f *indi.Frame) {
	if f.Device != "" && f.Device != s.camera.Device() {
		return
	}
	s.send(sess, &indi.Frame{
		Kind:      indi.FrameMessage,
		Device:    s.camera.Device(),
		Message:   "Simulated camera ready",
		Timestamp: s.clock.Now(),
	})
	for _, p := range s.camera.Definitions() {
		if f.Name != "" && f.Name != p.Name {
			continue
		}
		s.send(sess, &indi.Frame{Kind: indi.FrameDefine, Property: p, Timestamp: s.clock.Now()})
	}
}

func (s *Server) reject(sess *session, err error) {
	s.logger.Warn(err)
	s.send(sess, &indi.Frame{Kind: indi.FrameMessage, Device: s.camera.Device(), Message: err.Error(), Timestamp: s.clock.Now()})
}

func (s *Server) apply(ctx context.Context, sess *session, p *indi.Property) {
	if p.Device == s.camera.Device() && p.Name == "CCD_EXPOSURE" {
		e, ok := p.Primary()
		if !ok || e.Number < 0 {
			s.reject(sess, fmt.Errorf("invalid exposure for %s", p))
			return
		}
		if err := s.startExposure(ctx, e.Number); err != nil {
			s.reject(sess, err)
		}
		return
	}

	updated, err := s.camera.Apply(p)
	if err != nil {
		s.reject(sess, err)
		return
	}
	if updated == nil {
		s.logger.Debugf("Property %s is frozen", p)
		return
	}
	s.logger.Debugf("Applied %s", p)

	frame := &indi.Frame{Kind: indi.FrameSet, Property: updated}
	if s.SettleDelay <= 0 {
		frame.Timestamp = s.clock.Now()
		s.broadcast(frame)
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		select {
		case <-s.clock.After(s.SettleDelay):
			frame.Timestamp = s.clock.Now()
			s.broadcast(frame)
		case <-ctx.Done():
		}
	}()
}

func (s *Server) startExposure(ctx context.Context, seconds float64) error {
	s.mu.Lock()
	if s.exposing {
		s.mu.Unlock()
		return errors.New("exposure already in progress")
	}
	s.exposing = true
	s.mu.Unlock()

	s.logger.Infof("Starting %gs exposure", seconds)
	start := s.clock.Now()
	s.broadcast(&indi.Frame{Kind: indi.FrameSet, Property: s.camera.setExposure(seconds, indi.StateBusy), Timestamp: start})

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			s.exposing = false
			s.mu.Unlock()
		}()

		remaining := time.Duration(seconds * float64(time.Second))
		for remaining > 0 {
			step := min(remaining, countdownStep)
			select {
			case <-s.clock.After(step):
			case <-ctx.Done():
				return
			}
			remaining -= step
			if remaining > 0 {
				s.broadcast(&indi.Frame{
					Kind:      indi.FrameSet,
					Property:  s.camera.setExposure(remaining.Seconds(), indi.StateBusy),
					Timestamp: s.clock.Now(),
				})
			}
		}

		s.broadcast(&indi.Frame{Kind: indi.FrameSet, Property: s.camera.setExposure(0, indi.StateOk), Timestamp: s.clock.Now()})
		s.broadcast(&indi.Frame{Kind: indi.FrameSet, Property: s.image(seconds, start), Timestamp: s.clock.Now()})
		s.logger.Infof("Exposure done")
	}()
	return nil
}

func (s *Server) image(seconds float64, start time.Time) *indi.Property {
	gain, offset, temperature := s.camera.settings()
	data := makeFITS(frameInfo{
		Width:       s.camera.config.Width,
		Height:      s.camera.config.Height,
		Exposure:    seconds,
		Gain:        gain,
		Offset:      offset,
		Temperature: temperature,
		Date:        start,
	})

	return &indi.Property{
		Device: s.camera.Device(),
		Name:   "CCD1",
		Type:   indi.BLOB,
		State:  indi.StateOk,
		Elements: []indi.Element{{
			Name:   "CCD1",
			Blob:   data,
			Format: ".fits",
			Size:   len(data),
		}},
	}
}
