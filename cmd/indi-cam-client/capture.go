package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	cli "github.com/urfave/cli/v2"

	"indicam/pkg/capture"
	"indicam/pkg/history"
	"indicam/pkg/indi"
	"indicam/pkg/notify"
	"indicam/pkg/profile"
	"indicam/pkg/trace"
)

// applyProfile loads the profile named by --profile and uses its values
// for every flag not set on the command line.
func applyProfile(c *cli.Context) (*profile.Profile, error) {
	path := c.String("profile")
	if path == "" {
		return &profile.Profile{}, nil
	}

	p, err := profile.Load(path)
	if err != nil {
		return nil, err
	}
	for name, value := range p.Values() {
		if c.IsSet(name) {
			continue
		}
		if err := c.Set(name, value); err != nil {
			return nil, fmt.Errorf("invalid %s in profile: %v", name, err)
		}
	}
	return p, nil
}

// parseControls parses PROPERTY=VALUE pairs.
func parseControls(values []string) ([]capture.Setting, error) {
	var settings []capture.Setting
	for _, v := range values {
		name, value, ok := strings.Cut(v, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid control %q, expected PROPERTY=VALUE", v)
		}
		n, err := indi.ParseNumber(value)
		if err != nil {
			return nil, fmt.Errorf("invalid value for control %s: %v", name, err)
		}
		settings = append(settings, capture.Setting{Property: name, Value: n})
	}
	return settings, nil
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}

// mergeSetting replaces the setting for s.Property, or appends s if there
// is none.
func mergeSetting(settings []capture.Setting, s capture.Setting) []capture.Setting {
	for i := range settings {
		if settings[i].Property == s.Property {
			settings[i] = s
			return settings
		}
	}
	return append(settings, s)
}

func captureConfig(c *cli.Context, p *profile.Profile) (capture.Config, error) {
	controlled := []capture.Setting{
		{Property: capture.PropReadMode, Value: c.Float64("mode")},
		{Property: capture.PropGain, Value: c.Float64("gain")},
		{Property: capture.PropOffset, Value: c.Float64("offset")},
	}
	for _, name := range p.ControlNames() {
		controlled = mergeSetting(controlled, capture.Setting{Property: name, Value: p.Controls[name]})
	}
	extra, err := parseControls(c.StringSlice("control"))
	if err != nil {
		return capture.Config{}, err
	}
	for _, s := range extra {
		controlled = mergeSetting(controlled, s)
	}

	cfg := capture.Config{
		Targets: capture.Targets{
			Device:     c.String("device"),
			Controlled: controlled,
			Trigger:    capture.Setting{Property: capture.PropExposure, Value: c.Float64("exposure")},
			Payload:    c.String("blob"),
		},
		Output:        c.String("output"),
		Timeout:       seconds(c.Float64("timeout")),
		ResultTimeout: seconds(c.Float64("result-timeout")),
	}
	return cfg, cfg.Validate()
}

func runCapture(c *cli.Context) error {
	p, err := applyProfile(c)
	if err != nil {
		return err
	}
	cfg, err := captureConfig(c, p)
	if err != nil {
		return err
	}

	runID := uuid.NewString()
	logger := log.WithField("run", runID[:8])

	client := indi.NewClient(c.String("server"), c.Int("port"), logger)
	defer client.Close()

	ctrl := capture.NewController(cfg, client, logger)
	client.SetHandler(ctrl)

	if path := c.String("trace"); path != "" {
		tracer, err := trace.NewFileLogger(path)
		if err != nil {
			return err
		}
		defer tracer.Close()
		ctrl.SetTracer(tracer, runID)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Infof("Capturing %gs from %s on %s", cfg.Trigger.Value, cfg.Device, client.Addr())
	record := history.Record{
		RunID:    runID,
		Server:   client.Addr(),
		Device:   cfg.Device,
		Start:    time.Now(),
		Settings: make(map[string]float64),
		Exposure: cfg.Trigger.Value,
		Output:   cfg.Output,
	}
	for _, s := range cfg.Controlled {
		record.Settings[s.Property] = s.Value
	}

	res, runErr := ctrl.Run(ctx)
	record.End = time.Now()
	if runErr != nil {
		record.Status = history.StatusFailed
		record.Error = runErr.Error()
	} else {
		record.Status = history.StatusOK
		record.Size = res.Size
		record.Format = res.Format
		record.Digest = res.DigestHex()
	}

	saveRecord(c.String("db"), record, logger)
	publishRecord(c, record, logger)

	if runErr != nil {
		return runErr
	}
	logger.Infof("Saved %s (%d bytes, %s)", res.Path, res.Size, res.Format)
	return nil
}

// saveRecord adds the record to the history database. Failures are logged
// and do not affect the capture result.
func saveRecord(path string, r history.Record, logger log.FieldLogger) {
	if path == "" {
		return
	}
	store, err := history.Open(path)
	if err != nil {
		logger.Warnf("Capture history not saved: %v", err)
		return
	}
	defer store.Close()

	id, err := store.Add(r)
	if err != nil {
		logger.Warnf("Capture history not saved: %v", err)
		return
	}
	logger.Debugf("Saved capture #%d to %s", id, path)
}

func publishRecord(c *cli.Context, r history.Record, logger log.FieldLogger) {
	broker := c.String("mqtt-broker")
	if broker == "" {
		return
	}
	pub, err := notify.Connect(notify.Config{
		Broker:    broker,
		Username:  c.String("mqtt-username"),
		Password:  c.String("mqtt-password"),
		TopicRoot: c.String("mqtt-topic-root"),
		ClientID:  "indicam-" + strconv.Itoa(os.Getpid()),
	}, logger)
	if err != nil {
		logger.Warnf("Capture result not published: %v", err)
		return
	}
	defer pub.Close()

	if err := pub.Publish(r); err != nil {
		logger.Warnf("Capture result not published: %v", err)
	}
}
