package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	cli "github.com/urfave/cli/v2"

	"indicam/pkg/drivers/ccd_simulator"
	"indicam/pkg/history"
	"indicam/pkg/trace"
	"indicam/templates"
)

func simulateCommand() *cli.Command {
	return &cli.Command{
		Name:  "simulate",
		Usage: "Run a simulated INDI camera",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "listen",
				Aliases: []string{"l"},
				Usage:   "Address to listen on",
				Value:   ":7624",
				EnvVars: []string{"SIMULATOR_LISTEN"},
			},
			&cli.StringFlag{
				Name:  "device",
				Usage: "Simulated device name",
				Value: defaultDevice,
			},
			&cli.Float64Flag{
				Name:  "settle-delay",
				Usage: "Seconds the camera takes to confirm a new setting",
				Value: 0.2,
			},
			&cli.StringSliceFlag{
				Name:  "frozen",
				Usage: "Properties that never confirm new values",
			},
		},
		Action: func(c *cli.Context) error {
			cfg := ccd_simulator.DefaultConfig()
			cfg.Device = c.String("device")
			cfg.Frozen = c.StringSlice("frozen")

			srv := ccd_simulator.NewServer(ccd_simulator.NewCamera(cfg), log.WithField("device", cfg.Device))
			srv.SettleDelay = seconds(c.Float64("settle-delay"))

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := srv.ListenAndServe(ctx, c.String("listen")); err != nil {
				return err
			}
			log.Info("Simulator stopped")
			return nil
		},
	}
}

func historyCommand() *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "List recent captures",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "db",
				Usage:   "Capture history database",
				Value:   "indicam.db",
				EnvVars: []string{"INDICAM_DB"},
			},
			&cli.IntFlag{
				Name:    "n",
				Aliases: []string{"limit"},
				Usage:   "Number of captures to list, 0 for all",
				Value:   10,
			},
		},
		Action: func(c *cli.Context) error {
			if _, err := os.Stat(c.String("db")); err != nil {
				return fmt.Errorf("no capture history: %v", err)
			}

			store, err := history.Open(c.String("db"))
			if err != nil {
				return err
			}
			defer store.Close()

			records, err := store.List(c.Int("n"))
			if err != nil {
				return fmt.Errorf("failed to read capture history: %v", err)
			}
			return render(c.App.Writer, "history.tmpl", records)
		},
	}
}

func traceCommand() *cli.Command {
	return &cli.Command{
		Name:      "trace",
		Usage:     "Print a protocol trace file",
		ArgsUsage: "FILE",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "run",
				Usage: "Only show events of this run ID",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return errors.New("trace file required")
			}

			r, err := trace.NewReader(c.Args().First(), c.String("run"))
			if err != nil {
				return err
			}
			defer r.Close()

			var events []trace.Event
			for {
				ev, err := r.Next()
				if errors.Is(err, io.EOF) {
					break
				}
				if err != nil {
					return fmt.Errorf("failed to read trace: %v", err)
				}
				events = append(events, ev)
			}
			return render(c.App.Writer, "trace.tmpl", events)
		},
	}
}

func render(w io.Writer, name string, data any) error {
	tmpl, err := templates.LoadTemplates()
	if err != nil {
		return fmt.Errorf("failed to load templates: %v", err)
	}
	if err := tmpl.ExecuteTemplate(w, name, data); err != nil {
		return fmt.Errorf("failed to render %s: %v", name, err)
	}
	return nil
}
