package main

import (
	"os"

	log "github.com/sirupsen/logrus"
	cli "github.com/urfave/cli/v2"

	"indicam/pkg/capture"
	"indicam/pkg/indi"
)

const defaultDevice = "QHY CCD QHY268M-b93fd94"

func setupLogging(c *cli.Context) error {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	switch v := c.Int("v"); {
	case v >= 2:
		log.SetLevel(log.TraceLevel)
	case v == 1 || c.Bool("debug"):
		log.SetLevel(log.DebugLevel)
	default:
		log.SetLevel(log.InfoLevel)
	}
	return nil
}

func captureFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "profile",
			Usage:   "YAML file with capture settings, overridden by explicit flags",
			EnvVars: []string{"INDI_PROFILE"},
		},
		&cli.StringFlag{
			Name:    "server",
			Aliases: []string{"s"},
			Usage:   "INDI server host",
			Value:   "localhost",
			EnvVars: []string{"INDI_HOST"},
		},
		&cli.IntFlag{
			Name:    "port",
			Aliases: []string{"p"},
			Usage:   "INDI server port",
			Value:   indi.DefaultPort,
			EnvVars: []string{"INDI_PORT"},
		},
		&cli.StringFlag{
			Name:    "device",
			Usage:   "Camera device name",
			Value:   defaultDevice,
			EnvVars: []string{"INDI_DEVICE"},
		},
		&cli.StringFlag{
			Name:    "blob",
			Usage:   "BLOB property carrying the image",
			Value:   capture.PropPayload,
			EnvVars: []string{"INDI_BLOB"},
		},
		&cli.Float64Flag{
			Name:    "exposure",
			Aliases: []string{"e"},
			Usage:   "Exposure time in seconds",
			Value:   1.0,
			EnvVars: []string{"INDI_EXPOSURE"},
		},
		&cli.Float64Flag{
			Name:    "mode",
			Usage:   "Camera read mode",
			Value:   5,
			EnvVars: []string{"INDI_MODE"},
		},
		&cli.Float64Flag{
			Name:    "gain",
			Usage:   "Camera gain",
			Value:   56,
			EnvVars: []string{"INDI_GAIN"},
		},
		&cli.Float64Flag{
			Name:    "offset",
			Usage:   "Camera offset",
			Value:   20,
			EnvVars: []string{"INDI_OFFSET"},
		},
		&cli.StringSliceFlag{
			Name:  "control",
			Usage: "Extra number property to set before the capture, as PROPERTY=VALUE",
		},
		&cli.Float64Flag{
			Name:    "timeout",
			Aliases: []string{"t"},
			Usage:   "Seconds to wait for the camera settings to be confirmed",
			Value:   4,
			EnvVars: []string{"INDI_TIMEOUT"},
		},
		&cli.Float64Flag{
			Name:    "result-timeout",
			Usage:   "Seconds to wait for the image after the exposure starts, 0 for exposure + 60s, negative to wait forever",
			EnvVars: []string{"INDI_RESULT_TIMEOUT"},
		},
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "Output file",
			Value:   "image.fits",
			EnvVars: []string{"INDI_OUTPUT"},
		},
		&cli.StringFlag{
			Name:    "db",
			Usage:   "Capture history database, empty to disable",
			Value:   "indicam.db",
			EnvVars: []string{"INDICAM_DB"},
		},
		&cli.StringFlag{
			Name:    "trace",
			Usage:   "Append a protocol trace of the run to this file",
			EnvVars: []string{"INDICAM_TRACE"},
		},
		&cli.StringFlag{
			Name:    "mqtt-broker",
			Usage:   "MQTT broker to publish capture results to, e.g. tcp://localhost:1883",
			EnvVars: []string{"MQTT_BROKER"},
		},
		&cli.StringFlag{
			Name:    "mqtt-username",
			Usage:   "MQTT username",
			EnvVars: []string{"MQTT_USERNAME"},
		},
		&cli.StringFlag{
			Name:    "mqtt-password",
			Usage:   "MQTT password",
			EnvVars: []string{"MQTT_PASSWORD"},
		},
		&cli.StringFlag{
			Name:    "mqtt-topic-root",
			Usage:   "MQTT topic root",
			Value:   "indicam",
			EnvVars: []string{"MQTT_TOPIC_ROOT"},
		},
	}
}

func newApp() *cli.App {
	flags := []cli.Flag{
		&cli.IntFlag{
			Name:    "v",
			Usage:   "Verbosity: 0 info, 1 debug, 2 trace",
			Value:   0,
			EnvVars: []string{"INDICAM_VERBOSITY"},
		},
		&cli.BoolFlag{
			Name:    "debug",
			Aliases: []string{"d"},
			Usage:   "Enable debug logging",
			Value:   false,
			EnvVars: []string{"DEBUG"},
		},
	}

	return &cli.App{
		Name:   "indi-cam-client",
		Usage:  "Capture a single image from an INDI camera",
		Flags:  append(flags, captureFlags()...),
		Before: setupLogging,
		Action: runCapture,
		Commands: []*cli.Command{
			simulateCommand(),
			historyCommand(),
			traceCommand(),
		},
	}
}

func main() {
	app := newApp()
	if err := app.Run(os.Args); err != nil {
		log.Fatalf("Error: %v", err)
	}
}
