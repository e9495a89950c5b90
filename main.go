package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"device2mqtt/adapters"
	"device2mqtt/application"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
)

var Flags = []cli.Flag{
	FlagLogLevel,
	FlagLogWriter,
	FlagConfigFile,
}

func main() {
	var logger zerolog.Logger

	app := cli.App{
		Name:    "device2mqtt",
		Usage:   "announce a yaml device catalog to home assistant over mqtt",
		Version: "v0.1.0",
		Flags:   Flags,
		Before: func(ctx *cli.Context) error {
			var logWriter io.Writer
			if ctx.String(FlagLogWriter.Name) == "console" {
				logWriter = zerolog.ConsoleWriter{
					Out:        os.Stderr,
					TimeFormat: time.RFC3339Nano,
				}
			} else if ctx.String(FlagLogWriter.Name) == "json" {
				logWriter = os.Stderr
			}

			logger = zerolog.New(logWriter).With().Timestamp().
				Str("service", "device2mqtt").
				Str("module", "main").
				Logger()

			level, err := zerolog.ParseLevel(ctx.String(FlagLogLevel.Name))
			if err != nil {
				return err
			}

			zerolog.SetGlobalLevel(level)

			return nil
		},
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "configure all devices and keep the bridge loop running",
				Action: func(ctx *cli.Context) error {
					logger.Info().Msg("bridge starting...")

					appCtx, cancel := context.WithCancel(logger.WithContext(context.Background()))
					defer cancel()
					go func() {
						c := make(chan os.Signal, 1)
						signal.Notify(c, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

						<-c

						logger.Warn().Msg("interrupt signal received")
						cancel()
					}()

					bridge, err := newBridge(ctx, logger)
					if err != nil {
						return err
					}

					if err := bridge.ConfigureDevices(); err != nil {
						return err
					}

					logger.Info().Msg("bridge started")
					err = bridge.Run(appCtx)
					if err != nil {
						return err
					}

					logger.Info().Msg("bridge terminating...")
					return nil
				},
			},
			{
				Name:  "configure",
				Usage: "publish the retained discovery configs and exit",
				Action: func(ctx *cli.Context) error {
					bridge, err := newBridge(ctx, logger)
					if err != nil {
						return err
					}
					return bridge.ConfigureDevices()
				},
			},
			{
				Name:  "delete",
				Usage: "clear the retained discovery configs and exit",
				Action: func(ctx *cli.Context) error {
					bridge, err := newBridge(ctx, logger)
					if err != nil {
						return err
					}
					return bridge.DeleteDevices()
				},
			},
		},
		Authors: []*cli.Author{
			{
				Name: "device2mqtt authors",
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		logger.Err(err).Msg("bridge terminated")
	}
}

func newBridge(ctx *cli.Context, logger zerolog.Logger) (*application.DeviceBridge, error) {
	cfg, err := application.LoadConfig(ctx.String(FlagConfigFile.Name))
	if err != nil {
		return nil, err
	}

	mqttClient := adapters.NewMQTTClient(adapters.MQTTClientParams{
		Host:     cfg.MQTT.Host,
		Port:     cfg.MQTT.Port,
		Username: cfg.MQTT.Username,
		Password: cfg.MQTT.Password,
		ClientID: cfg.MQTT.ClientID,
		Log:      logger.With().Str("module", "mqtt-client").Logger(),
	})

	return application.NewDeviceBridge(application.DeviceBridgeParams{
		Config:     cfg,
		MQTTClient: mqttClient,
		Log:        logger.With().Str("module", "device-bridge").Logger(),
	})
}
