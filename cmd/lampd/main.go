package main

import (
	"flag"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/glowbridge/internal/agent"
	"github.com/dokzlo13/glowbridge/internal/app"
	"github.com/dokzlo13/glowbridge/internal/config"
	"github.com/dokzlo13/glowbridge/internal/deviceflow"
	"github.com/dokzlo13/glowbridge/internal/gpio"
	"github.com/dokzlo13/glowbridge/internal/store/remote"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "lampd.yaml", "Path to configuration file")
	flag.StringVar(&configPath, "c", "lampd.yaml", "Path to configuration file (shorthand)")
	noHardware := flag.Bool("no-hardware", false, "Log channel writes instead of driving pigpiod")
	flag.Parse()

	cfg, err := config.LoadAgent(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	setupLogging(cfg.Log.GetLevel(), cfg.Log.UseJSON, cfg.Log.Colors)

	log.Info().Str("config", configPath).Msg("Starting lampd")

	ctx := app.SignalContext()

	// Acquire a credential first: the device flow blocks until the user
	// completes the grant or the code expires, and nothing else can run
	// without it.
	flow := deviceflow.New(deviceflow.Config{
		ClientID:       cfg.OAuth.ClientID,
		ClientSecret:   cfg.OAuth.ClientSecret,
		DeviceCodeURL:  cfg.OAuth.DeviceCodeURL,
		TokenURL:       cfg.OAuth.TokenURL,
		Scope:          cfg.OAuth.Scope,
		CredentialFile: cfg.CredentialFile,
	})
	cred, err := flow.Acquire(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Device authorization failed")
	}

	var pwm gpio.PWM
	if *noHardware {
		pwm = gpio.Noop{}
	} else {
		pigpio, err := gpio.DialPigpio(cfg.GPIO.Addr, 5*time.Second)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to pigpiod")
		}
		for _, pin := range []uint32{cfg.GPIO.RedPin, cfg.GPIO.GreenPin, cfg.GPIO.BluePin} {
			if err := pigpio.SetOutput(pin); err != nil {
				log.Fatal().Err(err).Uint32("pin", pin).Msg("Failed to configure output pin")
			}
		}
		pwm = pigpio
	}

	session := remote.New(cfg.Cloud.BaseURL, cfg.Device.ID, cred.IDToken, cfg.Cloud.HTTPTimeout.Duration())

	a := agent.New(cfg, session, pwm)
	if err := a.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("Agent failed")
	}
}

func setupLogging(level string, useJSON bool, colors bool) {
	zerolog.TimeFieldFormat = time.RFC3339

	if useJSON {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	} else {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: "2006-01-02T15:04:05.000Z07:00",
			NoColor:    !colors,
		})
	}

	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
