// Package agent is the physical client: it registers its device
// document, follows the desired-state change feed and drives the RGB
// output channels.
package agent

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/glowbridge/internal/config"
	"github.com/dokzlo13/glowbridge/internal/gpio"
	"github.com/dokzlo13/glowbridge/internal/store"
)

// Device capability metadata registered on startup.
const (
	deviceType = "action.devices.types.LIGHT"
)

var deviceTraits = []string{
	"action.devices.traits.OnOff",
	"action.devices.traits.Brightness",
	"action.devices.traits.ColorSpectrum",
}

// Session is the agent's connection to its device document.
type Session interface {
	Origin() string
	Merge(ctx context.Context, doc store.Document) error
	Watch(ctx context.Context) (<-chan store.Change, func(), error)
}

// Agent ties the change feed to the output channels.
type Agent struct {
	cfg     *config.Agent
	session Session
	pwm     gpio.PWM
}

// New creates an agent over an authenticated session and a PWM driver.
func New(cfg *config.Agent, session Session, pwm gpio.PWM) *Agent {
	return &Agent{
		cfg:     cfg,
		session: session,
		pwm:     pwm,
	}
}

// Run registers the device and processes changes until the context is
// cancelled, then performs the shutdown sequence: unsubscribe, channels
// to minimum, release the output driver.
func (a *Agent) Run(ctx context.Context) error {
	if err := a.register(ctx); err != nil {
		return err
	}

	changes, cancel, err := a.session.Watch(ctx)
	if err != nil {
		return err
	}
	defer a.shutdown(cancel)

	log.Info().Str("device", a.cfg.Device.ID).Msg("Watching desired state")

	for {
		select {
		case <-ctx.Done():
			return nil
		case change, open := <-changes:
			if !open {
				if ctx.Err() != nil {
					return nil
				}
				// Feed died while we are still supposed to run. Keep the
				// last applied output and wait for shutdown.
				log.Error().Str("device", a.cfg.Device.ID).Msg("Change feed ended, keeping last output")
				<-ctx.Done()
				return nil
			}
			a.handleChange(ctx, change)
		}
	}
}

// register merge-upserts the device document's capability metadata.
// The upsert is idempotent; restarts never clobber desired state.
func (a *Agent) register(ctx context.Context) error {
	doc := store.Document{
		"type":   deviceType,
		"traits": deviceTraits,
		"name": store.Document{
			"defaultNames": []string{},
			"name":         a.cfg.Device.Name,
			"nicknames":    []string{},
		},
		"willReportState": false,
	}

	if err := a.session.Merge(ctx, doc); err != nil {
		return err
	}

	log.Info().Str("device", a.cfg.Device.ID).Msg("Device registered")
	return nil
}

// handleChange applies one change notification, skipping echoes of this
// session's own writes (the lastSeen report would otherwise loop).
func (a *Agent) handleChange(ctx context.Context, change store.Change) {
	if change.Origin == a.session.Origin() {
		return
	}

	states, _ := change.Doc["states"].(map[string]any)
	channels := ChannelsFor(states)

	if err := a.applyChannels(channels); err != nil {
		log.Error().Err(err).Msg("Failed to drive output channels")
		return
	}

	log.Info().
		Uint8("r", channels.R).
		Uint8("g", channels.G).
		Uint8("b", channels.B).
		Msg("Applied desired state")

	// Report back: the liveness window on the cloud side is derived from
	// this timestamp.
	report := store.Document{"lastSeen": time.Now().UnixMilli()}
	if err := a.session.Merge(ctx, report); err != nil {
		log.Warn().Err(err).Msg("Failed to report lastSeen")
	}
}

func (a *Agent) applyChannels(c Channels) error {
	if err := a.pwm.Write(a.cfg.GPIO.RedPin, uint32(c.R)); err != nil {
		return err
	}
	if err := a.pwm.Write(a.cfg.GPIO.GreenPin, uint32(c.G)); err != nil {
		return err
	}
	return a.pwm.Write(a.cfg.GPIO.BluePin, uint32(c.B))
}

// shutdown is best-effort and ordered: stop the subscription first, then
// darken the channels, then release the driver.
func (a *Agent) shutdown(cancelWatch func()) {
	cancelWatch()

	if err := a.applyChannels(Channels{}); err != nil {
		log.Error().Err(err).Msg("Failed to reset output channels on shutdown")
	}

	if err := a.pwm.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close output driver")
	}

	log.Info().Msg("Agent stopped")
}
