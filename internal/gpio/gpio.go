// Package gpio drives PWM output channels. The actual signal generation
// is delegated to the pigpio daemon; this package only speaks its socket
// protocol.
package gpio

import "github.com/rs/zerolog/log"

// PWM writes duty cycles (0-255) to output pins.
type PWM interface {
	// Write sets the duty cycle of a pin.
	Write(pin, duty uint32) error
	// Close releases the underlying session.
	Close() error
}

// Noop is a PWM that only logs writes. Useful on a bench without the
// pigpio daemon.
type Noop struct{}

// Write logs the would-be duty cycle.
func (Noop) Write(pin, duty uint32) error {
	log.Info().Uint32("pin", pin).Uint32("duty", duty).Msg("PWM write (noop)")
	return nil
}

// Close is a no-op.
func (Noop) Close() error { return nil }
