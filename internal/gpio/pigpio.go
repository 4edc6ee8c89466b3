package gpio

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

// pigpiod socket commands. Each request and reply is a fixed 16-byte
// frame of four little-endian uint32s: cmd, p1, p2, p3/res.
const (
	cmdModes = 0
	cmdPWM   = 5

	modeOutput = 1
)

// Pigpio is a PWM backed by the pigpio daemon's socket interface.
// Requests are serialized: the daemon answers frames in order on one
// connection.
type Pigpio struct {
	conn net.Conn
	mu   sync.Mutex
}

// DialPigpio connects to a pigpio daemon (default 127.0.0.1:8888).
func DialPigpio(addr string, timeout time.Duration) (*Pigpio, error) {
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to pigpiod at %s: %w", addr, err)
	}
	return &Pigpio{conn: conn}, nil
}

// SetOutput configures a pin as an output.
func (p *Pigpio) SetOutput(pin uint32) error {
	return p.command(cmdModes, pin, modeOutput)
}

// Write sets the PWM duty cycle (0-255) of a pin.
func (p *Pigpio) Write(pin, duty uint32) error {
	return p.command(cmdPWM, pin, duty)
}

// Close closes the daemon connection.
func (p *Pigpio) Close() error {
	return p.conn.Close()
}

func (p *Pigpio) command(cmd, p1, p2 uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var frame [16]byte
	binary.LittleEndian.PutUint32(frame[0:], cmd)
	binary.LittleEndian.PutUint32(frame[4:], p1)
	binary.LittleEndian.PutUint32(frame[8:], p2)

	if _, err := p.conn.Write(frame[:]); err != nil {
		return fmt.Errorf("pigpiod write failed: %w", err)
	}

	var reply [16]byte
	if _, err := io.ReadFull(p.conn, reply[:]); err != nil {
		return fmt.Errorf("pigpiod read failed: %w", err)
	}

	// The last word is the result; negative values are daemon errors.
	if res := int32(binary.LittleEndian.Uint32(reply[12:])); res < 0 {
		return fmt.Errorf("pigpiod command %d failed: code %d", cmd, res)
	}
	return nil
}
