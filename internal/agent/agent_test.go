package agent

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/glowbridge/internal/config"
	"github.com/dokzlo13/glowbridge/internal/store"
)

// fakeSession records merges and hands the test a channel to inject
// change notifications through.
type fakeSession struct {
	mu      sync.Mutex
	merges  []store.Document
	changes chan store.Change
}

func newFakeSession() *fakeSession {
	return &fakeSession{changes: make(chan store.Change)}
}

func (s *fakeSession) Origin() string { return "session-self" }

func (s *fakeSession) Merge(_ context.Context, doc store.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.merges = append(s.merges, doc)
	return nil
}

func (s *fakeSession) Watch(_ context.Context) (<-chan store.Change, func(), error) {
	return s.changes, func() {}, nil
}

func (s *fakeSession) mergedDocs() []store.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]store.Document(nil), s.merges...)
}

// recordingPWM captures every duty-cycle write per pin.
type recordingPWM struct {
	mu     sync.Mutex
	duties map[uint32][]uint32
	closed bool
}

func newRecordingPWM() *recordingPWM {
	return &recordingPWM{duties: map[uint32][]uint32{}}
}

func (p *recordingPWM) Write(pin, duty uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.duties[pin] = append(p.duties[pin], duty)
	return nil
}

func (p *recordingPWM) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *recordingPWM) last(pin uint32) (uint32, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	writes := p.duties[pin]
	if len(writes) == 0 {
		return 0, false
	}
	return writes[len(writes)-1], true
}

func testConfig() *config.Agent {
	cfg := &config.Agent{}
	cfg.Device.ID = "lamp-test"
	cfg.Device.Name = "Test Lamp"
	cfg.GPIO.RedPin = 17
	cfg.GPIO.GreenPin = 22
	cfg.GPIO.BluePin = 24
	return cfg
}

func runAgent(t *testing.T) (*fakeSession, *recordingPWM, context.CancelFunc, <-chan error) {
	t.Helper()

	session := newFakeSession()
	pwm := newRecordingPWM()
	a := New(testConfig(), session, pwm)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	// Registration is the first merge; wait for it so injected changes
	// are not racing startup.
	require.Eventually(t, func() bool {
		return len(session.mergedDocs()) > 0
	}, 2*time.Second, 10*time.Millisecond, "agent never registered")

	return session, pwm, cancel, done
}

func waitDone(t *testing.T, cancel context.CancelFunc, done <-chan error) {
	t.Helper()
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("agent did not stop")
	}
}

func TestRunRegistersDevice(t *testing.T) {
	session, _, cancel, done := runAgent(t)
	defer waitDone(t, cancel, done)

	reg := session.mergedDocs()[0]
	assert.Equal(t, deviceType, reg["type"])
	assert.Equal(t, deviceTraits, reg["traits"])
	name := reg["name"].(store.Document)
	assert.Equal(t, "Test Lamp", name["name"])
	assert.Equal(t, false, reg["willReportState"])
}

func TestRunAppliesDesiredState(t *testing.T) {
	session, pwm, cancel, done := runAgent(t)

	session.changes <- store.Change{
		Origin: "cloud",
		Doc: store.Document{
			"states": map[string]any{
				"on":         true,
				"brightness": float64(50),
				"color":      map[string]any{"spectrumRGB": float64(0xFF0000)},
			},
		},
	}

	// A lastSeen report follows a successful apply.
	require.Eventually(t, func() bool {
		return len(session.mergedDocs()) >= 2
	}, 2*time.Second, 10*time.Millisecond, "no lastSeen report")

	r, ok := pwm.last(17)
	require.True(t, ok)
	assert.Equal(t, uint32(128), r, "red at 50 percent brightness")
	g, _ := pwm.last(22)
	assert.Zero(t, g)
	b, _ := pwm.last(24)
	assert.Zero(t, b)

	report := session.mergedDocs()[1]
	lastSeen, ok := report["lastSeen"].(int64)
	require.True(t, ok, "lastSeen type %T", report["lastSeen"])
	assert.InDelta(t, time.Now().UnixMilli(), lastSeen, 5000)

	waitDone(t, cancel, done)
}

func TestRunSkipsOwnEchoes(t *testing.T) {
	session, pwm, cancel, done := runAgent(t)

	session.changes <- store.Change{
		Origin: session.Origin(),
		Doc: store.Document{
			"states": map[string]any{"on": true, "brightness": float64(100)},
		},
	}

	// Give the loop a moment; an echo must produce neither output writes
	// nor a lastSeen report.
	time.Sleep(100 * time.Millisecond)
	_, wrote := pwm.last(17)
	assert.False(t, wrote, "echoed change drove the output")
	assert.Len(t, session.mergedDocs(), 1, "echoed change produced a report")

	waitDone(t, cancel, done)
}

func TestRunShutdownDarkensChannels(t *testing.T) {
	session, pwm, cancel, done := runAgent(t)

	session.changes <- store.Change{
		Origin: "cloud",
		Doc:    store.Document{"states": map[string]any{"on": true, "brightness": float64(100)}},
	}
	require.Eventually(t, func() bool {
		duty, ok := pwm.last(17)
		return ok && duty == 255
	}, 2*time.Second, 10*time.Millisecond)

	waitDone(t, cancel, done)

	for _, pin := range []uint32{17, 22, 24} {
		duty, ok := pwm.last(pin)
		require.True(t, ok)
		assert.Zero(t, duty, "pin %d not darkened on shutdown", pin)
	}
	pwm.mu.Lock()
	closed := pwm.closed
	pwm.mu.Unlock()
	assert.True(t, closed, "driver not released on shutdown")
}

func TestRunSurvivesFeedClosure(t *testing.T) {
	session, _, cancel, done := runAgent(t)

	close(session.changes)

	// The agent keeps running on a dead feed until cancelled.
	select {
	case err := <-done:
		t.Fatalf("agent exited on feed closure: %v", err)
	case <-time.After(100 * time.Millisecond):
	}

	waitDone(t, cancel, done)
}
