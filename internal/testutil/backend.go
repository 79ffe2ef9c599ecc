package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/lumibeat/lumibeat/internal/device"
)

// Call records one verb invocation on a MockBackend.
type Call struct {
	Verb       device.Verb
	R, G, B    uint8
	Brightness uint8
	Effect     string
	On         bool
	Transition time.Duration
	At         time.Time
}

// MockBackend is an in-memory device backend recording every call.
// Error injection covers connect, verbs and pings independently.
type MockBackend struct {
	mu    sync.Mutex
	calls []Call

	DeviceKind device.Kind
	Caps       device.Capability

	ConnectErr error
	VerbErr    error // returned by every verb while set
	PingErr    error

	// Delay stalls each verb call, for timeout tests.
	Delay time.Duration

	connects int
	pings    int
	attempts int
}

// Ensure MockBackend implements the backend interface
var _ device.Backend = (*MockBackend)(nil)

// NewMockBackend creates a fully capable mock.
func NewMockBackend() *MockBackend {
	return &MockBackend{
		DeviceKind: device.KindMagicHome,
		Caps:       device.CapColor | device.CapBrightness | device.CapEffects,
	}
}

func (m *MockBackend) Kind() device.Kind               { return m.DeviceKind }
func (m *MockBackend) Capabilities() device.Capability { return m.Caps }

func (m *MockBackend) Connect(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connects++
	return m.ConnectErr
}

func (m *MockBackend) Close() error { return nil }

func (m *MockBackend) Ping(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pings++
	return m.PingErr
}

func (m *MockBackend) SetColor(ctx context.Context, r, g, b uint8) error {
	return m.record(ctx, Call{Verb: device.VerbSetColor, R: r, G: g, B: b})
}

func (m *MockBackend) SetBrightness(ctx context.Context, level uint8) error {
	return m.record(ctx, Call{Verb: device.VerbSetBrightness, Brightness: level})
}

func (m *MockBackend) SetEffect(ctx context.Context, name string) error {
	return m.record(ctx, Call{Verb: device.VerbSetEffect, Effect: name})
}

func (m *MockBackend) Power(ctx context.Context, on bool) error {
	return m.record(ctx, Call{Verb: device.VerbPower, On: on})
}

func (m *MockBackend) SetTransition(ctx context.Context, d time.Duration) error {
	return m.record(ctx, Call{Verb: device.VerbSetTransition, Transition: d})
}

func (m *MockBackend) record(ctx context.Context, c Call) error {
	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts++
	if m.VerbErr != nil {
		return m.VerbErr
	}
	c.At = time.Now()
	m.calls = append(m.calls, c)
	return nil
}

// SetVerbErr swaps the injected verb error under the lock.
func (m *MockBackend) SetVerbErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.VerbErr = err
}

// SetPingErr swaps the injected ping error under the lock.
func (m *MockBackend) SetPingErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PingErr = err
}

// Calls returns a copy of the recorded calls.
func (m *MockBackend) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallsFor returns recorded calls of one verb.
func (m *MockBackend) CallsFor(verb device.Verb) []Call {
	var out []Call
	for _, c := range m.Calls() {
		if c.Verb == verb {
			out = append(out, c)
		}
	}
	return out
}

// Pings returns the number of liveness probes received.
func (m *MockBackend) Pings() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pings
}

// Attempts returns the number of verb invocations including failed
// ones.
func (m *MockBackend) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// Connects returns the number of Connect calls.
func (m *MockBackend) Connects() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connects
}
