package scheduler

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumibeat/lumibeat/internal/config"
	"github.com/lumibeat/lumibeat/internal/device"
	"github.com/lumibeat/lumibeat/internal/testutil"
)

// eventRecorder captures callbacks for assertions.
type eventRecorder struct {
	mu           sync.Mutex
	confirmed    []device.Command
	errors       []error
	transitions  []string
	stateChanges []device.State
}

func (r *eventRecorder) callbacks() Callbacks {
	return Callbacks{
		OnConfirm: func(cmd device.Command) {
			r.mu.Lock()
			r.confirmed = append(r.confirmed, cmd)
			r.mu.Unlock()
		},
		OnDeviceError: func(id string, kind device.Kind, err error) {
			r.mu.Lock()
			r.errors = append(r.errors, err)
			r.mu.Unlock()
		},
		OnStateChange: func(id string, from, to device.State) {
			r.mu.Lock()
			r.transitions = append(r.transitions, from.String()+"->"+to.String())
			r.stateChanges = append(r.stateChanges, to)
			r.mu.Unlock()
		},
	}
}

func (r *eventRecorder) confirmedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.confirmed)
}

func (r *eventRecorder) lastState() device.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.stateChanges) == 0 {
		return device.StateUnknown
	}
	return r.stateChanges[len(r.stateChanges)-1]
}

func (r *eventRecorder) errorCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.errors)
}

func testConfig(mutate func(*config.Config)) *config.Config {
	cfg := config.CreateDefault()
	cfg.Scheduler.CallTimeoutMs = 300
	cfg.Scheduler.PingIntervalMs = 60000 // keep pings out of dispatch tests
	if mutate != nil {
		mutate(cfg)
	}
	return cfg
}

func testDevice(id string) device.Device {
	return device.Device{
		ID:    id,
		Kind:  device.KindMagicHome,
		State: device.StateDiscovered,
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestDispatchConfirms(t *testing.T) {
	rec := &eventRecorder{}
	s := New(testConfig(nil), rec.callbacks())
	defer s.Stop()

	backend := testutil.NewMockBackend()
	require.NoError(t, s.AddDevice(testDevice("d1"), backend))

	s.Submit(device.Command{DeviceID: "d1", Verb: device.VerbSetColor, R: 255, Priority: device.PriorityColor})

	waitFor(t, time.Second, func() bool { return rec.confirmedCount() == 1 })
	calls := backend.CallsFor(device.VerbSetColor)
	require.Len(t, calls, 1)
	assert.Equal(t, uint8(255), calls[0].R)

	m := s.Metrics()["d1"]
	assert.Equal(t, uint64(1), m.Dispatched)
	assert.Equal(t, uint64(0), m.Failed)
}

func TestUnknownDeviceDropped(t *testing.T) {
	rec := &eventRecorder{}
	s := New(testConfig(nil), rec.callbacks())
	defer s.Stop()

	s.Submit(device.Command{DeviceID: "ghost", Verb: device.VerbPower, On: true})
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, rec.confirmedCount())
	assert.Zero(t, rec.errorCount())
}

func TestConnectFailureRejectsDevice(t *testing.T) {
	s := New(testConfig(nil), Callbacks{})
	defer s.Stop()

	backend := testutil.NewMockBackend()
	backend.ConnectErr = errors.New("no route")
	err := s.AddDevice(testDevice("d1"), backend)
	require.Error(t, err)
	assert.Empty(t, s.Devices())
}

func TestRetriesThenDegrades(t *testing.T) {
	rec := &eventRecorder{}
	s := New(testConfig(nil), rec.callbacks())
	defer s.Stop()

	backend := testutil.NewMockBackend()
	require.NoError(t, s.AddDevice(testDevice("d1"), backend))

	backend.SetVerbErr(&device.UnreachableError{Err: errors.New("conn refused")})
	s.Submit(device.Command{DeviceID: "d1", Verb: device.VerbPower, On: true})

	waitFor(t, 2*time.Second, func() bool { return rec.lastState() == device.StateDegraded })

	// Initial attempt plus two retries
	assert.Equal(t, 3, backend.Attempts())
	assert.GreaterOrEqual(t, rec.errorCount(), 1)
	m := s.Metrics()["d1"]
	assert.Equal(t, uint64(1), m.Failed)
	assert.Equal(t, uint64(2), m.Retried)
}

func TestDegradedDeviceRecoversOnSuccess(t *testing.T) {
	rec := &eventRecorder{}
	s := New(testConfig(nil), rec.callbacks())
	defer s.Stop()

	backend := testutil.NewMockBackend()
	require.NoError(t, s.AddDevice(testDevice("d1"), backend))

	backend.SetVerbErr(&device.UnreachableError{Err: errors.New("down")})
	s.Submit(device.Command{DeviceID: "d1", Verb: device.VerbPower, On: true})
	waitFor(t, 2*time.Second, func() bool { return rec.lastState() == device.StateDegraded })

	// Degraded devices still accept commands; success recovers them.
	backend.SetVerbErr(nil)
	s.Submit(device.Command{DeviceID: "d1", Verb: device.VerbPower, On: false})
	waitFor(t, 2*time.Second, func() bool { return rec.lastState() == device.StateConnected })
}

func TestUnsupportedVerbNotRetried(t *testing.T) {
	rec := &eventRecorder{}
	s := New(testConfig(nil), rec.callbacks())
	defer s.Stop()

	backend := testutil.NewMockBackend()
	backend.Caps = device.CapBrightness // no color
	require.NoError(t, s.AddDevice(testDevice("d1"), backend))

	s.Submit(device.Command{DeviceID: "d1", Verb: device.VerbSetColor, R: 1})
	waitFor(t, time.Second, func() bool { return rec.errorCount() == 1 })

	// Capability check rejects before the backend sees the call
	assert.Zero(t, backend.Attempts())
	assert.NotEqual(t, device.StateDegraded, rec.lastState())
	assert.Equal(t, uint64(1), s.Metrics()["d1"].Failed)
}

func TestProtocolStrikesDegrade(t *testing.T) {
	rec := &eventRecorder{}
	s := New(testConfig(nil), rec.callbacks())
	defer s.Stop()

	backend := testutil.NewMockBackend()
	require.NoError(t, s.AddDevice(testDevice("d1"), backend))
	backend.SetVerbErr(&device.ProtocolError{Detail: "garbage frame"})

	for i := 0; i < protocolStrikeLimit; i++ {
		s.Submit(device.Command{DeviceID: "d1", Verb: device.VerbPower, On: true})
		// Wait for this round's failure before sending the next, so the
		// strikes are consecutive rather than coalesced.
		want := i + 1
		waitFor(t, time.Second, func() bool { return rec.errorCount() >= want })
	}

	waitFor(t, time.Second, func() bool { return rec.lastState() == device.StateDegraded })
	// Protocol errors are never retried
	assert.Equal(t, protocolStrikeLimit, backend.Attempts())
}

func TestRateLimitBurst(t *testing.T) {
	rec := &eventRecorder{}
	cfg := testConfig(func(c *config.Config) {
		c.Device[config.KindMagicHome] = config.DeviceRateConfig{RateCPS: 5, Burst: 3}
	})
	s := New(cfg, rec.callbacks())
	defer s.Stop()

	backend := testutil.NewMockBackend()
	require.NoError(t, s.AddDevice(testDevice("d1"), backend))

	// A second of 200 commands/s against rate 5 burst 3
	done := time.After(time.Second)
	tick := time.NewTicker(5 * time.Millisecond)
	defer tick.Stop()
	i := uint8(0)
loop:
	for {
		select {
		case <-done:
			break loop
		case <-tick.C:
			i++
			s.Submit(device.Command{DeviceID: "d1", Verb: device.VerbSetColor, R: i, Priority: device.PriorityColor})
		}
	}
	time.Sleep(200 * time.Millisecond)

	delivered := len(backend.CallsFor(device.VerbSetColor))
	assert.GreaterOrEqual(t, delivered, 3, "burst should pass")
	assert.LessOrEqual(t, delivered, 9, "burst + rate over the ~1.2s window bounds deliveries")

	m := s.Metrics()["d1"]
	assert.Greater(t, m.RateDropped+m.Coalesced, uint64(0))
}

func TestBeatPriorityBypassesTokenShedding(t *testing.T) {
	rec := &eventRecorder{}
	cfg := testConfig(func(c *config.Config) {
		c.Device[config.KindMagicHome] = config.DeviceRateConfig{RateCPS: 1, Burst: 1}
	})
	s := New(cfg, rec.callbacks())
	defer s.Stop()

	backend := testutil.NewMockBackend()
	require.NoError(t, s.AddDevice(testDevice("d1"), backend))

	// Exhaust the single token
	s.Submit(device.Command{DeviceID: "d1", Verb: device.VerbSetColor, R: 1, Priority: device.PriorityColor})
	waitFor(t, time.Second, func() bool { return rec.confirmedCount() == 1 })

	// A beat command queues and waits for the refill instead of being shed
	s.Submit(device.Command{DeviceID: "d1", Verb: device.VerbPower, On: true, Priority: device.PriorityBeat})
	waitFor(t, 3*time.Second, func() bool { return rec.confirmedCount() == 2 })
	assert.Len(t, backend.CallsFor(device.VerbPower), 1)
}

func TestRemoveDevice(t *testing.T) {
	rec := &eventRecorder{}
	s := New(testConfig(nil), rec.callbacks())
	defer s.Stop()

	backend := testutil.NewMockBackend()
	require.NoError(t, s.AddDevice(testDevice("d1"), backend))
	require.NoError(t, s.RemoveDevice("d1"))

	assert.Equal(t, device.StateDead, rec.lastState())
	assert.Empty(t, s.Devices())
	require.Error(t, s.RemoveDevice("d1"))

	// Commands to removed devices are dropped
	s.Submit(device.Command{DeviceID: "d1", Verb: device.VerbPower, On: true})
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, backend.Attempts())
}

func TestStopDrainsOutboxes(t *testing.T) {
	rec := &eventRecorder{}
	s := New(testConfig(nil), rec.callbacks())

	backend := testutil.NewMockBackend()
	require.NoError(t, s.AddDevice(testDevice("d1"), backend))

	s.Submit(device.Command{DeviceID: "d1", Verb: device.VerbSetBrightness, Brightness: 200, Priority: device.PriorityBrightness})
	time.Sleep(20 * time.Millisecond)
	s.Stop()

	assert.GreaterOrEqual(t, rec.confirmedCount(), 1)
	// Stop is idempotent
	s.Stop()
}

func TestPingLiveness(t *testing.T) {
	rec := &eventRecorder{}
	cfg := testConfig(func(c *config.Config) {
		c.Scheduler.PingIntervalMs = 20
	})
	s := New(cfg, rec.callbacks())
	defer s.Stop()

	backend := testutil.NewMockBackend()
	require.NoError(t, s.AddDevice(testDevice("d1"), backend))

	backend.SetPingErr(errors.New("no reply"))
	waitFor(t, 2*time.Second, func() bool { return rec.lastState() == device.StateDegraded })
	assert.GreaterOrEqual(t, backend.Pings(), config.DefaultPingFailures)

	backend.SetPingErr(nil)
	waitFor(t, 2*time.Second, func() bool { return rec.lastState() == device.StateConnected })
}

func TestDevicesSnapshot(t *testing.T) {
	s := New(testConfig(nil), Callbacks{})
	defer s.Stop()

	require.NoError(t, s.AddDevice(testDevice("b"), testutil.NewMockBackend()))
	require.NoError(t, s.AddDevice(testDevice("a"), testutil.NewMockBackend()))

	devs := s.Devices()
	require.Len(t, devs, 2)
	assert.Equal(t, "a", devs[0].ID)
	assert.Equal(t, device.StateConnected, devs[0].State)
}
