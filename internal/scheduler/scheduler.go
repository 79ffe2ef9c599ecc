// Package scheduler decouples command production from device I/O: a
// single intake actor routes commands into per-device outboxes, and one
// cooperative sub-task per device dispatches them under a token bucket
// with retries and liveness tracking.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/lumibeat/lumibeat/internal/config"
	"github.com/lumibeat/lumibeat/internal/device"
)

// commandQueueDepth bounds the intake queue between the effect engine
// and the scheduler.
const commandQueueDepth = 64

// Callbacks report scheduler outcomes upward without a back-reference.
// All callbacks may be nil and must be fast; they run on worker
// goroutines.
type Callbacks struct {
	// OnConfirm fires after a command reached its device.
	OnConfirm func(device.Command)
	// OnDeviceError fires when a dispatch finally failed. Failed pings
	// are not reported here; they only count toward degradation.
	OnDeviceError func(id string, kind device.Kind, err error)
	// OnStateChange fires on every connection state transition.
	OnStateChange func(id string, from, to device.State)
}

// Scheduler owns the set of connected devices and fans commands out to
// them.
type Scheduler struct {
	cfg       config.SchedulerConfig
	rates     map[string]config.DeviceRateConfig
	callbacks Callbacks
	drain     time.Duration

	commands chan device.Command

	mu      sync.Mutex
	workers map[string]*worker
	stopped bool

	stopc chan struct{}
	wg    sync.WaitGroup
}

// New creates a scheduler from validated configuration.
func New(cfg *config.Config, callbacks Callbacks) *Scheduler {
	s := &Scheduler{
		cfg:       cfg.Scheduler,
		rates:     cfg.Device,
		callbacks: callbacks,
		drain:     500 * time.Millisecond,
		commands:  make(chan device.Command, commandQueueDepth),
		workers:   make(map[string]*worker),
		stopc:     make(chan struct{}),
	}
	s.wg.Add(1)
	go s.intake()
	return s
}

// SetDrainTimeout overrides the shutdown drain deadline.
func (s *Scheduler) SetDrainTimeout(d time.Duration) {
	s.mu.Lock()
	s.drain = d
	s.mu.Unlock()
}

// Submit hands a command to the scheduler. The queue is bounded; when
// it is full the oldest queued command is shed first, since a newer
// value for the same device supersedes it anyway.
func (s *Scheduler) Submit(cmd device.Command) {
	for {
		select {
		case s.commands <- cmd:
			return
		default:
		}
		select {
		case <-s.commands: // shed oldest
		default:
		}
	}
}

// AddDevice connects a backend and spawns the device's dispatch
// sub-task. The device must be in the Discovered state (Unknown is
// accepted and treated as Discovered) and connect must succeed;
// otherwise nothing is registered.
func (s *Scheduler) AddDevice(dev device.Device, backend device.Backend) error {
	if dev.State == device.StateUnknown {
		dev.State = device.StateDiscovered
	}
	if dev.State != device.StateDiscovered {
		return fmt.Errorf("device %s: cannot add in state %s", dev.ID, dev.State)
	}

	connectCtx, cancel := context.WithTimeout(context.Background(), s.callTimeout())
	defer cancel()
	if err := backend.Connect(connectCtx); err != nil {
		return fmt.Errorf("device %s: connect failed: %w", dev.ID, err)
	}

	rate := config.DefaultRate(string(dev.Kind))
	if r, ok := s.rates[string(dev.Kind)]; ok {
		rate = r
	}

	prev := dev.State
	dev.State = device.StateConnected
	dev.LastSeen = time.Now()

	w := newWorker(s, dev, backend, workerOptions{
		outboxSize:    s.cfg.OutboxSize,
		rateCPS:       rate.RateCPS,
		burst:         rate.Burst,
		callTimeout:   s.callTimeout(),
		pingInterval:  time.Duration(s.cfg.PingIntervalMs) * time.Millisecond,
		pingFailLimit: s.cfg.PingFailures,
	})

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return fmt.Errorf("device %s: scheduler stopped", dev.ID)
	}
	if _, exists := s.workers[dev.ID]; exists {
		s.mu.Unlock()
		return fmt.Errorf("device %s: already registered", dev.ID)
	}
	s.workers[dev.ID] = w
	s.wg.Add(1)
	s.mu.Unlock()

	go w.run()
	s.stateChange(dev.ID, prev, device.StateConnected)
	log.Printf("[SCHEDULER] device %s (%s) connected", dev.ID, dev.Kind)
	return nil
}

// RemoveDevice cancels the device's sub-task at the next token
// boundary, closes its backend and marks it dead.
func (s *Scheduler) RemoveDevice(id string) error {
	s.mu.Lock()
	w, ok := s.workers[id]
	if ok {
		delete(s.workers, id)
	}
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("device %s: not registered", id)
	}

	from := w.state()
	w.cancel()
	_ = w.backend.Close()
	w.mu.Lock()
	w.dev.State = device.StateDead
	w.mu.Unlock()
	s.stateChange(id, from, device.StateDead)
	log.Printf("[SCHEDULER] device %s removed", id)
	return nil
}

// Devices returns a snapshot of the registered devices, sorted by id.
func (s *Scheduler) Devices() []device.Device {
	s.mu.Lock()
	workers := make([]*worker, 0, len(s.workers))
	for _, w := range s.workers {
		workers = append(workers, w)
	}
	s.mu.Unlock()

	out := make([]device.Device, 0, len(workers))
	for _, w := range workers {
		out = append(out, w.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Metrics returns per-device counter snapshots keyed by device id.
func (s *Scheduler) Metrics() map[string]Metrics {
	s.mu.Lock()
	workers := make(map[string]*worker, len(s.workers))
	for id, w := range s.workers {
		workers[id] = w
	}
	s.mu.Unlock()

	out := make(map[string]Metrics, len(workers))
	for id, w := range workers {
		out[id] = w.metrics.snapshot()
	}
	return out
}

// Stop halts intake, lets every worker drain its outbox under the
// drain deadline, and leaves devices connected but idle.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	workers := make([]*worker, 0, len(s.workers))
	for _, w := range s.workers {
		workers = append(workers, w)
	}
	s.mu.Unlock()

	close(s.stopc)
	for _, w := range workers {
		close(w.stopc)
	}
	s.wg.Wait()
	log.Printf("[SCHEDULER] stopped")
}

// intake routes submitted commands to their device worker. Unknown or
// non-accepting devices drop the command.
func (s *Scheduler) intake() {
	defer s.wg.Done()
	for {
		select {
		case <-s.stopc:
			return
		case cmd := <-s.commands:
			s.route(cmd)
		}
	}
}

func (s *Scheduler) route(cmd device.Command) {
	s.mu.Lock()
	w := s.workers[cmd.DeviceID]
	s.mu.Unlock()

	if w == nil || !w.state().Accepting() {
		return
	}
	w.enqueue(cmd)
}

func (s *Scheduler) callTimeout() time.Duration {
	return time.Duration(s.cfg.CallTimeoutMs) * time.Millisecond
}

// scheduler interface for workers

func (s *Scheduler) confirm(cmd device.Command) {
	if s.callbacks.OnConfirm != nil {
		s.callbacks.OnConfirm(cmd)
	}
}

func (s *Scheduler) deviceError(id string, kind device.Kind, err error) {
	if s.callbacks.OnDeviceError != nil {
		s.callbacks.OnDeviceError(id, kind, err)
	}
}

func (s *Scheduler) stateChange(id string, from, to device.State) {
	if s.callbacks.OnStateChange != nil {
		s.callbacks.OnStateChange(id, from, to)
	}
}

func (s *Scheduler) drainTimeout() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drain
}

func (s *Scheduler) workerDone() {
	s.wg.Done()
}
