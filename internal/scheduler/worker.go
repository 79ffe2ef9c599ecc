package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"github.com/lumibeat/lumibeat/internal/device"
)

// Retry schedule for a failing dispatch: two retries at 100 and 250 ms.
const (
	maxRetries        = 2
	retryInitialDelay = 100 * time.Millisecond
	retryMultiplier   = 2.5

	// protocolStrikeLimit degrades a device after consecutive malformed
	// responses.
	protocolStrikeLimit = 3
)

// worker is the cooperative per-device sub-task: it exclusively owns
// the device's outbox, token bucket, connection state and metrics, and
// keeps exactly one call in flight.
type worker struct {
	sched   scheduler
	backend device.Backend
	out     *outbox
	limiter *rate.Limiter
	metrics deviceMetrics

	notify chan struct{}
	stopc  chan struct{}
	ctx    context.Context
	cancel context.CancelFunc

	callTimeout   time.Duration
	pingInterval  time.Duration
	pingFailLimit int

	mu        sync.Mutex
	dev       device.Device
	strikes   int // consecutive protocol errors
	pingFails int
}

// scheduler is the narrow surface a worker needs from its owner; the
// concrete Scheduler implements it. Keeping it an interface keeps the
// dependency one-way for tests.
type scheduler interface {
	confirm(cmd device.Command)
	deviceError(id string, kind device.Kind, err error)
	stateChange(id string, from, to device.State)
	drainTimeout() time.Duration
	workerDone()
}

func newWorker(s scheduler, dev device.Device, backend device.Backend, opts workerOptions) *worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &worker{
		sched:         s,
		backend:       backend,
		out:           newOutbox(opts.outboxSize),
		limiter:       rate.NewLimiter(rate.Limit(opts.rateCPS), opts.burst),
		notify:        make(chan struct{}, 1),
		stopc:         make(chan struct{}),
		ctx:           ctx,
		cancel:        cancel,
		callTimeout:   opts.callTimeout,
		pingInterval:  opts.pingInterval,
		pingFailLimit: opts.pingFailLimit,
		dev:           dev,
	}
}

type workerOptions struct {
	outboxSize    int
	rateCPS       float64
	burst         int
	callTimeout   time.Duration
	pingInterval  time.Duration
	pingFailLimit int
}

// state returns the device's current connection state.
func (w *worker) state() device.State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dev.State
}

// snapshot returns a copy of the device record.
func (w *worker) snapshot() device.Device {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dev
}

// setState applies a state transition if the machine allows it and
// reports the change upward.
func (w *worker) setState(next device.State) {
	w.mu.Lock()
	from := w.dev.State
	if from == next || !from.CanTransition(next) {
		w.mu.Unlock()
		return
	}
	w.dev.State = next
	w.mu.Unlock()

	w.sched.stateChange(w.dev.ID, from, next)
}

// enqueue routes one command into the outbox, enforcing the intake-side
// token check for sheddable priorities.
func (w *worker) enqueue(cmd device.Command) {
	if w.limiter.Tokens() < 1 && cmd.Priority != device.PriorityBeat {
		w.metrics.update(func(m *Metrics) { m.RateDropped++ })
		return
	}

	coalesced, droppedHead := w.out.push(cmd)
	w.metrics.update(func(m *Metrics) {
		if coalesced {
			m.Coalesced++
		}
		if droppedHead {
			m.OutboxDropped++
		}
	})

	select {
	case w.notify <- struct{}{}:
	default:
	}
}

// run is the dispatch loop: one command in flight, token-gated, with an
// idle liveness probe.
func (w *worker) run() {
	defer w.sched.workerDone()
	defer w.cancel()

	idle := time.NewTimer(w.pingInterval)
	defer idle.Stop()

	for {
		cmd, ok := w.out.pop()
		if !ok {
			select {
			case <-w.notify:
				continue
			case <-w.stopc:
				w.drain()
				return
			case <-w.ctx.Done():
				return
			case <-idle.C:
				w.pingOnce()
				idle.Reset(w.pingInterval)
				continue
			}
		}

		if err := w.limiter.Wait(w.ctx); err != nil {
			return
		}
		w.dispatch(w.ctx, cmd)

		if !idle.Stop() {
			select {
			case <-idle.C:
			default:
			}
		}
		idle.Reset(w.pingInterval)
	}
}

// drain flushes whatever remains in the outbox under the scheduler's
// shutdown deadline, still respecting the token bucket.
func (w *worker) drain() {
	deadline := time.Now().Add(w.sched.drainTimeout())
	ctx, cancel := context.WithDeadline(w.ctx, deadline)
	defer cancel()

	for {
		cmd, ok := w.out.pop()
		if !ok {
			return
		}
		if err := w.limiter.Wait(ctx); err != nil {
			return
		}
		w.dispatch(ctx, cmd)
	}
}

// dispatch issues one backend call with per-call timeout and the fixed
// retry schedule, then settles state and metrics.
func (w *worker) dispatch(parent context.Context, cmd device.Command) {
	attempts := 0
	op := func() error {
		attempts++
		ctx, cancel := context.WithTimeout(parent, w.callTimeout)
		defer cancel()

		err := w.call(ctx, cmd)
		if err != nil && !device.IsRetriable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = retryInitialDelay
	eb.RandomizationFactor = 0
	eb.Multiplier = retryMultiplier

	started := time.Now()
	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(eb, maxRetries), parent))

	w.metrics.update(func(m *Metrics) {
		if attempts > 1 {
			m.Retried += uint64(attempts - 1)
		}
	})

	if err == nil {
		w.metrics.update(func(m *Metrics) {
			m.Dispatched++
			m.LastLatency = time.Since(started)
			m.LastDispatch = time.Now()
		})
		w.mu.Lock()
		w.strikes = 0
		w.dev.LastSeen = time.Now()
		w.mu.Unlock()
		w.setState(device.StateConnected)
		w.sched.confirm(cmd)
		return
	}

	w.metrics.update(func(m *Metrics) { m.Failed++ })
	w.sched.deviceError(w.dev.ID, w.dev.Kind, fmt.Errorf("%s: %w", cmd.Verb, err))

	switch {
	case !device.IsRetriable(err):
		var pe *device.ProtocolError
		if errors.As(err, &pe) {
			w.mu.Lock()
			w.strikes++
			strikes := w.strikes
			w.mu.Unlock()
			if strikes >= protocolStrikeLimit {
				w.setState(device.StateDegraded)
			}
		}
		// Unsupported verbs are a static mismatch: reported above, but
		// neither retried nor counted toward degradation.
	default:
		log.Printf("[SCHEDULER] device %s: %s failed after %d attempts: %v", w.dev.ID, cmd.Verb, attempts, err)
		w.setState(device.StateDegraded)
	}
}

// call maps a command verb onto the backend interface.
func (w *worker) call(ctx context.Context, cmd device.Command) error {
	caps := w.backend.Capabilities()
	switch cmd.Verb {
	case device.VerbSetColor:
		if !caps.Has(device.CapColor) {
			return fmt.Errorf("%s: %w", cmd.Verb, device.ErrUnsupported)
		}
		return w.backend.SetColor(ctx, cmd.R, cmd.G, cmd.B)
	case device.VerbSetBrightness:
		if !caps.Has(device.CapBrightness) {
			return fmt.Errorf("%s: %w", cmd.Verb, device.ErrUnsupported)
		}
		return w.backend.SetBrightness(ctx, cmd.Brightness)
	case device.VerbSetEffect:
		if !caps.Has(device.CapEffects) {
			return fmt.Errorf("%s: %w", cmd.Verb, device.ErrUnsupported)
		}
		return w.backend.SetEffect(ctx, cmd.Effect)
	case device.VerbPower:
		return w.backend.Power(ctx, cmd.On)
	case device.VerbSetTransition:
		return w.backend.SetTransition(ctx, cmd.Transition)
	}
	return fmt.Errorf("verb %d: %w", cmd.Verb, device.ErrUnsupported)
}

// pingOnce probes liveness while idle. Consecutive failures degrade the
// device; any success recovers it.
func (w *worker) pingOnce() {
	ctx, cancel := context.WithTimeout(w.ctx, w.callTimeout)
	defer cancel()

	if err := w.backend.Ping(ctx); err != nil {
		w.mu.Lock()
		w.pingFails++
		fails := w.pingFails
		w.mu.Unlock()
		w.metrics.update(func(m *Metrics) { m.PingFailures++ })
		if fails >= w.pingFailLimit {
			w.setState(device.StateDegraded)
		}
		return
	}

	w.mu.Lock()
	w.pingFails = 0
	w.dev.LastSeen = time.Now()
	w.mu.Unlock()
	w.setState(device.StateConnected)
}
