package pipeline

import (
	"sync"

	"github.com/lumibeat/lumibeat/internal/device"
	"github.com/lumibeat/lumibeat/internal/dsp"
)

// Event is one entry in the pipeline's outbound event stream.
type Event interface {
	event()
}

// CaptureErrorEvent reports a failing capture source; the pipeline is
// already reconnecting.
type CaptureErrorEvent struct {
	Err error
}

// AnalysisFrameEvent carries one feature record.
type AnalysisFrameEvent struct {
	Features dsp.Features
}

// DeviceErrorEvent reports a failed dispatch, or a failed connect at
// Start, on one device.
type DeviceErrorEvent struct {
	ID   string
	Kind device.Kind
	Err  error
}

// DeviceStateChangeEvent reports a connection state transition.
type DeviceStateChangeEvent struct {
	ID   string
	From device.State
	To   device.State
}

func (CaptureErrorEvent) event()      {}
func (AnalysisFrameEvent) event()     {}
func (DeviceErrorEvent) event()       {}
func (DeviceStateChangeEvent) event() {}

// eventBus is a bounded pull-based event queue with a drop-oldest
// overflow policy: a slow embedder loses the oldest events, never
// stalls the pipeline.
type eventBus struct {
	mu sync.Mutex
	ch chan Event
}

func newEventBus(depth int) *eventBus {
	return &eventBus{ch: make(chan Event, depth)}
}

func (b *eventBus) publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for {
		select {
		case b.ch <- e:
			return
		default:
		}
		select {
		case <-b.ch: // shed oldest
		default:
		}
	}
}

func (b *eventBus) events() <-chan Event {
	return b.ch
}
