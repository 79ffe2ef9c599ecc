package scheduler

import (
	"sync"

	"github.com/lumibeat/lumibeat/internal/device"
)

// outbox is the bounded per-device command queue. Commands coalesce by
// verb: a queued entry with the same verb is overwritten in place, so
// only the newest value per verb is ever delivered while inter-verb
// order is preserved. When the queue is full of distinct verbs the
// oldest entry is shed — a stale colour is worthless.
type outbox struct {
	mu    sync.Mutex
	limit int
	items []device.Command
}

func newOutbox(limit int) *outbox {
	if limit < 1 {
		limit = 1
	}
	return &outbox{limit: limit, items: make([]device.Command, 0, limit)}
}

// push enqueues a command, reporting whether it replaced a same-verb
// entry and whether the head had to be dropped to make room.
func (o *outbox) push(cmd device.Command) (coalesced, droppedHead bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	for i := range o.items {
		if o.items[i].Verb == cmd.Verb {
			o.items[i] = cmd
			return true, false
		}
	}

	if len(o.items) >= o.limit {
		copy(o.items, o.items[1:])
		o.items[len(o.items)-1] = cmd
		return false, true
	}

	o.items = append(o.items, cmd)
	return false, false
}

// pop removes and returns the oldest command.
func (o *outbox) pop() (device.Command, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if len(o.items) == 0 {
		return device.Command{}, false
	}
	cmd := o.items[0]
	copy(o.items, o.items[1:])
	o.items = o.items[:len(o.items)-1]
	return cmd, true
}

func (o *outbox) len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.items)
}
