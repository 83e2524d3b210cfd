package streaming

import (
	"context"
	"sync"
	"sync/atomic"
)

const subscriberBuffer = 64

type subscription struct {
	ch     chan ExecutionEvent
	filter Filter
}

// MemoryHub is the in-process Hub implementation. Delivery is best-effort:
// a subscriber whose buffer is full misses the event rather than blocking the
// publisher, which sits on the execution hot path.
type MemoryHub struct {
	mu   sync.RWMutex
	subs map[uint64]*subscription
	next atomic.Uint64
}

// NewMemoryHub creates an empty MemoryHub.
func NewMemoryHub() *MemoryHub {
	return &MemoryHub{subs: make(map[uint64]*subscription)}
}

// Publish fans the event out to every subscriber whose filter matches.
func (h *MemoryHub) Publish(ctx context.Context, event ExecutionEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subs {
		if !sub.filter.matches(event) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			// Slow subscriber: drop rather than stall the run.
		}
	}
	return nil
}

// Subscribe registers a filtered subscription. The returned cancel func must
// be called to release it.
func (h *MemoryHub) Subscribe(ctx context.Context, filter Filter) (<-chan ExecutionEvent, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	id := h.next.Add(1)
	ch := make(chan ExecutionEvent, subscriberBuffer)

	h.mu.Lock()
	h.subs[id] = &subscription{ch: ch, filter: filter}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		delete(h.subs, id)
		h.mu.Unlock()
	}
	return ch, cancel, nil
}

func (f Filter) matches(e ExecutionEvent) bool {
	if f.WorkflowID != "" && f.WorkflowID != e.WorkflowID {
		return false
	}
	if f.ExecutionID != "" && f.ExecutionID != e.ExecutionID {
		return false
	}
	if len(f.Events) == 0 {
		return true
	}
	for _, name := range f.Events {
		if name == e.Event {
			return true
		}
	}
	return false
}
