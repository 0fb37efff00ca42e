// Package broadcast fans progress events out to every connected subscriber.
//
// Publish never blocks: each subscriber owns a bounded buffer and an event
// that does not fit is dropped for that subscriber only. Late subscribers
// see only events published after they subscribed.
package broadcast

import (
	"sync"
	"time"

	"meeting-insight-service/internal/models"
	"meeting-insight-service/internal/observability/metrics"
)

// DefaultBuffer is the per-subscriber queue length.
const DefaultBuffer = 64

// Broadcaster is a process-wide publish/subscribe channel for progress events.
type Broadcaster struct {
	mu      sync.Mutex
	subs    map[uint64]chan models.ProgressEvent
	nextId  uint64
	buffer  int
	closed  bool
	metrics *metrics.Metrics
}

// New creates a broadcaster with the given per-subscriber buffer.
func New(buffer int) *Broadcaster {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Broadcaster{
		subs:    make(map[uint64]chan models.ProgressEvent),
		buffer:  buffer,
		metrics: metrics.DefaultMetrics,
	}
}

// Subscribe registers a new subscriber. The returned disposer removes it and
// closes the channel; calling the disposer more than once is safe.
func (b *Broadcaster) Subscribe() (<-chan models.ProgressEvent, func()) {
	ch := make(chan models.ProgressEvent, b.buffer)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := b.nextId
	b.nextId++
	b.subs[id] = ch
	n := len(b.subs)
	b.mu.Unlock()

	b.metrics.RecordSubscribers(n)

	var once sync.Once
	return ch, func() {
		once.Do(func() { b.remove(id) })
	}
}

func (b *Broadcaster) remove(id uint64) {
	b.mu.Lock()
	ch, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
		close(ch)
	}
	n := len(b.subs)
	b.mu.Unlock()

	b.metrics.RecordSubscribers(n)
}

// Publish delivers ev to every current subscriber in publish order.
func (b *Broadcaster) Publish(ev models.ProgressEvent) {
	if ev.Timestamp == 0 {
		ev.Timestamp = time.Now().UnixMilli()
	}

	dropped := 0
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			dropped++
		}
	}
	b.mu.Unlock()

	b.metrics.RecordEvent(string(ev.Status), dropped)
}

// Count returns the number of current subscribers.
func (b *Broadcaster) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close disconnects every subscriber. Later publishes are ignored.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
	b.metrics.RecordSubscribers(0)
}
