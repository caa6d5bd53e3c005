package ingest

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/valyala/bytebufferpool"
)

// Event is one push-channel frame awaiting application. Payload may be
// backed by a pooled buffer; consumers must call Item.Done() when done.
type Event struct {
	Name    string
	Payload []byte
	// EnqSeq is a monotonic enqueue sequence assigned on acceptance,
	// used for deterministic ordering diagnostics.
	EnqSeq uint64
}

// ErrQueueFull is returned by TryEnqueue when the queue is at capacity.
var ErrQueueFull = errors.New("ingest queue full")

// Item wraps an Event and owns a pooled ByteBuffer if one was used.
// Consumers MUST call Done() exactly once after processing.
type Item struct {
	Ev *Event

	buf  *bytebufferpool.ByteBuffer
	once sync.Once
}

// maxPooledBuffer controls the largest buffer returned to the pool.
// Larger buffers are dropped so resident memory stays bounded.
var maxPooledBuffer = 256 * 1024

// Done releases pooled resources back to their pools.
func (it *Item) Done() {
	it.once.Do(func() {
		if it.buf != nil {
			if cap(it.buf.B) > maxPooledBuffer {
				it.buf = nil
			} else {
				bytebufferpool.Put(it.buf)
				it.buf = nil
			}
		}
		if it.Ev != nil {
			it.Ev.Payload = nil
			evPool.Put(it.Ev)
			it.Ev = nil
		}
		itemPool.Put(it)
	})
}

var evPool = sync.Pool{New: func() any { return &Event{} }}
var itemPool = sync.Pool{New: func() any { return &Item{} }}

// Queue is a bounded in-memory queue between the connection's read loop
// and the reducer consumer. Enqueueing never blocks: on overflow the
// event is dropped and counted, because a display glitch is preferable
// to stalling the read loop.
type Queue struct {
	ch       chan *Item
	capacity int
	dropped  uint64
	seq      uint64
}

// NewQueue creates a bounded Queue. Capacity must be > 0.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 4096
	}
	return &Queue{ch: make(chan *Item, capacity), capacity: capacity}
}

// Out returns the read-only consumer channel. Do not close it.
func (q *Queue) Out() <-chan *Item { return q.ch }

// TryEnqueue copies payload into a pooled buffer and enqueues it. If the
// queue is full ErrQueueFull is returned and the event is counted as
// dropped.
func (q *Queue) TryEnqueue(name string, payload []byte) error {
	ev := evPool.Get().(*Event)
	ev.Name = name
	ev.EnqSeq = atomic.AddUint64(&q.seq, 1)

	var bb *bytebufferpool.ByteBuffer
	if len(payload) > 0 {
		bb = bytebufferpool.Get()
		bb.B = append(bb.B[:0], payload...)
		ev.Payload = bb.B[:len(payload)]
	} else {
		ev.Payload = nil
	}

	it := itemPool.Get().(*Item)
	*it = Item{Ev: ev, buf: bb}

	select {
	case q.ch <- it:
		return nil
	default:
		if bb != nil {
			bytebufferpool.Put(bb)
		}
		ev.Payload = nil
		evPool.Put(ev)
		atomic.AddUint64(&q.dropped, 1)
		queueDroppedTotal.Inc()
		return ErrQueueFull
	}
}

// Dropped returns the number of events rejected for lack of capacity.
func (q *Queue) Dropped() uint64 { return atomic.LoadUint64(&q.dropped) }

// Len returns the number of events currently waiting.
func (q *Queue) Len() int { return len(q.ch) }
