package ingest

import (
	"context"
	"encoding/json"

	"chatsync/pkg/logger"
	"chatsync/pkg/models"
)

// Dispatcher decodes queued push-channel frames and routes each to its
// reducer. One consumer goroutine runs the loop, so reducer application
// is serialized in arrival order; the connection's read loop only ever
// touches the non-blocking queue.
type Dispatcher struct {
	q  *Queue
	ap *Applier
}

func NewDispatcher(q *Queue, ap *Applier) *Dispatcher {
	return &Dispatcher{q: q, ap: ap}
}

// EventNames lists every push event the dispatcher consumes.
func EventNames() []string {
	return []string{
		models.EventStart,
		models.EventChunk,
		models.EventDone,
		models.EventError,
		models.EventCancelled,
		models.EventForeign,
	}
}

// Bind subscribes the dispatcher to a push-event source. The handler
// only enqueues; overflow is logged and dropped.
func (d *Dispatcher) Bind(subscribe func(event string, fn func(payload json.RawMessage))) {
	for _, name := range EventNames() {
		name := name
		subscribe(name, func(payload json.RawMessage) {
			if err := d.q.TryEnqueue(name, payload); err != nil {
				logger.Warn("event_dropped", "event", name, "err", err)
			}
		})
	}
}

// Run consumes the queue until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case it := <-d.q.Out():
			d.Apply(it.Ev.Name, it.Ev.Payload)
			it.Done()
		}
	}
}

// Apply decodes one frame and invokes the matching reducer. Malformed
// payloads are logged and skipped; a display glitch is preferable to
// crashing the session.
func (d *Dispatcher) Apply(name string, payload []byte) {
	switch name {
	case models.EventStart:
		var ev models.StartEvent
		if decode(name, payload, &ev) {
			d.ap.Start(ev)
		}
	case models.EventChunk:
		var ev models.ChunkEvent
		if decode(name, payload, &ev) {
			d.ap.Chunk(ev)
		}
	case models.EventDone:
		var ev models.DoneEvent
		if decode(name, payload, &ev) {
			d.ap.Done(ev)
		}
	case models.EventError:
		var ev models.ErrorEvent
		if decode(name, payload, &ev) {
			d.ap.Error(ev)
		}
	case models.EventCancelled:
		var ev models.CancelledEvent
		if decode(name, payload, &ev) {
			d.ap.Cancelled(ev)
		}
	case models.EventForeign:
		var ev models.ForeignMessageEvent
		if decode(name, payload, &ev) {
			d.ap.Foreign(ev)
		}
	default:
		logger.Debug("event_unknown", "event", name)
	}
}

func decode(name string, payload []byte, v any) bool {
	if err := json.Unmarshal(payload, v); err != nil {
		logger.Error("event_decode_failed", "event", name, "err", err)
		return false
	}
	return true
}
