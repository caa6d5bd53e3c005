package ingest

import (
	"time"

	"chatsync/pkg/logger"
	"chatsync/pkg/models"
	"chatsync/pkg/session"
)

// Callbacks are side effects the reducers may trigger. All fields are
// optional.
type Callbacks struct {
	// OnTurnError fires when a turn fails, either via an error event or
	// a done event with an embedded error.
	OnTurnError func(task models.TaskID, subtask models.SubtaskID, msg string)
}

// Applier holds the reducers that fold push-channel events into the
// session store. Every reducer is idempotent and order-tolerant: events
// for unknown turns are allocated lazily when they carry a conversation
// hint, events for truncated turns are no-ops, and duplicates merge
// instead of double-applying.
type Applier struct {
	store *session.Store
	cb    Callbacks
}

func NewApplier(store *session.Store, cb Callbacks) *Applier {
	return &Applier{store: store, cb: cb}
}

// Start records the beginning of an AI turn. If no conversation exists
// under the event's task id, an orphaned temp-keyed conversation is
// migrated in place (the server can begin generating before the send ack
// reaches this client).
func (a *Applier) Start(ev models.StartEvent) {
	a.store.AdoptOrCreate(ev.TaskID)
	a.store.SetShell(ev.TaskID, ev.Shell)
	a.store.RegisterSubtask(ev.SubtaskID, ev.TaskID)
	m := models.Message{
		Key:       models.AssistantKey(ev.SubtaskID),
		Role:      models.RoleAssistant,
		Status:    models.StatusStreaming,
		SubtaskID: ev.SubtaskID,
		TS:        time.Now().UnixMilli(),
		Aux:       models.AuxPayload{Shell: ev.Shell},
	}
	// duplicate start for a known turn is a no-op; in particular it must
	// not reopen a turn that already completed out of order
	if !a.store.Insert(ev.TaskID, m) {
		duplicatesTotal.Inc()
	}
	eventsTotal.WithLabelValues(models.EventStart).Inc()
}

// Chunk appends an increment to a streaming turn, applying the offset
// correction when the server declares one.
func (a *Applier) Chunk(ev models.ChunkEvent) {
	eventsTotal.WithLabelValues(models.EventChunk).Inc()
	id, ok := a.store.Resolve(ev.SubtaskID)
	if !ok {
		// turn unknown and no conversation hint on chunk events; the
		// matching message may have been truncated away
		unroutedTotal.Inc()
		logger.Debug("chunk_unrouted", "subtask", ev.SubtaskID)
		return
	}
	key := models.AssistantKey(ev.SubtaskID)
	updated := a.store.Update(id, key, func(m *models.Message) {
		a.applyDelta(m, ev.Delta, ev.Offset)
		if ev.Aux != nil {
			m.Aux.Merge(*ev.Aux)
		}
		m.Aux.SetCitations(ev.Citations)
		if m.Status == models.StatusPending {
			m.Status = models.StatusStreaming
		}
	})
	if !updated {
		// the lookup table knows the turn but the slot is gone: allocate
		// it lazily with the inferred role
		a.store.Insert(id, models.Message{
			Key:       key,
			Role:      models.RoleAssistant,
			Status:    models.StatusStreaming,
			Content:   ev.Delta,
			SubtaskID: ev.SubtaskID,
			TS:        time.Now().UnixMilli(),
		})
	}
}

// applyDelta implements the offset rule: offset==len appends, a lower
// offset replaces from that point (server resend after partial
// delivery), a gap appends defensively rather than dropping data.
func (a *Applier) applyDelta(m *models.Message, delta string, offset *int) {
	if offset == nil {
		m.Content += delta
		return
	}
	off := *offset
	switch {
	case off == len(m.Content):
		m.Content += delta
	case off < len(m.Content):
		m.Content = m.Content[:off] + delta
	default:
		offsetGapsTotal.Inc()
		logger.Warn("chunk_offset_gap", "subtask", m.SubtaskID, "offset", off, "have", len(m.Content))
		m.Content += delta
	}
}

// Done closes a turn. The final payload is authoritative over the
// accumulated streaming content; an embedded error makes the turn fail.
func (a *Applier) Done(ev models.DoneEvent) {
	eventsTotal.WithLabelValues(models.EventDone).Inc()
	id, ok := a.store.Resolve(ev.SubtaskID)
	if !ok {
		if ev.TaskID == 0 {
			unroutedTotal.Inc()
			logger.Debug("done_unrouted", "subtask", ev.SubtaskID)
			return
		}
		a.store.AdoptOrCreate(ev.TaskID)
		a.store.RegisterSubtask(ev.SubtaskID, ev.TaskID)
		id = a.store.Canonical(ev.TaskID)
		a.store.Insert(id, models.Message{
			Key:       models.AssistantKey(ev.SubtaskID),
			Role:      models.RoleAssistant,
			Status:    models.StatusStreaming,
			SubtaskID: ev.SubtaskID,
			TS:        time.Now().UnixMilli(),
		})
	}
	failed := false
	a.store.Update(id, models.AssistantKey(ev.SubtaskID), func(m *models.Message) {
		if ev.Final.Err != "" {
			failed = m.Status != models.StatusError
			m.Status = models.StatusError
			m.Err = ev.Final.Err
		} else {
			m.Status = models.StatusCompleted
			if ev.Final.Value != "" {
				m.Content = ev.Final.Value
			}
		}
		if ev.MessageID != 0 {
			m.MessageID = ev.MessageID
		}
		if ev.Final.Aux != nil {
			m.Aux.Merge(*ev.Final.Aux)
		}
		m.Aux.SetCitations(ev.Citations)
	})
	if failed && a.cb.OnTurnError != nil {
		a.cb.OnTurnError(id, ev.SubtaskID, ev.Final.Err)
	}
}

// Error marks a turn failed with the server-supplied text. A previously
// stamped message id is retained when the event carries none.
func (a *Applier) Error(ev models.ErrorEvent) {
	eventsTotal.WithLabelValues(models.EventError).Inc()
	id, ok := a.store.Resolve(ev.SubtaskID)
	if !ok {
		unroutedTotal.Inc()
		logger.Debug("error_unrouted", "subtask", ev.SubtaskID)
		return
	}
	failed := false
	a.store.Update(id, models.AssistantKey(ev.SubtaskID), func(m *models.Message) {
		failed = m.Status != models.StatusError
		m.Status = models.StatusError
		m.Err = ev.Message
		if ev.MessageID != 0 {
			m.MessageID = ev.MessageID
		}
	})
	// a replayed error event must not notify twice
	if failed && a.cb.OnTurnError != nil {
		a.cb.OnTurnError(id, ev.SubtaskID, ev.Message)
	}
}

// Cancelled resolves a streaming turn to completed, keeping the content
// accumulated up to the stop point. Distinct from error.
func (a *Applier) Cancelled(ev models.CancelledEvent) {
	eventsTotal.WithLabelValues(models.EventCancelled).Inc()
	id, ok := a.store.Resolve(ev.SubtaskID)
	if !ok {
		if ev.TaskID == 0 {
			unroutedTotal.Inc()
			return
		}
		id = a.store.Canonical(ev.TaskID)
	}
	a.store.Update(id, models.AssistantKey(ev.SubtaskID), func(m *models.Message) {
		if m.Status == models.StatusStreaming || m.Status == models.StatusPending {
			m.Status = models.StatusCompleted
		}
	})
}

// Foreign inserts a turn authored by another participant. Deduplicated
// by the deterministic key: an already-present turn is left untouched.
func (a *Applier) Foreign(ev models.ForeignMessageEvent) {
	eventsTotal.WithLabelValues(models.EventForeign).Inc()
	a.store.AdoptOrCreate(ev.TaskID)
	a.store.RegisterSubtask(ev.SubtaskID, ev.TaskID)
	m := models.Message{
		Key:         models.SnapshotKey(ev.Role, ev.SubtaskID),
		Role:        ev.Role,
		Status:      models.StatusCompleted,
		Content:     ev.Content,
		SubtaskID:   ev.SubtaskID,
		MessageID:   ev.MessageID,
		TS:          ev.CreatedTS,
		Sender:      ev.Sender,
		Attachments: ev.Attachments,
		Contexts:    ev.Contexts,
	}
	if !a.store.Insert(ev.TaskID, m) {
		duplicatesTotal.Inc()
	}
}
