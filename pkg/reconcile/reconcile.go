package reconcile

import (
	"chatsync/pkg/logger"
	"chatsync/pkg/models"
	"chatsync/pkg/session"
)

// Reconciler merges durable snapshots into the live session store
// without regressing fresher live data. All rules are idempotent, so a
// snapshot racing the send ack or a push event converges to the same
// store either way.
type Reconciler struct {
	store *session.Store
}

func New(store *session.Store) *Reconciler {
	return &Reconciler{store: store}
}

// Apply folds a snapshot's turns into the conversation. With force set,
// entries whose turn no longer appears in the snapshot are removed —
// used after an edit truncation so no stale entries survive a race with
// the next sync.
func (r *Reconciler) Apply(id models.TaskID, turns []models.Turn, force bool) {
	id = r.store.Canonical(id)
	r.store.AdoptOrCreate(id)

	// guard against re-inserting a user turn whose optimistic message
	// has not been stamped with its subtask id yet
	snapshotUsers := 0
	for _, t := range turns {
		if t.Role == models.RoleUser {
			snapshotUsers++
		}
	}
	localUsers := r.store.CountRole(id, models.RoleUser)

	for _, t := range turns {
		r.applyTurn(id, t, &localUsers, snapshotUsers)
	}

	if force {
		present := make(map[models.SubtaskID]struct{}, len(turns))
		for _, t := range turns {
			present[t.SubtaskID] = struct{}{}
		}
		removed := r.store.RemoveWhere(id, func(m models.Message) bool {
			if m.SubtaskID == 0 {
				return false
			}
			_, ok := present[m.SubtaskID]
			return !ok
		})
		if removed > 0 {
			logger.Info("snapshot_force_clean", "task", id, "removed", removed)
		}
	}
	reconcileRunsTotal.Inc()
}

func (r *Reconciler) applyTurn(id models.TaskID, t models.Turn, localUsers *int, snapshotUsers int) {
	// queued turns are not shown until they start running
	if t.Status == models.TurnQueued {
		return
	}
	key := models.SnapshotKey(t.Role, t.SubtaskID)
	r.store.RegisterSubtask(t.SubtaskID, id)

	if _, ok := r.store.Get(id, key); ok {
		r.backfill(id, key, t)
		return
	}

	// a user message confirmed by the send ack keeps its local key, so
	// it does not resolve under the snapshot key; count-compare instead
	// of inserting a duplicate
	if t.Role == models.RoleUser && *localUsers >= snapshotUsers {
		return
	}

	m := models.Message{
		Key:         key,
		Role:        t.Role,
		Content:     t.Content,
		SubtaskID:   t.SubtaskID,
		MessageID:   t.MessageID,
		TS:          t.CreatedTS,
		Sender:      t.Sender,
		Attachments: t.Attachments,
		Contexts:    t.Contexts,
	}
	switch t.Status {
	case models.TurnRunning:
		// makes an in-flight response visible right after a reload,
		// before any push event arrives
		m.Status = models.StatusStreaming
	case models.TurnFailed, models.TurnCancelled:
		m.Status = models.StatusError
		m.Err = t.Err
	default:
		m.Status = models.StatusCompleted
	}
	if r.store.Insert(id, m) && t.Role == models.RoleUser {
		*localUsers++
	}
}

// backfill updates an existing live entry from a snapshot turn. Live
// content wins unless the snapshot's is strictly longer (monotonicity
// guard: the durable write-back may lag the live cache), and a live
// error's text takes precedence over the durable failure record.
func (r *Reconciler) backfill(id models.TaskID, key string, t models.Turn) {
	r.store.Update(id, key, func(m *models.Message) {
		if len(t.Content) > len(m.Content) {
			m.Content = t.Content
			contentAdoptedTotal.Inc()
		}
		if m.MessageID == 0 {
			m.MessageID = t.MessageID
		}
		if m.TS == 0 {
			m.TS = t.CreatedTS
		}
		if m.Sender == (models.Sender{}) {
			m.Sender = t.Sender
		}
		if len(m.Attachments) == 0 {
			m.Attachments = t.Attachments
		}
		if len(m.Contexts) == 0 {
			m.Contexts = t.Contexts
		}
		switch t.Status {
		case models.TurnRunning:
			// live lifecycle signal wins over a lagging snapshot
		case models.TurnFailed:
			if m.Status == models.StatusError && m.Err != "" {
				return
			}
			m.Status = models.StatusError
			if t.Err != "" {
				m.Err = t.Err
			}
		case models.TurnCancelled:
			// the cancelled push event already resolved this turn with
			// its partial content; a bare durable cancel record must not
			// demote that terminal state
			if m.Status.Terminal() {
				return
			}
			if t.Err != "" {
				m.Status = models.StatusError
				m.Err = t.Err
				return
			}
			m.Status = models.StatusCompleted
		case models.TurnCompleted:
			if !m.Status.Terminal() {
				m.Status = models.StatusCompleted
			}
		}
	})
}
