package reconcile

import (
	"time"

	"chatsync/pkg/logger"
	"chatsync/pkg/models"
	"chatsync/pkg/session"
)

// Recovery re-attaches to a turn the server reports as currently being
// generated, on reconnect or on mount. The server's low-latency cache,
// an already-reconciled snapshot and live events all update on
// independent schedules and none is unconditionally authoritative; the
// rule is "longest known content wins, status always reflects the latest
// lifecycle signal".
type Recovery struct {
	store *session.Store
}

func NewRecovery(store *session.Store) *Recovery {
	return &Recovery{store: store}
}

// Resume applies streaming info reported on room join. If local content
// for the turn is at least as long as the cache's, only the status flips
// to streaming; otherwise the cached content becomes the new baseline.
func (rec *Recovery) Resume(id models.TaskID, info models.StreamingInfo) {
	if info.SubtaskID == 0 {
		return
	}
	id = rec.store.Canonical(id)
	rec.store.AdoptOrCreate(id)
	rec.store.RegisterSubtask(info.SubtaskID, id)
	key := models.AssistantKey(info.SubtaskID)

	updated := rec.store.Update(id, key, func(m *models.Message) {
		if len(info.CachedContent) > len(m.Content) {
			m.Content = info.CachedContent
		}
		m.Status = models.StatusStreaming
	})
	if !updated {
		rec.store.Insert(id, models.Message{
			Key:       key,
			Role:      models.RoleAssistant,
			Status:    models.StatusStreaming,
			Content:   info.CachedContent,
			SubtaskID: info.SubtaskID,
			TS:        time.Now().UnixMilli(),
		})
	}
	resumesTotal.Inc()
	logger.Info("stream_resumed", "task", id, "subtask", info.SubtaskID, "cached_len", len(info.CachedContent))
}
