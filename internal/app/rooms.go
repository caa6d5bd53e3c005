package app

import (
	"fmt"
	"sync"
	"time"

	"chatsync/pkg/cache"
	"chatsync/pkg/logger"
	"chatsync/pkg/models"
)

// Rooms is the daemon's conversation state: ordered turn lists per task,
// durable id assignment and the currently running generation per room.
// The pebble log under the cache package makes it survive restarts.
type Rooms struct {
	mu          sync.Mutex
	tasks       map[models.TaskID]*taskState
	nextTask    int64
	nextSubtask int64
	log         *cache.Cache
}

type taskState struct {
	id          models.TaskID
	title       string
	turns       []models.Turn
	nextMessage int64
	running     *streamState
}

// streamState tracks an in-flight generation so late joiners can resume.
type streamState struct {
	subtask models.SubtaskID
	content string
	stop    chan struct{}
}

func NewRooms(log *cache.Cache) *Rooms {
	r := &Rooms{tasks: make(map[models.TaskID]*taskState), log: log}
	r.restore()
	return r
}

// restore reloads persisted conversations from the pebble log.
func (r *Rooms) restore() {
	if r.log == nil {
		return
	}
	ids, err := r.log.Tasks()
	if err != nil {
		logger.Warn("rooms_restore_failed", "err", err)
		return
	}
	for id := range ids {
		snap, _, ok := r.log.LoadSnapshot(id)
		if !ok {
			continue
		}
		t := &taskState{id: id, title: snap.Title, turns: snap.Turns, nextMessage: 1}
		for _, turn := range snap.Turns {
			if int64(turn.MessageID) >= t.nextMessage {
				t.nextMessage = int64(turn.MessageID) + 1
			}
			if int64(turn.SubtaskID) >= r.nextSubtask {
				r.nextSubtask = int64(turn.SubtaskID)
			}
		}
		r.tasks[id] = t
		if int64(id) > r.nextTask {
			r.nextTask = int64(id)
		}
	}
	if len(r.tasks) > 0 {
		logger.Info("rooms_restored", "tasks", len(r.tasks))
	}
}

// persistLocked writes the task's turn list to the pebble log.
func (r *Rooms) persistLocked(t *taskState) {
	if r.log == nil {
		return
	}
	turns := make([]models.Turn, len(t.turns))
	copy(turns, t.turns)
	if err := r.log.SaveSnapshot(t.id, t.title, turns); err != nil {
		logger.Warn("rooms_persist_failed", "task", t.id, "err", err)
	}
}

// Snapshot returns the durable view served over REST.
func (r *Rooms) Snapshot(id models.TaskID) (*models.Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok {
		return nil, false
	}
	turns := make([]models.Turn, len(t.turns))
	copy(turns, t.turns)
	return &models.Snapshot{TaskID: t.id, Title: t.title, Turns: turns}, true
}

// AcceptSend records a user turn, creating the task when needed, and
// returns the ack plus the assistant subtask id reserved for the reply.
func (r *Rooms) AcceptSend(req models.SendRequest) (models.SendAck, models.SubtaskID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var t *taskState
	if req.TaskID > 0 {
		t = r.tasks[req.TaskID]
	}
	if t == nil {
		r.nextTask++
		t = &taskState{id: models.TaskID(r.nextTask), title: req.Title, nextMessage: 1}
		r.tasks[t.id] = t
	}
	r.nextSubtask++
	userSubtask := models.SubtaskID(r.nextSubtask)
	userMsg := models.MessageID(t.nextMessage)
	t.nextMessage++
	t.turns = append(t.turns, models.Turn{
		Role:        models.RoleUser,
		Status:      models.TurnCompleted,
		Content:     req.Content,
		SubtaskID:   userSubtask,
		MessageID:   userMsg,
		Attachments: req.AttachmentRefs,
		CreatedTS:   time.Now().UnixMilli(),
	})
	r.nextSubtask++
	replySubtask := models.SubtaskID(r.nextSubtask)
	t.turns = append(t.turns, models.Turn{
		Role:      models.RoleAssistant,
		Status:    models.TurnQueued,
		SubtaskID: replySubtask,
		CreatedTS: time.Now().UnixMilli(),
	})
	r.persistLocked(t)
	return models.SendAck{TaskID: t.id, SubtaskID: userSubtask, MessageID: userMsg}, replySubtask
}

// BeginTurn flips a queued assistant turn to running and registers the
// stream state used for resume.
func (r *Rooms) BeginTurn(id models.TaskID, st models.SubtaskID) (chan struct{}, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok {
		return nil, fmt.Errorf("unknown task %d", id)
	}
	for i := range t.turns {
		if t.turns[i].SubtaskID == st {
			t.turns[i].Status = models.TurnRunning
			stop := make(chan struct{})
			t.running = &streamState{subtask: st, stop: stop}
			r.persistLocked(t)
			return stop, nil
		}
	}
	return nil, fmt.Errorf("unknown subtask %d", st)
}

// AppendContent accumulates streamed content and returns the offset the
// delta applies at.
func (r *Rooms) AppendContent(id models.TaskID, st models.SubtaskID, delta string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok || t.running == nil || t.running.subtask != st {
		return 0
	}
	off := len(t.running.content)
	t.running.content += delta
	return off
}

// FinishTurn finalizes a running turn and returns its message id.
func (r *Rooms) FinishTurn(id models.TaskID, st models.SubtaskID, status models.TurnStatus, content, errText string) models.MessageID {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok {
		return 0
	}
	var msgID models.MessageID
	for i := range t.turns {
		if t.turns[i].SubtaskID != st {
			continue
		}
		msgID = models.MessageID(t.nextMessage)
		t.nextMessage++
		t.turns[i].Status = status
		t.turns[i].Content = content
		t.turns[i].MessageID = msgID
		t.turns[i].Err = errText
		break
	}
	if t.running != nil && t.running.subtask == st {
		t.running = nil
	}
	r.persistLocked(t)
	return msgID
}

// Running reports the stream state for a room, if a turn is in flight.
func (r *Rooms) Running(id models.TaskID) *models.StreamingInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok || t.running == nil {
		return nil
	}
	return &models.StreamingInfo{
		SubtaskID:     t.running.subtask,
		Offset:        len(t.running.content),
		CachedContent: t.running.content,
	}
}

// StopRunning signals the responder for st to stop. Returns false when
// nothing is in flight for it.
func (r *Rooms) StopRunning(id models.TaskID, st models.SubtaskID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok || t.running == nil || t.running.subtask != st {
		return false
	}
	select {
	case <-t.running.stop:
	default:
		close(t.running.stop)
	}
	return true
}

// TaskOf finds the room containing a subtask.
func (r *Rooms) TaskOf(st models.SubtaskID) (models.TaskID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, t := range r.tasks {
		for i := range t.turns {
			if t.turns[i].SubtaskID == st {
				return id, true
			}
		}
	}
	return 0, false
}

// NewSubtask reserves a fresh subtask id in a task (used by retry).
func (r *Rooms) NewSubtask(id models.TaskID) (models.SubtaskID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok {
		return 0, fmt.Errorf("unknown task %d", id)
	}
	r.nextSubtask++
	st := models.SubtaskID(r.nextSubtask)
	t.turns = append(t.turns, models.Turn{
		Role:      models.RoleAssistant,
		Status:    models.TurnQueued,
		SubtaskID: st,
		CreatedTS: time.Now().UnixMilli(),
	})
	r.persistLocked(t)
	return st, nil
}
