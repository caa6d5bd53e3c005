package session

import (
	"sort"
	"sync"

	"chatsync/pkg/logger"
	"chatsync/pkg/models"
)

// entry wraps a stored message with its insertion sequence. The sequence
// is the tie-breaker when ordering messages that have no durable
// message id yet.
type entry struct {
	m   models.Message
	seq uint64
}

// conversation is one task's ordered message collection.
type conversation struct {
	id    models.TaskID
	title string
	shell string
	byKey map[string]*entry
	order []*entry
}

// Store is the authoritative in-memory view of all open conversations.
// Every mutation happens inside one critical section, so each exported
// method is a single atomic state transition; callers racing each other
// (send ack vs push start vs snapshot sync) rely on the idempotent merge
// rules built into those transitions rather than on any ordering.
type Store struct {
	mu        sync.Mutex
	convos    map[models.TaskID]*conversation
	bySubtask map[models.SubtaskID]models.TaskID
	forward   map[models.TaskID]models.TaskID // temp id -> durable id
	seq       uint64
}

func NewStore() *Store {
	return &Store{
		convos:    make(map[models.TaskID]*conversation),
		bySubtask: make(map[models.SubtaskID]models.TaskID),
		forward:   make(map[models.TaskID]models.TaskID),
	}
}

// canonicalLocked follows the temp->durable forwarding chain.
func (s *Store) canonicalLocked(id models.TaskID) models.TaskID {
	for {
		d, ok := s.forward[id]
		if !ok {
			return id
		}
		id = d
	}
}

// convLocked returns the conversation for id, creating it if missing.
func (s *Store) convLocked(id models.TaskID) *conversation {
	id = s.canonicalLocked(id)
	c, ok := s.convos[id]
	if !ok {
		c = &conversation{id: id, byKey: make(map[string]*entry)}
		s.convos[id] = c
		conversationsGauge.Inc()
	}
	return c
}

// Canonical resolves a possibly temporary task id to its durable id.
func (s *Store) Canonical(id models.TaskID) models.TaskID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.canonicalLocked(id)
}

// Migrate moves all state held under temp to durable and records the
// forwarding so later lookups under the temp id resolve. If a record
// already exists under the durable id (a push event won the race), the
// temp messages are folded into it instead of replacing it.
func (s *Store) Migrate(temp, durable models.TaskID) bool {
	if temp == durable || durable <= 0 {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.migrateLocked(temp, durable)
}

func (s *Store) migrateLocked(temp, durable models.TaskID) bool {
	src, ok := s.convos[temp]
	if !ok {
		s.forward[temp] = durable
		return false
	}
	delete(s.convos, temp)
	if dst, exists := s.convos[durable]; exists {
		for _, e := range src.order {
			if _, dup := dst.byKey[e.m.Key]; dup {
				continue
			}
			dst.byKey[e.m.Key] = e
			dst.order = append(dst.order, e)
		}
		if dst.shell == "" {
			dst.shell = src.shell
		}
		if dst.title == "" {
			dst.title = src.title
		}
		conversationsGauge.Dec()
	} else {
		src.id = durable
		s.convos[durable] = src
	}
	s.forward[temp] = durable
	for st, t := range s.bySubtask {
		if t == temp {
			s.bySubtask[st] = durable
		}
	}
	migrationsTotal.Inc()
	logger.Debug("task_id_migrated", "temp", temp, "durable", durable)
	return true
}

// AdoptOrCreate ensures a conversation exists for a durable id. If none
// does but an orphaned temp-keyed conversation exists (negative id, no
// turn id assigned yet), that state is migrated in place instead of
// creating a duplicate record. Handles the start-before-ack race.
func (s *Store) AdoptOrCreate(durable models.TaskID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.convos[s.canonicalLocked(durable)]; ok {
		return
	}
	if durable > 0 {
		for id, c := range s.convos {
			if !id.Temp() || s.forward[id] != 0 {
				continue
			}
			if orphanLocked(c) {
				s.migrateLocked(id, durable)
				return
			}
		}
	}
	s.convLocked(durable)
}

// orphanLocked reports whether no message in c has a server turn id yet.
func orphanLocked(c *conversation) bool {
	for _, e := range c.order {
		if e.m.SubtaskID != 0 {
			return false
		}
	}
	return true
}

// RegisterSubtask records the turn -> conversation mapping used to route
// chunk/done/error events that carry only a subtask id.
func (s *Store) RegisterSubtask(st models.SubtaskID, id models.TaskID) {
	if st == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bySubtask[st] = s.canonicalLocked(id)
}

// Resolve maps a subtask id to its conversation, following any
// temp->durable forwarding recorded since registration.
func (s *Store) Resolve(st models.SubtaskID) (models.TaskID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.bySubtask[st]
	if !ok {
		return 0, false
	}
	return s.canonicalLocked(id), true
}

// Insert adds a message if no entry with the same key exists. Returns
// false on duplicate keys, which makes repeated inserts idempotent.
func (s *Store) Insert(id models.TaskID, m models.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.convLocked(id)
	if _, dup := c.byKey[m.Key]; dup {
		return false
	}
	s.seq++
	e := &entry{m: m, seq: s.seq}
	c.byKey[m.Key] = e
	c.order = append(c.order, e)
	if m.SubtaskID != 0 {
		s.bySubtask[m.SubtaskID] = c.id
	}
	messagesGauge.Inc()
	return true
}

// Update mutates the message under key through fn inside the store lock.
// Returns false when the key is unknown (for example after a truncation
// removed it), in which case fn is not called.
func (s *Store) Update(id models.TaskID, key string, fn func(*models.Message)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convos[s.canonicalLocked(id)]
	if !ok {
		return false
	}
	e, ok := c.byKey[key]
	if !ok {
		return false
	}
	fn(&e.m)
	if e.m.SubtaskID != 0 {
		s.bySubtask[e.m.SubtaskID] = c.id
	}
	return true
}

// Get returns a copy of the message under key.
func (s *Store) Get(id models.TaskID, key string) (models.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convos[s.canonicalLocked(id)]
	if !ok {
		return models.Message{}, false
	}
	e, ok := c.byKey[key]
	if !ok {
		return models.Message{}, false
	}
	return e.m, true
}

// ConfirmSend applies a successful send acknowledgment: the optimistic
// user message is stamped with its server identity and completed, and if
// the conversation was created under a temporary id all of its state is
// migrated to the durable id. Both happen in one transition so an
// incoming push event for the durable id cannot observe a half-migrated
// store. Returns the canonical task id.
func (s *Store) ConfirmSend(usedID models.TaskID, key string, ack models.SendAck) models.TaskID {
	s.mu.Lock()
	defer s.mu.Unlock()
	if usedID != ack.TaskID && ack.TaskID > 0 {
		s.migrateLocked(usedID, ack.TaskID)
	}
	canonical := s.canonicalLocked(ack.TaskID)
	if c, ok := s.convos[canonical]; ok {
		if e, ok := c.byKey[key]; ok {
			e.m.SubtaskID = ack.SubtaskID
			e.m.MessageID = ack.MessageID
			e.m.Status = models.StatusCompleted
		}
	}
	if ack.SubtaskID != 0 {
		s.bySubtask[ack.SubtaskID] = canonical
	}
	return canonical
}

// Messages returns the conversation's messages in display order: durable
// message id ascending, entries without one after all that have one,
// ties stable by insertion.
func (s *Store) Messages(id models.TaskID) []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convos[s.canonicalLocked(id)]
	if !ok {
		return nil
	}
	out := make([]*entry, len(c.order))
	copy(out, c.order)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.m.MessageID != 0 && b.m.MessageID != 0 {
			if a.m.MessageID != b.m.MessageID {
				return a.m.MessageID < b.m.MessageID
			}
			return a.seq < b.seq
		}
		if a.m.MessageID != 0 {
			return true
		}
		if b.m.MessageID != 0 {
			return false
		}
		return a.seq < b.seq
	})
	msgs := make([]models.Message, len(out))
	for i, e := range out {
		msgs[i] = e.m
	}
	return msgs
}

// CountRole counts messages with the given role.
func (s *Store) CountRole(id models.TaskID, role models.Role) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convos[s.canonicalLocked(id)]
	if !ok {
		return 0
	}
	n := 0
	for _, e := range c.order {
		if e.m.Role == role {
			n++
		}
	}
	return n
}

// StreamingSubtask returns the subtask id of the most recently started
// assistant message still in streaming state, if any.
func (s *Store) StreamingSubtask(id models.TaskID) (models.SubtaskID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convos[s.canonicalLocked(id)]
	if !ok {
		return 0, false
	}
	for i := len(c.order) - 1; i >= 0; i-- {
		m := c.order[i].m
		if m.Role == models.RoleAssistant && m.Status == models.StatusStreaming {
			return m.SubtaskID, true
		}
	}
	return 0, false
}

// MessageIDOf looks up the durable message id recorded for a turn,
// checking both the assistant and the synced-user slot.
func (s *Store) MessageIDOf(id models.TaskID, st models.SubtaskID) (models.MessageID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convos[s.canonicalLocked(id)]
	if !ok {
		return 0, false
	}
	for _, key := range []string{models.AssistantKey(st), models.UserSyncKey(st)} {
		if e, ok := c.byKey[key]; ok && e.m.MessageID != 0 {
			return e.m.MessageID, true
		}
	}
	// optimistic user message stamped in place keeps its local key
	for _, e := range c.order {
		if e.m.SubtaskID == st && e.m.MessageID != 0 {
			return e.m.MessageID, true
		}
	}
	return 0, false
}

// TruncateFrom removes every message whose durable message id is greater
// than or equal to cut. Messages with no message id yet cannot be
// ordered against the cut point and are conservatively retained.
func (s *Store) TruncateFrom(id models.TaskID, cut models.MessageID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convos[s.canonicalLocked(id)]
	if !ok {
		return 0
	}
	n := s.removeLocked(c, func(m models.Message) bool {
		return m.MessageID != 0 && m.MessageID >= cut
	})
	if n > 0 {
		truncationsTotal.Inc()
		logger.Info("history_truncated", "task", c.id, "cut", cut, "removed", n)
	}
	return n
}

// RemoveWhere removes messages matching pred. Used by the reconciler's
// force-clean sweep.
func (s *Store) RemoveWhere(id models.TaskID, pred func(models.Message) bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convos[s.canonicalLocked(id)]
	if !ok {
		return 0
	}
	return s.removeLocked(c, pred)
}

func (s *Store) removeLocked(c *conversation, pred func(models.Message) bool) int {
	kept := c.order[:0]
	removed := 0
	for _, e := range c.order {
		if pred(e.m) {
			delete(c.byKey, e.m.Key)
			if e.m.SubtaskID != 0 {
				delete(s.bySubtask, e.m.SubtaskID)
			}
			removed++
			continue
		}
		kept = append(kept, e)
	}
	c.order = kept
	messagesGauge.Sub(float64(removed))
	return removed
}

// Reset drops a conversation entirely.
func (s *Store) Reset(id models.TaskID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	canonical := s.canonicalLocked(id)
	c, ok := s.convos[canonical]
	if !ok {
		return
	}
	for _, e := range c.order {
		if e.m.SubtaskID != 0 {
			delete(s.bySubtask, e.m.SubtaskID)
		}
	}
	messagesGauge.Sub(float64(len(c.order)))
	conversationsGauge.Dec()
	delete(s.convos, canonical)
}

// SetShell records the engine discriminator for a conversation.
func (s *Store) SetShell(id models.TaskID, shell string) {
	if shell == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.convLocked(id).shell = shell
}

// Shell returns the recorded engine discriminator.
func (s *Store) Shell(id models.TaskID) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convos[s.canonicalLocked(id)]
	if !ok {
		return ""
	}
	return c.shell
}

// Tasks lists the ids of all conversations currently held.
func (s *Store) Tasks() []models.TaskID {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.TaskID, 0, len(s.convos))
	for id := range s.convos {
		out = append(out, id)
	}
	return out
}
