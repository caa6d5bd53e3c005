package session

import (
	"testing"

	"chatsync/pkg/models"
)

func TestInsertDuplicateKey(t *testing.T) {
	s := NewStore()
	if !s.Insert(1, models.Message{Key: "a", Role: models.RoleUser, Content: "hi"}) {
		t.Fatalf("first insert rejected")
	}
	if s.Insert(1, models.Message{Key: "a", Role: models.RoleUser, Content: "other"}) {
		t.Fatalf("duplicate key accepted")
	}
	m, ok := s.Get(1, "a")
	if !ok || m.Content != "hi" {
		t.Fatalf("original message not preserved: %+v", m)
	}
}

func TestMessagesOrdering(t *testing.T) {
	s := NewStore()
	// durable ids out of arrival order, plus two unstamped entries
	s.Insert(1, models.Message{Key: "c", MessageID: 3})
	s.Insert(1, models.Message{Key: "a", MessageID: 1})
	s.Insert(1, models.Message{Key: "x"})
	s.Insert(1, models.Message{Key: "b", MessageID: 2})
	s.Insert(1, models.Message{Key: "y"})

	got := s.Messages(1)
	want := []string{"a", "b", "c", "x", "y"}
	if len(got) != len(want) {
		t.Fatalf("got %d messages, want %d", len(got), len(want))
	}
	for i, k := range want {
		if got[i].Key != k {
			t.Fatalf("position %d: got %q, want %q", i, got[i].Key, k)
		}
	}
}

func TestMigrateFoldsIntoExisting(t *testing.T) {
	s := NewStore()
	temp := models.NewTempTaskID()
	s.Insert(temp, models.Message{Key: "local-1", Role: models.RoleUser, Content: "hi"})
	// a push event created the durable record first
	s.Insert(7, models.Message{Key: "assistant-10", Role: models.RoleAssistant, SubtaskID: 10})

	if !s.Migrate(temp, 7) {
		t.Fatalf("migrate reported no-op")
	}
	if got := s.Canonical(temp); got != 7 {
		t.Fatalf("canonical(temp) = %v, want 7", got)
	}
	msgs := s.Messages(7)
	if len(msgs) != 2 {
		t.Fatalf("expected folded conversation with 2 messages, got %d", len(msgs))
	}
	// inserts under the temp id land in the durable conversation
	s.Insert(temp, models.Message{Key: "local-2", Role: models.RoleUser})
	if len(s.Messages(7)) != 3 {
		t.Fatalf("insert under temp id did not follow forwarding")
	}
}

func TestConfirmSendStampsAndMigrates(t *testing.T) {
	s := NewStore()
	temp := models.NewTempTaskID()
	s.Insert(temp, models.Message{Key: "local-1", Role: models.RoleUser, Status: models.StatusPending, Content: "hi"})

	canonical := s.ConfirmSend(temp, "local-1", models.SendAck{TaskID: 42, SubtaskID: 9, MessageID: 5})
	if canonical != 42 {
		t.Fatalf("canonical = %v, want 42", canonical)
	}
	m, ok := s.Get(42, "local-1")
	if !ok {
		t.Fatalf("message lost in migration")
	}
	if m.SubtaskID != 9 || m.MessageID != 5 || m.Status != models.StatusCompleted {
		t.Fatalf("ack not applied: %+v", m)
	}
	if id, ok := s.Resolve(9); !ok || id != 42 {
		t.Fatalf("subtask 9 not routed to 42")
	}
}

func TestAdoptOrCreateAdoptsOrphan(t *testing.T) {
	s := NewStore()
	temp := models.NewTempTaskID()
	s.Insert(temp, models.Message{Key: "local-1", Role: models.RoleUser, Content: "hi"})

	s.AdoptOrCreate(42)
	if got := s.Canonical(temp); got != 42 {
		t.Fatalf("orphan not adopted: canonical(temp) = %v", got)
	}
	if len(s.Messages(42)) != 1 {
		t.Fatalf("orphan content not carried over")
	}
}

func TestAdoptOrCreateSkipsNonOrphan(t *testing.T) {
	s := NewStore()
	temp := models.NewTempTaskID()
	// a stamped subtask means this temp conversation belongs elsewhere
	s.Insert(temp, models.Message{Key: "local-1", Role: models.RoleUser, SubtaskID: 3})

	s.AdoptOrCreate(42)
	if got := s.Canonical(temp); got != temp {
		t.Fatalf("non-orphan adopted: canonical(temp) = %v", got)
	}
	if len(s.Messages(42)) != 0 {
		t.Fatalf("expected fresh empty conversation under 42")
	}
}

func TestTruncateFrom(t *testing.T) {
	s := NewStore()
	s.Insert(1, models.Message{Key: "a", MessageID: 1})
	s.Insert(1, models.Message{Key: "b", MessageID: 2, SubtaskID: 20})
	s.Insert(1, models.Message{Key: "c", MessageID: 3, SubtaskID: 30})
	s.Insert(1, models.Message{Key: "pending"}) // no durable id yet

	if n := s.TruncateFrom(1, 2); n != 2 {
		t.Fatalf("removed %d, want 2", n)
	}
	msgs := s.Messages(1)
	if len(msgs) != 2 {
		t.Fatalf("kept %d messages, want 2", len(msgs))
	}
	if msgs[0].Key != "a" || msgs[1].Key != "pending" {
		t.Fatalf("wrong survivors: %q %q", msgs[0].Key, msgs[1].Key)
	}
	// routing for removed turns is gone, so late events cannot resurrect them
	if _, ok := s.Resolve(20); ok {
		t.Fatalf("subtask 20 still routed after truncation")
	}
	if _, ok := s.Resolve(30); ok {
		t.Fatalf("subtask 30 still routed after truncation")
	}
}

func TestStreamingSubtask(t *testing.T) {
	s := NewStore()
	s.Insert(1, models.Message{Key: "assistant-1", Role: models.RoleAssistant, Status: models.StatusCompleted, SubtaskID: 1})
	s.Insert(1, models.Message{Key: "assistant-2", Role: models.RoleAssistant, Status: models.StatusStreaming, SubtaskID: 2})
	st, ok := s.StreamingSubtask(1)
	if !ok || st != 2 {
		t.Fatalf("streaming subtask = %v %v, want 2 true", st, ok)
	}
}

func TestResetDropsRouting(t *testing.T) {
	s := NewStore()
	s.Insert(1, models.Message{Key: "assistant-5", SubtaskID: 5})
	s.Reset(1)
	if len(s.Messages(1)) != 0 {
		t.Fatalf("messages survived reset")
	}
	if _, ok := s.Resolve(5); ok {
		t.Fatalf("routing survived reset")
	}
}
