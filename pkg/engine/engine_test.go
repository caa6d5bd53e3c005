package engine

import (
	"context"
	"encoding/json"
	"testing"

	"chatsync/pkg/cache"
	"chatsync/pkg/models"
)

// stubConn satisfies conn.Manager for tests that never hit the network.
type stubConn struct {
	joinAck  models.JoinAck
	joined   []models.TaskID
	left     []models.TaskID
	onReconn []func()
}

func (s *stubConn) Connected() bool { return true }

func (s *stubConn) Request(context.Context, string, any, any) error { return nil }

func (s *stubConn) Subscribe(string, func(payload json.RawMessage)) {}

func (s *stubConn) JoinRoom(_ context.Context, id models.TaskID) (*models.JoinAck, error) {
	s.joined = append(s.joined, id)
	ack := s.joinAck
	return &ack, nil
}

func (s *stubConn) LeaveRoom(_ context.Context, id models.TaskID) error {
	s.left = append(s.left, id)
	return nil
}

func (s *stubConn) OnReconnect(fn func()) { s.onReconn = append(s.onReconn, fn) }

func TestEditTruncateRemovesTurnAndEverythingAfter(t *testing.T) {
	e := New(Options{Conn: &stubConn{}})
	s := e.Store()
	s.Insert(1, models.Message{Key: "local-q1", Role: models.RoleUser, SubtaskID: 10, MessageID: 1})
	s.Insert(1, models.Message{Key: models.AssistantKey(11), Role: models.RoleAssistant, SubtaskID: 11, MessageID: 2})
	s.Insert(1, models.Message{Key: "local-q2", Role: models.RoleUser, SubtaskID: 12, MessageID: 3})
	s.Insert(1, models.Message{Key: models.AssistantKey(13), Role: models.RoleAssistant, SubtaskID: 13, MessageID: 4})

	// edit the second user turn: it and the reply after it go away
	removed, err := e.EditTruncate(1, 12)
	if err != nil {
		t.Fatalf("truncate: %v", err)
	}
	if removed != 2 {
		t.Fatalf("removed %d, want 2", removed)
	}
	msgs := e.Messages(1)
	if len(msgs) != 2 || msgs[1].MessageID != 2 {
		t.Fatalf("unexpected survivors: %+v", msgs)
	}
}

func TestEditTruncateUnknownSubtask(t *testing.T) {
	e := New(Options{Conn: &stubConn{}})
	if _, err := e.EditTruncate(1, 99); err == nil {
		t.Fatalf("expected error for unknown subtask")
	}
}

func TestOpenPaintsFromCache(t *testing.T) {
	c, err := cache.Open(t.TempDir())
	if err != nil {
		t.Fatalf("cache: %v", err)
	}
	defer c.Close()
	turns := []models.Turn{
		{Role: models.RoleUser, Status: models.TurnCompleted, Content: "cached q", SubtaskID: 10, MessageID: 1},
		{Role: models.RoleAssistant, Status: models.TurnCompleted, Content: "cached a", SubtaskID: 11, MessageID: 2},
	}
	if err := c.SaveSnapshot(7, "t", turns); err != nil {
		t.Fatalf("save: %v", err)
	}

	e := New(Options{Conn: &stubConn{}, Cache: c})
	if err := e.Open(context.Background(), 7); err != nil {
		t.Fatalf("open: %v", err)
	}
	msgs := e.Messages(7)
	if len(msgs) != 2 || msgs[0].Content != "cached q" {
		t.Fatalf("cache paint failed: %+v", msgs)
	}
}

func TestOpenResumesReportedStream(t *testing.T) {
	sc := &stubConn{joinAck: models.JoinAck{
		Streaming: &models.StreamingInfo{SubtaskID: 11, Offset: 7, CachedContent: "so far "},
	}}
	e := New(Options{Conn: sc})
	if err := e.Open(context.Background(), 7); err != nil {
		t.Fatalf("open: %v", err)
	}
	m, ok := e.Store().Get(7, models.AssistantKey(11))
	if !ok || m.Status != models.StatusStreaming || m.Content != "so far " {
		t.Fatalf("resume not applied: %+v ok=%v", m, ok)
	}
	if len(sc.joined) != 1 || sc.joined[0] != 7 {
		t.Fatalf("join not issued: %v", sc.joined)
	}
}

func TestCloseLeavesRoom(t *testing.T) {
	sc := &stubConn{}
	e := New(Options{Conn: sc})
	if err := e.Close(context.Background(), 7); err != nil {
		t.Fatalf("close: %v", err)
	}
	if len(sc.left) != 1 || sc.left[0] != 7 {
		t.Fatalf("leave not issued: %v", sc.left)
	}
}
