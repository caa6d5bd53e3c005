package reconcile

import (
	"testing"

	"github.com/stretchr/testify/require"

	"chatsync/pkg/models"
	"chatsync/pkg/session"
)

func turn(role models.Role, st models.SubtaskID, msgID models.MessageID, status models.TurnStatus, content string) models.Turn {
	return models.Turn{Role: role, SubtaskID: st, MessageID: msgID, Status: status, Content: content}
}

func TestApplyInsertsSnapshotTurns(t *testing.T) {
	s := session.NewStore()
	r := New(s)
	r.Apply(1, []models.Turn{
		turn(models.RoleUser, 10, 1, models.TurnCompleted, "question"),
		turn(models.RoleAssistant, 11, 2, models.TurnCompleted, "answer"),
	}, false)

	msgs := s.Messages(1)
	require.Len(t, msgs, 2)
	require.Equal(t, "question", msgs[0].Content)
	require.Equal(t, models.StatusCompleted, msgs[1].Status)
}

func TestApplyIsIdempotent(t *testing.T) {
	s := session.NewStore()
	r := New(s)
	turns := []models.Turn{
		turn(models.RoleUser, 10, 1, models.TurnCompleted, "q"),
		turn(models.RoleAssistant, 11, 2, models.TurnCompleted, "a"),
	}
	r.Apply(1, turns, false)
	r.Apply(1, turns, false)
	require.Len(t, s.Messages(1), 2)
}

func TestSnapshotNeverShortensLiveContent(t *testing.T) {
	s := session.NewStore()
	r := New(s)
	live := "this is the live content, fifty characters long!!!"
	s.Insert(1, models.Message{
		Key: models.AssistantKey(11), Role: models.RoleAssistant,
		Status: models.StatusStreaming, Content: live, SubtaskID: 11,
	})

	// the durable write-back lags: only 30 bytes made it to storage
	r.Apply(1, []models.Turn{
		turn(models.RoleAssistant, 11, 2, models.TurnRunning, live[:30]),
	}, false)

	m, _ := s.Get(1, models.AssistantKey(11))
	require.Equal(t, live, m.Content)
	require.Equal(t, models.StatusStreaming, m.Status)
}

func TestSnapshotExtendsShorterLiveContent(t *testing.T) {
	s := session.NewStore()
	r := New(s)
	s.Insert(1, models.Message{
		Key: models.AssistantKey(11), Role: models.RoleAssistant,
		Status: models.StatusStreaming, Content: "Hel", SubtaskID: 11,
	})
	r.Apply(1, []models.Turn{
		turn(models.RoleAssistant, 11, 2, models.TurnRunning, "Hello wor"),
	}, false)

	m, _ := s.Get(1, models.AssistantKey(11))
	require.Equal(t, "Hello wor", m.Content)
}

func TestQueuedTurnsHidden(t *testing.T) {
	s := session.NewStore()
	r := New(s)
	r.Apply(1, []models.Turn{
		turn(models.RoleUser, 10, 1, models.TurnCompleted, "q"),
		turn(models.RoleAssistant, 11, 0, models.TurnQueued, ""),
	}, false)
	require.Len(t, s.Messages(1), 1)
}

func TestRunningTurnBecomesStreamingPlaceholder(t *testing.T) {
	s := session.NewStore()
	r := New(s)
	r.Apply(1, []models.Turn{
		turn(models.RoleAssistant, 11, 0, models.TurnRunning, "so far"),
	}, false)
	m, ok := s.Get(1, models.AssistantKey(11))
	require.True(t, ok)
	require.Equal(t, models.StatusStreaming, m.Status)
	require.Equal(t, "so far", m.Content)
}

func TestFailedTurnCarriesErrorText(t *testing.T) {
	s := session.NewStore()
	r := New(s)
	tn := turn(models.RoleAssistant, 11, 2, models.TurnFailed, "")
	tn.Err = "backend exploded"
	r.Apply(1, []models.Turn{tn}, false)
	m, _ := s.Get(1, models.AssistantKey(11))
	require.Equal(t, models.StatusError, m.Status)
	require.Equal(t, "backend exploded", m.Err)
}

func TestLiveErrorTextPreferred(t *testing.T) {
	s := session.NewStore()
	r := New(s)
	s.Insert(1, models.Message{
		Key: models.AssistantKey(11), Role: models.RoleAssistant,
		Status: models.StatusError, Err: "detailed live error", SubtaskID: 11,
	})
	tn := turn(models.RoleAssistant, 11, 2, models.TurnFailed, "")
	tn.Err = "generic failure"
	r.Apply(1, []models.Turn{tn}, false)

	m, _ := s.Get(1, models.AssistantKey(11))
	require.Equal(t, "detailed live error", m.Err)
}

func TestCancelledTurnKeepsCompletedStatus(t *testing.T) {
	s := session.NewStore()
	r := New(s)
	// the cancelled push event resolved the turn with its partial content
	s.Insert(1, models.Message{
		Key: models.AssistantKey(10), Role: models.RoleAssistant,
		Status: models.StatusCompleted, Content: "partial answer", SubtaskID: 10,
	})
	r.Apply(1, []models.Turn{
		turn(models.RoleAssistant, 10, 2, models.TurnCancelled, ""),
	}, false)

	m, _ := s.Get(1, models.AssistantKey(10))
	require.Equal(t, models.StatusCompleted, m.Status)
	require.Equal(t, "partial answer", m.Content)
	require.Empty(t, m.Err)
	require.Equal(t, models.MessageID(2), m.MessageID)
}

func TestCancelledTurnResolvesStaleStreamingEntry(t *testing.T) {
	s := session.NewStore()
	r := New(s)
	// the cancelled push event was missed; only the snapshot reports it
	s.Insert(1, models.Message{
		Key: models.AssistantKey(10), Role: models.RoleAssistant,
		Status: models.StatusStreaming, Content: "partial", SubtaskID: 10,
	})
	r.Apply(1, []models.Turn{
		turn(models.RoleAssistant, 10, 2, models.TurnCancelled, ""),
	}, false)

	m, _ := s.Get(1, models.AssistantKey(10))
	require.Equal(t, models.StatusCompleted, m.Status)
	require.Equal(t, "partial", m.Content)
}

func TestUserTurnNotDuplicatedAgainstUnstampedLocal(t *testing.T) {
	s := session.NewStore()
	r := New(s)
	// optimistic user message confirmed by ack keeps its local key but no
	// snapshot key; count-compare must prevent a twin insert
	s.Insert(1, models.Message{
		Key: "local-abc", Role: models.RoleUser,
		Status: models.StatusCompleted, Content: "q", SubtaskID: 10, MessageID: 1,
	})
	r.Apply(1, []models.Turn{
		turn(models.RoleUser, 10, 1, models.TurnCompleted, "q"),
		turn(models.RoleAssistant, 11, 2, models.TurnCompleted, "a"),
	}, false)

	require.Equal(t, 1, s.CountRole(1, models.RoleUser))
	require.Len(t, s.Messages(1), 2)
}

func TestForceSweepsEntriesMissingFromSnapshot(t *testing.T) {
	s := session.NewStore()
	r := New(s)
	s.Insert(1, models.Message{Key: models.AssistantKey(11), Role: models.RoleAssistant, Status: models.StatusCompleted, SubtaskID: 11, MessageID: 2})
	s.Insert(1, models.Message{Key: models.AssistantKey(13), Role: models.RoleAssistant, Status: models.StatusCompleted, SubtaskID: 13, MessageID: 4})
	s.Insert(1, models.Message{Key: "local-pending", Role: models.RoleUser, Status: models.StatusPending, Content: "unsent"})

	// turn 13 was truncated server-side
	r.Apply(1, []models.Turn{
		turn(models.RoleAssistant, 11, 2, models.TurnCompleted, "kept"),
	}, true)

	_, gone := s.Get(1, models.AssistantKey(13))
	require.False(t, gone)
	_, kept := s.Get(1, models.AssistantKey(11))
	require.True(t, kept)
	// entries with no turn id yet are never swept
	_, pending := s.Get(1, "local-pending")
	require.True(t, pending)
}

func TestResumeLongerCacheWins(t *testing.T) {
	s := session.NewStore()
	rec := NewRecovery(s)
	s.Insert(1, models.Message{
		Key: models.AssistantKey(11), Role: models.RoleAssistant,
		Status: models.StatusCompleted, Content: "Hel", SubtaskID: 11,
	})
	rec.Resume(1, models.StreamingInfo{SubtaskID: 11, Offset: 9, CachedContent: "Hello wor"})

	m, _ := s.Get(1, models.AssistantKey(11))
	require.Equal(t, "Hello wor", m.Content)
	require.Equal(t, models.StatusStreaming, m.Status)
}

func TestResumeShorterCacheKeepsLocalContent(t *testing.T) {
	s := session.NewStore()
	rec := NewRecovery(s)
	s.Insert(1, models.Message{
		Key: models.AssistantKey(11), Role: models.RoleAssistant,
		Status: models.StatusCompleted, Content: "Hello world", SubtaskID: 11,
	})
	rec.Resume(1, models.StreamingInfo{SubtaskID: 11, Offset: 3, CachedContent: "Hel"})

	m, _ := s.Get(1, models.AssistantKey(11))
	require.Equal(t, "Hello world", m.Content)
	require.Equal(t, models.StatusStreaming, m.Status)
}

func TestResumeInsertsWhenMissing(t *testing.T) {
	s := session.NewStore()
	rec := NewRecovery(s)
	rec.Resume(1, models.StreamingInfo{SubtaskID: 11, Offset: 7, CachedContent: "partial"})

	m, ok := s.Get(1, models.AssistantKey(11))
	require.True(t, ok)
	require.Equal(t, "partial", m.Content)
	require.Equal(t, models.StatusStreaming, m.Status)
}
