package models

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Role of a message author.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Status is a message's lifecycle state. Terminal states are completed
// and error; the only way out of a terminal state is truncation (removal)
// or a retry, which produces a new message for the new attempt.
type Status string

const (
	StatusPending   Status = "pending"
	StatusStreaming Status = "streaming"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// Terminal reports whether s admits no further transition.
func (s Status) Terminal() bool { return s == StatusCompleted || s == StatusError }

// Sender identifies the author of a turn in multi-party conversations.
type Sender struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
}

// Message is the unit held in the session store. Key is locally unique
// within one conversation; SubtaskID and MessageID are zero until the
// server has assigned them.
type Message struct {
	Key         string            `json:"key"`
	Role        Role              `json:"role"`
	Status      Status            `json:"status"`
	Content     string            `json:"content"`
	SubtaskID   SubtaskID         `json:"subtask_id,omitempty"`
	MessageID   MessageID         `json:"message_id,omitempty"`
	TS          int64             `json:"ts"`
	Aux         AuxPayload        `json:"aux,omitempty"`
	Err         string            `json:"error,omitempty"`
	Sender      Sender            `json:"sender,omitempty"`
	Attachments []string          `json:"attachments,omitempty"`
	Contexts    []json.RawMessage `json:"contexts,omitempty"`
}

// AssistantKey derives the store key for an AI turn. Repeated events for
// the same subtask always resolve to the same slot.
func AssistantKey(st SubtaskID) string { return "assistant-" + st.String() }

// UserSyncKey derives the store key for a confirmed user turn synced from
// durable storage. The prefix keeps it distinct from the assistant key
// derived from the same subtask id.
func UserSyncKey(st SubtaskID) string { return "user-" + st.String() }

// LocalKey generates a key for an optimistic user message that has no
// server identity yet.
func LocalKey() string { return "local-" + uuid.NewString() }

// SnapshotKey derives the store key for a snapshot turn by role.
func SnapshotKey(role Role, st SubtaskID) string {
	if role == RoleAssistant {
		return AssistantKey(st)
	}
	return UserSyncKey(st)
}
