package models

import "encoding/json"

// TurnStatus is the durable lifecycle state reported by backend storage.
type TurnStatus string

const (
	TurnQueued    TurnStatus = "queued"
	TurnRunning   TurnStatus = "running"
	TurnCompleted TurnStatus = "completed"
	TurnFailed    TurnStatus = "failed"
	TurnCancelled TurnStatus = "cancelled"
)

// Turn is one entry of a durable conversation snapshot as served by the
// backend. This is the shape the reconciler merges into the live store.
type Turn struct {
	Role        Role              `json:"role"`
	Status      TurnStatus        `json:"status"`
	Content     string            `json:"content"`
	SubtaskID   SubtaskID         `json:"subtask_id"`
	MessageID   MessageID         `json:"message_id"`
	Sender      Sender            `json:"sender,omitempty"`
	Attachments []string          `json:"attachments,omitempty"`
	Contexts    []json.RawMessage `json:"contexts,omitempty"`
	CreatedTS   int64             `json:"created_ts"`
	Err         string            `json:"error,omitempty"`
}

// Snapshot is the backend read contract for one conversation.
type Snapshot struct {
	TaskID TaskID `json:"task_id"`
	Title  string `json:"title,omitempty"`
	Turns  []Turn `json:"turns"`
}
