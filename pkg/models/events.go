package models

import "encoding/json"

// Push-channel event names (server -> client).
const (
	EventStart     = "start"
	EventChunk     = "chunk"
	EventDone      = "done"
	EventError     = "error"
	EventCancelled = "cancelled"
	EventForeign   = "foreign_message"
)

// Client -> server request ops.
const (
	OpSend      = "send"
	OpCancel    = "cancel"
	OpRetry     = "retry"
	OpJoinRoom  = "join_room"
	OpLeaveRoom = "leave_room"
)

// StartEvent announces that generation of an AI turn has begun.
type StartEvent struct {
	TaskID    TaskID    `json:"task_id"`
	SubtaskID SubtaskID `json:"subtask_id"`
	Shell     string    `json:"shell,omitempty"`
}

// ChunkEvent carries an increment of a streaming turn. Offset, when
// present, is the byte position the delta applies at; an offset below the
// current content length signals a server-side resend.
type ChunkEvent struct {
	SubtaskID SubtaskID  `json:"subtask_id"`
	Delta     string     `json:"delta"`
	Offset    *int       `json:"offset,omitempty"`
	Aux       *AuxDelta  `json:"aux,omitempty"`
	Citations []Citation `json:"citations,omitempty"`
}

// FinalResult is the authoritative payload closing a turn. A non-empty
// Err means the turn failed even though it arrived on the done event.
type FinalResult struct {
	Value string    `json:"value,omitempty"`
	Err   string    `json:"error,omitempty"`
	Aux   *AuxDelta `json:"aux,omitempty"`
}

// DoneEvent closes a streaming turn.
type DoneEvent struct {
	TaskID    TaskID      `json:"task_id,omitempty"`
	SubtaskID SubtaskID   `json:"subtask_id"`
	Final     FinalResult `json:"final"`
	MessageID MessageID   `json:"message_id"`
	Citations []Citation  `json:"citations,omitempty"`
}

// ErrorEvent reports a turn-level generation failure.
type ErrorEvent struct {
	SubtaskID SubtaskID `json:"subtask_id"`
	Message   string    `json:"message"`
	MessageID MessageID `json:"message_id,omitempty"`
}

// CancelledEvent reports that a turn was stopped. Content accumulated up
// to the stop point is retained; this is not an error.
type CancelledEvent struct {
	TaskID    TaskID    `json:"task_id,omitempty"`
	SubtaskID SubtaskID `json:"subtask_id"`
}

// ForeignMessageEvent delivers a turn authored by another participant.
type ForeignMessageEvent struct {
	TaskID      TaskID            `json:"task_id"`
	SubtaskID   SubtaskID         `json:"subtask_id"`
	MessageID   MessageID         `json:"message_id"`
	Role        Role              `json:"role"`
	Content     string            `json:"content"`
	Sender      Sender            `json:"sender"`
	CreatedTS   int64             `json:"created_ts"`
	Attachments []string          `json:"attachments,omitempty"`
	Contexts    []json.RawMessage `json:"contexts,omitempty"`
}

// SendRequest is the client's send op. TaskID is zero or temporary for a
// not-yet-created conversation.
type SendRequest struct {
	TaskID         TaskID   `json:"task_id,omitempty"`
	Title          string   `json:"title,omitempty"`
	Content        string   `json:"content"`
	AttachmentRefs []string `json:"attachment_refs,omitempty"`
	ModelOverride  string   `json:"model_override,omitempty"`
}

// SendAck acknowledges a send. TaskID is the durable conversation id,
// SubtaskID/MessageID identify the user's own turn.
type SendAck struct {
	TaskID    TaskID    `json:"task_id"`
	SubtaskID SubtaskID `json:"subtask_id"`
	MessageID MessageID `json:"message_id"`
	Err       string    `json:"error,omitempty"`
}

// CancelRequest asks the server to stop generating a turn. The client
// reports the content it has so the server can persist it.
type CancelRequest struct {
	SubtaskID      SubtaskID `json:"subtask_id"`
	PartialContent string    `json:"partial_content,omitempty"`
	Shell          string    `json:"shell,omitempty"`
}

// RetryRequest asks for a fresh generation attempt of a turn.
type RetryRequest struct {
	TaskID        TaskID    `json:"task_id"`
	SubtaskID     SubtaskID `json:"subtask_id"`
	ModelOverride string    `json:"model_override,omitempty"`
}

// OpAck is the generic acknowledgment for cancel/retry.
type OpAck struct {
	Success bool   `json:"success"`
	Err     string `json:"error,omitempty"`
}

// StreamingInfo describes a turn currently being generated, reported on
// room join so a client can re-attach mid-stream.
type StreamingInfo struct {
	SubtaskID     SubtaskID `json:"subtask_id"`
	Offset        int       `json:"offset"`
	CachedContent string    `json:"cached_content"`
}

// JoinAck acknowledges a room join.
type JoinAck struct {
	Streaming *StreamingInfo `json:"streaming,omitempty"`
	Err       string         `json:"error,omitempty"`
}

// JoinRoomRequest / LeaveRoomRequest are the room membership ops.
type JoinRoomRequest struct {
	TaskID TaskID `json:"task_id"`
}

type LeaveRoomRequest struct {
	TaskID TaskID `json:"task_id"`
}
