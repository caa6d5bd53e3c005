package models

import (
	"strconv"
	"time"
)

// TaskID identifies a conversation. Positive values are durable server
// ids; negative values are client-synthesized temporary ids used before
// the first send completes. Zero means "no conversation yet".
type TaskID int64

// SubtaskID identifies one turn on the server. Assigned by the server only.
type SubtaskID int64

// MessageID is the server's strictly increasing per-turn sequence number.
// It is the sole ordering and truncation key; timestamps are display-only.
type MessageID int64

// Temp reports whether the id is a client-side temporary id.
func (t TaskID) Temp() bool { return t < 0 }

func (t TaskID) String() string    { return strconv.FormatInt(int64(t), 10) }
func (s SubtaskID) String() string { return strconv.FormatInt(int64(s), 10) }

// NewTempTaskID synthesizes a temporary conversation id from the wall
// clock. The value is negative so it can never collide with a durable id,
// and descending so successive new conversations get distinct keys.
func NewTempTaskID() TaskID {
	return TaskID(-time.Now().UnixMilli())
}
