package conn

import (
	"context"
	"encoding/json"
	"errors"

	"chatsync/pkg/models"
)

// ErrNotConnected is returned by Request when no live connection exists.
// The engine surfaces it synchronously and never retries automatically.
var ErrNotConnected = errors.New("conn: not connected")

// ErrAckTimeout is returned when the server does not acknowledge a
// request within the connection's timeout. Callers treat it exactly like
// an error acknowledgment.
var ErrAckTimeout = errors.New("conn: acknowledgment timeout")

// Manager owns the physical connection lifecycle: connect/disconnect,
// reconnection with backoff, the authentication handshake, and room
// membership. The engine core depends only on this interface.
type Manager interface {
	// Connected reports current connectivity.
	Connected() bool
	// Request issues a client->server op and decodes the acknowledgment
	// into out. Timeouts are bounded by the connection's ack timeout.
	Request(ctx context.Context, op string, payload any, out any) error
	// Subscribe registers a handler for a server->client push event.
	// Handlers must not block; they run on the read loop.
	Subscribe(event string, fn func(payload json.RawMessage))
	// JoinRoom subscribes this client to a conversation's push events.
	JoinRoom(ctx context.Context, id models.TaskID) (*models.JoinAck, error)
	// LeaveRoom unsubscribes from a conversation.
	LeaveRoom(ctx context.Context, id models.TaskID) error
	// OnReconnect registers a handler fired after a dropped connection
	// has been re-established.
	OnReconnect(fn func())
}
