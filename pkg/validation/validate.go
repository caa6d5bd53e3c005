package validation

import (
	"fmt"
	"sync"

	"chatsync/pkg/models"
)

// Limits bound inbound payload sizes. Oversized input is rejected at the
// edge so the store never holds unbounded content.
type Limits struct {
	MaxContentBytes int
	MaxEventBytes   int
}

var (
	mu     sync.RWMutex
	limits = Limits{MaxContentBytes: 1 << 20, MaxEventBytes: 4 << 20}
)

// SetLimits installs the configured limits at startup.
func SetLimits(l Limits) {
	mu.Lock()
	defer mu.Unlock()
	if l.MaxContentBytes > 0 {
		limits.MaxContentBytes = l.MaxContentBytes
	}
	if l.MaxEventBytes > 0 {
		limits.MaxEventBytes = l.MaxEventBytes
	}
}

// Get returns the current limits.
func Get() Limits {
	mu.RLock()
	defer mu.RUnlock()
	return limits
}

// ValidateSend checks a send request before it is accepted.
func ValidateSend(req models.SendRequest) error {
	if req.Content == "" {
		return fmt.Errorf("empty content")
	}
	if max := Get().MaxContentBytes; len(req.Content) > max {
		return fmt.Errorf("content exceeds %d bytes", max)
	}
	if req.TaskID < 0 {
		return fmt.Errorf("temporary task id %d not accepted by the server", req.TaskID)
	}
	return nil
}

// ValidateEventSize checks a raw push frame payload.
func ValidateEventSize(payload []byte) error {
	if max := Get().MaxEventBytes; len(payload) > max {
		return fmt.Errorf("event exceeds %d bytes", max)
	}
	return nil
}

// ValidateTurn checks a snapshot turn before it is served or cached.
func ValidateTurn(t models.Turn) error {
	if t.SubtaskID == 0 {
		return fmt.Errorf("turn missing subtask id")
	}
	switch t.Status {
	case models.TurnQueued, models.TurnRunning, models.TurnCompleted, models.TurnFailed, models.TurnCancelled:
	default:
		return fmt.Errorf("unknown turn status %q", t.Status)
	}
	switch t.Role {
	case models.RoleUser, models.RoleAssistant:
	default:
		return fmt.Errorf("unknown role %q", t.Role)
	}
	return nil
}
