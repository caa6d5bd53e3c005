package app

import (
	"fmt"
	"strings"
	"time"

	"chatsync/pkg/logger"
	"chatsync/pkg/models"
)

// chunkInterval paces the scripted responder so clients observe a real
// stream rather than a single burst.
var chunkInterval = 25 * time.Millisecond

// respond drives the scripted generation for one assistant turn: start,
// a sequence of offset-tagged chunks, then done. Cancellation via the
// stop channel finalizes the turn with whatever content accumulated.
func (h *Hub) respond(id models.TaskID, st models.SubtaskID, prompt string) {
	stop, err := h.rooms.BeginTurn(id, st)
	if err != nil {
		logger.Warn("respond_begin_failed", "task", id, "subtask", st, "err", err)
		return
	}
	h.Broadcast(id, models.EventStart, models.StartEvent{TaskID: id, SubtaskID: st})

	reply := scriptedReply(prompt)
	words := strings.SplitAfter(reply, " ")
	var content string
	for _, w := range words {
		select {
		case <-stop:
			h.rooms.FinishTurn(id, st, models.TurnCancelled, content, "")
			h.Broadcast(id, models.EventCancelled, models.CancelledEvent{TaskID: id, SubtaskID: st})
			return
		case <-time.After(chunkInterval):
		}
		off := h.rooms.AppendContent(id, st, w)
		content += w
		h.Broadcast(id, models.EventChunk, models.ChunkEvent{SubtaskID: st, Delta: w, Offset: &off})
	}
	msgID := h.rooms.FinishTurn(id, st, models.TurnCompleted, content, "")
	h.Broadcast(id, models.EventDone, models.DoneEvent{
		TaskID:    id,
		SubtaskID: st,
		Final:     models.FinalResult{Value: content},
		MessageID: msgID,
	})
}

func scriptedReply(prompt string) string {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "Regenerated reply from the reference responder."
	}
	return fmt.Sprintf("You said %q. This is the reference responder echoing %d bytes back.", prompt, len(prompt))
}
