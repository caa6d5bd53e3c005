package app

import (
	"testing"

	"chatsync/pkg/models"
)

func TestAcceptSendCreatesTask(t *testing.T) {
	r := NewRooms(nil)
	ack, reply := r.AcceptSend(models.SendRequest{Content: "hello", Title: "first chat"})
	if ack.TaskID <= 0 || ack.SubtaskID == 0 || ack.MessageID == 0 {
		t.Fatalf("incomplete ack: %+v", ack)
	}
	if reply == 0 || reply == ack.SubtaskID {
		t.Fatalf("reply subtask = %v", reply)
	}
	snap, ok := r.Snapshot(ack.TaskID)
	if !ok {
		t.Fatalf("snapshot missing")
	}
	if snap.Title != "first chat" || len(snap.Turns) != 2 {
		t.Fatalf("snapshot = %+v", snap)
	}
	if snap.Turns[0].Status != models.TurnCompleted || snap.Turns[1].Status != models.TurnQueued {
		t.Fatalf("turn statuses: %v %v", snap.Turns[0].Status, snap.Turns[1].Status)
	}
}

func TestAcceptSendAppendsToExistingTask(t *testing.T) {
	r := NewRooms(nil)
	first, _ := r.AcceptSend(models.SendRequest{Content: "one"})
	second, _ := r.AcceptSend(models.SendRequest{TaskID: first.TaskID, Content: "two"})
	if second.TaskID != first.TaskID {
		t.Fatalf("new task created for follow-up send")
	}
	if second.MessageID <= first.MessageID {
		t.Fatalf("message ids not increasing: %v then %v", first.MessageID, second.MessageID)
	}
	snap, _ := r.Snapshot(first.TaskID)
	if len(snap.Turns) != 4 {
		t.Fatalf("turns = %d, want 4", len(snap.Turns))
	}
}

func TestTurnLifecycle(t *testing.T) {
	r := NewRooms(nil)
	ack, reply := r.AcceptSend(models.SendRequest{Content: "q"})

	stop, err := r.BeginTurn(ack.TaskID, reply)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if stop == nil {
		t.Fatalf("no stop channel")
	}
	off := r.AppendContent(ack.TaskID, reply, "Hel")
	if off != 0 {
		t.Fatalf("first offset = %d", off)
	}
	off = r.AppendContent(ack.TaskID, reply, "lo")
	if off != 3 {
		t.Fatalf("second offset = %d", off)
	}
	info := r.Running(ack.TaskID)
	if info == nil || info.SubtaskID != reply || info.CachedContent != "Hello" || info.Offset != 5 {
		t.Fatalf("running info = %+v", info)
	}

	msgID := r.FinishTurn(ack.TaskID, reply, models.TurnCompleted, "Hello", "")
	if msgID <= ack.MessageID {
		t.Fatalf("reply message id %v not after user's %v", msgID, ack.MessageID)
	}
	if r.Running(ack.TaskID) != nil {
		t.Fatalf("stream state not cleared")
	}
	snap, _ := r.Snapshot(ack.TaskID)
	last := snap.Turns[len(snap.Turns)-1]
	if last.Status != models.TurnCompleted || last.Content != "Hello" || last.MessageID != msgID {
		t.Fatalf("final turn = %+v", last)
	}
}

func TestStopRunning(t *testing.T) {
	r := NewRooms(nil)
	ack, reply := r.AcceptSend(models.SendRequest{Content: "q"})
	stop, err := r.BeginTurn(ack.TaskID, reply)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if !r.StopRunning(ack.TaskID, reply) {
		t.Fatalf("stop reported nothing running")
	}
	select {
	case <-stop:
	default:
		t.Fatalf("stop channel not closed")
	}
	// stopping twice is harmless
	if !r.StopRunning(ack.TaskID, reply) {
		t.Fatalf("second stop failed")
	}
}

func TestTaskOfAndNewSubtask(t *testing.T) {
	r := NewRooms(nil)
	ack, reply := r.AcceptSend(models.SendRequest{Content: "q"})
	if id, ok := r.TaskOf(reply); !ok || id != ack.TaskID {
		t.Fatalf("TaskOf(%v) = %v %v", reply, id, ok)
	}
	if _, ok := r.TaskOf(9999); ok {
		t.Fatalf("unknown subtask resolved")
	}
	st, err := r.NewSubtask(ack.TaskID)
	if err != nil || st == 0 {
		t.Fatalf("new subtask: %v %v", st, err)
	}
	if _, err := r.NewSubtask(12345); err == nil {
		t.Fatalf("new subtask on unknown task accepted")
	}
}
