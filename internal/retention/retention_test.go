package retention

import (
	"context"
	"testing"
	"time"

	"chatsync/pkg/cache"
)

func TestRunOnceSweepsAgedTasks(t *testing.T) {
	c, err := cache.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer c.Close()

	if err := c.SaveSnapshot(1, "fresh", nil); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := c.SaveSnapshot(2, "also fresh", nil); err != nil {
		t.Fatalf("save: %v", err)
	}

	// everything was just written, so a 30-day window keeps it all
	s := New(c, "0 3 * * *", 30)
	if err := s.RunOnce(); err != nil {
		t.Fatalf("run: %v", err)
	}
	tasks, _ := c.Tasks()
	if len(tasks) != 2 {
		t.Fatalf("fresh tasks swept: %d left", len(tasks))
	}

	// a zero-width window sweeps everything saved before now
	s = New(c, "0 3 * * *", 30)
	s.maxAge = 0
	time.Sleep(5 * time.Millisecond)
	if err := s.RunOnce(); err != nil {
		t.Fatalf("run: %v", err)
	}
	tasks, _ = c.Tasks()
	if len(tasks) != 0 {
		t.Fatalf("aged tasks survived: %v", tasks)
	}
}

func TestInvalidCronDisablesSweeper(t *testing.T) {
	c, err := cache.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer c.Close()
	s := New(c, "not a cron", 30)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	if s.started {
		t.Fatalf("sweeper started with invalid cron")
	}
}
