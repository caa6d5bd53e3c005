package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"chatsync/pkg/backend"
	"chatsync/pkg/cache"
	"chatsync/pkg/conn"
	"chatsync/pkg/ingest"
	"chatsync/pkg/logger"
	"chatsync/pkg/models"
	"chatsync/pkg/reconcile"
	"chatsync/pkg/send"
	"chatsync/pkg/session"
)

// Options wires an Engine. Conn is required; Backend and Cache are
// optional (an engine without them applies push events only).
type Options struct {
	Conn    conn.Manager
	Backend *backend.Client
	Cache   *cache.Cache
	// QueueCapacity bounds the ingest queue. Default 4096.
	QueueCapacity int
	// OnTurnError fires for turn-level generation failures.
	OnTurnError func(task models.TaskID, subtask models.SubtaskID, msg string)
}

// Engine ties the session store, event ingestion, send pipeline,
// reconciler and recovery together behind one facade. A single consumer
// goroutine applies push events in arrival order; everything else runs
// on the caller's goroutine.
type Engine struct {
	store    *session.Store
	conn     conn.Manager
	backend  *backend.Client
	cache    *cache.Cache
	pipeline *send.Pipeline
	rec      *reconcile.Reconciler
	recovery *reconcile.Recovery
	disp     *ingest.Dispatcher
	queue    *ingest.Queue

	mu     sync.Mutex
	open   map[models.TaskID]struct{}
	cancel context.CancelFunc
}

func New(opts Options) *Engine {
	store := session.NewStore()
	q := ingest.NewQueue(opts.QueueCapacity)
	ap := ingest.NewApplier(store, ingest.Callbacks{OnTurnError: opts.OnTurnError})
	disp := ingest.NewDispatcher(q, ap)
	disp.Bind(opts.Conn.Subscribe)

	e := &Engine{
		store:    store,
		conn:     opts.Conn,
		backend:  opts.Backend,
		cache:    opts.Cache,
		pipeline: send.New(store, opts.Conn),
		rec:      reconcile.New(store),
		recovery: reconcile.NewRecovery(store),
		disp:     disp,
		queue:    q,
		open:     make(map[models.TaskID]struct{}),
	}
	opts.Conn.OnReconnect(e.handleReconnect)
	return e
}

// Start launches the event consumer. Stop with Shutdown.
func (e *Engine) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.cancel = cancel
	e.mu.Unlock()
	go e.disp.Run(ctx)
}

// Shutdown stops the event consumer. The store stays readable.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	cancel := e.cancel
	e.cancel = nil
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Store exposes the session store for direct reads.
func (e *Engine) Store() *session.Store { return e.store }

// Messages returns the conversation's messages in display order.
func (e *Engine) Messages(id models.TaskID) []models.Message {
	return e.store.Messages(id)
}

// Open attaches to a conversation: paint from the local cache, join its
// room (re-attaching to any in-flight turn), then fetch and reconcile
// the durable snapshot.
func (e *Engine) Open(ctx context.Context, id models.TaskID) error {
	id = e.store.Canonical(id)
	if e.cache != nil {
		if snap, _, ok := e.cache.LoadSnapshot(id); ok {
			e.rec.Apply(id, snap.Turns, false)
		}
	}
	join, err := e.conn.JoinRoom(ctx, id)
	if err != nil {
		logger.Warn("join_room_failed", "task", id, "err", err)
	} else if join.Streaming != nil {
		e.recovery.Resume(id, *join.Streaming)
	}
	e.mu.Lock()
	e.open[id] = struct{}{}
	e.mu.Unlock()
	return e.Refresh(ctx, id, false)
}

// Close detaches from a conversation's push events. Store state is kept;
// call Store().Reset to drop it.
func (e *Engine) Close(ctx context.Context, id models.TaskID) error {
	id = e.store.Canonical(id)
	e.mu.Lock()
	delete(e.open, id)
	e.mu.Unlock()
	return e.conn.LeaveRoom(ctx, id)
}

// Refresh fetches the durable snapshot and reconciles it. With force
// set, store entries absent from the snapshot are removed.
func (e *Engine) Refresh(ctx context.Context, id models.TaskID, force bool) error {
	if e.backend == nil {
		return nil
	}
	id = e.store.Canonical(id)
	if id.Temp() || id == 0 {
		return nil
	}
	snap, err := e.backend.FetchTask(ctx, id)
	if err != nil {
		logger.Warn("snapshot_fetch_failed", "task", id, "err", err)
		return err
	}
	e.rec.Apply(id, snap.Turns, force)
	if e.cache != nil {
		if err := e.cache.SaveSnapshot(id, snap.Title, snap.Turns); err != nil {
			logger.Warn("cache_save_failed", "task", id, "err", err)
		}
	}
	return nil
}

// Send runs the send pipeline and tracks the resulting conversation as
// open so reconnects re-attach to it.
func (e *Engine) Send(ctx context.Context, opts send.Options) (send.Accepted, error) {
	if opts.OnStreaming == nil {
		opts.OnStreaming = func(id models.TaskID, info *models.StreamingInfo) {
			e.recovery.Resume(id, *info)
		}
	}
	acc, err := e.pipeline.Send(ctx, opts)
	if err != nil {
		return acc, err
	}
	e.mu.Lock()
	e.open[acc.TaskID] = struct{}{}
	e.mu.Unlock()
	return acc, nil
}

// Cancel stops an in-flight turn, locally first.
func (e *Engine) Cancel(ctx context.Context, id models.TaskID, st models.SubtaskID) error {
	return e.pipeline.Cancel(ctx, id, st)
}

// Retry requests a fresh attempt for a failed turn.
func (e *Engine) Retry(ctx context.Context, id models.TaskID, st models.SubtaskID, modelOverride string) error {
	return e.pipeline.Retry(ctx, id, st, modelOverride)
}

// EditTruncate removes the edited turn and everything after it from the
// local store, synchronously, before any network round trip. The caller
// is responsible for the actual edit/delete request and the resend; the
// next Refresh should use force to sweep stragglers.
func (e *Engine) EditTruncate(id models.TaskID, st models.SubtaskID) (int, error) {
	id = e.store.Canonical(id)
	cut, ok := e.store.MessageIDOf(id, st)
	if !ok {
		return 0, fmt.Errorf("edit: no durable message id for subtask %s", st)
	}
	return e.store.TruncateFrom(id, cut), nil
}

// handleReconnect re-joins every open room, resumes any in-flight turn
// and refreshes the durable snapshot.
func (e *Engine) handleReconnect() {
	e.mu.Lock()
	ids := make([]models.TaskID, 0, len(e.open))
	for id := range e.open {
		ids = append(ids, id)
	}
	e.mu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for _, id := range ids {
		join, err := e.conn.JoinRoom(ctx, id)
		if err != nil {
			logger.Warn("rejoin_failed", "task", id, "err", err)
			continue
		}
		if join.Streaming != nil {
			e.recovery.Resume(id, *join.Streaming)
		}
		_ = e.Refresh(ctx, id, false)
	}
	logger.Info("reconnect_recovered", "rooms", len(ids))
}
