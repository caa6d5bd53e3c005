package send

import (
	"context"
	"fmt"
	"time"

	"chatsync/pkg/conn"
	"chatsync/pkg/logger"
	"chatsync/pkg/models"
	"chatsync/pkg/session"
)

// Accepted reports a successfully acknowledged send back to the caller
// so it can reconcile its own optimistic queue without a full refresh.
type Accepted struct {
	Key       string
	TaskID    models.TaskID
	SubtaskID models.SubtaskID
}

// Options parameterize one send.
type Options struct {
	// TaskID targets an existing conversation; zero means "new
	// conversation" and a temporary id is synthesized.
	TaskID         models.TaskID
	Title          string
	Content        string
	AttachmentRefs []string
	ModelOverride  string
	// OnAccepted fires after the acknowledgment has been applied.
	OnAccepted func(Accepted)
	// OnError fires on connectivity or acknowledgment failures.
	OnError func(error)
	// OnStreaming receives streaming info reported by the room join
	// that follows a successful send.
	OnStreaming func(models.TaskID, *models.StreamingInfo)
}

// Pipeline orchestrates optimistic insertion, the request/ack round trip
// and the temporary-to-durable id migration.
type Pipeline struct {
	store *session.Store
	conn  conn.Manager
}

func New(store *session.Store, c conn.Manager) *Pipeline {
	return &Pipeline{store: store, conn: c}
}

// Send inserts the user's message optimistically, issues the send
// request and applies the acknowledgment. The ack field update and the
// temp->durable migration happen in one store transition, so a push
// event racing in for the durable id cannot observe a half-migrated
// conversation.
func (p *Pipeline) Send(ctx context.Context, opts Options) (Accepted, error) {
	id := opts.TaskID
	if id == 0 {
		id = models.NewTempTaskID()
	}
	key := models.LocalKey()
	p.store.Insert(id, models.Message{
		Key:         key,
		Role:        models.RoleUser,
		Status:      models.StatusPending,
		Content:     opts.Content,
		TS:          time.Now().UnixMilli(),
		Attachments: opts.AttachmentRefs,
	})

	if !p.conn.Connected() {
		return p.fail(id, key, opts, conn.ErrNotConnected)
	}

	req := models.SendRequest{
		Content:        opts.Content,
		Title:          opts.Title,
		AttachmentRefs: opts.AttachmentRefs,
		ModelOverride:  opts.ModelOverride,
	}
	if !id.Temp() {
		req.TaskID = id
	}
	var ack models.SendAck
	if err := p.conn.Request(ctx, models.OpSend, req, &ack); err != nil {
		return p.fail(id, key, opts, err)
	}
	if ack.Err != "" {
		return p.fail(id, key, opts, fmt.Errorf("send rejected: %s", ack.Err))
	}
	if ack.TaskID == 0 || ack.SubtaskID == 0 {
		return p.fail(id, key, opts, fmt.Errorf("send: empty acknowledgment"))
	}

	canonical := p.store.ConfirmSend(id, key, ack)

	join, err := p.conn.JoinRoom(ctx, canonical)
	if err != nil {
		// the message is already durable; joining only affects push
		// delivery, so log rather than fail the send
		logger.Warn("join_after_send_failed", "task", canonical, "err", err)
	} else if join.Streaming != nil && opts.OnStreaming != nil {
		opts.OnStreaming(canonical, join.Streaming)
	}

	acc := Accepted{Key: key, TaskID: canonical, SubtaskID: ack.SubtaskID}
	if opts.OnAccepted != nil {
		opts.OnAccepted(acc)
	}
	return acc, nil
}

// fail marks the optimistic message errored, notifies and raises.
func (p *Pipeline) fail(id models.TaskID, key string, opts Options, err error) (Accepted, error) {
	p.store.Update(id, key, func(m *models.Message) {
		m.Status = models.StatusError
		m.Err = err.Error()
	})
	sendFailuresTotal.Inc()
	logger.Warn("send_failed", "task", id, "err", err)
	if opts.OnError != nil {
		opts.OnError(err)
	}
	return Accepted{}, err
}

// Cancel stops an in-flight turn. The local message is optimistically
// marked completed before the stop request goes out: the user-visible
// effect must be immediate, server acknowledgment is best-effort.
func (p *Pipeline) Cancel(ctx context.Context, id models.TaskID, st models.SubtaskID) error {
	var partial string
	p.store.Update(id, models.AssistantKey(st), func(m *models.Message) {
		partial = m.Content
		if m.Status == models.StatusStreaming || m.Status == models.StatusPending {
			m.Status = models.StatusCompleted
		}
	})
	req := models.CancelRequest{
		SubtaskID:      st,
		PartialContent: partial,
		Shell:          p.store.Shell(id),
	}
	var ack models.OpAck
	if err := p.conn.Request(ctx, models.OpCancel, req, &ack); err != nil {
		logger.Warn("cancel_request_failed", "subtask", st, "err", err)
		return err
	}
	if !ack.Success {
		return fmt.Errorf("cancel rejected: %s", ack.Err)
	}
	return nil
}

// Retry requests a fresh generation attempt for a turn. The new attempt
// arrives as a new message via push events; the old one is never
// reopened.
func (p *Pipeline) Retry(ctx context.Context, id models.TaskID, st models.SubtaskID, modelOverride string) error {
	req := models.RetryRequest{
		TaskID:        p.store.Canonical(id),
		SubtaskID:     st,
		ModelOverride: modelOverride,
	}
	var ack models.OpAck
	if err := p.conn.Request(ctx, models.OpRetry, req, &ack); err != nil {
		return err
	}
	if !ack.Success {
		return fmt.Errorf("retry rejected: %s", ack.Err)
	}
	return nil
}
