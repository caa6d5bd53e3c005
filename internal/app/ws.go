package app

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"chatsync/pkg/conn"
	"chatsync/pkg/logger"
	"chatsync/pkg/models"
	"chatsync/pkg/validation"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Hub owns all websocket clients and their room memberships. Events for a
// task fan out to every member of its room.
type Hub struct {
	rooms *Rooms
	token string

	mu      sync.Mutex
	clients map[*client]struct{}
	members map[models.TaskID]map[*client]struct{}
}

type client struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
	sender  models.Sender
}

func NewHub(rooms *Rooms, token string) *Hub {
	return &Hub{
		rooms:   rooms,
		token:   token,
		clients: make(map[*client]struct{}),
		members: make(map[models.TaskID]map[*client]struct{}),
	}
}

func (h *Hub) Handle(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("ws_upgrade_failed", "err", err, "remote", r.RemoteAddr)
		return
	}
	c := &client{ws: ws}
	if !h.handshake(c) {
		ws.Close()
		return
	}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	logger.Info("ws_client_connected", "remote", r.RemoteAddr)
	h.readLoop(c)
	h.drop(c)
	ws.Close()
}

// handshake consumes the hello frame and checks the shared token.
func (h *Hub) handshake(c *client) bool {
	var f conn.Frame
	if err := c.ws.ReadJSON(&f); err != nil || f.Type != "hello" {
		logger.Warn("ws_hello_missing")
		return false
	}
	var hello struct {
		Token string `json:"token"`
		Name  string `json:"name"`
	}
	if len(f.Data) > 0 {
		_ = json.Unmarshal(f.Data, &hello)
	}
	if h.token != "" && hello.Token != h.token {
		logger.Warn("ws_hello_rejected")
		return false
	}
	c.sender = models.Sender{Name: hello.Name}
	return true
}

func (h *Hub) readLoop(c *client) {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		if err := validation.ValidateEventSize(data); err != nil {
			logger.Warn("ws_frame_oversize", "bytes", len(data))
			continue
		}
		var f conn.Frame
		if err := json.Unmarshal(data, &f); err != nil {
			logger.Warn("ws_frame_decode_failed", "err", err)
			continue
		}
		if f.Type != "request" {
			continue
		}
		h.handleRequest(c, f)
	}
}

func (h *Hub) handleRequest(c *client, f conn.Frame) {
	switch f.Op {
	case models.OpSend:
		h.handleSend(c, f)
	case models.OpCancel:
		h.handleCancel(c, f)
	case models.OpRetry:
		h.handleRetry(c, f)
	case models.OpJoinRoom:
		h.handleJoin(c, f)
	case models.OpLeaveRoom:
		h.handleLeave(c, f)
	default:
		logger.Warn("ws_op_unknown", "op", f.Op)
		h.ack(c, f.ID, models.OpAck{Err: "unknown op: " + f.Op})
	}
}

func (h *Hub) handleSend(c *client, f conn.Frame) {
	var req models.SendRequest
	if err := json.Unmarshal(f.Data, &req); err != nil {
		h.ack(c, f.ID, models.SendAck{Err: "bad send payload"})
		return
	}
	if err := validation.ValidateSend(req); err != nil {
		h.ack(c, f.ID, models.SendAck{Err: err.Error()})
		return
	}
	ack, replySubtask := h.rooms.AcceptSend(req)
	h.join(c, ack.TaskID)
	h.ack(c, f.ID, ack)
	h.broadcastForeign(ack.TaskID, c, models.ForeignMessageEvent{
		TaskID:      ack.TaskID,
		SubtaskID:   ack.SubtaskID,
		MessageID:   ack.MessageID,
		Role:        models.RoleUser,
		Content:     req.Content,
		Sender:      c.sender,
		CreatedTS:   time.Now().UnixMilli(),
		Attachments: req.AttachmentRefs,
	})
	go h.respond(ack.TaskID, replySubtask, req.Content)
}

func (h *Hub) handleCancel(c *client, f conn.Frame) {
	var req models.CancelRequest
	if err := json.Unmarshal(f.Data, &req); err != nil {
		h.ack(c, f.ID, models.OpAck{Err: "bad cancel payload"})
		return
	}
	id, ok := h.rooms.TaskOf(req.SubtaskID)
	if !ok {
		h.ack(c, f.ID, models.OpAck{Err: "unknown subtask"})
		return
	}
	if !h.rooms.StopRunning(id, req.SubtaskID) {
		// Already finished; cancel is not an error then.
		h.ack(c, f.ID, models.OpAck{Success: true})
		return
	}
	h.ack(c, f.ID, models.OpAck{Success: true})
}

func (h *Hub) handleRetry(c *client, f conn.Frame) {
	var req models.RetryRequest
	if err := json.Unmarshal(f.Data, &req); err != nil {
		h.ack(c, f.ID, models.OpAck{Err: "bad retry payload"})
		return
	}
	st, err := h.rooms.NewSubtask(req.TaskID)
	if err != nil {
		h.ack(c, f.ID, models.OpAck{Err: err.Error()})
		return
	}
	h.ack(c, f.ID, models.OpAck{Success: true})
	go h.respond(req.TaskID, st, "")
}

func (h *Hub) handleJoin(c *client, f conn.Frame) {
	var req models.JoinRoomRequest
	if err := json.Unmarshal(f.Data, &req); err != nil {
		h.ack(c, f.ID, models.JoinAck{Err: "bad join payload"})
		return
	}
	h.join(c, req.TaskID)
	h.ack(c, f.ID, models.JoinAck{Streaming: h.rooms.Running(req.TaskID)})
}

func (h *Hub) handleLeave(c *client, f conn.Frame) {
	var req models.LeaveRoomRequest
	if err := json.Unmarshal(f.Data, &req); err != nil {
		h.ack(c, f.ID, models.OpAck{Err: "bad leave payload"})
		return
	}
	h.mu.Lock()
	if m, ok := h.members[req.TaskID]; ok {
		delete(m, c)
	}
	h.mu.Unlock()
	h.ack(c, f.ID, models.OpAck{Success: true})
}

func (h *Hub) join(c *client, id models.TaskID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	m, ok := h.members[id]
	if !ok {
		m = make(map[*client]struct{})
		h.members[id] = m
	}
	m[c] = struct{}{}
}

func (h *Hub) drop(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c)
	for _, m := range h.members {
		delete(m, c)
	}
}

func (h *Hub) ack(c *client, id uint64, payload any) {
	h.write(c, conn.Frame{Type: "ack", ID: id, Data: mustJSON(payload)})
}

// Broadcast pushes an event to every member of a task's room.
func (h *Hub) Broadcast(id models.TaskID, event string, payload any) {
	f := conn.Frame{Type: "event", Event: event, Data: mustJSON(payload)}
	h.mu.Lock()
	var targets []*client
	for c := range h.members[id] {
		targets = append(targets, c)
	}
	h.mu.Unlock()
	for _, c := range targets {
		h.write(c, f)
	}
}

// broadcastForeign mirrors a client's own turn to the other room members.
func (h *Hub) broadcastForeign(id models.TaskID, from *client, ev models.ForeignMessageEvent) {
	f := conn.Frame{Type: "event", Event: models.EventForeign, Data: mustJSON(ev)}
	h.mu.Lock()
	var targets []*client
	for c := range h.members[id] {
		if c != from {
			targets = append(targets, c)
		}
	}
	h.mu.Unlock()
	for _, c := range targets {
		h.write(c, f)
	}
}

func (h *Hub) write(c *client, f conn.Frame) {
	c.writeMu.Lock()
	err := c.ws.WriteJSON(f)
	c.writeMu.Unlock()
	if err != nil {
		logger.Warn("ws_write_failed", "err", err)
	}
}

func mustJSON(v any) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}
