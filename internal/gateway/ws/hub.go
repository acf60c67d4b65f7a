package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/cloudwego/eino/schema"
	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/dohr-michael/taskvox/internal/agent"
	"github.com/dohr-michael/taskvox/internal/conversation"
	"github.com/dohr-michael/taskvox/internal/events"
)

// queueSize bounds the utterances waiting behind the one being answered.
const queueSize = 8

// Runner answers one conversation turn.
type Runner interface {
	Run(ctx context.Context, history []*schema.Message, sink agent.Sink) (*agent.Result, error)
}

// Client is one connected WebSocket client and the conversation it owns.
type Client struct {
	conn       *websocket.Conn
	send       chan []byte
	hub        *Hub
	sessionID  string
	transcript *conversation.Transcript
	queue      chan SendMessageParams
}

// Hub manages WebSocket clients and bridges them to the event bus.
// Session-scoped events go to the owning client; reminders go to everyone.
type Hub struct {
	mu          sync.RWMutex
	clients     map[*Client]struct{}
	bus         *events.Bus
	runner      Runner
	unsubscribe func()
}

// NewHub creates a new WebSocket hub connected to an event bus.
func NewHub(bus *events.Bus, runner Runner) *Hub {
	h := &Hub{
		clients: make(map[*Client]struct{}),
		bus:     bus,
		runner:  runner,
	}

	h.unsubscribe = bus.Subscribe(func(e events.Event) {
		frame, err := NewEventFrame(string(e.Type), e.SessionID, e.Payload)
		if err != nil {
			slog.Error("marshal event frame", "error", err)
			return
		}
		data, err := MarshalFrame(frame)
		if err != nil {
			slog.Error("marshal frame", "error", err)
			return
		}
		h.route(e.SessionID, data)
	}, events.EventToolCall, events.EventReminderOverdue)

	return h
}

// route sends data to the client owning sessionID, or to all clients when
// sessionID is empty. Slow clients miss the frame.
func (h *Hub) route(sessionID string, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		if sessionID != "" && c.sessionID != sessionID {
			continue
		}
		select {
		case c.send <- data:
		default:
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	slog.Info("ws client connected", "session_id", c.sessionID, "clients", n)
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()
	if ok {
		slog.Info("ws client disconnected", "session_id", c.sessionID, "clients", n)
	}
}

// ServeWS handles a WebSocket upgrade and manages the client lifecycle.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // Allow any origin for dev
	})
	if err != nil {
		slog.Error("ws accept", "error", err)
		return
	}

	client := &Client{
		conn:       conn,
		send:       make(chan []byte, 256),
		hub:        h,
		sessionID:  "sess_" + strings.ReplaceAll(uuid.NewString(), "-", ""),
		transcript: conversation.NewTranscript(),
		queue:      make(chan SendMessageParams, queueSize),
	}

	h.register(client)
	h.bus.Publish(events.NewTypedEventWithSession(events.SourceHub,
		events.SessionCreatedPayload{Remote: r.RemoteAddr}, client.sessionID))

	ctx, cancel := context.WithCancel(events.ContextWithSessionID(r.Context(), client.sessionID))
	defer cancel()

	go client.writePump(ctx)
	go client.runLoop(ctx)
	client.readPump(ctx)

	h.bus.Publish(events.NewTypedEventWithSession(events.SourceHub,
		events.SessionClosedPayload{Remote: r.RemoteAddr}, client.sessionID))
}

// readPump reads frames from the WS connection and dispatches them.
func (c *Client) readPump(ctx context.Context) {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("ws read closed", "status", websocket.CloseStatus(err))
			} else {
				slog.Debug("ws read error", "error", err)
			}
			return
		}

		frame, err := UnmarshalFrame(data)
		if err != nil {
			slog.Error("ws unmarshal frame", "error", err)
			continue
		}

		if frame.Type != FrameTypeRequest {
			slog.Debug("ws unknown frame type", "type", frame.Type)
			continue
		}
		c.handleRequest(frame)
	}
}

// handleRequest processes a request frame (method dispatch).
func (c *Client) handleRequest(frame Frame) {
	switch Method(frame.Method) {
	case MethodSendMessage:
		var params SendMessageParams
		if err := json.Unmarshal(frame.Params, &params); err != nil || strings.TrimSpace(params.Content) == "" {
			c.sendError(frame.ID, "invalid params")
			return
		}
		select {
		case c.queue <- params:
			c.sendOK(frame.ID, map[string]string{"status": "accepted", "session_id": c.sessionID})
		default:
			c.sendError(frame.ID, "busy: too many pending messages")
		}

	case MethodReset:
		cleared := c.transcript.Len()
		c.transcript.Reset()
		c.sendOK(frame.ID, map[string]any{"status": "reset", "cleared": cleared})

	case MethodHistory:
		c.sendOK(frame.ID, transcriptTurns(c.transcript))

	default:
		c.sendError(frame.ID, "unknown method: "+frame.Method)
	}
}

// runLoop answers queued utterances one at a time, so a connection never
// has two runs over the same transcript.
func (c *Client) runLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case p := <-c.queue:
			c.converse(ctx, p)
		}
	}
}

func (c *Client) converse(ctx context.Context, p SendMessageParams) {
	c.transcript.Merge(conversation.Turn{ID: p.ID, Role: conversation.RoleUser, Text: p.Content})
	c.hub.bus.Publish(events.NewTypedEventWithSession(events.SourceWS,
		events.UserMessagePayload{Content: p.Content}, c.sessionID))

	sink := &streamSink{client: c, ctx: ctx}
	sink.emit(events.AssistantStreamPayload{Phase: events.StreamPhaseStart})
	res, err := c.hub.runner.Run(ctx, c.transcript.Messages(), sink)
	if err != nil {
		slog.Debug("conversation run aborted", "session_id", c.sessionID, "error", err)
		return
	}
	sink.emit(events.AssistantStreamPayload{Phase: events.StreamPhaseEnd, Index: sink.index})

	c.transcript.Append(schema.AssistantMessage(res.Answer, nil))
	c.emit(ctx, events.AssistantMessagePayload{
		Content:    res.Answer,
		Outcome:    string(res.Outcome),
		RoundTrips: res.RoundTrips,
	})
}

// streamSink forwards answer deltas to the client as assistant.stream frames.
type streamSink struct {
	client *Client
	ctx    context.Context
	index  int
}

func (s *streamSink) Delta(text string) {
	s.emit(events.AssistantStreamPayload{Phase: events.StreamPhaseDelta, Content: text, Index: s.index})
	s.index++
}

func (s *streamSink) emit(p events.AssistantStreamPayload) {
	s.client.emit(s.ctx, p)
}

// emit queues an event frame for this client, waiting for room so that no
// part of an answer is dropped.
func (c *Client) emit(ctx context.Context, payload events.EventPayload) {
	frame, err := NewEventFrame(string(payload.EventType()), c.sessionID, payload)
	if err != nil {
		slog.Error("marshal event frame", "error", err)
		return
	}
	data, err := MarshalFrame(frame)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	case <-ctx.Done():
	}
}

// writePump writes queued messages to the WS connection.
func (c *Client) writePump(ctx context.Context) {
	for {
		select {
		case msg := <-c.send:
			if err := c.conn.Write(ctx, websocket.MessageText, msg); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (c *Client) sendOK(id string, payload any) {
	f, err := NewResponseFrame(id, true, payload, "")
	if err != nil {
		return
	}
	c.sendFrame(f)
}

func (c *Client) sendError(id string, errMsg string) {
	f, err := NewResponseFrame(id, false, nil, errMsg)
	if err != nil {
		return
	}
	c.sendFrame(f)
}

func (c *Client) sendFrame(f Frame) {
	data, err := MarshalFrame(f)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

func transcriptTurns(tr *conversation.Transcript) []conversation.Turn {
	msgs := tr.Messages()
	turns := make([]conversation.Turn, 0, len(msgs))
	for _, m := range msgs {
		turns = append(turns, conversation.Turn{
			ID:   conversation.MessageID(m),
			Role: conversation.Role(m.Role),
			Text: m.Content,
		})
	}
	return turns
}

// Close shuts down the hub and all client connections.
func (h *Hub) Close() {
	if h.unsubscribe != nil {
		h.unsubscribe()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.conn.Close(websocket.StatusGoingAway, "server shutdown")
		delete(h.clients, c)
	}
}
