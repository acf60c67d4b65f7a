package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/coder/websocket"

	"github.com/dohr-michael/taskvox/internal/agent"
	"github.com/dohr-michael/taskvox/internal/events"
	"github.com/dohr-michael/taskvox/internal/gateway/ws"
	"github.com/dohr-michael/taskvox/internal/storage"
	"github.com/dohr-michael/taskvox/internal/tasks"
)

// echoRunner answers with the last user message, streamed in two deltas.
type echoRunner struct {
	mu       sync.Mutex
	lastSeen []*schema.Message
}

func (r *echoRunner) Run(_ context.Context, history []*schema.Message, sink agent.Sink) (*agent.Result, error) {
	r.mu.Lock()
	r.lastSeen = history
	r.mu.Unlock()

	last := ""
	for _, m := range history {
		if m.Role == schema.User {
			last = m.Content
		}
	}
	answer := "You said: " + last
	if sink != nil {
		sink.Delta("You said: ")
		sink.Delta(last)
	}
	return &agent.Result{Answer: answer, Outcome: agent.OutcomeAnswered}, nil
}

func (r *echoRunner) history() []*schema.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastSeen
}

// waitForEvents polls the bus history until at least n events are present.
func waitForEvents(bus *events.Bus, n int) {
	for i := 0; i < 200; i++ {
		if len(bus.History(100)) >= n {
			return
		}
		runtime.Gosched()
		time.Sleep(time.Millisecond)
	}
}

func newTestServer(t *testing.T) (*Server, *echoRunner) {
	t.Helper()
	bus := events.NewBus(64)
	t.Cleanup(func() { bus.Close() })

	store := tasks.NewFileStore(filepath.Join(t.TempDir(), "tasks.json"))
	runner := &echoRunner{}
	srv := NewServer(bus, store, runner, "localhost", 0)
	t.Cleanup(func() { srv.hub.Close() })
	return srv, runner
}

func serve(srv *Server, method, target string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func TestHandleHealth(t *testing.T) {
	srv, _ := newTestServer(t)

	w := serve(srv, http.MethodGet, "/api/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	var body map[string]any
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("expected status %q, got %v", "ok", body["status"])
	}
}

func TestHandleEvents_LimitParam(t *testing.T) {
	srv, _ := newTestServer(t)

	for i := 0; i < 10; i++ {
		srv.bus.Publish(events.NewEvent(events.EventUserMessage, events.SourceWS, map[string]any{"i": i}))
	}
	waitForEvents(srv.bus, 10)

	w := serve(srv, http.MethodGet, "/api/events?limit=5", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	var body []map[string]any
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body) != 5 {
		t.Fatalf("expected 5 events with limit=5, got %d", len(body))
	}

	if w := serve(srv, http.MethodGet, "/api/events?limit=abc", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad limit, got %d", w.Code)
	}
}

func TestHandleEvents_SessionLog(t *testing.T) {
	srv, _ := newTestServer(t)

	if w := serve(srv, http.MethodGet, "/api/events?session=s1", nil); w.Code != http.StatusNotFound {
		t.Fatalf("without a log dir: status = %d, want 404", w.Code)
	}

	dir := t.TempDir()
	srv.SetEventLogDir(dir)
	logger := storage.NewEventLogger(dir, srv.bus)
	defer logger.Close()

	for _, content := range []string{"one", "two", "three"} {
		srv.bus.Publish(events.NewTypedEventWithSession(events.SourceWS, events.UserMessagePayload{Content: content}, "s1"))
	}
	srv.bus.Publish(events.NewTypedEventWithSession(events.SourceWS, events.UserMessagePayload{Content: "other"}, "s2"))
	srv.bus.Close() // flushes the logger

	w := serve(srv, http.MethodGet, "/api/events?session=s1&limit=2", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var logged []events.Event
	if err := json.NewDecoder(w.Body).Decode(&logged); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(logged) != 2 {
		t.Fatalf("got %d events, want the last 2", len(logged))
	}
	if p, ok := events.ExtractPayload[events.UserMessagePayload](logged[1]); !ok || p.Content != "three" {
		t.Errorf("last event payload = %+v", p)
	}

	w = serve(srv, http.MethodGet, "/api/events?session=nobody", nil)
	if w.Code != http.StatusOK || strings.TrimSpace(w.Body.String()) != "[]" {
		t.Errorf("unknown session: status = %d, body = %s", w.Code, w.Body.String())
	}
}

func TestHandleTasks(t *testing.T) {
	srv, _ := newTestServer(t)
	for _, title := range []string{"buy milk", "call mom"} {
		if _, err := srv.store.Create(tasks.NewTask{Title: title}); err != nil {
			t.Fatal(err)
		}
	}
	if _, _, err := srv.store.Complete("call mom"); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		target string
		code   int
		count  int
	}{
		{"/api/tasks", http.StatusOK, 2},
		{"/api/tasks?status=all", http.StatusOK, 2},
		{"/api/tasks?status=completed", http.StatusOK, 1},
		{"/api/tasks?status=in_progress", http.StatusOK, 0},
		{"/api/tasks?status=someday", http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			w := serve(srv, http.MethodGet, tt.target, nil)
			if w.Code != tt.code {
				t.Fatalf("status = %d, want %d", w.Code, tt.code)
			}
			if tt.code != http.StatusOK {
				return
			}
			var list []map[string]any
			if err := json.NewDecoder(w.Body).Decode(&list); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if len(list) != tt.count {
				t.Errorf("got %d tasks, want %d", len(list), tt.count)
			}
		})
	}
}

func TestHandleSummary(t *testing.T) {
	srv, _ := newTestServer(t)
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	srv.now = func() time.Time { return now }
	past := now.Add(-24 * time.Hour)
	if _, err := srv.store.Create(tasks.NewTask{Title: "file taxes", DueDate: &past}); err != nil {
		t.Fatal(err)
	}

	w := serve(srv, http.MethodGet, "/api/tasks/summary", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var sum tasks.Summary
	if err := json.NewDecoder(w.Body).Decode(&sum); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if sum.Total != 1 || sum.Pending != 1 || sum.Overdue != 1 {
		t.Errorf("summary = %+v", sum)
	}
}

func TestHandleConverse(t *testing.T) {
	srv, runner := newTestServer(t)

	body := []byte(`{"turns":[
		{"id":"1","role":"developer","text":"be brief"},
		{"id":"2","role":"user","text":"add milk"},
		{"id":"3","role":"narrator","text":"ignored"}
	]}`)
	w := serve(srv, http.MethodPost, "/api/converse", body)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var resp ConverseResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Answer != "You said: add milk" || resp.Outcome != "answered" || resp.SessionID == "" {
		t.Errorf("response = %+v", resp)
	}

	hist := runner.history()
	if len(hist) != 2 || hist[0].Role != schema.System {
		t.Errorf("runner saw %d messages: %+v", len(hist), hist)
	}

	if w := serve(srv, http.MethodPost, "/api/converse", []byte("{")); w.Code != http.StatusBadRequest {
		t.Errorf("malformed body status = %d", w.Code)
	}
}

func readFrame(t *testing.T, ctx context.Context, conn *websocket.Conn) ws.Frame {
	t.Helper()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	f, err := ws.UnmarshalFrame(data)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return f
}

func TestWebSocketConversation(t *testing.T) {
	srv, runner := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/api/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	send := func(id, content string) {
		params, _ := json.Marshal(ws.SendMessageParams{ID: id, Content: content})
		data, _ := ws.MarshalFrame(ws.Frame{Type: ws.FrameTypeRequest, ID: "req-" + id, Method: string(ws.MethodSendMessage), Params: params})
		if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	// collect reads frames until the assistant.message of a run.
	collect := func() (deltas string, final events.AssistantMessagePayload) {
		for {
			f := readFrame(t, ctx, conn)
			switch {
			case f.Type == ws.FrameTypeResponse:
				if f.OK == nil || !*f.OK {
					t.Fatalf("request rejected: %s", f.Error)
				}
			case f.Event == string(events.EventAssistantStream):
				var p events.AssistantStreamPayload
				_ = json.Unmarshal(f.Payload, &p)
				if p.Phase == events.StreamPhaseDelta {
					deltas += p.Content
				}
			case f.Event == string(events.EventAssistantMessage):
				_ = json.Unmarshal(f.Payload, &final)
				return deltas, final
			}
		}
	}

	send("u1", "add milk")
	deltas, final := collect()
	if final.Content != "You said: add milk" || deltas != final.Content {
		t.Fatalf("deltas = %q, final = %+v", deltas, final)
	}

	send("u2", "and eggs")
	if _, final = collect(); final.Content != "You said: and eggs" {
		t.Fatalf("second answer = %+v", final)
	}

	// user, assistant, user
	if hist := runner.history(); len(hist) != 3 {
		t.Fatalf("second run saw %d messages, want 3", len(hist))
	}

	data, _ := ws.MarshalFrame(ws.Frame{Type: ws.FrameTypeRequest, ID: "req-reset", Method: string(ws.MethodReset)})
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatalf("write: %v", err)
	}
	f := readFrame(t, ctx, conn)
	if f.Type != ws.FrameTypeResponse || f.ID != "req-reset" || f.OK == nil || !*f.OK {
		t.Fatalf("reset response = %+v", f)
	}
	var reset struct {
		Status  string `json:"status"`
		Cleared int    `json:"cleared"`
	}
	if err := json.Unmarshal(f.Payload, &reset); err != nil {
		t.Fatalf("reset payload: %v", err)
	}
	if reset.Cleared != 4 {
		t.Errorf("cleared = %d, want 4", reset.Cleared)
	}

	send("u3", "start over")
	collect()
	if hist := runner.history(); len(hist) != 1 {
		t.Errorf("run after reset saw %d messages, want 1", len(hist))
	}
}

func TestWebSocketReminderBroadcast(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/api/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	for i := 0; i < 200 && srv.hub.ClientCount() == 0; i++ {
		time.Sleep(time.Millisecond)
	}

	srv.bus.Publish(events.NewTypedEvent(events.SourceReminders, events.ReminderPayload{
		Overdue: []string{"pay rent"}, Total: 1, Pending: 1, Text: "Reminder: 'pay rent' is overdue.",
	}))

	f := readFrame(t, ctx, conn)
	if f.Event != string(events.EventReminderOverdue) {
		t.Fatalf("event = %q", f.Event)
	}
	var p events.ReminderPayload
	if err := json.Unmarshal(f.Payload, &p); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if len(p.Overdue) != 1 || p.Overdue[0] != "pay rent" {
		t.Errorf("payload = %+v", p)
	}
}
