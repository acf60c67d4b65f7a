package agent

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/dohr-michael/taskvox/internal/conversation"
	"github.com/dohr-michael/taskvox/internal/events"
	"github.com/dohr-michael/taskvox/internal/tasks"
	"github.com/dohr-michael/taskvox/internal/tools"
)

// scriptedModel answers each call with the output of script(call index).
type scriptedModel struct {
	mu     sync.Mutex
	script func(call int) (*schema.Message, error)
	inputs [][]*schema.Message
	bound  []*schema.ToolInfo
}

func (m *scriptedModel) next(input []*schema.Message) (*schema.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	call := len(m.inputs)
	m.inputs = append(m.inputs, append([]*schema.Message(nil), input...))
	return m.script(call)
}

func (m *scriptedModel) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.inputs)
}

func (m *scriptedModel) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	return m.next(input)
}

// Stream splits the scripted content word by word; tool calls arrive on
// the terminal chunk.
func (m *scriptedModel) Stream(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.next(input)
	if err != nil {
		return nil, err
	}
	var chunks []*schema.Message
	for _, word := range strings.SplitAfter(msg.Content, " ") {
		if word != "" {
			chunks = append(chunks, &schema.Message{Role: schema.Assistant, Content: word})
		}
	}
	chunks = append(chunks, &schema.Message{Role: schema.Assistant, ToolCalls: msg.ToolCalls})
	return schema.StreamReaderFromArray(chunks), nil
}

func (m *scriptedModel) WithTools(infos []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	m.bound = infos
	return m, nil
}

func toolCall(id, name, args string) *schema.Message {
	return &schema.Message{
		Role: schema.Assistant,
		ToolCalls: []schema.ToolCall{{
			ID:       id,
			Type:     "function",
			Function: schema.FunctionCall{Name: name, Arguments: args},
		}},
	}
}

func answer(text string) *schema.Message {
	return schema.AssistantMessage(text, nil)
}

type recordingSink struct {
	deltas []string
}

func (s *recordingSink) Delta(text string) { s.deltas = append(s.deltas, text) }
func (s *recordingSink) text() string      { return strings.Join(s.deltas, "") }

func newStore(t *testing.T) *tasks.FileStore {
	t.Helper()
	return tasks.NewFileStore(filepath.Join(t.TempDir(), "tasks.json"))
}

func newOrchestrator(t *testing.T, m *scriptedModel, ts Toolset, mutate func(*Config)) *Orchestrator {
	t.Helper()
	cfg := Config{Model: m, Tools: ts, Instruction: DefaultPersona}
	if mutate != nil {
		mutate(&cfg)
	}
	o, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return o
}

func userSays(text string) []*schema.Message {
	return conversation.Reduce([]conversation.Turn{{ID: "u1", Role: conversation.RoleUser, Text: text}})
}

func TestRunAddsGroceries(t *testing.T) {
	store := newStore(t)
	reg := tools.NewTaskRegistry(store, tools.TaskToolsConfig{})
	m := &scriptedModel{script: func(call int) (*schema.Message, error) {
		if call == 0 {
			return toolCall("call_1", "add_task", `{"title":"buy groceries"}`), nil
		}
		return answer("I added buy groceries to your list."), nil
	}}
	o := newOrchestrator(t, m, reg, nil)

	res, err := o.Run(context.Background(), userSays("add buy groceries"), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Outcome != OutcomeAnswered {
		t.Fatalf("Outcome = %q", res.Outcome)
	}
	if !strings.Contains(res.Answer, "groceries") {
		t.Errorf("Answer = %q", res.Answer)
	}
	if res.RoundTrips != 1 {
		t.Errorf("RoundTrips = %d, want 1", res.RoundTrips)
	}

	all, err := store.Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 || all[0].Title != "buy groceries" {
		t.Fatalf("store = %+v", all)
	}

	if len(m.bound) != len(reg.ToolNames()) {
		t.Errorf("bound %d tools, want %d", len(m.bound), len(reg.ToolNames()))
	}

	second := m.inputs[1]
	last := second[len(second)-1]
	if last.Role != schema.Tool || last.ToolCallID != "call_1" {
		t.Fatalf("second model call should end with the tool result, got %+v", last)
	}
	if last.Content != "Added 'buy groceries'." {
		t.Errorf("tool result = %q", last.Content)
	}
}

func TestRunLoopBound(t *testing.T) {
	store := newStore(t)
	reg := tools.NewTaskRegistry(store, tools.TaskToolsConfig{})
	m := &scriptedModel{script: func(call int) (*schema.Message, error) {
		return toolCall(fmt.Sprintf("call_%d", call), "list_tasks", `{}`), nil
	}}
	o := newOrchestrator(t, m, reg, func(c *Config) { c.MaxRoundTrips = 3 })

	sink := &recordingSink{}
	res, err := o.Run(context.Background(), userSays("list"), sink)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Outcome != OutcomeLoopBound || res.Answer != FallbackLoopBound {
		t.Fatalf("result = %q / %q", res.Outcome, res.Answer)
	}
	if res.RoundTrips != 3 {
		t.Errorf("RoundTrips = %d, want 3", res.RoundTrips)
	}
	if m.calls() != 4 {
		t.Errorf("model calls = %d, want 4", m.calls())
	}
	if sink.text() != FallbackLoopBound {
		t.Errorf("sink = %q", sink.text())
	}
}

func TestRunGreetsWithoutUserTurn(t *testing.T) {
	m := &scriptedModel{script: func(int) (*schema.Message, error) {
		return answer("Hi! I'm your task manager."), nil
	}}
	o := newOrchestrator(t, m, tools.NewTaskRegistry(newStore(t), tools.TaskToolsConfig{}), nil)

	history := conversation.Reduce([]conversation.Turn{{Role: conversation.RoleSystem, Text: "voice session"}})
	if _, err := o.Run(context.Background(), history, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}

	first := m.inputs[0]
	if first[0].Role != schema.System || first[0].Content != DefaultPersona {
		t.Errorf("first message should be the instruction, got %+v", first[0])
	}
	last := first[len(first)-1]
	if last.Role != schema.User || last.Content != GreetingDirective {
		t.Errorf("expected greeting directive, got %+v", last)
	}

	if _, err := o.Run(context.Background(), userSays("hello"), nil); err != nil {
		t.Fatal(err)
	}
	for _, msg := range m.inputs[1] {
		if msg.Content == GreetingDirective {
			t.Error("greeting directive injected despite user turn")
		}
	}
}

func TestRunStreamingMatchesGenerate(t *testing.T) {
	script := func(int) (*schema.Message, error) {
		return answer("You have two tasks: laundry and taxes."), nil
	}
	reg := tools.NewTaskRegistry(newStore(t), tools.TaskToolsConfig{})

	plain := newOrchestrator(t, &scriptedModel{script: script}, reg, nil)
	want, err := plain.Run(context.Background(), userSays("what's up"), nil)
	if err != nil {
		t.Fatal(err)
	}

	streamed := newOrchestrator(t, &scriptedModel{script: script}, reg, func(c *Config) { c.Streaming = true })
	sink := &recordingSink{}
	got, err := streamed.Run(context.Background(), userSays("what's up"), sink)
	if err != nil {
		t.Fatal(err)
	}

	if len(sink.deltas) < 2 {
		t.Errorf("expected several deltas, got %d", len(sink.deltas))
	}
	if sink.text() != want.Answer {
		t.Errorf("streamed %q, want %q", sink.text(), want.Answer)
	}
	if got.Answer != want.Answer {
		t.Errorf("Answer %q, want %q", got.Answer, want.Answer)
	}
}

func TestRunStreamingDropsToolTurnText(t *testing.T) {
	reg := tools.NewTaskRegistry(newStore(t), tools.TaskToolsConfig{})
	m := &scriptedModel{script: func(call int) (*schema.Message, error) {
		if call == 0 {
			msg := toolCall("call_1", "add_task", `{"title":"laundry"}`)
			msg.Content = "Sure, let me add that."
			return msg, nil
		}
		return answer("Added laundry."), nil
	}}
	o := newOrchestrator(t, m, reg, func(c *Config) { c.Streaming = true })

	sink := &recordingSink{}
	res, err := o.Run(context.Background(), userSays("add laundry"), sink)
	if err != nil {
		t.Fatal(err)
	}
	if sink.text() != "Added laundry." {
		t.Errorf("sink = %q, want only the final answer", sink.text())
	}
	if res.Answer != sink.text() {
		t.Errorf("Answer %q differs from streamed %q", res.Answer, sink.text())
	}
}

func TestRunModelFailure(t *testing.T) {
	boom := errors.New("connection reset")
	m := &scriptedModel{script: func(int) (*schema.Message, error) { return nil, boom }}
	bus := events.NewBus(16)
	var got []events.Event
	bus.Subscribe(func(e events.Event) { got = append(got, e) }, events.EventAssistantMessage)

	o := newOrchestrator(t, m, tools.NewTaskRegistry(newStore(t), tools.TaskToolsConfig{}), func(c *Config) { c.Bus = bus })

	sink := &recordingSink{}
	res, err := o.Run(context.Background(), userSays("hi"), sink)
	if err != nil {
		t.Fatalf("Run should not fail: %v", err)
	}
	if res.Outcome != OutcomeModelFailure || res.Answer != FallbackModelFailure {
		t.Fatalf("result = %q / %q", res.Outcome, res.Answer)
	}
	if !errors.Is(res.Err, boom) {
		t.Errorf("Err = %v", res.Err)
	}
	if sink.text() != FallbackModelFailure {
		t.Errorf("sink = %q", sink.text())
	}

	bus.Close()
	if len(got) != 1 {
		t.Fatalf("assistant.message events = %d", len(got))
	}
	p, _ := events.ExtractPayload[events.AssistantMessagePayload](got[0])
	if p.Outcome != string(OutcomeModelFailure) || p.Error == "" {
		t.Errorf("payload = %+v", p)
	}
}

func TestRunEmptyAnswer(t *testing.T) {
	m := &scriptedModel{script: func(int) (*schema.Message, error) { return answer("  "), nil }}
	o := newOrchestrator(t, m, tools.NewTaskRegistry(newStore(t), tools.TaskToolsConfig{}), nil)
	res, err := o.Run(context.Background(), userSays("hmm"), nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != OutcomeEmpty || res.Answer != FallbackEmpty {
		t.Errorf("result = %q / %q", res.Outcome, res.Answer)
	}
}

func TestRunToolCallsInOrder(t *testing.T) {
	store := newStore(t)
	reg := tools.NewTaskRegistry(store, tools.TaskToolsConfig{})
	m := &scriptedModel{script: func(call int) (*schema.Message, error) {
		if call == 0 {
			return &schema.Message{
				Role: schema.Assistant,
				ToolCalls: []schema.ToolCall{
					{ID: "c1", Function: schema.FunctionCall{Name: "add_task", Arguments: `{"title":"mow lawn"}`}},
					{ID: "c2", Function: schema.FunctionCall{Name: "complete_task", Arguments: `{"task_title":"mow lawn"}`}},
					{ID: "c3", Function: schema.FunctionCall{Name: "teleport", Arguments: `{}`}},
				},
			}, nil
		}
		return answer("Done."), nil
	}}
	o := newOrchestrator(t, m, reg, nil)

	res, err := o.Run(context.Background(), userSays("add and finish mow lawn"), nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != OutcomeAnswered {
		t.Fatalf("Outcome = %q", res.Outcome)
	}

	task, err := store.FindByTitle("mow lawn")
	if err != nil {
		t.Fatal(err)
	}
	if task.Status != tasks.TaskCompleted {
		t.Errorf("status = %q, want completed", task.Status)
	}

	var toolMsgs []*schema.Message
	for _, msg := range m.inputs[1] {
		if msg.Role == schema.Tool {
			toolMsgs = append(toolMsgs, msg)
		}
	}
	if len(toolMsgs) != 3 {
		t.Fatalf("tool messages = %d, want 3", len(toolMsgs))
	}
	for i, id := range []string{"c1", "c2", "c3"} {
		if toolMsgs[i].ToolCallID != id {
			t.Errorf("tool message %d id = %q, want %q", i, toolMsgs[i].ToolCallID, id)
		}
	}
	if !strings.Contains(toolMsgs[2].Content, "teleport") {
		t.Errorf("unknown tool result = %q", toolMsgs[2].Content)
	}
}

// cancellingTools cancels the run while a tool call is in flight.
type cancellingTools struct {
	*tools.Registry
	cancel context.CancelFunc
}

func (c cancellingTools) Call(ctx context.Context, name, args string) (string, error) {
	c.cancel()
	return c.Registry.Call(ctx, name, args)
}

func TestRunCancelledDuringTools(t *testing.T) {
	store := newStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ts := cancellingTools{Registry: tools.NewTaskRegistry(store, tools.TaskToolsConfig{}), cancel: cancel}
	m := &scriptedModel{script: func(call int) (*schema.Message, error) {
		return toolCall("call_1", "add_task", `{"title":"water plants"}`), nil
	}}
	o := newOrchestrator(t, m, ts, nil)

	res, err := o.Run(ctx, userSays("add water plants"), nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if res == nil || res.Outcome != OutcomeCancelled {
		t.Fatalf("result = %+v", res)
	}
	if m.calls() != 1 {
		t.Errorf("model calls = %d, want 1", m.calls())
	}
	if _, err := store.FindByTitle("water plants"); err != nil {
		t.Errorf("dispatched tool call should persist: %v", err)
	}
}

func TestRunPublishesToolEvents(t *testing.T) {
	bus := events.NewBus(32)
	var got []events.ToolCallPayload
	bus.Subscribe(func(e events.Event) {
		if p, ok := events.ExtractPayload[events.ToolCallPayload](e); ok {
			got = append(got, p)
		}
	})

	m := &scriptedModel{script: func(call int) (*schema.Message, error) {
		if call == 0 {
			return toolCall("call_1", "get_task_summary", ``), nil
		}
		return answer("Nothing to do."), nil
	}}
	o := newOrchestrator(t, m, tools.NewTaskRegistry(newStore(t), tools.TaskToolsConfig{}), func(c *Config) { c.Bus = bus })

	if _, err := o.Run(context.Background(), userSays("summary"), nil); err != nil {
		t.Fatal(err)
	}
	bus.Close()

	if len(got) != 2 {
		t.Fatalf("tool events = %d, want 2", len(got))
	}
	if got[0].Status != events.ToolStatusStarted || got[1].Status != events.ToolStatusCompleted {
		t.Errorf("statuses = %q, %q", got[0].Status, got[1].Status)
	}
	if got[1].Name != "get_task_summary" || got[1].Result == "" {
		t.Errorf("completed payload = %+v", got[1])
	}
}

func TestNewRequiresModelAndTools(t *testing.T) {
	if _, err := New(context.Background(), Config{Tools: tools.NewRegistry()}); err == nil {
		t.Error("expected error without model")
	}
	if _, err := New(context.Background(), Config{Model: &scriptedModel{}}); err == nil {
		t.Error("expected error without tools")
	}
}

func TestRunComposesInstructionPerRun(t *testing.T) {
	m := &scriptedModel{script: func(int) (*schema.Message, error) {
		return answer("Sure."), nil
	}}
	now := time.Date(2026, 3, 9, 23, 59, 0, 0, time.UTC)
	o := newOrchestrator(t, m, tools.NewTaskRegistry(newStore(t), tools.TaskToolsConfig{}), func(c *Config) {
		c.InstructionAt = NewPromptComposer().ComposeAt(PromptContext{})
		c.Now = func() time.Time { return now }
	})

	if _, err := o.Run(context.Background(), userSays("what's due?"), nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	now = now.Add(2 * time.Minute)
	if _, err := o.Run(context.Background(), userSays("and now?"), nil); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := m.inputs[0][0].Content; !strings.Contains(got, "Today is Monday, March 9, 2026") {
		t.Errorf("first run instruction:\n%s", got)
	}
	if got := m.inputs[1][0].Content; !strings.Contains(got, "Today is Tuesday, March 10, 2026") {
		t.Errorf("run after midnight still on the old date:\n%s", got)
	}
}
