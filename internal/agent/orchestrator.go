package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/dohr-michael/taskvox/internal/conversation"
	"github.com/dohr-michael/taskvox/internal/events"
)

// DefaultMaxRoundTrips bounds the model ⇄ tools cycles of a single run.
const DefaultMaxRoundTrips = 5

// Fixed answers used when the model does not produce one.
const (
	FallbackModelFailure = "I'm having trouble. Please try again."
	FallbackLoopBound    = "Sorry, I couldn't finish that. Please try again."
	FallbackEmpty        = "Okay. What else can I help you with?"
)

// Outcome classifies how a run reached its final answer.
type Outcome string

const (
	OutcomeAnswered     Outcome = "answered"
	OutcomeModelFailure Outcome = "model_failure"
	OutcomeLoopBound    Outcome = "loop_bound"
	OutcomeEmpty        Outcome = "empty"
	OutcomeCancelled    Outcome = "cancelled"
)

// Toolset is the tool surface the orchestrator drives.
// Call must render tool failures as text; its error is reserved for calls
// that could not be dispatched at all (unknown tool).
type Toolset interface {
	Infos(ctx context.Context) ([]*schema.ToolInfo, error)
	Call(ctx context.Context, name, argumentsInJSON string) (string, error)
}

// Sink receives the answer text of a run incrementally. The concatenation
// of all deltas of a run equals Result.Answer.
type Sink interface {
	Delta(text string)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(text string)

// Delta calls f(text).
func (f SinkFunc) Delta(text string) { f(text) }

// Result is the outcome of one conversation run.
type Result struct {
	Answer     string
	Outcome    Outcome
	RoundTrips int
	// Messages is the full sequence the model saw, including the system
	// instruction, tool turns and the final answer.
	Messages []*schema.Message
	// Err is the model error behind OutcomeModelFailure.
	Err error
}

// Config configures an Orchestrator.
type Config struct {
	Model       model.ToolCallingChatModel
	Tools       Toolset
	Instruction string
	// InstructionAt, when set, replaces Instruction and is evaluated at the
	// start of every run with the current time.
	InstructionAt func(now time.Time) string
	Now           func() time.Time // defaults to time.Now
	MaxRoundTrips int
	Streaming     bool
	Bus           *events.Bus // optional
	ModelName     string      // reported in events
}

// Orchestrator runs the AWAIT_MODEL ⇄ EXECUTE_TOOLS state machine of a
// conversation turn. It holds no per-conversation state and may be shared
// by concurrent runs.
type Orchestrator struct {
	model         model.ToolCallingChatModel
	tools         Toolset
	instruction   string
	instructionAt func(time.Time) string
	now           func() time.Time
	maxRoundTrips int
	streaming     bool
	bus           *events.Bus
	modelName     string
}

// New binds the tool schemas to the model once and returns an Orchestrator.
func New(ctx context.Context, cfg Config) (*Orchestrator, error) {
	if cfg.Model == nil {
		return nil, errors.New("orchestrator: model is required")
	}
	if cfg.Tools == nil {
		return nil, errors.New("orchestrator: tools are required")
	}

	infos, err := cfg.Tools.Infos(ctx)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: tool infos: %w", err)
	}

	bound := cfg.Model
	if len(infos) > 0 {
		bound, err = cfg.Model.WithTools(infos)
		if err != nil {
			return nil, fmt.Errorf("orchestrator: bind tools: %w", err)
		}
	}

	maxRT := cfg.MaxRoundTrips
	if maxRT <= 0 {
		maxRT = DefaultMaxRoundTrips
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Orchestrator{
		model:         bound,
		tools:         cfg.Tools,
		instruction:   cfg.Instruction,
		instructionAt: cfg.InstructionAt,
		now:           now,
		maxRoundTrips: maxRT,
		streaming:     cfg.Streaming,
		bus:           cfg.Bus,
		modelName:     cfg.ModelName,
	}, nil
}

func (o *Orchestrator) systemInstruction() string {
	if o.instructionAt != nil {
		return o.instructionAt(o.now())
	}
	return o.instruction
}

type state int

const (
	stateAwaitModel state = iota
	stateExecuteTools
	stateDone
)

func (s state) String() string {
	switch s {
	case stateAwaitModel:
		return "AWAIT_MODEL"
	case stateExecuteTools:
		return "EXECUTE_TOOLS"
	default:
		return "DONE"
	}
}

// Run executes one conversation run over history and returns its final
// answer. Model and tool failures never surface as errors: they end the
// run with a fallback answer. The only error returned is ctx.Err() when the
// caller abandons the run, together with the partial Result.
//
// sink may be nil.
func (o *Orchestrator) Run(ctx context.Context, history []*schema.Message, sink Sink) (*Result, error) {
	msgs := make([]*schema.Message, 0, len(history)+4)
	if instruction := o.systemInstruction(); instruction != "" {
		msgs = append(msgs, schema.SystemMessage(instruction))
	}
	msgs = append(msgs, history...)
	if !conversation.HasUserTurn(history) {
		msgs = append(msgs, schema.UserMessage(GreetingDirective))
	}

	res := &Result{}
	var pending []schema.ToolCall

	for st := stateAwaitModel; ; {
		if st == stateDone {
			res.Messages = msgs
			o.publishAnswer(ctx, res)
			return res, nil
		}
		if err := ctx.Err(); err != nil {
			res.Outcome = OutcomeCancelled
			res.Messages = msgs
			slog.Debug("conversation run cancelled", "state", st, "round_trips", res.RoundTrips)
			return res, err
		}

		switch st {
		case stateAwaitModel:
			msg, deltas, err := o.callModel(ctx, msgs)
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					res.Outcome = OutcomeCancelled
					res.Messages = msgs
					return res, ctxErr
				}
				slog.Warn("model call failed", "error", err, "round_trips", res.RoundTrips)
				res.Err = err
				o.finish(res, sink, OutcomeModelFailure, FallbackModelFailure)
				st = stateDone
				continue
			}

			msgs = append(msgs, msg)

			if len(msg.ToolCalls) > 0 {
				if res.RoundTrips >= o.maxRoundTrips {
					slog.Warn("tool loop bound reached", "max_round_trips", o.maxRoundTrips)
					o.finish(res, sink, OutcomeLoopBound, FallbackLoopBound)
					st = stateDone
					continue
				}
				pending = msg.ToolCalls
				st = stateExecuteTools
				continue
			}

			if strings.TrimSpace(msg.Content) == "" {
				o.finish(res, sink, OutcomeEmpty, FallbackEmpty)
				st = stateDone
				continue
			}

			res.Answer = msg.Content
			res.Outcome = OutcomeAnswered
			if sink != nil {
				for _, d := range deltas {
					sink.Delta(d)
				}
			}
			st = stateDone

		case stateExecuteTools:
			// Dispatched calls complete and persist even if the caller
			// abandons the run meanwhile.
			toolCtx := context.WithoutCancel(ctx)
			for _, tc := range pending {
				msgs = append(msgs, o.callTool(toolCtx, tc))
			}
			pending = nil
			res.RoundTrips++
			st = stateAwaitModel
		}
	}
}

// finish sets a fallback answer and emits it as a single delta.
func (o *Orchestrator) finish(res *Result, sink Sink, outcome Outcome, answer string) {
	res.Outcome = outcome
	res.Answer = answer
	if sink != nil {
		sink.Delta(answer)
	}
}

// callModel performs one model call. In streaming mode the text deltas are
// returned alongside the concatenated message; they are only forwarded by
// the caller once it knows the turn requested no tools.
func (o *Orchestrator) callModel(ctx context.Context, msgs []*schema.Message) (*schema.Message, []string, error) {
	start := time.Now()
	o.publish(ctx, events.LLMCallPayload{Phase: "request", Model: o.modelName, MessageCount: len(msgs)})

	msg, deltas, err := o.generate(ctx, msgs)

	done := events.LLMCallPayload{Phase: "response", Model: o.modelName, Duration: time.Since(start)}
	if err != nil {
		done.Error = err.Error()
	} else {
		done.ToolCalls = len(msg.ToolCalls)
	}
	o.publish(ctx, done)
	return msg, deltas, err
}

func (o *Orchestrator) generate(ctx context.Context, msgs []*schema.Message) (*schema.Message, []string, error) {
	if !o.streaming {
		msg, err := o.model.Generate(ctx, msgs)
		if err != nil {
			return nil, nil, err
		}
		if msg == nil {
			return nil, nil, errors.New("model returned no message")
		}
		var deltas []string
		if msg.Content != "" {
			deltas = []string{msg.Content}
		}
		return msg, deltas, nil
	}

	sr, err := o.model.Stream(ctx, msgs)
	if err != nil {
		return nil, nil, err
	}
	defer sr.Close()

	var (
		chunks []*schema.Message
		deltas []string
	)
	for {
		chunk, err := sr.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("model stream: %w", err)
		}
		if chunk == nil {
			continue
		}
		chunks = append(chunks, chunk)
		if chunk.Content != "" {
			deltas = append(deltas, chunk.Content)
		}
	}
	if len(chunks) == 0 {
		return nil, nil, errors.New("model stream ended without a message")
	}

	msg, err := schema.ConcatMessages(chunks)
	if err != nil {
		return nil, nil, fmt.Errorf("model stream: concat: %w", err)
	}
	return msg, deltas, nil
}

// callTool dispatches one tool call and returns its tool-result message.
func (o *Orchestrator) callTool(ctx context.Context, tc schema.ToolCall) *schema.Message {
	name := tc.Function.Name
	o.publish(ctx, events.ToolCallPayload{
		Status:    events.ToolStatusStarted,
		CallID:    tc.ID,
		Name:      name,
		Arguments: tc.Function.Arguments,
	})

	text, err := o.tools.Call(ctx, name, tc.Function.Arguments)
	if err != nil {
		slog.Warn("tool call not dispatched", "tool", name, "error", err)
		text = fmt.Sprintf("There is no tool called '%s'.", name)
		o.publish(ctx, events.ToolCallPayload{
			Status: events.ToolStatusFailed,
			CallID: tc.ID,
			Name:   name,
			Error:  err.Error(),
		})
	} else {
		slog.Debug("tool call", "tool", name, "args", tc.Function.Arguments, "result", text)
		o.publish(ctx, events.ToolCallPayload{
			Status: events.ToolStatusCompleted,
			CallID: tc.ID,
			Name:   name,
			Result: text,
		})
	}

	// Providers reject tool results with empty content.
	if text == "" {
		text = "[OK]"
	}
	m := schema.ToolMessage(text, tc.ID)
	m.ToolName = name
	return m
}

func (o *Orchestrator) publishAnswer(ctx context.Context, res *Result) {
	p := events.AssistantMessagePayload{
		Content:    res.Answer,
		Outcome:    string(res.Outcome),
		RoundTrips: res.RoundTrips,
	}
	if res.Err != nil {
		p.Error = res.Err.Error()
	}
	o.publish(ctx, p)
}

func (o *Orchestrator) publish(ctx context.Context, payload events.EventPayload) {
	if o.bus == nil {
		return
	}
	o.bus.Publish(events.NewTypedEventWithSession(events.SourceAgent, payload, events.SessionIDFromContext(ctx)))
}
