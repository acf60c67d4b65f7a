package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventPayload is the interface all typed payloads implement.
type EventPayload interface {
	EventType() EventType
}

type UserMessagePayload struct {
	Content string `json:"content"`
}

func (UserMessagePayload) EventType() EventType { return EventUserMessage }

type StreamPhase string

const (
	StreamPhaseStart StreamPhase = "start"
	StreamPhaseDelta StreamPhase = "delta"
	StreamPhaseEnd   StreamPhase = "end"
)

type AssistantStreamPayload struct {
	Phase   StreamPhase `json:"phase"`
	Content string      `json:"content"`
	Index   int         `json:"index"`
}

func (AssistantStreamPayload) EventType() EventType { return EventAssistantStream }

// AssistantMessagePayload carries the final answer of a conversation run.
// Outcome tells a model answer apart from one of the fallback sentences.
type AssistantMessagePayload struct {
	Content    string `json:"content"`
	Outcome    string `json:"outcome,omitempty"`
	RoundTrips int    `json:"round_trips,omitempty"`
	Error      string `json:"error,omitempty"`
}

func (AssistantMessagePayload) EventType() EventType { return EventAssistantMessage }

type ToolStatus string

const (
	ToolStatusStarted   ToolStatus = "started"
	ToolStatusCompleted ToolStatus = "completed"
	ToolStatusFailed    ToolStatus = "failed"
)

type ToolCallPayload struct {
	Status    ToolStatus `json:"status"`
	CallID    string     `json:"call_id,omitempty"`
	Name      string     `json:"name"`
	Arguments string     `json:"arguments,omitempty"`
	Result    string     `json:"result,omitempty"`
	Error     string     `json:"error,omitempty"`
}

func (ToolCallPayload) EventType() EventType { return EventToolCall }

type LLMCallPayload struct {
	Phase        string        `json:"phase"`
	Model        string        `json:"model,omitempty"`
	MessageCount int           `json:"message_count,omitempty"`
	ToolCalls    int           `json:"tool_calls,omitempty"`
	Duration     time.Duration `json:"duration,omitempty"`
	Error        string        `json:"error,omitempty"`
}

func (LLMCallPayload) EventType() EventType { return EventLLMCall }

type SessionPayload struct {
	Remote string `json:"remote,omitempty"`
}

// SessionCreatedPayload and SessionClosedPayload share a shape.
type SessionCreatedPayload SessionPayload

func (SessionCreatedPayload) EventType() EventType { return EventSessionCreated }

type SessionClosedPayload SessionPayload

func (SessionClosedPayload) EventType() EventType { return EventSessionClosed }

// ReminderPayload lists the tasks found overdue on a reminder tick.
type ReminderPayload struct {
	Overdue []string `json:"overdue"`
	Total   int      `json:"total"`
	Pending int      `json:"pending"`
	Text    string   `json:"text"`
}

func (ReminderPayload) EventType() EventType { return EventReminderOverdue }

// NewTypedEvent creates an event from a typed payload.
func NewTypedEvent(source EventSource, payload EventPayload) Event {
	return NewTypedEventWithSession(source, payload, "")
}

// NewTypedEventWithSession creates an event from a typed payload, tagged
// with the session it belongs to.
func NewTypedEventWithSession(source EventSource, payload EventPayload, sessionID string) Event {
	return Event{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Type:      payload.EventType(),
		Timestamp: time.Now(),
		Source:    source,
		Payload:   toMap(payload),
	}
}

func toMap(v any) map[string]any {
	var result map[string]any
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil
	}
	return result
}

// ExtractPayload decodes the payload of e into T.
func ExtractPayload[T EventPayload](e Event) (T, bool) {
	var result T
	if e.Type != result.EventType() {
		return result, false
	}
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return result, false
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return result, false
	}
	return result, true
}
