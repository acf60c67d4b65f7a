// Package conversation turns externally supplied transcripts into the
// ordered message sequence the orchestrator runs on.
package conversation

import (
	"strings"
	"sync"

	"github.com/cloudwego/eino/schema"
)

// Role is the author of a transcript turn as reported by the session layer.
type Role string

const (
	RoleSystem    Role = "system"
	RoleDeveloper Role = "developer"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Turn is one entry of an external transcript.
// ToolCallID is only meaningful for RoleTool turns.
type Turn struct {
	ID         string `json:"id,omitempty"`
	Role       Role   `json:"role"`
	Text       string `json:"text"`
	ToolCallID string `json:"tool_call_id,omitempty"`
}

// extraID is the Message.Extra key holding the originating turn id.
const extraID = "id"

// Reduce converts turns into messages, preserving order and ids.
// Turns with blank text, unknown roles, or tool results without a call id
// are skipped.
func Reduce(turns []Turn) []*schema.Message {
	msgs := make([]*schema.Message, 0, len(turns))
	for _, t := range turns {
		if m := toMessage(t); m != nil {
			msgs = append(msgs, m)
		}
	}
	return msgs
}

func toMessage(t Turn) *schema.Message {
	if strings.TrimSpace(t.Text) == "" {
		return nil
	}

	var m *schema.Message
	switch Role(strings.ToLower(string(t.Role))) {
	case RoleSystem, RoleDeveloper:
		m = schema.SystemMessage(t.Text)
	case RoleUser:
		m = schema.UserMessage(t.Text)
	case RoleAssistant:
		m = schema.AssistantMessage(t.Text, nil)
	case RoleTool:
		if t.ToolCallID == "" {
			return nil
		}
		m = schema.ToolMessage(t.Text, t.ToolCallID)
	default:
		return nil
	}

	if t.ID != "" {
		m.Extra = map[string]any{extraID: t.ID}
	}
	return m
}

// MessageID returns the turn id carried by m, if any.
func MessageID(m *schema.Message) string {
	if m == nil || m.Extra == nil {
		return ""
	}
	id, _ := m.Extra[extraID].(string)
	return id
}

// HasUserTurn reports whether msgs contains at least one user message.
func HasUserTurn(msgs []*schema.Message) bool {
	for _, m := range msgs {
		if m != nil && m.Role == schema.User {
			return true
		}
	}
	return false
}

// Transcript accumulates turns across deliveries from a session layer that
// may resend turns it already delivered. A turn whose id was seen before
// replaces the earlier one in place; turns without an id are appended.
// Nothing is ever dropped. The zero value is an empty transcript ready to
// use. Safe for concurrent use.
type Transcript struct {
	mu    sync.Mutex
	msgs  []*schema.Message
	index map[string]int
}

// NewTranscript creates an empty transcript.
func NewTranscript() *Transcript {
	return &Transcript{index: make(map[string]int)}
}

// Merge folds turns into the transcript.
func (tr *Transcript) Merge(turns ...Turn) {
	tr.Append(Reduce(turns)...)
}

// Append adds already reduced messages, merging by id like Merge.
func (tr *Transcript) Append(msgs ...*schema.Message) {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	for _, m := range msgs {
		if m == nil {
			continue
		}
		id := MessageID(m)
		if id != "" {
			if tr.index == nil {
				tr.index = make(map[string]int)
			}
			if i, ok := tr.index[id]; ok {
				tr.msgs[i] = m
				continue
			}
			tr.index[id] = len(tr.msgs)
		}
		tr.msgs = append(tr.msgs, m)
	}
}

// Messages returns a copy of the accumulated sequence.
func (tr *Transcript) Messages() []*schema.Message {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return append([]*schema.Message(nil), tr.msgs...)
}

// Len returns the number of accumulated messages.
func (tr *Transcript) Len() int {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return len(tr.msgs)
}

// Reset empties the transcript.
func (tr *Transcript) Reset() {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.msgs = nil
	tr.index = nil
}
