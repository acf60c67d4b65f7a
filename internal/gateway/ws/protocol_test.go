package ws

import (
	"encoding/json"
	"testing"
)

func TestSendMessageRequest(t *testing.T) {
	data := []byte(`{"type":"req","id":"req-1","method":"send_message","params":{"content":"add milk","id":"u1"}}`)

	f, err := UnmarshalFrame(data)
	if err != nil {
		t.Fatalf("UnmarshalFrame: %v", err)
	}
	if f.Type != FrameTypeRequest || f.Method != string(MethodSendMessage) {
		t.Fatalf("frame = %+v", f)
	}

	var p SendMessageParams
	if err := json.Unmarshal(f.Params, &p); err != nil {
		t.Fatalf("unmarshal params: %v", err)
	}
	if p.Content != "add milk" || p.ID != "u1" {
		t.Fatalf("params = %+v", p)
	}
}

func TestNewEventFrame(t *testing.T) {
	f, err := NewEventFrame("assistant.stream", "sess_42", map[string]string{"content": "hi"})
	if err != nil {
		t.Fatalf("NewEventFrame: %v", err)
	}
	if f.Type != FrameTypeEvent {
		t.Fatalf("expected type %q, got %q", FrameTypeEvent, f.Type)
	}
	if f.Event != "assistant.stream" {
		t.Fatalf("expected event %q, got %q", "assistant.stream", f.Event)
	}
	if f.SessionID != "sess_42" {
		t.Fatalf("expected session_id %q, got %q", "sess_42", f.SessionID)
	}

	var p map[string]string
	if err := json.Unmarshal(f.Payload, &p); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if p["content"] != "hi" {
		t.Fatalf("expected payload.content %q, got %q", "hi", p["content"])
	}
}

func TestNewResponseFrame_OK(t *testing.T) {
	f, err := NewResponseFrame("req-5", true, map[string]string{"status": "accepted"}, "")
	if err != nil {
		t.Fatalf("NewResponseFrame: %v", err)
	}
	if f.Type != FrameTypeResponse || f.ID != "req-5" {
		t.Fatalf("frame = %+v", f)
	}
	if f.OK == nil || !*f.OK {
		t.Fatal("expected ok=true")
	}
	if f.Error != "" {
		t.Fatalf("expected no error, got %q", f.Error)
	}
}

func TestNewResponseFrame_Error(t *testing.T) {
	f, err := NewResponseFrame("req-6", false, nil, "something went wrong")
	if err != nil {
		t.Fatalf("NewResponseFrame: %v", err)
	}
	if f.OK == nil || *f.OK {
		t.Fatal("expected ok=false")
	}
	if f.Error != "something went wrong" {
		t.Fatalf("expected error %q, got %q", "something went wrong", f.Error)
	}
	if f.Payload != nil {
		t.Fatalf("expected nil payload, got %s", string(f.Payload))
	}
}
