// Package ws provides a WebSocket client for the taskvox gateway.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/coder/websocket"

	"github.com/dohr-michael/taskvox/internal/events"
	wsprotocol "github.com/dohr-michael/taskvox/internal/gateway/ws"
)

// Client is a WebSocket client for the taskvox gateway.
type Client struct {
	conn   *websocket.Conn
	reqSeq uint64
	ctx    context.Context
	cancel context.CancelFunc
}

// Dial connects to the gateway WebSocket endpoint.
func Dial(ctx context.Context, url string) (*Client, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("ws dial: %w", err)
	}

	clientCtx, cancel := context.WithCancel(ctx)

	return &Client{
		conn:   conn,
		ctx:    clientCtx,
		cancel: cancel,
	}, nil
}

// SendMessage sends a user utterance to the gateway and returns the
// request id.
func (c *Client) SendMessage(content string) (string, error) {
	seq := atomic.AddUint64(&c.reqSeq, 1)
	id := fmt.Sprintf("req-%d", seq)

	params, err := json.Marshal(wsprotocol.SendMessageParams{ID: fmt.Sprintf("u-%d", seq), Content: content})
	if err != nil {
		return "", err
	}
	data, err := wsprotocol.MarshalFrame(wsprotocol.Frame{
		Type:   wsprotocol.FrameTypeRequest,
		ID:     id,
		Method: string(wsprotocol.MethodSendMessage),
		Params: params,
	})
	if err != nil {
		return "", err
	}

	return id, c.conn.Write(c.ctx, websocket.MessageText, data)
}

// ReadFrame reads the next frame from the connection.
func (c *Client) ReadFrame() (wsprotocol.Frame, error) {
	_, data, err := c.conn.Read(c.ctx)
	if err != nil {
		return wsprotocol.Frame{}, err
	}
	return wsprotocol.UnmarshalFrame(data)
}

// Ask sends content and reads frames until the final answer arrives.
// onDelta, if non-nil, receives the streamed answer text; onEvent, if
// non-nil, receives every other event frame (tool calls, reminders).
func (c *Client) Ask(content string, onDelta func(string), onEvent func(wsprotocol.Frame)) (events.AssistantMessagePayload, error) {
	var answer events.AssistantMessagePayload

	reqID, err := c.SendMessage(content)
	if err != nil {
		return answer, fmt.Errorf("send message: %w", err)
	}

	for {
		frame, err := c.ReadFrame()
		if err != nil {
			return answer, fmt.Errorf("read frame: %w", err)
		}

		switch {
		case frame.Type == wsprotocol.FrameTypeResponse:
			if frame.ID == reqID && (frame.OK == nil || !*frame.OK) {
				return answer, errors.New(frame.Error)
			}

		case frame.Event == string(events.EventAssistantStream):
			var p events.AssistantStreamPayload
			if err := json.Unmarshal(frame.Payload, &p); err != nil {
				continue
			}
			if p.Phase == events.StreamPhaseDelta && onDelta != nil {
				onDelta(p.Content)
			}

		case frame.Event == string(events.EventAssistantMessage):
			if err := json.Unmarshal(frame.Payload, &answer); err != nil {
				return answer, fmt.Errorf("decode answer: %w", err)
			}
			return answer, nil

		case frame.Type == wsprotocol.FrameTypeEvent:
			if onEvent != nil {
				onEvent(frame)
			}
		}
	}
}

// Close gracefully closes the connection.
func (c *Client) Close() error {
	c.cancel()
	return c.conn.Close(websocket.StatusNormalClosure, "bye")
}
