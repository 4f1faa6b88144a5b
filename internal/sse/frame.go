// Package sse builds and parses Anthropic-style Server-Sent Events streams.
package sse

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

const (
	EventMessageStart      = "message_start"
	EventContentBlockStart = "content_block_start"
	EventContentBlockDelta = "content_block_delta"
	EventContentBlockStop  = "content_block_stop"
	EventMessageDelta      = "message_delta"
	EventMessageStop       = "message_stop"
	EventPing              = "ping"
	EventError             = "error"

	StopReasonEndTurn = "end_turn"
)

// Frame is one event/data pair.
type Frame struct {
	Event string
	Data  any
}

// Bytes serializes the frame as "event: {event}\ndata: {json}\n\n".
func (f Frame) Bytes() []byte {
	data, err := json.Marshal(f.Data)
	if err != nil {
		return []byte("event: error\ndata: {\"type\":\"error\",\"error\":{\"type\":\"api_error\",\"message\":\"failed to marshal frame\"}}\n\n")
	}

	return []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", f.Event, data))
}

// Encode concatenates serialized frames.
func Encode(frames ...Frame) []byte {
	var buf bytes.Buffer
	for _, f := range frames {
		buf.Write(f.Bytes())
	}

	return buf.Bytes()
}

type usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type message struct {
	ID           string  `json:"id"`
	Type         string  `json:"type"`
	Role         string  `json:"role"`
	Model        string  `json:"model"`
	Content      []any   `json:"content"`
	StopReason   *string `json:"stop_reason"`
	StopSequence *string `json:"stop_sequence"`
	Usage        usage   `json:"usage"`
}

type messageStart struct {
	Type    string  `json:"type"`
	Message message `json:"message"`
}

type textBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type contentBlockStart struct {
	Type         string    `json:"type"`
	Index        int       `json:"index"`
	ContentBlock textBlock `json:"content_block"`
}

type contentBlockDelta struct {
	Type  string    `json:"type"`
	Index int       `json:"index"`
	Delta textBlock `json:"delta"`
}

type contentBlockStop struct {
	Type  string `json:"type"`
	Index int    `json:"index"`
}

type stopDelta struct {
	StopReason   string  `json:"stop_reason"`
	StopSequence *string `json:"stop_sequence"`
}

type messageDelta struct {
	Type  string    `json:"type"`
	Delta stopDelta `json:"delta"`
	Usage struct {
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type typeOnly struct {
	Type string `json:"type"`
}

// NewMessageID returns a session-scoped message id.
func NewMessageID() string {
	return fmt.Sprintf("msg_%d", time.Now().UnixMilli())
}

// StartMessage opens a unified stream: message_start followed by an empty
// text content_block_start at index 0.
func StartMessage(model string) []Frame {
	return []Frame{
		{
			Event: EventMessageStart,
			Data: messageStart{
				Type: EventMessageStart,
				Message: message{
					ID:      NewMessageID(),
					Type:    "message",
					Role:    "assistant",
					Model:   model,
					Content: []any{},
				},
			},
		},
		{
			Event: EventContentBlockStart,
			Data: contentBlockStart{
				Type:         EventContentBlockStart,
				ContentBlock: textBlock{Type: "text"},
			},
		},
	}
}

// Delta wraps text in a content_block_delta. Empty text yields no frames.
func Delta(text string) []Frame {
	if text == "" {
		return nil
	}

	return []Frame{{
		Event: EventContentBlockDelta,
		Data: contentBlockDelta{
			Type:  EventContentBlockDelta,
			Delta: textBlock{Type: "text_delta", Text: text},
		},
	}}
}

// StopMessage closes a unified stream.
func StopMessage() []Frame {
	return []Frame{
		{Event: EventContentBlockStop, Data: contentBlockStop{Type: EventContentBlockStop}},
		{Event: EventMessageDelta, Data: messageDelta{
			Type:  EventMessageDelta,
			Delta: stopDelta{StopReason: StopReasonEndTurn},
		}},
		{Event: EventMessageStop, Data: typeOnly{Type: EventMessageStop}},
	}
}
