package sse

import (
	"encoding/json"
	"io"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrame_Bytes(t *testing.T) {
	f := Frame{Event: "message_start", Data: map[string]string{"id": "test-123"}}

	assert.Equal(t, "event: message_start\ndata: {\"id\":\"test-123\"}\n\n", string(f.Bytes()))
}

func TestDelta(t *testing.T) {
	assert.Empty(t, Delta(""))

	frames := Delta("hi")
	require.Len(t, frames, 1)
	assert.Equal(t, EventContentBlockDelta, frames[0].Event)

	out := string(Encode(frames...))
	assert.Contains(t, out, `"text":"hi"`)
	assert.Contains(t, out, `"type":"text_delta"`)
	assert.Contains(t, out, `"index":0`)
}

func TestStartMessage(t *testing.T) {
	frames := StartMessage("glm-4.7")
	require.Len(t, frames, 2)

	events, payloads := decodeAll(t, string(Encode(frames...)))
	assert.Equal(t, []string{EventMessageStart, EventContentBlockStart}, events)

	msg := payloads[0]["message"].(map[string]any)
	assert.Equal(t, "glm-4.7", msg["model"])
	assert.Equal(t, "assistant", msg["role"])
	assert.Nil(t, msg["stop_reason"])
	assert.Regexp(t, regexp.MustCompile(`^msg_\d+$`), msg["id"])
	assert.Equal(t, map[string]any{"input_tokens": float64(0), "output_tokens": float64(0)}, msg["usage"])

	block := payloads[1]["content_block"].(map[string]any)
	assert.Equal(t, "text", block["type"])
	assert.Equal(t, "", block["text"])
	assert.Equal(t, float64(0), payloads[1]["index"])
}

func TestStopMessage(t *testing.T) {
	events, payloads := decodeAll(t, string(Encode(StopMessage()...)))

	assert.Equal(t, []string{EventContentBlockStop, EventMessageDelta, EventMessageStop}, events)
	assert.Equal(t, StopReasonEndTurn, payloads[1]["delta"].(map[string]any)["stop_reason"])
}

func TestStreamShape(t *testing.T) {
	for _, n := range []int{0, 1, 7} {
		var frames []Frame
		frames = append(frames, StartMessage("m")...)
		for i := 0; i < n; i++ {
			frames = append(frames, Delta("x")...)
		}
		frames = append(frames, StopMessage()...)

		events, _ := decodeAll(t, string(Encode(frames...)))
		require.NotEmpty(t, events)
		assert.Equal(t, EventMessageStart, events[0])
		assert.Equal(t, EventMessageStop, events[len(events)-1])
		assert.Equal(t, 1, count(events, EventContentBlockStart))
		assert.Equal(t, 1, count(events, EventContentBlockStop))
		assert.Equal(t, n, count(events, EventContentBlockDelta))
	}
}

func TestDecoder(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []Event
	}{
		{
			name:     "data only",
			input:    "data: {\"a\":1}\n\ndata: [DONE]\n\n",
			expected: []Event{{Data: `{"a":1}`}, {Data: "[DONE]"}},
		},
		{
			name:     "event and multi-line data",
			input:    "event: message_start\ndata: line1\ndata: line2\n\n",
			expected: []Event{{Event: "message_start", Data: "line1\nline2"}},
		},
		{
			name:     "comments id and retry ignored",
			input:    ": keep-alive\nid: 7\nretry: 100\ndata: x\n\n",
			expected: []Event{{Data: "x"}},
		},
		{
			name:     "crlf line endings",
			input:    "event: ping\r\ndata: {}\r\n\r\n",
			expected: []Event{{Event: "ping", Data: "{}"}},
		},
		{
			name:     "trailing event without blank line",
			input:    "data: tail",
			expected: []Event{{Data: "tail"}},
		},
		{
			name:     "event without data is dropped",
			input:    "event: lonely\n\ndata: y\n\n",
			expected: []Event{{Data: "y"}},
		},
		{
			name:     "no space after colon",
			input:    "data:{\"b\":2}\n\n",
			expected: []Event{{Data: `{"b":2}`}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dec := NewDecoder(strings.NewReader(tt.input))

			var got []Event
			for {
				ev, err := dec.Next()
				if err == io.EOF {
					break
				}
				require.NoError(t, err)
				got = append(got, ev)
			}

			assert.Equal(t, tt.expected, got)
		})
	}
}

func decodeAll(t *testing.T, stream string) ([]string, []map[string]any) {
	t.Helper()

	var (
		events   []string
		payloads []map[string]any
	)

	dec := NewDecoder(strings.NewReader(stream))
	for {
		ev, err := dec.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)

		var payload map[string]any
		require.NoError(t, json.Unmarshal([]byte(ev.Data), &payload))
		assert.Equal(t, ev.Event, payload["type"])

		events = append(events, ev.Event)
		payloads = append(payloads, payload)
	}

	return events, payloads
}

func count(events []string, name string) int {
	n := 0
	for _, e := range events {
		if e == name {
			n++
		}
	}

	return n
}

func TestDecoder_OversizedLineDropsOnlyItsEvent(t *testing.T) {
	huge := strings.Repeat("x", maxLineSize+10)
	input := "data: first\n\n" +
		"event: content_block_delta\ndata: " + huge + "\n\n" +
		"data: second\n\n"

	dec := NewDecoder(strings.NewReader(input))

	ev, err := dec.Next()
	require.NoError(t, err)
	assert.Equal(t, Event{Data: "first"}, ev)

	ev, err = dec.Next()
	require.NoError(t, err)
	assert.Equal(t, Event{Data: "second"}, ev)

	_, err = dec.Next()
	assert.Equal(t, io.EOF, err)
	assert.Equal(t, 1, dec.Dropped())
}

func TestDecoder_LongLineWithinLimit(t *testing.T) {
	long := strings.Repeat("y", 200*1024)

	dec := NewDecoder(strings.NewReader("data: " + long + "\r\n\r\n"))

	ev, err := dec.Next()
	require.NoError(t, err)
	assert.Equal(t, long, ev.Data)
}
