package sse

import (
	"bufio"
	"errors"
	"io"
	"strings"
)

// maxLineSize caps a single SSE line. Longer lines drop the event they
// belong to; the stream carries on with the next one.
const maxLineSize = 1024 * 1024

// Event is one dispatched upstream event. Data lines are joined with "\n".
type Event struct {
	Event string
	Data  string
}

// Decoder reads events from an SSE stream.
type Decoder struct {
	reader  *bufio.Reader
	err     error
	dropped int
}

func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{reader: bufio.NewReaderSize(r, 64*1024)}
}

// Dropped returns how many events were discarded for an oversized line.
func (d *Decoder) Dropped() int {
	return d.dropped
}

// Next returns the next event with a data payload. It returns io.EOF once the
// stream is exhausted; a trailing event without a blank line is still
// dispatched.
func (d *Decoder) Next() (Event, error) {
	var (
		ev      Event
		data    []string
		hasData bool
		skip    bool
	)

	for {
		line, oversized, err := d.readLine()
		if err != nil {
			if errors.Is(err, io.EOF) && hasData && !skip {
				ev.Data = strings.Join(data, "\n")
				return ev, nil
			}

			if skip {
				d.dropped++
			}

			return Event{}, err
		}

		if oversized {
			skip = true
			continue
		}

		if line == "" {
			if skip {
				d.dropped++
			} else if hasData {
				ev.Data = strings.Join(data, "\n")
				return ev, nil
			}

			ev, data, hasData, skip = Event{}, nil, false, false

			continue
		}

		if skip || strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")

		switch field {
		case "event":
			ev.Event = value
		case "data":
			data = append(data, value)
			hasData = true
		}
	}
}

// readLine returns the next line without its terminator. A line longer than
// maxLineSize is consumed in full and reported as oversized.
func (d *Decoder) readLine() (string, bool, error) {
	if d.err != nil {
		return "", false, d.err
	}

	var (
		buf       []byte
		oversized bool
	)

	for {
		chunk, err := d.reader.ReadSlice('\n')

		if !oversized {
			if len(buf)+len(chunk) > maxLineSize {
				oversized = true
				buf = nil
			} else {
				buf = append(buf, chunk...)
			}
		}

		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}

		if err != nil {
			d.err = err

			if len(buf) == 0 && !oversized {
				return "", false, err
			}
		}

		line := strings.TrimSuffix(strings.TrimSuffix(string(buf), "\n"), "\r")

		return line, oversized, nil
	}
}
