// Package tokens estimates prompt sizes with the cl100k_base encoding.
package tokens

import (
	"strings"
	"sync"
	"sync/atomic"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"

	"github.com/MohMaya/claude-glm-wrapper/internal/providers"
)

const encodingName = "cl100k_base"

// loader fetches the encoding once in the background. Until it is ready,
// or when fetching fails, counts are estimated.
type loader struct {
	get  func(string) (*tiktoken.Tiktoken, error)
	once sync.Once
	tke  atomic.Pointer[tiktoken.Tiktoken]
	done chan struct{}
}

func newLoader(get func(string) (*tiktoken.Tiktoken, error)) *loader {
	return &loader{get: get, done: make(chan struct{})}
}

func (l *loader) start() {
	l.once.Do(func() {
		go func() {
			defer close(l.done)

			if tke, err := l.get(encodingName); err == nil {
				l.tke.Store(tke)
			}
		}()
	})
}

var current atomic.Pointer[loader]

func init() {
	current.Store(newLoader(tiktoken.GetEncoding))
}

// Warm starts loading the encoding without waiting for it. The first load
// may download the BPE ranks, so callers start it at boot.
func Warm() {
	current.Load().start()
}

// Ready is closed once loading has finished, successfully or not.
func Ready() <-chan struct{} {
	l := current.Load()
	l.start()

	return l.done
}

// Count returns the number of tokens in text. While the encoding is not
// loaded it falls back to one token per four runes.
func Count(text string) int {
	if text == "" {
		return 0
	}

	l := current.Load()
	l.start()

	if tke := l.tke.Load(); tke != nil {
		return len(tke.Encode(text, nil, nil))
	}

	return estimate(text)
}

func estimate(text string) int {
	return (utf8.RuneCountInString(text) + 3) / 4
}

// Available reports whether the real encoding is loaded.
func Available() bool {
	l := current.Load()
	l.start()

	return l.tke.Load() != nil
}

// CountRequest estimates the input tokens of a request: system prompt,
// message text and raw tool definitions.
func CountRequest(req *providers.UnifiedRequest) int {
	var sb strings.Builder

	sb.WriteString(req.SystemText())

	for _, m := range req.Messages {
		sb.WriteString(m.Content.PlainText())
	}

	for _, tool := range req.Tools {
		sb.Write(tool)
	}

	return Count(sb.String())
}
