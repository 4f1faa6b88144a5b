package providers

// OpenAIMessage is a chat completions message.
type OpenAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GeminiPart is one text part of a Gemini content entry.
type GeminiPart struct {
	Text string `json:"text"`
}

// GeminiContent is a single Gemini conversation turn.
type GeminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []GeminiPart `json:"parts"`
}

// ToOpenAIMessages flattens messages into plain-text chat messages. Image and
// tool_use blocks do not survive the conversion.
func ToOpenAIMessages(messages []Message) []OpenAIMessage {
	out := make([]OpenAIMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, OpenAIMessage{Role: m.Role, Content: m.Content.PlainText()})
	}

	return out
}

// ToGeminiContents maps messages onto Gemini roles: assistant becomes model,
// everything else user.
func ToGeminiContents(messages []Message) []GeminiContent {
	out := make([]GeminiContent, 0, len(messages))
	for _, m := range messages {
		role := RoleUser
		if m.Role == RoleAssistant {
			role = "model"
		}

		out = append(out, GeminiContent{
			Role:  role,
			Parts: []GeminiPart{{Text: m.Content.PlainText()}},
		})
	}

	return out
}
