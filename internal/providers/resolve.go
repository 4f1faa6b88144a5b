package providers

import "strings"

var prefixAliases = map[string]ProviderKey{
	"openai":     OpenAI,
	"gpt":        OpenAI,
	"gpt4":       OpenAI,
	"oai":        OpenAI,
	"openrouter": OpenRouter,
	"or":         OpenRouter,
	"router":     OpenRouter,
	"gemini":     Gemini,
	"google":     Gemini,
	"bard":       Gemini,
	"anthropic":  Anthropic,
	"ant":        Anthropic,
	"sonnet":     Anthropic,
	"claude":     Anthropic,
	"glm":        GLM,
	"z":          GLM,
	"zai":        GLM,
	"minimax":    Minimax,
	"mini":       Minimax,
	"mm":         Minimax,
}

var modelHeuristics = []struct {
	prefix   string
	provider ProviderKey
}{
	{"gpt", OpenAI},
	{"gemini", Gemini},
	{"claude", Anthropic},
	{"glm", GLM},
	{"minimax", Minimax},
}

// Resolve maps the inbound model field to a provider and upstream model.
func Resolve(modelField string, defaults *ProviderModel) (ProviderModel, error) {
	return Resolver{}.Resolve(modelField, defaults)
}

// Resolver resolves model fields. IsPlugin, when set, lets registered plugin
// ids act as explicit provider prefixes.
type Resolver struct {
	IsPlugin func(id string) bool
}

func (r Resolver) Resolve(modelField string, defaults *ProviderModel) (ProviderModel, error) {
	if modelField == "" {
		if defaults != nil {
			return *defaults, nil
		}

		return ProviderModel{}, ErrMissingModel
	}

	fallback := ProviderModel{Provider: GLM, Model: modelField}
	if defaults != nil {
		fallback = *defaults
	}

	sep := ":"
	if !strings.Contains(modelField, sep) {
		sep = "/"
	}

	if prefix, rest, ok := strings.Cut(modelField, sep); ok {
		key := strings.ToLower(prefix)
		if provider, known := prefixAliases[key]; known {
			return ProviderModel{Provider: provider, Model: rest}, nil
		}

		if r.IsPlugin != nil && r.IsPlugin(key) {
			return ProviderModel{Provider: ProviderKey(key), Model: rest}, nil
		}

		return fallback, nil
	}

	lower := strings.ToLower(modelField)
	for _, h := range modelHeuristics {
		if strings.HasPrefix(lower, h.prefix) {
			return ProviderModel{Provider: h.provider, Model: modelField}, nil
		}
	}

	return fallback, nil
}
