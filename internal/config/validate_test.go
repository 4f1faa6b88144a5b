package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name     string
		cfg      *Config
		problems []string
	}{
		{
			name: "defaults are valid",
			cfg:  Default(),
		},
		{
			name:     "provider without name",
			cfg:      &Config{Providers: []Provider{{APIKey: "k"}}},
			problems: []string{"providers[0].name is required"},
		},
		{
			name:     "bad base url",
			cfg:      &Config{Providers: []Provider{{Name: "openai", APIBase: "not a url"}}},
			problems: []string{`providers[0].base_url must be a URL, got "not a url"`},
		},
		{
			name:     "bad cooldown",
			cfg:      &Config{Circuit: Circuit{Cooldown: "soon"}},
			problems: []string{`circuit.cooldown must be a positive duration such as 30s, got "soon"`},
		},
		{
			name:     "model without provider",
			cfg:      &Config{Defaults: Defaults{Model: "gpt-4o"}},
			problems: []string{"defaults.provider is required"},
		},
		{
			name:     "port out of range",
			cfg:      &Config{Port: 70000},
			problems: []string{"port failed lte=65535 (value 70000)"},
		},
		{
			name: "duplicate providers",
			cfg: &Config{Providers: []Provider{
				{Name: "glm"},
				{Name: "GLM"},
			}},
			problems: []string{`providers[1]: duplicate provider "GLM"`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()

			if tt.problems == nil {
				assert.NoError(t, err)
				return
			}

			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.problems, verr.Problems)
		})
	}
}
