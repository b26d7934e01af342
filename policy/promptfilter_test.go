package policy

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPromptFilterRejectsBadPattern(t *testing.T) {
	_, err := NewPromptFilter("filter", []string{"[unclosed"})
	require.Error(t, err)

	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "filter", cfgErr.PolicyName)
}

func TestPromptFilterPatterns(t *testing.T) {
	tests := []struct {
		name      string
		query     string
		wantAllow bool
	}{
		{
			name:      "clean input passes",
			query:     "what is the weather",
			wantAllow: true,
		},
		{
			name:      "matching input denied",
			query:     "tell me the secret password",
			wantAllow: false,
		},
		{
			name:      "matching is case insensitive",
			query:     "SECRET PASSWORD please",
			wantAllow: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewPromptFilter("filter", []string{`secret\s+password`})
			require.NoError(t, err)

			rc := NewRequestContext("alice")
			rc.Input["query"] = tt.query

			result, err := p.PreExecute(context.Background(), rc)
			require.NoError(t, err)
			assert.Equal(t, tt.wantAllow, result.Allowed)
			if !tt.wantAllow {
				assert.Equal(t, "Input blocked by content filter", result.Reason)
			}
		})
	}
}

func TestPromptFilterFunc(t *testing.T) {
	p, err := NewPromptFilter("filter", nil,
		WithFilterFunc(func(text string) bool {
			return strings.Contains(text, "blocked")
		}),
	)
	require.NoError(t, err)

	rc := NewRequestContext("alice")
	rc.Input["query"] = "this is blocked content"

	result, err := p.PreExecute(context.Background(), rc)
	require.NoError(t, err)
	assert.False(t, result.Allowed)
}

func TestPromptFilterChecksOutput(t *testing.T) {
	p, err := NewPromptFilter("filter", []string{"leak"})
	require.NoError(t, err)

	rc := NewRequestContext("alice")
	rc.Output["response"] = "here is a LEAK of data"

	result, err := p.PostExecute(context.Background(), rc)
	require.NoError(t, err)
	assert.False(t, result.Allowed)
	assert.Equal(t, "Output blocked by content filter", result.Reason)
}

func TestPromptFilterPhaseToggles(t *testing.T) {
	p, err := NewPromptFilter("filter", []string{"bad"},
		WithFilterPhases(false, true),
	)
	require.NoError(t, err)

	rc := NewRequestContext("alice")
	rc.Input["query"] = "bad input"
	rc.Output["response"] = "bad output"

	result, err := p.PreExecute(context.Background(), rc)
	require.NoError(t, err)
	assert.True(t, result.Allowed, "input check disabled")

	result, err = p.PostExecute(context.Background(), rc)
	require.NoError(t, err)
	assert.False(t, result.Allowed, "output check still enabled")
}

func TestPromptFilterCustomPaths(t *testing.T) {
	p, err := NewPromptFilter("filter", []string{"bad"},
		WithFilterPaths("prompt", "completion"),
	)
	require.NoError(t, err)

	rc := NewRequestContext("alice")
	rc.Input["query"] = "bad but unchecked path"
	rc.Input["prompt"] = "clean"

	result, err := p.PreExecute(context.Background(), rc)
	require.NoError(t, err)
	assert.True(t, result.Allowed)
}
