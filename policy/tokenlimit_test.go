package policy

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenLimitPreExecute(t *testing.T) {
	tests := []struct {
		name      string
		maxInput  int
		query     string
		wantAllow bool
	}{
		{
			name:      "under limit passes",
			maxInput:  10,
			query:     "short",
			wantAllow: true,
		},
		{
			name:      "at limit passes",
			maxInput:  5,
			query:     "12345",
			wantAllow: true,
		},
		{
			name:      "over limit denied",
			maxInput:  5,
			query:     "123456",
			wantAllow: false,
		},
		{
			name:      "zero limit disables check",
			maxInput:  0,
			query:     strings.Repeat("x", 10000),
			wantAllow: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewTokenLimit("budget", tt.maxInput, 0)
			rc := NewRequestContext("alice")
			rc.Input["query"] = tt.query

			result, err := p.PreExecute(context.Background(), rc)
			require.NoError(t, err)
			assert.Equal(t, tt.wantAllow, result.Allowed)
			if !tt.wantAllow {
				assert.Equal(t, len(tt.query), result.Metadata["token_count"])
				assert.Equal(t, tt.maxInput, result.Metadata["limit"])
			}
		})
	}
}

func TestTokenLimitPostExecute(t *testing.T) {
	p := NewTokenLimit("budget", 0, 5)
	rc := NewRequestContext("alice")
	rc.Output["response"] = "too long response"

	result, err := p.PostExecute(context.Background(), rc)
	require.NoError(t, err)
	assert.False(t, result.Allowed)
	assert.Contains(t, result.Reason, "Output tokens")
}

func TestTokenLimitCountsRunes(t *testing.T) {
	// Multi-byte characters count once each
	p := NewTokenLimit("budget", 4, 0)
	rc := NewRequestContext("alice")
	rc.Input["query"] = "héllo"

	result, err := p.PreExecute(context.Background(), rc)
	require.NoError(t, err)
	assert.False(t, result.Allowed)
	assert.Equal(t, 5, result.Metadata["token_count"])
}

func TestTokenLimitCustomPathsAndCounter(t *testing.T) {
	wordCounter := func(text string) int { return len(strings.Fields(text)) }
	p := NewTokenLimit("budget", 3, 0,
		WithInputPath("prompt"),
		WithTokenCounter(wordCounter),
	)
	rc := NewRequestContext("alice")
	rc.Input["prompt"] = "one two three four"

	result, err := p.PreExecute(context.Background(), rc)
	require.NoError(t, err)
	assert.False(t, result.Allowed)
	assert.Equal(t, 4, result.Metadata["token_count"])
}

func TestTokenLimitRecordsContextMetadata(t *testing.T) {
	p := NewTokenLimit("budget", 100, 100)
	rc := NewRequestContext("alice")
	rc.Input["query"] = "hello"
	rc.Output["response"] = "world!!"

	_, err := p.PreExecute(context.Background(), rc)
	require.NoError(t, err)
	_, err = p.PostExecute(context.Background(), rc)
	require.NoError(t, err)

	assert.Equal(t, 5, rc.Metadata["budget_input_tokens"])
	assert.Equal(t, 7, rc.Metadata["budget_output_tokens"])
}

func TestTokenLimitExport(t *testing.T) {
	p := NewTokenLimit("", 10, 20)

	exported := p.Export()
	assert.Equal(t, "token_limit", exported.Name)
	assert.Equal(t, "token_limit", exported.Type)
	assert.Equal(t, 10, exported.Config["max_input_tokens"])
	assert.Equal(t, 20, exported.Config["max_output_tokens"])
	assert.Equal(t, false, exported.Config["has_custom_counter"])
}
