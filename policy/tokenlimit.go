package policy

import (
	"context"
	"fmt"
	"unicode/utf8"
)

// TokenCounter counts tokens in a piece of text. The default counts runes.
type TokenCounter func(text string) int

// TokenLimit enforces maximum token (or character) counts on the request
// input and/or output.
//
// Which field to read is configurable: InputPath keys into the context
// Input during PreExecute, OutputPath keys into the context Output during
// PostExecute. A limit of 0 leaves that side unchecked.
type TokenLimit struct {
	Base

	name       string
	maxInput   int
	maxOutput  int
	inputPath  string
	outputPath string
	counter    TokenCounter
	custom     bool
}

// TokenLimitOption customizes a TokenLimit policy.
type TokenLimitOption func(*TokenLimit)

// WithInputPath sets the Input key holding the input text (default "query").
func WithInputPath(path string) TokenLimitOption {
	return func(p *TokenLimit) { p.inputPath = path }
}

// WithOutputPath sets the Output key holding the output text
// (default "response").
func WithOutputPath(path string) TokenLimitOption {
	return func(p *TokenLimit) { p.outputPath = path }
}

// WithTokenCounter replaces the default rune counter with a custom counter.
func WithTokenCounter(counter TokenCounter) TokenLimitOption {
	return func(p *TokenLimit) {
		p.counter = counter
		p.custom = true
	}
}

// NewTokenLimit creates a token budget policy. maxInput caps the input side
// and maxOutput the output side; 0 disables that check. An empty name
// defaults to "token_limit".
func NewTokenLimit(name string, maxInput, maxOutput int, opts ...TokenLimitOption) *TokenLimit {
	if name == "" {
		name = "token_limit"
	}
	p := &TokenLimit{
		name:       name,
		maxInput:   maxInput,
		maxOutput:  maxOutput,
		inputPath:  "query",
		outputPath: "response",
		counter:    utf8.RuneCountInString,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the policy name.
func (p *TokenLimit) Name() string {
	return p.name
}

// Export returns the policy snapshot.
func (p *TokenLimit) Export() Export {
	return Export{
		Name:  p.name,
		Type:  "token_limit",
		Phase: []string{PhasePre, PhasePost},
		Config: map[string]any{
			"max_input_tokens":   p.maxInput,
			"max_output_tokens":  p.maxOutput,
			"input_path":         p.inputPath,
			"output_path":        p.outputPath,
			"has_custom_counter": p.custom,
		},
	}
}

// PreExecute checks the input side budget.
func (p *TokenLimit) PreExecute(_ context.Context, rc *RequestContext) (Result, error) {
	if p.maxInput <= 0 {
		return Allow(p.name), nil
	}

	count := p.counter(rc.InputString(p.inputPath))
	if count > p.maxInput {
		reason := fmt.Sprintf("Input tokens (%d) exceed limit (%d)", count, p.maxInput)
		return Deny(p.name, reason).
			WithMeta("token_count", count).
			WithMeta("limit", p.maxInput), nil
	}

	rc.Metadata[p.name+"_input_tokens"] = count
	return Allow(p.name), nil
}

// PostExecute checks the output side budget.
func (p *TokenLimit) PostExecute(_ context.Context, rc *RequestContext) (Result, error) {
	if p.maxOutput <= 0 {
		return Allow(p.name), nil
	}

	count := p.counter(rc.OutputString(p.outputPath))
	if count > p.maxOutput {
		reason := fmt.Sprintf("Output tokens (%d) exceed limit (%d)", count, p.maxOutput)
		return Deny(p.name, reason).
			WithMeta("token_count", count).
			WithMeta("limit", p.maxOutput), nil
	}

	rc.Metadata[p.name+"_output_tokens"] = count
	return Allow(p.name), nil
}
