package policy

import (
	"context"
	"fmt"
	"regexp"
)

// FilterFunc reports whether a piece of text is blocked.
type FilterFunc func(text string) bool

// PromptFilter blocks requests whose input or output matches forbidden
// patterns. It is stateless and never touches the store.
type PromptFilter struct {
	Base

	name        string
	patterns    []*regexp.Regexp
	filterFn    FilterFunc
	inputPath   string
	outputPath  string
	checkInput  bool
	checkOutput bool
}

// PromptFilterOption customizes a PromptFilter policy.
type PromptFilterOption func(*PromptFilter)

// WithFilterFunc adds a predicate; true means the text is blocked.
func WithFilterFunc(fn FilterFunc) PromptFilterOption {
	return func(p *PromptFilter) { p.filterFn = fn }
}

// WithFilterPaths sets the Input and Output keys to check
// (defaults "query" and "response").
func WithFilterPaths(inputPath, outputPath string) PromptFilterOption {
	return func(p *PromptFilter) {
		if inputPath != "" {
			p.inputPath = inputPath
		}
		if outputPath != "" {
			p.outputPath = outputPath
		}
	}
}

// WithFilterPhases enables or disables the input (pre) and output (post)
// checks. Both default to enabled.
func WithFilterPhases(checkInput, checkOutput bool) PromptFilterOption {
	return func(p *PromptFilter) {
		p.checkInput = checkInput
		p.checkOutput = checkOutput
	}
}

// NewPromptFilter creates a content filter from regex patterns. Patterns
// are matched case-insensitively; any match blocks the text. An empty name
// defaults to "prompt_filter".
func NewPromptFilter(name string, patterns []string, opts ...PromptFilterOption) (*PromptFilter, error) {
	if name == "" {
		name = "prompt_filter"
	}
	p := &PromptFilter{
		name:        name,
		inputPath:   "query",
		outputPath:  "response",
		checkInput:  true,
		checkOutput: true,
	}
	for _, pattern := range patterns {
		compiled, err := regexp.Compile("(?i)" + pattern)
		if err != nil {
			return nil, &ConfigError{PolicyName: name, Message: fmt.Sprintf("invalid pattern %q: %v", pattern, err)}
		}
		p.patterns = append(p.patterns, compiled)
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Name returns the policy name.
func (p *PromptFilter) Name() string {
	return p.name
}

// Export returns the policy snapshot.
func (p *PromptFilter) Export() Export {
	patterns := make([]string, len(p.patterns))
	for i, pattern := range p.patterns {
		patterns[i] = pattern.String()
	}
	return Export{
		Name:  p.name,
		Type:  "prompt_filter",
		Phase: []string{PhasePre, PhasePost},
		Config: map[string]any{
			"patterns":      patterns,
			"has_filter_fn": p.filterFn != nil,
			"input_path":    p.inputPath,
			"output_path":   p.outputPath,
			"check_input":   p.checkInput,
			"check_output":  p.checkOutput,
		},
	}
}

func (p *PromptFilter) blocked(text string) bool {
	for _, pattern := range p.patterns {
		if pattern.MatchString(text) {
			return true
		}
	}
	return p.filterFn != nil && p.filterFn(text)
}

// PreExecute checks the input text when input checking is enabled.
func (p *PromptFilter) PreExecute(_ context.Context, rc *RequestContext) (Result, error) {
	if !p.checkInput {
		return Allow(p.name), nil
	}
	if p.blocked(rc.InputString(p.inputPath)) {
		return Deny(p.name, "Input blocked by content filter"), nil
	}
	return Allow(p.name), nil
}

// PostExecute checks the output text when output checking is enabled.
func (p *PromptFilter) PostExecute(_ context.Context, rc *RequestContext) (Result, error) {
	if !p.checkOutput {
		return Allow(p.name), nil
	}
	if p.blocked(rc.OutputString(p.outputPath)) {
		return Deny(p.name, "Output blocked by content filter"), nil
	}
	return Allow(p.name), nil
}
