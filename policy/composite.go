package policy

import (
	"context"
	"fmt"
	"strings"

	"github.com/openmined/policykit/store"
)

// childNames joins child policy names for a default composite name.
func childNames(policies []Policy) string {
	names := make([]string, len(policies))
	for i, p := range policies {
		names[i] = p.Name()
	}
	return strings.Join(names, ",")
}

// childExports collects nested exports for composite configs.
func childExports(policies []Policy) []Export {
	exports := make([]Export, len(policies))
	for i, p := range policies {
		exports[i] = p.Export()
	}
	return exports
}

// setupChildren runs Setup on each child with the shared store.
func setupChildren(ctx context.Context, st store.Store, policies []Policy) error {
	for _, p := range policies {
		if err := p.Setup(ctx, st); err != nil {
			return err
		}
	}
	return nil
}

// AllOf passes only if all child policies pass, short-circuiting on the
// first denial.
type AllOf struct {
	Base

	name     string
	policies []Policy
}

// NewAllOf combines policies conjunctively. An empty name defaults to
// "all_of(a,b,...)".
func NewAllOf(name string, policies ...Policy) *AllOf {
	if name == "" {
		name = fmt.Sprintf("all_of(%s)", childNames(policies))
	}
	return &AllOf{name: name, policies: policies}
}

// Name returns the composite name.
func (p *AllOf) Name() string {
	return p.name
}

// Setup injects the shared store into the composite and every child.
func (p *AllOf) Setup(ctx context.Context, st store.Store) error {
	if err := p.Base.Setup(ctx, st); err != nil {
		return err
	}
	return setupChildren(ctx, st, p.policies)
}

// Export returns the composite snapshot with nested child exports.
func (p *AllOf) Export() Export {
	return Export{
		Name:  p.name,
		Type:  "all_of",
		Phase: []string{PhasePre, PhasePost},
		Config: map[string]any{
			"operator": "all_of",
			"policies": childExports(p.policies),
		},
	}
}

// PreExecute runs every child's PreExecute, returning the first denial.
func (p *AllOf) PreExecute(ctx context.Context, rc *RequestContext) (Result, error) {
	for _, child := range p.policies {
		result, err := child.PreExecute(ctx, rc)
		if err != nil {
			return result, err
		}
		if !result.Allowed {
			return result, nil
		}
	}
	return Allow(p.name), nil
}

// PostExecute runs every child's PostExecute, returning the first denial.
func (p *AllOf) PostExecute(ctx context.Context, rc *RequestContext) (Result, error) {
	for _, child := range p.policies {
		result, err := child.PostExecute(ctx, rc)
		if err != nil {
			return result, err
		}
		if !result.Allowed {
			return result, nil
		}
	}
	return Allow(p.name), nil
}

// AnyOf passes if at least one child policy passes. When every child
// denies, the last denial is returned; an empty AnyOf always denies.
type AnyOf struct {
	Base

	name     string
	policies []Policy
}

// NewAnyOf combines policies disjunctively. An empty name defaults to
// "any_of(a,b,...)".
func NewAnyOf(name string, policies ...Policy) *AnyOf {
	if name == "" {
		name = fmt.Sprintf("any_of(%s)", childNames(policies))
	}
	return &AnyOf{name: name, policies: policies}
}

// Name returns the composite name.
func (p *AnyOf) Name() string {
	return p.name
}

// Setup injects the shared store into the composite and every child.
func (p *AnyOf) Setup(ctx context.Context, st store.Store) error {
	if err := p.Base.Setup(ctx, st); err != nil {
		return err
	}
	return setupChildren(ctx, st, p.policies)
}

// Export returns the composite snapshot with nested child exports.
func (p *AnyOf) Export() Export {
	return Export{
		Name:  p.name,
		Type:  "any_of",
		Phase: []string{PhasePre, PhasePost},
		Config: map[string]any{
			"operator": "any_of",
			"policies": childExports(p.policies),
		},
	}
}

func (p *AnyOf) evaluate(ctx context.Context, rc *RequestContext, post bool) (Result, error) {
	var lastDenial *Result
	for _, child := range p.policies {
		var result Result
		var err error
		if post {
			result, err = child.PostExecute(ctx, rc)
		} else {
			result, err = child.PreExecute(ctx, rc)
		}
		if err != nil {
			return result, err
		}
		if result.Allowed {
			return Allow(p.name), nil
		}
		lastDenial = &result
	}
	if lastDenial != nil {
		return *lastDenial, nil
	}
	return Deny(p.name, "No child policies configured"), nil
}

// PreExecute passes if any child's PreExecute passes.
func (p *AnyOf) PreExecute(ctx context.Context, rc *RequestContext) (Result, error) {
	return p.evaluate(ctx, rc, false)
}

// PostExecute passes if any child's PostExecute passes.
func (p *AnyOf) PostExecute(ctx context.Context, rc *RequestContext) (Result, error) {
	return p.evaluate(ctx, rc, true)
}

// Not inverts a policy's result: allow becomes deny and vice versa.
type Not struct {
	Base

	name       string
	policy     Policy
	denyReason string
}

// NotOption customizes a Not composite.
type NotOption func(*Not)

// WithNotDenyReason sets the reason returned when the inverted policy
// passes.
func WithNotDenyReason(reason string) NotOption {
	return func(p *Not) { p.denyReason = reason }
}

// NewNot inverts child. An empty name defaults to "not(child)".
func NewNot(name string, child Policy, opts ...NotOption) *Not {
	if name == "" {
		name = fmt.Sprintf("not(%s)", child.Name())
	}
	p := &Not{
		name:       name,
		policy:     child,
		denyReason: fmt.Sprintf("Inverted policy %q passed (expected denial)", child.Name()),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the composite name.
func (p *Not) Name() string {
	return p.name
}

// Setup injects the shared store into the composite and its child.
func (p *Not) Setup(ctx context.Context, st store.Store) error {
	if err := p.Base.Setup(ctx, st); err != nil {
		return err
	}
	return p.policy.Setup(ctx, st)
}

// Export returns the composite snapshot with the nested child export.
func (p *Not) Export() Export {
	return Export{
		Name:  p.name,
		Type:  "not",
		Phase: []string{PhasePre, PhasePost},
		Config: map[string]any{
			"operator":    "not",
			"policy":      p.policy.Export(),
			"deny_reason": p.denyReason,
		},
	}
}

func (p *Not) invert(result Result) Result {
	if result.Allowed {
		return Deny(p.name, p.denyReason)
	}
	return Allow(p.name)
}

// PreExecute inverts the child's PreExecute result.
func (p *Not) PreExecute(ctx context.Context, rc *RequestContext) (Result, error) {
	result, err := p.policy.PreExecute(ctx, rc)
	if err != nil {
		return result, err
	}
	return p.invert(result), nil
}

// PostExecute inverts the child's PostExecute result.
func (p *Not) PostExecute(ctx context.Context, rc *RequestContext) (Result, error) {
	result, err := p.policy.PostExecute(ctx, rc)
	if err != nil {
		return result, err
	}
	return p.invert(result), nil
}
