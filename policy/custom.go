package policy

import "context"

// Evaluation phases a Custom policy can run in.
const (
	CustomPhasePre  = "pre"
	CustomPhasePost = "post"
	CustomPhaseBoth = "both"
)

// CheckFunc is a caller-supplied check. True means allow.
type CheckFunc func(ctx context.Context, rc *RequestContext) (bool, error)

// Custom wraps a plain function as a policy, no new type required.
type Custom struct {
	Base

	name       string
	phase      string
	check      CheckFunc
	denyReason string
}

// NewCustom creates a policy that runs check in the given phase
// (CustomPhasePre, CustomPhasePost or CustomPhaseBoth; empty defaults to
// pre) and denies with denyReason when the check returns false.
func NewCustom(name, phase string, check CheckFunc, denyReason string) *Custom {
	if phase == "" {
		phase = CustomPhasePre
	}
	if denyReason == "" {
		denyReason = "Custom policy check failed"
	}
	return &Custom{
		name:       name,
		phase:      phase,
		check:      check,
		denyReason: denyReason,
	}
}

// Name returns the policy name.
func (p *Custom) Name() string {
	return p.name
}

// Export returns the policy snapshot.
func (p *Custom) Export() Export {
	phases := []string{p.phase}
	if p.phase == CustomPhaseBoth {
		phases = []string{PhasePre, PhasePost}
	}
	return Export{
		Name:  p.name,
		Type:  "custom",
		Phase: phases,
		Config: map[string]any{
			"phase":       p.phase,
			"deny_reason": p.denyReason,
			"has_check":   p.check != nil,
		},
	}
}

func (p *Custom) runCheck(ctx context.Context, rc *RequestContext) (Result, error) {
	ok, err := p.check(ctx, rc)
	if err != nil {
		return Result{}, err
	}
	if ok {
		return Allow(p.name), nil
	}
	return Deny(p.name, p.denyReason), nil
}

// PreExecute runs the check when the phase includes pre-execution.
func (p *Custom) PreExecute(ctx context.Context, rc *RequestContext) (Result, error) {
	if p.phase == CustomPhasePre || p.phase == CustomPhaseBoth {
		return p.runCheck(ctx, rc)
	}
	return Allow(p.name), nil
}

// PostExecute runs the check when the phase includes post-execution.
func (p *Custom) PostExecute(ctx context.Context, rc *RequestContext) (Result, error) {
	if p.phase == CustomPhasePost || p.phase == CustomPhaseBoth {
		return p.runCheck(ctx, rc)
	}
	return Allow(p.name), nil
}
