package policy

import (
	"context"
	"fmt"
	"time"
)

const rateLimitNamespace = "rate_limit"

// RateLimit limits the number of requests a user can make within a sliding
// time window.
//
// The policy keeps a per-user list of request timestamps in the store. On
// each PreExecute call it prunes expired timestamps, checks the count, and
// either allows (recording the new request) or denies.
type RateLimit struct {
	Base

	name        string
	maxRequests int
	window      time.Duration
	clock       Clock
}

// RateLimitOption customizes a RateLimit policy.
type RateLimitOption func(*RateLimit)

// WithRateLimitClock injects a clock, mainly for tests.
func WithRateLimitClock(c Clock) RateLimitOption {
	return func(p *RateLimit) { p.clock = c }
}

// NewRateLimit creates a sliding-window rate limiter allowing maxRequests
// per window. An empty name defaults to "rate_limit".
func NewRateLimit(name string, maxRequests int, window time.Duration, opts ...RateLimitOption) *RateLimit {
	if name == "" {
		name = "rate_limit"
	}
	p := &RateLimit{
		name:        name,
		maxRequests: maxRequests,
		window:      window,
		clock:       SystemClock(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the policy name.
func (p *RateLimit) Name() string {
	return p.name
}

// Namespace returns the store namespace this policy writes to.
func (p *RateLimit) Namespace() string {
	return rateLimitNamespace + ":" + p.name
}

// Export returns the policy snapshot.
func (p *RateLimit) Export() Export {
	return Export{
		Name:  p.name,
		Type:  "rate_limit",
		Phase: []string{PhasePre},
		Config: map[string]any{
			"max_requests":   p.maxRequests,
			"window_seconds": int(p.window.Seconds()),
		},
	}
}

// PreExecute prunes expired request timestamps for the user and denies when
// the window is full; otherwise it records the request and surfaces the
// remaining allowance in the context metadata.
func (p *RateLimit) PreExecute(ctx context.Context, rc *RequestContext) (Result, error) {
	now := p.clock.Now()
	cutoff := float64(now.UnixNano())/1e9 - p.window.Seconds()

	state, err := p.Store().Get(ctx, p.Namespace(), rc.UserID)
	if err != nil {
		return Result{}, err
	}

	timestamps := timestampsFromState(state)
	pruned := timestamps[:0]
	for _, ts := range timestamps {
		if ts > cutoff {
			pruned = append(pruned, ts)
		}
	}

	if len(pruned) >= p.maxRequests {
		reason := fmt.Sprintf("Rate limit exceeded: %d requests per %s", p.maxRequests, p.window)
		return Deny(p.name, reason).
			WithMeta("remaining", 0).
			WithMeta("reset_at", pruned[0]+p.window.Seconds()), nil
	}

	pruned = append(pruned, float64(now.UnixNano())/1e9)
	err = p.Store().Set(ctx, p.Namespace(), rc.UserID, map[string]any{"timestamps": pruned})
	if err != nil {
		return Result{}, err
	}

	rc.Metadata[p.name+"_remaining"] = p.maxRequests - len(pruned)
	return Allow(p.name), nil
}

// timestampsFromState extracts the timestamp list, tolerating both the
// in-memory representation ([]float64) and the JSON round-trip one ([]any).
func timestampsFromState(state map[string]any) []float64 {
	if state == nil {
		return nil
	}
	switch raw := state["timestamps"].(type) {
	case []float64:
		return raw
	case []any:
		out := make([]float64, 0, len(raw))
		for _, v := range raw {
			if f, ok := v.(float64); ok {
				out = append(out, f)
			}
		}
		return out
	default:
		return nil
	}
}
