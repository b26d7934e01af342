package policy

import (
	"context"
	"fmt"

	"github.com/openmined/policykit/store"
)

// Phase names reported by Export.
const (
	PhasePre  = "pre"
	PhasePost = "post"
)

// Policy is the single abstraction everything implements.
//
// PreExecute runs before the caller's handler; PostExecute runs after.
// Policies may read Input, Output and Metadata on the context, write to
// Metadata to pass data downstream, and use the store injected via Setup
// for persistent state.
type Policy interface {
	// Name is the unique identifier for this policy instance.
	Name() string

	// Setup is called once when the policy is registered with a manager.
	// Implementations load initial state, validate configuration, and
	// keep the store reference for later use.
	Setup(ctx context.Context, st store.Store) error

	// PreExecute is called during the pre-execution chain.
	PreExecute(ctx context.Context, rc *RequestContext) (Result, error)

	// PostExecute is called during the post-execution chain.
	PostExecute(ctx context.Context, rc *RequestContext) (Result, error)

	// Export returns a JSON-serializable snapshot of this policy.
	Export() Export
}

// Export is the serializable snapshot of a policy: its name, type string,
// the phases it participates in, and its type-specific configuration.
// Composite policies nest child exports inside Config.
type Export struct {
	Name   string         `json:"name"`
	Type   string         `json:"type"`
	Phase  []string       `json:"phase"`
	Config map[string]any `json:"config"`
}

// Base supplies pass-through defaults and holds the injected store so
// concrete policies only override the hooks they care about.
type Base struct {
	store store.Store
}

// Setup keeps the store reference. Policies that need to load or persist
// initial state override this and call the embedded version first.
func (b *Base) Setup(_ context.Context, st store.Store) error {
	b.store = st
	return nil
}

// Store returns the store injected at Setup, or nil before registration.
func (b *Base) Store() store.Store {
	return b.store
}

// PreExecute passes the request through.
func (b *Base) PreExecute(context.Context, *RequestContext) (Result, error) {
	return Allow(""), nil
}

// PostExecute passes the request through.
func (b *Base) PostExecute(context.Context, *RequestContext) (Result, error) {
	return Allow(""), nil
}

// stringAt fetches m[key] as a string, formatting non-string values.
func stringAt(m map[string]any, key string) string {
	v, ok := m[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
