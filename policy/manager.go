package policy

import (
	"context"

	"github.com/openmined/policykit/store"
)

// Manager holds an ordered chain of policies and evaluates them against a
// request context.
//
// Policies execute in registration order. During pre-execution the chain
// short-circuits on the first denial or pending result; the same applies to
// post-execution.
type Manager struct {
	store    store.Store
	policies []Policy
}

// NewManager creates a manager backed by the given store. A nil store
// defaults to an in-memory store.
func NewManager(st store.Store) *Manager {
	if st == nil {
		st = store.NewMemoryStore()
	}
	return &Manager{store: st}
}

// AddPolicy appends the policy to the chain, injecting the shared store via
// the policy's Setup hook.
func (m *Manager) AddPolicy(ctx context.Context, p Policy) error {
	if err := p.Setup(ctx, m.store); err != nil {
		return err
	}
	m.policies = append(m.policies, p)
	return nil
}

// CheckPreExec runs every policy's PreExecute in registration order.
// The first deny or pending result stops the chain immediately; an
// all-pass chain returns Allow("").
func (m *Manager) CheckPreExec(ctx context.Context, rc *RequestContext) (Result, error) {
	for _, p := range m.policies {
		result, err := p.PreExecute(ctx, rc)
		if err != nil {
			return result, err
		}
		if !result.Allowed {
			return result, nil
		}
	}
	return Allow(""), nil
}

// CheckPostExec runs every policy's PostExecute in registration order, with
// the same short-circuit semantics as CheckPreExec.
func (m *Manager) CheckPostExec(ctx context.Context, rc *RequestContext) (Result, error) {
	for _, p := range m.policies {
		result, err := p.PostExecute(ctx, rc)
		if err != nil {
			return result, err
		}
		if !result.Allowed {
			return result, nil
		}
	}
	return Allow(""), nil
}

// Policy looks up a registered policy by name. Returns nil if not found.
func (m *Manager) Policy(name string) Policy {
	for _, p := range m.policies {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// PolicyNames returns the names of all registered policies in chain order.
func (m *Manager) PolicyNames() []string {
	names := make([]string, len(m.policies))
	for i, p := range m.policies {
		names[i] = p.Name()
	}
	return names
}

// Export returns a JSON-serializable snapshot of all registered policies.
func (m *Manager) Export() map[string]any {
	exports := make([]Export, len(m.policies))
	for i, p := range m.policies {
		exports[i] = p.Export()
	}
	return map[string]any{
		"policies":     exports,
		"policy_count": len(exports),
	}
}

// Store returns the store shared by all registered policies.
func (m *Manager) Store() store.Store {
	return m.store
}
