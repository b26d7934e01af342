package policy

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openmined/policykit/store"
)

// recordingPolicy tracks chain execution order and returns a fixed result.
type recordingPolicy struct {
	Base

	name   string
	result Result
	err    error
	calls  *[]string
}

func (p *recordingPolicy) Name() string { return p.name }

func (p *recordingPolicy) Export() Export {
	return Export{Name: p.name, Type: "recording"}
}

func (p *recordingPolicy) PreExecute(_ context.Context, _ *RequestContext) (Result, error) {
	*p.calls = append(*p.calls, p.name+":pre")
	return p.result, p.err
}

func (p *recordingPolicy) PostExecute(_ context.Context, _ *RequestContext) (Result, error) {
	*p.calls = append(*p.calls, p.name+":post")
	return p.result, p.err
}

func TestManagerDefaultsToMemoryStore(t *testing.T) {
	m := NewManager(nil)
	require.NotNil(t, m.Store())
}

func TestManagerChainOrder(t *testing.T) {
	var calls []string
	m := NewManager(store.NewMemoryStore())
	ctx := context.Background()

	for _, name := range []string{"first", "second", "third"} {
		p := &recordingPolicy{name: name, result: Allow(name), calls: &calls}
		require.NoError(t, m.AddPolicy(ctx, p))
	}

	rc := NewRequestContext("alice")
	result, err := m.CheckPreExec(ctx, rc)
	require.NoError(t, err)
	assert.True(t, result.Allowed)
	assert.Equal(t, "", result.PolicyName)
	assert.Equal(t, []string{"first:pre", "second:pre", "third:pre"}, calls)
}

func TestManagerShortCircuitsOnDeny(t *testing.T) {
	var calls []string
	m := NewManager(store.NewMemoryStore())
	ctx := context.Background()

	require.NoError(t, m.AddPolicy(ctx, &recordingPolicy{name: "open", result: Allow("open"), calls: &calls}))
	require.NoError(t, m.AddPolicy(ctx, &recordingPolicy{name: "gate", result: Deny("gate", "not today"), calls: &calls}))
	require.NoError(t, m.AddPolicy(ctx, &recordingPolicy{name: "never", result: Allow("never"), calls: &calls}))

	rc := NewRequestContext("alice")
	result, err := m.CheckPreExec(ctx, rc)
	require.NoError(t, err)
	assert.False(t, result.Allowed)
	assert.Equal(t, "gate", result.PolicyName)
	assert.Equal(t, "not today", result.Reason)
	assert.Equal(t, []string{"open:pre", "gate:pre"}, calls)
}

func TestManagerShortCircuitsOnPending(t *testing.T) {
	var calls []string
	m := NewManager(store.NewMemoryStore())
	ctx := context.Background()

	require.NoError(t, m.AddPolicy(ctx, &recordingPolicy{name: "review", result: Pend("review", "awaiting approval"), calls: &calls}))
	require.NoError(t, m.AddPolicy(ctx, &recordingPolicy{name: "never", result: Allow("never"), calls: &calls}))

	rc := NewRequestContext("alice")
	result, err := m.CheckPostExec(ctx, rc)
	require.NoError(t, err)
	assert.False(t, result.Allowed)
	assert.True(t, result.Pending)
	assert.Equal(t, []string{"review:post"}, calls)
}

func TestManagerPropagatesErrors(t *testing.T) {
	var calls []string
	m := NewManager(store.NewMemoryStore())
	ctx := context.Background()

	boom := errors.New("store unavailable")
	require.NoError(t, m.AddPolicy(ctx, &recordingPolicy{name: "broken", err: boom, calls: &calls}))

	_, err := m.CheckPreExec(ctx, NewRequestContext("alice"))
	assert.ErrorIs(t, err, boom)
}

func TestManagerPolicyLookup(t *testing.T) {
	var calls []string
	m := NewManager(store.NewMemoryStore())
	ctx := context.Background()

	require.NoError(t, m.AddPolicy(ctx, &recordingPolicy{name: "a", result: Allow("a"), calls: &calls}))
	require.NoError(t, m.AddPolicy(ctx, &recordingPolicy{name: "b", result: Allow("b"), calls: &calls}))

	assert.Equal(t, []string{"a", "b"}, m.PolicyNames())
	assert.NotNil(t, m.Policy("a"))
	assert.Nil(t, m.Policy("missing"))
}

func TestManagerExport(t *testing.T) {
	var calls []string
	m := NewManager(store.NewMemoryStore())
	ctx := context.Background()

	require.NoError(t, m.AddPolicy(ctx, &recordingPolicy{name: "a", result: Allow("a"), calls: &calls}))

	exported := m.Export()
	assert.Equal(t, 1, exported["policy_count"])
	exports, ok := exported["policies"].([]Export)
	require.True(t, ok)
	require.Len(t, exports, 1)
	assert.Equal(t, "a", exports[0].Name)
}

func TestResultWithMetaDoesNotMutate(t *testing.T) {
	original := Deny("p", "no")
	derived := original.WithMeta("remaining", 0)

	assert.Nil(t, original.Metadata)
	assert.Equal(t, 0, derived.Metadata["remaining"])
}
