package policy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openmined/policykit/store"
)

func newSubscriptionForTest(t *testing.T) *BundleSubscription {
	t.Helper()
	plan := SubscriptionPlan{
		Name:         "pro",
		Price:        29.99,
		BillingCycle: "monthly",
		InvoiceURL:   "https://billing.example.com/pro",
	}
	p := NewBundleSubscription("pro_access", []string{"alice"}, plan)
	require.NoError(t, p.Setup(context.Background(), store.NewMemoryStore()))
	return p
}

func TestBundleSubscriptionGate(t *testing.T) {
	p := newSubscriptionForTest(t)
	ctx := context.Background()

	result, err := p.PreExecute(ctx, NewRequestContext("alice"))
	require.NoError(t, err)
	assert.True(t, result.Allowed)

	result, err = p.PreExecute(ctx, NewRequestContext("eve"))
	require.NoError(t, err)
	assert.False(t, result.Allowed)
	assert.Contains(t, result.Reason, "does not have an active subscription")
	assert.Contains(t, result.Reason, "pro")
}

func TestBundleSubscriptionDenialWithoutPlanName(t *testing.T) {
	p := NewBundleSubscription("paid", nil, SubscriptionPlan{})
	require.NoError(t, p.Setup(context.Background(), store.NewMemoryStore()))

	result, err := p.PreExecute(context.Background(), NewRequestContext("eve"))
	require.NoError(t, err)
	assert.False(t, result.Allowed)
	assert.NotContains(t, result.Reason, "plan")
}

func TestBundleSubscriptionLifecycle(t *testing.T) {
	p := newSubscriptionForTest(t)
	ctx := context.Background()

	require.NoError(t, p.AddUsers(ctx, "bob"))
	result, err := p.PreExecute(ctx, NewRequestContext("bob"))
	require.NoError(t, err)
	assert.True(t, result.Allowed)

	require.NoError(t, p.RemoveUsers(ctx, "bob"))
	result, err = p.PreExecute(ctx, NewRequestContext("bob"))
	require.NoError(t, err)
	assert.False(t, result.Allowed)
}

func TestBundleSubscriptionCurrencyDefault(t *testing.T) {
	p := NewBundleSubscription("paid", nil, SubscriptionPlan{Name: "basic"})
	assert.Equal(t, "USD", p.Export().Config["currency"])
}

func TestBundleSubscriptionExportOmitsUsers(t *testing.T) {
	p := newSubscriptionForTest(t)

	exported := p.Export()
	assert.Equal(t, "bundle_subscription", exported.Type)
	assert.Equal(t, "pro", exported.Config["plan_name"])
	assert.Equal(t, 29.99, exported.Config["price"])
	assert.NotContains(t, exported.Config, "users")
}
