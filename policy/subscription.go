package policy

import (
	"context"
	"fmt"
	"sort"

	"github.com/openmined/policykit/store"
)

const subscriptionNamespace = "bundle_subscription"

// SubscriptionPlan describes the commercial terms of a subscription. It is
// carried for export only and never consulted during access evaluation.
type SubscriptionPlan struct {
	Name         string  `json:"plan_name"`
	Price        float64 `json:"price"`
	Currency     string  `json:"currency"`
	BillingCycle string  `json:"billing_cycle"`
	InvoiceURL   string  `json:"invoice_url"`
}

// BundleSubscription gates access behind an active subscription.
//
// Structurally an AccessGroup without documents: the subscriber list is
// persisted in the store and mutated at runtime via AddUsers / RemoveUsers.
// An external billing component is responsible for calling those methods
// when a subscription is created or cancelled; this policy does not handle
// payments.
type BundleSubscription struct {
	Base

	name   string
	users  map[string]struct{}
	plan   SubscriptionPlan
	synced bool
}

// NewBundleSubscription creates a subscription gate with an initial
// subscriber list and plan metadata.
func NewBundleSubscription(name string, users []string, plan SubscriptionPlan) *BundleSubscription {
	if plan.Currency == "" {
		plan.Currency = "USD"
	}
	p := &BundleSubscription{
		name:  name,
		users: make(map[string]struct{}, len(users)),
		plan:  plan,
	}
	for _, user := range users {
		p.users[user] = struct{}{}
	}
	return p
}

// Name returns the policy name.
func (p *BundleSubscription) Name() string {
	return p.name
}

// Namespace returns the store namespace this policy writes to.
func (p *BundleSubscription) Namespace() string {
	return subscriptionNamespace + ":" + p.name
}

// Setup injects the store and persists the initial subscriber list.
func (p *BundleSubscription) Setup(ctx context.Context, st store.Store) error {
	if err := p.Base.Setup(ctx, st); err != nil {
		return err
	}
	return p.syncToStore(ctx)
}

// Export returns the policy snapshot. Plan metadata is included; the
// subscriber list is not.
func (p *BundleSubscription) Export() Export {
	return Export{
		Name:  p.name,
		Type:  "bundle_subscription",
		Phase: []string{PhasePre},
		Config: map[string]any{
			"plan_name":     p.plan.Name,
			"price":         p.plan.Price,
			"currency":      p.plan.Currency,
			"billing_cycle": p.plan.BillingCycle,
			"invoice_url":   p.plan.InvoiceURL,
		},
	}
}

func (p *BundleSubscription) sortedUsers() []string {
	users := make([]string, 0, len(p.users))
	for user := range p.users {
		users = append(users, user)
	}
	sort.Strings(users)
	return users
}

func (p *BundleSubscription) syncToStore(ctx context.Context) error {
	err := p.Store().Set(ctx, p.Namespace(), "_config", map[string]any{
		"users": p.sortedUsers(),
	})
	if err != nil {
		return err
	}
	p.synced = true
	return nil
}

func (p *BundleSubscription) loadFromStore(ctx context.Context) error {
	cfg, err := p.Store().Get(ctx, p.Namespace(), "_config")
	if err != nil {
		return err
	}
	if cfg == nil {
		return nil
	}
	p.users = make(map[string]struct{})
	for _, user := range stringSlice(cfg["users"]) {
		p.users[user] = struct{}{}
	}
	return nil
}

// PreExecute allows active subscribers and denies everyone else.
func (p *BundleSubscription) PreExecute(ctx context.Context, rc *RequestContext) (Result, error) {
	if !p.synced {
		if err := p.loadFromStore(ctx); err != nil {
			return Result{}, err
		}
	}

	if _, ok := p.users[rc.UserID]; !ok {
		reason := fmt.Sprintf("User %q does not have an active subscription", rc.UserID)
		if p.plan.Name != "" {
			reason += fmt.Sprintf(" to plan %q", p.plan.Name)
		}
		return Deny(p.name, reason), nil
	}
	return Allow(p.name), nil
}

// AddUsers adds subscribers (called by the external billing component).
func (p *BundleSubscription) AddUsers(ctx context.Context, userIDs ...string) error {
	for _, id := range userIDs {
		p.users[id] = struct{}{}
	}
	if !p.synced {
		return nil
	}
	return p.syncToStore(ctx)
}

// RemoveUsers removes subscribers (called on cancellation or expiry).
func (p *BundleSubscription) RemoveUsers(ctx context.Context, userIDs ...string) error {
	for _, id := range userIDs {
		delete(p.users, id)
	}
	if !p.synced {
		return nil
	}
	return p.syncToStore(ctx)
}

// Users returns a copy of the current subscriber list.
func (p *BundleSubscription) Users() []string {
	return p.sortedUsers()
}
