package runner

import (
	"fmt"
	"sort"
	"time"

	"github.com/openmined/policykit/policy"
)

// FactoryError is raised when policy creation from configuration fails.
type FactoryError struct {
	Message string
	Err     error
}

// Error implements the error interface.
func (e *FactoryError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e *FactoryError) Unwrap() error {
	return e.Err
}

// Builder creates a policy instance from its declared name and untyped
// configuration map. Numeric config values arrive as float64 and lists as
// []any when the config came over JSON.
type Builder func(name string, config map[string]any) (policy.Policy, error)

// Composite type strings get special handling: they reference other
// policies by name rather than carrying standalone configuration.
var compositeTypes = map[string]bool{
	"all_of": true,
	"any_of": true,
	"not":    true,
}

// Factory creates policy instances from configuration, resolving composite
// references against previously created policies.
type Factory struct {
	builders  map[string]Builder
	instances map[string]policy.Policy
}

// NewFactory creates a factory with all built-in policy types registered.
func NewFactory() *Factory {
	f := &Factory{
		builders:  make(map[string]Builder),
		instances: make(map[string]policy.Policy),
	}
	f.builders["rate_limit"] = buildRateLimit
	f.builders["token_limit"] = buildTokenLimit
	f.builders["prompt_filter"] = buildPromptFilter
	f.builders["access_group"] = buildAccessGroup
	f.builders["bundle_subscription"] = buildBundleSubscription
	f.builders["attribution"] = buildAttribution
	f.builders["manual_review"] = buildManualReview
	f.builders["transaction"] = buildTransaction
	return f
}

// Register adds a custom policy type. Registering an already known or
// composite type is an error.
func (f *Factory) Register(typeName string, builder Builder) error {
	if compositeTypes[typeName] {
		return &FactoryError{Message: fmt.Sprintf("cannot register composite type %q", typeName)}
	}
	if _, exists := f.builders[typeName]; exists {
		return &FactoryError{Message: fmt.Sprintf("policy type %q already registered", typeName)}
	}
	f.builders[typeName] = builder
	return nil
}

// RegisteredTypes returns all known type names, sorted.
func (f *Factory) RegisteredTypes() []string {
	types := make([]string, 0, len(f.builders)+len(compositeTypes))
	for name := range f.builders {
		types = append(types, name)
	}
	for name := range compositeTypes {
		types = append(types, name)
	}
	sort.Strings(types)
	return types
}

// CreateAll creates policies in declaration order, allowing later
// composite policies to reference earlier ones by name.
func (f *Factory) CreateAll(configs []PolicyConfig) ([]policy.Policy, error) {
	policies := make([]policy.Policy, 0, len(configs))
	for _, cfg := range configs {
		p, err := f.createOne(cfg)
		if err != nil {
			return nil, err
		}
		f.instances[cfg.Name] = p
		policies = append(policies, p)
	}
	return policies, nil
}

// Instance returns a created policy by name, or nil.
func (f *Factory) Instance(name string) policy.Policy {
	return f.instances[name]
}

func (f *Factory) createOne(cfg PolicyConfig) (policy.Policy, error) {
	if cfg.Name == "" {
		return nil, &FactoryError{Message: fmt.Sprintf("policy of type %q missing a name", cfg.Type)}
	}
	if compositeTypes[cfg.Type] {
		return f.createComposite(cfg)
	}

	builder, ok := f.builders[cfg.Type]
	if !ok {
		return nil, &FactoryError{Message: fmt.Sprintf(
			"unknown policy type: %q (available: %v)", cfg.Type, f.RegisteredTypes())}
	}

	p, err := builder(cfg.Name, cfg.Config)
	if err != nil {
		return nil, &FactoryError{
			Message: fmt.Sprintf("failed to create policy %q of type %q", cfg.Name, cfg.Type),
			Err:     err,
		}
	}
	return p, nil
}

func (f *Factory) createComposite(cfg PolicyConfig) (policy.Policy, error) {
	switch cfg.Type {
	case "all_of", "any_of":
		names := configStrings(cfg.Config, "policies")
		if len(names) == 0 {
			return nil, &FactoryError{Message: fmt.Sprintf(
				"%s policy %q requires a 'policies' list", cfg.Type, cfg.Name)}
		}
		children := make([]policy.Policy, len(names))
		for i, name := range names {
			child, err := f.resolve(name, cfg.Name)
			if err != nil {
				return nil, err
			}
			children[i] = child
		}
		if cfg.Type == "all_of" {
			return policy.NewAllOf(cfg.Name, children...), nil
		}
		return policy.NewAnyOf(cfg.Name, children...), nil

	case "not":
		childName := configString(cfg.Config, "policy", "")
		if childName == "" {
			return nil, &FactoryError{Message: fmt.Sprintf(
				"not policy %q requires a 'policy' reference", cfg.Name)}
		}
		child, err := f.resolve(childName, cfg.Name)
		if err != nil {
			return nil, err
		}
		var opts []policy.NotOption
		if reason := configString(cfg.Config, "deny_reason", ""); reason != "" {
			opts = append(opts, policy.WithNotDenyReason(reason))
		}
		return policy.NewNot(cfg.Name, child, opts...), nil
	}
	return nil, &FactoryError{Message: fmt.Sprintf("unknown composite type: %q", cfg.Type)}
}

// resolve looks up a previously created policy. Forward references are
// errors: composites must appear after their children in the config list.
func (f *Factory) resolve(name, referrer string) (policy.Policy, error) {
	p, ok := f.instances[name]
	if !ok {
		return nil, &FactoryError{Message: fmt.Sprintf(
			"policy %q references %q, but %q is not defined; define it earlier in the policies list",
			referrer, name, name)}
	}
	return p, nil
}

// Built-in builders.

func buildRateLimit(name string, config map[string]any) (policy.Policy, error) {
	maxRequests, ok := configInt(config, "max_requests")
	if !ok || maxRequests <= 0 {
		return nil, fmt.Errorf("'max_requests' must be a positive integer")
	}
	windowSeconds, ok := configInt(config, "window_seconds")
	if !ok || windowSeconds <= 0 {
		return nil, fmt.Errorf("'window_seconds' must be a positive integer")
	}
	return policy.NewRateLimit(name, maxRequests, time.Duration(windowSeconds)*time.Second), nil
}

func buildTokenLimit(name string, config map[string]any) (policy.Policy, error) {
	maxInput, _ := configInt(config, "max_input_tokens")
	maxOutput, _ := configInt(config, "max_output_tokens")
	if maxInput < 0 || maxOutput < 0 {
		return nil, fmt.Errorf("token limits must not be negative")
	}
	var opts []policy.TokenLimitOption
	if path := configString(config, "input_path", ""); path != "" {
		opts = append(opts, policy.WithInputPath(path))
	}
	if path := configString(config, "output_path", ""); path != "" {
		opts = append(opts, policy.WithOutputPath(path))
	}
	return policy.NewTokenLimit(name, maxInput, maxOutput, opts...), nil
}

func buildPromptFilter(name string, config map[string]any) (policy.Policy, error) {
	patterns := configStrings(config, "patterns")
	opts := []policy.PromptFilterOption{
		policy.WithFilterPaths(
			configString(config, "input_path", ""),
			configString(config, "output_path", ""),
		),
		policy.WithFilterPhases(
			configBool(config, "check_input", true),
			configBool(config, "check_output", true),
		),
	}
	return policy.NewPromptFilter(name, patterns, opts...)
}

func buildAccessGroup(name string, config map[string]any) (policy.Policy, error) {
	return policy.NewAccessGroup(
		name,
		configString(config, "owner", ""),
		configStrings(config, "users"),
		configStrings(config, "documents"),
	), nil
}

func buildBundleSubscription(name string, config map[string]any) (policy.Policy, error) {
	plan := policy.SubscriptionPlan{
		Name:         configString(config, "plan_name", ""),
		Price:        configFloat(config, "price", 0),
		Currency:     configString(config, "currency", ""),
		BillingCycle: configString(config, "billing_cycle", ""),
		InvoiceURL:   configString(config, "invoice_url", ""),
	}
	return policy.NewBundleSubscription(name, configStrings(config, "users"), plan), nil
}

func buildAttribution(name string, config map[string]any) (policy.Policy, error) {
	var opts []policy.AttributionOption
	if key := configString(config, "url_input_key", ""); key != "" {
		opts = append(opts, policy.WithURLInputKey(key))
	}
	return policy.NewAttribution(name, opts...), nil
}

func buildManualReview(name string, _ map[string]any) (policy.Policy, error) {
	return policy.NewManualReview(name), nil
}

func buildTransaction(name string, config map[string]any) (policy.Policy, error) {
	var opts []policy.TransactionOption
	if url := configString(config, "ledger_url", ""); url != "" {
		opts = append(opts, policy.WithLedger(url, configString(config, "api_token", "")))
	}
	if field := configString(config, "token_field", ""); field != "" {
		opts = append(opts, policy.WithTokenField(field))
	}
	if timeout := configFloat(config, "timeout", 0); timeout > 0 {
		opts = append(opts, policy.WithConfirmTimeout(time.Duration(timeout*float64(time.Second))))
	}
	if price := configFloat(config, "price_per_request", 0); price > 0 {
		opts = append(opts, policy.WithPricePerRequest(price))
	}
	return policy.NewTransaction(name, opts...), nil
}

// Config map helpers. JSON decodes numbers as float64 and YAML as int,
// so numeric lookups accept both.

func configInt(config map[string]any, key string) (int, bool) {
	switch v := config[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

func configFloat(config map[string]any, key string, fallback float64) float64 {
	switch v := config[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return fallback
	}
}

func configString(config map[string]any, key, fallback string) string {
	if v, ok := config[key].(string); ok {
		return v
	}
	return fallback
}

func configBool(config map[string]any, key string, fallback bool) bool {
	if v, ok := config[key].(bool); ok {
		return v
	}
	return fallback
}

func configStrings(config map[string]any, key string) []string {
	switch v := config[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
