// Package runner executes handlers with policy enforcement on behalf of a
// host SDK.
//
// The contract: the host execs this process, writes one JSON Input to
// stdin, and reads one JSON Output from stdout. The runner always emits
// valid JSON, even on internal failure, so the host can always parse the
// response. Schema changes here require corresponding changes in the host
// SDK.
package runner

import (
	"github.com/openmined/policykit/policy"
	"github.com/openmined/policykit/store"
)

// Endpoint types accepted in Input.Type.
const (
	EndpointModel      = "model"
	EndpointDataSource = "data_source"
)

// Wire values for Output.ErrorType. These are fixed: the host SDK branches
// on them.
const (
	ErrTypePolicyDenied = "PolicyDenied"
	ErrTypeFactory      = "PolicyFactoryError"
	ErrTypeHandlerLoad  = "HandlerLoadError"
	ErrTypeExecution    = "ExecutionError"
)

// Message is a chat message for model endpoints.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ExecutionContext is the request context passed by the host SDK.
type ExecutionContext struct {
	UserID       string         `json:"user_id"`
	EndpointSlug string         `json:"endpoint_slug"`
	EndpointType string         `json:"endpoint_type"`
	Metadata     map[string]any `json:"metadata"`
}

// PolicyConfig is a single policy declaration: a unique name, a registered
// type string, and type-specific configuration.
type PolicyConfig struct {
	Name   string         `json:"name" yaml:"name"`
	Type   string         `json:"type" yaml:"type"`
	Config map[string]any `json:"config" yaml:"config"`
}

// Input is the complete request read from stdin.
type Input struct {
	Type             string           `json:"type"`
	Query            string           `json:"query,omitempty"`
	Messages         []Message        `json:"messages,omitempty"`
	TransactionToken string           `json:"transaction_token,omitempty"`
	Context          ExecutionContext `json:"context"`
	Policies         []PolicyConfig   `json:"policies"`
	Store            store.Config     `json:"store"`
	HandlerPath      string           `json:"handler_path"`
	WorkDir          string           `json:"work_dir"`
}

// PolicyResult is the wire form of a policy evaluation result.
type PolicyResult struct {
	Allowed    bool           `json:"allowed"`
	PolicyName string         `json:"policy_name"`
	Reason     string         `json:"reason"`
	Pending    bool           `json:"pending"`
	Metadata   map[string]any `json:"metadata"`
}

// Output is the complete response written to stdout.
type Output struct {
	Success      bool          `json:"success"`
	Result       any           `json:"result,omitempty"`
	Error        string        `json:"error,omitempty"`
	ErrorType    string        `json:"error_type,omitempty"`
	PolicyResult *PolicyResult `json:"policy_result,omitempty"`
}

// wireResult converts a policy.Result to its wire form.
func wireResult(r policy.Result) *PolicyResult {
	return &PolicyResult{
		Allowed:    r.Allowed,
		PolicyName: r.PolicyName,
		Reason:     r.Reason,
		Pending:    r.Pending,
		Metadata:   r.Metadata,
	}
}
