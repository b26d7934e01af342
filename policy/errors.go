package policy

import "fmt"

// AccessDeniedError reports that a policy denied access.
type AccessDeniedError struct {
	Result Result
}

// Error implements the error interface.
func (e *AccessDeniedError) Error() string {
	return fmt.Sprintf("access denied by policy %q: %s", e.Result.PolicyName, e.Result.Reason)
}

// PendingError reports that a policy returned a pending verdict and the
// request needs asynchronous resolution.
type PendingError struct {
	Result Result
}

// Error implements the error interface.
func (e *PendingError) Error() string {
	return fmt.Sprintf("policy %q is pending: %s", e.Result.PolicyName, e.Result.Reason)
}

// ConfigError reports that a policy is misconfigured.
type ConfigError struct {
	PolicyName string
	Message    string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("policy %q misconfigured: %s", e.PolicyName, e.Message)
}
