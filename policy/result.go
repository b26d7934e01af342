package policy

// Result is the immutable outcome of a single policy evaluation.
type Result struct {
	// Allowed is true if the policy permits the request.
	Allowed bool `json:"allowed"`

	// PolicyName names the policy that produced this result.
	PolicyName string `json:"policy_name"`

	// Reason is a human-readable explanation, mainly useful on denial.
	Reason string `json:"reason"`

	// Pending is true when the request is not denied but awaiting
	// asynchronous resolution (e.g. manual review). Pending results
	// have Allowed == false.
	Pending bool `json:"pending"`

	// Metadata carries arbitrary extra data the policy wants to surface
	// (remaining credits, review ticket id, etc.).
	Metadata map[string]any `json:"metadata"`
}

// Allow builds a passing result for the named policy.
func Allow(name string) Result {
	return Result{Allowed: true, PolicyName: name}
}

// Deny builds a denial result with a human-readable reason.
func Deny(name, reason string) Result {
	return Result{PolicyName: name, Reason: reason}
}

// Pend builds a pending result: not denied, awaiting async resolution.
func Pend(name, reason string) Result {
	return Result{PolicyName: name, Reason: reason, Pending: true}
}

// Err converts the result to its error form for callers that embed the
// manager directly: nil when allowed, *PendingError when awaiting
// asynchronous resolution, *AccessDeniedError otherwise.
func (r Result) Err() error {
	switch {
	case r.Allowed:
		return nil
	case r.Pending:
		return &PendingError{Result: r}
	default:
		return &AccessDeniedError{Result: r}
	}
}

// WithMeta returns a copy of the result with an extra metadata entry.
// The receiver is never mutated, so results stay safe to share.
func (r Result) WithMeta(key string, value any) Result {
	meta := make(map[string]any, len(r.Metadata)+1)
	for k, v := range r.Metadata {
		meta[k] = v
	}
	meta[key] = value
	r.Metadata = meta
	return r
}
