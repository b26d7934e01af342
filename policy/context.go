// Package policy implements a general-purpose policy enforcement framework.
//
// Everything is a policy. Policies chain in registration order, mutating the
// request context as they go. The first denial stops the chain.
package policy

import "time"

// RequestContext is the caller-owned mutable value that travels through
// every policy in the chain.
type RequestContext struct {
	// UserID identifies whoever is making the request. Any caller
	// identity works here: a user, a service, an API key.
	UserID string

	// Input is the arbitrary input payload. Policies read from here.
	Input map[string]any

	// Output is the arbitrary output payload. The caller sets this after
	// their handler runs, before the post-execution chain.
	Output map[string]any

	// Metadata is a shared scratchpad for inter-policy communication.
	// Policies may read and write it so upstream policies can pass data
	// to downstream ones.
	Metadata map[string]any

	// Timestamp records when the request was created.
	Timestamp time.Time
}

// NewRequestContext creates a context for userID with empty payload maps
// and the timestamp set to now (UTC).
func NewRequestContext(userID string) *RequestContext {
	return &RequestContext{
		UserID:    userID,
		Input:     make(map[string]any),
		Output:    make(map[string]any),
		Metadata:  make(map[string]any),
		Timestamp: time.Now().UTC(),
	}
}

// InputString returns the string at key in Input, converting non-string
// values via fmt-style formatting. Missing keys return "".
func (rc *RequestContext) InputString(key string) string {
	return stringAt(rc.Input, key)
}

// OutputString returns the string at key in Output, converting non-string
// values via fmt-style formatting. Missing keys return "".
func (rc *RequestContext) OutputString(key string) string {
	return stringAt(rc.Output, key)
}
