// Package audit emits policy decision events to external sinks.
//
// Auditing is best-effort: a failing sink must never block or fail the
// request it describes. Callers log publish errors and move on.
package audit

import (
	"context"
	"time"
)

// Event describes one policy chain decision.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	UserID    string    `json:"user_id"`
	Endpoint  string    `json:"endpoint,omitempty"`
	Phase     string    `json:"phase"`
	Policy    string    `json:"policy,omitempty"`
	Allowed   bool      `json:"allowed"`
	Pending   bool      `json:"pending"`
	Reason    string    `json:"reason,omitempty"`
}

// Sink receives decision events.
type Sink interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// NopSink discards all events.
type NopSink struct{}

// Publish discards the event.
func (NopSink) Publish(context.Context, Event) error { return nil }

// Close is a no-op.
func (NopSink) Close() error { return nil }
