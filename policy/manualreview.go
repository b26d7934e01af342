package policy

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

const manualReviewNamespace = "manual_review"

// Review status values stored with each held entry.
const (
	ReviewStatusPending  = "pending"
	ReviewStatusApproved = "approved"
	ReviewStatusRejected = "rejected"
)

// ReviewFunc performs an immediate automated review of a held payload and
// reports whether it is approved.
type ReviewFunc func(ctx context.Context, payload map[string]any) (bool, error)

// ManualReview holds responses for human review before they reach the end
// user.
//
// On PostExecute the policy stashes the full request/response in the store
// and returns a pending result carrying the review ID. An optional
// ReviewFunc is consulted first; if it approves, the policy short-circuits
// to allow.
type ManualReview struct {
	Base

	name     string
	reviewFn ReviewFunc
}

// ManualReviewOption customizes a ManualReview policy.
type ManualReviewOption func(*ManualReview)

// WithReviewFunc installs an immediate automated reviewer.
func WithReviewFunc(fn ReviewFunc) ManualReviewOption {
	return func(p *ManualReview) { p.reviewFn = fn }
}

// NewManualReview creates a review hold policy. An empty name defaults to
// "manual_review".
func NewManualReview(name string, opts ...ManualReviewOption) *ManualReview {
	if name == "" {
		name = "manual_review"
	}
	p := &ManualReview{name: name}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the policy name.
func (p *ManualReview) Name() string {
	return p.name
}

// Namespace returns the store namespace this policy writes to.
func (p *ManualReview) Namespace() string {
	return manualReviewNamespace + ":" + p.name
}

// Export returns the policy snapshot.
func (p *ManualReview) Export() Export {
	return Export{
		Name:  p.name,
		Type:  "manual_review",
		Phase: []string{PhasePost},
		Config: map[string]any{
			"has_review_callback": p.reviewFn != nil,
		},
	}
}

// newReviewID returns a short hex identifier for a held entry.
func newReviewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// PostExecute stores the request/response payload and holds it for review.
func (p *ManualReview) PostExecute(ctx context.Context, rc *RequestContext) (Result, error) {
	reviewID := newReviewID()
	payload := map[string]any{
		"review_id": reviewID,
		"user_id":   rc.UserID,
		"input":     rc.Input,
		"output":    rc.Output,
		"timestamp": rc.Timestamp.Format(time.RFC3339),
		"status":    ReviewStatusPending,
	}

	// Try automated review first.
	if p.reviewFn != nil {
		approved, err := p.reviewFn(ctx, payload)
		if err != nil {
			return Result{}, err
		}
		if approved {
			payload["status"] = ReviewStatusApproved
			if err := p.Store().Set(ctx, p.Namespace(), reviewID, payload); err != nil {
				return Result{}, err
			}
			return Allow(p.name), nil
		}
	}

	if err := p.Store().Set(ctx, p.Namespace(), reviewID, payload); err != nil {
		return Result{}, err
	}

	return Pend(p.name, "Response held for manual review").
		WithMeta("review_id", reviewID), nil
}

// Approve marks a pending review as approved. Returns false if the review
// ID is unknown.
func (p *ManualReview) Approve(ctx context.Context, reviewID string) (bool, error) {
	payload, err := p.Store().Get(ctx, p.Namespace(), reviewID)
	if err != nil {
		return false, err
	}
	if payload == nil {
		return false, nil
	}
	payload["status"] = ReviewStatusApproved
	if err := p.Store().Set(ctx, p.Namespace(), reviewID, payload); err != nil {
		return false, err
	}
	return true, nil
}

// Reject marks a pending review as rejected with an optional reason.
// Returns false if the review ID is unknown.
func (p *ManualReview) Reject(ctx context.Context, reviewID, reason string) (bool, error) {
	payload, err := p.Store().Get(ctx, p.Namespace(), reviewID)
	if err != nil {
		return false, err
	}
	if payload == nil {
		return false, nil
	}
	payload["status"] = ReviewStatusRejected
	payload["reject_reason"] = reason
	if err := p.Store().Set(ctx, p.Namespace(), reviewID, payload); err != nil {
		return false, err
	}
	return true, nil
}

// Pending returns all entries still awaiting review.
func (p *ManualReview) Pending(ctx context.Context) ([]map[string]any, error) {
	keys, err := p.Store().ListKeys(ctx, p.Namespace())
	if err != nil {
		return nil, err
	}
	var pending []map[string]any
	for _, key := range keys {
		entry, err := p.Store().Get(ctx, p.Namespace(), key)
		if err != nil {
			return nil, err
		}
		if entry != nil && entry["status"] == ReviewStatusPending {
			pending = append(pending, entry)
		}
	}
	return pending, nil
}
