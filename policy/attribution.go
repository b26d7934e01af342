package policy

import "context"

const attributionNamespace = "attribution"

// VerifyFunc checks whether userID has valid attribution at url.
type VerifyFunc func(ctx context.Context, userID, url string) (bool, error)

// Attribution requires the caller to have a verified attribution on record
// before access.
//
// Verification is delegated to an injected VerifyFunc when one is provided;
// otherwise the policy reads an attribution URL from the context Input and
// checks it against the user's persisted verified list.
type Attribution struct {
	Base

	name   string
	verify VerifyFunc
	urlKey string
}

// AttributionOption customizes an Attribution policy.
type AttributionOption func(*Attribution)

// WithVerifyFunc delegates verification to fn instead of the store lookup.
func WithVerifyFunc(fn VerifyFunc) AttributionOption {
	return func(p *Attribution) { p.verify = fn }
}

// WithURLInputKey sets the Input key holding the attribution URL
// (default "attribution_url").
func WithURLInputKey(key string) AttributionOption {
	return func(p *Attribution) { p.urlKey = key }
}

// NewAttribution creates an attribution gate. An empty name defaults to
// "attribution".
func NewAttribution(name string, opts ...AttributionOption) *Attribution {
	if name == "" {
		name = "attribution"
	}
	p := &Attribution{
		name:   name,
		urlKey: "attribution_url",
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the policy name.
func (p *Attribution) Name() string {
	return p.name
}

// Namespace returns the store namespace this policy writes to.
func (p *Attribution) Namespace() string {
	return attributionNamespace + ":" + p.name
}

// Export returns the policy snapshot.
func (p *Attribution) Export() Export {
	return Export{
		Name:  p.name,
		Type:  "attribution",
		Phase: []string{PhasePre},
		Config: map[string]any{
			"url_input_key":       p.urlKey,
			"has_verify_callback": p.verify != nil,
		},
	}
}

// PreExecute denies unless the caller's attribution verifies, recording
// "<name>_verified" metadata on success.
func (p *Attribution) PreExecute(ctx context.Context, rc *RequestContext) (Result, error) {
	url := rc.InputString(p.urlKey)

	var verified bool
	var err error
	if p.verify != nil {
		verified, err = p.verify(ctx, rc.UserID, url)
	} else {
		verified, err = p.checkStore(ctx, rc.UserID, url)
	}
	if err != nil {
		return Result{}, err
	}

	if !verified {
		return Deny(p.name, "Attribution not verified. Provide a valid attribution URL."), nil
	}

	rc.Metadata[p.name+"_verified"] = true
	return Allow(p.name), nil
}

// checkStore is the store-based fallback: the URL must appear in the user's
// persisted verified list.
func (p *Attribution) checkStore(ctx context.Context, userID, url string) (bool, error) {
	if url == "" {
		return false, nil
	}
	state, err := p.Store().Get(ctx, p.Namespace(), userID)
	if err != nil {
		return false, err
	}
	if state == nil {
		return false, nil
	}
	for _, verified := range stringSlice(state["verified_urls"]) {
		if verified == url {
			return true, nil
		}
	}
	return false, nil
}

// AddVerifiedURL registers an attribution URL as verified for a user.
func (p *Attribution) AddVerifiedURL(ctx context.Context, userID, url string) error {
	state, err := p.Store().Get(ctx, p.Namespace(), userID)
	if err != nil {
		return err
	}
	urls := stringSlice(state["verified_urls"])
	urls = mergeUnique(urls, []string{url})
	return p.Store().Set(ctx, p.Namespace(), userID, map[string]any{"verified_urls": urls})
}
