package policy

import (
	"context"
	"fmt"
	"sort"

	"github.com/openmined/policykit/store"
)

const accessGroupNamespace = "access_group"

// AccessGroup gates access based on user membership in a group.
//
// On PreExecute, members pass and the group's document IDs are merged into
// Metadata["resolved_documents"] so downstream policies and the handler can
// use them; non-members are denied. Membership and document lists are
// persisted in the store so they survive restarts and can be mutated at
// runtime via AddUsers / AddDocuments.
type AccessGroup struct {
	Base

	name      string
	owner     string
	users     map[string]struct{}
	documents []string
	synced    bool
}

// NewAccessGroup creates a membership gate named name, owned by owner,
// granting the listed documents to the listed users.
func NewAccessGroup(name, owner string, users, documents []string) *AccessGroup {
	p := &AccessGroup{
		name:      name,
		owner:     owner,
		users:     make(map[string]struct{}, len(users)),
		documents: append([]string(nil), documents...),
	}
	for _, user := range users {
		p.users[user] = struct{}{}
	}
	return p
}

// Name returns the policy name.
func (p *AccessGroup) Name() string {
	return p.name
}

// Namespace returns the store namespace this policy writes to.
func (p *AccessGroup) Namespace() string {
	return accessGroupNamespace + ":" + p.name
}

// Setup injects the store and persists the initial configuration.
func (p *AccessGroup) Setup(ctx context.Context, st store.Store) error {
	if err := p.Base.Setup(ctx, st); err != nil {
		return err
	}
	return p.syncToStore(ctx)
}

// Export returns the policy snapshot.
func (p *AccessGroup) Export() Export {
	return Export{
		Name:  p.name,
		Type:  "access_group",
		Phase: []string{PhasePre},
		Config: map[string]any{
			"owner":     p.owner,
			"users":     p.sortedUsers(),
			"documents": append([]string(nil), p.documents...),
		},
	}
}

func (p *AccessGroup) sortedUsers() []string {
	users := make([]string, 0, len(p.users))
	for user := range p.users {
		users = append(users, user)
	}
	sort.Strings(users)
	return users
}

// syncToStore persists the current configuration under the "_config" key.
func (p *AccessGroup) syncToStore(ctx context.Context) error {
	err := p.Store().Set(ctx, p.Namespace(), "_config", map[string]any{
		"owner":     p.owner,
		"users":     p.sortedUsers(),
		"documents": append([]string(nil), p.documents...),
	})
	if err != nil {
		return err
	}
	p.synced = true
	return nil
}

// loadFromStore refreshes the in-memory configuration from the store.
func (p *AccessGroup) loadFromStore(ctx context.Context) error {
	cfg, err := p.Store().Get(ctx, p.Namespace(), "_config")
	if err != nil {
		return err
	}
	if cfg == nil {
		return nil
	}
	if owner, ok := cfg["owner"].(string); ok {
		p.owner = owner
	}
	p.users = make(map[string]struct{})
	for _, user := range stringSlice(cfg["users"]) {
		p.users[user] = struct{}{}
	}
	p.documents = stringSlice(cfg["documents"])
	return nil
}

// PreExecute denies non-members and accumulates the group's documents into
// Metadata["resolved_documents"] for members, deduplicated and in order.
func (p *AccessGroup) PreExecute(ctx context.Context, rc *RequestContext) (Result, error) {
	if !p.synced {
		if err := p.loadFromStore(ctx); err != nil {
			return Result{}, err
		}
	}

	if _, ok := p.users[rc.UserID]; !ok {
		reason := fmt.Sprintf("User %q is not a member of access group %q", rc.UserID, p.name)
		return Deny(p.name, reason), nil
	}

	existing := stringSlice(rc.Metadata["resolved_documents"])
	rc.Metadata["resolved_documents"] = mergeUnique(existing, p.documents)
	return Allow(p.name), nil
}

// AddUsers adds members to the group.
func (p *AccessGroup) AddUsers(ctx context.Context, userIDs ...string) error {
	for _, id := range userIDs {
		p.users[id] = struct{}{}
	}
	return p.resync(ctx)
}

// RemoveUsers removes members from the group.
func (p *AccessGroup) RemoveUsers(ctx context.Context, userIDs ...string) error {
	for _, id := range userIDs {
		delete(p.users, id)
	}
	return p.resync(ctx)
}

// AddDocuments grants documents to the group.
func (p *AccessGroup) AddDocuments(ctx context.Context, docIDs ...string) error {
	p.documents = mergeUnique(p.documents, docIDs)
	return p.resync(ctx)
}

// RemoveDocuments revokes documents from the group.
func (p *AccessGroup) RemoveDocuments(ctx context.Context, docIDs ...string) error {
	drop := make(map[string]struct{}, len(docIDs))
	for _, id := range docIDs {
		drop[id] = struct{}{}
	}
	kept := p.documents[:0]
	for _, doc := range p.documents {
		if _, ok := drop[doc]; !ok {
			kept = append(kept, doc)
		}
	}
	p.documents = kept
	return p.resync(ctx)
}

func (p *AccessGroup) resync(ctx context.Context) error {
	if !p.synced {
		return nil
	}
	return p.syncToStore(ctx)
}

// Users returns a copy of the current membership.
func (p *AccessGroup) Users() []string {
	return p.sortedUsers()
}

// Documents returns a copy of the granted document list.
func (p *AccessGroup) Documents() []string {
	return append([]string(nil), p.documents...)
}

// mergeUnique appends extra onto base, dropping duplicates while preserving
// first-seen order.
func mergeUnique(base, extra []string) []string {
	seen := make(map[string]struct{}, len(base)+len(extra))
	merged := make([]string, 0, len(base)+len(extra))
	for _, lists := range [][]string{base, extra} {
		for _, item := range lists {
			if _, ok := seen[item]; ok {
				continue
			}
			seen[item] = struct{}{}
			merged = append(merged, item)
		}
	}
	return merged
}

// stringSlice coerces a stored value into []string, tolerating the JSON
// round-trip representation ([]any).
func stringSlice(v any) []string {
	switch raw := v.(type) {
	case []string:
		return append([]string(nil), raw...)
	case []any:
		out := make([]string, 0, len(raw))
		for _, item := range raw {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
