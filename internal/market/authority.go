package market

import (
	"strings"
	"sync"
)

// Authority holds the owner identity and the moderator set. The owner is
// fixed at construction and is always implicitly a moderator.
type Authority struct {
	mu         sync.RWMutex
	owner      string
	moderators map[string]struct{}
}

// NewAuthority creates an authority set with the given permanent owner.
func NewAuthority(owner string) (*Authority, error) {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return nil, wrapValidation("owner identity is required")
	}
	return &Authority{
		owner:      owner,
		moderators: make(map[string]struct{}),
	}, nil
}

// Owner returns the permanent owner identity.
func (a *Authority) Owner() string { return a.owner }

// IsOwner reports whether id is the owner.
func (a *Authority) IsOwner(id string) bool { return id == a.owner }

// IsModerator reports whether id may perform moderator actions.
// The owner always qualifies.
func (a *Authority) IsModerator(id string) bool {
	if id == a.owner {
		return true
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.moderators[id]
	return ok
}

// AddModerator grants moderator rights. Owner-only.
func (a *Authority) AddModerator(caller, id string) error {
	if !a.IsOwner(caller) {
		return wrapUnauthorized("only the owner manages moderators")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return wrapValidation("moderator identity is required")
	}
	if id == a.owner {
		return wrapValidation("owner is already an implicit moderator")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.moderators[id]; ok {
		return ErrConflict
	}
	a.moderators[id] = struct{}{}
	return nil
}

// RemoveModerator revokes moderator rights. Owner-only; the owner itself
// cannot be removed.
func (a *Authority) RemoveModerator(caller, id string) error {
	if !a.IsOwner(caller) {
		return wrapUnauthorized("only the owner manages moderators")
	}
	if id == a.owner {
		return wrapValidation("owner cannot be removed as moderator")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.moderators[id]; !ok {
		return ErrNotFound
	}
	delete(a.moderators, id)
	return nil
}

// Moderators returns a copy of the explicit moderator set, owner excluded.
func (a *Authority) Moderators() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]string, 0, len(a.moderators))
	for id := range a.moderators {
		out = append(out, id)
	}
	return out
}
