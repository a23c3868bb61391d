package policy

import (
	"github.com/eliteGoblin/focusd/site_mon/internal/domain"
)

// ActiveSet holds the profiles currently applied to blocking decisions.
// Every member shares the set's block mode and names are unique.
// Members are references into the coordinator's canonical profile list.
type ActiveSet struct {
	members []*domain.Profile
	mode    domain.BlockMode
}

// NewActiveSet builds a set from profiles, forcing each one in.
// A later profile with a different mode evicts the earlier ones.
func NewActiveSet(profiles ...*domain.Profile) *ActiveSet {
	s := &ActiveSet{mode: domain.AllowSites}
	for _, p := range profiles {
		_ = s.Add(p, true) // forced adds cannot fail
	}
	return s
}

// CanAdd reports whether Add(p, force) would succeed, without mutating anything.
func (s *ActiveSet) CanAdd(p *domain.Profile, force bool) error {
	if s.HasName(p.Name) || force || len(s.members) == 0 {
		return nil
	}
	if p.Options.BlockMode == s.mode {
		return nil
	}
	for _, m := range s.members {
		if m.Options.Challenge.WaitTimeEnabled {
			return domain.ErrChallengeLocked
		}
	}
	return nil
}

// Add activates p. A member with the same name makes this a no-op.
// If p's mode differs from the set's, all members are deactivated and evicted,
// unless one of them has a challenge enabled and force is false.
func (s *ActiveSet) Add(p *domain.Profile, force bool) error {
	if s.HasName(p.Name) {
		return nil
	}
	if err := s.CanAdd(p, force); err != nil {
		return err
	}
	if p.Options.BlockMode != s.mode {
		for _, m := range s.members {
			m.Options.IsActive = false
		}
		s.members = nil
		s.mode = p.Options.BlockMode
	}
	p.Options.IsActive = true
	s.members = append(s.members, p)
	return nil
}

// RemoveWithName removes and returns the member with name.
// The second result is false when no such member exists.
func (s *ActiveSet) RemoveWithName(name string) (*domain.Profile, bool) {
	for i, m := range s.members {
		if m.Name == name {
			s.members = append(s.members[:i:i], s.members[i+1:]...)
			return m, true
		}
	}
	return nil, false
}

// HasName reports whether a member is named name.
func (s *ActiveSet) HasName(name string) bool {
	return s.Find(name) != nil
}

// Find returns the member named name, or nil.
func (s *ActiveSet) Find(name string) *domain.Profile {
	for _, m := range s.members {
		if m.Name == name {
			return m
		}
	}
	return nil
}

func (s *ActiveSet) IsEmpty() bool {
	return len(s.members) == 0
}

func (s *ActiveSet) Len() int {
	return len(s.members)
}

// List returns the members, oldest-activated first.
func (s *ActiveSet) List() []*domain.Profile {
	return append([]*domain.Profile(nil), s.members...)
}

// Last returns the most recently activated member, or nil.
func (s *ActiveSet) Last() *domain.Profile {
	if len(s.members) == 0 {
		return nil
	}
	return s.members[len(s.members)-1]
}

// Mode is the shared block mode. Meaningless when the set is empty.
func (s *ActiveSet) Mode() domain.BlockMode {
	return s.mode
}

// Clone returns a set with the same members and mode.
// Members are shared, not copied.
func (s *ActiveSet) Clone() *ActiveSet {
	return &ActiveSet{members: s.List(), mode: s.mode}
}

// Snapshot returns a set of deep copies, safe to read while the original keeps changing.
func (s *ActiveSet) Snapshot() *ActiveSet {
	members := make([]*domain.Profile, len(s.members))
	for i, m := range s.members {
		members[i] = m.Clone()
	}
	return &ActiveSet{members: members, mode: s.mode}
}
