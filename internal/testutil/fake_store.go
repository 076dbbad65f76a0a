// Package testutil provides configurable test fakes for gateway interfaces.
package testutil

import (
	"context"
	"slices"
	"sync"
	"time"

	gateway "github.com/bifrost-ai/bifrost/internal"
	"github.com/bifrost-ai/bifrost/internal/storage"
)

// FakeStore is an in-memory implementation of storage.Store for testing.
// Concurrency counters are real: the shared storage.Counters is embedded, so
// admission tests exercise the same atomicity as the production store.
type FakeStore struct {
	*storage.Counters

	mu          sync.RWMutex
	orgs        map[string]*gateway.Organization
	memberships map[string]*gateway.Membership
	keys        map[string]*gateway.APIKey
	byHash      map[string]string // secret hash -> key ID
	usage       []gateway.UsageEvent
	errors      []gateway.RequestError

	// FailWith, when set, is returned by every store method that can error.
	FailWith error
}

// NewFakeStore returns a FakeStore with empty collections and fast-decaying
// queue counters.
func NewFakeStore() *FakeStore {
	return &FakeStore{
		Counters:    storage.NewCounters(250 * time.Millisecond),
		orgs:        make(map[string]*gateway.Organization),
		memberships: make(map[string]*gateway.Membership),
		keys:        make(map[string]*gateway.APIKey),
		byHash:      make(map[string]string),
	}
}

func membershipKey(orgID, userID string) string { return orgID + "\x00" + userID }

// AddKey inserts a key directly, bypassing CreateKey bookkeeping.
func (s *FakeStore) AddKey(k *gateway.APIKey) {
	s.mu.Lock()
	s.keys[k.ID] = k
	s.byHash[k.SecretHash] = k.ID
	s.mu.Unlock()
}

// --- KeyStore ---

func (s *FakeStore) EnsureOrganization(_ context.Context, id string) (*gateway.Organization, error) {
	if s.FailWith != nil {
		return nil, s.FailWith
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if org, ok := s.orgs[id]; ok {
		return org, nil
	}
	org := &gateway.Organization{ID: id, Name: id, CreatedAt: time.Now().UTC()}
	s.orgs[id] = org
	return org, nil
}

func (s *FakeStore) EnsureMembership(_ context.Context, orgID, userID string, defaultRole gateway.Role) (*gateway.Membership, error) {
	if s.FailWith != nil {
		return nil, s.FailWith
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.memberships[membershipKey(orgID, userID)]; ok {
		return m, nil
	}
	m := &gateway.Membership{OrgID: orgID, UserID: userID, Role: defaultRole, CreatedAt: time.Now().UTC()}
	s.memberships[membershipKey(orgID, userID)] = m
	return m, nil
}

func (s *FakeStore) CreateKey(_ context.Context, key *gateway.APIKey) error {
	if s.FailWith != nil {
		return s.FailWith
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[key.ID]; ok {
		return gateway.ErrConflict
	}
	s.keys[key.ID] = key
	s.byHash[key.SecretHash] = key.ID
	return nil
}

func (s *FakeStore) GetKey(_ context.Context, id string) (*gateway.APIKey, error) {
	if s.FailWith != nil {
		return nil, s.FailWith
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	k, ok := s.keys[id]
	if !ok {
		return nil, gateway.ErrNotFound
	}
	cp := *k
	return &cp, nil
}

func (s *FakeStore) GetKeyByHash(_ context.Context, hash string) (*gateway.APIKey, error) {
	if s.FailWith != nil {
		return nil, s.FailWith
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byHash[hash]
	if !ok {
		return nil, gateway.ErrNotFound
	}
	cp := *s.keys[id]
	return &cp, nil
}

func (s *FakeStore) ListKeys(_ context.Context, orgID string) ([]*gateway.APIKey, error) {
	if s.FailWith != nil {
		return nil, s.FailWith
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*gateway.APIKey
	for _, k := range s.keys {
		if k.OrgID == orgID {
			cp := *k
			out = append(out, &cp)
		}
	}
	slices.SortFunc(out, func(a, b *gateway.APIKey) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return out, nil
}

func (s *FakeStore) RevokeKey(_ context.Context, orgID, id string) (*gateway.APIKey, error) {
	if s.FailWith != nil {
		return nil, s.FailWith
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.keys[id]
	if !ok || k.OrgID != orgID {
		return nil, gateway.ErrNotFound
	}
	if k.Status == gateway.KeyRevoked {
		cp := *k
		return &cp, gateway.ErrKeyRevoked
	}
	now := time.Now().UTC()
	k.Status = gateway.KeyRevoked
	k.RevokedAt = &now
	cp := *k
	return &cp, nil
}

func (s *FakeStore) TouchKeyUsed(_ context.Context, id string) error {
	if s.FailWith != nil {
		return s.FailWith
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if k, ok := s.keys[id]; ok {
		now := time.Now().UTC()
		k.LastUsedAt = &now
	}
	return nil
}

// --- UsageStore ---

func (s *FakeStore) InsertUsage(_ context.Context, events []gateway.UsageEvent) error {
	if s.FailWith != nil {
		return s.FailWith
	}
	s.mu.Lock()
	s.usage = append(s.usage, events...)
	if n := len(s.usage) - storage.MaxUsageEvents; n > 0 {
		s.usage = slices.Delete(s.usage, 0, n)
	}
	s.mu.Unlock()
	return nil
}

func (s *FakeStore) InsertRequestError(_ context.Context, e gateway.RequestError) error {
	if s.FailWith != nil {
		return s.FailWith
	}
	s.mu.Lock()
	s.errors = append(s.errors, e)
	if n := len(s.errors) - storage.MaxRequestErrors; n > 0 {
		s.errors = slices.Delete(s.errors, 0, n)
	}
	s.mu.Unlock()
	return nil
}

func (s *FakeStore) UsageEventsForOrg(_ context.Context, orgID string) ([]gateway.UsageEvent, error) {
	if s.FailWith != nil {
		return nil, s.FailWith
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []gateway.UsageEvent
	for _, e := range s.usage {
		if e.OrgID == orgID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *FakeStore) UsageEventsForDay(_ context.Context, orgID, day string) ([]gateway.UsageEvent, error) {
	if s.FailWith != nil {
		return nil, s.FailWith
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []gateway.UsageEvent
	for _, e := range s.usage {
		if e.OrgID == orgID && gateway.DayKey(e.CreatedAt) == day {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *FakeStore) RequestErrorsForOrg(_ context.Context, orgID string, window time.Duration) ([]gateway.RequestError, error) {
	if s.FailWith != nil {
		return nil, s.FailWith
	}
	cutoff := time.Now().Add(-window)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []gateway.RequestError
	for _, e := range s.errors {
		if e.OrgID == orgID && e.CreatedAt.After(cutoff) {
			out = append(out, e)
		}
	}
	return out, nil
}

// UsageCount reports how many usage events are stored, across all orgs.
func (s *FakeStore) UsageCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.usage)
}

// ErrorCount reports how many request errors are stored, across all orgs.
func (s *FakeStore) ErrorCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.errors)
}

func (s *FakeStore) Close() error { return nil }
