package sqlite

import (
	"testing"
	"time"

	"github.com/google/uuid"

	gateway "github.com/bifrost-ai/bifrost/internal"
	"github.com/bifrost-ai/bifrost/internal/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:", time.Second)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestEnsureOrganization_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()

	o1, err := s.EnsureOrganization(ctx, "acme")
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	o2, err := s.EnsureOrganization(ctx, "acme")
	if err != nil {
		t.Fatalf("ensure again: %v", err)
	}
	if o1.ID != o2.ID || !o1.CreatedAt.Equal(o2.CreatedAt) {
		t.Error("re-ensure should return the original row")
	}
}

func TestEnsureMembership_NeverDowngrades(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()

	m, err := s.EnsureMembership(ctx, "acme", "alice", gateway.RoleOwner)
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if m.Role != gateway.RoleOwner {
		t.Fatalf("role = %s, want owner", m.Role)
	}

	m, err = s.EnsureMembership(ctx, "acme", "alice", gateway.RoleMember)
	if err != nil {
		t.Fatalf("re-ensure: %v", err)
	}
	if m.Role != gateway.RoleOwner {
		t.Errorf("role = %s, re-ensure must not downgrade owner", m.Role)
	}
}

func mkKey(t *testing.T, s *Store, orgID string) (*gateway.APIKey, string) {
	t.Helper()
	secret, err := gateway.NewKeySecret()
	if err != nil {
		t.Fatalf("secret: %v", err)
	}
	key := &gateway.APIKey{
		ID:         uuid.Must(uuid.NewV7()).String(),
		OrgID:      orgID,
		Label:      "test",
		SecretHash: gateway.HashKey(secret),
		Prefix:     gateway.KeyDisplayPrefix(secret),
		Status:     gateway.KeyActive,
		Scopes:     []string{gateway.ScopeChat},
		CreatedBy:  "alice",
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.CreateKey(t.Context(), key); err != nil {
		t.Fatalf("create key: %v", err)
	}
	return key, secret
}

func TestKeyLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()
	key, secret := mkKey(t, s, "acme")

	got, err := storage.LookupKeyBySecret(ctx, s, secret)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if got.ID != key.ID {
		t.Errorf("lookup returned key %s, want %s", got.ID, key.ID)
	}
	if len(got.Scopes) != 1 || got.Scopes[0] != gateway.ScopeChat {
		t.Errorf("scopes = %v", got.Scopes)
	}

	revoked, err := s.RevokeKey(ctx, "acme", key.ID)
	if err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if revoked.Status != gateway.KeyRevoked || revoked.RevokedAt == nil {
		t.Error("revoked key should carry revoked status and timestamp")
	}

	// Revocation is terminal: secret lookup must now fail.
	if _, err := storage.LookupKeyBySecret(ctx, s, secret); !storage.IsNotFound(err) {
		t.Errorf("lookup after revoke = %v, want not found", err)
	}

	// Second revoke is a no-op signal.
	if _, err := s.RevokeKey(ctx, "acme", key.ID); err != gateway.ErrKeyRevoked {
		t.Errorf("second revoke = %v, want ErrKeyRevoked", err)
	}
}

func TestRevokeKey_WrongOrg(t *testing.T) {
	s := newTestStore(t)
	key, _ := mkKey(t, s, "acme")
	if _, err := s.RevokeKey(t.Context(), "other", key.ID); !storage.IsNotFound(err) {
		t.Errorf("revoke in wrong org = %v, want not found", err)
	}
}

func TestTouchKeyUsed(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()
	key, _ := mkKey(t, s, "acme")

	if err := s.TouchKeyUsed(ctx, key.ID); err != nil {
		t.Fatalf("touch: %v", err)
	}
	got, err := s.GetKey(ctx, key.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.LastUsedAt == nil {
		t.Error("last_used_at should be set after touch")
	}
}

func usageEvent(orgID, userID string, at time.Time) gateway.UsageEvent {
	return gateway.UsageEvent{
		ID:           uuid.Must(uuid.NewV7()).String(),
		OrgID:        orgID,
		UserID:       userID,
		Model:        "bf-small",
		Route:        "external:openai",
		StatusCode:   200,
		LatencyMs:    12,
		PromptTokens: 10,
		CreatedAt:    at,
	}
}

func TestUsageEventsForDay(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()
	now := time.Now().UTC()

	events := []gateway.UsageEvent{
		usageEvent("acme", "alice", now),
		usageEvent("acme", "alice", now.Add(-48*time.Hour)),
		usageEvent("other", "bob", now),
	}
	if err := s.InsertUsage(ctx, events); err != nil {
		t.Fatalf("insert: %v", err)
	}

	today, err := s.UsageEventsForDay(ctx, "acme", gateway.DayKey(now))
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(today) != 1 {
		t.Errorf("today = %d events, want 1", len(today))
	}

	all, err := s.UsageEventsForOrg(ctx, "acme")
	if err != nil {
		t.Fatalf("query org: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("org = %d events, want 2", len(all))
	}
}

func TestUsageRetentionTrim(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()
	now := time.Now().UTC()

	var events []gateway.UsageEvent
	for i := range 10 {
		events = append(events, usageEvent("acme", "alice", now.Add(time.Duration(i)*time.Second)))
	}
	if err := s.InsertUsage(ctx, events); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := s.trim(ctx, "usage_events", 5); err != nil {
		t.Fatalf("trim: %v", err)
	}

	rest, err := s.UsageEventsForOrg(ctx, "acme")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(rest) != 5 {
		t.Fatalf("retained = %d, want 5", len(rest))
	}
	// Newest events survive.
	if rest[0].CreatedAt.Before(rest[len(rest)-1].CreatedAt) {
		t.Error("results should be newest first")
	}
}

func TestRequestErrorsWindow(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()
	now := time.Now().UTC()

	recent := gateway.RequestError{
		ID: uuid.Must(uuid.NewV7()).String(), OrgID: "acme", UserID: "alice",
		Model: "bf-small", StatusCode: 429, Code: gateway.CodeQueueFull, CreatedAt: now,
	}
	stale := recent
	stale.ID = uuid.Must(uuid.NewV7()).String()
	stale.CreatedAt = now.Add(-30 * time.Hour)

	for _, e := range []gateway.RequestError{recent, stale} {
		if err := s.InsertRequestError(ctx, e); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	got, err := s.RequestErrorsForOrg(ctx, "acme", 24*time.Hour)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 1 || got[0].ID != recent.ID {
		t.Errorf("window query returned %d rows, want just the recent one", len(got))
	}
}
