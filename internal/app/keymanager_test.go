package app

import (
	"errors"
	"strings"
	"testing"

	gateway "github.com/bifrost-ai/bifrost/internal"
	"github.com/bifrost-ai/bifrost/internal/storage"
	"github.com/bifrost-ai/bifrost/internal/testutil"
)

type recordingInvalidator struct {
	keys []string
}

func (r *recordingInvalidator) InvalidateByKeyID(id string) {
	r.keys = append(r.keys, id)
}

func TestIssueKey(t *testing.T) {
	t.Parallel()

	store := testutil.NewFakeStore()
	km := NewKeyManager(store, nil)

	secret, key, err := km.IssueKey(t.Context(), IssueKeyOpts{
		OrgID: "org-1", Label: "ci", CreatedBy: "alice",
	})
	if err != nil {
		t.Fatal(err)
	}

	if !strings.HasPrefix(secret, gateway.APIKeySecretPrefix) {
		t.Fatalf("secret %q lacks the %q prefix", secret, gateway.APIKeySecretPrefix)
	}
	if key.SecretHash != gateway.HashKey(secret) {
		t.Fatal("stored hash does not match the issued secret")
	}
	if key.Prefix != secret[:12] {
		t.Fatalf("display prefix = %q", key.Prefix)
	}
	if len(key.Scopes) != len(gateway.DefaultKeyScopes) {
		t.Fatalf("scopes = %v, want defaults", key.Scopes)
	}

	// The plaintext round-trips through the constant-time lookup.
	got, err := storage.LookupKeyBySecret(t.Context(), store, secret)
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != key.ID {
		t.Fatalf("lookup = %s, want %s", got.ID, key.ID)
	}
}

func TestIssueKeyExplicitScopes(t *testing.T) {
	t.Parallel()

	store := testutil.NewFakeStore()
	km := NewKeyManager(store, nil)

	_, key, err := km.IssueKey(t.Context(), IssueKeyOpts{
		OrgID: "org-1", Scopes: []string{gateway.ScopeModelsRead},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(key.Scopes) != 1 || key.Scopes[0] != gateway.ScopeModelsRead {
		t.Fatalf("scopes = %v", key.Scopes)
	}
}

func TestRevokeKey(t *testing.T) {
	t.Parallel()

	store := testutil.NewFakeStore()
	inv := &recordingInvalidator{}
	km := NewKeyManager(store, inv)

	_, key, err := km.IssueKey(t.Context(), IssueKeyOpts{OrgID: "org-1"})
	if err != nil {
		t.Fatal(err)
	}

	revoked, err := km.RevokeKey(t.Context(), "org-1", key.ID)
	if err != nil {
		t.Fatal(err)
	}
	if revoked.Status != gateway.KeyRevoked || revoked.RevokedAt == nil {
		t.Fatalf("revoked = %+v", revoked)
	}
	if len(inv.keys) != 1 || inv.keys[0] != key.ID {
		t.Fatalf("invalidated = %v, want the revoked key", inv.keys)
	}

	// Second revocation signals already-revoked but still returns the record.
	again, err := km.RevokeKey(t.Context(), "org-1", key.ID)
	if !errors.Is(err, gateway.ErrKeyRevoked) {
		t.Fatalf("err = %v, want ErrKeyRevoked", err)
	}
	if again == nil || again.Status != gateway.KeyRevoked {
		t.Fatalf("record on repeat revoke = %+v", again)
	}

	// Unknown key and wrong org are not found.
	if _, err := km.RevokeKey(t.Context(), "org-1", "missing"); !errors.Is(err, gateway.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if _, err := km.RevokeKey(t.Context(), "org-2", key.ID); !errors.Is(err, gateway.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound for wrong org", err)
	}
}

func TestListKeys(t *testing.T) {
	t.Parallel()

	store := testutil.NewFakeStore()
	km := NewKeyManager(store, nil)

	for range 3 {
		if _, _, err := km.IssueKey(t.Context(), IssueKeyOpts{OrgID: "org-1"}); err != nil {
			t.Fatal(err)
		}
	}
	if _, _, err := km.IssueKey(t.Context(), IssueKeyOpts{OrgID: "org-2"}); err != nil {
		t.Fatal(err)
	}

	keys, err := km.ListKeys(t.Context(), "org-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 3 {
		t.Fatalf("keys = %d, want 3", len(keys))
	}
}
