package app

import (
	"context"
	"slices"
	"time"

	gateway "github.com/bifrost-ai/bifrost/internal"
	"github.com/bifrost-ai/bifrost/internal/storage"
	"github.com/google/uuid"
)

// CacheInvalidator drops a cached key by ID after a lifecycle change.
type CacheInvalidator interface {
	InvalidateByKeyID(keyID string)
}

type noopInvalidator struct{}

func (noopInvalidator) InvalidateByKeyID(string) {}

// KeyManager handles the API key lifecycle: issue, list, revoke.
type KeyManager struct {
	store       storage.KeyStore
	invalidator CacheInvalidator
}

// NewKeyManager returns a KeyManager backed by store. A nil invalidator is
// replaced with a no-op.
func NewKeyManager(store storage.KeyStore, invalidator CacheInvalidator) *KeyManager {
	if invalidator == nil {
		invalidator = noopInvalidator{}
	}
	return &KeyManager{store: store, invalidator: invalidator}
}

// IssueKeyOpts holds the fields for key issuance.
type IssueKeyOpts struct {
	OrgID     string
	Label     string
	Scopes    []string
	CreatedBy string
	RateLimit *int
}

// IssueKey generates a fresh secret, stores only its hash plus a display
// prefix, and returns the plaintext exactly once alongside the stored record.
// Empty scopes get the default read-models + chat + completions grant.
func (km *KeyManager) IssueKey(ctx context.Context, opts IssueKeyOpts) (string, *gateway.APIKey, error) {
	secret, err := gateway.NewKeySecret()
	if err != nil {
		return "", nil, err
	}

	scopes := opts.Scopes
	if len(scopes) == 0 {
		scopes = slices.Clone(gateway.DefaultKeyScopes)
	}

	if _, err := km.store.EnsureOrganization(ctx, opts.OrgID); err != nil {
		return "", nil, err
	}

	key := &gateway.APIKey{
		ID:         uuid.Must(uuid.NewV7()).String(),
		OrgID:      opts.OrgID,
		Label:      opts.Label,
		SecretHash: gateway.HashKey(secret),
		Prefix:     gateway.KeyDisplayPrefix(secret),
		Status:     gateway.KeyActive,
		Scopes:     scopes,
		CreatedBy:  opts.CreatedBy,
		RateLimit:  opts.RateLimit,
		CreatedAt:  time.Now().UTC(),
	}
	if err := km.store.CreateKey(ctx, key); err != nil {
		return "", nil, err
	}
	return secret, key, nil
}

// ListKeys returns the org's keys, hashes and all other fields as stored.
func (km *KeyManager) ListKeys(ctx context.Context, orgID string) ([]*gateway.APIKey, error) {
	return km.store.ListKeys(ctx, orgID)
}

// RevokeKey revokes a key and evicts it from the auth cache. Revoking an
// already revoked key surfaces gateway.ErrKeyRevoked with the unchanged
// record, so callers can treat the operation as idempotent.
func (km *KeyManager) RevokeKey(ctx context.Context, orgID, id string) (*gateway.APIKey, error) {
	key, err := km.store.RevokeKey(ctx, orgID, id)
	if key != nil {
		km.invalidator.InvalidateByKeyID(id)
	}
	return key, err
}
