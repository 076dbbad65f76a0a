// Package auth resolves request credentials into actors. API keys are
// validated against the store and cached in a W-TinyLFU cache.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	gateway "github.com/bifrost-ai/bifrost/internal"
	"github.com/bifrost-ai/bifrost/internal/storage"
	"github.com/maypok86/otter/v2"
)

const (
	cacheTTL    = 30 * time.Second // short enough to pick up key revocations promptly
	cacheMaxLen = 10_000           // max concurrent active keys expected per deployment
)

// APIKeyHeader is the dedicated key header accepted alongside bearer auth.
const APIKeyHeader = "X-Api-Key"

// UserHeader lets a caller attribute the request to a specific user within
// the key's organization. Absent, usage is attributed to the key's creator.
const UserHeader = "X-User-Id"

// Authenticator resolves an HTTP request into an actor.
type Authenticator interface {
	Authenticate(ctx context.Context, r *http.Request) (*gateway.Actor, error)
}

// APIKeyAuth authenticates inference-API requests using "bf_" secrets passed
// via X-Api-Key or Authorization: Bearer. Resolved keys are cached in an
// otter W-TinyLFU cache keyed by secret hash.
type APIKeyAuth struct {
	store       storage.KeyStore
	cache       *otter.Cache[string, *gateway.APIKey]
	keyIDToHash sync.Map // keyID -> hash for cache invalidation by key ID
}

// NewAPIKeyAuth returns a new APIKeyAuth backed by store.
func NewAPIKeyAuth(store storage.KeyStore) (*APIKeyAuth, error) {
	c, err := otter.New(&otter.Options[string, *gateway.APIKey]{
		MaximumSize:      cacheMaxLen,
		ExpiryCalculator: otter.ExpiryWriting[string, *gateway.APIKey](cacheTTL),
	})
	if err != nil {
		return nil, fmt.Errorf("create auth cache: %w", err)
	}
	return &APIKeyAuth{store: store, cache: c}, nil
}

// Authenticate extracts the API key secret, validates it against the store,
// lazily ensures a membership for the attributed user, and returns the
// caller's Actor. A missing credential and an unknown or revoked one produce
// distinct error codes so clients can tell configuration from revocation.
func (a *APIKeyAuth) Authenticate(ctx context.Context, r *http.Request) (*gateway.Actor, error) {
	secret := extractSecret(r)
	if secret == "" {
		return nil, gateway.NewError(http.StatusUnauthorized, gateway.CodeMissingAPIKey,
			"missing API key: pass it via the "+APIKeyHeader+" header or as a bearer token")
	}
	if !strings.HasPrefix(secret, gateway.APIKeySecretPrefix) {
		return nil, invalidKeyErr()
	}

	key, err := a.resolve(ctx, secret)
	if err != nil {
		return nil, err
	}

	userID := r.Header.Get(UserHeader)
	if userID == "" {
		userID = key.CreatedBy
	}

	if _, err := a.store.EnsureOrganization(ctx, key.OrgID); err != nil {
		return nil, err
	}
	m, err := a.store.EnsureMembership(ctx, key.OrgID, userID, gateway.RoleMember)
	if err != nil {
		return nil, err
	}

	return &gateway.Actor{
		OrgID:  key.OrgID,
		UserID: userID,
		Role:   m.Role,
		KeyID:  key.ID,
		Scopes: key.Scopes,
	}, nil
}

// resolve maps a plaintext secret to its active key record, via cache.
func (a *APIKeyAuth) resolve(ctx context.Context, secret string) (*gateway.APIKey, error) {
	hash := gateway.HashKey(secret)

	if key, ok := a.cache.GetIfPresent(hash); ok {
		if key.Status != gateway.KeyActive {
			return nil, invalidKeyErr()
		}
		return key, nil
	}

	key, err := storage.LookupKeyBySecret(ctx, a.store, secret)
	if err != nil {
		if storage.IsNotFound(err) {
			return nil, invalidKeyErr()
		}
		return nil, err
	}

	a.cache.Set(hash, key)
	a.keyIDToHash.Store(key.ID, hash)

	// Touch last-used timestamp asynchronously; failures are ignored.
	go func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		a.store.TouchKeyUsed(ctx, key.ID) //nolint:errcheck
	}()

	return key, nil
}

// InvalidateByKeyID removes a cached API key by its key ID. Used when console
// operations (revoke) modify a key.
func (a *APIKeyAuth) InvalidateByKeyID(keyID string) {
	if hash, ok := a.keyIDToHash.LoadAndDelete(keyID); ok {
		a.cache.Invalidate(hash.(string))
	}
}

// RequireScope rejects with missing_scope when none of the actor's granted
// scopes satisfies required.
func RequireScope(actor *gateway.Actor, required string) error {
	if !gateway.ScopeAllows(actor.Scopes, required) {
		return gateway.NewError(http.StatusForbidden, gateway.CodeMissingScope,
			"API key does not grant the required scope").WithParam(required)
	}
	return nil
}

func extractSecret(r *http.Request) string {
	if v := r.Header.Get(APIKeyHeader); v != "" {
		return v
	}
	authz := r.Header.Get("Authorization")
	if tok, ok := strings.CutPrefix(authz, "Bearer "); ok {
		return tok
	}
	return ""
}

func invalidKeyErr() error {
	return gateway.NewError(http.StatusUnauthorized, gateway.CodeInvalidAPIKey,
		"invalid or revoked API key")
}
