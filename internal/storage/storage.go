// Package storage defines persistence interfaces for the gateway.
package storage

import (
	"context"
	"crypto/subtle"
	"errors"
	"time"

	gateway "github.com/bifrost-ai/bifrost/internal"
)

// Retention caps for operational telemetry. Oldest entries are evicted once
// a cap is exceeded; these logs are not a ledger of record.
const (
	MaxUsageEvents   = 8000
	MaxRequestErrors = 4000
)

// KeyStore manages organizations, memberships, and API keys.
type KeyStore interface {
	// EnsureOrganization is an idempotent get-or-create by ID.
	EnsureOrganization(ctx context.Context, id string) (*gateway.Organization, error)
	// EnsureMembership is an idempotent get-or-create. An existing membership
	// is returned unchanged -- it is never downgraded.
	EnsureMembership(ctx context.Context, orgID, userID string, defaultRole gateway.Role) (*gateway.Membership, error)
	CreateKey(ctx context.Context, key *gateway.APIKey) error
	GetKey(ctx context.Context, id string) (*gateway.APIKey, error)
	GetKeyByHash(ctx context.Context, hash string) (*gateway.APIKey, error)
	ListKeys(ctx context.Context, orgID string) ([]*gateway.APIKey, error)
	// RevokeKey flips the key to revoked and stamps the revocation time.
	// Returns gateway.ErrKeyRevoked if the key is already revoked and
	// gateway.ErrNotFound if no such key exists in the org.
	RevokeKey(ctx context.Context, orgID, id string) (*gateway.APIKey, error)
	// TouchKeyUsed is a best-effort last-used stamp; callers ignore failures.
	TouchKeyUsed(ctx context.Context, id string) error
}

// UsageStore manages usage event and request error telemetry.
type UsageStore interface {
	InsertUsage(ctx context.Context, events []gateway.UsageEvent) error
	InsertRequestError(ctx context.Context, e gateway.RequestError) error
	UsageEventsForOrg(ctx context.Context, orgID string) ([]gateway.UsageEvent, error)
	UsageEventsForDay(ctx context.Context, orgID, day string) ([]gateway.UsageEvent, error)
	RequestErrorsForOrg(ctx context.Context, orgID string, window time.Duration) ([]gateway.RequestError, error)
}

// CounterStore tracks per-org and per-user in-flight and queued-attempt
// counts. All mutations are atomic with respect to concurrent callers and
// counts never go below zero. State is process-local: one authoritative
// admission domain per process.
type CounterStore interface {
	// AcquireInFlight increments both the org and user in-flight counters
	// as a single atomic step.
	AcquireInFlight(orgID, userID string)
	// TryAcquireInFlight checks both ceilings and, when neither is reached,
	// acquires -- all within one critical section. A zero or negative max
	// disables that ceiling. Returns false without acquiring otherwise.
	TryAcquireInFlight(orgID, userID string, orgMax, userMax int) bool
	// ReleaseInFlight decrements both counters, floor-clamped at zero.
	ReleaseInFlight(orgID, userID string)
	// NoteQueuedAttempt increments the queued counters and schedules their
	// decay after a short fixed delay.
	NoteQueuedAttempt(orgID, userID string)
	CurrentInFlight(orgID, userID string) (org, user int)
	CurrentQueued(orgID, userID string) (org, user int)
}

// Store combines all storage interfaces.
type Store interface {
	KeyStore
	UsageStore
	CounterStore
	Close() error
}

// LookupKeyBySecret resolves a plaintext secret to its key record. The stored
// hash is compared in constant time, and non-active keys are rejected even on
// a hash match. Returns gateway.ErrNotFound when no active key matches.
func LookupKeyBySecret(ctx context.Context, s KeyStore, secret string) (*gateway.APIKey, error) {
	hash := gateway.HashKey(secret)
	key, err := s.GetKeyByHash(ctx, hash)
	if err != nil {
		return nil, err
	}
	if subtle.ConstantTimeCompare([]byte(key.SecretHash), []byte(hash)) != 1 {
		return nil, gateway.ErrNotFound
	}
	if key.Status != gateway.KeyActive {
		return nil, gateway.ErrNotFound
	}
	return key, nil
}

// IsNotFound reports whether err is the store's not-found signal.
func IsNotFound(err error) bool {
	return errors.Is(err, gateway.ErrNotFound)
}
