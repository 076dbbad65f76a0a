package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	gateway "github.com/bifrost-ai/bifrost/internal"
)

// EnsureOrganization creates the organization on first reference and returns
// the stored row either way.
func (s *Store) EnsureOrganization(ctx context.Context, id string) (*gateway.Organization, error) {
	_, err := s.write.ExecContext(ctx,
		`INSERT INTO organizations (id, name, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		id, id, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return nil, err
	}

	var org gateway.Organization
	var createdAt string
	err = s.read.QueryRowContext(ctx,
		`SELECT id, name, created_at FROM organizations WHERE id = ?`, id,
	).Scan(&org.ID, &org.Name, &createdAt)
	if err != nil {
		return nil, notFoundErr(err)
	}
	if t := parseTime(sql.NullString{String: createdAt, Valid: true}); t != nil {
		org.CreatedAt = *t
	}
	return &org, nil
}

// EnsureMembership creates a membership with defaultRole if none exists.
// ON CONFLICT DO NOTHING keeps an existing row untouched, so a membership is
// never downgraded by re-resolution.
func (s *Store) EnsureMembership(ctx context.Context, orgID, userID string, defaultRole gateway.Role) (*gateway.Membership, error) {
	_, err := s.write.ExecContext(ctx,
		`INSERT INTO memberships (org_id, user_id, role, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(org_id, user_id) DO NOTHING`,
		orgID, userID, string(defaultRole), time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return nil, err
	}

	var m gateway.Membership
	var role, createdAt string
	err = s.read.QueryRowContext(ctx,
		`SELECT org_id, user_id, role, created_at FROM memberships WHERE org_id = ? AND user_id = ?`,
		orgID, userID,
	).Scan(&m.OrgID, &m.UserID, &role, &createdAt)
	if err != nil {
		return nil, notFoundErr(err)
	}
	m.Role = gateway.Role(role)
	if t := parseTime(sql.NullString{String: createdAt, Valid: true}); t != nil {
		m.CreatedAt = *t
	}
	return &m, nil
}

// CreateKey inserts a new API key.
func (s *Store) CreateKey(ctx context.Context, key *gateway.APIKey) error {
	scopes, err := marshalJSON(key.Scopes)
	if err != nil {
		return err
	}
	_, err = s.write.ExecContext(ctx,
		`INSERT INTO api_keys (id, org_id, label, secret_hash, prefix, status, scopes,
		 created_by, rate_limit, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		key.ID, key.OrgID, key.Label, key.SecretHash, key.Prefix, string(key.Status),
		scopes, key.CreatedBy, nullInt(key.RateLimit), key.CreatedAt.UTC().Format(time.RFC3339),
	)
	return err
}

// GetKey retrieves an API key by its ID.
func (s *Store) GetKey(ctx context.Context, id string) (*gateway.APIKey, error) {
	return scanKey(s.read.QueryRowContext(ctx, selectKey+` WHERE id = ?`, id))
}

// GetKeyByHash retrieves an API key by its SHA-256 secret hash.
func (s *Store) GetKeyByHash(ctx context.Context, hash string) (*gateway.APIKey, error) {
	return scanKey(s.read.QueryRowContext(ctx, selectKey+` WHERE secret_hash = ?`, hash))
}

// ListKeys returns all API keys for an organization, newest first.
func (s *Store) ListKeys(ctx context.Context, orgID string) ([]*gateway.APIKey, error) {
	rows, err := s.read.QueryContext(ctx,
		selectKey+` WHERE org_id = ? ORDER BY created_at DESC`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []*gateway.APIKey
	for rows.Next() {
		k, err := scanKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// RevokeKey flips a key to revoked. Revocation is terminal: revoking an
// already-revoked key returns gateway.ErrKeyRevoked and changes nothing.
func (s *Store) RevokeKey(ctx context.Context, orgID, id string) (*gateway.APIKey, error) {
	key, err := scanKey(s.read.QueryRowContext(ctx,
		selectKey+` WHERE id = ? AND org_id = ?`, id, orgID))
	if err != nil {
		return nil, err
	}
	if key.Status == gateway.KeyRevoked {
		return key, gateway.ErrKeyRevoked
	}

	now := time.Now().UTC()
	_, err = s.write.ExecContext(ctx,
		`UPDATE api_keys SET status = ?, revoked_at = ? WHERE id = ? AND status = ?`,
		string(gateway.KeyRevoked), now.Format(time.RFC3339), id, string(gateway.KeyActive),
	)
	if err != nil {
		return nil, err
	}
	key.Status = gateway.KeyRevoked
	key.RevokedAt = &now
	return key, nil
}

// TouchKeyUsed updates the last_used_at timestamp.
func (s *Store) TouchKeyUsed(ctx context.Context, id string) error {
	_, err := s.write.ExecContext(ctx,
		`UPDATE api_keys SET last_used_at = ? WHERE id = ?`,
		time.Now().UTC().Format(time.RFC3339), id,
	)
	return err
}

const selectKey = `SELECT id, org_id, label, secret_hash, prefix, status, scopes,
	created_by, rate_limit, created_at, revoked_at, last_used_at FROM api_keys`

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanKey(sc scanner) (*gateway.APIKey, error) {
	var k gateway.APIKey
	var status string
	var scopes sql.NullString
	var rateLimit sql.NullInt64
	var createdAt string
	var revokedAt, lastUsedAt sql.NullString

	err := sc.Scan(
		&k.ID, &k.OrgID, &k.Label, &k.SecretHash, &k.Prefix, &status, &scopes,
		&k.CreatedBy, &rateLimit, &createdAt, &revokedAt, &lastUsedAt,
	)
	if err != nil {
		return nil, notFoundErr(err)
	}

	k.Status = gateway.KeyStatus(status)
	if rateLimit.Valid {
		n := int(rateLimit.Int64)
		k.RateLimit = &n
	}
	sc2, err := unmarshalStringSlice(scopes)
	if err != nil {
		return nil, err
	}
	k.Scopes = sc2
	if t := parseTime(sql.NullString{String: createdAt, Valid: true}); t != nil {
		k.CreatedAt = *t
	}
	k.RevokedAt = parseTime(revokedAt)
	k.LastUsedAt = parseTime(lastUsedAt)
	return &k, nil
}

// helpers

func notFoundErr(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return gateway.ErrNotFound
	}
	return err
}

func marshalJSON(v []string) (sql.NullString, error) {
	if len(v) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func unmarshalStringSlice(ns sql.NullString) ([]string, error) {
	if !ns.Valid {
		return nil, nil
	}
	var s []string
	if err := json.Unmarshal([]byte(ns.String), &s); err != nil {
		return nil, fmt.Errorf("unmarshal string slice: %w", err)
	}
	return s, nil
}

func parseTime(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339, ns.String)
	if err != nil {
		return nil
	}
	return &t
}

func nullInt(n *int) sql.NullInt64 {
	if n == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*n), Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
