package sqlite

import (
	"context"
	"strings"
	"time"

	gateway "github.com/bifrost-ai/bifrost/internal"
	"github.com/bifrost-ai/bifrost/internal/storage"
)

// InsertUsage batch-inserts usage events and trims the log to its retention
// cap. A single multi-row INSERT avoids N round-trips for large batches.
func (s *Store) InsertUsage(ctx context.Context, events []gateway.UsageEvent) error {
	if len(events) == 0 {
		return nil
	}

	const cols = 13
	placeholders := make([]string, len(events))
	args := make([]any, 0, len(events)*cols)

	for i, e := range events {
		placeholders[i] = "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"
		args = append(args,
			e.ID, e.OrgID, e.UserID, e.KeyID, e.Model, e.Route,
			e.StatusCode, e.LatencyMs, e.PromptTokens, e.CompletionTokens,
			boolToInt(e.Heavy), boolToInt(e.Streamed),
			e.CreatedAt.UTC().Format(time.RFC3339),
		)
	}

	query := `INSERT INTO usage_events
		(id, org_id, user_id, key_id, model, route, status_code, latency_ms,
		 prompt_tokens, completion_tokens, heavy, streamed, created_at)
		VALUES ` + strings.Join(placeholders, ", ")

	if _, err := s.write.ExecContext(ctx, query, args...); err != nil {
		return err
	}
	return s.trim(ctx, "usage_events", storage.MaxUsageEvents)
}

// InsertRequestError appends one request error and trims to the cap.
func (s *Store) InsertRequestError(ctx context.Context, e gateway.RequestError) error {
	_, err := s.write.ExecContext(ctx,
		`INSERT INTO request_errors (id, org_id, user_id, model, status_code, code, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.OrgID, e.UserID, e.Model, e.StatusCode, e.Code,
		e.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return err
	}
	return s.trim(ctx, "request_errors", storage.MaxRequestErrors)
}

// trim drops the oldest rows past the retention cap.
func (s *Store) trim(ctx context.Context, table string, cap int) error {
	_, err := s.write.ExecContext(ctx,
		`DELETE FROM `+table+` WHERE id NOT IN
		 (SELECT id FROM `+table+` ORDER BY created_at DESC, id DESC LIMIT ?)`, cap)
	return err
}

// UsageEventsForOrg returns all retained usage events for an org, newest first.
func (s *Store) UsageEventsForOrg(ctx context.Context, orgID string) ([]gateway.UsageEvent, error) {
	return s.queryUsage(ctx,
		selectUsage+` WHERE org_id = ? ORDER BY created_at DESC`, orgID)
}

// UsageEventsForDay returns the org's usage events for one UTC day
// (formatted as 2006-01-02).
func (s *Store) UsageEventsForDay(ctx context.Context, orgID, day string) ([]gateway.UsageEvent, error) {
	return s.queryUsage(ctx,
		selectUsage+` WHERE org_id = ? AND substr(created_at, 1, 10) = ? ORDER BY created_at DESC`,
		orgID, day)
}

// RequestErrorsForOrg returns request errors within the trailing window.
func (s *Store) RequestErrorsForOrg(ctx context.Context, orgID string, window time.Duration) ([]gateway.RequestError, error) {
	cutoff := time.Now().UTC().Add(-window).Format(time.RFC3339)
	rows, err := s.read.QueryContext(ctx,
		`SELECT id, org_id, user_id, model, status_code, code, created_at
		 FROM request_errors WHERE org_id = ? AND created_at >= ?
		 ORDER BY created_at DESC`, orgID, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []gateway.RequestError
	for rows.Next() {
		var e gateway.RequestError
		var createdAt string
		if err := rows.Scan(&e.ID, &e.OrgID, &e.UserID, &e.Model, &e.StatusCode, &e.Code, &createdAt); err != nil {
			return nil, err
		}
		if t, err2 := time.Parse(time.RFC3339, createdAt); err2 == nil {
			e.CreatedAt = t
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

const selectUsage = `SELECT id, org_id, user_id, key_id, model, route, status_code,
	latency_ms, prompt_tokens, completion_tokens, heavy, streamed, created_at
	FROM usage_events`

func (s *Store) queryUsage(ctx context.Context, query string, args ...any) ([]gateway.UsageEvent, error) {
	rows, err := s.read.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []gateway.UsageEvent
	for rows.Next() {
		var e gateway.UsageEvent
		var heavy, streamed int
		var createdAt string
		err := rows.Scan(
			&e.ID, &e.OrgID, &e.UserID, &e.KeyID, &e.Model, &e.Route,
			&e.StatusCode, &e.LatencyMs, &e.PromptTokens, &e.CompletionTokens,
			&heavy, &streamed, &createdAt,
		)
		if err != nil {
			return nil, err
		}
		e.Heavy = heavy != 0
		e.Streamed = streamed != 0
		if t, err2 := time.Parse(time.RFC3339, createdAt); err2 == nil {
			e.CreatedAt = t
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
