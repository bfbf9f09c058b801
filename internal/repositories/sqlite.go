package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/spotproxy/internal/auth"
	"github.com/desertthunder/spotproxy/internal/shared"
)

// SQLiteTokenStore persists token pairs in the session_tokens table.
type SQLiteTokenStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteTokenStore creates a new [SQLiteTokenStore] with the given database connection.
// Migrations must already have been applied.
func NewSQLiteTokenStore(db *sql.DB) *SQLiteTokenStore {
	return &SQLiteTokenStore{db: db, now: time.Now}
}

// Load retrieves the pair stored for id.
func (r *SQLiteTokenStore) Load(ctx context.Context, id string) (*auth.UserTokens, error) {
	if err := requireID(id); err != nil {
		return nil, err
	}

	query := `
		SELECT access_token, refresh_token, expires_at
		FROM session_tokens
		WHERE session_id = ?
	`

	var tokens auth.UserTokens
	err := r.db.QueryRowContext(ctx, query, id).Scan(&tokens.AccessToken, &tokens.RefreshToken, &tokens.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, shared.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query session tokens: %w", err)
	}

	return &tokens, nil
}

// Save inserts or replaces the pair stored for id. created_at is kept across updates.
func (r *SQLiteTokenStore) Save(ctx context.Context, id string, tokens *auth.UserTokens) error {
	if err := requireID(id); err != nil {
		return err
	}
	if err := requireTokens(tokens); err != nil {
		return err
	}

	query := `
		INSERT INTO session_tokens (session_id, access_token, refresh_token, expires_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at
	`

	now := r.now().UTC()
	_, err := r.db.ExecContext(ctx, query, id, tokens.AccessToken, tokens.RefreshToken, tokens.ExpiresAt.UTC(), now, now)
	if err != nil {
		return fmt.Errorf("failed to save session tokens: %w", err)
	}

	return nil
}

// Delete removes the pair stored for id.
func (r *SQLiteTokenStore) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM session_tokens WHERE session_id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete session tokens: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return shared.ErrSessionNotFound
	}

	return nil
}

// PurgeStale deletes sessions not updated since cutoff and returns how many were removed.
func (r *SQLiteTokenStore) PurgeStale(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, "DELETE FROM session_tokens WHERE updated_at < ?", cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to purge stale sessions: %w", err)
	}
	return result.RowsAffected()
}
