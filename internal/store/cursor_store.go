package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nhle/inbox-sync/internal/model"
)

// GetCursor retrieves the cursor for an account and folder.
func (s *SQLiteStore) GetCursor(
	ctx context.Context,
	accountID, folder string,
) (*model.SyncCursor, error) {
	var (
		c             model.SyncCursor
		lastSyncedAt  time.Time
		updatedAt     time.Time
		pageSince     sql.NullTime
		pageStartedAt sql.NullTime
	)

	err := s.db.QueryRowxContext(ctx, `
		SELECT account_id, folder, last_synced_at, last_stored_count, history_id,
			page_token, page_since, page_started_at, updated_at
		FROM sync_cursors WHERE account_id = ? AND folder = ?`,
		accountID, folder,
	).Scan(
		&c.AccountID, &c.Folder, &lastSyncedAt,
		&c.LastStoredCount, &c.HistoryID,
		&c.PageToken, &pageSince, &pageStartedAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("getting cursor %s/%s: %w", accountID, folder, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting cursor %s/%s: %w", accountID, folder, err)
	}

	c.LastSyncedAt = lastSyncedAt
	c.UpdatedAt = updatedAt
	if pageSince.Valid {
		c.PageSince = pageSince.Time
	}
	if pageStartedAt.Valid {
		c.PageStartedAt = pageStartedAt.Time
	}
	return &c, nil
}

// PutCursor creates or advances a cursor inside a transaction so the
// read-compare-write of last_synced_at is atomic. The page fields are
// written as given; an empty page token clears them.
func (s *SQLiteStore) PutCursor(ctx context.Context, cursor model.SyncCursor) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var (
		prevSyncedAt time.Time
		prevHistory  string
	)
	err = tx.QueryRowxContext(ctx, `
		SELECT last_synced_at, history_id FROM sync_cursors
		WHERE account_id = ? AND folder = ?`,
		cursor.AccountID, cursor.Folder,
	).Scan(&prevSyncedAt, &prevHistory)

	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return fmt.Errorf("reading cursor %s/%s: %w", cursor.AccountID, cursor.Folder, err)
	default:
		if cursor.LastSyncedAt.Before(prevSyncedAt) {
			cursor.LastSyncedAt = prevSyncedAt
		}
		if cursor.HistoryID == "" {
			cursor.HistoryID = prevHistory
		}
	}

	if cursor.UpdatedAt.IsZero() {
		cursor.UpdatedAt = time.Now()
	}
	if cursor.PageToken == "" {
		cursor.PageSince = time.Time{}
		cursor.PageStartedAt = time.Time{}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sync_cursors (
			account_id, folder, last_synced_at, last_stored_count, history_id,
			page_token, page_since, page_started_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(account_id, folder) DO UPDATE SET
			last_synced_at = excluded.last_synced_at,
			last_stored_count = excluded.last_stored_count,
			history_id = excluded.history_id,
			page_token = excluded.page_token,
			page_since = excluded.page_since,
			page_started_at = excluded.page_started_at,
			updated_at = excluded.updated_at`,
		cursor.AccountID, cursor.Folder, cursor.LastSyncedAt.UTC(),
		cursor.LastStoredCount, cursor.HistoryID,
		cursor.PageToken, nullTime(cursor.PageSince), nullTime(cursor.PageStartedAt),
		cursor.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("writing cursor %s/%s: %w", cursor.AccountID, cursor.Folder, err)
	}

	return tx.Commit()
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
