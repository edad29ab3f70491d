package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/nhle/inbox-sync/internal/model"
)

const emailColumns = `
	id, account_id, provider_message_id, thread_id,
	subject, from_address, from_name,
	to_addresses, cc_addresses, bcc_addresses, direction,
	body, html_body, signature, quoted_content, snippet,
	key_info, readability_score, attachments, client_id,
	received_at, source, labels, is_read, is_starred,
	metadata, created_at, updated_at`

// InsertEmail creates a new email record. Records are never replaced;
// a duplicate (account, provider message id) returns
// *StorageConflictError.
func (s *SQLiteStore) InsertEmail(ctx context.Context, rec model.EmailRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = rec.CreatedAt
	}

	to, err := marshalJSON(rec.To, "[]")
	if err != nil {
		return fmt.Errorf("marshaling to for %s: %w", rec.ProviderMessageID, err)
	}
	cc, err := marshalJSON(rec.Cc, "[]")
	if err != nil {
		return fmt.Errorf("marshaling cc for %s: %w", rec.ProviderMessageID, err)
	}
	bcc, err := marshalJSON(rec.Bcc, "[]")
	if err != nil {
		return fmt.Errorf("marshaling bcc for %s: %w", rec.ProviderMessageID, err)
	}
	keyInfo, err := marshalJSON(rec.KeyInfo, "{}")
	if err != nil {
		return fmt.Errorf("marshaling key_info for %s: %w", rec.ProviderMessageID, err)
	}
	attachments, err := marshalJSON(rec.Attachments, "[]")
	if err != nil {
		return fmt.Errorf("marshaling attachments for %s: %w", rec.ProviderMessageID, err)
	}
	labels, err := marshalJSON(rec.Flags.Labels, "[]")
	if err != nil {
		return fmt.Errorf("marshaling labels for %s: %w", rec.ProviderMessageID, err)
	}
	metadata, err := marshalJSON(rec.Metadata, "{}")
	if err != nil {
		return fmt.Errorf("marshaling metadata for %s: %w", rec.ProviderMessageID, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO emails (`+emailColumns+`
		) VALUES (
			?, ?, ?, ?,
			?, ?, ?,
			?, ?, ?, ?,
			?, ?, ?, ?, ?,
			?, ?, ?, ?,
			?, ?, ?, ?, ?,
			?, ?, ?
		)`,
		rec.ID, rec.AccountID, rec.ProviderMessageID, rec.ThreadID,
		rec.Subject, rec.FromAddress, rec.FromName,
		to, cc, bcc, string(rec.Direction),
		rec.Body, rec.HTMLBody, nullString(rec.Signature), nullString(rec.QuotedContent), rec.Snippet,
		keyInfo, rec.ReadabilityScore, attachments, nullString(rec.ClientID),
		rec.ReceivedAt.UTC(), string(rec.Source), labels,
		boolToInt(rec.Flags.IsRead), boolToInt(rec.Flags.IsStarred),
		metadata, rec.CreatedAt.UTC(), rec.UpdatedAt.UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return &StorageConflictError{
				AccountID:         rec.AccountID,
				ProviderMessageID: rec.ProviderMessageID,
				Err:               err,
			}
		}
		return fmt.Errorf("inserting email %s: %w", rec.ProviderMessageID, err)
	}

	return nil
}

// GetEmail retrieves a record by its dedup key.
func (s *SQLiteStore) GetEmail(
	ctx context.Context,
	accountID, providerMessageID string,
) (*model.EmailRecord, error) {
	row := s.db.QueryRowxContext(ctx,
		"SELECT "+emailColumns+" FROM emails WHERE account_id = ? AND provider_message_id = ?",
		accountID, providerMessageID,
	)

	rec, err := scanEmail(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("getting email %s/%s: %w", accountID, providerMessageID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting email %s/%s: %w", accountID, providerMessageID, err)
	}

	return &rec, nil
}

// UpdateEmailFlags rewrites labels, read and starred state. Nothing else
// on the record is touched.
func (s *SQLiteStore) UpdateEmailFlags(
	ctx context.Context,
	accountID, providerMessageID string,
	flags model.EmailFlags,
	updatedAt time.Time,
) error {
	labels, err := marshalJSON(flags.Labels, "[]")
	if err != nil {
		return fmt.Errorf("marshaling labels for %s: %w", providerMessageID, err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE emails
		SET labels = ?, is_read = ?, is_starred = ?, updated_at = ?
		WHERE account_id = ? AND provider_message_id = ?`,
		labels, boolToInt(flags.IsRead), boolToInt(flags.IsStarred), updatedAt.UTC(),
		accountID, providerMessageID,
	)
	if err != nil {
		return fmt.Errorf("updating flags for %s: %w", providerMessageID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating flags for %s: %w", providerMessageID, err)
	}
	if n == 0 {
		return fmt.Errorf("updating flags for %s: %w", providerMessageID, ErrNotFound)
	}

	return nil
}

// CountEmails returns the number of stored records for an account.
func (s *SQLiteStore) CountEmails(ctx context.Context, accountID string) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count,
		"SELECT COUNT(*) FROM emails WHERE account_id = ?", accountID,
	)
	if err != nil {
		return 0, fmt.Errorf("counting emails for %s: %w", accountID, err)
	}
	return count, nil
}

// ListEmails returns the most recently received records for an account.
func (s *SQLiteStore) ListEmails(
	ctx context.Context,
	accountID string,
	limit int,
) ([]model.EmailRecord, error) {
	query := "SELECT " + emailColumns + " FROM emails WHERE account_id = ? ORDER BY received_at DESC"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryxContext(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("querying emails: %w", err)
	}
	defer rows.Close()

	var records []model.EmailRecord
	for rows.Next() {
		rec, err := scanEmail(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning email row: %w", err)
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}

// rowScanner is satisfied by both *sqlx.Row and *sqlx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

var (
	_ rowScanner = (*sqlx.Row)(nil)
	_ rowScanner = (*sqlx.Rows)(nil)
)

func scanEmail(row rowScanner) (model.EmailRecord, error) {
	var (
		rec                   model.EmailRecord
		to, cc, bcc           string
		direction, source     string
		signature, quoted     sql.NullString
		clientID              sql.NullString
		keyInfo, attachments  string
		labels, metadata      string
		isRead, isStarred     int
		receivedAt, createdAt time.Time
		updatedAt             time.Time
	)

	err := row.Scan(
		&rec.ID, &rec.AccountID, &rec.ProviderMessageID, &rec.ThreadID,
		&rec.Subject, &rec.FromAddress, &rec.FromName,
		&to, &cc, &bcc, &direction,
		&rec.Body, &rec.HTMLBody, &signature, &quoted, &rec.Snippet,
		&keyInfo, &rec.ReadabilityScore, &attachments, &clientID,
		&receivedAt, &source, &labels, &isRead, &isStarred,
		&metadata, &createdAt, &updatedAt,
	)
	if err != nil {
		return model.EmailRecord{}, err
	}

	rec.Direction = model.Direction(direction)
	rec.Source = model.SourceType(source)
	rec.Signature = stringPtr(signature)
	rec.QuotedContent = stringPtr(quoted)
	rec.ClientID = stringPtr(clientID)
	rec.Flags.IsRead = isRead != 0
	rec.Flags.IsStarred = isStarred != 0
	rec.ReceivedAt = receivedAt
	rec.CreatedAt = createdAt
	rec.UpdatedAt = updatedAt

	for _, col := range []struct {
		name string
		raw  string
		dst  any
	}{
		{"to_addresses", to, &rec.To},
		{"cc_addresses", cc, &rec.Cc},
		{"bcc_addresses", bcc, &rec.Bcc},
		{"key_info", keyInfo, &rec.KeyInfo},
		{"attachments", attachments, &rec.Attachments},
		{"labels", labels, &rec.Flags.Labels},
		{"metadata", metadata, &rec.Metadata},
	} {
		if col.raw == "" {
			continue
		}
		if err := json.Unmarshal([]byte(col.raw), col.dst); err != nil {
			return model.EmailRecord{}, fmt.Errorf("unmarshaling %s: %w", col.name, err)
		}
	}

	return rec, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}
