package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/nhle/inbox-sync/internal/model"
)

// ClientAddresses returns the client address index for an account in
// insertion order, which fixes the "first match wins" order.
func (s *SQLiteStore) ClientAddresses(
	ctx context.Context,
	accountID string,
) ([]model.ClientAddress, error) {
	var addrs []model.ClientAddress
	err := s.db.SelectContext(ctx, &addrs, `
		SELECT account_id, client_id, email FROM client_addresses
		WHERE account_id = ? ORDER BY seq`,
		accountID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying client addresses for %s: %w", accountID, err)
	}
	return addrs, nil
}

// UpsertClientAddress adds an entry to the index; existing entries are
// left untouched.
func (s *SQLiteStore) UpsertClientAddress(
	ctx context.Context,
	addr model.ClientAddress,
) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO client_addresses (account_id, client_id, email)
		VALUES (?, ?, ?)
		ON CONFLICT(account_id, client_id, email) DO NOTHING`,
		addr.AccountID, addr.ClientID, strings.ToLower(strings.TrimSpace(addr.Email)),
	)
	if err != nil {
		return fmt.Errorf("upserting client address %s: %w", addr.Email, err)
	}
	return nil
}
