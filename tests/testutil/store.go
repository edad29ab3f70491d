package testutil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nhle/inbox-sync/internal/model"
	"github.com/nhle/inbox-sync/internal/store"
)

// NewTestStore opens an in-memory SQLiteStore with every migration
// applied and closes it when the test completes.
func NewTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()

	s, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err, "opening test store")

	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("closing test store: %v", err)
		}
	})

	return s
}

// SeedClients indexes client addresses for accountID. Each pair is
// clientID followed by the address or domain to match.
func SeedClients(t *testing.T, s store.Store, accountID string, pairs ...string) {
	t.Helper()
	require.Zero(t, len(pairs)%2, "SeedClients takes clientID/address pairs")

	for i := 0; i < len(pairs); i += 2 {
		require.NoError(t, s.UpsertClientAddress(context.Background(), model.ClientAddress{
			AccountID: accountID,
			ClientID:  pairs[i],
			Email:     pairs[i+1],
		}))
	}
}
