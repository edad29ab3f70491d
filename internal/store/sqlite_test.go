package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/inbox-sync/internal/model"
	"github.com/nhle/inbox-sync/internal/store"
	"github.com/nhle/inbox-sync/tests/testutil"
)

func sampleRecord(accountID, msgID string) model.EmailRecord {
	sig := "Best regards,\nJane Doe"
	client := "client-7"
	return model.EmailRecord{
		AccountID:         accountID,
		ProviderMessageID: msgID,
		ThreadID:          "thread-1",
		Subject:           "Rome itinerary",
		FromAddress:       "client@y.com",
		FromName:          "Client",
		To:                []string{"agent@x.com"},
		Direction:         model.DirectionInbound,
		Body:              "Please confirm the hotel.",
		Signature:         &sig,
		Snippet:           "Please confirm the hotel.",
		KeyInfo: model.KeyInfo{
			Summary:     "Please confirm the hotel.",
			ActionItems: []string{"Please confirm the hotel."},
			Importance:  model.ImportanceMedium,
		},
		ReadabilityScore: 71.5,
		Attachments:      []model.Attachment{{Filename: "a.pdf", MIMEType: "application/pdf", Size: 12}},
		ClientID:         &client,
		ReceivedAt:       time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Source:           model.SourceTypeGmail,
		Flags:            model.EmailFlags{Labels: []string{"INBOX", "UNREAD"}},
		Metadata:         map[string]any{"sentiment": "positive"},
	}
}

func TestInsertAndGetEmail(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertEmail(ctx, sampleRecord("a1", "m1")))

	got, err := s.GetEmail(ctx, "a1", "m1")
	require.NoError(t, err)
	assert.NotEmpty(t, got.ID)
	assert.Equal(t, "Rome itinerary", got.Subject)
	assert.Equal(t, []string{"agent@x.com"}, got.To)
	assert.Empty(t, got.Cc)
	require.NotNil(t, got.Signature)
	assert.Equal(t, "Best regards,\nJane Doe", *got.Signature)
	assert.Nil(t, got.QuotedContent)
	require.NotNil(t, got.ClientID)
	assert.Equal(t, "client-7", *got.ClientID)
	assert.Equal(t, []string{"Please confirm the hotel."}, got.KeyInfo.ActionItems)
	assert.Equal(t, []string{"INBOX", "UNREAD"}, got.Flags.Labels)
	assert.Equal(t, "positive", got.Metadata["sentiment"])
	assert.True(t, got.ReceivedAt.Equal(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)))
	require.Len(t, got.Attachments, 1)
	assert.Equal(t, "a.pdf", got.Attachments[0].Filename)
}

func TestGetEmailNotFound(t *testing.T) {
	s := testutil.NewTestStore(t)

	_, err := s.GetEmail(context.Background(), "a1", "missing")
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestInsertEmailConflict(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertEmail(ctx, sampleRecord("a1", "m1")))

	err := s.InsertEmail(ctx, sampleRecord("a1", "m1"))
	require.Error(t, err)
	assert.True(t, store.IsConflict(err))

	// Same provider id under another account is a different key.
	require.NoError(t, s.InsertEmail(ctx, sampleRecord("a2", "m1")))

	count, err := s.CountEmails(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestUpdateEmailFlags(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.InsertEmail(ctx, sampleRecord("a1", "m1")))

	flags := model.EmailFlags{Labels: []string{"INBOX"}, IsRead: true, IsStarred: true}
	require.NoError(t, s.UpdateEmailFlags(ctx, "a1", "m1", flags, time.Now()))

	got, err := s.GetEmail(ctx, "a1", "m1")
	require.NoError(t, err)
	assert.Equal(t, flags, got.Flags)
	assert.Equal(t, "Please confirm the hotel.", got.Body)

	err = s.UpdateEmailFlags(ctx, "a1", "missing", flags, time.Now())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestListEmails(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	older := sampleRecord("a1", "m1")
	newer := sampleRecord("a1", "m2")
	newer.ReceivedAt = older.ReceivedAt.Add(time.Hour)
	require.NoError(t, s.InsertEmail(ctx, older))
	require.NoError(t, s.InsertEmail(ctx, newer))

	got, err := s.ListEmails(ctx, "a1", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "m2", got[0].ProviderMessageID)
}

func TestCursorMonotonic(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	_, err := s.GetCursor(ctx, "a1", "INBOX")
	require.ErrorIs(t, err, store.ErrNotFound)

	t1 := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, s.PutCursor(ctx, model.SyncCursor{
		AccountID: "a1", Folder: "INBOX", LastSyncedAt: t1, LastStoredCount: 4, HistoryID: "100",
	}))

	// An earlier timestamp and empty history id do not regress the cursor.
	require.NoError(t, s.PutCursor(ctx, model.SyncCursor{
		AccountID: "a1", Folder: "INBOX", LastSyncedAt: t1.Add(-time.Hour), LastStoredCount: 0,
	}))

	c, err := s.GetCursor(ctx, "a1", "INBOX")
	require.NoError(t, err)
	assert.True(t, c.LastSyncedAt.Equal(t1))
	assert.Equal(t, "100", c.HistoryID)
	assert.Equal(t, 0, c.LastStoredCount)

	t2 := t1.Add(time.Hour)
	require.NoError(t, s.PutCursor(ctx, model.SyncCursor{
		AccountID: "a1", Folder: "INBOX", LastSyncedAt: t2, LastStoredCount: 2, HistoryID: "150",
	}))
	c, err = s.GetCursor(ctx, "a1", "INBOX")
	require.NoError(t, err)
	assert.True(t, c.LastSyncedAt.Equal(t2))
	assert.Equal(t, "150", c.HistoryID)
}

func TestCursorPageToken(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	since := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	started := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, s.PutCursor(ctx, model.SyncCursor{
		AccountID: "a1", Folder: "INBOX",
		PageToken: "page-2", PageSince: since, PageStartedAt: started,
	}))

	c, err := s.GetCursor(ctx, "a1", "INBOX")
	require.NoError(t, err)
	assert.True(t, c.Resuming())
	assert.Equal(t, "page-2", c.PageToken)
	assert.True(t, c.PageSince.Equal(since))
	assert.True(t, c.PageStartedAt.Equal(started))
	assert.True(t, c.LastSyncedAt.IsZero())

	// Finishing the listing clears the page fields.
	require.NoError(t, s.PutCursor(ctx, model.SyncCursor{
		AccountID: "a1", Folder: "INBOX", LastSyncedAt: started,
	}))
	c, err = s.GetCursor(ctx, "a1", "INBOX")
	require.NoError(t, err)
	assert.False(t, c.Resuming())
	assert.True(t, c.PageSince.IsZero())
	assert.True(t, c.PageStartedAt.IsZero())
	assert.True(t, c.LastSyncedAt.Equal(started))
}

func TestClientAddresses(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertClientAddress(ctx, model.ClientAddress{AccountID: "a1", ClientID: "c1", Email: "Client@Y.com"}))
	require.NoError(t, s.UpsertClientAddress(ctx, model.ClientAddress{AccountID: "a1", ClientID: "c2", Email: "other@z.com"}))
	require.NoError(t, s.UpsertClientAddress(ctx, model.ClientAddress{AccountID: "a1", ClientID: "c1", Email: "client@y.com"}))
	require.NoError(t, s.UpsertClientAddress(ctx, model.ClientAddress{AccountID: "a2", ClientID: "c9", Email: "x@x.com"}))

	addrs, err := s.ClientAddresses(ctx, "a1")
	require.NoError(t, err)
	require.Len(t, addrs, 2)
	assert.Equal(t, "c1", addrs[0].ClientID)
	assert.Equal(t, "client@y.com", addrs[0].Email)
	assert.Equal(t, "c2", addrs[1].ClientID)
}

func TestNotifications(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateNotification(ctx, model.Notification{
		AccountID:  "a1",
		SourceType: model.SourceTypeGmail,
		Message:    "sync completed",
		Stored:     3,
	}))

	unread, err := s.GetUnreadNotifications(ctx)
	require.NoError(t, err)
	require.Len(t, unread, 1)
	assert.Equal(t, 3, unread[0].Stored)
	assert.Equal(t, "a1", unread[0].AccountID)

	require.NoError(t, s.MarkNotificationRead(ctx, unread[0].ID))
	unread, err = s.GetUnreadNotifications(ctx)
	require.NoError(t, err)
	assert.Empty(t, unread)
}
