package gmail

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
	gmailapi "google.golang.org/api/gmail/v1"

	"github.com/nhle/inbox-sync/internal/model"
	"github.com/nhle/inbox-sync/internal/source"
)

type fakeTokens struct {
	mu        sync.Mutex
	token     string
	refreshes int
}

func (f *fakeTokens) EnsureFreshToken(context.Context, string) (*oauth2.Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &oauth2.Token{AccessToken: f.token, TokenType: "Bearer"}, nil
}

func (f *fakeTokens) ForceRefresh(context.Context, string) (*oauth2.Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
	f.token = fmt.Sprintf("refreshed-%d", f.refreshes)
	return &oauth2.Token{AccessToken: f.token, TokenType: "Bearer"}, nil
}

// fakeGmail serves the subset of the Gmail API the client uses.
type fakeGmail struct {
	mu       sync.Mutex
	handlers map[string]http.HandlerFunc
	requests []*http.Request
}

func (f *fakeGmail) handle(suffix string, h http.HandlerFunc) {
	f.handlers[suffix] = h
}

func (f *fakeGmail) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.requests = append(f.requests, r)
	f.mu.Unlock()

	path := strings.TrimPrefix(r.URL.Path, "/gmail/v1/users/me/")
	if h, ok := f.handlers[path]; ok {
		h(w, r)
		return
	}
	if strings.HasPrefix(path, "messages/") {
		if h, ok := f.handlers["messages/*"]; ok {
			h(w, r)
			return
		}
	}
	http.NotFound(w, r)
}

func (f *fakeGmail) count(suffix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.requests {
		if strings.HasSuffix(r.URL.Path, suffix) {
			n++
		}
	}
	return n
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

func writeAPIError(w http.ResponseWriter, code int, reason, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	fmt.Fprintf(w, `{"error":{"code":%d,"message":%q,"errors":[{"reason":%q,"message":%q}]}}`,
		code, message, reason, message)
}

func newTestClient(t *testing.T, cfg Config) (*Client, *fakeGmail, *fakeTokens, *[]time.Duration) {
	t.Helper()

	fake := &fakeGmail{handlers: make(map[string]http.HandlerFunc)}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	cfg.Endpoint = srv.URL + "/"
	if cfg.PageSize == 0 {
		cfg.PageSize = 2
	}
	if cfg.MaxItemsPerRun == 0 {
		cfg.MaxItemsPerRun = 100
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 2
	}

	tokens := &fakeTokens{token: "initial"}
	logger, _ := test.NewNullLogger()
	c := NewClient(cfg, tokens, logger)
	c.now = func() time.Time { return time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC) }

	var sleeps []time.Duration
	c.sleep = func(_ context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return nil
	}
	return c, fake, tokens, &sleeps
}

var testAccount = model.Account{ID: "agent-1", Email: "agent@x.com", Folder: "INBOX"}

func profileHandler(t *testing.T, historyID uint64) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, &gmailapi.Profile{EmailAddress: "agent@x.com", HistoryId: historyID})
	}
}

func TestListQueryPaginates(t *testing.T) {
	c, fake, _, _ := newTestClient(t, Config{})
	fake.handle("profile", profileHandler(t, 900))

	var queries []string
	fake.handle("messages", func(w http.ResponseWriter, r *http.Request) {
		queries = append(queries, r.URL.Query().Get("q"))
		assert.Equal(t, "INBOX", r.URL.Query().Get("labelIds"))
		assert.Equal(t, "Bearer initial", r.Header.Get("Authorization"))

		switch r.URL.Query().Get("pageToken") {
		case "":
			writeJSON(t, w, &gmailapi.ListMessagesResponse{
				Messages:      []*gmailapi.Message{{Id: "m1"}, {Id: "m2"}},
				NextPageToken: "p2",
			})
		case "p2":
			writeJSON(t, w, &gmailapi.ListMessagesResponse{
				Messages: []*gmailapi.Message{{Id: "m2"}, {Id: "m3"}},
			})
		}
	})

	last := time.Date(2026, 5, 30, 12, 0, 0, 0, time.UTC)
	res, err := c.ListCandidateIDs(context.Background(), testAccount, &model.SyncCursor{LastSyncedAt: last})
	require.NoError(t, err)

	assert.Equal(t, []string{"m1", "m2", "m3"}, res.IDs)
	assert.Equal(t, source.StrategyQuery, res.Strategy)
	assert.False(t, res.Truncated)
	assert.False(t, res.FellBack)
	assert.Equal(t, "900", res.HistoryID)
	require.Len(t, queries, 2)
	assert.Equal(t, fmt.Sprintf("after:%d", last.Unix()), queries[0])
}

func TestListQueryInitialWindow(t *testing.T) {
	c, fake, _, _ := newTestClient(t, Config{InitialWindowDays: 30})
	fake.handle("profile", profileHandler(t, 1))

	var query string
	fake.handle("messages", func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.Query().Get("q")
		writeJSON(t, w, &gmailapi.ListMessagesResponse{})
	})

	_, err := c.ListCandidateIDs(context.Background(), testAccount, nil)
	require.NoError(t, err)

	since := time.Date(2026, 5, 2, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, fmt.Sprintf("after:%d", since.Unix()), query)
}

func TestListQueryTruncatedAtCeiling(t *testing.T) {
	c, fake, _, _ := newTestClient(t, Config{MaxItemsPerRun: 3})
	fake.handle("profile", profileHandler(t, 900))

	fake.handle("messages", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("pageToken") {
		case "":
			writeJSON(t, w, &gmailapi.ListMessagesResponse{
				Messages:      []*gmailapi.Message{{Id: "m1"}, {Id: "m2"}},
				NextPageToken: "p2",
			})
		case "p2":
			assert.Equal(t, "1", r.URL.Query().Get("maxResults"))
			writeJSON(t, w, &gmailapi.ListMessagesResponse{
				Messages:      []*gmailapi.Message{{Id: "m3"}},
				NextPageToken: "p3",
			})
		default:
			t.Errorf("unexpected page %q", r.URL.Query().Get("pageToken"))
		}
	})

	res, err := c.ListCandidateIDs(context.Background(), testAccount, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"m1", "m2", "m3"}, res.IDs)
	assert.True(t, res.Truncated)
	assert.Equal(t, "p3", res.NextPageToken)
	assert.Empty(t, res.HistoryID, "truncated query listing must not offer a history id")
}

func TestListQueryResumesFromPageToken(t *testing.T) {
	c, fake, _, _ := newTestClient(t, Config{})
	fake.handle("profile", profileHandler(t, 900))

	pageSince := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	var queries, tokens []string
	fake.handle("messages", func(w http.ResponseWriter, r *http.Request) {
		queries = append(queries, r.URL.Query().Get("q"))
		tokens = append(tokens, r.URL.Query().Get("pageToken"))
		writeJSON(t, w, &gmailapi.ListMessagesResponse{
			Messages: []*gmailapi.Message{{Id: "m4"}, {Id: "m5"}},
		})
	})

	cursor := &model.SyncCursor{
		LastSyncedAt: time.Date(2026, 5, 20, 0, 0, 0, 0, time.UTC),
		PageToken:    "p3",
		PageSince:    pageSince,
	}
	res, err := c.ListCandidateIDs(context.Background(), testAccount, cursor)
	require.NoError(t, err)

	assert.Equal(t, []string{"m4", "m5"}, res.IDs)
	assert.False(t, res.Truncated)
	assert.True(t, res.Since.Equal(pageSince))
	assert.Equal(t, []string{"p3"}, tokens)
	assert.Equal(t, []string{fmt.Sprintf("after:%d", pageSince.Unix())}, queries)
	assert.Empty(t, res.HistoryID, "a resumed listing skipped the first pages")
}

func TestListQueryRelistsOnRejectedPageToken(t *testing.T) {
	c, fake, _, _ := newTestClient(t, Config{})
	fake.handle("profile", profileHandler(t, 900))

	var tokens []string
	fake.handle("messages", func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("pageToken")
		tokens = append(tokens, token)
		if token == "stale" {
			writeAPIError(w, http.StatusBadRequest, "invalidArgument", "Invalid pageToken")
			return
		}
		writeJSON(t, w, &gmailapi.ListMessagesResponse{
			Messages: []*gmailapi.Message{{Id: "m1"}},
		})
	})

	cursor := &model.SyncCursor{
		PageToken: "stale",
		PageSince: time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
	}
	res, err := c.ListCandidateIDs(context.Background(), testAccount, cursor)
	require.NoError(t, err)
	assert.Equal(t, []string{"m1"}, res.IDs)
	assert.Equal(t, []string{"stale", ""}, tokens)
}

func TestListHistory(t *testing.T) {
	c, fake, _, _ := newTestClient(t, Config{})

	fake.handle("history", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "500", r.URL.Query().Get("startHistoryId"))
		assert.Equal(t, "messageAdded", r.URL.Query().Get("historyTypes"))

		switch r.URL.Query().Get("pageToken") {
		case "":
			writeJSON(t, w, &gmailapi.ListHistoryResponse{
				History: []*gmailapi.History{
					{Id: 501, MessagesAdded: []*gmailapi.HistoryMessageAdded{{Message: &gmailapi.Message{Id: "m1"}}}},
				},
				NextPageToken: "h2",
				HistoryId:     520,
			})
		case "h2":
			writeJSON(t, w, &gmailapi.ListHistoryResponse{
				History: []*gmailapi.History{
					{Id: 505, MessagesAdded: []*gmailapi.HistoryMessageAdded{
						{Message: &gmailapi.Message{Id: "m2"}},
						{Message: &gmailapi.Message{Id: "m1"}},
					}},
				},
				HistoryId: 520,
			})
		}
	})

	res, err := c.ListCandidateIDs(context.Background(), testAccount, &model.SyncCursor{HistoryID: "500"})
	require.NoError(t, err)
	assert.Equal(t, source.StrategyHistory, res.Strategy)
	assert.Equal(t, []string{"m1", "m2"}, res.IDs)
	assert.Equal(t, "520", res.HistoryID)
	assert.False(t, res.Truncated)
	assert.Zero(t, fake.count("/profile"))
}

func TestListHistoryTruncatedUsesLastRecord(t *testing.T) {
	c, fake, _, _ := newTestClient(t, Config{MaxItemsPerRun: 2})

	fake.handle("history", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, &gmailapi.ListHistoryResponse{
			History: []*gmailapi.History{
				{Id: 601, MessagesAdded: []*gmailapi.HistoryMessageAdded{{Message: &gmailapi.Message{Id: "m1"}}}},
				{Id: 602, MessagesAdded: []*gmailapi.HistoryMessageAdded{{Message: &gmailapi.Message{Id: "m2"}}}},
				{Id: 603, MessagesAdded: []*gmailapi.HistoryMessageAdded{{Message: &gmailapi.Message{Id: "m3"}}}},
			},
			HistoryId: 700,
		})
	})

	res, err := c.ListCandidateIDs(context.Background(), testAccount, &model.SyncCursor{HistoryID: "600"})
	require.NoError(t, err)
	assert.Equal(t, []string{"m1", "m2"}, res.IDs)
	assert.True(t, res.Truncated)
	assert.Equal(t, "602", res.HistoryID)
}

func TestListHistoryInvalidFallsBackToQuery(t *testing.T) {
	c, fake, _, _ := newTestClient(t, Config{})
	fake.handle("history", func(w http.ResponseWriter, _ *http.Request) {
		writeAPIError(w, http.StatusNotFound, "notFound", "Requested entity was not found.")
	})
	fake.handle("profile", profileHandler(t, 1000))
	fake.handle("messages", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, &gmailapi.ListMessagesResponse{Messages: []*gmailapi.Message{{Id: "m9"}}})
	})

	res, err := c.ListCandidateIDs(context.Background(), testAccount, &model.SyncCursor{
		HistoryID:    "5",
		LastSyncedAt: time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.True(t, res.FellBack)
	assert.Equal(t, source.StrategyQuery, res.Strategy)
	assert.Equal(t, []string{"m9"}, res.IDs)
	assert.Equal(t, "1000", res.HistoryID)
}

func TestUnauthorizedRefreshesOnce(t *testing.T) {
	c, fake, tokens, _ := newTestClient(t, Config{})
	fake.handle("profile", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "Bearer initial" {
			writeAPIError(w, http.StatusUnauthorized, "authError", "Invalid Credentials")
			return
		}
		writeJSON(t, w, &gmailapi.Profile{HistoryId: 1})
	})
	fake.handle("messages", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, &gmailapi.ListMessagesResponse{})
	})

	_, err := c.ListCandidateIDs(context.Background(), testAccount, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, tokens.refreshes)
}

func TestUnauthorizedAfterRefreshIsAuthExpired(t *testing.T) {
	c, fake, tokens, _ := newTestClient(t, Config{})
	fake.handle("profile", func(w http.ResponseWriter, _ *http.Request) {
		writeAPIError(w, http.StatusUnauthorized, "authError", "Invalid Credentials")
	})

	_, err := c.ListCandidateIDs(context.Background(), testAccount, nil)
	require.Error(t, err)
	assert.True(t, source.IsAuthExpired(err))
	assert.Equal(t, 1, tokens.refreshes)
}

func TestRateLimitBacksOffThenFails(t *testing.T) {
	c, fake, _, sleeps := newTestClient(t, Config{
		MaxRetries:     3,
		InitialBackoff: time.Second,
		MaxBackoff:     3 * time.Second,
	})
	fake.handle("profile", func(w http.ResponseWriter, _ *http.Request) {
		writeAPIError(w, http.StatusTooManyRequests, "rateLimitExceeded", "Rate Limit Exceeded")
	})

	_, err := c.ListCandidateIDs(context.Background(), testAccount, nil)
	require.Error(t, err)
	assert.True(t, source.IsRateLimited(err))
	assert.Equal(t, 4, fake.count("/profile"))
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 3 * time.Second}, *sleeps)
}

func TestRateLimitHonoursRetryAfter(t *testing.T) {
	c, fake, _, sleeps := newTestClient(t, Config{MaxBackoff: 30 * time.Second})
	calls := 0
	fake.handle("profile", func(w http.ResponseWriter, _ *http.Request) {
		calls++
		if calls == 1 {
			w.Header().Set("Retry-After", "7")
			writeAPIError(w, http.StatusForbidden, "userRateLimitExceeded", "User Rate Limit Exceeded")
			return
		}
		writeJSON(t, w, &gmailapi.Profile{HistoryId: 1})
	})
	fake.handle("messages", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, &gmailapi.ListMessagesResponse{})
	})

	_, err := c.ListCandidateIDs(context.Background(), testAccount, nil)
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{7 * time.Second}, *sleeps)
}

func TestServerErrorRetriedThenTransient(t *testing.T) {
	c, fake, _, _ := newTestClient(t, Config{MaxRetries: 1})
	fake.handle("messages/*", func(w http.ResponseWriter, _ *http.Request) {
		writeAPIError(w, http.StatusServiceUnavailable, "backendError", "Backend Error")
	})

	_, err := c.GetMessage(context.Background(), testAccount, "m1")
	require.Error(t, err)
	assert.True(t, source.IsTransient(err))
	assert.Equal(t, 2, fake.count("/messages/m1"))
}

func TestGetMessage(t *testing.T) {
	c, fake, _, _ := newTestClient(t, Config{})
	body := base64.URLEncoding.EncodeToString([]byte("Hello"))

	fake.handle("messages/*", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "full", r.URL.Query().Get("format"))
		writeJSON(t, w, &gmailapi.Message{
			Id:           "m1",
			ThreadId:     "t1",
			LabelIds:     []string{"INBOX", "UNREAD"},
			InternalDate: 1767225600000,
			HistoryId:    42,
			Payload: &gmailapi.MessagePart{
				MimeType: "multipart/alternative",
				Headers: []*gmailapi.MessagePartHeader{
					{Name: "From", Value: "Client <client@y.com>"},
					{Name: "Subject", Value: "Trip"},
				},
				Parts: []*gmailapi.MessagePart{
					{PartId: "0", MimeType: "text/plain", Body: &gmailapi.MessagePartBody{Data: body, Size: 5}},
				},
			},
		})
	})

	env, err := c.GetMessage(context.Background(), testAccount, "m1")
	require.NoError(t, err)
	assert.Equal(t, "t1", env.ThreadID)
	assert.Equal(t, []string{"INBOX", "UNREAD"}, env.LabelIDs)
	assert.Equal(t, "42", env.HistoryID)
	assert.True(t, env.InternalDate.Equal(time.UnixMilli(1767225600000)))
	assert.Equal(t, "Trip", env.Header("subject"))
	require.Len(t, env.Payload.Parts, 1)
	assert.Equal(t, body, env.Payload.Parts[0].Body.Data)
	assert.Equal(t, int64(5), env.Payload.Parts[0].Body.Size)
}

func TestGetMessageNotFoundIsMalformed(t *testing.T) {
	c, fake, _, _ := newTestClient(t, Config{})
	fake.handle("messages/*", func(w http.ResponseWriter, _ *http.Request) {
		writeAPIError(w, http.StatusNotFound, "notFound", "Requested entity was not found.")
	})

	_, err := c.GetMessage(context.Background(), testAccount, "gone")
	require.Error(t, err)
	assert.True(t, source.IsMalformed(err))
}
