package gmail

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	gmailapi "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"

	"github.com/nhle/inbox-sync/internal/model"
	"github.com/nhle/inbox-sync/internal/source"
)

// ListCandidateIDs lists message ids for the account's folder. A stored
// history id selects history listing; a rejected history id falls back to
// query listing for this call only.
func (c *Client) ListCandidateIDs(
	ctx context.Context,
	account model.Account,
	cursor *model.SyncCursor,
) (*source.ListResult, error) {
	if cursor != nil && cursor.HistoryID != "" {
		res, err := c.listHistory(ctx, account, cursor.HistoryID)
		if err == nil {
			return res, nil
		}
		if !source.IsCursorInvalid(err) {
			return nil, err
		}

		c.log.WithFields(logrus.Fields{
			"account":    account.ID,
			"history_id": cursor.HistoryID,
		}).Warn("history id rejected, falling back to query listing")

		res, err = c.listQuery(ctx, account, cursor)
		if err != nil {
			return nil, err
		}
		res.FellBack = true
		return res, nil
	}

	return c.listQuery(ctx, account, cursor)
}

// listHistory translates messageAdded history records into ids.
func (c *Client) listHistory(
	ctx context.Context,
	account model.Account,
	startHistoryID string,
) (*source.ListResult, error) {
	start, err := strconv.ParseUint(startHistoryID, 10, 64)
	if err != nil {
		return nil, &source.CursorInvalidError{HistoryID: startHistoryID, Err: err}
	}

	res := &source.ListResult{Strategy: source.StrategyHistory}
	seen := make(map[string]bool)
	pageToken := ""

	for {
		var resp *gmailapi.ListHistoryResponse
		err := c.call(ctx, account.ID, "history.list", func(svc *gmailapi.Service) error {
			call := svc.Users.History.List(c.cfg.UserID).
				StartHistoryId(start).
				HistoryTypes("messageAdded").
				LabelId(account.MailFolder()).
				MaxResults(int64(c.cfg.PageSize)).
				Context(ctx)
			if pageToken != "" {
				call = call.PageToken(pageToken)
			}
			var err error
			resp, err = call.Do()
			return err
		})
		if err != nil {
			var apiErr *googleapi.Error
			if errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound {
				return nil, &source.CursorInvalidError{HistoryID: startHistoryID, Err: err}
			}
			return nil, fmt.Errorf("listing history since %s: %w", startHistoryID, err)
		}

		for _, record := range resp.History {
			added := addedIDs(record, seen)
			if len(res.IDs) > 0 && len(res.IDs)+len(added) > c.cfg.MaxItemsPerRun {
				// Stop on a record boundary so the cursor can resume from
				// the last fully listed record.
				res.Truncated = true
				res.NextPageToken = resp.NextPageToken
				return res, nil
			}
			for _, id := range added {
				seen[id] = true
			}
			res.IDs = append(res.IDs, added...)
			res.HistoryID = strconv.FormatUint(record.Id, 10)
		}

		if resp.NextPageToken == "" {
			if resp.HistoryId != 0 {
				res.HistoryID = strconv.FormatUint(resp.HistoryId, 10)
			}
			return res, nil
		}
		if len(res.IDs) >= c.cfg.MaxItemsPerRun {
			res.Truncated = true
			res.NextPageToken = resp.NextPageToken
			return res, nil
		}
		pageToken = resp.NextPageToken
	}
}

func addedIDs(record *gmailapi.History, seen map[string]bool) []string {
	var ids []string
	local := make(map[string]bool)
	for _, added := range record.MessagesAdded {
		if added == nil || added.Message == nil || added.Message.Id == "" {
			continue
		}
		id := added.Message.Id
		if seen[id] || local[id] {
			continue
		}
		local[id] = true
		ids = append(ids, id)
	}
	return ids
}

// listQuery lists the folder, narrowed to messages after LastSyncedAt or
// the initial window. A cursor carrying a page token resumes the earlier
// listing with its original bound. The profile history id is captured
// before listing so changes made during listing are picked up by the next
// history run.
func (c *Client) listQuery(
	ctx context.Context,
	account model.Account,
	cursor *model.SyncCursor,
) (*source.ListResult, error) {
	res := &source.ListResult{Strategy: source.StrategyQuery}

	var profile *gmailapi.Profile
	err := c.call(ctx, account.ID, "profile.get", func(svc *gmailapi.Service) error {
		var err error
		profile, err = svc.Users.GetProfile(c.cfg.UserID).Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("reading profile: %w", err)
	}

	res.Since = c.sinceFor(cursor)
	pageToken := ""
	if cursor.Resuming() {
		res.Since = cursor.PageSince
		pageToken = cursor.PageToken
	}
	query := queryFor(res.Since)
	seen := make(map[string]bool)

	for {
		remaining := c.cfg.MaxItemsPerRun - len(res.IDs)
		pageSize := c.cfg.PageSize
		if remaining < pageSize {
			pageSize = remaining
		}

		var resp *gmailapi.ListMessagesResponse
		err := c.call(ctx, account.ID, "messages.list", func(svc *gmailapi.Service) error {
			call := svc.Users.Messages.List(c.cfg.UserID).
				LabelIds(account.MailFolder()).
				MaxResults(int64(pageSize)).
				Context(ctx)
			if query != "" {
				call = call.Q(query)
			}
			if pageToken != "" {
				call = call.PageToken(pageToken)
			}
			var err error
			resp, err = call.Do()
			return err
		})
		var apiErr *googleapi.Error
		if err != nil && pageToken != "" && len(res.IDs) == 0 &&
			errors.As(err, &apiErr) && apiErr.Code == http.StatusBadRequest {
			c.log.WithFields(logrus.Fields{
				"account": account.ID,
				"since":   res.Since,
			}).Warn("page token rejected, relisting from the first page")
			pageToken = ""
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("listing messages: %w", err)
		}

		for _, m := range resp.Messages {
			if m == nil || m.Id == "" || seen[m.Id] {
				continue
			}
			seen[m.Id] = true
			res.IDs = append(res.IDs, m.Id)
		}

		if resp.NextPageToken == "" {
			break
		}
		if len(res.IDs) >= c.cfg.MaxItemsPerRun {
			res.Truncated = true
			res.NextPageToken = resp.NextPageToken
			break
		}
		pageToken = resp.NextPageToken
	}

	// Unlisted messages remain while the listing is truncated, and a
	// resumed listing never saw the first pages again; advancing to the
	// profile history id would skip them.
	if !res.Truncated && !cursor.Resuming() && profile.HistoryId != 0 {
		res.HistoryID = strconv.FormatUint(profile.HistoryId, 10)
	}
	return res, nil
}

// sinceFor returns LastSyncedAt, or the start of the initial window on a
// first sync. Zero means no bound.
func (c *Client) sinceFor(cursor *model.SyncCursor) time.Time {
	if cursor != nil && !cursor.LastSyncedAt.IsZero() {
		return cursor.LastSyncedAt
	}
	if c.cfg.InitialWindowDays > 0 {
		return c.now().AddDate(0, 0, -c.cfg.InitialWindowDays)
	}
	return time.Time{}
}

// queryFor builds the search expression. Gmail accepts epoch seconds in
// after:, which gives a coarse filter; duplicates are dropped at storage.
func queryFor(since time.Time) string {
	if since.IsZero() {
		return ""
	}
	return "after:" + strconv.FormatInt(since.Unix(), 10)
}
