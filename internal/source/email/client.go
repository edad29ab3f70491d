package email

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/nhle/inbox-sync/internal/source"
)

// IMAPClient wraps go-imap v2 for connecting to and querying IMAP servers.
type IMAPClient struct {
	accountID string
	host      string
	port      string
	username  string
	password  string
	tls       bool
}

// NewIMAPClient creates a new IMAP client configuration.
func NewIMAPClient(
	accountID, host, port, username, password string, tls bool,
) *IMAPClient {
	return &IMAPClient{
		accountID: accountID,
		host:      host,
		port:      port,
		username:  username,
		password:  password,
		tls:       tls,
	}
}

// Connect establishes a connection to the IMAP server, authenticates,
// and returns the connected client. The connection is closed when ctx is
// done. The caller is responsible for calling Logout on the returned
// client.
func (c *IMAPClient) Connect(
	ctx context.Context,
) (*imapclient.Client, error) {
	addr := c.host + ":" + c.port

	var client *imapclient.Client
	var err error

	if c.tls {
		client, err = imapclient.DialTLS(addr, nil)
	} else {
		client, err = imapclient.DialStartTLS(addr, nil)
	}
	if err != nil {
		return nil, &source.TransientError{
			Operation: "imap connect",
			Err:       fmt.Errorf("connecting to IMAP %s: %w", addr, err),
		}
	}

	context.AfterFunc(ctx, func() { _ = client.Close() })

	if err := client.Login(c.username, c.password).Wait(); err != nil {
		_ = client.Logout().Wait()
		return nil, &source.AuthExpiredError{
			AccountID: c.accountID,
			Message: fmt.Sprintf(
				"authentication failed for %s", c.username,
			),
			Err: err,
		}
	}

	return client, nil
}

// SearchSince selects folder and returns the UIDs of messages received
// on or after since, oldest first. IMAP SINCE has day granularity.
func (c *IMAPClient) SearchSince(
	ctx context.Context, folder string, since time.Time,
) (*SearchResult, error) {
	client, err := c.Connect(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = client.Logout().Wait() }()

	selected, err := client.Select(folder, &imap.SelectOptions{ReadOnly: true}).Wait()
	if err != nil {
		return nil, fmt.Errorf("selecting %s: %w", folder, err)
	}

	criteria := &imap.SearchCriteria{}
	if !since.IsZero() {
		criteria.Since = since
	}

	searchData, err := client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, &source.TransientError{Operation: "imap search", Err: err}
	}

	res := &SearchResult{UIDValidity: selected.UIDValidity}
	for _, uid := range searchData.AllUIDs() {
		res.UIDs = append(res.UIDs, uint32(uid))
	}
	sort.Slice(res.UIDs, func(i, j int) bool { return res.UIDs[i] < res.UIDs[j] })

	return res, nil
}

// FetchMessage selects folder and fetches the full raw message for uid
// without setting \Seen.
func (c *IMAPClient) FetchMessage(
	ctx context.Context, folder string, uid uint32,
) (*FetchedMessage, error) {
	client, err := c.Connect(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = client.Logout().Wait() }()

	selected, err := client.Select(folder, &imap.SelectOptions{ReadOnly: true}).Wait()
	if err != nil {
		return nil, fmt.Errorf("selecting %s: %w", folder, err)
	}

	uidSet := imap.UIDSetNum(imap.UID(uid))

	bodySection := &imap.FetchItemBodySection{
		Peek: true,
	}

	fetchOpts := &imap.FetchOptions{
		Flags:        true,
		UID:          true,
		InternalDate: true,
		RFC822Size:   true,
		BodySection:  []*imap.FetchItemBodySection{bodySection},
	}

	fetchCmd := client.Fetch(uidSet, fetchOpts)

	msg := fetchCmd.Next()
	if msg == nil {
		_ = fetchCmd.Close()
		return nil, fmt.Errorf("message UID %d not found", uid)
	}

	buf, err := msg.Collect()
	if err != nil {
		_ = fetchCmd.Close()
		return nil, fmt.Errorf("collecting message data: %w", err)
	}

	fetched := &FetchedMessage{
		UIDValidity:  selected.UIDValidity,
		UID:          uint32(buf.UID),
		InternalDate: buf.InternalDate,
		Size:         buf.RFC822Size,
		Raw:          buf.FindBodySection(bodySection),
	}
	for _, flag := range buf.Flags {
		fetched.Flags = append(fetched.Flags, string(flag))
	}

	if err := fetchCmd.Close(); err != nil {
		return fetched, fmt.Errorf("closing fetch: %w", err)
	}

	return fetched, nil
}
