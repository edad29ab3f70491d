// Package auth keeps per-account OAuth2 access tokens fresh.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/nhle/inbox-sync/internal/credential"
	"github.com/nhle/inbox-sync/internal/model"
	"github.com/nhle/inbox-sync/internal/source"
)

// DefaultRefreshWindow is how close to expiry a token may get before it
// is refreshed.
const DefaultRefreshWindow = 10 * time.Minute

// TokenStore persists tokens per account.
type TokenStore interface {
	Token(accountID string) (*oauth2.Token, error)
	SaveToken(accountID string, tok *oauth2.Token) error
}

// Supervisor refreshes and persists access tokens. Concurrent refreshes
// for the same account collapse into a single exchange.
type Supervisor struct {
	oauth      *oauth2.Config
	tokens     TokenStore
	window     time.Duration
	httpClient *http.Client
	log        logrus.FieldLogger
	now        func() time.Time

	group singleflight.Group
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithRefreshWindow overrides DefaultRefreshWindow.
func WithRefreshWindow(d time.Duration) Option {
	return func(s *Supervisor) {
		if d > 0 {
			s.window = d
		}
	}
}

// WithHTTPClient sets the client used for token exchanges.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Supervisor) { s.httpClient = c }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Supervisor) { s.now = now }
}

// NewSupervisor builds a Supervisor from OAuth client settings.
func NewSupervisor(
	cfg model.OAuthConfig,
	tokens TokenStore,
	log logrus.FieldLogger,
	opts ...Option,
) *Supervisor {
	s := &Supervisor{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		tokens: tokens,
		window: DefaultRefreshWindow,
		log:    log,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EnsureFreshToken returns a usable access token for the account,
// refreshing it first when it is missing or expires within the refresh
// window. Returns *source.AuthExpiredError when no refresh token is stored
// or the provider rejects the exchange.
func (s *Supervisor) EnsureFreshToken(ctx context.Context, accountID string) (*oauth2.Token, error) {
	tok, err := s.tokens.Token(accountID)
	if err != nil {
		if errors.Is(err, credential.ErrNotFound) {
			return nil, &source.AuthExpiredError{
				AccountID: accountID,
				Message:   "no stored credentials",
				Err:       err,
			}
		}
		return nil, fmt.Errorf("loading token for %s: %w", accountID, err)
	}

	if tok.AccessToken != "" && !s.expiresSoon(tok) {
		return tok, nil
	}
	return s.refresh(ctx, accountID, tok)
}

// ForceRefresh exchanges the stored refresh token regardless of expiry.
// Used after the provider answers 401 to a token believed valid.
func (s *Supervisor) ForceRefresh(ctx context.Context, accountID string) (*oauth2.Token, error) {
	tok, err := s.tokens.Token(accountID)
	if err != nil {
		if errors.Is(err, credential.ErrNotFound) {
			return nil, &source.AuthExpiredError{
				AccountID: accountID,
				Message:   "no stored credentials",
				Err:       err,
			}
		}
		return nil, fmt.Errorf("loading token for %s: %w", accountID, err)
	}
	return s.refresh(ctx, accountID, tok)
}

// expiresSoon treats a zero expiry as non-expiring, matching oauth2.
func (s *Supervisor) expiresSoon(tok *oauth2.Token) bool {
	if tok.Expiry.IsZero() {
		return false
	}
	return tok.Expiry.Before(s.now().Add(s.window))
}

func (s *Supervisor) refresh(ctx context.Context, accountID string, stored *oauth2.Token) (*oauth2.Token, error) {
	if stored.RefreshToken == "" {
		return nil, &source.AuthExpiredError{
			AccountID: accountID,
			Message:   "access token expired and no refresh token is available",
		}
	}

	v, err, _ := s.group.Do(accountID, func() (any, error) {
		if s.httpClient != nil {
			ctx = context.WithValue(ctx, oauth2.HTTPClient, s.httpClient)
		}

		// An empty access token forces the refresh exchange.
		ts := s.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: stored.RefreshToken})
		fresh, err := ts.Token()
		if err != nil {
			var retrieveErr *oauth2.RetrieveError
			if errors.As(err, &retrieveErr) {
				return nil, &source.AuthExpiredError{
					AccountID: accountID,
					Message:   "refresh exchange rejected",
					Err:       err,
				}
			}
			return nil, &source.TransientError{Operation: "token refresh", Err: err}
		}

		if fresh.RefreshToken == "" {
			fresh.RefreshToken = stored.RefreshToken
		}
		if err := s.tokens.SaveToken(accountID, fresh); err != nil {
			return nil, fmt.Errorf("persisting refreshed token for %s: %w", accountID, err)
		}

		s.log.WithFields(logrus.Fields{
			"account": accountID,
			"expiry":  fresh.Expiry.Format(time.RFC3339),
		}).Info("access token refreshed")
		return fresh, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*oauth2.Token), nil
}
