// Package gmail implements source.MessageSource over the Gmail REST API.
package gmail

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"
	gmailapi "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/nhle/inbox-sync/internal/model"
	"github.com/nhle/inbox-sync/internal/source"
)

// TokenProvider supplies access tokens per account.
type TokenProvider interface {
	EnsureFreshToken(ctx context.Context, accountID string) (*oauth2.Token, error)
	ForceRefresh(ctx context.Context, accountID string) (*oauth2.Token, error)
}

// Config bounds listing and retry behaviour.
type Config struct {
	// Endpoint overrides the API base URL; empty uses the default.
	Endpoint string

	// UserID is the path user, normally "me".
	UserID string

	PageSize          int
	MaxItemsPerRun    int
	MaxRetries        int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	InitialWindowDays int

	// HTTPClient is the base client; the bearer transport wraps its
	// transport.
	HTTPClient *http.Client
}

// ConfigFrom builds a Config from application settings.
func ConfigFrom(p model.ProviderConfig, s model.SyncConfig) Config {
	return Config{
		Endpoint:          p.Endpoint,
		UserID:            p.UserID,
		PageSize:          s.PageSize,
		MaxItemsPerRun:    s.MaxItemsPerRun,
		MaxRetries:        s.MaxRetries,
		InitialBackoff:    s.InitialBackoff,
		MaxBackoff:        s.MaxBackoff,
		InitialWindowDays: s.InitialWindowDays,
	}
}

// Client lists and fetches Gmail messages with token refresh on 401,
// exponential backoff on throttling and a circuit breaker against
// sustained server failures.
type Client struct {
	cfg    Config
	tokens TokenProvider
	cb     *gobreaker.CircuitBreaker
	log    logrus.FieldLogger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

var _ source.MessageSource = (*Client)(nil)

// NewClient creates a Gmail client.
func NewClient(cfg Config, tokens TokenProvider, log logrus.FieldLogger) *Client {
	if cfg.UserID == "" {
		cfg.UserID = "me"
	}
	if cfg.PageSize <= 0 || cfg.PageSize > 500 {
		cfg.PageSize = 100
	}
	if cfg.MaxItemsPerRun <= 0 {
		cfg.MaxItemsPerRun = 500
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}

	settings := gobreaker.Settings{
		Name:        "gmail-api",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.ConsecutiveFailures > 5 ||
				(counts.Requests >= 10 && failureRatio >= 0.6)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("circuit breaker state changed")
		},
	}

	return &Client{
		cfg:    cfg,
		tokens: tokens,
		cb:     gobreaker.NewCircuitBreaker(settings),
		log:    log,
		now:    time.Now,
		sleep:  sleepContext,
	}
}

// Type returns the provider discriminator.
func (c *Client) Type() model.SourceType { return model.SourceTypeGmail }

// SupportsHistory reports that Gmail offers history-based listing.
func (c *Client) SupportsHistory() bool { return true }

// service builds an API client that authenticates with tok.
func (c *Client) service(ctx context.Context, tok *oauth2.Token) (*gmailapi.Service, error) {
	base := c.cfg.HTTPClient.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	httpClient := &http.Client{
		Timeout: c.cfg.HTTPClient.Timeout,
		Transport: &oauth2.Transport{
			Source: oauth2.StaticTokenSource(tok),
			Base:   base,
		},
	}

	opts := []option.ClientOption{option.WithHTTPClient(httpClient)}
	if c.cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(c.cfg.Endpoint))
	}

	svc, err := gmailapi.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating gmail service: %w", err)
	}
	return svc, nil
}

// call runs fn with a fresh token, applying the retry policy: one forced
// refresh on 401, exponential backoff on rate limits and server errors up
// to MaxRetries. Other API errors are returned unchanged.
func (c *Client) call(
	ctx context.Context,
	accountID string,
	operation string,
	fn func(svc *gmailapi.Service) error,
) error {
	tok, err := c.tokens.EnsureFreshToken(ctx, accountID)
	if err != nil {
		return err
	}

	refreshed := false
	for attempt := 0; ; attempt++ {
		svc, err := c.service(ctx, tok)
		if err != nil {
			return err
		}

		err = c.executeWithCircuitBreaker(func() error { return fn(svc) })
		if err == nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		var apiErr *googleapi.Error
		isAPIErr := errors.As(err, &apiErr)

		switch {
		case isAPIErr && apiErr.Code == http.StatusUnauthorized:
			if refreshed {
				return &source.AuthExpiredError{
					AccountID: accountID,
					Message:   "provider rejected refreshed token",
					Err:       err,
				}
			}
			tok, err = c.tokens.ForceRefresh(ctx, accountID)
			if err != nil {
				return err
			}
			refreshed = true
			attempt--
			continue

		case isAPIErr && isRateLimit(apiErr):
			if attempt >= c.cfg.MaxRetries {
				return &source.RateLimitedError{
					Operation:  operation,
					Attempts:   attempt + 1,
					RetryAfter: retryAfter(apiErr.Header),
					Err:        err,
				}
			}

		case isAPIErr && apiErr.Code >= http.StatusInternalServerError:
			if attempt >= c.cfg.MaxRetries {
				return &source.TransientError{Operation: operation, Status: apiErr.Code, Err: err}
			}

		case isAPIErr:
			return err

		default:
			// Network failures and an open breaker.
			if attempt >= c.cfg.MaxRetries {
				return &source.TransientError{Operation: operation, Err: err}
			}
		}

		wait := c.backoff(attempt, apiErr)
		c.log.WithFields(logrus.Fields{
			"account":   accountID,
			"operation": operation,
			"attempt":   attempt + 1,
			"wait":      wait.String(),
		}).Warn("retrying provider call")

		if err := c.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// backoff honours Retry-After when present, otherwise doubles from
// InitialBackoff, capped at MaxBackoff.
func (c *Client) backoff(attempt int, apiErr *googleapi.Error) time.Duration {
	if apiErr != nil {
		if d := retryAfter(apiErr.Header); d > 0 {
			if d > c.cfg.MaxBackoff {
				return c.cfg.MaxBackoff
			}
			return d
		}
	}

	wait := c.cfg.InitialBackoff << uint(attempt)
	if wait <= 0 || wait > c.cfg.MaxBackoff {
		wait = c.cfg.MaxBackoff
	}
	return wait
}

// executeWithCircuitBreaker keeps client errors from tripping the breaker.
func (c *Client) executeWithCircuitBreaker(fn func() error) error {
	_, err := c.cb.Execute(func() (any, error) {
		if err := fn(); err != nil {
			var apiErr *googleapi.Error
			if errors.As(err, &apiErr) && apiErr.Code < http.StatusInternalServerError &&
				apiErr.Code != http.StatusTooManyRequests {
				return nil, &nonCircuitError{err: err}
			}
			return nil, err
		}
		return nil, nil
	})

	var nce *nonCircuitError
	if errors.As(err, &nce) {
		return nce.err
	}
	return err
}

// nonCircuitError wraps errors that should not trip the circuit breaker.
type nonCircuitError struct {
	err error
}

func (e *nonCircuitError) Error() string {
	return e.err.Error()
}

func isRateLimit(apiErr *googleapi.Error) bool {
	if apiErr.Code == http.StatusTooManyRequests {
		return true
	}
	if apiErr.Code != http.StatusForbidden {
		return false
	}
	for _, item := range apiErr.Errors {
		if item.Reason == "rateLimitExceeded" || item.Reason == "userRateLimitExceeded" {
			return true
		}
	}
	return strings.Contains(strings.ToLower(apiErr.Message), "rate limit")
}

// retryAfter parses a Retry-After header given in seconds.
func retryAfter(h http.Header) time.Duration {
	if h == nil {
		return 0
	}
	v := h.Get("Retry-After")
	if v == "" {
		return 0
	}
	seconds, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
