// Package sync runs the per-account synchronization state machine and
// schedules recurring runs.
package sync

import (
	"context"
	"errors"
	"fmt"
	gosync "sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"

	"github.com/nhle/inbox-sync/internal/events"
	"github.com/nhle/inbox-sync/internal/metrics"
	"github.com/nhle/inbox-sync/internal/model"
	"github.com/nhle/inbox-sync/internal/normalize"
	"github.com/nhle/inbox-sync/internal/source"
	"github.com/nhle/inbox-sync/internal/store"
)

// State is a step of one account run.
type State string

const (
	StateIdle          State = "idle"
	StateTokenCheck    State = "token_check"
	StateListing       State = "listing"
	StateFetching      State = "fetching"
	StateProcessing    State = "processing"
	StatePersisting    State = "persisting"
	StateCursorAdvance State = "cursor_advance"
	StateDone          State = "done"
	StateError         State = "error"
)

// TokenChecker ensures an OAuth account has a usable access token.
type TokenChecker interface {
	EnsureFreshToken(ctx context.Context, accountID string) (*oauth2.Token, error)
}

// cursorWriteTimeout bounds the cursor write, which runs even after the
// run context expired.
const cursorWriteTimeout = 10 * time.Second

// Engine synchronizes configured accounts into the store.
type Engine struct {
	cfg        model.SyncConfig
	accounts   []model.Account
	sources    map[model.SourceType]source.MessageSource
	tokens     TokenChecker
	store      store.Store
	notifier   events.Notifier
	normalizer *normalize.Normalizer
	log        logrus.FieldLogger

	now      func() time.Time
	observer func(accountID string, s State)

	mu    gosync.Mutex
	locks map[string]chan struct{}
}

// Option configures an Engine.
type Option func(*Engine)

// WithSource registers a message source for its provider type.
func WithSource(src source.MessageSource) Option {
	return func(e *Engine) { e.sources[src.Type()] = src }
}

// WithTokenChecker sets the supervisor consulted before OAuth runs.
func WithTokenChecker(t TokenChecker) Option {
	return func(e *Engine) { e.tokens = t }
}

// WithNotifier sets the "sync completed" sink.
func WithNotifier(n events.Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithClock overrides the run clock.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithStateObserver registers a callback invoked on every state change.
func WithStateObserver(fn func(accountID string, s State)) Option {
	return func(e *Engine) { e.observer = fn }
}

// NewEngine creates an engine for accounts backed by st.
func NewEngine(
	cfg model.SyncConfig,
	accounts []model.Account,
	st store.Store,
	log logrus.FieldLogger,
	opts ...Option,
) *Engine {
	def := model.DefaultSyncConfig()
	if cfg.MaxItemsPerRun <= 0 {
		cfg.MaxItemsPerRun = def.MaxItemsPerRun
	}
	if cfg.FetchConcurrency <= 0 {
		cfg.FetchConcurrency = def.FetchConcurrency
	}
	if cfg.AccountWorkers <= 0 {
		cfg.AccountWorkers = def.AccountWorkers
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = def.RunTimeout
	}
	if cfg.MaxBodyLength <= 0 {
		cfg.MaxBodyLength = def.MaxBodyLength
	}

	e := &Engine{
		cfg:        cfg,
		accounts:   accounts,
		sources:    make(map[model.SourceType]source.MessageSource),
		store:      st,
		notifier:   events.Nop{},
		normalizer: normalize.New(cfg.MaxBodyLength),
		log:        log,
		now:        time.Now,
		locks:      make(map[string]chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Accounts returns the configured accounts.
func (e *Engine) Accounts() []model.Account {
	out := make([]model.Account, len(e.accounts))
	copy(out, e.accounts)
	return out
}

func (e *Engine) account(id string) (model.Account, bool) {
	for _, a := range e.accounts {
		if a.ID == id {
			return a, true
		}
	}
	return model.Account{}, false
}

// lock serializes runs for one account. It blocks until the account is
// free or ctx is done.
func (e *Engine) lock(ctx context.Context, accountID string) (func(), error) {
	e.mu.Lock()
	ch, ok := e.locks[accountID]
	if !ok {
		ch = make(chan struct{}, 1)
		e.locks[accountID] = ch
	}
	e.mu.Unlock()

	select {
	case ch <- struct{}{}:
		return func() { <-ch }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// RunAll synchronizes every enabled account with bounded concurrency.
// Results are returned in configuration order; one account failing never
// affects another.
func (e *Engine) RunAll(ctx context.Context) []model.SyncResult {
	var enabled []model.Account
	for _, a := range e.accounts {
		if a.Enabled {
			enabled = append(enabled, a)
		}
	}

	results := make([]model.SyncResult, len(enabled))

	var g errgroup.Group
	g.SetLimit(e.cfg.AccountWorkers)
	for i, a := range enabled {
		g.Go(func() error {
			results[i] = e.RunAccount(ctx, a.ID, true)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// RunAccount runs the state machine for one account. An incremental run
// resumes from the stored cursor; a full run relists the initial window.
// The result always describes what happened, including failures.
func (e *Engine) RunAccount(ctx context.Context, accountID string, incremental bool) model.SyncResult {
	r := &run{
		engine: e,
		result: model.SyncResult{
			AccountID: accountID,
			RunID:     uuid.New().String(),
			Errors:    []string{},
			StartedAt: e.now(),
		},
		incremental: incremental,
	}

	account, ok := e.account(accountID)
	if !ok {
		r.result.Failed = true
		r.result.AddError(fmt.Errorf("unknown account %q", accountID))
		r.result.FinishedAt = e.now()
		return r.result
	}
	r.account = account
	r.log = e.log.WithFields(logrus.Fields{
		"account": account.ID,
		"folder":  account.MailFolder(),
		"run_id":  r.result.RunID,
	})

	unlock, err := e.lock(ctx, account.ID)
	if err != nil {
		r.fail(fmt.Errorf("waiting for running sync: %w", err))
		return r.finish()
	}
	defer unlock()

	ctx, cancel := context.WithTimeout(ctx, e.cfg.RunTimeout)
	defer cancel()

	r.execute(ctx)
	return r.finish()
}

// run holds the state of one account run.
type run struct {
	engine      *Engine
	account     model.Account
	incremental bool
	log         logrus.FieldLogger

	state  State
	result model.SyncResult

	src     source.MessageSource
	cursor  *model.SyncCursor
	listing *source.ListResult

	// listCursor is the cursor handed to the source, nil on a full run.
	listCursor *model.SyncCursor

	// retryable is set when some listed message was not persisted for a
	// reason that may succeed later; the history id is then withheld.
	retryable bool
}

func (r *run) transition(s State) {
	r.state = s
	r.log.WithField("state", string(s)).Debug("sync state")
	if r.engine.observer != nil {
		r.engine.observer(r.account.ID, s)
	}
}

func (r *run) fail(err error) {
	r.result.Failed = true
	r.result.AddError(err)
	r.transition(StateError)
	r.log.WithError(err).Error("account sync failed")
}

func (r *run) execute(ctx context.Context) {
	e := r.engine

	src, ok := e.sources[r.account.Provider]
	if !ok {
		r.fail(fmt.Errorf("no source registered for provider %q", r.account.Provider))
		return
	}
	r.src = src

	r.transition(StateTokenCheck)
	if r.account.Provider == model.SourceTypeGmail && e.tokens != nil {
		if _, err := e.tokens.EnsureFreshToken(ctx, r.account.ID); err != nil {
			r.fail(fmt.Errorf("checking token: %w", err))
			return
		}
	}

	r.transition(StateListing)
	if err := r.list(ctx); err != nil {
		r.fail(err)
		return
	}

	r.transition(StateFetching)
	envelopes := r.fetch(ctx)

	r.transition(StateProcessing)
	records := r.process(ctx, envelopes)

	r.transition(StatePersisting)
	r.persist(ctx, records)

	r.transition(StateCursorAdvance)
	if err := r.advanceCursor(ctx); err != nil {
		r.result.AddError(err)
		r.log.WithError(err).Error("cursor not advanced")
	}

	r.notify(ctx)
}

func (r *run) list(ctx context.Context) error {
	e := r.engine

	cursor, err := e.store.GetCursor(ctx, r.account.ID, r.account.MailFolder())
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		return fmt.Errorf("reading cursor: %w", err)
	default:
		r.cursor = cursor
	}

	if r.incremental && r.cursor != nil {
		c := *r.cursor
		if !r.src.SupportsHistory() {
			c.HistoryID = ""
		}
		r.listCursor = &c
	}

	res, err := r.src.ListCandidateIDs(ctx, r.account, r.listCursor)
	if err != nil {
		return fmt.Errorf("listing messages: %w", err)
	}
	r.listing = res

	r.result.Strategy = string(res.Strategy)
	r.result.FellBack = res.FellBack
	r.result.Truncated = res.Truncated

	if res.FellBack {
		metrics.CursorFallbacksTotal.WithLabelValues(r.account.ID).Inc()
	}

	r.log.WithFields(logrus.Fields{
		"strategy":  res.Strategy,
		"listed":    len(res.IDs),
		"truncated": res.Truncated,
		"fell_back": res.FellBack,
	}).Info("listed candidate messages")

	return nil
}

// fetch retrieves envelopes in bounded concurrent batches. Rate limiting
// or an expired token stops the remaining fetches; other failures skip
// only the affected message. The returned slice keeps listing order with
// nil entries for skipped messages.
func (r *run) fetch(ctx context.Context) []*source.Envelope {
	ids := r.listing.IDs
	envelopes := make([]*source.Envelope, len(ids))
	errs := make([]error, len(ids))

	fetchCtx, stop := context.WithCancel(ctx)
	defer stop()

	var aborted atomic.Bool

	g, gctx := errgroup.WithContext(fetchCtx)
	g.SetLimit(r.engine.cfg.FetchConcurrency)
	for i, id := range ids {
		g.Go(func() error {
			if gctx.Err() != nil {
				errs[i] = gctx.Err()
				return nil
			}
			env, err := r.src.GetMessage(gctx, r.account, id)
			if err != nil {
				errs[i] = err
				if source.IsRateLimited(err) || source.IsAuthExpired(err) {
					if aborted.CompareAndSwap(false, true) {
						r.log.WithError(err).Warn("stopping fetches for this run")
					}
					stop()
				}
				return nil
			}
			envelopes[i] = env
			return nil
		})
	}
	_ = g.Wait()

	for i, err := range errs {
		if err == nil {
			continue
		}
		metrics.RecordMessage(r.account.ID, metrics.ResultFailed)
		if !source.IsMalformed(err) {
			r.retryable = true
		}
		if errors.Is(err, context.Canceled) && aborted.Load() {
			continue
		}
		r.result.AddError(fmt.Errorf("fetching %s: %w", ids[i], err))
		r.log.WithFields(logrus.Fields{
			"message_id": ids[i],
			"error":      err,
		}).Warn("message skipped")
	}

	return envelopes
}

// process decodes and normalizes envelopes in parallel. Both steps are
// pure, so any order is safe.
func (r *run) process(ctx context.Context, envelopes []*source.Envelope) []*model.EmailRecord {
	e := r.engine
	records := make([]*model.EmailRecord, len(envelopes))

	clients, err := e.store.ClientAddresses(ctx, r.account.ID)
	if err != nil {
		r.log.WithError(err).Warn("client address index unavailable")
	}

	now := e.now()
	builder := recordBuilder{
		account:    r.account,
		source:     r.src.Type(),
		clients:    clients,
		normalizer: e.normalizer,
		now:        now,
	}

	var g errgroup.Group
	g.SetLimit(e.cfg.FetchConcurrency)
	for i, env := range envelopes {
		if env == nil {
			continue
		}
		g.Go(func() error {
			rec := builder.build(env)
			records[i] = &rec
			return nil
		})
	}
	_ = g.Wait()

	return records
}

// persist writes records sequentially in listing order. The uniqueness
// constraint is the backstop against concurrent writers.
func (r *run) persist(ctx context.Context, records []*model.EmailRecord) {
	e := r.engine
	for _, rec := range records {
		if rec == nil {
			continue
		}
		if ctx.Err() != nil {
			r.retryable = true
			r.result.AddError(fmt.Errorf("persisting: %w", ctx.Err()))
			return
		}

		outcome, err := upsert(ctx, e.store, *rec)
		if err != nil {
			r.retryable = true
			metrics.RecordMessage(r.account.ID, metrics.ResultFailed)
			r.result.AddError(fmt.Errorf("storing %s: %w", rec.ProviderMessageID, err))
			r.log.WithFields(logrus.Fields{
				"message_id": rec.ProviderMessageID,
				"error":      err,
			}).Warn("message not stored")
			continue
		}

		r.result.Processed++
		switch outcome {
		case metrics.ResultStored:
			r.result.Stored++
		case metrics.ResultUpdated:
			r.result.Updated++
		}
		metrics.RecordMessage(r.account.ID, outcome)
	}
}

// upsert applies the dedup contract: insert when absent, otherwise update
// only when the mutable flags changed. An insert conflict means another
// writer won the race and falls through to the update path.
func upsert(ctx context.Context, st store.Store, rec model.EmailRecord) (string, error) {
	existing, err := st.GetEmail(ctx, rec.AccountID, rec.ProviderMessageID)
	if errors.Is(err, store.ErrNotFound) {
		err = st.InsertEmail(ctx, rec)
		if err == nil {
			return metrics.ResultStored, nil
		}
		if !store.IsConflict(err) {
			return "", err
		}
		existing, err = st.GetEmail(ctx, rec.AccountID, rec.ProviderMessageID)
	}
	if err != nil {
		return "", err
	}

	if existing.Flags.Equal(rec.Flags) {
		return metrics.ResultUnchanged, nil
	}
	if err := st.UpdateEmailFlags(ctx, rec.AccountID, rec.ProviderMessageID, rec.Flags, rec.UpdatedAt); err != nil {
		return "", err
	}
	return metrics.ResultUpdated, nil
}

// advanceCursor records the run start as LastSyncedAt unless a query
// listing is still unfinished. The history id is only moved when listing
// offered one and every listed message that could be persisted was.
func (r *run) advanceCursor(ctx context.Context) error {
	cursor := model.SyncCursor{
		AccountID:       r.account.ID,
		Folder:          r.account.MailFolder(),
		LastSyncedAt:    r.result.StartedAt,
		LastStoredCount: r.result.Stored,
		UpdatedAt:       r.engine.now(),
	}
	if r.listing != nil {
		if !r.retryable {
			cursor.HistoryID = r.listing.HistoryID
		}
		if r.listing.Strategy == source.StrategyQuery {
			r.carryPage(&cursor)
		}
	}

	// The run context may have expired; the cursor must still reflect
	// what was persisted.
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cursorWriteTimeout)
	defer cancel()

	if err := r.engine.store.PutCursor(wctx, cursor); err != nil {
		return fmt.Errorf("advancing cursor: %w", err)
	}
	return nil
}

// carryPage keeps a query listing that stopped at the item ceiling
// resumable. LastSyncedAt holds still until the remainder has been listed
// and then moves to the start of the run that began the listing, so mail
// that arrived in between is listed by the next run. A retryable failure
// keeps the page where it was so it is listed again.
func (r *run) carryPage(c *model.SyncCursor) {
	prev := r.listCursor
	startedAt := r.result.StartedAt
	if prev.Resuming() && !prev.PageStartedAt.IsZero() {
		startedAt = prev.PageStartedAt
	}

	switch {
	case r.retryable && prev.Resuming():
		c.LastSyncedAt = time.Time{}
		c.PageToken = prev.PageToken
		c.PageSince = prev.PageSince
		c.PageStartedAt = startedAt
	case r.retryable && r.listing.Truncated:
		c.LastSyncedAt = time.Time{}
	case r.listing.Truncated && r.listing.NextPageToken != "":
		c.LastSyncedAt = time.Time{}
		c.PageToken = r.listing.NextPageToken
		c.PageSince = r.listing.Since
		c.PageStartedAt = startedAt
	default:
		c.LastSyncedAt = startedAt
	}
}

func (r *run) notify(ctx context.Context) {
	if r.result.Stored == 0 {
		return
	}
	evt := events.SyncCompleted{
		EventID:    uuid.New().String(),
		AccountID:  r.account.ID,
		RunID:      r.result.RunID,
		Source:     r.src.Type(),
		Processed:  r.result.Processed,
		Stored:     r.result.Stored,
		Updated:    r.result.Updated,
		ErrorCount: len(r.result.Errors),
		OccurredAt: r.engine.now(),
	}
	if err := r.engine.notifier.NotifySyncCompleted(context.WithoutCancel(ctx), evt); err != nil {
		r.log.WithError(err).Warn("sync completed event failed")
	}
}

func (r *run) finish() model.SyncResult {
	r.transition(StateDone)
	r.result.FinishedAt = r.engine.now()

	outcome := metrics.OutcomeSuccess
	switch {
	case r.result.Failed:
		outcome = metrics.OutcomeFailed
	case len(r.result.Errors) > 0:
		outcome = metrics.OutcomePartial
	}
	metrics.RecordRun(r.account.ID, outcome, r.result.FinishedAt.Sub(r.result.StartedAt).Seconds())

	r.log.WithFields(logrus.Fields{
		"processed": r.result.Processed,
		"stored":    r.result.Stored,
		"updated":   r.result.Updated,
		"errors":    len(r.result.Errors),
		"outcome":   outcome,
	}).Info("account sync finished")

	return r.result
}
