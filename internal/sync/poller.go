package sync

import (
	"context"
	gosync "sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nhle/inbox-sync/internal/model"
)

// Runner executes sync runs. *Engine implements it.
type Runner interface {
	RunAccount(ctx context.Context, accountID string, incremental bool) model.SyncResult
	RunAll(ctx context.Context) []model.SyncResult
	Accounts() []model.Account
}

// defaultInterval is used when no positive interval is configured.
const defaultInterval = 5 * time.Minute

// Poller runs RunAll on a fixed interval, accepts manual triggers, and
// tracks the last known status of every account.
type Poller struct {
	runner   Runner
	interval time.Duration
	log      logrus.FieldLogger

	statuses  map[string]*model.SyncStatus
	order     []string
	triggerCh chan struct{}
	stopCh    chan struct{}
	doneCh    chan struct{}
	mu        gosync.Mutex
	running   bool
}

// NewPoller creates a Poller for the runner's accounts.
func NewPoller(runner Runner, interval time.Duration, log logrus.FieldLogger) *Poller {
	if interval <= 0 {
		interval = defaultInterval
	}

	p := &Poller{
		runner:    runner,
		interval:  interval,
		log:       log,
		statuses:  make(map[string]*model.SyncStatus),
		triggerCh: make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
	for _, a := range runner.Accounts() {
		p.order = append(p.order, a.ID)
		p.statuses[a.ID] = &model.SyncStatus{AccountID: a.ID, State: model.SyncIdle}
	}
	return p
}

// Start launches the polling loop. It runs once immediately, then on each
// tick or trigger, until Stop is called or ctx is done.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.mu.Unlock()

	go p.loop(ctx)
}

// Stop halts the polling loop and waits for an in-flight run to finish.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopCh)
	p.mu.Unlock()

	<-p.doneCh
}

// RefreshAll requests an immediate run of all accounts. Requests made
// while one is already pending are coalesced.
func (p *Poller) RefreshAll() {
	select {
	case p.triggerCh <- struct{}{}:
	default:
		// A run is already pending.
	}
}

func (p *Poller) loop(ctx context.Context) {
	defer close(p.doneCh)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.RunAll(ctx)

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.RunAll(ctx)
		case <-p.triggerCh:
			p.RunAll(ctx)
		}
	}
}

// Accounts returns the runner's configured accounts.
func (p *Poller) Accounts() []model.Account { return p.runner.Accounts() }

// RunAccount runs one account and records its status.
func (p *Poller) RunAccount(ctx context.Context, accountID string, incremental bool) model.SyncResult {
	p.setRunning(accountID)
	res := p.runner.RunAccount(ctx, accountID, incremental)
	p.record(res)
	return res
}

// RunAll runs every enabled account and records their statuses.
func (p *Poller) RunAll(ctx context.Context) []model.SyncResult {
	for _, a := range p.runner.Accounts() {
		if a.Enabled {
			p.setRunning(a.ID)
		}
	}

	results := p.runner.RunAll(ctx)
	for _, res := range results {
		p.record(res)
	}

	failed := 0
	for _, res := range results {
		if res.Failed {
			failed++
		}
	}
	p.log.WithFields(logrus.Fields{
		"accounts": len(results),
		"failed":   failed,
	}).Info("sync pass complete")

	return results
}

// GetStatuses returns the status of every configured account in
// configuration order.
func (p *Poller) GetStatuses() []model.SyncStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	statuses := make([]model.SyncStatus, 0, len(p.order))
	for _, id := range p.order {
		statuses = append(statuses, *p.statuses[id])
	}
	return statuses
}

func (p *Poller) setRunning(accountID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if status, ok := p.statuses[accountID]; ok {
		status.State = model.SyncRunning
	}
}

// record stores the outcome of a run. Unknown accounts are ignored.
func (p *Poller) record(res model.SyncResult) {
	p.mu.Lock()
	defer p.mu.Unlock()

	status, ok := p.statuses[res.AccountID]
	if !ok {
		return
	}

	r := res
	status.LastResult = &r
	if res.Failed {
		status.State = model.SyncError
		if len(res.Errors) > 0 {
			status.LastError = res.Errors[len(res.Errors)-1]
		}
		return
	}

	status.State = model.SyncIdle
	status.LastError = ""
	status.LastSync = res.FinishedAt
}
