package sync

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/inbox-sync/internal/model"
)

type fakeRunner struct {
	accounts []model.Account
	fail     map[string]bool
	passes   atomic.Int32
}

func (f *fakeRunner) Accounts() []model.Account { return f.accounts }

func (f *fakeRunner) RunAccount(_ context.Context, accountID string, _ bool) model.SyncResult {
	res := model.SyncResult{AccountID: accountID, Errors: []string{}, FinishedAt: time.Now()}
	if f.fail[accountID] {
		res.Failed = true
		res.Errors = append(res.Errors, "auth expired")
		return res
	}
	res.Stored = 1
	return res
}

func (f *fakeRunner) RunAll(ctx context.Context) []model.SyncResult {
	f.passes.Add(1)
	var out []model.SyncResult
	for _, a := range f.accounts {
		if a.Enabled {
			out = append(out, f.RunAccount(ctx, a.ID, true))
		}
	}
	return out
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		accounts: []model.Account{
			{ID: "a1", Enabled: true},
			{ID: "a2", Enabled: true},
			{ID: "a3", Enabled: false},
		},
		fail: map[string]bool{"a2": true},
	}
}

func TestPollerRecordsStatuses(t *testing.T) {
	log, _ := test.NewNullLogger()
	p := NewPoller(newFakeRunner(), time.Hour, log)

	results := p.RunAll(context.Background())
	require.Len(t, results, 2)

	statuses := p.GetStatuses()
	require.Len(t, statuses, 3)

	assert.Equal(t, "a1", statuses[0].AccountID)
	assert.Equal(t, model.SyncIdle, statuses[0].State)
	assert.False(t, statuses[0].LastSync.IsZero())
	require.NotNil(t, statuses[0].LastResult)
	assert.Equal(t, 1, statuses[0].LastResult.Stored)

	assert.Equal(t, model.SyncError, statuses[1].State)
	assert.Equal(t, "auth expired", statuses[1].LastError)

	assert.Equal(t, model.SyncIdle, statuses[2].State)
	assert.Nil(t, statuses[2].LastResult)
}

func TestPollerRunAccountClearsError(t *testing.T) {
	log, _ := test.NewNullLogger()
	runner := newFakeRunner()
	p := NewPoller(runner, time.Hour, log)

	p.RunAccount(context.Background(), "a2", true)
	assert.Equal(t, model.SyncError, p.GetStatuses()[1].State)

	runner.fail["a2"] = false
	res := p.RunAccount(context.Background(), "a2", false)
	assert.False(t, res.Failed)

	status := p.GetStatuses()[1]
	assert.Equal(t, model.SyncIdle, status.State)
	assert.Empty(t, status.LastError)
}

func TestPollerStartRunsImmediatelyAndOnTrigger(t *testing.T) {
	log, _ := test.NewNullLogger()
	runner := newFakeRunner()
	p := NewPoller(runner, time.Hour, log)

	p.Start(context.Background())
	assert.Eventually(t, func() bool { return runner.passes.Load() == 1 }, time.Second, 5*time.Millisecond)

	p.RefreshAll()
	assert.Eventually(t, func() bool { return runner.passes.Load() == 2 }, time.Second, 5*time.Millisecond)

	p.Stop()
	p.Stop()
}

func TestPollerStopsWithContext(t *testing.T) {
	log, _ := test.NewNullLogger()
	runner := newFakeRunner()
	p := NewPoller(runner, 10*time.Millisecond, log)

	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)
	assert.Eventually(t, func() bool { return runner.passes.Load() >= 2 }, time.Second, 5*time.Millisecond)

	cancel()
	p.Stop()
	after := runner.passes.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, runner.passes.Load())
}
