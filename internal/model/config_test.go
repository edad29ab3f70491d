package model

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	yamlContent := `accounts:
  - id: agent-1
    email: agent@x.com
  - id: agent-2
    email: agent2@x.com
    provider: imap
    imap_host: imap.x.com
    enabled: false
oauth:
  client_id: cid
  client_secret: secret
sync:
  max_items_per_run: 50
  run_timeout: 90s
events:
  redis_addr: localhost:6379
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yamlContent), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	require.Len(t, cfg.Accounts, 2)
	assert.Equal(t, "agent-1", cfg.Accounts[0].ID)
	assert.Equal(t, SourceTypeGmail, cfg.Accounts[0].Provider)
	assert.Equal(t, DefaultFolder, cfg.Accounts[0].Folder)
	assert.True(t, cfg.Accounts[0].Enabled, "unset enabled defaults to true")

	assert.Equal(t, SourceTypeIMAP, cfg.Accounts[1].Provider)
	assert.Equal(t, "993", cfg.Accounts[1].IMAPPort)
	assert.False(t, cfg.Accounts[1].Enabled)

	assert.Equal(t, "cid", cfg.OAuth.ClientID)
	assert.Equal(t, "https://oauth2.googleapis.com/token", cfg.OAuth.TokenURL)
	assert.Equal(t, 50, cfg.Sync.MaxItemsPerRun)
	assert.Equal(t, 90*time.Second, cfg.Sync.RunTimeout)
	assert.Equal(t, 10, cfg.Sync.FetchConcurrency)
	assert.Equal(t, 10*time.Minute, cfg.Sync.RefreshWindow)
	assert.Equal(t, "localhost:6379", cfg.Events.RedisAddr)
	assert.Equal(t, "mailsync:sync-completed", cfg.Events.Channel)
}

func TestLoadConfigMissingFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Empty(t, cfg.Accounts)
	assert.Equal(t, DefaultSyncConfig(), cfg.Sync)
}

func TestFindAccount(t *testing.T) {
	cfg := &AppConfig{Accounts: []Account{{ID: "a"}, {ID: "b", Email: "b@x.com"}}}

	acct, ok := cfg.FindAccount("b")
	require.True(t, ok)
	assert.Equal(t, "b@x.com", acct.Email)

	_, ok = cfg.FindAccount("c")
	assert.False(t, ok)
}

func TestEmailFlagsEqual(t *testing.T) {
	base := EmailFlags{Labels: []string{"INBOX", "UNREAD"}, IsRead: false}

	assert.True(t, base.Equal(EmailFlags{Labels: []string{"INBOX", "UNREAD"}}))
	assert.False(t, base.Equal(EmailFlags{Labels: []string{"INBOX"}}))
	assert.False(t, base.Equal(EmailFlags{Labels: []string{"INBOX", "UNREAD"}, IsStarred: true}))
}
