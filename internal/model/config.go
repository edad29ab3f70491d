package model

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// OAuthConfig holds the OAuth2 client used for refresh-token exchanges.
type OAuthConfig struct {
	ClientID     string   `mapstructure:"client_id" yaml:"client_id"`
	ClientSecret string   `mapstructure:"client_secret" yaml:"client_secret"`
	TokenURL     string   `mapstructure:"token_url" yaml:"token_url"`
	Scopes       []string `mapstructure:"scopes" yaml:"scopes"`
}

// ProviderConfig points the message source client at the provider API.
type ProviderConfig struct {
	// Endpoint overrides the provider base URL (empty uses the default).
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// UserID is the provider user path segment, usually "me".
	UserID string `mapstructure:"user_id" yaml:"user_id"`
}

// SyncConfig bounds the work done by a single run.
type SyncConfig struct {
	MaxItemsPerRun    int           `mapstructure:"max_items_per_run" yaml:"max_items_per_run"`
	PageSize          int           `mapstructure:"page_size" yaml:"page_size"`
	FetchConcurrency  int           `mapstructure:"fetch_concurrency" yaml:"fetch_concurrency"`
	AccountWorkers    int           `mapstructure:"account_workers" yaml:"account_workers"`
	RunTimeout        time.Duration `mapstructure:"run_timeout" yaml:"run_timeout"`
	RefreshWindow     time.Duration `mapstructure:"refresh_window" yaml:"refresh_window"`
	MaxRetries        int           `mapstructure:"max_retries" yaml:"max_retries"`
	InitialBackoff    time.Duration `mapstructure:"initial_backoff" yaml:"initial_backoff"`
	MaxBackoff        time.Duration `mapstructure:"max_backoff" yaml:"max_backoff"`
	MaxBodyLength     int           `mapstructure:"max_body_length" yaml:"max_body_length"`
	InitialWindowDays int           `mapstructure:"initial_window_days" yaml:"initial_window_days"`
	Interval          time.Duration `mapstructure:"interval" yaml:"interval"`
}

// StoreConfig locates the SQLite database.
type StoreConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// EventsConfig configures the downstream "sync completed" publisher.
// An empty RedisAddr disables Redis publishing.
type EventsConfig struct {
	RedisAddr string `mapstructure:"redis_addr" yaml:"redis_addr"`
	Channel   string `mapstructure:"channel" yaml:"channel"`
}

// HTTPConfig configures the trigger surface. An empty APIKey disables
// bearer authentication.
type HTTPConfig struct {
	Addr   string `mapstructure:"addr" yaml:"addr"`
	APIKey string `mapstructure:"api_key" yaml:"api_key"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	Accounts []Account      `mapstructure:"accounts" yaml:"accounts"`
	OAuth    OAuthConfig    `mapstructure:"oauth" yaml:"oauth"`
	Provider ProviderConfig `mapstructure:"provider" yaml:"provider"`
	Sync     SyncConfig     `mapstructure:"sync" yaml:"sync"`
	Store    StoreConfig    `mapstructure:"store" yaml:"store"`
	Events   EventsConfig   `mapstructure:"events" yaml:"events"`
	HTTP     HTTPConfig     `mapstructure:"http" yaml:"http"`
	Log      LogConfig      `mapstructure:"log" yaml:"log"`
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/mailsync/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(home, ".config", "mailsync", "config.yaml")
}

// defaultDataPath returns the default SQLite database location.
func defaultDataPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "mailsync.db")
	}
	return filepath.Join(home, ".local", "share", "mailsync", "mailsync.db")
}

// DefaultSyncConfig returns the run bounds used when none are configured.
func DefaultSyncConfig() SyncConfig {
	return SyncConfig{
		MaxItemsPerRun:    500,
		PageSize:          100,
		FetchConcurrency:  10,
		AccountWorkers:    4,
		RunTimeout:        5 * time.Minute,
		RefreshWindow:     10 * time.Minute,
		MaxRetries:        4,
		InitialBackoff:    time.Second,
		MaxBackoff:        30 * time.Second,
		MaxBodyLength:     100000,
		InitialWindowDays: 30,
		Interval:          5 * time.Minute,
	}
}

// DefaultAppConfig returns a sensible default configuration.
func DefaultAppConfig() *AppConfig {
	return &AppConfig{
		Accounts: []Account{},
		OAuth: OAuthConfig{
			TokenURL: "https://oauth2.googleapis.com/token",
			Scopes:   []string{"https://www.googleapis.com/auth/gmail.readonly"},
		},
		Provider: ProviderConfig{UserID: "me"},
		Sync:     DefaultSyncConfig(),
		Store:    StoreConfig{Path: defaultDataPath()},
		Events:   EventsConfig{Channel: "mailsync:sync-completed"},
		HTTP:     HTTPConfig{Addr: "127.0.0.1:8085"},
		Log:      LogConfig{Level: "info", Format: "json"},
	}
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// If the file does not exist, it returns a default configuration.
func LoadConfig(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("MAILSYNC")
	v.AutomaticEnv()

	// Set defaults so missing keys resolve to sensible values.
	def := DefaultAppConfig()
	v.SetDefault("oauth.token_url", def.OAuth.TokenURL)
	v.SetDefault("oauth.scopes", def.OAuth.Scopes)
	v.SetDefault("provider.user_id", def.Provider.UserID)
	v.SetDefault("sync.max_items_per_run", def.Sync.MaxItemsPerRun)
	v.SetDefault("sync.page_size", def.Sync.PageSize)
	v.SetDefault("sync.fetch_concurrency", def.Sync.FetchConcurrency)
	v.SetDefault("sync.account_workers", def.Sync.AccountWorkers)
	v.SetDefault("sync.run_timeout", def.Sync.RunTimeout)
	v.SetDefault("sync.refresh_window", def.Sync.RefreshWindow)
	v.SetDefault("sync.max_retries", def.Sync.MaxRetries)
	v.SetDefault("sync.initial_backoff", def.Sync.InitialBackoff)
	v.SetDefault("sync.max_backoff", def.Sync.MaxBackoff)
	v.SetDefault("sync.max_body_length", def.Sync.MaxBodyLength)
	v.SetDefault("sync.initial_window_days", def.Sync.InitialWindowDays)
	v.SetDefault("sync.interval", def.Sync.Interval)
	v.SetDefault("store.path", def.Store.Path)
	v.SetDefault("events.channel", def.Events.Channel)
	v.SetDefault("http.addr", def.HTTP.Addr)
	v.SetDefault("log.level", def.Log.Level)
	v.SetDefault("log.format", def.Log.Format)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(*os.PathError); ok {
			return def, nil
		}
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return def, nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := DefaultAppConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	// Apply defaults for each account entry.
	for i := range cfg.Accounts {
		if cfg.Accounts[i].Provider == "" {
			cfg.Accounts[i].Provider = SourceTypeGmail
		}
		if cfg.Accounts[i].Folder == "" {
			cfg.Accounts[i].Folder = DefaultFolder
		}
		if cfg.Accounts[i].Provider == SourceTypeIMAP && cfg.Accounts[i].IMAPPort == "" {
			cfg.Accounts[i].IMAPPort = "993"
		}
		if !cfg.Accounts[i].Enabled {
			// Viper unmarshals missing bools as false; treat unset as true.
			key := fmt.Sprintf("accounts.%d.enabled", i)
			if !v.IsSet(key) {
				cfg.Accounts[i].Enabled = true
			}
		}
	}

	return cfg, nil
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("accounts", cfg.Accounts)
	v.Set("oauth", cfg.OAuth)
	v.Set("provider", cfg.Provider)
	v.Set("sync", cfg.Sync)
	v.Set("store", cfg.Store)
	v.Set("events", cfg.Events)
	v.Set("http", cfg.HTTP)
	v.Set("log", cfg.Log)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}

// FindAccount returns the configured account with the given ID.
func (c *AppConfig) FindAccount(id string) (Account, bool) {
	for _, a := range c.Accounts {
		if a.ID == id {
			return a, true
		}
	}
	return Account{}, false
}
