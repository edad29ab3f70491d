package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/nhle/inbox-sync/internal/auth"
	"github.com/nhle/inbox-sync/internal/credential"
	"github.com/nhle/inbox-sync/internal/events"
	"github.com/nhle/inbox-sync/internal/model"
	"github.com/nhle/inbox-sync/internal/source/email"
	"github.com/nhle/inbox-sync/internal/source/gmail"
	"github.com/nhle/inbox-sync/internal/store"
	"github.com/nhle/inbox-sync/internal/sync"
)

// components holds everything a command needs. close releases the store
// and the Redis connection.
type components struct {
	cfg    *model.AppConfig
	log    *logrus.Logger
	store  *store.SQLiteStore
	creds  *credential.Store
	engine *sync.Engine
	poller *sync.Poller
	redis  *redis.Client
}

func openStore(path string) (*store.SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
	}
	return store.NewSQLiteStore(path)
}

func openCredentials() (*credential.Store, error) {
	ring, err := credential.Open()
	if err != nil {
		return nil, err
	}
	return credential.NewStore(ring), nil
}

func build(cfg *model.AppConfig, log *logrus.Logger) (*components, error) {
	st, err := openStore(cfg.Store.Path)
	if err != nil {
		return nil, err
	}

	creds, err := openCredentials()
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	supervisor := auth.NewSupervisor(cfg.OAuth, creds, log,
		auth.WithRefreshWindow(cfg.Sync.RefreshWindow))

	sinks := []events.Notifier{events.NewStoreNotifier(st)}

	var rdb *redis.Client
	if cfg.Events.RedisAddr != "" {
		rdb = events.NewRedisClient(cfg.Events.RedisAddr)
		sinks = append(sinks, events.NewRedisNotifier(rdb, cfg.Events.Channel))
	}

	engine := sync.NewEngine(cfg.Sync, cfg.Accounts, st, log,
		sync.WithSource(gmail.NewClient(gmail.ConfigFrom(cfg.Provider, cfg.Sync), supervisor, log)),
		sync.WithSource(email.NewAdapter(creds, cfg.Sync, log)),
		sync.WithTokenChecker(supervisor),
		sync.WithNotifier(events.NewMulti(log, sinks...)),
	)

	return &components{
		cfg:    cfg,
		log:    log,
		store:  st,
		creds:  creds,
		engine: engine,
		poller: sync.NewPoller(engine, cfg.Sync.Interval, log),
		redis:  rdb,
	}, nil
}

func (c *components) close() {
	if c.redis != nil {
		if err := c.redis.Close(); err != nil {
			c.log.WithError(err).Warn("closing redis client")
		}
	}
	if err := c.store.Close(); err != nil {
		c.log.WithError(err).Warn("closing store")
	}
}
