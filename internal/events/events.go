// Package events emits the downstream "sync completed" event. Emission is
// best-effort: sinks report errors, callers log and continue.
package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nhle/inbox-sync/internal/metrics"
	"github.com/nhle/inbox-sync/internal/model"
)

// SyncCompleted is published after a run that stored new records.
type SyncCompleted struct {
	EventID    string           `json:"event_id"`
	AccountID  string           `json:"account_id"`
	RunID      string           `json:"run_id"`
	Source     model.SourceType `json:"source"`
	Processed  int              `json:"processed"`
	Stored     int              `json:"stored"`
	Updated    int              `json:"updated"`
	ErrorCount int              `json:"error_count"`
	OccurredAt time.Time        `json:"occurred_at"`
}

// Notifier delivers SyncCompleted events.
type Notifier interface {
	Name() string
	NotifySyncCompleted(ctx context.Context, evt SyncCompleted) error
}

// Multi fans one event out to several notifiers. Every sink is attempted;
// failures are logged and joined.
type Multi struct {
	sinks []Notifier
	log   logrus.FieldLogger
}

// NewMulti creates a fan-out notifier. Nil sinks are skipped.
func NewMulti(log logrus.FieldLogger, sinks ...Notifier) *Multi {
	m := &Multi{log: log}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

// Name identifies the fan-out.
func (m *Multi) Name() string { return "multi" }

// NotifySyncCompleted delivers evt to every sink.
func (m *Multi) NotifySyncCompleted(ctx context.Context, evt SyncCompleted) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.NotifySyncCompleted(ctx, evt); err != nil {
			metrics.NotificationsTotal.WithLabelValues(s.Name(), "error").Inc()
			m.log.WithFields(logrus.Fields{
				"sink":    s.Name(),
				"account": evt.AccountID,
				"error":   err,
			}).Warn("sync completed event not delivered")
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		metrics.NotificationsTotal.WithLabelValues(s.Name(), "ok").Inc()
	}
	return errors.Join(errs...)
}

// Nop discards events.
type Nop struct{}

func (Nop) Name() string { return "nop" }

func (Nop) NotifySyncCompleted(context.Context, SyncCompleted) error { return nil }
