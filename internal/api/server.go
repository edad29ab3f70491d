// Package api exposes the sync trigger surface over HTTP.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/nhle/inbox-sync/internal/model"
)

// Trigger runs syncs and reports account status. *sync.Poller
// implements it.
type Trigger interface {
	Accounts() []model.Account
	RunAccount(ctx context.Context, accountID string, incremental bool) model.SyncResult
	RunAll(ctx context.Context) []model.SyncResult
	GetStatuses() []model.SyncStatus
}

// Reader is the read side of the store used by the API.
type Reader interface {
	ListEmails(ctx context.Context, accountID string, limit int) ([]model.EmailRecord, error)
	GetUnreadNotifications(ctx context.Context) ([]model.Notification, error)
	MarkNotificationRead(ctx context.Context, id string) error
	Ping(ctx context.Context) error
}

const (
	defaultEmailLimit = 50
	maxEmailLimit     = 500
)

// Server serves the HTTP API.
type Server struct {
	addr    string
	apiKey  string
	trigger Trigger
	store   Reader
	log     logrus.FieldLogger
	server  *http.Server
}

// New creates a Server from the HTTP settings.
func New(cfg model.HTTPConfig, trigger Trigger, store Reader, log logrus.FieldLogger) *Server {
	return &Server{
		addr:    cfg.Addr,
		apiKey:  cfg.APIKey,
		trigger: trigger,
		store:   store,
		log:     log,
	}
}

// Start serves until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.log.Info("shutting down HTTP API server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.log.WithError(err).Error("shutting down HTTP API server")
		}
	}()

	s.log.WithField("addr", s.addr).Info("starting HTTP API server")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()
	router.Use(s.loggingMiddleware)

	router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	v1 := router.PathPrefix("/api/v1").Subrouter()
	v1.Use(s.authMiddleware)

	v1.HandleFunc("/sync", s.handleSyncAll).Methods(http.MethodPost)
	v1.HandleFunc("/sync/{account}", s.handleSyncAccount).Methods(http.MethodPost)
	v1.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	v1.HandleFunc("/accounts/{account}/emails", s.handleListEmails).Methods(http.MethodGet)
	v1.HandleFunc("/notifications", s.handleNotifications).Methods(http.MethodGet)
	v1.HandleFunc("/notifications/{id}/read", s.handleMarkRead).Methods(http.MethodPost)

	return router
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"remote":   r.RemoteAddr,
			"duration": time.Since(start).String(),
		}).Debug("http request")
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey == "" {
			next.ServeHTTP(w, r)
			return
		}

		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.apiKey)) != 1 {
			s.writeError(w, http.StatusUnauthorized, "invalid or missing API key")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) hasAccount(id string) bool {
	for _, a := range s.trigger.Accounts() {
		if a.ID == id {
			return true
		}
	}
	return false
}

func (s *Server) handleSyncAccount(w http.ResponseWriter, r *http.Request) {
	accountID := mux.Vars(r)["account"]
	if !s.hasAccount(accountID) {
		s.writeError(w, http.StatusNotFound, "unknown account "+accountID)
		return
	}

	incremental := true
	if raw := r.URL.Query().Get("incremental"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "incremental must be true or false")
			return
		}
		incremental = v
	}

	s.writeJSON(w, http.StatusOK, s.trigger.RunAccount(r.Context(), accountID, incremental))
}

func (s *Server) handleSyncAll(w http.ResponseWriter, r *http.Request) {
	results := s.trigger.RunAll(r.Context())
	if results == nil {
		results = []model.SyncResult{}
	}
	s.writeJSON(w, http.StatusOK, results)
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.trigger.GetStatuses())
}

func (s *Server) handleListEmails(w http.ResponseWriter, r *http.Request) {
	accountID := mux.Vars(r)["account"]
	if !s.hasAccount(accountID) {
		s.writeError(w, http.StatusNotFound, "unknown account "+accountID)
		return
	}

	limit := defaultEmailLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(v, maxEmailLimit)
	}

	records, err := s.store.ListEmails(r.Context(), accountID, limit)
	if err != nil {
		s.log.WithError(err).WithField("account", accountID).Error("listing emails")
		s.writeError(w, http.StatusInternalServerError, "listing emails failed")
		return
	}
	if records == nil {
		records = []model.EmailRecord{}
	}
	s.writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	notifications, err := s.store.GetUnreadNotifications(r.Context())
	if err != nil {
		s.log.WithError(err).Error("listing notifications")
		s.writeError(w, http.StatusInternalServerError, "listing notifications failed")
		return
	}
	if notifications == nil {
		notifications = []model.Notification{}
	}
	s.writeJSON(w, http.StatusOK, notifications)
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.store.MarkNotificationRead(r.Context(), id); err != nil {
		s.log.WithError(err).WithField("notification", id).Error("marking notification read")
		s.writeError(w, http.StatusInternalServerError, "marking notification failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.WithError(err).Error("encoding JSON response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
