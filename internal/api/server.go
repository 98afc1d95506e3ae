// Package api exposes accounts, messages and sessions over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/nhle/mailsift/internal/account"
	"github.com/nhle/mailsift/internal/model"
	"github.com/nhle/mailsift/internal/store"
	"github.com/nhle/mailsift/internal/sync"
)

// Accounts is the account registry used by the account routes.
type Accounts interface {
	List(ctx context.Context) ([]model.Account, error)
	Add(ctx context.Context, p model.AccountParams) (*model.Account, error)
	Remove(ctx context.Context, id int64) error
}

// Sessions is the session manager used to start and stop ingestion when
// accounts change.
type Sessions interface {
	AddOne(ctx context.Context, a model.Account) error
	RemoveOne(ctx context.Context, id int64) error
	Status() []sync.Status
}

// Categorizer runs classification for one stored message.
type Categorizer interface {
	Categorize(ctx context.Context, id int64) (*model.Message, error)
}

// Server routes HTTP requests. Sessions may be nil, in which case account
// changes do not touch any mailbox connection.
type Server struct {
	accounts Accounts
	sessions Sessions
	messages store.MessageStore
	triage   Categorizer
	logger   *slog.Logger
	mux      *http.ServeMux
}

// NewServer builds the route table.
func NewServer(
	accounts Accounts,
	sessions Sessions,
	messages store.MessageStore,
	triage Categorizer,
	logger *slog.Logger,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		accounts: accounts,
		sessions: sessions,
		messages: messages,
		triage:   triage,
		logger:   logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/accounts", s.handleListAccounts)
	mux.HandleFunc("POST /api/accounts", s.handleAddAccount)
	mux.HandleFunc("DELETE /api/accounts/{id}", s.handleRemoveAccount)
	mux.HandleFunc("GET /api/emails", s.handleListEmails)
	mux.HandleFunc("GET /api/emails/{id}", s.handleGetEmail)
	mux.HandleFunc("POST /api/emails/{id}/categorize", s.handleCategorize)
	mux.HandleFunc("GET /api/sessions", s.handleSessions)
	s.mux = mux
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	s.mux.ServeHTTP(rec, r)

	if strings.HasPrefix(r.URL.Path, "/api") {
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start).Round(time.Millisecond),
		)
	}
}

// statusRecorder captures the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.accounts.List(r.Context())
	if err != nil {
		s.respondServerError(w, "listing accounts", err)
		return
	}
	s.respondJSON(w, http.StatusOK, accounts)
}

type addAccountRequest struct {
	Host     string      `json:"host"`
	Port     json.Number `json:"port"`
	Username string      `json:"username"`
	Password string      `json:"password"`
}

type accountResponse struct {
	*model.Account
	SessionError string `json:"session_error,omitempty"`
}

func (s *Server) handleAddAccount(w http.ResponseWriter, r *http.Request) {
	var req addAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	a, err := s.accounts.Add(r.Context(), model.AccountParams{
		Host:     req.Host,
		Port:     req.Port.String(),
		Username: req.Username,
		Password: req.Password,
	})
	if errors.Is(err, account.ErrInvalid) {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		s.respondServerError(w, "adding account", err)
		return
	}

	resp := accountResponse{Account: a}
	if s.sessions != nil {
		if err := s.sessions.AddOne(r.Context(), *a); err != nil {
			resp.SessionError = err.Error()
		}
	}
	s.respondJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleRemoveAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}

	if s.sessions != nil {
		if err := s.sessions.RemoveOne(r.Context(), id); err != nil {
			s.logger.Warn("disconnecting removed account", "account_id", id, "error", err)
		}
	}
	if err := s.accounts.Remove(r.Context(), id); err != nil {
		s.respondServerError(w, "removing account", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListEmails(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filter store.MessageFilter

	if v := q.Get("accountId"); v != "" {
		filter.AccountID = &v
	}
	if v := q.Get("folder"); v != "" {
		filter.Folder = &v
	}
	if v := q.Get("category"); v != "" {
		c, err := model.ParseCategory(v)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		filter.Category = &c
	}
	if v := q.Get("search"); v != "" {
		filter.Query = &v
	}
	for name, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.respondError(w, http.StatusBadRequest, name+" must be a non-negative integer")
			return
		}
		*dst = n
	}

	msgs, err := s.messages.ListMessages(r.Context(), filter)
	if err != nil {
		s.respondServerError(w, "listing emails", err)
		return
	}
	s.respondJSON(w, http.StatusOK, msgs)
}

func (s *Server) handleGetEmail(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}

	m, err := s.messages.GetMessage(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.respondError(w, http.StatusNotFound, "Email not found")
		return
	}
	if err != nil {
		s.respondServerError(w, "getting email", err)
		return
	}
	s.respondJSON(w, http.StatusOK, m)
}

func (s *Server) handleCategorize(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}

	m, err := s.triage.Categorize(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.respondError(w, http.StatusNotFound, "Email not found")
		return
	}
	if err != nil {
		s.respondServerError(w, "categorizing email", err)
		return
	}
	s.respondJSON(w, http.StatusOK, m)
}

func (s *Server) handleSessions(w http.ResponseWriter, _ *http.Request) {
	statuses := []sync.Status{}
	if s.sessions != nil {
		statuses = s.sessions.Status()
	}
	s.respondJSON(w, http.StatusOK, statuses)
}

// pathID parses the {id} path segment, answering 400 when it is not a
// positive integer.
func (s *Server) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		s.respondError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}

func (s *Server) respondServerError(w http.ResponseWriter, op string, err error) {
	s.logger.Error(op, "error", err)
	s.respondError(w, http.StatusInternalServerError, "Internal Server Error")
}
