// Package fakeserver is an in-memory maintenance server implementing the
// sync API. It is the counterpart used by end-to-end tests and for running
// the client locally without the real backend.
//
// Routes:
//
//	GET  /sync/pull?since=<RFC3339>  → changes since the watermark
//	POST /sync/push                  → per-record acknowledgements
//
// Both routes require a bearer token issued by IssueToken.
package fakeserver

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/maintkeeper/internal/client/models"
	"github.com/dmitrijs2005/maintkeeper/internal/common"
	"github.com/dmitrijs2005/maintkeeper/internal/logging"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type ctxKey string

const userIDKey ctxKey = "userID"

type Server struct {
	store  *Store
	secret []byte
	log    logging.Logger

	mu       sync.Mutex
	failures []int
	pulls    int
	pushes   int
	lastPush *models.PushRequest
}

type Option func(*Server)

func WithLogger(log logging.Logger) Option {
	return func(s *Server) {
		s.log = log
	}
}

func New(store *Store, secret []byte, opts ...Option) *Server {
	s := &Server{store: store, secret: secret, log: logging.Nop{}}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) Store() *Store {
	return s.store
}

// IssueToken returns a bearer token for userID valid for ttl.
func (s *Server) IssueToken(userID string, ttl time.Duration) (string, error) {
	return GenerateToken(userID, s.secret, ttl)
}

// FailNext makes the next len(statuses) sync requests fail with the given
// statuses, in order.
func (s *Server) FailNext(statuses ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, statuses...)
}

// Pulls and Pushes count the requests that reached the handlers.
func (s *Server) Pulls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pulls
}

func (s *Server) Pushes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pushes
}

// LastPush returns the body of the most recent push.
func (s *Server) LastPush() *models.PushRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastPush
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Route("/sync", func(r chi.Router) {
		r.Use(s.injectFailures)
		r.Use(s.authenticate)

		r.Get("/pull", s.pull)
		r.With(middleware.AllowContentType("application/json")).Post("/push", s.push)
	})

	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.log.Debug(r.Context(), "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (s *Server) injectFailures(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		status := 0
		if len(s.failures) > 0 {
			status = s.failures[0]
			s.failures = s.failures[1:]
		}
		s.mu.Unlock()

		if status != 0 {
			http.Error(w, http.StatusText(status), status)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get(common.AuthorizationHeaderName)
		token, ok := strings.CutPrefix(header, common.BearerPrefix)
		if !ok || token == "" {
			http.Error(w, "missing token", http.StatusUnauthorized)
			return
		}

		userID, err := GetUserIDFromToken(token, s.secret)
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// UserIDFromContext returns the authenticated user of a request.
func UserIDFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(userIDKey).(string); ok {
		return s
	}
	return ""
}

func (s *Server) pull(w http.ResponseWriter, r *http.Request) {
	var since *time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			http.Error(w, "invalid since", http.StatusBadRequest)
			return
		}
		since = &t
	}

	s.mu.Lock()
	s.pulls++
	s.mu.Unlock()

	writeJSON(w, s.store.Changes(since))
}

func (s *Server) push(w http.ResponseWriter, r *http.Request) {
	var req models.PushRequest
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.pushes++
	s.lastPush = &req
	s.mu.Unlock()

	resp := s.store.Apply(&req)
	s.log.Info(r.Context(), "push applied",
		"user_id", UserIDFromContext(r.Context()),
		"records", len(req.MaintenanceRecords)+len(req.AuditTaskCompletions),
		"deletions", len(req.DeletedMaintenanceRecords)+len(req.DeletedAuditTaskCompletions))

	writeJSON(w, resp)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
