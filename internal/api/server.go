// Package api exposes analysis, simulated trading and follow-up questions
// over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"token-analyst/internal/aggregator"
	"token-analyst/internal/observability"
	"token-analyst/internal/report"
	"token-analyst/internal/session"
	"token-analyst/internal/trading"
)

// Analyzer runs the adapter fan-out.
type Analyzer interface {
	Aggregate(ctx context.Context, identifier string) *aggregator.State
}

// Reporter writes reports and answers questions about them.
type Reporter interface {
	Synthesize(ctx context.Context, st *aggregator.State) *report.Report
	Answer(ctx context.Context, r *report.Report, history []report.Exchange, question string) string
}

// Options configures a Server.
type Options struct {
	Analyzer       Analyzer
	Reporter       Reporter
	Store          session.Store
	Simulator      *trading.Simulator
	FrontendOrigin string
	RequestTimeout time.Duration
}

// Server holds the HTTP handlers.
type Server struct {
	analyzer Analyzer
	reporter Reporter
	store    session.Store
	sim      *trading.Simulator
	origin   string
	timeout  time.Duration
	now      func() time.Time
	logger   zerolog.Logger
}

// NewServer creates a Server.
func NewServer(opts Options) *Server {
	sim := opts.Simulator
	if sim == nil {
		sim = trading.NewSimulator(0)
	}
	origin := opts.FrontendOrigin
	if origin == "" {
		origin = "*"
	}
	return &Server{
		analyzer: opts.Analyzer,
		reporter: opts.Reporter,
		store:    opts.Store,
		sim:      sim,
		origin:   origin,
		timeout:  opts.RequestTimeout,
		now:      time.Now,
		logger:   log.With().Str("component", "api").Logger(),
	}
}

// Routes returns the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(Recover(s.logger))
	r.Use(Logger(s.logger))
	r.Use(Metrics())
	r.Use(CORS(s.origin))

	r.Get("/healthz", s.health)
	r.Method(http.MethodGet, "/metrics", observability.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(Timeout(s.timeout))
		r.Post("/analyze", s.analyze)
		r.Post("/trade", s.trade)
		r.Post("/ask", s.ask)
		r.Post("/reset", s.reset)
		r.Get("/sessions/{id}", s.getSession)
	})
	return r
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type analyzeRequest struct {
	SessionID string `json:"sessionId"`
	Query     string `json:"query"`
}

type analyzeResponse struct {
	SessionID string            `json:"sessionId"`
	Report    *report.Report    `json:"report"`
	Data      *aggregator.State `json:"data"`
}

func (s *Server) analyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query required")
		return
	}

	ctx := r.Context()
	sess, err := session.GetOrCreate(ctx, s.store, req.SessionID)
	if err != nil {
		s.internal(w, "load session", err)
		return
	}

	st := s.analyzer.Aggregate(ctx, req.Query)
	rep := s.reporter.Synthesize(ctx, st)

	sess.LastQuery = req.Query
	sess.LastReport = rep
	sess.UpdatedAt = s.now().UTC()
	if err := s.store.Save(ctx, sess); err != nil {
		s.internal(w, "save session", err)
		return
	}

	writeJSON(w, http.StatusOK, analyzeResponse{SessionID: sess.ID, Report: rep, Data: st})
}

type tradeRequest struct {
	SessionID string `json:"sessionId"`
	Decision  string `json:"decision"` // "yes" or "no"
}

type tradeResponse struct {
	SessionID string        `json:"sessionId"`
	Message   string        `json:"message"`
	Trade     trading.Trade `json:"trade"`
}

func (s *Server) trade(w http.ResponseWriter, r *http.Request) {
	var req tradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	yes, ok := parseDecision(req.Decision)
	if !ok {
		writeError(w, http.StatusBadRequest, `decision must be "yes" or "no"`)
		return
	}

	sess, ok := s.loadSession(r.Context(), w, req.SessionID)
	if !ok {
		return
	}
	if sess.LastReport == nil {
		writeError(w, http.StatusConflict, trading.ErrNoReport.Error())
		return
	}

	msg, t := s.sim.Execute(sess, yes)
	if err := s.store.Save(r.Context(), sess); err != nil {
		s.internal(w, "save session", err)
		return
	}
	writeJSON(w, http.StatusOK, tradeResponse{SessionID: sess.ID, Message: msg, Trade: t})
}

type askRequest struct {
	SessionID string `json:"sessionId"`
	Question  string `json:"question"`
}

type askResponse struct {
	SessionID string `json:"sessionId"`
	Answer    string `json:"answer"`
}

func (s *Server) ask(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Question = strings.TrimSpace(req.Question)
	if req.Question == "" {
		writeError(w, http.StatusBadRequest, "question required")
		return
	}

	sess, ok := s.loadSession(r.Context(), w, req.SessionID)
	if !ok {
		return
	}

	answer := s.reporter.Answer(r.Context(), sess.LastReport, sess.History, req.Question)
	now := s.now().UTC()
	sess.History = append(sess.History, report.Exchange{Question: req.Question, Answer: answer, AskedAt: now})
	sess.UpdatedAt = now
	if err := s.store.Save(r.Context(), sess); err != nil {
		s.internal(w, "save session", err)
		return
	}
	writeJSON(w, http.StatusOK, askResponse{SessionID: sess.ID, Answer: answer})
}

type resetRequest struct {
	SessionID string `json:"sessionId"`
}

// reset forgets the session. Unknown sessions are already reset.
func (s *Server) reset(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "sessionId required")
		return
	}
	if err := s.store.Delete(r.Context(), req.SessionID); err != nil && !errors.Is(err, session.ErrNotFound) {
		s.internal(w, "delete session", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessionId": req.SessionID, "reset": true})
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.loadSession(r.Context(), w, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// loadSession writes 400/404/500 itself and reports whether to continue.
func (s *Server) loadSession(ctx context.Context, w http.ResponseWriter, id string) (*session.Session, bool) {
	if id == "" {
		writeError(w, http.StatusBadRequest, "sessionId required")
		return nil, false
	}
	sess, err := s.store.Get(ctx, id)
	switch {
	case errors.Is(err, session.ErrNotFound):
		writeError(w, http.StatusNotFound, "session not found")
		return nil, false
	case err != nil:
		s.internal(w, "load session", err)
		return nil, false
	}
	return sess, true
}

func (s *Server) internal(w http.ResponseWriter, op string, err error) {
	s.logger.Error().Err(err).Str("op", op).Msg("request failed")
	writeError(w, http.StatusInternalServerError, op+" failed")
}

func parseDecision(v string) (yes, ok bool) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "yes", "y", "buy", "true":
		return true, true
	case "no", "n", "skip", "false":
		return false, true
	}
	return false, false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
