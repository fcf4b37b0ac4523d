package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/trizel-monitor/internal/archive"
	"github.com/JakeFAU/trizel-monitor/internal/daykey"
	"github.com/JakeFAU/trizel-monitor/internal/metrics"
	"github.com/JakeFAU/trizel-monitor/internal/monitor"
)

const (
	defaultLedgerLimit = 100
	maxLedgerLimit     = 1000
	requestTimeout     = 60 * time.Second
)

// Server wires HTTP handlers to the archive and the ledger.
type Server struct {
	router  chi.Router
	archive *archive.Archive
	ledger  monitor.Ledger
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes. ledger may be nil.
func NewServer(arch *archive.Archive, ledger monitor.Ledger, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		archive: arch,
		ledger:  ledger,
		logger:  logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(requestTimeout))

	r.Get("/healthz", s.healthz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/days", s.listDays)
		r.Route("/days/{day}", func(r chi.Router) {
			r.Get("/snapshot", s.getSnapshot)
			r.Get("/manifest", s.getManifest)
			r.Get("/verify", s.verifyDay)
		})
		r.Get("/ledger", s.listLedger)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) listDays(w http.ResponseWriter, r *http.Request) {
	days, err := s.archive.Days(r.Context())
	if err != nil {
		s.logger.Error("list days failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to list days")
		return
	}
	out := make([]string, 0, len(days))
	for _, day := range days {
		out = append(out, day.String())
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"days": out})
}

func (s *Server) getSnapshot(w http.ResponseWriter, r *http.Request) {
	day, ok := s.dayParam(w, r)
	if !ok {
		return
	}
	data, err := s.archive.Snapshot(r.Context(), day)
	if err != nil {
		s.archiveError(w, day, err)
		return
	}
	// Stored bytes are returned verbatim so clients can digest them.
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		s.logger.Warn("snapshot write failed", zap.String("day", day.String()), zap.Error(err))
	}
}

func (s *Server) getManifest(w http.ResponseWriter, r *http.Request) {
	day, ok := s.dayParam(w, r)
	if !ok {
		return
	}
	manifest, err := s.archive.Manifest(r.Context(), day)
	if err != nil {
		s.archiveError(w, day, err)
		return
	}
	s.writeJSON(w, http.StatusOK, manifest)
}

func (s *Server) verifyDay(w http.ResponseWriter, r *http.Request) {
	day, ok := s.dayParam(w, r)
	if !ok {
		return
	}
	report, err := s.archive.Verify(r.Context(), day)
	if err != nil {
		s.archiveError(w, day, err)
		return
	}
	status := http.StatusOK
	if !report.OK {
		status = http.StatusConflict
	}
	s.writeJSON(w, status, report)
}

func (s *Server) listLedger(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		s.writeError(w, http.StatusNotFound, "ledger disabled")
		return
	}
	limit := defaultLedgerLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxLedgerLimit)
	}
	entries, err := s.ledger.List(r.Context(), limit)
	if err != nil {
		s.logger.Error("list ledger failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to list ledger")
		return
	}
	if entries == nil {
		entries = []monitor.LedgerEntry{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (s *Server) dayParam(w http.ResponseWriter, r *http.Request) (daykey.Day, bool) {
	day, err := daykey.Parse(chi.URLParam(r, "day"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "day must be YYYY-MM-DD")
		return daykey.Day{}, false
	}
	return day, true
}

func (s *Server) archiveError(w http.ResponseWriter, day daykey.Day, err error) {
	if errors.Is(err, archive.ErrNotArchived) {
		s.writeError(w, http.StatusNotFound, "day not archived")
		return
	}
	s.logger.Error("archive read failed", zap.String("day", day.String()), zap.Error(err))
	s.writeError(w, http.StatusInternalServerError, "archive read failed")
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			reqID, _ := r.Context().Value(requestIDKey{}).(string)
			logger.Info("request completed",
				zap.String("request_id", reqID),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec), zap.String("path", r.URL.Path))
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_, _ = w.Write([]byte(`{"error":"internal server error"}` + "\n"))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
