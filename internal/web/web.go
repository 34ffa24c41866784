// Package web serves the produced calendars and run metadata over HTTP.
package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"eventripper/internal/config"
	appLog "eventripper/internal/log"
	"eventripper/internal/pipeline"
	"eventripper/internal/store"
)

// History reads past runs.
type History interface {
	RecentRuns(ctx context.Context, limit int) ([]store.Run, error)
}

// RefreshFunc triggers a pipeline run.
type RefreshFunc func(ctx context.Context) error

// Server exposes the output directory and run metadata.
type Server struct {
	cfg       *config.Config
	outputDir string
	history   History
	refresh   RefreshFunc
	mux       *http.ServeMux

	// In-memory cache for /api/calendars responses.
	manifestMu    sync.RWMutex
	manifestCache *manifestCache
}

type manifestCache struct {
	manifest  pipeline.Manifest
	updatedAt time.Time
}

const manifestCacheTTL = 30 * time.Second

// NewServer constructs a new Server. history and refresh may be nil.
func NewServer(cfg *config.Config, history History, refresh RefreshFunc) *Server {
	s := &Server{
		cfg:       cfg,
		outputDir: cfg.OutputDir,
		history:   history,
		refresh:   refresh,
		mux:       http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured. Empty
// credentials count as disabled.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="eventripper", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// ListenAndServe serves on cfg.Listen until ctx is canceled, then shuts
// down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/calendars", s.handleCalendars)
	s.mux.HandleFunc("GET /api/errors", s.handleErrors)
	s.mux.HandleFunc("GET /api/history", s.handleHistory)
	s.mux.HandleFunc("POST /api/refresh", s.handleRefresh)
	s.mux.HandleFunc("GET /calendars/{file}", s.handleCalendarFile)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleCalendars returns the manifest of the last run.
func (s *Server) handleCalendars(w http.ResponseWriter, _ *http.Request) {
	now := time.Now()

	s.manifestMu.RLock()
	mc := s.manifestCache
	s.manifestMu.RUnlock()
	if mc != nil && now.Sub(mc.updatedAt) < manifestCacheTTL {
		writeJSON(w, http.StatusOK, mc.manifest)
		return
	}

	data, err := os.ReadFile(filepath.Join(s.outputDir, pipeline.ManifestFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			writeError(w, http.StatusNotFound, "no completed run yet")
			return
		}
		appLog.Error("read manifest failed", err)
		writeError(w, http.StatusInternalServerError, "failed to read manifest")
		return
	}
	var m pipeline.Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		appLog.Error("decode manifest failed", err)
		writeError(w, http.StatusInternalServerError, "failed to read manifest")
		return
	}

	s.manifestMu.Lock()
	s.manifestCache = &manifestCache{manifest: m, updatedAt: now}
	s.manifestMu.Unlock()

	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleErrors(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	http.ServeFile(w, r, filepath.Join(s.outputDir, pipeline.ReportFile))
}

// handleHistory returns recent runs.
//
// GET /api/history?limit=20
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusNotFound, "run history disabled")
		return
	}
	limit := parseIntDefault(r.URL.Query().Get("limit"), 20)
	if limit <= 0 || limit > 500 {
		limit = 20
	}
	runs, err := s.history.RecentRuns(r.Context(), limit)
	if err != nil {
		appLog.Error("read history failed", err)
		writeError(w, http.StatusInternalServerError, "failed to read history")
		return
	}
	if runs == nil {
		runs = []store.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if s.refresh == nil {
		writeError(w, http.StatusNotFound, "refresh disabled")
		return
	}
	// A started run completes even if the client goes away.
	if err := s.refresh(context.WithoutCancel(r.Context())); err != nil {
		appLog.Error("refresh failed", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.manifestMu.Lock()
	s.manifestCache = nil
	s.manifestMu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleCalendarFile serves one produced ICS file.
func (s *Server) handleCalendarFile(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("file")
	if name != filepath.Base(name) || !strings.HasSuffix(name, ".ics") || strings.HasPrefix(name, ".") {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	http.ServeFile(w, r, filepath.Join(s.outputDir, name))
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
