// Package httpapi is the stateless HTTP translation layer of spec §4.7: it
// decodes requests, delegates to internal/controller, and maps
// apperrors.Kind to HTTP status codes (spec §7). It never holds domain
// state of its own.
//
// Grounded on internal/server/server.go: stdlib net/http, Go 1.22+
// method+pattern mux, a *log.Logger field, signal-handling
// ListenAndServe/Shutdown. The origin-checking CSRF guard is kept as-is
// (this surface is also meant for a local browser UI talking to a
// same-host controller); the SSE write-timeout carve-out is dropped since
// this surface has no streaming endpoint (see DESIGN.md Deletions).
package httpapi

import (
	"context"
	"log"
	"net"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/stevenzev/expressdiff/internal/config"
	"github.com/stevenzev/expressdiff/internal/controller"
)

// Config holds server configuration.
type Config struct {
	Addr string // listen address, e.g. ":8080"
}

// Server is the HTTP server fronting the run/stage controller.
type Server struct {
	cfg        Config
	ctrl       *controller.Controller
	appCfg     *config.Config
	baseCtx    context.Context
	cancel     context.CancelFunc
	httpSrv    *http.Server
	logger     *log.Logger
	version    string
}

// New builds a Server wired to ctrl and appCfg (for /storage-info). A nil
// logger falls back to a stderr logger with the process-wide prefix.
func New(cfg Config, ctrl *controller.Controller, appCfg *config.Config, version string, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(os.Stderr, "[expressdiff] ", log.LstdFlags)
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:     cfg,
		ctrl:    ctrl,
		appCfg:  appCfg,
		baseCtx: ctx,
		cancel:  cancel,
		logger:  logger,
		version: version,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /accounts", s.handleAccounts)
	mux.HandleFunc("GET /storage-info", s.handleStorageInfo)
	mux.HandleFunc("GET /stages", s.handleStages)

	mux.HandleFunc("POST /runs", s.handleCreateRun)
	mux.HandleFunc("GET /runs", s.handleListRuns)
	mux.HandleFunc("GET /runs/{id}", s.handleGetRun)
	mux.HandleFunc("DELETE /runs/{id}", s.handleDeleteRun)
	mux.HandleFunc("PUT /runs/{id}/adapter", s.handleUpdateAdapter)
	mux.HandleFunc("POST /runs/{id}/upload", s.handleUpload)
	mux.HandleFunc("GET /runs/{id}/samples", s.handleSamples)

	mux.HandleFunc("GET /runs/{id}/stages/{stage}/validate", s.handleValidateStage)
	mux.HandleFunc("POST /runs/{id}/stages/{stage}", s.handleSubmitStage)
	mux.HandleFunc("GET /runs/{id}/stages/{stage}/status", s.handleStageStatus)
	mux.HandleFunc("GET /runs/{id}/stages/{stage}/logs", s.handleStageLogs)

	mux.HandleFunc("GET /runs/{id}/featurecounts-summary", s.handleFeatureCountsSummary)
	mux.HandleFunc("GET /runs/{id}/deseq2-results", s.handleDESeq2Results)
	mux.HandleFunc("GET /runs/{id}/deseq2-download/{file_type}", s.handleDESeq2Download)
	mux.HandleFunc("GET /runs/{id}/qc/list", s.handleQCList)
	mux.HandleFunc("GET /runs/{id}/qc/{stage}/{path...}", s.handleQCFile)

	s.httpSrv = &http.Server{
		Handler:      s.logRequests(csrfProtect(mux)),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute, // uploads may stream large files
		IdleTimeout:  120 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}
	return s
}

// logRequests logs one line per request: method, path, run_id if present,
// status, duration.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		runID := r.PathValue("id")
		if runID != "" {
			s.logger.Printf("%s %s run=%s status=%d duration=%s", r.Method, r.URL.Path, runID, sw.status, time.Since(start))
		} else {
			s.logger.Printf("%s %s status=%d duration=%s", r.Method, r.URL.Path, sw.status, time.Since(start))
		}
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// ListenAndServe starts the server and blocks until Shutdown is called.
func (s *Server) ListenAndServe() error {
	s.logger.Printf("listening on %s", s.cfg.Addr)
	s.httpSrv.Addr = s.cfg.Addr
	err := s.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server; in-flight stage submissions are not
// rolled back (spec §5: "submissions are externally visible").
func (s *Server) Shutdown(ctx context.Context) error {
	defer s.cancel()
	return s.httpSrv.Shutdown(ctx)
}

// csrfProtect rejects cross-origin mutating requests from a browser,
// allowing same-host and CLI/programmatic callers that omit Origin.
func csrfProtect(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost, http.MethodPut, http.MethodDelete:
			origin := r.Header.Get("Origin")
			if origin != "" {
				u, err := url.Parse(origin)
				if err != nil {
					writeError(w, http.StatusForbidden, "invalid Origin header")
					return
				}
				host := u.Hostname()
				if host != "localhost" && host != "127.0.0.1" && host != "::1" {
					writeError(w, http.StatusForbidden, "cross-origin request blocked")
					return
				}
			}
		}
		next.ServeHTTP(w, r)
	})
}
