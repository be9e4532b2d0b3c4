// Package web implements the local JSON API server for submitting generation
// jobs and inspecting the job registry and history ledger.
package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/didip/tollbooth/v8"
	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/rest"
	"github.com/go-pkgz/rest/logger"
	"github.com/go-pkgz/routegroup"
	"golang.org/x/crypto/bcrypt"

	"comfyq/app/presets"
	"comfyq/app/runner"
	"comfyq/app/session"
)

// Submitter accepts generation requests and re-fetches lost artifacts.
//
//go:generate moq -out mocks/submitter.go -pkg mocks -skip-ensure -fmt goimports . Submitter
type Submitter interface {
	Submit(ctx context.Context, req runner.Request) (session.JobRecord, error)
	RestoreArtifacts(ctx context.Context, key string) (session.HistoryEntry, error)
}

// SessionInfo exposes the staged initialization state of the client session.
//
//go:generate moq -out mocks/session_info.go -pkg mocks -skip-ensure -fmt goimports . SessionInfo
type SessionInfo interface {
	Stage() session.Stage
	ClientID() string
}

// Server represents the JSON API server
type Server struct {
	submitter       Submitter
	registry        *session.Registry
	history         *session.Ledger
	info            SessionInfo
	counter         session.GlobalCounter // nil when global admission is disabled
	library         *presets.Library
	version         string
	passwordHash    string  // bcrypt hash for basic auth (empty to disable)
	submitRPS       float64 // rate limit for POST /generate
	maxActive       int
	globalMaxActive int
}

// Config holds server configuration
type Config struct {
	Submitter       Submitter
	Registry        *session.Registry
	History         *session.Ledger
	Info            SessionInfo
	Counter         session.GlobalCounter // optional
	Library         *presets.Library
	Version         string
	PasswordHash    string  // bcrypt hash for basic auth (empty to disable)
	SubmitRPS       float64 // rate limit for POST /generate, defaults to 1 rps
	MaxActive       int
	GlobalMaxActive int
}

// New creates a new web server
func New(cfg Config) (*Server, error) {
	if cfg.Submitter == nil {
		return nil, fmt.Errorf("web server initialization failed: Submitter is required")
	}
	if cfg.Registry == nil || cfg.History == nil {
		return nil, fmt.Errorf("web server initialization failed: Registry and History are required")
	}
	if cfg.Info == nil {
		return nil, fmt.Errorf("web server initialization failed: Info is required")
	}

	submitRPS := cfg.SubmitRPS
	if submitRPS <= 0 {
		submitRPS = 1
	}
	library := cfg.Library
	if library == nil {
		library = &presets.Library{}
	}

	return &Server{
		submitter:       cfg.Submitter,
		registry:        cfg.Registry,
		history:         cfg.History,
		info:            cfg.Info,
		counter:         cfg.Counter,
		library:         library,
		version:         cfg.Version,
		passwordHash:    cfg.PasswordHash,
		submitRPS:       submitRPS,
		maxActive:       cfg.MaxActive,
		globalMaxActive: cfg.GlobalMaxActive,
	}, nil
}

// Run starts the web server and blocks until ctx is canceled
func (s *Server) Run(ctx context.Context, address string) error {
	server := &http.Server{
		Addr:              address,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       30 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("[WARN] failed to shutdown server: %v", err)
		}
	}()

	log.Printf("[INFO] starting web server on %s", address)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("web server failed: %w", err)
	}
	return nil
}

// routes returns the http.Handler with all routes configured
func (s *Server) routes() http.Handler {
	router := routegroup.New(http.NewServeMux())

	// global middleware - applied to all routes
	router.Use(
		rest.RealIP,
		rest.Recoverer(log.Default()),
		rest.Throttle(1000),
		rest.AppInfo("comfyq", "umputun", s.version),
		rest.Ping,
		rest.Trace,
		rest.SizeLimit(64*1024), // 64KB max request size
		logger.New(logger.Log(log.Default()), logger.Prefix("[DEBUG]")).Handler,
	)

	// add auth middleware if password hash is configured
	if s.passwordHash != "" {
		log.Printf("[INFO] authentication enabled for API")
		router.Use(s.authMiddleware)
	}

	submitLimiter := tollbooth.NewLimiter(s.submitRPS, nil)

	router.Mount("/api/v1").Route(func(api *routegroup.Bundle) {
		api.Use(rest.NoCache)
		api.With(tollbooth.HTTPMiddleware(submitLimiter)).HandleFunc("POST /generate", s.handleGenerate)
		api.HandleFunc("GET /jobs", s.handleJobs)
		api.HandleFunc("GET /status", s.handleStatus)
		api.HandleFunc("GET /history", s.handleHistoryList)
		api.HandleFunc("GET /history/{key}", s.handleHistoryEntry)
		api.HandleFunc("POST /history/{key}/restore", s.handleHistoryRestore)
		api.HandleFunc("DELETE /history/{key}", s.handleHistoryDelete)
		api.HandleFunc("DELETE /history", s.handleHistoryClear)
		api.HandleFunc("GET /tags", s.handleTags)
		api.HandleFunc("GET /presets", s.handlePresets)
	})

	return router
}

// authMiddleware enforces basic auth against the configured bcrypt hash.
// The username is fixed, only the password is checked.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, password, ok := r.BasicAuth()
		if ok && username == "comfyq" {
			if err := bcrypt.CompareHashAndPassword([]byte(s.passwordHash), []byte(password)); err == nil {
				next.ServeHTTP(w, r)
				return
			}
		}
		w.Header().Set("WWW-Authenticate", `Basic realm="comfyq"`)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
	})
}
