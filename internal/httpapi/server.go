package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"loclab.gg/stringsmith/internal/batch"
	"loclab.gg/stringsmith/internal/db"
	"loclab.gg/stringsmith/internal/gateway"
	"loclab.gg/stringsmith/internal/globaltime"
	"loclab.gg/stringsmith/internal/memory"
)

// Options tune the HTTP front end. Zero fields take the defaults.
type Options struct {
	Addr            string
	AllowedOrigins  []string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration

	// JobDefaults seed every orchestrator the server creates.
	JobDefaults batch.Options
	// PersistJobs receives job snapshots for the history table; nil disables
	// history writes.
	PersistJobs batch.PersistFunc
}

// Server is the HTTP face of the translation service. Orchestrators are
// created per language pair on the first job for that pair and share the
// memory store registry and the provider registry.
type Server struct {
	stores   *memory.Stores
	registry *gateway.Registry
	pool     *db.Pool // nil when running snapshot-only
	logger   zerolog.Logger
	opts     Options

	mu     sync.Mutex
	orchs  map[string]*batch.Orchestrator
	jobCtx context.Context
}

func NewServer(stores *memory.Stores, registry *gateway.Registry, pool *db.Pool, logger zerolog.Logger, opts Options) *Server {
	addr := strings.TrimSpace(opts.Addr)
	if addr == "" {
		addr = ":8380"
	}
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	readTimeout := opts.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 10 * time.Second
	}
	writeTimeout := opts.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 30 * time.Second
	}
	shutdownTimeout := opts.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}

	return &Server{
		stores:   stores,
		registry: registry,
		pool:     pool,
		logger:   logger,
		opts: Options{
			Addr:            addr,
			AllowedOrigins:  origins,
			ReadTimeout:     readTimeout,
			WriteTimeout:    writeTimeout,
			ShutdownTimeout: shutdownTimeout,
			JobDefaults:     opts.JobDefaults,
			PersistJobs:     opts.PersistJobs,
		},
		orchs: make(map[string]*batch.Orchestrator),
	}
}

func (s *Server) Start(ctx context.Context) error {
	if s == nil || s.stores == nil || s.registry == nil {
		return fmt.Errorf("server is not initialized")
	}

	s.mu.Lock()
	s.jobCtx = ctx
	s.mu.Unlock()

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.httpErrorHandler

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: s.opts.AllowedOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept"},
		MaxAge:       3600,
	}))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogRequestID: true,
		LogError:     true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			if v.Error != nil {
				s.logger.Error().
					Err(v.Error).
					Str("method", v.Method).
					Str("uri", v.URI).
					Int("status", v.Status).
					Dur("latency", v.Latency).
					Str("remote_ip", v.RemoteIP).
					Str("request_id", v.RequestID).
					Msg("http request failed")
				return nil
			}

			s.logger.Info().
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("remote_ip", v.RemoteIP).
				Str("request_id", v.RequestID).
				Msg("http request")
			return nil
		},
	}))

	e.GET("/healthz", s.handleHealth)

	api := e.Group("/api/v1")
	api.POST("/jobs", s.handleSubmitJob)
	api.GET("/jobs", s.handleListJobs)
	api.GET("/jobs/:id", s.handleJobDetail)
	api.GET("/jobs/:id/items", s.handleJobItems)
	api.POST("/jobs/:id/pause", s.handlePauseJob)
	api.POST("/jobs/:id/resume", s.handleResumeJob)
	api.POST("/jobs/:id/cancel", s.handleCancelJob)
	api.GET("/jobs/:id/export", s.handleExportJob)

	mem := api.Group("/memory/:source/:target")
	mem.GET("/stats", s.handleMemoryStats)
	mem.GET("/search", s.handleMemorySearch)
	mem.POST("/units", s.handleAddUnit)
	mem.POST("/units/:unit_id/verify", s.handleVerifyUnit)
	mem.DELETE("/units/:unit_id", s.handleRemoveUnit)
	mem.GET("/export", s.handleExportMemory)
	mem.POST("/import", s.handleImportMemory)

	httpServer := &http.Server{
		Addr:         s.opts.Addr,
		Handler:      e,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()
		if shutdownErr := e.Shutdown(shutdownCtx); shutdownErr != nil {
			s.logger.Error().Err(shutdownErr).Msg("server shutdown failed")
		}
	}()

	s.logger.Info().Str("addr", s.opts.Addr).Msg("stringsmith api started")

	if err := e.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("start server: %w", err)
	}
	s.logger.Info().Msg("stringsmith api stopped")
	return nil
}

func (s *Server) httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	message := "Internal server error"
	if he, ok := err.(*echo.HTTPError); ok {
		status = he.Code
		switch v := he.Message.(type) {
		case string:
			if strings.TrimSpace(v) != "" {
				message = v
			}
		default:
			if text := strings.TrimSpace(http.StatusText(status)); text != "" {
				message = text
			}
		}
	} else if err != nil {
		message = err.Error()
	}

	isAPI := strings.HasPrefix(c.Request().URL.Path, "/api/")
	if isAPI {
		if status >= 500 {
			_ = internalError(c, "Internal server error")
			return
		}
		_ = fail(c, status, message, nil)
		return
	}

	_ = c.String(status, message)
}

func (s *Server) handleHealth(c echo.Context) error {
	health := map[string]any{
		"service":  "stringsmith",
		"time":     globaltime.UTC(),
		"database": "off",
	}

	if s.pool != nil {
		pingCtx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()
		if err := s.pool.DB().PingContext(pingCtx); err != nil {
			s.logger.Error().Err(err).Msg("health check database ping failed")
			return fail(c, http.StatusServiceUnavailable, "database unreachable", nil)
		}
		health["database"] = "ok"
	}

	return success(c, health)
}

// orchestrator returns the per-pair orchestrator, creating it with the
// server's defaults on first use.
func (s *Server) orchestrator(ctx context.Context, source, target string) (*batch.Orchestrator, error) {
	store, err := s.stores.Get(ctx, source, target)
	if err != nil {
		return nil, err
	}

	key := store.Pair().Key()
	s.mu.Lock()
	defer s.mu.Unlock()

	if orch, ok := s.orchs[key]; ok {
		return orch, nil
	}

	provider, err := s.registry.Provider(s.registry.DefaultProvider())
	if err != nil {
		return nil, err
	}

	orchOpts := []batch.OrchestratorOption{
		batch.WithLogger(s.logger.With().Str("pair", key).Logger()),
		batch.WithDefaults(s.opts.JobDefaults),
		batch.WithProviderResolver(s.registry.Provider),
	}
	if s.opts.PersistJobs != nil {
		orchOpts = append(orchOpts, batch.WithPersistFunc(s.opts.PersistJobs))
	}

	orch := batch.New(store, provider, orchOpts...)
	s.orchs[key] = orch
	return orch, nil
}

// findJob scans every pair's orchestrator for the job. Jobs that only exist
// in the history table are not found here.
func (s *Server) findJob(jobID string) (*batch.Orchestrator, batch.Job, bool) {
	s.mu.Lock()
	orchs := make([]*batch.Orchestrator, 0, len(s.orchs))
	for _, orch := range s.orchs {
		orchs = append(orchs, orch)
	}
	s.mu.Unlock()

	for _, orch := range orchs {
		if job, err := orch.Job(jobID); err == nil {
			return orch, job, true
		}
	}
	return nil, batch.Job{}, false
}

func (s *Server) liveJobs() []batch.Job {
	s.mu.Lock()
	orchs := make([]*batch.Orchestrator, 0, len(s.orchs))
	for _, orch := range s.orchs {
		orchs = append(orchs, orch)
	}
	s.mu.Unlock()

	var jobs []batch.Job
	for _, orch := range orchs {
		jobs = append(jobs, orch.Jobs()...)
	}
	return jobs
}

// jobContext is the lifetime for background job runs: the serve context when
// the server is running, so shutdown interrupts in-flight jobs.
func (s *Server) jobContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.jobCtx != nil {
		return s.jobCtx
	}
	return context.Background()
}

func parsePositiveInt(raw string, defaultValue, minValue, maxValue int) (int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return defaultValue, nil
	}

	value, err := strconv.Atoi(trimmed)
	if err != nil {
		return 0, fmt.Errorf("must be an integer")
	}
	if value < minValue || value > maxValue {
		return 0, fmt.Errorf("must be between %d and %d", minValue, maxValue)
	}
	return value, nil
}
