// Package server provides the HTTP API of the planner control plane.
package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/limiquantix/planner/internal/config"
	"github.com/limiquantix/planner/internal/drs"
	"github.com/limiquantix/planner/internal/ha"
	"github.com/limiquantix/planner/internal/instance"
	"github.com/limiquantix/planner/internal/repository/etcd"
	"github.com/limiquantix/planner/internal/repository/postgres"
	"github.com/limiquantix/planner/internal/repository/redis"
	"github.com/limiquantix/planner/internal/server/middleware"
)

const version = "0.1.0"

// Server represents the main HTTP server.
type Server struct {
	config     *config.Config
	logger     *zap.Logger
	httpServer *http.Server
	router     chi.Router

	// Infrastructure
	db     *postgres.DB
	cache  *redis.Cache
	etcd   *etcd.Client
	leader *etcd.Leader

	engine   *drs.Engine
	ha       *ha.Manager
	repos    drs.Repositories
	registry *instance.Registry
	upgrader websocket.Upgrader
}

// ServerOption configures optional server dependencies.
type ServerOption func(*Server)

// WithPostgreSQL sets the PostgreSQL database.
func WithPostgreSQL(db *postgres.DB) ServerOption {
	return func(s *Server) {
		s.db = db
	}
}

// WithRedis sets the Redis cache.
func WithRedis(cache *redis.Cache) ServerOption {
	return func(s *Server) {
		s.cache = cache
	}
}

// WithEtcd sets the etcd client.
func WithEtcd(client *etcd.Client) ServerOption {
	return func(s *Server) {
		s.etcd = client
	}
}

// WithLeader sets the leadership handle resigned on shutdown.
func WithLeader(leader *etcd.Leader) ServerOption {
	return func(s *Server) {
		s.leader = leader
	}
}

// WithHA sets the node failure detector.
func WithHA(m *ha.Manager) ServerOption {
	return func(s *Server) {
		s.ha = m
	}
}

// WithRegistry replaces the constraint registry used to decode instances.
func WithRegistry(r *instance.Registry) ServerOption {
	return func(s *Server) {
		s.registry = r
	}
}

// New creates a new server.
func New(cfg *config.Config, engine *drs.Engine, repos drs.Repositories, logger *zap.Logger, opts ...ServerOption) *Server {
	s := &Server{
		config:   cfg,
		logger:   logger.With(zap.String("component", "server")),
		engine:   engine,
		repos:    repos,
		registry: instance.NewRegistry(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(s)
	}

	s.registerRoutes()

	s.httpServer = &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      s.setupMiddleware(s.router),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	return s
}

// Handler returns the root handler, middleware included.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) registerRoutes() {
	r := chi.NewRouter()
	r.Use(metricsMiddleware)
	if s.config.Auth.Enabled {
		auth := middleware.NewAuthenticator(middleware.NewJWTManager(s.config.Auth), s.logger)
		r.Use(auth.Handler)
	}

	r.Get("/health", s.healthHandler)
	r.Get("/ready", s.readyHandler)
	r.Get("/live", s.liveHandler)
	r.Handle("/metrics", metricsHandler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/info", s.infoHandler)

		r.Route("/plans", func(r chi.Router) {
			r.Get("/", s.listPlans)
			r.Post("/", s.createPlan)
			r.Get("/stream", s.streamSolve)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.getPlan)
				r.With(middleware.RequireOperator).Post("/approve", s.approvePlan)
				r.With(middleware.RequireOperator).Post("/reject", s.rejectPlan)
				r.With(middleware.RequireOperator).Post("/apply", s.applyPlan)
			})
		})

		r.Route("/drs", func(r chi.Router) {
			r.Get("/status", s.drsStatus)
			r.With(middleware.RequireOperator).Post("/run", s.runDRS)
		})

		r.Route("/nodes", func(r chi.Router) {
			r.Get("/", s.listNodes)
			r.Post("/", s.createNode)
			r.Get("/{id}", s.getNode)
			r.Put("/{id}", s.updateNode)
			r.Delete("/{id}", s.deleteNode)
			r.Post("/{id}/heartbeat", s.nodeHeartbeat)
			r.With(middleware.RequireOperator).Post("/{id}/failover", s.failoverNode)
		})
		r.Get("/ha/nodes", s.haNodes)
		r.Route("/vms", func(r chi.Router) {
			r.Get("/", s.listVMs)
			r.Post("/", s.createVM)
			r.Get("/{id}", s.getVM)
			r.Put("/{id}", s.updateVM)
			r.Delete("/{id}", s.deleteVM)
		})
		r.Route("/policies", func(r chi.Router) {
			r.Get("/", s.listPolicies)
			r.Post("/", s.createPolicy)
			r.Get("/{id}", s.getPolicy)
			r.Delete("/{id}", s.deletePolicy)
		})
	})

	s.router = r
}

func (s *Server) setupMiddleware(handler http.Handler) http.Handler {
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   s.config.CORS.AllowedOrigins,
		AllowedMethods:   s.config.CORS.AllowedMethods,
		AllowedHeaders:   s.config.CORS.AllowedHeaders,
		AllowCredentials: s.config.CORS.AllowCredentials,
		MaxAge:           86400, // 24 hours
	})

	handler = corsHandler.Handler(handler)
	handler = s.loggingMiddleware(handler)
	handler = s.recoveryMiddleware(handler)

	return handler
}

// loggingMiddleware logs HTTP requests.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		// Skip logging for health checks
		if r.URL.Path == "/health" || r.URL.Path == "/ready" || r.URL.Path == "/live" || r.URL.Path == "/metrics" {
			return
		}

		s.logger.Info("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", wrapped.statusCode),
			zap.Duration("duration", time.Since(start)),
			zap.String("remote_addr", r.RemoteAddr),
		)
	})
}

// recoveryMiddleware recovers from panics.
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.Error("Panic recovered",
					zap.Any("error", err),
					zap.String("path", r.URL.Path),
				)
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Hijack lets the websocket upgrader take over the connection.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return h.Hijack()
}

// healthHandler returns health status.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "service": "planner-controlplane"})
}

// readyHandler returns readiness status.
func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ready := true
	details := map[string]string{}

	check := func(name string, health func(context.Context) error) {
		if err := health(ctx); err != nil {
			ready = false
			details[name] = "unhealthy"
			return
		}
		details[name] = "healthy"
	}
	if s.db != nil {
		check("postgres", s.db.Health)
	}
	if s.cache != nil {
		check("redis", s.cache.Health)
	}
	if s.etcd != nil {
		check("etcd", s.etcd.Health)
	}

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{"ready": ready, "components": details})
}

// liveHandler returns liveness status.
func (s *Server) liveHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"alive": true})
}

// infoHandler returns API information.
func (s *Server) infoHandler(w http.ResponseWriter, r *http.Request) {
	leader := s.leader == nil || s.leader.IsLeader()
	writeJSON(w, http.StatusOK, map[string]any{
		"name":        "planner control plane",
		"version":     version,
		"api_version": "v1",
		"constraints": s.registry.Constraints(),
		"drs": map[string]any{
			"enabled":          s.config.DRS.Enabled,
			"automation_level": s.config.DRS.AutomationLevel,
			"leader":           leader,
		},
		"ha": s.ha != nil && s.config.HA.Enabled,
		"infrastructure": map[string]bool{
			"postgres": s.db != nil,
			"redis":    s.cache != nil,
			"etcd":     s.etcd != nil,
		},
	})
}

// Run starts the DRS loop and serves HTTP until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("Starting server",
		zap.String("address", s.config.Server.Address()),
	)

	if s.config.DRS.Enabled && s.engine != nil {
		go s.engine.Start(ctx)
	}
	if s.ha != nil {
		go s.ha.Start(ctx)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("Shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server and closes its connections.
func (s *Server) Shutdown() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Shutting down server...")

	if s.leader != nil {
		if err := s.leader.Resign(shutdownCtx); err != nil {
			s.logger.Warn("Failed to resign leadership", zap.Error(err))
		}
	}

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP shutdown error: %w", err)
	}

	if s.etcd != nil {
		if err := s.etcd.Close(); err != nil {
			s.logger.Warn("Failed to close etcd", zap.Error(err))
		}
	}
	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			s.logger.Warn("Failed to close Redis", zap.Error(err))
		}
	}
	if s.db != nil {
		s.db.Close()
	}

	s.logger.Info("Server stopped gracefully")
	return nil
}

// Address returns the server address.
func (s *Server) Address() string {
	return s.config.Server.Address()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
