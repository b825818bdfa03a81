package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/gzhttp"
	"go.uber.org/zap"

	apihttp "github.com/GriffinCanCode/htmloverlay/internal/api/http"
	"github.com/GriffinCanCode/htmloverlay/internal/api/middleware"
	"github.com/GriffinCanCode/htmloverlay/internal/api/ws"
	"github.com/GriffinCanCode/htmloverlay/internal/app"
	"github.com/GriffinCanCode/htmloverlay/internal/infrastructure/config"
	"github.com/GriffinCanCode/htmloverlay/internal/infrastructure/logging"
	"github.com/GriffinCanCode/htmloverlay/internal/infrastructure/monitoring"
)

const (
	streamPath      = "/stream"
	shutdownTimeout = 10 * time.Second
)

// Server wraps the HTTP server and dependencies
type Server struct {
	router  *gin.Engine
	handler http.Handler
	host    *app.Host
	logger  *logging.Logger
	config  *config.Config
	metrics *monitoring.Metrics
}

// NewServer creates a new server instance with a logger built from cfg.
func NewServer(cfg *config.Config) (*Server, error) {
	logger, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
	})
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}
	return New(cfg, logger)
}

// New creates a server around an existing logger.
func New(cfg *config.Config, logger *logging.Logger) (*Server, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	logger.Info("Initializing overlay server",
		zap.String("addr", cfg.Server.Addr()),
		zap.String("start_url", cfg.Server.StartURL),
		zap.String("asset_root", cfg.Loader.AssetRoot),
	)

	// Initialize metrics first (needed by other components)
	metrics := monitoring.NewMetrics()

	host, err := app.New(cfg, logger.Logger, metrics)
	if err != nil {
		return nil, fmt.Errorf("create overlay host: %w", err)
	}

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.AccessLog(logger.Component("http")))
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.CORS(middleware.CORSFor(cfg.Server.AllowedOrigins)))
	if cfg.RateLimit.Enabled {
		logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		limits := middleware.DefaultRateLimitConfig()
		limits.RequestsPerSecond = cfg.RateLimit.RequestsPerSecond
		limits.Burst = cfg.RateLimit.Burst
		router.Use(middleware.RateLimit(limits))
	}

	apihttp.NewHandlers(apihttp.Deps{
		Engine:   host.Engine,
		Pages:    host.Pages,
		View:     host.View,
		Assets:   host.Loader,
		Session:  host.Session,
		Metrics:  metrics,
		LogLevel: logger.LevelHandler(),
	}).Register(router)

	stream := ws.NewHandler(host.Engine, host.Pages, logger.Component("stream")).WithMetrics(metrics)
	router.GET(streamPath, stream.HandleConnection)

	var handler http.Handler = router
	if cfg.Server.Compress {
		handler = compress(router)
	}

	logger.Info("Server initialized successfully")

	return &Server{
		router:  router,
		handler: handler,
		host:    host,
		logger:  logger,
		config:  cfg,
		metrics: metrics,
	}, nil
}

// compress gzips responses except the stream, which is hijacked.
func compress(next http.Handler) http.Handler {
	gz := gzhttp.GzipHandler(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == streamPath {
			next.ServeHTTP(w, r)
			return
		}
		gz.ServeHTTP(w, r)
	})
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Host returns the overlay host.
func (s *Server) Host() *app.Host {
	return s.host
}

// Metrics returns the metrics collector.
func (s *Server) Metrics() *monitoring.Metrics {
	return s.metrics
}

// Run starts the overlay and serves HTTP until ctx ends, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	if err := s.host.Start(ctx); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              s.config.Server.Addr(),
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("Starting HTTP server", zap.String("addr", srv.Addr))
		errChan <- srv.ListenAndServe()
	}()

	select {
	case err := <-errChan:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// Close tears down the overlay
func (s *Server) Close() error {
	s.logger.Info("Shutting down server...")

	if err := s.host.Close(); err != nil {
		s.logger.Error("Failed to close overlay host", zap.Error(err))
		return fmt.Errorf("failed to close overlay host: %w", err)
	}

	// Sync logger before exit
	_ = s.logger.Sync()
	return nil
}
