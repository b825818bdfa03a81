package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/htmloverlay/internal/bridge"
	"github.com/GriffinCanCode/htmloverlay/internal/infrastructure/config"
	"github.com/GriffinCanCode/htmloverlay/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/htmloverlay/internal/loader"
	"github.com/GriffinCanCode/htmloverlay/internal/looper"
	"github.com/GriffinCanCode/htmloverlay/internal/overlay"
	"github.com/GriffinCanCode/htmloverlay/internal/webview"
)

// Host is one running overlay: a surface, its bridge and the engine on top.
type Host struct {
	Loop    *looper.Looper
	Loader  *loader.Loader
	View    *webview.View
	Session *bridge.Session
	Pages   *bridge.Controller
	Engine  *overlay.Engine

	config  *config.Config
	logger  *zap.Logger
	metrics *monitoring.Metrics

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	closed bool
}

// New builds a host from configuration. Nothing is loaded until Start.
func New(cfg *config.Config, logger *zap.Logger, metrics *monitoring.Metrics) (*Host, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	pages, err := loader.New(LoaderConfig(cfg), logger.Named("loader"))
	if err != nil {
		return nil, fmt.Errorf("create loader: %w", err)
	}
	pages.WithMetrics(metrics)

	loop := looper.New("ui", logger.Named("looper"))

	view, err := webview.New(loop, pages, SurfaceConfig(cfg), logger.Named("webview"))
	if err != nil {
		loop.Close()
		return nil, fmt.Errorf("create surface: %w", err)
	}
	view.WithMetrics(metrics)

	session, err := bridge.NewSession(view, loop, BridgeConfig(cfg), logger.Named("bridge"))
	if err != nil {
		view.Destroy()
		loop.Close()
		return nil, fmt.Errorf("create bridge session: %w", err)
	}
	session.WithMetrics(metrics)

	controller := bridge.NewController(session).WithMetrics(metrics)
	view.SetNavigationListener(controller)

	engine, err := overlay.New(overlay.Config{
		CallTimeout:   cfg.Bridge.EvalTimeout.Std(),
		FrameInterval: overlay.DefaultConfig().FrameInterval,
	}, session, view, controller, logger.Named("overlay"))
	if err != nil {
		_ = session.Close()
		view.Destroy()
		loop.Close()
		return nil, fmt.Errorf("create engine: %w", err)
	}
	engine.WithMetrics(metrics)

	return &Host{
		Loop:    loop,
		Loader:  pages,
		View:    view,
		Session: session,
		Pages:   controller,
		Engine:  engine,
		config:  cfg,
		logger:  logger,
		metrics: metrics,
	}, nil
}

// Start marks the surface initialized, loads the configured start page and
// begins driving engine updates until Close.
func (h *Host) Start(ctx context.Context) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return errors.New("host closed")
	}
	if h.cancel != nil {
		h.mu.Unlock()
		return errors.New("host already started")
	}
	runCtx, cancel := context.WithCancel(ctx)
	h.cancel = cancel
	h.done = make(chan struct{})
	h.mu.Unlock()

	if uri := h.config.Server.StartURL; uri != "" {
		if err := h.Engine.Load(uri); err != nil {
			cancel()
			return fmt.Errorf("load start page: %w", err)
		}
	}
	if err := h.Engine.Start(); err != nil {
		cancel()
		return fmt.Errorf("start engine: %w", err)
	}

	go func() {
		defer close(h.done)
		h.Engine.Run(runCtx)
	}()

	h.logger.Info("overlay started",
		zap.String("session", h.Session.ID().String()),
		zap.String("start_url", h.config.Server.StartURL),
	)
	return nil
}

// Close stops the update loop and tears the stack down top to bottom.
func (h *Host) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	cancel, done := h.cancel, h.done
	h.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	err := h.Session.Close()
	h.View.Destroy()
	h.Loop.Close()
	return err
}

// LoaderConfig maps configuration onto the page loader.
func LoaderConfig(cfg *config.Config) loader.Config {
	return loader.Config{
		AssetRoot:      cfg.Loader.AssetRoot,
		AllowPatterns:  cfg.Loader.AllowPatterns,
		FetchTimeout:   cfg.Loader.FetchTimeout.Std(),
		RetryCount:     cfg.Loader.RetryCount,
		MaxBytes:       cfg.Loader.MaxBytes,
		UserAgent:      cfg.Loader.UserAgent,
		SanitizeRemote: cfg.Loader.SanitizeRemote,
	}
}

// SurfaceConfig maps configuration onto page runtimes.
func SurfaceConfig(cfg *config.Config) webview.Config {
	out := webview.DefaultConfig()
	out.ScriptTimeout = cfg.Surface.ScriptTimeout.Std()
	out.RunPageScripts = cfg.Surface.RunPageScripts
	if cfg.Surface.ConsoleLimit > 0 {
		out.ConsoleLimit = cfg.Surface.ConsoleLimit
	}
	if cfg.Loader.UserAgent != "" {
		out.UserAgent = cfg.Loader.UserAgent
	}
	return out
}

// BridgeConfig maps configuration onto the bridge session.
func BridgeConfig(cfg *config.Config) bridge.Config {
	out := bridge.DefaultConfig()
	if cfg.Bridge.Name != "" {
		out.BridgeName = cfg.Bridge.Name
	}
	out.EvalTimeout = cfg.Bridge.EvalTimeout.Std()
	return out
}
