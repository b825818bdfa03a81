package bridge

import (
	"context"
	"fmt"
	"sync"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/htmloverlay/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/htmloverlay/internal/shared/id"
)

// PageState is where the surface's current page is in its life.
type PageState int

const (
	PageUnloaded PageState = iota
	PageLoading
	PageReady
)

func (s PageState) String() string {
	switch s {
	case PageUnloaded:
		return "unloaded"
	case PageLoading:
		return "loading"
	case PageReady:
		return "ready"
	default:
		return "unknown"
	}
}

// counterpartTemplate installs the page side of the bridge. It is safe to
// run twice on the same page.
const counterpartTemplate = `(function (global) {
  var bridge = global[%[1]s];
  var Minko = global.Minko || {};
  global.Minko = Minko;

  Minko.window = global;
  Minko.document = global.document;
  Minko.loaded = 1;
  Minko.messagesToSend = [];

  if (typeof Minko.onmessage !== "function") {
    Minko.onmessage = function (message) {
      console.log("[overlay] message received: " + message);
    };
  }

  Minko.sendMessage = function (message) {
    bridge.onMessage(String(message));
  };

  Minko.dispatchEvent = function (accessor, event) {
    var payload = typeof event === "string" ? event : JSON.stringify(event);
    bridge.onEvent(String(accessor), payload);
  };

  Minko.addListener = function (element, type, accessor) {
    if (!element) { return; }
    element.addEventListener(type, function (event) {
      Minko.dispatchEvent(accessor, {
        type: event.type,
        target: accessor,
        clientX: event.clientX || 0,
        clientY: event.clientY || 0,
        pageX: event.pageX || 0,
        pageY: event.pageY || 0,
        screenX: event.screenX || 0,
        screenY: event.screenY || 0,
        touches: event.touches || []
      });
    });
  };

  Minko.bridgeReady = true;
  return true;
})(this);`

// CounterpartScript returns the script installed into every page so its own
// scripts can reach the bridge object named bridgeName.
func CounterpartScript(bridgeName string) string {
	quoted, err := sonic.MarshalString(bridgeName)
	if err != nil {
		// Names are validated as identifiers before a session exists.
		quoted = `"` + bridgeName + `"`
	}
	return fmt.Sprintf(counterpartTemplate, quoted)
}

// PageInfo is a snapshot of the controller's view of the page.
type PageInfo struct {
	ID    id.PageID `json:"id,omitempty"`
	URL   string    `json:"url"`
	State string    `json:"state"`
	Ready bool      `json:"ready"`
}

// Controller follows the surface's navigation signals. It installs the
// counterpart script once per page, reports readiness to the engine, and
// fails pending requests when the page they were sent to goes away.
// Navigation callbacks arrive on the UI loop.
type Controller struct {
	session *Session
	logger  *zap.Logger
	metrics *monitoring.Metrics

	mu          sync.Mutex
	state       PageState
	url         string
	page        id.PageID
	generation  uint64
	injectedFor uint64
	ready       chan struct{}
	readyClosed bool
	lastErr     error
}

// NewController creates a controller for session's surface.
func NewController(session *Session) *Controller {
	return &Controller{
		session: session,
		logger:  session.logger.Named("lifecycle"),
		metrics: session.metrics,
		ready:   make(chan struct{}),
	}
}

// WithMetrics adds metrics tracking to the controller.
func (c *Controller) WithMetrics(metrics *monitoring.Metrics) *Controller {
	c.metrics = metrics
	return c
}

// OnNavigationStarted handles the surface starting to load url.
func (c *Controller) OnNavigationStarted(url string) {
	c.mu.Lock()
	leaving := c.state != PageUnloaded
	c.generation++
	c.state = PageLoading
	c.url = url
	c.page = id.NewPageID()
	c.lastErr = nil
	c.resetReadyLocked()
	page := c.page
	c.mu.Unlock()

	c.logger.Debug("navigation started",
		zap.String("url", url),
		zap.String("page", page.String()),
	)

	if leaving {
		c.session.Invalidate(ErrPageInvalidated)
	}
}

// OnNavigationFinished handles the surface reporting url as loaded. Repeats
// for the same navigation are ignored.
func (c *Controller) OnNavigationFinished(url string) {
	c.mu.Lock()
	if c.state != PageLoading || c.injectedFor == c.generation {
		c.mu.Unlock()
		c.logger.Debug("ignoring repeated finish signal", zap.String("url", url))
		return
	}
	c.injectedFor = c.generation
	gen := c.generation
	c.mu.Unlock()

	script := CounterpartScript(c.session.config.BridgeName)
	c.session.surface.Evaluate(script, func(_ string, err error) {
		c.injected(gen, url, err)
	})
}

func (c *Controller) injected(gen uint64, url string, err error) {
	c.mu.Lock()
	if gen != c.generation || c.state != PageLoading {
		c.mu.Unlock()
		return
	}
	if err != nil {
		c.lastErr = fmt.Errorf("inject bridge script: %w", err)
		c.mu.Unlock()
		c.logger.Error("failed to install bridge script",
			zap.String("url", url),
			zap.Error(err),
		)
		return
	}
	c.state = PageReady
	c.readyClosed = true
	close(c.ready)
	page := c.page
	c.mu.Unlock()

	c.logger.Info("bridge ready",
		zap.String("url", url),
		zap.String("page", page.String()),
	)
	c.metrics.RecordBridgeReady()

	if engine := c.session.currentEngine(); engine != nil {
		engine.NotifyBridgeReady()
	}
}

// OnNavigationFailed handles a navigation that could not complete.
func (c *Controller) OnNavigationFailed(url string, err error) {
	c.mu.Lock()
	leaving := c.state != PageUnloaded
	c.generation++
	c.state = PageUnloaded
	c.url = url
	c.lastErr = err
	c.resetReadyLocked()
	c.mu.Unlock()

	c.logger.Warn("navigation failed",
		zap.String("url", url),
		zap.Error(err),
	)

	if leaving {
		c.session.Invalidate(ErrPageInvalidated)
	}
}

func (c *Controller) resetReadyLocked() {
	if c.readyClosed {
		c.ready = make(chan struct{})
		c.readyClosed = false
	}
}

// WaitReady blocks until the current or next page is ready or ctx ends.
func (c *Controller) WaitReady(ctx context.Context) error {
	c.mu.Lock()
	ch := c.ready
	c.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		c.mu.Lock()
		lastErr := c.lastErr
		c.mu.Unlock()
		if lastErr != nil {
			return fmt.Errorf("%w (last error: %v)", ctx.Err(), lastErr)
		}
		return ctx.Err()
	}
}

// State returns the current page state.
func (c *Controller) State() PageState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Info returns a snapshot of the current page.
func (c *Controller) Info() PageInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return PageInfo{
		ID:    c.page,
		URL:   c.url,
		State: c.state.String(),
		Ready: c.state == PageReady,
	}
}
