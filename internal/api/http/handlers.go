package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/GriffinCanCode/htmloverlay/internal/loader"
	"github.com/GriffinCanCode/htmloverlay/internal/webview"
)

// Version is reported by the root endpoint.
const Version = "0.3.0"

// Handlers contains all HTTP handlers
type Handlers struct {
	engine  Engine
	pages   Pages
	view    View
	assets  Assets
	session Session
	tracker *HandlerMetrics
	deps    Deps
	started time.Time
}

// NewHandlers creates a new handler set
func NewHandlers(deps Deps) *Handlers {
	return &Handlers{
		engine:  deps.Engine,
		pages:   deps.Pages,
		view:    deps.View,
		assets:  deps.Assets,
		session: deps.Session,
		tracker: NewHandlerMetrics(deps.Metrics),
		deps:    deps,
		started: time.Now(),
	}
}

// Register mounts every route on r.
func (h *Handlers) Register(r gin.IRouter) {
	r.GET("/", h.Root)
	r.GET("/health", h.Health)

	r.POST("/eval", h.Eval)
	r.POST("/load", h.Load)
	r.GET("/page", h.Page)
	r.GET("/page/ready", h.WaitReady)
	r.PUT("/visible", h.SetVisible)
	r.POST("/dispatch", h.Dispatch)

	r.GET("/assets", h.ListAssets)
	r.GET("/stats", h.Stats)

	if h.deps.Metrics != nil {
		r.GET("/metrics", gin.WrapH(h.deps.Metrics.Handler()))
	}
	if h.deps.LogLevel != nil {
		r.GET("/debug/loglevel", gin.WrapH(h.deps.LogLevel))
		r.PUT("/debug/loglevel", gin.WrapH(h.deps.LogLevel))
	}
}

// Root handles the basic liveness check
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "overlayd",
		"version": Version,
	})
}

// Health handles the detailed health check
func (h *Handlers) Health(c *gin.Context) {
	page := h.pages.Info()
	status := "healthy"
	if !page.Ready {
		status = "loading"
	}

	c.JSON(http.StatusOK, gin.H{
		"status":         status,
		"session":        h.session.ID(),
		"pending":        h.session.Pending(),
		"page":           page,
		"uptime_seconds": time.Since(h.started).Seconds(),
	})
}

// EvalRequest is the body of POST /eval.
type EvalRequest struct {
	Script    string `json:"script" binding:"required"`
	TimeoutMS int    `json:"timeout_ms"`
}

// Eval runs a script in the current page and returns its result.
func (h *Handlers) Eval(c *gin.Context) {
	done := h.tracker.Track("eval")

	var req EvalRequest
	if err := bind(c, &req); err != nil {
		done(err)
		writeError(c, err)
		return
	}
	if err := ValidateScript(req.Script); err != nil {
		done(err)
		writeError(c, err)
		return
	}
	if req.TimeoutMS < 0 || req.TimeoutMS > MaxEvalTimeout {
		err := invalid("timeout_ms must be between 0 and %d", MaxEvalTimeout)
		done(err)
		writeError(c, err)
		return
	}

	ctx := c.Request.Context()
	if req.TimeoutMS > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(req.TimeoutMS)*time.Millisecond)
		defer cancel()
	}

	result, err := h.engine.Eval(ctx, req.Script)
	done(err)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"result": result})
}

// LoadRequest is the body of POST /load.
type LoadRequest struct {
	URL string `json:"url" binding:"required"`
}

// Load starts navigating to a page. Completion is reported through /page
// and the stream.
func (h *Handlers) Load(c *gin.Context) {
	done := h.tracker.Track("load")

	var req LoadRequest
	if err := bind(c, &req); err != nil {
		done(err)
		writeError(c, err)
		return
	}
	if err := ValidateURL(req.URL); err != nil {
		done(err)
		writeError(c, err)
		return
	}
	if _, _, err := loader.Resolve(req.URL); err != nil {
		done(err)
		writeError(c, err)
		return
	}

	err := h.engine.Load(req.URL)
	done(err)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"url": req.URL, "accepted": true})
}

// Page reports the page lifecycle and the surface state.
func (h *Handlers) Page(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"page":    h.pages.Info(),
		"view":    h.view.Snapshot(),
		"visible": h.engine.Visible(),
	})
}

// WaitReady blocks until the current page is ready, bounded by timeout_ms.
func (h *Handlers) WaitReady(c *gin.Context) {
	timeout := 5 * time.Second
	if raw := c.Query("timeout_ms"); raw != "" {
		ms, err := strconv.Atoi(raw)
		if err != nil || ms <= 0 || ms > MaxEvalTimeout {
			writeError(c, invalid("timeout_ms must be between 1 and %d", MaxEvalTimeout))
			return
		}
		timeout = time.Duration(ms) * time.Millisecond
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
	defer cancel()

	if err := h.pages.WaitReady(ctx); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"page": h.pages.Info()})
}

// VisibleRequest is the body of PUT /visible.
type VisibleRequest struct {
	Visible *bool `json:"visible" binding:"required"`
}

// SetVisible shows or hides the overlay.
func (h *Handlers) SetVisible(c *gin.Context) {
	var req VisibleRequest
	if err := bind(c, &req); err != nil {
		writeError(c, err)
		return
	}

	h.engine.SetVisible(*req.Visible)
	c.JSON(http.StatusOK, gin.H{"visible": *req.Visible})
}

// DispatchRequest is the body of POST /dispatch.
type DispatchRequest struct {
	Selector string        `json:"selector" binding:"required"`
	Event    webview.Event `json:"event"`
}

// Dispatch feeds an input event to the elements matching a selector.
func (h *Handlers) Dispatch(c *gin.Context) {
	done := h.tracker.Track("dispatch")

	var req DispatchRequest
	if err := bind(c, &req); err != nil {
		done(err)
		writeError(c, err)
		return
	}
	if err := ValidateSelector(req.Selector); err != nil {
		done(err)
		writeError(c, err)
		return
	}
	if req.Event.Type == "" {
		err := invalid("event type is required")
		done(err)
		writeError(c, err)
		return
	}

	err := h.view.DispatchEvent(req.Selector, req.Event)
	done(err)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"selector": req.Selector, "type": req.Event.Type})
}

// ListAssets lists the local pages the loader may serve.
func (h *Handlers) ListAssets(c *gin.Context) {
	assets, err := h.assets.Assets(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"assets": assets,
		"count":  len(assets),
	})
}

// Stats reports counters, breaker states and in-flight evaluations.
func (h *Handlers) Stats(c *gin.Context) {
	out := gin.H{
		"breakers": h.assets.BreakerStates(),
		"pending":  h.session.Pending(),
	}
	if h.deps.Metrics != nil {
		out["metrics"] = h.deps.Metrics.Snapshot()
	}
	c.JSON(http.StatusOK, out)
}

// bind decodes a size-limited JSON body.
func bind(c *gin.Context, v interface{}) error {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxBodySize)
	if err := c.ShouldBindJSON(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return invalid("request body exceeds %d bytes", MaxBodySize)
		}
		return invalid("%v", err)
	}
	return nil
}
