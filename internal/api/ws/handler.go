package ws

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	apihttp "github.com/GriffinCanCode/htmloverlay/internal/api/http"
	"github.com/GriffinCanCode/htmloverlay/internal/bridge"
	"github.com/GriffinCanCode/htmloverlay/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/htmloverlay/internal/overlay"
)

const (
	writeTimeout   = 10 * time.Second
	maxMessageSize = apihttp.MaxScriptSize + 4096
	sendBuffer     = 256
	maxInflight    = 16
)

// Engine is the overlay engine as seen by stream clients.
type Engine interface {
	Eval(ctx context.Context, script string) (string, error)
	Load(uri string) error
	OnLoad(fn func(overlay.Load)) func()
	OnMessage(fn func(string)) func()
	OnEvent(fn func(overlay.Event)) func()
}

// Pages reports the current page.
type Pages interface {
	Info() bridge.PageInfo
}

// Incoming is a frame sent by a client.
type Incoming struct {
	Type   string `json:"type"`
	Ref    string `json:"ref,omitempty"`
	Script string `json:"script,omitempty"`
	URL    string `json:"url,omitempty"`
}

// Handler manages WebSocket connections
type Handler struct {
	engine   Engine
	pages    Pages
	logger   *zap.Logger
	metrics  *monitoring.Metrics
	upgrader websocket.Upgrader
}

// NewHandler creates a new WebSocket handler
func NewHandler(engine Engine, pages Pages, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		engine: engine,
		pages:  pages,
		logger: logger,
		upgrader: websocket.Upgrader{
			// Origins are checked by the CORS middleware in front of this route.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// WithMetrics attaches a metrics collector.
func (h *Handler) WithMetrics(metrics *monitoring.Metrics) *Handler {
	h.metrics = metrics
	return h
}

// HandleConnection upgrades the request and serves one client until it
// disconnects. Page loads, messages and events are pushed as they happen;
// eval requests are answered by ref and may complete out of order.
func (h *Handler) HandleConnection(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	conn.SetReadLimit(maxMessageSize)

	ctx, cancel := context.WithCancel(c.Request.Context())
	cl := &client{
		id:      uuid.NewString(),
		conn:    conn,
		out:     make(chan []byte, sendBuffer),
		done:    make(chan struct{}),
		slots:   make(chan struct{}, maxInflight),
		logger:  h.logger,
		metrics: h.metrics,
	}
	cl.logger = h.logger.With(zap.String("client", cl.id))

	h.metrics.IncWSConnections()
	cl.logger.Debug("stream client connected")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		cl.writeLoop()
	}()

	unsubscribe := h.subscribe(cl)
	defer func() {
		unsubscribe()
		cancel()
		cl.inflight.Wait()
		cl.stop()
		wg.Wait()
		_ = conn.Close()
		h.metrics.DecWSConnections()
		cl.logger.Debug("stream client disconnected")
	}()

	cl.send(map[string]interface{}{
		"type":      "hello",
		"client_id": cl.id,
		"page":      h.pages.Info(),
		"timestamp": time.Now().Unix(),
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				cl.logger.Debug("websocket read error", zap.Error(err))
			}
			return
		}

		var msg Incoming
		if err := sonic.Unmarshal(data, &msg); err != nil {
			h.metrics.RecordWSMessage("in", "malformed")
			cl.sendError("", "malformed frame", apihttp.KindBadRequest, http.StatusBadRequest)
			continue
		}
		h.metrics.RecordWSMessage("in", msg.Type)

		switch msg.Type {
		case "eval":
			h.handleEval(ctx, cl, msg)
		case "load":
			h.handleLoad(cl, msg)
		case "ping":
			cl.send(map[string]interface{}{"type": "pong", "ref": msg.Ref, "timestamp": time.Now().Unix()})
		default:
			cl.sendError(msg.Ref, "unknown message type", apihttp.KindBadRequest, http.StatusBadRequest)
		}
	}
}

func (h *Handler) subscribe(cl *client) func() {
	offLoad := h.engine.OnLoad(func(l overlay.Load) {
		cl.send(map[string]interface{}{
			"type":      "bridge_ready",
			"page":      l.Page,
			"timestamp": time.Now().Unix(),
		})
	})
	offMessage := h.engine.OnMessage(func(message string) {
		cl.send(map[string]interface{}{
			"type":      "message",
			"data":      message,
			"timestamp": time.Now().Unix(),
		})
	})
	offEvent := h.engine.OnEvent(func(evt overlay.Event) {
		cl.send(map[string]interface{}{
			"type":      "event",
			"event":     evt,
			"timestamp": time.Now().Unix(),
		})
	})

	return func() {
		offLoad()
		offMessage()
		offEvent()
	}
}

func (h *Handler) handleEval(ctx context.Context, cl *client, msg Incoming) {
	if err := apihttp.ValidateScript(msg.Script); err != nil {
		status, kind := apihttp.ErrorStatus(err)
		cl.sendError(msg.Ref, err.Error(), kind, status)
		return
	}

	select {
	case cl.slots <- struct{}{}:
	default:
		cl.sendError(msg.Ref, "too many evaluations in flight", apihttp.KindUnavailable, http.StatusTooManyRequests)
		return
	}

	cl.inflight.Add(1)
	go func() {
		defer cl.inflight.Done()
		defer func() { <-cl.slots }()

		result, err := h.engine.Eval(ctx, msg.Script)
		if err != nil {
			if errors.Is(err, context.Canceled) && ctx.Err() != nil {
				return
			}
			status, kind := apihttp.ErrorStatus(err)
			cl.sendError(msg.Ref, err.Error(), kind, status)
			return
		}
		cl.send(map[string]interface{}{
			"type":      "result",
			"ref":       msg.Ref,
			"result":    result,
			"timestamp": time.Now().Unix(),
		})
	}()
}

func (h *Handler) handleLoad(cl *client, msg Incoming) {
	err := apihttp.ValidateURL(msg.URL)
	if err == nil {
		err = h.engine.Load(msg.URL)
	}
	if err != nil {
		status, kind := apihttp.ErrorStatus(err)
		cl.sendError(msg.Ref, err.Error(), kind, status)
		return
	}
	cl.send(map[string]interface{}{
		"type":      "loading",
		"ref":       msg.Ref,
		"url":       msg.URL,
		"timestamp": time.Now().Unix(),
	})
}
