package overlay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/htmloverlay/internal/bridge"
	"github.com/GriffinCanCode/htmloverlay/internal/infrastructure/monitoring"
)

var (
	ErrNotStarted = errors.New("overlay engine not started")
	ErrNoElement  = errors.New("element not found")
	ErrBadName    = errors.New("invalid style property name")
)

// Session evaluates scripts in the page and delivers bridge notifications.
type Session interface {
	Eval(ctx context.Context, script string) (string, error)
	SetEngine(engine bridge.Engine)
}

// Navigator loads pages into the surface.
type Navigator interface {
	LoadURL(uri string) error
}

// PageSource reports the page the bridge is attached to.
type PageSource interface {
	Info() bridge.PageInfo
}

// Config controls an Engine.
type Config struct {
	CallTimeout   time.Duration // Bound for element calls made without a deadline
	FrameInterval time.Duration // Period of Run
	QueueLimit    int           // Messages and events each held between Updates
}

// DefaultConfig returns engine defaults.
func DefaultConfig() Config {
	return Config{
		CallTimeout:   5 * time.Second,
		FrameInterval: 16 * time.Millisecond,
		QueueLimit:    1024,
	}
}

// Load is delivered to OnLoad subscribers once per ready page.
type Load struct {
	Page bridge.PageInfo
}

// Engine is the native side of the overlay. Notifications arrive on the UI
// loop and are queued; Update delivers them on the caller's goroutine, which
// is normally the application's frame loop.
type Engine struct {
	config  Config
	session Session
	nav     Navigator
	pages   PageSource
	logger  *zap.Logger
	metrics *monitoring.Metrics

	mu         sync.Mutex
	started    bool
	pendingURI string
	readyGen   uint64
	firedGen   uint64
	readyPage  bridge.PageInfo
	messages   []string
	events     []rawEvent
	visible    bool
	applied    bool

	// resolveMu serializes accessor allocation.
	resolveMu sync.Mutex
	nextUID   int
	elements  map[string]*Element

	onLoad    listeners[Load]
	onMessage listeners[string]
	onEvent   listeners[Event]
}

// New creates an engine and registers it with session.
func New(cfg Config, session Session, nav Navigator, pages PageSource, logger *zap.Logger) (*Engine, error) {
	if session == nil || nav == nil || pages == nil {
		return nil, fmt.Errorf("overlay: session, navigator and page source are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	defaults := DefaultConfig()
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = defaults.CallTimeout
	}
	if cfg.FrameInterval <= 0 {
		cfg.FrameInterval = defaults.FrameInterval
	}
	if cfg.QueueLimit <= 0 {
		cfg.QueueLimit = defaults.QueueLimit
	}
	e := &Engine{
		config:   cfg,
		session:  session,
		nav:      nav,
		pages:    pages,
		logger:   logger.Named("overlay"),
		visible:  true,
		applied:  true,
		elements: make(map[string]*Element),
	}
	session.SetEngine(e)
	return e, nil
}

// WithMetrics records page messages and events.
func (e *Engine) WithMetrics(metrics *monitoring.Metrics) *Engine {
	e.metrics = metrics
	return e
}

// Start marks the surface initialized and performs any load requested
// before it.
func (e *Engine) Start() error {
	e.mu.Lock()
	e.started = true
	uri := e.pendingURI
	e.pendingURI = ""
	e.mu.Unlock()

	if uri == "" {
		return nil
	}
	return e.nav.LoadURL(uri)
}

// Load navigates to uri, or remembers it until Start when the surface is not
// initialized yet.
func (e *Engine) Load(uri string) error {
	e.mu.Lock()
	if !e.started {
		e.pendingURI = uri
		e.mu.Unlock()
		e.logger.Debug("deferring load until start", zap.String("uri", uri))
		return nil
	}
	e.mu.Unlock()
	return e.nav.LoadURL(uri)
}

// Eval runs script in the page and returns its result.
func (e *Engine) Eval(ctx context.Context, script string) (string, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.config.CallTimeout)
		defer cancel()
	}
	return e.session.Eval(ctx, script)
}

// OnLoad subscribes to page loads. The returned function unsubscribes.
func (e *Engine) OnLoad(fn func(Load)) func() {
	return e.onLoad.add(fn)
}

// OnMessage subscribes to messages sent with Minko.sendMessage.
func (e *Engine) OnMessage(fn func(string)) func() {
	return e.onMessage.add(fn)
}

// OnEvent subscribes to every forwarded DOM event.
func (e *Engine) OnEvent(fn func(Event)) func() {
	return e.onEvent.add(fn)
}

// Visible reports whether the overlay is shown.
func (e *Engine) Visible() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.visible
}

// SetVisible shows or hides the overlay. The change is applied to the page
// on the next Update.
func (e *Engine) SetVisible(visible bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.visible != visible {
		e.visible = visible
		e.applied = false
	}
}

// NotifyBridgeReady is called on the UI loop when a page's bridge is ready.
func (e *Engine) NotifyBridgeReady() {
	info := e.pages.Info()

	e.resolveMu.Lock()
	e.elements = make(map[string]*Element)
	e.resolveMu.Unlock()

	e.mu.Lock()
	e.readyGen++
	e.readyPage = info
	// Visibility is page state, so each new page needs it reapplied.
	e.applied = e.visible
	e.mu.Unlock()
}

// NotifyIncomingMessage is called on the UI loop for each page message. When
// the queue is full the oldest message is discarded.
func (e *Engine) NotifyIncomingMessage(payload string) {
	e.metrics.RecordPageMessage()
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.messages) >= e.config.QueueLimit {
		e.messages = e.messages[1:]
		e.metrics.RecordDroppedNotification("message")
	}
	e.messages = append(e.messages, payload)
}

// NotifyIncomingEvent is called on the UI loop for each forwarded DOM event.
func (e *Engine) NotifyIncomingEvent(accessor string, payload string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.events) >= e.config.QueueLimit {
		e.events = e.events[1:]
		e.metrics.RecordDroppedNotification("event")
	}
	e.events = append(e.events, rawEvent{accessor: accessor, payload: payload})
}

// Update delivers queued notifications: the load signal once per ready page,
// then messages and events in arrival order.
func (e *Engine) Update(ctx context.Context) {
	e.mu.Lock()
	fire := e.readyGen != e.firedGen
	e.firedGen = e.readyGen
	page := e.readyPage
	applyVisibility := !e.applied && e.readyGen > 0
	visible := e.visible
	e.applied = true
	messages := e.messages
	e.messages = nil
	events := e.events
	e.events = nil
	e.mu.Unlock()

	if applyVisibility {
		if err := e.applyVisibility(ctx, visible); err != nil {
			e.logger.Warn("failed to apply visibility", zap.Bool("visible", visible), zap.Error(err))
		}
	}
	if fire {
		e.logger.Debug("page loaded", zap.String("url", page.URL))
		e.onLoad.emit(Load{Page: page})
	}
	for _, msg := range messages {
		e.onMessage.emit(msg)
	}
	for _, raw := range events {
		evt, err := DecodeEvent(raw.accessor, raw.payload)
		if err != nil {
			e.logger.Warn("dropping malformed event", zap.String("accessor", raw.accessor), zap.Error(err))
			continue
		}
		e.metrics.RecordPageEvent(evt.Type)
		if el := e.lookup(raw.accessor); el != nil {
			el.deliver(evt)
		}
		e.onEvent.emit(evt)
	}
}

// Run calls Update every frame interval until ctx ends.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.config.FrameInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.Update(ctx)
		}
	}
}

func (e *Engine) applyVisibility(ctx context.Context, visible bool) error {
	value := "hidden"
	if visible {
		value = ""
	}
	_, err := e.Eval(ctx, fmt.Sprintf("document.documentElement.style.visibility = %s", quote(value)))
	return err
}

// GetElementByID returns the element with the given id, or ErrNoElement.
func (e *Engine) GetElementByID(ctx context.Context, elementID string) (*Element, error) {
	return e.one(ctx, fmt.Sprintf("document.getElementById(%s)", quote(elementID)))
}

// QuerySelector returns the first element matching selector, or ErrNoElement.
func (e *Engine) QuerySelector(ctx context.Context, selector string) (*Element, error) {
	return e.one(ctx, fmt.Sprintf("document.querySelector(%s)", quote(selector)))
}

// QuerySelectorAll returns every element matching selector.
func (e *Engine) QuerySelectorAll(ctx context.Context, selector string) ([]*Element, error) {
	return e.list(ctx, fmt.Sprintf("document.querySelectorAll(%s)", quote(selector)))
}

// GetElementsByTagName returns every element with the given tag.
func (e *Engine) GetElementsByTagName(ctx context.Context, tag string) ([]*Element, error) {
	return e.list(ctx, fmt.Sprintf("document.getElementsByTagName(%s)", quote(tag)))
}

// CreateElement creates a detached element.
func (e *Engine) CreateElement(ctx context.Context, tag string) (*Element, error) {
	return e.one(ctx, fmt.Sprintf("document.createElement(%s)", quote(tag)))
}

// Body returns the document body.
func (e *Engine) Body(ctx context.Context) (*Element, error) {
	return e.one(ctx, "document.body")
}

const resolveTemplate = `(function (list, next) {
  var names = [];
  for (var i = 0; i < list.length; i++) {
    var el = list[i];
    if (!el) { names.push(""); continue; }
    if (!el.minkoName) {
      el.minkoName = "Minko.element" + next;
      Minko["element" + next] = el;
      next++;
    }
    names.push(el.minkoName);
  }
  return { names: names, next: next };
})(%s, %d)`

type resolved struct {
	Names []string `json:"names"`
	Next  int      `json:"next"`
}

// resolve gives every element in the JS array expression a stable
// Minko.element<N> accessor.
func (e *Engine) resolve(ctx context.Context, arrayExpr string) ([]*Element, error) {
	e.resolveMu.Lock()
	defer e.resolveMu.Unlock()

	out, err := e.Eval(ctx, fmt.Sprintf(resolveTemplate, arrayExpr, e.nextUID))
	if err != nil {
		return nil, err
	}
	var r resolved
	if err := sonic.UnmarshalString(out, &r); err != nil {
		return nil, fmt.Errorf("decode element list: %w", err)
	}
	if r.Next > e.nextUID {
		e.nextUID = r.Next
	}

	elements := make([]*Element, len(r.Names))
	for i, name := range r.Names {
		if name == "" {
			continue
		}
		el, ok := e.elements[name]
		if !ok {
			el = &Element{engine: e, accessor: name}
			e.elements[name] = el
		}
		elements[i] = el
	}
	return elements, nil
}

func (e *Engine) one(ctx context.Context, expr string) (*Element, error) {
	elements, err := e.resolve(ctx, "["+expr+"]")
	if err != nil {
		return nil, err
	}
	if len(elements) == 0 || elements[0] == nil {
		return nil, ErrNoElement
	}
	return elements[0], nil
}

func (e *Engine) list(ctx context.Context, expr string) ([]*Element, error) {
	elements, err := e.resolve(ctx, "Array.prototype.slice.call("+expr+")")
	if err != nil {
		return nil, err
	}
	out := elements[:0]
	for _, el := range elements {
		if el != nil {
			out = append(out, el)
		}
	}
	return out, nil
}

func (e *Engine) lookup(accessor string) *Element {
	e.resolveMu.Lock()
	defer e.resolveMu.Unlock()
	return e.elements[accessor]
}

var lineSeparators = strings.NewReplacer("\u2028", `\u2028`, "\u2029", `\u2029`)

// quote renders s as a JS string literal.
func quote(s string) string {
	out, err := sonic.MarshalString(s)
	if err != nil {
		return `""`
	}
	return lineSeparators.Replace(out)
}
