package webview

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"sync/atomic"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/htmloverlay/internal/bridge"
	"github.com/GriffinCanCode/htmloverlay/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/htmloverlay/internal/loader"
)

const blankDocument = "<!DOCTYPE html><html><head></head><body></body></html>"

var identifier = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*$`)

type exposed struct {
	name string
	obj  bridge.BridgeObject
}

// View is a headless web surface. Each navigation parses the document with
// goquery and gives it a fresh goja runtime. Navigation and script work run
// on the UI loop, fetching runs on its own goroutine.
type View struct {
	config  Config
	loop    bridge.Dispatcher
	fetcher Fetcher
	logger  *zap.Logger
	metrics *monitoring.Metrics

	ctx       context.Context
	cancel    context.CancelFunc
	destroyed atomic.Bool

	// Owned by the UI loop.
	page        *page
	bridges     []exposed
	navSeq      uint64
	navigating  bool
	generation  uint64
	cancelFetch context.CancelFunc

	mu       sync.RWMutex
	listener bridge.NavigationListener
	snap     Snapshot
}

// New creates a view showing a blank document.
func New(loop bridge.Dispatcher, fetcher Fetcher, cfg Config, logger *zap.Logger) (*View, error) {
	if loop == nil || fetcher == nil {
		return nil, fmt.Errorf("webview: loop and fetcher are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	defaults := DefaultConfig()
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaults.UserAgent
	}
	if cfg.MaxCallStack == 0 {
		cfg.MaxCallStack = defaults.MaxCallStack
	}

	ctx, cancel := context.WithCancel(context.Background())
	v := &View{
		config:  cfg,
		loop:    loop,
		fetcher: fetcher,
		logger:  logger.Named("webview"),
		ctx:     ctx,
		cancel:  cancel,
	}
	blank, err := newPage(0, "about:blank", blankDocument, cfg, loop.Post, v.logger)
	if err != nil {
		cancel()
		return nil, err
	}
	v.page = blank
	v.snap = Snapshot{URL: blank.url}
	return v, nil
}

// WithMetrics records page events.
func (v *View) WithMetrics(metrics *monitoring.Metrics) *View {
	v.metrics = metrics
	return v
}

// SetNavigationListener sets the receiver of lifecycle signals.
func (v *View) SetNavigationListener(listener bridge.NavigationListener) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.listener = listener
}

func (v *View) navigationListener() bridge.NavigationListener {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.listener
}

// LoadURL navigates to uri. Loading completes asynchronously and is reported
// to the navigation listener.
func (v *View) LoadURL(uri string) error {
	if v.destroyed.Load() {
		return ErrDestroyed
	}
	return v.loop.Post(func() {
		v.navigate(uri, func(ctx context.Context) (*loader.Page, error) {
			return v.fetcher.Fetch(ctx, uri)
		})
	})
}

// LoadHTML navigates to a document given inline. url is the address the
// page reports for itself.
func (v *View) LoadHTML(url, document string) error {
	if v.destroyed.Load() {
		return ErrDestroyed
	}
	return v.loop.Post(func() {
		v.navigate(url, func(context.Context) (*loader.Page, error) {
			return &loader.Page{URL: url, Source: loader.SourceInline, ContentType: "text/html", Charset: "utf-8", HTML: document}, nil
		})
	})
}

func (v *View) navigate(uri string, fetch func(context.Context) (*loader.Page, error)) {
	if v.destroyed.Load() {
		return
	}
	v.navSeq++
	seq := v.navSeq
	v.navigating = true
	if v.cancelFetch != nil {
		v.cancelFetch()
	}
	ctx, cancel := context.WithCancel(v.ctx)
	v.cancelFetch = cancel

	v.mu.Lock()
	v.snap.URL = uri
	v.snap.Loading = true
	v.mu.Unlock()

	v.logger.Debug("navigation started", zap.String("url", uri), zap.Uint64("seq", seq))
	if l := v.navigationListener(); l != nil {
		l.OnNavigationStarted(uri)
	}

	go func() {
		page, err := fetch(ctx)
		if postErr := v.loop.Post(func() { v.complete(seq, uri, page, err) }); postErr != nil {
			cancel()
		}
	}()
}

func (v *View) complete(seq uint64, uri string, lp *loader.Page, err error) {
	if seq != v.navSeq || v.destroyed.Load() {
		return
	}
	v.navigating = false
	v.cancelFetch()
	v.cancelFetch = nil

	if err == nil {
		err = v.install(lp)
	}
	if err != nil {
		v.mu.Lock()
		v.snap.Loading = false
		v.mu.Unlock()
		v.refresh()
		v.logger.Warn("navigation failed", zap.String("url", uri), zap.Error(err))
		if l := v.navigationListener(); l != nil {
			l.OnNavigationFailed(uri, err)
		}
		return
	}

	v.logger.Debug("navigation finished", zap.String("url", lp.URL), zap.Uint64("generation", v.generation))
	if l := v.navigationListener(); l != nil {
		l.OnNavigationFinished(lp.URL)
	}
}

// install replaces the current page, rebinds bridge objects and runs the
// document's inline scripts.
func (v *View) install(lp *loader.Page) error {
	next, err := newPage(v.generation+1, lp.URL, lp.HTML, v.config, v.loop.Post, v.logger)
	if err != nil {
		return err
	}
	for _, b := range v.bridges {
		if err := next.bind(b.name, b.obj); err != nil {
			return fmt.Errorf("bind %s: %w", b.name, err)
		}
	}

	v.generation++
	if v.page != nil {
		v.page.close()
	}
	v.page = next
	if v.config.RunPageScripts {
		next.runScripts()
	}

	v.mu.Lock()
	v.snap.Loading = false
	v.mu.Unlock()
	v.refresh()
	return nil
}

// refresh copies page state into the snapshot.
func (v *View) refresh() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.page == nil {
		return
	}
	v.snap.URL = v.page.url
	v.snap.Title = v.page.dom.Title()
	v.snap.Generation = v.page.generation
	v.snap.Console = v.page.consoleCopy()
	v.snap.Changes = v.page.dom.Changes()
}

// Evaluate runs script in the current page. It must be called on the UI
// loop, and done is posted back to it. While a navigation is in flight the
// current page is already superseded, so scripts fail with
// bridge.ErrPageInvalidated instead of running against it.
func (v *View) Evaluate(script string, done func(value string, err error)) {
	var (
		out string
		err error
	)
	switch {
	case v.destroyed.Load() || v.page == nil:
		err = ErrDestroyed
	case v.navigating:
		err = fmt.Errorf("%w: navigation in progress", bridge.ErrPageInvalidated)
	default:
		var result goja.Value
		result, err = v.page.run(script)
		out = exportString(result)
		v.refresh()
	}
	if done == nil {
		return
	}
	if postErr := v.loop.Post(func() { done(out, err) }); postErr != nil {
		v.logger.Debug("dropping evaluation callback", zap.Error(postErr))
	}
}

// ExposeBridgeObject binds obj under name in the current page and in every
// page loaded later. It must be called on the UI loop.
func (v *View) ExposeBridgeObject(name string, obj bridge.BridgeObject) error {
	if v.destroyed.Load() {
		return ErrDestroyed
	}
	if !identifier.MatchString(name) || obj == nil {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	replaced := false
	for i := range v.bridges {
		if v.bridges[i].name == name {
			v.bridges[i].obj = obj
			replaced = true
		}
	}
	if !replaced {
		v.bridges = append(v.bridges, exposed{name: name, obj: obj})
	}
	if v.page != nil {
		return v.page.bind(name, obj)
	}
	return nil
}

// DispatchEvent fires evt at every element matching selector. Listeners run
// on the UI loop.
func (v *View) DispatchEvent(selector string, evt Event) error {
	if v.destroyed.Load() {
		return ErrDestroyed
	}
	return v.loop.Post(func() {
		if v.page == nil || v.page.closed {
			return
		}
		v.metrics.RecordPageEvent(evt.Type)
		for _, node := range v.page.dom.Find(selector) {
			if _, err := v.page.dom.Dispatch(node, evt); err != nil {
				v.page.reportError(err)
			}
		}
		v.refresh()
	})
}

// Snapshot returns a copy of the view state.
func (v *View) Snapshot() Snapshot {
	v.mu.RLock()
	defer v.mu.RUnlock()
	snap := v.snap
	snap.Console = append([]LogEntry(nil), v.snap.Console...)
	snap.Changes = append([]DOMChange(nil), v.snap.Changes...)
	snap.Destroyed = v.destroyed.Load()
	return snap
}

// Destroy stops the view. Pending navigations are cancelled and later calls
// fail with ErrDestroyed.
func (v *View) Destroy() {
	if !v.destroyed.CompareAndSwap(false, true) {
		return
	}
	v.cancel()
	err := v.loop.Post(func() {
		if v.cancelFetch != nil {
			v.cancelFetch()
			v.cancelFetch = nil
		}
		if v.page != nil {
			v.page.close()
		}
	})
	if err != nil {
		v.logger.Debug("view destroyed after loop shutdown", zap.Error(err))
	}
	v.logger.Info("view destroyed")
}
