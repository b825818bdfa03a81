package webview

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/htmloverlay/internal/bridge"
)

const (
	maxTimers       = 256
	minIntervalTick = 4 * time.Millisecond
)

// page is one loaded document and its script runtime. Everything except
// the timer callbacks runs on the UI loop.
type page struct {
	generation uint64
	url        string
	vm         *goja.Runtime
	dom        *DOM
	config     Config
	logger     *zap.Logger
	post       func(func()) error

	console   []LogEntry
	timers    map[int64]*time.Timer
	nextTimer int64
	depth     int
	closed    bool
}

func newPage(generation uint64, url, source string, cfg Config, post func(func()) error, logger *zap.Logger) (*page, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(source))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", url, err)
	}

	vm := goja.New()
	if cfg.MaxCallStack > 0 {
		vm.SetMaxCallStackSize(cfg.MaxCallStack)
	}

	p := &page{
		generation: generation,
		url:        url,
		vm:         vm,
		dom:        newDOM(vm, doc, cfg.ChangeLimit),
		config:     cfg,
		logger:     logger.With(zap.Uint64("generation", generation)),
		post:       post,
		timers:     make(map[int64]*time.Timer),
	}
	p.dom.invoke = p.invoke
	if err := p.setupGlobals(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *page) setupGlobals() error {
	vm := p.vm
	for _, name := range []string{"require", "process", "module", "exports"} {
		if err := vm.Set(name, goja.Undefined()); err != nil {
			return err
		}
	}

	console := vm.NewObject()
	for _, level := range []string{"log", "info", "warn", "error", "debug"} {
		_ = console.Set(level, p.consoleFunc(level))
	}

	location := vm.NewObject()
	_ = location.Set("href", p.url)
	navigator := vm.NewObject()
	_ = navigator.Set("userAgent", p.config.UserAgent)

	globals := map[string]interface{}{
		"console":   console,
		"location":  location,
		"navigator": navigator,
		"document":  vm.NewDynamicObject(&documentObject{dom: p.dom}),
		"window":    vm.GlobalObject(),
		"self":      vm.GlobalObject(),
		"setTimeout": func(call goja.FunctionCall) goja.Value {
			return p.setTimer(call, false)
		},
		"setInterval": func(call goja.FunctionCall) goja.Value {
			return p.setTimer(call, true)
		},
		"clearTimeout":  p.clearTimer,
		"clearInterval": p.clearTimer,
	}
	for name, value := range globals {
		if err := vm.Set(name, value); err != nil {
			return fmt.Errorf("set %s: %w", name, err)
		}
	}

	// window listeners share the document's.
	_, err := vm.RunString(`window.addEventListener = function (t, f) { document.addEventListener(t, f); };
window.removeEventListener = function (t, f) { document.removeEventListener(t, f); };`)
	return err
}

func (p *page) consoleFunc(level string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			parts[i] = arg.String()
		}
		p.log(level, strings.Join(parts, " "))
		return goja.Undefined()
	}
}

func (p *page) log(level, msg string) {
	if p.config.ConsoleLimit > 0 && len(p.console) >= p.config.ConsoleLimit {
		p.console = p.console[1:]
	}
	p.console = append(p.console, LogEntry{Level: level, Message: msg, Time: time.Now()})
	p.logger.Debug("page console", zap.String("level", level), zap.String("message", msg))
}

// reportError records an uncaught error the way a browser console would.
func (p *page) reportError(err error) {
	var exc *goja.Exception
	if errors.As(err, &exc) {
		p.log("error", "Uncaught "+exc.Value().String())
		return
	}
	p.log("error", "Uncaught "+err.Error())
}

// guard runs fn under the time budget. Nested calls share the outer budget.
func (p *page) guard(fn func() (goja.Value, error)) (goja.Value, error) {
	if p.closed {
		return nil, ErrDestroyed
	}
	if p.depth > 0 || p.config.ScriptTimeout <= 0 {
		p.depth++
		defer func() { p.depth-- }()
		return fn()
	}

	var mu sync.Mutex
	finished := false
	timer := time.AfterFunc(p.config.ScriptTimeout, func() {
		mu.Lock()
		defer mu.Unlock()
		if !finished {
			p.vm.Interrupt(ErrScriptTimeout)
		}
	})

	p.depth++
	value, err := fn()
	p.depth--

	mu.Lock()
	finished = true
	mu.Unlock()
	timer.Stop()
	p.vm.ClearInterrupt()

	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		return nil, fmt.Errorf("%w (%s)", ErrScriptTimeout, p.config.ScriptTimeout)
	}
	return value, err
}

// run evaluates source in the page's global scope.
func (p *page) run(source string) (goja.Value, error) {
	return p.guard(func() (goja.Value, error) {
		return p.vm.RunString(source)
	})
}

func (p *page) invoke(fn goja.Callable, this goja.Value, args ...goja.Value) error {
	_, err := p.guard(func() (goja.Value, error) {
		return fn(this, args...)
	})
	return err
}

func (p *page) setTimer(call goja.FunctionCall, repeat bool) goja.Value {
	fn, ok := goja.AssertFunction(call.Argument(0))
	if !ok {
		panic(p.vm.NewTypeError("timer callback must be a function"))
	}
	if len(p.timers) >= maxTimers {
		panic(p.vm.NewTypeError("too many timers"))
	}
	delay := time.Duration(call.Argument(1).ToInteger()) * time.Millisecond
	if delay < 0 {
		delay = 0
	}
	if repeat && delay < minIntervalTick {
		delay = minIntervalTick
	}
	var args []goja.Value
	if len(call.Arguments) > 2 {
		args = append(args, call.Arguments[2:]...)
	}

	p.nextTimer++
	id := p.nextTimer
	var fire func()
	fire = func() {
		_ = p.post(func() {
			if p.closed {
				return
			}
			if _, ok := p.timers[id]; !ok {
				return
			}
			if !repeat {
				delete(p.timers, id)
			}
			if err := p.invoke(fn, goja.Undefined(), args...); err != nil {
				p.reportError(err)
			}
			if _, ok := p.timers[id]; ok && repeat && !p.closed {
				p.timers[id] = time.AfterFunc(delay, fire)
			}
		})
	}
	p.timers[id] = time.AfterFunc(delay, fire)
	return p.vm.ToValue(id)
}

func (p *page) clearTimer(call goja.FunctionCall) goja.Value {
	id := call.Argument(0).ToInteger()
	if t, ok := p.timers[id]; ok {
		t.Stop()
		delete(p.timers, id)
	}
	return goja.Undefined()
}

// bind installs a native bridge object under name.
func (p *page) bind(name string, obj bridge.BridgeObject) error {
	o := p.vm.NewObject()
	methods := map[string]func(goja.FunctionCall) goja.Value{
		"onResult": func(call goja.FunctionCall) goja.Value {
			obj.OnResult(call.Argument(0).ToInteger(), call.Argument(1).String())
			return goja.Undefined()
		},
		"onError": func(call goja.FunctionCall) goja.Value {
			obj.OnError(call.Argument(0).ToInteger(), call.Argument(1).String())
			return goja.Undefined()
		},
		"onMessage": func(call goja.FunctionCall) goja.Value {
			obj.OnMessage(call.Argument(0).String())
			return goja.Undefined()
		},
		"onEvent": func(call goja.FunctionCall) goja.Value {
			obj.OnEvent(call.Argument(0).String(), call.Argument(1).String())
			return goja.Undefined()
		},
	}
	for method, impl := range methods {
		if err := o.Set(method, impl); err != nil {
			return err
		}
	}
	return p.vm.Set(name, o)
}

// runScripts executes inline scripts in document order, then fires the
// DOMContentLoaded and load events.
func (p *page) runScripts() {
	p.dom.doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		if src, ok := s.Attr("src"); ok {
			p.logger.Debug("skipping external script", zap.String("src", src))
			return
		}
		switch strings.ToLower(strings.TrimSpace(s.AttrOr("type", ""))) {
		case "", "text/javascript", "application/javascript":
		default:
			return
		}
		if _, err := p.run(s.Text()); err != nil {
			p.reportError(err)
		}
	})
	for _, typ := range []string{"DOMContentLoaded", "load"} {
		if _, err := p.dom.Dispatch(p.dom.Root(), Event{Type: typ}); err != nil {
			p.reportError(err)
		}
	}
}

func (p *page) consoleCopy() []LogEntry {
	return append([]LogEntry(nil), p.console...)
}

func (p *page) close() {
	p.closed = true
	for id, t := range p.timers {
		t.Stop()
		delete(p.timers, id)
	}
}

// exportString renders a completion value for the evaluation callback.
func exportString(v goja.Value) string {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return ""
	}
	return v.String()
}
