package bridge

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dop251/goja"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/GriffinCanCode/htmloverlay/internal/looper"
)

// jsSurface is a minimal surface over a bare goja runtime. Evaluate runs the
// script immediately and reports completion on a later loop turn, the way a
// real web view does.
type jsSurface struct {
	vm   *goja.Runtime
	loop *looper.Looper

	mu      sync.Mutex
	scripts []string
	// delay, when set, postpones each evaluation by the returned duration.
	delay func() time.Duration
	// silent drops every evaluation.
	silent bool
	// refuse, when set, is reported instead of running the script.
	refuse error
}

func newJSSurface(loop *looper.Looper) *jsSurface {
	return &jsSurface{vm: goja.New(), loop: loop}
}

func (s *jsSurface) Evaluate(script string, done func(string, error)) {
	s.mu.Lock()
	s.scripts = append(s.scripts, script)
	silent, delay, refuse := s.silent, s.delay, s.refuse
	s.mu.Unlock()

	if silent {
		return
	}
	if refuse != nil {
		_ = s.loop.Post(func() { done("", refuse) })
		return
	}

	run := func() {
		value, err := s.vm.RunString(script)
		out := ""
		if err == nil && value != nil && !goja.IsUndefined(value) {
			out = value.String()
		}
		_ = s.loop.Post(func() { done(out, err) })
	}

	if delay == nil {
		run()
		return
	}
	time.AfterFunc(delay(), func() { _ = s.loop.Post(run) })
}

func (s *jsSurface) ExposeBridgeObject(name string, obj BridgeObject) error {
	return s.vm.Set(name, map[string]interface{}{
		"onResult":  obj.OnResult,
		"onError":   obj.OnError,
		"onMessage": obj.OnMessage,
		"onEvent":   obj.OnEvent,
	})
}

func (s *jsSurface) setSilent(silent bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.silent = silent
}

func (s *jsSurface) setRefuse(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refuse = err
}

func (s *jsSurface) evaluated() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.scripts...)
}

type mockEngine struct {
	mock.Mock
}

func (m *mockEngine) NotifyBridgeReady() {
	m.Called()
}

func (m *mockEngine) NotifyIncomingMessage(payload string) {
	m.Called(payload)
}

func (m *mockEngine) NotifyIncomingEvent(accessor string, payload string) {
	m.Called(accessor, payload)
}

type fixture struct {
	loop    *looper.Looper
	surface *jsSurface
	session *Session
}

func newFixture(t *testing.T, timeout time.Duration) *fixture {
	return newFixtureWithLogger(t, timeout, zaptest.NewLogger(t))
}

func newFixtureWithLogger(t *testing.T, timeout time.Duration, logger *zap.Logger) *fixture {
	t.Helper()

	loop := looper.New("ui", logger)
	t.Cleanup(loop.Close)

	surface := newJSSurface(loop)
	session, err := NewSession(surface, loop, Config{EvalTimeout: timeout}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Close() })

	return &fixture{loop: loop, surface: surface, session: session}
}

// onLoop runs fn on the UI loop and waits for it.
func (f *fixture) onLoop(t *testing.T, fn func()) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, f.loop.Call(ctx, func() error {
		fn()
		return nil
	}))
}
