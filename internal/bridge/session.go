package bridge

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/htmloverlay/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/htmloverlay/internal/shared/id"
)

// MaxRequestID is the largest request id. Ids travel through page scripts as
// JS numbers, so they stay within the exactly representable integer range.
const MaxRequestID int64 = 1<<53 - 1

// FailureResult is what EvalJS returns when a request fails for any reason
// other than a script error.
const FailureResult = ""

var identifierPattern = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*$`)

// Config controls a bridge session.
type Config struct {
	BridgeName  string        // Global name of the bridge object in the page
	EvalTimeout time.Duration // Deadline for one evaluation
}

// DefaultConfig returns the session defaults.
func DefaultConfig() Config {
	return Config{
		BridgeName:  "MinkoNativeInterface",
		EvalTimeout: 5 * time.Second,
	}
}

// Session owns one surface's pending requests and their results. Eval may be
// called from any goroutine; everything touching the surface runs on the
// dispatcher.
type Session struct {
	id       id.SessionID
	config   Config
	surface  Surface
	loop     Dispatcher
	registry *Registry
	logger   *zap.Logger
	metrics  *monitoring.Metrics

	counter atomic.Int64
	closed  atomic.Bool

	mu     sync.RWMutex
	engine Engine
}

// NewSession creates a session and exposes its bridge object on the surface.
// The exposure is posted to the loop ahead of any evaluation.
func NewSession(surface Surface, loop Dispatcher, cfg Config, logger *zap.Logger) (*Session, error) {
	if surface == nil || loop == nil {
		return nil, errors.New("bridge: surface and dispatcher are required")
	}
	if cfg.BridgeName == "" {
		cfg.BridgeName = DefaultConfig().BridgeName
	}
	if !identifierPattern.MatchString(cfg.BridgeName) {
		return nil, fmt.Errorf("bridge: invalid bridge object name %q", cfg.BridgeName)
	}
	if cfg.EvalTimeout <= 0 {
		cfg.EvalTimeout = DefaultConfig().EvalTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	sid := id.NewSessionID()
	s := &Session{
		id:       sid,
		config:   cfg,
		surface:  surface,
		loop:     loop,
		registry: NewRegistry(),
		logger:   logger.With(zap.String("session", sid.String())),
	}

	callbacks := &sessionCallbacks{session: s}
	err := loop.Post(func() {
		if err := surface.ExposeBridgeObject(cfg.BridgeName, callbacks); err != nil {
			s.logger.Error("failed to expose bridge object",
				zap.String("name", cfg.BridgeName),
				zap.Error(err),
			)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchedulingFailure, err)
	}

	return s, nil
}

// WithMetrics adds metrics tracking to the session.
func (s *Session) WithMetrics(metrics *monitoring.Metrics) *Session {
	s.metrics = metrics
	return s
}

// SetEngine sets the receiver of messages pushed by page scripts.
func (s *Session) SetEngine(engine Engine) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.engine = engine
}

func (s *Session) currentEngine() Engine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

// ID returns the session identifier.
func (s *Session) ID() id.SessionID {
	return s.id
}

// Config returns the effective configuration.
func (s *Session) Config() Config {
	return s.config
}

// Surface returns the surface handle. Only use it from the UI loop.
func (s *Session) Surface() Surface {
	return s.surface
}

// Pending returns the number of requests awaiting a result.
func (s *Session) Pending() int {
	return s.registry.Pending()
}

// Closed reports whether the session has been torn down.
func (s *Session) Closed() bool {
	return s.closed.Load()
}

// Eval evaluates script in the page and blocks until its result arrives, the
// session deadline passes or ctx ends.
func (s *Session) Eval(ctx context.Context, script string) (string, error) {
	if s.closed.Load() {
		return "", ErrSessionClosed
	}

	reqID, err := s.nextID()
	if err != nil {
		return "", err
	}
	req := Request{ID: reqID, Script: script, SubmittedAt: time.Now()}

	if err := s.registry.RegisterPending(reqID); err != nil {
		return "", fmt.Errorf("register request %d: %w", reqID, err)
	}
	// Close may have run between the first check and registration.
	if s.closed.Load() {
		s.registry.Abandon(reqID)
		s.registry.Take(reqID)
		return "", ErrSessionClosed
	}

	s.metrics.IncPendingEvals()
	defer s.metrics.DecPendingEvals()

	task := &executionTask{session: s, request: req}
	if err := s.loop.Post(task.run); err != nil {
		s.registry.Abandon(reqID)
		schedErr := fmt.Errorf("%w: %v", ErrSchedulingFailure, err)
		s.shutdown(schedErr)
		s.metrics.RecordEval("scheduling", time.Since(req.SubmittedAt))
		return "", schedErr
	}

	waitCtx, cancel := context.WithTimeout(ctx, s.config.EvalTimeout)
	defer cancel()

	outcome, err := s.registry.Wait(waitCtx, reqID)
	elapsed := time.Since(req.SubmittedAt)

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			s.logger.Warn("abandoned request after deadline",
				zap.Int64("id", reqID),
				zap.Duration("elapsed", elapsed),
				zap.Duration("deadline", s.config.EvalTimeout),
				zap.Int("script_len", len(script)),
			)
			s.metrics.RecordEval("timeout", elapsed)
			return "", fmt.Errorf("request %d: %w", reqID, ErrTimeout)
		}
		s.metrics.RecordEval("cancelled", elapsed)
		return "", fmt.Errorf("request %d: %w", reqID, err)
	}

	if outcome.Err != nil {
		s.metrics.RecordEval(outcomeStatus(outcome.Err), elapsed)
		return "", outcome.Err
	}

	s.metrics.RecordEval("ok", elapsed)
	return outcome.Value, nil
}

// EvalJS is the engine-facing form of Eval. Script errors come back as their
// message; every other failure comes back as FailureResult.
func (s *Session) EvalJS(script string) string {
	value, err := s.Eval(context.Background(), script)
	if err == nil {
		return value
	}

	var evalErr *EvaluationError
	if errors.As(err, &evalErr) {
		return evalErr.Message
	}
	return FailureResult
}

// Invalidate fails every pending request with reason and returns how many
// were affected.
func (s *Session) Invalidate(reason error) int {
	n := s.registry.FailAll(reason)
	if n > 0 {
		s.logger.Info("invalidated pending requests",
			zap.Int("count", n),
			zap.Error(reason),
		)
		s.metrics.RecordInvalidation(n)
	}
	return n
}

// Close tears the session down. Pending requests fail with ErrSessionClosed.
func (s *Session) Close() error {
	s.shutdown(ErrSessionClosed)
	return nil
}

func (s *Session) shutdown(reason error) {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	n := s.registry.FailAll(reason)
	s.logger.Info("bridge session closed",
		zap.Int("failed_pending", n),
		zap.Error(reason),
	)
}

func (s *Session) nextID() (int64, error) {
	for {
		cur := s.counter.Load()
		if cur >= MaxRequestID {
			return 0, ErrIDExhausted
		}
		if s.counter.CompareAndSwap(cur, cur+1) {
			return cur + 1, nil
		}
	}
}

func outcomeStatus(err error) string {
	switch {
	case errors.Is(err, ErrPageInvalidated):
		return "invalidated"
	case errors.Is(err, ErrSessionClosed):
		return "closed"
	case errors.Is(err, ErrSchedulingFailure):
		return "scheduling"
	case IsEvaluationError(err):
		return "script_error"
	default:
		return "error"
	}
}

// sessionCallbacks is the bridge object exposed to page scripts.
type sessionCallbacks struct {
	session *Session
}

func (c *sessionCallbacks) OnResult(reqID int64, result string) {
	if !c.session.registry.Store(reqID, result) {
		c.dropStale(reqID)
	}
}

func (c *sessionCallbacks) OnError(reqID int64, message string) {
	if !c.session.registry.Fail(reqID, &EvaluationError{Message: message}) {
		c.dropStale(reqID)
	}
}

func (c *sessionCallbacks) OnMessage(payload string) {
	engine := c.session.currentEngine()
	if engine == nil {
		c.session.logger.Debug("no engine for page message", zap.Int("len", len(payload)))
		return
	}
	engine.NotifyIncomingMessage(payload)
}

func (c *sessionCallbacks) OnEvent(accessor string, payload string) {
	receiver, ok := c.session.currentEngine().(EventReceiver)
	if !ok {
		return
	}
	receiver.NotifyIncomingEvent(accessor, payload)
}

func (c *sessionCallbacks) dropStale(reqID int64) {
	c.session.logger.Warn("dropping result for request that is not pending",
		zap.Int64("id", reqID),
		zap.Error(ErrStaleDelivery),
	)
	c.session.metrics.RecordStaleDelivery()
}
