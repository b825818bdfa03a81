package looper

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

var (
	ErrClosed  = errors.New("looper is closed")
	ErrNilTask = errors.New("nil task")
)

// Looper runs posted tasks one at a time on a single goroutine.
// It plays the role of the UI thread: everything that touches the embedded
// surface is posted here, and nothing else may call into the surface.
type Looper struct {
	name   string
	logger *zap.Logger

	mu     sync.Mutex
	queue  []func()
	wake   chan struct{}
	closed bool

	done chan struct{}
}

// New starts a looper goroutine.
func New(name string, logger *zap.Logger) *Looper {
	if logger == nil {
		logger = zap.NewNop()
	}

	l := &Looper{
		name:   name,
		logger: logger.With(zap.String("looper", name)),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go l.run()
	return l
}

// Name returns the looper name.
func (l *Looper) Name() string {
	return l.name
}

// Post enqueues a task without waiting for it to run. Posting from inside a
// running task never blocks.
func (l *Looper) Post(task func()) error {
	if task == nil {
		return ErrNilTask
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	l.queue = append(l.queue, task)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return nil
}

// Call runs fn on the loop and waits for its result. It must not be used from
// inside a loop task.
func (l *Looper) Call(ctx context.Context, fn func() error) error {
	if fn == nil {
		return ErrNilTask
	}

	errCh := make(chan error, 1)
	if err := l.Post(func() { errCh <- fn() }); err != nil {
		return err
	}

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return fmt.Errorf("looper %s call: %w", l.name, ctx.Err())
	case <-l.done:
		// The task may have run during the final drain.
		select {
		case err := <-errCh:
			return err
		default:
			return ErrClosed
		}
	}
}

// Pending returns the number of queued tasks.
func (l *Looper) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

// Close stops accepting tasks, runs whatever is already queued and waits for
// the loop goroutine to exit. Safe to call multiple times, but not from a
// loop task.
func (l *Looper) Close() {
	l.mu.Lock()
	if !l.closed {
		l.closed = true
		select {
		case l.wake <- struct{}{}:
		default:
		}
	}
	l.mu.Unlock()

	<-l.done
}

// Done is closed once the loop goroutine has exited.
func (l *Looper) Done() <-chan struct{} {
	return l.done
}

func (l *Looper) run() {
	defer close(l.done)

	for {
		l.mu.Lock()
		batch := l.queue
		l.queue = nil
		closed := l.closed
		l.mu.Unlock()

		for _, task := range batch {
			l.exec(task)
		}

		if len(batch) > 0 {
			continue
		}
		if closed {
			return
		}
		<-l.wake
	}
}

func (l *Looper) exec(task func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("task panicked", zap.Any("panic", r), zap.Stack("stack"))
		}
	}()
	task()
}
