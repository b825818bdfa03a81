package looper

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostRunsInOrder(t *testing.T) {
	l := New("test", nil)
	defer l.Close()

	var (
		mu    sync.Mutex
		order []int
	)
	done := make(chan struct{})

	for i := 0; i < 100; i++ {
		i := i
		require.NoError(t, l.Post(func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			if i == 99 {
				close(done)
			}
		}))
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("tasks did not run")
	}

	mu.Lock()
	defer mu.Unlock()
	for i, v := range order {
		assert.Equal(t, i, v)
	}
}

func TestPostFromInsideTask(t *testing.T) {
	l := New("test", nil)
	defer l.Close()

	done := make(chan struct{})
	require.NoError(t, l.Post(func() {
		// Posting from the loop itself must not block.
		for i := 0; i < 1000; i++ {
			_ = l.Post(func() {})
		}
		_ = l.Post(func() { close(done) })
	}))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("nested posts did not run")
	}
}

func TestCall(t *testing.T) {
	l := New("test", nil)
	defer l.Close()

	ran := false
	err := l.Call(context.Background(), func() error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
}

func TestCallContextCancelled(t *testing.T) {
	l := New("test", nil)
	defer l.Close()

	block := make(chan struct{})
	require.NoError(t, l.Post(func() { <-block }))
	defer close(block)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := l.Call(ctx, func() error { return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPanicDoesNotKillLoop(t *testing.T) {
	l := New("test", nil)
	defer l.Close()

	require.NoError(t, l.Post(func() { panic("boom") }))

	err := l.Call(context.Background(), func() error { return nil })
	assert.NoError(t, err)
}

func TestCloseDrainsAndRejects(t *testing.T) {
	l := New("test", nil)

	count := 0
	for i := 0; i < 10; i++ {
		require.NoError(t, l.Post(func() { count++ }))
	}
	l.Close()

	assert.Equal(t, 10, count)
	assert.ErrorIs(t, l.Post(func() {}), ErrClosed)
	assert.ErrorIs(t, l.Post(nil), ErrNilTask)

	// Second close is a no-op.
	l.Close()
}
