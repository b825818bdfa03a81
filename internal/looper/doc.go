/*
Package looper provides the single-threaded event loop that owns the embedded
web surface.

Every operation on the surface (evaluate, expose bridge object, navigate) is
posted as a task and runs on the loop goroutine in FIFO order. Callers on other
goroutines never touch the surface directly.

	loop := looper.New("ui", logger)
	defer loop.Close()

	loop.Post(func() {
		view.Evaluate(script, done)
	})

The queue is unbounded so that callbacks scheduled from inside a task cannot
deadlock the loop. A panicking task is recovered and logged.
*/
package looper
