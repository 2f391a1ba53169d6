package cleaner

import (
	"context"

	"github.com/Novaly-Studios/Cleaner/atomics"
)

// Task is the handle to a goroutine spawned with Go. Task carries the Cancel
// capability, so a task can also be added to other cleaners.
type Task struct {
	cancel   context.CancelFunc
	finished atomics.Once
}

// Cancel requests that the task stop, by canceling the context its function
// was started with. Cancel does not wait for the function to return, use
// Done for that.
func (t *Task) Cancel() {
	t.cancel()
}

// Done returns a channel that is closed once the task function has returned.
func (t *Task) Done() <-chan struct{} {
	return t.finished.Done()
}

// Go spawns fn on its own goroutine and couples it to the cleaner: the task
// is registered as an entry before fn starts, disposing the cleaner cancels
// fn's context, and the task removes itself once fn returns. Panics in fn
// are recovered and reported through the monitor.
//
// Calling Go on a cleaned cleaner still runs fn, with a context that is
// already canceled.
func (c *Cleaner) Go(fn func(ctx context.Context)) *Task {
	ctx, cancel := context.WithCancel(context.Background())
	t := &Task{cancel: cancel}

	c.Add(t) // cannot fail validation, and disposes by canceling if cleaned
	if c.State() == StateCleaned {
		// immediate disposal cancels on another goroutine, make sure fn
		// observes cancellation from the start
		cancel()
	}

	go func() {
		defer t.finished.Do(nil)
		defer c.Remove(t)
		c.monitor.CapturePanic(func() { fn(ctx) })
	}()
	return t
}
