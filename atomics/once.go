// Package atomics provides small concurrency primitives used across the
// cleaner packages.
package atomics

import (
	"sync"
	"sync/atomic"
)

// Once is similar to sync.Once except that once.Do() returns true, if this
// was the first call to once.Do(). Additionally, once.Wait() blocks until
// once.Do() has returned, and once.Done() exposes the same condition as a
// channel for use in select statements.
//
// Unlike sync.Once, f does not run under a lock, so f may call Do or IsDone
// on the same Once. A nested Do returns false without running its argument.
// Calling Wait from inside f deadlocks, as f would be waiting for itself.
//
// Also once.Do(nil) will not panic, but act similar to once.Do(func(){}).
type Once struct {
	started   atomic.Bool
	m         sync.Mutex
	completed bool
	c         chan struct{}
}

// Do will call f() and return true, the first time once.Do() is called.
// All following calls to once.Do() will not call f() and return false.
//
// The latch trips before f runs and the completion channel closes after f
// returns, even if f panics.
func (o *Once) Do(f func()) bool {
	if !o.started.CompareAndSwap(false, true) {
		return false
	}

	defer func() {
		o.m.Lock()
		o.completed = true
		if o.c != nil {
			close(o.c)
		}
		o.m.Unlock()
	}()

	if f != nil {
		f()
	}
	return true
}

// IsDone returns true once Do has been called. It may return true while f is
// still running; use Wait or Done to synchronize with f's completion.
func (o *Once) IsDone() bool {
	return o.started.Load()
}

// Done returns a channel that is closed after the first Do call returns. The
// channel is allocated lazily, so a Once that is never waited on does not
// allocate one.
func (o *Once) Done() <-chan struct{} {
	o.m.Lock()
	defer o.m.Unlock()

	if o.c == nil {
		o.c = make(chan struct{})
		if o.completed {
			close(o.c)
		}
	}
	return o.c
}

// Wait will block until once.Do() has been called and returned. After this,
// once.Wait() will always return immediately.
func (o *Once) Wait() {
	<-o.Done()
}
