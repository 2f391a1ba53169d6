package lifebind

import (
	"sync"

	"github.com/benbjohnson/clock"

	cleaner "github.com/Novaly-Studios/Cleaner"
	"github.com/Novaly-Studios/Cleaner/host"
)

// HandleOptions selects which host lifetime signal ends a handle's lifetime.
type HandleOptions struct {
	// UseDestroyEvent switches from the default signal, removal out of the
	// live tree, to the handle's one-shot destroy event. Destruction always
	// implies removal, so the default signal covers destroyed handles too,
	// just one debounce later.
	UseDestroyEvent bool
}

// BindHandles arms a binding over host object lifetimes: c is cleaned when
// handles leave their tree (or are destroyed, see HandleOptions) per mode.
//
// Removal out of the tree is debounced by the binder's debounce interval:
// a handle that leaves the tree and returns before the interval elapses
// never counts. A handle that is already outside the tree when bound starts
// its debounce immediately.
func (b *Binder) BindHandles(c *cleaner.Cleaner, mode Mode, options HandleOptions, handles ...host.Handle) error {
	for _, h := range handles {
		if h == nil {
			return ErrNilLifetime
		}
	}
	trig, err := b.registerBinding(c, mode, len(handles))
	if err != nil {
		return err
	}
	for _, h := range handles {
		signal := trig.lifetimeSignal()
		if options.UseDestroyEvent {
			// destroy events are one-shot by contract, no self-cancel needed
			c.Add(cancelHook{cancel: h.OnDestroyed(signal)})
			continue
		}
		w := newTreeWatch(b, h, signal)
		c.Add(w)
		w.start()
	}
	return nil
}

// ForHandles creates a cleaner bound over host object lifetimes; see
// BindHandles.
func (b *Binder) ForHandles(mode Mode, options HandleOptions, handles ...host.Handle) (*cleaner.Cleaner, error) {
	c := cleaner.New(b.monitor)
	if err := b.BindHandles(c, mode, options, handles...); err != nil {
		return nil, err
	}
	return c, nil
}

// treeWatch debounces one handle's removal out of the live tree. It carries
// the Disconnect capability so the bound cleaner disposes it, and it stops
// itself after signaling.
type treeWatch struct {
	binder *Binder
	handle host.Handle
	signal func()

	m              sync.Mutex
	stopped        bool
	timer          *clock.Timer
	cancelAncestry func()
}

func newTreeWatch(b *Binder, h host.Handle, signal func()) *treeWatch {
	w := &treeWatch{binder: b, handle: h}
	w.signal = func() {
		w.stop()
		signal()
	}
	return w
}

func (w *treeWatch) start() {
	cancel := w.handle.OnAncestryChanged(w.ancestryChanged)
	w.m.Lock()
	if w.stopped {
		w.m.Unlock()
		cancel()
		return
	}
	w.cancelAncestry = cancel
	w.m.Unlock()

	// prime with the current state: a handle bound outside the tree starts
	// its debounce right away
	w.ancestryChanged()
}

// ancestryChanged is called on every ancestry change of the handle. Leaving
// the tree schedules confirmation one debounce interval later; returning to
// the tree cancels it. Further changes while already outside keep the
// original deadline.
func (w *treeWatch) ancestryChanged() {
	inTree := w.handle.InTree()

	w.m.Lock()
	defer w.m.Unlock()
	if w.stopped {
		return
	}
	if inTree {
		if w.timer != nil {
			w.timer.Stop()
			w.timer = nil
		}
		return
	}
	if w.timer == nil {
		w.timer = w.binder.clock.AfterFunc(w.binder.debounce, w.confirm)
	}
}

// confirm runs one debounce interval after the handle left the tree. The
// removal only counts if the handle is still outside.
func (w *treeWatch) confirm() {
	w.m.Lock()
	if w.stopped {
		w.m.Unlock()
		return
	}
	w.timer = nil
	w.m.Unlock()

	if !w.handle.InTree() {
		w.signal()
	}
}

// Disconnect stops the watch: the bound cleaner disposes unfired watches
// through this.
func (w *treeWatch) Disconnect() {
	w.stop()
}

func (w *treeWatch) stop() {
	w.m.Lock()
	if w.stopped {
		w.m.Unlock()
		return
	}
	w.stopped = true
	timer := w.timer
	w.timer = nil
	cancel := w.cancelAncestry
	w.cancelAncestry = nil
	w.m.Unlock()

	if timer != nil {
		timer.Stop()
	}
	if cancel != nil {
		cancel()
	}
}
