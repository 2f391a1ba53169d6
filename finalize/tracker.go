// Package finalize tracks weakly referenced objects and fires finalizers
// once they are collected.
//
// The tracker never blocks on the garbage collector: liveness is sampled by
// polling, and each Update call visits a bounded number of entries so the
// cost of large trackers amortizes across many calls. The poller package
// provides a background loop driving Update on a schedule.
package finalize

import (
	"container/list"
	"sync"
	"weak"

	"github.com/pkg/errors"
	"github.com/taskcluster/slugid-go/slugid"

	"github.com/Novaly-Studios/Cleaner/monitoring"
	"github.com/Novaly-Studios/Cleaner/util"
)

var debug = util.Debug("finalize")

var (
	// ErrUnknownToken is returned by Forget when the token was never issued,
	// was already forgotten, or its finalizer has already fired.
	ErrUnknownToken = errors.New("finalize: unknown token")
	// ErrNilObject is returned by Track for a nil object.
	ErrNilObject = errors.New("finalize: cannot track a nil object")
	// ErrNilProbe is returned by TrackProbe for a nil liveness probe.
	ErrNilProbe = errors.New("finalize: cannot track with a nil liveness probe")
	// ErrNilFinalizer is returned when no finalizer is given.
	ErrNilFinalizer = errors.New("finalize: cannot track without a finalizer")
)

// Token identifies one tracked entry from Track until Forget or the Update
// call that fires its finalizer.
type Token string

// record is one tracked entry. alive is polled by Update; it runs under the
// tracker lock and must not call back into the tracker.
type record struct {
	token     Token
	alive     func() bool
	finalizer func()
}

// Tracker polls weakly held objects and fires their finalizers after the
// garbage collector has reclaimed them.
//
// All methods are safe for concurrent use. Finalizers run outside the
// tracker lock, so they may call back into the tracker.
type Tracker struct {
	monitor monitoring.Monitor
	m       sync.Mutex
	tracked map[Token]*list.Element
	order   *list.List
	cursor  *list.Element
}

// NewTracker creates an empty Tracker reporting through monitor. A nil
// monitor falls back to a logging monitor at warning level.
func NewTracker(monitor monitoring.Monitor) *Tracker {
	if monitor == nil {
		monitor = monitoring.NewLoggingMonitor("warning", nil).WithPrefix("finalize")
	}
	return &Tracker{
		monitor: monitor,
		tracked: make(map[Token]*list.Element),
		order:   list.New(),
	}
}

// Track observes obj weakly and arranges for finalizer to run, during some
// Update call, after the garbage collector has reclaimed obj. Tracking never
// keeps obj alive.
//
// The finalizer must not reference obj, directly or through a closure, as
// that would keep obj reachable and the finalizer would never fire.
func Track[T any](t *Tracker, obj *T, finalizer func()) (Token, error) {
	if obj == nil {
		return "", ErrNilObject
	}
	if finalizer == nil {
		return "", ErrNilFinalizer
	}
	ref := weak.Make(obj)
	return t.TrackProbe(func() bool { return ref.Value() != nil }, finalizer)
}

// TrackProbe is the explicit-probe form of Track: alive is polled by Update
// and the finalizer fires on the first poll that reports false. Probes run
// under the tracker lock, so they must be fast and must not call back into
// the tracker.
func (t *Tracker) TrackProbe(alive func() bool, finalizer func()) (Token, error) {
	if alive == nil {
		return "", ErrNilProbe
	}
	if finalizer == nil {
		return "", ErrNilFinalizer
	}

	token := Token(slugid.Nice())
	t.m.Lock()
	t.tracked[token] = t.order.PushBack(&record{
		token:     token,
		alive:     alive,
		finalizer: finalizer,
	})
	t.m.Unlock()

	debug("tracking %s (%d tracked)", token, t.Len())
	return token, nil
}

// Forget stops tracking the entry without firing its finalizer. Returns
// ErrUnknownToken if token is not currently tracked.
func (t *Tracker) Forget(token Token) error {
	t.m.Lock()
	defer t.m.Unlock()

	e, ok := t.tracked[token]
	if !ok {
		return ErrUnknownToken
	}
	delete(t.tracked, token)
	if t.cursor == e {
		t.cursor = e.Next()
	}
	t.order.Remove(e)
	return nil
}

// Len returns the number of currently tracked entries.
func (t *Tracker) Len() int {
	t.m.Lock()
	defer t.m.Unlock()
	return len(t.tracked)
}

// Update polls up to budget entries, resuming from where the previous Update
// stopped and wrapping past the end. Entries whose probe reports dead are
// removed and their finalizers fired, with panics recovered and reported.
// Returns the number of entries visited. A budget below one visits nothing.
func (t *Tracker) Update(budget int) int {
	t.m.Lock()
	visited, fired := t.updateLocked(budget)
	t.m.Unlock()

	t.fire(fired)
	return visited
}

// UpdateAll polls every entry once, from the start, and resets the cursor.
func (t *Tracker) UpdateAll() int {
	t.m.Lock()
	t.cursor = nil
	visited, fired := t.updateLocked(t.order.Len())
	t.m.Unlock()

	t.fire(fired)
	return visited
}

// updateLocked visits entries with t.m held, unlinking dead ones. The caller
// fires the returned records after unlocking, so finalizers can reenter.
func (t *Tracker) updateLocked(budget int) (int, []*record) {
	if budget > t.order.Len() {
		budget = t.order.Len()
	}

	visited := 0
	var fired []*record
	for visited < budget {
		e := t.cursor
		if e == nil {
			e = t.order.Front()
		}
		if e == nil {
			break
		}
		next := e.Next()
		rec := e.Value.(*record)
		visited++
		if !rec.alive() {
			delete(t.tracked, rec.token)
			t.order.Remove(e)
			fired = append(fired, rec)
		}
		t.cursor = next
	}
	return visited, fired
}

func (t *Tracker) fire(fired []*record) {
	if len(fired) == 0 {
		return
	}
	debug("firing %d finalizer(s)", len(fired))
	t.monitor.Count("fired", float64(len(fired)))
	for _, rec := range fired {
		t.monitor.CapturePanic(rec.finalizer)
	}
}
