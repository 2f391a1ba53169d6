// Package lifebind cleans cleaners automatically when observed lifetimes
// end: objects reclaimed by the garbage collector, liveness probes turning
// false, or host objects being destroyed or leaving their tree.
//
// A binding couples one cleaner to one or more lifetimes in either of two
// modes: with Conjunction the cleaner is cleaned once every lifetime has
// ended, with Disjunction the first ended lifetime suffices. A cleaner can
// carry at most one binding at a time; cleaning it by hand releases the
// binding.
package lifebind

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"

	cleaner "github.com/Novaly-Studios/Cleaner"
	"github.com/Novaly-Studios/Cleaner/atomics"
	"github.com/Novaly-Studios/Cleaner/finalize"
	"github.com/Novaly-Studios/Cleaner/monitoring"
	"github.com/Novaly-Studios/Cleaner/util"
)

var debug = util.Debug("lifebind")

var (
	// ErrAlreadyBound is returned when binding a cleaner that already
	// carries a binding.
	ErrAlreadyBound = errors.New("lifebind: cleaner is already bound")
	// ErrAlreadyCleaned is returned when binding a cleaner that has been
	// cleaned, as it would trigger immediately and dispose nothing.
	ErrAlreadyCleaned = errors.New("lifebind: cleaner is already cleaned")
	// ErrNoLifetimes is returned when binding without any lifetimes.
	ErrNoLifetimes = errors.New("lifebind: at least one lifetime is required")
	// ErrNilLifetime is returned when one of the given objects, probes or
	// handles is nil.
	ErrNilLifetime = errors.New("lifebind: nil lifetime")
)

// Mode selects how many lifetimes must end before a bound cleaner is
// cleaned.
type Mode int

const (
	// Conjunction cleans once all bound lifetimes have ended.
	Conjunction Mode = iota
	// Disjunction cleans once the first bound lifetime has ended.
	Disjunction
)

func (m Mode) String() string {
	switch m {
	case Conjunction:
		return "conjunction"
	case Disjunction:
		return "disjunction"
	default:
		return "unknown"
	}
}

// LivenessProbe reports whether a lifetime is still live. Probes are polled
// by the binder's tracker, under its lock: keep them fast and do not call
// back into the tracker.
type LivenessProbe func() bool

// DefaultDebounce is the grace interval before removal from a host tree is
// believed; see HandleOptions.
const DefaultDebounce = time.Second

// Options configures a Binder. The zero value is usable: a private tracker,
// the wall clock, a logging monitor and DefaultDebounce.
type Options struct {
	// Tracker polls object and probe lifetimes. Callers must drive its
	// Update, directly or with the poller package. When nil the binder
	// creates a private tracker, reachable through Binder.Tracker.
	Tracker *finalize.Tracker
	// Clock schedules removal debouncing; a mock clock makes bindings
	// testable without real waiting.
	Clock clock.Clock
	// Monitor receives logs, metrics and incident reports.
	Monitor monitoring.Monitor
	// Debounce overrides DefaultDebounce when positive.
	Debounce time.Duration
}

// Binder creates and arms bindings between cleaners and lifetimes.
type Binder struct {
	monitor  monitoring.Monitor
	tracker  *finalize.Tracker
	clock    clock.Clock
	debounce time.Duration

	m        sync.Mutex
	bindings map[*cleaner.Cleaner]*trigger
}

// New creates a Binder from options.
func New(options Options) *Binder {
	monitor := options.Monitor
	if monitor == nil {
		monitor = monitoring.NewLoggingMonitor("warning", nil)
	}
	monitor = monitor.WithPrefix("lifebind")

	tracker := options.Tracker
	if tracker == nil {
		tracker = finalize.NewTracker(monitor)
	}
	cl := options.Clock
	if cl == nil {
		cl = clock.New()
	}
	debounce := options.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	return &Binder{
		monitor:  monitor,
		tracker:  tracker,
		clock:    cl,
		debounce: debounce,
		bindings: make(map[*cleaner.Cleaner]*trigger),
	}
}

// Tracker returns the tracker polling this binder's object and probe
// lifetimes. Bindings only make progress while its Update is driven.
func (b *Binder) Tracker() *finalize.Tracker {
	return b.tracker
}

// IsBound reports whether c currently carries a binding.
func (b *Binder) IsBound(c *cleaner.Cleaner) bool {
	b.m.Lock()
	defer b.m.Unlock()
	_, bound := b.bindings[c]
	return bound
}

func (b *Binder) release(c *cleaner.Cleaner) {
	b.m.Lock()
	delete(b.bindings, c)
	b.m.Unlock()
}

// trigger is the countdown shared by all lifetimes of one binding. Each
// lifetime signals at most once; the trigger fires when the count reaches
// zero and cleans the target exactly once.
type trigger struct {
	binder    *Binder
	target    *cleaner.Cleaner
	remaining atomic.Int64
	fired     atomics.Once
}

func (t *trigger) signal() {
	if t.remaining.Add(-1) > 0 {
		return
	}
	t.fired.Do(func() {
		debug("binding fired, cleaning target")
		t.binder.monitor.Count("fired", 1)
		t.binder.release(t.target)
		// disposal failures are reported by the cleaner itself
		t.target.Clean()
	})
}

// lifetimeSignal wraps signal so one lifetime can never count down twice,
// however often its underlying event fires.
func (t *trigger) lifetimeSignal() func() {
	once := &atomics.Once{}
	return func() { once.Do(t.signal) }
}

// registerBinding validates c and installs a trigger for it. The returned
// trigger still needs its lifetimes attached.
func (b *Binder) registerBinding(c *cleaner.Cleaner, mode Mode, lifetimes int) (*trigger, error) {
	if c == nil {
		return nil, errors.New("lifebind: cannot bind a nil cleaner")
	}
	if lifetimes == 0 {
		return nil, ErrNoLifetimes
	}
	if mode != Conjunction && mode != Disjunction {
		return nil, errors.Errorf("lifebind: invalid mode %d", mode)
	}
	count := int64(lifetimes)
	if mode == Disjunction {
		count = 1
	}

	b.m.Lock()
	if _, bound := b.bindings[c]; bound {
		b.m.Unlock()
		return nil, ErrAlreadyBound
	}
	if c.State() == cleaner.StateCleaned {
		b.m.Unlock()
		return nil, ErrAlreadyCleaned
	}
	trig := &trigger{binder: b, target: c}
	trig.remaining.Store(count)
	b.bindings[c] = trig
	b.m.Unlock()

	// cleaning the target by hand, or through another binding path, must
	// release the binding registration
	c.Add(releaseHook{binder: b, target: c})

	debug("bound cleaner in %s mode over %d lifetime(s)", mode, lifetimes)
	return trig, nil
}

// releaseHook unbinds the target when it is cleaned.
type releaseHook struct {
	binder *Binder
	target *cleaner.Cleaner
}

func (h releaseHook) Disconnect() {
	h.binder.release(h.target)
}

// forgetHook stops tracking a pending lifetime when the bound cleaner is
// cleaned before the lifetime ended.
type forgetHook struct {
	tracker *finalize.Tracker
	token   finalize.Token
}

func (h forgetHook) Disconnect() {
	// a token whose finalizer already fired is unknown by now, which is fine
	h.tracker.Forget(h.token)
}

// cancelHook adapts a subscription cancel func to the Disconnect capability.
type cancelHook struct {
	cancel func()
}

func (h cancelHook) Disconnect() {
	h.cancel()
}

// BindProbes arms a binding over explicit liveness probes: c is cleaned when
// probes turn false per mode. The probes are polled through the binder's
// tracker.
func (b *Binder) BindProbes(c *cleaner.Cleaner, mode Mode, probes ...LivenessProbe) error {
	for _, probe := range probes {
		if probe == nil {
			return ErrNilLifetime
		}
	}
	trig, err := b.registerBinding(c, mode, len(probes))
	if err != nil {
		return err
	}
	for _, probe := range probes {
		token, err := b.tracker.TrackProbe(probe, trig.lifetimeSignal())
		if err != nil {
			return err
		}
		c.Add(forgetHook{tracker: b.tracker, token: token})
	}
	return nil
}

// ForProbes creates a cleaner bound over probes; see BindProbes.
func (b *Binder) ForProbes(mode Mode, probes ...LivenessProbe) (*cleaner.Cleaner, error) {
	c := cleaner.New(b.monitor)
	if err := b.BindProbes(c, mode, probes...); err != nil {
		return nil, err
	}
	return c, nil
}

// BindObjects arms a binding over the lifetimes of objs: c is cleaned when
// the garbage collector reclaims them per mode. Objects are observed weakly,
// binding never keeps them alive.
func BindObjects[T any](b *Binder, c *cleaner.Cleaner, mode Mode, objs ...*T) error {
	for _, obj := range objs {
		if obj == nil {
			return ErrNilLifetime
		}
	}
	trig, err := b.registerBinding(c, mode, len(objs))
	if err != nil {
		return err
	}
	for _, obj := range objs {
		token, err := finalize.Track(b.tracker, obj, trig.lifetimeSignal())
		if err != nil {
			return err
		}
		c.Add(forgetHook{tracker: b.tracker, token: token})
	}
	return nil
}

// ForObjects creates a cleaner bound over the lifetimes of objs; see
// BindObjects.
func ForObjects[T any](b *Binder, mode Mode, objs ...*T) (*cleaner.Cleaner, error) {
	c := cleaner.New(b.monitor)
	if err := BindObjects(b, c, mode, objs...); err != nil {
		return nil, err
	}
	return c, nil
}
