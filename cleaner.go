package cleaner

import (
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/Novaly-Studios/Cleaner/monitoring"
	"github.com/Novaly-Studios/Cleaner/util"
)

var debug = util.Debug("cleaner")

// State is the life-cycle state of a Cleaner. It moves from StateActive to
// StateCleaned exactly once and never back.
type State int

const (
	// StateActive is the initial state, entries accumulate until Clean.
	StateActive State = iota
	// StateCleaned is the terminal state, reached by the first Clean call.
	StateCleaned
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateCleaned:
		return "cleaned"
	default:
		return "unknown"
	}
}

// ownership guards the parent pointers of all cleaners, so ownership checks
// walking ancestor chains never take more than one aggregate lock.
var ownership sync.Mutex

// Cleaner aggregates heterogeneous resources and disposes all of them with
// one Clean call, in the order they were added.
//
// All methods are safe for concurrent use. Disposal runs outside the
// aggregate lock, so disposers may call back into the cleaner; they will
// observe StateCleaned.
type Cleaner struct {
	monitor monitoring.Monitor
	m       sync.Mutex
	state   State
	entries []*entry
	parent  *Cleaner // guarded by ownership, not m
}

// New creates an empty Cleaner reporting through monitor. A nil monitor
// falls back to a shared logging monitor at warning level.
func New(monitor monitoring.Monitor) *Cleaner {
	if monitor == nil {
		monitor = defaultMonitor()
	}
	return &Cleaner{monitor: monitor}
}

var (
	defaultMonitorOnce  sync.Once
	defaultMonitorValue monitoring.Monitor
)

func defaultMonitor() monitoring.Monitor {
	defaultMonitorOnce.Do(func() {
		defaultMonitorValue = monitoring.NewLoggingMonitor("warning", nil).WithPrefix("cleaner")
	})
	return defaultMonitorValue
}

type pendingChild struct {
	index int
	child *Cleaner
}

// Add stores items for disposal by Clean. Every argument is validated before
// anything is stored, so a failed Add changes nothing; the first offending
// argument is described by the returned ValidationError. Arguments of type
// []interface{} are flattened recursively.
//
// Items are classified by the most specific capability they carry: *Cleaner,
// func(), Invocation, then the Cancel, Disconnect, Destroy and Close methods
// in that order. Adding a *Cleaner transfers its ownership: an owned cleaner
// cannot be added anywhere else until removed, and insertions that would make
// a cleaner contain itself, directly or through intermediaries, are rejected.
//
// After Clean, Add disposes every item immediately in argument order and
// returns whatever synchronous disposal errors occurred.
func (c *Cleaner) Add(items ...interface{}) error {
	flat := flatten(items)
	if len(flat) == 0 {
		return nil
	}

	entries := make([]*entry, 0, len(flat))
	var children []pendingChild
	for i, item := range flat {
		e, reason := newEntry(item)
		if reason != "" {
			return ValidationError{Index: i, Item: item, Reason: reason}
		}
		if e.kind == kindNested {
			children = append(children, pendingChild{index: i, child: e.nested})
		}
		entries = append(entries, e)
	}

	c.m.Lock()
	cleaned := c.state == StateCleaned

	if len(children) > 0 {
		ownership.Lock()
		seen := make(map[*Cleaner]bool, len(children))
		for _, pc := range children {
			if reason := c.checkOwnership(pc.child, seen); reason != "" {
				ownership.Unlock()
				c.m.Unlock()
				return ValidationError{Index: pc.index, Item: pc.child, Reason: reason}
			}
			seen[pc.child] = true
		}
		if !cleaned {
			for _, pc := range children {
				pc.child.parent = c
			}
		}
		ownership.Unlock()
	}

	if cleaned {
		c.m.Unlock()
		debug("add of %d item(s) after clean, disposing immediately", len(entries))
		return c.dispose(entries)
	}
	c.entries = append(c.entries, entries...)
	c.m.Unlock()
	return nil
}

// checkOwnership rejects insertions of child that would violate single
// ownership or create a containment cycle. Caller holds ownership and c.m;
// seen holds children accepted earlier in the same Add call.
func (c *Cleaner) checkOwnership(child *Cleaner, seen map[*Cleaner]bool) string {
	if child == c {
		return "a cleaner cannot contain itself"
	}
	if child.parent != nil || seen[child] {
		return "cleaner is already owned by another cleaner"
	}
	for p := c.parent; p != nil; p = p.parent {
		if p == child {
			return "adding this cleaner would create an ownership cycle"
		}
	}
	return ""
}

// MustAdd is the chainable form of Add: it panics on validation errors and
// returns the cleaner itself. Disposal errors from adding to an already
// cleaned cleaner do not panic, they are reported through the monitor.
func (c *Cleaner) MustAdd(items ...interface{}) *Cleaner {
	if err := c.Add(items...); err != nil {
		if _, ok := IsValidationError(err); ok {
			panic(err)
		}
	}
	return c
}

// Remove drops every entry identified by any of the given items, without
// disposing them. Items that identify nothing are ignored. Removing a nested
// cleaner releases its ownership so it can be added elsewhere. Arguments of
// type []interface{} are flattened recursively.
func (c *Cleaner) Remove(items ...interface{}) {
	flat := flatten(items)
	if len(flat) == 0 {
		return
	}

	c.m.Lock()
	defer c.m.Unlock()
	for _, item := range flat {
		n := 0
		for _, e := range c.entries {
			if e.matches(item) {
				if e.kind == kindNested {
					releaseOwnership(e.nested, c)
				}
				continue
			}
			c.entries[n] = e
			n++
		}
		c.entries = c.entries[:n]
	}
}

// MustRemove is the chainable form of Remove.
func (c *Cleaner) MustRemove(items ...interface{}) *Cleaner {
	c.Remove(items...)
	return c
}

func releaseOwnership(child, owner *Cleaner) {
	ownership.Lock()
	if child.parent == owner {
		child.parent = nil
	}
	ownership.Unlock()
}

// Contains reports whether any stored entry is identified by item, under the
// same identity rules as Remove.
func (c *Cleaner) Contains(item interface{}) bool {
	c.m.Lock()
	defer c.m.Unlock()
	for _, e := range c.entries {
		if e.matches(item) {
			return true
		}
	}
	return false
}

// Len returns the number of stored entries.
func (c *Cleaner) Len() int {
	c.m.Lock()
	defer c.m.Unlock()
	return len(c.entries)
}

// State returns the current life-cycle state.
func (c *Cleaner) State() State {
	c.m.Lock()
	defer c.m.Unlock()
	return c.state
}

// Clean disposes all entries in insertion order and empties the cleaner. The
// first call flips the state to StateCleaned; later calls return nil without
// doing anything.
//
// Disposal is isolated per entry: a failing or panicking disposer never
// prevents the remaining entries from being disposed. Panics and synchronous
// errors are reported through the monitor, and the synchronous errors are
// also aggregated into the returned error. Callbacks and task cancellations
// run on their own goroutines and are not awaited.
func (c *Cleaner) Clean() error {
	c.m.Lock()
	if c.state == StateCleaned {
		c.m.Unlock()
		return nil
	}
	c.state = StateCleaned
	entries := c.entries
	c.entries = nil
	c.m.Unlock()

	debug("cleaning %d entries", len(entries))
	return c.dispose(entries)
}

func (c *Cleaner) dispose(entries []*entry) error {
	var errs error
	for _, e := range entries {
		errs = multierr.Append(errs, c.disposeEntry(e))
	}
	return errs
}

func (c *Cleaner) disposeEntry(e *entry) error {
	debug("disposing %s entry", e.kind)
	switch e.kind {
	case kindCallback:
		fn := e.callback
		go c.monitor.CapturePanic(fn)
		return nil
	case kindTask:
		cancel := e.canceler.Cancel
		go c.monitor.CapturePanic(func() { cancel() })
		return nil
	case kindSubscription:
		return c.capture("disconnect subscription", func() error {
			e.disconnector.Disconnect()
			return nil
		})
	case kindDestroyer:
		return c.capture("destroy handle", e.destroyer.Destroy)
	case kindCloser:
		return c.capture("close handle", e.closer.Close)
	case kindInvocation:
		return c.capture("invoke "+e.invocation.method, e.invocation.invoke)
	case kindNested:
		// nested cleaners report their own disposal failures
		return e.nested.Clean()
	}
	return nil
}

// capture runs dispose with panic isolation, reporting panics and errors
// through the monitor. The returned error carries whatever should bubble into
// the aggregate error of Clean.
func (c *Cleaner) capture(op string, dispose func() error) error {
	var err error
	incidentID := c.monitor.CapturePanic(func() {
		err = dispose()
	})
	if incidentID != "" {
		return errors.Errorf("panic while trying to %s, incidentId: %s", op, incidentID)
	}
	if err != nil {
		c.monitor.ReportWarning(err, "failed to ", op)
		return err
	}
	return nil
}
