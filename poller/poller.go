// Package poller drives a finalize.Tracker on a schedule.
//
// Each tick polls a bounded share of the tracked entries, sized from the
// tracker's current size, so the per-tick cost stays flat while large
// trackers still converge within a few intervals. The poller is explicitly
// started and stopped by whoever owns the process life-cycle; nothing runs
// from package init.
package poller

import (
	"math"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"

	"github.com/Novaly-Studios/Cleaner/atomics"
	"github.com/Novaly-Studios/Cleaner/finalize"
	"github.com/Novaly-Studios/Cleaner/monitoring"
	"github.com/Novaly-Studios/Cleaner/util"
)

var debug = util.Debug("poller")

var (
	// ErrNoTracker is returned by New when options carry no tracker.
	ErrNoTracker = errors.New("poller: a tracker is required")
	// ErrPollerStarted is returned by Start when the poller has been started
	// before, whether or not it has been stopped since.
	ErrPollerStarted = errors.New("poller: poller was already started")
)

// Defaults used by Options and Config for properties left zero.
const (
	DefaultInterval       = 5 * time.Second
	DefaultBudgetFraction = 0.25
	DefaultMinimumBudget  = 8
)

// Options configures a Poller. Tracker is required, everything else has a
// default: wall clock, logging monitor, DefaultInterval,
// DefaultBudgetFraction and DefaultMinimumBudget.
type Options struct {
	// Tracker is the tracker whose Update this poller drives.
	Tracker *finalize.Tracker
	// Clock schedules ticks; a mock clock makes the poller testable without
	// real waiting.
	Clock clock.Clock
	// Monitor receives scan metrics and logs.
	Monitor monitoring.Monitor
	// Interval between ticks.
	Interval time.Duration
	// BudgetFraction is the share of currently tracked entries visited per
	// tick. At 0.25 every entry is polled within four intervals.
	BudgetFraction float64
	// MinimumBudget is the per-tick floor, so small trackers are polled
	// promptly no matter the fraction.
	MinimumBudget int
}

// Poller periodically calls Update on a tracker. Create with New, then
// Start; a Poller is single-use, stop it and create a new one to restart.
type Poller struct {
	tracker        *finalize.Tracker
	clock          clock.Clock
	monitor        monitoring.Monitor
	interval       time.Duration
	budgetFraction float64
	minimumBudget  int

	started  atomics.Once
	stopping atomics.Once
	stopped  chan struct{}
	loopDone atomics.Once
}

// New creates a Poller from options.
func New(options Options) (*Poller, error) {
	if options.Tracker == nil {
		return nil, ErrNoTracker
	}
	monitor := options.Monitor
	if monitor == nil {
		monitor = monitoring.NewLoggingMonitor("warning", nil)
	}
	cl := options.Clock
	if cl == nil {
		cl = clock.New()
	}
	interval := options.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	fraction := options.BudgetFraction
	if fraction <= 0 {
		fraction = DefaultBudgetFraction
	}
	minimum := options.MinimumBudget
	if minimum <= 0 {
		minimum = DefaultMinimumBudget
	}

	return &Poller{
		tracker:        options.Tracker,
		clock:          cl,
		monitor:        monitor.WithPrefix("poller"),
		interval:       interval,
		budgetFraction: fraction,
		minimumBudget:  minimum,
		stopped:        make(chan struct{}),
	}, nil
}

// Start launches the polling loop. Returns ErrPollerStarted if the poller
// was started before; a stopped poller cannot be started again.
func (p *Poller) Start() error {
	if !p.started.Do(nil) {
		return ErrPollerStarted
	}
	// the ticker is created before the loop goroutine runs, so ticks are
	// scheduled by the time Start returns
	ticker := p.clock.Ticker(p.interval)
	debug("started, interval %s", p.interval)
	go p.loop(ticker)
	return nil
}

// Stop halts the polling loop and waits for it to exit. Stop is idempotent
// and safe to call on a poller that was never started.
func (p *Poller) Stop() {
	p.stopping.Do(func() {
		close(p.stopped)
	})
	if p.started.IsDone() {
		p.loopDone.Wait()
	}
}

// Done returns a channel that is closed once the polling loop has exited.
// The channel of a poller that is never started never closes.
func (p *Poller) Done() <-chan struct{} {
	return p.loopDone.Done()
}

func (p *Poller) loop(ticker *clock.Ticker) {
	defer p.loopDone.Do(nil)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopped:
			debug("stopped")
			return
		case <-ticker.C:
			p.poll()
		}
	}
}

// poll runs one tick: size the budget from the current tracker size, update,
// and report what happened.
func (p *Poller) poll() {
	tracked := p.tracker.Len()
	budget := int(math.Ceil(float64(tracked) * p.budgetFraction))
	if budget < p.minimumBudget {
		budget = p.minimumBudget
	}

	var visited int
	p.monitor.Time("scan", func() {
		visited = p.tracker.Update(budget)
	})
	p.monitor.Count("visited", float64(visited))
	if fired := tracked - p.tracker.Len(); fired > 0 {
		debug("visited %d of %d entries, fired %d", visited, tracked, fired)
		p.monitor.Count("fired", float64(fired))
	}
}
