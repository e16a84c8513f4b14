// Package shutdown implements §4.10: the six-phase shutdown coordinator
// that drains in-flight work before the process tears down its files.
package shutdown

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/edgesql/coredb/pkg/logging"
)

var log = logging.For("shutdown")

// Phase is one step of the ordered shutdown sequence.
type Phase int

const (
	PhaseStopAccepting Phase = iota
	PhaseDrainConnections
	PhaseFlushWAL
	PhaseCloseFiles
	PhaseCleanup
	PhaseDone
)

func (p Phase) String() string {
	switch p {
	case PhaseStopAccepting:
		return "STOP_ACCEPTING"
	case PhaseDrainConnections:
		return "DRAIN_CONNECTIONS"
	case PhaseFlushWAL:
		return "FLUSH_WAL"
	case PhaseCloseFiles:
		return "CLOSE_FILES"
	case PhaseCleanup:
		return "CLEANUP"
	case PhaseDone:
		return "DONE"
	default:
		return "UNKNOWN"
	}
}

var orderedPhases = []Phase{
	PhaseStopAccepting,
	PhaseDrainConnections,
	PhaseFlushWAL,
	PhaseCloseFiles,
	PhaseCleanup,
	PhaseDone,
}

// Callback is one unit of work registered against a phase.
type Callback struct {
	Name string
	Fn   func(ctx context.Context) error
}

// Coordinator runs the ordered shutdown sequence exactly once,
// draining active operations during DRAIN_CONNECTIONS before later
// phases touch shared files.
type Coordinator struct {
	mu        sync.Mutex
	callbacks map[Phase][]Callback
	phase     Phase

	drainDeadline time.Duration
	maxInFlight   int64
	sem           *semaphore.Weighted

	shutdownRequested atomic.Bool
	activeOps         atomic.Int64

	once sync.Once
	done chan struct{}
	err  error
}

// New constructs a Coordinator. drainDeadline bounds how long
// DRAIN_CONNECTIONS waits for the active-operation counter to reach
// zero after its callbacks run. maxInFlight bounds how many operations
// BeginOperation admits concurrently (0 means unbounded).
func New(drainDeadline time.Duration, maxInFlight int64) *Coordinator {
	c := &Coordinator{
		callbacks:     make(map[Phase][]Callback),
		drainDeadline: drainDeadline,
		maxInFlight:   maxInFlight,
		done:          make(chan struct{}),
	}
	if maxInFlight > 0 {
		c.sem = semaphore.NewWeighted(maxInFlight)
	}
	return c
}

// Register adds a callback to run during phase, in registration order.
// Must be called before Initiate.
func (c *Coordinator) Register(phase Phase, name string, fn func(ctx context.Context) error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callbacks[phase] = append(c.callbacks[phase], Callback{Name: name, Fn: fn})
}

// OperationGuard tracks one admitted operation. Release must be called
// exactly once. An invalid guard (returned once shutdown has begun)
// does not affect the active-operation counter.
type OperationGuard struct {
	c     *Coordinator
	valid bool
}

// Release decrements the active-operation counter if the guard is
// valid. Safe to call on an invalid guard as a no-op.
func (g *OperationGuard) Release() {
	if !g.valid {
		return
	}
	g.c.activeOps.Add(-1)
	if g.c.sem != nil {
		g.c.sem.Release(1)
	}
}

// BeginOperation admits a new operation unless shutdown has already
// been requested, in which case it returns an invalid guard per §4.10:
// "new operations initiated after shutdown_requested is set must fail
// to start."
func (c *Coordinator) BeginOperation(ctx context.Context) (*OperationGuard, bool) {
	if c.shutdownRequested.Load() {
		return &OperationGuard{}, false
	}
	if c.sem != nil {
		if err := c.sem.Acquire(ctx, 1); err != nil {
			return &OperationGuard{}, false
		}
	}
	if c.shutdownRequested.Load() {
		if c.sem != nil {
			c.sem.Release(1)
		}
		return &OperationGuard{}, false
	}
	c.activeOps.Add(1)
	return &OperationGuard{c: c, valid: true}, true
}

// ActiveOperations reports the current active-operation count.
func (c *Coordinator) ActiveOperations() int64 { return c.activeOps.Load() }

// CurrentPhase reports the phase the coordinator is executing or has
// last completed.
func (c *Coordinator) CurrentPhase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Initiate runs the six phases in order. It is idempotent: a second
// (and every subsequent) caller blocks until the first caller's run
// completes, then returns the same result.
func (c *Coordinator) Initiate(ctx context.Context, phaseTimeout time.Duration) error {
	c.once.Do(func() {
		c.shutdownRequested.Store(true)
		c.err = c.run(ctx, phaseTimeout)
		close(c.done)
	})
	<-c.done
	return c.err
}

func (c *Coordinator) run(ctx context.Context, phaseTimeout time.Duration) error {
	for _, phase := range orderedPhases {
		c.mu.Lock()
		c.phase = phase
		cbs := append([]Callback{}, c.callbacks[phase]...)
		c.mu.Unlock()

		if err := c.runPhase(ctx, phase, cbs, phaseTimeout); err != nil {
			log.WithField("phase", phase).WithError(err).Warn("shutdown phase reported an error; continuing")
		}

		if phase == PhaseDrainConnections {
			c.waitForDrain(c.drainDeadline)
		}
	}
	return nil
}

// runPhase executes cbs one at a time in registration order, bounding
// their combined time to timeout. A callback's error is logged, not
// propagated: per §4.10, "an exception in a callback is logged and does
// not abort the sequence." Sequential order matters here — e.g. closing
// the WAL before storage depends on running in the order they were
// registered, not concurrently.
func (c *Coordinator) runPhase(ctx context.Context, phase Phase, cbs []Callback, timeout time.Duration) error {
	if len(cbs) == 0 {
		return nil
	}
	phaseCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		phaseCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	for _, cb := range cbs {
		if err := phaseCtx.Err(); err != nil {
			log.WithField("phase", phase).WithField("callback", cb.Name).WithError(err).Warn("shutdown phase deadline exceeded before callback ran")
			return err
		}
		if err := cb.Fn(phaseCtx); err != nil {
			log.WithField("phase", phase).WithField("callback", cb.Name).WithError(err).Warn("shutdown callback failed")
		}
	}
	return nil
}

// waitForDrain waits up to timeout for the active-operation counter to
// reach zero, logging a warning (but proceeding regardless) on timeout.
func (c *Coordinator) waitForDrain(timeout time.Duration) {
	if c.activeOps.Load() == 0 {
		return
	}
	deadline := time.Now().Add(timeout)
	if timeout <= 0 {
		deadline = time.Now().Add(24 * time.Hour) // effectively unbounded but not infinite
	}
	for time.Now().Before(deadline) {
		if c.activeOps.Load() == 0 {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	if c.activeOps.Load() != 0 {
		log.WithField("active_operations", c.activeOps.Load()).Warn("drain deadline exceeded; proceeding to later phases")
	}
}
