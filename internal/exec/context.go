// Package exec implements §4.6/§4.7: the pull-based operator tree and
// the execution context that enforces per-query budgets across it.
package exec

import (
	"context"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/edgesql/coredb/internal/arena"
	"github.com/edgesql/coredb/internal/memtrack"
	"github.com/edgesql/coredb/pkg/dberr"
)

// ViolationKind identifies which quota tripped, or NONE if none has.
type ViolationKind int

const (
	ViolationNone ViolationKind = iota
	ViolationMemoryExceeded
	ViolationInstructionsExceeded
	ViolationTimeout
	ViolationRowsExceeded
	ViolationAborted
)

func (v ViolationKind) String() string {
	switch v {
	case ViolationNone:
		return "NONE"
	case ViolationMemoryExceeded:
		return "MEMORY_EXCEEDED"
	case ViolationInstructionsExceeded:
		return "INSTRUCTIONS_EXCEEDED"
	case ViolationTimeout:
		return "TIMEOUT"
	case ViolationRowsExceeded:
		return "ROWS_EXCEEDED"
	case ViolationAborted:
		return "ABORTED"
	default:
		return "UNKNOWN"
	}
}

// Budget bounds one query's resource consumption.
type Budget struct {
	MaxMemoryBytes  int64
	MaxInstructions int64
	MaxTime         time.Duration
	MaxResultRows   int64
}

// Counters tracks a query's running consumption against its Budget.
type Counters struct {
	InstructionsExecuted int64
	RowsScanned          int64
	RowsReturned         int64
	MemoryUsed           int64
	ElapsedTime          time.Duration
}

// Context carries one query's budget, allocator, counters, and
// cancellation state through the whole operator tree.
type Context struct {
	ctx       context.Context
	Budget    Budget
	Counters  Counters
	Allocator *arena.QueryAllocator

	startedAt time.Time
	violation ViolationKind
	violErr   error
	aborted   bool
}

// NewContext constructs an execution Context. global is the process-wide
// memory tracker every QueryAllocator must also clear; parent supplies
// cancellation (a query deadline, or the shutdown coordinator's drain
// signal).
func NewContext(parent context.Context, budget Budget, global *memtrack.Tracker) *Context {
	return &Context{
		ctx:       parent,
		Budget:    budget,
		Allocator: arena.NewQueryAllocator(budget.MaxMemoryBytes, global),
	}
}

// Start records the query's start time. Call once at the root before
// running the tree.
func (c *Context) Start() {
	c.startedAt = time.Now()
}

// Finalize freezes ElapsedTime and MemoryUsed into Counters and releases
// the allocator. Must be called exactly once, even on error.
func (c *Context) Finalize() {
	if !c.startedAt.IsZero() {
		c.Counters.ElapsedTime = time.Since(c.startedAt)
	}
	c.Counters.MemoryUsed = c.Allocator.BytesUsed()
	c.Allocator.Close()
}

// Abort marks the query as externally cancelled. Subsequent
// ShouldStop/CheckBudget calls report ViolationAborted.
func (c *Context) Abort() {
	c.aborted = true
}

// ShouldStop is the hot-path check: safe to call on every Next()
// iteration. It never re-evaluates a quota that was already tripped —
// the sticky violation short-circuits straight to true.
func (c *Context) ShouldStop() bool {
	if c.violation != ViolationNone {
		return true
	}
	if c.aborted {
		return true
	}
	if c.ctx != nil && c.ctx.Err() != nil {
		return true
	}
	if c.Budget.MaxTime > 0 && !c.startedAt.IsZero() && time.Since(c.startedAt) > c.Budget.MaxTime {
		return true
	}
	if c.Budget.MaxInstructions > 0 && c.Counters.InstructionsExecuted >= c.Budget.MaxInstructions {
		return true
	}
	return false
}

// CheckBudget is the explicit check run at natural checkpoints (once per
// emitted row; once per materialized Sort row). On first violation it
// sets the sticky violation kind and returns a descriptive error; every
// subsequent call re-raises the same error without re-evaluating.
func (c *Context) CheckBudget() error {
	if c.violation != ViolationNone {
		return c.violErr
	}

	if c.aborted {
		return c.fail(ViolationAborted, dberr.New(dberr.KindBudget, "query aborted"))
	}
	if c.ctx != nil && c.ctx.Err() != nil {
		return c.fail(ViolationAborted, dberr.New(dberr.KindBudget, "query aborted: %v", c.ctx.Err()))
	}
	if c.Budget.MaxTime > 0 {
		elapsed := time.Since(c.startedAt)
		if elapsed > c.Budget.MaxTime {
			return c.fail(ViolationTimeout, dberr.New(dberr.KindBudget,
				"TIMEOUT: query ran %s, limit %s", elapsed, c.Budget.MaxTime))
		}
	}
	if c.Budget.MaxInstructions > 0 && c.Counters.InstructionsExecuted >= c.Budget.MaxInstructions {
		return c.fail(ViolationInstructionsExceeded, dberr.New(dberr.KindBudget,
			"INSTRUCTIONS_EXCEEDED: executed %d, limit %d", c.Counters.InstructionsExecuted, c.Budget.MaxInstructions))
	}
	if c.Budget.MaxResultRows > 0 && c.Counters.RowsReturned >= c.Budget.MaxResultRows {
		return c.fail(ViolationRowsExceeded, dberr.New(dberr.KindBudget,
			"ROWS_EXCEEDED: returned %d, limit %d", c.Counters.RowsReturned, c.Budget.MaxResultRows))
	}
	if c.Budget.MaxMemoryBytes > 0 && c.Allocator.BytesUsed() >= c.Budget.MaxMemoryBytes {
		return c.fail(ViolationMemoryExceeded, dberr.New(dberr.KindBudget,
			"MEMORY_EXCEEDED: used %s, limit %s",
			humanize.IBytes(uint64(c.Allocator.BytesUsed())), humanize.IBytes(uint64(c.Budget.MaxMemoryBytes))))
	}
	return nil
}

func (c *Context) fail(kind ViolationKind, err error) error {
	c.violation = kind
	c.violErr = err
	return err
}

// Violation reports which quota (if any) has tripped.
func (c *Context) Violation() ViolationKind { return c.violation }

// BumpInstructions adds n to the instruction counter.
func (c *Context) BumpInstructions(n int64) { c.Counters.InstructionsExecuted += n }
