// Package memtrack implements the process-wide memory ceiling described
// in the execution context design: a single Tracker shared by every
// query's allocator, updated with atomic compare-and-swap so no mutex is
// needed on the hot allocation path.
package memtrack

import (
	"sync/atomic"

	"github.com/dustin/go-humanize"

	"github.com/edgesql/coredb/pkg/dberr"
)

// Tracker enforces a global ceiling over the sum of every in-flight
// query's memory reservation. It is the second of the two places memory
// is counted (the first being the per-query QueryAllocator); both must
// approve a reservation for it to proceed.
type Tracker struct {
	limit int64
	used  atomic.Int64
}

// New creates a Tracker with the given byte ceiling. A limit of 0 means
// unlimited.
func New(limit int64) *Tracker {
	return &Tracker{limit: limit}
}

// Limit returns the configured ceiling.
func (t *Tracker) Limit() int64 { return t.limit }

// Used returns the currently reserved byte count.
func (t *Tracker) Used() int64 { return t.used.Load() }

// Reserve attempts to add n bytes to the global total, failing with a
// dberr.KindBudget error if that would exceed the ceiling. It retries
// the compare-and-swap loop until it either commits or observes the
// ceiling would be exceeded, so concurrent reservations from other
// queries cannot race past the limit.
func (t *Tracker) Reserve(n int64) error {
	if n <= 0 {
		return nil
	}
	for {
		cur := t.used.Load()
		next := cur + n
		if t.limit > 0 && next > t.limit {
			return dberr.New(dberr.KindBudget,
				"global memory ceiling exceeded: requested %s, in use %s, limit %s",
				humanize.IBytes(uint64(n)), humanize.IBytes(uint64(cur)), humanize.IBytes(uint64(t.limit)))
		}
		if t.used.CompareAndSwap(cur, next) {
			return nil
		}
	}
}

// Release returns n bytes to the global pool. It never fails; releasing
// more than was reserved is a caller bug but is clamped to zero rather
// than allowed to go negative and mask a future check.
func (t *Tracker) Release(n int64) {
	if n <= 0 {
		return
	}
	for {
		cur := t.used.Load()
		next := cur - n
		if next < 0 {
			next = 0
		}
		if t.used.CompareAndSwap(cur, next) {
			return
		}
	}
}
