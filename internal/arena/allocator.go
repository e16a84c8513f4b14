package arena

import (
	"github.com/dustin/go-humanize"

	"github.com/edgesql/coredb/internal/memtrack"
	"github.com/edgesql/coredb/pkg/dberr"
)

// QueryAllocator wraps one Arena and enforces a per-query byte cap in
// addition to the process-wide ceiling tracked by memtrack.Tracker. Both
// must approve an allocation for it to proceed; both release their
// share on Close.
type QueryAllocator struct {
	arena     *Arena
	cap       int64
	bytesUsed int64
	global    *memtrack.Tracker
}

// NewQueryAllocator creates an allocator bounded by capBytes and backed
// by the process-wide tracker. capBytes of 0 means unbounded (the
// global tracker is still consulted).
func NewQueryAllocator(capBytes int64, global *memtrack.Tracker) *QueryAllocator {
	return &QueryAllocator{
		arena:  New(DefaultBlockSize),
		cap:    capBytes,
		global: global,
	}
}

// BytesUsed returns the total bytes allocated so far by this query.
func (q *QueryAllocator) BytesUsed() int64 { return q.bytesUsed }

// Cap returns the configured per-query byte cap (0 = unbounded).
func (q *QueryAllocator) Cap() int64 { return q.cap }

// Allocate reserves size bytes (aligned to alignment) against both the
// per-query cap and the global memory tracker, then hands out arena
// storage. On failure neither the arena nor either tracker is mutated.
func (q *QueryAllocator) Allocate(size, alignment int) ([]byte, error) {
	requested := int64(size)
	next := q.bytesUsed + requested
	if q.cap > 0 && next > q.cap {
		return nil, dberr.New(dberr.KindBudget,
			"MEMORY_BUDGET_EXCEEDED: requested %s, used %s, limit %s",
			humanize.IBytes(uint64(requested)), humanize.IBytes(uint64(q.bytesUsed)), humanize.IBytes(uint64(q.cap)))
	}
	if q.global != nil {
		if err := q.global.Reserve(requested); err != nil {
			return nil, err
		}
	}
	buf, err := q.arena.Allocate(size, alignment)
	if err != nil {
		if q.global != nil {
			q.global.Release(requested)
		}
		return nil, err
	}
	q.bytesUsed = next
	return buf, nil
}

// Reset rewinds the underlying arena and the per-query usage counter,
// releasing this query's whole reservation back to the global tracker.
func (q *QueryAllocator) Reset() {
	q.arena.Reset()
	if q.global != nil {
		q.global.Release(q.bytesUsed)
	}
	q.bytesUsed = 0
}

// Close releases this query's reservation from the global tracker. It
// must be called exactly once when the query finishes, successfully or
// not, typically from ExecutionContext.Finalize.
func (q *QueryAllocator) Close() {
	if q.global != nil {
		q.global.Release(q.bytesUsed)
	}
	q.bytesUsed = 0
}
