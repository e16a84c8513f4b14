// Package buffer implements the fixed-capacity page buffer pool from
// §4.3: an LRU-ordered cache of page frames backed by a storage.PageFile,
// with pin-counted borrows that block eviction of a page a caller
// currently holds.
//
// The LRU bookkeeping itself is github.com/hashicorp/golang-lru
// (grounded on gazette-core's route_cache.go), constructed with
// NewWithEvict so that when an entry is evicted — whether by the
// library's own capacity enforcement or by our own eviction pass — the
// same callback runs the spec's "write back if dirty" step. Pinned
// pages are kept out of eviction order entirely: GetPage removes an
// entry from the LRU list the moment it is borrowed and only reinserts
// it once every outstanding PinnedPage has been released, so the
// library's own eviction pass can never touch a page a caller is
// holding.
//
// Page write-back is not atomic: a frame goes to the backing store in a
// single WritePage call, so a crash part-way through that write can
// leave a torn page on disk. No double-write buffer or full-page WAL
// image is kept to repair one.
package buffer

import (
	"fmt"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru"

	"github.com/edgesql/coredb/internal/page"
	"github.com/edgesql/coredb/internal/storage"
	"github.com/edgesql/coredb/pkg/dberr"
	"github.com/edgesql/coredb/pkg/logging"
	"github.com/edgesql/coredb/pkg/metrics"
)

var log = logging.For("buffer")

type pageKey struct {
	tableID uint32
	pageID  uint32
}

func (k pageKey) String() string { return fmt.Sprintf("table=%d/page=%d", k.tableID, k.pageID) }

type frame struct {
	key      pageKey
	page     *page.Page
	pinCount int
	dirty    bool
}

// Pool is a fixed-capacity, pin-counted page cache in front of a
// storage.PageFile.
type Pool struct {
	backing  storage.PageFile
	capacity int
	metrics  *metrics.Registry

	mu     sync.Mutex
	frames map[pageKey]*frame
	// order tracks eviction candidacy: only unpinned frames live here.
	// Pinned frames are removed on borrow and reinserted on release, so
	// the callback attached at construction never fires for a page a
	// caller currently holds.
	order *lru.Cache
}

// New constructs a Pool of the given capacity (in pages) backed by
// backing. metrics may be nil in tests that don't care about counters.
func New(backing storage.PageFile, capacity int, m *metrics.Registry) (*Pool, error) {
	if capacity <= 0 {
		return nil, dberr.New(dberr.KindBudget, "buffer pool capacity must be positive, got %d", capacity)
	}
	p := &Pool{
		backing:  backing,
		capacity: capacity,
		metrics:  m,
		frames:   make(map[pageKey]*frame),
	}
	cache, err := lru.NewWithEvict(capacity, p.onEvicted)
	if err != nil {
		return nil, dberr.Wrap(dberr.KindIO, err, "buffer: construct LRU")
	}
	p.order = cache
	return p, nil
}

// onEvicted runs under p.mu (only ever invoked from code paths already
// holding the lock) and implements the spec's write-back-if-dirty step.
func (p *Pool) onEvicted(key interface{}, _ interface{}) {
	k := key.(pageKey)
	fr, ok := p.frames[k]
	if !ok || fr.pinCount > 0 {
		return // a pinned frame leaving the LRU list stays resident
	}
	if fr.dirty {
		if err := p.backing.WritePage(k.tableID, k.pageID, fr.page); err != nil {
			log.WithError(err).WithField("page", k.String()).Error("failed to flush page on eviction")
		} else if p.metrics != nil {
			p.metrics.PagesFlushed.Inc()
		}
	}
	delete(p.frames, k)
	if p.metrics != nil {
		p.metrics.BufferEvictions.Inc()
	}
}

// evictOneLocked evicts the single least-recently-used unpinned frame.
// Reports false if every resident frame is currently pinned.
func (p *Pool) evictOneLocked() bool {
	key, _, ok := p.order.GetOldest()
	if !ok {
		return false
	}
	p.order.Remove(key) // triggers onEvicted synchronously
	return true
}

func (p *Pool) loadLocked(key pageKey) (*frame, error) {
	if len(p.frames) >= p.capacity {
		if !p.evictOneLocked() {
			return nil, dberr.New(dberr.KindBudget, "BUFFER_POOL_EXHAUSTED: all %d frames pinned", p.capacity)
		}
	}
	pg, err := p.backing.ReadPage(key.tableID, key.pageID)
	if err != nil {
		return nil, err
	}
	fr := &frame{key: key, page: pg}
	p.frames[key] = fr
	return fr, nil
}

// GetPage returns a pinned borrow of (tableID, pageID), loading it from
// the backing store on a miss.
func (p *Pool) GetPage(tableID, pageID uint32) (*PinnedPage, error) {
	key := pageKey{tableID, pageID}
	p.mu.Lock()
	defer p.mu.Unlock()

	fr, ok := p.frames[key]
	if ok {
		fr.pinCount++
		p.order.Remove(key) // pinned frames are not eviction candidates
		if p.metrics != nil {
			p.metrics.BufferHits.Inc()
		}
		return newPinnedPage(p, fr), nil
	}

	if p.metrics != nil {
		p.metrics.BufferMisses.Inc()
	}
	fr, err := p.loadLocked(key)
	if err != nil {
		return nil, err
	}
	fr.pinCount = 1
	return newPinnedPage(p, fr), nil
}

// AllocatePage installs a freshly initialized frame for (tableID,
// pageID) without reading it from the backing store, returning a
// pinned borrow. Used when a table grows a new page.
func (p *Pool) AllocatePage(tableID, pageID uint32, flags uint16) (*PinnedPage, error) {
	key := pageKey{tableID, pageID}
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.frames[key]; exists {
		return nil, dberr.New(dberr.KindIO, "buffer: page %s already resident", key)
	}
	if len(p.frames) >= p.capacity {
		if !p.evictOneLocked() {
			return nil, dberr.New(dberr.KindBudget, "BUFFER_POOL_EXHAUSTED: all %d frames pinned", p.capacity)
		}
	}
	fr := &frame{key: key, page: page.NewFrame(pageID, flags), pinCount: 1, dirty: true}
	p.frames[key] = fr
	return newPinnedPage(p, fr), nil
}

func (p *Pool) release(fr *frame) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fr.pinCount--
	if fr.pinCount < 0 {
		fr.pinCount = 0
	}
	if fr.pinCount == 0 {
		p.order.Add(fr.key, struct{}{})
	}
}

func (p *Pool) markDirty(fr *frame) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fr.dirty = true
}

// FlushPage writes tableID/pageID back to the backing store if dirty,
// without evicting it from the pool.
func (p *Pool) FlushPage(tableID, pageID uint32) error {
	key := pageKey{tableID, pageID}
	p.mu.Lock()
	defer p.mu.Unlock()
	fr, ok := p.frames[key]
	if !ok {
		return nil
	}
	if !fr.dirty {
		return nil
	}
	if err := p.backing.WritePage(key.tableID, key.pageID, fr.page); err != nil {
		return err
	}
	fr.dirty = false
	if p.metrics != nil {
		p.metrics.PagesFlushed.Inc()
	}
	return nil
}

// FlushAll writes back every dirty resident frame.
func (p *Pool) FlushAll() error {
	p.mu.Lock()
	keys := make([]pageKey, 0, len(p.frames))
	for k, fr := range p.frames {
		if fr.dirty {
			keys = append(keys, k)
		}
	}
	p.mu.Unlock()

	for _, k := range keys {
		if err := p.FlushPage(k.tableID, k.pageID); err != nil {
			return err
		}
	}
	return nil
}

// EvictPage forcibly evicts tableID/pageID (flushing first if dirty),
// failing if it is currently pinned. Exposed mainly for tests exercising
// the pin/eviction interaction directly.
func (p *Pool) EvictPage(tableID, pageID uint32) error {
	key := pageKey{tableID, pageID}
	p.mu.Lock()
	defer p.mu.Unlock()
	fr, ok := p.frames[key]
	if !ok {
		return nil
	}
	if fr.pinCount > 0 {
		return dberr.New(dberr.KindIO, "buffer: page %s is pinned, cannot evict", key)
	}
	p.order.Remove(key)
	return nil
}

// Len returns the number of frames currently resident.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.frames)
}

// PinnedPage is a scope-guarded borrow returned by GetPage/AllocatePage.
// Release must be called exactly once; a second call panics, matching
// the teacher's fail-fast stance on programmer error over silent
// corruption.
type PinnedPage struct {
	pool     *Pool
	fr       *frame
	released atomic.Bool

	TableID uint32
	PageID  uint32
	Page    *page.Page
}

func newPinnedPage(p *Pool, fr *frame) *PinnedPage {
	return &PinnedPage{pool: p, fr: fr, TableID: fr.key.tableID, PageID: fr.key.pageID, Page: fr.page}
}

// MarkDirty flags the underlying frame as needing write-back.
func (pp *PinnedPage) MarkDirty() {
	pp.pool.markDirty(pp.fr)
}

// Release returns the pin. It must be called exactly once per
// GetPage/AllocatePage call.
func (pp *PinnedPage) Release() {
	if !pp.released.CompareAndSwap(false, true) {
		panic(fmt.Sprintf("buffer: double release of pinned page %s", pp.fr.key))
	}
	pp.pool.release(pp.fr)
}
