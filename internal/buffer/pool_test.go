package buffer

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/edgesql/coredb/internal/page"
	"github.com/edgesql/coredb/internal/storage/tablefile"
	"github.com/edgesql/coredb/pkg/metrics"
)

func newTestPool(t *testing.T, capacity int) *Pool {
	t.Helper()
	fs := afero.NewMemMapFs()
	store, err := tablefile.Open(fs, "/data")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	pool, err := New(store, capacity, metrics.New())
	require.NoError(t, err)
	return pool
}

func TestAllocateThenGetRoundTrips(t *testing.T) {
	pool := newTestPool(t, 4)
	pp, err := pool.AllocatePage(1, 0, page.FlagLeaf)
	require.NoError(t, err)
	_, err = pp.Page.InsertRecord([]byte("hi"))
	require.NoError(t, err)
	pp.MarkDirty()
	pp.Release()

	require.NoError(t, pool.FlushPage(1, 0))

	pp2, err := pool.GetPage(1, 0)
	require.NoError(t, err)
	rec, err := pp2.Page.GetRecord(0)
	require.NoError(t, err)
	require.Equal(t, []byte("hi"), rec)
	pp2.Release()
}

func TestPinnedPageBlocksEviction(t *testing.T) {
	pool := newTestPool(t, 1)
	pp0, err := pool.AllocatePage(1, 0, page.FlagLeaf)
	require.NoError(t, err)
	// pool is full and pp0 is pinned; a second page cannot be loaded.
	_, err = pool.AllocatePage(1, 1, page.FlagLeaf)
	require.Error(t, err)
	pp0.Release()
	// once released, capacity is reclaimable.
	pp1, err := pool.AllocatePage(1, 1, page.FlagLeaf)
	require.NoError(t, err)
	pp1.Release()
}

func TestEvictionFlushesDirtyPage(t *testing.T) {
	pool := newTestPool(t, 1)
	pp0, err := pool.AllocatePage(1, 0, page.FlagLeaf)
	require.NoError(t, err)
	_, err = pp0.Page.InsertRecord([]byte("dirty-payload"))
	require.NoError(t, err)
	pp0.MarkDirty()
	pp0.Release()

	// allocating page 1 evicts page 0, which must flush it first.
	pp1, err := pool.AllocatePage(1, 1, page.FlagLeaf)
	require.NoError(t, err)
	pp1.Release()

	require.Equal(t, 1, pool.Len())

	// page 0 must now be readable from the backing store directly.
	pp0Again, err := pool.GetPage(1, 0)
	require.NoError(t, err)
	rec, err := pp0Again.Page.GetRecord(0)
	require.NoError(t, err)
	require.Equal(t, []byte("dirty-payload"), rec)
	pp0Again.Release()
}

func TestDoubleReleasePanics(t *testing.T) {
	pool := newTestPool(t, 2)
	pp, err := pool.AllocatePage(1, 0, page.FlagLeaf)
	require.NoError(t, err)
	pp.Release()
	require.Panics(t, func() { pp.Release() })
}

func TestEvictPageRejectsPinned(t *testing.T) {
	pool := newTestPool(t, 2)
	pp, err := pool.AllocatePage(1, 0, page.FlagLeaf)
	require.NoError(t, err)
	err = pool.EvictPage(1, 0)
	require.Error(t, err)
	pp.Release()
	require.NoError(t, pool.EvictPage(1, 0))
}

func TestFlushAllFlushesEveryDirtyFrame(t *testing.T) {
	pool := newTestPool(t, 4)
	for i := uint32(0); i < 3; i++ {
		pp, err := pool.AllocatePage(1, i, page.FlagLeaf)
		require.NoError(t, err)
		_, err = pp.Page.InsertRecord([]byte("x"))
		require.NoError(t, err)
		pp.MarkDirty()
		pp.Release()
	}
	require.NoError(t, pool.FlushAll())
}
