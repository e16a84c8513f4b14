package recovery

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/edgesql/coredb/internal/buffer"
	"github.com/edgesql/coredb/internal/catalog"
	"github.com/edgesql/coredb/internal/storage/tablefile"
	"github.com/edgesql/coredb/internal/wal"
)

func newHarness(t *testing.T) (*wal.WAL, *buffer.Pool, afero.Fs) {
	t.Helper()
	fs := afero.NewMemMapFs()
	store, err := tablefile.Open(fs, "/data")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	pool, err := buffer.New(store, 16, nil)
	require.NoError(t, err)
	w, err := wal.Open(fs, "/data/wal.log", nil)
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })
	return w, pool, fs
}

func TestRecoveryReplaysInsertsFromScratch(t *testing.T) {
	w, pool, _ := newHarness(t)
	cat := catalog.New()

	pp, err := pool.AllocatePage(1, 0, 0)
	require.NoError(t, err)
	pp.Release() // simulate the page existing on disk but not the WAL replay target yet

	_, err = w.Append(wal.Record{Type: wal.RecordInsert, TableID: 1, PageID: 0, SlotID: 0, Payload: []byte("row-a")})
	require.NoError(t, err)
	_, err = w.Append(wal.Record{Type: wal.RecordInsert, TableID: 1, PageID: 0, SlotID: 1, Payload: []byte("row-b")})
	require.NoError(t, err)

	r := New(w, pool, cat)
	stats, err := r.Run()
	require.NoError(t, err)
	require.Equal(t, 2, stats.RecordsApplied)

	pp2, err := pool.GetPage(1, 0)
	require.NoError(t, err)
	defer pp2.Release()
	rec, err := pp2.Page.GetRecord(0)
	require.NoError(t, err)
	require.Equal(t, []byte("row-a"), rec)
}

func TestRecoveryInsertIsIdempotentOnReplay(t *testing.T) {
	w, pool, _ := newHarness(t)
	cat := catalog.New()

	lsn, err := w.Append(wal.Record{Type: wal.RecordInsert, TableID: 1, PageID: 0, SlotID: 0, Payload: []byte("row-a")})
	require.NoError(t, err)

	// apply once already, as if the buffer pool had this before a crash.
	pp, err := pool.AllocatePage(1, 0, 0)
	require.NoError(t, err)
	_, err = pp.Page.InsertRecord([]byte("row-a"))
	require.NoError(t, err)
	pp.Page.SetLSN(lsn)
	pp.Release()

	r := New(w, pool, cat)
	stats, err := r.Run()
	require.NoError(t, err)
	require.Equal(t, 0, stats.RecordsApplied)
	require.Equal(t, 1, stats.RecordsSkipped)
}

func TestRecoveryUpdateSkipsWhenPageLSNAheadOfRecord(t *testing.T) {
	w, pool, _ := newHarness(t)
	cat := catalog.New()

	pp, err := pool.AllocatePage(1, 0, 0)
	require.NoError(t, err)
	_, err = pp.Page.InsertRecord([]byte("0123456789"))
	require.NoError(t, err)
	pp.Page.SetLSN(50)
	pp.Release()

	_, err = w.Append(wal.Record{Type: wal.RecordUpdate, TableID: 1, PageID: 0, SlotID: 0, Payload: []byte("stale")})
	require.NoError(t, err)
	// the WAL assigns this record LSN 1; the page is already at LSN 50.

	r := New(w, pool, cat)
	stats, err := r.Run()
	require.NoError(t, err)
	require.Equal(t, 0, stats.RecordsApplied)

	pp2, err := pool.GetPage(1, 0)
	require.NoError(t, err)
	defer pp2.Release()
	rec, err := pp2.Page.GetRecord(0)
	require.NoError(t, err)
	require.Equal(t, []byte("0123456789"), rec, "update must not have been reapplied")
}

func TestRecoveryRestoresCatalogPageCount(t *testing.T) {
	w, pool, _ := newHarness(t)
	cat := catalog.New()
	tbl, err := cat.CreateTable("t", []catalog.Column{{Name: "a", Type: catalog.IntegerType}})
	require.NoError(t, err)
	require.Equal(t, uint32(0), cat.PageCount(tbl.ID))

	_, err = w.Append(wal.Record{Type: wal.RecordInsert, TableID: tbl.ID, PageID: 0, SlotID: 0, Payload: []byte("row-a")})
	require.NoError(t, err)
	_, err = w.Append(wal.Record{Type: wal.RecordInsert, TableID: tbl.ID, PageID: 2, SlotID: 0, Payload: []byte("row-b")})
	require.NoError(t, err)

	r := New(w, pool, cat)
	_, err = r.Run()
	require.NoError(t, err)

	require.Equal(t, uint32(3), cat.PageCount(tbl.ID), "page count must span through the highest page touched by replay")
}

func TestRecoveryStartsFromLatestCheckpoint(t *testing.T) {
	w, pool, _ := newHarness(t)
	cat := catalog.New()

	pp, err := pool.AllocatePage(1, 0, 0)
	require.NoError(t, err)
	pp.Release()

	_, err = w.Append(wal.Record{Type: wal.RecordInsert, TableID: 1, PageID: 0, SlotID: 0, Payload: []byte("before-checkpoint")})
	require.NoError(t, err)
	cpLSN, err := w.Checkpoint()
	require.NoError(t, err)
	require.NotZero(t, cpLSN)
	_, err = w.Append(wal.Record{Type: wal.RecordInsert, TableID: 1, PageID: 0, SlotID: 0, Payload: []byte("after-checkpoint")})
	require.NoError(t, err)

	r := New(w, pool, cat)
	stats, err := r.Run()
	require.NoError(t, err)
	require.Equal(t, cpLSN, stats.StartLSN)
	// the before-checkpoint insert into slot 0 is not replayed (it's
	// before the checkpoint), only the after-checkpoint one.
	require.Equal(t, 1, stats.RecordsApplied)
}
