package tablefile

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/edgesql/coredb/internal/page"
)

func TestWriteReadRoundTrip(t *testing.T) {
	fs := afero.NewMemMapFs()
	store, err := Open(fs, "/data")
	require.NoError(t, err)
	defer store.Close()

	p := page.NewFrame(3, page.FlagLeaf)
	_, err = p.InsertRecord([]byte("hello"))
	require.NoError(t, err)

	require.NoError(t, store.WritePage(1, 3, p))

	got, err := store.ReadPage(1, 3)
	require.NoError(t, err)
	require.Equal(t, uint32(3), got.PageID())
	rec, err := got.GetRecord(0)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), rec)
}

func TestPagesAtDifferentOffsetsDoNotCollide(t *testing.T) {
	fs := afero.NewMemMapFs()
	store, err := Open(fs, "/data")
	require.NoError(t, err)
	defer store.Close()

	p0 := page.NewFrame(0, page.FlagLeaf)
	_, err = p0.InsertRecord([]byte("page-zero"))
	require.NoError(t, err)
	p5 := page.NewFrame(5, page.FlagLeaf)
	_, err = p5.InsertRecord([]byte("page-five"))
	require.NoError(t, err)

	require.NoError(t, store.WritePage(2, 0, p0))
	require.NoError(t, store.WritePage(2, 5, p5))

	got0, err := store.ReadPage(2, 0)
	require.NoError(t, err)
	rec0, err := got0.GetRecord(0)
	require.NoError(t, err)
	require.Equal(t, []byte("page-zero"), rec0)

	got5, err := store.ReadPage(2, 5)
	require.NoError(t, err)
	rec5, err := got5.GetRecord(0)
	require.NoError(t, err)
	require.Equal(t, []byte("page-five"), rec5)
}

func TestDifferentTablesAreIndependentFiles(t *testing.T) {
	fs := afero.NewMemMapFs()
	store, err := Open(fs, "/data")
	require.NoError(t, err)
	defer store.Close()

	pa := page.NewFrame(0, page.FlagLeaf)
	_, err = pa.InsertRecord([]byte("table-a"))
	require.NoError(t, err)
	pb := page.NewFrame(0, page.FlagLeaf)
	_, err = pb.InsertRecord([]byte("table-b"))
	require.NoError(t, err)

	require.NoError(t, store.WritePage(10, 0, pa))
	require.NoError(t, store.WritePage(20, 0, pb))

	gotA, err := store.ReadPage(10, 0)
	require.NoError(t, err)
	recA, err := gotA.GetRecord(0)
	require.NoError(t, err)
	require.Equal(t, []byte("table-a"), recA)

	gotB, err := store.ReadPage(20, 0)
	require.NoError(t, err)
	recB, err := gotB.GetRecord(0)
	require.NoError(t, err)
	require.Equal(t, []byte("table-b"), recB)
}

func TestReadPageMissingTableFails(t *testing.T) {
	fs := afero.NewMemMapFs()
	store, err := Open(fs, "/data")
	require.NoError(t, err)
	defer store.Close()

	_, err = store.ReadPage(99, 0)
	require.Error(t, err)
}

func TestSyncAndCloseAreIdempotentAcrossFiles(t *testing.T) {
	fs := afero.NewMemMapFs()
	store, err := Open(fs, "/data")
	require.NoError(t, err)

	p := page.NewFrame(0, page.FlagLeaf)
	require.NoError(t, store.WritePage(1, 0, p))
	require.NoError(t, store.WritePage(2, 0, p))

	require.NoError(t, store.Sync())
	require.NoError(t, store.Close())
}
