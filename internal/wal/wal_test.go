package wal

import (
	"os"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

func TestAppendReadAllRoundTrip(t *testing.T) {
	fs := afero.NewMemMapFs()
	w, err := Open(fs, "/data/wal.log", nil)
	require.NoError(t, err)
	defer w.Close()

	lsn1, err := w.Append(Record{Type: RecordInsert, TableID: 1, PageID: 2, SlotID: 3, Payload: []byte("row-1")})
	require.NoError(t, err)
	require.EqualValues(t, 1, lsn1)

	lsn2, err := w.Append(Record{Type: RecordUpdate, TableID: 1, PageID: 2, SlotID: 3, Payload: []byte("row-1-updated")})
	require.NoError(t, err)
	require.EqualValues(t, 2, lsn2)

	records, err := w.ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, RecordInsert, records[0].Type)
	require.Equal(t, []byte("row-1"), records[0].Payload)
	require.Equal(t, RecordUpdate, records[1].Type)
	require.Equal(t, []byte("row-1-updated"), records[1].Payload)
}

func TestReopenResumesLSNCounter(t *testing.T) {
	fs := afero.NewMemMapFs()
	w, err := Open(fs, "/data/wal.log", nil)
	require.NoError(t, err)
	_, err = w.Append(Record{Type: RecordInsert, Payload: []byte("a")})
	require.NoError(t, err)
	_, err = w.Append(Record{Type: RecordInsert, Payload: []byte("b")})
	require.NoError(t, err)
	require.NoError(t, w.Close())

	w2, err := Open(fs, "/data/wal.log", nil)
	require.NoError(t, err)
	defer w2.Close()
	require.EqualValues(t, 3, w2.CurrentLSN())

	lsn, err := w2.Append(Record{Type: RecordInsert, Payload: []byte("c")})
	require.NoError(t, err)
	require.EqualValues(t, 3, lsn)
}

func TestTornTailStopsCleanly(t *testing.T) {
	fs := afero.NewMemMapFs()
	w, err := Open(fs, "/data/wal.log", nil)
	require.NoError(t, err)
	_, err = w.Append(Record{Type: RecordInsert, Payload: []byte("whole-record")})
	require.NoError(t, err)
	require.NoError(t, w.Close())

	// truncate mid-second-record to simulate a torn tail.
	f, err := fs.OpenFile("/data/wal.log", os.O_RDWR, 0o644)
	require.NoError(t, err)
	info, err := f.Stat()
	require.NoError(t, err)
	require.NoError(t, f.Truncate(info.Size()+HeaderSize+5))
	require.NoError(t, f.Close())

	w2, err := Open(fs, "/data/wal.log", nil)
	require.NoError(t, err)
	defer w2.Close()

	records, err := w2.ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 1, "the torn trailing record must not appear")
}

func TestCheckpointRecordedAndSkippableOnReplay(t *testing.T) {
	fs := afero.NewMemMapFs()
	w, err := Open(fs, "/data/wal.log", nil)
	require.NoError(t, err)
	defer w.Close()

	_, err = w.Append(Record{Type: RecordInsert, Payload: []byte("a")})
	require.NoError(t, err)
	cpLSN, err := w.Checkpoint()
	require.NoError(t, err)
	require.EqualValues(t, 2, cpLSN)
	require.EqualValues(t, cpLSN, w.LastCheckpointLSN())

	_, err = w.Append(Record{Type: RecordInsert, Payload: []byte("b")})
	require.NoError(t, err)

	records, err := w.ReadFrom(cpLSN)
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, RecordCheckpoint, records[0].Type)
	require.Equal(t, RecordInsert, records[1].Type)
}

func TestCRCMismatchStopsReplay(t *testing.T) {
	fs := afero.NewMemMapFs()
	w, err := Open(fs, "/data/wal.log", nil)
	require.NoError(t, err)
	_, err = w.Append(Record{Type: RecordInsert, Payload: []byte("good")})
	require.NoError(t, err)
	require.NoError(t, w.Close())

	f, err := fs.OpenFile("/data/wal.log", os.O_RDWR, 0o644)
	require.NoError(t, err)
	// corrupt one payload byte, just past the header of the first record.
	_, err = f.WriteAt([]byte{0xFF}, FileHeaderSize+HeaderSize)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	w2, err := Open(fs, "/data/wal.log", nil)
	require.NoError(t, err)
	defer w2.Close()

	records, err := w2.ReadAll()
	require.NoError(t, err)
	require.Empty(t, records, "a CRC mismatch on the only record must yield an empty replay")
}
