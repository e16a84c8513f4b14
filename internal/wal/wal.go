package wal

import (
	"encoding/binary"
	"io"
	"os"
	"sync"

	"github.com/spf13/afero"

	"github.com/edgesql/coredb/pkg/dberr"
	"github.com/edgesql/coredb/pkg/logging"
	"github.com/edgesql/coredb/pkg/metrics"
)

var log = logging.For("wal")

// WAL is the append-only log. It exclusively owns its file handle and
// the monotonic LSN counter; record appends go through Append and the
// file-header rewrite through Checkpoint, both under mu.
type WAL struct {
	fs      afero.Fs
	path    string
	metrics *metrics.Registry

	mu                sync.Mutex
	file              afero.File
	currentLSN        uint64
	firstLSN          uint64
	lastCheckpointLSN uint64
}

// Open validates an existing WAL file's header and scans it forward to
// establish current_lsn, or creates a fresh one with first_lsn=1,
// last_checkpoint_lsn=0 if path does not exist.
func Open(fs afero.Fs, path string, m *metrics.Registry) (*WAL, error) {
	w := &WAL{fs: fs, path: path, metrics: m}

	exists, err := afero.Exists(fs, path)
	if err != nil {
		return nil, dberr.Wrap(dberr.KindIO, err, "wal: stat file")
	}
	if !exists {
		if err := w.createFresh(); err != nil {
			return nil, err
		}
		return w, nil
	}

	f, err := fs.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, dberr.Wrap(dberr.KindIO, err, "wal: open file")
	}
	w.file = f

	hdr := make([]byte, FileHeaderSize)
	if _, err := io.ReadFull(f, hdr); err != nil {
		return nil, dberr.Wrap(dberr.KindCorruption, err, "wal: read file header")
	}
	magic := binary.LittleEndian.Uint32(hdr[0:4])
	version := binary.LittleEndian.Uint32(hdr[4:8])
	if magic != FileMagic {
		return nil, dberr.New(dberr.KindCorruption, "wal: bad file magic 0x%x", magic)
	}
	if version != FileVersion {
		return nil, dberr.New(dberr.KindCorruption, "wal: unsupported version %d", version)
	}
	w.firstLSN = binary.LittleEndian.Uint64(hdr[8:16])
	w.lastCheckpointLSN = binary.LittleEndian.Uint64(hdr[16:24])

	lastLSN, err := w.scanForLastLSN()
	if err != nil {
		return nil, err
	}
	if lastLSN == 0 {
		w.currentLSN = w.firstLSN
		if w.currentLSN == 0 {
			w.currentLSN = 1
		}
	} else {
		w.currentLSN = lastLSN + 1
	}
	return w, nil
}

func (w *WAL) createFresh() error {
	f, err := w.fs.OpenFile(w.path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return dberr.Wrap(dberr.KindIO, err, "wal: create file")
	}
	w.file = f
	w.firstLSN = 1
	w.lastCheckpointLSN = 0
	w.currentLSN = 1
	return w.writeFileHeader()
}

func (w *WAL) writeFileHeader() error {
	hdr := make([]byte, FileHeaderSize)
	binary.LittleEndian.PutUint32(hdr[0:4], FileMagic)
	binary.LittleEndian.PutUint32(hdr[4:8], FileVersion)
	binary.LittleEndian.PutUint64(hdr[8:16], w.firstLSN)
	binary.LittleEndian.PutUint64(hdr[16:24], w.lastCheckpointLSN)
	if _, err := w.file.WriteAt(hdr, 0); err != nil {
		return dberr.Wrap(dberr.KindIO, err, "wal: write file header")
	}
	return nil
}

// scanForLastLSN reads forward past the file header, reading each
// record header and skipping its payload, stopping cleanly at EOF or
// the first corrupt/truncated trailing record.
func (w *WAL) scanForLastLSN() (uint64, error) {
	if _, err := w.file.Seek(FileHeaderSize, io.SeekStart); err != nil {
		return 0, dberr.Wrap(dberr.KindIO, err, "wal: seek past file header")
	}
	var last uint64
	hdrBuf := make([]byte, HeaderSize)
	for {
		if _, err := io.ReadFull(w.file, hdrBuf); err != nil {
			break // EOF or torn header: stop cleanly
		}
		h, err := decodeHeader(hdrBuf)
		if err != nil {
			break
		}
		payloadLen := int(h.length) - HeaderSize
		if payloadLen < 0 {
			break
		}
		if _, err := w.file.Seek(int64(payloadLen), io.SeekCurrent); err != nil {
			break
		}
		last = h.lsn
	}
	return last, nil
}

// Append stamps record.LSN, computes its CRC over the payload, and
// writes it contiguously to the file. It does not fsync.
func (w *WAL) Append(rec Record) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	rec.LSN = w.currentLSN
	buf := rec.encode()

	if _, err := w.file.Seek(0, io.SeekEnd); err != nil {
		return 0, dberr.Wrap(dberr.KindIO, err, "wal: seek to end")
	}
	if _, err := w.file.Write(buf); err != nil {
		return 0, dberr.Wrap(dberr.KindIO, err, "wal: append record")
	}
	w.currentLSN++
	if w.metrics != nil {
		w.metrics.WALAppends.Inc()
		w.metrics.WALBytesWritten.Add(float64(len(buf)))
	}
	return rec.LSN, nil
}

// Sync fsyncs the WAL file. This is the durability boundary; Append
// alone only guarantees the bytes reached the OS.
func (w *WAL) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.file.Sync(); err != nil {
		return dberr.Wrap(dberr.KindIO, err, "wal: sync")
	}
	if w.metrics != nil {
		w.metrics.WALSyncs.Inc()
	}
	return nil
}

// Checkpoint appends a CHECKPOINT record and returns its LSN. It does
// not itself flush buffer-pool pages; callers (the CheckpointManager)
// must do that first.
func (w *WAL) Checkpoint() (uint64, error) {
	lsn, err := w.Append(Record{Type: RecordCheckpoint})
	if err != nil {
		return 0, err
	}
	w.mu.Lock()
	w.lastCheckpointLSN = lsn
	err = w.writeFileHeader()
	w.mu.Unlock()
	if err != nil {
		return 0, err
	}
	if w.metrics != nil {
		w.metrics.Checkpoints.Inc()
	}
	return lsn, nil
}

// CurrentLSN returns the LSN that will be assigned to the next append.
func (w *WAL) CurrentLSN() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.currentLSN
}

// LastCheckpointLSN returns the LSN of the last CHECKPOINT record, or 0
// if none has ever been written.
func (w *WAL) LastCheckpointLSN() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastCheckpointLSN
}

// ReadAll returns every record from the start of the log, stopping
// cleanly at a torn tail.
func (w *WAL) ReadAll() ([]Record, error) {
	return w.ReadFrom(0)
}

// ReadFrom returns every record whose LSN is >= startLSN, stopping
// cleanly at EOF or the first corrupt/truncated record.
func (w *WAL) ReadFrom(startLSN uint64) ([]Record, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.file.Seek(FileHeaderSize, io.SeekStart); err != nil {
		return nil, dberr.Wrap(dberr.KindIO, err, "wal: seek past file header")
	}

	var records []Record
	hdrBuf := make([]byte, HeaderSize)
	for {
		if _, err := io.ReadFull(w.file, hdrBuf); err != nil {
			break
		}
		h, err := decodeHeader(hdrBuf)
		if err != nil {
			log.WithError(err).Warn("wal: stopping replay at malformed record header")
			break
		}
		payloadLen := int(h.length) - HeaderSize
		if payloadLen < 0 {
			log.Warn("wal: stopping replay at record with impossible length")
			break
		}
		payload := make([]byte, payloadLen)
		if _, err := io.ReadFull(w.file, payload); err != nil {
			log.Warn("wal: stopping replay at torn payload")
			break
		}
		if crcOf(payload) != h.crc {
			log.Warn("wal: stopping replay at CRC mismatch")
			break
		}
		if h.lsn >= startLSN {
			records = append(records, Record{
				LSN:     h.lsn,
				Type:    h.typ,
				TableID: h.tableID,
				PageID:  h.pageID,
				SlotID:  h.slotID,
				Payload: payload,
			})
		}
	}
	return records, nil
}

// Close closes the underlying file handle.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.file.Close(); err != nil {
		return dberr.Wrap(dberr.KindIO, err, "wal: close")
	}
	return nil
}
