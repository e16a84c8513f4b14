package recovery

import (
	"github.com/edgesql/coredb/internal/buffer"
	"github.com/edgesql/coredb/internal/wal"
	"github.com/edgesql/coredb/pkg/dberr"
)

// CheckpointManager performs the ordered checkpoint procedure from
// §4.5: flush dirty pages, sync, append a CHECKPOINT record, sync
// again. A crash between the first and third step is safe — the next
// recovery run redoes from the previous checkpoint, and redo is
// idempotent.
type CheckpointManager struct {
	wal  *wal.WAL
	pool *buffer.Pool
}

// NewCheckpointManager constructs a CheckpointManager over the given
// WAL and buffer pool.
func NewCheckpointManager(w *wal.WAL, pool *buffer.Pool) *CheckpointManager {
	return &CheckpointManager{wal: w, pool: pool}
}

// Run executes one checkpoint and returns its LSN.
func (m *CheckpointManager) Run() (uint64, error) {
	if err := m.pool.FlushAll(); err != nil {
		return 0, dberr.Wrap(dberr.KindIO, err, "checkpoint: flush dirty pages")
	}
	if err := m.wal.Sync(); err != nil {
		return 0, dberr.Wrap(dberr.KindIO, err, "checkpoint: sync before CHECKPOINT record")
	}
	lsn, err := m.wal.Checkpoint()
	if err != nil {
		return 0, dberr.Wrap(dberr.KindIO, err, "checkpoint: append CHECKPOINT record")
	}
	if err := m.wal.Sync(); err != nil {
		return 0, dberr.Wrap(dberr.KindIO, err, "checkpoint: sync after CHECKPOINT record")
	}
	return lsn, nil
}
