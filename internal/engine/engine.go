// Package engine wires every subsystem — catalog, buffer pool, WAL,
// recovery, checkpointing, the transaction manager, the shutdown
// coordinator, the global memory tracker, and metrics — into the single
// explicit value Design Notes §9 calls for in place of the teacher's
// package-level singletons.
package engine

import (
	"context"
	"path/filepath"
	"time"

	"github.com/spf13/afero"

	"github.com/edgesql/coredb/internal/buffer"
	"github.com/edgesql/coredb/internal/catalog"
	"github.com/edgesql/coredb/internal/exec"
	"github.com/edgesql/coredb/internal/memtrack"
	"github.com/edgesql/coredb/internal/queryplan"
	"github.com/edgesql/coredb/internal/recovery"
	"github.com/edgesql/coredb/internal/row"
	"github.com/edgesql/coredb/internal/shutdown"
	"github.com/edgesql/coredb/internal/storage"
	"github.com/edgesql/coredb/internal/storage/segment"
	"github.com/edgesql/coredb/internal/storage/tablefile"
	"github.com/edgesql/coredb/internal/txn"
	"github.com/edgesql/coredb/internal/wal"
	"github.com/edgesql/coredb/pkg/dberr"
	"github.com/edgesql/coredb/pkg/logging"
	"github.com/edgesql/coredb/pkg/metrics"
)

var log = logging.For("engine")

// StorageMode selects which storage.PageFile implementation backs the
// buffer pool.
type StorageMode int

const (
	// StorageModeTableFile keeps one file per table (internal/storage/tablefile).
	StorageModeTableFile StorageMode = iota
	// StorageModeSegment rotates fixed-capacity segment files (internal/storage/segment).
	StorageModeSegment
)

// Config bundles everything OpenEngine needs to construct one database
// instance.
type Config struct {
	DataDir              string
	StorageMode          StorageMode
	SegmentMaxPages      int
	BufferPoolCapacity   int
	GlobalMemoryBytes    int64
	ShutdownDrainTimeout time.Duration
	MaxInFlightOps       int64
	Workers              int
}

// DefaultConfig fills in the same defaults the CLI falls back to.
func DefaultConfig(dataDir string) Config {
	return Config{
		DataDir:              dataDir,
		StorageMode:          StorageModeTableFile,
		SegmentMaxPages:      segment.DefaultMaxPages,
		BufferPoolCapacity:   256,
		GlobalMemoryBytes:    0,
		ShutdownDrainTimeout: 5 * time.Second,
		MaxInFlightOps:       0,
		Workers:              0,
	}
}

// Engine owns every subsystem needed to serve queries against one data
// directory. Exactly one is constructed per process (cmd/coredb/main.go).
type Engine struct {
	Config Config

	fs       afero.Fs
	backing  storage.PageFile
	Catalog  *catalog.Catalog
	Pool     *buffer.Pool
	WAL      *wal.WAL
	Memory   *memtrack.Tracker
	Metrics  *metrics.Registry
	Txn      *txn.Manager
	Shutdown *shutdown.Coordinator

	catalogPath string
}

func catalogPath(dataDir string) string { return filepath.Join(dataDir, "catalog.db") }
func walPath(dataDir string) string     { return filepath.Join(dataDir, "wal.log") }

// OpenEngine constructs every subsystem against fs (afero.NewOsFs() in
// production, afero.NewMemMapFs() in tests), then runs recovery so the
// returned Engine reflects the durable state on disk.
func OpenEngine(fs afero.Fs, cfg Config) (*Engine, error) {
	if cfg.BufferPoolCapacity <= 0 {
		cfg.BufferPoolCapacity = 256
	}
	if err := fs.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, dberr.Wrap(dberr.KindIO, err, "creating data directory")
	}

	m := metrics.New()

	var backing storage.PageFile
	var err error
	switch cfg.StorageMode {
	case StorageModeSegment:
		backing, err = segment.Open(fs, cfg.DataDir, cfg.SegmentMaxPages)
	default:
		backing, err = tablefile.Open(fs, cfg.DataDir)
	}
	if err != nil {
		return nil, dberr.Wrap(dberr.KindIO, err, "opening page storage")
	}

	pool, err := buffer.New(backing, cfg.BufferPoolCapacity, m)
	if err != nil {
		return nil, dberr.Wrap(dberr.KindIO, err, "constructing buffer pool")
	}

	w, err := wal.Open(fs, walPath(cfg.DataDir), m)
	if err != nil {
		return nil, dberr.Wrap(dberr.KindIO, err, "opening write-ahead log")
	}

	cp := catalogPath(cfg.DataDir)
	cat, err := catalog.LoadOrCreate(fs, cp)
	if err != nil {
		return nil, dberr.Wrap(dberr.KindCorruption, err, "loading catalog")
	}

	e := &Engine{
		Config:      cfg,
		fs:          fs,
		backing:     backing,
		Catalog:     cat,
		Pool:        pool,
		WAL:         w,
		Memory:      memtrack.New(cfg.GlobalMemoryBytes),
		Metrics:     m,
		Txn:         txn.NewManager(),
		Shutdown:    shutdown.New(cfg.ShutdownDrainTimeout, cfg.MaxInFlightOps),
		catalogPath: cp,
	}
	e.registerShutdownCallbacks()

	rec := recovery.New(w, pool, cat)
	stats, err := rec.Run()
	if err != nil {
		return nil, dberr.Wrap(dberr.KindCorruption, err, "running recovery")
	}
	log.WithField("records_applied", stats.RecordsApplied).
		WithField("records_skipped", stats.RecordsSkipped).
		WithField("start_lsn", stats.StartLSN).
		Info("recovery complete")

	return e, nil
}

func (e *Engine) registerShutdownCallbacks() {
	e.Shutdown.Register(shutdown.PhaseFlushWAL, "flush-wal", func(ctx context.Context) error {
		if err := e.Pool.FlushAll(); err != nil {
			return err
		}
		return e.WAL.Sync()
	})
	e.Shutdown.Register(shutdown.PhaseCloseFiles, "close-wal", func(ctx context.Context) error {
		return e.WAL.Close()
	})
	e.Shutdown.Register(shutdown.PhaseCloseFiles, "close-storage", func(ctx context.Context) error {
		return e.backing.Close()
	})
	e.Shutdown.Register(shutdown.PhaseCleanup, "persist-catalog", func(ctx context.Context) error {
		return e.Catalog.Persist(e.fs, e.catalogPath)
	})
}

// BeginRead acquires a read ticket from the transaction manager,
// tracking it against the shutdown coordinator's active-operation
// counter so DRAIN_CONNECTIONS waits for it.
func (e *Engine) BeginRead(ctx context.Context) (*txn.Ticket, *shutdown.OperationGuard, error) {
	guard, ok := e.Shutdown.BeginOperation(ctx)
	if !ok {
		return nil, nil, dberr.New(dberr.KindIO, "engine is shutting down")
	}
	e.Metrics.ActiveReaders.Inc()
	return e.Txn.BeginRead(), guard, nil
}

// BeginWrite acquires a write ticket, likewise tracked for drain.
func (e *Engine) BeginWrite(ctx context.Context) (*txn.Ticket, *shutdown.OperationGuard, error) {
	guard, ok := e.Shutdown.BeginOperation(ctx)
	if !ok {
		return nil, nil, dberr.New(dberr.KindIO, "engine is shutting down")
	}
	e.Metrics.ActiveWriters.Inc()
	return e.Txn.BeginWrite(), guard, nil
}

// EndTicket commits or aborts tk depending on execErr, releases guard,
// and updates the reader/writer gauges.
func (e *Engine) EndTicket(tk *txn.Ticket, guard *shutdown.OperationGuard, execErr error) {
	if tk.Kind == txn.KindWrite {
		e.Metrics.ActiveWriters.Dec()
	} else {
		e.Metrics.ActiveReaders.Dec()
	}
	if execErr != nil {
		_ = tk.Abort()
		e.Metrics.TxnAborts.Inc()
	} else {
		_ = tk.Commit()
		e.Metrics.TxnCommits.Inc()
	}
	guard.Release()
}

// NewQueryContext builds an exec.Context bound to budget and this
// Engine's global memory tracker.
func (e *Engine) NewQueryContext(parent context.Context, budget exec.Budget) *exec.Context {
	return exec.NewContext(parent, budget, e.Memory)
}

// ExecutePlan runs a fully-built operator tree to completion under a
// fresh query context, recording the violation kind (if any) to the
// budget-violations metric.
func (e *Engine) ExecutePlan(ctx context.Context, op exec.Operator, budget exec.Budget) ([]row.Row, error) {
	qctx := e.NewQueryContext(ctx, budget)
	rows, err := exec.Run(op, qctx)
	if v := qctx.Violation(); v != exec.ViolationNone {
		e.Metrics.BudgetViolations.WithLabelValues(v.String()).Inc()
	}
	return rows, err
}

// ExecuteSQL parses one SQL statement, translates it into an operator
// tree via internal/queryplan, and runs it under budget. It is the
// entry point the network-facing server and CLI both call. Per
// spec.md §2/§5, "at most one writer executes mutations at any
// instant": every statement acquires a ticket from e.Txn's
// writer-preferring RW-lock before touching the catalog, buffer pool,
// or WAL — a write ticket for CREATE TABLE/INSERT/DROP TABLE, a read
// ticket for SELECT — and releases it via EndTicket when done, the way
// a hand-driven caller (engine_test.go) already does manually.
func (e *Engine) ExecuteSQL(ctx context.Context, sql string, budget exec.Budget) ([]row.Row, error) {
	stmt, err := queryplan.Parse(sql)
	if err != nil {
		return nil, err
	}

	var (
		tk    *txn.Ticket
		guard *shutdown.OperationGuard
	)
	if queryplan.IsWrite(stmt) {
		tk, guard, err = e.BeginWrite(ctx)
	} else {
		tk, guard, err = e.BeginRead(ctx)
	}
	if err != nil {
		return nil, err
	}

	op, err := queryplan.Build(stmt, queryplan.Env{Catalog: e.Catalog, Pool: e.Pool, WAL: e.WAL})
	if err != nil {
		e.EndTicket(tk, guard, err)
		return nil, err
	}
	rows, err := e.ExecutePlan(ctx, op, budget)
	e.EndTicket(tk, guard, err)
	return rows, err
}

// Checkpoint flushes every dirty page and appends a CHECKPOINT record,
// bounding future recovery replay to records after this point.
func (e *Engine) Checkpoint() (uint64, error) {
	mgr := recovery.NewCheckpointManager(e.WAL, e.Pool)
	lsn, err := mgr.Run()
	if err == nil {
		e.Metrics.Checkpoints.Inc()
	}
	return lsn, err
}

// Close runs the shutdown coordinator's full six-phase sequence.
func (e *Engine) Close(ctx context.Context) error {
	return e.Shutdown.Initiate(ctx, e.Config.ShutdownDrainTimeout)
}
