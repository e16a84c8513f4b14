package txn

import (
	"runtime"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/edgesql/coredb/pkg/dberr"
	"github.com/edgesql/coredb/pkg/logging"
)

var log = logging.For("txn")

// State is a ticket's lifecycle state.
type State int

const (
	StateActive State = iota
	StateCommitted
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "ACTIVE"
	case StateCommitted:
		return "COMMITTED"
	case StateAborted:
		return "ABORTED"
	default:
		return "UNKNOWN"
	}
}

// Kind distinguishes a read ticket from a write ticket.
type Kind int

const (
	KindRead Kind = iota
	KindWrite
)

// Ticket is a transaction manager's handle on one acquired RW-lock,
// released by an explicit Commit/Abort or, as a last resort, by a
// runtime finalizer if the caller drops it without either.
type Ticket struct {
	ID    uuid.UUID
	Seq   uint64
	Kind  Kind
	state atomic.Int32

	lock *RWLock
}

func newTicket(id uuid.UUID, seq uint64, kind Kind, lock *RWLock) *Ticket {
	t := &Ticket{ID: id, Seq: seq, Kind: kind, lock: lock}
	t.state.Store(int32(StateActive))
	runtime.SetFinalizer(t, finalizeTicket)
	return t
}

// finalizeTicket is the safety net from §4.10D: a ticket dropped while
// still ACTIVE releases its lock and logs a warning instead of
// deadlocking every future writer or reader queued behind it.
func finalizeTicket(t *Ticket) {
	if State(t.state.Load()) == StateActive {
		log.WithField("txn_id", t.ID).Warn("ticket finalized while still active; aborting")
		t.release()
	}
}

// State reports the ticket's current lifecycle state.
func (t *Ticket) State() State { return State(t.state.Load()) }

// Commit marks the ticket committed and releases its lock. Committing
// an already-closed ticket is a no-op error.
func (t *Ticket) Commit() error {
	return t.close(StateCommitted)
}

// Abort marks the ticket aborted and releases its lock.
func (t *Ticket) Abort() error {
	return t.close(StateAborted)
}

// Close aborts the ticket if it is still active, matching the
// `defer ticket.Close()` pattern callers are expected to use alongside
// an explicit Commit on the success path.
func (t *Ticket) Close() error {
	if t.State() != StateActive {
		return nil
	}
	return t.Abort()
}

func (t *Ticket) close(target State) error {
	if !t.state.CompareAndSwap(int32(StateActive), int32(target)) {
		return dberr.New(dberr.KindUnknown, "ticket %s already %s", t.ID, t.State())
	}
	runtime.SetFinalizer(t, nil)
	t.release()
	return nil
}

func (t *Ticket) release() {
	if t.Kind == KindWrite {
		t.lock.Unlock()
	} else {
		t.lock.RUnlock()
	}
}

// Manager is the single global transaction manager described in §4.9:
// one RW-lock serializing all work, wrapped in thin begin/commit/abort
// tickets.
type Manager struct {
	lock *RWLock
	seq  atomic.Uint64
}

// NewManager constructs a Manager with a fresh RW-lock.
func NewManager() *Manager {
	return &Manager{lock: NewRWLock()}
}

// BeginRead acquires the read lock and returns an ACTIVE read ticket.
func (m *Manager) BeginRead() *Ticket {
	m.lock.RLock()
	return newTicket(uuid.New(), m.seq.Add(1), KindRead, m.lock)
}

// BeginWrite acquires the write lock and returns an ACTIVE write
// ticket. At most one write ticket is outstanding at any instant.
func (m *Manager) BeginWrite() *Ticket {
	m.lock.Lock()
	return newTicket(uuid.New(), m.seq.Add(1), KindWrite, m.lock)
}

// TryBeginWrite attempts BeginWrite without blocking, returning
// (nil, false) if a reader or writer currently holds the lock. Queued
// writers are not consulted.
func (m *Manager) TryBeginWrite() (*Ticket, bool) {
	if !m.lock.TryLock() {
		return nil, false
	}
	return newTicket(uuid.New(), m.seq.Add(1), KindWrite, m.lock), true
}

// LockState exposes the underlying RW-lock's counters for diagnostics.
func (m *Manager) LockState() LockState {
	return m.lock.State()
}
