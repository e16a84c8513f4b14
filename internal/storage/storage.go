// Package storage defines the PageFile abstraction the buffer pool
// binds to. Two implementations exist — internal/storage/tablefile (one
// file per table, page P at byte offset P*page.Size) and
// internal/storage/segment (append-oriented segment files that rotate at
// a configured page count) — chosen by engine.Config.StorageMode. Both
// satisfy the same durability contract from §4.2: WritePage persists the
// exact frame at its computed offset, and concurrent readers see either
// the pre- or post-write page, never a torn one, because each
// implementation serializes its own writes with a mutex.
package storage

import "github.com/edgesql/coredb/internal/page"

// PageFile addresses pages by (tableID, pageID) regardless of whether
// the bytes backing a table live in one file or several segments.
type PageFile interface {
	// ReadPage loads the page frame for (tableID, pageID). It fails on a
	// short read or a bad magic number rather than serving a corrupt
	// frame.
	ReadPage(tableID uint32, pageID uint32) (*page.Page, error)

	// WritePage persists p at the slot computed for (tableID, pageID).
	// The page's own PageID must already equal pageID.
	WritePage(tableID uint32, pageID uint32, p *page.Page) error

	// Sync flushes OS buffers to durable storage for every file this
	// PageFile currently has open.
	Sync() error

	// Close releases every open file handle. Safe to call once during
	// the shutdown coordinator's CLOSE_FILES phase.
	Close() error
}
