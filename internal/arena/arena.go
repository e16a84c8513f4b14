// Package arena implements the per-query bump allocator: a list of
// owned byte blocks handed out with increasing offsets and freed only in
// bulk on Reset. No third-party allocator library in the retrieval pack
// covers bump/arena allocation (it is inherently a small stdlib
// byte-slice exercise), so this stays on the standard library — see
// DESIGN.md.
package arena

import "github.com/edgesql/coredb/pkg/dberr"

// DefaultBlockSize is the size of a normal (non-oversize) block.
const DefaultBlockSize = 64 * 1024

type block struct {
	data []byte
	used int
}

// Arena is a linear bump allocator. It is not safe for concurrent use;
// callers serialize access to one arena the same way they serialize
// access to one query (an Arena belongs to exactly one QueryAllocator,
// which belongs to exactly one in-flight query).
type Arena struct {
	blockSize int
	blocks    []*block
	current   int // index into blocks of the block currently being filled
}

// New creates an Arena that hands out normal allocations from blocks of
// blockSize bytes each (defaulting to DefaultBlockSize when 0).
func New(blockSize int) *Arena {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	return &Arena{blockSize: blockSize, current: -1}
}

func alignUp(offset, alignment int) int {
	if alignment <= 1 {
		return offset
	}
	rem := offset % alignment
	if rem == 0 {
		return offset
	}
	return offset + (alignment - rem)
}

// Allocate returns a size-byte slice aligned to alignment (which must be
// a power of two; 1 means unaligned). Oversize requests (size >
// blockSize) get their own dedicated block rather than being split
// across the shared block list.
func (a *Arena) Allocate(size, alignment int) ([]byte, error) {
	if size < 0 {
		return nil, dberr.New(dberr.KindBudget, "arena: negative allocation size %d", size)
	}
	if size == 0 {
		return []byte{}, nil
	}
	if alignment <= 0 {
		alignment = 1
	}

	if size > a.blockSize {
		b := &block{data: make([]byte, size), used: size}
		a.blocks = append(a.blocks, b)
		return b.data, nil
	}

	if a.current >= 0 {
		cur := a.blocks[a.current]
		start := alignUp(cur.used, alignment)
		if start+size <= len(cur.data) {
			cur.used = start + size
			return cur.data[start : start+size], nil
		}
	}

	// The current block is full. Before growing, check whether a later
	// block left over from a previous Reset already has room — Reset
	// empties every block but keeps them all, so the arena can fill back
	// up to its high-water mark without another allocation.
	for i := a.current + 1; i < len(a.blocks); i++ {
		nb := a.blocks[i]
		start := alignUp(nb.used, alignment)
		if start+size <= len(nb.data) {
			a.current = i
			nb.used = start + size
			return nb.data[start : start+size], nil
		}
	}

	nb := &block{data: make([]byte, a.blockSize)}
	a.blocks = append(a.blocks, nb)
	a.current = len(a.blocks) - 1
	start := alignUp(0, alignment)
	nb.used = start + size
	return nb.data[start : start+size], nil
}

// Reset rewinds every block's used counter to zero and the current-block
// cursor to the first block. Every pointer previously handed out by
// Allocate becomes invalid; the caller is responsible for not touching
// them again.
func (a *Arena) Reset() {
	for _, b := range a.blocks {
		b.used = 0
	}
	if len(a.blocks) > 0 {
		a.current = 0
	} else {
		a.current = -1
	}
}

// BytesReserved returns the total capacity of every block the arena has
// ever allocated (not the amount currently in use — that's tracked
// separately by QueryAllocator against its cap).
func (a *Arena) BytesReserved() int64 {
	var total int64
	for _, b := range a.blocks {
		total += int64(len(b.data))
	}
	return total
}
