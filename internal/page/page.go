// Package page implements the fixed-size slotted page: a directory of
// (offset, length) slot entries growing up from a 24-byte header, and
// record payloads growing down from the end of the frame, meeting in
// the middle. Grounded on other_examples/kfigon-simple-db's slot-array
// design and on the teacher's internal/storage/btree/node.go for the
// fixed-frame, encoding/binary-little-endian header convention.
package page

import (
	"encoding/binary"

	"github.com/edgesql/coredb/pkg/dberr"
)

const (
	// Size is the fixed frame size for every page in the system.
	Size = 8192

	// Magic identifies a valid page frame; §6 of the spec fixes this
	// exact value for the page file layout.
	Magic uint32 = 0x45444247

	// HeaderSize is the byte length of the fixed page header.
	HeaderSize = 24
	// SlotSize is the byte length of one slot directory entry.
	SlotSize = 4

	// tombstoneOffset marks a deleted slot.
	tombstoneOffset = 0xFFFF
)

// Flag bits stored in the page header.
const (
	FlagLeaf uint16 = 1 << iota
	FlagInternal
)

// Page is a slotted page frame. Data is the raw 8192-byte buffer;
// callers (the buffer pool) own its backing array, Page only interprets
// it.
type Page struct {
	Data []byte
}

// Wrap interprets an existing Size-byte buffer as a Page without
// copying it. The caller must ensure len(data) == Size.
func Wrap(data []byte) *Page {
	return &Page{Data: data}
}

// NewFrame allocates a fresh zeroed Size-byte frame and initializes it.
func NewFrame(pageID uint32, flags uint16) *Page {
	p := &Page{Data: make([]byte, Size)}
	p.Init(pageID, flags)
	return p
}

// header field accessors, all little-endian per the resolved Open
// Question on byte order.

func (p *Page) magic() uint32      { return binary.LittleEndian.Uint32(p.Data[0:4]) }
func (p *Page) setMagic(v uint32)  { binary.LittleEndian.PutUint32(p.Data[0:4], v) }
func (p *Page) PageID() uint32     { return binary.LittleEndian.Uint32(p.Data[4:8]) }
func (p *Page) setPageID(v uint32) { binary.LittleEndian.PutUint32(p.Data[4:8], v) }
func (p *Page) LSN() uint64        { return binary.LittleEndian.Uint64(p.Data[8:16]) }
func (p *Page) SetLSN(v uint64)    { binary.LittleEndian.PutUint64(p.Data[8:16], v) }
func (p *Page) slotCount() uint16  { return binary.LittleEndian.Uint16(p.Data[16:18]) }
func (p *Page) setSlotCount(v uint16) {
	binary.LittleEndian.PutUint16(p.Data[16:18], v)
}
func (p *Page) freeSpace() uint16     { return binary.LittleEndian.Uint16(p.Data[18:20]) }
func (p *Page) setFreeSpace(v uint16) { binary.LittleEndian.PutUint16(p.Data[18:20], v) }
func (p *Page) dataStart() uint16     { return binary.LittleEndian.Uint16(p.Data[20:22]) }
func (p *Page) setDataStart(v uint16) { binary.LittleEndian.PutUint16(p.Data[20:22], v) }
func (p *Page) Flags() uint16         { return binary.LittleEndian.Uint16(p.Data[22:24]) }
func (p *Page) setFlags(v uint16)     { binary.LittleEndian.PutUint16(p.Data[22:24], v) }

// IsDirty reports whether the in-page DIRTY flag is set. The buffer pool
// keeps a mirror of this in its own bookkeeping (§4.3) but the header
// bit is authoritative for a page written directly to disk.
func (p *Page) IsDirty() bool { return p.Flags()&flagDirty != 0 }

func (p *Page) markDirty()   { p.setFlags(p.Flags() | flagDirty) }
func (p *Page) clearDirty()  { p.setFlags(p.Flags() &^ flagDirty) }

// flagDirty is stored in the same 16-bit flags field as FlagLeaf /
// FlagInternal but in a bit those never use.
const flagDirty uint16 = 1 << 15

// SlotCount returns the number of slot directory entries, including
// tombstoned and empty ones.
func (p *Page) SlotCount() int { return int(p.slotCount()) }

// FreeSpace returns the currently unused byte count between the slot
// directory and the record area.
func (p *Page) FreeSpace() int { return int(p.freeSpace()) }

// ValidMagic reports whether the frame's magic number matches Magic.
func (p *Page) ValidMagic() bool { return p.magic() == Magic }

func slotOffsetPos(i int) int { return HeaderSize + i*SlotSize }

func (p *Page) getSlot(i int) (offset, length uint16) {
	pos := slotOffsetPos(i)
	return binary.LittleEndian.Uint16(p.Data[pos : pos+2]), binary.LittleEndian.Uint16(p.Data[pos+2 : pos+4])
}

func (p *Page) setSlot(i int, offset, length uint16) {
	pos := slotOffsetPos(i)
	binary.LittleEndian.PutUint16(p.Data[pos:pos+2], offset)
	binary.LittleEndian.PutUint16(p.Data[pos+2:pos+4], length)
}

// Init zeroes the frame and stamps a fresh header: magic, slot_count=0,
// data_start=Size, free_space = Size - HeaderSize.
func (p *Page) Init(pageID uint32, flags uint16) {
	for i := range p.Data {
		p.Data[i] = 0
	}
	p.setMagic(Magic)
	p.setPageID(pageID)
	p.SetLSN(0)
	p.setSlotCount(0)
	p.setDataStart(Size)
	p.setFreeSpace(Size - HeaderSize)
	p.setFlags(flags)
}

// InsertRecord appends a slot directory entry and writes bytes into the
// free middle region, growing the slot directory upward and the record
// area downward. Returns the new slot index.
func (p *Page) InsertRecord(bytes []byte) (int, error) {
	n := len(bytes)
	needed := n + SlotSize
	slots := int(p.slotCount())
	if int(p.freeSpace()) < needed {
		return 0, dberr.New(dberr.KindIO, "NO_SPACE: page %d has %d bytes free, need %d", p.PageID(), p.freeSpace(), needed)
	}
	newDataStart := int(p.dataStart()) - n
	if newDataStart < HeaderSize+(slots+1)*SlotSize {
		return 0, dberr.New(dberr.KindIO, "NO_SPACE: page %d slot directory would collide with record area", p.PageID())
	}

	copy(p.Data[newDataStart:newDataStart+n], bytes)
	slotIdx := slots
	p.setSlot(slotIdx, uint16(newDataStart), uint16(n))
	p.setSlotCount(uint16(slots + 1))
	p.setDataStart(uint16(newDataStart))
	p.setFreeSpace(p.freeSpace() - uint16(needed))
	p.markDirty()
	return slotIdx, nil
}

// GetRecord returns the byte range referenced by slot, or an error if
// the slot is out of range, empty, or tombstoned.
func (p *Page) GetRecord(slot int) ([]byte, error) {
	if slot < 0 || slot >= int(p.slotCount()) {
		return nil, dberr.New(dberr.KindIO, "slot %d out of range (count=%d)", slot, p.slotCount())
	}
	offset, length := p.getSlot(slot)
	if offset == tombstoneOffset {
		return nil, dberr.New(dberr.KindIO, "slot %d is tombstoned", slot)
	}
	if offset == 0 && length == 0 {
		return nil, dberr.New(dberr.KindIO, "slot %d is empty", slot)
	}
	return p.Data[offset : offset+length], nil
}

// UpdateRecord overwrites slot's payload in place. It succeeds only when
// len(bytes) does not exceed the slot's existing length; callers needing
// to grow a record must delete it and insert a new one.
func (p *Page) UpdateRecord(slot int, bytes []byte) error {
	if slot < 0 || slot >= int(p.slotCount()) {
		return dberr.New(dberr.KindIO, "slot %d out of range (count=%d)", slot, p.slotCount())
	}
	offset, length := p.getSlot(slot)
	if offset == tombstoneOffset {
		return dberr.New(dberr.KindIO, "slot %d is tombstoned", slot)
	}
	if len(bytes) > int(length) {
		return dberr.New(dberr.KindIO, "record too large for slot %d: have %d, need %d", slot, length, len(bytes))
	}
	copy(p.Data[offset:offset+uint16(len(bytes))], bytes)
	p.setSlot(slot, offset, uint16(len(bytes)))
	p.markDirty()
	return nil
}

// DeleteRecord marks slot tombstoned. Space reclamation is not
// performed here; a later compaction pass (outside this core) would
// reclaim the freed bytes.
func (p *Page) DeleteRecord(slot int) error {
	if slot < 0 || slot >= int(p.slotCount()) {
		return dberr.New(dberr.KindIO, "slot %d out of range (count=%d)", slot, p.slotCount())
	}
	offset, _ := p.getSlot(slot)
	if offset == tombstoneOffset {
		return nil // already deleted; idempotent for recovery replay
	}
	p.setSlot(slot, tombstoneOffset, 0)
	p.markDirty()
	return nil
}

// IsTombstoned reports whether slot has been deleted.
func (p *Page) IsTombstoned(slot int) bool {
	if slot < 0 || slot >= int(p.slotCount()) {
		return false
	}
	offset, _ := p.getSlot(slot)
	return offset == tombstoneOffset
}

// SlotOccupied reports whether slot exists and holds a live (or
// tombstoned) record, as opposed to being past slotCount entirely. This
// is exactly the check recovery's INSERT idempotence rule needs.
func (p *Page) SlotOccupied(slot int) bool {
	return slot >= 0 && slot < int(p.slotCount())
}
