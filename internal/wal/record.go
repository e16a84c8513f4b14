// Package wal implements the append-only write-ahead log from §4.4: a
// single file of a 24-byte file header followed by a sequence of
// 32-byte record headers each followed by a variable-length payload.
//
// Grounded structurally on other_examples/MahammadAgayev-iris__journal.go
// (page-and-record journal shape) and
// other_examples/NebulousLabs-writeaheadlog__consts.go (fixed-size
// metadata header with magic + version fields, checksum-guarded
// records); the CRC32 itself is hash/crc32.IEEE, which is exactly the
// polynomial (0xEDB88320) and reflected-input/output convention the spec
// requires, so using the stdlib table here is not a shortcut around a
// library — see DESIGN.md.
package wal

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/edgesql/coredb/pkg/dberr"
)

// RecordType enumerates the kinds of WAL records.
type RecordType uint8

const (
	RecordInsert RecordType = iota + 1
	RecordUpdate
	RecordDelete
	RecordCreateTable
	RecordDropTable
	RecordCheckpoint
	RecordCommit
	RecordRollback
)

func (t RecordType) String() string {
	switch t {
	case RecordInsert:
		return "INSERT"
	case RecordUpdate:
		return "UPDATE"
	case RecordDelete:
		return "DELETE"
	case RecordCreateTable:
		return "CREATE_TABLE"
	case RecordDropTable:
		return "DROP_TABLE"
	case RecordCheckpoint:
		return "CHECKPOINT"
	case RecordCommit:
		return "COMMIT"
	case RecordRollback:
		return "ROLLBACK"
	default:
		return "UNKNOWN"
	}
}

// HeaderSize is the fixed byte length of a WAL record header.
const HeaderSize = 32

// FileHeaderSize is the fixed byte length of the WAL file header.
const FileHeaderSize = 24

// FileMagic identifies a valid WAL file per §6's exact byte layout.
const FileMagic uint32 = 0x57414C45

// FileVersion is the only WAL file format version this implementation
// understands.
const FileVersion uint32 = 1

// Record is one decoded WAL entry.
type Record struct {
	LSN     uint64
	Type    RecordType
	TableID uint32
	PageID  uint32
	SlotID  uint16
	Payload []byte
}

var crcTable = crc32.IEEETable

func crcOf(payload []byte) uint32 {
	return crc32.Checksum(payload, crcTable)
}

// encode serializes r's header and payload into a single contiguous
// byte slice, computing length and CRC32 as it goes. r.LSN must already
// be stamped by the caller (the WAL under its mutex).
func (r *Record) encode() []byte {
	length := HeaderSize + len(r.Payload)
	buf := make([]byte, length)

	binary.LittleEndian.PutUint64(buf[0:8], r.LSN)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(length))
	binary.LittleEndian.PutUint32(buf[12:16], crcOf(r.Payload))
	buf[16] = byte(r.Type)
	// buf[17:20] reserved, left zero
	binary.LittleEndian.PutUint32(buf[20:24], r.TableID)
	binary.LittleEndian.PutUint32(buf[24:28], r.PageID)
	binary.LittleEndian.PutUint16(buf[28:30], r.SlotID)
	// buf[30:32] padding, left zero
	copy(buf[HeaderSize:], r.Payload)
	return buf
}

// decodeHeader parses a HeaderSize-byte header. It does not touch the
// payload.
type recordHeader struct {
	lsn     uint64
	length  uint32
	crc     uint32
	typ     RecordType
	tableID uint32
	pageID  uint32
	slotID  uint16
}

func decodeHeader(buf []byte) (recordHeader, error) {
	if len(buf) < HeaderSize {
		return recordHeader{}, dberr.New(dberr.KindCorruption, "wal: short record header: %d bytes", len(buf))
	}
	h := recordHeader{
		lsn:     binary.LittleEndian.Uint64(buf[0:8]),
		length:  binary.LittleEndian.Uint32(buf[8:12]),
		crc:     binary.LittleEndian.Uint32(buf[12:16]),
		typ:     RecordType(buf[16]),
		tableID: binary.LittleEndian.Uint32(buf[20:24]),
		pageID:  binary.LittleEndian.Uint32(buf[24:28]),
		slotID:  binary.LittleEndian.Uint16(buf[28:30]),
	}
	if h.length < HeaderSize {
		return recordHeader{}, dberr.New(dberr.KindCorruption, "wal: record header claims length %d < header size %d", h.length, HeaderSize)
	}
	return h, nil
}
