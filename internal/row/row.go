// Package row implements the typed row model and its serialization into
// the page record format described in §3 ("Row / Record"): an 8-byte
// header (size uint32, column_count uint16, flags uint16) followed by
// one tagged value per column. The spec leaves the per-column encoding
// unspecified beyond "typed column values"; this package resolves that
// open point the same way the page header resolves byte order — fixed,
// documented, little-endian (see DESIGN.md).
package row

import (
	"encoding/binary"
	"math"

	"github.com/edgesql/coredb/internal/catalog"
	"github.com/edgesql/coredb/pkg/dberr"
)

// Header flag bits.
const (
	FlagDeleted  uint16 = 1 << 0
	FlagOverflow uint16 = 1 << 1
)

const headerSize = 8

// Value is one typed column value. Null, when true, makes the other
// fields meaningless regardless of Type.
type Value struct {
	Type ColumnType
	Null bool
	I64  int64
	F64  float64
	Str  []byte
	Bool bool
}

// ColumnType mirrors catalog.ColumnType to keep this package usable
// without importing exec-layer concerns; the two enums share encodings.
type ColumnType = catalog.ColumnType

// Constructors for literal values.

func NullValue(t ColumnType) Value { return Value{Type: t, Null: true} }
func Int(v int64) Value            { return Value{Type: catalog.IntegerType, I64: v} }
func Float(v float64) Value        { return Value{Type: catalog.FloatType, F64: v} }
func Text(v string) Value          { return Value{Type: catalog.TextType, Str: []byte(v)} }
func Blob(v []byte) Value          { return Value{Type: catalog.BlobType, Str: v} }
func Bool(v bool) Value            { return Value{Type: catalog.BooleanType, Bool: v} }

// Row is an ordered tuple of values aligned with a catalog.Table's
// column list.
type Row struct {
	Columns []string
	Values  []Value
}

// IsInt reports whether v holds a non-null integer.
func (v Value) IsInt() bool { return !v.Null && v.Type == catalog.IntegerType }

// IsFloat reports whether v holds a non-null float.
func (v Value) IsFloat() bool { return !v.Null && v.Type == catalog.FloatType }

// IsBool reports whether v holds a non-null boolean.
func (v Value) IsBool() bool { return !v.Null && v.Type == catalog.BooleanType }

// Get returns the value of the named column.
func (r Row) Get(name string) (Value, bool) {
	for i, c := range r.Columns {
		if c == name {
			return r.Values[i], true
		}
	}
	return Value{}, false
}

// Clone returns a deep-enough copy safe to retain past the lifetime of
// any arena the original values were decoded into.
func (r Row) Clone() Row {
	cols := make([]string, len(r.Columns))
	copy(cols, r.Columns)
	vals := make([]Value, len(r.Values))
	for i, v := range r.Values {
		nv := v
		if v.Str != nil {
			nv.Str = append([]byte(nil), v.Str...)
		}
		vals[i] = nv
	}
	return Row{Columns: cols, Values: vals}
}

// Encode serializes values (already ordered per schema) into a page
// record: 8-byte header, then one tagged value per column.
func Encode(values []Value, flags uint16) []byte {
	body := encodeValues(values)
	buf := make([]byte, headerSize+len(body))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(buf)))
	binary.LittleEndian.PutUint16(buf[4:6], uint16(len(values)))
	binary.LittleEndian.PutUint16(buf[6:8], flags)
	copy(buf[headerSize:], body)
	return buf
}

func encodeValues(values []Value) []byte {
	var out []byte
	for _, v := range values {
		out = append(out, encodeValue(v)...)
	}
	return out
}

func encodeValue(v Value) []byte {
	if v.Null {
		return []byte{byte(catalog.NullType)}
	}
	switch v.Type {
	case catalog.IntegerType:
		buf := make([]byte, 9)
		buf[0] = byte(catalog.IntegerType)
		binary.LittleEndian.PutUint64(buf[1:], uint64(v.I64))
		return buf
	case catalog.FloatType:
		buf := make([]byte, 9)
		buf[0] = byte(catalog.FloatType)
		binary.LittleEndian.PutUint64(buf[1:], math.Float64bits(v.F64))
		return buf
	case catalog.BooleanType:
		b := byte(0)
		if v.Bool {
			b = 1
		}
		return []byte{byte(catalog.BooleanType), b}
	case catalog.TextType, catalog.BlobType:
		buf := make([]byte, 5+len(v.Str))
		buf[0] = byte(v.Type)
		binary.LittleEndian.PutUint32(buf[1:5], uint32(len(v.Str)))
		copy(buf[5:], v.Str)
		return buf
	default:
		return []byte{byte(catalog.NullType)}
	}
}

// Decode parses a page record produced by Encode against schema,
// returning the row and whether FlagDeleted was set.
func Decode(data []byte, schema []catalog.Column) (Row, bool, error) {
	if len(data) < headerSize {
		return Row{}, false, dberr.New(dberr.KindCorruption, "row: record shorter than header: %d bytes", len(data))
	}
	size := binary.LittleEndian.Uint32(data[0:4])
	colCount := binary.LittleEndian.Uint16(data[4:6])
	flags := binary.LittleEndian.Uint16(data[6:8])
	if int(size) != len(data) {
		return Row{}, false, dberr.New(dberr.KindCorruption, "row: header size %d does not match record length %d", size, len(data))
	}
	if int(colCount) != len(schema) {
		return Row{}, false, dberr.New(dberr.KindCorruption, "row: column_count %d does not match schema of %d columns", colCount, len(schema))
	}

	values := make([]Value, len(schema))
	names := make([]string, len(schema))
	pos := headerSize
	for i, col := range schema {
		names[i] = col.Name
		v, n, err := decodeValue(data[pos:])
		if err != nil {
			return Row{}, false, err
		}
		values[i] = v
		pos += n
	}
	return Row{Columns: names, Values: values}, flags&FlagDeleted != 0, nil
}

func decodeValue(data []byte) (Value, int, error) {
	if len(data) < 1 {
		return Value{}, 0, dberr.New(dberr.KindCorruption, "row: truncated value tag")
	}
	typ := catalog.ColumnType(data[0])
	switch typ {
	case catalog.NullType:
		return Value{Type: catalog.NullType, Null: true}, 1, nil
	case catalog.IntegerType:
		if len(data) < 9 {
			return Value{}, 0, dberr.New(dberr.KindCorruption, "row: truncated integer value")
		}
		return Value{Type: catalog.IntegerType, I64: int64(binary.LittleEndian.Uint64(data[1:9]))}, 9, nil
	case catalog.FloatType:
		if len(data) < 9 {
			return Value{}, 0, dberr.New(dberr.KindCorruption, "row: truncated float value")
		}
		bits := binary.LittleEndian.Uint64(data[1:9])
		return Value{Type: catalog.FloatType, F64: math.Float64frombits(bits)}, 9, nil
	case catalog.BooleanType:
		if len(data) < 2 {
			return Value{}, 0, dberr.New(dberr.KindCorruption, "row: truncated boolean value")
		}
		return Value{Type: catalog.BooleanType, Bool: data[1] != 0}, 2, nil
	case catalog.TextType, catalog.BlobType:
		if len(data) < 5 {
			return Value{}, 0, dberr.New(dberr.KindCorruption, "row: truncated string/blob length")
		}
		n := binary.LittleEndian.Uint32(data[1:5])
		if len(data) < 5+int(n) {
			return Value{}, 0, dberr.New(dberr.KindCorruption, "row: truncated string/blob payload")
		}
		return Value{Type: typ, Str: data[5 : 5+n]}, 5 + int(n), nil
	default:
		return Value{}, 0, dberr.New(dberr.KindCorruption, "row: unknown value type tag %d", typ)
	}
}
