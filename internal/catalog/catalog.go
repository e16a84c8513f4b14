// Package catalog implements the table/column metadata store from §3
// ("Catalog entry") and its on-disk layout from §6 ("Catalog file
// layout"): a compact little-endian binary record, read whole and
// rewritten whole on every schema change, protected by a read-mostly
// RWMutex the way the teacher's storage layer guards its own metadata.
package catalog

import (
	"bytes"
	"encoding/binary"
	"io"
	"sync"

	"github.com/spf13/afero"

	"github.com/edgesql/coredb/pkg/dberr"
)

// ColumnType enumerates the scalar types a column may hold.
type ColumnType uint8

const (
	NullType ColumnType = iota
	IntegerType
	FloatType
	TextType
	BlobType
	BooleanType
)

const (
	flagNotNull    uint8 = 1 << 0
	flagPrimaryKey uint8 = 1 << 1
)

// Column describes one table column.
type Column struct {
	Name       string
	Type       ColumnType
	NotNull    bool
	PrimaryKey bool
	Index      int
}

// Table is one catalog entry: identity, ordered column list, and a
// planning-only row count estimate.
type Table struct {
	ID       uint32
	Name     string
	Columns  []Column
	RowCount uint64
}

// ColumnByName returns the column named name, or false if none exists.
func (t *Table) ColumnByName(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// Catalog is the in-memory table registry, optionally backed by a file
// for persistence across restarts.
type Catalog struct {
	mu          sync.RWMutex
	tables      map[uint32]*Table
	byName      map[string]uint32
	nextTableID uint32
	// nextPageID is a runtime-only per-table page allocation counter. It
	// is not part of the persisted catalog layout (§6 fixes that byte
	// format exactly); it is reconstructed by the engine at startup from
	// the highest page ID recovery actually touches.
	nextPageID map[uint32]uint32
}

// New returns an empty catalog with table IDs starting at 1.
func New() *Catalog {
	return &Catalog{
		tables:      make(map[uint32]*Table),
		byName:      make(map[string]uint32),
		nextTableID: 1,
		nextPageID:  make(map[uint32]uint32),
	}
}

// AllocatePageID returns the next unused page ID for tableID and
// advances the counter.
func (c *Catalog) AllocatePageID(tableID uint32) uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextPageID[tableID]
	c.nextPageID[tableID] = id + 1
	return id
}

// ObservePageID ensures tableID's page allocation counter is past
// pageID, so replaying a WAL that references page N leaves subsequent
// AllocatePageID calls starting at N+1.
func (c *Catalog) ObservePageID(tableID, pageID uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.nextPageID[tableID] <= pageID {
		c.nextPageID[tableID] = pageID + 1
	}
}

// CreateTable registers a new table, assigning it the next table ID.
// Fails if a table with the same name already exists.
func (c *Catalog) CreateTable(name string, columns []Column) (*Table, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.byName[name]; exists {
		return nil, dberr.New(dberr.KindSchema, "table %q already exists", name)
	}
	t := &Table{ID: c.nextTableID, Name: name, Columns: columns}
	c.tables[t.ID] = t
	c.byName[name] = t.ID
	c.nextTableID++
	return t, nil
}

// DropTable removes a table by name. Fails if it does not exist.
func (c *Catalog) DropTable(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.byName[name]
	if !ok {
		return dberr.New(dberr.KindSchema, "table %q does not exist", name)
	}
	delete(c.tables, id)
	delete(c.byName, name)
	return nil
}

// TableByName looks up a table by name.
func (c *Catalog) TableByName(name string) (*Table, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.byName[name]
	if !ok {
		return nil, false
	}
	return c.tables[id], true
}

// TableByID looks up a table by its assigned ID.
func (c *Catalog) TableByID(id uint32) (*Table, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.tables[id]
	return t, ok
}

// SetRowCount updates a table's planning-only row count estimate.
func (c *Catalog) SetRowCount(id uint32, count uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.tables[id]; ok {
		t.RowCount = count
	}
}

// PageCount returns the number of pages ever allocated for tableID
// (i.e. one past the highest page ID in use).
func (c *Catalog) PageCount(tableID uint32) uint32 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.nextPageID[tableID]
}

// Tables returns a snapshot slice of every registered table.
func (c *Catalog) Tables() []*Table {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Table, 0, len(c.tables))
	for _, t := range c.tables {
		out = append(out, t)
	}
	return out
}

// Encode serializes the whole catalog per §6's exact byte layout:
// table_count(4), next_table_id(4), then per table: id(4), name_len(4),
// name, column_count(4), row_count(8), then per column: name_len(4),
// name, type(1), flags(1), index(4). All integers little-endian.
func (c *Catalog) Encode() []byte {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var buf bytes.Buffer
	writeU32(&buf, uint32(len(c.tables)))
	writeU32(&buf, c.nextTableID)
	for _, t := range c.tables {
		writeU32(&buf, t.ID)
		writeString(&buf, t.Name)
		writeU32(&buf, uint32(len(t.Columns)))
		writeU64(&buf, t.RowCount)
		for _, col := range t.Columns {
			writeString(&buf, col.Name)
			buf.WriteByte(byte(col.Type))
			var flags uint8
			if col.NotNull {
				flags |= flagNotNull
			}
			if col.PrimaryKey {
				flags |= flagPrimaryKey
			}
			buf.WriteByte(flags)
			writeU32(&buf, uint32(col.Index))
		}
	}
	return buf.Bytes()
}

// Decode builds and returns a new Catalog holding the table set encoded
// in data.
func Decode(data []byte) (*Catalog, error) {
	r := bytes.NewReader(data)
	c := New()

	tableCount, err := readU32(r)
	if err != nil {
		return nil, dberr.Wrap(dberr.KindCorruption, err, "catalog: read table_count")
	}
	nextID, err := readU32(r)
	if err != nil {
		return nil, dberr.Wrap(dberr.KindCorruption, err, "catalog: read next_table_id")
	}
	c.nextTableID = nextID

	for i := uint32(0); i < tableCount; i++ {
		id, err := readU32(r)
		if err != nil {
			return nil, dberr.Wrap(dberr.KindCorruption, err, "catalog: read table id")
		}
		name, err := readString(r)
		if err != nil {
			return nil, dberr.Wrap(dberr.KindCorruption, err, "catalog: read table name")
		}
		colCount, err := readU32(r)
		if err != nil {
			return nil, dberr.Wrap(dberr.KindCorruption, err, "catalog: read column_count")
		}
		rowCount, err := readU64(r)
		if err != nil {
			return nil, dberr.Wrap(dberr.KindCorruption, err, "catalog: read row_count")
		}
		cols := make([]Column, 0, colCount)
		for j := uint32(0); j < colCount; j++ {
			colName, err := readString(r)
			if err != nil {
				return nil, dberr.Wrap(dberr.KindCorruption, err, "catalog: read column name")
			}
			typByte, err := r.ReadByte()
			if err != nil {
				return nil, dberr.Wrap(dberr.KindCorruption, err, "catalog: read column type")
			}
			flagsByte, err := r.ReadByte()
			if err != nil {
				return nil, dberr.Wrap(dberr.KindCorruption, err, "catalog: read column flags")
			}
			idx, err := readU32(r)
			if err != nil {
				return nil, dberr.Wrap(dberr.KindCorruption, err, "catalog: read column index")
			}
			cols = append(cols, Column{
				Name:       colName,
				Type:       ColumnType(typByte),
				NotNull:    flagsByte&flagNotNull != 0,
				PrimaryKey: flagsByte&flagPrimaryKey != 0,
				Index:      int(idx),
			})
		}
		t := &Table{ID: id, Name: name, Columns: cols, RowCount: rowCount}
		c.tables[id] = t
		c.byName[name] = id
	}
	return c, nil
}

// LoadOrCreate reads the catalog from path on fs, or returns a fresh
// empty catalog if the file does not exist.
func LoadOrCreate(fs afero.Fs, path string) (*Catalog, error) {
	exists, err := afero.Exists(fs, path)
	if err != nil {
		return nil, dberr.Wrap(dberr.KindIO, err, "catalog: stat file")
	}
	if !exists {
		return New(), nil
	}
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, dberr.Wrap(dberr.KindIO, err, "catalog: read file")
	}
	return Decode(data)
}

// Persist writes the catalog's current encoding to path, replacing any
// existing file.
func (c *Catalog) Persist(fs afero.Fs, path string) error {
	data := c.Encode()
	if err := afero.WriteFile(fs, path, data, 0o644); err != nil {
		return dberr.Wrap(dberr.KindIO, err, "catalog: write file")
	}
	return nil
}

func writeU32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeU64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func writeString(buf *bytes.Buffer, s string) {
	writeU32(buf, uint32(len(s)))
	buf.WriteString(s)
}

func readU32(r *bytes.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

func readU64(r *bytes.Reader) (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

func readString(r *bytes.Reader) (string, error) {
	n, err := readU32(r)
	if err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}
