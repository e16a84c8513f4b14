package catalog

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

func sampleColumns() []Column {
	return []Column{
		{Name: "id", Type: IntegerType, NotNull: true, PrimaryKey: true, Index: 0},
		{Name: "name", Type: TextType, NotNull: true, Index: 1},
		{Name: "score", Type: FloatType, Index: 2},
	}
}

func TestCreateAndLookupTable(t *testing.T) {
	c := New()
	tbl, err := c.CreateTable("widgets", sampleColumns())
	require.NoError(t, err)
	require.EqualValues(t, 1, tbl.ID)

	got, ok := c.TableByName("widgets")
	require.True(t, ok)
	require.Equal(t, tbl, got)

	byID, ok := c.TableByID(tbl.ID)
	require.True(t, ok)
	require.Equal(t, tbl, byID)
}

func TestCreateDuplicateTableFails(t *testing.T) {
	c := New()
	_, err := c.CreateTable("widgets", sampleColumns())
	require.NoError(t, err)
	_, err = c.CreateTable("widgets", sampleColumns())
	require.Error(t, err)
}

func TestDropTable(t *testing.T) {
	c := New()
	_, err := c.CreateTable("widgets", sampleColumns())
	require.NoError(t, err)
	require.NoError(t, c.DropTable("widgets"))
	_, ok := c.TableByName("widgets")
	require.False(t, ok)
	require.Error(t, c.DropTable("widgets"))
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	c := New()
	tbl, err := c.CreateTable("widgets", sampleColumns())
	require.NoError(t, err)
	c.SetRowCount(tbl.ID, 42)
	_, err = c.CreateTable("gadgets", []Column{{Name: "id", Type: IntegerType, PrimaryKey: true}})
	require.NoError(t, err)

	data := c.Encode()
	decoded, err := Decode(data)
	require.NoError(t, err)

	widgets, ok := decoded.TableByName("widgets")
	require.True(t, ok)
	require.Equal(t, tbl.ID, widgets.ID)
	require.EqualValues(t, 42, widgets.RowCount)
	require.Len(t, widgets.Columns, 3)
	require.Equal(t, "id", widgets.Columns[0].Name)
	require.True(t, widgets.Columns[0].PrimaryKey)
	require.True(t, widgets.Columns[0].NotNull)

	gadgets, ok := decoded.TableByName("gadgets")
	require.True(t, ok)
	require.Len(t, gadgets.Columns, 1)
}

func TestLoadOrCreateMissingFileReturnsEmptyCatalog(t *testing.T) {
	fs := afero.NewMemMapFs()
	c, err := LoadOrCreate(fs, "/data/catalog.db")
	require.NoError(t, err)
	require.Empty(t, c.Tables())
}

func TestPersistThenLoadOrCreate(t *testing.T) {
	fs := afero.NewMemMapFs()
	c := New()
	_, err := c.CreateTable("widgets", sampleColumns())
	require.NoError(t, err)
	require.NoError(t, c.Persist(fs, "/data/catalog.db"))

	loaded, err := LoadOrCreate(fs, "/data/catalog.db")
	require.NoError(t, err)
	tbl, ok := loaded.TableByName("widgets")
	require.True(t, ok)
	require.Len(t, tbl.Columns, 3)
}
