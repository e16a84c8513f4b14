package arena

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/edgesql/coredb/internal/memtrack"
)

func TestArenaAllocationsNonOverlapping(t *testing.T) {
	a := New(256)
	var bufs [][]byte
	for i := 0; i < 20; i++ {
		b, err := a.Allocate(8, 8)
		require.NoError(t, err)
		require.Len(t, b, 8)
		for j := range b {
			b[j] = byte(i)
		}
		bufs = append(bufs, b)
	}
	for i, b := range bufs {
		for _, v := range b {
			require.Equal(t, byte(i), v, "allocation %d was overwritten by another allocation", i)
		}
	}
}

func TestArenaAlignment(t *testing.T) {
	a := New(4096)
	_, err := a.Allocate(3, 1)
	require.NoError(t, err)
	b, err := a.Allocate(8, 8)
	require.NoError(t, err)
	// The block backing array is itself allocated with make([]byte, n),
	// which Go guarantees is at least word-aligned, so an offset that is
	// itself a multiple of 8 within the block is 8-byte aligned overall.
	require.Len(t, b, 8)
}

func TestArenaOversizeGetsDedicatedBlock(t *testing.T) {
	a := New(64)
	big, err := a.Allocate(1024, 8)
	require.NoError(t, err)
	require.Len(t, big, 1024)
	small, err := a.Allocate(8, 8)
	require.NoError(t, err)
	require.Len(t, small, 8)
}

func TestArenaResetInvalidatesUsage(t *testing.T) {
	a := New(64)
	_, err := a.Allocate(32, 1)
	require.NoError(t, err)
	require.Greater(t, a.BytesReserved(), int64(0))
	a.Reset()
	// after reset, a fresh allocation should reuse the existing block
	// from offset zero rather than growing the reserved total.
	reserved := a.BytesReserved()
	_, err = a.Allocate(8, 1)
	require.NoError(t, err)
	require.Equal(t, reserved, a.BytesReserved())
}

func TestArenaResetReusesLaterBlocksBeforeGrowing(t *testing.T) {
	a := New(64)
	// Fill three blocks' worth.
	for i := 0; i < 3; i++ {
		_, err := a.Allocate(64, 1)
		require.NoError(t, err)
	}
	require.Len(t, a.blocks, 3)
	reserved := a.BytesReserved()

	a.Reset()
	// Refilling up to the same high-water mark must reuse the three
	// existing blocks rather than allocating new ones.
	for i := 0; i < 3; i++ {
		_, err := a.Allocate(64, 1)
		require.NoError(t, err)
	}
	require.Len(t, a.blocks, 3)
	require.Equal(t, reserved, a.BytesReserved())

	// A fourth block-sized allocation still has to grow.
	_, err := a.Allocate(64, 1)
	require.NoError(t, err)
	require.Len(t, a.blocks, 4)
}

func TestQueryAllocatorEnforcesCap(t *testing.T) {
	tracker := memtrack.New(0)
	qa := NewQueryAllocator(64, tracker)
	_, err := qa.Allocate(32, 1)
	require.NoError(t, err)
	_, err = qa.Allocate(64, 1)
	require.Error(t, err)
}

func TestQueryAllocatorReservesGlobalTracker(t *testing.T) {
	tracker := memtrack.New(100)
	qa := NewQueryAllocator(0, tracker)
	_, err := qa.Allocate(50, 1)
	require.NoError(t, err)
	require.EqualValues(t, 50, tracker.Used())

	qa2 := NewQueryAllocator(0, tracker)
	_, err = qa2.Allocate(60, 1)
	require.Error(t, err, "second query should be blocked by the global ceiling")

	qa.Close()
	require.EqualValues(t, 0, tracker.Used())
}
