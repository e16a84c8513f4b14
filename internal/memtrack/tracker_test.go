package memtrack

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/edgesql/coredb/pkg/dberr"
)

func TestReserveWithinLimit(t *testing.T) {
	tr := New(1024)
	require.NoError(t, tr.Reserve(512))
	require.EqualValues(t, 512, tr.Used())
	tr.Release(512)
	require.EqualValues(t, 0, tr.Used())
}

func TestReserveOverLimit(t *testing.T) {
	tr := New(1024)
	require.NoError(t, tr.Reserve(1024))
	err := tr.Reserve(1)
	require.Error(t, err)
	require.True(t, dberr.Is(err, dberr.KindBudget))
}

func TestUnlimitedTracker(t *testing.T) {
	tr := New(0)
	require.NoError(t, tr.Reserve(1<<40))
}

func TestReserveConcurrentNeverExceedsLimit(t *testing.T) {
	tr := New(1000)
	var wg sync.WaitGroup
	var granted int64
	var mu sync.Mutex
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := tr.Reserve(10); err == nil {
				mu.Lock()
				granted += 10
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.LessOrEqual(t, tr.Used(), int64(1000))
	require.Equal(t, tr.Used(), granted)
}

func TestReleaseClampsAtZero(t *testing.T) {
	tr := New(0)
	tr.Release(100)
	require.EqualValues(t, 0, tr.Used())
}
