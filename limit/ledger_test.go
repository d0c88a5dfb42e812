package limit

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedger_ReserveCommit(t *testing.T) {
	l := New(Config{PhysicalMemoryBytes: 100})

	resv, err := l.Reserve(PhysicalMemory, 60)
	require.NoError(t, err)
	assert.Equal(t, int64(60), l.Reserved(PhysicalMemory))
	assert.Equal(t, int64(0), l.Used(PhysicalMemory))
	assert.Equal(t, int64(40), l.Available(PhysicalMemory))

	resv.Commit()
	assert.Equal(t, int64(0), l.Reserved(PhysicalMemory))
	assert.Equal(t, int64(60), l.Used(PhysicalMemory))
	assert.Equal(t, int64(40), l.Available(PhysicalMemory))
	assert.True(t, resv.Committed())

	l.Release(PhysicalMemory, 60)
	assert.Equal(t, int64(0), l.Used(PhysicalMemory))
	assert.Equal(t, int64(100), l.Available(PhysicalMemory))
}

func TestLedger_ReserveFailure(t *testing.T) {
	l := New(Config{PhysicalMemoryBytes: 100})

	resv, err := l.Reserve(PhysicalMemory, 80)
	require.NoError(t, err)
	defer resv.Cancel()

	_, err = l.Reserve(PhysicalMemory, 30)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLimitReached)

	var le *LimitError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, PhysicalMemory, le.Kind)
	assert.Equal(t, int64(30), le.Requested)
	assert.Equal(t, int64(20), le.Available)

	// The failed reservation charged nothing.
	assert.Equal(t, int64(80), l.Reserved(PhysicalMemory))
	assert.Equal(t, int64(0), l.Used(PhysicalMemory))
}

func TestLedger_CancelIdempotent(t *testing.T) {
	l := New(Config{PhysicalMemoryBytes: 100})

	resv, err := l.Reserve(PhysicalMemory, 50)
	require.NoError(t, err)

	resv.Cancel()
	resv.Cancel()
	assert.Equal(t, int64(0), l.Reserved(PhysicalMemory))
	assert.Equal(t, int64(100), l.Available(PhysicalMemory))
}

func TestLedger_CancelAfterCommitIsNoop(t *testing.T) {
	l := New(Config{PhysicalMemoryBytes: 100})

	resv, err := l.Reserve(PhysicalMemory, 50)
	require.NoError(t, err)

	resv.Commit()
	resv.Cancel()

	assert.Equal(t, int64(50), l.Used(PhysicalMemory))
	assert.Equal(t, int64(50), l.Available(PhysicalMemory))
}

func TestLedger_ScopedRollback(t *testing.T) {
	l := New(Config{PhysicalMemoryBytes: 100})

	failing := func() error {
		resv, err := l.Reserve(PhysicalMemory, 70)
		if err != nil {
			return err
		}
		defer resv.Cancel()

		return errors.New("setup failed")
	}

	require.Error(t, failing())
	assert.Equal(t, int64(0), l.Reserved(PhysicalMemory))
	assert.Equal(t, int64(100), l.Available(PhysicalMemory))
}

func TestLedger_DoubleCommitPanics(t *testing.T) {
	l := New(Config{PhysicalMemoryBytes: 100})

	resv, err := l.Reserve(PhysicalMemory, 10)
	require.NoError(t, err)
	resv.Commit()

	assert.Panics(t, func() { resv.Commit() })
}

func TestLedger_OverReleasePanics(t *testing.T) {
	l := New(Config{PhysicalMemoryBytes: 100})

	assert.Panics(t, func() { l.Release(PhysicalMemory, 1) })
}

func TestLedger_UnlimitedKind(t *testing.T) {
	l := New(Config{}) // everything unlimited

	resv, err := l.Reserve(Threads, 1_000_000)
	require.NoError(t, err)
	resv.Commit()

	assert.Equal(t, int64(1_000_000), l.Used(Threads))
	l.Release(Threads, 1_000_000)
	assert.Equal(t, int64(0), l.Used(Threads))
}

func TestLedger_ZeroAmount(t *testing.T) {
	l := New(Config{PhysicalMemoryBytes: 1})

	resv, err := l.Reserve(PhysicalMemory, 0)
	require.NoError(t, err)
	resv.Commit()
	l.Release(PhysicalMemory, 0)

	assert.Equal(t, int64(0), l.Used(PhysicalMemory))
}

func TestLedger_Peak(t *testing.T) {
	l := New(Config{PhysicalMemoryBytes: 100})

	r1, err := l.Reserve(PhysicalMemory, 30)
	require.NoError(t, err)
	r1.Commit()

	r2, err := l.Reserve(PhysicalMemory, 40)
	require.NoError(t, err)
	r2.Commit()

	l.Release(PhysicalMemory, 70)

	assert.Equal(t, int64(70), l.Peak(PhysicalMemory))
	assert.Equal(t, int64(0), l.Used(PhysicalMemory))
}

func TestLedger_OpenClose(t *testing.T) {
	l := New(Config{})

	l.Open()
	l.Open()
	assert.Equal(t, int64(2), l.Refs())

	l.Close()
	l.Close()
	assert.Equal(t, int64(0), l.Refs())

	assert.Panics(t, func() { l.Close() })
}

func TestLedger_ConcurrentReservers(t *testing.T) {
	const capacity = 1000
	const workers = 32
	const perWorker = 100

	l := New(Config{PhysicalMemoryBytes: capacity})

	var successes atomic.Int64
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				resv, err := l.Reserve(PhysicalMemory, 10)
				if err != nil {
					continue
				}
				resv.Commit()
				successes.Add(1)
			}
		}()
	}
	wg.Wait()

	// Exactly capacity/10 commits can fit.
	assert.Equal(t, int64(capacity/10), successes.Load())
	assert.Equal(t, int64(capacity), l.Used(PhysicalMemory))
	assert.Equal(t, int64(0), l.Available(PhysicalMemory))

	l.Release(PhysicalMemory, capacity)
	assert.Equal(t, int64(capacity), l.Available(PhysicalMemory))
}

func TestLedger_Stats(t *testing.T) {
	l := New(Config{PhysicalMemoryBytes: 100, Sessions: 5})

	resv, err := l.Reserve(PhysicalMemory, 25)
	require.NoError(t, err)
	resv.Commit()
	l.Open()

	s := l.Stats()
	assert.Equal(t, int64(100), s.Kinds[PhysicalMemory].Capacity)
	assert.Equal(t, int64(25), s.Kinds[PhysicalMemory].Used)
	assert.Equal(t, int64(25), s.Kinds[PhysicalMemory].Peak)
	assert.Equal(t, int64(5), s.Kinds[Sessions].Capacity)
	assert.Equal(t, int64(1), s.Refs)
}
