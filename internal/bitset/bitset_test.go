package bitset

import (
	"sync"
	"testing"
)

func TestBitSet(t *testing.T) {
	b := New(100)

	if b.Len() != 100 {
		t.Errorf("expected len 100, got %d", b.Len())
	}

	b.Set(10)
	if !b.Test(10) {
		t.Errorf("expected bit 10 to be set")
	}

	if b.Count() != 1 {
		t.Errorf("expected count 1, got %d", b.Count())
	}

	b.Unset(10)
	if b.Test(10) {
		t.Errorf("expected bit 10 to be unset")
	}

	b.Set(10)
	b.Set(20)
	b.Set(30)

	if b.Count() != 3 {
		t.Errorf("expected count 3, got %d", b.Count())
	}

	b.ClearAll()
	if b.Count() != 0 {
		t.Errorf("expected count 0 after clear, got %d", b.Count())
	}
}

func TestBitSet_TestAndSet(t *testing.T) {
	b := New(64)

	if b.TestAndSet(7) {
		t.Errorf("expected first TestAndSet to report unset")
	}
	if !b.TestAndSet(7) {
		t.Errorf("expected second TestAndSet to report already set")
	}
	if !b.Test(7) {
		t.Errorf("expected bit 7 to be set")
	}
}

func TestBitSet_TestAndClear(t *testing.T) {
	b := New(64)

	if b.TestAndClear(3) {
		t.Errorf("expected TestAndClear on unset bit to report false")
	}

	b.Set(3)
	if !b.TestAndClear(3) {
		t.Errorf("expected TestAndClear to report it cleared the bit")
	}
	if b.Test(3) {
		t.Errorf("expected bit 3 to be cleared")
	}
	if b.TestAndClear(3) {
		t.Errorf("expected repeated TestAndClear to report false")
	}
}

func TestBitSet_OutOfRange(t *testing.T) {
	b := New(10)

	b.Set(100) // no-op
	if b.Count() != 0 {
		t.Errorf("expected out-of-range Set to be ignored")
	}
	if b.Test(100) {
		t.Errorf("expected out-of-range Test to be false")
	}
}

func TestBitSet_ForEachSet(t *testing.T) {
	b := New(200)
	want := []uint64{0, 63, 64, 127, 199}
	for _, i := range want {
		b.Set(i)
	}

	var got []uint64
	b.ForEachSet(func(i uint64) {
		got = append(got, i)
	})

	if len(got) != len(want) {
		t.Fatalf("expected %d bits, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("expected bit %d at position %d, got %d", want[i], i, got[i])
		}
	}
}

func TestBitSet_ConcurrentClaim(t *testing.T) {
	const size = 1024
	const workers = 16

	b := New(size)
	won := make([]int, workers)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := uint64(0); i < size; i++ {
				if !b.TestAndSet(i) {
					won[w]++
				}
			}
		}(w)
	}
	wg.Wait()

	total := 0
	for _, n := range won {
		total += n
	}
	if total != size {
		t.Errorf("expected exactly %d claims to win, got %d", size, total)
	}
	if b.Count() != size {
		t.Errorf("expected all %d bits set, got %d", size, b.Count())
	}
}
