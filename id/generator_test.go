package id

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestClockGenerator_NextID_Uniqueness(t *testing.T) {
	gen := NewClockGenerator(1)

	seen := make(map[uint64]bool)
	const iterations = 10000

	for i := 0; i < iterations; i++ {
		id := gen.NextID()
		if seen[id] {
			t.Fatalf("duplicate ID generated at iteration %d: %d", i, id)
		}
		seen[id] = true
	}
}

func TestClockGenerator_NextID_Monotonic(t *testing.T) {
	gen := NewClockGenerator(1)

	var prev uint64
	const iterations = 1000

	for i := 0; i < iterations; i++ {
		id := gen.NextID()
		if id <= prev {
			t.Fatalf("non-monotonic ID at iteration %d: prev=%d, curr=%d", i, prev, id)
		}
		prev = id
	}
}

func TestClockGenerator_NextID_Concurrent(t *testing.T) {
	gen := NewClockGenerator(1)

	const goroutines = 10
	const idsPerGoroutine = 1000

	var wg sync.WaitGroup
	idsChan := make(chan uint64, goroutines*idsPerGoroutine)

	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < idsPerGoroutine; i++ {
				idsChan <- gen.NextID()
			}
		}()
	}

	wg.Wait()
	close(idsChan)

	seen := make(map[uint64]bool)
	for id := range idsChan {
		if seen[id] {
			t.Fatalf("duplicate ID in concurrent test: %d", id)
		}
		seen[id] = true
	}

	if len(seen) != goroutines*idsPerGoroutine {
		t.Fatalf("expected %d unique IDs, got %d", goroutines*idsPerGoroutine, len(seen))
	}
}

func TestClockGenerator_ClockBackwards(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	current := base
	gen := NewClockGenerator(3)
	gen.now = func() time.Time { return current }

	first := gen.NextID()
	current = base.Add(-time.Second)
	second := gen.NextID()

	if second <= first {
		t.Fatalf("expected increasing ids after clock skew: %d then %d", first, second)
	}
	if !Time(second).Equal(base) {
		t.Errorf("expected id time %v, got %v", base, Time(second))
	}
}

func TestClockGenerator_InstanceBits(t *testing.T) {
	gen1 := NewClockGenerator(1)
	gen2 := NewClockGenerator(2 + 64) // Only low bits count

	id1 := gen1.NextID()
	id2 := gen2.NextID()

	if got := (id1 >> 16) & instanceMask; got != 1 {
		t.Errorf("expected instance 1 in id1, got %d", got)
	}
	if got := (id2 >> 16) & instanceMask; got != 2 {
		t.Errorf("expected instance 2 in id2, got %d", got)
	}
}

func TestClockGenerator_FitsSignedInt(t *testing.T) {
	gen := NewClockGenerator(63)
	gen.now = func() time.Time { return time.Date(2090, 1, 1, 0, 0, 0, 0, time.UTC) }

	if id := gen.NextID(); id > math.MaxInt64 {
		t.Fatalf("id %d overflows int64", id)
	}
}

func TestNewBatchID(t *testing.T) {
	a := NewBatchID()
	b := NewBatchID()
	if a == b {
		t.Fatal("batch ids must differ")
	}
	if _, err := uuid.Parse(a); err != nil {
		t.Fatalf("batch id is not a uuid: %v", err)
	}
}

func BenchmarkClockGenerator_NextID(b *testing.B) {
	gen := NewClockGenerator(1)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		gen.NextID()
	}
}
