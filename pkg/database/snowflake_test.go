package database

import (
	"sync"
	"testing"
)

func TestSnowflakeMonotonic(t *testing.T) {
	sf := NewSnowflake(0, 1)

	prev := sf.NextID()
	for i := 0; i < 10000; i++ {
		id := sf.NextID()
		if id <= prev {
			t.Fatalf("id %d not greater than previous %d", id, prev)
		}
		prev = id
	}
}

func TestSnowflakeClockBackwards(t *testing.T) {
	sf := NewSnowflake(0, 0)
	now := int64(1_000_000)
	sf.clock = func() int64 { return now }

	first := sf.NextID()
	now -= 500
	second := sf.NextID()

	if second <= first {
		t.Fatalf("id went backwards with the clock: %d then %d", first, second)
	}
}

func TestSnowflakeSequenceExhausted(t *testing.T) {
	sf := NewSnowflake(0, 0)
	sf.clock = func() int64 { return 42 }

	seen := make(map[int64]bool)
	for i := 0; i < 2*(sequenceMask+1); i++ {
		id := sf.NextID()
		if seen[id] {
			t.Fatalf("duplicate id %d after %d calls", id, i)
		}
		seen[id] = true
	}
}

func TestSnowflakeWorkerID(t *testing.T) {
	sf := NewSnowflake(0, 5)
	id := sf.NextID()
	if got := (id >> workerIDShift) & maxWorkerID; got != 5 {
		t.Fatalf("expected worker 5, got %d", got)
	}

	if NewSnowflake(0, 5000).workerID != 0 {
		t.Fatalf("out of range worker id not reset")
	}
}

func TestSnowflakeConcurrent(t *testing.T) {
	sf := NewSnowflake(0, 0)

	var mu sync.Mutex
	seen := make(map[int64]bool)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				id := sf.NextID()
				mu.Lock()
				if seen[id] {
					t.Errorf("duplicate id %d", id)
				}
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
}
