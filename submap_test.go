package cppmemo

import (
	"sync"
	"testing"
)

func TestSubmapInsertAndFind(t *testing.T) {
	sm := newSubmap[int, string](101, 0.75)
	h1, h2 := defaultHashers[int]()

	computeCalls := 0
	computeValue := func() string {
		computeCalls++
		return "value-for-7"
	}

	v, inserted, err := sm.insert(7, h1(7), h2(7), defaultEqual[int], computeValue)
	if err != nil || !inserted || v != "value-for-7" {
		t.Fatalf("first insert: got (%q, %v, %v)", v, inserted, err)
	}
	if computeCalls != 1 {
		t.Fatalf("expected computeValue called once, got %d", computeCalls)
	}

	// Re-inserting the same key must not recompute, and must report
	// inserted=false.
	v, inserted, err = sm.insert(7, h1(7), h2(7), defaultEqual[int], computeValue)
	if err != nil || inserted || v != "value-for-7" {
		t.Fatalf("duplicate insert: got (%q, %v, %v)", v, inserted, err)
	}
	if computeCalls != 1 {
		t.Fatalf("duplicate insert must not recompute: calls=%d", computeCalls)
	}

	if v, ok := sm.find(7, h1(7), h2(7), defaultEqual[int]); !ok || v != "value-for-7" {
		t.Fatalf("find after insert: got (%q, %v)", v, ok)
	}
	if _, ok := sm.find(8, h1(8), h2(8), defaultEqual[int]); ok {
		t.Fatalf("find of absent key must report absent")
	}
}

func TestSubmapFullSignalsExpansion(t *testing.T) {
	// Smallest odd prime capacity, so overloaded()/full are easy to hit.
	sm := newSubmap[int, int](3, 1.0)
	h1, h2 := defaultHashers[int]()

	for i := 0; i < 3; i++ {
		if _, _, err := sm.insert(i, h1(i), h2(i), defaultEqual[int], func() int { return i }); err != nil {
			t.Fatalf("insert %d: unexpected error %v", i, err)
		}
	}

	_, _, err := sm.insert(1000, h1(1000), h2(1000), defaultEqual[int], func() int { return 1000 })
	if err == nil {
		t.Fatalf("expected submapFull once every bucket is occupied")
	}
	if _, ok := err.(submapFull); !ok {
		t.Fatalf("expected submapFull, got %T: %v", err, err)
	}
}

func TestSubmapDoubleHashingVisitsEveryBucket(t *testing.T) {
	sm := newSubmap[int, struct{}](97, 1.0)
	start := sm.probeStart(5)
	step := sm.probeStep(11)

	seen := make(map[uint64]bool)
	idx := start
	for i := uint64(0); i < sm.capacity; i++ {
		seen[idx] = true
		idx = (idx + step) % sm.capacity
	}
	if len(seen) != int(sm.capacity) {
		t.Fatalf("double hashing probe cycle visited %d of %d buckets", len(seen), sm.capacity)
	}
}

// TestSubmapConcurrentInsertSameKey races goroutines inserting the same
// key; exactly one entry survives, and every value built is accepted as
// equal (deterministic compute).
func TestSubmapConcurrentInsertSameKey(t *testing.T) {
	const goroutines = 32
	sm := newSubmap[string, int](1009, 0.75)
	h1, h2 := defaultHashers[string]()

	var wg sync.WaitGroup
	results := make([]int, goroutines)
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		i := i
		go func() {
			defer wg.Done()
			v, _, err := sm.insert("shared", h1("shared"), h2("shared"), defaultEqual[string], func() int { return 99 })
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			results[i] = v
		}()
	}
	wg.Wait()

	for i, v := range results {
		if v != 99 {
			t.Fatalf("goroutine %d saw value %d, want 99", i, v)
		}
	}
	if sm.validCount.load() != 1 {
		t.Fatalf("expected exactly 1 valid bucket after the race, got %d", sm.validCount.load())
	}
}
