package cppmemo

import (
	"fmt"
	"sync"
	"testing"
)

func newTestCMap[V any](estimated int) *cmap[string, V] {
	h1, h2 := defaultHashers[string]()
	return newCMap[string, V](estimated, defaultMaxLoadFactor, defaultGrowth, defaultMaxSubmaps, 97, h1, h2, defaultEqual[string])
}

func TestCMapFindInsert(t *testing.T) {
	c := newTestCMap[int](0)

	if _, ok := c.find("a"); ok {
		t.Fatalf("find on empty map must report absent")
	}

	v, inserted, err := c.insert("a", func() int { return 1 })
	if err != nil || !inserted || v != 1 {
		t.Fatalf("insert: got (%d, %v, %v)", v, inserted, err)
	}

	if v, ok := c.find("a"); !ok || v != 1 {
		t.Fatalf("find after insert: got (%d, %v)", v, ok)
	}

	v, inserted, err = c.insert("a", func() int { return 2 })
	if err != nil || inserted || v != 1 {
		t.Fatalf("duplicate insert must return the existing entry: got (%d, %v, %v)", v, inserted, err)
	}
}

// TestCMapExpansion forces many small submaps by using a tiny estimated
// size and a low growth factor, and checks every key survives expansion.
func TestCMapExpansion(t *testing.T) {
	h1, h2 := defaultHashers[int]()
	c := newCMap[int, int](1, 0.5, 2, defaultMaxSubmaps, 11, h1, h2, defaultEqual[int])

	const n = 5000
	for i := 0; i < n; i++ {
		if _, _, err := c.insert(i, func() int { return i * i }); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}

	if c.size() != n {
		t.Fatalf("numEntries = %d, want %d", c.size(), n)
	}
	for i := 0; i < n; i++ {
		v, ok := c.find(i)
		if !ok || v != i*i {
			t.Fatalf("find(%d) = (%d, %v), want (%d, true)", i, v, ok, i*i)
		}
	}
	if int(c.numSubmaps.Load()) < 2 {
		t.Fatalf("expected expansion to have grown past 1 submap, got %d", c.numSubmaps.Load())
	}
}

func TestCMapCapacityExceeded(t *testing.T) {
	h1, h2 := defaultHashers[int]()
	// maxSubmaps=1 with a minuscule first submap forces expand() to hit
	// the ceiling almost immediately.
	c := newCMap[int, int](1, 0.99, 8, 1, 3, h1, h2, defaultEqual[int])

	var lastErr error
	for i := 0; i < 100; i++ {
		_, _, err := c.insert(i, func() int { return i })
		if err != nil {
			lastErr = err
			break
		}
	}
	if lastErr != ErrCapacityExceeded {
		t.Fatalf("expected ErrCapacityExceeded, got %v", lastErr)
	}
}

// TestCMapNoLostInserts is property 3: under contention, n distinct
// insertions leave numEntries == n and every key findable.
func TestCMapNoLostInserts(t *testing.T) {
	const (
		n           = 2000
		goroutines  = 16
	)
	c := newTestCMap[int](n)

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := g; i < n; i += goroutines {
				key := fmt.Sprintf("key-%d", i)
				if _, _, err := c.insert(key, func() int { return i }); err != nil {
					t.Errorf("insert(%s): %v", key, err)
				}
			}
		}(g)
	}
	wg.Wait()

	if c.size() != n {
		t.Fatalf("numEntries = %d, want %d", c.size(), n)
	}
	for i := 0; i < n; i++ {
		key := fmt.Sprintf("key-%d", i)
		if v, ok := c.find(key); !ok || v != i {
			t.Fatalf("find(%s) = (%d, %v), want (%d, true)", key, v, ok, i)
		}
	}
}

// TestCMapDuplicateRace is scenario S6: many goroutines race to insert
// the same key with a deterministic compute; exactly one entry survives.
func TestCMapDuplicateRace(t *testing.T) {
	const goroutines = 50
	c := newTestCMap[int](0)

	var computeCalls counter
	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			c.insert("shared", func() int {
				computeCalls.add(1)
				return 7
			})
		}()
	}
	wg.Wait()

	if c.size() != 1 {
		t.Fatalf("numEntries = %d, want 1", c.size())
	}
	if v, ok := c.find("shared"); !ok || v != 7 {
		t.Fatalf("find(shared) = (%d, %v), want (7, true)", v, ok)
	}
	if computeCalls.load() < 1 {
		t.Fatalf("compute should have been invoked by at least one goroutine")
	}
}

// TestCMapIteratorCompleteness is property 4.
func TestCMapIteratorCompleteness(t *testing.T) {
	c := newTestCMap[int](0)
	want := map[string]int{}
	for i := 0; i < 500; i++ {
		key := fmt.Sprintf("k%d", i)
		want[key] = i
		c.insert(key, func() int { return i })
	}

	got := map[string]int{}
	c.Range(func(k string, v int) bool {
		got[k] = v
		return true
	})

	if len(got) != c.size() {
		t.Fatalf("iterated %d entries, numEntries=%d", len(got), c.size())
	}
	for k, v := range want {
		gv, ok := got[k]
		if !ok || gv != v {
			t.Fatalf("missing or wrong entry for %s: got (%d, %v), want %d", k, gv, ok, v)
		}
	}
}

// TestCMapCloneFilterRoundTrip is property 7.
func TestCMapCloneFilterRoundTrip(t *testing.T) {
	c := newTestCMap[int](0)
	for i := 0; i < 200; i++ {
		i := i
		c.insert(fmt.Sprintf("k%d", i), func() int { return i })
	}

	clone := c.clone()
	orig := toSet(c)
	cloned := toSet(clone)
	if len(orig) != len(cloned) {
		t.Fatalf("clone size mismatch: %d vs %d", len(orig), len(cloned))
	}
	for k, v := range orig {
		if cloned[k] != v {
			t.Fatalf("clone mismatch at %s: %d vs %d", k, v, cloned[k])
		}
	}

	even := c.filter(func(_ string, v int) bool { return v%2 == 0 })
	evenSet := toSet(even)
	for k, v := range orig {
		_, wantKept := evenSet[k]
		isEven := v%2 == 0
		if wantKept != isEven {
			t.Fatalf("filter mismatch at %s: kept=%v, isEven=%v", k, wantKept, isEven)
		}
	}
}

func toSet[V any](c *cmap[string, V]) map[string]V {
	out := map[string]V{}
	c.Range(func(k string, v V) bool {
		out[k] = v
		return true
	})
	return out
}
