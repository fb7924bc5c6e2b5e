package cppmemo

import (
	"math"
	"runtime"
	"sync/atomic"
)

// Defaults mirrored from spec: a generous first submap, geometric growth
// by tiers, and a hard (but generous) ceiling on how many tiers a single
// CMap will ever allocate.
const (
	defaultFirstMin       = 65537
	defaultFirstMult      = 1.03
	defaultMaxLoadFactor  = 0.75
	defaultGrowth         = 8
	defaultMaxSubmaps     = 128
)

// cmap is the segmented, append-only, almost-lock-free insert-only map
// (CMAP in the design): a sequence of fixed-capacity submaps. Submaps
// [0, numSubmaps) are always non-nil and fully initialized before
// numSubmaps publishes that prefix with a release-ordered store; readers
// that observe a given numSubmaps may safely dereference every slot below
// it. Growth is single-writer, serialized by the expanding flag.
//
// cmap supports find, insert-or-get, and iteration only: no update, no
// erase. It tolerates transient duplicate insertion as long as the
// caller's computeValue is deterministic for equal keys.
type cmap[K comparable, V any] struct {
	submaps []atomic.Pointer[submap[K, V]]

	numSubmaps atomic.Int32
	expanding  atomic.Bool
	numEntries counter

	hash1, hash2 Hasher[K]
	equal        EqualFunc[K]

	maxLoadFactor float64
	growth        uint64
	maxSubmaps    int
	firstMin      uint64
}

func newCMap[K comparable, V any](
	estimatedEntries int,
	maxLoadFactor float64,
	growth uint64,
	maxSubmaps int,
	firstMin uint64,
	hash1, hash2 Hasher[K],
	equal EqualFunc[K],
) *cmap[K, V] {
	firstCapacity := nextPrime(uint64(math.Ceil(defaultFirstMult * float64(estimatedEntries) / maxLoadFactor)))
	if firstCapacity < firstMin {
		firstCapacity = nextPrime(firstMin)
	}

	c := &cmap[K, V]{
		submaps:       make([]atomic.Pointer[submap[K, V]], maxSubmaps),
		hash1:         hash1,
		hash2:         hash2,
		equal:         equal,
		maxLoadFactor: maxLoadFactor,
		growth:        growth,
		maxSubmaps:    maxSubmaps,
		firstMin:      firstMin,
	}
	c.submaps[0].Store(newSubmap[K, V](firstCapacity, maxLoadFactor))
	c.numSubmaps.Store(1)
	return c
}

// find searches submaps from the freshest (highest index) to the oldest,
// returning the first match. Later submaps may contain the same key as an
// earlier one (see the duplicate-tolerance note on insert); find always
// returns the latest-discovered occurrence, which is fine because callers
// must ensure equal keys carry equal values.
func (c *cmap[K, V]) find(key K) (V, bool) {
	h1, h2 := c.hash1(key), c.hash2(key)
	for i := int(c.numSubmaps.Load()) - 1; i >= 0; i-- {
		if v, ok := c.submaps[i].Load().find(key, h1, h2, c.equal); ok {
			return v, true
		}
	}
	var zero V
	return zero, false
}

// insert finds or creates the entry for key, computing its value lazily
// via computeValue only if no submap already has it. computeValue may
// still be invoked by more than one racing goroutine for the same key.
// Duplicate avoidance is best-effort: a goroutine that finds a bucket
// busy probes on, and older submaps are searched only before inserting
// into the last one, so racing goroutines can publish the same key in
// two buckets or in two submaps across an expansion, and numEntries
// counts each published copy. This is safe only because equal keys carry
// equal values.
func (c *cmap[K, V]) insert(key K, computeValue func() V) (V, bool, error) {
	h1, h2 := c.hash1(key), c.hash2(key)
	for {
		last := int(c.numSubmaps.Load()) - 1

		if last > 0 {
			for i := 0; i < last; i++ {
				if v, ok := c.submaps[i].Load().find(key, h1, h2, c.equal); ok {
					return v, false, nil
				}
			}
		}

		lastSubmap := c.submaps[last].Load()
		if lastSubmap.overloaded() {
			if err := c.expand(); err != nil {
				var zero V
				return zero, false, err
			}
			continue
		}

		v, inserted, err := lastSubmap.insert(key, h1, h2, c.equal, computeValue)
		if err != nil {
			// Full: another goroutine raced us to the last usable slot.
			if expErr := c.expand(); expErr != nil {
				var zero V
				return zero, false, expErr
			}
			continue
		}
		if inserted {
			c.numEntries.add(1)
		}
		return v, inserted, nil
	}
}

// expand appends a new, larger submap if the current last submap is still
// overloaded when this goroutine gets exclusive access to grow. Single
// writer at a time: the expanding flag is a spin-acquired mutex, but one
// only ever held for the duration of allocating one submap, never on the
// find/insert hot path.
func (c *cmap[K, V]) expand() error {
	for !c.expanding.CompareAndSwap(false, true) {
		runtime.Gosched()
	}
	defer c.expanding.Store(false)

	last := int(c.numSubmaps.Load()) - 1
	if last+1 >= c.maxSubmaps {
		return ErrCapacityExceeded
	}

	lastSubmap := c.submaps[last].Load()
	if !lastSubmap.overloaded() {
		// Someone else already expanded while we waited for the flag.
		return nil
	}

	nextCapacity := nextPrime(c.growth * lastSubmap.capacity)
	c.submaps[last+1].Store(newSubmap[K, V](nextCapacity, c.maxLoadFactor))
	c.numSubmaps.Store(int32(last + 2))
	return nil
}

// size returns the number of entries successfully published so far.
// Relaxed/statistical: tolerates slight staleness, per spec §5.
func (c *cmap[K, V]) size() int {
	return int(c.numEntries.load())
}
