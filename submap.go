package cppmemo

import (
	"sync/atomic"

	"golang.org/x/sys/cpu"
)

// submapFull is returned by insert when probing completes a full cycle
// without finding an insertable slot. It is not an error: the caller
// (CMap.insert) reacts to it by expanding and retrying.
type submapFull struct{}

func (submapFull) Error() string { return "submap: probe cycle exhausted without a free slot" }

// submap is a fixed-capacity, open-addressed hash table of buckets using
// double hashing: the probe sequence starts at h1 mod capacity and steps
// by 1 + (h2 mod (capacity-1)), an increment guaranteed coprime with the
// prime capacity, so a full cycle visits every bucket exactly once.
//
// A submap never grows; CMap grows by appending new submaps (cmap.go).
type submap[K comparable, V any] struct {
	buckets       []bucket[K, V]
	capacity      uint64
	maxLoadFactor float64

	// validCount is read far more often (load-factor checks on every
	// insert) than written (once per successful insert), and sits apart
	// from buckets to avoid false-sharing with bucket writes.
	_          cpu.CacheLinePad
	validCount counter
}

func newSubmap[K comparable, V any](capacity uint64, maxLoadFactor float64) *submap[K, V] {
	return &submap[K, V]{
		buckets:       make([]bucket[K, V], capacity),
		capacity:      capacity,
		maxLoadFactor: maxLoadFactor,
	}
}

// overloaded reports whether validBuckets/capacity has reached
// maxLoadFactor, the soft signal CMap.insert uses to trigger expansion
// before a submap actually fills up.
func (s *submap[K, V]) overloaded() bool {
	return float64(s.validCount.load())/float64(s.capacity) >= s.maxLoadFactor
}

// probeStart/probeStep implement the double-hashing probe sequence.
func (s *submap[K, V]) probeStart(h1 uint64) uint64 {
	return h1 % s.capacity
}

func (s *submap[K, V]) probeStep(h2 uint64) uint64 {
	return 1 + h2%(s.capacity-1)
}

// find walks the probe sequence for key, stopping at the first valid
// match, the first empty slot (definitely absent), or a full cycle.
func (s *submap[K, V]) find(key K, h1, h2 uint64, equal EqualFunc[K]) (V, bool) {
	idx := s.probeStart(h1)
	step := s.probeStep(h2)
	for i := uint64(0); i < s.capacity; i++ {
		v, res := s.buckets[idx].tryRead(key, equal)
		switch res {
		case probeFound:
			return v, true
		case probeAbsent:
			var zero V
			return zero, false
		case probeBusy, probeMismatch:
			// keep probing
		}
		idx = (idx + step) % s.capacity
	}
	var zero V
	return zero, false
}

// insert walks the probe sequence for key, computing value lazily the
// first time it reaches an empty bucket (memoized locally so repeated
// empty encounters within the same call never recompute it), and
// attempts to claim that bucket. Returns submapFull if a whole cycle
// passes without an insertable slot.
func (s *submap[K, V]) insert(key K, h1, h2 uint64, equal EqualFunc[K], computeValue func() V) (V, bool, error) {
	idx := s.probeStart(h1)
	step := s.probeStep(h2)

	var value V
	haveValue := false

	for i := uint64(0); i < s.capacity; i++ {
		b := &s.buckets[idx]
		if !haveValue && b.state.Load() == bucketEmpty {
			value = computeValue()
			haveValue = true
		}
		if haveValue {
			switch b.tryClaimAndWrite(key, value, equal) {
			case outcomeWrote:
				s.validCount.add(1)
				return value, true, nil
			case outcomeRacedValid:
				return b.value, false, nil
			case outcomeKeepProbing:
				// fall through to the plain find below, another
				// goroutine may have since published this key here.
			}
		}
		if v, found := s.buckets[idx].tryRead(key, equal); found == probeFound {
			return v, false, nil
		}
		idx = (idx + step) % s.capacity
	}
	return value, false, submapFull{}
}

// counter is a small atomic.Int64-backed counter, used for submap's
// validCount (which sits after a CacheLinePad) and CMap's numEntries
// (which is not padded).
type counter struct {
	v atomic.Int64
}

func (c *counter) load() int64            { return c.v.Load() }
func (c *counter) add(delta int64) int64 { return c.v.Add(delta) }
