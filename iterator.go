package cppmemo

// Range visits every valid entry exactly once, in submap order (oldest
// tier first, buckets in slot order within a tier). Iteration is never
// invalidated by concurrent inserts: submaps are append-only and bucket
// state is monotonic (empty -> busy -> valid, never back), so a bucket
// already observed valid stays valid. A bucket that becomes valid only
// after Range passes it may or may not be observed, matching the
// snapshot-ish semantics described in spec §9.
//
// Range stops early if yield returns false, mirroring the range-over-func
// convention this pack's own maps use (pb.MapOf.Range).
func (c *cmap[K, V]) Range(yield func(key K, value V) bool) {
	for i := 0; i < int(c.numSubmaps.Load()); i++ {
		sm := c.submaps[i].Load()
		for b := range sm.buckets {
			bkt := &sm.buckets[b]
			if !bkt.valid() {
				continue
			}
			if !yield(bkt.key, bkt.value) {
				return
			}
		}
	}
}

// All is the iter.Seq2-shaped alias of Range, for range-over-func use:
// for k, v := range c.All() { ... }.
func (c *cmap[K, V]) All() func(yield func(K, V) bool) {
	return c.Range
}

// Keys iterates over keys only.
func (c *cmap[K, V]) Keys(yield func(K) bool) {
	c.Range(func(k K, _ V) bool { return yield(k) })
}

// Values iterates over values only.
func (c *cmap[K, V]) Values(yield func(V) bool) {
	c.Range(func(_ K, v V) bool { return yield(v) })
}

// filter allocates a new cmap sized to this map's current entry count and
// copies every entry for which pred returns true. clone is filter with a
// predicate that always returns true, and it deduplicates implicitly: a
// key that (transiently) appears in two submaps of the source is only
// findable once in the destination, because filter inserts by key through
// the destination's own insert path.
func (c *cmap[K, V]) filter(pred func(K, V) bool) *cmap[K, V] {
	dst := newCMap[K, V](c.size(), c.maxLoadFactor, c.growth, c.maxSubmaps, c.firstMin, c.hash1, c.hash2, c.equal)
	c.Range(func(k K, v V) bool {
		if pred(k, v) {
			dst.insert(k, func() V { return v })
		}
		return true
	})
	return dst
}

func (c *cmap[K, V]) clone() *cmap[K, V] {
	return c.filter(func(K, V) bool { return true })
}
