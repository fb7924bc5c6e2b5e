package cppmemo

import "sync/atomic"

// bucketState is the tri-state lifecycle of a bucket: it starts empty,
// is claimed by exactly one writer (busy), and then publishes its payload
// (valid). No transition ever leaves valid.
type bucketState = uint32

const (
	bucketEmpty bucketState = iota
	bucketBusy
	bucketValid
)

// insertOutcome is the result of tryClaimAndWrite.
type insertOutcome int

const (
	// outcomeWrote means this call won the race and published (key, value).
	outcomeWrote insertOutcome = iota
	// outcomeRacedValid means another goroutine already published the same
	// key at this slot; the caller's value was discarded.
	outcomeRacedValid
	// outcomeKeepProbing means this slot is occupied by a different key, or
	// currently busy with another goroutine's write; probing must continue.
	outcomeKeepProbing
)

// bucket is a single hash-table slot. Its state word is the only field
// synchronized across goroutines; key/value are written once, before the
// state transitions to valid, and are only ever read after observing
// valid, which makes the write visible without further synchronization.
//
// A bucket is never updated or erased once valid: that invariant is what
// lets readers skip locking entirely.
type bucket[K comparable, V any] struct {
	state atomic.Uint32
	key   K
	value V
}

// tryClaimAndWrite attempts to publish (key, value) at this bucket.
//
// If the bucket is empty, it races to claim it via CAS; the winner writes
// key/value and publishes with a release store. If the bucket is already
// valid, it reports whether key matches (a benign duplicate) or not (probe
// onward). A busy bucket is always KEEP_PROBING: callers never spin on a
// bucket another goroutine is mid-write on.
func (b *bucket[K, V]) tryClaimAndWrite(key K, value V, equal func(K, K) bool) insertOutcome {
	state := b.state.Load()
	if state == bucketEmpty {
		if b.state.CompareAndSwap(bucketEmpty, bucketBusy) {
			b.key = key
			b.value = value
			b.state.Store(bucketValid)
			return outcomeWrote
		}
		// Lost the race; re-read below.
		state = b.state.Load()
	}
	if state == bucketBusy {
		return outcomeKeepProbing
	}
	// state == bucketValid (or just became so): the store above and any
	// racing writer's store are both release operations ordered before
	// this load observes bucketValid, so b.key is safe to read here.
	if equal(b.key, key) {
		return outcomeRacedValid
	}
	return outcomeKeepProbing
}

// probeResult reports what tryRead discovered at a single probe position.
type probeResult int

const (
	// probeAbsent means this slot is empty. Inserts only ever claim the
	// first empty slot of a key's probe sequence, so the key is not
	// further along it either.
	probeAbsent probeResult = iota
	// probeFound means this slot holds the requested key.
	probeFound
	// probeMismatch means this slot holds a different key.
	probeMismatch
	// probeBusy means this slot is mid-write by another goroutine.
	probeBusy
)

// tryRead inspects this bucket for key without blocking.
func (b *bucket[K, V]) tryRead(key K, equal func(K, K) bool) (V, probeResult) {
	switch b.state.Load() {
	case bucketEmpty:
		var zero V
		return zero, probeAbsent
	case bucketBusy:
		var zero V
		return zero, probeBusy
	default: // bucketValid
		if equal(b.key, key) {
			return b.value, probeFound
		}
		var zero V
		return zero, probeMismatch
	}
}

// valid reports whether the bucket currently holds a published entry,
// without checking the key. Used by iteration and load accounting.
func (b *bucket[K, V]) valid() bool {
	return b.state.Load() == bucketValid
}
