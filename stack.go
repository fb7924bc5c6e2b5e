package cppmemo

import "math/rand/v2"

// stackItem is one entry in a per-thread stack: a key awaiting its first
// (discovery) visit, or already flipped to its second (compute-and-
// publish) visit.
type stackItem[K comparable] struct {
	key   K
	ready bool
}

// threadStack is an explicit DFS stack, one per worker goroutine, never
// shared. It replaces the call stack so dependency chains of arbitrary
// depth evaluate without overflowing it (spec §9, "iterative DFS instead
// of recursion").
//
// Beyond plain push/pop it tracks the "group" of items most recently
// pushed by a single discovery step, so the driver can reorder or
// fingerprint them as a unit once discovery for that step finishes
// (finalizeGroup), and optionally maintains a cycle-detection set.
type threadStack[K comparable] struct {
	items     []stackItem[K]
	threadNo  int
	rng       *rand.Rand
	groupSize int

	detectCycles bool
	onStack      map[K]struct{}
}

func newThreadStack[K comparable](threadNo int, detectCycles bool) *threadStack[K] {
	s := &threadStack[K]{
		threadNo:     threadNo,
		detectCycles: detectCycles,
	}
	if threadNo > 1 {
		s.rng = rand.New(rand.NewPCG(uint64(threadNo), uint64(threadNo)))
	}
	if detectCycles {
		s.onStack = make(map[K]struct{})
	}
	return s
}

// push appends key as a new, not-yet-ready item and counts it toward the
// current group. If cycle detection is enabled and key is already on the
// stack, it returns a CircularDependencyError carrying a snapshot of the
// stack instead of pushing.
func (s *threadStack[K]) push(key K) error {
	if s.detectCycles {
		if _, onStack := s.onStack[key]; onStack {
			snapshot := make([]K, len(s.items)+1)
			for i, it := range s.items {
				snapshot[i] = it.key
			}
			snapshot[len(s.items)] = key
			return &CircularDependencyError[K]{stack: snapshot}
		}
	}
	s.items = append(s.items, stackItem[K]{key: key})
	s.groupSize++
	return nil
}

// finalizeGroup is called once after a discovery step (a Declare call or
// a dry-run Compute call) has pushed zero or more prerequisites.
//
// Thread 0 keeps the user's declared order, so single-threaded evaluation
// is deterministic. Thread 1 reverses its group, a cheap deterministic
// perturbation. Threads >= 2 shuffle their group with a PRNG seeded by
// thread index. This diversifies which leaf each worker reaches first
// without any cross-worker coordination (spec §4.D, §9).
func (s *threadStack[K]) finalizeGroup() {
	n := s.groupSize
	if n > 1 && s.threadNo != 0 {
		start := len(s.items) - n
		group := s.items[start:]
		switch {
		case s.threadNo == 1:
			for i, j := 0, len(group)-1; i < j; i, j = i+1, j-1 {
				group[i], group[j] = group[j], group[i]
			}
		default:
			s.rng.Shuffle(len(group), func(i, j int) {
				group[i], group[j] = group[j], group[i]
			})
		}
	}
	if s.detectCycles {
		start := len(s.items) - n
		for _, it := range s.items[start:] {
			s.onStack[it.key] = struct{}{}
		}
	}
	s.groupSize = 0
}

// back returns a pointer to the top item, for in-place ready-flag flips.
// Panics if the stack is empty, a caller invariant (the DFS loop always
// checks empty() first).
func (s *threadStack[K]) back() *stackItem[K] {
	return &s.items[len(s.items)-1]
}

// pop removes the top item. Requires groupSize == 0: a caller must
// finalize any pending group before popping, so the cycle-detection set
// and the stack slice never disagree about what is "on the stack".
func (s *threadStack[K]) pop() {
	top := s.items[len(s.items)-1]
	s.items = s.items[:len(s.items)-1]
	if s.detectCycles {
		delete(s.onStack, top.key)
	}
}

func (s *threadStack[K]) empty() bool {
	return len(s.items) == 0
}
