package cppmemo

import (
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// Config collects the options New can be constructed with. It exists only
// to be built up by Option functions; Memoizer itself stores the derived,
// validated fields.
type Config[K comparable, V any] struct {
	numThreads       int
	estimatedEntries int
	detectCycles     bool
	hash1, hash2     Hasher[K]
	equal            EqualFunc[K]
	maxLoadFactor    float64
	growth           uint64
	maxSubmaps       int
	firstMin         uint64
}

// Option configures a Memoizer at construction time, following the same
// functional-options shape this pack's own concurrent map uses
// (pb.WithPresize, pb.WithShrinkEnabled).
type Option[K comparable, V any] func(*Config[K, V])

// WithNumThreads sets the default worker count for Compute/
// ComputeWithDeclare calls that do not override it per call.
func WithNumThreads[K comparable, V any](n int) Option[K, V] {
	return func(c *Config[K, V]) { c.numThreads = n }
}

// WithEstimatedEntries sizes the first submap to comfortably hold about
// this many entries at the configured load factor, avoiding early
// expansions for workloads whose size is roughly known up front.
func WithEstimatedEntries[K comparable, V any](n int) Option[K, V] {
	return func(c *Config[K, V]) { c.estimatedEntries = n }
}

// WithCycleDetection enables per-thread cycle detection. Disabled by
// default: it costs a set insertion/lookup per stack push/pop.
func WithCycleDetection[K comparable, V any](enabled bool) Option[K, V] {
	return func(c *Config[K, V]) { c.detectCycles = enabled }
}

// WithHashers overrides the default hash/maphash-based Hash1/Hash2 pair.
// The two functions must be statistically independent. A probe cycle
// visits every bucket whatever the pair, since the step is always coprime
// with the prime capacity; supplying the same function twice ties each
// key's probe step to its start slot, which spreads probe sequences less.
func WithHashers[K comparable, V any](hash1, hash2 Hasher[K]) Option[K, V] {
	return func(c *Config[K, V]) { c.hash1, c.hash2 = hash1, hash2 }
}

// WithKeyEqual overrides the default == equality for K.
func WithKeyEqual[K comparable, V any](equal EqualFunc[K]) Option[K, V] {
	return func(c *Config[K, V]) { c.equal = equal }
}

// WithMaxLoadFactor overrides the default 0.75 submap load factor. Must
// be in (0, 1).
func WithMaxLoadFactor[K comparable, V any](f float64) Option[K, V] {
	return func(c *Config[K, V]) { c.maxLoadFactor = f }
}

// WithGrowth overrides the default 8x submap growth multiplier.
func WithGrowth[K comparable, V any](g uint64) Option[K, V] {
	return func(c *Config[K, V]) { c.growth = g }
}

// WithMaxSubmaps overrides the default 128-tier ceiling on CMap growth.
func WithMaxSubmaps[K comparable, V any](n int) Option[K, V] {
	return func(c *Config[K, V]) { c.maxSubmaps = n }
}

// WithFirstMinCapacity overrides the default 65537-slot floor on the
// first submap's capacity. Mainly useful for tests that want to observe
// expansion behavior without inserting tens of thousands of entries
// first.
func WithFirstMinCapacity[K comparable, V any](n uint64) Option[K, V] {
	return func(c *Config[K, V]) { c.firstMin = n }
}

// CallOption configures a single Compute/ComputeWithDeclare call.
type CallOption func(*callConfig)

type callConfig struct {
	numThreads int
}

// WithThreads overrides the Memoizer's default thread count for one call.
func WithThreads(n int) CallOption {
	return func(c *callConfig) { c.numThreads = n }
}

// Memoizer is the memoization driver (DRIVER): given a root key, it
// computes its value by iteratively materializing prerequisites in
// dependency order, using per-thread explicit stacks backed by a shared
// CMap. It is not movable or copyable after construction: it logically
// owns the CMap and, transitively, all submap storage.
//
// A *Memoizer is safe for concurrent use by multiple goroutines. Its
// default thread count and cycle-detection flag must not be mutated
// concurrently with an in-flight Value/Compute/ComputeWithDeclare call.
type Memoizer[K comparable, V any] struct {
	cmap *cmap[K, V]

	numThreads   atomic.Int32
	detectCycles atomic.Bool
}

// New constructs a Memoizer. With no options it defaults to a single
// worker thread, no size hint, and cycle detection off, matching
// spec §6's constructor defaults.
func New[K comparable, V any](options ...Option[K, V]) (*Memoizer[K, V], error) {
	cfg := Config[K, V]{
		numThreads:    1,
		maxLoadFactor: defaultMaxLoadFactor,
		growth:        defaultGrowth,
		maxSubmaps:    defaultMaxSubmaps,
		firstMin:      defaultFirstMin,
	}
	for _, opt := range options {
		opt(&cfg)
	}

	if cfg.numThreads < 1 {
		return nil, &InvalidConfigError{Field: "numThreads", Reason: "must be >= 1"}
	}
	if cfg.maxLoadFactor <= 0 || cfg.maxLoadFactor >= 1 {
		return nil, &InvalidConfigError{Field: "maxLoadFactor", Reason: "must be in (0, 1)"}
	}
	if cfg.maxSubmaps < 1 {
		return nil, &InvalidConfigError{Field: "maxSubmaps", Reason: "must be >= 1"}
	}
	if cfg.growth < 2 {
		return nil, &InvalidConfigError{Field: "growth", Reason: "must be >= 2"}
	}

	if cfg.hash1 == nil || cfg.hash2 == nil {
		cfg.hash1, cfg.hash2 = defaultHashers[K]()
	}
	if cfg.equal == nil {
		cfg.equal = defaultEqual[K]
	}

	m := &Memoizer[K, V]{
		cmap: newCMap[K, V](cfg.estimatedEntries, cfg.maxLoadFactor, cfg.growth, cfg.maxSubmaps, cfg.firstMin, cfg.hash1, cfg.hash2, cfg.equal),
	}
	m.numThreads.Store(int32(cfg.numThreads))
	m.detectCycles.Store(cfg.detectCycles)
	return m, nil
}

// NumThreads returns the default worker count used by Compute/
// ComputeWithDeclare calls that do not pass WithThreads.
func (m *Memoizer[K, V]) NumThreads() int {
	return int(m.numThreads.Load())
}

// SetNumThreads changes the default worker count. Returns
// InvalidConfigError for n < 1.
func (m *Memoizer[K, V]) SetNumThreads(n int) error {
	if n < 1 {
		return &InvalidConfigError{Field: "numThreads", Reason: "must be >= 1"}
	}
	m.numThreads.Store(int32(n))
	return nil
}

// DetectCircularDependencies reports whether cycle detection is enabled.
func (m *Memoizer[K, V]) DetectCircularDependencies() bool {
	return m.detectCycles.Load()
}

// SetDetectCircularDependencies enables or disables cycle detection.
func (m *Memoizer[K, V]) SetDetectCircularDependencies(enabled bool) {
	m.detectCycles.Store(enabled)
}

// Value returns the value already memoized for key, without computing
// anything. Returns ErrNotMemoized if key has no entry yet.
func (m *Memoizer[K, V]) Value(key K) (V, error) {
	if v, ok := m.cmap.find(key); ok {
		return v, nil
	}
	var zero V
	return zero, ErrNotMemoized
}

// Compute returns the value for key, computing it (and any transitive
// prerequisite) if necessary via dry-run discovery: compute is invoked
// with a Provider that returns dummy values for not-yet-memoized
// prerequisites, and the driver watches which prerequisites compute asked
// for to drive further evaluation. See ComputeFunc's doc comment for the
// purity requirement this relies on.
func (m *Memoizer[K, V]) Compute(key K, compute ComputeFunc[K, V], opts ...CallOption) (V, error) {
	return m.run(key, compute, nil, opts)
}

// ComputeWithDeclare returns the value for key like Compute, but
// discovers prerequisites by calling declare explicitly instead of
// dry-running compute. Use this when compute cannot cheaply tolerate
// dummy prerequisite values (e.g. its control flow branches on them).
func (m *Memoizer[K, V]) ComputeWithDeclare(key K, compute ComputeFunc[K, V], declare DeclareFunc[K, V], opts ...CallOption) (V, error) {
	return m.run(key, compute, declare, opts)
}

func (m *Memoizer[K, V]) run(key K, compute ComputeFunc[K, V], declare DeclareFunc[K, V], opts []CallOption) (V, error) {
	var zero V

	// Fast path: no thread spawned at all if the root is already
	// memoized (spec §4.E).
	if v, ok := m.cmap.find(key); ok {
		return v, nil
	}

	cc := callConfig{numThreads: int(m.numThreads.Load())}
	for _, opt := range opts {
		opt(&cc)
	}
	if cc.numThreads < 1 {
		return zero, &InvalidConfigError{Field: "numThreads", Reason: "must be >= 1"}
	}

	detect := m.detectCycles.Load()

	if cc.numThreads == 1 {
		if err := m.runWorker(0, key, compute, declare, detect); err != nil {
			return zero, err
		}
	} else {
		var g errgroup.Group
		for t := 0; t < cc.numThreads; t++ {
			threadNo := t
			g.Go(func() error {
				return m.runWorker(threadNo, key, compute, declare, detect)
			})
		}
		if err := g.Wait(); err != nil {
			return zero, err
		}
	}

	v, ok := m.cmap.find(key)
	if !ok {
		// Every worker returned without error, so the root must be
		// memoized; this would indicate a driver bug, not a user error.
		return zero, ErrNotMemoized
	}
	return v, nil
}

// runWorker runs one worker's DFS loop to completion: push root, then
// alternate between discovering a key's prerequisites (its first,
// not-ready visit) and computing-and-publishing it (its second, ready
// visit), until its stack empties. In dry-run mode a key whose dry run
// pushed prerequisites gets another discovery visit instead, and is
// published by the first dry run that finds every prerequisite memoized.
// See spec §4.E for the loop this follows.
func (m *Memoizer[K, V]) runWorker(threadNo int, root K, compute ComputeFunc[K, V], declare DeclareFunc[K, V], detect bool) error {
	stack := newThreadStack[K](threadNo, detect)
	if err := stack.push(root); err != nil {
		return err
	}
	stack.finalizeGroup()

	for !stack.empty() {
		item := stack.back()

		if item.ready {
			_, _, err := m.cmap.insert(item.key, func() V {
				p := &Provider[K, V]{mode: modeNormal, cmap: m.cmap}
				return compute(item.key, p)
			})
			if err != nil {
				return err
			}
			stack.pop()
			continue
		}

		item.ready = true
		if _, ok := m.cmap.find(item.key); ok {
			// Another worker finished it already; the next iteration
			// will see ready=true and re-check via cmap.insert, which
			// is a cheap no-op find when the entry already exists.
			continue
		}

		if declare != nil {
			g := &Gatherer[K, V]{cmap: m.cmap, stack: stack}
			declare(item.key, g)
			if g.err != nil {
				return g.err
			}
			stack.finalizeGroup()
		} else {
			top := len(stack.items) - 1
			p := &Provider[K, V]{mode: modeDryRun, cmap: m.cmap, stack: stack}
			tentative := compute(item.key, p)
			if p.err != nil {
				return p.err
			}
			if stack.groupSize == 0 {
				// No prerequisite was missing: the tentative value is
				// already correct, publish it directly.
				if _, _, err := m.cmap.insert(item.key, func() V { return tentative }); err != nil {
					return err
				}
				stack.pop()
			} else {
				// Some prerequisites were missing: once they are memoized,
				// dry-run this key again, since compute may ask for further
				// prerequisites after seeing their real values.
				stack.items[top].ready = false
			}
			stack.finalizeGroup()
		}
	}
	return nil
}
