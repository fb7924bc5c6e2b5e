package cppmemo

// providerMode distinguishes the two ways Provider.Get can behave,
// switched by the driver between a key's discovery visit and its
// compute-and-publish visit.
type providerMode int

const (
	// modeNormal: prerequisites are guaranteed already memoized; Get
	// returns the real, final value.
	modeNormal providerMode = iota
	// modeDryRun: prerequisites may be missing; Get records any miss on
	// the stack and returns a default-constructed dummy value instead.
	modeDryRun
)

// ComputeFunc produces the value for key given a Provider through which
// it reads prerequisite values. Must be a pure function of key and the
// prerequisite values it reads: the driver may invoke it more than once
// per key (in dry-run discovery, once per round until a round finds every
// prerequisite memoized, and that round's result is the one published),
// and concurrently on different workers for the same key (see CMap's
// duplicate-tolerance note).
type ComputeFunc[K comparable, V any] func(key K, p *Provider[K, V]) V

// DeclareFunc announces key's prerequisites to g, in the order they
// should be discovered. Used in place of dry-run discovery when a
// caller's Compute cannot cheaply be run with dummy prerequisite values.
type DeclareFunc[K comparable, V any] func(key K, g *Gatherer[K, V])

// Provider is handed to ComputeFunc. Get returns the value for a
// prerequisite key.
//
// In normal mode (the compute-and-publish visit), every prerequisite Get
// is called with is guaranteed already memoized; calling Get for a key
// that was never declared/discovered is a caller bug and panics, the
// same way indexing past the end of a slice does.
//
// In dry-run mode (a discovery visit with no explicit DeclareFunc), Get
// returns the real value for an already-memoized key, or otherwise
// records key as a missing prerequisite and returns a zero value. Code
// in ComputeFunc that branches on a prerequisite's value, rather than
// merely consuming it, may under-discover in a single dry-run round; the
// driver re-runs discovery until a round pushes nothing new (spec §9).
type Provider[K comparable, V any] struct {
	mode  providerMode
	cmap  *cmap[K, V]
	stack *threadStack[K]
	err   error
}

// Get returns the value memoized for key, per the rules on Provider.
func (p *Provider[K, V]) Get(key K) V {
	if p.mode == modeNormal {
		v, ok := p.cmap.find(key)
		if !ok {
			panic("cppmemo: Provider.Get called for an unmemoized key in normal mode; prerequisites must be fully resolved before compute-and-publish")
		}
		return v
	}
	if v, ok := p.cmap.find(key); ok {
		return v
	}
	if err := p.stack.push(key); err != nil && p.err == nil {
		p.err = err
	}
	var zero V
	return zero
}

// Gatherer is handed to DeclareFunc. Need announces that key must be
// memoized before the declaring key can be computed: if key is already
// memoized this is a no-op, otherwise key is pushed as a new prerequisite
// on the declaring worker's stack.
type Gatherer[K comparable, V any] struct {
	cmap  *cmap[K, V]
	stack *threadStack[K]
	err   error
}

// Need declares key as a prerequisite.
func (g *Gatherer[K, V]) Need(key K) {
	if _, ok := g.cmap.find(key); ok {
		return
	}
	if err := g.stack.push(key); err != nil && g.err == nil {
		g.err = err
	}
}
