package annotation

import (
	"sort"
	"sync"

	"github.com/ICARUS-tooling/icarus2-modeling-framework-sub024/pkg/errors"
	"github.com/ICARUS-tooling/icarus2-modeling-framework-sub024/pkg/manifest"
)

// BundleKind names a bundle representation.
type BundleKind string

const (
	KindCompact BundleKind = "compact"
	KindGrowing BundleKind = "growing"
	KindLarge   BundleKind = "large"
	KindSingle  BundleKind = "single"
)

// Policy tunes how the factory picks and sizes bundles.
type Policy struct {
	// CompactCapacity is the largest closed key set served by CompactBundle.
	CompactCapacity int
	// GrowThreshold is the array-size ceiling of GrowingBundle. Open layers
	// declaring more keys than this get LargeBundle.
	GrowThreshold int
}

// DefaultPolicy returns the stock sizing.
func DefaultPolicy() Policy {
	return Policy{
		CompactCapacity: DefaultCompactCapacity,
		GrowThreshold:   DefaultGrowThreshold,
	}
}

func (p Policy) normalized() Policy {
	if p.CompactCapacity < 1 {
		p.CompactCapacity = DefaultCompactCapacity
	}
	if p.GrowThreshold < 1 {
		p.GrowThreshold = DefaultGrowThreshold
	}
	return p
}

// Constructor returns a bundle allocator for a layer.
type Constructor func(m *manifest.LayerManifest, p Policy) (func() Bundle, error)

// Factory selects and builds bundle representations. Custom kinds are added
// through Register.
type Factory struct {
	policy Policy

	mu    sync.RWMutex
	kinds map[BundleKind]Constructor
}

// NewFactory returns a factory with the built-in kinds registered.
func NewFactory(p Policy) *Factory {
	f := &Factory{
		policy: p.normalized(),
		kinds:  make(map[BundleKind]Constructor, 4),
	}
	f.kinds[KindCompact] = newCompactConstructor
	f.kinds[KindGrowing] = func(_ *manifest.LayerManifest, p Policy) (func() Bundle, error) {
		return func() Bundle { return NewGrowingBundle(p.GrowThreshold) }, nil
	}
	f.kinds[KindLarge] = func(*manifest.LayerManifest, Policy) (func() Bundle, error) {
		return func() Bundle { return NewLargeBundle() }, nil
	}
	f.kinds[KindSingle] = newSingleConstructor
	return f
}

// Policy returns the factory's sizing policy.
func (f *Factory) Policy() Policy {
	return f.policy
}

// Register adds or replaces a bundle kind.
func (f *Factory) Register(kind BundleKind, ctor Constructor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.kinds[kind] = ctor
}

// Kinds lists the registered kinds in sorted order.
func (f *Factory) Kinds() []BundleKind {
	f.mu.RLock()
	defer f.mu.RUnlock()
	kinds := make([]BundleKind, 0, len(f.kinds))
	for k := range f.kinds {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Select picks a representation for m. An explicit BundleKind in the manifest
// wins. Closed key sets get SingleBundle for one key and CompactBundle up to
// CompactCapacity keys; open or larger key sets get GrowingBundle unless they
// already declare more keys than the grow threshold, which selects LargeBundle.
func (f *Factory) Select(m *manifest.LayerManifest) BundleKind {
	if m.BundleKind != "" {
		return BundleKind(m.BundleKind)
	}
	n := m.KeyCount()
	if m.Closed() {
		switch {
		case n == 1:
			return KindSingle
		case n <= f.policy.CompactCapacity:
			return KindCompact
		}
		return KindGrowing
	}
	if n > f.policy.GrowThreshold {
		return KindLarge
	}
	return KindGrowing
}

// New selects a kind for m and returns it with its allocator.
func (f *Factory) New(m *manifest.LayerManifest) (BundleKind, func() Bundle, error) {
	kind := f.Select(m)
	f.mu.RLock()
	ctor, ok := f.kinds[kind]
	f.mu.RUnlock()
	if !ok {
		return "", nil, errors.Newf(errors.ErrorTypeConfig, "unknown bundle kind %q", kind).
			WithDetail("layer", m.ID)
	}
	alloc, err := ctor(m, f.policy)
	if err != nil {
		return "", nil, err
	}
	return kind, alloc, nil
}

// newCompactConstructor sizes the slot array from a closed key set, or from
// the policy capacity when the layer accepts unknown keys.
func newCompactConstructor(m *manifest.LayerManifest, p Policy) (func() Bundle, error) {
	capacity := m.KeyCount()
	if !m.Closed() || capacity == 0 {
		capacity = p.CompactCapacity
	}
	return func() Bundle { return NewCompactBundle(capacity) }, nil
}

func newSingleConstructor(m *manifest.LayerManifest, _ Policy) (func() Bundle, error) {
	if m.KeyCount() != 1 || !m.Closed() {
		return nil, errors.New(errors.ErrorTypeConfig, "single-key bundles need a closed layer with exactly one key").
			WithDetail("layer", m.ID).
			WithDetail("keys", m.KeyCount())
	}
	key := m.Keys[0].Key
	return func() Bundle { return NewSingleBundle(key) }, nil
}
