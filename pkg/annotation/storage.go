package annotation

import (
	"go.uber.org/zap"

	"github.com/ICARUS-tooling/icarus2-modeling-framework-sub024/pkg/errors"
	"github.com/ICARUS-tooling/icarus2-modeling-framework-sub024/pkg/logger"
	"github.com/ICARUS-tooling/icarus2-modeling-framework-sub024/pkg/manifest"
	"github.com/ICARUS-tooling/icarus2-modeling-framework-sub024/pkg/metrics"
)

// Option configures a Storage.
type Option func(*options)

type options struct {
	factory *Factory
	logger  *zap.Logger
	metrics *metrics.StorageMetrics
	reclaim bool
}

// WithFactory sets the factory choosing the bundle representation.
func WithFactory(f *Factory) Option {
	return func(o *options) { o.factory = f }
}

// WithLogger sets the logger for representation changes.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics records writes and conversions under the layer id.
func WithMetrics(m *metrics.StorageMetrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithReclaimEmpty drops an item's bundle once its last value is removed.
func WithReclaimEmpty(reclaim bool) Option {
	return func(o *options) { o.reclaim = reclaim }
}

// Storage maps items of one annotation layer to their bundles.
//
// Keys are checked against the layer manifest: undeclared keys fail with an
// invalid-key error unless the layer allows unknown keys. Items without a
// value for a key yield the key's no-entry value.
type Storage[I comparable] struct {
	layer    manifest.LayerManifest
	keys     map[string]manifest.KeyManifest
	kind     BundleKind
	alloc    func() Bundle
	bundles  map[I]Bundle
	fallback *LargeBundle
	reclaim  bool
	logger   *zap.Logger
	rec      *metrics.StorageRecorder
}

// NewStorage validates m and prepares an empty storage for its layer.
func NewStorage[I comparable](m *manifest.LayerManifest, opts ...Option) (*Storage[I], error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.factory == nil {
		o.factory = NewFactory(DefaultPolicy())
	}

	layer := *m
	layer.Keys = append([]manifest.KeyManifest(nil), m.Keys...)
	if err := layer.Validate(); err != nil {
		return nil, err
	}

	kind, alloc, err := o.factory.New(&layer)
	if err != nil {
		return nil, err
	}

	s := &Storage[I]{
		layer:    layer,
		keys:     make(map[string]manifest.KeyManifest, len(layer.Keys)),
		kind:     kind,
		alloc:    alloc,
		bundles:  make(map[I]Bundle),
		fallback: NewLargeBundle(),
		reclaim:  o.reclaim,
		logger:   logger.OrNop(o.logger).With(zap.String("component", "annotation_storage"), zap.String("layer", layer.ID)),
		rec:      o.metrics.For(layer.ID),
	}
	for _, k := range layer.Keys {
		s.keys[k.Key] = k
		if k.NoEntryValue != nil {
			// cannot fail on a map-backed bundle
			_, _ = s.fallback.SetValue(k.Key, k.NoEntryValue)
		}
	}

	s.logger.Debug("annotation storage created",
		zap.String("bundle_kind", string(kind)),
		zap.Int("declared_keys", len(layer.Keys)),
		zap.Bool("allow_unknown_keys", layer.AllowUnknownKeys))
	return s, nil
}

// Layer returns the validated manifest of the layer.
func (s *Storage[I]) Layer() *manifest.LayerManifest {
	return &s.layer
}

// Kind returns the bundle representation in use.
func (s *Storage[I]) Kind() BundleKind {
	return s.kind
}

func (s *Storage[I]) resolve(key string) (manifest.KeyManifest, error) {
	if k, ok := s.keys[key]; ok {
		return k, nil
	}
	if s.layer.AllowUnknownKeys && key != "" {
		return manifest.KeyManifest{Key: key, ValueType: manifest.ValueTypeCustom}, nil
	}
	return manifest.KeyManifest{}, errors.Newf(errors.ErrorTypeInvalidKey, "unknown annotation key %q for layer %q", key, s.layer.ID).
		WithDetail("layer", s.layer.ID).
		WithDetail("key", key)
}

// stored returns the raw stored value for item and key, or nil.
func (s *Storage[I]) stored(item I, key string) any {
	if b := s.bundles[item]; b != nil {
		return b.Value(key)
	}
	return nil
}

// Value returns the value of key for item, or the key's no-entry value.
func (s *Storage[I]) Value(item I, key string) (any, error) {
	if _, err := s.resolve(key); err != nil {
		return nil, err
	}
	switch v := s.stored(item, key).(type) {
	case nil:
		return s.fallback.Value(key), nil
	case *primitive:
		return v.value(), nil
	default:
		return v, nil
	}
}

// SetValue stores value for item and key and reports whether the stored
// content changed. A nil value removes the entry. Numeric and boolean values
// are kept in a per-entry holder whose type is fixed on first use.
func (s *Storage[I]) SetValue(item I, key string, value any) (changed bool, err error) {
	defer func() { s.rec.Write(changed, err) }()

	k, err := s.resolve(key)
	if err != nil {
		return false, err
	}
	if value == nil {
		return s.remove(item, key), nil
	}
	if !k.ValueType.Accepts(value) {
		return false, s.decorate(typeMismatch(manifest.Of(value), k.ValueType), item, key)
	}
	if kind, bits, ok := primitiveBits(value); ok {
		return s.setPrimitive(item, key, kind, bits)
	}

	b, created := s.bundleFor(item)
	if p, ok := b.Value(key).(*primitive); ok {
		return false, s.decorate(typeMismatch(manifest.Of(value), p.kind), item, key)
	}
	changed, err = s.write(item, b, key, value)
	if err != nil && created {
		s.drop(item)
	}
	return changed, s.decorate(err, item, key)
}

func (s *Storage[I]) setPrimitive(item I, key string, kind manifest.ValueType, bits uint64) (bool, error) {
	b, created := s.bundleFor(item)
	switch cur := b.Value(key).(type) {
	case *primitive:
		changed, err := cur.assign(kind, bits)
		return changed, s.decorate(err, item, key)
	case nil:
		changed, err := s.write(item, b, key, &primitive{kind: kind, bits: bits})
		if err != nil && created {
			s.drop(item)
		}
		return changed, s.decorate(err, item, key)
	default:
		return false, s.decorate(typeMismatch(kind, manifest.Of(cur)), item, key)
	}
}

// setTyped serves the typed setters without boxing the value.
func (s *Storage[I]) setTyped(item I, key string, kind manifest.ValueType, bits uint64) (changed bool, err error) {
	defer func() { s.rec.Write(changed, err) }()

	k, err := s.resolve(key)
	if err != nil {
		return false, err
	}
	if k.ValueType != manifest.ValueTypeCustom && k.ValueType != kind {
		return false, s.decorate(typeMismatch(kind, k.ValueType), item, key)
	}
	return s.setPrimitive(item, key, kind, bits)
}

// typed looks up a primitive entry of the wanted type. When the item has no
// entry it returns the no-entry value instead.
func (s *Storage[I]) typed(item I, key string, want manifest.ValueType) (*primitive, any, error) {
	k, err := s.resolve(key)
	if err != nil {
		return nil, nil, err
	}
	if k.ValueType != manifest.ValueTypeCustom && k.ValueType != want {
		return nil, nil, s.decorate(typeMismatch(want, k.ValueType), item, key)
	}
	switch v := s.stored(item, key).(type) {
	case nil:
		return nil, s.fallback.Value(key), nil
	case *primitive:
		if v.kind != want {
			return nil, nil, s.decorate(typeMismatch(want, v.kind), item, key)
		}
		return v, nil, nil
	default:
		return nil, nil, s.decorate(typeMismatch(want, manifest.Of(v)), item, key)
	}
}

// Integer returns an integer annotation.
func (s *Storage[I]) Integer(item I, key string) (int, error) {
	p, def, err := s.typed(item, key, manifest.ValueTypeInteger)
	if err != nil || p == nil {
		n, _ := def.(int)
		return n, err
	}
	return p.asInt(), nil
}

// SetInteger stores an integer annotation.
func (s *Storage[I]) SetInteger(item I, key string, v int) (bool, error) {
	return s.setTyped(item, key, manifest.ValueTypeInteger, uint64(int64(v)))
}

// Long returns a long annotation.
func (s *Storage[I]) Long(item I, key string) (int64, error) {
	p, def, err := s.typed(item, key, manifest.ValueTypeLong)
	if err != nil || p == nil {
		n, _ := def.(int64)
		return n, err
	}
	return p.asLong(), nil
}

// SetLong stores a long annotation.
func (s *Storage[I]) SetLong(item I, key string, v int64) (bool, error) {
	return s.setTyped(item, key, manifest.ValueTypeLong, uint64(v))
}

// Float returns a float annotation.
func (s *Storage[I]) Float(item I, key string) (float32, error) {
	p, def, err := s.typed(item, key, manifest.ValueTypeFloat)
	if err != nil || p == nil {
		n, _ := def.(float32)
		return n, err
	}
	return p.asFloat(), nil
}

// SetFloat stores a float annotation.
func (s *Storage[I]) SetFloat(item I, key string, v float32) (bool, error) {
	_, bits, _ := primitiveBits(v)
	return s.setTyped(item, key, manifest.ValueTypeFloat, bits)
}

// Double returns a double annotation.
func (s *Storage[I]) Double(item I, key string) (float64, error) {
	p, def, err := s.typed(item, key, manifest.ValueTypeDouble)
	if err != nil || p == nil {
		n, _ := def.(float64)
		return n, err
	}
	return p.asDouble(), nil
}

// SetDouble stores a double annotation.
func (s *Storage[I]) SetDouble(item I, key string, v float64) (bool, error) {
	_, bits, _ := primitiveBits(v)
	return s.setTyped(item, key, manifest.ValueTypeDouble, bits)
}

// Boolean returns a boolean annotation.
func (s *Storage[I]) Boolean(item I, key string) (bool, error) {
	p, def, err := s.typed(item, key, manifest.ValueTypeBoolean)
	if err != nil || p == nil {
		b, _ := def.(bool)
		return b, err
	}
	return p.asBool(), nil
}

// SetBoolean stores a boolean annotation.
func (s *Storage[I]) SetBoolean(item I, key string, v bool) (bool, error) {
	_, bits, _ := primitiveBits(v)
	return s.setTyped(item, key, manifest.ValueTypeBoolean, bits)
}

// CollectKeys visits the keys populated for item and reports whether there
// was at least one.
func (s *Storage[I]) CollectKeys(item I, visit func(key string)) bool {
	b := s.bundles[item]
	if b == nil {
		return false
	}
	return b.CollectKeys(visit)
}

// Entries visits every populated key of item together with its value.
func (s *Storage[I]) Entries(item I, visit func(key string, value any)) {
	b := s.bundles[item]
	if b == nil {
		return
	}
	b.CollectKeys(func(key string) {
		v := b.Value(key)
		if p, ok := v.(*primitive); ok {
			v = p.value()
		}
		visit(key, v)
	})
}

// HasAnnotations reports whether item holds at least one value.
func (s *Storage[I]) HasAnnotations(item I) bool {
	b := s.bundles[item]
	return b != nil && b.Len() > 0
}

// AddItem allocates an empty bundle for item. It reports false when the item
// is already present.
func (s *Storage[I]) AddItem(item I) bool {
	if _, ok := s.bundles[item]; ok {
		return false
	}
	s.bundles[item] = s.alloc()
	s.rec.Bundles(len(s.bundles))
	return true
}

// RemoveItem drops item and all of its values.
func (s *Storage[I]) RemoveItem(item I) bool {
	if _, ok := s.bundles[item]; !ok {
		return false
	}
	delete(s.bundles, item)
	s.rec.Bundles(len(s.bundles))
	return true
}

// ItemCount returns the number of items holding a bundle.
func (s *Storage[I]) ItemCount() int {
	return len(s.bundles)
}

// Items visits the items holding a bundle until visit returns false.
func (s *Storage[I]) Items(visit func(item I) bool) {
	for item := range s.bundles {
		if !visit(item) {
			return
		}
	}
}

// Clear drops every item.
func (s *Storage[I]) Clear() {
	clear(s.bundles)
	s.rec.Bundles(0)
}

func (s *Storage[I]) bundleFor(item I) (Bundle, bool) {
	if b := s.bundles[item]; b != nil {
		return b, false
	}
	b := s.alloc()
	s.bundles[item] = b
	s.rec.Bundles(len(s.bundles))
	return b, true
}

func (s *Storage[I]) remove(item I, key string) bool {
	b := s.bundles[item]
	if b == nil {
		return false
	}
	// removal never fails
	changed, _ := s.write(item, b, key, nil)
	if s.reclaim && b.Len() == 0 {
		s.drop(item)
	}
	return changed
}

func (s *Storage[I]) drop(item I) {
	delete(s.bundles, item)
	s.rec.Bundles(len(s.bundles))
}

// write forwards to the bundle and reports representation changes of growing
// bundles.
func (s *Storage[I]) write(item I, b Bundle, key string, value any) (bool, error) {
	g, growing := b.(*GrowingBundle)
	if !growing {
		return b.SetValue(key, value)
	}
	before := g.Mode()
	changed, err := g.SetValue(key, value)
	if after := g.Mode(); after != before {
		if after == ModeMap {
			s.rec.Grew()
		} else {
			s.rec.Shrank()
		}
		s.logger.Debug("bundle representation changed",
			zap.Any("item", item),
			zap.Stringer("from", before),
			zap.Stringer("to", after),
			zap.Int("entries", g.Len()))
	}
	return changed, err
}

// decorate attaches layer and key details to errors raised below Storage.
func (s *Storage[I]) decorate(err error, item I, key string) error {
	if err == nil {
		return nil
	}
	var e *errors.Error
	if errors.As(err, &e) {
		e.WithDetail("layer", s.layer.ID).WithDetail("key", key).WithDetail("item", item)
		return e
	}
	return err
}
