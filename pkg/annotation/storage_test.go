package annotation

import (
	"fmt"
	"sort"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ICARUS-tooling/icarus2-modeling-framework-sub024/pkg/errors"
	"github.com/ICARUS-tooling/icarus2-modeling-framework-sub024/pkg/manifest"
	"github.com/ICARUS-tooling/icarus2-modeling-framework-sub024/pkg/metrics"
)

type token struct {
	sentence int
	index    int
}

func tokenLayer() *manifest.LayerManifest {
	return &manifest.LayerManifest{
		ID: "token",
		Keys: []manifest.KeyManifest{
			{Key: "pos", ValueType: manifest.ValueTypeString, NoEntryValue: "_"},
			{Key: "lemma", ValueType: manifest.ValueTypeString},
			{Key: "freq", ValueType: manifest.ValueTypeLong, NoEntryValue: 0},
			{Key: "count", ValueType: manifest.ValueTypeInteger, NoEntryValue: -1},
			{Key: "score", ValueType: manifest.ValueTypeDouble},
			{Key: "weight", ValueType: manifest.ValueTypeFloat, NoEntryValue: 1.5},
			{Key: "gold", ValueType: manifest.ValueTypeBoolean, NoEntryValue: false},
		},
	}
}

func newTokenStorage(t *testing.T, opts ...Option) *Storage[token] {
	t.Helper()
	opts = append([]Option{WithLogger(zaptest.NewLogger(t))}, opts...)
	s, err := NewStorage[token](tokenLayer(), opts...)
	require.NoError(t, err)
	return s
}

func TestStorageRoundTripAndNoEntry(t *testing.T) {
	s := newTokenStorage(t)
	assert.Equal(t, KindGrowing, s.Kind(), "seven closed keys exceed the compact capacity")

	item := token{0, 1}
	v, err := s.Value(item, "pos")
	require.NoError(t, err)
	assert.Equal(t, "_", v)

	v, err = s.Value(item, "lemma")
	require.NoError(t, err)
	assert.Nil(t, v)

	changed, err := s.SetValue(item, "pos", "NN")
	require.NoError(t, err)
	assert.True(t, changed)
	v, err = s.Value(item, "pos")
	require.NoError(t, err)
	assert.Equal(t, "NN", v)

	changed, err = s.SetValue(item, "pos", "NN")
	require.NoError(t, err)
	assert.False(t, changed)

	changed, err = s.SetValue(item, "pos", nil)
	require.NoError(t, err)
	assert.True(t, changed)
	v, err = s.Value(item, "pos")
	require.NoError(t, err)
	assert.Equal(t, "_", v)

	// no-entry values of typed keys are normalized to the key type
	freq, err := s.Long(item, "freq")
	require.NoError(t, err)
	assert.Equal(t, int64(0), freq)
	count, err := s.Integer(item, "count")
	require.NoError(t, err)
	assert.Equal(t, -1, count)
	weight, err := s.Float(item, "weight")
	require.NoError(t, err)
	assert.Equal(t, float32(1.5), weight)
}

func TestStorageUnknownKey(t *testing.T) {
	s := newTokenStorage(t)

	_, err := s.SetValue(token{}, "sentiment", "positive")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeInvalidKey))
	var e *errors.Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, "token", e.Details["layer"])
	assert.Equal(t, "sentiment", e.Details["key"])

	_, err = s.Value(token{}, "sentiment")
	assert.True(t, errors.IsType(err, errors.ErrorTypeInvalidKey))
	_, err = s.Integer(token{}, "sentiment")
	assert.True(t, errors.IsType(err, errors.ErrorTypeInvalidKey))
	assert.False(t, s.HasAnnotations(token{}), "failed write leaves no bundle behind")
}

func TestStorageOpenLayerAcceptsUnknownKeys(t *testing.T) {
	m := &manifest.LayerManifest{ID: "adhoc", AllowUnknownKeys: true}
	s, err := NewStorage[int](m)
	require.NoError(t, err)
	assert.Equal(t, KindGrowing, s.Kind())

	for i := 0; i < 40; i++ {
		_, err := s.SetValue(7, fmt.Sprintf("k%d", i), i)
		require.NoError(t, err)
	}
	for i := 0; i < 40; i++ {
		v, err := s.Value(7, fmt.Sprintf("k%d", i))
		require.NoError(t, err)
		assert.Equal(t, i, v)
	}
	n := 0
	assert.True(t, s.CollectKeys(7, func(string) { n++ }))
	assert.Equal(t, 40, n)
}

func TestStorageTypedAccessors(t *testing.T) {
	s := newTokenStorage(t)
	item := token{1, 1}

	changed, err := s.SetLong(item, "freq", 10)
	require.NoError(t, err)
	assert.True(t, changed)
	changed, err = s.SetLong(item, "freq", 10)
	require.NoError(t, err)
	assert.False(t, changed)

	for i := int64(11); i <= 20; i++ {
		_, err = s.SetLong(item, "freq", i)
		require.NoError(t, err)
	}
	freq, err := s.Long(item, "freq")
	require.NoError(t, err)
	assert.Equal(t, int64(20), freq)

	v, err := s.Value(item, "freq")
	require.NoError(t, err)
	assert.Equal(t, int64(20), v)

	_, err = s.SetInteger(item, "count", 3)
	require.NoError(t, err)
	count, err := s.Integer(item, "count")
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	_, err = s.SetDouble(item, "score", 0.25)
	require.NoError(t, err)
	score, err := s.Double(item, "score")
	require.NoError(t, err)
	assert.Equal(t, 0.25, score)

	_, err = s.SetFloat(item, "weight", 2.5)
	require.NoError(t, err)
	weight, err := s.Float(item, "weight")
	require.NoError(t, err)
	assert.Equal(t, float32(2.5), weight)

	_, err = s.SetBoolean(item, "gold", true)
	require.NoError(t, err)
	gold, err := s.Boolean(item, "gold")
	require.NoError(t, err)
	assert.True(t, gold)

	// generic writes of primitive values share the typed holder
	changed, err = s.SetValue(item, "freq", int64(20))
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestStorageTypeMismatch(t *testing.T) {
	s := newTokenStorage(t)
	item := token{2, 2}

	_, err := s.SetValue(item, "freq", "many")
	assert.True(t, errors.IsType(err, errors.ErrorTypeTypeMismatch))

	_, err = s.SetBoolean(item, "count", true)
	assert.True(t, errors.IsType(err, errors.ErrorTypeTypeMismatch))

	_, err = s.Boolean(item, "count")
	assert.True(t, errors.IsType(err, errors.ErrorTypeTypeMismatch))

	// int is not silently widened to long
	_, err = s.SetValue(item, "freq", 5)
	assert.True(t, errors.IsType(err, errors.ErrorTypeTypeMismatch))
}

func TestStoragePrimitiveHolderTypeIsFixed(t *testing.T) {
	m := &manifest.LayerManifest{ID: "adhoc", AllowUnknownKeys: true}
	s, err := NewStorage[string](m)
	require.NoError(t, err)

	_, err = s.SetInteger("item", "counter", 1)
	require.NoError(t, err)

	_, err = s.SetBoolean("item", "counter", true)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeTypeMismatch))

	_, err = s.SetValue("item", "counter", "text")
	assert.True(t, errors.IsType(err, errors.ErrorTypeTypeMismatch))

	_, err = s.Long("item", "counter")
	assert.True(t, errors.IsType(err, errors.ErrorTypeTypeMismatch))

	v, err := s.Integer("item", "counter")
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	// clearing the entry releases the holder
	_, err = s.SetValue("item", "counter", nil)
	require.NoError(t, err)
	_, err = s.SetBoolean("item", "counter", true)
	require.NoError(t, err)

	_, err = s.SetValue("item", "label", "x")
	require.NoError(t, err)
	_, err = s.SetInteger("item", "label", 1)
	assert.True(t, errors.IsType(err, errors.ErrorTypeTypeMismatch))
}

func TestStorageCompactCapacityIsKeySet(t *testing.T) {
	m := &manifest.LayerManifest{
		ID: "small",
		Keys: []manifest.KeyManifest{
			{Key: "a", ValueType: manifest.ValueTypeString},
			{Key: "b", ValueType: manifest.ValueTypeInteger},
			{Key: "c", ValueType: manifest.ValueTypeBoolean},
		},
	}
	s, err := NewStorage[int](m)
	require.NoError(t, err)
	assert.Equal(t, KindCompact, s.Kind())

	_, err = s.SetValue(1, "a", "x")
	require.NoError(t, err)
	_, err = s.SetInteger(1, "b", 2)
	require.NoError(t, err)
	_, err = s.SetBoolean(1, "c", true)
	require.NoError(t, err)

	var entries []string
	s.Entries(1, func(k string, v any) { entries = append(entries, fmt.Sprintf("%s=%v", k, v)) })
	sort.Strings(entries)
	assert.Equal(t, []string{"a=x", "b=2", "c=true"}, entries)
}

func TestStorageCompactOverflowOnOpenLayer(t *testing.T) {
	m := &manifest.LayerManifest{ID: "pinned", AllowUnknownKeys: true, BundleKind: string(KindCompact)}
	s, err := NewStorage[int](m, WithFactory(NewFactory(Policy{CompactCapacity: 2})))
	require.NoError(t, err)

	_, err = s.SetValue(1, "a", "x")
	require.NoError(t, err)
	_, err = s.SetValue(1, "b", "y")
	require.NoError(t, err)
	_, err = s.SetValue(1, "c", "z")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeCapacity))

	v, err := s.Value(1, "a")
	require.NoError(t, err)
	assert.Equal(t, "x", v)
}

func TestStorageSingleKeyLayer(t *testing.T) {
	m := &manifest.LayerManifest{
		ID:   "lemma",
		Keys: []manifest.KeyManifest{{Key: "lemma", ValueType: manifest.ValueTypeString}},
	}
	s, err := NewStorage[int](m)
	require.NoError(t, err)
	assert.Equal(t, KindSingle, s.Kind())

	_, err = s.SetValue(3, "lemma", "go")
	require.NoError(t, err)
	v, err := s.Value(3, "lemma")
	require.NoError(t, err)
	assert.Equal(t, "go", v)
}

func TestStorageItemManagement(t *testing.T) {
	s := newTokenStorage(t, WithReclaimEmpty(true))

	assert.True(t, s.AddItem(token{0, 0}))
	assert.False(t, s.AddItem(token{0, 0}))
	assert.False(t, s.HasAnnotations(token{0, 0}))

	_, err := s.SetValue(token{0, 1}, "pos", "DT")
	require.NoError(t, err)
	assert.Equal(t, 2, s.ItemCount())
	assert.True(t, s.HasAnnotations(token{0, 1}))

	// reclaim drops the bundle with its last value
	_, err = s.SetValue(token{0, 1}, "pos", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, s.ItemCount())

	seen := 0
	s.Items(func(token) bool { seen++; return true })
	assert.Equal(t, 1, seen)

	assert.True(t, s.RemoveItem(token{0, 0}))
	assert.False(t, s.RemoveItem(token{0, 0}))
	assert.Equal(t, 0, s.ItemCount())

	_, err = s.SetValue(token{5, 5}, "lemma", "be")
	require.NoError(t, err)
	s.Clear()
	assert.Equal(t, 0, s.ItemCount())
	v, err := s.Value(token{5, 5}, "pos")
	require.NoError(t, err)
	assert.Equal(t, "_", v)
}

func TestStorageRejectsInvalidManifest(t *testing.T) {
	_, err := NewStorage[int](&manifest.LayerManifest{})
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))

	m := tokenLayer()
	m.Keys[2].NoEntryValue = "none"
	_, err = NewStorage[int](m)
	assert.Error(t, err)
}

func TestStorageDoesNotMutateCallerManifest(t *testing.T) {
	m := tokenLayer()
	_, err := NewStorage[int](m)
	require.NoError(t, err)
	assert.Equal(t, 0, m.Keys[2].NoEntryValue, "caller's manifest keeps its raw no-entry value")
}

func TestStorageRepresentationChangesKeepContent(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := &manifest.LayerManifest{ID: "adhoc", AllowUnknownKeys: true}
	s, err := NewStorage[int](m,
		WithFactory(NewFactory(Policy{GrowThreshold: 4})),
		WithMetrics(metrics.NewStorageMetrics(reg, "test")),
		WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		_, err := s.SetInteger(1, fmt.Sprintf("k%d", i), i)
		require.NoError(t, err)
	}
	for i := 9; i >= 2; i-- {
		_, err := s.SetValue(1, fmt.Sprintf("k%d", i), nil)
		require.NoError(t, err)
	}
	for i := 0; i < 2; i++ {
		v, err := s.Integer(1, fmt.Sprintf("k%d", i))
		require.NoError(t, err)
		assert.Equal(t, i, v)
	}

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "test_annotation_storage_bundle_conversions_total")
}

// fullBundle accepts no entries at all.
type fullBundle struct{}

func (fullBundle) Value(string) any { return nil }
func (fullBundle) SetValue(key string, _ any) (bool, error) {
	return false, errors.New(errors.ErrorTypeCapacity, "bundle is full").WithDetail("key", key)
}
func (fullBundle) CollectKeys(func(string)) bool { return false }
func (fullBundle) Len() int                      { return 0 }

func TestStorageFailedFirstWriteDropsBundle(t *testing.T) {
	f := NewFactory(DefaultPolicy())
	f.Register("full", func(*manifest.LayerManifest, Policy) (func() Bundle, error) {
		return func() Bundle { return fullBundle{} }, nil
	})
	reg := prometheus.NewRegistry()
	m := &manifest.LayerManifest{ID: "full", AllowUnknownKeys: true, BundleKind: "full"}
	s, err := NewStorage[int](m, WithFactory(f), WithMetrics(metrics.NewStorageMetrics(reg, "test")))
	require.NoError(t, err)

	_, err = s.SetValue(1, "lemma", "run")
	assert.True(t, errors.IsType(err, errors.ErrorTypeCapacity))
	_, err = s.SetInteger(2, "count", 3)
	assert.True(t, errors.IsType(err, errors.ErrorTypeCapacity))

	assert.Equal(t, 0, s.ItemCount())
	assert.False(t, s.HasAnnotations(1))

	expected := `
# HELP test_annotation_storage_bundles Items currently holding a bundle
# TYPE test_annotation_storage_bundles gauge
test_annotation_storage_bundles{layer="full"} 0
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "test_annotation_storage_bundles"))
}
