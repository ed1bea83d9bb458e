// Package manifest describes annotation layers: which keys a layer declares,
// what type of value each key carries and which value stands in when an item
// has no entry for the key.
package manifest

import (
	"fmt"
	"math"
	"strconv"

	"github.com/ICARUS-tooling/icarus2-modeling-framework-sub024/pkg/errors"
)

// ValueType is the declared type of an annotation key.
type ValueType string

const (
	ValueTypeString  ValueType = "string"
	ValueTypeInteger ValueType = "integer" // int
	ValueTypeLong    ValueType = "long"    // int64
	ValueTypeFloat   ValueType = "float"   // float32
	ValueTypeDouble  ValueType = "double"  // float64
	ValueTypeBoolean ValueType = "boolean"
	// ValueTypeCustom accepts any non-nil value.
	ValueTypeCustom ValueType = "custom"
)

// IsPrimitive reports whether values of this type are numeric or boolean.
func (t ValueType) IsPrimitive() bool {
	switch t {
	case ValueTypeInteger, ValueTypeLong, ValueTypeFloat, ValueTypeDouble, ValueTypeBoolean:
		return true
	}
	return false
}

// Valid reports whether t is one of the known value types.
func (t ValueType) Valid() bool {
	switch t {
	case ValueTypeString, ValueTypeInteger, ValueTypeLong, ValueTypeFloat,
		ValueTypeDouble, ValueTypeBoolean, ValueTypeCustom:
		return true
	}
	return false
}

// Of returns the value type matching the dynamic type of v. Unknown types map
// to ValueTypeCustom.
func Of(v any) ValueType {
	switch v.(type) {
	case string:
		return ValueTypeString
	case int:
		return ValueTypeInteger
	case int64:
		return ValueTypeLong
	case float32:
		return ValueTypeFloat
	case float64:
		return ValueTypeDouble
	case bool:
		return ValueTypeBoolean
	}
	return ValueTypeCustom
}

// Accepts reports whether v may be stored under a key of type t.
func (t ValueType) Accepts(v any) bool {
	if t == ValueTypeCustom || t == "" {
		return true
	}
	return Of(v) == t
}

// numberLiteral is a JSON number kept as text, as decoders configured with
// UseNumber produce it.
type numberLiteral interface {
	Int64() (int64, error)
	Float64() (float64, error)
	String() string
}

// maxExactFloat is the largest magnitude below which every integer has an
// exact float64 representation.
const maxExactFloat = 1 << 53

// Normalize converts v into the Go type t stores. Numbers decoded from YAML or
// JSON arrive as int, float64 or a number literal and are narrowed here when
// lossless.
func (t ValueType) Normalize(v any) (any, error) {
	if v == nil || t.Accepts(v) {
		return v, nil
	}
	mismatch := func() error {
		return errors.Newf(errors.ErrorTypeTypeMismatch, "cannot use %T as %s", v, t).
			WithDetail("expected", string(t)).
			WithDetail("actual", fmt.Sprintf("%T", v))
	}
	if n, ok := v.(numberLiteral); ok {
		return t.normalizeNumber(n, mismatch)
	}
	switch t {
	case ValueTypeInteger:
		switch n := v.(type) {
		case int64:
			if n < math.MinInt || n > math.MaxInt {
				return nil, mismatch()
			}
			return int(n), nil
		case float64:
			if n != math.Trunc(n) || math.Abs(n) > maxExactFloat {
				return nil, mismatch()
			}
			return int(n), nil
		}
	case ValueTypeLong:
		switch n := v.(type) {
		case int:
			return int64(n), nil
		case float64:
			if n != math.Trunc(n) || math.Abs(n) > maxExactFloat {
				return nil, mismatch()
			}
			return int64(n), nil
		}
	case ValueTypeFloat:
		switch n := v.(type) {
		case float64:
			return float32(n), nil
		case int:
			return float32(n), nil
		}
	case ValueTypeDouble:
		switch n := v.(type) {
		case float32:
			return float64(n), nil
		case int:
			return float64(n), nil
		case int64:
			return float64(n), nil
		}
	}
	return nil, mismatch()
}

func (t ValueType) normalizeNumber(n numberLiteral, mismatch func() error) (any, error) {
	switch t {
	case ValueTypeInteger:
		i, err := n.Int64()
		if err != nil || i < math.MinInt || i > math.MaxInt {
			return nil, mismatch()
		}
		return int(i), nil
	case ValueTypeLong:
		i, err := n.Int64()
		if err != nil {
			return nil, mismatch()
		}
		return i, nil
	case ValueTypeFloat:
		f, err := strconv.ParseFloat(n.String(), 32)
		if err != nil {
			return nil, mismatch()
		}
		return float32(f), nil
	case ValueTypeDouble:
		f, err := n.Float64()
		if err != nil {
			return nil, mismatch()
		}
		return f, nil
	}
	return nil, mismatch()
}

// KeyManifest declares one annotation key.
type KeyManifest struct {
	Key       string    `yaml:"key" json:"key" mapstructure:"key"`
	ValueType ValueType `yaml:"value_type" json:"value_type" mapstructure:"value_type"`
	// NoEntryValue is returned for items that carry no value for Key.
	NoEntryValue any `yaml:"no_entry_value,omitempty" json:"no_entry_value,omitempty" mapstructure:"no_entry_value"`
}

// LayerManifest declares the key set of an annotation layer.
type LayerManifest struct {
	ID   string        `yaml:"id" json:"id" mapstructure:"id"`
	Keys []KeyManifest `yaml:"keys" json:"keys" mapstructure:"keys"`
	// AllowUnknownKeys opens the key set: undeclared keys are accepted with
	// ValueTypeCustom semantics.
	AllowUnknownKeys bool `yaml:"allow_unknown_keys" json:"allow_unknown_keys" mapstructure:"allow_unknown_keys"`
	// BundleKind optionally pins the bundle representation ("compact",
	// "growing", "large", "single"). Empty lets the factory decide.
	BundleKind string `yaml:"bundle_kind,omitempty" json:"bundle_kind,omitempty" mapstructure:"bundle_kind"`
}

// Lookup returns the declaration for key.
func (m *LayerManifest) Lookup(key string) (KeyManifest, bool) {
	for _, k := range m.Keys {
		if k.Key == key {
			return k, true
		}
	}
	return KeyManifest{}, false
}

// KeyCount returns the number of declared keys.
func (m *LayerManifest) KeyCount() int {
	return len(m.Keys)
}

// Closed reports whether the key set is fully known up front.
func (m *LayerManifest) Closed() bool {
	return !m.AllowUnknownKeys
}

// Validate checks the manifest for duplicate or malformed keys and normalizes
// declared no-entry values to their key's Go type.
func (m *LayerManifest) Validate() error {
	if m.ID == "" {
		return errors.New(errors.ErrorTypeValidation, "layer id is required")
	}
	seen := make(map[string]struct{}, len(m.Keys))
	for i := range m.Keys {
		k := &m.Keys[i]
		if k.Key == "" {
			return errors.New(errors.ErrorTypeValidation, "annotation key must not be empty").
				WithDetail("layer", m.ID)
		}
		if _, dup := seen[k.Key]; dup {
			return errors.Newf(errors.ErrorTypeValidation, "duplicate annotation key %q", k.Key).
				WithDetail("layer", m.ID)
		}
		seen[k.Key] = struct{}{}
		if k.ValueType == "" {
			k.ValueType = ValueTypeCustom
		}
		if !k.ValueType.Valid() {
			return errors.Newf(errors.ErrorTypeValidation, "unknown value type %q", k.ValueType).
				WithDetail("layer", m.ID).
				WithDetail("key", k.Key)
		}
		v, err := k.ValueType.Normalize(k.NoEntryValue)
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeValidation, "invalid no-entry value").
				WithDetail("layer", m.ID).
				WithDetail("key", k.Key)
		}
		k.NoEntryValue = v
	}
	return nil
}
