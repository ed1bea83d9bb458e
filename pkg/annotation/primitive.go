package annotation

import (
	"fmt"
	"math"

	"github.com/ICARUS-tooling/icarus2-modeling-framework-sub024/pkg/errors"
	"github.com/ICARUS-tooling/icarus2-modeling-framework-sub024/pkg/manifest"
)

// primitive is a mutable holder for a numeric or boolean value. Storage keeps
// one per item and key so that repeated updates rewrite the bits in place
// instead of boxing a fresh interface value each time. Its type is fixed when
// it is created.
type primitive struct {
	kind manifest.ValueType
	bits uint64
}

// primitiveBits encodes v. ok is false for non-primitive values.
func primitiveBits(v any) (kind manifest.ValueType, bits uint64, ok bool) {
	switch n := v.(type) {
	case int:
		return manifest.ValueTypeInteger, uint64(int64(n)), true
	case int64:
		return manifest.ValueTypeLong, uint64(n), true
	case float32:
		return manifest.ValueTypeFloat, uint64(math.Float32bits(n)), true
	case float64:
		return manifest.ValueTypeDouble, math.Float64bits(n), true
	case bool:
		if n {
			return manifest.ValueTypeBoolean, 1, true
		}
		return manifest.ValueTypeBoolean, 0, true
	}
	return "", 0, false
}

// value decodes the stored bits into a fresh interface value.
func (p *primitive) value() any {
	switch p.kind {
	case manifest.ValueTypeInteger:
		return p.asInt()
	case manifest.ValueTypeLong:
		return p.asLong()
	case manifest.ValueTypeFloat:
		return p.asFloat()
	case manifest.ValueTypeDouble:
		return p.asDouble()
	case manifest.ValueTypeBoolean:
		return p.asBool()
	}
	return nil
}

func (p *primitive) asInt() int { return int(int64(p.bits)) }

func (p *primitive) asLong() int64 { return int64(p.bits) }

func (p *primitive) asFloat() float32 { return math.Float32frombits(uint32(p.bits)) }

func (p *primitive) asDouble() float64 { return math.Float64frombits(p.bits) }

func (p *primitive) asBool() bool { return p.bits != 0 }

func (p *primitive) String() string { return fmt.Sprint(p.value()) }

// assign overwrites the bits when kind matches the holder's type.
func (p *primitive) assign(kind manifest.ValueType, bits uint64) (bool, error) {
	if p.kind != kind {
		return false, typeMismatch(kind, p.kind)
	}
	if p.bits == bits {
		return false, nil
	}
	p.bits = bits
	return true, nil
}

func typeMismatch(actual, expected manifest.ValueType) *errors.Error {
	return errors.Newf(errors.ErrorTypeTypeMismatch, "cannot store %s value where %s is expected", actual, expected).
		WithDetail("expected", string(expected)).
		WithDetail("actual", string(actual))
}
