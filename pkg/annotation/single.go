package annotation

import (
	"github.com/ICARUS-tooling/icarus2-modeling-framework-sub024/pkg/errors"
)

// SingleBundle holds the value of exactly one key. It serves layers whose
// manifest declares a single key, avoiding any slot array.
type SingleBundle struct {
	key   string
	value any
}

// NewSingleBundle returns a bundle bound to key.
func NewSingleBundle(key string) *SingleBundle {
	return &SingleBundle{key: key}
}

// Value implements Bundle.
func (b *SingleBundle) Value(key string) any {
	if key != b.key {
		return nil
	}
	return b.value
}

// SetValue implements Bundle.
func (b *SingleBundle) SetValue(key string, value any) (bool, error) {
	if key != b.key {
		if value == nil {
			return false, nil
		}
		return false, errors.Newf(errors.ErrorTypeCapacity, "single-key bundle only holds %q", b.key).
			WithDetail("key", key).
			WithDetail("capacity", 1)
	}
	if sameValue(b.value, value) {
		return false, nil
	}
	b.value = value
	return true, nil
}

// CollectKeys implements Bundle.
func (b *SingleBundle) CollectKeys(visit func(string)) bool {
	if b.value == nil {
		return false
	}
	visit(b.key)
	return true
}

// Len implements Bundle.
func (b *SingleBundle) Len() int {
	if b.value == nil {
		return 0
	}
	return 1
}
