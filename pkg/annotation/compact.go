package annotation

import (
	"github.com/ICARUS-tooling/icarus2-modeling-framework-sub024/pkg/errors"
)

// DefaultCompactCapacity is the largest closed key set the factory serves
// with a CompactBundle.
const DefaultCompactCapacity = 6

// CompactBundle stores up to a fixed number of entries in a flat slot array.
// It never grows: adding a key when every slot is taken fails with a capacity
// error and leaves existing entries untouched.
type CompactBundle struct {
	slots []entry
}

// NewCompactBundle returns a bundle with room for capacity keys.
func NewCompactBundle(capacity int) *CompactBundle {
	if capacity < 1 {
		capacity = 1
	}
	return &CompactBundle{slots: make([]entry, capacity)}
}

// Capacity returns the number of slots.
func (b *CompactBundle) Capacity() int {
	return len(b.slots)
}

// Value implements Bundle.
func (b *CompactBundle) Value(key string) any {
	if i := indexOf(b.slots, key); i >= 0 {
		return b.slots[i].value
	}
	return nil
}

// SetValue implements Bundle.
func (b *CompactBundle) SetValue(key string, value any) (bool, error) {
	i := indexOf(b.slots, key)
	if value == nil {
		if i < 0 {
			return false, nil
		}
		b.slots[i] = entry{}
		return true, nil
	}
	if i >= 0 {
		if sameValue(b.slots[i].value, value) {
			return false, nil
		}
		b.slots[i].value = value
		return true, nil
	}
	free := freeSlot(b.slots)
	if free < 0 {
		return false, errors.Newf(errors.ErrorTypeCapacity, "compact bundle full, cannot add key %q", key).
			WithDetail("key", key).
			WithDetail("capacity", len(b.slots))
	}
	b.slots[free] = entry{key: key, value: value}
	return true, nil
}

// CollectKeys implements Bundle.
func (b *CompactBundle) CollectKeys(visit func(string)) bool {
	return collectEntries(b.slots, visit)
}

// Len implements Bundle.
func (b *CompactBundle) Len() int {
	return countEntries(b.slots)
}
