package annotation

// DefaultGrowThreshold is the number of entries a GrowingBundle keeps in
// array mode before switching to a map.
const DefaultGrowThreshold = 16

// initialGrowingSlots is the array size a fresh GrowingBundle starts with.
const initialGrowingSlots = 4

// Mode is the current representation of a GrowingBundle.
type Mode uint8

const (
	ModeArray Mode = iota
	ModeMap
)

func (m Mode) String() string {
	if m == ModeMap {
		return "map"
	}
	return "array"
}

// GrowingBundle starts as a small flat array, doubles it while below the
// threshold and converts to a map once more entries are needed. Removals in
// map mode convert back to an array when the entry count drops to the
// threshold.
type GrowingBundle struct {
	threshold int
	entries   []entry
	values    map[string]any // non-nil in map mode
}

// NewGrowingBundle returns an empty bundle in array mode. A threshold below 1
// selects DefaultGrowThreshold.
func NewGrowingBundle(threshold int) *GrowingBundle {
	if threshold < 1 {
		threshold = DefaultGrowThreshold
	}
	return &GrowingBundle{threshold: threshold}
}

// Mode reports the current representation.
func (b *GrowingBundle) Mode() Mode {
	if b.values != nil {
		return ModeMap
	}
	return ModeArray
}

// Threshold returns the array-size ceiling.
func (b *GrowingBundle) Threshold() int {
	return b.threshold
}

// Value implements Bundle.
func (b *GrowingBundle) Value(key string) any {
	if b.values != nil {
		return b.values[key]
	}
	if i := indexOf(b.entries, key); i >= 0 {
		return b.entries[i].value
	}
	return nil
}

// SetValue implements Bundle.
func (b *GrowingBundle) SetValue(key string, value any) (bool, error) {
	if b.values != nil {
		return b.setMapped(key, value), nil
	}

	i := indexOf(b.entries, key)
	if value == nil {
		if i < 0 {
			return false, nil
		}
		b.entries[i] = entry{}
		return true, nil
	}
	if i >= 0 {
		if sameValue(b.entries[i].value, value) {
			return false, nil
		}
		b.entries[i].value = value
		return true, nil
	}

	if free := freeSlot(b.entries); free >= 0 {
		b.entries[free] = entry{key: key, value: value}
		return true, nil
	}

	if size := len(b.entries); size < b.threshold {
		b.entries = growArray(b.entries, b.threshold)
		b.entries[size] = entry{key: key, value: value}
		return true, nil
	}

	b.values = growToMap(b.entries)
	b.entries = nil
	b.values[key] = value
	return true, nil
}

func (b *GrowingBundle) setMapped(key string, value any) bool {
	old, ok := b.values[key]
	if value == nil {
		if !ok {
			return false
		}
		delete(b.values, key)
		b.maybeShrink()
		return true
	}
	if ok && sameValue(old, value) {
		return false
	}
	b.values[key] = value
	return true
}

// maybeShrink returns to array mode once the map holds no more entries than
// the threshold.
func (b *GrowingBundle) maybeShrink() {
	if len(b.values) <= b.threshold {
		b.entries = shrinkToArray(b.values, b.threshold)
		b.values = nil
	}
}

// CollectKeys implements Bundle.
func (b *GrowingBundle) CollectKeys(visit func(string)) bool {
	if b.values != nil {
		for k := range b.values {
			visit(k)
		}
		return len(b.values) > 0
	}
	return collectEntries(b.entries, visit)
}

// Len implements Bundle.
func (b *GrowingBundle) Len() int {
	if b.values != nil {
		return len(b.values)
	}
	return countEntries(b.entries)
}
