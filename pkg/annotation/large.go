package annotation

// LargeBundle is a map-backed bundle for open or large key sets.
type LargeBundle struct {
	values map[string]any
}

// NewLargeBundle returns an empty map-backed bundle.
func NewLargeBundle() *LargeBundle {
	return &LargeBundle{values: make(map[string]any)}
}

// Value implements Bundle.
func (b *LargeBundle) Value(key string) any {
	return b.values[key]
}

// SetValue implements Bundle.
func (b *LargeBundle) SetValue(key string, value any) (bool, error) {
	old, ok := b.values[key]
	if value == nil {
		if !ok {
			return false, nil
		}
		delete(b.values, key)
		return true, nil
	}
	if ok && sameValue(old, value) {
		return false, nil
	}
	b.values[key] = value
	return true, nil
}

// CollectKeys implements Bundle.
func (b *LargeBundle) CollectKeys(visit func(string)) bool {
	for k := range b.values {
		visit(k)
	}
	return len(b.values) > 0
}

// Len implements Bundle.
func (b *LargeBundle) Len() int {
	return len(b.values)
}
