package annotation

import (
	"reflect"
)

// Bundle holds the annotation values of a single item. A nil value is never
// stored: setting nil removes the key.
type Bundle interface {
	// Value returns the value stored for key or nil.
	Value(key string) any
	// SetValue stores value under key and reports whether the stored content
	// changed.
	SetValue(key string, value any) (bool, error)
	// CollectKeys calls visit for every populated key in unspecified order and
	// reports whether there was at least one.
	CollectKeys(visit func(key string)) bool
	// Len returns the number of populated keys.
	Len() int
}

// entry is one key/value slot of an array-backed bundle. A slot is free when
// value is nil.
type entry struct {
	key   string
	value any
}

// sameValue compares stored values without panicking on uncomparable types.
// Uncomparable values are only equal when they are the identical reference.
func sameValue(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb {
		return false
	}
	if ta.Comparable() {
		return a == b
	}
	switch ta.Kind() {
	case reflect.Map, reflect.Slice:
		va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
		return va.Pointer() == vb.Pointer() && va.Len() == vb.Len()
	}
	return false
}

// indexOf returns the slot holding key or -1.
func indexOf(entries []entry, key string) int {
	for i := range entries {
		if entries[i].value != nil && entries[i].key == key {
			return i
		}
	}
	return -1
}

// freeSlot returns the first unused slot or -1.
func freeSlot(entries []entry) int {
	for i := range entries {
		if entries[i].value == nil {
			return i
		}
	}
	return -1
}

// countEntries returns the number of populated slots.
func countEntries(entries []entry) int {
	n := 0
	for i := range entries {
		if entries[i].value != nil {
			n++
		}
	}
	return n
}

// collectEntries visits every populated slot.
func collectEntries(entries []entry, visit func(string)) bool {
	found := false
	for i := range entries {
		if entries[i].value != nil {
			visit(entries[i].key)
			found = true
		}
	}
	return found
}
