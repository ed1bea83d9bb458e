package annotation

// growArray doubles the slot array, never beyond limit, keeping every entry at
// its position.
func growArray(entries []entry, limit int) []entry {
	size := len(entries) * 2
	if size == 0 {
		size = initialGrowingSlots
	}
	if size > limit {
		size = limit
	}
	grown := make([]entry, size)
	copy(grown, entries)
	return grown
}

// growToMap copies every populated slot into a fresh map.
func growToMap(entries []entry) map[string]any {
	m := make(map[string]any, len(entries)+1)
	for _, e := range entries {
		if e.value != nil {
			m[e.key] = e.value
		}
	}
	return m
}

// shrinkToArray packs the map into a slot array just large enough for its
// entries with room for one more, capped at limit.
func shrinkToArray(m map[string]any, limit int) []entry {
	size := initialGrowingSlots
	for size < len(m)+1 && size < limit {
		size *= 2
	}
	if size > limit {
		size = limit
	}
	if size < len(m) {
		size = len(m)
	}
	entries := make([]entry, size)
	i := 0
	for k, v := range m {
		entries[i] = entry{key: k, value: v}
		i++
	}
	return entries
}
