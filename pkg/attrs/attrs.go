package attrs

// Extract returns the value stored under key in a key-value attribute slice
// formatted as [key1, value1, key2, value2, ...] when it has type T.
func Extract[T any](attrs []any, key string) (T, bool) {
	var zero T
	for i := 0; i < len(attrs)-1; i += 2 {
		k, ok := attrs[i].(string)
		if !ok || k != key {
			continue
		}
		if v, ok := attrs[i+1].(T); ok {
			return v, true
		}
	}
	return zero, false
}

// ExtractString extracts a string value from a key-value attribute slice.
// Returns empty string if the key is not found or the value is not a string.
func ExtractString(attrs []any, key string) string {
	v, _ := Extract[string](attrs, key)
	return v
}
