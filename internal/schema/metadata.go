package schema

// MetaData is an ordered string to string mapping. The zero value is ready
// for use. It is not safe for concurrent use; owners guard it.
type MetaData struct {
	keys   []string
	values map[string]string
}

// NewMetaData returns a [MetaData] holding the given key/value pairs in
// order. An odd trailing key is stored with an empty value.
func NewMetaData(pairs ...string) MetaData {
	var m MetaData

	for i := 0; i < len(pairs); i += 2 {
		v := ""
		if i+1 < len(pairs) {
			v = pairs[i+1]
		}
		m.Set(pairs[i], v)
	}

	return m
}

// Set inserts or overwrites a key, keeping the original position of an
// existing key.
func (m *MetaData) Set(key, value string) {
	if m.values == nil {
		m.values = make(map[string]string)
	}

	if _, ok := m.values[key]; !ok {
		m.keys = append(m.keys, key)
	}

	m.values[key] = value
}

// Get returns the value for a key.
func (m MetaData) Get(key string) (string, bool) {
	v, ok := m.values[key]

	return v, ok
}

// Value returns the value for a key or an empty string.
func (m MetaData) Value(key string) string {
	return m.values[key]
}

// Has returns if the key is present.
func (m MetaData) Has(key string) bool {
	_, ok := m.values[key]

	return ok
}

// Delete removes a key.
func (m *MetaData) Delete(key string) {
	if _, ok := m.values[key]; !ok {
		return
	}

	delete(m.values, key)

	for i, k := range m.keys {
		if k == key {
			m.keys = append(m.keys[:i], m.keys[i+1:]...)

			break
		}
	}
}

// Keys returns a copy of the keys in insertion order.
func (m MetaData) Keys() []string {
	result := make([]string, len(m.keys))
	copy(result, m.keys)

	return result
}

// Len returns the number of keys.
func (m MetaData) Len() int {
	return len(m.keys)
}

// Clone returns a deep copy.
func (m MetaData) Clone() MetaData {
	var c MetaData

	for _, k := range m.keys {
		c.Set(k, m.values[k])
	}

	return c
}

// Merge inserts the keys of other that are not yet present.
func (m *MetaData) Merge(other MetaData) {
	for _, k := range other.keys {
		if !m.Has(k) {
			m.Set(k, other.values[k])
		}
	}
}

// Add inserts all keys of other, overwriting existing values.
func (m *MetaData) Add(other MetaData) {
	for _, k := range other.keys {
		m.Set(k, other.values[k])
	}
}

// Pairs flattens the mapping into alternating keys and values, which is the
// representation used on the wire.
func (m MetaData) Pairs() []string {
	result := make([]string, 0, len(m.keys)*2)

	for _, k := range m.keys {
		result = append(result, k, m.values[k])
	}

	return result
}
