package switchboard

import "golang.org/x/exp/slices"

// BidirectionalMultimap indexes a many-to-many relation in both
// directions so that both "who does k map to" and "who maps to v" are
// O(1) lookups. Both directions are kept consistent by every mutating
// method; duplicates of the same (k, v) pair are permitted but
// discouraged, and iteration order is never observable by callers.
type BidirectionalMultimap[K comparable, V comparable] struct {
	forward map[K][]V
	inverse map[V][]K
}

// NewBidirectionalMultimap returns an empty multimap.
func NewBidirectionalMultimap[K comparable, V comparable]() *BidirectionalMultimap[K, V] {
	return &BidirectionalMultimap[K, V]{
		forward: make(map[K][]V),
		inverse: make(map[V][]K),
	}
}

// Associate records that k maps to v, in both directions.
func (m *BidirectionalMultimap[K, V]) Associate(k K, v V) {
	m.forward[k] = append(m.forward[k], v)
	m.inverse[v] = append(m.inverse[v], k)
}

// Disassociate removes a single (k, v) pairing from both directions, if
// present.
func (m *BidirectionalMultimap[K, V]) Disassociate(k K, v V) {
	if vs, ok := m.forward[k]; ok {
		m.forward[k] = removeAll(vs, v)
		if len(m.forward[k]) == 0 {
			delete(m.forward, k)
		}
	}

	if ks, ok := m.inverse[v]; ok {
		m.inverse[v] = removeAll(ks, k)
		if len(m.inverse[v]) == 0 {
			delete(m.inverse, v)
		}
	}
}

// RemoveKey drops every pairing with k as the key, cleaning up the
// corresponding reverse entries so no dangling entry is left behind.
func (m *BidirectionalMultimap[K, V]) RemoveKey(k K) {
	vs, ok := m.forward[k]
	if !ok {
		return
	}

	delete(m.forward, k)

	for _, v := range vs {
		m.inverse[v] = removeAll(m.inverse[v], k)
		if len(m.inverse[v]) == 0 {
			delete(m.inverse, v)
		}
	}
}

// RemoveValue drops every pairing with v as the value, cleaning up the
// corresponding forward entries so no dangling entry is left behind.
func (m *BidirectionalMultimap[K, V]) RemoveValue(v V) {
	ks, ok := m.inverse[v]
	if !ok {
		return
	}

	delete(m.inverse, v)

	for _, k := range ks {
		m.forward[k] = removeAll(m.forward[k], v)
		if len(m.forward[k]) == 0 {
			delete(m.forward, k)
		}
	}
}

// GetValues returns every value associated with k. The returned slice
// must not be mutated by the caller.
func (m *BidirectionalMultimap[K, V]) GetValues(k K) []V {
	return m.forward[k]
}

// GetKeys returns every key associated with v. The returned slice must
// not be mutated by the caller.
func (m *BidirectionalMultimap[K, V]) GetKeys(v V) []K {
	return m.inverse[v]
}

func removeAll[T comparable](s []T, target T) []T {
	out := s[:0]

	for _, x := range s {
		if x != target {
			out = append(out, x)
		}
	}

	return out
}

func contains[T comparable](s []T, target T) bool {
	return slices.Contains(s, target)
}
