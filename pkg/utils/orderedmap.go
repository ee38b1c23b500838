package utils

// OrderedMap is a string-keyed map that remembers insertion order.
// Lookups go through the map, emission iterates Keys in the order the
// keys were first inserted.
type OrderedMap[V any] struct {
	keys []string
	m    map[string]V
}

func NewOrderedMap[V any]() *OrderedMap[V] {
	return &OrderedMap[V]{m: make(map[string]V)}
}

func (o *OrderedMap[V]) Get(key string) (V, bool) {
	v, ok := o.m[key]
	return v, ok
}

func (o *OrderedMap[V]) Has(key string) bool {
	_, ok := o.m[key]
	return ok
}

// Put inserts or replaces. A replaced key keeps its original position.
func (o *OrderedMap[V]) Put(key string, value V) {
	if _, ok := o.m[key]; !ok {
		o.keys = append(o.keys, key)
	}
	o.m[key] = value
}

func (o *OrderedMap[V]) Keys() []string {
	return o.keys
}

func (o *OrderedMap[V]) Len() int {
	return len(o.keys)
}
