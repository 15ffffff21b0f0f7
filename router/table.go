package router

import "sync"

// Table is a map guarded by a mutex. The underlying map is never exposed;
// callers obtain an Access with Lock, which holds the mutex until Unlock.
type Table[K comparable, V any] struct {
	mu sync.Mutex
	m  map[K]V
}

// NewTable creates an empty table.
func NewTable[K comparable, V any]() *Table[K, V] {
	return &Table[K, V]{m: make(map[K]V)}
}

// Access is an exclusive handle on a Table. It is valid until Unlock.
type Access[K comparable, V any] struct {
	t *Table[K, V]
}

// Lock acquires the table and returns the handle used to read or mutate it.
func (t *Table[K, V]) Lock() *Access[K, V] {
	t.mu.Lock()
	return &Access[K, V]{t: t}
}

// Do runs fn with the table locked.
func (t *Table[K, V]) Do(fn func(a *Access[K, V])) {
	a := t.Lock()
	defer a.Unlock()
	fn(a)
}

// Unlock releases the table. The handle must not be used afterwards.
func (a *Access[K, V]) Unlock() {
	t := a.table()
	a.t = nil
	t.mu.Unlock()
}

func (a *Access[K, V]) table() *Table[K, V] {
	if a.t == nil {
		panic("router: table access after unlock")
	}
	return a.t
}

// Get returns the value stored under k.
func (a *Access[K, V]) Get(k K) (V, bool) {
	v, ok := a.table().m[k]
	return v, ok
}

// Set stores v under k.
func (a *Access[K, V]) Set(k K, v V) {
	a.table().m[k] = v
}

// Delete removes k and returns the value that was stored, if any.
func (a *Access[K, V]) Delete(k K) (V, bool) {
	m := a.table().m
	v, ok := m[k]
	delete(m, k)
	return v, ok
}

// Len returns the number of entries.
func (a *Access[K, V]) Len() int {
	return len(a.table().m)
}

// Range calls fn for each entry until fn returns false. fn must not retain
// the handle.
func (a *Access[K, V]) Range(fn func(k K, v V) bool) {
	for k, v := range a.table().m {
		if !fn(k, v) {
			return
		}
	}
}

// Clear removes every entry and returns what was removed.
func (a *Access[K, V]) Clear() map[K]V {
	t := a.table()
	old := t.m
	t.m = make(map[K]V)
	return old
}
