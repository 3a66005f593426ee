// Package common holds small concurrency helpers shared across the streamer.
package common

import "sync"

// SyncMap is a mutex guarded map. ForEach holds the lock for the whole
// iteration, so callers observe a consistent snapshot: an entry added or
// removed concurrently is either fully included or fully excluded.
type SyncMap[K comparable, V any] struct {
	mutex sync.Mutex
	data  map[K]V
}

func NewSyncMap[K comparable, V any]() *SyncMap[K, V] {
	return &SyncMap[K, V]{
		data: make(map[K]V),
	}
}

func (smap *SyncMap[K, V]) Set(key K, value V) {
	smap.mutex.Lock()
	defer smap.mutex.Unlock()
	smap.data[key] = value
}

func (smap *SyncMap[K, V]) Get(key K) (value V, ok bool) {
	smap.mutex.Lock()
	defer smap.mutex.Unlock()
	value, ok = smap.data[key]
	return
}

// Pop removes key and returns its value. The check and the removal happen
// under one lock, so concurrent Pops of the same key succeed at most once.
func (smap *SyncMap[K, V]) Pop(key K) (value V, ok bool) {
	smap.mutex.Lock()
	defer smap.mutex.Unlock()
	value, ok = smap.data[key]
	if ok {
		delete(smap.data, key)
	}
	return
}

func (smap *SyncMap[K, V]) ForEach(action func(K, V)) {
	smap.mutex.Lock()
	defer smap.mutex.Unlock()
	for k, v := range smap.data {
		action(k, v)
	}
}

func (smap *SyncMap[K, V]) Len() int {
	smap.mutex.Lock()
	defer smap.mutex.Unlock()
	return len(smap.data)
}
