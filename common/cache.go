package common

import (
	"sync"
	"sync/atomic"
	"time"
)

type Entry interface {
	SetCacheTime(int64) //if arg < 0, just update alive time
	IsAlive() bool
	DeInit()
}

// Timer implements the clock half of Entry. Embed it and add DeInit.
type Timer struct {
	cacheTime int64
	overTime  atomic.Int64
}

func (t *Timer) SetCacheTime(sec int64) {
	if sec >= 0 {
		atomic.StoreInt64(&t.cacheTime, sec)
	} else {
		sec = atomic.LoadInt64(&t.cacheTime)
	}
	t.overTime.Store(time.Now().Unix() + sec)
}

func (t *Timer) IsAlive() bool {
	return time.Now().Unix() < t.overTime.Load()
}

// Container maps keys to expiring entries. DeInit always runs outside the lock, so an
// entry may remove itself from the container it lives in.
type Container[K comparable, V interface {
	comparable
	Entry
}] struct {
	mu sync.Mutex
	c  map[K]V
}

func NewContainer[K comparable, V interface {
	comparable
	Entry
}]() *Container[K, V] {
	return &Container[K, V]{c: make(map[K]V)}
}

func (container *Container[K, V]) UpdateCache(key K, v V) {
	container.mu.Lock()
	container.c[key] = v
	container.mu.Unlock()
}

func (container *Container[K, V]) AddCache(key K, v V, cacheTime int64) {
	container.DelCache(key)
	v.SetCacheTime(cacheTime)
	container.UpdateCache(key, v)
}

// GetCache returns a live entry. A dead one is removed on the way.
func (container *Container[K, V]) GetCache(key K) (v V, ok bool) {
	container.mu.Lock()
	v, bHave := container.c[key]
	if bHave && !v.IsAlive() {
		delete(container.c, key)
		container.mu.Unlock()
		v.DeInit()
		var zero V
		return zero, false
	}
	container.mu.Unlock()
	return v, bHave
}

func (container *Container[K, V]) DelCache(key K) bool {
	container.mu.Lock()
	v, bHave := container.c[key]
	if bHave {
		delete(container.c, key)
	}
	container.mu.Unlock()
	if bHave {
		v.DeInit()
	}
	return bHave
}

// DelIf removes key only while it still maps to v. DeInit is not called.
func (container *Container[K, V]) DelIf(key K, v V) bool {
	container.mu.Lock()
	defer container.mu.Unlock()
	if cur, bHave := container.c[key]; bHave && cur == v {
		delete(container.c, key)
		return true
	}
	return false
}

func (container *Container[K, V]) DelAllCache() {
	container.mu.Lock()
	old := container.c
	container.c = make(map[K]V)
	container.mu.Unlock()
	for _, v := range old {
		v.DeInit()
	}
}

// Sweep drops every dead entry and returns how many went.
func (container *Container[K, V]) Sweep() int {
	var dead []V
	container.mu.Lock()
	for key, v := range container.c {
		if !v.IsAlive() {
			dead = append(dead, v)
			delete(container.c, key)
		}
	}
	container.mu.Unlock()
	for _, v := range dead {
		v.DeInit()
	}
	return len(dead)
}

func (container *Container[K, V]) Len() int {
	container.mu.Lock()
	defer container.mu.Unlock()
	return len(container.c)
}

// Values returns a snapshot of the entries, dead ones included.
func (container *Container[K, V]) Values() []V {
	container.mu.Lock()
	defer container.mu.Unlock()
	arr := make([]V, 0, len(container.c))
	for _, v := range container.c {
		arr = append(arr, v)
	}
	return arr
}
