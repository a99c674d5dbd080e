package common

import (
	"testing"
	"time"
)

type m struct {
	Timer
	T      int
	deinit int
}

func (v *m) DeInit() { v.deinit++ }

func TestCache(t *testing.T) {
	cache := NewContainer[string, *m]()
	cache2 := NewContainer[string, *m]()
	cache.AddCache("mm", &m{T: 1}, 30)
	cache.AddCache("nn", &m{T: 3}, 30)
	cache2.AddCache("aa", &m{T: 1}, 30)
	a, _ := cache.GetCache("mm")
	b, _ := cache.GetCache("mm")
	b.T = 12
	if a.T != 12 {
		t.Error("cache value copied!!")
	}
	if _, ok := cache2.GetCache("novalue"); ok {
		t.Error("cache should be empty!!")
	}
	if cache.Len() != 2 || cache2.Len() != 1 {
		t.Errorf("len %d %d", cache.Len(), cache2.Len())
	}
	cache.DelAllCache()
	if a.deinit != 1 || cache.Len() != 0 {
		t.Errorf("DelAllCache: deinit %d len %d", a.deinit, cache.Len())
	}
}

func TestCacheExpiry(t *testing.T) {
	cache := NewContainer[int, *m]()
	dead := &m{}
	live := &m{}
	cache.AddCache(1, dead, 0) // over at once
	cache.AddCache(2, live, 60)
	if _, ok := cache.GetCache(1); ok {
		t.Fatal("expired entry returned")
	}
	if dead.deinit != 1 {
		t.Fatalf("expired entry deinit %d", dead.deinit)
	}
	cache.AddCache(3, &m{}, 0)
	if n := cache.Sweep(); n != 1 {
		t.Fatalf("Sweep removed %d", n)
	}
	if _, ok := cache.GetCache(2); !ok {
		t.Fatal("live entry swept")
	}

	// SetCacheTime(-1) refreshes with the remembered duration
	live.overTime.Store(time.Now().Unix() - 1)
	live.SetCacheTime(-1)
	if !live.IsAlive() {
		t.Fatal("refresh did not extend the entry")
	}
}

func TestDelIf(t *testing.T) {
	cache := NewContainer[string, *m]()
	old, cur := &m{}, &m{}
	cache.AddCache("k", cur, 30)
	if cache.DelIf("k", old) {
		t.Fatal("removed an entry that was replaced")
	}
	if !cache.DelIf("k", cur) || cache.Len() != 0 {
		t.Fatal("DelIf kept the entry")
	}
	if cur.deinit != 0 {
		t.Fatal("DelIf ran DeInit")
	}
}

type selfRemoving struct {
	Timer
	c *Container[string, *selfRemoving]
}

func (s *selfRemoving) DeInit() { s.c.DelCache("me") }

func TestDeInitMayReenter(t *testing.T) {
	c := NewContainer[string, *selfRemoving]()
	c.AddCache("me", &selfRemoving{c: c}, 0)
	done := make(chan struct{})
	go func() {
		c.Sweep()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Sweep deadlocked on a re-entrant DeInit")
	}
}

func TestIdPool(t *testing.T) {
	var pool IdPool
	id1 := pool.GetId()
	id2 := pool.GetId()
	pool.GetId()
	id4 := pool.GetId()
	if id1 != 1 || id4 != 4 {
		t.Fatalf("ids %d..%d", id1, id4)
	}

	pool.RmId(id2)
	pool.RmId(id4)
	a, b := pool.GetId(), pool.GetId()
	if !(a == id2 && b == id4 || a == id4 && b == id2) {
		t.Fatalf("reused %d %d, released %d %d", a, b, id2, id4)
	}
	if id := pool.GetId(); id != 5 {
		t.Fatalf("fresh id %d", id)
	}
	pool.RmId(99) // never handed out
	if id := pool.GetId(); id != 6 {
		t.Fatalf("fresh id %d", id)
	}
}
