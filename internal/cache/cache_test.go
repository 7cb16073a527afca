package cache

import "testing"

func TestPutGetHitsMisses(t *testing.T) {
	c := New(1024)
	k := Key{TableID: "t1", Offset: 0, Length: 8}

	if _, ok := c.Get(k); ok {
		t.Fatalf("expected miss on empty cache")
	}
	c.Put(k, []byte("blockdata"))
	v, ok := c.Get(k)
	if !ok || string(v) != "blockdata" {
		t.Fatalf("expected hit with blockdata, got %q ok=%v", v, ok)
	}

	stats := c.Stats()
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestByteBoundedEviction(t *testing.T) {
	c := New(20)
	k1 := Key{TableID: "t1", Offset: 0, Length: 10}
	k2 := Key{TableID: "t1", Offset: 10, Length: 10}
	k3 := Key{TableID: "t1", Offset: 20, Length: 10}

	c.Put(k1, make([]byte, 10))
	c.Put(k2, make([]byte, 10))
	// Cache is now at its 20-byte budget; touch k1 so it's most-recent.
	c.Get(k1)
	c.Put(k3, make([]byte, 10))

	if _, ok := c.Get(k2); ok {
		t.Fatalf("expected k2 evicted as least-recently-used")
	}
	if _, ok := c.Get(k1); !ok {
		t.Fatalf("expected k1 retained, it was touched more recently")
	}
	if _, ok := c.Get(k3); !ok {
		t.Fatalf("expected k3 retained, it was just inserted")
	}
}

func TestRemoveTable(t *testing.T) {
	c := New(1024)
	c.Put(Key{TableID: "a", Offset: 0, Length: 4}, []byte("data"))
	c.Put(Key{TableID: "b", Offset: 0, Length: 4}, []byte("data"))

	c.RemoveTable("a")

	if _, ok := c.Get(Key{TableID: "a", Offset: 0, Length: 4}); ok {
		t.Fatalf("expected table a's blocks removed")
	}
	if _, ok := c.Get(Key{TableID: "b", Offset: 0, Length: 4}); !ok {
		t.Fatalf("expected table b's blocks retained")
	}
}

func TestZeroCapacityDisablesCaching(t *testing.T) {
	c := New(0)
	k := Key{TableID: "t1", Offset: 0, Length: 4}
	c.Put(k, []byte("data"))
	if _, ok := c.Get(k); ok {
		t.Fatalf("expected zero-capacity cache to never retain entries")
	}
}
