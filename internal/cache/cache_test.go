package cache

import (
	"testing"
	"time"

	"github.com/evogatehq/evogate/internal/store"
)

func newTestCache(ttl time.Duration) (*Customers, *time.Time) {
	c := NewCustomers(ttl)
	now := time.Now()
	c.now = func() time.Time { return now }
	return c, &now
}

func TestGetMissOnAbsent(t *testing.T) {
	c, _ := newTestCache(time.Minute)
	if _, ok := c.Get("34600000001"); ok {
		t.Error("hit on empty cache")
	}
}

func TestPutThenGet(t *testing.T) {
	c, _ := newTestCache(time.Minute)
	want := store.Customer{ID: "c1", Phone: "34600000001", Username: "Ana"}

	c.Put(want.Phone, want)

	got, ok := c.Get(want.Phone)
	if !ok {
		t.Fatal("miss right after Put")
	}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestExpiredEntryIsMissAndEvicted(t *testing.T) {
	c, now := newTestCache(time.Minute)
	c.Put("34600000001", store.Customer{ID: "c1"})

	*now = now.Add(time.Minute) // age == TTL counts as expired

	if _, ok := c.Get("34600000001"); ok {
		t.Fatal("hit on expired entry")
	}
	if c.Len() != 0 {
		t.Errorf("len = %d after expired read, want 0 (lazy eviction)", c.Len())
	}
}

func TestEntryJustUnderTTLHits(t *testing.T) {
	c, now := newTestCache(time.Minute)
	c.Put("34600000001", store.Customer{ID: "c1"})

	*now = now.Add(time.Minute - time.Nanosecond)

	if _, ok := c.Get("34600000001"); !ok {
		t.Error("miss just under TTL")
	}
}

func TestPutOverwriteRefreshesTimestamp(t *testing.T) {
	c, now := newTestCache(time.Minute)
	c.Put("34600000001", store.Customer{ID: "c1"})

	*now = now.Add(45 * time.Second)
	c.Put("34600000001", store.Customer{ID: "c2"})

	*now = now.Add(45 * time.Second) // 90s after first put, 45s after second

	got, ok := c.Get("34600000001")
	if !ok {
		t.Fatal("miss after overwrite refreshed the timestamp")
	}
	if got.ID != "c2" {
		t.Errorf("got %q, want the overwritten record c2", got.ID)
	}
}

func TestExpiredNeighborsStayUntilRead(t *testing.T) {
	// No proactive sweep: an expired entry lingers until its own read.
	c, now := newTestCache(time.Minute)
	c.Put("a", store.Customer{ID: "a"})
	c.Put("b", store.Customer{ID: "b"})

	*now = now.Add(2 * time.Minute)

	if _, ok := c.Get("a"); ok {
		t.Fatal("hit on expired entry")
	}
	if c.Len() != 1 {
		t.Errorf("len = %d, want 1 (b untouched until read)", c.Len())
	}
}
