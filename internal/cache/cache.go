// Package cache holds the in-memory customer lookup cache.
package cache

import (
	"sync"
	"time"

	"github.com/evogatehq/evogate/internal/store"
)

type entry struct {
	customer   store.Customer
	insertedAt time.Time
}

// Customers caches customer records by phone so repeated messages from the
// same sender don't hit Postgres every time. Entries expire after TTL and
// are evicted lazily on the read that finds them expired. There is no size
// bound and no background sweep: the working set is one entry per active
// conversation, and bounded eviction is an accepted follow-up, not a hidden
// behavior of this cache.
type Customers struct {
	mu      sync.Mutex
	entries map[string]entry
	ttl     time.Duration
	now     func() time.Time
}

// NewCustomers creates a customer cache with the given TTL.
func NewCustomers(ttl time.Duration) *Customers {
	return &Customers{
		entries: make(map[string]entry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get returns the cached customer for a phone. A missing or expired entry is
// a miss; an expired entry is removed on this read.
func (c *Customers) Get(phone string) (store.Customer, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[phone]
	if !ok {
		return store.Customer{}, false
	}
	if c.now().Sub(e.insertedAt) >= c.ttl {
		delete(c.entries, phone)
		return store.Customer{}, false
	}
	return e.customer, true
}

// Put inserts or overwrites the cached customer with a fresh timestamp.
func (c *Customers) Put(phone string, customer store.Customer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[phone] = entry{customer: customer, insertedAt: c.now()}
}

// Len reports the number of entries currently held, expired or not.
func (c *Customers) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
