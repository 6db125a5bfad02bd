package store

import (
	"container/list"
	"fmt"
	"sync"

	"github.com/gitblit-org/ticketstore/internal/domain"
)

// ticketCache holds folded snapshots keyed by (repository, number) with
// LRU eviction. Snapshots are invalidated on update and delete; the
// journal stays authoritative.
type ticketCache struct {
	mu      sync.Mutex
	max     int
	entries map[string]*list.Element
	order   *list.List
}

type cacheEntry struct {
	key    string
	ticket *domain.Ticket
}

func newTicketCache(max int) *ticketCache {
	if max <= 0 {
		max = 1000
	}
	return &ticketCache{
		max:     max,
		entries: make(map[string]*list.Element),
		order:   list.New(),
	}
}

func cacheKey(repository string, number int64) string {
	return fmt.Sprintf("%s#%d", repository, number)
}

func (c *ticketCache) get(repository string, number int64) (*domain.Ticket, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	elem, ok := c.entries[cacheKey(repository, number)]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(elem)
	return elem.Value.(*cacheEntry).ticket, true
}

func (c *ticketCache) put(repository string, number int64, ticket *domain.Ticket) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := cacheKey(repository, number)
	if elem, ok := c.entries[key]; ok {
		elem.Value.(*cacheEntry).ticket = ticket
		c.order.MoveToFront(elem)
		return
	}
	c.entries[key] = c.order.PushFront(&cacheEntry{key: key, ticket: ticket})
	for c.order.Len() > c.max {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheEntry).key)
	}
}

func (c *ticketCache) invalidate(repository string, number int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := cacheKey(repository, number)
	if elem, ok := c.entries[key]; ok {
		c.order.Remove(elem)
		delete(c.entries, key)
	}
}

// invalidateRepository drops every snapshot of one repository.
func (c *ticketCache) invalidateRepository(repository string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for elem := c.order.Front(); elem != nil; {
		next := elem.Next()
		entry := elem.Value.(*cacheEntry)
		if entry.ticket.Repository == repository {
			c.order.Remove(elem)
			delete(c.entries, entry.key)
		}
		elem = next
	}
}

func (c *ticketCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*list.Element)
	c.order.Init()
}
