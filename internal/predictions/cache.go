package predictions

import (
	"container/list"
	"sync"

	"github.com/google/uuid"
)

// DefaultCacheSize bounds the poll-path URL cache.
const DefaultCacheSize = 500

type cachedURL struct {
	predictionID string
	ownerID      uuid.UUID
	url          string
}

// URLCache remembers durable URLs relocated on the poll path when no gallery
// entry exists. Eviction is insertion order (FIFO); reads do not refresh.
type URLCache struct {
	mu       sync.Mutex
	capacity int
	order    *list.List
	items    map[string]*list.Element
}

func NewURLCache(capacity int) *URLCache {
	if capacity <= 0 {
		capacity = DefaultCacheSize
	}
	return &URLCache{
		capacity: capacity,
		order:    list.New(),
		items:    make(map[string]*list.Element, capacity),
	}
}

// Get returns the cached URL for predictionID when it belongs to ownerID.
func (c *URLCache) Get(predictionID string, ownerID uuid.UUID) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	elem, ok := c.items[predictionID]
	if !ok {
		return "", false
	}
	entry := elem.Value.(*cachedURL)
	if entry.ownerID != ownerID {
		return "", false
	}
	return entry.url, true
}

func (c *URLCache) Put(predictionID string, ownerID uuid.UUID, url string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.items[predictionID]; ok {
		entry := elem.Value.(*cachedURL)
		entry.ownerID = ownerID
		entry.url = url
		return
	}
	c.items[predictionID] = c.order.PushBack(&cachedURL{predictionID: predictionID, ownerID: ownerID, url: url})
	for c.order.Len() > c.capacity {
		oldest := c.order.Front()
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*cachedURL).predictionID)
	}
}

func (c *URLCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
