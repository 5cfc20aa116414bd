package handshake

import (
	"sync"
	"time"

	qerrors "github.com/sara-star-quant/quantum-tls/internal/errors"
)

// DefaultCacheSize bounds a MemoryCache created with size 0.
const DefaultCacheSize = 20480

// MemoryCache is an in-process SessionCache. Sessions are copied on the way
// in and out so that callers never share mutable state with the cache.
type MemoryCache struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	order    []string
	maxSize  int
	now      func() time.Time
}

// NewMemoryCache creates a cache holding at most size sessions; the oldest
// entry is evicted first.
func NewMemoryCache(size int) *MemoryCache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	return &MemoryCache{
		sessions: make(map[string]*Session),
		maxSize:  size,
		now:      time.Now,
	}
}

// Lookup returns a copy of the session with id, or nil when it is missing
// or expired.
func (c *MemoryCache) Lookup(id []byte) (*Session, error) {
	c.mu.RLock()
	s, ok := c.sessions[string(id)]
	c.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	if s.Expired(c.now()) {
		c.remove(string(id))
		return nil, nil
	}
	return s.Clone(), nil
}

// Store adds a copy of s, keyed by its ID.
func (c *MemoryCache) Store(s *Session) error {
	if s == nil || len(s.ID) == 0 {
		return qerrors.ErrInvalidState
	}
	key := string(s.ID)
	cp := s.Clone()
	cp.Ticket = nil

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.sessions[key]; !exists {
		c.order = append(c.order, key)
	}
	c.sessions[key] = cp
	for len(c.sessions) > c.maxSize && len(c.order) > 0 {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.sessions, oldest)
	}
	return nil
}

// Len returns the number of cached sessions.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.sessions)
}

func (c *MemoryCache) remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}
