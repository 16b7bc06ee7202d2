package challenge

import (
	"context"
	"sync"
	"time"
)

// MemoryStore implements Store with in-process storage. Suitable for
// single-node deployments; distributed deployments use the Redis store.
type MemoryStore struct {
	mu      sync.Mutex
	items   map[string]memoryItem
	stopCh  chan struct{}
	stopped bool
}

type memoryItem struct {
	payload   []byte
	expiresAt time.Time
}

// NewMemoryStore creates a MemoryStore and starts its janitor loop.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		items:  make(map[string]memoryItem),
		stopCh: make(chan struct{}),
	}
	go s.janitorLoop()
	return s
}

func key(sessionID string, kind Kind) string {
	return sessionID + ":" + string(kind)
}

// Put implements Store.
func (s *MemoryStore) Put(_ context.Context, sessionID string, kind Kind, payload []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[key(sessionID, kind)] = memoryItem{
		payload:   payload,
		expiresAt: time.Now().Add(ttl),
	}
	return nil
}

// Take implements Store. The entry is removed whether or not it is still
// live, so a challenge can be consumed at most once.
func (s *MemoryStore) Take(_ context.Context, sessionID string, kind Kind) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key(sessionID, kind)
	item, ok := s.items[k]
	if !ok {
		return nil, ErrChallengeNotFound
	}
	delete(s.items, k)

	if time.Now().After(item.expiresAt) {
		return nil, ErrChallengeNotFound
	}
	return item.payload, nil
}

// Stop stops the janitor loop.
func (s *MemoryStore) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.stopped {
		s.stopped = true
		close(s.stopCh)
	}
}

func (s *MemoryStore) janitorLoop() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *MemoryStore) sweep() {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, item := range s.items {
		if now.After(item.expiresAt) {
			delete(s.items, k)
		}
	}
}
