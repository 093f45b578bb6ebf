package repository

import (
	"context"
	"sync"
	"time"

	"connect-chat/internal/core/ports"
)

var (
	_ ports.DedupRepository = (*MemoryRepository)(nil)
	_ ports.FetchLock       = (*MemoryFetchLock)(nil)
)

// MemoryRepository is the single-process dedup store used when no Redis is configured
type MemoryRepository struct {
	mu      sync.Mutex
	expires map[string]time.Time
	now     func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{expires: make(map[string]time.Time), now: time.Now}
}

func (r *MemoryRepository) IsDuplicate(_ context.Context, key string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	exp, ok := r.expires[key]
	if !ok {
		return false, nil
	}
	if !r.now().Before(exp) {
		delete(r.expires, key)
		return false, nil
	}
	return true, nil
}

func (r *MemoryRepository) MarkProcessed(_ context.Context, key string, ttl time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.expires[key] = r.now().Add(ttl)
	return nil
}

// MemoryFetchLock is the single-process counterpart of RedisFetchLock
type MemoryFetchLock struct {
	mu   sync.Mutex
	held map[string]time.Time
	now  func() time.Time
}

func NewMemoryFetchLock() *MemoryFetchLock {
	return &MemoryFetchLock{held: make(map[string]time.Time), now: time.Now}
}

func (l *MemoryFetchLock) Acquire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if exp, ok := l.held[key]; ok && l.now().Before(exp) {
		return false, nil
	}
	l.held[key] = l.now().Add(ttl)
	return true, nil
}

func (l *MemoryFetchLock) Release(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, key)
	return nil
}
