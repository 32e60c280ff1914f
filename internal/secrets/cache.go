package secrets

import (
	"context"
	"sync"
	"time"

	"github.com/graphdash/graphdash/internal/observability"
)

// CachingStore wraps a Store with a read-through TTL cache so hot execution
// paths do not hit the control-plane database on every request. Writes and
// deletes invalidate immediately; an entry is otherwise served until its TTL
// elapses, so an out-of-band rotation becomes visible within one TTL.
type CachingStore struct {
	inner Store
	ttl   time.Duration
	clock func() time.Time

	mu      sync.RWMutex
	entries map[cacheKey]cacheEntry
}

type cacheKey struct {
	workspaceID string
	name        string
}

type cacheEntry struct {
	secret  Secret
	expires time.Time
}

func NewCachingStore(inner Store, ttl time.Duration, clock func() time.Time) *CachingStore {
	if clock == nil {
		clock = time.Now
	}
	return &CachingStore{
		inner:   inner,
		ttl:     ttl,
		clock:   clock,
		entries: make(map[cacheKey]cacheEntry),
	}
}

func (s *CachingStore) GetSecret(ctx context.Context, workspaceID, name string) (Secret, error) {
	key := cacheKey{workspaceID: workspaceID, name: name}
	now := s.clock()

	s.mu.RLock()
	entry, ok := s.entries[key]
	s.mu.RUnlock()
	if ok && now.Before(entry.expires) {
		observability.IncrementSecretCacheHit()
		return entry.secret, nil
	}

	observability.IncrementSecretCacheMiss()
	secret, err := s.inner.GetSecret(ctx, workspaceID, name)
	if err != nil {
		return Secret{}, err
	}

	s.mu.Lock()
	s.entries[key] = cacheEntry{secret: secret, expires: now.Add(s.ttl)}
	s.mu.Unlock()
	return secret, nil
}

func (s *CachingStore) SetSecret(ctx context.Context, workspaceID, name, payload string) (Secret, error) {
	secret, err := s.inner.SetSecret(ctx, workspaceID, name, payload)
	if err != nil {
		return Secret{}, err
	}
	s.Invalidate(workspaceID, name)
	return secret, nil
}

func (s *CachingStore) DeleteSecret(ctx context.Context, workspaceID, name string) error {
	if err := s.inner.DeleteSecret(ctx, workspaceID, name); err != nil {
		return err
	}
	s.Invalidate(workspaceID, name)
	return nil
}

func (s *CachingStore) Invalidate(workspaceID, name string) {
	s.mu.Lock()
	delete(s.entries, cacheKey{workspaceID: workspaceID, name: name})
	s.mu.Unlock()
}
