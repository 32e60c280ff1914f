package secrets

import (
	"context"
	"sync"
	"testing"
	"time"
)

type countingStore struct {
	mu   sync.Mutex
	gets int
	data map[string]Secret
}

func (s *countingStore) GetSecret(_ context.Context, workspaceID, name string) (Secret, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gets++
	secret, ok := s.data[workspaceID+"/"+name]
	if !ok {
		return Secret{}, ErrSecretNotFound
	}
	return secret, nil
}

func (s *countingStore) SetSecret(_ context.Context, workspaceID, name, payload string) (Secret, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	secret := Secret{WorkspaceID: workspaceID, Name: name, Payload: payload}
	s.data[workspaceID+"/"+name] = secret
	return secret, nil
}

func (s *countingStore) DeleteSecret(_ context.Context, workspaceID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, workspaceID+"/"+name)
	return nil
}

func (s *countingStore) getCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gets
}

func TestCachingStoreServesFromCacheWithinTTL(t *testing.T) {
	inner := &countingStore{data: map[string]Secret{
		"ws-1/primary": {WorkspaceID: "ws-1", Name: "primary", Payload: "dsn"},
	}}
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	cache := NewCachingStore(inner, 5*time.Minute, func() time.Time { return now })

	for i := 0; i < 3; i++ {
		secret, err := cache.GetSecret(context.Background(), "ws-1", "primary")
		if err != nil {
			t.Fatalf("GetSecret() error = %v", err)
		}
		if secret.Payload != "dsn" {
			t.Fatalf("payload = %q", secret.Payload)
		}
	}
	if inner.getCount() != 1 {
		t.Fatalf("inner gets = %d, want 1", inner.getCount())
	}
}

func TestCachingStoreExpiresAfterTTL(t *testing.T) {
	inner := &countingStore{data: map[string]Secret{
		"ws-1/primary": {WorkspaceID: "ws-1", Name: "primary", Payload: "dsn"},
	}}
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	cache := NewCachingStore(inner, 5*time.Minute, func() time.Time { return now })

	if _, err := cache.GetSecret(context.Background(), "ws-1", "primary"); err != nil {
		t.Fatalf("GetSecret() error = %v", err)
	}
	now = now.Add(5*time.Minute + time.Second)
	if _, err := cache.GetSecret(context.Background(), "ws-1", "primary"); err != nil {
		t.Fatalf("GetSecret() error = %v", err)
	}
	if inner.getCount() != 2 {
		t.Fatalf("inner gets = %d, want 2", inner.getCount())
	}
}

func TestCachingStoreSetInvalidates(t *testing.T) {
	inner := &countingStore{data: map[string]Secret{
		"ws-1/primary": {WorkspaceID: "ws-1", Name: "primary", Payload: "old"},
	}}
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	cache := NewCachingStore(inner, 5*time.Minute, func() time.Time { return now })

	if _, err := cache.GetSecret(context.Background(), "ws-1", "primary"); err != nil {
		t.Fatalf("GetSecret() error = %v", err)
	}
	if _, err := cache.SetSecret(context.Background(), "ws-1", "primary", "new"); err != nil {
		t.Fatalf("SetSecret() error = %v", err)
	}
	secret, err := cache.GetSecret(context.Background(), "ws-1", "primary")
	if err != nil {
		t.Fatalf("GetSecret() error = %v", err)
	}
	if secret.Payload != "new" {
		t.Fatalf("payload = %q, want rotated value", secret.Payload)
	}
}

func TestCachingStoreDeleteInvalidates(t *testing.T) {
	inner := &countingStore{data: map[string]Secret{
		"ws-1/primary": {WorkspaceID: "ws-1", Name: "primary", Payload: "dsn"},
	}}
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	cache := NewCachingStore(inner, 5*time.Minute, func() time.Time { return now })

	if _, err := cache.GetSecret(context.Background(), "ws-1", "primary"); err != nil {
		t.Fatalf("GetSecret() error = %v", err)
	}
	if err := cache.DeleteSecret(context.Background(), "ws-1", "primary"); err != nil {
		t.Fatalf("DeleteSecret() error = %v", err)
	}
	if _, err := cache.GetSecret(context.Background(), "ws-1", "primary"); err != ErrSecretNotFound {
		t.Fatalf("GetSecret() error = %v, want ErrSecretNotFound", err)
	}
}

func TestCachingStoreKeysAreWorkspaceScoped(t *testing.T) {
	inner := &countingStore{data: map[string]Secret{
		"ws-1/primary": {WorkspaceID: "ws-1", Name: "primary", Payload: "one"},
		"ws-2/primary": {WorkspaceID: "ws-2", Name: "primary", Payload: "two"},
	}}
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	cache := NewCachingStore(inner, 5*time.Minute, func() time.Time { return now })

	one, err := cache.GetSecret(context.Background(), "ws-1", "primary")
	if err != nil {
		t.Fatalf("GetSecret() error = %v", err)
	}
	two, err := cache.GetSecret(context.Background(), "ws-2", "primary")
	if err != nil {
		t.Fatalf("GetSecret() error = %v", err)
	}
	if one.Payload == two.Payload {
		t.Fatal("workspaces must not share cached secrets")
	}
}
