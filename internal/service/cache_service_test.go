package service

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/vidyalay/institute-ops-api/pkg/errors"
)

type fakeCacheRepo struct {
	mu      sync.Mutex
	entries map[string][]byte
	hits    int
	sets    int
}

func newFakeCacheRepo() *fakeCacheRepo {
	return &fakeCacheRepo{entries: make(map[string][]byte)}
}

func (f *fakeCacheRepo) Get(ctx context.Context, key string, dest interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	raw, ok := f.entries[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	f.hits++
	return json.Unmarshal(raw, dest)
}

func (f *fakeCacheRepo) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[key] = raw
	f.sets++
	return nil
}

func (f *fakeCacheRepo) DeleteByPattern(ctx context.Context, pattern string) error {
	prefix := strings.TrimSuffix(pattern, "*")
	f.mu.Lock()
	defer f.mu.Unlock()
	for key := range f.entries {
		if strings.HasPrefix(key, prefix) {
			delete(f.entries, key)
		}
	}
	return nil
}

func TestCacheServiceDisabledIsPassThrough(t *testing.T) {
	repo := newFakeCacheRepo()
	svc := NewCacheService(repo, nil, time.Minute, nil, false)

	assert.False(t, svc.Enabled())

	var dest string
	hit, err := svc.Get(context.Background(), "k", &dest)
	require.NoError(t, err)
	assert.False(t, hit)

	require.NoError(t, svc.Set(context.Background(), "k", "v", 0))
	assert.Equal(t, 0, repo.sets)
}

func TestCacheServiceNilReceiverIsDisabled(t *testing.T) {
	var svc *CacheService
	assert.False(t, svc.Enabled())

	var dest string
	hit, err := svc.Get(context.Background(), "k", &dest)
	require.NoError(t, err)
	assert.False(t, hit)
	require.NoError(t, svc.Set(context.Background(), "k", "v", 0))
	require.NoError(t, svc.Invalidate(context.Background(), "k:*"))
}

func TestCacheServiceMissThenHit(t *testing.T) {
	repo := newFakeCacheRepo()
	svc := NewCacheService(repo, nil, time.Minute, nil, true)

	type payload struct {
		Count int `json:"count"`
	}

	var dest payload
	hit, err := svc.Get(context.Background(), "stats:1", &dest)
	require.NoError(t, err)
	assert.False(t, hit)

	require.NoError(t, svc.Set(context.Background(), "stats:1", payload{Count: 7}, 0))

	hit, err = svc.Get(context.Background(), "stats:1", &dest)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, 7, dest.Count)
}

func TestCacheServiceInvalidateByPattern(t *testing.T) {
	repo := newFakeCacheRepo()
	svc := NewCacheService(repo, nil, time.Minute, nil, true)

	require.NoError(t, svc.Set(context.Background(), "stats:a:1", 1, 0))
	require.NoError(t, svc.Set(context.Background(), "stats:a:2", 2, 0))
	require.NoError(t, svc.Set(context.Background(), "stats:b:1", 3, 0))

	require.NoError(t, svc.Invalidate(context.Background(), "stats:a:*"))

	var dest int
	hit, err := svc.Get(context.Background(), "stats:a:1", &dest)
	require.NoError(t, err)
	assert.False(t, hit)
	hit, err = svc.Get(context.Background(), "stats:b:1", &dest)
	require.NoError(t, err)
	assert.True(t, hit)
}
