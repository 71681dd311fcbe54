package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	. "github.com/onsi/gomega"
	"github.com/stretchr/testify/assert"

	"accounts/internal/core/port"
)

func TestMemoryRepository_SetGetDelete(t *testing.T) {
	RegisterTestingT(t)
	ctx := context.Background()
	cache := NewMemoryRepository(time.Minute)

	stored, err := cache.SetIfNewer(ctx, "apikey:ABC", 1, []byte("one"), 0)
	Expect(err).NotTo(HaveOccurred())
	Expect(stored).To(BeTrue())

	v, err := cache.Get(ctx, "apikey:ABC")
	Expect(err).NotTo(HaveOccurred())
	Expect(string(v)).To(Equal("one"))

	Expect(cache.Delete(ctx, "apikey:ABC")).To(Succeed())

	_, err = cache.Get(ctx, "apikey:ABC")
	Expect(err).To(MatchError(port.ErrCacheMiss))
}

func TestMemoryRepository_Expires(t *testing.T) {
	ctx := context.Background()
	cache := NewMemoryRepository(time.Minute)

	_, err := cache.SetIfNewer(ctx, "k", 1, []byte("v"), 10*time.Millisecond)
	assert.NoError(t, err)
	time.Sleep(30 * time.Millisecond)

	_, err = cache.Get(ctx, "k")
	assert.ErrorIs(t, err, port.ErrCacheMiss)
}

func TestMemoryRepository_DeleteByPrefix(t *testing.T) {
	ctx := context.Background()
	cache := NewMemoryRepository(time.Minute)

	_, _ = cache.SetIfNewer(ctx, "apikey:A", 1, []byte("a"), 0)
	_, _ = cache.SetIfNewer(ctx, "apikey:B", 1, []byte("b"), 0)
	_, _ = cache.SetIfNewer(ctx, "other:C", 1, []byte("c"), 0)

	assert.NoError(t, cache.DeleteByPrefix(ctx, "apikey:"))

	_, err := cache.Get(ctx, "apikey:A")
	assert.ErrorIs(t, err, port.ErrCacheMiss)

	_, err = cache.Get(ctx, "apikey:B")
	assert.ErrorIs(t, err, port.ErrCacheMiss)

	v, err := cache.Get(ctx, "other:C")
	assert.NoError(t, err)
	assert.Equal(t, "c", string(v))
}

func TestMemoryRepository_CopiesValue(t *testing.T) {
	ctx := context.Background()
	cache := NewMemoryRepository(time.Minute)

	buf := []byte("abc")
	_, _ = cache.SetIfNewer(ctx, "k", 1, buf, 0)
	buf[0] = 'z'

	v, _ := cache.Get(ctx, "k")
	assert.Equal(t, "abc", string(v))
}

func TestMemoryRepository_SetIfNewerKeepsNewerEntry(t *testing.T) {
	ctx := context.Background()
	cache := NewMemoryRepository(time.Minute)

	stored, err := cache.SetIfNewer(ctx, "apikey:A", 2, []byte("v2"), 0)
	assert.NoError(t, err)
	assert.True(t, stored)

	stored, err = cache.SetIfNewer(ctx, "apikey:A", 1, []byte("v1"), 0)
	assert.NoError(t, err)
	assert.False(t, stored)

	stored, err = cache.SetIfNewer(ctx, "apikey:A", 2, []byte("v2 again"), 0)
	assert.NoError(t, err)
	assert.False(t, stored)

	v, _ := cache.Get(ctx, "apikey:A")
	assert.Equal(t, "v2", string(v))

	stored, err = cache.SetIfNewer(ctx, "apikey:A", 3, []byte("v3"), 0)
	assert.NoError(t, err)
	assert.True(t, stored)

	v, _ = cache.Get(ctx, "apikey:A")
	assert.Equal(t, "v3", string(v))
}

func TestMemoryRepository_SetIfNewerAfterExpiry(t *testing.T) {
	ctx := context.Background()
	cache := NewMemoryRepository(time.Minute)

	_, _ = cache.SetIfNewer(ctx, "k", 5, []byte("old"), 10*time.Millisecond)
	time.Sleep(30 * time.Millisecond)

	stored, err := cache.SetIfNewer(ctx, "k", 1, []byte("new"), 0)
	assert.NoError(t, err)
	assert.True(t, stored)
}

func TestMemoryRepository_SetIfNewerConcurrent(t *testing.T) {
	ctx := context.Background()
	cache := NewMemoryRepository(time.Minute)

	var wg sync.WaitGroup
	for version := int64(1); version <= 50; version++ {
		wg.Add(1)
		go func(version int64) {
			defer wg.Done()
			_, _ = cache.SetIfNewer(ctx, "k", version, []byte{byte(version)}, 0)
		}(version)
	}
	wg.Wait()

	v, err := cache.Get(ctx, "k")
	assert.NoError(t, err)
	assert.Equal(t, []byte{50}, v)
}
