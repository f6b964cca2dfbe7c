package cache

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestMemCacheSetGetDelete(t *testing.T) {
	ctx := context.Background()
	m := NewMemCache(0)
	defer m.Close()

	if err := m.Set(ctx, "otp:+14155550123", "123456", time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	v, ok, err := m.Get(ctx, "otp:+14155550123")
	if err != nil || !ok || v != "123456" {
		t.Fatalf("Get: %q %v %v", v, ok, err)
	}
	_ = m.Delete(ctx, "otp:+14155550123")
	if _, ok, _ := m.Get(ctx, "otp:+14155550123"); ok {
		t.Fatal("value still present after Delete")
	}
}

func TestMemCacheExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	m := NewMemCache(0)
	m.now = func() time.Time { return now }

	_ = m.Set(ctx, "k", "v", time.Second)
	now = now.Add(2 * time.Second)
	if _, ok, _ := m.Get(ctx, "k"); ok {
		t.Fatal("expired value returned")
	}

	_ = m.Set(ctx, "forever", "v", 0)
	now = now.Add(24 * time.Hour)
	if _, ok, _ := m.Get(ctx, "forever"); !ok {
		t.Fatal("value without ttl expired")
	}
}

func TestMemCacheIncrement(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	m := NewMemCache(0)
	m.now = func() time.Time { return now }

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.Increment(ctx, "attempts", time.Minute); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	n, err := m.Increment(ctx, "attempts", time.Minute)
	if err != nil || n != 51 {
		t.Fatalf("got %d %v", n, err)
	}

	now = now.Add(2 * time.Minute)
	if n, _ := m.Increment(ctx, "attempts", time.Minute); n != 1 {
		t.Fatalf("counter not reset after expiry: %d", n)
	}

	_ = m.Set(ctx, "text", "abc", 0)
	if _, err := m.Increment(ctx, "text", 0); err != ErrNotInteger {
		t.Fatalf("got %v want ErrNotInteger", err)
	}
}

func TestMemCacheCleanup(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	m := NewMemCache(0)
	m.now = func() time.Time { return now }
	_ = m.Set(ctx, "a", "1", time.Second)
	_ = m.Set(ctx, "b", "2", 0)

	now = now.Add(time.Minute)
	m.cleanup()

	count := 0
	m.items.Range(func(_, _ any) bool { count++; return true })
	if count != 1 {
		t.Fatalf("got %d items after cleanup", count)
	}
}
