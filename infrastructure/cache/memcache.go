package cache

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// MemCache is an in-process Store backed by sync.Map. Items can have an
// optional TTL. A background cleanup goroutine runs when NewMemCache is
// given a positive cleanupInterval.
type MemCache struct {
	items sync.Map
	stop  chan struct{}
	wg    sync.WaitGroup
	now   func() time.Time
}

type item struct {
	mu         sync.Mutex
	value      string
	expiration int64 // unix nano; 0 means no expiration
}

func NewMemCache(cleanupInterval time.Duration) *MemCache {
	m := &MemCache{
		stop: make(chan struct{}),
		now:  time.Now,
	}
	if cleanupInterval > 0 {
		m.wg.Add(1)
		go func() {
			ticker := time.NewTicker(cleanupInterval)
			defer ticker.Stop()
			defer m.wg.Done()
			for {
				select {
				case <-ticker.C:
					m.cleanup()
				case <-m.stop:
					return
				}
			}
		}()
	}
	return m
}

func (m *MemCache) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.items.Store(key, &item{
		value:      value,
		expiration: m.expiry(ttl),
	})
	return nil
}

func (m *MemCache) Get(_ context.Context, key string) (string, bool, error) {
	v, ok := m.items.Load(key)
	if !ok {
		return "", false, nil
	}
	it := v.(*item)
	it.mu.Lock()
	defer it.mu.Unlock()
	if it.isExpired(m.now().UnixNano()) {
		m.items.CompareAndDelete(key, it)
		return "", false, nil
	}
	return it.value, true, nil
}

func (m *MemCache) Delete(_ context.Context, key string) error {
	m.items.Delete(key)
	return nil
}

// Increment adds one to the counter at key. A missing or expired counter
// starts at zero and gets ttl; an existing one keeps its expiration.
func (m *MemCache) Increment(_ context.Context, key string, ttl time.Duration) (int64, error) {
	actual, _ := m.items.LoadOrStore(key, &item{value: "0", expiration: m.expiry(ttl)})
	it := actual.(*item)

	it.mu.Lock()
	defer it.mu.Unlock()

	if it.isExpired(m.now().UnixNano()) {
		it.value = "0"
		it.expiration = m.expiry(ttl)
	}
	n, err := strconv.ParseInt(it.value, 10, 64)
	if err != nil {
		return 0, ErrNotInteger
	}
	n++
	it.value = strconv.FormatInt(n, 10)
	return n, nil
}

func (m *MemCache) Close() error {
	select {
	case <-m.stop:
	default:
		close(m.stop)
	}
	m.wg.Wait()
	return nil
}

func (m *MemCache) expiry(ttl time.Duration) int64 {
	if ttl <= 0 {
		return 0
	}
	return m.now().Add(ttl).UnixNano()
}

func (it *item) isExpired(now int64) bool {
	return it.expiration != 0 && now > it.expiration
}

func (m *MemCache) cleanup() {
	now := m.now().UnixNano()
	m.items.Range(func(k, v any) bool {
		it := v.(*item)
		it.mu.Lock()
		expired := it.isExpired(now)
		it.mu.Unlock()
		if expired {
			m.items.CompareAndDelete(k, it)
		}
		return true
	})
}
