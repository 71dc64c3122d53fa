package cache

import (
	"sync"
	"time"
)

type entry[V any] struct {
	value  V
	expiry time.Time
}

// Cache — потокобезопасный in-memory кэш с TTL для дорогих lookup'ов
// (директория, ACL каналов). Просроченные записи не выметаются фоном,
// а лениво считаются отсутствующими при чтении.
//
// Кэш advisory: он никогда не источник правды, любое значение можно
// перевычислить из upstream.
type Cache[K comparable, V any] struct {
	mu    sync.RWMutex
	items map[K]entry[V]
	ttl   time.Duration
	now   func() time.Time // подменяется в тестах
}

func New[K comparable, V any](ttl time.Duration) *Cache[K, V] {
	return &Cache[K, V]{
		items: make(map[K]entry[V]),
		ttl:   ttl,
		now:   time.Now,
	}
}

// Get возвращает значение, если оно есть и не протухло.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	e, ok := c.items[key]
	c.mu.RUnlock()

	if !ok || c.now().After(e.expiry) {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Set записывает значение со сроком годности ttl от текущего момента.
func (c *Cache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	c.items[key] = entry[V]{value: value, expiry: c.now().Add(c.ttl)}
	c.mu.Unlock()
}

// Len — количество записей, включая протухшие (для метрик/отладки).
func (c *Cache[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}
