package tracking

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// Limiter ограничивает частоту запросов ссылок для одного ключа.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	// Window возвращает окно, за которое лимит восстанавливается полностью.
	Window() time.Duration
}

type memoryEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// MemoryLimiter хранит лимитеры в памяти процесса. Ключ, не встречавшийся дольше
// окна, удаляется: к этому моменту его лимит всё равно восстановлен полностью.
type MemoryLimiter struct {
	mu        sync.Mutex
	entries   map[string]*memoryEntry
	limit     rate.Limit
	burst     int
	window    time.Duration
	lastSweep time.Time
	now       func() time.Time
}

// NewMemoryLimiter разрешает n запросов за окно window на ключ.
func NewMemoryLimiter(n int, window time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		entries: make(map[string]*memoryEntry),
		limit:   rate.Limit(float64(n) / window.Seconds()),
		burst:   n,
		window:  window,
		now:     time.Now,
	}
}

// Window возвращает окно лимита.
func (m *MemoryLimiter) Window() time.Duration {
	return m.window
}

// Allow сообщает, можно ли выполнить запрос для ключа key.
func (m *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	if now.Sub(m.lastSweep) >= m.window {
		m.sweep(now)
	}

	e, ok := m.entries[key]
	if !ok {
		e = &memoryEntry{limiter: rate.NewLimiter(m.limit, m.burst)}
		m.entries[key] = e
	}
	e.lastSeen = now

	return e.limiter.AllowN(now, 1), nil
}

func (m *MemoryLimiter) sweep(now time.Time) {
	for key, e := range m.entries {
		if now.Sub(e.lastSeen) >= m.window {
			delete(m.entries, key)
		}
	}
	m.lastSweep = now
}

// Len возвращает число отслеживаемых ключей.
func (m *MemoryLimiter) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// RedisLimiter считает запросы в Redis фиксированными окнами, лимит общий для всех
// экземпляров сервиса.
type RedisLimiter struct {
	client *redis.Client
	n      int64
	window time.Duration
}

// NewRedisLimiter разрешает n запросов за окно window на ключ.
func NewRedisLimiter(client *redis.Client, n int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{client: client, n: int64(n), window: window}
}

// Window возвращает окно лимита.
func (r *RedisLimiter) Window() time.Duration {
	return r.window
}

// Allow сообщает, можно ли выполнить запрос для ключа key.
func (r *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	redisKey := fmt.Sprintf("track:limit:{%s}", key)

	pipe := r.client.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.ExpireNX(ctx, redisKey, r.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("rate limit pipeline: %w", err)
	}

	return incr.Val() <= r.n, nil
}
