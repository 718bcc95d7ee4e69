package redisclient

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/carebridge/clinic-scheduling/internal/calendar"
)

var (
	ErrLockNotAcquired = errors.New("calendar lock not acquired")
)

// Locker serializes all mutation of a doctor's calendar day. Booking's
// check-then-reserve sequence and the reschedule slot swap both run inside
// one critical section; a swap across two dates holds both days at once.
type Locker interface {
	WithCalendarLock(ctx context.Context, doctorID uuid.UUID, days []calendar.Date, fn func(ctx context.Context) error) error
}

type redisCalendarLocker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCalendarLocker creates a locker backed by one Redis key per
// (doctor, date) pair.
func NewRedisCalendarLocker(client *redis.Client, ttl time.Duration) Locker {
	return &redisCalendarLocker{
		client: client,
		ttl:    ttl,
	}
}

func (l *redisCalendarLocker) WithCalendarLock(ctx context.Context, doctorID uuid.UUID, days []calendar.Date, fn func(ctx context.Context) error) error {
	keys := make([]string, 0, len(days))
	seen := make(map[string]bool, len(days))
	for _, day := range days {
		key := fmt.Sprintf("lock:calendar:%s:%s", doctorID, day)
		if !seen[key] {
			seen[key] = true
			keys = append(keys, key)
		}
	}
	// Fixed acquisition order so two overlapping swaps cannot deadlock.
	sort.Strings(keys)

	token := uuid.NewString()

	var held []string
	for _, key := range keys {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			l.releaseAll(ctx, held, token)
			return fmt.Errorf("acquire calendar lock: %w", err)
		}
		if !ok {
			l.releaseAll(ctx, held, token)
			return ErrLockNotAcquired
		}
		held = append(held, key)
	}

	defer l.releaseAll(ctx, held, token)

	ctxWithTimeout, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return fn(ctxWithTimeout)
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *redisCalendarLocker) releaseAll(ctx context.Context, keys []string, token string) {
	for _, key := range keys {
		// Best effort: a key that fails to delete is reaped by its TTL.
		_, _ = unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	}
}
