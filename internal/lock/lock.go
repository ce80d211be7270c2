package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"milk-ticket-backend/internal/config"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

// ErrHeld is returned when another holder owns the lock.
var ErrHeld = errors.New("lock is held by another run")

// Release gives a lock back.
type Release func(ctx context.Context) error

// Locker hands out exclusive, named locks.
type Locker interface {
	Acquire(ctx context.Context, key string) (Release, error)
}

// RedisLocker shares locks between processes through Redis.
type RedisLocker struct {
	client *redislock.Client
	ttl    time.Duration
}

func NewRedisLocker(rdb redis.UniversalClient, ttl time.Duration) *RedisLocker {
	return &RedisLocker{client: redislock.New(rdb), ttl: ttl}
}

// Acquire does not wait; a held lock fails immediately with ErrHeld. The
// lock is refreshed every half TTL until it is released.
func (l *RedisLocker) Acquire(ctx context.Context, key string) (Release, error) {
	lk, err := l.client.Obtain(ctx, key, l.ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, ErrHeld
	}
	if err != nil {
		return nil, fmt.Errorf("obtain lock %s: %w", key, err)
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		err := keepAlive(stop, l.ttl/2, func() error {
			return lk.Refresh(context.Background(), l.ttl, nil)
		})
		if err != nil {
			config.GetLogger().WithError(err).WithField("lock", key).Error("lock refresh failed, run is no longer exclusive")
		}
	}()

	var once sync.Once
	return func(ctx context.Context) error {
		once.Do(func() { close(stop) })
		<-done
		if err := lk.Release(ctx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			return err
		}
		return nil
	}, nil
}

// keepAlive calls refresh every interval until stop is closed. It returns
// the first refresh error.
func keepAlive(stop <-chan struct{}, interval time.Duration, refresh func() error) error {
	if interval <= 0 {
		<-stop
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return nil
		case <-ticker.C:
			if err := refresh(); err != nil {
				return err
			}
		}
	}
}

// LocalLocker keeps locks in process memory. It is used when no Redis is
// configured.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]bool)}
}

func (l *LocalLocker) Acquire(_ context.Context, key string) (Release, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] {
		return nil, ErrHeld
	}
	l.held[key] = true
	return func(context.Context) error {
		l.mu.Lock()
		delete(l.held, key)
		l.mu.Unlock()
		return nil
	}, nil
}

// New picks a Redis-backed locker when an address is configured.
func New(ctx context.Context, redisAddress string, ttl time.Duration) (Locker, error) {
	if redisAddress == "" {
		return NewLocalLocker(), nil
	}
	client := redis.NewClient(&redis.Options{Addr: redisAddress})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("could not connect redis: %w", err)
	}
	return NewRedisLocker(client, ttl), nil
}
