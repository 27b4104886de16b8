package distlock

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Locker hands out blocking, per-key mutual exclusion. The collector keys it
// by account so that credential refreshes and record merges for one account
// never interleave.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// LocalLocker serializes callers within one process.
type LocalLocker struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

// NewLocalLocker creates an in-process keyed locker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{slots: make(map[string]chan struct{})}
}

func (l *LocalLocker) slot(key string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.slots[key]
	if !ok {
		ch = make(chan struct{}, 1)
		l.slots[key] = ch
	}
	return ch
}

// Lock blocks until key is free or ctx ends.
func (l *LocalLocker) Lock(ctx context.Context, key string) (func(), error) {
	ch := l.slot(key)
	select {
	case ch <- struct{}{}:
		var once sync.Once
		return func() { once.Do(func() { <-ch }) }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// localLock adapts one LocalLocker key to the DistLock interface.
type localLock struct {
	slot chan struct{}
}

func (l *localLock) Acquire(context.Context) (bool, error) {
	select {
	case l.slot <- struct{}{}:
		return true, nil
	default:
		return false, nil
	}
}

func (l *localLock) Release(context.Context) error {
	select {
	case <-l.slot:
	default:
	}
	return nil
}

func (l *LocalLocker) lock(key string) DistLock {
	return &localLock{slot: l.slot(key)}
}

var processLocks = NewLocalLocker()

// RedisLocker serializes callers across processes sharing one Redis.
// A local lock is taken first so goroutines of the same process queue in
// memory instead of polling Redis.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
	poll   time.Duration
	local  *LocalLocker
}

// NewRedisLocker creates a Redis-backed keyed locker. ttl bounds how long a
// crashed holder can block others.
func NewRedisLocker(client *redis.Client, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisLocker{client: client, ttl: ttl, poll: 100 * time.Millisecond, local: NewLocalLocker()}
}

// Lock blocks until the Redis lock for key is held or ctx ends.
func (r *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	unlockLocal, err := r.local.Lock(ctx, key)
	if err != nil {
		return nil, err
	}
	rl := NewRedisLock(r.client, key, r.ttl)
	if err := AcquireWait(ctx, rl, r.poll); err != nil {
		unlockLocal()
		return nil, err
	}
	return func() {
		// Release with a fresh context: the caller's may already be done.
		relCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = rl.Release(relCtx)
		unlockLocal()
	}, nil
}
