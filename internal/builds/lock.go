package builds

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	pkgerrors "github.com/angelmondragon/packfinderz-metrics/pkg/errors"
)

const (
	defaultLockTTL  = 2 * time.Hour
	defaultLockPoll = 2 * time.Second
)

// Lock guards one build period.
type Lock interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// Locker hands out the lock of a period.
type Locker interface {
	Lock(period string) (Lock, error)
}

// lockStore is the slice of the redis client the build lock needs.
type lockStore interface {
	TryLock(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key, owner string) (bool, error)
	LockKey(period string) string
}

// RedisLock is held by whoever wrote their owner token under key. The TTL
// frees the period if the holder dies mid-build.
type RedisLock struct {
	store lockStore
	key   string
	ttl   time.Duration
	owner string
}

// NewRedisLock binds a lock to key.
func NewRedisLock(store lockStore, key string, ttl time.Duration) (*RedisLock, error) {
	if store == nil {
		return nil, errors.New("redis client required for lock")
	}
	if key == "" {
		return nil, errors.New("lock key is required")
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &RedisLock{store: store, key: key, ttl: ttl}, nil
}

func (l *RedisLock) Acquire(ctx context.Context) (bool, error) {
	owner := uuid.NewString()
	ok, err := l.store.TryLock(ctx, l.key, owner, l.ttl)
	if err != nil {
		return false, fmt.Errorf("lock %s: %w", l.key, err)
	}
	if ok {
		l.owner = owner
	}
	return ok, nil
}

// Release is a no-op unless this lock acquired the key.
func (l *RedisLock) Release(ctx context.Context) error {
	if l.owner == "" {
		return nil
	}
	if _, err := l.store.Unlock(ctx, l.key, l.owner); err != nil {
		return fmt.Errorf("unlock %s: %w", l.key, err)
	}
	l.owner = ""
	return nil
}

// RedisLocker issues Redis locks, one key per period.
type RedisLocker struct {
	store lockStore
	ttl   time.Duration
}

func NewRedisLocker(store lockStore, ttl time.Duration) *RedisLocker {
	return &RedisLocker{store: store, ttl: ttl}
}

func (r *RedisLocker) Lock(period string) (Lock, error) {
	if r == nil || r.store == nil {
		return nil, errors.New("redis client required for lock")
	}
	return NewRedisLock(r.store, r.store.LockKey(period), r.ttl)
}

// LocalLocker serializes builds inside one process.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewLocalLocker returns an empty in-process locker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: map[string]struct{}{}}
}

func (l *LocalLocker) Lock(period string) (Lock, error) {
	return &localLock{parent: l, key: period}, nil
}

type localLock struct {
	parent *LocalLocker
	key    string
	owned  bool
}

func (l *localLock) Acquire(context.Context) (bool, error) {
	l.parent.mu.Lock()
	defer l.parent.mu.Unlock()
	if _, taken := l.parent.held[l.key]; taken {
		return false, nil
	}
	l.parent.held[l.key] = struct{}{}
	l.owned = true
	return true, nil
}

func (l *localLock) Release(context.Context) error {
	l.parent.mu.Lock()
	defer l.parent.mu.Unlock()
	if l.owned {
		delete(l.parent.held, l.key)
		l.owned = false
	}
	return nil
}

// waitFor polls until the lock is owned or ctx ends. A build that gives up
// waiting reports BUILD_IN_PROGRESS.
func waitFor(ctx context.Context, lock Lock, poll time.Duration) error {
	if poll <= 0 {
		poll = defaultLockPoll
	}
	for {
		ok, err := lock.Acquire(ctx)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "acquire build lock")
		}
		if ok {
			return nil
		}
		timer := time.NewTimer(poll)
		select {
		case <-ctx.Done():
			timer.Stop()
			return pkgerrors.Wrap(pkgerrors.CodeBuildInProgress, ctx.Err(), "timed out waiting for build lock")
		case <-timer.C:
		}
	}
}
