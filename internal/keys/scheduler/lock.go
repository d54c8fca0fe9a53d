package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Locker provides mutual exclusion across service instances for one logical
// job. Acquisition failure is not an error: it means another instance holds
// the job this tick.
type Locker interface {
	Acquire(ctx context.Context, lease time.Duration) (Lease, bool, error)
}

// Lease is a held lock. Refresh extends it while work proceeds; if the
// process crashes the entry expires on its own, so a dead holder never
// deadlocks the job.
type Lease interface {
	Refresh(ctx context.Context, lease time.Duration) (bool, error)
	Release(ctx context.Context) error
}

// Compare-and-extend / compare-and-delete so only the holder's token can
// touch the entry.
var (
	refreshScript = redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("pexpire", KEYS[1], ARGV[2])
		end
		return 0`)
	releaseScript = redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		end
		return 0`)
)

// RedisLock implements Locker with a single Redis entry per job name,
// acquired via atomic set-if-not-exists with a TTL lease.
type RedisLock struct {
	client *redis.Client
	key    string
}

func NewRedisLock(client *redis.Client, key string) *RedisLock {
	return &RedisLock{client: client, key: key}
}

func (l *RedisLock) Acquire(ctx context.Context, lease time.Duration) (Lease, bool, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, token, lease).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire lock %s: %w", l.key, err)
	}
	if !ok {
		return nil, false, nil
	}
	return &redisLease{client: l.client, key: l.key, token: token}, true, nil
}

type redisLease struct {
	client *redis.Client
	key    string
	token  string
}

func (l *redisLease) Refresh(ctx context.Context, lease time.Duration) (bool, error) {
	res, err := refreshScript.Run(ctx, l.client, []string{l.key}, l.token, lease.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("refresh lock %s: %w", l.key, err)
	}
	return res == 1, nil
}

func (l *redisLease) Release(ctx context.Context) error {
	if _, err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Result(); err != nil {
		return fmt.Errorf("release lock %s: %w", l.key, err)
	}
	return nil
}
