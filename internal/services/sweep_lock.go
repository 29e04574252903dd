package services

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// SweepLock guards against overlapping sweeps
type SweepLock interface {
	// Acquire returns a release func when the lock was taken. acquired is
	// false when another holder owns it.
	Acquire(ctx context.Context, ttl time.Duration) (release func(), acquired bool, err error)
}

// releaseIfOwner deletes the key only while it still holds our token
var releaseIfOwner = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisSweepLock is a SET NX lock shared by every replica
type RedisSweepLock struct {
	client *redis.Client
	key    string
}

// NewRedisSweepLock creates a lock stored under key
func NewRedisSweepLock(client *redis.Client, key string) *RedisSweepLock {
	return &RedisSweepLock{client: client, key: key}
}

// Acquire takes the lock for at most ttl
func (l *RedisSweepLock) Acquire(ctx context.Context, ttl time.Duration) (func(), bool, error) {
	owner := uuid.New().String()
	ok, err := l.client.SetNX(ctx, l.key, owner, ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	release := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		releaseIfOwner.Run(ctx, l.client, []string{l.key}, owner)
	}
	return release, true, nil
}

// LocalSweepLock serializes sweeps within one process
type LocalSweepLock struct {
	mu sync.Mutex
}

// Acquire never blocks; ttl is ignored
func (l *LocalSweepLock) Acquire(_ context.Context, _ time.Duration) (func(), bool, error) {
	if !l.mu.TryLock() {
		return nil, false, nil
	}
	return l.mu.Unlock, true, nil
}
