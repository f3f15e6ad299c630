package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/metaform/metaform-management/pkg/ports"
	backend "github.com/redis/go-redis/v9"
)

const unlockScript = `
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`

// Locker implements ports.MigrationLocker using Redis SET NX PX.
// It is meant for deployments whose replicas do not share a filesystem.
type Locker struct {
	client   *backend.Client
	key      string
	ttl      time.Duration
	interval time.Duration
}

// NewLocker creates a new Redis migration locker.
// The ttl bounds how long a crashed holder can block other replicas.
func NewLocker(client *backend.Client, key string, ttl, interval time.Duration) *Locker {
	if interval <= 0 {
		interval = 300 * time.Millisecond
	}
	return &Locker{
		client:   client,
		key:      key,
		ttl:      ttl,
		interval: interval,
	}
}

// TryLock takes the lock if nobody holds it.
func (l *Locker) TryLock(ctx context.Context) (ports.UnlockFunc, bool, error) {
	// The token makes release safe: only the holder that wrote it can delete the key.
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("redis error acquiring lock: %w", err)
	}
	if !ok {
		return nil, false, nil
	}

	return func(ctx context.Context) error {
		return l.client.Eval(ctx, unlockScript, []string{l.key}, token).Err()
	}, true, nil
}

// Wait polls until the lock key disappears.
func (l *Locker) Wait(ctx context.Context) error {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		n, err := l.client.Exists(ctx, l.key).Result()
		if err != nil {
			return fmt.Errorf("redis error polling lock: %w", err)
		}
		if n == 0 {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
