package shared

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockBusy indicates the lock could not be acquired within the wait window.
var ErrLockBusy = errors.New("shared: lock busy")

// RegisterLockKey builds the redis key guarding cash register appends.
func RegisterLockKey() string {
	return "ledger:register:open:lock"
}

// releaseScript deletes the lock only when still held by the owner token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// Lock is a redis-backed mutex for short critical sections.
type Lock struct {
	client *redis.Client
	ttl    time.Duration
	wait   time.Duration
}

// NewLock constructs a Lock with sane defaults for register appends.
func NewLock(client *redis.Client) *Lock {
	return &Lock{client: client, ttl: 5 * time.Second, wait: 2 * time.Second}
}

// Acquire takes the lock, returning a release func. It polls until the wait
// window elapses, then fails with ErrLockBusy.
func (l *Lock) Acquire(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	deadline := time.Now().Add(l.wait)
	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			return func() {
				releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
				defer cancel()
				_ = releaseScript.Run(releaseCtx, l.client, []string{key}, token).Err()
			}, nil
		}
		if time.Now().After(deadline) {
			return nil, ErrLockBusy
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
}
