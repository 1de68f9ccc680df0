package quota

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var _ Backend = (*RedisBackend)(nil)

var unlockScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// addHeldScript adds ARGV[1] to the hold counter, never letting it go below
// zero, and refreshes its expiry to ARGV[2] ms.
var addHeldScript = redis.NewScript(`
local v = redis.call('INCRBY', KEYS[1], ARGV[1])
if v <= 0 then
  redis.call('DEL', KEYS[1])
  return 0
end
redis.call('PEXPIRE', KEYS[1], ARGV[2])
return v
`)

// RedisBackend shares locks and holds between server and worker instances.
type RedisBackend struct {
	cmd       redis.Cmdable
	keyPrefix string
	lockTTL   time.Duration
	holdTTL   time.Duration
	retry     time.Duration
}

func NewRedisBackend(cmd redis.Cmdable) *RedisBackend {
	return &RedisBackend{
		cmd:       cmd,
		keyPrefix: "quota:",
		lockTTL:   10 * time.Second,
		holdTTL:   24 * time.Hour,
		retry:     20 * time.Millisecond,
	}
}

func (r *RedisBackend) lockKey(key Key) string {
	return fmt.Sprintf("%slock:%s", r.keyPrefix, key)
}

func (r *RedisBackend) heldKey(key Key) string {
	return fmt.Sprintf("%sheld:%s", r.keyPrefix, key)
}

// Lock spins on SET NX until it wins or ctx is done. The lock expires after
// lockTTL so a crashed holder cannot wedge the key. It is not renewed: if a
// commit outlives lockTTL, the conditional debit in the message store still
// refuses to push usage past a limit and the commit fails with
// ErrQuotaConflict.
func (r *RedisBackend) Lock(ctx context.Context, key Key) (func(), error) {
	k := r.lockKey(key)
	token := uuid.NewString()

	for {
		ok, err := r.cmd.SetNX(ctx, k, token, r.lockTTL).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			break
		}
		t := time.NewTimer(r.retry)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			_ = unlockScript.Run(context.Background(), r.cmd, []string{k}, token).Err()
		})
	}, nil
}

func (r *RedisBackend) Held(ctx context.Context, key Key) (int, error) {
	v, err := r.cmd.Get(ctx, r.heldKey(key)).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return v, nil
}

func (r *RedisBackend) AddHeld(ctx context.Context, key Key, delta int) error {
	return addHeldScript.Run(ctx, r.cmd, []string{r.heldKey(key)}, delta, r.holdTTL.Milliseconds()).Err()
}
