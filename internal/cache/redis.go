package cache

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Redis wraps the go-redis client
type Redis struct {
	Client *redis.Client
}

// New connects to Redis using a redis:// URL
func New(ctx context.Context, redisURL string) (*Redis, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	log.Info().Msg("Redis connection established")
	return &Redis{Client: client}, nil
}

// Close closes the client
func (r *Redis) Close() error {
	return r.Client.Close()
}

// Health checks if Redis is reachable
func (r *Redis) Health(ctx context.Context) error {
	return r.Client.Ping(ctx).Err()
}

// ErrLockHeld is returned when another holder owns the lock
var ErrLockHeld = errors.New("lock is held by another process")

// releaseScript deletes the key only if it still holds our token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Lock is a held distributed lock
type Lock struct {
	redis *Redis
	key   string
	token string
}

// AcquireLock takes key for ttl using SET NX PX. Returns ErrLockHeld when
// someone else holds it.
func (r *Redis) AcquireLock(ctx context.Context, key string, ttl time.Duration) (*Lock, error) {
	token, err := randomToken()
	if err != nil {
		return nil, err
	}

	ok, err := r.Client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !ok {
		return nil, ErrLockHeld
	}
	return &Lock{redis: r, key: key, token: token}, nil
}

// Release drops the lock if it is still ours
func (l *Lock) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.redis.Client, []string{l.key}, l.token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

func randomToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate lock token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
