package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"docqa/internal/logger"
)

const keyPrefix = "docqa:lock:"

// RedisConfig tunes the distributed lock.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
	Retry    time.Duration `yaml:"retry"`
}

// Redis implements Locker with SET NX and a TTL. Every acquisition uses its
// own token so a holder can only release what it set.
type Redis struct {
	client  *redis.Client
	ownerID string
	seq     atomic.Uint64
	ttl     time.Duration
	retry   time.Duration
}

var _ Locker = (*Redis)(nil)

func NewRedis(client *redis.Client, ttl, retry time.Duration) *Redis {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	if retry <= 0 {
		retry = 50 * time.Millisecond
	}
	return &Redis{client: client, ownerID: generateOwnerID(), ttl: ttl, retry: retry}
}

// generateOwnerID returns hostname:pid:random.
func generateOwnerID() string {
	hostname, _ := os.Hostname()
	randomBytes := make([]byte, 8)
	_, _ = rand.Read(randomBytes)
	return fmt.Sprintf("%s:%d:%s", hostname, os.Getpid(), hex.EncodeToString(randomBytes))
}

func (l *Redis) OwnerID() string { return l.ownerID }

// Lock polls until the key is free or ctx ends.
func (l *Redis) Lock(ctx context.Context, key string) (func(), error) {
	token := fmt.Sprintf("%s:%d", l.ownerID, l.seq.Add(1))
	redisKey := keyPrefix + key
	ticker := time.NewTicker(l.retry)
	defer ticker.Stop()
	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := l.release(rctx, redisKey, token); err != nil {
				logger.FromContext(ctx).Warn("release lock failed", zap.String("key", key), zap.Error(err))
			}
		})
	}, nil
}

var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

func (l *Redis) release(ctx context.Context, redisKey, token string) error {
	_, err := releaseScript.Run(ctx, l.client, []string{redisKey}, token).Result()
	if err != nil && err != redis.Nil {
		return err
	}
	return nil
}

func (l *Redis) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}
