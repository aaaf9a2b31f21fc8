package lock

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	logger "github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

const redisKeyPrefix = "chunkflow:launch:"

// releaseScript deletes the key only while it still holds our token, so an
// expired lock taken over by another process is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker is a Locker shared by every process using the same Redis.
// A lock expires after ttl so a crashed holder cannot block launches forever.
type RedisLocker struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

var _ port.Locker = (*RedisLocker)(nil)

func NewRedisLocker(rdb redis.UniversalClient, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RedisLocker{rdb: rdb, ttl: ttl}
}

func (l *RedisLocker) TryLock(ctx context.Context, key string) (port.Unlock, bool, error) {
	redisKey := redisKeyPrefix + key
	token := model.NewID()
	ok, err := l.rdb.SetNX(ctx, redisKey, token, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}
	logger.Debugf("RedisLocker: acquired '%s' (ttl %s).", key, l.ttl)

	return func(ctx context.Context) error {
		released, err := releaseScript.Run(ctx, l.rdb, []string{redisKey}, token).Int()
		if err != nil {
			return fmt.Errorf("failed to release lock %s: %w", key, err)
		}
		if released == 0 {
			logger.Warnf("RedisLocker: lock '%s' expired before release.", key)
		}
		return nil
	}, true, nil
}

// NewRedisClient parses redis://:password@host:port/db and pings the server.
func NewRedisClient(ctx context.Context, connectionString string) (*redis.Client, error) {
	u, err := url.Parse(connectionString)
	if err != nil {
		return nil, fmt.Errorf("invalid redis connection string: %w", err)
	}

	password := ""
	if u.User != nil {
		password, _ = u.User.Password()
	}

	db := 0
	if u.Path != "" && u.Path != "/" {
		db, err = strconv.Atoi(strings.TrimPrefix(u.Path, "/"))
		if err != nil {
			return nil, fmt.Errorf("invalid db number in redis connection string: %w", err)
		}
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     u.Host,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return rdb, nil
}
