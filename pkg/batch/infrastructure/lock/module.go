package lock

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/fx"

	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	config "github.com/tigerroll/chunkflow/pkg/batch/core/config"
	logger "github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// NewLocker builds the Locker selected by infrastructure.lock.type.
func NewLocker(lc fx.Lifecycle, cfg *config.Config) (port.Locker, error) {
	lockCfg := cfg.Chunkflow.Infrastructure.Lock
	switch strings.ToLower(lockCfg.Type) {
	case "", "memory":
		return NewMemoryLocker(), nil
	case "redis":
		rdb, err := NewRedisClient(context.Background(), lockCfg.RedisURL)
		if err != nil {
			return nil, err
		}
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				logger.Debugf("Closing redis lock client.")
				return rdb.Close()
			},
		})
		return NewRedisLocker(rdb, time.Duration(lockCfg.TTLSeconds)*time.Second), nil
	default:
		return nil, fmt.Errorf("unknown lock type: %s", lockCfg.Type)
	}
}

// Module provides the launch Locker.
var Module = fx.Options(
	fx.Provide(NewLocker),
)
