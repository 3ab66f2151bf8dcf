package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"polywatch/internal/model"
)

const (
	fingerprintKeyPrefix = "wallet:fingerprint:"
	alertLockKeyPrefix   = "alert:lock:"
	statKeyPrefix        = "stats:wallet:"
	healthKey            = "health:current"

	alertLockTTL   = 30 * time.Second
	healthTTL      = 2 * time.Minute
	redisCallLimit = 2 * time.Second
)

// Redis wraps the shared Redis client: alert locks, the fingerprint
// cache, wallet counters, and the health snapshot.
type Redis struct {
	logger *zap.Logger
	client *redis.Client
}

// NewRedis connects to Redis. The connection is verified eagerly so a
// misconfigured address fails at startup, not mid-pipeline.
func NewRedis(logger *zap.Logger, addr, password string) (*Redis, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})

	ctx, cancel := context.WithTimeout(context.Background(), redisCallLimit)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	logger.Info("redis connected", zap.String("addr", addr))
	return &Redis{logger: logger, client: client}, nil
}

// Close releases the client.
func (r *Redis) Close() error {
	return r.client.Close()
}

// AcquireAlertLock takes the short per-(wallet, market) lock that
// serializes concurrent alert attempts. ok=false means another worker
// holds it; an error means Redis itself is unavailable.
func (r *Redis) AcquireAlertLock(ctx context.Context, wallet, marketID string) (bool, error) {
	key := alertLockKeyPrefix + wallet + ":" + marketID
	ok, err := r.client.SetNX(ctx, key, 1, alertLockTTL).Result()
	if err != nil {
		return false, fmt.Errorf("acquire alert lock: %w", err)
	}
	return ok, nil
}

// ReleaseAlertLock drops the lock early instead of waiting out the TTL.
func (r *Redis) ReleaseAlertLock(ctx context.Context, wallet, marketID string) {
	key := alertLockKeyPrefix + wallet + ":" + marketID
	if err := r.client.Del(ctx, key).Err(); err != nil {
		r.logger.Debug("release alert lock failed", zap.String("key", key), zap.Error(err))
	}
}

// GetFingerprint reads a cached fingerprint. A missing key is not an
// error; ok reports whether anything was found.
func (r *Redis) GetFingerprint(ctx context.Context, address string) (*model.WalletFingerprint, bool, error) {
	raw, err := r.client.Get(ctx, fingerprintKeyPrefix+address).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read fingerprint cache: %w", err)
	}

	var fp model.WalletFingerprint
	if err := json.Unmarshal(raw, &fp); err != nil {
		// A corrupt entry is treated as a miss and overwritten later.
		r.logger.Warn("corrupt fingerprint cache entry", zap.String("address", address), zap.Error(err))
		return nil, false, nil
	}
	return &fp, true, nil
}

// SetFingerprint caches a computed fingerprint for ttl.
func (r *Redis) SetFingerprint(ctx context.Context, address string, fp *model.WalletFingerprint, ttl time.Duration) error {
	raw, err := json.Marshal(fp)
	if err != nil {
		return fmt.Errorf("encode fingerprint: %w", err)
	}
	if err := r.client.Set(ctx, fingerprintKeyPrefix+address, raw, ttl).Err(); err != nil {
		return fmt.Errorf("write fingerprint cache: %w", err)
	}
	return nil
}

// IncrStat bumps a wallet pipeline counter. Counters are best effort.
func (r *Redis) IncrStat(ctx context.Context, name string) {
	if err := r.client.Incr(ctx, statKeyPrefix+name).Err(); err != nil {
		r.logger.Debug("stat increment failed", zap.String("stat", name), zap.Error(err))
	}
}

// Stats reads the current wallet pipeline counters.
func (r *Redis) Stats(ctx context.Context, names ...string) (map[string]int64, error) {
	out := make(map[string]int64, len(names))
	for _, name := range names {
		v, err := r.client.Get(ctx, statKeyPrefix+name).Int64()
		if errors.Is(err, redis.Nil) {
			out[name] = 0
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read stat %s: %w", name, err)
		}
		out[name] = v
	}
	return out, nil
}

// WriteHealth publishes the current health snapshot with a short TTL so
// a dead process goes stale instead of lying.
func (r *Redis) WriteHealth(ctx context.Context, snapshot any) error {
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("encode health snapshot: %w", err)
	}
	if err := r.client.Set(ctx, healthKey, raw, healthTTL).Err(); err != nil {
		return fmt.Errorf("write health snapshot: %w", err)
	}
	return nil
}
