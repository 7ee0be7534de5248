package config

import (
	"context"
	"os"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

var (
	rdb    *redis.Client
	locker *redislock.Client
)

func GetRedisDB() *redis.Client {
	return rdb
}

// GetRedisLock returns nil until redis is connected. Callers treat a nil
// locker as "no distributed lock available" and rely on the database.
func GetRedisLock() *redislock.Client {
	return locker
}

func SetRedisValue(ctx context.Context, key string, value string, exp time.Duration) error {
	if rdb == nil {
		return nil
	}
	return rdb.Set(ctx, key, value, exp).Err()
}

func GetRedisValue(ctx context.Context, key string) (string, bool, error) {
	if rdb == nil {
		return "", false, nil
	}
	val, err := rdb.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return "", false, nil
		}
		return "", false, err
	}
	return val, true, nil
}

func redisAddress() string {
	if addr := os.Getenv("REDIS_ADDRESS"); addr != "" {
		return addr
	}
	return "localhost:6379"
}

// ConnectRedis makes one attempt and sets the global client and lock client.
func ConnectRedis(ctx context.Context) error {
	client := redis.NewClient(&redis.Options{
		Addr:     redisAddress(),
		Password: os.Getenv("REDIS_PASSWORD"),
		PoolSize: 20,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return err
	}
	rdb = client
	locker = redislock.New(rdb)
	return nil
}

// ConnectRedisWithRetry retries ConnectRedis with the same backoff as the
// database until it succeeds or ctx ends.
func ConnectRedisWithRetry(ctx context.Context) error {
	logger := GetLogger().WithField("addr", redisAddress())
	for attempt := 1; ; attempt++ {
		err := ConnectRedis(ctx)
		if err == nil {
			logger.WithField("attempt", attempt).Info("connected to redis")
			return nil
		}
		sleep := backoff(attempt)
		logger.WithFields(logrus.Fields{"attempt": attempt, "retry_in": sleep.String()}).WithError(err).Warn("failed to connect redis")
		if err := sleepContext(ctx, sleep); err != nil {
			return err
		}
	}
}
