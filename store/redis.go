package store

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// RedisCounters keeps the hot download counters in Redis. HINCRBY is atomic
// on the server, so concurrent readers of the same book never lose updates.
type RedisCounters struct {
	client *redis.Client
}

// NewRedisCounters connects and pings with a short timeout. Returns nil when
// the server cannot be reached; callers then fall back to the Mongo counters.
func NewRedisCounters(addr string) *RedisCounters {
	client := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), reachTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil
	}
	return &RedisCounters{client: client}
}

// NewRedisCountersFromClient wraps an existing client (used by tests).
func NewRedisCountersFromClient(client *redis.Client) *RedisCounters {
	return &RedisCounters{client: client}
}

func usageKey(bookID primitive.ObjectID) string {
	return "usage:" + bookID.Hex()
}

func (r *RedisCounters) IncrementDownload(ctx context.Context, bookID primitive.ObjectID, format string, n int64, at time.Time) error {
	pipe := r.client.TxPipeline()
	pipe.HIncrBy(ctx, usageKey(bookID), format, n)
	pipe.HSet(ctx, usageKey(bookID)+":last", format, at.UnixMilli())
	_, err := pipe.Exec(ctx)
	return err
}

func (r *RedisCounters) DownloadCount(ctx context.Context, bookID primitive.ObjectID, format string) (int64, error) {
	v, err := r.client.HGet(ctx, usageKey(bookID), format).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(v, 10, 64)
}

// LastAccessed returns the most recent recorded access, zero when none.
func (r *RedisCounters) LastAccessed(ctx context.Context, bookID primitive.ObjectID, format string) (time.Time, error) {
	v, err := r.client.HGet(ctx, usageKey(bookID)+":last", format).Result()
	if err == redis.Nil {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms), nil
}
