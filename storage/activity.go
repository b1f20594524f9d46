package storage

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisActivity records per-user last-active timestamps in Redis. The values
// are write-only from the server's point of view; they exist for operators
// and expire after ttl.
type RedisActivity struct {
	redis *redis.Client
	ttl   time.Duration
	now   func() time.Time
}

// NewRedisActivity creates an activity recorder using the provided Redis client and TTL.
func NewRedisActivity(client *redis.Client, ttl time.Duration) *RedisActivity {
	if client == nil {
		panic("storage.NewRedisActivity: redis client is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &RedisActivity{redis: client, ttl: ttl, now: time.Now}
}

// Touch stores the current time as the user's last activity.
func (a *RedisActivity) Touch(ctx context.Context, userID string) error {
	if userID == "" {
		return nil
	}
	ts := strconv.FormatInt(a.now().UTC().UnixMilli(), 10)
	return a.redis.Set(ctx, activityKey(userID), ts, a.ttl).Err()
}

func activityKey(userID string) string {
	return "last-active:" + userID
}
