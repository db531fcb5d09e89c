package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/ChinnuTalawar/carzy-drive-joy/internal/logs"
)

// Client wraps the Redis connection.
type Client struct {
	rdb *goredis.Client
}

// NewClient connects to Redis with retry.
func NewClient(addr string) (*Client, error) {
	log := logs.For("redis")
	rdb := goredis.NewClient(&goredis.Options{Addr: addr})
	for i := 0; i < 20; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := rdb.Ping(ctx).Err(); err == nil {
			cancel()
			log.Info("connected to redis")
			return &Client{rdb: rdb}, nil
		}
		cancel()
		log.Warnf("waiting for redis... (%d/20)", i+1)
		time.Sleep(2 * time.Second)
	}
	return nil, fmt.Errorf("redis: failed to connect after 20 attempts")
}

// PutOnce stores a value meant to be read back exactly once.
func (c *Client) PutOnce(ctx context.Context, key, value string, ttl time.Duration) error {
	return c.rdb.Set(ctx, key, value, ttl).Err()
}

// TakeOnce reads and deletes key atomically. ok is false when the key is absent.
func (c *Client) TakeOnce(ctx context.Context, key string) (string, bool, error) {
	v, err := c.rdb.GetDel(ctx, key).Result()
	if errors.Is(err, goredis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

// ClaimOnce returns true only for the first caller to claim key within ttl.
func (c *Client) ClaimOnce(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, key, time.Now().Unix(), ttl).Result()
}

// Revoke adds a token id to the deny list until it would have expired anyway.
func (c *Client) Revoke(ctx context.Context, jti string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	return c.rdb.Set(ctx, "revoked:"+jti, 1, ttl).Err()
}

// IsRevoked reports whether the token id is on the deny list.
func (c *Client) IsRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := c.rdb.Exists(ctx, "revoked:"+jti).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Only increments while under the limit, so rejected attempts do not
// push the counter further.
var quotaScript = goredis.NewScript(`
local n = redis.call('GET', KEYS[1])
if n and tonumber(n) >= tonumber(ARGV[1]) then
  return 0
end
n = redis.call('INCR', KEYS[1])
if n == 1 then
  redis.call('EXPIRE', KEYS[1], ARGV[2])
end
return 1
`)

// OtpQuota is the daily per-contact OTP send guard.
type OtpQuota struct {
	c     *Client
	limit int64
	now   func() time.Time
}

// OtpQuota returns a guard allowing limit sends per contact per UTC day.
func (c *Client) OtpQuota(limit int64) *OtpQuota {
	return &OtpQuota{c: c, limit: limit, now: time.Now}
}

// CheckAndIncrement atomically consumes one send from today's quota.
// It returns false once the quota is exhausted.
func (q *OtpQuota) CheckAndIncrement(ctx context.Context, contact string) (bool, error) {
	day := q.now().UTC().Format("2006-01-02")
	key := "otp:usage:" + contact + ":" + day
	ok, err := quotaScript.Run(ctx, q.c.rdb, []string{key}, q.limit, int64((25 * time.Hour).Seconds())).Int()
	if err != nil {
		return false, fmt.Errorf("otp quota: %w", err)
	}
	return ok == 1, nil
}

// Close tears down the Redis connection.
func (c *Client) Close() error { return c.rdb.Close() }
