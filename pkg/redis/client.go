package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/canopy-network/validatorx/pkg/retry"
	"github.com/canopy-network/validatorx/pkg/utils"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// releaseScript deletes the lock only while it still holds our token, so a holder whose lease
// already expired cannot release a lock that another replica has since acquired.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Client wraps the Redis client. It backs the shared fast-path cache tier, the refresh lock
// and the refresh notification channel.
type Client struct {
	client *redis.Client
	logger *zap.Logger
	// valueTTL bounds how long published compartments live; 0 keeps them until overwritten.
	valueTTL time.Duration
}

// NewClient creates a new Redis client using environment variables for configuration.
// Environment variables:
//   - REDIS_HOST: Redis host (default: "localhost")
//   - REDIS_PORT: Redis port (default: "6379")
//   - REDIS_PASSWORD: Redis password (default: "")
//   - REDIS_DB: Redis database number (default: "0")
//   - REDIS_VALUE_TTL: expiry of published cache values (default: 0, no expiry)
func NewClient(ctx context.Context, logger *zap.Logger) (*Client, error) {
	host := utils.Env("REDIS_HOST", "localhost")
	port := utils.Env("REDIS_PORT", "6379")
	password := utils.Env("REDIS_PASSWORD", "")
	db := utils.EnvInt("REDIS_DB", 0)
	valueTTL := utils.EnvDuration("REDIS_VALUE_TTL", 0)

	addr := fmt.Sprintf("%s:%s", host, port)

	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,

		// Connection pool
		PoolSize:     10,
		MinIdleConns: 2,

		// Compartment payloads can be tens of MB
		DialTimeout:  5 * time.Second,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	})

	connCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	cfg := retry.DefaultConfig()
	cfg.MaxRetries = 3
	if err := retry.WithBackoff(connCtx, cfg, logger, "redis_connection", func() error {
		return rdb.Ping(connCtx).Err()
	}); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}

	logger.Info("Connected to Redis",
		zap.String("addr", addr),
		zap.Int("db", db),
		zap.Duration("valueTTL", valueTTL))

	return &Client{
		client:   rdb,
		logger:   logger,
		valueTTL: valueTTL,
	}, nil
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.client.Close()
}

// Health checks if Redis is healthy.
func (c *Client) Health(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Get returns the value stored at key. A missing key is reported as ok=false with a nil error.
func (c *Client) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

// Set stores value at key, overwriting any previous value.
func (c *Client) Set(ctx context.Context, key string, value []byte) error {
	return c.client.Set(ctx, key, value, c.valueTTL).Err()
}

// AcquireLock tries once to take the named lease for ttl. The returned token is needed to release it.
// acquired=false with a nil error means another holder owns the lease.
func (c *Client) AcquireLock(ctx context.Context, name string, ttl time.Duration) (token string, acquired bool, err error) {
	token = uuid.NewString()
	ok, err := c.client.SetNX(ctx, name, token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("acquire lock %s: %w", name, err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// ReleaseLock releases the named lease if token still owns it. Releasing an expired lease is a no-op.
func (c *Client) ReleaseLock(ctx context.Context, name, token string) error {
	deleted, err := releaseScript.Run(ctx, c.client, []string{name}, token).Int()
	if err != nil {
		return fmt.Errorf("release lock %s: %w", name, err)
	}
	if deleted == 0 {
		c.logger.Warn("Lock expired before release", zap.String("lock", name))
	}
	return nil
}

// Publish publishes a message to a Redis Pub/Sub channel.
// This is a best-effort operation - errors are logged but not returned
// so a notification failure never fails a refresh.
func (c *Client) Publish(ctx context.Context, channel string, message interface{}) {
	if err := c.client.Publish(ctx, channel, message).Err(); err != nil {
		c.logger.Warn("Failed to publish Redis message",
			zap.String("channel", channel),
			zap.Error(err))
	}
}

// PSubscribe subscribes to one or more Redis Pub/Sub channel patterns.
// The caller is responsible for closing the PubSub object when done.
func (c *Client) PSubscribe(ctx context.Context, patterns ...string) *redis.PubSub {
	c.logger.Debug("Subscribing to Redis patterns", zap.Strings("patterns", patterns))
	return c.client.PSubscribe(ctx, patterns...)
}

// Subscribe subscribes to channel and forwards message payloads until ctx is done. The returned
// channel is closed once forwarding stops. Dropped connections are re-established by the client.
func (c *Client) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	sub := c.client.Subscribe(ctx, channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}
	c.logger.Debug("Subscribed to Redis channel", zap.String("channel", channel))

	out := make(chan []byte, 1)
	go func() {
		defer close(out)
		defer func() { _ = sub.Close() }()

		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
