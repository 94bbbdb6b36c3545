package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/nla-consultoria/leadrelay/internal/config"
)

const claimPrefix = "leadrelay:claim:"

// Claims implements storage.Claims with SET NX so that several service
// instances agree on who sends a given partial delivery.
type Claims struct {
	client *goredis.Client
}

func NewClient(cfg config.RedisConfig) *goredis.Client {
	return goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

func NewClaims(client *goredis.Client) *Claims {
	return &Claims{client: client}
}

func (c *Claims) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := c.client.SetNX(ctx, claimPrefix+key, time.Now().UTC().Format(time.RFC3339), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", key, err)
	}
	return ok, nil
}

func (c *Claims) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
