package redis

import (
	"context"
	"time"

	"quiz-room-service/internal/domain"

	"github.com/redis/go-redis/v9"
)

// CodeRegistry reserves room codes across service instances.
//
// Keys: room:code:{code} -> "1", set with NX and expiring after the retention ttl.
type CodeRegistry struct {
	client *redis.Client
}

func NewCodeRegistry(client *redis.Client) *CodeRegistry {
	return &CodeRegistry{client: client}
}

func (c *CodeRegistry) Reserve(ctx context.Context, code string, ttl time.Duration) error {
	ok, err := c.client.SetNX(ctx, c.key(code), "1", ttl).Result()
	if err != nil {
		return domain.Unavailable("reserve room code", err)
	}
	if !ok {
		return domain.ErrRoomCodeTaken
	}
	return nil
}

func (c *CodeRegistry) Release(ctx context.Context, code string) error {
	if err := c.client.Del(ctx, c.key(code)).Err(); err != nil {
		return domain.Unavailable("release room code", err)
	}
	return nil
}

func (c *CodeRegistry) key(code string) string {
	return "room:code:" + code
}
