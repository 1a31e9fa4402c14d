package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/schoolbot/backend/internal/metrics"
	"github.com/schoolbot/backend/pkg/logger"
	"github.com/schoolbot/backend/pkg/utils"
)

// Client caches generated replies keyed by a digest of the question text.
// Only history-less conversations consult it, so a cached reply can never
// leak another user's context. Cache errors degrade to a miss.
type Client struct {
	client *redis.Client
	ttl    time.Duration
}

func NewClient(host string, port int, password string, db int, ttl time.Duration) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	if _, err := client.Ping(context.Background()).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis reply cache initialized",
		zap.String("addr", fmt.Sprintf("%s:%d", host, port)),
		zap.Duration("ttl", ttl),
	)

	return &Client{client: client, ttl: ttl}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) GetReply(ctx context.Context, question string) (string, bool) {
	key := replyKey(question)
	reply, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		metrics.CacheMisses.Inc()
		return "", false
	}
	if err != nil {
		logger.Warn("Reply cache read failed", zap.Error(err))
		metrics.CacheMisses.Inc()
		return "", false
	}

	metrics.CacheHits.Inc()
	logger.Debug("Reply cache hit", zap.String("key", key))
	return reply, true
}

func (c *Client) SetReply(ctx context.Context, question, reply string) {
	if err := c.client.Set(ctx, replyKey(question), reply, c.ttl).Err(); err != nil {
		logger.Warn("Reply cache write failed", zap.Error(err))
	}
}

func replyKey(question string) string {
	return fmt.Sprintf("reply:%s", utils.HashString(question))
}
