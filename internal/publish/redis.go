package publish

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	apperrors "github.com/GriffinCanCode/reverser/internal/errors"
	"github.com/GriffinCanCode/reverser/internal/resilience"
)

// RedisSink appends items to a capped list and publishes each on a channel.
// The list key is the channel name plus ":log".
type RedisSink struct {
	client  *redis.Client
	channel string
	keep    int64
}

// NewRedisSink connects to url, retrying the initial ping.
func NewRedisSink(ctx context.Context, url, channel string, keep int) (*RedisSink, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInvalidConfig, "invalid redis url").WithMetadata("key", "REDIS_URL")
	}
	if channel == "" {
		channel = DefaultChannel
	}
	if keep <= 0 {
		keep = DefaultBatcherMaxSize
	}

	client := redis.NewClient(opts)
	err = resilience.Retry(ctx, resilience.InitRetryConfig(), func() error {
		pctx, cancel := context.WithTimeout(ctx, pingTimeout)
		defer cancel()
		if err := client.Ping(pctx).Err(); err != nil {
			return apperrors.Wrap(err, apperrors.CodeResourceUnavailable, "redis ping")
		}
		return nil
	})
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", opts.Addr, err)
	}

	return &RedisSink{client: client, channel: channel, keep: int64(keep)}, nil
}

// Publish writes the batch in one transaction.
func (s *RedisSink) Publish(ctx context.Context, items []Item) error {
	if len(items) == 0 {
		return nil
	}
	payloads, err := encode(items)
	if err != nil {
		return err
	}

	key := s.channel + listSuffix
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, key, payloads...)
	pipe.LTrim(ctx, key, -s.keep, -1)
	for _, p := range payloads {
		pipe.Publish(ctx, s.channel, p)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return apperrors.Wrap(err, apperrors.CodeResourceUnavailable, "redis publish")
	}
	return nil
}

// Close releases the connection pool.
func (s *RedisSink) Close() error {
	return s.client.Close()
}

func encode(items []Item) ([]any, error) {
	out := make([]any, len(items))
	for i, item := range items {
		b, err := json.Marshal(item)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.CodeInternal, "encode item")
		}
		out[i] = string(b)
	}
	return out, nil
}
