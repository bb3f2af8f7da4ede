package events

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dvloznov/cashflow-ledger/internal/clock"
	"github.com/redis/go-redis/v9"
)

// redisClient is the subset of *redis.Client the publisher needs.
type redisClient interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisPublisher publishes JSON envelopes on a Redis pub/sub channel.
type RedisPublisher struct {
	client  redisClient
	channel string
	clock   clock.Clock
}

// NewRedisPublisher wraps an existing client. Envelopes are stamped with
// clk.
func NewRedisPublisher(client redisClient, channel string, clk clock.Clock) *RedisPublisher {
	return &RedisPublisher{client: client, channel: channel, clock: clk}
}

// DialRedis connects to the given URL ("redis://host:port/db" or a bare
// host:port) and verifies the connection with a ping.
func DialRedis(ctx context.Context, url string) (*redis.Client, error) {
	if !strings.Contains(url, "://") {
		url = "redis://" + url
	}
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("DialRedis: parse url: %w", err)
	}
	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("DialRedis: ping: %w", err)
	}
	return client, nil
}

// Emit implements Publisher.
func (p *RedisPublisher) Emit(ctx context.Context, name string, payload interface{}) error {
	msg, err := newEnvelope(name, payload, p.clock.Now())
	if err != nil {
		return fmt.Errorf("RedisPublisher.Emit: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel, msg).Err(); err != nil {
		return fmt.Errorf("RedisPublisher.Emit: publish %s: %w", name, err)
	}
	return nil
}
