package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/ascend-academy/ascend/internal/domain"
	"github.com/ascend-academy/ascend/internal/infra/logger"
)

// DefaultChannel is the Pub/Sub channel reward events go to.
const DefaultChannel = "ascend:rewards"

// Redis publishes events as JSON on a Redis Pub/Sub channel.
type Redis struct {
	rdb     *goredis.Client
	channel string
}

// NewRedis connects and pings the server.
func NewRedis(ctx context.Context, opts Options, log *logger.Logger) (*Redis, error) {
	addr := strings.TrimSpace(opts.Addr)
	if addr == "" {
		return nil, &domain.ConfigError{Field: "events.addr", Reason: "required for the redis driver"}
	}
	ch := strings.TrimSpace(opts.Channel)
	if ch == "" {
		ch = DefaultChannel
	}
	if log == nil {
		log = logger.Nop()
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		Password:    opts.Password,
		DB:          opts.DB,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Info("reward bus connected", "service", "RedisRewardBus", "addr", addr, "channel", ch)
	return &Redis{rdb: rdb, channel: ch}, nil
}

// Publish sends ev as JSON. Consumers subscribe to the channel directly.
func (b *Redis) Publish(ctx context.Context, ev domain.RewardEvent) error {
	if b == nil || b.rdb == nil {
		return fmt.Errorf("redis reward bus not initialized")
	}
	raw, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, b.channel, raw).Err()
}

func (b *Redis) Close() error {
	if b == nil || b.rdb == nil {
		return nil
	}
	return b.rdb.Close()
}
