package events

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisConfig 描述 Redis 事件发布的连接参数。
type RedisConfig struct {
	Address  string
	Password string
	DB       int
	// Key 为保存事件历史的 list。
	Key string
	// Channel 为实时推送的 pub/sub 频道，为空时不推送。
	Channel string
	// MaxLen 限制 list 长度，默认 1000。
	MaxLen int64
}

// RedisPublisher 将事件 LPUSH 到 list 并 PUBLISH 到频道。
type RedisPublisher struct {
	client  *redis.Client
	key     string
	channel string
	maxLen  int64
}

// NewRedisPublisher 创建 Redis 发布器并校验连接。
func NewRedisPublisher(cfg RedisConfig) (*RedisPublisher, error) {
	if cfg.Address == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	return NewRedisPublisherWithClient(client, cfg), nil
}

// NewRedisPublisherWithClient 复用调用方已有的客户端。
func NewRedisPublisherWithClient(client *redis.Client, cfg RedisConfig) *RedisPublisher {
	key := cfg.Key
	if key == "" {
		key = "auditum:module_events"
	}
	maxLen := cfg.MaxLen
	if maxLen <= 0 {
		maxLen = 1000
	}
	return &RedisPublisher{client: client, key: key, channel: cfg.Channel, maxLen: maxLen}
}

// Publish 在一个 pipeline 中写入历史、裁剪长度并推送。
func (p *RedisPublisher) Publish(ctx context.Context, msg Message) error {
	payload, err := msg.Encode()
	if err != nil {
		return err
	}
	_, err = p.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, p.key, payload)
		pipe.LTrim(ctx, p.key, 0, p.maxLen-1)
		if p.channel != "" {
			pipe.Publish(ctx, p.channel, payload)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("Redis 发布事件失败: %w", err)
	}
	return nil
}

// Recent 读取 list 中最近的 limit 条事件。
func (p *RedisPublisher) Recent(ctx context.Context, limit int64) ([]Message, error) {
	if limit <= 0 {
		limit = p.maxLen
	}
	values, err := p.client.LRange(ctx, p.key, 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("Redis 读取事件失败: %w", err)
	}
	out := make([]Message, 0, len(values))
	for _, v := range values {
		msg, err := Decode([]byte(v))
		if err != nil {
			continue
		}
		out = append(out, msg)
	}
	return out, nil
}

// History 实现 History。
func (p *RedisPublisher) History(ctx context.Context, limit int) ([]Message, error) {
	return p.Recent(ctx, int64(limit))
}

// Close 关闭 Redis 连接。
func (p *RedisPublisher) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	return p.client.Close()
}
