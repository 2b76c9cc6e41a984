package events

import (
	"context"
	"fmt"

	"Auditum/internal/config"
)

// Handler 处理一条事件消息。
type Handler func(ctx context.Context, msg Message) error

// Publisher 负责向外部系统投递事件。
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
	Close() error
}

// History 读取最近发布的事件，最新的在最前。
type History interface {
	History(ctx context.Context, limit int) ([]Message, error)
}

// Open 根据配置创建发布器。driver 为 none 时返回 nil。
func Open(cfg config.EventsConfig) (Publisher, error) {
	switch cfg.Driver {
	case "", "none":
		return nil, nil
	case "memory":
		return NewMemoryPublisher(0), nil
	case "redis":
		pub, err := NewRedisPublisher(RedisConfig{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Key:      cfg.Redis.Key,
			Channel:  cfg.Redis.Channel,
		})
		if err != nil {
			return nil, err
		}
		return pub, nil
	case "rabbitmq":
		pub, err := NewRabbitMQPublisher(RabbitMQConfig{
			URL:        cfg.RabbitMQ.URL,
			Exchange:   cfg.RabbitMQ.Exchange,
			RoutingKey: cfg.RabbitMQ.RoutingKey,
			Queue:      cfg.RabbitMQ.Queue,
			Durable:    true,
		})
		if err != nil {
			return nil, err
		}
		return pub, nil
	default:
		return nil, fmt.Errorf("不支持的事件驱动: %s", cfg.Driver)
	}
}
