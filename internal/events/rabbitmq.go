package events

import (
	"context"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// RabbitMQConfig 描述 RabbitMQ 事件发布的连接参数。
type RabbitMQConfig struct {
	URL        string
	Exchange   string
	RoutingKey string
	// Queue 非空时声明并绑定队列，保证没有消费者时事件也不丢失。
	Queue   string
	Durable bool
}

// RabbitMQPublisher 以 JSON 持久消息的形式发布事件。
type RabbitMQPublisher struct {
	mu         sync.Mutex
	conn       *amqp.Connection
	ch         *amqp.Channel
	exchange   string
	routingKey string
}

// NewRabbitMQPublisher 建立连接并声明拓扑。
func NewRabbitMQPublisher(cfg RabbitMQConfig) (*RabbitMQPublisher, error) {
	if cfg.URL == "" {
		return nil, errors.New("RabbitMQ URL 不能为空")
	}
	routingKey := cfg.RoutingKey
	if routingKey == "" {
		routingKey = cfg.Queue
	}
	if routingKey == "" {
		routingKey = "auditum.module_events"
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("连接 RabbitMQ 失败: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("创建 RabbitMQ channel 失败: %w", err)
	}
	if err := declareTopology(ch, cfg, routingKey); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}
	return &RabbitMQPublisher{conn: conn, ch: ch, exchange: cfg.Exchange, routingKey: routingKey}, nil
}

func declareTopology(ch *amqp.Channel, cfg RabbitMQConfig, routingKey string) error {
	if cfg.Exchange != "" {
		if err := ch.ExchangeDeclare(cfg.Exchange, amqp.ExchangeTopic, cfg.Durable, false, false, false, nil); err != nil {
			return fmt.Errorf("声明 RabbitMQ exchange 失败: %w", err)
		}
	}
	if cfg.Queue == "" {
		return nil
	}
	if _, err := ch.QueueDeclare(cfg.Queue, cfg.Durable, false, false, false, nil); err != nil {
		return fmt.Errorf("声明 RabbitMQ 队列失败: %w", err)
	}
	if cfg.Exchange != "" {
		if err := ch.QueueBind(cfg.Queue, routingKey, cfg.Exchange, false, nil); err != nil {
			return fmt.Errorf("绑定 RabbitMQ 队列失败: %w", err)
		}
	}
	return nil
}

// Publish 发布一条事件。amqp channel 不支持并发发布，这里串行化。
func (p *RabbitMQPublisher) Publish(ctx context.Context, msg Message) error {
	if p == nil || p.ch == nil {
		return errors.New("RabbitMQ 发布器未初始化")
	}
	payload, err := msg.Encode()
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	err = p.ch.PublishWithContext(ctx, p.exchange, p.routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.ID,
		Type:         string(msg.Kind),
		Timestamp:    msg.At,
		Body:         payload,
	})
	if err != nil {
		return fmt.Errorf("RabbitMQ 发布事件失败: %w", err)
	}
	return nil
}

// Close 关闭 RabbitMQ 连接。
func (p *RabbitMQPublisher) Close() error {
	if p == nil {
		return nil
	}
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
