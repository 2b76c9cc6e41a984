package events

import (
	"context"
	"errors"
	"sync"
)

const defaultMemoryBuffer = 256

// MemoryPublisher 在进程内缓存事件，供 API 查询与测试消费。投递永不阻塞：
// 消费端跟不上时丢弃该条的 channel 投递，但仍保留在最近事件列表中。
type MemoryPublisher struct {
	mu      sync.Mutex
	ch      chan Message
	recent  []Message
	limit   int
	dropped int
	closed  bool
}

// NewMemoryPublisher 创建内存发布器，size 同时限制 channel 缓冲与最近事件数量。
func NewMemoryPublisher(size int) *MemoryPublisher {
	if size <= 0 {
		size = defaultMemoryBuffer
	}
	return &MemoryPublisher{ch: make(chan Message, size), limit: size}
}

// Publish 记录并投递事件。
func (p *MemoryPublisher) Publish(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return errors.New("发布器已关闭")
	}
	p.recent = append(p.recent, msg)
	if len(p.recent) > p.limit {
		p.recent = p.recent[len(p.recent)-p.limit:]
	}
	select {
	case p.ch <- msg:
	default:
		p.dropped++
	}
	return nil
}

// Recent 返回最近的事件，最新的在最前。limit 非正数时返回全部。
func (p *MemoryPublisher) Recent(limit int) []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	if limit <= 0 || limit > len(p.recent) {
		limit = len(p.recent)
	}
	out := make([]Message, 0, limit)
	for i := len(p.recent) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, p.recent[i])
	}
	return out
}

// History 实现 History。
func (p *MemoryPublisher) History(_ context.Context, limit int) ([]Message, error) {
	return p.Recent(limit), nil
}

// Dropped 返回因缓冲已满未能投递到 channel 的事件数。
func (p *MemoryPublisher) Dropped() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dropped
}

// Consume 启动指定数量的工作协程消费事件，直到 ctx 取消或发布器关闭。
func (p *MemoryPublisher) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if workerCount <= 0 {
		workerCount = 1
	}
	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case msg, ok := <-p.ch:
					if !ok {
						return
					}
					_ = handler(ctx, msg)
				}
			}
		}()
	}
	wg.Wait()
	return ctx.Err()
}

// Close 关闭发布器，已缓冲的事件仍可被消费。
func (p *MemoryPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		close(p.ch)
		p.closed = true
	}
	return nil
}
