package queue

import (
	"context"
	"sync"
)

// Local 进程内队列 (未配置 Redis 时，serve 命令自带的 worker 使用)
type Local struct {
	ch        chan Message
	done      chan struct{}
	closeOnce sync.Once
}

var _ Queue = (*Local)(nil)

func NewLocal(capacity int) *Local {
	if capacity <= 0 {
		capacity = 1024
	}
	return &Local{
		ch:   make(chan Message, capacity),
		done: make(chan struct{}),
	}
}

// Publish 不阻塞：缓冲区满时返回 ErrQueueFull (定时 Groomer 会兜底)
func (q *Local) Publish(ctx context.Context, msg Message) error {
	select {
	case <-q.done:
		return ErrClosed
	default:
	}
	select {
	case q.ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrQueueFull
	}
}

func (q *Local) Consume(ctx context.Context) (Message, error) {
	select {
	case msg := <-q.ch:
		return msg, nil
	case <-q.done:
		return Message{}, ErrClosed
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

func (q *Local) Close() error {
	q.closeOnce.Do(func() { close(q.done) })
	return nil
}
