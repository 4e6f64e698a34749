package grooming

import (
	"context"
	"errors"
	"time"

	"tooltool/pkg/queue"
)

// retryDelay 队列读取失败 (例如 Redis 断线) 后的等待时间
const retryDelay = time.Second

// RunWorker 消费 upload-complete 触发，对每个摘要执行一次单文件校验
// ctx 取消或队列关闭时返回 nil
func (g *Groomer) RunWorker(ctx context.Context, consumer queue.Consumer) error {
	g.log.Info("upload-complete worker started")
	for {
		msg, err := consumer.Consume(ctx)
		switch {
		case err == nil:
		case ctx.Err() != nil, errors.Is(err, queue.ErrClosed):
			g.log.Info("upload-complete worker stopped")
			return nil
		default:
			g.log.Warn("failed to read trigger queue", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(retryDelay):
			}
			continue
		}

		if err := g.CheckFile(ctx, msg.Digest); err != nil {
			g.log.Error("failed to check file", "sha512", msg.Digest.String(), "message_id", msg.ID, "error", err)
		}
	}
}
