// Package grooming 包含后台整理任务：
//   - 校验 (verify): 把签名窗口已关闭的 PendingUpload 校验成 FileInstance
//   - 复制 (replicate): 把已校验的副本复制到所有配置的区域
//   - worker: 消费 upload-complete 触发队列，对单个文件执行校验
//
// 多个 Groomer 可以并发运行，彼此之间不加锁：
// FileInstance 的复合主键与 PendingUpload 的 version 是唯一的仲裁机制。
package grooming

import (
	"log/slog"

	"tooltool/pkg/app"
)

// DefaultConcurrency 单轮校验时并发检查的 PendingUpload 数
const DefaultConcurrency = 4

type Groomer struct {
	app *app.App
	log *slog.Logger

	// Concurrency 单轮校验的并发度 (<= 0 按 1 处理)
	Concurrency int
}

func New(application *app.App) *Groomer {
	return &Groomer{
		app:         application,
		log:         application.Logger.With("component", "grooming"),
		Concurrency: DefaultConcurrency,
	}
}
