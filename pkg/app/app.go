// pkg/app/app.go
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"tooltool/pkg/auth"
	"tooltool/pkg/config"
	"tooltool/pkg/meta"
	"tooltool/pkg/metrics"
	"tooltool/pkg/queue"
	"tooltool/pkg/storage"
	"tooltool/pkg/storage/memory"
	"tooltool/pkg/storage/s3"
)

// App 是整个应用程序的依赖容器 (Dependency Container)
// 它持有所有“单例”服务；service、grooming、server 都只依赖它
type App struct {
	Settings *config.Settings
	Logger   *slog.Logger

	DB         *meta.DB
	Repository *meta.Repository

	// Regions 已配置的区域 -> 桶
	Regions storage.Regions
	// Cloud 仅 memory 存储时非空，serve 会把它的签名 URL 端点挂出来
	Cloud *memory.Cloud

	Queue   queue.Queue
	Tokens  *auth.Tokens // 未配置 auth.secret 时为 nil：所有调用者都是匿名的
	Metrics *metrics.Metrics

	// Now 时钟，测试可替换
	Now func() time.Time
}

// NewApp 是工厂函数，负责组装这一台机器
// 它遵循 Settings，但不知道具体的 CLI 命令
func NewApp(ctx context.Context, settings *config.Settings, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	// 1. 存储层
	regions, cloud, err := initStore(ctx, settings.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to init storage: %w", err)
	}

	// 2. 元数据
	db, err := meta.NewDB(ctx, meta.Config{
		Driver:   settings.Database.Driver,
		Host:     settings.Database.Host,
		Port:     settings.Database.Port,
		User:     settings.Database.User,
		Password: settings.Database.Password,
		DBName:   settings.Database.DBName,
		SSLMode:  settings.Database.SSLMode,
		Path:     settings.Database.Path,
		Debug:    settings.Database.Debug,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to init metadata db: %w", err)
	}

	// 3. 触发队列
	q, err := initQueue(ctx, settings.Queue)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init queue: %w", err)
	}

	// 4. 认证
	var tokens *auth.Tokens
	if settings.Auth.Secret != "" {
		if tokens, err = auth.NewTokens(settings.Auth.Secret); err != nil {
			db.Close()
			q.Close()
			return nil, err
		}
	} else {
		logger.Warn("auth.secret not set; every request is anonymous")
	}

	return &App{
		Settings:   settings,
		Logger:     logger,
		DB:         db,
		Repository: meta.NewRepository(db),
		Regions:    regions,
		Cloud:      cloud,
		Queue:      q,
		Tokens:     tokens,
		Metrics:    metrics.New(nil),
		Now:        time.Now,
	}, nil
}

// initStore 按 storage.type 构建各区域的桶
func initStore(ctx context.Context, cfg config.StorageSettings) (storage.Regions, *memory.Cloud, error) {
	if len(cfg.Regions) == 0 {
		return nil, nil, fmt.Errorf("storage.regions must configure at least one region")
	}

	switch cfg.Type {
	case "s3":
		var buckets []storage.Bucket
		for region, bucket := range cfg.Regions {
			if bucket == "" {
				return nil, nil, fmt.Errorf("bucket is required for region %s", region)
			}
			adapter, err := s3.NewAdapter(ctx, s3.Config{
				Endpoint:        cfg.Endpoint,
				Region:          region,
				Bucket:          bucket,
				AccessKeyID:     cfg.AccessKeyID,
				SecretAccessKey: cfg.SecretAccessKey,
				EnsureBucket:    cfg.EnsureBuckets,
			})
			if err != nil {
				return nil, nil, err
			}
			buckets = append(buckets, adapter)
		}
		return storage.NewRegions(buckets...), nil, nil

	case "memory":
		cloud := memory.NewCloud(cfg.MemoryURL)
		var buckets []storage.Bucket
		for region, bucket := range cfg.Regions {
			buckets = append(buckets, cloud.Bucket(region, bucket))
		}
		return storage.NewRegions(buckets...), cloud, nil

	default:
		return nil, nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}

// initQueue 配置了 Redis 则跨进程，否则进程内
func initQueue(ctx context.Context, cfg config.QueueSettings) (queue.Queue, error) {
	if cfg.RedisURL == "" {
		return queue.NewLocal(0), nil
	}
	return queue.NewRedis(ctx, queue.RedisConfig{URL: cfg.RedisURL, Name: cfg.Name})
}

// Close 释放数据库连接与队列
func (a *App) Close() error {
	var errs []error
	if a.Queue != nil {
		errs = append(errs, a.Queue.Close())
	}
	if a.DB != nil {
		errs = append(errs, a.DB.Close())
	}
	return errors.Join(errs...)
}
