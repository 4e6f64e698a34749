// Package apptest 为 service、grooming、server、client 的测试组装一个完全进程内的 App：
// SQLite 内存库 + memory.Cloud + 可拨动的时钟。
package apptest

import (
	"context"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"tooltool/pkg/app"
	"tooltool/pkg/config"
	"tooltool/pkg/meta"
	"tooltool/pkg/metrics"
	"tooltool/pkg/queue"
	"tooltool/pkg/storage"
	"tooltool/pkg/storage/memory"
	"tooltool/pkg/types"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DefaultRegions 测试默认配置的两个区域
var DefaultRegions = []string{"us-east-1", "us-west-2"}

// Epoch 测试时钟的起点
var Epoch = time.Date(2026, 3, 5, 22, 2, 2, 0, time.UTC)

// Clock 可手动推进的时钟
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// Env 一个测试用的完整环境
type Env struct {
	App   *app.App
	Cloud *memory.Cloud
	Clock *Clock
	Queue *queue.Local
}

// BucketName 区域对应的测试桶名
func BucketName(region string) string { return "tt-" + region }

// New 组装环境；regions 为空时使用 DefaultRegions
func New(t testing.TB, regions ...string) *Env {
	t.Helper()
	if len(regions) == 0 {
		regions = DefaultRegions
	}

	// 1. DB (每个测试一个内存库)
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	metaDB := meta.NewWithConn(db)
	require.NoError(t, metaDB.AutoMigrate(meta.Models()...))

	// 2. Store
	cloud := memory.NewCloud("http://objects.invalid")
	var buckets []storage.Bucket
	settings := config.Default()
	settings.Storage.Type = "memory"
	settings.Storage.Regions = make(map[string]string, len(regions))
	for _, r := range regions {
		buckets = append(buckets, cloud.Bucket(r, BucketName(r)))
		settings.Storage.Regions[r] = BucketName(r)
	}

	clock := &Clock{now: Epoch}
	cloud.SetClock(clock.Now)

	q := queue.NewLocal(64)
	t.Cleanup(func() { q.Close() })

	return &Env{
		App: &app.App{
			Settings:   settings,
			Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
			DB:         metaDB,
			Repository: meta.NewRepository(metaDB),
			Regions:    storage.NewRegions(buckets...),
			Cloud:      cloud,
			Queue:      q,
			Metrics:    metrics.New(prometheus.NewRegistry()),
			Now:        clock.Now,
		},
		Cloud: cloud,
		Clock: clock,
		Queue: q,
	}
}

// Digest 计算内容的 sha512
func Digest(data []byte) types.Digest {
	sum := sha512.Sum512(data)
	return types.Digest(hex.EncodeToString(sum[:]))
}

// AddFile 写入一个 File，并在 regions 中各放一份已校验的副本 (行 + 对象)
func (e *Env) AddFile(t testing.TB, data []byte, vis types.Visibility, regions ...string) *meta.File {
	t.Helper()
	ctx := context.Background()
	digest := Digest(data)

	f, _, err := e.App.Repository.GetOrCreateFile(ctx, digest, int64(len(data)), vis)
	require.NoError(t, err)
	for _, r := range regions {
		_, err := e.App.Repository.AddFileInstance(ctx, f.ID, r)
		require.NoError(t, err)
		e.Cloud.PutObject(BucketName(r), types.KeyName(digest), data)
	}

	f, err = e.App.Repository.FileByDigest(ctx, digest)
	require.NoError(t, err)
	return f
}

// AddPendingUpload 为 File 写入一个待确认上传
func (e *Env) AddPendingUpload(t testing.TB, f *meta.File, region string, expires time.Time) *meta.PendingUpload {
	t.Helper()
	pu, err := e.App.Repository.UpsertPendingUpload(context.Background(), f.ID, region, expires)
	require.NoError(t, err)
	return pu
}

// Upload 模拟客户端把 data 直接放进 region 的桶 (绕过签名)
func (e *Env) Upload(region string, data []byte) {
	e.Cloud.PutObject(BucketName(region), types.KeyName(Digest(data)), data)
}

// File 重新读取 File (副本、待确认上传)；不存在返回 nil
func (e *Env) File(t testing.TB, digest types.Digest) *meta.File {
	t.Helper()
	f, err := e.App.Repository.FileByDigest(context.Background(), digest)
	if errors.Is(err, meta.ErrFileNotFound) {
		return nil
	}
	require.NoError(t, err)
	return f
}
