package meta

import (
	"context"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"strings"
	"testing"
	"time"

	"tooltool/pkg/types"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// -----------------------------------------------------------------------------
// 通用辅助函数 (Helpers)
// -----------------------------------------------------------------------------

// setupTestRepo 构建隔离的测试环境 (每个测试一个内存库)
func setupTestRepo(t *testing.T) *Repository {
	t.Helper()
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

	metaDB := NewWithConn(db)
	require.NoError(t, metaDB.AutoMigrate(Models()...))

	return NewRepository(metaDB)
}

// mockDigest 生成合法的测试用 sha512
func mockDigest(input string) types.Digest {
	sum := sha512.Sum512([]byte(input))
	return types.Digest(hex.EncodeToString(sum[:]))
}

// mustCreateFile 强制创建文件，失败则终止
func mustCreateFile(t *testing.T, repo *Repository, input string, regions ...string) *File {
	t.Helper()
	ctx := context.Background()
	file, _, err := repo.GetOrCreateFile(ctx, mockDigest(input), int64(len(input)), types.Public)
	require.NoError(t, err)
	for _, region := range regions {
		_, err := repo.AddFileInstance(ctx, file.ID, region)
		require.NoError(t, err)
	}
	return file
}

// mustUpsertPending 强制写入待确认上传
func mustUpsertPending(t *testing.T, repo *Repository, fileID uint, region string, expires time.Time) *PendingUpload {
	t.Helper()
	pu, err := repo.UpsertPendingUpload(context.Background(), fileID, region, expires)
	require.NoError(t, err)
	return pu
}

func countRows(t *testing.T, repo *Repository, model any, query string, args ...any) int64 {
	t.Helper()
	var count int64
	require.NoError(t, repo.db.GetConn().Model(model).Where(query, args...).Count(&count).Error)
	return count
}
