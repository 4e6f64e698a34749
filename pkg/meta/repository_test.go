package meta

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"tooltool/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestIsUniqueViolation(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"translated", gorm.ErrDuplicatedKey, true},
		{"wrapped translated", fmt.Errorf("insert: %w", gorm.ErrDuplicatedKey), true},
		{"sqlite text", errors.New("UNIQUE constraint failed: tooltool_files.sha512"), true},
		{"postgres text", errors.New(`ERROR: duplicate key value violates unique constraint "idx" (SQLSTATE 23505)`), true},
		{"other", errors.New("connection refused"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsUniqueViolation(tt.err))
		})
	}
}

func TestRepository_GetOrCreateFile_Idempotency(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()
	digest := mockDigest("one")

	// 1. 首次创建
	first, created, err := repo.GetOrCreateFile(ctx, digest, 3, types.Public)
	require.NoError(t, err)
	assert.True(t, created)

	// 2. 再来一次 (不同 size/visibility 也不会覆盖已有行)
	second, created, err := repo.GetOrCreateFile(ctx, digest, 99, types.Internal)
	require.NoError(t, err)
	assert.False(t, created, "second call must find the existing row")
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, int64(3), second.Size, "size is immutable once set")
	assert.Equal(t, "public", second.Visibility)

	// 3. 副作用检查：只有一行
	assert.Equal(t, int64(1), countRows(t, repo, &File{}, "sha512 = ?", digest.String()))
}

func TestRepository_FileByDigest(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	_, err := repo.FileByDigest(ctx, mockDigest("missing"))
	assert.ErrorIs(t, err, ErrFileNotFound)

	file := mustCreateFile(t, repo, "one", "us-east-1")
	mustUpsertPending(t, repo, file.ID, "us-west-2", time.Now().Add(time.Minute))

	got, err := repo.FileByDigest(ctx, mockDigest("one"))
	require.NoError(t, err)
	assert.Equal(t, []string{"us-east-1"}, got.Regions())
	assert.True(t, got.HasInstances())
	require.Len(t, got.PendingUploads, 1)
	assert.Equal(t, "us-west-2", got.PendingUploads[0].Region)
}

func TestRepository_AddFileInstance_Concurrent(t *testing.T) {
	repo := setupTestRepo(t)
	file := mustCreateFile(t, repo, "one")

	const writers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			created, err := repo.AddFileInstance(context.Background(), file.ID, "us-east-1")
			assert.NoError(t, err, "unique violations must never surface as errors")
			if created {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, winners, "exactly one writer wins the (file, region) key")
	assert.Equal(t, int64(1), countRows(t, repo, &FileInstance{}, "file_id = ?", file.ID))
}

func TestRepository_PendingUpload_Renewal(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()
	file := mustCreateFile(t, repo, "one")

	t0 := time.Date(2026, 3, 5, 22, 2, 2, 0, time.UTC)
	pu := mustUpsertPending(t, repo, file.ID, "us-east-1", t0)
	assert.Equal(t, int64(1), pu.Version)

	// 续期：不产生重复行，version + 1
	renewed := mustUpsertPending(t, repo, file.ID, "us-east-1", t0.Add(time.Hour))
	assert.Equal(t, int64(2), renewed.Version)
	assert.True(t, renewed.ExpiresAt.Equal(t0.Add(time.Hour)))
	assert.Equal(t, int64(1), countRows(t, repo, &PendingUpload{}, "file_id = ?", file.ID))

	uploads, err := repo.PendingUploadsForFile(ctx, file.ID)
	require.NoError(t, err)
	require.Len(t, uploads, 1)
	assert.True(t, uploads[0].ExpiresAt.Equal(t0.Add(time.Hour)))
	assert.Equal(t, file.Sha512, uploads[0].File.Sha512, "File should be preloaded")

	// 另一个区域是独立的一行
	mustUpsertPending(t, repo, file.ID, "us-west-2", t0)
	all, err := repo.ListPendingUploads(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestRepository_DeletePendingUpload_CAS(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()
	file := mustCreateFile(t, repo, "one")

	stale := mustUpsertPending(t, repo, file.ID, "us-east-1", time.Now())
	staleCopy := *stale
	mustUpsertPending(t, repo, file.ID, "us-east-1", time.Now().Add(time.Hour)) // 有人续期了

	// 1. 旧版本删除不生效
	deleted, err := repo.DeletePendingUpload(ctx, &staleCopy)
	require.NoError(t, err)
	assert.False(t, deleted, "a renewed pending upload must survive a stale delete")

	// 2. 当前版本删除成功
	uploads, err := repo.PendingUploadsForFile(ctx, file.ID)
	require.NoError(t, err)
	require.Len(t, uploads, 1)
	deleted, err = repo.DeletePendingUpload(ctx, &uploads[0])
	require.NoError(t, err)
	assert.True(t, deleted)

	// 3. 重复删除是无害的
	deleted, err = repo.DeletePendingUpload(ctx, &uploads[0])
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestRepository_FilesNeedingReplication(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	partial := mustCreateFile(t, repo, "partial", "us-east-1")
	mustCreateFile(t, repo, "full", "us-east-1", "us-west-2")
	mustCreateFile(t, repo, "none")

	files, err := repo.FilesNeedingReplication(ctx, 2)
	require.NoError(t, err)
	require.Len(t, files, 1, "files with zero instances or a full complement are excluded")
	assert.Equal(t, partial.ID, files[0].ID)
	assert.Equal(t, []string{"us-east-1"}, files[0].Regions())
}

func TestRepository_DeleteFileInstancesAndVisibility(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()
	file := mustCreateFile(t, repo, "one", "us-east-1", "us-west-2")

	deleted, err := repo.DeleteFileInstances(ctx, file.ID)
	require.NoError(t, err)
	assert.Len(t, deleted, 2)
	assert.Equal(t, int64(0), countRows(t, repo, &FileInstance{}, "file_id = ?", file.ID))

	// 没有副本时也是无害的
	deleted, err = repo.DeleteFileInstances(ctx, file.ID)
	require.NoError(t, err)
	assert.Empty(t, deleted)

	require.NoError(t, repo.SetVisibility(ctx, file.ID, types.Internal))
	got, err := repo.FileByDigest(ctx, mockDigest("one"))
	require.NoError(t, err)
	assert.Equal(t, "internal", got.Visibility)
	assert.Equal(t, int64(3), got.Size)
}

func TestRepository_DeleteFileInstance(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()
	file := mustCreateFile(t, repo, "one", "us-east-1", "us-west-2")

	removed, err := repo.DeleteFileInstance(ctx, file.ID, "us-east-1")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = repo.DeleteFileInstance(ctx, file.ID, "us-east-1")
	require.NoError(t, err)
	assert.False(t, removed)

	got, err := repo.FileByDigest(ctx, mockDigest("one"))
	require.NoError(t, err)
	assert.Equal(t, []string{"us-west-2"}, got.Regions())
}

func TestRepository_BatchLifecycle(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()
	one := mustCreateFile(t, repo, "one")
	two := mustCreateFile(t, repo, "two")

	uploaded := time.Date(2026, 3, 5, 22, 2, 2, 0, time.UTC)
	mk := func(author, msg string, files map[string]*File) *Batch {
		b := &Batch{Uploaded: uploaded, Author: author, Message: msg}
		for name, f := range files {
			b.Files = append(b.Files, BatchFile{Filename: name, FileID: f.ID})
		}
		require.NoError(t, repo.WithTx(ctx, func(tx *Repository) error { return tx.CreateBatch(ctx, b) }))
		return b
	}

	b1 := mk("me@me.com", "first batch", map[string]*File{"one": one})
	mk("me@me.com", "second batch", map[string]*File{"two": two})
	b3 := mk("you@you.com", "third batch", map[string]*File{"1": one, "2": two})

	// 1. 读取
	got, err := repo.GetBatch(ctx, b1.ID)
	require.NoError(t, err)
	assert.Equal(t, "first batch", got.Message)
	require.Len(t, got.Files, 1)
	assert.Equal(t, "one", got.Files[0].Filename)
	assert.Equal(t, one.Sha512, got.Files[0].File.Sha512)

	_, err = repo.GetBatch(ctx, 999)
	assert.ErrorIs(t, err, ErrBatchNotFound)

	// 2. 搜索
	for q, want := range map[string]int{"me": 2, "ou@y": 1, "econd batc": 1, "": 3} {
		batches, err := repo.SearchBatches(ctx, q)
		require.NoError(t, err)
		assert.Len(t, batches, want, "query %q", q)
	}

	// 3. 同一个 File 在不同批次里可以有不同名字
	got, err = repo.GetBatch(ctx, b3.ID)
	require.NoError(t, err)
	assert.Len(t, got.Files, 2)
}

func TestRepository_SearchFiles(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()
	one := mustCreateFile(t, repo, "one")
	two := mustCreateFile(t, repo, "two")

	b := &Batch{Uploaded: time.Now(), Author: "me", Message: "m", Files: []BatchFile{
		{Filename: "gcc.tar.xz", FileID: one.ID},
		{Filename: "clang.tar.xz", FileID: two.ID},
	}}
	require.NoError(t, repo.CreateBatch(ctx, b))

	files, err := repo.SearchFiles(ctx, "gcc")
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, one.ID, files[0].ID)

	files, err = repo.SearchFiles(ctx, two.Sha512[:12])
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, two.ID, files[0].ID)

	files, err = repo.SearchFiles(ctx, ".tar")
	require.NoError(t, err)
	assert.Len(t, files, 2)
}

func TestRepository_WithTx_Rollback(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := repo.WithTx(ctx, func(tx *Repository) error {
		_, _, err := tx.GetOrCreateFile(ctx, mockDigest("one"), 3, types.Public)
		require.NoError(t, err)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = repo.FileByDigest(ctx, mockDigest("one"))
	assert.ErrorIs(t, err, ErrFileNotFound, "rolled back transaction must leave no rows")
}

func TestRepository_GetOrInsert_InsideTx(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()
	file := mustCreateFile(t, repo, "one", "us-east-1")

	// 事务内撞上唯一约束：只回滚 savepoint，外层事务继续可用
	err := repo.WithTx(ctx, func(tx *Repository) error {
		created, err := tx.AddFileInstance(ctx, file.ID, "us-east-1")
		require.NoError(t, err)
		assert.False(t, created)

		created, err = tx.AddFileInstance(ctx, file.ID, "us-west-2")
		require.NoError(t, err)
		assert.True(t, created)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), countRows(t, repo, &FileInstance{}, "file_id = ?", file.ID))
}
