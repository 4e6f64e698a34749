package grooming

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"tooltool/pkg/app/apptest"
	"tooltool/pkg/meta"
	"tooltool/pkg/metrics"
	"tooltool/pkg/queue"
	"tooltool/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestGroomer(t *testing.T) (*Groomer, *apptest.Env) {
	env := apptest.New(t)
	return New(env.App), env
}

// pendingFile 注册一个尚未上传完成的文件：File + us-east-1 的 PendingUpload (Epoch+60s 过期)
func pendingFile(t *testing.T, env *apptest.Env, data []byte) *meta.File {
	t.Helper()
	f := env.AddFile(t, data, types.Public)
	env.AddPendingUpload(t, f, "us-east-1", apptest.Epoch.Add(time.Minute))
	return f
}

func key(data []byte) string { return types.KeyName(apptest.Digest(data)) }

var east = apptest.BucketName("us-east-1")

// 场景 C: 对象已上传且内容正确 -> 一个 FileInstance，零个 PendingUpload
func TestCheckPendingUploads_Valid(t *testing.T) {
	g, env := setupTestGroomer(t)
	data := []byte("good upload")
	pendingFile(t, env, data)
	env.Upload("us-east-1", data)

	env.Clock.Advance(2 * time.Minute)
	require.NoError(t, g.CheckPendingUploads(context.Background()))

	f := env.File(t, apptest.Digest(data))
	assert.Empty(t, f.PendingUploads)
	assert.Equal(t, []string{"us-east-1"}, f.Regions())
	assert.True(t, env.Cloud.IsPrivate(east, key(data)), "verified objects are made private")
}

// 场景 D: 内容与摘要不符 -> 删除对象与 PendingUpload
func TestCheckPendingUploads_WrongDigest(t *testing.T) {
	g, env := setupTestGroomer(t)
	data := []byte("claimed")
	pendingFile(t, env, data)
	// 大小相同、内容不同
	env.Cloud.PutObject(east, key(data), []byte("CLAIMED"))

	env.Clock.Advance(2 * time.Minute)
	require.NoError(t, g.CheckPendingUploads(context.Background()))

	f := env.File(t, apptest.Digest(data))
	assert.Empty(t, f.PendingUploads)
	assert.Empty(t, f.Instances)
	_, ok := env.Cloud.Object(east, key(data))
	assert.False(t, ok, "corrupt upload is purged")
}

func TestCheckPendingUploads_InvalidObjects(t *testing.T) {
	tests := []struct {
		name  string
		setup func(env *apptest.Env, data []byte)
	}{
		{"wrong size", func(env *apptest.Env, data []byte) {
			env.Cloud.PutObject(east, key(data), append(data, '!'))
		}},
		{"reduced redundancy", func(env *apptest.Env, data []byte) {
			env.Upload("us-east-1", data)
			env.Cloud.SetStorageClass(east, key(data), "REDUCED_REDUNDANCY")
		}},
		{"website redirect", func(env *apptest.Env, data []byte) {
			env.Upload("us-east-1", data)
			env.Cloud.SetWebsiteRedirect(east, key(data), "http://evil.example.com/")
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, env := setupTestGroomer(t)
			data := []byte("payload")
			pendingFile(t, env, data)
			tt.setup(env, data)

			env.Clock.Advance(2 * time.Minute)
			require.NoError(t, g.CheckPendingUploads(context.Background()))

			f := env.File(t, apptest.Digest(data))
			assert.Empty(t, f.PendingUploads)
			assert.Empty(t, f.Instances)
			_, ok := env.Cloud.Object(east, key(data))
			assert.False(t, ok)
		})
	}
}

func TestCheckPendingUploads_ExplicitStandardClass(t *testing.T) {
	g, env := setupTestGroomer(t)
	data := []byte("standard")
	pendingFile(t, env, data)
	env.Upload("us-east-1", data)
	env.Cloud.SetStorageClass(east, key(data), "STANDARD")

	env.Clock.Advance(2 * time.Minute)
	require.NoError(t, g.CheckPendingUploads(context.Background()))
	assert.Len(t, env.File(t, apptest.Digest(data)).Instances, 1)
}

func TestCheckPendingUploads_NotExpired(t *testing.T) {
	g, env := setupTestGroomer(t)
	data := []byte("still uploading")
	pendingFile(t, env, data)
	env.Upload("us-east-1", data)

	// 签名窗口还开着：即使对象已存在也不能信任
	require.NoError(t, g.CheckPendingUploads(context.Background()))

	f := env.File(t, apptest.Digest(data))
	assert.Len(t, f.PendingUploads, 1)
	assert.Empty(t, f.Instances)
}

func TestCheckPendingUploads_AbsentWithinGrace(t *testing.T) {
	g, env := setupTestGroomer(t)
	data := []byte("never arrived")
	pendingFile(t, env, data)

	env.Clock.Advance(time.Hour)
	require.NoError(t, g.CheckPendingUploads(context.Background()))
	assert.Len(t, env.File(t, apptest.Digest(data)).PendingUploads, 1, "kept until the grace period ends")

	env.Clock.Advance(24 * time.Hour)
	require.NoError(t, g.CheckPendingUploads(context.Background()))
	assert.Empty(t, env.File(t, apptest.Digest(data)).PendingUploads, "abandoned")
}

func TestCheckPendingUploads_TransientError(t *testing.T) {
	g, env := setupTestGroomer(t)
	data := []byte("flaky")
	pendingFile(t, env, data)
	env.Upload("us-east-1", data)
	env.Cloud.InjectFault(east, errors.New("connection reset"))

	env.Clock.Advance(2 * time.Minute)
	require.NoError(t, g.CheckPendingUploads(context.Background()))
	assert.Len(t, env.File(t, apptest.Digest(data)).PendingUploads, 1, "left for the next pass")

	env.Cloud.InjectFault(east, nil)
	require.NoError(t, g.CheckPendingUploads(context.Background()))
	f := env.File(t, apptest.Digest(data))
	assert.Empty(t, f.PendingUploads)
	assert.Len(t, f.Instances, 1)
}

func TestCheckPendingUploads_UnconfiguredRegion(t *testing.T) {
	g, env := setupTestGroomer(t)
	data := []byte("far away")
	f := env.AddFile(t, data, types.Public)
	env.AddPendingUpload(t, f, "ap-south-1", apptest.Epoch)

	env.Clock.Advance(time.Minute)
	require.NoError(t, g.CheckPendingUploads(context.Background()))
	assert.Empty(t, env.File(t, apptest.Digest(data)).PendingUploads)
}

// 检查期间 PendingUpload 被续期：删除不生效，续期后的窗口会被重新校验
func TestCheckPendingUploads_RenewedDuringCheck(t *testing.T) {
	g, env := setupTestGroomer(t)
	ctx := context.Background()
	data := []byte("renewed")
	f := pendingFile(t, env, data)

	env.Clock.Advance(48 * time.Hour)
	uploads, err := env.App.Repository.PendingUploadsForFile(ctx, f.ID)
	require.NoError(t, err)
	require.Len(t, uploads, 1)

	// 读到之后、删除之前，有人续期了
	env.AddPendingUpload(t, f, "us-east-1", env.Clock.Now().Add(time.Minute))
	g.checkPendingUpload(ctx, &uploads[0])

	pus := env.File(t, apptest.Digest(data)).PendingUploads
	require.Len(t, pus, 1)
	assert.Equal(t, int64(2), pus[0].Version)
}

// 校验通过后 PU 被续期 (superseded)，随后有人通过仍有效的 URL 写入同样大小的垃圾：
// 下一轮删除对象时必须一并撤掉副本行，不能留下指向空对象的 FileInstance
func TestCheckPendingUploads_OverwrittenAfterVerification(t *testing.T) {
	g, env := setupTestGroomer(t)
	ctx := context.Background()
	data := []byte("verified then overwritten")
	f := pendingFile(t, env, data)
	env.Upload("us-east-1", data)

	env.Clock.Advance(2 * time.Minute)
	uploads, err := env.App.Repository.PendingUploadsForFile(ctx, f.ID)
	require.NoError(t, err)
	require.Len(t, uploads, 1)

	// 1. 校验期间续期：副本已记录，PU 留下
	env.AddPendingUpload(t, f, "us-east-1", env.Clock.Now().Add(time.Minute))
	assert.Equal(t, metrics.ResultSuperseded, g.checkPendingUpload(ctx, &uploads[0]))
	require.Equal(t, []string{"us-east-1"}, env.File(t, apptest.Digest(data)).Regions())

	// 2. 续期的窗口里写入垃圾
	env.Cloud.PutObject(east, key(data), bytes.ToUpper(data))
	env.Clock.Advance(2 * time.Minute)
	require.NoError(t, g.CheckPendingUploads(ctx))

	got := env.File(t, apptest.Digest(data))
	assert.Empty(t, got.PendingUploads)
	assert.Empty(t, got.Instances, "instance must not outlive its object")
	_, ok := env.Cloud.Object(east, key(data))
	assert.False(t, ok)

	// 3. 另一个区域有好副本时，Replicate 补回 us-east-1
	env.AddFile(t, data, types.Public, "us-west-2")
	require.NoError(t, g.Replicate(ctx))
	restored, ok := env.Cloud.Object(east, key(data))
	require.True(t, ok)
	assert.Equal(t, data, restored)
	assert.ElementsMatch(t, []string{"us-east-1", "us-west-2"}, env.File(t, apptest.Digest(data)).Regions())
}

// PU 仍开放时复制已填上该区域，之后上传者写入垃圾：复制来的副本行同样要撤掉
func TestCheckPendingUploads_OverwrittenReplica(t *testing.T) {
	g, env := setupTestGroomer(t)
	ctx := context.Background()
	data := []byte("replicated while pending")
	f := env.AddFile(t, data, types.Public, "us-west-2")
	env.AddPendingUpload(t, f, "us-east-1", apptest.Epoch.Add(time.Minute))

	require.NoError(t, g.Replicate(ctx))
	require.ElementsMatch(t, []string{"us-east-1", "us-west-2"}, env.File(t, apptest.Digest(data)).Regions())

	env.Cloud.PutObject(east, key(data), bytes.ToUpper(data))
	env.Clock.Advance(2 * time.Minute)
	require.NoError(t, g.CheckPendingUploads(ctx))

	got := env.File(t, apptest.Digest(data))
	assert.Empty(t, got.PendingUploads)
	assert.Equal(t, []string{"us-west-2"}, got.Regions())
}

func TestCheckFile_OnlyTouchesOneFile(t *testing.T) {
	g, env := setupTestGroomer(t)
	a, b := []byte("file a"), []byte("file b")
	pendingFile(t, env, a)
	pendingFile(t, env, b)
	env.Upload("us-east-1", a)
	env.Upload("us-east-1", b)

	env.Clock.Advance(2 * time.Minute)
	require.NoError(t, g.CheckFile(context.Background(), apptest.Digest(a)))

	assert.Len(t, env.File(t, apptest.Digest(a)).Instances, 1)
	assert.Len(t, env.File(t, apptest.Digest(b)).PendingUploads, 1)

	err := g.CheckFile(context.Background(), apptest.Digest([]byte("unknown")))
	assert.ErrorIs(t, err, meta.ErrFileNotFound)
}

// 多个 Groomer 并发运行：最终恰好一个副本，零个待确认上传
func TestCheckPendingUploads_ConcurrentGroomersConverge(t *testing.T) {
	env := apptest.New(t)
	data := []byte("contended")
	pendingFile(t, env, data)
	env.Upload("us-east-1", data)
	env.Clock.Advance(2 * time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, New(env.App).CheckPendingUploads(context.Background()))
		}()
	}
	wg.Wait()

	f := env.File(t, apptest.Digest(data))
	assert.Empty(t, f.PendingUploads)
	assert.Equal(t, []string{"us-east-1"}, f.Regions())
}

// 场景 E: 两个区域，一个已持有副本 -> 复制到另一个
func TestReplicate(t *testing.T) {
	g, env := setupTestGroomer(t)
	data := []byte("replicate me")
	env.AddFile(t, data, types.Public, "us-east-1")

	require.NoError(t, g.Replicate(context.Background()))

	f := env.File(t, apptest.Digest(data))
	assert.ElementsMatch(t, []string{"us-east-1", "us-west-2"}, f.Regions())

	west := apptest.BucketName("us-west-2")
	got, ok := env.Cloud.Object(west, key(data))
	require.True(t, ok)
	assert.Equal(t, data, got)
	assert.True(t, env.Cloud.IsPrivate(west, key(data)))

	// 再跑一次什么也不做
	require.NoError(t, g.Replicate(context.Background()))
	assert.Len(t, env.File(t, apptest.Digest(data)).Instances, 2)
}

// 多个 Replicate 并发运行：最终每个区域恰好一个副本
func TestReplicate_ConcurrentReplicatorsConverge(t *testing.T) {
	regions := []string{"us-east-1", "us-west-2", "eu-west-1"}
	env := apptest.New(t, regions...)
	data := []byte("replicated concurrently")
	env.AddFile(t, data, types.Public, "us-east-1")

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, New(env.App).Replicate(context.Background()))
		}()
	}
	wg.Wait()

	f := env.File(t, apptest.Digest(data))
	assert.Len(t, f.Instances, 3)
	assert.ElementsMatch(t, regions, f.Regions())
	for _, r := range regions {
		got, ok := env.Cloud.Object(apptest.BucketName(r), key(data))
		require.True(t, ok, r)
		assert.Equal(t, data, got)
	}
}

func TestReplicate_CopyFailureContinues(t *testing.T) {
	env := apptest.New(t, "us-east-1", "us-west-2", "eu-west-1")
	g := New(env.App)
	data := []byte("partial")
	env.AddFile(t, data, types.Public, "us-east-1")
	env.Cloud.InjectFault(apptest.BucketName("eu-west-1"), errors.New("unreachable"))

	require.NoError(t, g.Replicate(context.Background()))
	assert.ElementsMatch(t, []string{"us-east-1", "us-west-2"}, env.File(t, apptest.Digest(data)).Regions())

	env.Cloud.InjectFault(apptest.BucketName("eu-west-1"), nil)
	require.NoError(t, g.Replicate(context.Background()))
	assert.Len(t, env.File(t, apptest.Digest(data)).Instances, 3)
}

func TestReplicate_NoConfiguredSource(t *testing.T) {
	g, env := setupTestGroomer(t)
	data := []byte("orphaned region")
	env.AddFile(t, data, types.Public, "ap-south-1")

	require.NoError(t, g.Replicate(context.Background()))
	assert.Equal(t, []string{"ap-south-1"}, env.File(t, apptest.Digest(data)).Regions())
}

func TestRunWorker(t *testing.T) {
	g, env := setupTestGroomer(t)
	data := []byte("triggered")
	pendingFile(t, env, data)
	env.Upload("us-east-1", data)
	env.Clock.Advance(2 * time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- g.RunWorker(ctx, env.Queue) }()

	require.NoError(t, env.Queue.Publish(ctx, queue.Message{Digest: apptest.Digest(data)}))
	assert.Eventually(t, func() bool {
		return len(env.File(t, apptest.Digest(data)).Instances) == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
}
