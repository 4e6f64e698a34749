package service

import (
	"context"
	"testing"

	"tooltool/pkg/app/apptest"
	"tooltool/pkg/apperr"
	"tooltool/pkg/auth"
	"tooltool/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve_PreferredRegion(t *testing.T) {
	svc, env := setupTestService(t)
	data := []byte("download me")
	env.AddFile(t, data, types.Internal, "us-east-1", "us-west-2")

	url, err := svc.Resolve(context.Background(), downloader, apptest.Digest(data), "us-west-2")
	require.NoError(t, err)
	assert.Contains(t, url, apptest.BucketName("us-west-2")+"/sha512/")
	assert.Contains(t, url, "signature=")
}

func TestResolve_FallsBackToAnInstanceRegion(t *testing.T) {
	svc, env := setupTestService(t)
	data := []byte("only east")
	env.AddFile(t, data, types.Public, "us-east-1")

	url, err := svc.Resolve(context.Background(), downloader, apptest.Digest(data), "us-west-2")
	require.NoError(t, err)
	assert.Contains(t, url, apptest.BucketName("us-east-1"))
}

func TestResolve_Errors(t *testing.T) {
	svc, env := setupTestService(t)
	ctx := context.Background()

	_, err := svc.Resolve(ctx, downloader, "not-a-digest", "")
	assert.Equal(t, apperr.KindBadRequest, apperr.KindOf(err))

	_, err = svc.Resolve(ctx, downloader, apptest.Digest([]byte("unknown")), "")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	// 只有待确认上传，还没有副本
	pending := env.AddFile(t, []byte("pending"), types.Public)
	env.AddPendingUpload(t, pending, "us-east-1", apptest.Epoch)
	_, err = svc.Resolve(ctx, downloader, apptest.Digest([]byte("pending")), "")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	// 副本只在一个已不再配置的区域
	env.AddFile(t, []byte("gone"), types.Public, "eu-central-1")
	_, err = svc.Resolve(ctx, downloader, apptest.Digest([]byte("gone")), "")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestResolve_Permissions(t *testing.T) {
	svc, env := setupTestService(t)
	ctx := context.Background()
	pub := []byte("public bits")
	internal := []byte("internal bits")
	env.AddFile(t, pub, types.Public, "us-east-1")
	env.AddFile(t, internal, types.Internal, "us-east-1")

	publicOnly := &auth.Principal{Subject: "p", Scopes: []string{"tooltool/download/public"}}

	_, err := svc.Resolve(ctx, publicOnly, apptest.Digest(internal), "")
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	_, err = svc.Resolve(ctx, publicOnly, apptest.Digest(pub), "")
	assert.NoError(t, err)

	// 匿名：默认不允许
	_, err = svc.Resolve(ctx, auth.Anonymous, apptest.Digest(pub), "")
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	// 打开匿名下载后只放行 public
	env.App.Settings.Auth.AllowAnonymousPublicDownload = true
	_, err = svc.Resolve(ctx, auth.Anonymous, apptest.Digest(pub), "")
	assert.NoError(t, err)
	_, err = svc.Resolve(ctx, auth.Anonymous, apptest.Digest(internal), "")
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
}
