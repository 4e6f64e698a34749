package service

import (
	"testing"

	"tooltool/pkg/app/apptest"
	"tooltool/pkg/auth"
)

// setupTestService 构建一个隔离的 Service 测试环境
func setupTestService(t *testing.T) (*Service, *apptest.Env) {
	env := apptest.New(t)
	return New(env.App), env
}

// 常用调用者
var (
	uploader       = &auth.Principal{Subject: "uploader@example.com", Scopes: []string{"tooltool/upload/*"}}
	publicUploader = &auth.Principal{Subject: "pub@example.com", Scopes: []string{"tooltool/upload/public"}}
	downloader     = &auth.Principal{Subject: "dl@example.com", Scopes: []string{"tooltool/download/*"}}
	admin          = &auth.Principal{Subject: "admin@example.com", Scopes: []string{"tooltool/*"}}
)
