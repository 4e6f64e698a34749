// Package service 实现 tooltool 的请求处理逻辑：批次上传、下载、上传完成通知、管理操作与只读查询。
// 所有方法返回 apperr 分类的错误，HTTP 状态码的翻译在 pkg/server 完成。
package service

import (
	"errors"
	"log/slog"

	"tooltool/pkg/app"
	"tooltool/pkg/apperr"
	"tooltool/pkg/meta"
	"tooltool/pkg/types"
)

type Service struct {
	app *app.App
	log *slog.Logger
}

func New(application *app.App) *Service {
	return &Service{
		app: application,
		log: application.Logger.With("component", "service"),
	}
}

func validDigest(d types.Digest) error {
	if !d.IsValid() {
		return apperr.BadRequest("invalid sha512 digest")
	}
	return nil
}

// lookupError 把元数据层的 not-found 翻译成 apperr
func lookupError(err error, what string) error {
	if errors.Is(err, meta.ErrFileNotFound) || errors.Is(err, meta.ErrBatchNotFound) {
		return apperr.NotFound("no such %s", what)
	}
	return apperr.Internal(err, "failed to look up %s", what)
}
