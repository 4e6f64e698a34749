package auth

import (
	"context"
	"slices"
	"strings"

	"tooltool/pkg/types"
)

// 权限名 (capability)
const (
	PermUploadPrefix   = "tooltool/upload/"
	PermDownloadPrefix = "tooltool/download/"
	PermManage         = "tooltool/manage"
)

// UploadPermission 上传某可见级别文件所需权限
func UploadPermission(v types.Visibility) string { return PermUploadPrefix + v.String() }

// DownloadPermission 下载某可见级别文件所需权限
func DownloadPermission(v types.Visibility) string { return PermDownloadPrefix + v.String() }

// Caller 是经过认证的调用者
type Caller interface {
	// ID 调用者身份 (作为 Batch.author 记录)；匿名调用者为空
	ID() string
	Can(permission string) bool
}

// Principal 持有一组 scope 的调用者
// scope 末尾的 "*" 匹配任意后缀，例如 "tooltool/download/*"
type Principal struct {
	Subject string
	Scopes  []string
}

var _ Caller = (*Principal)(nil)

func (p *Principal) ID() string { return p.Subject }

func (p *Principal) Can(permission string) bool {
	return slices.ContainsFunc(p.Scopes, func(scope string) bool {
		if prefix, ok := strings.CutSuffix(scope, "*"); ok {
			return strings.HasPrefix(permission, prefix)
		}
		return scope == permission
	})
}

// Anonymous 没有任何权限的调用者
var Anonymous Caller = &Principal{}

type callerKey struct{}

// WithCaller 把调用者放进请求 context
func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

// FromContext 取出调用者；没有则返回 Anonymous
func FromContext(ctx context.Context) Caller {
	if c, ok := ctx.Value(callerKey{}).(Caller); ok && c != nil {
		return c
	}
	return Anonymous
}
