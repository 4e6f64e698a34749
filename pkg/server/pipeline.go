package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"tooltool/pkg/apperr"
	"tooltool/pkg/auth"
	"tooltool/pkg/types"

	"github.com/go-chi/chi/v5"
)

// maxBodyBytes 请求体上限 (批次和操作列表都是小 JSON)
const maxBodyBytes = 1 << 20

// =============================================================================
// 1. Pipeline: validate -> authorize -> execute -> render
// =============================================================================

// pipeline 是路由器能挂载的一个处理流程；错误统一交给 renderError
type pipeline interface {
	serve(w http.ResponseWriter, r *http.Request) error
}

// endpoint 把一个接口拆成按顺序执行的四个阶段，每个阶段都是普通函数
//   - validate: 解析并检查请求形状 (400)
//   - authorize: 与数据无关的权限检查 (403)，可为 nil；依赖数据的检查在 execute 内完成
//   - execute: 调用 service
//   - render: 写响应
type endpoint[In, Out any] struct {
	validate  func(r *http.Request) (In, error)
	authorize func(caller auth.Caller, in In) error
	execute   func(ctx context.Context, caller auth.Caller, in In) (Out, error)
	render    func(w http.ResponseWriter, r *http.Request, out Out) error
}

func (e endpoint[In, Out]) serve(w http.ResponseWriter, r *http.Request) error {
	in, err := e.validate(r)
	if err != nil {
		return err
	}

	caller := auth.FromContext(r.Context())
	if e.authorize != nil {
		if err := e.authorize(caller, in); err != nil {
			return err
		}
	}

	out, err := e.execute(r.Context(), caller, in)
	if err != nil {
		return err
	}
	return e.render(w, r, out)
}

// =============================================================================
// 2. Validate stages
// =============================================================================

// digestRequest 路径里带摘要、查询串里带偏好区域的请求
type digestRequest struct {
	Digest types.Digest
	Region string
}

func validateDigest(r *http.Request) (digestRequest, error) {
	d := types.Digest(chi.URLParam(r, "digest"))
	if !d.IsValid() {
		return digestRequest{}, apperr.BadRequest("invalid sha512 digest")
	}
	return digestRequest{Digest: d, Region: r.URL.Query().Get("region")}, nil
}

// bodyRequest 解码 JSON 请求体，同时保留路径参数
type bodyRequest[T any] struct {
	digestRequest
	Body T
}

func validateBody[T any](r *http.Request) (bodyRequest[T], error) {
	var req bodyRequest[T]
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req.Body); err != nil {
		return req, apperr.BadRequest("invalid request body: %v", err)
	}
	req.Region = r.URL.Query().Get("region")
	return req, nil
}

// validateDigestBody 摘要 + JSON 请求体
func validateDigestBody[T any](r *http.Request) (bodyRequest[T], error) {
	d, err := validateDigest(r)
	if err != nil {
		return bodyRequest[T]{}, err
	}
	req, err := validateBody[T](r)
	req.digestRequest = d
	return req, err
}

func validateQuery(r *http.Request) (string, error) {
	return r.URL.Query().Get("q"), nil
}

func validateID(r *http.Request) (uint, error) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id == 0 {
		return 0, apperr.BadRequest("invalid batch id")
	}
	return uint(id), nil
}

// =============================================================================
// 3. Authorize stages
// =============================================================================

func requirePermission[In any](perm string) func(auth.Caller, In) error {
	return func(caller auth.Caller, _ In) error {
		if !caller.Can(perm) {
			return apperr.Forbidden("%s permission required", perm)
		}
		return nil
	}
}

// =============================================================================
// 4. Render stages
// =============================================================================

func renderJSON[Out any](status int) func(http.ResponseWriter, *http.Request, Out) error {
	return func(w http.ResponseWriter, _ *http.Request, out Out) error {
		writeJSON(w, status, out)
		return nil
	}
}

func renderRedirect(w http.ResponseWriter, r *http.Request, url string) error {
	http.Redirect(w, r, url, http.StatusFound)
	return nil
}

func renderAccepted(w http.ResponseWriter, _ *http.Request, _ struct{}) error {
	w.WriteHeader(http.StatusAccepted)
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
