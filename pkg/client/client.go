package client

import (
	"bytes"
	"context"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"tooltool/pkg/api"
	"tooltool/pkg/storage"
	"tooltool/pkg/types"

	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency 并发上传/下载的文件数
const DefaultConcurrency = 4

// Error 服务端返回的错误响应
type Error struct {
	Status      int
	Description string

	// RetryAfter 仅 409 时有意义
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	return fmt.Sprintf("tooltool: %d %s", e.Status, e.Description)
}

// IsStatus 判断 err 是否为指定状态码的服务端错误
func IsStatus(err error, status int) bool {
	var e *Error
	return errors.As(err, &e) && e.Status == status
}

// Client 封装了对 tooltool 服务端的 HTTP 调用
type Client struct {
	baseURL string
	token   string
	http    *http.Client

	// Concurrency 并发度 (<= 0 按 1 处理)
	Concurrency int

	// Sleep 等待 Retry-After；测试可替换
	Sleep func(ctx context.Context, d time.Duration) error
}

// New 创建客户端；token 为空时以匿名身份访问
func New(baseURL, token string) *Client {
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		token:       token,
		http:        &http.Client{Timeout: 10 * time.Minute},
		Concurrency: DefaultConcurrency,
		Sleep:       sleepCtx,
	}
}

// WithHTTPClient 替换底层 http.Client
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.http = hc
	return c
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// =============================================================================
// 1. Upload
// =============================================================================

// CreateBatch PUT /batch
func (c *Client) CreateBatch(ctx context.Context, batch api.UploadBatch, region string) (*api.UploadBatch, error) {
	path := "/batch"
	if region != "" {
		path += "?region=" + url.QueryEscape(region)
	}
	var out api.UploadBatch
	if err := c.doJSON(ctx, http.MethodPut, path, batch, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PutFile 把本地文件 PUT 到签名 URL
func (c *Client) PutFile(ctx context.Context, putURL, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, putURL, f)
	if err != nil {
		return err
	}
	req.ContentLength = st.Size()
	req.Header.Set("Content-Type", storage.ContentType)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("failed to upload %s: %s: %s", path, resp.Status, strings.TrimSpace(string(body)))
	}
	return nil
}

// UploadComplete 通知服务端上传完成；签名窗口未关闭 (409) 时按 Retry-After 等待后重试
func (c *Client) UploadComplete(ctx context.Context, digest types.Digest) error {
	for {
		err := c.doJSON(ctx, http.MethodGet, "/upload/complete/sha512/"+digest.String(), nil, nil)
		var e *Error
		if !errors.As(err, &e) || e.Status != http.StatusConflict {
			return err
		}
		if err := c.Sleep(ctx, e.RetryAfter); err != nil {
			return err
		}
	}
}

// Upload 上传一组本地文件：计算摘要、创建批次、PUT 需要上传的文件，并通知上传完成
func (c *Client) Upload(ctx context.Context, message string, vis types.Visibility, paths []string, region string) (*api.UploadBatch, error) {
	// 1. 并发计算摘要
	records := make([]FileRecord, len(paths))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(max(c.Concurrency, 1))
	for i, p := range paths {
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				return err
			}
			rec, err := HashFile(p)
			records[i] = rec
			return err
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	// 2. 批次
	req := api.UploadBatch{Message: message, Files: make(map[string]api.File, len(records))}
	local := make(map[string]string, len(records))
	for i, rec := range records {
		if _, dup := req.Files[rec.Filename]; dup {
			return nil, fmt.Errorf("duplicate filename in batch: %s", rec.Filename)
		}
		req.Files[rec.Filename] = api.File{
			Algorithm:  rec.Algorithm,
			Digest:     rec.Digest,
			Size:       rec.Size,
			Visibility: vis,
		}
		local[rec.Filename] = paths[i]
	}
	batch, err := c.CreateBatch(ctx, req, region)
	if err != nil {
		return nil, err
	}

	// 3. 只上传服务端还没有的文件；签名 URL 很快过期，先全部 PUT 再等待确认
	var uploaded []types.Digest
	eg, egCtx = errgroup.WithContext(ctx)
	eg.SetLimit(max(c.Concurrency, 1))
	for name, f := range batch.Files {
		if f.PutURL == "" {
			continue
		}
		uploaded = append(uploaded, f.Digest)
		eg.Go(func() error {
			return c.PutFile(egCtx, f.PutURL, local[name])
		})
	}
	if err := eg.Wait(); err != nil {
		return batch, err
	}

	// 4. 通知上传完成 (同一内容可能对应多个文件名)
	slices.Sort(uploaded)
	uploaded = slices.Compact(uploaded)
	eg, egCtx = errgroup.WithContext(ctx)
	eg.SetLimit(max(c.Concurrency, 1))
	for _, d := range uploaded {
		eg.Go(func() error {
			return c.UploadComplete(egCtx, d)
		})
	}
	return batch, eg.Wait()
}

// =============================================================================
// 2. Fetch
// =============================================================================

// Fetch 下载 rec 到 dir/rec.Filename；边下载边校验，不一致时不留下目标文件
func (c *Client) Fetch(ctx context.Context, rec FileRecord, dir, region string) error {
	path := "/sha512/" + rec.Digest.String()
	if region != "" {
		path += "?region=" + url.QueryEscape(region)
	}
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	// 默认 http.Client 跟随 302 到签名 URL
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch %s: %w", rec.Filename, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}

	tmp, err := os.CreateTemp(dir, "."+rec.Filename+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	h := sha512.New()
	n, err := io.Copy(io.MultiWriter(tmp, h), resp.Body)
	if err != nil {
		return fmt.Errorf("failed to fetch %s: %w", rec.Filename, err)
	}
	if n != rec.Size || hex.EncodeToString(h.Sum(nil)) != rec.Digest.String() {
		return fmt.Errorf("%s: %w", rec.Filename, ErrDigestMismatch)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), filepath.Join(dir, rec.Filename))
}

// FetchManifest 并发取回清单中全部文件；已存在且内容一致的文件跳过
func (c *Client) FetchManifest(ctx context.Context, m Manifest, dir, region string) error {
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(max(c.Concurrency, 1))
	for _, rec := range m {
		eg.Go(func() error {
			if rec.Validate(dir) == nil {
				return nil
			}
			return c.Fetch(egCtx, rec, dir, region)
		})
	}
	return eg.Wait()
}

// =============================================================================
// 3. Queries
// =============================================================================

func (c *Client) GetFile(ctx context.Context, digest types.Digest) (*api.File, error) {
	var out api.File
	if err := c.doJSON(ctx, http.MethodGet, "/file/sha512/"+digest.String(), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetBatch(ctx context.Context, id uint) (*api.UploadBatch, error) {
	var out api.UploadBatch
	if err := c.doJSON(ctx, http.MethodGet, "/upload/"+strconv.FormatUint(uint64(id), 10), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PatchFile 应用管理操作 (需要 tooltool/manage)
func (c *Client) PatchFile(ctx context.Context, digest types.Digest, ops []api.FileOp) (*api.File, error) {
	var out api.File
	if err := c.doJSON(ctx, http.MethodPatch, "/file/sha512/"+digest.String(), ops, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// =============================================================================
// 4. Transport
// =============================================================================

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

// doJSON 发请求并把 2xx 的 JSON 响应解到 out (out 可为 nil)
func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s %s: invalid response: %w", method, path, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	e := &Error{Status: resp.StatusCode, Description: resp.Status}

	var body api.Error
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body); err == nil && body.Error.Description != "" {
		e.Description = body.Error.Description
	}
	if secs, err := strconv.Atoi(resp.Header.Get("X-Retry-After")); err == nil {
		e.RetryAfter = time.Duration(secs) * time.Second
	}
	return e
}
