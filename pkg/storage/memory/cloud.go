// Package memory 提供进程内的对象存储实现
// 用于本地开发 (`storage.type: memory`) 和测试：签名 URL 由 Cloud.Handler() 提供的 HTTP 端点兑现，
// 行为上模拟 S3 的 PUT/GET 签名窗口。
package memory

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"tooltool/pkg/storage"

	"github.com/go-chi/chi/v5"
)

type object struct {
	data         []byte
	storageClass string
	redirect     string
	private      bool
}

// Cloud 模拟一个对象存储服务：多个具名的桶共享同一个 URL 签名密钥
type Cloud struct {
	mu      sync.RWMutex
	buckets map[string]map[string]*object
	faults  map[string]error

	baseURL string
	secret  []byte
	now     func() time.Time
}

// NewCloud 创建空的 Cloud，baseURL 是 Handler() 对外暴露的地址 (可稍后 SetBaseURL)
func NewCloud(baseURL string) *Cloud {
	secret := make([]byte, 32)
	_, _ = rand.Read(secret)
	return &Cloud{
		buckets: make(map[string]map[string]*object),
		faults:  make(map[string]error),
		baseURL: strings.TrimRight(baseURL, "/"),
		secret:  secret,
		now:     time.Now,
	}
}

// SetBaseURL 更新签名 URL 的前缀 (httptest.Server 启动后才知道地址)
func (c *Cloud) SetBaseURL(baseURL string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.baseURL = strings.TrimRight(baseURL, "/")
}

// SetClock 替换时钟，测试用
func (c *Cloud) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// Bucket 返回 region 中名为 name 的桶 (不存在则创建)
func (c *Cloud) Bucket(region, name string) *Bucket {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.buckets[name]; !ok {
		c.buckets[name] = make(map[string]*object)
	}
	return &Bucket{cloud: c, region: region, name: name}
}

// -----------------------------------------------------------------------------
// 测试辅助 (直接操作底层对象，绕过签名)
// -----------------------------------------------------------------------------

// PutObject 直接写入对象
func (c *Cloud) PutObject(bucket, key string, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bucketLocked(bucket)[key] = &object{data: slices.Clone(data)}
}

// SetStorageClass 修改对象的存储类别
func (c *Cloud) SetStorageClass(bucket, key, class string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if obj, ok := c.bucketLocked(bucket)[key]; ok {
		obj.storageClass = class
	}
}

// SetWebsiteRedirect 给对象加上网站重定向
func (c *Cloud) SetWebsiteRedirect(bucket, key, location string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if obj, ok := c.bucketLocked(bucket)[key]; ok {
		obj.redirect = location
	}
}

// Object 读取对象内容
func (c *Cloud) Object(bucket, key string) ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	obj, ok := c.buckets[bucket][key]
	if !ok {
		return nil, false
	}
	return slices.Clone(obj.data), true
}

// IsPrivate 对象 ACL 是否为 private
func (c *Cloud) IsPrivate(bucket, key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	obj, ok := c.buckets[bucket][key]
	return ok && obj.private
}

// Keys 列出桶内全部 Key (排序)
func (c *Cloud) Keys(bucket string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]string, 0, len(c.buckets[bucket]))
	for k := range c.buckets[bucket] {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// InjectFault 让该桶后续的远程操作都返回 err (模拟网络故障)；err 为 nil 时恢复
func (c *Cloud) InjectFault(bucket string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err == nil {
		delete(c.faults, bucket)
		return
	}
	c.faults[bucket] = err
}

func (c *Cloud) bucketLocked(name string) map[string]*object {
	b, ok := c.buckets[name]
	if !ok {
		b = make(map[string]*object)
		c.buckets[name] = b
	}
	return b
}

// -----------------------------------------------------------------------------
// URL 签名
// -----------------------------------------------------------------------------

func (c *Cloud) signature(method, bucket, key string, expires int64) string {
	mac := hmac.New(sha256.New, c.secret)
	fmt.Fprintf(mac, "%s\n%s/%s\n%d", method, bucket, key, expires)
	return hex.EncodeToString(mac.Sum(nil))
}

func (c *Cloud) presign(method, bucket, key string, ttl time.Duration) string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	expires := c.now().Add(ttl).Unix()
	q := url.Values{}
	q.Set("expires", strconv.FormatInt(expires, 10))
	q.Set("signature", c.signature(method, bucket, key, expires))
	return fmt.Sprintf("%s/%s/%s?%s", c.baseURL, bucket, key, q.Encode())
}

func (c *Cloud) verify(r *http.Request, bucket, key string) bool {
	expires, err := strconv.ParseInt(r.URL.Query().Get("expires"), 10, 64)
	if err != nil {
		return false
	}

	c.mu.RLock()
	now := c.now()
	want := c.signature(r.Method, bucket, key, expires)
	c.mu.RUnlock()

	if now.Unix() > expires {
		return false
	}
	return hmac.Equal([]byte(want), []byte(r.URL.Query().Get("signature")))
}

// -----------------------------------------------------------------------------
// HTTP 端点：兑现签名 URL
// -----------------------------------------------------------------------------

// Handler 返回兑现签名 URL 的路由：PUT/GET /{bucket}/{key...}
func (c *Cloud) Handler() http.Handler {
	r := chi.NewRouter()
	r.Put("/{bucket}/*", c.handlePut)
	r.Get("/{bucket}/*", c.handleGet)
	return r
}

func (c *Cloud) handlePut(w http.ResponseWriter, r *http.Request) {
	bucket, key := chi.URLParam(r, "bucket"), chi.URLParam(r, "*")
	if !c.verify(r, bucket, key) {
		http.Error(w, "signature does not match or has expired", http.StatusForbidden)
		return
	}
	if ct := r.Header.Get("Content-Type"); ct != storage.ContentType {
		http.Error(w, "unexpected content type "+ct, http.StatusForbidden)
		return
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	c.PutObject(bucket, key, data)
	w.WriteHeader(http.StatusOK)
}

func (c *Cloud) handleGet(w http.ResponseWriter, r *http.Request) {
	bucket, key := chi.URLParam(r, "bucket"), chi.URLParam(r, "*")
	if !c.verify(r, bucket, key) {
		http.Error(w, "signature does not match or has expired", http.StatusForbidden)
		return
	}
	data, ok := c.Object(bucket, key)
	if !ok {
		http.Error(w, "no such key", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", storage.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	_, _ = w.Write(data)
}

// -----------------------------------------------------------------------------
// Bucket: storage.Bucket 实现
// -----------------------------------------------------------------------------

// Bucket 是 Cloud 中某个区域的一个桶
type Bucket struct {
	cloud  *Cloud
	region string
	name   string
}

var _ storage.Bucket = (*Bucket)(nil)

func (b *Bucket) Region() string { return b.region }
func (b *Bucket) Name() string   { return b.name }

func (b *Bucket) PresignPut(_ context.Context, key string, ttl time.Duration) (string, error) {
	return b.cloud.presign(http.MethodPut, b.name, key, ttl), nil
}

func (b *Bucket) PresignGet(_ context.Context, key string, ttl time.Duration) (string, error) {
	return b.cloud.presign(http.MethodGet, b.name, key, ttl), nil
}

func (b *Bucket) Head(ctx context.Context, key string) (*storage.ObjectInfo, error) {
	if err := b.remote(ctx); err != nil {
		return nil, err
	}
	b.cloud.mu.RLock()
	defer b.cloud.mu.RUnlock()
	obj, ok := b.cloud.buckets[b.name][key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &storage.ObjectInfo{
		Size:            int64(len(obj.data)),
		StorageClass:    obj.storageClass,
		WebsiteRedirect: obj.redirect,
	}, nil
}

func (b *Bucket) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := b.remote(ctx); err != nil {
		return nil, err
	}
	data, ok := b.cloud.Object(b.name, key)
	if !ok {
		return nil, storage.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (b *Bucket) CopyFrom(ctx context.Context, srcBucket, key string) error {
	if err := b.remote(ctx); err != nil {
		return err
	}
	b.cloud.mu.Lock()
	defer b.cloud.mu.Unlock()
	if err := b.cloud.faults[srcBucket]; err != nil {
		return err
	}
	src, ok := b.cloud.buckets[srcBucket][key]
	if !ok {
		return storage.ErrNotFound
	}
	b.cloud.bucketLocked(b.name)[key] = &object{
		data:         slices.Clone(src.data),
		storageClass: storage.StorageClassStandard,
		private:      true,
	}
	return nil
}

func (b *Bucket) Delete(ctx context.Context, key string) error {
	if err := b.remote(ctx); err != nil {
		return err
	}
	b.cloud.mu.Lock()
	defer b.cloud.mu.Unlock()
	delete(b.cloud.buckets[b.name], key)
	return nil
}

func (b *Bucket) SetPrivate(ctx context.Context, key string) error {
	if err := b.remote(ctx); err != nil {
		return err
	}
	b.cloud.mu.Lock()
	defer b.cloud.mu.Unlock()
	obj, ok := b.cloud.buckets[b.name][key]
	if !ok {
		return storage.ErrNotFound
	}
	obj.private = true
	return nil
}

// remote 模拟一次远程调用：尊重 ctx 取消与注入的故障
func (b *Bucket) remote(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.cloud.mu.RLock()
	defer b.cloud.mu.RUnlock()
	return b.cloud.faults[b.name]
}
