package storage

import (
	"context"
	"errors"
	"io"
	"math/rand/v2"
	"slices"
	"time"
)

var (
	ErrNotFound      = errors.New("object not found")
	ErrUnknownRegion = errors.New("region is not configured")
)

// StorageClassStandard 是唯一允许的存储类别 (不接受 REDUCED_REDUNDANCY 等)
const StorageClassStandard = "STANDARD"

// ContentType 上传 URL 签名时绑定的 Content-Type，客户端 PUT 时必须一致
const ContentType = "application/octet-stream"

// ObjectInfo 是 HEAD 返回的对象元数据 (只取校验需要的字段)
type ObjectInfo struct {
	Size int64

	// StorageClass 为空表示 STANDARD (S3 对 STANDARD 不返回该头)
	StorageClass string

	// WebsiteRedirect 非空意味着对象会把下载者重定向到别处，不可信
	WebsiteRedirect string
}

// IsStandard 存储类别是否为 STANDARD
func (i ObjectInfo) IsStandard() bool {
	return i.StorageClass == "" || i.StorageClass == StorageClassStandard
}

// Bucket 是某个区域里的一个对象桶
// 实现可以是 S3 (pkg/storage/s3) 或进程内内存 (pkg/storage/memory)
type Bucket interface {
	Region() string
	Name() string

	// PresignPut / PresignGet 只做本地签名计算，不产生网络 I/O
	PresignPut(ctx context.Context, key string, ttl time.Duration) (string, error)
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)

	// Head 对象不存在时返回 ErrNotFound
	Head(ctx context.Context, key string) (*ObjectInfo, error)

	// Get 流式读取，调用方负责 Close
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// CopyFrom 服务端复制：从同一云上名为 srcBucket 的桶复制 key 到本桶
	// 目标对象存储类别为 STANDARD，ACL 为 private (不继承源对象 ACL)
	CopyFrom(ctx context.Context, srcBucket, key string) error

	Delete(ctx context.Context, key string) error

	// SetPrivate 把对象 ACL 设为 private，只能通过签名 URL 访问
	SetPrivate(ctx context.Context, key string) error
}

// Regions 按区域名索引的已配置桶集合
type Regions map[string]Bucket

// NewRegions 从桶列表构建区域表
func NewRegions(buckets ...Bucket) Regions {
	regions := make(Regions, len(buckets))
	for _, b := range buckets {
		regions[b.Region()] = b
	}
	return regions
}

// Names 返回排序后的区域名 (确定性顺序)
func (r Regions) Names() []string {
	names := make([]string, 0, len(r))
	for name := range r {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Has 区域是否已配置
func (r Regions) Has(region string) bool {
	_, ok := r[region]
	return ok
}

// Get 返回区域对应的桶
func (r Regions) Get(region string) (Bucket, error) {
	b, ok := r[region]
	if !ok {
		return nil, ErrUnknownRegion
	}
	return b, nil
}

// Pick 从 candidates 中选一个已配置的区域：优先 preferred，否则随机
// candidates 为 nil 时从全部已配置区域中选；没有可选区域返回 ""
func (r Regions) Pick(preferred string, candidates []string) string {
	if candidates == nil {
		candidates = r.Names()
	}

	var usable []string
	for _, c := range candidates {
		if r.Has(c) {
			usable = append(usable, c)
		}
	}
	if len(usable) == 0 {
		return ""
	}
	if preferred != "" && slices.Contains(usable, preferred) {
		return preferred
	}
	return usable[rand.IntN(len(usable))]
}
