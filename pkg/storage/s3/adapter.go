package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"tooltool/pkg/storage"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// Adapter 实现了 storage.Bucket 接口：一个区域里的一个 S3 桶
type Adapter struct {
	client  *s3.Client
	presign *s3.PresignClient
	region  string
	bucket  string
}

var _ storage.Bucket = (*Adapter)(nil)

// Config 用于初始化 Adapter
type Config struct {
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string

	// EnsureBucket 启动时桶不存在则创建 (MinIO 本地开发用)
	EnsureBucket bool
}

// NewAdapter 初始化 S3 客户端 (适配 AWS SDK v2 最新规范)
func NewAdapter(ctx context.Context, cfg Config) (*Adapter, error) {
	if cfg.Region == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("s3: region and bucket are required")
	}

	// 1. 加载基础配置 (Region + Credentials)
	// 未显式给出 AK/SK 时走默认凭证链 (环境变量、IAM Role)
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID, cfg.SecretAccessKey, "",
		)))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}

	// 2. 创建 S3 客户端时注入特定于 S3 的配置 (BaseEndpoint 而不是全局 Resolver)
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			// MinIO 必须强制使用 Path Style: http://host:9000/bucket/key
			o.UsePathStyle = true
		}
	})

	if cfg.EnsureBucket {
		if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: &cfg.Bucket}); err != nil {
			if _, err := client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: &cfg.Bucket}); err != nil {
				// 并发创建或权限问题：继续，真正的错误会在第一次读写时暴露
				slog.Warn("failed to ensure bucket exists", "bucket", cfg.Bucket, "error", err)
			}
		}
	}

	return &Adapter{
		client:  client,
		presign: s3.NewPresignClient(client),
		region:  cfg.Region,
		bucket:  cfg.Bucket,
	}, nil
}

func (s *Adapter) Region() string { return s.region }
func (s *Adapter) Name() string   { return s.bucket }

// PresignPut 签发 PUT URL，Content-Type 被绑定进签名
func (s *Adapter) PresignPut(ctx context.Context, key string, ttl time.Duration) (string, error) {
	req, err := s.presign.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		ContentType: aws.String(storage.ContentType),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("s3 presign put failed: %w", err)
	}
	return req.URL, nil
}

// PresignGet 签发 GET URL
func (s *Adapter) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("s3 presign get failed: %w", err)
	}
	return req.URL, nil
}

// Head 读取对象元数据
func (s *Adapter) Head(ctx context.Context, key string) (*storage.ObjectInfo, error) {
	resp, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("s3 head failed: %w", err)
	}

	return &storage.ObjectInfo{
		Size:            aws.ToInt64(resp.ContentLength),
		StorageClass:    string(resp.StorageClass),
		WebsiteRedirect: aws.ToString(resp.WebsiteRedirectLocation),
	}, nil
}

// Get 下载对象 (流式)
func (s *Adapter) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		// 将 AWS 的 NoSuchKey 错误映射为我们自己的 ErrNotFound
		if isNotFound(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("s3 get failed: %w", err)
	}
	return resp.Body, nil
}

// CopyFrom 服务端跨区域复制
func (s *Adapter) CopyFrom(ctx context.Context, srcBucket, key string) error {
	_, err := s.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:       aws.String(s.bucket),
		Key:          aws.String(key),
		CopySource:   aws.String(url.PathEscape(srcBucket) + "/" + key),
		StorageClass: s3types.StorageClassStandard,
		ACL:          s3types.ObjectCannedACLPrivate,
	})
	if err != nil {
		if isNotFound(err) {
			return storage.ErrNotFound
		}
		return fmt.Errorf("s3 copy %s -> %s failed: %w", srcBucket, s.bucket, err)
	}
	return nil
}

// Delete 删除对象 (对象不存在时 S3 同样返回成功)
func (s *Adapter) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("s3 delete failed: %w", err)
	}
	return nil
}

// SetPrivate 设置对象 ACL 为 private
func (s *Adapter) SetPrivate(ctx context.Context, key string) error {
	_, err := s.client.PutObjectAcl(ctx, &s3.PutObjectAclInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		ACL:    s3types.ObjectCannedACLPrivate,
	})
	if err != nil {
		return fmt.Errorf("s3 put acl failed: %w", err)
	}
	return nil
}

func isNotFound(err error) bool {
	var notFound *s3types.NotFound
	var noKey *s3types.NoSuchKey
	if errors.As(err, &notFound) || errors.As(err, &noKey) {
		return true
	}
	// 兼容性：某些 S3 实现可能返回 generic 404 error string
	return strings.Contains(err.Error(), "StatusCode: 404")
}
