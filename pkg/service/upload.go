package service

import (
	"context"
	"errors"
	"slices"
	"time"

	"tooltool/pkg/api"
	"tooltool/pkg/apperr"
	"tooltool/pkg/auth"
	"tooltool/pkg/meta"
	"tooltool/pkg/queue"
	"tooltool/pkg/types"

	"github.com/google/uuid"
)

// CreateBatch 创建上传批次
//
// 对每个文件按摘要 get-or-create File；已有副本的文件不需要上传 (不返回 put_url)，
// 其余文件签发 PUT URL 并 upsert PendingUpload。批次与全部关联在一个短事务里提交。
func (s *Service) CreateBatch(ctx context.Context, caller auth.Caller, req api.UploadBatch, preferredRegion string) (*api.UploadBatch, error) {
	// 1. Validate
	names, err := validateBatch(caller, req)
	if err != nil {
		return nil, err
	}

	// 2. Authorize: 覆盖请求中全部可见级别
	if err := authorizeUpload(caller, req); err != nil {
		return nil, err
	}

	// 3. Execute
	region := s.app.Regions.Pick(preferredRegion, nil)
	bucket, err := s.app.Regions.Get(region)
	if err != nil {
		return nil, apperr.Internal(err, "no storage region available")
	}
	ttl := s.app.Settings.Upload.ExpiresIn

	batch := &meta.Batch{
		Uploaded: s.app.Now(),
		Author:   caller.ID(),
		Message:  req.Message,
	}
	putURLs := make(map[string]string)

	err = s.app.Repository.WithTx(ctx, func(tx *meta.Repository) error {
		for _, name := range names {
			info := req.Files[name]
			file, created, err := tx.GetOrCreateFile(ctx, info.Digest, info.Size, info.Visibility)
			if err != nil {
				return err
			}
			if !created {
				if file.Size != info.Size {
					return apperr.BadRequest("size mismatch for %s", name)
				}
				if file.Visibility != info.Visibility.String() {
					return apperr.BadRequest("cannot change a file's visibility level")
				}
			}

			if !file.HasInstances() {
				// 签名是本地计算；expires_at 取签名之后的时间，保证行不会比 URL 先过期
				url, err := bucket.PresignPut(ctx, types.KeyName(info.Digest), ttl)
				if err != nil {
					return apperr.Internal(err, "failed to sign upload url")
				}
				if _, err := tx.UpsertPendingUpload(ctx, file.ID, region, s.app.Now().Add(ttl)); err != nil {
					return err
				}
				putURLs[name] = url
				s.log.Info("generated signed upload url",
					"sha512", info.Digest.String(), "short", info.Digest.Short(),
					"region", region, "author", caller.ID(), "expires_in", ttl)
			}

			batch.Files = append(batch.Files, meta.BatchFile{Filename: name, FileID: file.ID, File: *file})
		}
		return tx.CreateBatch(ctx, batch)
	})
	if err != nil {
		var ae *apperr.Error
		if errors.As(err, &ae) {
			return nil, err
		}
		return nil, apperr.Internal(err, "failed to record upload batch")
	}

	for range putURLs {
		s.app.Metrics.UploadURLIssued()
	}
	s.log.Info("upload batch created", "batch", batch.ID, "author", batch.Author, "files", len(batch.Files), "uploads", len(putURLs))

	out := api.FromBatch(batch, putURLs)
	return &out, nil
}

// validateBatch 返回排序后的文件名 (确定性的处理与报错顺序)
func validateBatch(caller auth.Caller, req api.UploadBatch) ([]string, error) {
	if req.Message == "" {
		return nil, apperr.BadRequest("message must be non-empty")
	}
	if len(req.Files) == 0 {
		return nil, apperr.BadRequest("a batch must include at least one file")
	}
	if req.Author != "" {
		return nil, apperr.BadRequest("author must not be specified for upload")
	}
	if caller.ID() == "" {
		return nil, apperr.BadRequest("uploads require an authenticated user")
	}

	names := make([]string, 0, len(req.Files))
	for name, info := range req.Files {
		if name == "" {
			return nil, apperr.BadRequest("filenames must be non-empty")
		}
		if info.Algorithm != types.Algorithm {
			return nil, apperr.BadRequest("'sha512' is the only allowed digest algorithm")
		}
		if err := validDigest(info.Digest); err != nil {
			return nil, err
		}
		if info.Size < 0 {
			return nil, apperr.BadRequest("invalid size for %s", name)
		}
		if !info.Visibility.IsValid() {
			return nil, apperr.BadRequest("invalid visibility for %s", name)
		}
		names = append(names, name)
	}
	slices.Sort(names)
	return names, nil
}

func authorizeUpload(caller auth.Caller, req api.UploadBatch) error {
	seen := make(map[types.Visibility]bool)
	for _, info := range req.Files {
		if seen[info.Visibility] {
			continue
		}
		seen[info.Visibility] = true
		if !caller.Can(auth.UploadPermission(info.Visibility)) {
			return apperr.Forbidden("no permission to upload %s files", info.Visibility)
		}
	}
	return nil
}

// UploadComplete 客户端通知上传已完成
// 签名窗口仍开放时返回 Conflict (客户端按 Retry-After 重试)，否则投递一次单文件校验
func (s *Service) UploadComplete(ctx context.Context, digest types.Digest) error {
	if err := validDigest(digest); err != nil {
		return err
	}

	file, err := s.app.Repository.FileByDigest(ctx, digest)
	if err != nil {
		return lookupError(err, "file")
	}
	if len(file.PendingUploads) == 0 {
		if file.HasInstances() {
			// 已经校验过了
			return nil
		}
		return apperr.NotFound("no pending upload for this file")
	}

	// 任何一个窗口还开着，都不能校验：上传者仍可改写对象
	now := s.app.Now()
	var latest time.Time
	for _, pu := range file.PendingUploads {
		if pu.ExpiresAt.After(latest) {
			latest = pu.ExpiresAt
		}
	}
	if until := latest.Sub(now); until > 0 {
		// +1 秒，避免取整与时钟偏差
		retry := time.Duration(1+int64(until/time.Second)) * time.Second
		return apperr.Conflict(retry, "upload url has not expired yet")
	}

	msg := queue.Message{ID: uuid.NewString(), Digest: digest, EnqueuedAt: now}
	if err := s.app.Queue.Publish(ctx, msg); err != nil {
		if errors.Is(err, queue.ErrQueueFull) {
			// 定时 Groomer 会兜底
			s.log.Warn("trigger queue full; relying on the periodic pass", "sha512", digest.String())
			return nil
		}
		return apperr.Internal(err, "failed to schedule verification")
	}
	s.app.Metrics.TriggerPublished()
	s.log.Debug("scheduled verification", "sha512", digest.String(), "message_id", msg.ID)
	return nil
}
