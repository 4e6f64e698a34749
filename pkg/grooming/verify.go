package grooming

import (
	"context"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"tooltool/pkg/meta"
	"tooltool/pkg/metrics"
	"tooltool/pkg/storage"
	"tooltool/pkg/types"

	"golang.org/x/sync/errgroup"
)

// CheckPendingUploads 检查全部 PendingUpload (定时任务入口)
func (g *Groomer) CheckPendingUploads(ctx context.Context) error {
	uploads, err := g.app.Repository.ListPendingUploads(ctx)
	if err != nil {
		return fmt.Errorf("failed to list pending uploads: %w", err)
	}
	g.app.Metrics.SetPendingUploads(len(uploads))
	g.log.Info("checking pending uploads", "count", len(uploads))
	return g.checkAll(ctx, uploads)
}

// CheckFile 只检查一个文件的 PendingUpload (upload-complete 触发)
func (g *Groomer) CheckFile(ctx context.Context, digest types.Digest) error {
	file, err := g.app.Repository.FileByDigest(ctx, digest)
	if err != nil {
		return fmt.Errorf("failed to load file %s: %w", digest.Short(), err)
	}
	uploads, err := g.app.Repository.PendingUploadsForFile(ctx, file.ID)
	if err != nil {
		return fmt.Errorf("failed to list pending uploads of %s: %w", digest.Short(), err)
	}
	return g.checkAll(ctx, uploads)
}

func (g *Groomer) checkAll(ctx context.Context, uploads []meta.PendingUpload) error {
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(max(g.Concurrency, 1))

	for i := range uploads {
		pu := &uploads[i]
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			result := g.checkPendingUpload(ctx, pu)
			g.app.Metrics.Verification(result)
			return nil
		})
	}
	return eg.Wait()
}

// checkPendingUpload 处理单个 PendingUpload，返回结果标签
//
// 全程不持有数据库事务：HEAD/GET/DELETE/ACL 都是远程调用，
// 只有最后的 "插入副本 + 删除 PU" 在一个短事务里完成。
func (g *Groomer) checkPendingUpload(ctx context.Context, pu *meta.PendingUpload) string {
	digest := types.Digest(pu.File.Sha512)
	log := g.log.With("sha512", digest.String(), "region", pu.Region)
	now := g.app.Now()

	// 1. 签名窗口仍开放：上传者还能改写对象，现在的内容不可信
	if now.Before(pu.ExpiresAt) {
		return metrics.ResultNotExpired
	}

	// 2. 过了宽限期仍未完成：放弃
	if now.After(pu.ExpiresAt.Add(g.app.Settings.Upload.Grace)) {
		log.Info(fmt.Sprintf("upload of %s abandoned; dropping pending upload", digest.Short()))
		return g.dropPendingUpload(ctx, pu, metrics.ResultAbandoned)
	}

	// 3. 区域已不再配置
	bucket, err := g.app.Regions.Get(pu.Region)
	if err != nil {
		log.Warn(fmt.Sprintf("pending upload of %s is in an unconfigured region; dropping", digest.Short()))
		return g.dropPendingUpload(ctx, pu, metrics.ResultUnconfigured)
	}

	// 4. HEAD
	key := types.KeyName(digest)
	info, err := bucket.Head(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		// 客户端可能还在上传，或很快会重试；留到下一轮
		return metrics.ResultAbsent
	}
	if err != nil {
		log.Warn("failed to head uploaded object", "error", err)
		return metrics.ResultTransient
	}

	// 5. 校验内容
	valid, err := g.verifyObject(ctx, bucket, key, pu.File, info)
	if err != nil {
		log.Warn("failed to read uploaded object", "error", err)
		return metrics.ResultTransient
	}

	if !valid {
		// 5a. 无效：删除对象，再删除 PU；用户可以重新上传
		if err := bucket.Delete(ctx, key); err != nil {
			log.Warn("failed to delete invalid upload", "error", err)
			return metrics.ResultTransient
		}
		return g.purgeInvalid(ctx, pu)
	}

	// 5b. 有效：收回 ACL，声明副本，删除 PU
	if err := bucket.SetPrivate(ctx, key); err != nil {
		log.Warn("failed to set object acl to private", "error", err)
		return metrics.ResultTransient
	}

	result := metrics.ResultVerified
	err = g.app.Repository.WithTx(ctx, func(tx *meta.Repository) error {
		if _, err := tx.AddFileInstance(ctx, pu.FileID, pu.Region); err != nil {
			return err
		}
		deleted, err := tx.DeletePendingUpload(ctx, pu)
		if err != nil {
			return err
		}
		if !deleted {
			result = metrics.ResultSuperseded
		}
		return nil
	})
	if err != nil {
		log.Error("failed to record verified instance", "error", err)
		return metrics.ResultTransient
	}

	log.Info(fmt.Sprintf("verified upload of %s", digest.Short()), "result", result)
	return result
}

// verifyObject 检查大小、存储类别、重定向，最后流式计算 sha512
// 返回 (false, nil) 表示内容确定无效；error 表示无法判断
func (g *Groomer) verifyObject(ctx context.Context, bucket storage.Bucket, key string, file meta.File, info *storage.ObjectInfo) (bool, error) {
	log := g.log.With("sha512", file.Sha512, "region", bucket.Region())

	if info.Size != file.Size {
		log.Warn("uploaded object has the wrong size", "want", file.Size, "got", info.Size)
		return false, nil
	}
	if !info.IsStandard() {
		log.Warn("uploaded object has a non-standard storage class", "storage_class", info.StorageClass)
		return false, nil
	}
	if info.WebsiteRedirect != "" {
		log.Warn("uploaded object has a website redirect", "location", info.WebsiteRedirect)
		return false, nil
	}

	body, err := bucket.Get(ctx, key)
	if err != nil {
		return false, err
	}
	defer body.Close()

	h := sha512.New()
	if _, err := io.Copy(h, body); err != nil {
		return false, err
	}
	if got := hex.EncodeToString(h.Sum(nil)); got != file.Sha512 {
		log.Warn("uploaded object has the wrong digest", "got", got)
		return false, nil
	}
	return true, nil
}

// purgeInvalid 对象已删除：同一事务里撤掉该区域的副本行并 CAS 删除 PU
// 副本行可能来自更早一轮校验 (PU 随后被续期) 或复制；撤掉后由 Replicate 从好的副本补齐
func (g *Groomer) purgeInvalid(ctx context.Context, pu *meta.PendingUpload) string {
	result := metrics.ResultInvalid
	err := g.app.Repository.WithTx(ctx, func(tx *meta.Repository) error {
		removed, err := tx.DeleteFileInstance(ctx, pu.FileID, pu.Region)
		if err != nil {
			return err
		}
		if removed {
			g.log.Warn("removed file instance whose object was overwritten with invalid content",
				"sha512", pu.File.Sha512, "region", pu.Region)
		}
		deleted, err := tx.DeletePendingUpload(ctx, pu)
		if err != nil {
			return err
		}
		if !deleted {
			result = metrics.ResultSuperseded
		}
		return nil
	})
	if err != nil {
		g.log.Error("failed to purge invalid upload", "sha512", pu.File.Sha512, "region", pu.Region, "error", err)
		return metrics.ResultTransient
	}
	return result
}

// dropPendingUpload CAS 删除 PU；版本已变 (被续期) 时不删除，返回 superseded
func (g *Groomer) dropPendingUpload(ctx context.Context, pu *meta.PendingUpload, result string) string {
	deleted, err := g.app.Repository.DeletePendingUpload(ctx, pu)
	if err != nil {
		g.log.Error("failed to delete pending upload", "sha512", pu.File.Sha512, "region", pu.Region, "error", err)
		return metrics.ResultTransient
	}
	if !deleted {
		return metrics.ResultSuperseded
	}
	return result
}
