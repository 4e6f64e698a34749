package meta

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// maxUpsertAttempts 续期与 Groomer 删除交错时的重试上限
const maxUpsertAttempts = 3

// UpsertPendingUpload 按 (file, region) 插入或续期待确认上传
//
// 场景 A: 不存在 -> INSERT (version = 1)
// 场景 B: 已存在 -> UPDATE expires_at，version + 1，不产生重复行
// 如果 UPDATE 时行刚好被 Groomer 删掉 (影响行数为 0)，回到场景 A 重试
func (r *Repository) UpsertPendingUpload(ctx context.Context, fileID uint, region string, expiresAt time.Time) (*PendingUpload, error) {
	for attempt := 0; attempt < maxUpsertAttempts; attempt++ {
		row := &PendingUpload{FileID: fileID, Region: region, ExpiresAt: expiresAt, Version: 1}
		pu, created, err := GetOrInsert(ctx, r.db.GetConn(), row, func(tx *gorm.DB) *gorm.DB {
			return tx.Where("file_id = ? AND region = ?", fileID, region)
		})
		if err != nil {
			return nil, fmt.Errorf("failed to upsert pending upload: %w", err)
		}
		if created {
			return pu, nil
		}

		result := r.conn(ctx).
			Model(&PendingUpload{}).
			Where("file_id = ? AND region = ? AND version = ?", fileID, region, pu.Version).
			Updates(map[string]any{
				"expires_at": expiresAt,
				"version":    gorm.Expr("version + 1"),
			})
		if result.Error != nil {
			return nil, fmt.Errorf("failed to renew pending upload: %w", result.Error)
		}
		if result.RowsAffected == 1 {
			pu.ExpiresAt = expiresAt
			pu.Version++
			return pu, nil
		}
	}
	return nil, ErrConcurrentUpdate
}

// ListPendingUploads 返回全部待确认上传 (带上 File)
func (r *Repository) ListPendingUploads(ctx context.Context) ([]PendingUpload, error) {
	var uploads []PendingUpload
	err := r.conn(ctx).
		Preload("File").
		Order("file_id, region").
		Find(&uploads).Error
	return uploads, err
}

// PendingUploadsForFile 返回单个文件的待确认上传
func (r *Repository) PendingUploadsForFile(ctx context.Context, fileID uint) ([]PendingUpload, error) {
	var uploads []PendingUpload
	err := r.conn(ctx).
		Preload("File").
		Where("file_id = ?", fileID).
		Order("region").
		Find(&uploads).Error
	return uploads, err
}

// DeletePendingUpload 删除“读到的那个版本”的待确认上传 (CAS Delete)
// 如果在检查期间有人续期了 (version 变了)，删除不生效，返回 false；
// 续期之后的签名窗口会在下一轮重新校验。
func (r *Repository) DeletePendingUpload(ctx context.Context, pu *PendingUpload) (bool, error) {
	result := r.conn(ctx).
		Where("file_id = ? AND region = ? AND version = ?", pu.FileID, pu.Region, pu.Version).
		Delete(&PendingUpload{})
	if result.Error != nil {
		return false, fmt.Errorf("failed to delete pending upload: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}
