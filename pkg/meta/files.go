package meta

import (
	"context"
	"errors"
	"fmt"

	"tooltool/pkg/types"

	"gorm.io/gorm"
)

// -----------------------------------------------------------------------------
// 1. 文件 (Content-Addressed Files)
// -----------------------------------------------------------------------------

// FileByDigest 按摘要查找文件，同时加载副本与待确认上传
func (r *Repository) FileByDigest(ctx context.Context, digest types.Digest) (*File, error) {
	var file File
	err := r.conn(ctx).
		Preload("Instances").
		Preload("PendingUploads").
		Where("sha512 = ?", digest.String()).
		First(&file).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrFileNotFound
	}
	if err != nil {
		return nil, err
	}
	return &file, nil
}

// GetOrCreateFile 按摘要幂等地获取或创建文件
// 已存在的行原样返回 (size/visibility 的冲突检查由调用方负责)
func (r *Repository) GetOrCreateFile(ctx context.Context, digest types.Digest, size int64, visibility types.Visibility) (*File, bool, error) {
	row := &File{
		Sha512:     digest.String(),
		Size:       size,
		Visibility: visibility.String(),
	}
	file, created, err := GetOrInsert(ctx, r.db.GetConn(), row, func(tx *gorm.DB) *gorm.DB {
		return tx.Preload("Instances").Where("sha512 = ?", digest.String())
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to get or create file: %w", err)
	}
	return file, created, nil
}

// SetVisibility 只修改可见级别，内容与副本不受影响
func (r *Repository) SetVisibility(ctx context.Context, fileID uint, visibility types.Visibility) error {
	return r.conn(ctx).
		Model(&File{}).
		Where("id = ?", fileID).
		Update("visibility", visibility.String()).Error
}

// SearchFiles 批次内文件名包含 q，或摘要以 q 开头
func (r *Repository) SearchFiles(ctx context.Context, q string) ([]File, error) {
	byName := r.conn(ctx).
		Model(&BatchFile{}).
		Select("file_id").
		Where("filename LIKE ?", "%"+q+"%")

	var files []File
	err := r.conn(ctx).
		Preload("Instances").
		Where("id IN (?) OR sha512 LIKE ?", byName, q+"%").
		Order("id").
		Find(&files).Error
	return files, err
}

// -----------------------------------------------------------------------------
// 2. 副本 (Verified Instances)
// -----------------------------------------------------------------------------

// AddFileInstance 幂等插入 FileInstance(file, region)
// 唯一约束冲突 = 另一个 Groomer 已经完成，不是错误
func (r *Repository) AddFileInstance(ctx context.Context, fileID uint, region string) (bool, error) {
	row := &FileInstance{FileID: fileID, Region: region}
	_, created, err := GetOrInsert(ctx, r.db.GetConn(), row, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("file_id = ? AND region = ?", fileID, region)
	})
	if err != nil {
		return false, fmt.Errorf("failed to add file instance: %w", err)
	}
	return created, nil
}

// DeleteFileInstances 删除文件的全部副本记录，返回被删除的行
func (r *Repository) DeleteFileInstances(ctx context.Context, fileID uint) ([]FileInstance, error) {
	var instances []FileInstance
	if err := r.conn(ctx).Where("file_id = ?", fileID).Find(&instances).Error; err != nil {
		return nil, err
	}
	if len(instances) == 0 {
		return nil, nil
	}
	if err := r.conn(ctx).Where("file_id = ?", fileID).Delete(&FileInstance{}).Error; err != nil {
		return nil, err
	}
	return instances, nil
}

// DeleteFileInstance 删除 (file, region) 的副本行；返回是否真的删除了一行
func (r *Repository) DeleteFileInstance(ctx context.Context, fileID uint, region string) (bool, error) {
	result := r.conn(ctx).Where("file_id = ? AND region = ?", fileID, region).Delete(&FileInstance{})
	if result.Error != nil {
		return false, fmt.Errorf("failed to delete file instance: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// FilesNeedingReplication 找出至少有一个副本、但副本数少于区域数的文件
func (r *Repository) FilesNeedingReplication(ctx context.Context, regionCount int) ([]File, error) {
	// SELECT file_id FROM instances GROUP BY file_id HAVING COUNT(*) < ?
	underReplicated := r.conn(ctx).
		Model(&FileInstance{}).
		Select("file_id").
		Group("file_id").
		Having("COUNT(*) < ?", regionCount)

	var files []File
	err := r.conn(ctx).
		Preload("Instances").
		Where("id IN (?)", underReplicated).
		Order("id").
		Find(&files).Error
	return files, err
}

// RecordFileChange 追加一条管理操作审计
func (r *Repository) RecordFileChange(ctx context.Context, change *FileChange) error {
	return r.conn(ctx).Create(change).Error
}
