package meta

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CreateBatch 写入批次及其 BatchFile 关联 (只追加)
// 调用方应在 WithTx 中调用，保证批次与关联一起提交
func (r *Repository) CreateBatch(ctx context.Context, batch *Batch) error {
	files := batch.Files

	if err := r.conn(ctx).Omit(clause.Associations).Create(batch).Error; err != nil {
		return fmt.Errorf("failed to create batch: %w", err)
	}

	for i := range files {
		files[i].BatchID = batch.ID
		if err := r.conn(ctx).Omit("File").Create(&files[i]).Error; err != nil {
			return fmt.Errorf("failed to link %s to batch: %w", files[i].Filename, err)
		}
	}
	batch.Files = files
	return nil
}

// GetBatch 按 ID 读取批次，带上文件
func (r *Repository) GetBatch(ctx context.Context, id uint) (*Batch, error) {
	var batch Batch
	err := r.conn(ctx).
		Preload("Files.File").
		Where("id = ?", id).
		First(&batch).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrBatchNotFound
	}
	if err != nil {
		return nil, err
	}
	return &batch, nil
}

// SearchBatches 作者或消息包含 q 的批次，按 ID 升序
func (r *Repository) SearchBatches(ctx context.Context, q string) ([]Batch, error) {
	pattern := "%" + q + "%"

	var batches []Batch
	err := r.conn(ctx).
		Preload("Files.File").
		Where("author LIKE ? OR message LIKE ?", pattern, pattern).
		Order("id").
		Find(&batches).Error
	return batches, err
}
