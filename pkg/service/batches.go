package service

import (
	"context"

	"tooltool/pkg/api"
	"tooltool/pkg/apperr"
)

// GetBatch 按 ID 读取批次
func (s *Service) GetBatch(ctx context.Context, id uint) (*api.UploadBatch, error) {
	batch, err := s.app.Repository.GetBatch(ctx, id)
	if err != nil {
		return nil, lookupError(err, "batch")
	}
	out := api.FromBatch(batch, nil)
	return &out, nil
}

// SearchBatches 作者或消息包含 q 的批次
func (s *Service) SearchBatches(ctx context.Context, q string) ([]api.UploadBatch, error) {
	batches, err := s.app.Repository.SearchBatches(ctx, q)
	if err != nil {
		return nil, apperr.Internal(err, "failed to search batches")
	}
	return api.FromBatches(batches), nil
}
