package service

import (
	"context"
	"encoding/json"

	"tooltool/pkg/api"
	"tooltool/pkg/apperr"
	"tooltool/pkg/auth"
	"tooltool/pkg/meta"
	"tooltool/pkg/types"
)

// GetFile 单个文件的元数据，带副本区域
func (s *Service) GetFile(ctx context.Context, digest types.Digest) (*api.File, error) {
	if err := validDigest(digest); err != nil {
		return nil, err
	}
	file, err := s.app.Repository.FileByDigest(ctx, digest)
	if err != nil {
		return nil, lookupError(err, "file")
	}
	out := api.FromFile(file, true)
	return &out, nil
}

// SearchFiles 批次内文件名包含 q，或摘要以 q 开头的文件
func (s *Service) SearchFiles(ctx context.Context, q string) ([]api.File, error) {
	files, err := s.app.Repository.SearchFiles(ctx, q)
	if err != nil {
		return nil, apperr.Internal(err, "failed to search files")
	}
	return api.FromFiles(files, true), nil
}

// PatchFile 按顺序对文件应用管理操作
//
// 全部操作先校验，再在一个事务里执行并写审计；被删除副本的远程对象在提交之后才删，
// 删除失败只记录日志 (孤儿对象不会再被任何 FileInstance 声明)。
func (s *Service) PatchFile(ctx context.Context, caller auth.Caller, digest types.Digest, ops []api.FileOp) (*api.File, error) {
	if err := validDigest(digest); err != nil {
		return nil, err
	}
	if !caller.Can(auth.PermManage) {
		return nil, apperr.Forbidden("no permission to manage files")
	}
	if err := validateOps(ops); err != nil {
		return nil, err
	}

	file, err := s.app.Repository.FileByDigest(ctx, digest)
	if err != nil {
		return nil, lookupError(err, "file")
	}

	opsJSON, err := json.Marshal(ops)
	if err != nil {
		return nil, apperr.Internal(err, "failed to encode ops")
	}

	var removed []meta.FileInstance
	err = s.app.Repository.WithTx(ctx, func(tx *meta.Repository) error {
		for _, op := range ops {
			switch op.Op {
			case api.OpDeleteInstances:
				deleted, err := tx.DeleteFileInstances(ctx, file.ID)
				if err != nil {
					return err
				}
				removed = append(removed, deleted...)
			case api.OpSetVisibility:
				if err := tx.SetVisibility(ctx, file.ID, op.Visibility); err != nil {
					return err
				}
			}
		}
		return tx.RecordFileChange(ctx, &meta.FileChange{
			FileID: file.ID,
			Actor:  caller.ID(),
			Ops:    opsJSON,
		})
	})
	if err != nil {
		return nil, apperr.Internal(err, "failed to apply file ops")
	}

	// 事务已提交：清理远程对象
	for _, inst := range removed {
		bucket, err := s.app.Regions.Get(inst.Region)
		if err != nil {
			s.log.Warn("instance region is not configured; leaving object in place",
				"sha512", digest.String(), "region", inst.Region)
			continue
		}
		if err := bucket.Delete(ctx, types.KeyName(digest)); err != nil {
			s.log.Error("failed to delete object of removed instance",
				"sha512", digest.String(), "region", inst.Region, "error", err)
			continue
		}
		s.log.Info("deleted instance", "sha512", digest.String(), "short", digest.Short(), "region", inst.Region)
	}

	file, err = s.app.Repository.FileByDigest(ctx, digest)
	if err != nil {
		return nil, lookupError(err, "file")
	}
	out := api.FromFile(file, true)
	return &out, nil
}

func validateOps(ops []api.FileOp) error {
	for _, op := range ops {
		switch op.Op {
		case "":
			return apperr.BadRequest("no op")
		case api.OpDeleteInstances:
		case api.OpSetVisibility:
			if !op.Visibility.IsValid() {
				return apperr.BadRequest("bad visibility level")
			}
		default:
			return apperr.BadRequest("unknown op")
		}
	}
	return nil
}
