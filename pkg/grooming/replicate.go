package grooming

import (
	"context"
	"fmt"
	"slices"

	"tooltool/pkg/meta"
	"tooltool/pkg/metrics"
	"tooltool/pkg/types"
)

// Replicate 把副本数少于区域数的文件复制到缺失的区域
//
// 每个目标区域独立处理：复制失败只记日志，继续下一个区域，下一轮会重试。
func (g *Groomer) Replicate(ctx context.Context) error {
	configured := g.app.Regions.Names()
	files, err := g.app.Repository.FilesNeedingReplication(ctx, len(configured))
	if err != nil {
		return fmt.Errorf("failed to find files needing replication: %w", err)
	}
	g.log.Info("replicating files", "count", len(files))

	for i := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		g.replicateFile(ctx, &files[i], configured)
	}
	return nil
}

func (g *Groomer) replicateFile(ctx context.Context, file *meta.File, configured []string) {
	digest := types.Digest(file.Sha512)
	log := g.log.With("sha512", digest.String())
	have := file.Regions()

	// 源：已有副本且仍在配置中的区域 (取排序后第一个，结果确定)
	var sources []string
	for _, r := range have {
		if g.app.Regions.Has(r) {
			sources = append(sources, r)
		}
	}
	if len(sources) == 0 {
		log.Warn(fmt.Sprintf("no instances of %s in a configured region; cannot replicate", digest.Short()), "regions", have)
		return
	}
	slices.Sort(sources)
	src, err := g.app.Regions.Get(sources[0])
	if err != nil {
		log.Error("failed to resolve replication source", "region", sources[0], "error", err)
		return
	}

	key := types.KeyName(digest)
	for _, region := range configured {
		if slices.Contains(have, region) {
			continue
		}
		dst, err := g.app.Regions.Get(region)
		if err != nil {
			log.Error("failed to resolve replication target", "region", region, "error", err)
			g.app.Metrics.Replication(metrics.ResultFailed)
			continue
		}

		// 服务端复制：STANDARD 存储类别，不继承源对象的 ACL
		if err := dst.CopyFrom(ctx, src.Name(), key); err != nil {
			log.Error("failed to copy object", "from", src.Region(), "to", region, "error", err)
			g.app.Metrics.Replication(metrics.ResultFailed)
			continue
		}

		if _, err := g.app.Repository.AddFileInstance(ctx, file.ID, region); err != nil {
			log.Error("failed to record replicated instance", "region", region, "error", err)
			g.app.Metrics.Replication(metrics.ResultFailed)
			continue
		}

		g.app.Metrics.Replication(metrics.ResultCopied)
		log.Info(fmt.Sprintf("replicated %s", digest.Short()), "from", src.Region(), "to", region)
	}
}
