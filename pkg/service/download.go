package service

import (
	"context"

	"tooltool/pkg/apperr"
	"tooltool/pkg/auth"
	"tooltool/pkg/types"
)

// Resolve 为下载签发一个短时效的 GET URL (HTTP 层返回 302)
func (s *Service) Resolve(ctx context.Context, caller auth.Caller, digest types.Digest, preferredRegion string) (string, error) {
	if err := validDigest(digest); err != nil {
		return "", err
	}

	file, err := s.app.Repository.FileByDigest(ctx, digest)
	if err != nil {
		return "", lookupError(err, "file")
	}
	if !file.HasInstances() {
		return "", apperr.NotFound("no such file")
	}

	vis := types.Visibility(file.Visibility)
	if !caller.Can(auth.DownloadPermission(vis)) {
		anonymousOK := vis == types.Public && s.app.Settings.Auth.AllowAnonymousPublicDownload
		if !anonymousOK {
			return "", apperr.Forbidden("no permission to download %s files", vis)
		}
	}

	// 只在已配置的区域里挑；偏好区域有副本就用它
	region := s.app.Regions.Pick(preferredRegion, file.Regions())
	if region == "" {
		return "", apperr.NotFound("file is not available in any configured region")
	}
	bucket, err := s.app.Regions.Get(region)
	if err != nil {
		return "", apperr.Internal(err, "failed to resolve region %s", region)
	}

	url, err := bucket.PresignGet(ctx, types.KeyName(digest), s.app.Settings.Download.ExpiresIn)
	if err != nil {
		return "", apperr.Internal(err, "failed to sign download url")
	}

	s.app.Metrics.DownloadRedirected(region)
	s.log.Debug("redirecting download", "sha512", digest.String(), "region", region, "caller", caller.ID())
	return url, nil
}
