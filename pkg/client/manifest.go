package client

import (
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"tooltool/pkg/types"
)

// ErrDigestMismatch 本地内容与记录的摘要或大小不一致
var ErrDigestMismatch = errors.New("digest mismatch")

// FileRecord 清单里的一个文件
type FileRecord struct {
	Filename   string           `json:"filename"`
	Size       int64            `json:"size"`
	Algorithm  string           `json:"algorithm"`
	Digest     types.Digest     `json:"digest"`
	Visibility types.Visibility `json:"visibility,omitempty"`
}

// Manifest 清单文件 (默认 manifest.tt)：一组需要从 tooltool 取回的文件
type Manifest []FileRecord

// HashFile 计算本地文件的 sha512 与大小
func HashFile(path string) (FileRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return FileRecord{}, err
	}
	defer f.Close()

	h := sha512.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return FileRecord{}, fmt.Errorf("failed to hash %s: %w", path, err)
	}
	return FileRecord{
		Filename:  filepath.Base(path),
		Size:      n,
		Algorithm: types.Algorithm,
		Digest:    types.Digest(hex.EncodeToString(h.Sum(nil))),
	}, nil
}

// Validate 检查 dir 下对应文件是否存在且内容一致
func (r FileRecord) Validate(dir string) error {
	got, err := HashFile(filepath.Join(dir, r.Filename))
	if err != nil {
		return err
	}
	if got.Size != r.Size || got.Digest != r.Digest {
		return fmt.Errorf("%s: %w", r.Filename, ErrDigestMismatch)
	}
	return nil
}

func LoadManifest(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("invalid manifest %s: %w", path, err)
	}
	for _, r := range m {
		if r.Algorithm != types.Algorithm || !r.Digest.IsValid() {
			return nil, fmt.Errorf("invalid manifest %s: bad record for %q", path, r.Filename)
		}
	}
	return m, nil
}

// Save 以缩进 JSON 写出清单
func (m Manifest) Save(path string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0644)
}
