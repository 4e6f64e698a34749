package api

import (
	"slices"

	"tooltool/pkg/meta"
	"tooltool/pkg/types"
)

// FromFile 把元数据行映射为线上格式
// withInstances 为 true 时附带副本区域 (排序)
func FromFile(f *meta.File, withInstances bool) File {
	out := File{
		Algorithm:  types.Algorithm,
		Digest:     types.Digest(f.Sha512),
		Size:       f.Size,
		Visibility: types.Visibility(f.Visibility),
	}
	if withInstances {
		out.Instances = f.Regions()
		slices.Sort(out.Instances)
	}
	return out
}

// FromFiles 批量映射
func FromFiles(files []meta.File, withInstances bool) []File {
	out := make([]File, 0, len(files))
	for i := range files {
		out = append(out, FromFile(&files[i], withInstances))
	}
	return out
}

// FromBatch 映射批次；putURLs 按文件名给出需要上传的签名 URL (可为 nil)
func FromBatch(b *meta.Batch, putURLs map[string]string) UploadBatch {
	uploaded := b.Uploaded
	out := UploadBatch{
		ID:       b.ID,
		Uploaded: &uploaded,
		Author:   b.Author,
		Message:  b.Message,
		Files:    make(map[string]File, len(b.Files)),
	}
	for i := range b.Files {
		bf := &b.Files[i]
		f := FromFile(&bf.File, false)
		f.PutURL = putURLs[bf.Filename]
		out.Files[bf.Filename] = f
	}
	return out
}

// FromBatches 批量映射 (列表查询不带 URL)
func FromBatches(batches []meta.Batch) []UploadBatch {
	out := make([]UploadBatch, 0, len(batches))
	for i := range batches {
		out = append(out, FromBatch(&batches[i], nil))
	}
	return out
}
