// Package api 定义 HTTP 接口的线上格式 (wire format)，以及它与元数据行之间的纯映射函数
package api

import (
	"time"

	"tooltool/pkg/types"
)

// File 由内容 (而不是文件名) 标识的单个文件
// 按上下文可能带上传或下载 URL
type File struct {
	Algorithm  string           `json:"algorithm"`
	Digest     types.Digest     `json:"digest"`
	Size       int64            `json:"size"`
	Visibility types.Visibility `json:"visibility"`

	// Instances 持有副本的区域；只在查询单个文件时给出
	Instances []string `json:"instances,omitempty"`

	// PutURL 仅在仍需上传时出现，PUT 时 Content-Type 必须为 application/octet-stream
	PutURL string `json:"put_url,omitempty"`
}

// UploadBatch 一组一起上传的文件，类似一次版本控制提交
// 上传时 id/uploaded/author 由服务端填写
type UploadBatch struct {
	ID       uint            `json:"id,omitempty"`
	Uploaded *time.Time      `json:"uploaded,omitempty"`
	Author   string          `json:"author,omitempty"`
	Message  string          `json:"message"`
	Files    map[string]File `json:"files"`
}

// 管理操作
const (
	OpDeleteInstances = "delete_instances"
	OpSetVisibility   = "set_visibility"
)

// FileOp PATCH /file/sha512/<digest> 的单个操作
type FileOp struct {
	Op         string           `json:"op"`
	Visibility types.Visibility `json:"visibility,omitempty"`
}

// Result 列表查询的外层信封
type Result[T any] struct {
	Result []T `json:"result"`
}

// Error 错误响应体：{"error": {...}}
type Error struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Status      int    `json:"status"`
}
