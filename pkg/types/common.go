// pkg/types/common.go
package types

import (
	"regexp"
)

// Algorithm 是唯一支持的摘要算法 (为将来扩展保留字段)
const Algorithm = "sha512"

// digestPattern: sha512 的十六进制表示，固定 128 个小写字符
var digestPattern = regexp.MustCompile(`^[0-9a-f]{128}$`)

// Digest 代表文件内容的 sha512 Hex String
// 这是一个“值对象”，内容寻址的唯一身份
type Digest string

func (d Digest) String() string { return string(d) }

func (d Digest) IsZero() bool  { return d == "" }
func (d Digest) IsValid() bool { return digestPattern.MatchString(string(d)) }

// Short 返回前 10 位，用于日志
func (d Digest) Short() string {
	if len(d) < 10 {
		return string(d)
	}
	return string(d[:10])
}

// KeyName 返回对象在每个区域 Bucket 中的 Key
// 确定性命名：相同内容永远落在同一个 Key 上，天然去重
func KeyName(d Digest) string {
	return Algorithm + "/" + string(d)
}

// Visibility 文件可见级别
// 上传者（在法律意义上！）负责选择正确的级别
type Visibility string

const (
	Public   Visibility = "public"
	Internal Visibility = "internal"
)

func (v Visibility) String() string { return string(v) }

func (v Visibility) IsValid() bool {
	return v == Public || v == Internal
}
