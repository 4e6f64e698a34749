// Package queue 承载 "上传完成" 触发消息：API 进程发布，worker 消费后对单个文件跑一次校验
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tooltool/pkg/types"

	"github.com/fxamacker/cbor/v2"
)

var (
	ErrClosed    = errors.New("queue closed")
	ErrQueueFull = errors.New("queue full")
)

// Message 一次上传完成通知
type Message struct {
	Digest     types.Digest `cbor:"1,keyasint"`
	EnqueuedAt time.Time    `cbor:"2,keyasint"`
	// ID 发布方生成，用于把 API 与 worker 的日志串起来
	ID string `cbor:"3,keyasint,omitempty"`
}

type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

type Consumer interface {
	// Consume 阻塞直到拿到一条消息，或 ctx 结束
	Consume(ctx context.Context) (Message, error)
}

type Queue interface {
	Publisher
	Consumer
	Close() error
}

// 确定性编码：相同消息永远编码成相同字节
var encOptions = cbor.EncOptions{
	Sort:        cbor.SortCanonical,
	Time:        cbor.TimeUnix,
	TimeTag:     cbor.EncTagNone,
	IndefLength: cbor.IndefLengthForbidden,
}

var em, _ = encOptions.EncMode()

// 解码选项：限制容器规模，拒绝来源不明的巨大消息
var decOptions = cbor.DecOptions{
	MaxArrayElements: 16,
	MaxMapPairs:      16,
	MaxNestedLevels:  4,
	IndefLength:      cbor.IndefLengthForbidden,
	DupMapKey:        cbor.DupMapKeyEnforcedAPF,
	TimeTag:          cbor.DecTagIgnored,
}

var dm, _ = decOptions.DecMode()

// Encode 序列化消息
func Encode(msg Message) ([]byte, error) {
	data, err := em.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}
	return data, nil
}

// Decode 反序列化并校验消息
func Decode(data []byte) (Message, error) {
	var msg Message
	if err := dm.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("failed to unmarshal message: %w", err)
	}
	if !msg.Digest.IsValid() {
		return Message{}, fmt.Errorf("message carries malformed digest %q", msg.Digest)
	}
	return msg, nil
}
