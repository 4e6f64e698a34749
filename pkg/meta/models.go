package meta

import (
	"time"

	"gorm.io/datatypes"
)

// File 是一个由内容 (sha512 + size) 标识的文件，与文件名无关
// 服务端可能持有它的 0 到多份副本 (FileInstance)
type File struct {
	ID uint `gorm:"primaryKey"`

	// Sha512 唯一索引：内容寻址的核心约束，同一摘要最多一行
	Sha512 string `gorm:"type:char(128);uniqueIndex;not null"`

	// Size 一旦写入不可变
	Size int64 `gorm:"not null"`

	Visibility string `gorm:"type:varchar(16);not null"`

	Instances      []FileInstance  `gorm:"foreignKey:FileID"`
	PendingUploads []PendingUpload `gorm:"foreignKey:FileID"`

	CreatedAt time.Time
}

func (File) TableName() string { return "tooltool_files" }

// HasInstances 是否至少有一个区域持有已校验的副本
func (f *File) HasInstances() bool { return len(f.Instances) > 0 }

// Regions 返回持有副本的区域列表
func (f *File) Regions() []string {
	regions := make([]string, 0, len(f.Instances))
	for _, inst := range f.Instances {
		regions = append(regions, inst.Region)
	}
	return regions
}

// FileInstance 声明某区域持有一份已校验的副本
// 复合主键 (file_id, region) 是并发 Groomer 之间唯一的仲裁机制
type FileInstance struct {
	FileID uint   `gorm:"primaryKey;autoIncrement:false"`
	Region string `gorm:"primaryKey;type:varchar(64)"`

	CreatedAt time.Time
}

func (FileInstance) TableName() string { return "tooltool_file_instances" }

// Batch 上传批次：类似一次版本控制提交，只追加不修改
type Batch struct {
	ID       uint      `gorm:"primaryKey"`
	Uploaded time.Time `gorm:"index;not null"`
	Author   string    `gorm:"type:text;not null"`
	Message  string    `gorm:"type:text;not null"`

	Files []BatchFile `gorm:"foreignKey:BatchID"`
}

func (Batch) TableName() string { return "tooltool_batches" }

// BatchFile 把 Batch 与 File 以批次内文件名关联 (多对多)
type BatchFile struct {
	BatchID  uint   `gorm:"primaryKey;autoIncrement:false"`
	Filename string `gorm:"primaryKey;type:varchar(255)"`
	FileID   uint   `gorm:"index;not null"`

	File File `gorm:"foreignKey:FileID"`
}

func (BatchFile) TableName() string { return "tooltool_batch_files" }

// PendingUpload 已签发但尚未确认的上传
// 用于轮询已完成的上传，同时防止信任仍存在有效签名 URL 的对象
type PendingUpload struct {
	FileID    uint      `gorm:"primaryKey;autoIncrement:false"`
	Region    string    `gorm:"primaryKey;type:varchar(64)"`
	ExpiresAt time.Time `gorm:"index;not null"`

	// Version 用于乐观并发控制：每次续期 +1
	// Groomer 只删除自己检查过的那个版本
	Version int64 `gorm:"not null;default:1"`

	File File `gorm:"foreignKey:FileID"`
}

func (PendingUpload) TableName() string { return "tooltool_pending_uploads" }

// FileChange 管理操作的审计记录 (PATCH /file)
type FileChange struct {
	ID     uint   `gorm:"primaryKey"`
	FileID uint   `gorm:"index;not null"`
	Actor  string `gorm:"type:varchar(255);not null"`

	// Ops: 按顺序应用的操作列表，例如 [{"op":"set_visibility","visibility":"public"}]
	Ops datatypes.JSON

	CreatedAt time.Time
}

func (FileChange) TableName() string { return "tooltool_file_changes" }

// Models 返回需要迁移的全部表
func Models() []any {
	return []any{&File{}, &FileInstance{}, &Batch{}, &BatchFile{}, &PendingUpload{}, &FileChange{}}
}
