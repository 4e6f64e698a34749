package meta

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
)

var (
	ErrFileNotFound     = errors.New("file not found in metadata")
	ErrBatchNotFound    = errors.New("batch not found in metadata")
	ErrConcurrentUpdate = errors.New("concurrent update detected (CAS failed)")
)

// Repository 封装所有对 SQL 数据库的操作
type Repository struct {
	db *DB
}

func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) conn(ctx context.Context) *gorm.DB {
	return r.db.GetConn().WithContext(ctx)
}

// WithTx 在一个短事务里执行 fn，fn 拿到的 Repository 绑定在该事务上
// 注意：fn 内部禁止任何远程网络调用 (S3)，否则事务会跨越慢 I/O
func (r *Repository) WithTx(ctx context.Context, fn func(tx *Repository) error) error {
	return r.conn(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Repository{db: NewWithConn(tx)})
	})
}

// IsUniqueViolation 判断是否为唯一约束冲突
// 兼容性：TranslateError 之外，再匹配 PG 与 SQLite 的原始错误文本
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "SQLSTATE 23505") ||
		strings.Contains(msg, "duplicate key value violates unique constraint")
}

// GetOrInsert 乐观的“不存在则创建”原语
//
// 先在 savepoint (或独立事务) 里 INSERT；如果撞上唯一约束，说明有并发写者抢先了，
// 回滚 savepoint 并用 lookup 重新查询已存在的行。不加任何悲观锁。
// 返回值 created 表示这一行是否由本次调用插入。
func GetOrInsert[T any](ctx context.Context, conn *gorm.DB, row *T, lookup func(tx *gorm.DB) *gorm.DB) (*T, bool, error) {
	conn = conn.WithContext(ctx)

	err := conn.Transaction(func(tx *gorm.DB) error {
		return tx.Create(row).Error
	})
	if err == nil {
		return row, true, nil
	}
	if !IsUniqueViolation(err) {
		return nil, false, err
	}

	var existing T
	if err := lookup(conn).First(&existing).Error; err != nil {
		return nil, false, fmt.Errorf("requery after unique violation: %w", err)
	}
	return &existing, false, nil
}
