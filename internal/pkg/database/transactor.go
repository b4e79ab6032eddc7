package database

import (
	"context"

	"gorm.io/gorm"
)

type txKey struct{}

// Transactor 把一段业务逻辑包进一个原子工作单元。
// fn 返回错误时整个单元回滚——包括业务写入和同一单元内追加的 outbox 记录。
type Transactor interface {
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// GormTransactor 基于 gorm 事务实现 Transactor，事务句柄通过 ctx 向下传递，
// 仓储层用 FromContext 取出，保证同一单元内的所有写入走同一个 tx。
type GormTransactor struct {
	db *gorm.DB
}

func NewGormTransactor(db *gorm.DB) *GormTransactor {
	return &GormTransactor{db: db}
}

// WithinTransaction 支持嵌套：已处于事务中时 gorm 会降级为 SAVEPOINT，
// 内层失败只回滚到保存点，外层单元可以继续并决定最终提交与否。
func (t *GormTransactor) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return FromContext(ctx, t.db).Transaction(func(tx *gorm.DB) error {
		return fn(context.WithValue(ctx, txKey{}, tx))
	})
}

// FromContext 返回当前事务句柄；不在事务中时退回根连接。
func FromContext(ctx context.Context, fallback *gorm.DB) *gorm.DB {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return tx
	}
	return fallback.WithContext(ctx)
}
