package outbox

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"scm/internal/pkg/database"
)

// Store 是发布器眼中的 outbox 存储。
// 生产实现是 GormStore；测试用内存实现替换。
type Store interface {
	FindPending(ctx context.Context) ([]*Record, error)
	FindRetryable(ctx context.Context, attemptedBefore time.Time) ([]*Record, error)
	MarkPublished(ctx context.Context, rec *Record) error
	MarkFailed(ctx context.Context, rec *Record, errorMessage string) error
	DeletePublishedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Appender 是业务侧追加事件的入口，和 Store 分开定义：
// 追加必须发生在业务事务内，而发布器永远不追加。
type Appender interface {
	Append(ctx context.Context, aggregateType, aggregateID, eventType string, payload any) error
}

// GormStore 基于 gorm 的 outbox 存储。
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Append 在调用方的事务中插入一条 PENDING 记录。
// 这里只有本地写库，没有任何网络 IO——事务回滚时记录随之消失，
// 这正是 outbox 模式的全部意义。
func (s *GormStore) Append(ctx context.Context, aggregateType, aggregateID, eventType string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrapf(err, "marshal outbox payload for %s", eventType)
	}

	rec := NewRecord(aggregateType, aggregateID, eventType, string(data))
	if err := database.FromContext(ctx, s.db).Create(rec).Error; err != nil {
		return errors.Wrap(err, "append outbox record")
	}
	return nil
}

// FindPending 返回全部待发布记录，按创建时间升序，
// 保证同一聚合内的事件尽量按产生顺序投递。
func (s *GormStore) FindPending(ctx context.Context) ([]*Record, error) {
	var recs []*Record
	err := s.db.WithContext(ctx).
		Where("status = ?", StatusPending).
		Order("created_at asc").
		Find(&recs).Error
	return recs, errors.Wrap(err, "find pending outbox records")
}

// FindRetryable 返回失败且退避窗口已过、重试次数未达上限的记录。
func (s *GormStore) FindRetryable(ctx context.Context, attemptedBefore time.Time) ([]*Record, error) {
	var recs []*Record
	err := s.db.WithContext(ctx).
		Where("status = ? AND last_attempt_at < ? AND retry_count < ?",
			StatusFailed, attemptedBefore, maxRetries).
		Order("created_at asc").
		Find(&recs).Error
	return recs, errors.Wrap(err, "find retryable outbox records")
}

func (s *GormStore) MarkPublished(ctx context.Context, rec *Record) error {
	rec.MarkPublished()
	err := s.db.WithContext(ctx).Model(rec).
		Select("status", "published_at", "error_message").
		Updates(rec).Error
	return errors.Wrap(err, "mark outbox record published")
}

func (s *GormStore) MarkFailed(ctx context.Context, rec *Record, errorMessage string) error {
	rec.MarkFailed(errorMessage)
	err := s.db.WithContext(ctx).Model(rec).
		Select("status", "retry_count", "last_attempt_at", "error_message").
		Updates(rec).Error
	return errors.Wrap(err, "mark outbox record failed")
}

// DeletePublishedBefore 保留期清理：删除早于 cutoff 的已发布记录。
func (s *GormStore) DeletePublishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("status = ? AND published_at < ?", StatusPublished, cutoff).
		Delete(&Record{})
	return res.RowsAffected, errors.Wrap(res.Error, "delete published outbox records")
}
