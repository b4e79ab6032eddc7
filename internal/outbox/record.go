// Package outbox 实现事务性发件箱：领域事件与业务变更在同一个本地事务中落库，
// 再由后台发布器异步投递到 Kafka。投递语义是至少一次，消费端负责幂等。
package outbox

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusPublished Status = "PUBLISHED"
	StatusFailed    Status = "FAILED"
)

// maxRetries 重试次数上限，超过后记录停留在 FAILED，需要人工介入。
const maxRetries = 3

// Record 对应 outbox_tb 表的一行。
// 只有两类写入方：业务事务追加 PENDING 记录，发布器推进状态。
type Record struct {
	ID            string     `gorm:"column:outbox_id;primaryKey;size:36"`
	AggregateType string     `gorm:"column:aggregate_type;size:50;not null"`
	AggregateID   string     `gorm:"column:aggregate_id;size:100;not null;index:idx_outbox_aggregate"`
	EventType     string     `gorm:"column:event_type;size:100;not null"`
	Payload       string     `gorm:"column:payload;type:text;not null"`
	Status        Status     `gorm:"column:status;size:20;not null;index:idx_outbox_status"`
	RetryCount    int        `gorm:"column:retry_count;not null"`
	LastAttemptAt *time.Time `gorm:"column:last_attempt_at"`
	PublishedAt   *time.Time `gorm:"column:published_at"`
	ErrorMessage  string     `gorm:"column:error_message;type:text"`
	CreatedAt     time.Time  `gorm:"column:created_at;not null;index:idx_outbox_created_at"`
}

func (Record) TableName() string {
	return "outbox_tb"
}

// NewRecord 创建一条待发布记录。
func NewRecord(aggregateType, aggregateID, eventType, payload string) *Record {
	return &Record{
		ID:            uuid.NewString(),
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       payload,
		Status:        StatusPending,
		RetryCount:    0,
		CreatedAt:     time.Now().UTC(),
	}
}

// MarkPublished broker 确认后调用。
func (r *Record) MarkPublished() {
	now := time.Now().UTC()
	r.Status = StatusPublished
	r.PublishedAt = &now
	r.ErrorMessage = ""
}

// MarkFailed 投递失败后调用，累计重试次数并记录失败原因。
func (r *Record) MarkFailed(errorMessage string) {
	now := time.Now().UTC()
	r.Status = StatusFailed
	r.RetryCount++
	r.LastAttemptAt = &now
	r.ErrorMessage = errorMessage
}

// CanRetry 只有失败且未达上限的记录才允许重试。
func (r *Record) CanRetry() bool {
	return r.RetryCount < maxRetries && r.Status == StatusFailed
}
