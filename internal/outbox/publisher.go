package outbox

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"scm/internal/event"
	"scm/internal/pkg/logger"
)

// Broker 抽象消息中间件，生产实现是 KafkaBroker。
type Broker interface {
	Publish(ctx context.Context, topic string, key, value []byte, eventType string) error
}

// Elector 控制同一服务的多个发布器实例之间的互斥。
// outbox 行只能由一个发布器角色推进状态，否则会出现重复投递尝试。
type Elector interface {
	Campaign(ctx context.Context) error
	Resign()
}

const (
	defaultDispatchInterval  = 5 * time.Second
	defaultRetryInterval     = 30 * time.Second
	defaultRetentionInterval = 24 * time.Hour
	defaultRetryBackoff      = time.Minute
	defaultRetentionWindow   = 7 * 24 * time.Hour
)

// Publisher 轮询 outbox 表并把记录投递到 Kafka。
// 三个周期任务：派发 PENDING、重试 FAILED、清理过期 PUBLISHED。
type Publisher struct {
	store   Store
	broker  Broker
	elector Elector // 可为 nil，表示单实例部署
	tracer  trace.Tracer

	dispatchInterval  time.Duration
	retryInterval     time.Duration
	retentionInterval time.Duration
	retryBackoff      time.Duration
	retentionWindow   time.Duration
}

func NewPublisher(store Store, broker Broker, elector Elector) *Publisher {
	return &Publisher{
		store:             store,
		broker:            broker,
		elector:           elector,
		tracer:            otel.Tracer("outbox-publisher"),
		dispatchInterval:  defaultDispatchInterval,
		retryInterval:     defaultRetryInterval,
		retentionInterval: defaultRetentionInterval,
		retryBackoff:      defaultRetryBackoff,
		retentionWindow:   defaultRetentionWindow,
	}
}

// Run 阻塞运行所有周期任务，ctx 取消后返回。
func (p *Publisher) Run(ctx context.Context) error {
	if p.elector != nil {
		if err := p.elector.Campaign(ctx); err != nil {
			return err
		}
		defer p.elector.Resign()
	}
	logger.Ctx(ctx).Info().Msg("✅ Outbox publisher started")

	dispatch := time.NewTicker(p.dispatchInterval)
	retry := time.NewTicker(p.retryInterval)
	retention := time.NewTicker(p.retentionInterval)
	defer dispatch.Stop()
	defer retry.Stop()
	defer retention.Stop()

	for {
		select {
		case <-dispatch.C:
			p.dispatchPending(ctx)
		case <-retry.C:
			p.retryFailed(ctx)
		case <-retention.C:
			p.cleanupPublished(ctx)
		case <-ctx.Done():
			logger.Ctx(ctx).Info().Msg("🛑 Outbox publisher shutting down")
			return ctx.Err()
		}
	}
}

// dispatchPending 把全部待发布记录按创建时间顺序投递出去。
func (p *Publisher) dispatchPending(ctx context.Context) {
	recs, err := p.store.FindPending(ctx)
	if err != nil {
		logger.Ctx(ctx).Error().Err(err).Msg("failed to load pending outbox records")
		return
	}
	if len(recs) == 0 {
		return
	}

	logger.Ctx(ctx).Info().Int("count", len(recs)).Msg("dispatching pending outbox records")
	for _, rec := range recs {
		p.publishOne(ctx, rec)
	}
}

// retryFailed 重试退避窗口已过且次数未超限的失败记录。
// 超过上限的记录停留在 FAILED，这里不再碰它。
func (p *Publisher) retryFailed(ctx context.Context) {
	recs, err := p.store.FindRetryable(ctx, time.Now().UTC().Add(-p.retryBackoff))
	if err != nil {
		logger.Ctx(ctx).Error().Err(err).Msg("failed to load retryable outbox records")
		return
	}

	for _, rec := range recs {
		if !rec.CanRetry() {
			logger.Ctx(ctx).Warn().
				Str("outbox_id", rec.ID).
				Int("retry_count", rec.RetryCount).
				Msg("outbox record exhausted retries, leaving as FAILED")
			continue
		}
		p.publishOne(ctx, rec)
	}
}

// cleanupPublished 删除超过保留期的已发布记录。
func (p *Publisher) cleanupPublished(ctx context.Context) {
	n, err := p.store.DeletePublishedBefore(ctx, time.Now().UTC().Add(-p.retentionWindow))
	if err != nil {
		logger.Ctx(ctx).Error().Err(err).Msg("failed to clean up published outbox records")
		return
	}
	if n > 0 {
		logger.Ctx(ctx).Info().Int64("deleted", n).Msg("cleaned up published outbox records")
	}
}

// publishOne 投递一条记录并推进其状态。消息 key 取聚合 ID，
// 使同一聚合的事件落在同一分区，维持分区内顺序。
func (p *Publisher) publishOne(ctx context.Context, rec *Record) {
	ctx, span := p.tracer.Start(ctx, "outbox.Publish", trace.WithAttributes(
		attribute.String("outbox.id", rec.ID),
		attribute.String("outbox.event_type", rec.EventType),
		attribute.String("outbox.aggregate_id", rec.AggregateID),
	))
	defer span.End()

	topic := event.TopicFor(rec.EventType)
	if topic == "" {
		span.SetStatus(codes.Error, "unknown event type")
		p.fail(ctx, rec, "unknown event type: "+rec.EventType)
		return
	}

	if err := p.broker.Publish(ctx, topic, []byte(rec.AggregateID), []byte(rec.Payload), rec.EventType); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "publish failed")
		p.fail(ctx, rec, err.Error())
		return
	}

	if err := p.store.MarkPublished(ctx, rec); err != nil {
		// broker 已确认但状态没写回：下个周期会重投，消费端靠幂等兜底。
		logger.Ctx(ctx).Error().Err(err).Str("outbox_id", rec.ID).Msg("failed to mark outbox record published")
		return
	}
	publishedTotal.WithLabelValues(rec.EventType).Inc()
	logger.Ctx(ctx).Info().
		Str("outbox_id", rec.ID).
		Str("event_type", rec.EventType).
		Str("topic", topic).
		Msg("outbox record published")
}

func (p *Publisher) fail(ctx context.Context, rec *Record, msg string) {
	failedTotal.WithLabelValues(rec.EventType).Inc()
	if err := p.store.MarkFailed(ctx, rec, msg); err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("outbox_id", rec.ID).Msg("failed to mark outbox record failed")
		return
	}
	logger.Ctx(ctx).Warn().
		Str("outbox_id", rec.ID).
		Str("event_type", rec.EventType).
		Int("retry_count", rec.RetryCount).
		Str("error", msg).
		Msg("outbox record publish failed")
}
