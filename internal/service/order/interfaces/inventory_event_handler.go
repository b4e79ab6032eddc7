// Package interfaces 是订单服务的入站适配层：Kafka 事件消费与 HTTP 接口。
package interfaces

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"scm/internal/event"
	"scm/internal/pkg/dedup"
	"scm/internal/pkg/logger"
	"scm/internal/pkg/mq"
	"scm/internal/service/order/application"
	"scm/internal/service/order/domain"
)

// InventoryEventHandler 消费 inventory-events 主题，完成 Saga 的订单侧步骤：
// 预占成功确认订单，预占失败补偿取消，释放完成只记日志。
type InventoryEventHandler struct {
	reader  *kafka.Reader
	orders  *application.OrderService
	deduper dedup.Deduper
	tracer  trace.Tracer
}

func NewInventoryEventHandler(reader *kafka.Reader, orders *application.OrderService, deduper dedup.Deduper) *InventoryEventHandler {
	return &InventoryEventHandler{
		reader:  reader,
		orders:  orders,
		deduper: deduper,
		tracer:  otel.Tracer("order-service"),
	}
}

// Run 拉取并处理消息直到 ctx 取消。处理成功才提交位移。
func (h *InventoryEventHandler) Run(ctx context.Context) error {
	for {
		msg, err := h.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return h.reader.Close()
			}
			logger.Ctx(ctx).Error().Err(err).Msg("fetch inventory event failed")
			continue
		}

		if err := h.handle(ctx, msg); err != nil {
			logger.Ctx(ctx).Error().Err(err).
				Str("topic", msg.Topic).
				Int64("offset", msg.Offset).
				Msg("handle inventory event failed, leaving offset uncommitted")
			continue
		}

		if err := h.reader.CommitMessages(ctx, msg); err != nil {
			logger.Ctx(ctx).Error().Err(err).Msg("commit inventory event offset failed")
		}
	}
}

func (h *InventoryEventHandler) handle(ctx context.Context, msg kafka.Message) error {
	carrier := mq.KafkaHeaderCarrier(msg.Headers)
	ctx = otel.GetTextMapPropagator().Extract(ctx, &carrier)

	eventType := mq.HeaderValue(msg.Headers, event.HeaderEventType)
	ctx, span := h.tracer.Start(ctx, "order.consume."+eventType)
	defer span.End()

	switch eventType {
	case event.TypeInventoryReserved:
		var evt event.InventoryReservedEvent
		if err := json.Unmarshal(msg.Value, &evt); err != nil {
			logger.Ctx(ctx).Error().Err(err).Msg("malformed InventoryReservedEvent, dropping")
			return nil
		}
		return h.withDedup(ctx, evt.EventID, func(ctx context.Context) error {
			return h.onReserved(ctx, &evt)
		})

	case event.TypeInventoryReservationFailed:
		var evt event.InventoryReservationFailedEvent
		if err := json.Unmarshal(msg.Value, &evt); err != nil {
			logger.Ctx(ctx).Error().Err(err).Msg("malformed InventoryReservationFailedEvent, dropping")
			return nil
		}
		return h.withDedup(ctx, evt.EventID, func(ctx context.Context) error {
			return h.onReservationFailed(ctx, &evt)
		})

	case event.TypeInventoryReleased:
		var evt event.InventoryReleasedEvent
		if err := json.Unmarshal(msg.Value, &evt); err != nil {
			logger.Ctx(ctx).Error().Err(err).Msg("malformed InventoryReleasedEvent, dropping")
			return nil
		}
		logger.Ctx(ctx).Info().
			Str("order_id", evt.OrderID).
			Str("order_number", evt.OrderNumber).
			Int("released_items", len(evt.Releases)).
			Msg("inventory released for cancelled order")
		return nil

	default:
		logger.Ctx(ctx).Warn().Str("event_type", eventType).Msg("unknown event type, dropping")
		return nil
	}
}

// withDedup 按事件 ID 去重。处理失败必须撤销标记，
// 否则重投会被当成重复丢掉，订单就永远停在 CREATED。
func (h *InventoryEventHandler) withDedup(ctx context.Context, eventID string, fn func(ctx context.Context) error) error {
	first, err := h.deduper.MarkIfFirst(ctx, eventID)
	if err != nil {
		return err
	}
	if !first {
		logger.Ctx(ctx).Info().Str("event_id", eventID).Msg("duplicate event, skipping")
		return nil
	}
	if err := fn(ctx); err != nil {
		if unmarkErr := h.deduper.Unmark(ctx, eventID); unmarkErr != nil {
			logger.Ctx(ctx).Error().Err(unmarkErr).
				Str("event_id", eventID).
				Msg("failed to unmark event, redelivery will be dropped as duplicate")
		}
		return err
	}
	return nil
}

func (h *InventoryEventHandler) onReserved(ctx context.Context, evt *event.InventoryReservedEvent) error {
	if err := h.orders.ConfirmOrder(ctx, evt.OrderID); err != nil {
		// 订单已经被用户取消时确认会失败，放弃确认即可，释放走 OrderCancelled 流程。
		var invalid *domain.InvalidStatusError
		if errors.As(err, &invalid) {
			logger.Ctx(ctx).Warn().Err(err).
				Str("order_id", evt.OrderID).
				Msg("cannot confirm order, status already moved on")
			return nil
		}
		return err
	}

	logger.Ctx(ctx).Info().
		Str("order_id", evt.OrderID).
		Str("order_number", evt.OrderNumber).
		Msg("order confirmed after successful reservation")
	return nil
}

func (h *InventoryEventHandler) onReservationFailed(ctx context.Context, evt *event.InventoryReservationFailedEvent) error {
	err := h.orders.CancelOnReservationFailure(ctx, evt.OrderID, evt.Reason)
	if err != nil {
		var invalid *domain.InvalidStatusError
		if errors.As(err, &invalid) {
			logger.Ctx(ctx).Warn().Err(err).
				Str("order_id", evt.OrderID).
				Msg("cannot cancel order on reservation failure, status already moved on")
			return nil
		}
		return err
	}
	return nil
}
