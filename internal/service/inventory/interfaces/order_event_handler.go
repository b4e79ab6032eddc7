// Package interfaces 是库存服务的入站适配层：Kafka 事件消费与 HTTP 接口。
package interfaces

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"scm/internal/event"
	"scm/internal/outbox"
	"scm/internal/pkg/database"
	"scm/internal/pkg/dedup"
	"scm/internal/pkg/logger"
	"scm/internal/pkg/mq"
	"scm/internal/service/inventory/application"
	"scm/internal/service/inventory/domain"
)

// sagaActor 是 Saga 驱动的库存变更在流水中记录的操作者。
const sagaActor = "SYSTEM"

// OrderEventHandler 消费 order-events 主题，驱动库存侧的 Saga 步骤：
// OrderCreated 逐项预占，OrderCancelled 逐项释放，结果事件经 outbox 发回。
type OrderEventHandler struct {
	reader    *kafka.Reader
	inventory *application.InventoryService
	outbox    outbox.Appender
	deduper   dedup.Deduper
	tx        database.Transactor
	tracer    trace.Tracer
}

func NewOrderEventHandler(reader *kafka.Reader, inventory *application.InventoryService, appender outbox.Appender, deduper dedup.Deduper, tx database.Transactor) *OrderEventHandler {
	return &OrderEventHandler{
		reader:    reader,
		inventory: inventory,
		outbox:    appender,
		deduper:   deduper,
		tx:        tx,
		tracer:    otel.Tracer("inventory-service"),
	}
}

// Run 拉取并处理消息直到 ctx 取消。处理成功才提交位移；
// 失败的消息留待重投，重复投递由事件级去重挡掉。
func (h *OrderEventHandler) Run(ctx context.Context) error {
	for {
		msg, err := h.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return h.reader.Close()
			}
			logger.Ctx(ctx).Error().Err(err).Msg("fetch order event failed")
			continue
		}

		if err := h.handle(ctx, msg); err != nil {
			logger.Ctx(ctx).Error().Err(err).
				Str("topic", msg.Topic).
				Int64("offset", msg.Offset).
				Msg("handle order event failed, leaving offset uncommitted")
			continue
		}

		if err := h.reader.CommitMessages(ctx, msg); err != nil {
			logger.Ctx(ctx).Error().Err(err).Msg("commit order event offset failed")
		}
	}
}

func (h *OrderEventHandler) handle(ctx context.Context, msg kafka.Message) error {
	carrier := mq.KafkaHeaderCarrier(msg.Headers)
	ctx = otel.GetTextMapPropagator().Extract(ctx, &carrier)

	eventType := mq.HeaderValue(msg.Headers, event.HeaderEventType)
	ctx, span := h.tracer.Start(ctx, "inventory.consume."+eventType)
	defer span.End()

	switch eventType {
	case event.TypeOrderCreated:
		var evt event.OrderCreatedEvent
		if err := json.Unmarshal(msg.Value, &evt); err != nil {
			logger.Ctx(ctx).Error().Err(err).Msg("malformed OrderCreatedEvent, dropping")
			return nil
		}
		return h.withDedup(ctx, evt.EventID, func(ctx context.Context) error {
			return h.onOrderCreated(ctx, &evt)
		})

	case event.TypeOrderCancelled:
		var evt event.OrderCancelledEvent
		if err := json.Unmarshal(msg.Value, &evt); err != nil {
			logger.Ctx(ctx).Error().Err(err).Msg("malformed OrderCancelledEvent, dropping")
			return nil
		}
		return h.withDedup(ctx, evt.EventID, func(ctx context.Context) error {
			return h.onOrderCancelled(ctx, &evt)
		})

	default:
		logger.Ctx(ctx).Warn().Str("event_type", eventType).Msg("unknown event type, dropping")
		return nil
	}
}

// withDedup 按事件 ID 去重，保证 at-least-once 投递下处理只生效一次。
// 处理失败必须撤销标记：Run 留着位移等重投，标记不撤销的话
// 重投会被当成重复丢掉，事件就永远丢失了。
func (h *OrderEventHandler) withDedup(ctx context.Context, eventID string, fn func(ctx context.Context) error) error {
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

// onOrderCreated 逐个行项目预占。任一项库存不足立即停止并发出失败事件；
// 此前已预占的行项目不回滚，等订单侧取消后经 OrderCancelled 释放。
// 整个决策点跑在一个事务里：预占和结果事件同生同灭，
// 追加失败时预占一并回滚，重投不会重复预占。
func (h *OrderEventHandler) onOrderCreated(ctx context.Context, evt *event.OrderCreatedEvent) error {
	logger.Ctx(ctx).Info().
		Str("order_id", evt.OrderID).
		Str("order_number", evt.OrderNumber).
		Int("items", len(evt.Items)).
		Msg("received OrderCreatedEvent, reserving stock")

	return h.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		reservations := make([]event.ReservationItem, 0, len(evt.Items))
		for _, item := range evt.Items {
			_, err := h.inventory.ReserveStock(ctx, sagaActor, item.WarehouseID, item.ProductCode,
				item.Quantity, evt.OrderNumber, "order reservation")
			if err == nil {
				reservations = append(reservations, event.ReservationItem{
					ProductCode: item.ProductCode,
					Quantity:    item.Quantity,
					WarehouseID: item.WarehouseID,
				})
				continue
			}

			// 业务失败返回 nil 提交事务：失败事件和此前的预占一起落库。
			var insufficient *domain.InsufficientStockError
			var notFound *domain.NotFoundError
			switch {
			case errors.As(err, &insufficient):
				return h.emitReservationFailed(ctx, evt, err.Error(),
					insufficient.ProductCode, insufficient.Requested, insufficient.Available)
			case errors.As(err, &notFound):
				return h.emitReservationFailed(ctx, evt, err.Error(), item.ProductCode, item.Quantity, 0)
			default:
				return err
			}
		}

		reserved := event.InventoryReservedEvent{
			EventID:      uuid.NewString(),
			OrderID:      evt.OrderID,
			OrderNumber:  evt.OrderNumber,
			Reservations: reservations,
			ReservedAt:   time.Now().UTC(),
		}
		if err := h.outbox.Append(ctx, "inventory", evt.OrderID, event.TypeInventoryReserved, reserved); err != nil {
			return err
		}

		logger.Ctx(ctx).Info().
			Str("order_id", evt.OrderID).
			Int("reserved_items", len(reservations)).
			Msg("all items reserved, InventoryReservedEvent appended")
		return nil
	})
}

func (h *OrderEventHandler) emitReservationFailed(ctx context.Context, evt *event.OrderCreatedEvent, reason, productCode string, requested, available int) error {
	failed := event.InventoryReservationFailedEvent{
		EventID:           uuid.NewString(),
		OrderID:           evt.OrderID,
		OrderNumber:       evt.OrderNumber,
		Reason:            reason,
		ProductCode:       productCode,
		RequestedQuantity: requested,
		AvailableQuantity: available,
		FailedAt:          time.Now().UTC(),
	}
	if err := h.outbox.Append(ctx, "inventory", evt.OrderID, event.TypeInventoryReservationFailed, failed); err != nil {
		return err
	}

	logger.Ctx(ctx).Warn().
		Str("order_id", evt.OrderID).
		Str("product_code", productCode).
		Int("requested", requested).
		Int("available", available).
		Msg("reservation failed, InventoryReservationFailedEvent appended")
	return nil
}

// onOrderCancelled 释放订单的全部预占。单项释放失败记日志后继续，
// 保证取消流程不会因为个别行项目卡住。释放和结果事件同一事务提交。
func (h *OrderEventHandler) onOrderCancelled(ctx context.Context, evt *event.OrderCancelledEvent) error {
	logger.Ctx(ctx).Info().
		Str("order_id", evt.OrderID).
		Str("order_number", evt.OrderNumber).
		Str("reason", evt.CancelReason).
		Msg("received OrderCancelledEvent, releasing stock")

	return h.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		releases := make([]event.ReleaseItem, 0, len(evt.Items))
		for _, item := range evt.Items {
			_, err := h.inventory.ReleaseStock(ctx, sagaActor, item.WarehouseID, item.ProductCode,
				item.Quantity, evt.OrderNumber, "order cancelled")
			if err != nil {
				var insufficient *domain.InsufficientAllocationError
				var notFound *domain.NotFoundError
				if errors.As(err, &insufficient) || errors.As(err, &notFound) {
					logger.Ctx(ctx).Warn().Err(err).
						Str("order_id", evt.OrderID).
						Str("product_code", item.ProductCode).
						Msg("skip releasing item, nothing allocated")
					continue
				}
				return err
			}
			releases = append(releases, event.ReleaseItem{
				ProductCode: item.ProductCode,
				Quantity:    item.Quantity,
				WarehouseID: item.WarehouseID,
			})
		}

		released := event.InventoryReleasedEvent{
			EventID:     uuid.NewString(),
			OrderID:     evt.OrderID,
			OrderNumber: evt.OrderNumber,
			Releases:    releases,
			ReleasedAt:  time.Now().UTC(),
		}
		if err := h.outbox.Append(ctx, "inventory", evt.OrderID, event.TypeInventoryReleased, released); err != nil {
			return err
		}

		logger.Ctx(ctx).Info().
			Str("order_id", evt.OrderID).
			Int("released_items", len(releases)).
			Msg("stock released, InventoryReleasedEvent appended")
		return nil
	})
}
