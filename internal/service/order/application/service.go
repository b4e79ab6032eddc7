// Package application 实现订单用例层。
// 写路径上订单落库和 outbox 追加在同一个本地事务里提交，
// 这是事务性 outbox 的核心：状态变更与事件要么同生，要么同灭。
package application

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"scm/internal/event"
	"scm/internal/outbox"
	"scm/internal/pkg/database"
	"scm/internal/pkg/logger"
	"scm/internal/service/order/domain"
)

type OrderService struct {
	repo   domain.OrderRepository
	outbox outbox.Appender
	tx     database.Transactor
	tracer trace.Tracer
}

func NewOrderService(repo domain.OrderRepository, appender outbox.Appender, tx database.Transactor) *OrderService {
	return &OrderService{
		repo:   repo,
		outbox: appender,
		tx:     tx,
		tracer: otel.Tracer("order-service"),
	}
}

// CreateOrderItem 创建订单时的行项目入参。
type CreateOrderItem struct {
	ProductCode string
	Quantity    int
	Price       float64
	WarehouseID string
}

// CreateOrder 创建订单并在同一事务里追加 OrderCreatedEvent。
// 任何一步失败整体回滚，不会出现有订单无事件或有事件无订单。
func (s *OrderService) CreateOrder(ctx context.Context, customerID string, items []CreateOrderItem) (*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "order.CreateOrder", trace.WithAttributes(
		attribute.String("order.customer_id", customerID),
		attribute.Int("order.items", len(items)),
	))
	defer span.End()

	domainItems := make([]domain.OrderItem, 0, len(items))
	for _, item := range items {
		domainItems = append(domainItems, domain.OrderItem{
			ProductCode: item.ProductCode,
			Quantity:    item.Quantity,
			Price:       item.Price,
			WarehouseID: item.WarehouseID,
		})
	}

	order, err := domain.NewOrder(customerID, domainItems)
	if err != nil {
		return nil, err
	}

	err = s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		if err := s.repo.Save(ctx, order); err != nil {
			return err
		}
		evt := event.OrderCreatedEvent{
			EventID:     uuid.NewString(),
			OrderID:     order.ID,
			OrderNumber: order.OrderNumber,
			CustomerID:  order.CustomerID,
			Items:       toItemEvents(order.Items),
			TotalAmount: order.TotalAmount,
			CreatedAt:   order.CreatedAt,
		}
		return s.outbox.Append(ctx, "order", order.ID, event.TypeOrderCreated, evt)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create order failed")
		return nil, err
	}

	logger.Ctx(ctx).Info().
		Str("order_id", order.ID).
		Str("order_number", order.OrderNumber).
		Str("customer_id", customerID).
		Float64("total_amount", order.TotalAmount).
		Msg("order created, OrderCreatedEvent appended")
	return order, nil
}

// CancelOrder 用户主动取消。取消和 OrderCancelledEvent 同一事务提交，
// 库存侧收到事件后释放预占。
func (s *OrderService) CancelOrder(ctx context.Context, orderID, reason string) (*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "order.CancelOrder", trace.WithAttributes(
		attribute.String("order.id", orderID),
	))
	defer span.End()

	var order *domain.Order
	err := s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		var err error
		order, err = s.repo.FindByID(ctx, orderID)
		if err != nil {
			return err
		}
		if err := order.Cancel(reason); err != nil {
			return err
		}
		if err := s.repo.Save(ctx, order); err != nil {
			return err
		}
		evt := event.OrderCancelledEvent{
			EventID:      uuid.NewString(),
			OrderID:      order.ID,
			OrderNumber:  order.OrderNumber,
			CancelReason: reason,
			Items:        toItemEvents(order.Items),
			CancelledAt:  time.Now().UTC(),
		}
		return s.outbox.Append(ctx, "order", order.ID, event.TypeOrderCancelled, evt)
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	logger.Ctx(ctx).Info().
		Str("order_id", orderID).
		Str("reason", reason).
		Msg("order cancelled, OrderCancelledEvent appended")
	return order, nil
}

// ConfirmOrder 库存预占成功后的 Saga 步骤，不再发事件。
func (s *OrderService) ConfirmOrder(ctx context.Context, orderID string) error {
	return s.mutateStatus(ctx, "order.ConfirmOrder", orderID, func(order *domain.Order) error {
		return order.Confirm()
	})
}

// CancelOnReservationFailure 预占失败后的补偿取消。
// 不发 OrderCancelledEvent：库存侧没有完成预占，没有东西可释放，
// 已预占的行项目留在 allocated（见库存侧的部分失败语义）。
func (s *OrderService) CancelOnReservationFailure(ctx context.Context, orderID, reason string) error {
	err := s.mutateStatus(ctx, "order.CancelOnReservationFailure", orderID, func(order *domain.Order) error {
		return order.Cancel(reason)
	})
	if err != nil {
		return err
	}
	logger.Ctx(ctx).Warn().
		Str("order_id", orderID).
		Str("reason", reason).
		Msg("order cancelled by reservation failure compensation")
	return nil
}

// Ship 发货。
func (s *OrderService) Ship(ctx context.Context, orderID string) error {
	return s.mutateStatus(ctx, "order.Ship", orderID, func(order *domain.Order) error {
		return order.Ship()
	})
}

// Deliver 签收。
func (s *OrderService) Deliver(ctx context.Context, orderID string) error {
	return s.mutateStatus(ctx, "order.Deliver", orderID, func(order *domain.Order) error {
		return order.Deliver()
	})
}

func (s *OrderService) mutateStatus(ctx context.Context, op, orderID string, fn func(order *domain.Order) error) error {
	ctx, span := s.tracer.Start(ctx, op, trace.WithAttributes(
		attribute.String("order.id", orderID),
	))
	defer span.End()

	err := s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		order, err := s.repo.FindByID(ctx, orderID)
		if err != nil {
			return err
		}
		if err := fn(order); err != nil {
			return err
		}
		return s.repo.Save(ctx, order)
	})
	if err != nil {
		span.RecordError(err)
		return err
	}

	logger.Ctx(ctx).Info().Str("order_id", orderID).Str("operation", op).Msg("order status updated")
	return nil
}

func (s *OrderService) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	return s.repo.FindByID(ctx, orderID)
}

func (s *OrderService) GetOrderByNumber(ctx context.Context, orderNumber string) (*domain.Order, error) {
	return s.repo.FindByOrderNumber(ctx, orderNumber)
}

func (s *OrderService) ListByCustomer(ctx context.Context, customerID string) ([]*domain.Order, error) {
	return s.repo.FindByCustomer(ctx, customerID)
}

func toItemEvents(items []domain.OrderItem) []event.OrderItemEvent {
	result := make([]event.OrderItemEvent, 0, len(items))
	for _, item := range items {
		result = append(result, event.OrderItemEvent{
			ProductCode: item.ProductCode,
			Quantity:    item.Quantity,
			Price:       item.Price,
			WarehouseID: item.WarehouseID,
		})
	}
	return result
}
