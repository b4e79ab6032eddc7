package interfaces

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"

	"scm/internal/event"
	"scm/internal/service/order/application"
	"scm/internal/service/order/domain"
)

type fakeOrderRepo struct {
	orders  map[string]*domain.Order
	saveErr error // 消费一次后清空，模拟瞬时故障
}

func (r *fakeOrderRepo) FindByID(ctx context.Context, orderID string) (*domain.Order, error) {
	order, ok := r.orders[orderID]
	if !ok {
		return nil, &domain.NotFoundError{OrderID: orderID}
	}
	copied := *order
	return &copied, nil
}

func (r *fakeOrderRepo) FindByOrderNumber(ctx context.Context, orderNumber string) (*domain.Order, error) {
	return nil, &domain.NotFoundError{OrderID: orderNumber}
}

func (r *fakeOrderRepo) FindByCustomer(ctx context.Context, customerID string) ([]*domain.Order, error) {
	return nil, nil
}

func (r *fakeOrderRepo) Save(ctx context.Context, order *domain.Order) error {
	if r.saveErr != nil {
		err := r.saveErr
		r.saveErr = nil
		return err
	}
	copied := *order
	r.orders[order.ID] = &copied
	return nil
}

type nopAppender struct{}

func (nopAppender) Append(ctx context.Context, aggregateType, aggregateID, eventType string, payload any) error {
	return nil
}

type passthroughTransactor struct{}

func (passthroughTransactor) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type fakeDeduper struct {
	seen map[string]bool
}

func (d *fakeDeduper) MarkIfFirst(ctx context.Context, eventID string) (bool, error) {
	if d.seen[eventID] {
		return false, nil
	}
	d.seen[eventID] = true
	return true, nil
}

func (d *fakeDeduper) Unmark(ctx context.Context, eventID string) error {
	delete(d.seen, eventID)
	return nil
}

func newTestHandler(t *testing.T) (*InventoryEventHandler, *fakeOrderRepo, *domain.Order) {
	t.Helper()
	order, err := domain.NewOrder("customer-1", []domain.OrderItem{
		{ProductCode: "SKU-1", Quantity: 1, Price: 10, WarehouseID: "WH-1"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	repo := &fakeOrderRepo{orders: map[string]*domain.Order{order.ID: order}}
	svc := application.NewOrderService(repo, nopAppender{}, passthroughTransactor{})
	handler := NewInventoryEventHandler(nil, svc, &fakeDeduper{seen: make(map[string]bool)})
	return handler, repo, order
}

func message(t *testing.T, eventType string, evt any) kafka.Message {
	t.Helper()
	value, err := json.Marshal(evt)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return kafka.Message{
		Value:   value,
		Headers: []kafka.Header{{Key: event.HeaderEventType, Value: []byte(eventType)}},
	}
}

func TestReservedEventConfirmsOrder(t *testing.T) {
	handler, repo, order := newTestHandler(t)

	msg := message(t, event.TypeInventoryReserved, event.InventoryReservedEvent{
		EventID: "evt-1",
		OrderID: order.ID,
	})
	if err := handler.handle(context.Background(), msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if repo.orders[order.ID].Status != domain.StatusConfirmed {
		t.Fatalf("expected CONFIRMED, got %s", repo.orders[order.ID].Status)
	}
}

func TestReservedEventOnCancelledOrderIsDropped(t *testing.T) {
	handler, repo, order := newTestHandler(t)
	if err := repo.orders[order.ID].Cancel("user was faster"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	msg := message(t, event.TypeInventoryReserved, event.InventoryReservedEvent{
		EventID: "evt-2",
		OrderID: order.ID,
	})
	// 状态已经变过去了，确认失败不能卡死消费循环。
	if err := handler.handle(context.Background(), msg); err != nil {
		t.Fatalf("expected stale confirm to be dropped, got %v", err)
	}
	if repo.orders[order.ID].Status != domain.StatusCancelled {
		t.Fatal("order must stay CANCELLED")
	}
}

func TestReservationFailedCancelsOrder(t *testing.T) {
	handler, repo, order := newTestHandler(t)

	msg := message(t, event.TypeInventoryReservationFailed, event.InventoryReservationFailedEvent{
		EventID: "evt-3",
		OrderID: order.ID,
		Reason:  "insufficient stock: productCode=SKU-1, requested=1, available=0",
	})
	if err := handler.handle(context.Background(), msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stored := repo.orders[order.ID]
	if stored.Status != domain.StatusCancelled {
		t.Fatalf("expected CANCELLED, got %s", stored.Status)
	}
	if stored.CancelReason == "" {
		t.Fatal("expected failure reason recorded")
	}
}

func TestReleasedEventIsLogOnly(t *testing.T) {
	handler, repo, order := newTestHandler(t)

	msg := message(t, event.TypeInventoryReleased, event.InventoryReleasedEvent{
		EventID: "evt-4",
		OrderID: order.ID,
	})
	if err := handler.handle(context.Background(), msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if repo.orders[order.ID].Status != domain.StatusCreated {
		t.Fatal("released event must not change order state")
	}
}

func TestTransientFailureThenRedeliveryConfirms(t *testing.T) {
	handler, repo, order := newTestHandler(t)
	repo.saveErr = errors.New("mysql is away")

	msg := message(t, event.TypeInventoryReserved, event.InventoryReservedEvent{
		EventID: "evt-retry",
		OrderID: order.ID,
	})

	// 第一次消费挂在存储上，必须报错让 offset 不提交。
	if err := handler.handle(context.Background(), msg); err == nil {
		t.Fatal("expected error on transient save failure")
	}
	if repo.orders[order.ID].Status != domain.StatusCreated {
		t.Fatal("failed attempt must leave the order untouched")
	}

	// 重投后去重标记已被清掉，这次正常确认。
	if err := handler.handle(context.Background(), msg); err != nil {
		t.Fatalf("redelivery must succeed, got %v", err)
	}
	if repo.orders[order.ID].Status != domain.StatusConfirmed {
		t.Fatalf("expected CONFIRMED after redelivery, got %s", repo.orders[order.ID].Status)
	}
}

func TestDuplicateReservedEventSkipped(t *testing.T) {
	handler, repo, order := newTestHandler(t)

	msg := message(t, event.TypeInventoryReserved, event.InventoryReservedEvent{
		EventID: "evt-dup",
		OrderID: order.ID,
	})
	if err := handler.handle(context.Background(), msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := handler.handle(context.Background(), msg); err != nil {
		t.Fatalf("duplicate must be skipped, got %v", err)
	}

	if repo.orders[order.ID].Status != domain.StatusConfirmed {
		t.Fatalf("expected CONFIRMED, got %s", repo.orders[order.ID].Status)
	}
}
