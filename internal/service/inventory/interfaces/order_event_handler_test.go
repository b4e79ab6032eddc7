package interfaces

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"

	"scm/internal/event"
	"scm/internal/service/inventory/application"
	"scm/internal/service/inventory/domain"
)

var errTransient = errors.New("mysql is away")

type fakeInventoryRepo struct {
	records map[string]*domain.Inventory
	saveErr error // 消费一次后清空，模拟瞬时故障
}

func invKey(warehouseID, productCode string) string {
	return warehouseID + "/" + productCode
}

func (r *fakeInventoryRepo) seed(inv *domain.Inventory) {
	r.records[invKey(inv.WarehouseID, inv.ProductCode)] = inv
}

func (r *fakeInventoryRepo) get(warehouseID, productCode string) *domain.Inventory {
	return r.records[invKey(warehouseID, productCode)]
}

func (r *fakeInventoryRepo) FindByKeyForUpdate(ctx context.Context, warehouseID, productCode string) (*domain.Inventory, error) {
	inv, ok := r.records[invKey(warehouseID, productCode)]
	if !ok {
		return nil, &domain.NotFoundError{WarehouseID: warehouseID, ProductCode: productCode}
	}
	copied := *inv
	return &copied, nil
}

func (r *fakeInventoryRepo) FindByKey(ctx context.Context, warehouseID, productCode string) (*domain.Inventory, error) {
	return r.FindByKeyForUpdate(ctx, warehouseID, productCode)
}

func (r *fakeInventoryRepo) FindByProductCode(ctx context.Context, productCode string) ([]*domain.Inventory, error) {
	return nil, nil
}

func (r *fakeInventoryRepo) FindByWarehouse(ctx context.Context, warehouseID string) ([]*domain.Inventory, error) {
	return nil, nil
}

func (r *fakeInventoryRepo) FindBelowSafetyStock(ctx context.Context) ([]*domain.Inventory, error) {
	return nil, nil
}

func (r *fakeInventoryRepo) Save(ctx context.Context, inv *domain.Inventory) error {
	if r.saveErr != nil {
		err := r.saveErr
		r.saveErr = nil
		return err
	}
	copied := *inv
	r.records[invKey(inv.WarehouseID, inv.ProductCode)] = &copied
	return nil
}

type fakeMovementRepo struct {
	movements []*domain.StockMovement
}

func (r *fakeMovementRepo) Append(ctx context.Context, movement *domain.StockMovement) error {
	r.movements = append(r.movements, movement)
	return nil
}

func (r *fakeMovementRepo) FindByReferenceOrderID(ctx context.Context, referenceOrderID string) ([]*domain.StockMovement, error) {
	return nil, nil
}

type passthroughTransactor struct{}

func (passthroughTransactor) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type appended struct {
	eventType string
	payload   any
}

type fakeAppender struct {
	records   []appended
	appendErr error // 消费一次后清空，模拟瞬时故障
}

func (a *fakeAppender) Append(ctx context.Context, aggregateType, aggregateID, eventType string, payload any) error {
	if a.appendErr != nil {
		err := a.appendErr
		a.appendErr = nil
		return err
	}
	a.records = append(a.records, appended{eventType, payload})
	return nil
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

// snapshotTransactor 执行前打快照，出错时恢复，模拟决策点事务回滚。
type snapshotTransactor struct {
	repo      *fakeInventoryRepo
	movements *fakeMovementRepo
	appender  *fakeAppender
}

func (t *snapshotTransactor) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	snap := make(map[string]*domain.Inventory, len(t.repo.records))
	for k, inv := range t.repo.records {
		copied := *inv
		snap[k] = &copied
	}
	moveLen := len(t.movements.movements)
	recLen := len(t.appender.records)

	if err := fn(ctx); err != nil {
		t.repo.records = snap
		t.movements.movements = t.movements.movements[:moveLen]
		t.appender.records = t.appender.records[:recLen]
		return err
	}
	return nil
}

func newTestHandler() (*OrderEventHandler, *fakeInventoryRepo, *fakeAppender) {
	repo := &fakeInventoryRepo{records: make(map[string]*domain.Inventory)}
	movements := &fakeMovementRepo{}
	svc := application.NewInventoryService(repo, movements, passthroughTransactor{}, nil)
	appender := &fakeAppender{}
	tx := &snapshotTransactor{repo: repo, movements: movements, appender: appender}
	handler := NewOrderEventHandler(nil, svc, appender, &fakeDeduper{seen: make(map[string]bool)}, tx)
	return handler, repo, appender
}

func orderCreatedMessage(t *testing.T, evt event.OrderCreatedEvent) kafka.Message {
	t.Helper()
	value, err := json.Marshal(evt)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return kafka.Message{
		Value:   value,
		Headers: []kafka.Header{{Key: event.HeaderEventType, Value: []byte(event.TypeOrderCreated)}},
	}
}

func TestOrderCreatedReservesAllItems(t *testing.T) {
	handler, repo, appender := newTestHandler()
	repo.seed(domain.NewInventory("WH-1", "SKU-1", 100, 0))
	repo.seed(domain.NewInventory("WH-1", "SKU-2", 50, 0))

	msg := orderCreatedMessage(t, event.OrderCreatedEvent{
		EventID:     "evt-1",
		OrderID:     "order-1",
		OrderNumber: "ORD-20260829-AAAA1111",
		Items: []event.OrderItemEvent{
			{ProductCode: "SKU-1", Quantity: 10, WarehouseID: "WH-1"},
			{ProductCode: "SKU-2", Quantity: 5, WarehouseID: "WH-1"},
		},
	})
	if err := handler.handle(context.Background(), msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if repo.get("WH-1", "SKU-1").AllocatedQty != 10 || repo.get("WH-1", "SKU-2").AllocatedQty != 5 {
		t.Fatal("expected both items allocated")
	}
	if len(appender.records) != 1 || appender.records[0].eventType != event.TypeInventoryReserved {
		t.Fatalf("expected InventoryReservedEvent, got %+v", appender.records)
	}
	evt := appender.records[0].payload.(event.InventoryReservedEvent)
	if evt.OrderID != "order-1" || len(evt.Reservations) != 2 {
		t.Fatalf("reserved event wrong: %+v", evt)
	}
}

func TestPartialFailureKeepsEarlierReservations(t *testing.T) {
	handler, repo, appender := newTestHandler()
	repo.seed(domain.NewInventory("WH-1", "SKU-1", 100, 0))
	repo.seed(domain.NewInventory("WH-1", "SKU-2", 3, 0))

	msg := orderCreatedMessage(t, event.OrderCreatedEvent{
		EventID:     "evt-2",
		OrderID:     "order-2",
		OrderNumber: "ORD-20260829-BBBB2222",
		Items: []event.OrderItemEvent{
			{ProductCode: "SKU-1", Quantity: 10, WarehouseID: "WH-1"},
			{ProductCode: "SKU-2", Quantity: 5, WarehouseID: "WH-1"},
		},
	})
	if err := handler.handle(context.Background(), msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// 第一项的预占保留原样，不随失败回退，释放走订单取消链路。
	if got := repo.get("WH-1", "SKU-1").AllocatedQty; got != 10 {
		t.Fatalf("expected first item to stay allocated, got %d", got)
	}
	if got := repo.get("WH-1", "SKU-2").AllocatedQty; got != 0 {
		t.Fatalf("failed item must not be allocated, got %d", got)
	}

	if len(appender.records) != 1 || appender.records[0].eventType != event.TypeInventoryReservationFailed {
		t.Fatalf("expected InventoryReservationFailedEvent, got %+v", appender.records)
	}
	evt := appender.records[0].payload.(event.InventoryReservationFailedEvent)
	if evt.ProductCode != "SKU-2" || evt.RequestedQuantity != 5 || evt.AvailableQuantity != 3 {
		t.Fatalf("failure event must carry the quantities: %+v", evt)
	}
}

func TestUnknownProductFailsReservation(t *testing.T) {
	handler, _, appender := newTestHandler()

	msg := orderCreatedMessage(t, event.OrderCreatedEvent{
		EventID: "evt-3",
		OrderID: "order-3",
		Items:   []event.OrderItemEvent{{ProductCode: "SKU-MISSING", Quantity: 1, WarehouseID: "WH-1"}},
	})
	if err := handler.handle(context.Background(), msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(appender.records) != 1 || appender.records[0].eventType != event.TypeInventoryReservationFailed {
		t.Fatalf("expected InventoryReservationFailedEvent, got %+v", appender.records)
	}
}

func TestOrderCancelledReleasesStock(t *testing.T) {
	handler, repo, appender := newTestHandler()
	inv := domain.NewInventory("WH-1", "SKU-1", 100, 0)
	if err := inv.Reserve(10); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	repo.seed(inv)

	evt := event.OrderCancelledEvent{
		EventID:      "evt-4",
		OrderID:      "order-4",
		OrderNumber:  "ORD-20260829-CCCC3333",
		CancelReason: "changed my mind",
		Items:        []event.OrderItemEvent{{ProductCode: "SKU-1", Quantity: 10, WarehouseID: "WH-1"}},
	}
	value, err := json.Marshal(evt)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	msg := kafka.Message{
		Value:   value,
		Headers: []kafka.Header{{Key: event.HeaderEventType, Value: []byte(event.TypeOrderCancelled)}},
	}
	if err := handler.handle(context.Background(), msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stored := repo.get("WH-1", "SKU-1")
	if stored.AvailableQty != 100 || stored.AllocatedQty != 0 {
		t.Fatalf("expected stock released: available=%d allocated=%d", stored.AvailableQty, stored.AllocatedQty)
	}
	if len(appender.records) != 1 || appender.records[0].eventType != event.TypeInventoryReleased {
		t.Fatalf("expected InventoryReleasedEvent, got %+v", appender.records)
	}
}

func TestDuplicateEventSkipped(t *testing.T) {
	handler, repo, appender := newTestHandler()
	repo.seed(domain.NewInventory("WH-1", "SKU-1", 100, 0))

	msg := orderCreatedMessage(t, event.OrderCreatedEvent{
		EventID: "evt-dup",
		OrderID: "order-5",
		Items:   []event.OrderItemEvent{{ProductCode: "SKU-1", Quantity: 10, WarehouseID: "WH-1"}},
	})

	if err := handler.handle(context.Background(), msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := handler.handle(context.Background(), msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// 重复投递只生效一次。
	if got := repo.get("WH-1", "SKU-1").AllocatedQty; got != 10 {
		t.Fatalf("expected single reservation, got allocated=%d", got)
	}
	if len(appender.records) != 1 {
		t.Fatalf("expected single reserved event, got %d", len(appender.records))
	}
}

func TestTransientFailureThenRedeliverySucceeds(t *testing.T) {
	handler, repo, appender := newTestHandler()
	repo.seed(domain.NewInventory("WH-1", "SKU-1", 100, 0))
	repo.saveErr = errTransient

	msg := orderCreatedMessage(t, event.OrderCreatedEvent{
		EventID: "evt-retry",
		OrderID: "order-6",
		Items:   []event.OrderItemEvent{{ProductCode: "SKU-1", Quantity: 10, WarehouseID: "WH-1"}},
	})

	// 第一次消费挂在存储上，必须报错让 offset 不提交。
	if err := handler.handle(context.Background(), msg); err == nil {
		t.Fatal("expected error on transient save failure")
	}
	if got := repo.get("WH-1", "SKU-1").AllocatedQty; got != 0 {
		t.Fatalf("failed attempt must leave nothing allocated, got %d", got)
	}
	if len(appender.records) != 0 {
		t.Fatalf("failed attempt must not emit events, got %d", len(appender.records))
	}

	// 重投后去重标记已被清掉，这次正常落库。
	if err := handler.handle(context.Background(), msg); err != nil {
		t.Fatalf("redelivery must succeed, got %v", err)
	}
	if got := repo.get("WH-1", "SKU-1").AllocatedQty; got != 10 {
		t.Fatalf("expected reservation applied on redelivery, got allocated=%d", got)
	}
	if len(appender.records) != 1 || appender.records[0].eventType != event.TypeInventoryReserved {
		t.Fatalf("expected single InventoryReservedEvent, got %+v", appender.records)
	}
}

func TestAppendFailureRollsBackReservations(t *testing.T) {
	handler, repo, appender := newTestHandler()
	repo.seed(domain.NewInventory("WH-1", "SKU-1", 100, 0))
	appender.appendErr = errTransient

	msg := orderCreatedMessage(t, event.OrderCreatedEvent{
		EventID: "evt-append-fail",
		OrderID: "order-7",
		Items:   []event.OrderItemEvent{{ProductCode: "SKU-1", Quantity: 10, WarehouseID: "WH-1"}},
	})

	// 预占成功但事件写不进 outbox，整个事务回滚，预占不能留下来。
	if err := handler.handle(context.Background(), msg); err == nil {
		t.Fatal("expected error on outbox append failure")
	}
	if got := repo.get("WH-1", "SKU-1").AllocatedQty; got != 0 {
		t.Fatalf("append failure must roll back the reservation, got allocated=%d", got)
	}

	// 重投只生效一次，不会叠加预占。
	if err := handler.handle(context.Background(), msg); err != nil {
		t.Fatalf("redelivery must succeed, got %v", err)
	}
	if got := repo.get("WH-1", "SKU-1").AllocatedQty; got != 10 {
		t.Fatalf("expected single reservation after redelivery, got allocated=%d", got)
	}
	if len(appender.records) != 1 {
		t.Fatalf("expected single reserved event, got %d", len(appender.records))
	}
}

func TestMalformedPayloadDropped(t *testing.T) {
	handler, _, appender := newTestHandler()

	msg := kafka.Message{
		Value:   []byte("not json"),
		Headers: []kafka.Header{{Key: event.HeaderEventType, Value: []byte(event.TypeOrderCreated)}},
	}
	if err := handler.handle(context.Background(), msg); err != nil {
		t.Fatalf("malformed payload must be dropped, got %v", err)
	}
	if len(appender.records) != 0 {
		t.Fatal("malformed payload must not produce events")
	}
}
