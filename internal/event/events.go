// Package event 定义订单与库存两个服务之间编排 Saga 的事件契约。
// 事件通过 outbox 落库后由发布器异步投递到 Kafka，双方只依赖这里的结构。
package event

import "time"

// Kafka 主题。
const (
	TopicOrderEvents     = "order-events"
	TopicInventoryEvents = "inventory-events"
)

// 事件类型名，同时写入 outbox 记录和 Kafka 消息头，
// 消费端据此分发到对应的处理函数。
const (
	TypeOrderCreated               = "OrderCreatedEvent"
	TypeOrderCancelled             = "OrderCancelledEvent"
	TypeInventoryReserved          = "InventoryReservedEvent"
	TypeInventoryReservationFailed = "InventoryReservationFailedEvent"
	TypeInventoryReleased          = "InventoryReleasedEvent"
)

// HeaderEventType 是携带事件类型名的 Kafka 消息头。
const HeaderEventType = "event-type"

// TopicFor 返回事件类型应投递到的主题。未知类型返回空串。
func TopicFor(eventType string) string {
	switch eventType {
	case TypeOrderCreated, TypeOrderCancelled:
		return TopicOrderEvents
	case TypeInventoryReserved, TypeInventoryReservationFailed, TypeInventoryReleased:
		return TopicInventoryEvents
	}
	return ""
}

// OrderCreatedEvent 订单创建成功后由订单服务发出，触发库存预占。
type OrderCreatedEvent struct {
	EventID     string           `json:"eventId"`
	OrderID     string           `json:"orderId"`
	OrderNumber string           `json:"orderNumber"`
	CustomerID  string           `json:"customerId"`
	Items       []OrderItemEvent `json:"items"`
	TotalAmount float64          `json:"totalAmount"`
	CreatedAt   time.Time        `json:"createdAt"`
}

type OrderItemEvent struct {
	ProductCode string  `json:"productCode"`
	Quantity    int     `json:"quantity"`
	Price       float64 `json:"price,omitempty"`
	WarehouseID string  `json:"warehouseId"`
}

// OrderCancelledEvent 用户取消订单后发出，触发库存释放。
type OrderCancelledEvent struct {
	EventID      string           `json:"eventId"`
	OrderID      string           `json:"orderId"`
	OrderNumber  string           `json:"orderNumber"`
	CancelReason string           `json:"cancelReason"`
	Items        []OrderItemEvent `json:"items"`
	CancelledAt  time.Time        `json:"cancelledAt"`
}

// InventoryReservedEvent 所有行项目预占成功后由库存服务发出，订单据此确认。
type InventoryReservedEvent struct {
	EventID      string            `json:"eventId"`
	OrderID      string            `json:"orderId"`
	OrderNumber  string            `json:"orderNumber"`
	Reservations []ReservationItem `json:"reservations"`
	ReservedAt   time.Time         `json:"reservedAt"`
}

type ReservationItem struct {
	ProductCode string `json:"productCode"`
	Quantity    int    `json:"quantity"`
	WarehouseID string `json:"warehouseId"`
}

// InventoryReservationFailedEvent 任一行项目库存不足时发出，订单据此走补偿取消。
type InventoryReservationFailedEvent struct {
	EventID           string    `json:"eventId"`
	OrderID           string    `json:"orderId"`
	OrderNumber       string    `json:"orderNumber"`
	Reason            string    `json:"reason"`
	ProductCode       string    `json:"productCode,omitempty"`
	RequestedQuantity int       `json:"requestedQuantity,omitempty"`
	AvailableQuantity int       `json:"availableQuantity,omitempty"`
	FailedAt          time.Time `json:"failedAt"`
}

// InventoryReleasedEvent 取消订单的库存释放完成后发出，订单侧仅记录日志。
type InventoryReleasedEvent struct {
	EventID     string        `json:"eventId"`
	OrderID     string        `json:"orderId"`
	OrderNumber string        `json:"orderNumber"`
	Releases    []ReleaseItem `json:"releases"`
	ReleasedAt  time.Time     `json:"releasedAt"`
}

type ReleaseItem struct {
	ProductCode string `json:"productCode"`
	Quantity    int    `json:"quantity"`
	WarehouseID string `json:"warehouseId"`
}
