package infrastructure

import (
	"time"

	"scm/internal/service/order/domain"
)

// OrderModel 对应 order_tb 表。
type OrderModel struct {
	ID           string           `gorm:"column:id;primaryKey;type:varchar(64)"`
	OrderNumber  string           `gorm:"column:order_number;type:varchar(32);uniqueIndex"`
	CustomerID   string           `gorm:"column:customer_id;type:varchar(64);index"`
	Status       string           `gorm:"column:status;type:varchar(16)"`
	TotalAmount  float64          `gorm:"column:total_amount"`
	CancelReason string           `gorm:"column:cancel_reason;type:varchar(255)"`
	Items        []OrderItemModel `gorm:"foreignKey:OrderID"`
	CreatedAt    time.Time        `gorm:"column:created_at"`
	UpdatedAt    time.Time        `gorm:"column:updated_at"`
}

func (OrderModel) TableName() string {
	return "order_tb"
}

// OrderItemModel 对应 order_item_tb 表。
type OrderItemModel struct {
	ID          string  `gorm:"column:id;primaryKey;type:varchar(64)"`
	OrderID     string  `gorm:"column:order_id;type:varchar(64);index"`
	ProductCode string  `gorm:"column:product_code;type:varchar(64)"`
	Quantity    int     `gorm:"column:quantity"`
	Price       float64 `gorm:"column:price"`
	WarehouseID string  `gorm:"column:warehouse_id;type:varchar(64)"`
}

func (OrderItemModel) TableName() string {
	return "order_item_tb"
}

func toOrderModel(order *domain.Order) *OrderModel {
	items := make([]OrderItemModel, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, OrderItemModel{
			ID:          item.ID,
			OrderID:     order.ID,
			ProductCode: item.ProductCode,
			Quantity:    item.Quantity,
			Price:       item.Price,
			WarehouseID: item.WarehouseID,
		})
	}
	return &OrderModel{
		ID:           order.ID,
		OrderNumber:  order.OrderNumber,
		CustomerID:   order.CustomerID,
		Status:       string(order.Status),
		TotalAmount:  order.TotalAmount,
		CancelReason: order.CancelReason,
		Items:        items,
		CreatedAt:    order.CreatedAt,
		UpdatedAt:    order.UpdatedAt,
	}
}

func toOrderDomain(m *OrderModel) *domain.Order {
	items := make([]domain.OrderItem, 0, len(m.Items))
	for _, item := range m.Items {
		items = append(items, domain.OrderItem{
			ID:          item.ID,
			ProductCode: item.ProductCode,
			Quantity:    item.Quantity,
			Price:       item.Price,
			WarehouseID: item.WarehouseID,
		})
	}
	return &domain.Order{
		ID:           m.ID,
		OrderNumber:  m.OrderNumber,
		CustomerID:   m.CustomerID,
		Status:       domain.Status(m.Status),
		TotalAmount:  m.TotalAmount,
		CancelReason: m.CancelReason,
		Items:        items,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}
