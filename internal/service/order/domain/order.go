// Package domain 是订单服务的领域层。
// 订单状态机：CREATED → CONFIRMED → SHIPPED → DELIVERED，
// CREATED 和 CONFIRMED 可转 CANCELLED，其余转换一律拒绝。
package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status 订单状态。
type Status string

const (
	StatusCreated   Status = "CREATED"   // 已创建，等待库存预占结果
	StatusConfirmed Status = "CONFIRMED" // 库存预占成功
	StatusShipped   Status = "SHIPPED"   // 已发货
	StatusDelivered Status = "DELIVERED" // 已签收
	StatusCancelled Status = "CANCELLED" // 已取消（用户取消或预占失败补偿）
)

// Order 订单聚合根。
type Order struct {
	ID           string
	OrderNumber  string
	CustomerID   string
	Status       Status
	TotalAmount  float64
	CancelReason string
	Items        []OrderItem
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// OrderItem 订单行项目。
type OrderItem struct {
	ID          string
	ProductCode string
	Quantity    int
	Price       float64
	WarehouseID string
}

// NewOrder 创建 CREATED 状态的订单，生成 ORD-YYYYMMDD-XXXXXXXX 格式的订单号，
// 总金额由行项目累加得出。
func NewOrder(customerID string, items []OrderItem) (*Order, error) {
	if len(items) == 0 {
		return nil, &EmptyOrderError{}
	}
	for i := range items {
		if items[i].Quantity <= 0 {
			return nil, &InvalidQuantityError{ProductCode: items[i].ProductCode, Quantity: items[i].Quantity}
		}
		if items[i].ID == "" {
			items[i].ID = uuid.NewString()
		}
	}

	var total float64
	for _, item := range items {
		total += item.Price * float64(item.Quantity)
	}

	now := time.Now().UTC()
	return &Order{
		ID:          uuid.NewString(),
		OrderNumber: newOrderNumber(now),
		CustomerID:  customerID,
		Status:      StatusCreated,
		TotalAmount: total,
		Items:       items,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

func newOrderNumber(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return fmt.Sprintf("ORD-%s-%s", now.Format("20060102"), suffix)
}

// Confirm 库存预占成功后确认订单。
func (o *Order) Confirm() error {
	return o.transition(StatusConfirmed, StatusCreated)
}

// Ship 发货。
func (o *Order) Ship() error {
	return o.transition(StatusShipped, StatusConfirmed)
}

// Deliver 签收。
func (o *Order) Deliver() error {
	return o.transition(StatusDelivered, StatusShipped)
}

// Cancel 取消订单并记录原因，仅 CREATED 和 CONFIRMED 可取消。
func (o *Order) Cancel(reason string) error {
	if err := o.transition(StatusCancelled, StatusCreated, StatusConfirmed); err != nil {
		return err
	}
	o.CancelReason = reason
	return nil
}

func (o *Order) transition(to Status, from ...Status) error {
	for _, s := range from {
		if o.Status == s {
			o.Status = to
			o.UpdatedAt = time.Now().UTC()
			return nil
		}
	}
	return &InvalidStatusError{OrderNumber: o.OrderNumber, From: o.Status, To: to}
}
