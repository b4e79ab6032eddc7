package domain

import "context"

// OrderRepository 订单持久化接口，由基础设施层实现。
type OrderRepository interface {
	FindByID(ctx context.Context, orderID string) (*Order, error)
	FindByOrderNumber(ctx context.Context, orderNumber string) (*Order, error)
	FindByCustomer(ctx context.Context, customerID string) ([]*Order, error)
	Save(ctx context.Context, order *Order) error
}
