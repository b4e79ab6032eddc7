package domain

import "fmt"

// NotFoundError 订单不存在。
type NotFoundError struct {
	OrderID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("order not found: %s", e.OrderID)
}

// InvalidStatusError 非法状态转换。
type InvalidStatusError struct {
	OrderNumber string
	From        Status
	To          Status
}

func (e *InvalidStatusError) Error() string {
	return fmt.Sprintf("invalid status transition: order=%s, %s -> %s", e.OrderNumber, e.From, e.To)
}

// EmptyOrderError 订单必须至少包含一个行项目。
type EmptyOrderError struct{}

func (e *EmptyOrderError) Error() string {
	return "order must contain at least one item"
}

// InvalidQuantityError 行项目数量必须为正。
type InvalidQuantityError struct {
	ProductCode string
	Quantity    int
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("invalid quantity: productCode=%s, quantity=%d", e.ProductCode, e.Quantity)
}
