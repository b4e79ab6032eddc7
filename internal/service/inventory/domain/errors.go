package domain

import "fmt"

// NotFoundError 未知的 (warehouseId, productCode) 键。
type NotFoundError struct {
	WarehouseID string
	ProductCode string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("inventory not found: warehouseId=%s, productCode=%s", e.WarehouseID, e.ProductCode)
}

// InsufficientStockError 可用库存不足，预占被拒绝。
// 携带的数量随失败事件回传给订单侧。
type InsufficientStockError struct {
	ProductCode string
	Requested   int
	Available   int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock: productCode=%s, requested=%d, available=%d",
		e.ProductCode, e.Requested, e.Available)
}

// InsufficientAllocationError 释放数量超过了已分配数量。
type InsufficientAllocationError struct {
	ProductCode string
	Requested   int
	Allocated   int
}

func (e *InsufficientAllocationError) Error() string {
	return fmt.Sprintf("insufficient allocation: productCode=%s, requested=%d, allocated=%d",
		e.ProductCode, e.Requested, e.Allocated)
}

// InsufficientHoldError 保留区数量不足，无法解除保留或报废。
type InsufficientHoldError struct {
	ProductCode string
	Requested   int
	Held        int
}

func (e *InsufficientHoldError) Error() string {
	return fmt.Sprintf("insufficient hold quantity: productCode=%s, requested=%d, held=%d",
		e.ProductCode, e.Requested, e.Held)
}
