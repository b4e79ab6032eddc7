package domain

import "context"

// InventoryRepository 台账持久化接口，由基础设施层实现。
type InventoryRepository interface {
	// FindByKeyForUpdate 以独占行锁读取记录，调用方必须处于事务中。
	// 同一键上的并发操作在这里串行化。
	FindByKeyForUpdate(ctx context.Context, warehouseID, productCode string) (*Inventory, error)

	FindByKey(ctx context.Context, warehouseID, productCode string) (*Inventory, error)
	FindByProductCode(ctx context.Context, productCode string) ([]*Inventory, error)
	FindByWarehouse(ctx context.Context, warehouseID string) ([]*Inventory, error)
	FindBelowSafetyStock(ctx context.Context) ([]*Inventory, error)

	Save(ctx context.Context, inv *Inventory) error
}

// StockMovementRepository 流水只有追加。
type StockMovementRepository interface {
	Append(ctx context.Context, movement *StockMovement) error
	FindByReferenceOrderID(ctx context.Context, referenceOrderID string) ([]*StockMovement, error)
}
