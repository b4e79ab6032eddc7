// Package domain 是库存台账的领域层：每个 (warehouseId, productCode) 一行，
// 所有数量变更都先检查后变更，失败时对象保持原样。
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Inventory 是库存台账的聚合根。
// 并发控制不在这里：仓储层用行级锁保证同一键上的操作串行执行。
type Inventory struct {
	ID           string
	WarehouseID  string
	ProductCode  string
	AvailableQty int
	AllocatedQty int
	TotalQty     int
	InTransitQty int
	HoldQty      int
	SafetyStock  int
	LastUpdated  time.Time
}

// NewInventory 创建一条新的台账记录，初始可用量等于总量。
func NewInventory(warehouseID, productCode string, qty, safetyStock int) *Inventory {
	return &Inventory{
		ID:           uuid.NewString(),
		WarehouseID:  warehouseID,
		ProductCode:  productCode,
		AvailableQty: qty,
		AllocatedQty: 0,
		TotalQty:     qty,
		SafetyStock:  safetyStock,
		LastUpdated:  time.Now().UTC(),
	}
}

func (inv *Inventory) touch() {
	inv.LastUpdated = time.Now().UTC()
}

// Reserve 预占：可用量减少，分配量增加。
func (inv *Inventory) Reserve(qty int) error {
	if inv.AvailableQty < qty {
		return &InsufficientStockError{
			ProductCode: inv.ProductCode,
			Requested:   qty,
			Available:   inv.AvailableQty,
		}
	}
	inv.AvailableQty -= qty
	inv.AllocatedQty += qty
	inv.touch()
	return nil
}

// Release 释放预占，是 Reserve 的精确逆操作。
func (inv *Inventory) Release(qty int) error {
	if inv.AllocatedQty < qty {
		return &InsufficientAllocationError{
			ProductCode: inv.ProductCode,
			Requested:   qty,
			Allocated:   inv.AllocatedQty,
		}
	}
	inv.AllocatedQty -= qty
	inv.AvailableQty += qty
	inv.touch()
	return nil
}

// Increase 入库补货：总量和可用量同时增加。
func (inv *Inventory) Increase(qty int) {
	inv.AvailableQty += qty
	inv.TotalQty += qty
	inv.touch()
}

// Adjust 人工盘点调整，delta 可正可负；调整后可用量不得为负。
func (inv *Inventory) Adjust(delta int) error {
	if inv.AvailableQty+delta < 0 {
		return &InsufficientStockError{
			ProductCode: inv.ProductCode,
			Requested:   -delta,
			Available:   inv.AvailableQty,
		}
	}
	inv.AvailableQty += delta
	inv.TotalQty += delta
	inv.touch()
	return nil
}

// TransferOut 跨仓调拨出库：发出仓扣减可用量和总量。
func (inv *Inventory) TransferOut(qty int) error {
	if inv.AvailableQty < qty {
		return &InsufficientStockError{
			ProductCode: inv.ProductCode,
			Requested:   qty,
			Available:   inv.AvailableQty,
		}
	}
	inv.AvailableQty -= qty
	inv.TotalQty -= qty
	inv.touch()
	return nil
}

// TransferIn 跨仓调拨入库：目的仓增加可用量和总量。
func (inv *Inventory) TransferIn(qty int) {
	inv.TotalQty += qty
	inv.AvailableQty += qty
	inv.touch()
}

// Hold 质检保留：可用转保留（不良/破损待定）。
func (inv *Inventory) Hold(qty int) error {
	if inv.AvailableQty < qty {
		return &InsufficientStockError{
			ProductCode: inv.ProductCode,
			Requested:   qty,
			Available:   inv.AvailableQty,
		}
	}
	inv.AvailableQty -= qty
	inv.HoldQty += qty
	inv.touch()
	return nil
}

// ReleaseHold 解除保留，重新可售。
func (inv *Inventory) ReleaseHold(qty int) error {
	if inv.HoldQty < qty {
		return &InsufficientHoldError{
			ProductCode: inv.ProductCode,
			Requested:   qty,
			Held:        inv.HoldQty,
		}
	}
	inv.HoldQty -= qty
	inv.AvailableQty += qty
	inv.touch()
	return nil
}

// Discard 报废保留区库存，总量随之减少。
func (inv *Inventory) Discard(qty int) error {
	if inv.HoldQty < qty {
		return &InsufficientHoldError{
			ProductCode: inv.ProductCode,
			Requested:   qty,
			Held:        inv.HoldQty,
		}
	}
	inv.HoldQty -= qty
	inv.TotalQty -= qty
	inv.touch()
	return nil
}

// UpdateSafetyStock 更新安全库存水位。
func (inv *Inventory) UpdateSafetyStock(safetyStock int) {
	inv.SafetyStock = safetyStock
	inv.touch()
}

// IsBelowSafetyStock 可用量是否已低于安全水位。
func (inv *Inventory) IsBelowSafetyStock() bool {
	return inv.AvailableQty < inv.SafetyStock
}
