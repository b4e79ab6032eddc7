package infrastructure

import (
	"time"

	"scm/internal/service/inventory/domain"
)

// InventoryModel 对应 inventory_tb 表，(warehouse_id, product_code) 唯一。
type InventoryModel struct {
	ID           string    `gorm:"column:id;primaryKey;type:varchar(64)"`
	WarehouseID  string    `gorm:"column:warehouse_id;type:varchar(64);uniqueIndex:uk_warehouse_product"`
	ProductCode  string    `gorm:"column:product_code;type:varchar(64);uniqueIndex:uk_warehouse_product"`
	AvailableQty int       `gorm:"column:available_qty"`
	AllocatedQty int       `gorm:"column:allocated_qty"`
	TotalQty     int       `gorm:"column:total_qty"`
	InTransitQty int       `gorm:"column:in_transit_qty"`
	HoldQty      int       `gorm:"column:hold_qty"`
	SafetyStock  int       `gorm:"column:safety_stock"`
	LastUpdated  time.Time `gorm:"column:last_updated"`
}

func (InventoryModel) TableName() string {
	return "inventory_tb"
}

// StockMovementModel 对应 stock_movement_tb 表，只插入不更新。
type StockMovementModel struct {
	ID               string    `gorm:"column:id;primaryKey;type:varchar(64)"`
	InventoryID      string    `gorm:"column:inventory_id;type:varchar(64);index"`
	MovementType     string    `gorm:"column:movement_type;type:varchar(32)"`
	Quantity         int       `gorm:"column:quantity"`
	ReferenceOrderID string    `gorm:"column:reference_order_id;type:varchar(64);index"`
	Remarks          string    `gorm:"column:remarks;type:varchar(255)"`
	Actor            string    `gorm:"column:actor;type:varchar(64)"`
	CreatedAt        time.Time `gorm:"column:created_at"`
}

func (StockMovementModel) TableName() string {
	return "stock_movement_tb"
}

func toInventoryModel(inv *domain.Inventory) *InventoryModel {
	return &InventoryModel{
		ID:           inv.ID,
		WarehouseID:  inv.WarehouseID,
		ProductCode:  inv.ProductCode,
		AvailableQty: inv.AvailableQty,
		AllocatedQty: inv.AllocatedQty,
		TotalQty:     inv.TotalQty,
		InTransitQty: inv.InTransitQty,
		HoldQty:      inv.HoldQty,
		SafetyStock:  inv.SafetyStock,
		LastUpdated:  inv.LastUpdated,
	}
}

func toInventoryDomain(m *InventoryModel) *domain.Inventory {
	return &domain.Inventory{
		ID:           m.ID,
		WarehouseID:  m.WarehouseID,
		ProductCode:  m.ProductCode,
		AvailableQty: m.AvailableQty,
		AllocatedQty: m.AllocatedQty,
		TotalQty:     m.TotalQty,
		InTransitQty: m.InTransitQty,
		HoldQty:      m.HoldQty,
		SafetyStock:  m.SafetyStock,
		LastUpdated:  m.LastUpdated,
	}
}

func toMovementModel(mv *domain.StockMovement) *StockMovementModel {
	return &StockMovementModel{
		ID:               mv.ID,
		InventoryID:      mv.InventoryID,
		MovementType:     string(mv.Type),
		Quantity:         mv.Quantity,
		ReferenceOrderID: mv.ReferenceOrderID,
		Remarks:          mv.Remarks,
		Actor:            mv.Actor,
		CreatedAt:        mv.CreatedAt,
	}
}

func toMovementDomain(m *StockMovementModel) *domain.StockMovement {
	return &domain.StockMovement{
		ID:               m.ID,
		InventoryID:      m.InventoryID,
		Type:             domain.MovementType(m.MovementType),
		Quantity:         m.Quantity,
		ReferenceOrderID: m.ReferenceOrderID,
		Remarks:          m.Remarks,
		Actor:            m.Actor,
		CreatedAt:        m.CreatedAt,
	}
}
