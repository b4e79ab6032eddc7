package domain

import (
	"time"

	"github.com/google/uuid"
)

// MovementType 库存流水类型。
type MovementType string

const (
	MovementInbound     MovementType = "INBOUND"      // 入库
	MovementOutbound    MovementType = "OUTBOUND"     // 出库
	MovementAdjust      MovementType = "ADJUST"       // 盘点调整
	MovementReserved    MovementType = "RESERVED"     // 订单预占
	MovementReleased    MovementType = "RELEASED"     // 预占释放
	MovementTransferOut MovementType = "TRANSFER_OUT" // 调拨出库
	MovementTransferIn  MovementType = "TRANSFER_IN"  // 调拨入库
	MovementHold        MovementType = "HOLD"         // 质检保留
	MovementReleaseHold MovementType = "RELEASE_HOLD" // 解除保留
	MovementDiscard     MovementType = "DISCARD"      // 报废
)

// StockMovement 流水是只追加的审计记录，每次台账变更恰好产生一条，
// 创建后不再更新或删除。
type StockMovement struct {
	ID               string
	InventoryID      string
	Type             MovementType
	Quantity         int
	ReferenceOrderID string // 订单号或 "MANUAL"
	Remarks          string
	Actor            string // 显式传入的操作者，不读任何环境态
	CreatedAt        time.Time
}

func NewStockMovement(inventoryID string, movementType MovementType, qty int, referenceOrderID, remarks, actor string) *StockMovement {
	return &StockMovement{
		ID:               uuid.NewString(),
		InventoryID:      inventoryID,
		Type:             movementType,
		Quantity:         qty,
		ReferenceOrderID: referenceOrderID,
		Remarks:          remarks,
		Actor:            actor,
		CreatedAt:        time.Now().UTC(),
	}
}
