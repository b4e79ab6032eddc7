// Package application 实现库存台账的用例层。
// 每个变更操作是一个原子工作单元：行锁读取 → 校验并变更 → 写回 → 追加流水。
// 任一步失败整个单元回滚，其他事务永远看不到中间状态。
package application

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"scm/internal/pkg/database"
	"scm/internal/pkg/logger"
	"scm/internal/service/inventory/domain"
)

// InventoryCache 点查缓存的出站端口，由 Redis 适配器实现。
type InventoryCache interface {
	Get(ctx context.Context, warehouseID, productCode string) (*domain.Inventory, bool)
	Set(ctx context.Context, inv *domain.Inventory)
	Evict(ctx context.Context, warehouseID, productCode string)
}

type InventoryService struct {
	repo      domain.InventoryRepository
	movements domain.StockMovementRepository
	tx        database.Transactor
	cache     InventoryCache // 可为 nil
	tracer    trace.Tracer
}

func NewInventoryService(repo domain.InventoryRepository, movements domain.StockMovementRepository, tx database.Transactor, cache InventoryCache) *InventoryService {
	return &InventoryService{
		repo:      repo,
		movements: movements,
		tx:        tx,
		cache:     cache,
		tracer:    otel.Tracer("inventory-service"),
	}
}

// mutate 封装 lock-check-mutate-log 模板。
// fn 在行锁之下执行领域变更，并返回要追加的流水；返回错误则整体回滚。
func (s *InventoryService) mutate(ctx context.Context, op, warehouseID, productCode string,
	fn func(inv *domain.Inventory) (*domain.StockMovement, error)) (*domain.Inventory, error) {

	ctx, span := s.tracer.Start(ctx, op, trace.WithAttributes(
		attribute.String("inventory.warehouse_id", warehouseID),
		attribute.String("inventory.product_code", productCode),
	))
	defer span.End()

	var result *domain.Inventory
	err := s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		inv, err := s.repo.FindByKeyForUpdate(ctx, warehouseID, productCode)
		if err != nil {
			return err
		}

		movement, err := fn(inv)
		if err != nil {
			return err
		}
		if err := s.repo.Save(ctx, inv); err != nil {
			return err
		}
		if err := s.movements.Append(ctx, movement); err != nil {
			return err
		}
		result = inv
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, op+" failed")
		return nil, err
	}

	s.evict(ctx, warehouseID, productCode)
	return result, nil
}

// ReserveStock 订单预占。可用量不足时返回 InsufficientStockError，记录保持原样。
func (s *InventoryService) ReserveStock(ctx context.Context, actor, warehouseID, productCode string, qty int, referenceOrderID, remarks string) (*domain.Inventory, error) {
	inv, err := s.mutate(ctx, "inventory.ReserveStock", warehouseID, productCode,
		func(inv *domain.Inventory) (*domain.StockMovement, error) {
			if err := inv.Reserve(qty); err != nil {
				return nil, err
			}
			return domain.NewStockMovement(inv.ID, domain.MovementReserved, qty, referenceOrderID, remarks, actor), nil
		})
	if err != nil {
		return nil, err
	}
	logger.Ctx(ctx).Info().
		Str("product_code", productCode).
		Str("warehouse_id", warehouseID).
		Int("quantity", qty).
		Str("order_id", referenceOrderID).
		Int("available", inv.AvailableQty).
		Int("allocated", inv.AllocatedQty).
		Msg("stock reserved")
	return inv, nil
}

// ReleaseStock 释放预占，是 ReserveStock 的精确逆操作。
func (s *InventoryService) ReleaseStock(ctx context.Context, actor, warehouseID, productCode string, qty int, referenceOrderID, remarks string) (*domain.Inventory, error) {
	inv, err := s.mutate(ctx, "inventory.ReleaseStock", warehouseID, productCode,
		func(inv *domain.Inventory) (*domain.StockMovement, error) {
			if err := inv.Release(qty); err != nil {
				return nil, err
			}
			return domain.NewStockMovement(inv.ID, domain.MovementReleased, qty, referenceOrderID, remarks, actor), nil
		})
	if err != nil {
		return nil, err
	}
	logger.Ctx(ctx).Info().
		Str("product_code", productCode).
		Str("warehouse_id", warehouseID).
		Int("quantity", qty).
		Str("order_id", referenceOrderID).
		Msg("stock released")
	return inv, nil
}

// CreateOrIncrease 人工入库：记录不存在则创建，存在则增加可用量/总量。
func (s *InventoryService) CreateOrIncrease(ctx context.Context, actor, warehouseID, productCode string, qty, safetyStock int) (*domain.Inventory, error) {
	ctx, span := s.tracer.Start(ctx, "inventory.CreateOrIncrease", trace.WithAttributes(
		attribute.String("inventory.warehouse_id", warehouseID),
		attribute.String("inventory.product_code", productCode),
		attribute.Int("inventory.quantity", qty),
	))
	defer span.End()

	var result *domain.Inventory
	err := s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		inv, err := s.repo.FindByKeyForUpdate(ctx, warehouseID, productCode)
		var notFound *domain.NotFoundError
		switch {
		case err == nil:
			inv.Increase(qty)
			if safetyStock > 0 {
				inv.UpdateSafetyStock(safetyStock)
			}
		case errors.As(err, &notFound):
			inv = domain.NewInventory(warehouseID, productCode, qty, safetyStock)
		default:
			return err
		}

		if err := s.repo.Save(ctx, inv); err != nil {
			return err
		}
		movement := domain.NewStockMovement(inv.ID, domain.MovementInbound, qty, "MANUAL", "stock created or replenished", actor)
		if err := s.movements.Append(ctx, movement); err != nil {
			return err
		}
		result = inv
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	s.evict(ctx, warehouseID, productCode)
	logger.Ctx(ctx).Info().
		Str("product_code", productCode).
		Str("warehouse_id", warehouseID).
		Int("quantity", qty).
		Int("available", result.AvailableQty).
		Msg("stock created or increased")
	return result, nil
}

// AdjustStock 盘点调整，delta 可正可负。
func (s *InventoryService) AdjustStock(ctx context.Context, actor, warehouseID, productCode string, delta int, remarks string) (*domain.Inventory, error) {
	return s.mutate(ctx, "inventory.AdjustStock", warehouseID, productCode,
		func(inv *domain.Inventory) (*domain.StockMovement, error) {
			if err := inv.Adjust(delta); err != nil {
				return nil, err
			}
			return domain.NewStockMovement(inv.ID, domain.MovementAdjust, delta, "MANUAL", remarks, actor), nil
		})
}

// TransferOut 跨仓调拨出库。
func (s *InventoryService) TransferOut(ctx context.Context, actor, warehouseID, productCode string, qty int, transferID string) (*domain.Inventory, error) {
	return s.mutate(ctx, "inventory.TransferOut", warehouseID, productCode,
		func(inv *domain.Inventory) (*domain.StockMovement, error) {
			if err := inv.TransferOut(qty); err != nil {
				return nil, err
			}
			return domain.NewStockMovement(inv.ID, domain.MovementTransferOut, qty, transferID, "hub transfer out", actor), nil
		})
}

// TransferIn 跨仓调拨入库。
func (s *InventoryService) TransferIn(ctx context.Context, actor, warehouseID, productCode string, qty int, transferID string) (*domain.Inventory, error) {
	return s.mutate(ctx, "inventory.TransferIn", warehouseID, productCode,
		func(inv *domain.Inventory) (*domain.StockMovement, error) {
			inv.TransferIn(qty)
			return domain.NewStockMovement(inv.ID, domain.MovementTransferIn, qty, transferID, "hub transfer in", actor), nil
		})
}

// Hold 质检保留。
func (s *InventoryService) Hold(ctx context.Context, actor, warehouseID, productCode string, qty int, remarks string) (*domain.Inventory, error) {
	return s.mutate(ctx, "inventory.Hold", warehouseID, productCode,
		func(inv *domain.Inventory) (*domain.StockMovement, error) {
			if err := inv.Hold(qty); err != nil {
				return nil, err
			}
			return domain.NewStockMovement(inv.ID, domain.MovementHold, qty, "MANUAL", remarks, actor), nil
		})
}

// ReleaseHold 解除保留。
func (s *InventoryService) ReleaseHold(ctx context.Context, actor, warehouseID, productCode string, qty int, remarks string) (*domain.Inventory, error) {
	return s.mutate(ctx, "inventory.ReleaseHold", warehouseID, productCode,
		func(inv *domain.Inventory) (*domain.StockMovement, error) {
			if err := inv.ReleaseHold(qty); err != nil {
				return nil, err
			}
			return domain.NewStockMovement(inv.ID, domain.MovementReleaseHold, qty, "MANUAL", remarks, actor), nil
		})
}

// Discard 报废保留区库存。
func (s *InventoryService) Discard(ctx context.Context, actor, warehouseID, productCode string, qty int, remarks string) (*domain.Inventory, error) {
	return s.mutate(ctx, "inventory.Discard", warehouseID, productCode,
		func(inv *domain.Inventory) (*domain.StockMovement, error) {
			if err := inv.Discard(qty); err != nil {
				return nil, err
			}
			return domain.NewStockMovement(inv.ID, domain.MovementDiscard, qty, "MANUAL", remarks, actor), nil
		})
}

// GetInventory 点查，优先走缓存。
func (s *InventoryService) GetInventory(ctx context.Context, warehouseID, productCode string) (*domain.Inventory, error) {
	if s.cache != nil {
		if inv, ok := s.cache.Get(ctx, warehouseID, productCode); ok {
			return inv, nil
		}
	}

	inv, err := s.repo.FindByKey(ctx, warehouseID, productCode)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.Set(ctx, inv)
	}
	return inv, nil
}

// CheckStock 只读校验可用量是否满足需求，键不存在视为不满足。
func (s *InventoryService) CheckStock(ctx context.Context, warehouseID, productCode string, qty int) (bool, error) {
	inv, err := s.GetInventory(ctx, warehouseID, productCode)
	if err != nil {
		var notFound *domain.NotFoundError
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, err
	}
	return inv.AvailableQty >= qty, nil
}

func (s *InventoryService) ListByWarehouse(ctx context.Context, warehouseID string) ([]*domain.Inventory, error) {
	return s.repo.FindByWarehouse(ctx, warehouseID)
}

func (s *InventoryService) ListByProductCode(ctx context.Context, productCode string) ([]*domain.Inventory, error) {
	return s.repo.FindByProductCode(ctx, productCode)
}

// ListLowStock 列出可用量低于安全水位的记录。
func (s *InventoryService) ListLowStock(ctx context.Context) ([]*domain.Inventory, error) {
	return s.repo.FindBelowSafetyStock(ctx)
}

func (s *InventoryService) ListMovements(ctx context.Context, referenceOrderID string) ([]*domain.StockMovement, error) {
	return s.movements.FindByReferenceOrderID(ctx, referenceOrderID)
}

func (s *InventoryService) evict(ctx context.Context, warehouseID, productCode string) {
	if s.cache != nil {
		s.cache.Evict(ctx, warehouseID, productCode)
	}
}
