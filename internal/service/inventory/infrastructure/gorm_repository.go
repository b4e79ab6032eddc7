package infrastructure

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"scm/internal/pkg/database"
	"scm/internal/service/inventory/domain"
)

// GormInventoryRepository 基于 gorm 的台账仓储实现。
// 所有查询通过 database.FromContext 取连接，处于事务中时自动加入该事务。
type GormInventoryRepository struct {
	db *gorm.DB
}

func NewGormInventoryRepository(db *gorm.DB) *GormInventoryRepository {
	return &GormInventoryRepository{db: db}
}

// FindByKeyForUpdate 用 SELECT ... FOR UPDATE 加独占行锁，
// 依赖 (warehouse_id, product_code) 唯一索引保证只锁一行。
func (r *GormInventoryRepository) FindByKeyForUpdate(ctx context.Context, warehouseID, productCode string) (*domain.Inventory, error) {
	var model InventoryModel
	err := database.FromContext(ctx, r.db).WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("warehouse_id = ? AND product_code = ?", warehouseID, productCode).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &domain.NotFoundError{WarehouseID: warehouseID, ProductCode: productCode}
		}
		return nil, err
	}
	return toInventoryDomain(&model), nil
}

func (r *GormInventoryRepository) FindByKey(ctx context.Context, warehouseID, productCode string) (*domain.Inventory, error) {
	var model InventoryModel
	err := database.FromContext(ctx, r.db).WithContext(ctx).
		Where("warehouse_id = ? AND product_code = ?", warehouseID, productCode).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &domain.NotFoundError{WarehouseID: warehouseID, ProductCode: productCode}
		}
		return nil, err
	}
	return toInventoryDomain(&model), nil
}

func (r *GormInventoryRepository) FindByProductCode(ctx context.Context, productCode string) ([]*domain.Inventory, error) {
	var models []InventoryModel
	err := database.FromContext(ctx, r.db).WithContext(ctx).
		Where("product_code = ?", productCode).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return toInventoryDomainList(models), nil
}

func (r *GormInventoryRepository) FindByWarehouse(ctx context.Context, warehouseID string) ([]*domain.Inventory, error) {
	var models []InventoryModel
	err := database.FromContext(ctx, r.db).WithContext(ctx).
		Where("warehouse_id = ?", warehouseID).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return toInventoryDomainList(models), nil
}

func (r *GormInventoryRepository) FindBelowSafetyStock(ctx context.Context) ([]*domain.Inventory, error) {
	var models []InventoryModel
	err := database.FromContext(ctx, r.db).WithContext(ctx).
		Where("available_qty < safety_stock").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return toInventoryDomainList(models), nil
}

func (r *GormInventoryRepository) Save(ctx context.Context, inv *domain.Inventory) error {
	return database.FromContext(ctx, r.db).WithContext(ctx).Save(toInventoryModel(inv)).Error
}

func toInventoryDomainList(models []InventoryModel) []*domain.Inventory {
	result := make([]*domain.Inventory, 0, len(models))
	for i := range models {
		result = append(result, toInventoryDomain(&models[i]))
	}
	return result
}

// GormStockMovementRepository 流水表仓储，只追加。
type GormStockMovementRepository struct {
	db *gorm.DB
}

func NewGormStockMovementRepository(db *gorm.DB) *GormStockMovementRepository {
	return &GormStockMovementRepository{db: db}
}

func (r *GormStockMovementRepository) Append(ctx context.Context, movement *domain.StockMovement) error {
	return database.FromContext(ctx, r.db).WithContext(ctx).Create(toMovementModel(movement)).Error
}

func (r *GormStockMovementRepository) FindByReferenceOrderID(ctx context.Context, referenceOrderID string) ([]*domain.StockMovement, error) {
	var models []StockMovementModel
	err := database.FromContext(ctx, r.db).WithContext(ctx).
		Where("reference_order_id = ?", referenceOrderID).
		Order("created_at asc").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	result := make([]*domain.StockMovement, 0, len(models))
	for i := range models {
		result = append(result, toMovementDomain(&models[i]))
	}
	return result, nil
}
