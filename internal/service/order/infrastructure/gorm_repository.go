package infrastructure

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"scm/internal/pkg/database"
	"scm/internal/service/order/domain"
)

// GormOrderRepository 基于 gorm 的订单仓储实现。
// 通过 database.FromContext 取连接，处于事务中时自动加入该事务。
type GormOrderRepository struct {
	db *gorm.DB
}

func NewGormOrderRepository(db *gorm.DB) *GormOrderRepository {
	return &GormOrderRepository{db: db}
}

func (r *GormOrderRepository) FindByID(ctx context.Context, orderID string) (*domain.Order, error) {
	var model OrderModel
	err := database.FromContext(ctx, r.db).WithContext(ctx).
		Preload("Items").
		Where("id = ?", orderID).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &domain.NotFoundError{OrderID: orderID}
		}
		return nil, err
	}
	return toOrderDomain(&model), nil
}

func (r *GormOrderRepository) FindByOrderNumber(ctx context.Context, orderNumber string) (*domain.Order, error) {
	var model OrderModel
	err := database.FromContext(ctx, r.db).WithContext(ctx).
		Preload("Items").
		Where("order_number = ?", orderNumber).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &domain.NotFoundError{OrderID: orderNumber}
		}
		return nil, err
	}
	return toOrderDomain(&model), nil
}

func (r *GormOrderRepository) FindByCustomer(ctx context.Context, customerID string) ([]*domain.Order, error) {
	var models []OrderModel
	err := database.FromContext(ctx, r.db).WithContext(ctx).
		Preload("Items").
		Where("customer_id = ?", customerID).
		Order("created_at desc").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	result := make([]*domain.Order, 0, len(models))
	for i := range models {
		result = append(result, toOrderDomain(&models[i]))
	}
	return result, nil
}

// Save 整体落库，行项目用 upsert 保证重放安全。
func (r *GormOrderRepository) Save(ctx context.Context, order *domain.Order) error {
	return database.FromContext(ctx, r.db).WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(toOrderModel(order)).Error
}
