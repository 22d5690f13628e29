// Package mysql 订单上下文的 MySQL 持久化实现
package mysql

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/wyfcoding/assetexchange/internal/order/domain"
	"github.com/wyfcoding/assetexchange/pkg/contextx"
)

// OrderRepository 基于 GORM 的订单仓储
type OrderRepository struct {
	db *gorm.DB
}

// NewOrderRepository 创建订单仓储
func NewOrderRepository(db *gorm.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// getDB 优先使用上下文中的事务连接
func (r *OrderRepository) getDB(ctx context.Context) *gorm.DB {
	if tx, ok := contextx.GetTx(ctx).(*gorm.DB); ok && tx != nil {
		return tx
	}
	return r.db.WithContext(ctx)
}

// Save 保存订单。已存在的订单按乐观锁更新，版本不匹配时返回 ErrConcurrencyConflict。
func (r *OrderRepository) Save(ctx context.Context, order *domain.Order) error {
	db := r.getDB(ctx)

	if order.ID == 0 {
		if err := db.Create(order).Error; err != nil {
			return fmt.Errorf("failed to create order: %w", err)
		}
		return nil
	}

	currentVersion := order.Version
	result := db.Model(&domain.Order{}).
		Where("order_id = ? AND version = ?", order.OrderID, currentVersion).
		Updates(map[string]any{
			"role":             order.Role,
			"remaining_amount": order.RemainingAmount,
			"status":           order.Status,
			"version":          currentVersion + 1,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update order: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return domain.ErrConcurrencyConflict
	}
	order.Version = currentVersion + 1
	return nil
}

// Get 根据订单 ID 获取订单，不存在时返回 nil
func (r *OrderRepository) Get(ctx context.Context, orderID string) (*domain.Order, error) {
	var order domain.Order
	err := r.getDB(ctx).Where("order_id = ?", orderID).First(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return &order, nil
}

// GetByClientOrderID 根据客户端订单 ID 获取订单，不存在时返回 nil
func (r *OrderRepository) GetByClientOrderID(ctx context.Context, userID, clientOrderID string) (*domain.Order, error) {
	var order domain.Order
	err := r.getDB(ctx).
		Where("user_id = ? AND client_order_id = ?", userID, clientOrderID).
		First(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order by client order id: %w", err)
	}
	return &order, nil
}

// ListByUser 获取用户订单列表，按创建时间倒序
func (r *OrderRepository) ListByUser(ctx context.Context, userID, symbol string, limit, offset int) ([]*domain.Order, error) {
	var orders []*domain.Order
	query := r.getDB(ctx).Where("user_id = ?", userID)
	if symbol != "" {
		query = query.Where("symbol = ?", symbol)
	}
	err := query.Order("id DESC").Limit(limit).Offset(offset).Find(&orders).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	return orders, nil
}

// ListOpenBySymbol 获取交易对下所有未终结订单，按创建顺序（重建订单簿时保持时间优先）
func (r *OrderRepository) ListOpenBySymbol(ctx context.Context, symbol string) ([]*domain.Order, error) {
	var orders []*domain.Order
	err := r.getDB(ctx).
		Where("symbol = ? AND status IN ?", symbol, []domain.OrderStatus{
			domain.OrderStatusConfirmed,
			domain.OrderStatusPartiallyFilled,
		}).
		Order("id ASC").
		Find(&orders).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list open orders: %w", err)
	}
	return orders, nil
}
