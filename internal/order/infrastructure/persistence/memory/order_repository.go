// Package memory 订单上下文的内存持久化实现，测试与本地联调使用
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/wyfcoding/assetexchange/internal/order/domain"
)

// OrderRepository 内存订单仓储，语义对齐 MySQL 实现（含乐观锁）
type OrderRepository struct {
	mu     sync.RWMutex
	orders map[string]*domain.Order
	nextID uint
}

// NewOrderRepository 创建内存订单仓储
func NewOrderRepository() *OrderRepository {
	return &OrderRepository{orders: make(map[string]*domain.Order)}
}

// Save 保存订单，版本不匹配时返回 ErrConcurrencyConflict
func (r *OrderRepository) Save(_ context.Context, order *domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, exists := r.orders[order.OrderID]

	if order.ID == 0 {
		r.nextID++
		order.ID = r.nextID
		clone := *order
		r.orders[order.OrderID] = &clone
		return nil
	}

	if !exists || stored.Version != order.Version {
		return domain.ErrConcurrencyConflict
	}
	order.Version++
	clone := *order
	r.orders[order.OrderID] = &clone
	return nil
}

// Get 根据订单 ID 获取订单，不存在时返回 nil
func (r *OrderRepository) Get(_ context.Context, orderID string) (*domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stored, ok := r.orders[orderID]
	if !ok {
		return nil, nil
	}
	clone := *stored
	return &clone, nil
}

// GetByClientOrderID 根据客户端订单 ID 获取订单，不存在时返回 nil
func (r *OrderRepository) GetByClientOrderID(_ context.Context, userID, clientOrderID string) (*domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, o := range r.orders {
		if o.UserID == userID && o.ClientOrderID == clientOrderID {
			clone := *o
			return &clone, nil
		}
	}
	return nil, nil
}

// ListByUser 获取用户订单列表，按创建时间倒序
func (r *OrderRepository) ListByUser(_ context.Context, userID, symbol string, limit, offset int) ([]*domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var orders []*domain.Order
	for _, o := range r.orders {
		if o.UserID != userID {
			continue
		}
		if symbol != "" && o.Symbol != symbol {
			continue
		}
		clone := *o
		orders = append(orders, &clone)
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].ID > orders[j].ID })
	return paginate(orders, limit, offset), nil
}

// ListOpenBySymbol 获取交易对下所有未终结订单，按创建顺序
func (r *OrderRepository) ListOpenBySymbol(_ context.Context, symbol string) ([]*domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var orders []*domain.Order
	for _, o := range r.orders {
		if o.Symbol != symbol {
			continue
		}
		if o.Status != domain.OrderStatusConfirmed && o.Status != domain.OrderStatusPartiallyFilled {
			continue
		}
		clone := *o
		orders = append(orders, &clone)
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].ID < orders[j].ID })
	return orders, nil
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
