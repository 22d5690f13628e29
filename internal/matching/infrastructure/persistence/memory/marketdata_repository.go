// Package memory 行情仓储的内存实现，供测试与单机部署使用
package memory

import (
	"context"
	"sync"

	"github.com/wyfcoding/assetexchange/internal/matching/domain"
	orderdomain "github.com/wyfcoding/assetexchange/internal/order/domain"
)

const maxCachedTrades = 200

// MarketDataRepository 内存行情仓储：订单簿快照与最新成交
type MarketDataRepository struct {
	mu        sync.RWMutex
	snapshots map[string]*domain.Snapshot
	trades    map[string][]*orderdomain.Trade
}

// NewMarketDataRepository 创建内存行情仓储
func NewMarketDataRepository() *MarketDataRepository {
	return &MarketDataRepository{
		snapshots: make(map[string]*domain.Snapshot),
		trades:    make(map[string][]*orderdomain.Trade),
	}
}

// SaveSnapshot 保存订单簿深度快照
func (r *MarketDataRepository) SaveSnapshot(_ context.Context, snapshot *domain.Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots[snapshot.Symbol] = snapshot
	return nil
}

// GetSnapshot 获取最新的订单簿深度快照，不存在时返回 nil
func (r *MarketDataRepository) GetSnapshot(_ context.Context, symbol string) (*domain.Snapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshots[symbol], nil
}

// PushTrade 追加一笔最新成交并裁剪到固定长度
func (r *MarketDataRepository) PushTrade(_ context.Context, trade *orderdomain.Trade) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := append([]*orderdomain.Trade{trade}, r.trades[trade.Symbol]...)
	if len(list) > maxCachedTrades {
		list = list[:maxCachedTrades]
	}
	r.trades[trade.Symbol] = list
	return nil
}

// LatestTrades 获取交易对最新成交，按时间倒序
func (r *MarketDataRepository) LatestTrades(_ context.Context, symbol string, limit int) ([]*orderdomain.Trade, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := r.trades[symbol]
	if limit <= 0 || limit > len(list) {
		limit = len(list)
	}
	out := make([]*orderdomain.Trade, limit)
	copy(out, list[:limit])
	return out, nil
}
