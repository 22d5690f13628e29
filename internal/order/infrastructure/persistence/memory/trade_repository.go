package memory

import (
	"context"
	"sync"

	"github.com/wyfcoding/assetexchange/internal/order/domain"
)

// TradeRepository 内存成交仓储，只追加
type TradeRepository struct {
	mu     sync.RWMutex
	trades []*domain.Trade
	nextID uint
}

// NewTradeRepository 创建内存成交仓储
func NewTradeRepository() *TradeRepository {
	return &TradeRepository{}
}

// Save 保存成交记录
func (r *TradeRepository) Save(_ context.Context, trade *domain.Trade) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	trade.ID = r.nextID
	clone := *trade
	r.trades = append(r.trades, &clone)
	return nil
}

// Get 根据成交 ID 获取成交，不存在时返回 nil
func (r *TradeRepository) Get(_ context.Context, tradeID string) (*domain.Trade, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, t := range r.trades {
		if t.TradeID == tradeID {
			clone := *t
			return &clone, nil
		}
	}
	return nil, nil
}

// ListByUser 获取用户成交列表，按成交顺序倒序
func (r *TradeRepository) ListByUser(_ context.Context, userID, symbol string, limit, offset int) ([]*domain.Trade, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var trades []*domain.Trade
	for i := len(r.trades) - 1; i >= 0; i-- {
		t := r.trades[i]
		if t.BuyerUserID != userID && t.SellerUserID != userID {
			continue
		}
		if symbol != "" && t.Symbol != symbol {
			continue
		}
		clone := *t
		trades = append(trades, &clone)
	}
	return paginate(trades, limit, offset), nil
}

// ListBySymbol 获取交易对最新成交，按成交顺序倒序
func (r *TradeRepository) ListBySymbol(_ context.Context, symbol string, limit int) ([]*domain.Trade, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var trades []*domain.Trade
	for i := len(r.trades) - 1; i >= 0; i-- {
		t := r.trades[i]
		if t.Symbol != symbol {
			continue
		}
		clone := *t
		trades = append(trades, &clone)
		if limit > 0 && len(trades) >= limit {
			break
		}
	}
	return trades, nil
}
