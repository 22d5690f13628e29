package mysql

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/wyfcoding/assetexchange/internal/order/domain"
	"github.com/wyfcoding/assetexchange/pkg/contextx"
)

// TradeRepository 基于 GORM 的成交仓储
type TradeRepository struct {
	db *gorm.DB
}

// NewTradeRepository 创建成交仓储
func NewTradeRepository(db *gorm.DB) *TradeRepository {
	return &TradeRepository{db: db}
}

func (r *TradeRepository) getDB(ctx context.Context) *gorm.DB {
	if tx, ok := contextx.GetTx(ctx).(*gorm.DB); ok && tx != nil {
		return tx
	}
	return r.db.WithContext(ctx)
}

// Save 保存成交记录，成交不可变，只插入
func (r *TradeRepository) Save(ctx context.Context, trade *domain.Trade) error {
	if err := r.getDB(ctx).Create(trade).Error; err != nil {
		return fmt.Errorf("failed to create trade: %w", err)
	}
	return nil
}

// Get 根据成交 ID 获取成交，不存在时返回 nil
func (r *TradeRepository) Get(ctx context.Context, tradeID string) (*domain.Trade, error) {
	var trade domain.Trade
	err := r.getDB(ctx).Where("trade_id = ?", tradeID).First(&trade).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get trade: %w", err)
	}
	return &trade, nil
}

// ListByUser 获取用户成交列表，按成交时间倒序
func (r *TradeRepository) ListByUser(ctx context.Context, userID, symbol string, limit, offset int) ([]*domain.Trade, error) {
	var trades []*domain.Trade
	query := r.getDB(ctx).Where("buyer_user_id = ? OR seller_user_id = ?", userID, userID)
	if symbol != "" {
		query = query.Where("symbol = ?", symbol)
	}
	err := query.Order("id DESC").Limit(limit).Offset(offset).Find(&trades).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list trades: %w", err)
	}
	return trades, nil
}

// ListBySymbol 获取交易对最新成交，按成交时间倒序
func (r *TradeRepository) ListBySymbol(ctx context.Context, symbol string, limit int) ([]*domain.Trade, error) {
	var trades []*domain.Trade
	err := r.getDB(ctx).
		Where("symbol = ?", symbol).
		Order("id DESC").
		Limit(limit).
		Find(&trades).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list trades by symbol: %w", err)
	}
	return trades, nil
}
