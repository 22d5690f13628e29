package domain

import (
	"context"

	orderdomain "github.com/wyfcoding/assetexchange/internal/order/domain"
)

// MarketDataRepository 行情仓储接口：订单簿快照与最新成交的对外视图
type MarketDataRepository interface {
	// SaveSnapshot 保存订单簿深度快照
	SaveSnapshot(ctx context.Context, snapshot *Snapshot) error
	// GetSnapshot 获取最新的订单簿深度快照，不存在时返回 nil
	GetSnapshot(ctx context.Context, symbol string) (*Snapshot, error)
	// PushTrade 追加一笔最新成交
	PushTrade(ctx context.Context, trade *orderdomain.Trade) error
	// LatestTrades 获取交易对最新成交，按时间倒序
	LatestTrades(ctx context.Context, symbol string, limit int) ([]*orderdomain.Trade, error)
}
