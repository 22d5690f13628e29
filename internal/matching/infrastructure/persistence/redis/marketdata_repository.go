// Package redis 撮合上下文的行情缓存实现
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/wyfcoding/assetexchange/internal/matching/domain"
	orderdomain "github.com/wyfcoding/assetexchange/internal/order/domain"
	"github.com/wyfcoding/assetexchange/pkg/cache"
)

const (
	snapshotKeyPrefix = "marketdata:book:"
	tradesKeyPrefix   = "marketdata:trades:"
	snapshotTTL       = 24 * time.Hour
	maxCachedTrades   = 200
)

// MarketDataRepository 基于 Redis 的行情仓储：订单簿快照与最新成交
type MarketDataRepository struct {
	cache *cache.RedisCache
}

// NewMarketDataRepository 创建行情仓储
func NewMarketDataRepository(c *cache.RedisCache) *MarketDataRepository {
	return &MarketDataRepository{cache: c}
}

// SaveSnapshot 保存订单簿深度快照
func (r *MarketDataRepository) SaveSnapshot(ctx context.Context, snapshot *domain.Snapshot) error {
	return r.cache.SetJSON(ctx, snapshotKeyPrefix+snapshot.Symbol, snapshot, snapshotTTL)
}

// GetSnapshot 获取最新的订单簿深度快照，不存在时返回 nil
func (r *MarketDataRepository) GetSnapshot(ctx context.Context, symbol string) (*domain.Snapshot, error) {
	val, err := r.cache.Get(ctx, snapshotKeyPrefix+symbol)
	if err != nil {
		return nil, err
	}
	if val == "" {
		return nil, nil
	}
	var snapshot domain.Snapshot
	if err := json.Unmarshal([]byte(val), &snapshot); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return &snapshot, nil
}

// PushTrade 追加一笔最新成交并裁剪到固定长度
func (r *MarketDataRepository) PushTrade(ctx context.Context, trade *orderdomain.Trade) error {
	data, err := json.Marshal(trade)
	if err != nil {
		return fmt.Errorf("failed to marshal trade: %w", err)
	}

	key := tradesKeyPrefix + trade.Symbol
	pipe := r.cache.Client().TxPipeline()
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, maxCachedTrades-1)
	pipe.Expire(ctx, key, snapshotTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to push trade: %w", err)
	}
	return nil
}

// LatestTrades 获取交易对最新成交，按时间倒序
func (r *MarketDataRepository) LatestTrades(ctx context.Context, symbol string, limit int) ([]*orderdomain.Trade, error) {
	if limit <= 0 || limit > maxCachedTrades {
		limit = maxCachedTrades
	}

	values, err := r.cache.Client().LRange(ctx, tradesKeyPrefix+symbol, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read latest trades: %w", err)
	}

	trades := make([]*orderdomain.Trade, 0, len(values))
	for _, v := range values {
		var trade orderdomain.Trade
		if err := json.Unmarshal([]byte(v), &trade); err != nil {
			return nil, fmt.Errorf("failed to unmarshal trade: %w", err)
		}
		trades = append(trades, &trade)
	}
	return trades, nil
}
