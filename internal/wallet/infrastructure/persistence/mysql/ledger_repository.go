package mysql

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/wyfcoding/assetexchange/internal/wallet/domain"
	"github.com/wyfcoding/assetexchange/pkg/contextx"
)

// LedgerRepository 基于 GORM 的流水仓储，只追加不修改
type LedgerRepository struct {
	db *gorm.DB
}

// NewLedgerRepository 创建流水仓储
func NewLedgerRepository(db *gorm.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

func (r *LedgerRepository) getDB(ctx context.Context) *gorm.DB {
	if tx, ok := contextx.GetTx(ctx).(*gorm.DB); ok && tx != nil {
		return tx
	}
	return r.db.WithContext(ctx)
}

// Save 追加一条流水
func (r *LedgerRepository) Save(ctx context.Context, entry *domain.LedgerEntry) error {
	if err := r.getDB(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("failed to create ledger entry: %w", err)
	}
	return nil
}

// ListByWallet 按创建顺序获取钱包流水
func (r *LedgerRepository) ListByWallet(ctx context.Context, walletID string, limit, offset int) ([]*domain.LedgerEntry, error) {
	var entries []*domain.LedgerEntry
	err := r.getDB(ctx).
		Where("wallet_id = ?", walletID).
		Order("id ASC").
		Limit(limit).
		Offset(offset).
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger entries: %w", err)
	}
	return entries, nil
}
