// Package mysql 钱包上下文的 MySQL 持久化实现
package mysql

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/wyfcoding/assetexchange/internal/wallet/domain"
	"github.com/wyfcoding/assetexchange/pkg/contextx"
)

// WalletRepository 基于 GORM 的钱包仓储
type WalletRepository struct {
	db *gorm.DB
}

// NewWalletRepository 创建钱包仓储
func NewWalletRepository(db *gorm.DB) *WalletRepository {
	return &WalletRepository{db: db}
}

func (r *WalletRepository) getDB(ctx context.Context) *gorm.DB {
	if tx, ok := contextx.GetTx(ctx).(*gorm.DB); ok && tx != nil {
		return tx
	}
	return r.db.WithContext(ctx)
}

// Save 保存钱包。已存在的钱包按乐观锁更新，版本不匹配时返回 ErrConcurrencyConflict。
func (r *WalletRepository) Save(ctx context.Context, wallet *domain.Wallet) error {
	db := r.getDB(ctx)

	if wallet.ID == 0 {
		if err := db.Create(wallet).Error; err != nil {
			return fmt.Errorf("failed to create wallet: %w", err)
		}
		return nil
	}

	currentVersion := wallet.Version
	result := db.Model(&domain.Wallet{}).
		Where("wallet_id = ? AND version = ?", wallet.WalletID, currentVersion).
		Updates(map[string]any{
			"available": wallet.Available,
			"locked":    wallet.Locked,
			"version":   currentVersion + 1,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update wallet: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return domain.ErrConcurrencyConflict
	}
	wallet.Version = currentVersion + 1
	return nil
}

// Get 获取指定用户和资产的钱包，不存在时返回 nil
func (r *WalletRepository) Get(ctx context.Context, userID, asset string) (*domain.Wallet, error) {
	var wallet domain.Wallet
	err := r.getDB(ctx).Where("user_id = ? AND asset = ?", userID, asset).First(&wallet).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get wallet: %w", err)
	}
	return &wallet, nil
}

// ListByUser 获取用户的所有钱包
func (r *WalletRepository) ListByUser(ctx context.Context, userID string) ([]*domain.Wallet, error) {
	var wallets []*domain.Wallet
	err := r.getDB(ctx).Where("user_id = ?", userID).Order("asset ASC").Find(&wallets).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list wallets: %w", err)
	}
	return wallets, nil
}

// ListByAsset 获取某资产的全部钱包
func (r *WalletRepository) ListByAsset(ctx context.Context, asset string) ([]*domain.Wallet, error) {
	var wallets []*domain.Wallet
	err := r.getDB(ctx).Where("asset = ?", asset).Find(&wallets).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list wallets by asset: %w", err)
	}
	return wallets, nil
}
