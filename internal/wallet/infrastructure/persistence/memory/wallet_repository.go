// Package memory 钱包上下文的内存持久化实现，测试与本地联调使用
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/wyfcoding/assetexchange/internal/wallet/domain"
)

// WalletRepository 内存钱包仓储，语义对齐 MySQL 实现（含乐观锁）
type WalletRepository struct {
	mu      sync.RWMutex
	wallets map[string]*domain.Wallet // key: userID/asset
	nextID  uint
}

// NewWalletRepository 创建内存钱包仓储
func NewWalletRepository() *WalletRepository {
	return &WalletRepository{wallets: make(map[string]*domain.Wallet)}
}

func walletKey(userID, asset string) string {
	return userID + "/" + asset
}

// Save 保存钱包，版本不匹配时返回 ErrConcurrencyConflict
func (r *WalletRepository) Save(_ context.Context, wallet *domain.Wallet) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := walletKey(wallet.UserID, wallet.Asset)
	stored, exists := r.wallets[key]

	if wallet.ID == 0 {
		r.nextID++
		wallet.ID = r.nextID
		clone := *wallet
		r.wallets[key] = &clone
		return nil
	}

	if !exists || stored.Version != wallet.Version {
		return domain.ErrConcurrencyConflict
	}
	wallet.Version++
	clone := *wallet
	r.wallets[key] = &clone
	return nil
}

// Get 获取钱包，不存在时返回 nil
func (r *WalletRepository) Get(_ context.Context, userID, asset string) (*domain.Wallet, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stored, ok := r.wallets[walletKey(userID, asset)]
	if !ok {
		return nil, nil
	}
	clone := *stored
	return &clone, nil
}

// ListByUser 获取用户的所有钱包，按资产排序
func (r *WalletRepository) ListByUser(_ context.Context, userID string) ([]*domain.Wallet, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var wallets []*domain.Wallet
	for _, w := range r.wallets {
		if w.UserID == userID {
			clone := *w
			wallets = append(wallets, &clone)
		}
	}
	sort.Slice(wallets, func(i, j int) bool { return wallets[i].Asset < wallets[j].Asset })
	return wallets, nil
}

// ListByAsset 获取某资产的全部钱包
func (r *WalletRepository) ListByAsset(_ context.Context, asset string) ([]*domain.Wallet, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var wallets []*domain.Wallet
	for _, w := range r.wallets {
		if w.Asset == asset {
			clone := *w
			wallets = append(wallets, &clone)
		}
	}
	sort.Slice(wallets, func(i, j int) bool { return wallets[i].UserID < wallets[j].UserID })
	return wallets, nil
}
