package memory

import (
	"context"
	"sync"

	"github.com/wyfcoding/assetexchange/internal/wallet/domain"
)

// LedgerRepository 内存流水仓储，只追加
type LedgerRepository struct {
	mu      sync.RWMutex
	entries []*domain.LedgerEntry
	nextID  uint
}

// NewLedgerRepository 创建内存流水仓储
func NewLedgerRepository() *LedgerRepository {
	return &LedgerRepository{}
}

// Save 追加一条流水
func (r *LedgerRepository) Save(_ context.Context, entry *domain.LedgerEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	entry.ID = r.nextID
	clone := *entry
	r.entries = append(r.entries, &clone)
	return nil
}

// ListByWallet 按创建顺序获取钱包流水
func (r *LedgerRepository) ListByWallet(_ context.Context, walletID string, limit, offset int) ([]*domain.LedgerEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var entries []*domain.LedgerEntry
	for _, e := range r.entries {
		if e.WalletID == walletID {
			clone := *e
			entries = append(entries, &clone)
		}
	}
	if offset >= len(entries) {
		return nil, nil
	}
	entries = entries[offset:]
	if limit > 0 && limit < len(entries) {
		entries = entries[:limit]
	}
	return entries, nil
}
