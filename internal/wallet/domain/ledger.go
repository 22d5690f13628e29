package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// EntryType 账本流水类型
type EntryType string

const (
	EntryTypeDeposit    EntryType = "DEPOSIT"
	EntryTypeWithdraw   EntryType = "WITHDRAW"
	EntryTypeLock       EntryType = "LOCK"
	EntryTypeUnlock     EntryType = "UNLOCK"
	EntryTypeTrade      EntryType = "TRADE"
	EntryTypeFee        EntryType = "FEE"
	EntryTypeTransfer   EntryType = "TRANSFER"
	EntryTypeAdjustment EntryType = "ADJUSTMENT"
)

// LedgerEntry 账本流水，只增不改。
// BalanceBefore/BalanceAfter 记录总余额（可用+锁定）的前后快照，
// 按创建顺序重放某个钱包的全部流水必然还原出当前余额。
type LedgerEntry struct {
	gorm.Model
	// 流水 ID (业务主键)
	EntryID string `gorm:"column:entry_id;type:varchar(32);uniqueIndex;not null" json:"entry_id"`
	// 钱包 ID
	WalletID string `gorm:"column:wallet_id;type:varchar(32);index;not null" json:"wallet_id"`
	// 流水类型
	Type EntryType `gorm:"column:type;type:varchar(20);not null" json:"type"`
	// 操作金额（恒为正，方向由 Type 表达；LOCK/UNLOCK 对总余额无净影响）
	Amount decimal.Decimal `gorm:"column:amount;type:decimal(32,18);not null" json:"amount"`
	// 变更前总余额
	BalanceBefore decimal.Decimal `gorm:"column:balance_before;type:decimal(32,18);not null" json:"balance_before"`
	// 变更后总余额
	BalanceAfter decimal.Decimal `gorm:"column:balance_after;type:decimal(32,18);not null" json:"balance_after"`
	// 关联业务 ID（订单 ID、成交 ID 等）
	ReferenceID string `gorm:"column:reference_id;type:varchar(64);index" json:"reference_id,omitempty"`
	// 对外追踪码
	TrackingCode string `gorm:"column:tracking_code;type:varchar(32);index" json:"tracking_code"`
	// 创建时间（冗余字段，重放排序用）
	RecordedAt time.Time `gorm:"column:recorded_at;not null" json:"recorded_at"`
}

// TableName 指定表名
func (LedgerEntry) TableName() string {
	return "ledger_entries"
}

// NewLedgerEntry 创建流水记录
func NewLedgerEntry(entryID, walletID string, entryType EntryType, amount, before, after decimal.Decimal, referenceID, trackingCode string) *LedgerEntry {
	return &LedgerEntry{
		EntryID:       entryID,
		WalletID:      walletID,
		Type:          entryType,
		Amount:        amount,
		BalanceBefore: before,
		BalanceAfter:  after,
		ReferenceID:   referenceID,
		TrackingCode:  trackingCode,
		RecordedAt:    time.Now(),
	}
}

// LedgerRepository 账本流水仓储接口
type LedgerRepository interface {
	// Save 追加一条流水
	Save(ctx context.Context, entry *LedgerEntry) error
	// ListByWallet 按创建顺序获取钱包流水
	ListByWallet(ctx context.Context, walletID string, limit, offset int) ([]*LedgerEntry, error)
}
