// Package domain 包含钱包账本上下文的领域模型
package domain

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var (
	// ErrInsufficientFunds 可用余额不足，业务拒绝，不重试
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrInsufficientLocked 锁定余额不足
	ErrInsufficientLocked = errors.New("insufficient locked balance")
	// ErrWalletNotFound 钱包不存在
	ErrWalletNotFound = errors.New("wallet not found")
	// ErrConcurrencyConflict 乐观锁冲突，可在重新校验后重试
	ErrConcurrencyConflict = errors.New("wallet concurrency conflict")
	// ErrInvalidAmount 金额必须为正数
	ErrInvalidAmount = errors.New("amount must be positive")
)

// Wallet 钱包实体，每个 (用户, 资产) 一条记录。
// Available 与 Locked 只能通过账本流水变更，任何时刻都不为负。
type Wallet struct {
	gorm.Model
	// 钱包 ID (业务主键)
	WalletID string `gorm:"column:wallet_id;type:varchar(32);uniqueIndex;not null" json:"wallet_id"`
	// 用户 ID
	UserID string `gorm:"column:user_id;type:varchar(32);uniqueIndex:idx_user_asset;not null" json:"user_id"`
	// 资产符号（统一大写，如 XAU, USDT）
	Asset string `gorm:"column:asset;type:varchar(20);uniqueIndex:idx_user_asset;not null" json:"asset"`
	// 可用余额
	Available decimal.Decimal `gorm:"column:available;type:decimal(32,18);default:0;not null" json:"available"`
	// 锁定余额（挂单预留，未释放或结算前不可再次预留）
	Locked decimal.Decimal `gorm:"column:locked;type:decimal(32,18);default:0;not null" json:"locked"`
	// 乐观锁版本号
	Version int64 `gorm:"column:version;not null;default:0" json:"-"`
}

// TableName 指定表名
func (Wallet) TableName() string {
	return "wallets"
}

// NewWallet 创建空钱包（首次入账时惰性创建）
func NewWallet(walletID, userID, asset string) *Wallet {
	return &Wallet{
		WalletID:  walletID,
		UserID:    userID,
		Asset:     asset,
		Available: decimal.Zero,
		Locked:    decimal.Zero,
	}
}

// Total 总余额 = 可用 + 锁定
func (w *Wallet) Total() decimal.Decimal {
	return w.Available.Add(w.Locked)
}

// Credit 增加可用余额
func (w *Wallet) Credit(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	w.Available = w.Available.Add(amount)
	return nil
}

// Debit 扣减可用余额，余额不足时返回 ErrInsufficientFunds
func (w *Wallet) Debit(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	if w.Available.LessThan(amount) {
		return ErrInsufficientFunds
	}
	w.Available = w.Available.Sub(amount)
	return nil
}

// Reserve 将可用余额转入锁定余额
func (w *Wallet) Reserve(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	if w.Available.LessThan(amount) {
		return ErrInsufficientFunds
	}
	w.Available = w.Available.Sub(amount)
	w.Locked = w.Locked.Add(amount)
	return nil
}

// Release 将锁定余额转回可用余额（撤单或超额预留清理）
func (w *Wallet) Release(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	if w.Locked.LessThan(amount) {
		return ErrInsufficientLocked
	}
	w.Locked = w.Locked.Sub(amount)
	w.Available = w.Available.Add(amount)
	return nil
}

// ConsumeLocked 消耗锁定余额（结算时付款方扣减）
func (w *Wallet) ConsumeLocked(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	if w.Locked.LessThan(amount) {
		return ErrInsufficientLocked
	}
	w.Locked = w.Locked.Sub(amount)
	return nil
}

// WalletRepository 钱包仓储接口
type WalletRepository interface {
	// Save 保存钱包（带乐观锁，冲突时返回 ErrConcurrencyConflict）
	Save(ctx context.Context, wallet *Wallet) error
	// Get 获取指定用户和资产的钱包，不存在时返回 nil
	Get(ctx context.Context, userID, asset string) (*Wallet, error)
	// ListByUser 获取用户的所有钱包
	ListByUser(ctx context.Context, userID string) ([]*Wallet, error)
	// ListByAsset 获取某资产的全部钱包（对账用）
	ListByAsset(ctx context.Context, asset string) ([]*Wallet, error)
}

// TxManager 事务边界：fn 内的所有仓储操作要么全部提交，要么全部回滚。
// 事务对象通过 context 传递给仓储实现。
type TxManager interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}
