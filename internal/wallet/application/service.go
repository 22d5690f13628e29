// Package application 钱包账本的应用层服务
package application

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/wyfcoding/assetexchange/internal/wallet/domain"
	"github.com/wyfcoding/assetexchange/pkg/idgen"
	"github.com/wyfcoding/assetexchange/pkg/logger"
)

// Service 钱包账本服务。
// 所有变更操作在事务内执行：余额变更与账本流水要么一起提交，要么一起回滚。
type Service struct {
	wallets    domain.WalletRepository
	ledger     domain.LedgerRepository
	tx         domain.TxManager
	maxRetries int
}

// NewService 创建钱包账本服务
func NewService(wallets domain.WalletRepository, ledger domain.LedgerRepository, tx domain.TxManager, maxRetries int) *Service {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Service{
		wallets:    wallets,
		ledger:     ledger,
		tx:         tx,
		maxRetries: maxRetries,
	}
}

// Deposit 充值：增加可用余额并写入 DEPOSIT 流水。
// 钱包在首次入账时惰性创建。
func (s *Service) Deposit(ctx context.Context, userID, asset string, amount decimal.Decimal, referenceID string) error {
	return s.withConflictRetry(ctx, func(ctx context.Context) error {
		wallet, err := s.getOrCreate(ctx, userID, asset)
		if err != nil {
			return err
		}

		before := wallet.Total()
		if err := wallet.Credit(amount); err != nil {
			return err
		}
		if err := s.wallets.Save(ctx, wallet); err != nil {
			return err
		}
		return s.appendEntry(ctx, wallet, domain.EntryTypeDeposit, amount, before, referenceID)
	})
}

// Withdraw 提现：扣减可用余额并写入 WITHDRAW 流水。
// 可用余额不足时返回 ErrInsufficientFunds。
func (s *Service) Withdraw(ctx context.Context, userID, asset string, amount decimal.Decimal, referenceID string) error {
	return s.withConflictRetry(ctx, func(ctx context.Context) error {
		wallet, err := s.getForDebit(ctx, userID, asset)
		if err != nil {
			return err
		}

		before := wallet.Total()
		if err := wallet.Debit(amount); err != nil {
			return err
		}
		if err := s.wallets.Save(ctx, wallet); err != nil {
			return err
		}
		return s.appendEntry(ctx, wallet, domain.EntryTypeWithdraw, amount, before, referenceID)
	})
}

// Reserve 预留：把可用余额转入锁定余额并写入 LOCK 流水。
// 买单预留计价资产，卖单预留基础资产。
func (s *Service) Reserve(ctx context.Context, userID, asset string, amount decimal.Decimal, referenceID string) error {
	return s.withConflictRetry(ctx, func(ctx context.Context) error {
		wallet, err := s.getForDebit(ctx, userID, asset)
		if err != nil {
			return err
		}

		before := wallet.Total()
		if err := wallet.Reserve(amount); err != nil {
			return err
		}
		if err := s.wallets.Save(ctx, wallet); err != nil {
			return err
		}
		return s.appendEntry(ctx, wallet, domain.EntryTypeLock, amount, before, referenceID)
	})
}

// Release 释放：把锁定余额转回可用余额并写入 UNLOCK 流水。
// 用于撤单和超额预留清理，锁定不足时返回 ErrInsufficientLocked。
func (s *Service) Release(ctx context.Context, userID, asset string, amount decimal.Decimal, referenceID string) error {
	return s.withConflictRetry(ctx, func(ctx context.Context) error {
		wallet, err := s.getForDebit(ctx, userID, asset)
		if err != nil {
			return err
		}

		before := wallet.Total()
		if err := wallet.Release(amount); err != nil {
			return err
		}
		if err := s.wallets.Save(ctx, wallet); err != nil {
			return err
		}
		return s.appendEntry(ctx, wallet, domain.EntryTypeUnlock, amount, before, referenceID)
	})
}

// SettleLegInput 结算腿：payer 的锁定余额被消耗，receiver 的可用余额增加。
// Fee 从 receiver 的入账中扣除并转入手续费账户。
type SettleLegInput struct {
	PayerUserID    string
	ReceiverUserID string
	Asset          string
	Amount         decimal.Decimal
	Fee            decimal.Decimal
	FeeUserID      string
	ReferenceID    string
}

// SettleLeg 执行一条结算腿，写入双方的 TRADE 流水，手续费另记 FEE 流水。
// 必须在调用方的事务内执行（结算协调器负责整体原子性），因此不做冲突重试。
func (s *Service) SettleLeg(ctx context.Context, leg SettleLegInput) error {
	if !leg.Amount.IsPositive() {
		return domain.ErrInvalidAmount
	}
	if leg.Fee.IsNegative() || leg.Fee.GreaterThanOrEqual(leg.Amount) {
		return fmt.Errorf("settle leg fee out of range: %s of %s", leg.Fee, leg.Amount)
	}

	// 付款方：消耗锁定余额
	payer, err := s.getForDebit(ctx, leg.PayerUserID, leg.Asset)
	if err != nil {
		return err
	}
	payerBefore := payer.Total()
	if err := payer.ConsumeLocked(leg.Amount); err != nil {
		return err
	}
	if err := s.wallets.Save(ctx, payer); err != nil {
		return err
	}
	if err := s.appendEntry(ctx, payer, domain.EntryTypeTrade, leg.Amount, payerBefore, leg.ReferenceID); err != nil {
		return err
	}

	// 收款方：入账全额
	receiver, err := s.getOrCreate(ctx, leg.ReceiverUserID, leg.Asset)
	if err != nil {
		return err
	}
	receiverBefore := receiver.Total()
	if err := receiver.Credit(leg.Amount); err != nil {
		return err
	}
	if err := s.appendEntry(ctx, receiver, domain.EntryTypeTrade, leg.Amount, receiverBefore, leg.ReferenceID); err != nil {
		return err
	}

	// 手续费从入账中扣除
	if leg.Fee.IsPositive() {
		afterCredit := receiver.Total()
		if err := receiver.Debit(leg.Fee); err != nil {
			return err
		}
		if err := s.appendEntry(ctx, receiver, domain.EntryTypeFee, leg.Fee, afterCredit, leg.ReferenceID); err != nil {
			return err
		}
	}
	if err := s.wallets.Save(ctx, receiver); err != nil {
		return err
	}
	if leg.Fee.IsPositive() {
		// 手续费归集
		feeWallet, err := s.getOrCreate(ctx, leg.FeeUserID, leg.Asset)
		if err != nil {
			return err
		}
		feeBefore := feeWallet.Total()
		if err := feeWallet.Credit(leg.Fee); err != nil {
			return err
		}
		if err := s.wallets.Save(ctx, feeWallet); err != nil {
			return err
		}
		if err := s.appendEntry(ctx, feeWallet, domain.EntryTypeFee, leg.Fee, feeBefore, leg.ReferenceID); err != nil {
			return err
		}
	}

	return nil
}

// GetBalance 查询余额，钱包不存在时返回零余额视图
func (s *Service) GetBalance(ctx context.Context, userID, asset string) (*domain.Wallet, error) {
	wallet, err := s.wallets.Get(ctx, userID, asset)
	if err != nil {
		return nil, err
	}
	if wallet == nil {
		return domain.NewWallet("", userID, asset), nil
	}
	return wallet, nil
}

// GetWallets 查询用户全部钱包
func (s *Service) GetWallets(ctx context.Context, userID string) ([]*domain.Wallet, error) {
	return s.wallets.ListByUser(ctx, userID)
}

// AssetSummary 单个资产在全部钱包中的合计，用于对账：
// 资产守恒时 Available+Locked 应等于累计充值减累计提现。
type AssetSummary struct {
	Asset     string          `json:"asset"`
	Wallets   int             `json:"wallets"`
	Available decimal.Decimal `json:"available"`
	Locked    decimal.Decimal `json:"locked"`
}

// GetAssetSummary 汇总某资产的全部钱包余额
func (s *Service) GetAssetSummary(ctx context.Context, asset string) (*AssetSummary, error) {
	wallets, err := s.wallets.ListByAsset(ctx, asset)
	if err != nil {
		return nil, err
	}

	summary := &AssetSummary{
		Asset:     asset,
		Wallets:   len(wallets),
		Available: decimal.Zero,
		Locked:    decimal.Zero,
	}
	for _, w := range wallets {
		summary.Available = summary.Available.Add(w.Available)
		summary.Locked = summary.Locked.Add(w.Locked)
	}
	return summary, nil
}

// GetLedger 查询钱包流水（按创建顺序）
func (s *Service) GetLedger(ctx context.Context, userID, asset string, limit, offset int) ([]*domain.LedgerEntry, error) {
	wallet, err := s.wallets.Get(ctx, userID, asset)
	if err != nil {
		return nil, err
	}
	if wallet == nil {
		return nil, domain.ErrWalletNotFound
	}
	return s.ledger.ListByWallet(ctx, wallet.WalletID, limit, offset)
}

// withConflictRetry 在事务中执行 fn，乐观锁冲突时重新执行，最多 maxRetries 次
func (s *Service) withConflictRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 0; attempt < s.maxRetries; attempt++ {
		err = s.tx.WithTx(ctx, fn)
		if !errors.Is(err, domain.ErrConcurrencyConflict) {
			return err
		}
		logger.Warn(ctx, "wallet operation conflicted, retrying", "attempt", attempt+1)
	}
	return err
}

func (s *Service) getOrCreate(ctx context.Context, userID, asset string) (*domain.Wallet, error) {
	wallet, err := s.wallets.Get(ctx, userID, asset)
	if err != nil {
		return nil, err
	}
	if wallet == nil {
		wallet = domain.NewWallet(idgen.WalletID(), userID, asset)
	}
	return wallet, nil
}

// getForDebit 扣减类操作不创建钱包：没有钱包等价于零余额
func (s *Service) getForDebit(ctx context.Context, userID, asset string) (*domain.Wallet, error) {
	wallet, err := s.wallets.Get(ctx, userID, asset)
	if err != nil {
		return nil, err
	}
	if wallet == nil {
		return nil, domain.ErrInsufficientFunds
	}
	return wallet, nil
}

func (s *Service) appendEntry(ctx context.Context, wallet *domain.Wallet, entryType domain.EntryType, amount, before decimal.Decimal, referenceID string) error {
	entry := domain.NewLedgerEntry(
		idgen.LedgerEntryID(),
		wallet.WalletID,
		entryType,
		amount,
		before,
		wallet.Total(),
		referenceID,
		idgen.TrackingCode(),
	)
	return s.ledger.Save(ctx, entry)
}
