// Package application 结算协调器：把一次撮合事件封装为原子单元
package application

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	matchingdomain "github.com/wyfcoding/assetexchange/internal/matching/domain"
	orderdomain "github.com/wyfcoding/assetexchange/internal/order/domain"
	settlementdomain "github.com/wyfcoding/assetexchange/internal/settlement/domain"
	walletapp "github.com/wyfcoding/assetexchange/internal/wallet/application"
	walletdomain "github.com/wyfcoding/assetexchange/internal/wallet/domain"
	"github.com/wyfcoding/assetexchange/pkg/idgen"
	"github.com/wyfcoding/assetexchange/pkg/logger"
)

// ErrNotMatchable 订单状态在结算前的重新校验中被判定为不可成交
var ErrNotMatchable = errors.New("orders no longer matchable")

// TradeNotifier 成交通知钩子。在结算提交之后调用一次，
// 通知失败只记录日志，绝不回滚结算。
type TradeNotifier interface {
	NotifyTrade(ctx context.Context, trade *orderdomain.Trade) error
}

// Coordinator 结算协调器。
// 一次结算包含：双方订单扣减与状态推进、四条资金腿（含手续费）、
// 成交记录落库——全部在一个事务内完成，任何一步失败整体回滚。
type Coordinator struct {
	orders     orderdomain.OrderRepository
	trades     orderdomain.TradeRepository
	wallet     *walletapp.Service
	tx         walletdomain.TxManager
	fees       settlementdomain.FeeSchedule
	feeUserID  string
	notifier   TradeNotifier
	maxRetries int
}

// NewCoordinator 创建结算协调器
func NewCoordinator(
	orders orderdomain.OrderRepository,
	trades orderdomain.TradeRepository,
	wallet *walletapp.Service,
	tx walletdomain.TxManager,
	fees settlementdomain.FeeSchedule,
	feeUserID string,
	notifier TradeNotifier,
	maxRetries int,
) *Coordinator {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Coordinator{
		orders:     orders,
		trades:     trades,
		wallet:     wallet,
		tx:         tx,
		fees:       fees,
		feeUserID:  feeUserID,
		notifier:   notifier,
		maxRetries: maxRetries,
	}
}

// Settle 结算一笔撮合：taker 吃掉 maker 的 fillQty。
// 传入的订单实体由交易对的撮合 Worker 独占持有，是该笔撮合的权威状态；
// 结算成功后实体的扣减与状态推进已生效并落库。
// 成交价取 Maker 订单的限价。钱包乐观锁冲突时从头重新校验并重试。
func (c *Coordinator) Settle(ctx context.Context, instrument matchingdomain.Instrument, taker, maker *orderdomain.Order, fillQty decimal.Decimal) (*orderdomain.Trade, error) {
	var trade *orderdomain.Trade
	var err error

	for attempt := 0; attempt < c.maxRetries; attempt++ {
		trade, err = c.settleOnce(ctx, instrument, taker, maker, fillQty)
		if errors.Is(err, orderdomain.ErrConcurrencyConflict) || errors.Is(err, walletdomain.ErrConcurrencyConflict) {
			logger.Warn(ctx, "settlement conflicted, retrying",
				"taker_order_id", taker.OrderID,
				"maker_order_id", maker.OrderID,
				"attempt", attempt+1,
			)
			continue
		}
		break
	}
	if err != nil {
		return nil, err
	}

	// 提交之后才通知，失败不影响已落库的结算
	if c.notifier != nil {
		if notifyErr := c.notifier.NotifyTrade(ctx, trade); notifyErr != nil {
			logger.Error(ctx, "trade notification failed",
				"trade_id", trade.TradeID,
				"error", notifyErr,
			)
		}
	}
	return trade, nil
}

func (c *Coordinator) settleOnce(ctx context.Context, instrument matchingdomain.Instrument, taker, maker *orderdomain.Order, fillQty decimal.Decimal) (*orderdomain.Trade, error) {
	var trade *orderdomain.Trade

	err := c.tx.WithTx(ctx, func(ctx context.Context) error {
		// 1. 结算前重新校验双方订单仍然可成交
		if err := validateMatch(taker, maker, fillQty); err != nil {
			return err
		}

		// 2. 成交价与费用
		price := maker.Price
		quoteValue := fillQty.Mul(price)

		buy, sell := orient(taker, maker)
		feeBuyer := c.fees.FeeFor(buy.Role, fillQty)
		feeSeller := c.fees.FeeFor(sell.Role, quoteValue)

		trade = orderdomain.NewTrade(idgen.TradeID(), buy, sell, fillQty, price, feeBuyer, feeSeller)

		// 3. 资金腿：买方付计价资产收基础资产，卖方反向
		if err := c.wallet.SettleLeg(ctx, walletapp.SettleLegInput{
			PayerUserID:    buy.UserID,
			ReceiverUserID: sell.UserID,
			Asset:          instrument.Quote,
			Amount:         quoteValue,
			Fee:            feeSeller,
			FeeUserID:      c.feeUserID,
			ReferenceID:    trade.TradeID,
		}); err != nil {
			return err
		}
		if err := c.wallet.SettleLeg(ctx, walletapp.SettleLegInput{
			PayerUserID:    sell.UserID,
			ReceiverUserID: buy.UserID,
			Asset:          instrument.Base,
			Amount:         fillQty,
			Fee:            feeBuyer,
			FeeUserID:      c.feeUserID,
			ReferenceID:    trade.TradeID,
		}); err != nil {
			return err
		}

		// 4. 买方按自己的限价预留，成交价更优时释放差额
		if buy.Price.GreaterThan(price) {
			excess := fillQty.Mul(buy.Price.Sub(price))
			if excess.IsPositive() {
				if err := c.wallet.Release(ctx, buy.UserID, instrument.Quote, excess, trade.TradeID); err != nil {
					return err
				}
			}
		}

		// 5. 订单扣减与状态推进。事务回滚时必须同时还原实体，
		// 保证调用方持有的内存状态与数据库一致。
		takerPrev, makerPrev := snapshot(taker), snapshot(maker)
		restore := func() {
			takerPrev.apply(taker)
			makerPrev.apply(maker)
		}

		if err := taker.Fill(fillQty); err != nil {
			restore()
			return err
		}
		if err := maker.Fill(fillQty); err != nil {
			restore()
			return err
		}
		if err := c.orders.Save(ctx, taker); err != nil {
			restore()
			return err
		}
		if err := c.orders.Save(ctx, maker); err != nil {
			restore()
			return err
		}

		// 6. 成交落库
		if err := c.trades.Save(ctx, trade); err != nil {
			restore()
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return trade, nil
}

func validateMatch(taker, maker *orderdomain.Order, fillQty decimal.Decimal) error {
	if !fillQty.IsPositive() {
		return fmt.Errorf("%w: fill quantity %s", ErrNotMatchable, fillQty)
	}
	if !taker.IsMatchable() || !maker.IsMatchable() {
		return ErrNotMatchable
	}
	if fillQty.GreaterThan(taker.RemainingAmount) || fillQty.GreaterThan(maker.RemainingAmount) {
		return fmt.Errorf("%w: fill quantity exceeds remaining", ErrNotMatchable)
	}

	buy, sell := orient(taker, maker)
	if buy.Side != orderdomain.OrderSideBuy || sell.Side != orderdomain.OrderSideSell {
		return fmt.Errorf("%w: same-side orders", ErrNotMatchable)
	}
	if buy.Price.LessThan(sell.Price) {
		return fmt.Errorf("%w: prices do not cross", ErrNotMatchable)
	}
	return nil
}

// orient 按买卖方向区分双方订单
func orient(a, b *orderdomain.Order) (buy, sell *orderdomain.Order) {
	if a.Side == orderdomain.OrderSideBuy {
		return a, b
	}
	return b, a
}

// orderState 订单可变字段的快照，用于事务回滚时还原内存实体
type orderState struct {
	remaining decimal.Decimal
	status    orderdomain.OrderStatus
	version   int64
}

func snapshot(o *orderdomain.Order) orderState {
	return orderState{remaining: o.RemainingAmount, status: o.Status, version: o.Version}
}

func (s orderState) apply(o *orderdomain.Order) {
	o.RemainingAmount = s.remaining
	o.Status = s.status
	o.Version = s.version
}
