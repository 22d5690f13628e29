package application

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	matchingdomain "github.com/wyfcoding/assetexchange/internal/matching/domain"
	orderdomain "github.com/wyfcoding/assetexchange/internal/order/domain"
	ordermemory "github.com/wyfcoding/assetexchange/internal/order/infrastructure/persistence/memory"
	settlementdomain "github.com/wyfcoding/assetexchange/internal/settlement/domain"
	walletapp "github.com/wyfcoding/assetexchange/internal/wallet/application"
	walletmemory "github.com/wyfcoding/assetexchange/internal/wallet/infrastructure/persistence/memory"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type settleFixture struct {
	coordinator *Coordinator
	orders      *ordermemory.OrderRepository
	trades      orderdomain.TradeRepository
	wallet      *walletapp.Service
	instrument  matchingdomain.Instrument
	notifier    *recordingNotifier
}

type recordingNotifier struct {
	trades []*orderdomain.Trade
	err    error
}

func (n *recordingNotifier) NotifyTrade(_ context.Context, trade *orderdomain.Trade) error {
	n.trades = append(n.trades, trade)
	return n.err
}

type failingTradeRepo struct {
	*ordermemory.TradeRepository
}

func (r *failingTradeRepo) Save(context.Context, *orderdomain.Trade) error {
	return errors.New("trade store unavailable")
}

func newSettleFixture(t *testing.T, trades orderdomain.TradeRepository) *settleFixture {
	t.Helper()

	orders := ordermemory.NewOrderRepository()
	if trades == nil {
		trades = ordermemory.NewTradeRepository()
	}
	tx := walletmemory.NewTxManager()
	wallet := walletapp.NewService(walletmemory.NewWalletRepository(), walletmemory.NewLedgerRepository(), tx, 3)

	fees, err := settlementdomain.NewFeeSchedule("0", "0.001")
	require.NoError(t, err)

	instrument, err := matchingdomain.ParseInstrument("XAU/USDT")
	require.NoError(t, err)

	notifier := &recordingNotifier{}
	return &settleFixture{
		coordinator: NewCoordinator(orders, trades, wallet, tx, fees, "system-fee", notifier, 3),
		orders:      orders,
		trades:      trades,
		wallet:      wallet,
		instrument:  instrument,
		notifier:    notifier,
	}
}

// fund 充值并按订单要求预留资金
func (f *settleFixture) fund(t *testing.T, order *orderdomain.Order) {
	t.Helper()
	ctx := context.Background()
	if order.Side == orderdomain.OrderSideBuy {
		amount := order.RemainingQuote()
		require.NoError(t, f.wallet.Deposit(ctx, order.UserID, f.instrument.Quote, amount, "dep"))
		require.NoError(t, f.wallet.Reserve(ctx, order.UserID, f.instrument.Quote, amount, order.OrderID))
	} else {
		require.NoError(t, f.wallet.Deposit(ctx, order.UserID, f.instrument.Base, order.RemainingAmount, "dep"))
		require.NoError(t, f.wallet.Reserve(ctx, order.UserID, f.instrument.Base, order.RemainingAmount, order.OrderID))
	}
}

func (f *settleFixture) makeOrders(t *testing.T, takerSide orderdomain.OrderSide, takerPrice, makerPrice, qty string) (*orderdomain.Order, *orderdomain.Order) {
	t.Helper()
	ctx := context.Background()

	makerSide := orderdomain.OrderSideSell
	if takerSide == orderdomain.OrderSideSell {
		makerSide = orderdomain.OrderSideBuy
	}

	maker := orderdomain.NewOrder("ORD-M", "maker-user", f.instrument.Symbol, makerSide, d(makerPrice), d(qty), "")
	require.NoError(t, maker.Confirm())
	maker.Rest()
	require.NoError(t, f.orders.Save(ctx, maker))
	f.fund(t, maker)

	taker := orderdomain.NewOrder("ORD-T", "taker-user", f.instrument.Symbol, takerSide, d(takerPrice), d(qty), "")
	require.NoError(t, taker.Confirm())
	require.NoError(t, f.orders.Save(ctx, taker))
	f.fund(t, taker)

	return taker, maker
}

func TestCoordinator_Settle_FullFill(t *testing.T) {
	ctx := context.Background()
	f := newSettleFixture(t, nil)
	taker, maker := f.makeOrders(t, orderdomain.OrderSideBuy, "100", "100", "1")

	trade, err := f.coordinator.Settle(ctx, f.instrument, taker, maker, d("1"))
	require.NoError(t, err)
	require.NotNil(t, trade)

	// 成交价取 Maker 限价
	assert.True(t, trade.Price.Equal(d("100")))
	assert.True(t, trade.Quantity.Equal(d("1")))
	assert.True(t, trade.QuoteValue.Equal(d("100")))
	assert.Equal(t, "taker-user", trade.BuyerUserID)
	assert.Equal(t, "maker-user", trade.SellerUserID)

	// 买方是 Taker，对收到的基础资产收 taker 费率
	assert.True(t, trade.FeeBuyer.Equal(d("0.001")))
	// 卖方是 Maker，费率为零
	assert.True(t, trade.FeeSeller.IsZero())

	// 双方订单完结
	assert.Equal(t, orderdomain.OrderStatusCompleted, taker.Status)
	assert.Equal(t, orderdomain.OrderStatusCompleted, maker.Status)
	assert.True(t, taker.RemainingAmount.IsZero())

	// 资金结清：买方拿到扣费后的基础资产，卖方拿到全额计价资产
	buyerBase, err := f.wallet.GetBalance(ctx, "taker-user", "XAU")
	require.NoError(t, err)
	assert.True(t, buyerBase.Available.Equal(d("0.999")))

	buyerQuote, err := f.wallet.GetBalance(ctx, "taker-user", "USDT")
	require.NoError(t, err)
	assert.True(t, buyerQuote.Total().IsZero())

	sellerQuote, err := f.wallet.GetBalance(ctx, "maker-user", "USDT")
	require.NoError(t, err)
	assert.True(t, sellerQuote.Available.Equal(d("100")))

	sellerBase, err := f.wallet.GetBalance(ctx, "maker-user", "XAU")
	require.NoError(t, err)
	assert.True(t, sellerBase.Total().IsZero())

	feeWallet, err := f.wallet.GetBalance(ctx, "system-fee", "XAU")
	require.NoError(t, err)
	assert.True(t, feeWallet.Available.Equal(d("0.001")))

	// 成交落库且已通知
	saved, err := f.trades.Get(ctx, trade.TradeID)
	require.NoError(t, err)
	require.NotNil(t, saved)
	require.Len(t, f.notifier.trades, 1)
}

func TestCoordinator_Settle_PriceImprovement(t *testing.T) {
	ctx := context.Background()
	f := newSettleFixture(t, nil)
	// 买方限价 105，实际按 Maker 的 100 成交，差额预留退回
	taker, maker := f.makeOrders(t, orderdomain.OrderSideBuy, "105", "100", "1")

	trade, err := f.coordinator.Settle(ctx, f.instrument, taker, maker, d("1"))
	require.NoError(t, err)
	assert.True(t, trade.Price.Equal(d("100")))

	buyerQuote, err := f.wallet.GetBalance(ctx, "taker-user", "USDT")
	require.NoError(t, err)
	assert.True(t, buyerQuote.Available.Equal(d("5")))
	assert.True(t, buyerQuote.Locked.IsZero())
}

func TestCoordinator_Settle_NotMatchable(t *testing.T) {
	ctx := context.Background()
	f := newSettleFixture(t, nil)
	taker, maker := f.makeOrders(t, orderdomain.OrderSideBuy, "100", "100", "1")

	t.Run("cancelled maker", func(t *testing.T) {
		require.NoError(t, maker.Cancel())
		_, err := f.coordinator.Settle(ctx, f.instrument, taker, maker, d("1"))
		assert.ErrorIs(t, err, ErrNotMatchable)
		// 双方在内存中的状态未被触碰
		assert.True(t, taker.RemainingAmount.Equal(d("1")))
		assert.Equal(t, orderdomain.OrderStatusConfirmed, taker.Status)
	})

	t.Run("fill exceeds remaining", func(t *testing.T) {
		f := newSettleFixture(t, nil)
		taker, maker := f.makeOrders(t, orderdomain.OrderSideBuy, "100", "100", "1")
		_, err := f.coordinator.Settle(ctx, f.instrument, taker, maker, d("2"))
		assert.ErrorIs(t, err, ErrNotMatchable)
	})

	t.Run("prices do not cross", func(t *testing.T) {
		f := newSettleFixture(t, nil)
		taker, maker := f.makeOrders(t, orderdomain.OrderSideBuy, "99", "100", "1")
		_, err := f.coordinator.Settle(ctx, f.instrument, taker, maker, d("1"))
		assert.ErrorIs(t, err, ErrNotMatchable)
	})
}

func TestCoordinator_Settle_RestoresOrdersOnFailure(t *testing.T) {
	ctx := context.Background()
	f := newSettleFixture(t, &failingTradeRepo{ordermemory.NewTradeRepository()})
	taker, maker := f.makeOrders(t, orderdomain.OrderSideBuy, "100", "100", "1")

	takerVersion, makerVersion := taker.Version, maker.Version
	_, err := f.coordinator.Settle(ctx, f.instrument, taker, maker, d("1"))
	require.Error(t, err)

	// 事务失败后内存实体还原，Worker 手里的状态不会与数据库漂移
	assert.True(t, taker.RemainingAmount.Equal(d("1")))
	assert.Equal(t, orderdomain.OrderStatusConfirmed, taker.Status)
	assert.Equal(t, takerVersion, taker.Version)
	assert.True(t, maker.RemainingAmount.Equal(d("1")))
	assert.Equal(t, makerVersion, maker.Version)
	assert.Empty(t, f.notifier.trades)
}

func TestCoordinator_Settle_NotifierFailureDoesNotFailSettlement(t *testing.T) {
	ctx := context.Background()
	f := newSettleFixture(t, nil)
	f.notifier.err = errors.New("broker down")
	taker, maker := f.makeOrders(t, orderdomain.OrderSideBuy, "100", "100", "1")

	trade, err := f.coordinator.Settle(ctx, f.instrument, taker, maker, d("1"))
	require.NoError(t, err)
	require.NotNil(t, trade)
	assert.Equal(t, orderdomain.OrderStatusCompleted, taker.Status)
}
