package application

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	matchingdomain "github.com/wyfcoding/assetexchange/internal/matching/domain"
	matchingmemory "github.com/wyfcoding/assetexchange/internal/matching/infrastructure/persistence/memory"
	orderdomain "github.com/wyfcoding/assetexchange/internal/order/domain"
	ordermemory "github.com/wyfcoding/assetexchange/internal/order/infrastructure/persistence/memory"
	settlementapp "github.com/wyfcoding/assetexchange/internal/settlement/application"
	settlementdomain "github.com/wyfcoding/assetexchange/internal/settlement/domain"
	walletapp "github.com/wyfcoding/assetexchange/internal/wallet/application"
	walletdomain "github.com/wyfcoding/assetexchange/internal/wallet/domain"
	walletmemory "github.com/wyfcoding/assetexchange/internal/wallet/infrastructure/persistence/memory"
	"github.com/wyfcoding/assetexchange/pkg/idgen"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type exchangeFixture struct {
	service *Service
	engine  *Engine
	wallet  *walletapp.Service
	orders  *ordermemory.OrderRepository
	trades  *ordermemory.TradeRepository
}

type fixtureOptions struct {
	tx         walletdomain.TxManager
	marketData matchingdomain.MarketDataRepository
}

func newExchangeFixture(t *testing.T) *exchangeFixture {
	return newExchangeFixtureWith(t, fixtureOptions{})
}

func newExchangeFixtureWith(t *testing.T, opts fixtureOptions) *exchangeFixture {
	t.Helper()

	orders := ordermemory.NewOrderRepository()
	trades := ordermemory.NewTradeRepository()
	tx := opts.tx
	if tx == nil {
		tx = walletmemory.NewTxManager()
	}
	wallet := walletapp.NewService(walletmemory.NewWalletRepository(), walletmemory.NewLedgerRepository(), tx, 3)

	fees, err := settlementdomain.NewFeeSchedule("0", "0.001")
	require.NoError(t, err)
	coordinator := settlementapp.NewCoordinator(orders, trades, wallet, tx, fees, "system-fee", nil, 3)

	instrument, err := matchingdomain.ParseInstrument("XAU/USDT")
	require.NoError(t, err)
	engine := NewEngine(instrument, coordinator, orders, wallet, tx, opts.marketData, nil, 64)

	service := NewService(
		map[string]*Engine{instrument.Symbol: engine},
		orders, trades, wallet, tx, opts.marketData, nil,
	)
	t.Cleanup(service.Stop)

	return &exchangeFixture{service: service, engine: engine, wallet: wallet, orders: orders, trades: trades}
}

func (f *exchangeFixture) deposit(t *testing.T, userID, asset, amount string) {
	t.Helper()
	require.NoError(t, f.wallet.Deposit(context.Background(), userID, asset, d(amount), "dep"))
}

func (f *exchangeFixture) submit(t *testing.T, userID string, side orderdomain.OrderSide, price, amount string) *OrderResult {
	t.Helper()
	result, err := f.service.SubmitOrder(context.Background(), SubmitOrderCommand{
		UserID: userID,
		Symbol: "XAU/USDT",
		Side:   side,
		Price:  d(price),
		Amount: d(amount),
	})
	require.NoError(t, err)
	return result
}

func (f *exchangeFixture) balance(t *testing.T, userID, asset string) *walletdomain.Wallet {
	t.Helper()
	wallet, err := f.wallet.GetBalance(context.Background(), userID, asset)
	require.NoError(t, err)
	return wallet
}

func TestSubmitOrder_RestsWhenNoMatch(t *testing.T) {
	f := newExchangeFixture(t)
	f.deposit(t, "alice", "USDT", "100")

	result := f.submit(t, "alice", orderdomain.OrderSideBuy, "100", "1")
	assert.Empty(t, result.Trades)
	assert.Equal(t, orderdomain.OrderStatusConfirmed, result.Order.Status)
	assert.Equal(t, orderdomain.OrderRoleMaker, result.Order.Role)

	// 资金已锁定
	wallet := f.balance(t, "alice", "USDT")
	assert.True(t, wallet.Available.IsZero())
	assert.True(t, wallet.Locked.Equal(d("100")))

	// 订单出现在订单簿买一档
	snapshot, err := f.service.GetOrderBook(context.Background(), "XAU/USDT", 10)
	require.NoError(t, err)
	require.Len(t, snapshot.Bids, 1)
	assert.True(t, snapshot.Bids[0].Price.Equal(d("100")))
	assert.True(t, snapshot.Bids[0].Quantity.Equal(d("1")))
	assert.Empty(t, snapshot.Asks)
}

func TestSubmitOrder_FullMatch(t *testing.T) {
	f := newExchangeFixture(t)
	f.deposit(t, "alice", "XAU", "1")
	f.deposit(t, "bob", "USDT", "100")

	sell := f.submit(t, "alice", orderdomain.OrderSideSell, "100", "1")
	assert.Empty(t, sell.Trades)

	buy := f.submit(t, "bob", orderdomain.OrderSideBuy, "100", "1")
	require.Len(t, buy.Trades, 1)
	trade := buy.Trades[0]
	assert.True(t, trade.Price.Equal(d("100")))
	assert.True(t, trade.Quantity.Equal(d("1")))

	assert.Equal(t, orderdomain.OrderStatusCompleted, buy.Order.Status)
	makerStored, err := f.orders.Get(context.Background(), sell.Order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, orderdomain.OrderStatusCompleted, makerStored.Status)

	// Bob 是 Taker，收到的基础资产按 taker 费率扣费
	assert.True(t, f.balance(t, "bob", "XAU").Available.Equal(d("0.999")))
	assert.True(t, f.balance(t, "bob", "USDT").Total().IsZero())
	// Alice 是 Maker，拿到全额计价资产
	assert.True(t, f.balance(t, "alice", "USDT").Available.Equal(d("100")))
	assert.True(t, f.balance(t, "alice", "XAU").Total().IsZero())
	assert.True(t, f.balance(t, "system-fee", "XAU").Available.Equal(d("0.001")))

	// 订单簿已清空
	snapshot, err := f.service.GetOrderBook(context.Background(), "XAU/USDT", 10)
	require.NoError(t, err)
	assert.Empty(t, snapshot.Bids)
	assert.Empty(t, snapshot.Asks)
}

func TestSubmitOrder_SellTakerFeeInQuote(t *testing.T) {
	f := newExchangeFixture(t)
	f.deposit(t, "alice", "USDT", "100")
	f.deposit(t, "bob", "XAU", "1")

	f.submit(t, "alice", orderdomain.OrderSideBuy, "100", "1")
	sell := f.submit(t, "bob", orderdomain.OrderSideSell, "100", "1")
	require.Len(t, sell.Trades, 1)

	// Bob 是 Taker 卖方，收到的计价资产按 taker 费率扣费
	assert.True(t, f.balance(t, "bob", "USDT").Available.Equal(d("99.9")))
	assert.True(t, f.balance(t, "alice", "XAU").Available.Equal(d("1")))
	assert.True(t, f.balance(t, "system-fee", "USDT").Available.Equal(d("0.1")))
}

func TestSubmitOrder_PartialMakerFill(t *testing.T) {
	f := newExchangeFixture(t)
	f.deposit(t, "alice", "XAU", "2")
	f.deposit(t, "bob", "USDT", "100")

	sell := f.submit(t, "alice", orderdomain.OrderSideSell, "100", "2")
	buy := f.submit(t, "bob", orderdomain.OrderSideBuy, "100", "1")

	require.Len(t, buy.Trades, 1)
	assert.Equal(t, orderdomain.OrderStatusCompleted, buy.Order.Status)

	// Maker 部分成交，剩余仍在簿内
	makerStored, err := f.orders.Get(context.Background(), sell.Order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, orderdomain.OrderStatusPartiallyFilled, makerStored.Status)
	assert.True(t, makerStored.RemainingAmount.Equal(d("1")))

	snapshot, err := f.service.GetOrderBook(context.Background(), "XAU/USDT", 10)
	require.NoError(t, err)
	require.Len(t, snapshot.Asks, 1)
	assert.True(t, snapshot.Asks[0].Quantity.Equal(d("1")))

	// Alice 的剩余 1 XAU 仍处于锁定
	assert.True(t, f.balance(t, "alice", "XAU").Locked.Equal(d("1")))
}

func TestSubmitOrder_TakerRemainderRests(t *testing.T) {
	f := newExchangeFixture(t)
	f.deposit(t, "alice", "XAU", "1")
	f.deposit(t, "bob", "USDT", "200")

	f.submit(t, "alice", orderdomain.OrderSideSell, "100", "1")
	buy := f.submit(t, "bob", orderdomain.OrderSideBuy, "100", "2")

	require.Len(t, buy.Trades, 1)
	assert.Equal(t, orderdomain.OrderStatusPartiallyFilled, buy.Order.Status)
	assert.Equal(t, orderdomain.OrderRoleMaker, buy.Order.Role)
	assert.True(t, buy.Order.RemainingAmount.Equal(d("1")))

	// 未成交部分进簿，对应资金仍锁定
	snapshot, err := f.service.GetOrderBook(context.Background(), "XAU/USDT", 10)
	require.NoError(t, err)
	require.Len(t, snapshot.Bids, 1)
	assert.True(t, snapshot.Bids[0].Quantity.Equal(d("1")))

	wallet := f.balance(t, "bob", "USDT")
	assert.True(t, wallet.Locked.Equal(d("100")))
	assert.True(t, wallet.Available.IsZero())
}

func TestSubmitOrder_PriceTimePriority(t *testing.T) {
	f := newExchangeFixture(t)
	f.deposit(t, "m1", "XAU", "1")
	f.deposit(t, "m2", "XAU", "1")
	f.deposit(t, "m3", "XAU", "1")
	f.deposit(t, "taker", "USDT", "300")

	f.submit(t, "m1", orderdomain.OrderSideSell, "100", "1")
	f.submit(t, "m2", orderdomain.OrderSideSell, "100", "1")
	f.submit(t, "m3", orderdomain.OrderSideSell, "99", "1")

	buy := f.submit(t, "taker", orderdomain.OrderSideBuy, "100", "3")
	require.Len(t, buy.Trades, 3)

	// 先吃最低卖价，再按进簿顺序吃同价档位
	assert.True(t, buy.Trades[0].Price.Equal(d("99")))
	assert.Equal(t, "m3", buy.Trades[0].SellerUserID)
	assert.Equal(t, "m1", buy.Trades[1].SellerUserID)
	assert.Equal(t, "m2", buy.Trades[2].SellerUserID)

	// 按 99 成交的那笔释放了 1 USDT 的差额预留
	wallet := f.balance(t, "taker", "USDT")
	assert.True(t, wallet.Available.Equal(d("1")))
	assert.True(t, wallet.Locked.IsZero())
	assert.True(t, f.balance(t, "taker", "XAU").Available.Equal(d("2.997")))
}

func TestSubmitOrder_InsufficientFunds(t *testing.T) {
	f := newExchangeFixture(t)
	f.deposit(t, "alice", "USDT", "99")

	_, err := f.service.SubmitOrder(context.Background(), SubmitOrderCommand{
		UserID: "alice",
		Symbol: "XAU/USDT",
		Side:   orderdomain.OrderSideBuy,
		Price:  d("100"),
		Amount: d("1"),
	})
	assert.ErrorIs(t, err, walletdomain.ErrInsufficientFunds)

	// 订单落库为 FAILED，余额不受影响
	orders, listErr := f.orders.ListByUser(context.Background(), "alice", "", 10, 0)
	require.NoError(t, listErr)
	require.Len(t, orders, 1)
	assert.Equal(t, orderdomain.OrderStatusFailed, orders[0].Status)
	assert.True(t, f.balance(t, "alice", "USDT").Available.Equal(d("99")))
}

func TestSubmitOrder_Validation(t *testing.T) {
	f := newExchangeFixture(t)

	t.Run("unknown symbol", func(t *testing.T) {
		_, err := f.service.SubmitOrder(context.Background(), SubmitOrderCommand{
			UserID: "alice", Symbol: "BTC/USDT", Side: orderdomain.OrderSideBuy,
			Price: d("1"), Amount: d("1"),
		})
		assert.ErrorIs(t, err, ErrUnknownSymbol)
	})

	t.Run("malformed symbol", func(t *testing.T) {
		_, err := f.service.SubmitOrder(context.Background(), SubmitOrderCommand{
			UserID: "alice", Symbol: "XAUUSDT", Side: orderdomain.OrderSideBuy,
			Price: d("1"), Amount: d("1"),
		})
		assert.ErrorIs(t, err, matchingdomain.ErrInvalidInstrument)
	})

	t.Run("non-positive price and amount", func(t *testing.T) {
		_, err := f.service.SubmitOrder(context.Background(), SubmitOrderCommand{
			UserID: "alice", Symbol: "XAU/USDT", Side: orderdomain.OrderSideBuy,
			Price: d("0"), Amount: d("1"),
		})
		assert.ErrorIs(t, err, orderdomain.ErrInvalidOrder)

		_, err = f.service.SubmitOrder(context.Background(), SubmitOrderCommand{
			UserID: "alice", Symbol: "XAU/USDT", Side: orderdomain.OrderSideBuy,
			Price: d("1"), Amount: d("-2"),
		})
		assert.ErrorIs(t, err, orderdomain.ErrInvalidOrder)
	})
}

func TestSubmitOrder_ClientOrderIDIdempotency(t *testing.T) {
	f := newExchangeFixture(t)
	f.deposit(t, "alice", "USDT", "100")

	first, err := f.service.SubmitOrder(context.Background(), SubmitOrderCommand{
		UserID: "alice", Symbol: "XAU/USDT", Side: orderdomain.OrderSideBuy,
		Price: d("100"), Amount: d("1"), ClientOrderID: "client-1",
	})
	require.NoError(t, err)

	second, err := f.service.SubmitOrder(context.Background(), SubmitOrderCommand{
		UserID: "alice", Symbol: "XAU/USDT", Side: orderdomain.OrderSideBuy,
		Price: d("100"), Amount: d("1"), ClientOrderID: "client-1",
	})
	require.NoError(t, err)

	// 重复提交返回既有订单，不产生新订单或新的资金锁定
	assert.Equal(t, first.Order.OrderID, second.Order.OrderID)
	orders, err := f.orders.ListByUser(context.Background(), "alice", "", 10, 0)
	require.NoError(t, err)
	assert.Len(t, orders, 1)
	assert.True(t, f.balance(t, "alice", "USDT").Locked.Equal(d("100")))
}

func TestCancelOrder(t *testing.T) {
	f := newExchangeFixture(t)
	f.deposit(t, "alice", "USDT", "100")

	result := f.submit(t, "alice", orderdomain.OrderSideBuy, "100", "1")
	orderID := result.Order.OrderID

	t.Run("not owner", func(t *testing.T) {
		err := f.service.CancelOrder(context.Background(), orderID, "mallory")
		assert.ErrorIs(t, err, orderdomain.ErrNotOwner)
	})

	t.Run("cancel releases reservation", func(t *testing.T) {
		require.NoError(t, f.service.CancelOrder(context.Background(), orderID, "alice"))

		stored, err := f.orders.Get(context.Background(), orderID)
		require.NoError(t, err)
		assert.Equal(t, orderdomain.OrderStatusCancelled, stored.Status)

		wallet := f.balance(t, "alice", "USDT")
		assert.True(t, wallet.Available.Equal(d("100")))
		assert.True(t, wallet.Locked.IsZero())

		snapshot, err := f.service.GetOrderBook(context.Background(), "XAU/USDT", 10)
		require.NoError(t, err)
		assert.Empty(t, snapshot.Bids)
	})

	t.Run("cancel twice", func(t *testing.T) {
		err := f.service.CancelOrder(context.Background(), orderID, "alice")
		assert.ErrorIs(t, err, orderdomain.ErrInvalidState)
	})

	t.Run("unknown order", func(t *testing.T) {
		err := f.service.CancelOrder(context.Background(), "ORD-missing", "alice")
		assert.ErrorIs(t, err, orderdomain.ErrOrderNotFound)
	})
}

func TestCancelOrder_PartiallyFilled(t *testing.T) {
	f := newExchangeFixture(t)
	f.deposit(t, "alice", "XAU", "2")
	f.deposit(t, "bob", "USDT", "100")

	sell := f.submit(t, "alice", orderdomain.OrderSideSell, "100", "2")
	f.submit(t, "bob", orderdomain.OrderSideBuy, "100", "1")

	// 撤销部分成交的订单只释放剩余预留
	require.NoError(t, f.service.CancelOrder(context.Background(), sell.Order.OrderID, "alice"))

	wallet := f.balance(t, "alice", "XAU")
	assert.True(t, wallet.Available.Equal(d("1")))
	assert.True(t, wallet.Locked.IsZero())
}

// flakyTxManager 前 N 次事务直接失败，模拟基础设施瞬时故障
type flakyTxManager struct {
	inner    walletdomain.TxManager
	mu       sync.Mutex
	failures int
}

func newFlakyTxManager() *flakyTxManager {
	return &flakyTxManager{inner: walletmemory.NewTxManager()}
}

func (m *flakyTxManager) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	m.mu.Lock()
	if m.failures > 0 {
		m.failures--
		m.mu.Unlock()
		return errors.New("connection reset")
	}
	m.mu.Unlock()
	return m.inner.WithTx(ctx, fn)
}

func (m *flakyTxManager) fail(n int) {
	m.mu.Lock()
	m.failures = n
	m.mu.Unlock()
}

func (m *flakyTxManager) remaining() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failures
}

// confirmedOrder 绕过门面手工构造已预留并确认的订单，便于直接驱动引擎
func (f *exchangeFixture) confirmedOrder(t *testing.T, userID string, side orderdomain.OrderSide, price, amount string) *orderdomain.Order {
	t.Helper()
	ctx := context.Background()

	order := orderdomain.NewOrder(idgen.OrderID(), userID, "XAU/USDT", side, d(price), d(amount), "")
	require.NoError(t, f.orders.Save(ctx, order))

	asset, reserved := "XAU", order.RemainingAmount
	if side == orderdomain.OrderSideBuy {
		asset, reserved = "USDT", order.RemainingQuote()
	}
	require.NoError(t, f.wallet.Reserve(ctx, userID, asset, reserved, order.OrderID))
	require.NoError(t, order.Confirm())
	require.NoError(t, f.orders.Save(ctx, order))
	return order
}

func TestServiceStop_Idempotent(t *testing.T) {
	f := newExchangeFixture(t)
	assert.NotPanics(t, func() {
		f.service.Stop()
		f.service.Stop()
	})
}

func TestSubmitOrder_EngineStoppedReleasesReservation(t *testing.T) {
	f := newExchangeFixture(t)
	f.deposit(t, "alice", "USDT", "100")
	f.service.Stop()

	_, err := f.service.SubmitOrder(context.Background(), SubmitOrderCommand{
		UserID: "alice", Symbol: "XAU/USDT", Side: orderdomain.OrderSideBuy,
		Price: d("100"), Amount: d("1"),
	})
	assert.ErrorIs(t, err, ErrEngineStopped)

	// 订单从未进入撮合流：落为 FAILED，预留全额退回
	orders, listErr := f.orders.ListByUser(context.Background(), "alice", "", 10, 0)
	require.NoError(t, listErr)
	require.Len(t, orders, 1)
	assert.Equal(t, orderdomain.OrderStatusFailed, orders[0].Status)

	wallet := f.balance(t, "alice", "USDT")
	assert.True(t, wallet.Available.Equal(d("100")))
	assert.True(t, wallet.Locked.IsZero())
}

func TestGetOrderBook_ServesCachedSnapshotWhenStopped(t *testing.T) {
	f := newExchangeFixtureWith(t, fixtureOptions{marketData: matchingmemory.NewMarketDataRepository()})
	f.deposit(t, "alice", "USDT", "100")
	f.submit(t, "alice", orderdomain.OrderSideBuy, "100", "1")
	f.service.Stop()

	// 引擎已停机，深度查询降级为最近一次发布的缓存快照
	snapshot, err := f.service.GetOrderBook(context.Background(), "XAU/USDT", 10)
	require.NoError(t, err)
	require.Len(t, snapshot.Bids, 1)
	assert.True(t, snapshot.Bids[0].Price.Equal(d("100")))
	assert.True(t, snapshot.Bids[0].Quantity.Equal(d("1")))
}

func TestEngineSubmit_RetriesTransientSettlementFailure(t *testing.T) {
	tx := newFlakyTxManager()
	f := newExchangeFixtureWith(t, fixtureOptions{tx: tx})
	f.deposit(t, "alice", "XAU", "1")
	f.deposit(t, "bob", "USDT", "100")
	f.submit(t, "alice", orderdomain.OrderSideSell, "100", "1")

	taker := f.confirmedOrder(t, "bob", orderdomain.OrderSideBuy, "100", "1")
	tx.fail(2)

	trades, err := f.engine.Submit(context.Background(), taker)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, 0, tx.remaining())

	assert.Equal(t, orderdomain.OrderStatusCompleted, taker.Status)
	assert.True(t, f.balance(t, "bob", "XAU").Available.Equal(d("0.999")))
	assert.True(t, f.balance(t, "alice", "USDT").Available.Equal(d("100")))
}

func TestEngineSubmit_FailsWhenSettlementRetriesExhausted(t *testing.T) {
	tx := newFlakyTxManager()
	f := newExchangeFixtureWith(t, fixtureOptions{tx: tx})
	f.deposit(t, "alice", "XAU", "1")
	f.deposit(t, "bob", "USDT", "100")
	maker := f.submit(t, "alice", orderdomain.OrderSideSell, "100", "1")

	taker := f.confirmedOrder(t, "bob", orderdomain.OrderSideBuy, "100", "1")
	tx.fail(3)

	_, err := f.engine.Submit(context.Background(), taker)
	require.Error(t, err)

	// Taker 落为 FAILED 并退回预留，Maker 留在簿内不受影响
	stored, getErr := f.orders.Get(context.Background(), taker.OrderID)
	require.NoError(t, getErr)
	assert.Equal(t, orderdomain.OrderStatusFailed, stored.Status)
	wallet := f.balance(t, "bob", "USDT")
	assert.True(t, wallet.Available.Equal(d("100")))
	assert.True(t, wallet.Locked.IsZero())

	makerStored, getErr := f.orders.Get(context.Background(), maker.Order.OrderID)
	require.NoError(t, getErr)
	assert.Equal(t, orderdomain.OrderStatusConfirmed, makerStored.Status)
	assert.True(t, f.balance(t, "alice", "XAU").Locked.Equal(d("1")))

	snapshot, snapErr := f.service.GetOrderBook(context.Background(), "XAU/USDT", 10)
	require.NoError(t, snapErr)
	require.Len(t, snapshot.Asks, 1)
}

func TestGetUserTradesAndOrders(t *testing.T) {
	f := newExchangeFixture(t)
	f.deposit(t, "alice", "XAU", "1")
	f.deposit(t, "bob", "USDT", "100")

	f.submit(t, "alice", orderdomain.OrderSideSell, "100", "1")
	f.submit(t, "bob", orderdomain.OrderSideBuy, "100", "1")

	trades, err := f.service.GetUserTrades(context.Background(), "alice", "XAU/USDT", 10, 0)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, "alice", trades[0].SellerUserID)

	orders, err := f.service.GetUserOrders(context.Background(), "bob", "", 10, 0)
	require.NoError(t, err)
	require.Len(t, orders, 1)

	recent, err := f.service.GetRecentTrades(context.Background(), "XAU/USDT", 10)
	require.NoError(t, err)
	assert.Len(t, recent, 1)
}
