// Package application 撮合上下文的应用层：每个交易对一个串行撮合 Worker
package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	matchingdomain "github.com/wyfcoding/assetexchange/internal/matching/domain"
	orderdomain "github.com/wyfcoding/assetexchange/internal/order/domain"
	settlementapp "github.com/wyfcoding/assetexchange/internal/settlement/application"
	walletapp "github.com/wyfcoding/assetexchange/internal/wallet/application"
	walletdomain "github.com/wyfcoding/assetexchange/internal/wallet/domain"
	"github.com/wyfcoding/assetexchange/pkg/logger"
	"github.com/wyfcoding/assetexchange/pkg/metrics"
)

var (
	// ErrEngineBusy 提交队列已满
	ErrEngineBusy = errors.New("matching engine busy")
	// ErrEngineStopped 引擎已停止
	ErrEngineStopped = errors.New("matching engine stopped")
)

type taskKind int

const (
	taskSubmit taskKind = iota
	taskCancel
	taskSnapshot
)

type engineTask struct {
	ctx     context.Context
	kind    taskKind
	order   *orderdomain.Order
	orderID string
	userID  string
	depth   int
	result  chan taskResult
}

type taskResult struct {
	order    *orderdomain.Order
	trades   []*orderdomain.Trade
	snapshot *matchingdomain.Snapshot
	err      error
}

// Engine 单个交易对的撮合引擎。
// 订单簿由唯一的 Worker goroutine 独占访问，提交与撤单按到达顺序串行处理，
// 同一交易对内保证价格-时间优先（同价 FIFO）。
type Engine struct {
	instrument  matchingdomain.Instrument
	book        *matchingdomain.OrderBook
	coordinator *settlementapp.Coordinator
	orders      orderdomain.OrderRepository
	wallet      *walletapp.Service
	tx          walletdomain.TxManager
	marketData  matchingdomain.MarketDataRepository
	metrics     *metrics.Metrics

	tasks    chan engineTask
	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// 结算遇到基础设施瞬时故障时的有界重试，乐观锁冲突由协调器内部处理
const (
	settleRetryAttempts = 3
	settleRetryBackoff  = 20 * time.Millisecond
)

// NewEngine 创建引擎并启动撮合 Worker
func NewEngine(
	instrument matchingdomain.Instrument,
	coordinator *settlementapp.Coordinator,
	orders orderdomain.OrderRepository,
	wallet *walletapp.Service,
	tx walletdomain.TxManager,
	marketData matchingdomain.MarketDataRepository,
	m *metrics.Metrics,
	queueSize int,
) *Engine {
	if queueSize <= 0 {
		queueSize = 1024
	}
	e := &Engine{
		instrument:  instrument,
		book:        matchingdomain.NewOrderBook(instrument),
		coordinator: coordinator,
		orders:      orders,
		wallet:      wallet,
		tx:          tx,
		marketData:  marketData,
		metrics:     m,
		tasks:       make(chan engineTask, queueSize),
		quit:        make(chan struct{}),
		done:        make(chan struct{}),
	}
	go e.run()
	return e
}

// Stop 停止 Worker 并等待退出，队列中未处理的任务以 ErrEngineStopped 结束。
// 可重复调用。
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.quit) })
	<-e.done
	// Worker 退出后仍可能有任务刚挤进队列，补一次排空
	e.drain()
}

// Recover 从持久化订单重建订单簿，必须在对外接收首个提交之前调用
func (e *Engine) Recover(ctx context.Context) error {
	open, err := e.orders.ListOpenBySymbol(ctx, e.instrument.Symbol)
	if err != nil {
		return fmt.Errorf("failed to load open orders for %s: %w", e.instrument.Symbol, err)
	}

	for _, o := range open {
		o.Rest()
		if err := e.book.Insert(o); err != nil {
			logger.Warn(ctx, "skipping unrecoverable order", "order_id", o.OrderID, "error", err)
		}
	}
	logger.Info(ctx, "order book recovered",
		"symbol", e.instrument.Symbol,
		"orders", e.book.Len(),
	)
	return nil
}

// Submit 提交订单进入本交易对的串行撮合流
func (e *Engine) Submit(ctx context.Context, order *orderdomain.Order) ([]*orderdomain.Trade, error) {
	res, err := e.enqueue(engineTask{
		ctx:    ctx,
		kind:   taskSubmit,
		order:  order,
		result: make(chan taskResult, 1),
	})
	if err != nil {
		return nil, err
	}
	return res.trades, res.err
}

// Cancel 撤单。与撮合共用同一个串行流，结果是确定性的：
// 先到的撮合赢则撤单报 ErrInvalidState，先到的撤单赢则后续撮合跳过该订单。
func (e *Engine) Cancel(ctx context.Context, orderID, userID string) error {
	res, err := e.enqueue(engineTask{
		ctx:     ctx,
		kind:    taskCancel,
		orderID: orderID,
		userID:  userID,
		result:  make(chan taskResult, 1),
	})
	if err != nil {
		return err
	}
	return res.err
}

// Snapshot 获取订单簿深度快照
func (e *Engine) Snapshot(ctx context.Context, depth int) (*matchingdomain.Snapshot, error) {
	res, err := e.enqueue(engineTask{
		ctx:    ctx,
		kind:   taskSnapshot,
		depth:  depth,
		result: make(chan taskResult, 1),
	})
	if err != nil {
		return nil, err
	}
	return res.snapshot, res.err
}

func (e *Engine) enqueue(task engineTask) (taskResult, error) {
	select {
	case <-e.quit:
		return taskResult{}, ErrEngineStopped
	default:
	}

	select {
	case e.tasks <- task:
	default:
		return taskResult{}, ErrEngineBusy
	}

	select {
	case res := <-task.result:
		return res, nil
	case <-task.ctx.Done():
		// 任务仍会被 Worker 执行，调用方只是不再等待结果
		return taskResult{}, task.ctx.Err()
	case <-e.done:
		// Worker 在任务入队与排空之间退出：结果可能已写入，否则任务已被遗弃
		select {
		case res := <-task.result:
			return res, nil
		default:
			return taskResult{}, ErrEngineStopped
		}
	}
}

func (e *Engine) run() {
	defer close(e.done)
	for {
		select {
		case <-e.quit:
			e.drain()
			return
		case task := <-e.tasks:
			task.result <- e.handle(task)
		}
	}
}

func (e *Engine) drain() {
	for {
		select {
		case task := <-e.tasks:
			task.result <- taskResult{err: ErrEngineStopped}
		default:
			return
		}
	}
}

func (e *Engine) handle(task engineTask) taskResult {
	switch task.kind {
	case taskSubmit:
		return e.handleSubmit(task.ctx, task.order)
	case taskCancel:
		return taskResult{err: e.handleCancel(task.ctx, task.orderID, task.userID)}
	case taskSnapshot:
		return taskResult{snapshot: e.snapshot(task.depth)}
	}
	return taskResult{err: fmt.Errorf("unknown task kind %d", task.kind)}
}

// handleSubmit 核心撮合循环：在剩余数量耗尽或对手盘价格不再兼容前，
// 逐笔吃掉对手盘最优订单，每笔成交交由结算协调器原子落地。
func (e *Engine) handleSubmit(ctx context.Context, incoming *orderdomain.Order) taskResult {
	start := time.Now()
	var trades []*orderdomain.Trade

	for incoming.RemainingAmount.IsPositive() {
		resting := e.bestOpposite(incoming.Side)
		if resting == nil || !priceCompatible(incoming, resting) {
			break
		}

		fillQty := decimal.Min(incoming.RemainingAmount, resting.RemainingAmount)
		trade, err := e.settleWithRetry(ctx, incoming, resting, fillQty)
		if err != nil {
			if errors.Is(err, settlementapp.ErrNotMatchable) || errors.Is(err, orderdomain.ErrInvalidState) {
				// 簿内订单已不可成交（如已被撤销落库），移出后继续撮合下一档
				e.removeFromBook(resting.OrderID)
				continue
			}
			// 基础设施重试耗尽：本次提交整体报失败，回滚剩余预留
			e.failSubmission(ctx, incoming)
			if e.metrics != nil {
				e.metrics.SettlementFailuresTotal.Inc()
			}
			return taskResult{order: incoming, trades: trades, err: err}
		}

		trades = append(trades, trade)
		if resting.RemainingAmount.IsZero() {
			e.removeFromBook(resting.OrderID)
		}
		if e.metrics != nil {
			e.metrics.TradesTotal.Inc()
		}
		if e.marketData != nil {
			if mdErr := e.marketData.PushTrade(ctx, trade); mdErr != nil {
				logger.Warn(ctx, "failed to push trade to market data", "trade_id", trade.TradeID, "error", mdErr)
			}
		}
	}

	// 处置：有剩余数量则作为 Maker 进簿
	if incoming.RemainingAmount.IsPositive() {
		incoming.Rest()
		if err := e.orders.Save(ctx, incoming); err != nil {
			e.failSubmission(ctx, incoming)
			return taskResult{order: incoming, trades: trades, err: err}
		}
		if err := e.book.Insert(incoming); err != nil {
			return taskResult{order: incoming, trades: trades, err: err}
		}
		if e.metrics != nil {
			e.metrics.OrdersResting.Inc()
		}
	}

	e.publishSnapshot(ctx)
	if e.metrics != nil {
		e.metrics.MatchingDuration.Observe(time.Since(start).Seconds())
	}
	return taskResult{order: incoming, trades: trades}
}

// handleCancel 撤单：从簿中移出并释放剩余预留，整体在一个事务内完成
func (e *Engine) handleCancel(ctx context.Context, orderID, userID string) error {
	order, inBook := e.bookOrder(orderID)
	if !inBook {
		loaded, err := e.orders.Get(ctx, orderID)
		if err != nil {
			return err
		}
		if loaded == nil {
			return orderdomain.ErrOrderNotFound
		}
		order = loaded
	}

	if order.UserID != userID {
		return orderdomain.ErrNotOwner
	}
	if !order.CanBeCancelled() {
		return orderdomain.ErrInvalidState
	}

	prevStatus := order.Status
	err := e.tx.WithTx(ctx, func(ctx context.Context) error {
		if err := order.Cancel(); err != nil {
			return err
		}
		if err := e.orders.Save(ctx, order); err != nil {
			order.Status = prevStatus
			return err
		}

		// 释放剩余预留：买单按限价折算计价资产，卖单为剩余基础资产。
		// PENDING 订单还未确认预留，资金由提交流程自行回滚。
		if prevStatus != orderdomain.OrderStatusPending {
			asset, amount := e.reservationFor(order)
			if amount.IsPositive() {
				if err := e.wallet.Release(ctx, order.UserID, asset, amount, order.OrderID); err != nil {
					order.Status = prevStatus
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	if inBook {
		e.removeFromBook(orderID)
	}
	if e.metrics != nil {
		e.metrics.OrdersCancelledTotal.Inc()
	}
	e.publishSnapshot(ctx)
	return nil
}

// settleWithRetry 执行单笔成交结算。结算事务失败时实体已被协调器还原，
// 基础设施错误带退避重试；可成交性错误直接返回，由撮合循环处置。
func (e *Engine) settleWithRetry(ctx context.Context, taker, maker *orderdomain.Order, fillQty decimal.Decimal) (*orderdomain.Trade, error) {
	var err error
	for attempt := 0; attempt < settleRetryAttempts; attempt++ {
		if attempt > 0 {
			logger.Warn(ctx, "settlement failed, retrying",
				"taker_order_id", taker.OrderID,
				"maker_order_id", maker.OrderID,
				"attempt", attempt,
				"error", err,
			)
			select {
			case <-time.After(settleRetryBackoff * time.Duration(attempt)):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		var trade *orderdomain.Trade
		trade, err = e.coordinator.Settle(ctx, e.instrument, taker, maker, fillQty)
		if err == nil {
			return trade, nil
		}
		if errors.Is(err, settlementapp.ErrNotMatchable) || errors.Is(err, orderdomain.ErrInvalidState) {
			return nil, err
		}
	}
	return nil, err
}

func (e *Engine) bestOpposite(side orderdomain.OrderSide) *orderdomain.Order {
	if side == orderdomain.OrderSideBuy {
		return e.book.BestAsk()
	}
	return e.book.BestBid()
}

func priceCompatible(incoming, resting *orderdomain.Order) bool {
	if incoming.Side == orderdomain.OrderSideBuy {
		return incoming.Price.GreaterThanOrEqual(resting.Price)
	}
	return resting.Price.GreaterThanOrEqual(incoming.Price)
}

func (e *Engine) bookOrder(orderID string) (*orderdomain.Order, bool) {
	order := e.book.Get(orderID)
	return order, order != nil
}

func (e *Engine) removeFromBook(orderID string) {
	if _, err := e.book.Remove(orderID); err == nil && e.metrics != nil {
		e.metrics.OrdersResting.Dec()
	}
}

// reservationFor 订单剩余的资金预留（资产与数量）
func (e *Engine) reservationFor(order *orderdomain.Order) (string, decimal.Decimal) {
	if order.Side == orderdomain.OrderSideBuy {
		return e.instrument.Quote, order.RemainingQuote()
	}
	return e.instrument.Base, order.RemainingAmount
}

// failSubmission 提交失败的善后：标记订单失败并回滚剩余预留
func (e *Engine) failSubmission(ctx context.Context, order *orderdomain.Order) {
	prevStatus := order.Status
	err := e.tx.WithTx(ctx, func(ctx context.Context) error {
		if err := order.Fail(); err != nil {
			return err
		}
		if err := e.orders.Save(ctx, order); err != nil {
			order.Status = prevStatus
			return err
		}
		asset, amount := e.reservationFor(order)
		if amount.IsPositive() {
			if err := e.wallet.Release(ctx, order.UserID, asset, amount, order.OrderID); err != nil {
				order.Status = prevStatus
				return err
			}
		}
		return nil
	})
	if err != nil {
		logger.Error(ctx, "failed to roll back submission",
			"order_id", order.OrderID,
			"error", err,
		)
	}
}

func (e *Engine) snapshot(depth int) *matchingdomain.Snapshot {
	bids, asks := e.book.Depth(depth)
	return &matchingdomain.Snapshot{
		Symbol:    e.instrument.Symbol,
		Bids:      bids,
		Asks:      asks,
		Timestamp: time.Now().Unix(),
	}
}

func (e *Engine) publishSnapshot(ctx context.Context) {
	if e.marketData == nil {
		return
	}
	if err := e.marketData.SaveSnapshot(ctx, e.snapshot(0)); err != nil {
		logger.Warn(ctx, "failed to save order book snapshot", "symbol", e.instrument.Symbol, "error", err)
	}
}
