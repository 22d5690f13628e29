package application

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	matchingdomain "github.com/wyfcoding/assetexchange/internal/matching/domain"
	orderdomain "github.com/wyfcoding/assetexchange/internal/order/domain"
	walletapp "github.com/wyfcoding/assetexchange/internal/wallet/application"
	walletdomain "github.com/wyfcoding/assetexchange/internal/wallet/domain"
	"github.com/wyfcoding/assetexchange/pkg/idgen"
	"github.com/wyfcoding/assetexchange/pkg/logger"
	"github.com/wyfcoding/assetexchange/pkg/metrics"
)

// ErrUnknownSymbol 交易对未配置
var ErrUnknownSymbol = errors.New("unknown trading symbol")

// SubmitOrderCommand 提交订单命令
type SubmitOrderCommand struct {
	UserID        string
	Symbol        string
	Side          orderdomain.OrderSide
	Price         decimal.Decimal
	Amount        decimal.Decimal
	ClientOrderID string
}

// OrderResult 提交订单的同步结果：订单终态（或进簿状态）与本次产生的成交
type OrderResult struct {
	Order  *orderdomain.Order
	Trades []*orderdomain.Trade
}

// Service 撮合上下文的应用服务门面，持有全部已配置交易对的引擎
type Service struct {
	engines    map[string]*Engine
	orders     orderdomain.OrderRepository
	trades     orderdomain.TradeRepository
	wallet     *walletapp.Service
	tx         walletdomain.TxManager
	marketData matchingdomain.MarketDataRepository
	metrics    *metrics.Metrics
}

// NewService 创建撮合服务门面
func NewService(
	engines map[string]*Engine,
	orders orderdomain.OrderRepository,
	trades orderdomain.TradeRepository,
	wallet *walletapp.Service,
	tx walletdomain.TxManager,
	marketData matchingdomain.MarketDataRepository,
	m *metrics.Metrics,
) *Service {
	return &Service{
		engines:    engines,
		orders:     orders,
		trades:     trades,
		wallet:     wallet,
		tx:         tx,
		marketData: marketData,
		metrics:    m,
	}
}

// Recover 重建全部引擎的订单簿
func (s *Service) Recover(ctx context.Context) error {
	for _, engine := range s.engines {
		if err := engine.Recover(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Stop 停止全部撮合引擎
func (s *Service) Stop() {
	for _, engine := range s.engines {
		engine.Stop()
	}
}

// SubmitOrder 提交限价订单。
// 流程：校验 → 幂等检查 → 落库 PENDING → 预留资金 → CONFIRMED → 进入串行撮合。
// 资金不足时订单落为 FAILED 并返回 ErrInsufficientFunds。
func (s *Service) SubmitOrder(ctx context.Context, cmd SubmitOrderCommand) (*OrderResult, error) {
	instrument, err := matchingdomain.ParseInstrument(cmd.Symbol)
	if err != nil {
		s.reject("invalid_symbol")
		return nil, err
	}
	engine, ok := s.engines[instrument.Symbol]
	if !ok {
		s.reject("unknown_symbol")
		return nil, fmt.Errorf("%w: %s", ErrUnknownSymbol, instrument.Symbol)
	}

	// ClientOrderID 幂等：重复提交返回既有订单，不再触发撮合
	if cmd.ClientOrderID != "" {
		existing, err := s.orders.GetByClientOrderID(ctx, cmd.UserID, cmd.ClientOrderID)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return &OrderResult{Order: existing}, nil
		}
	}

	order := orderdomain.NewOrder(
		idgen.OrderID(),
		cmd.UserID,
		instrument.Symbol,
		cmd.Side,
		cmd.Price,
		cmd.Amount,
		cmd.ClientOrderID,
	)
	if err := order.Validate(); err != nil {
		s.reject("invalid_order")
		return nil, err
	}

	if err := s.orders.Save(ctx, order); err != nil {
		return nil, fmt.Errorf("failed to persist order: %w", err)
	}

	// 预留资金：买单锁定 数量×限价 的计价资产，卖单锁定数量的基础资产
	asset, amount := reservationOf(instrument, order)
	if err := s.wallet.Reserve(ctx, order.UserID, asset, amount, order.OrderID); err != nil {
		s.failOrder(ctx, order)
		if errors.Is(err, walletdomain.ErrInsufficientFunds) {
			s.reject("insufficient_funds")
		}
		return nil, err
	}

	if err := order.Confirm(); err != nil {
		return nil, err
	}
	if err := s.orders.Save(ctx, order); err != nil {
		// 确认落库失败（如订单已被并发撤销），预留必须退回
		if relErr := s.wallet.Release(ctx, order.UserID, asset, amount, order.OrderID); relErr != nil {
			logger.Error(ctx, "failed to release reservation after confirm failure",
				"order_id", order.OrderID, "error", relErr)
		}
		return nil, fmt.Errorf("failed to confirm order: %w", err)
	}

	if s.metrics != nil {
		s.metrics.OrdersSubmittedTotal.WithLabelValues(instrument.Symbol, string(order.Side)).Inc()
	}

	trades, err := engine.Submit(ctx, order)
	if err != nil {
		if errors.Is(err, ErrEngineBusy) || errors.Is(err, ErrEngineStopped) {
			// 订单从未进入撮合流：落为 FAILED 并回滚资金预留
			s.rollbackSubmission(ctx, order, asset, amount)
			s.reject("engine_unavailable")
		}
		return &OrderResult{Order: order, Trades: trades}, err
	}

	logger.Info(ctx, "order submitted",
		"order_id", order.OrderID,
		"symbol", order.Symbol,
		"side", order.Side,
		"status", order.Status,
		"trades", len(trades),
	)
	return &OrderResult{Order: order, Trades: trades}, nil
}

// CancelOrder 撤销订单，经由该交易对的串行撮合流执行
func (s *Service) CancelOrder(ctx context.Context, orderID, userID string) error {
	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return err
	}
	if order == nil {
		return orderdomain.ErrOrderNotFound
	}
	engine, ok := s.engines[order.Symbol]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSymbol, order.Symbol)
	}
	return engine.Cancel(ctx, orderID, userID)
}

// GetOrder 查询单个订单
func (s *Service) GetOrder(ctx context.Context, orderID string) (*orderdomain.Order, error) {
	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, orderdomain.ErrOrderNotFound
	}
	return order, nil
}

// GetOrderBook 获取订单簿深度快照，直接取自撮合 Worker 保证一致性。
// 引擎不可用（停机或队列满）时降级为最近一次发布的缓存快照。
func (s *Service) GetOrderBook(ctx context.Context, symbol string, depth int) (*matchingdomain.Snapshot, error) {
	instrument, err := matchingdomain.ParseInstrument(symbol)
	if err != nil {
		return nil, err
	}
	engine, ok := s.engines[instrument.Symbol]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSymbol, instrument.Symbol)
	}

	snapshot, err := engine.Snapshot(ctx, depth)
	if err != nil && s.marketData != nil && (errors.Is(err, ErrEngineBusy) || errors.Is(err, ErrEngineStopped)) {
		cached, cacheErr := s.marketData.GetSnapshot(ctx, instrument.Symbol)
		if cacheErr == nil && cached != nil {
			return cached, nil
		}
	}
	return snapshot, err
}

// GetUserOrders 查询用户订单，symbol 为空时不过滤
func (s *Service) GetUserOrders(ctx context.Context, userID, symbol string, limit, offset int) ([]*orderdomain.Order, error) {
	if symbol != "" {
		instrument, err := matchingdomain.ParseInstrument(symbol)
		if err != nil {
			return nil, err
		}
		symbol = instrument.Symbol
	}
	return s.orders.ListByUser(ctx, userID, symbol, normalizeLimit(limit), offset)
}

// GetUserTrades 查询用户成交，symbol 为空时不过滤
func (s *Service) GetUserTrades(ctx context.Context, userID, symbol string, limit, offset int) ([]*orderdomain.Trade, error) {
	if symbol != "" {
		instrument, err := matchingdomain.ParseInstrument(symbol)
		if err != nil {
			return nil, err
		}
		symbol = instrument.Symbol
	}
	return s.trades.ListByUser(ctx, userID, symbol, normalizeLimit(limit), offset)
}

// GetRecentTrades 最近成交，优先走 Redis 缓存，缓存不可用时回源数据库
func (s *Service) GetRecentTrades(ctx context.Context, symbol string, limit int) ([]*orderdomain.Trade, error) {
	instrument, err := matchingdomain.ParseInstrument(symbol)
	if err != nil {
		return nil, err
	}
	limit = normalizeLimit(limit)
	if s.marketData != nil {
		trades, err := s.marketData.LatestTrades(ctx, instrument.Symbol, limit)
		if err == nil {
			return trades, nil
		}
		logger.Warn(ctx, "market data cache unavailable, falling back to database", "symbol", instrument.Symbol, "error", err)
	}
	return s.trades.ListBySymbol(ctx, instrument.Symbol, limit)
}

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > 200 {
		return 50
	}
	return limit
}

func (s *Service) reject(reason string) {
	if s.metrics != nil {
		s.metrics.OrdersRejectedTotal.WithLabelValues(reason).Inc()
	}
}

func (s *Service) failOrder(ctx context.Context, order *orderdomain.Order) {
	if err := order.Fail(); err != nil {
		return
	}
	if err := s.orders.Save(ctx, order); err != nil {
		logger.Error(ctx, "failed to mark order failed", "order_id", order.OrderID, "error", err)
	}
}

// rollbackSubmission 已预留资金但未进入撮合流的订单善后：FAILED 落库并释放预留
func (s *Service) rollbackSubmission(ctx context.Context, order *orderdomain.Order, asset string, amount decimal.Decimal) {
	prevStatus := order.Status
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		if err := order.Fail(); err != nil {
			return err
		}
		if err := s.orders.Save(ctx, order); err != nil {
			order.Status = prevStatus
			return err
		}
		if amount.IsPositive() {
			if err := s.wallet.Release(ctx, order.UserID, asset, amount, order.OrderID); err != nil {
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

func reservationOf(instrument matchingdomain.Instrument, order *orderdomain.Order) (string, decimal.Decimal) {
	if order.Side == orderdomain.OrderSideBuy {
		return instrument.Quote, order.RemainingQuote()
	}
	return instrument.Base, order.RemainingAmount
}
