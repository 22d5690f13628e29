// Package domain 包含订单上下文的领域模型
package domain

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var (
	// ErrInvalidOrder 订单字段不合法，直接拒绝，不重试
	ErrInvalidOrder = errors.New("invalid order")
	// ErrOrderNotFound 订单不存在
	ErrOrderNotFound = errors.New("order not found")
	// ErrNotOwner 操作者不是订单所有人
	ErrNotOwner = errors.New("not order owner")
	// ErrInvalidState 订单当前状态不允许该操作
	ErrInvalidState = errors.New("invalid order state")
	// ErrConcurrencyConflict 乐观锁冲突，可在重新校验后重试
	ErrConcurrencyConflict = errors.New("order concurrency conflict")
)

// OrderStatus 订单状态
type OrderStatus string

const (
	OrderStatusPending         OrderStatus = "PENDING"
	OrderStatusConfirmed       OrderStatus = "CONFIRMED"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusCompleted       OrderStatus = "COMPLETED"
	OrderStatusCancelled       OrderStatus = "CANCELLED"
	OrderStatusFailed          OrderStatus = "FAILED"
)

// OrderSide 订单方向
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// OrderRole 订单角色：Maker 在簿内提供流动性，Taker 立即吃掉对手盘
type OrderRole string

const (
	OrderRoleMaker OrderRole = "MAKER"
	OrderRoleTaker OrderRole = "TAKER"
)

// Order 订单实体
// 代表用户提交的一笔限价委托，RemainingAmount 在生命周期内单调递减
type Order struct {
	gorm.Model
	// 订单 ID (业务主键)
	OrderID string `gorm:"column:order_id;type:varchar(32);uniqueIndex;not null" json:"order_id"`
	// 用户 ID
	UserID string `gorm:"column:user_id;type:varchar(32);index;not null" json:"user_id"`
	// 交易对符号（如 XAU/USDT，统一大写）
	Symbol string `gorm:"column:symbol;type:varchar(20);index;not null" json:"symbol"`
	// 买卖方向
	Side OrderSide `gorm:"column:side;type:varchar(10);not null" json:"side"`
	// 角色
	Role OrderRole `gorm:"column:role;type:varchar(10);not null" json:"role"`
	// 限价
	Price decimal.Decimal `gorm:"column:price;type:decimal(32,18);not null" json:"price"`
	// 委托数量，创建后不可变
	OriginalAmount decimal.Decimal `gorm:"column:original_amount;type:decimal(32,18);not null" json:"original_amount"`
	// 剩余数量
	RemainingAmount decimal.Decimal `gorm:"column:remaining_amount;type:decimal(32,18);not null" json:"remaining_amount"`
	// 订单状态
	Status OrderStatus `gorm:"column:status;type:varchar(20);index;not null" json:"status"`
	// 父订单 ID（Taker 订单定向关联某个 Maker 订单时使用）
	ParentOrderID string `gorm:"column:parent_order_id;type:varchar(32);index" json:"parent_order_id,omitempty"`
	// 客户端订单 ID（用于提交幂等）
	ClientOrderID string `gorm:"column:client_order_id;type:varchar(64);index" json:"client_order_id,omitempty"`
	// 乐观锁版本号
	Version int64 `gorm:"column:version;not null;default:0" json:"-"`
}

// TableName 指定表名
func (Order) TableName() string {
	return "orders"
}

// NewOrder 创建订单，初始状态为 PENDING
func NewOrder(orderID, userID, symbol string, side OrderSide, price, amount decimal.Decimal, clientOrderID string) *Order {
	return &Order{
		OrderID:         orderID,
		UserID:          userID,
		Symbol:          symbol,
		Side:            side,
		Role:            OrderRoleTaker,
		Price:           price,
		OriginalAmount:  amount,
		RemainingAmount: amount,
		Status:          OrderStatusPending,
		ClientOrderID:   clientOrderID,
	}
}

// Validate 校验订单字段
func (o *Order) Validate() error {
	if o.UserID == "" {
		return ErrInvalidOrder
	}
	if o.Symbol == "" {
		return ErrInvalidOrder
	}
	if o.Side != OrderSideBuy && o.Side != OrderSideSell {
		return ErrInvalidOrder
	}
	if !o.OriginalAmount.IsPositive() {
		return ErrInvalidOrder
	}
	if !o.Price.IsPositive() {
		return ErrInvalidOrder
	}
	return nil
}

// IsTerminal 是否处于终态，终态订单不可再变更
func (o *Order) IsTerminal() bool {
	switch o.Status {
	case OrderStatusCompleted, OrderStatusCancelled, OrderStatusFailed:
		return true
	}
	return false
}

// IsMatchable 是否可以参与撮合
func (o *Order) IsMatchable() bool {
	if o.IsTerminal() {
		return false
	}
	return o.RemainingAmount.IsPositive()
}

// CanBeCancelled 是否可以取消
func (o *Order) CanBeCancelled() bool {
	switch o.Status {
	case OrderStatusPending, OrderStatusConfirmed, OrderStatusPartiallyFilled:
		return true
	}
	return false
}

// Confirm 资金预留成功后确认订单
func (o *Order) Confirm() error {
	if o.Status != OrderStatusPending {
		return ErrInvalidState
	}
	o.Status = OrderStatusConfirmed
	return nil
}

// Fill 按成交数量扣减剩余数量并推进状态。
// 数量为零、为负或超过剩余数量时拒绝，保证 RemainingAmount 单调递减。
func (o *Order) Fill(quantity decimal.Decimal) error {
	if o.IsTerminal() {
		return ErrInvalidState
	}
	if !quantity.IsPositive() || quantity.GreaterThan(o.RemainingAmount) {
		return ErrInvalidState
	}

	o.RemainingAmount = o.RemainingAmount.Sub(quantity)
	if o.RemainingAmount.IsZero() {
		o.Status = OrderStatusCompleted
	} else {
		o.Status = OrderStatusPartiallyFilled
	}
	return nil
}

// Rest 订单进入订单簿成为 Maker
func (o *Order) Rest() {
	o.Role = OrderRoleMaker
}

// Cancel 取消订单
func (o *Order) Cancel() error {
	if !o.CanBeCancelled() {
		return ErrInvalidState
	}
	o.Status = OrderStatusCancelled
	return nil
}

// Fail 标记订单失败（预留回滚后调用）
func (o *Order) Fail() error {
	if o.IsTerminal() {
		return ErrInvalidState
	}
	o.Status = OrderStatusFailed
	return nil
}

// FilledAmount 已成交数量
func (o *Order) FilledAmount() decimal.Decimal {
	return o.OriginalAmount.Sub(o.RemainingAmount)
}

// RemainingQuote 剩余数量按限价折算的计价资产金额（买单预留的上限）
func (o *Order) RemainingQuote() decimal.Decimal {
	return o.RemainingAmount.Mul(o.Price)
}

// OrderRepository 订单仓储接口
type OrderRepository interface {
	// Save 保存订单（带乐观锁，冲突时返回 ErrConcurrencyConflict）
	Save(ctx context.Context, order *Order) error
	// Get 根据订单 ID 获取订单
	Get(ctx context.Context, orderID string) (*Order, error)
	// GetByClientOrderID 根据客户端订单 ID 获取订单（幂等提交）
	GetByClientOrderID(ctx context.Context, userID, clientOrderID string) (*Order, error)
	// ListByUser 获取用户订单列表，symbol 为空时不过滤
	ListByUser(ctx context.Context, userID, symbol string, limit, offset int) ([]*Order, error)
	// ListOpenBySymbol 获取交易对下所有未终结订单（重启时重建订单簿）
	ListOpenBySymbol(ctx context.Context, symbol string) ([]*Order, error)
}
