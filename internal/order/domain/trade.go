package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Trade 成交记录实体，创建后不可变更、不可删除
type Trade struct {
	gorm.Model
	// 成交 ID (业务主键)
	TradeID string `gorm:"column:trade_id;type:varchar(32);uniqueIndex;not null" json:"trade_id"`
	// 买方订单 ID
	BuyOrderID string `gorm:"column:buy_order_id;type:varchar(32);index;not null" json:"buy_order_id"`
	// 卖方订单 ID
	SellOrderID string `gorm:"column:sell_order_id;type:varchar(32);index;not null" json:"sell_order_id"`
	// 买方用户 ID
	BuyerUserID string `gorm:"column:buyer_user_id;type:varchar(32);index;not null" json:"buyer_user_id"`
	// 卖方用户 ID
	SellerUserID string `gorm:"column:seller_user_id;type:varchar(32);index;not null" json:"seller_user_id"`
	// 交易对符号
	Symbol string `gorm:"column:symbol;type:varchar(20);index;not null" json:"symbol"`
	// 成交数量
	Quantity decimal.Decimal `gorm:"column:quantity;type:decimal(32,18);not null" json:"quantity"`
	// 成交价（Maker 订单的限价）
	Price decimal.Decimal `gorm:"column:price;type:decimal(32,18);not null" json:"price"`
	// 计价金额 = 数量 * 成交价
	QuoteValue decimal.Decimal `gorm:"column:quote_value;type:decimal(32,18);not null" json:"quote_value"`
	// 买方手续费（以买方收到的资产计）
	FeeBuyer decimal.Decimal `gorm:"column:fee_buyer;type:decimal(32,18);default:0;not null" json:"fee_buyer"`
	// 卖方手续费（以卖方收到的资产计）
	FeeSeller decimal.Decimal `gorm:"column:fee_seller;type:decimal(32,18);default:0;not null" json:"fee_seller"`
	// 成交时间
	ExecutedAt time.Time `gorm:"column:executed_at;not null" json:"executed_at"`
}

// TableName 指定表名
func (Trade) TableName() string {
	return "trades"
}

// NewTrade 创建成交记录
func NewTrade(tradeID string, buy, sell *Order, quantity, price, feeBuyer, feeSeller decimal.Decimal) *Trade {
	return &Trade{
		TradeID:      tradeID,
		BuyOrderID:   buy.OrderID,
		SellOrderID:  sell.OrderID,
		BuyerUserID:  buy.UserID,
		SellerUserID: sell.UserID,
		Symbol:       buy.Symbol,
		Quantity:     quantity,
		Price:        price,
		QuoteValue:   quantity.Mul(price),
		FeeBuyer:     feeBuyer,
		FeeSeller:    feeSeller,
		ExecutedAt:   time.Now(),
	}
}

// TradeRepository 成交记录仓储接口
type TradeRepository interface {
	// Save 保存成交记录
	Save(ctx context.Context, trade *Trade) error
	// Get 根据成交 ID 获取成交
	Get(ctx context.Context, tradeID string) (*Trade, error)
	// ListByUser 获取用户成交列表，symbol 为空时不过滤
	ListByUser(ctx context.Context, userID, symbol string, limit, offset int) ([]*Trade, error)
	// ListBySymbol 获取交易对最新成交
	ListBySymbol(ctx context.Context, symbol string, limit int) ([]*Trade, error)
}
