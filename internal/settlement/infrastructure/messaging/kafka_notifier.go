// Package messaging 结算上下文的消息发布实现
package messaging

import (
	"context"
	"time"

	orderdomain "github.com/wyfcoding/assetexchange/internal/order/domain"
	"github.com/wyfcoding/assetexchange/pkg/mq"
)

// TradeMessage 成交事件载荷，发布给下游（行情、对账、风控）消费
type TradeMessage struct {
	TradeID      string `json:"trade_id"`
	Symbol       string `json:"symbol"`
	BuyOrderID   string `json:"buy_order_id"`
	SellOrderID  string `json:"sell_order_id"`
	BuyerUserID  string `json:"buyer_user_id"`
	SellerUserID string `json:"seller_user_id"`
	Price        string `json:"price"`
	Quantity     string `json:"quantity"`
	QuoteValue   string `json:"quote_value"`
	ExecutedAt   int64  `json:"executed_at"`
	PublishedAt  int64  `json:"published_at"`
}

// KafkaTradeNotifier 成交事件的 Kafka 发布器
type KafkaTradeNotifier struct {
	producer *mq.KafkaProducer
	topic    string
}

// NewKafkaTradeNotifier 创建成交事件发布器
func NewKafkaTradeNotifier(producer *mq.KafkaProducer, topic string) *KafkaTradeNotifier {
	return &KafkaTradeNotifier{producer: producer, topic: topic}
}

// NotifyTrade 发布成交事件。以交易对为 Key，保证同一交易对的事件有序。
func (n *KafkaTradeNotifier) NotifyTrade(ctx context.Context, trade *orderdomain.Trade) error {
	msg := TradeMessage{
		TradeID:      trade.TradeID,
		Symbol:       trade.Symbol,
		BuyOrderID:   trade.BuyOrderID,
		SellOrderID:  trade.SellOrderID,
		BuyerUserID:  trade.BuyerUserID,
		SellerUserID: trade.SellerUserID,
		Price:        trade.Price.String(),
		Quantity:     trade.Quantity.String(),
		QuoteValue:   trade.QuoteValue.String(),
		ExecutedAt:   trade.ExecutedAt.Unix(),
		PublishedAt:  time.Now().Unix(),
	}
	return n.producer.SendMessage(ctx, n.topic, trade.Symbol, msg)
}
