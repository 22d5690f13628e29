package domain

import (
	"container/list"
	"errors"
	"sort"

	"github.com/shopspring/decimal"

	orderdomain "github.com/wyfcoding/assetexchange/internal/order/domain"
)

var (
	// ErrOrderNotInBook 订单不在订单簿中
	ErrOrderNotInBook = errors.New("order not in book")
	// ErrNotRestable 订单不满足进簿条件
	ErrNotRestable = errors.New("order cannot rest in book")
)

// PriceLevel 同一价格档位下的订单集合，档位内时间优先 (FIFO)
type PriceLevel struct {
	Price  decimal.Decimal
	Orders *list.List // 存储 *orderdomain.Order
}

// NewPriceLevel 创建价格档位
func NewPriceLevel(price decimal.Decimal) *PriceLevel {
	return &PriceLevel{
		Price:  price,
		Orders: list.New(),
	}
}

// TotalQuantity 档位内剩余数量合计
func (l *PriceLevel) TotalQuantity() decimal.Decimal {
	total := decimal.Zero
	for el := l.Orders.Front(); el != nil; el = el.Next() {
		total = total.Add(el.Value.(*orderdomain.Order).RemainingAmount)
	}
	return total
}

// bookSide 订单簿的一侧：档位按优先级排序（买盘价格降序，卖盘价格升序）
type bookSide struct {
	levels     []*PriceLevel
	descending bool
}

// search 返回 price 应在的下标，以及该下标处是否已存在同价档位
func (s *bookSide) search(price decimal.Decimal) (int, bool) {
	i := sort.Search(len(s.levels), func(i int) bool {
		if s.descending {
			return s.levels[i].Price.LessThanOrEqual(price)
		}
		return s.levels[i].Price.GreaterThanOrEqual(price)
	})
	if i < len(s.levels) && s.levels[i].Price.Equal(price) {
		return i, true
	}
	return i, false
}

func (s *bookSide) getOrCreate(price decimal.Decimal) *PriceLevel {
	i, found := s.search(price)
	if found {
		return s.levels[i]
	}
	level := NewPriceLevel(price)
	s.levels = append(s.levels, nil)
	copy(s.levels[i+1:], s.levels[i:])
	s.levels[i] = level
	return level
}

func (s *bookSide) removeLevel(level *PriceLevel) {
	i, found := s.search(level.Price)
	if !found {
		return
	}
	s.levels = append(s.levels[:i], s.levels[i+1:]...)
}

// best 返回最优档位的队首订单
func (s *bookSide) best() *orderdomain.Order {
	if len(s.levels) == 0 {
		return nil
	}
	front := s.levels[0].Orders.Front()
	if front == nil {
		return nil
	}
	return front.Value.(*orderdomain.Order)
}

// bookEntry 订单在簿内的位置索引
type bookEntry struct {
	side    *bookSide
	level   *PriceLevel
	element *list.Element
}

// OrderBook 单个交易对的内存订单簿。
// 无内部锁：每个交易对由唯一的撮合 Worker 独占访问。
type OrderBook struct {
	Instrument Instrument

	bids  *bookSide
	asks  *bookSide
	index map[string]*bookEntry
}

// NewOrderBook 创建空订单簿
func NewOrderBook(instrument Instrument) *OrderBook {
	return &OrderBook{
		Instrument: instrument,
		bids:       &bookSide{descending: true},
		asks:       &bookSide{descending: false},
		index:      make(map[string]*bookEntry),
	}
}

// BestBid 买盘最优订单，空盘时返回 nil
func (b *OrderBook) BestBid() *orderdomain.Order {
	return b.bids.best()
}

// BestAsk 卖盘最优订单，空盘时返回 nil
func (b *OrderBook) BestAsk() *orderdomain.Order {
	return b.asks.best()
}

// Insert 将 Maker 订单加入订单簿
func (b *OrderBook) Insert(order *orderdomain.Order) error {
	if !order.RemainingAmount.IsPositive() || order.IsTerminal() {
		return ErrNotRestable
	}
	if _, exists := b.index[order.OrderID]; exists {
		return ErrNotRestable
	}

	side := b.asks
	if order.Side == orderdomain.OrderSideBuy {
		side = b.bids
	}

	level := side.getOrCreate(order.Price)
	element := level.Orders.PushBack(order)
	b.index[order.OrderID] = &bookEntry{side: side, level: level, element: element}
	return nil
}

// Remove 将订单移出订单簿（撤单或完全成交）
func (b *OrderBook) Remove(orderID string) (*orderdomain.Order, error) {
	entry, ok := b.index[orderID]
	if !ok {
		return nil, ErrOrderNotInBook
	}

	order := entry.element.Value.(*orderdomain.Order)
	entry.level.Orders.Remove(entry.element)
	if entry.level.Orders.Len() == 0 {
		entry.side.removeLevel(entry.level)
	}
	delete(b.index, orderID)
	return order, nil
}

// Reduce 就地扣减簿内订单的剩余数量，归零时移出
func (b *OrderBook) Reduce(orderID string, quantity decimal.Decimal) error {
	entry, ok := b.index[orderID]
	if !ok {
		return ErrOrderNotInBook
	}

	order := entry.element.Value.(*orderdomain.Order)
	if err := order.Fill(quantity); err != nil {
		return err
	}
	if order.RemainingAmount.IsZero() {
		_, err := b.Remove(orderID)
		return err
	}
	return nil
}

// Get 返回簿内订单，不在簿内时返回 nil
func (b *OrderBook) Get(orderID string) *orderdomain.Order {
	entry, ok := b.index[orderID]
	if !ok {
		return nil
	}
	return entry.element.Value.(*orderdomain.Order)
}

// Contains 订单是否在簿内
func (b *OrderBook) Contains(orderID string) bool {
	_, ok := b.index[orderID]
	return ok
}

// Len 簿内订单总数
func (b *OrderBook) Len() int {
	return len(b.index)
}

// Crossed 买卖盘是否交叉。撮合循环在每次变更后必须把交叉撮合干净，
// 对外可观察状态恒为 bestBid < bestAsk。
func (b *OrderBook) Crossed() bool {
	bid, ask := b.BestBid(), b.BestAsk()
	if bid == nil || ask == nil {
		return false
	}
	return bid.Price.GreaterThanOrEqual(ask.Price)
}

// BookLevel 深度档位视图
type BookLevel struct {
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
}

// Snapshot 订单簿深度快照
type Snapshot struct {
	Symbol    string       `json:"symbol"`
	Bids      []*BookLevel `json:"bids"`
	Asks      []*BookLevel `json:"asks"`
	Timestamp int64        `json:"timestamp"`
}

// Depth 取两侧前 depth 档的聚合深度
func (b *OrderBook) Depth(depth int) ([]*BookLevel, []*BookLevel) {
	return collectLevels(b.bids, depth), collectLevels(b.asks, depth)
}

func collectLevels(side *bookSide, depth int) []*BookLevel {
	if depth <= 0 || depth > len(side.levels) {
		depth = len(side.levels)
	}
	levels := make([]*BookLevel, 0, depth)
	for i := 0; i < depth; i++ {
		levels = append(levels, &BookLevel{
			Price:    side.levels[i].Price,
			Quantity: side.levels[i].TotalQuantity(),
		})
	}
	return levels
}
