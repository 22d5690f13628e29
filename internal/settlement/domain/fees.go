// Package domain 包含结算上下文的领域模型：费率与结算校验
package domain

import (
	"fmt"

	"github.com/shopspring/decimal"

	orderdomain "github.com/wyfcoding/assetexchange/internal/order/domain"
)

// FeeSchedule 手续费表。
// 手续费按订单角色计费，从各方收到的资产中扣除：
// 买方收基础资产，费用以基础资产计；卖方收计价资产，费用以计价资产计。
type FeeSchedule struct {
	// Maker 费率
	MakerRate decimal.Decimal
	// Taker 费率
	TakerRate decimal.Decimal
}

// NewFeeSchedule 解析费率字符串
func NewFeeSchedule(makerRate, takerRate string) (FeeSchedule, error) {
	maker, err := decimal.NewFromString(makerRate)
	if err != nil {
		return FeeSchedule{}, fmt.Errorf("invalid maker fee rate %q: %w", makerRate, err)
	}
	taker, err := decimal.NewFromString(takerRate)
	if err != nil {
		return FeeSchedule{}, fmt.Errorf("invalid taker fee rate %q: %w", takerRate, err)
	}
	s := FeeSchedule{MakerRate: maker, TakerRate: taker}
	if err := s.Validate(); err != nil {
		return FeeSchedule{}, err
	}
	return s, nil
}

// Validate 费率必须在 [0, 1) 区间
func (s FeeSchedule) Validate() error {
	one := decimal.NewFromInt(1)
	for _, rate := range []decimal.Decimal{s.MakerRate, s.TakerRate} {
		if rate.IsNegative() || rate.GreaterThanOrEqual(one) {
			return fmt.Errorf("fee rate out of range [0,1): %s", rate)
		}
	}
	return nil
}

// FeeFor 按订单角色对入账金额计费
func (s FeeSchedule) FeeFor(role orderdomain.OrderRole, credited decimal.Decimal) decimal.Decimal {
	rate := s.TakerRate
	if role == orderdomain.OrderRoleMaker {
		rate = s.MakerRate
	}
	return credited.Mul(rate)
}
