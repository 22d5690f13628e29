// Package domain 包含撮合上下文的领域模型：交易对与订单簿
package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidInstrument 交易对符号不合法
var ErrInvalidInstrument = errors.New("invalid instrument symbol")

// Instrument 交易对：基础资产以计价资产报价（如 XAU/USDT）
type Instrument struct {
	// 规范化符号，BASE/QUOTE 形式，统一大写
	Symbol string
	// 基础资产
	Base string
	// 计价资产
	Quote string
}

// ParseInstrument 解析并规范化交易对符号
func ParseInstrument(symbol string) (Instrument, error) {
	normalized := strings.ToUpper(strings.TrimSpace(symbol))
	parts := strings.Split(normalized, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Instrument{}, fmt.Errorf("%w: %q", ErrInvalidInstrument, symbol)
	}
	if parts[0] == parts[1] {
		return Instrument{}, fmt.Errorf("%w: base and quote must differ: %q", ErrInvalidInstrument, symbol)
	}
	return Instrument{
		Symbol: parts[0] + "/" + parts[1],
		Base:   parts[0],
		Quote:  parts[1],
	}, nil
}
