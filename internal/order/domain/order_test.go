package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBuyOrder(price, amount string) *Order {
	return NewOrder("ORD-1", "user-1", "XAU/USDT", OrderSideBuy,
		decimal.RequireFromString(price), decimal.RequireFromString(amount), "")
}

func TestOrder_Validate(t *testing.T) {
	valid := newBuyOrder("100", "1")
	require.NoError(t, valid.Validate())

	cases := []struct {
		name   string
		mutate func(*Order)
	}{
		{"empty user", func(o *Order) { o.UserID = "" }},
		{"empty symbol", func(o *Order) { o.Symbol = "" }},
		{"bad side", func(o *Order) { o.Side = "HOLD" }},
		{"zero amount", func(o *Order) { o.OriginalAmount = decimal.Zero }},
		{"negative price", func(o *Order) { o.Price = decimal.RequireFromString("-1") }},
		{"zero price", func(o *Order) { o.Price = decimal.Zero }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			o := newBuyOrder("100", "1")
			tc.mutate(o)
			assert.ErrorIs(t, o.Validate(), ErrInvalidOrder)
		})
	}
}

func TestOrder_Lifecycle(t *testing.T) {
	o := newBuyOrder("100", "1")
	assert.Equal(t, OrderStatusPending, o.Status)
	assert.Equal(t, OrderRoleTaker, o.Role)

	require.NoError(t, o.Confirm())
	assert.Equal(t, OrderStatusConfirmed, o.Status)

	// 重复确认被拒绝
	assert.ErrorIs(t, o.Confirm(), ErrInvalidState)

	o.Rest()
	assert.Equal(t, OrderRoleMaker, o.Role)
}

func TestOrder_Fill(t *testing.T) {
	o := newBuyOrder("100", "2")
	require.NoError(t, o.Confirm())

	t.Run("rejects non-positive and overfill", func(t *testing.T) {
		assert.ErrorIs(t, o.Fill(decimal.Zero), ErrInvalidState)
		assert.ErrorIs(t, o.Fill(decimal.RequireFromString("-1")), ErrInvalidState)
		assert.ErrorIs(t, o.Fill(decimal.RequireFromString("2.5")), ErrInvalidState)
	})

	t.Run("partial fill", func(t *testing.T) {
		require.NoError(t, o.Fill(decimal.RequireFromString("0.5")))
		assert.Equal(t, OrderStatusPartiallyFilled, o.Status)
		assert.True(t, o.RemainingAmount.Equal(decimal.RequireFromString("1.5")))
		assert.True(t, o.FilledAmount().Equal(decimal.RequireFromString("0.5")))
	})

	t.Run("fill to completion", func(t *testing.T) {
		require.NoError(t, o.Fill(decimal.RequireFromString("1.5")))
		assert.Equal(t, OrderStatusCompleted, o.Status)
		assert.True(t, o.RemainingAmount.IsZero())
		assert.False(t, o.IsMatchable())
	})

	t.Run("terminal order cannot fill", func(t *testing.T) {
		assert.ErrorIs(t, o.Fill(decimal.RequireFromString("1")), ErrInvalidState)
	})
}

func TestOrder_Cancel(t *testing.T) {
	o := newBuyOrder("100", "1")
	assert.True(t, o.CanBeCancelled())
	require.NoError(t, o.Cancel())
	assert.Equal(t, OrderStatusCancelled, o.Status)
	assert.True(t, o.IsTerminal())

	// 终态后不可再取消或失败
	assert.ErrorIs(t, o.Cancel(), ErrInvalidState)
	assert.ErrorIs(t, o.Fail(), ErrInvalidState)
}

func TestOrder_RemainingQuote(t *testing.T) {
	o := newBuyOrder("100.5", "2")
	assert.True(t, o.RemainingQuote().Equal(decimal.RequireFromString("201")))

	require.NoError(t, o.Confirm())
	require.NoError(t, o.Fill(decimal.RequireFromString("1")))
	assert.True(t, o.RemainingQuote().Equal(decimal.RequireFromString("100.5")))
}
