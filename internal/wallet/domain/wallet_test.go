package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestWallet_CreditDebit(t *testing.T) {
	w := NewWallet("WAL-1", "user-1", "USDT")
	assert.True(t, w.Total().IsZero())

	require.NoError(t, w.Credit(d("100")))
	assert.True(t, w.Available.Equal(d("100")))

	require.NoError(t, w.Debit(d("30")))
	assert.True(t, w.Available.Equal(d("70")))

	assert.ErrorIs(t, w.Debit(d("70.01")), ErrInsufficientFunds)
	assert.ErrorIs(t, w.Credit(decimal.Zero), ErrInvalidAmount)
	assert.ErrorIs(t, w.Debit(d("-1")), ErrInvalidAmount)
}

func TestWallet_ReserveReleaseConsume(t *testing.T) {
	w := NewWallet("WAL-1", "user-1", "USDT")
	require.NoError(t, w.Credit(d("100")))

	// 预留只在可用与锁定之间转移，总额不变
	require.NoError(t, w.Reserve(d("60")))
	assert.True(t, w.Available.Equal(d("40")))
	assert.True(t, w.Locked.Equal(d("60")))
	assert.True(t, w.Total().Equal(d("100")))

	assert.ErrorIs(t, w.Reserve(d("40.01")), ErrInsufficientFunds)

	require.NoError(t, w.Release(d("10")))
	assert.True(t, w.Available.Equal(d("50")))
	assert.True(t, w.Locked.Equal(d("50")))

	assert.ErrorIs(t, w.Release(d("50.01")), ErrInsufficientLocked)

	// 结算消耗锁定余额，总额下降
	require.NoError(t, w.ConsumeLocked(d("50")))
	assert.True(t, w.Locked.IsZero())
	assert.True(t, w.Total().Equal(d("50")))

	assert.ErrorIs(t, w.ConsumeLocked(d("0.01")), ErrInsufficientLocked)
}
