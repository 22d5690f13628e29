package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	orderdomain "github.com/wyfcoding/assetexchange/internal/order/domain"
)

func TestNewFeeSchedule(t *testing.T) {
	_, err := NewFeeSchedule("0", "0.001")
	require.NoError(t, err)

	for _, tc := range [][2]string{
		{"abc", "0.001"},
		{"0", "xyz"},
		{"-0.1", "0"},
		{"0", "1"},
	} {
		_, err := NewFeeSchedule(tc[0], tc[1])
		assert.Error(t, err, "rates %v", tc)
	}
}

func TestFeeSchedule_FeeFor(t *testing.T) {
	fees, err := NewFeeSchedule("0.0005", "0.002")
	require.NoError(t, err)

	credited := decimal.RequireFromString("100")
	assert.True(t, fees.FeeFor(orderdomain.OrderRoleMaker, credited).Equal(decimal.RequireFromString("0.05")))
	assert.True(t, fees.FeeFor(orderdomain.OrderRoleTaker, credited).Equal(decimal.RequireFromString("0.2")))
}
