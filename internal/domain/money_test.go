package domain_test

import (
	"testing"

	"github.com/kekeling/kekeling/services/distribution/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestMoney(t *testing.T) {
	t.Run("Percentages round half up at the minor unit", testPercentRoundsHalfUp)
	t.Run("Percentages are never negative", testPercentNeverNegative)
	t.Run("Converting between display and minor units is exact", testMinorConversion)
}

func testPercentRoundsHalfUp(t *testing.T) {
	// 50 * 1% = 0.5 rounds up, not to even.
	assert.Equal(t, int64(1), domain.PercentOf(50, decimal.NewFromInt(1)))
	// 250 * 1% = 2.5 rounds to 3 where banker's rounding would give 2.
	assert.Equal(t, int64(3), domain.PercentOf(250, decimal.NewFromInt(1)))
	assert.Equal(t, int64(0), domain.PercentOf(49, decimal.NewFromInt(1)))
	assert.Equal(t, int64(300), domain.PercentOf(10000, decimal.NewFromInt(3)))
	assert.Equal(t, int64(150), domain.PercentOf(10000, decimal.RequireFromString("1.5")))
	assert.Equal(t, int64(2), domain.PercentOf(33, decimal.RequireFromString("4.55")))
}

func testPercentNeverNegative(t *testing.T) {
	assert.Equal(t, int64(0), domain.PercentOf(-100, decimal.NewFromInt(5)))
	assert.Equal(t, int64(0), domain.PercentOf(100, decimal.NewFromInt(-5)))
	assert.Equal(t, int64(0), domain.PercentOf(100, decimal.Zero))
}

func testMinorConversion(t *testing.T) {
	assert.Equal(t, int64(12345), domain.ToMinor(decimal.RequireFromString("123.45")))
	assert.Equal(t, int64(10), domain.ToMinor(decimal.RequireFromString("0.1")))
	assert.Equal(t, int64(1), domain.ToMinor(decimal.RequireFromString("0.005")))
	assert.True(t, decimal.RequireFromString("123.45").Equal(domain.FromMinor(12345)))
	assert.Equal(t, "0.01", domain.FromMinor(1).StringFixed(2))
}
