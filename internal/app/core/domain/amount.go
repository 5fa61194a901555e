package domain

import (
	"math"

	"github.com/shopspring/decimal"
)

var maxAmount = decimal.NewFromInt(math.MaxInt64)

// ParseAmount 將外部傳入的金額轉成最小貨幣單位的整數
// 小數、零、負數、超過 int64 的值都會被拒絕
func ParseAmount(d decimal.Decimal) (int64, error) {
	if d.Sign() <= 0 || !d.IsInteger() || d.GreaterThan(maxAmount) {
		return 0, ErrAmountMustBePositive
	}
	return d.IntPart(), nil
}

// AddBalance 回傳 balance + delta，超出 int64 範圍時回傳 ErrBalanceOverflow
func AddBalance(balance, delta int64) (int64, error) {
	if delta > 0 && balance > math.MaxInt64-delta {
		return 0, ErrBalanceOverflow
	}
	if delta < 0 && balance < math.MinInt64-delta {
		return 0, ErrBalanceOverflow
	}
	return balance + delta, nil
}
