package contract

import (
	"errors"
	"math/big"

	"github.com/shopspring/decimal"
)

// TokenDecimals 稳定币精度
const TokenDecimals int32 = 18

var ErrFractionalBaseUnits = errors.New("amount has more precision than token decimals")

// ToBaseUnits 把展示金额转为链上最小单位，超出精度的金额直接拒绝而不是截断
func ToBaseUnits(amount decimal.Decimal, decimals int32) (*big.Int, error) {
	scaled := amount.Shift(decimals)
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, ErrFractionalBaseUnits
	}
	return scaled.BigInt(), nil
}

// FromBaseUnits 链上最小单位转展示金额
func FromBaseUnits(amount *big.Int, decimals int32) decimal.Decimal {
	if amount == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(amount, -decimals)
}
