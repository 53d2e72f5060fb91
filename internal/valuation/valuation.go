// Package valuation converts priced asset quantities into settlement
// token units. It is pure: no state, no side effects.
package valuation

import (
	"fmt"

	"github.com/Aidin1998/coinvest_unified/pkg/errs"
	"github.com/Aidin1998/coinvest_unified/pkg/numeric"
)

// CalculateValue returns the total value of the amounts at the given
// prices, expressed in units of the settlement token:
//
//	total = sum(amounts[i] * prices[i] / scale)
//	value = total * scale / settlementPrice
//
// Every multiplication is overflow-checked and fails with
// ErrValueOverflow.
func CalculateValue(amounts, prices []numeric.Value, settlementPrice numeric.Value) (numeric.Value, error) {
	if len(amounts) != len(prices) {
		return numeric.Zero(), fmt.Errorf("amounts and prices: %w", errs.ErrLengthMismatch)
	}

	total := numeric.Zero()
	for i := range amounts {
		term, err := amounts[i].Mul(prices[i])
		if err != nil {
			return numeric.Zero(), err
		}
		total, err = total.Add(term)
		if err != nil {
			return numeric.Zero(), err
		}
	}
	return total.Div(settlementPrice)
}
