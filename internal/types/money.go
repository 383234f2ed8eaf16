// README: Common money value object used across modules.
package types

import "fmt"

// Currency used for every stored amount. Amounts are in minor units (piasters).
const Currency = "EGP"

type Money struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

func EGP(amount int64) Money {
	return Money{Amount: amount, Currency: Currency}
}

func (m Money) String() string {
	sign, v := "", m.Amount
	if v < 0 {
		sign, v = "-", -v
	}
	return fmt.Sprintf("%s%d.%02d %s", sign, v/100, v%100, m.Currency)
}
