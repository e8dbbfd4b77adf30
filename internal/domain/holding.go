package domain

import "github.com/shopspring/decimal"

// Holding is the user's position in one supported coin.
type Holding struct {
	Symbol      string
	DisplayName string
	Amount      decimal.Decimal
	UnitPrice   decimal.Decimal
	Change24h   decimal.Decimal
	Image       string
}

// NewHolding creates a zero-amount holding priced with the asset defaults.
func NewHolding(a Asset) Holding {
	return Holding{
		Symbol:      a.Symbol,
		DisplayName: a.Name,
		Amount:      decimal.Zero,
		UnitPrice:   a.DefaultPrice,
		Change24h:   a.DefaultChange,
		Image:       a.Image,
	}
}

// Value returns amount * unitPrice.
func (h Holding) Value() decimal.Decimal {
	return h.Amount.Mul(h.UnitPrice)
}

// ParseAmount decodes a stored amount. Malformed and negative input yields zero.
func ParseAmount(raw string) decimal.Decimal {
	d, err := decimal.NewFromString(raw)
	if err != nil || d.IsNegative() {
		return decimal.Zero
	}
	return d
}
