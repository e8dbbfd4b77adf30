package domain

import (
	"strings"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

const (
	// PlaceholderValue is shown before the first value is known.
	PlaceholderValue = "...."
	// PlaceholderChange is shown while the change is unknown.
	PlaceholderChange = "--"
)

// FormatUSD renders a value like "$1,234.56".
func FormatUSD(v decimal.Decimal) string {
	cents := v.Round(2).Shift(2).IntPart()
	return money.New(cents, money.USD).Display()
}

// FormatChange renders a percent change with an explicit sign, e.g. "+2.50%".
func FormatChange(c decimal.Decimal) string {
	r := c.Round(2)
	s := r.StringFixed(2) + "%"
	if !r.IsNegative() {
		s = "+" + s
	}
	return s
}

// Mask replaces every character of a rendered value with '*'.
func Mask(rendered string) string {
	return strings.Repeat("*", len([]rune(rendered)))
}
