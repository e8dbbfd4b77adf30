// Package portfolio joins stored coin amounts with prices into holdings.
package portfolio

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/vadiminshakov/walletsync/internal/domain"
)

type portfolioReader interface {
	ReadUserPortfolio(ctx context.Context, email string) (map[string]decimal.Decimal, error)
}

// Aggregator holds one user's holdings in supported-asset order.
// Amounts come only from storage; prices come from defaults or ApplyPrices.
type Aggregator struct {
	reader portfolioReader

	mu       sync.RWMutex
	holdings []domain.Holding
}

// NewAggregator creates an aggregator with zero amounts and default prices.
func NewAggregator(reader portfolioReader) *Aggregator {
	assets := domain.SupportedAssets()
	holdings := make([]domain.Holding, 0, len(assets))
	for _, a := range assets {
		holdings = append(holdings, domain.NewHolding(a))
	}
	return &Aggregator{reader: reader, holdings: holdings}
}

// LoadHoldings replaces every amount with the stored one. Supported coins
// missing from storage get zero; unknown stored coins are ignored. On error
// holdings are left untouched.
func (a *Aggregator) LoadHoldings(ctx context.Context, email string) error {
	amounts, err := a.reader.ReadUserPortfolio(ctx, email)
	if err != nil {
		return errors.Wrap(err, "read user portfolio")
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	for i := range a.holdings {
		amount, ok := amounts[a.holdings[i].Symbol]
		if !ok || amount.IsNegative() {
			amount = decimal.Zero
		}
		a.holdings[i].Amount = amount
	}
	return nil
}

// ApplyPrices updates price and change for every holding whose oracle id is in
// quotes. Holdings absent from quotes keep their previous values.
func (a *Aggregator) ApplyPrices(quotes map[string]domain.Quote) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := range a.holdings {
		id, ok := domain.OracleIDForSymbol(a.holdings[i].Symbol)
		if !ok {
			continue
		}
		q, ok := quotes[id]
		if !ok {
			continue
		}
		a.holdings[i].UnitPrice = q.Price
		a.holdings[i].Change24h = q.Change24h
	}
}

// AggregateValue is the sum of amount * unitPrice.
func (a *Aggregator) AggregateValue() decimal.Decimal {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.aggregateLocked()
}

// WeightedChange is the value-weighted mean 24h change. Zero for an empty portfolio.
func (a *Aggregator) WeightedChange() decimal.Decimal {
	a.mu.RLock()
	defer a.mu.RUnlock()

	weighted := decimal.Zero
	for _, h := range a.holdings {
		weighted = weighted.Add(h.Change24h.Mul(h.Value()))
	}
	total := a.aggregateLocked()
	if total.IsZero() {
		total = decimal.NewFromInt(1)
	}
	return weighted.Div(total)
}

// Snapshot returns a copy of the holdings.
func (a *Aggregator) Snapshot() []domain.Holding {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]domain.Holding, len(a.holdings))
	copy(out, a.holdings)
	return out
}

// OracleIDs lists the ids to request from the price oracle.
func (a *Aggregator) OracleIDs() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	ids := make([]string, 0, len(a.holdings))
	for _, h := range a.holdings {
		if id, ok := domain.OracleIDForSymbol(h.Symbol); ok {
			ids = append(ids, id)
		}
	}
	return ids
}

func (a *Aggregator) aggregateLocked() decimal.Decimal {
	total := decimal.Zero
	for _, h := range a.holdings {
		total = total.Add(h.Value())
	}
	return total
}
