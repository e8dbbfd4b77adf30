package pricer

import (
	"context"

	"github.com/vadiminshakov/walletsync/internal/domain"
)

// SimulateOracle answers with the built-in default price table. Used for
// offline runs and demos.
type SimulateOracle struct{}

func NewSimulateOracle() *SimulateOracle {
	return &SimulateOracle{}
}

// FetchPrices implements Oracle.
func (o *SimulateOracle) FetchPrices(ctx context.Context, ids []string) (map[string]domain.Quote, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	quotes := make(map[string]domain.Quote, len(ids))
	for _, id := range ids {
		sym, ok := domain.SymbolForOracleID(id)
		if !ok {
			continue
		}
		a, _ := domain.AssetBySymbol(sym)
		quotes[id] = domain.Quote{Price: a.DefaultPrice, Change24h: a.DefaultChange}
	}
	return quotes, nil
}
