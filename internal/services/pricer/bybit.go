package pricer

import (
	"context"

	"github.com/hirokisan/bybit/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/vadiminshakov/walletsync/internal/domain"
)

var hundred = decimal.NewFromInt(100)

// BybitOracle prices coins from Bybit V5 spot tickers against USDT.
type BybitOracle struct {
	client *bybit.Client
}

func NewBybitOracle(client *bybit.Client) *BybitOracle {
	return &BybitOracle{client: client}
}

// FetchPrices implements Oracle. The bybit client takes no context, so ctx is
// only checked between symbols; the Budgeted wrapper bounds the total time.
func (o *BybitOracle) FetchPrices(ctx context.Context, ids []string) (map[string]domain.Quote, error) {
	quotes := make(map[string]domain.Quote, len(ids))
	var lastErr error

	for symbolStr, id := range exchangeSymbols(ids) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		symbol := bybit.SymbolV5(symbolStr)
		result, err := o.client.V5().Market().GetTickers(bybit.V5GetTickersParam{
			Category: "spot",
			Symbol:   &symbol,
		})
		if err != nil {
			lastErr = err
			continue
		}
		if result == nil || len(result.Result.Spot.List) == 0 {
			lastErr = errors.Errorf("bybit API returned empty tickers for %s", symbolStr)
			continue
		}

		item := result.Result.Spot.List[0]
		price, err := decimal.NewFromString(item.LastPrice)
		if err != nil {
			lastErr = err
			continue
		}
		change := decimal.Zero
		if pct, err := decimal.NewFromString(item.Price24HPcnt); err == nil {
			change = pct.Mul(hundred)
		}
		quotes[id] = domain.Quote{Price: price, Change24h: change}
	}

	if len(quotes) == 0 && lastErr != nil {
		return nil, lastErr
	}
	return quotes, nil
}
