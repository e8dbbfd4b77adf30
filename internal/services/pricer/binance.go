package pricer

import (
	"context"

	"github.com/adshao/go-binance/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/vadiminshakov/walletsync/internal/domain"
)

const quoteAsset = "USDT"

// BinanceOracle prices coins from Binance 24h ticker statistics against USDT.
type BinanceOracle struct {
	client *binance.Client
}

// NewBinanceOracle creates an oracle over a (possibly unauthenticated) Binance client.
func NewBinanceOracle(client *binance.Client) *BinanceOracle {
	return &BinanceOracle{client: client}
}

// FetchPrices implements Oracle.
func (o *BinanceOracle) FetchPrices(ctx context.Context, ids []string) (map[string]domain.Quote, error) {
	symbolToID := exchangeSymbols(ids)
	if len(symbolToID) == 0 {
		return map[string]domain.Quote{}, nil
	}

	symbols := make([]string, 0, len(symbolToID))
	for s := range symbolToID {
		symbols = append(symbols, s)
	}

	stats, err := o.client.NewListPriceChangeStatsService().Symbols(symbols).Do(ctx)
	if err != nil {
		return nil, err
	}
	if len(stats) == 0 {
		return nil, errors.Errorf("binance API returned empty stats for %v", symbols)
	}

	quotes := make(map[string]domain.Quote, len(stats))
	for _, st := range stats {
		id, ok := symbolToID[st.Symbol]
		if !ok {
			continue
		}
		price, err := decimal.NewFromString(st.LastPrice)
		if err != nil {
			continue
		}
		change, err := decimal.NewFromString(st.PriceChangePercent)
		if err != nil {
			change = decimal.Zero
		}
		quotes[id] = domain.Quote{Price: price, Change24h: change}
	}

	return quotes, nil
}

// exchangeSymbols maps oracle ids to <SYMBOL>USDT markets. The quote asset itself has no market.
func exchangeSymbols(ids []string) map[string]string {
	out := make(map[string]string, len(ids))
	for _, id := range ids {
		sym, ok := domain.SymbolForOracleID(id)
		if !ok || sym == quoteAsset {
			continue
		}
		out[sym+quoteAsset] = id
	}
	return out
}
