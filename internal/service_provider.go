package internal

import (
	"fmt"
	"net/http"
	"time"

	binance "github.com/adshao/go-binance/v2"
	bybit "github.com/hirokisan/bybit/v2"

	"github.com/vadiminshakov/walletsync/config"
	"github.com/vadiminshakov/walletsync/internal/clients"
	"github.com/vadiminshakov/walletsync/internal/services/pricer"
)

// NewOracleClient creates the market data client named by the oracle setting.
// Only public endpoints are used, so no API keys are needed.
func NewOracleClient(oracle string) (any, error) {
	switch oracle {
	case config.OracleCoinGecko:
		return clients.NewCoinGeckoClient(), nil
	case config.OracleBinance:
		return clients.NewPublicBinanceClient(), nil
	case config.OracleBybit:
		return clients.NewPublicBybitClient(), nil
	case config.OracleSimulate:
		return clients.NewSimulateClient(), nil
	default:
		return nil, fmt.Errorf("unsupported oracle: %s", oracle)
	}
}

// newOracle creates the price oracle for the client type and wraps it in the
// hard request budget. This is the single point of dispatch to platform code.
func newOracle(client any, oracleURL string, budget time.Duration) (pricer.Oracle, error) {
	var oracle pricer.Oracle
	switch c := client.(type) {
	case *http.Client:
		oracle = pricer.NewCoinGeckoOracle(oracleURL, c)
	case *binance.Client:
		oracle = pricer.NewBinanceOracle(c)
	case *bybit.Client:
		oracle = pricer.NewBybitOracle(c)
	case *clients.SimulateClient:
		oracle = pricer.NewSimulateOracle()
	default:
		return nil, fmt.Errorf("unsupported client type: %T", client)
	}
	return pricer.NewBudgeted(oracle, budget), nil
}
