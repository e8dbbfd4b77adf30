package pricer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/vadiminshakov/walletsync/internal/domain"
)

// DefaultCoinGeckoURL is the public simple price endpoint. No API key needed.
const DefaultCoinGeckoURL = "https://api.coingecko.com/api/v3/simple/price"

// CoinGeckoOracle queries the CoinGecko simple price API.
type CoinGeckoOracle struct {
	client  *http.Client
	baseURL string
}

// NewCoinGeckoOracle creates an oracle. Empty baseURL means DefaultCoinGeckoURL.
func NewCoinGeckoOracle(baseURL string, client *http.Client) *CoinGeckoOracle {
	if baseURL == "" {
		baseURL = DefaultCoinGeckoURL
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &CoinGeckoOracle{client: client, baseURL: baseURL}
}

type coinGeckoQuote struct {
	USD          *json.Number `json:"usd"`
	USD24hChange *json.Number `json:"usd_24h_change"`
}

// FetchPrices implements Oracle.
func (o *CoinGeckoOracle) FetchPrices(ctx context.Context, ids []string) (map[string]domain.Quote, error) {
	q := url.Values{}
	q.Set("ids", strings.Join(ids, ","))
	q.Set("vs_currencies", "usd")
	q.Set("include_24hr_change", "true")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "build coingecko request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "coingecko request")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("coingecko returned status %d", resp.StatusCode)
	}

	var payload map[string]coinGeckoQuote
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(&payload); err != nil {
		return nil, errors.Wrap(err, "decode coingecko response")
	}

	quotes := make(map[string]domain.Quote, len(payload))
	for id, raw := range payload {
		if raw.USD == nil {
			continue
		}
		price, err := decimal.NewFromString(raw.USD.String())
		if err != nil {
			continue
		}
		change := decimal.Zero
		if raw.USD24hChange != nil {
			if c, err := decimal.NewFromString(raw.USD24hChange.String()); err == nil {
				change = c
			}
		}
		quotes[id] = domain.Quote{Price: price, Change24h: change}
	}

	return quotes, nil
}
