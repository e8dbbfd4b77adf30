// Package domain defines core data structures used throughout the wallet.
package domain

import "github.com/shopspring/decimal"

// Asset is a coin the wallet knows how to display and price.
type Asset struct {
	Symbol       string
	Name         string
	OracleID     string
	Image        string
	DefaultPrice decimal.Decimal
	// DefaultChange 24h change in percent shown before live prices arrive.
	DefaultChange decimal.Decimal
}

var supportedAssets = []Asset{
	{
		Symbol:        "BTC",
		Name:          "Bitcoin",
		OracleID:      "bitcoin",
		Image:         "https://assets.coingecko.com/coins/images/1/large/bitcoin.png",
		DefaultPrice:  decimal.RequireFromString("53450.00"),
		DefaultChange: decimal.RequireFromString("1.23"),
	},
	{
		Symbol:        "BNB",
		Name:          "Binance Coin",
		OracleID:      "binancecoin",
		Image:         "https://s2.coinmarketcap.com/static/img/coins/64x64/1839.png",
		DefaultPrice:  decimal.RequireFromString("245.67"),
		DefaultChange: decimal.RequireFromString("-0.45"),
	},
	{
		Symbol:        "ETH",
		Name:          "Ethereum",
		OracleID:      "ethereum",
		Image:         "https://assets.coingecko.com/coins/images/279/large/ethereum.png",
		DefaultPrice:  decimal.RequireFromString("2345.89"),
		DefaultChange: decimal.RequireFromString("3.21"),
	},
	{
		Symbol:        "USDT",
		Name:          "Tether",
		OracleID:      "tether",
		Image:         "https://assets.coingecko.com/coins/images/325/large/Tether.png",
		DefaultPrice:  decimal.RequireFromString("1.00"),
		DefaultChange: decimal.RequireFromString("0.01"),
	},
	{
		Symbol:        "TUSD",
		Name:          "TrueUSD",
		OracleID:      "true-usd",
		Image:         "https://assets.coingecko.com/coins/images/3449/large/tusd.png",
		DefaultPrice:  decimal.RequireFromString("1.00"),
		DefaultChange: decimal.RequireFromString("0.01"),
	},
	{
		Symbol:        "USDC",
		Name:          "USD Coin",
		OracleID:      "usd-coin",
		Image:         "https://assets.coingecko.com/coins/images/6319/large/USD_Coin_icon.png",
		DefaultPrice:  decimal.RequireFromString("1.00"),
		DefaultChange: decimal.RequireFromString("0.01"),
	},
}

// SupportedAssets returns a copy of the supported asset list in display order.
func SupportedAssets() []Asset {
	out := make([]Asset, len(supportedAssets))
	copy(out, supportedAssets)
	return out
}

// AssetBySymbol looks up a supported asset.
func AssetBySymbol(symbol string) (Asset, bool) {
	for _, a := range supportedAssets {
		if a.Symbol == symbol {
			return a, true
		}
	}
	return Asset{}, false
}

// OracleIDForSymbol maps a coin symbol to its price oracle id.
func OracleIDForSymbol(symbol string) (string, bool) {
	a, ok := AssetBySymbol(symbol)
	if !ok || a.OracleID == "" {
		return "", false
	}
	return a.OracleID, true
}

// SymbolForOracleID is the reverse of OracleIDForSymbol.
func SymbolForOracleID(id string) (string, bool) {
	for _, a := range supportedAssets {
		if a.OracleID != "" && a.OracleID == id {
			return a.Symbol, true
		}
	}
	return "", false
}

// Quote is a live price observation for one oracle id.
type Quote struct {
	Price decimal.Decimal
	// Change24h is in percent, e.g. 2.5 means +2.5%.
	Change24h decimal.Decimal
}
