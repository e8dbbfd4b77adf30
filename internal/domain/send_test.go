package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	evmAddress = "0x695ef4038416D42cC267Fe767816963f7A528379"
	btcAddress = "bc1qg9rtnx87ha4flmm4295mwj9j3m8aztpalty8za"
)

func TestQuoteSend(t *testing.T) {
	balance := decimal.NewFromInt(1000)

	tests := []struct {
		name        string
		req         SendRequest
		record      UserRecord
		wantErr     error
		wantFee     string
		wantMessage string
	}{
		{
			name:        "deduction applied",
			req:         SendRequest{Symbol: "ETH", Address: evmAddress, Amount: decimal.NewFromInt(200)},
			record:      UserRecord{DeductionPercentage: "5"},
			wantFee:     "10",
			wantMessage: "To withdraw $200, you need to deposit a network fee of $10.00 first",
		},
		{
			name:        "custom message",
			req:         SendRequest{Symbol: "BTC", Address: btcAddress, Amount: decimal.NewFromInt(10)},
			record:      UserRecord{SendMessage: "Contact support"},
			wantFee:     "0",
			wantMessage: "Contact support",
		},
		{
			name:        "no deduction",
			req:         SendRequest{Symbol: "USDT", Address: evmAddress, Amount: decimal.NewFromInt(10)},
			wantFee:     "0",
			wantMessage: "No deduction applied.",
		},
		{
			name:    "insufficient balance",
			req:     SendRequest{Symbol: "USDT", Address: evmAddress, Amount: decimal.NewFromInt(1001)},
			wantErr: ErrInsufficientBalance,
		},
		{
			name:    "zero amount",
			req:     SendRequest{Symbol: "USDT", Address: evmAddress, Amount: decimal.Zero},
			wantErr: ErrInvalidAmount,
		},
		{
			name:    "bad evm address",
			req:     SendRequest{Symbol: "BNB", Address: "0x123", Amount: decimal.NewFromInt(1)},
			wantErr: ErrInvalidAddress,
		},
		{
			name:    "unsupported coin",
			req:     SendRequest{Symbol: "DOGE", Address: evmAddress, Amount: decimal.NewFromInt(1)},
			wantErr: ErrUnsupportedAsset,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			quote, err := QuoteSend(tt.req, balance, tt.record)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.True(t, quote.Fee.Equal(decimal.RequireFromString(tt.wantFee)), "fee %s", quote.Fee)
			assert.Equal(t, tt.wantMessage, quote.Message)
		})
	}
}

func TestValidateAddress(t *testing.T) {
	assert.NoError(t, ValidateAddress("BTC", btcAddress))
	assert.NoError(t, ValidateAddress("BTC", "1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa"))
	assert.ErrorIs(t, ValidateAddress("BTC", evmAddress), ErrInvalidAddress)
	assert.NoError(t, ValidateAddress("ETH", evmAddress))
	assert.ErrorIs(t, ValidateAddress("ETH", ""), ErrInvalidAddress)
}
