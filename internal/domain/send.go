package domain

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

const noDeductionMessage = "No deduction applied."

var (
	ErrInvalidAddress      = errors.New("invalid destination address")
	ErrInvalidAmount       = errors.New("amount must be greater than 0")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrUnsupportedAsset    = errors.New("unsupported asset")
)

// SendRequest is a simulated withdrawal. Nothing is ever broadcast.
type SendRequest struct {
	Symbol  string
	Address string
	Amount  decimal.Decimal
}

// SendQuote tells the user what a withdrawal would require.
type SendQuote struct {
	Symbol              string          `json:"symbol"`
	Address             string          `json:"address"`
	Amount              decimal.Decimal `json:"amount"`
	DeductionPercentage decimal.Decimal `json:"deduction_percentage"`
	Fee                 decimal.Decimal `json:"fee"`
	Message             string          `json:"message"`
}

// QuoteSend validates the request against the current balance and the
// record's fee settings.
func QuoteSend(req SendRequest, balance decimal.Decimal, record UserRecord) (SendQuote, error) {
	if _, ok := AssetBySymbol(req.Symbol); !ok {
		return SendQuote{}, errors.Wrapf(ErrUnsupportedAsset, "symbol %q", req.Symbol)
	}
	if err := ValidateAddress(req.Symbol, req.Address); err != nil {
		return SendQuote{}, err
	}
	if !req.Amount.IsPositive() {
		return SendQuote{}, ErrInvalidAmount
	}
	if req.Amount.GreaterThan(balance) {
		return SendQuote{}, ErrInsufficientBalance
	}

	pct := record.Deduction()
	quote := SendQuote{
		Symbol:              req.Symbol,
		Address:             strings.TrimSpace(req.Address),
		Amount:              req.Amount,
		DeductionPercentage: pct,
		Fee:                 decimal.Zero,
	}

	switch {
	case pct.IsPositive():
		quote.Fee = req.Amount.Mul(pct).Div(decimal.NewFromInt(100)).Round(2)
		quote.Message = fmt.Sprintf("To withdraw $%s, you need to deposit a network fee of $%s first",
			req.Amount.String(), quote.Fee.StringFixed(2))
	case record.SendMessage != "":
		quote.Message = record.SendMessage
	default:
		quote.Message = noDeductionMessage
	}

	return quote, nil
}

// ValidateAddress checks the destination format for the coin's network.
func ValidateAddress(symbol, address string) error {
	address = strings.TrimSpace(address)
	if address == "" {
		return ErrInvalidAddress
	}

	if symbol == "BTC" {
		if isBitcoinAddress(address) {
			return nil
		}
		return errors.Wrapf(ErrInvalidAddress, "%q is not a bitcoin address", address)
	}

	// every other supported coin lives on an EVM chain
	if !common.IsHexAddress(address) {
		return errors.Wrapf(ErrInvalidAddress, "%q is not a hex address", address)
	}
	return nil
}

func isBitcoinAddress(a string) bool {
	lower := strings.ToLower(a)
	switch {
	case strings.HasPrefix(lower, "bc1"):
		return len(a) >= 14 && len(a) <= 74 && (a == lower || a == strings.ToUpper(a))
	case strings.HasPrefix(a, "1"), strings.HasPrefix(a, "3"):
		if len(a) < 26 || len(a) > 35 {
			return false
		}
		for _, r := range a {
			if !strings.ContainsRune(base58Alphabet, r) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

const base58Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"
