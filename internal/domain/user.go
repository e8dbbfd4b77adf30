package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// UserStatusActive marks an account counted in the admin overview.
const UserStatusActive = "active"

// UserRecord is the remote per-user row. Numeric fields are kept as strings
// so malformed data survives storage and is coerced only when read.
type UserRecord struct {
	ID                  string            `json:"id"`
	Email               string            `json:"email"`
	Username            string            `json:"username"`
	Balance             string            `json:"balance"`
	Portfolio           map[string]string `json:"portfolio,omitempty"`
	DeductionPercentage string            `json:"deduction_percentage,omitempty"`
	SendMessage         string            `json:"send_message,omitempty"`
	ProfilePictureURL   string            `json:"profile_picture_url,omitempty"`
	Status              string            `json:"status"`
	CreatedAt           time.Time         `json:"created_at"`
	UpdatedAt           time.Time         `json:"updated_at"`
}

// StoredBalance returns the administrator-set balance, zero if malformed or negative.
func (u UserRecord) StoredBalance() decimal.Decimal {
	return ParseAmount(u.Balance)
}

// Amounts decodes the stored portfolio into per-symbol amounts.
func (u UserRecord) Amounts() map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(u.Portfolio))
	for symbol, raw := range u.Portfolio {
		out[symbol] = ParseAmount(raw)
	}
	return out
}

// Deduction returns the send fee percentage.
func (u UserRecord) Deduction() decimal.Decimal {
	return ParseAmount(u.DeductionPercentage)
}

// Identity is the signed-in user.
type Identity struct {
	Email    string `json:"email"`
	Username string `json:"username"`
}

// BalanceUpdate is an administrator write against a user record.
// Nil fields are left untouched.
type BalanceUpdate struct {
	Balance             *decimal.Decimal
	Portfolio           map[string]decimal.Decimal
	DeductionPercentage *decimal.Decimal
	SendMessage         *string
	Note                string
}

// RecordChange is pushed to subscribers whenever a user record is written.
type RecordChange struct {
	Email  string     `json:"email"`
	Record UserRecord `json:"record"`
}
