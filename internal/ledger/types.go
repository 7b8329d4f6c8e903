package ledger

import (
	"errors"
	"time"

	"unitask.org/internal/ids"
)

// DefaultCurrency is the platform settlement token.
const DefaultCurrency = "UNI"

// Money is represented in minor units. No floats.
type Money struct {
	Currency string `json:"currency"`
	Amount   int64  `json:"amount"`
}

func (m Money) IsPositive() bool { return m.Amount > 0 }
func (m Money) IsZero() bool     { return m.Amount == 0 }

// Account holds per-currency balances. Account ids are supplied by the
// caller so that marketplace identities double as ledger account ids.
type Account struct {
	ID        string           `json:"id"`
	CreatedAt time.Time        `json:"created_at"`
	Balances  map[string]int64 `json:"balances"` // currency -> minor units
}

// clone copies the account so callers cannot reach the live balance map.
func (a *Account) clone() Account {
	out := *a
	out.Balances = make(map[string]int64, len(a.Balances))
	for currency, amount := range a.Balances {
		out.Balances[currency] = amount
	}
	return out
}

// Transaction is a double-entry transfer result.
type Transaction struct {
	ID             string    `json:"id"`
	CreatedAt      time.Time `json:"created_at"`
	FromAccountID  string    `json:"from_account_id"`
	ToAccountID    string    `json:"to_account_id"`
	Currency       string    `json:"currency"`
	Amount         int64     `json:"amount"` // minor units
	Reason         string    `json:"reason,omitempty"`
	IdempotencyKey string    `json:"idempotency_key,omitempty"`
	Sequence       uint64    `json:"sequence"` // monotonic sequence number
}

var (
	ErrNotFound          = errors.New("not found")
	ErrAccountExists     = errors.New("account already exists")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidAmount     = errors.New("invalid amount (must be > 0)")
	ErrInvalidCurrency   = errors.New("invalid currency")
	ErrInvalidAccountID  = errors.New("invalid account id")
)

func newID() string {
	return ids.WithPrefix("tx")
}
