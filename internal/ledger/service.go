package ledger

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Service is the token ledger contract the marketplace settles
// against. Transfer is atomic: the caller either observes the full
// double entry or an error with no balance change. Passing the same
// idempotency key replays the recorded transaction instead of moving
// funds twice.
type Service interface {
	OpenAccount(ctx context.Context, id string, initial Money) (Account, error)
	GetAccount(ctx context.Context, id string) (Account, error)
	GetBalance(ctx context.Context, id, currency string) (Money, error)
	Transfer(ctx context.Context, fromID, toID string, amt Money, reason, idemKey string) (Transaction, error)
	ListTransactions(ctx context.Context, limit int, afterSeq uint64) ([]Transaction, uint64, error)
}

const maxAccountIDLen = 64

// InMemory keeps the whole ledger in process memory. Deployments with
// a UNITASK_PG_DSN use the store/pg implementation instead.
type InMemory struct {
	mu        sync.RWMutex
	accounts  map[string]*Account
	log       []Transaction
	byIdemKey map[string]Transaction
	nextSeq   uint64
}

func NewInMemory() *InMemory {
	return &InMemory{
		accounts:  make(map[string]*Account),
		byIdemKey: make(map[string]Transaction),
	}
}

func (l *InMemory) OpenAccount(ctx context.Context, id string, initial Money) (Account, error) {
	id = strings.TrimSpace(id)
	if id == "" || len(id) > maxAccountIDLen {
		return Account{}, ErrInvalidAccountID
	}
	if initial.Currency == "" {
		return Account{}, ErrInvalidCurrency
	}
	if initial.Amount < 0 {
		return Account{}, ErrInvalidAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, taken := l.accounts[id]; taken {
		return Account{}, ErrAccountExists
	}
	acct := &Account{
		ID:        id,
		CreatedAt: time.Now().UTC(),
		Balances:  map[string]int64{initial.Currency: initial.Amount},
	}
	l.accounts[id] = acct
	return acct.clone(), nil
}

func (l *InMemory) GetAccount(ctx context.Context, id string) (Account, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	acct, ok := l.accounts[id]
	if !ok {
		return Account{}, ErrNotFound
	}
	return acct.clone(), nil
}

func (l *InMemory) GetBalance(ctx context.Context, id, currency string) (Money, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	acct, ok := l.accounts[id]
	if !ok {
		return Money{}, ErrNotFound
	}
	return Money{Currency: currency, Amount: acct.Balances[currency]}, nil
}

func (l *InMemory) Transfer(ctx context.Context, fromID, toID string, amt Money, reason, idemKey string) (Transaction, error) {
	if !amt.IsPositive() {
		return Transaction{}, ErrInvalidAmount
	}
	if amt.Currency == "" {
		return Transaction{}, ErrInvalidCurrency
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if idemKey != "" {
		if prior, replay := l.byIdemKey[idemKey]; replay {
			return prior, nil
		}
	}

	from, ok := l.accounts[fromID]
	if !ok {
		return Transaction{}, ErrNotFound
	}
	to, ok := l.accounts[toID]
	if !ok {
		return Transaction{}, ErrNotFound
	}
	if from.Balances[amt.Currency] < amt.Amount {
		return Transaction{}, ErrInsufficientFunds
	}

	// Both legs move under the same lock, so every observer sees the
	// sum of balances unchanged.
	from.Balances[amt.Currency] -= amt.Amount
	to.Balances[amt.Currency] += amt.Amount

	l.nextSeq++
	tx := Transaction{
		ID:             newID(),
		CreatedAt:      time.Now().UTC(),
		FromAccountID:  fromID,
		ToAccountID:    toID,
		Currency:       amt.Currency,
		Amount:         amt.Amount,
		Reason:         reason,
		IdempotencyKey: idemKey,
		Sequence:       l.nextSeq,
	}
	l.log = append(l.log, tx)
	if idemKey != "" {
		l.byIdemKey[idemKey] = tx
	}
	return tx, nil
}

// ListTransactions pages through the transfer log in sequence order.
// afterSeq is the cursor from the previous page; zero starts over.
func (l *InMemory) ListTransactions(ctx context.Context, limit int, afterSeq uint64) ([]Transaction, uint64, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	var (
		page []Transaction
		last uint64
	)
	for _, tx := range l.log {
		if tx.Sequence <= afterSeq {
			continue
		}
		page = append(page, tx)
		last = tx.Sequence
		if len(page) >= limit {
			break
		}
	}
	return page, last, nil
}
