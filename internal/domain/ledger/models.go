package ledger

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// CacheKey is where the cache snapshot is persisted.
const CacheKey = "@ledger_cache"

// SelfOwner is the owner key of the signed-in user's own entries.
const SelfOwner = ""

// Domain errors
var (
	ErrEntryNotFound = errors.New("cache entry not found")
	ErrInvalidEntry  = errors.New("invalid cache entry")
	ErrInvalidAmount = errors.New("amount must not be negative")
	ErrInvalidKind   = errors.New("kind must be debit or credit")
)

// Kind decides the sign an entry contributes to its account balance.
type Kind string

const (
	KindDebit  Kind = "debit"
	KindCredit Kind = "credit"
)

type SyncState string

const (
	SyncPending SyncState = "pending"
	SyncSynced  SyncState = "synced"
)

// Entry is a locally cached financial record. Amount is a magnitude; Kind
// carries the sign.
type Entry struct {
	ID        string          `json:"id"`
	Amount    decimal.Decimal `json:"amount"`
	Kind      Kind            `json:"kind"`
	Category  string          `json:"category,omitempty"`
	Details   string          `json:"details,omitempty"`
	Date      time.Time       `json:"date"`
	SyncState SyncState       `json:"syncState"`
}

// Signed returns the entry's effect on its account balance.
func (e Entry) Signed() decimal.Decimal {
	if e.Kind == KindDebit {
		return e.Amount.Neg()
	}
	return e.Amount
}

func (e Entry) Validate() error {
	if e.ID == "" {
		return ErrInvalidEntry
	}
	if e.Amount.IsNegative() {
		return ErrInvalidAmount
	}
	if e.Kind != KindDebit && e.Kind != KindCredit {
		return ErrInvalidKind
	}
	return nil
}

// Account is one owner's cached collection and its running balance.
type Account struct {
	Entries []Entry         `json:"entries"`
	Balance decimal.Decimal `json:"balance"`
}

// Fold recomputes a balance from scratch. Used on load and full replacement only.
func Fold(entries []Entry) decimal.Decimal {
	sum := decimal.Zero
	for _, e := range entries {
		sum = sum.Add(e.Signed())
	}
	return sum
}
