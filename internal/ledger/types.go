package ledger

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"ecocredit.org/internal/ids"
)

// Reason classifies why an entry was appended.
type Reason string

const (
	ReasonActionApproved    Reason = "action_approved"
	ReasonMarketplaceRedeem Reason = "marketplace_redeem"
)

// Valid reports whether r is a known reason.
func (r Reason) Valid() bool {
	return r == ReasonActionApproved || r == ReasonMarketplaceRedeem
}

// Account is the cached projection of an account's entries.
// CreditBalance always equals the sum of the account's entry amounts.
type Account struct {
	ID            string          `json:"id"`
	CreditBalance decimal.Decimal `json:"creditBalance"`
	TotalCO2Saved decimal.Decimal `json:"totalCo2Saved"`
	IsPremium     bool            `json:"isPremium"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// Entry is one append-only ledger line. Amount is negative for debits.
type Entry struct {
	ID           string          `json:"id"`
	AccountID    string          `json:"accountId"`
	Amount       decimal.Decimal `json:"amount"`
	Reason       Reason          `json:"reason"`
	ReferenceID  string          `json:"referenceId"`
	BalanceAfter decimal.Decimal `json:"balanceAfter"`
	Sequence     uint64          `json:"sequence"`
	CreatedAt    time.Time       `json:"createdAt"`
}

// Posting is a request to grant or debit. Amount is always positive;
// the direction comes from the operation.
type Posting struct {
	AccountID   string
	Amount      decimal.Decimal
	Reason      Reason
	ReferenceID string
}

// Validate checks the fields every posting needs.
func (p Posting) Validate() error {
	if p.AccountID == "" {
		return ErrInvalidAccount
	}
	if !p.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	if !p.Reason.Valid() {
		return ErrInvalidReason
	}
	if p.ReferenceID == "" {
		return ErrMissingReference
	}
	return nil
}

var (
	ErrNotFound            = errors.New("not found")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidAmount       = errors.New("invalid amount (must be > 0)")
	ErrInvalidAccount      = errors.New("account id is required")
	ErrInvalidReason       = errors.New("invalid reason")
	ErrMissingReference    = errors.New("reference id is required")
)

// NewEntryID returns an identifier for a ledger entry.
func NewEntryID() string {
	return ids.WithPrefix("ent")
}
