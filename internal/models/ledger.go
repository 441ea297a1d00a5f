package models

import (
	"time"
)

// Currency tags every ledger amount. POINTS is the legacy in-app points
// denomination kept alongside MYST; the two never mix in one entry.
type Currency string

const (
	CurrencyMYST   Currency = "MYST"
	CurrencyPoints Currency = "POINTS"
)

func (c Currency) Valid() bool {
	return c == CurrencyMYST || c == CurrencyPoints
}

// EntryType enumerates the reasons value moves on the ledger.
type EntryType string

const (
	EntryDemoGrant        EntryType = "DEMO_GRANT"
	EntryAdminGrant       EntryType = "ADMIN_GRANT"
	EntryPredictionPayout EntryType = "PREDICTION_PAYOUT"
	EntryReferralReward   EntryType = "REFERRAL_REWARD"
	EntryBetStake         EntryType = "BET_STAKE"
	EntryWithdrawalBurn   EntryType = "WITHDRAWAL_BURN"
	EntryCampaignFee      EntryType = "CAMPAIGN_FEE"
	EntryBoost            EntryType = "BOOST"
)

// IsCredit reports whether the entry type moves value into an account.
// Debit types are stored with negative amounts.
func (t EntryType) IsCredit() bool {
	switch t {
	case EntryDemoGrant, EntryAdminGrant, EntryPredictionPayout, EntryReferralReward:
		return true
	}
	return false
}

// LedgerEntry is an immutable signed value movement. A user account's
// balance is the sum of its entries per currency; entries are never
// updated or deleted.
type LedgerEntry struct {
	ID            int64          `json:"id" db:"id"`
	TransactionID string         `json:"transaction_id" db:"transaction_id"`
	AccountID     string         `json:"account_id" db:"account_id"`
	Currency      Currency       `json:"currency" db:"currency"`
	Amount        float64        `json:"amount" db:"amount"` // signed
	EntryType     EntryType      `json:"entry_type" db:"entry_type"`
	Metadata      map[string]any `json:"metadata,omitempty" db:"metadata"`
	CreatedAt     time.Time      `json:"created_at" db:"created_at"`
}

// Account is the logical view over an opaque user identifier. It has no
// stored balance; Balance here is always a derived projection.
type Account struct {
	ID      string  `json:"id"`
	Balance float64 `json:"balance"`
}
