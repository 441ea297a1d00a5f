package models

import "time"

// WithdrawalStatus lifecycle. Creation lands at PENDING_BURN; the payout
// confirmation collaborator advances to READY_FOR_PAYOUT and PAID.
type WithdrawalStatus string

const (
	WithdrawalPendingBurn    WithdrawalStatus = "PENDING_BURN"
	WithdrawalReadyForPayout WithdrawalStatus = "READY_FOR_PAYOUT"
	WithdrawalPaid           WithdrawalStatus = "PAID"
)

// WithdrawalRequest records a burn of MYST in exchange for a fiat payout.
type WithdrawalRequest struct {
	ID           string           `json:"id" db:"id"`
	AccountID    string           `json:"account_id" db:"account_id"`
	Address      string           `json:"address" db:"address"`
	GrossAmount  float64          `json:"gross_amount" db:"gross_amount"`
	Fee          float64          `json:"fee" db:"fee"`
	BurnAmount   float64          `json:"burn_amount" db:"burn_amount"`
	NetFiatValue float64          `json:"net_fiat_value" db:"net_fiat_value"`
	Status       WithdrawalStatus `json:"status" db:"status"`
	PaidAt       *time.Time       `json:"paid_at,omitempty" db:"paid_at"`
	CreatedAt    time.Time        `json:"created_at" db:"created_at"`
}
