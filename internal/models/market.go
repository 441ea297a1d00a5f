package models

import "time"

// MarketStatus is the market lifecycle. Markets are created OPEN by the
// market metadata collaborator and move to RESOLVED exactly once.
type MarketStatus string

const (
	MarketOpen     MarketStatus = "OPEN"
	MarketResolved MarketStatus = "RESOLVED"
)

// Option indexes into a market's option list. The platform effectively
// runs binary markets: index 0 is "yes", index 1 is "no".
const (
	OptionYes = 0
	OptionNo  = 1
)

// Market is a prediction market. This service mutates only the pool
// totals and participant count (betting) and the status/outcome fields
// (settlement); everything else is owned by the metadata collaborator.
type Market struct {
	ID               string       `json:"id" db:"id"`
	Question         string       `json:"question" db:"question"`
	Options          []string     `json:"options" db:"options"`
	Status           MarketStatus `json:"status" db:"status"`
	Participants     int          `json:"participants" db:"participants"`
	MinStakeMYST     float64      `json:"min_stake_myst" db:"min_stake_myst"`
	MinStakePoints   float64      `json:"min_stake_points" db:"min_stake_points"`
	EndsAt           time.Time    `json:"ends_at" db:"ends_at"`
	Outcome          *int         `json:"outcome,omitempty" db:"outcome"`
	ResolvedAt       *time.Time   `json:"resolved_at,omitempty" db:"resolved_at"`
	CreatedAt        time.Time    `json:"created_at" db:"created_at"`
}

// OptionPool is a per-(market, option, currency) stake running total,
// advanced by the same upsert-increment primitive as the shared pools.
type OptionPool struct {
	MarketID string   `json:"market_id" db:"market_id"`
	Option   int      `json:"option" db:"option_index"`
	Currency Currency `json:"currency" db:"currency"`
	Total    float64  `json:"total" db:"total"`
}

// Bet is a single wager. At most one bet per (market, account) exists,
// enforced by a storage uniqueness constraint rather than a prior read.
// Payout stays nil until the market is resolved and is written once.
type Bet struct {
	ID        string    `json:"id" db:"id"`
	MarketID  string    `json:"market_id" db:"market_id"`
	AccountID string    `json:"account_id" db:"account_id"`
	Option    int       `json:"option" db:"option_index"`
	Currency  Currency  `json:"currency" db:"currency"`
	Stake     float64   `json:"stake" db:"stake"`
	Payout    *float64  `json:"payout,omitempty" db:"payout"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
