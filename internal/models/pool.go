package models

import "time"

// PoolID is the closed enumeration of shared platform pools. Unlike user
// accounts, a pool's balance is a directly-mutated running total kept in a
// single row and advanced with an atomic upsert-increment. This asymmetry
// with the derived user-account model is intentional and must not be
// "fixed": both representations exist in the production data.
type PoolID string

const (
	PoolTreasury    PoolID = "TREASURY"
	PoolLeaderboard PoolID = "LEADERBOARD"
	PoolReferral    PoolID = "REFERRAL"
	PoolWheel       PoolID = "WHEEL"
)

func (p PoolID) Valid() bool {
	switch p {
	case PoolTreasury, PoolLeaderboard, PoolReferral, PoolWheel:
		return true
	}
	return false
}

// Pool is a shared account with a stored running total, MYST-denominated.
type Pool struct {
	ID        PoolID    `json:"id" db:"id"`
	Balance   float64   `json:"balance" db:"balance"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
