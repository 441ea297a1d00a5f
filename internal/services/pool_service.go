package services

import (
	"context"
	"database/sql"
	"time"

	"github.com/mystlabs/backend/internal/models"
)

// PoolRegistry manages the fixed set of shared pools. Pool balances are
// stored running totals advanced by an atomic upsert-increment, not a
// ledger projection. This is the one place the derived-balance rule does
// not apply and the asymmetry is intentional: the production data carries
// both representations and both must keep working.
type PoolRegistry struct {
	db *sql.DB
}

func NewPoolRegistry(db *sql.DB) *PoolRegistry {
	return &PoolRegistry{db: db}
}

// IncrementTx atomically adds delta to a pool's running total, creating
// the pool row at delta if it does not exist yet. Pool ids are a closed
// enumeration; unknown ids are rejected rather than silently created.
func (r *PoolRegistry) IncrementTx(tx *sql.Tx, poolID models.PoolID, delta float64) error {
	if !poolID.Valid() {
		return ErrInvalidPool
	}

	_, err := tx.Exec(`
		INSERT INTO pools (id, balance, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE
		SET balance = pools.balance + EXCLUDED.balance, updated_at = EXCLUDED.updated_at`,
		poolID, delta, time.Now())
	return err
}

// GetBalance reads the stored running total directly; no aggregation.
func (r *PoolRegistry) GetBalance(ctx context.Context, poolID models.PoolID) (float64, error) {
	if !poolID.Valid() {
		return 0, ErrInvalidPool
	}

	var balance float64
	err := r.db.QueryRowContext(ctx,
		`SELECT balance FROM pools WHERE id = $1`, poolID).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return balance, err
}
