package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mystlabs/backend/internal/models"
)

// LedgerService owns the append-only MYST/POINTS ledger. There is no stored
// balance for user accounts: the balance is always the signed sum of the
// account's entries in one currency. Any write that depends on the balance
// must run inside the caller's transaction so the check and the append
// commit together. The shared pools deliberately do NOT follow this model;
// see PoolRegistry.
type LedgerService struct {
	db *sql.DB
}

func NewLedgerService(db *sql.DB) *LedgerService {
	return &LedgerService{db: db}
}

// lockAccount serializes balance-dependent writes for one account. User
// accounts have no row of their own to lock FOR UPDATE, so a transaction
// scoped advisory lock on the account id stands in for it.
func (s *LedgerService) lockAccount(tx *sql.Tx, accountID string) error {
	_, err := tx.Exec(`SELECT pg_advisory_xact_lock(hashtext($1))`, accountID)
	return err
}

func (s *LedgerService) balanceTx(tx *sql.Tx, accountID string, currency models.Currency) (float64, error) {
	var balance float64
	err := tx.QueryRow(`
		SELECT COALESCE(SUM(amount), 0)
		FROM ledger_entries
		WHERE account_id = $1 AND currency = $2`,
		accountID, currency).Scan(&balance)
	return balance, err
}

func (s *LedgerService) appendEntry(tx *sql.Tx, transactionID, accountID string, currency models.Currency, amount float64, entryType models.EntryType, metadata map[string]any) error {
	var metadataJSON []byte
	if metadata != nil {
		metadataJSON, _ = json.Marshal(metadata)
	}
	_, err := tx.Exec(`
		INSERT INTO ledger_entries (transaction_id, account_id, currency, amount, entry_type, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		transactionID, accountID, currency, amount, entryType, metadataJSON, time.Now())
	return err
}

// CreditTx appends a single positive entry and returns the new derived
// balance. It must be called with a credit-reason entry type.
func (s *LedgerService) CreditTx(tx *sql.Tx, transactionID, accountID string, currency models.Currency, amount float64, entryType models.EntryType, metadata map[string]any) (float64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	if !entryType.IsCredit() {
		return 0, fmt.Errorf("entry type %s is not a credit reason", entryType)
	}

	if err := s.lockAccount(tx, accountID); err != nil {
		return 0, err
	}

	balance, err := s.balanceTx(tx, accountID, currency)
	if err != nil {
		return 0, err
	}

	if err := s.appendEntry(tx, transactionID, accountID, currency, amount, entryType, metadata); err != nil {
		return 0, err
	}

	return balance + amount, nil
}

// DebitTx appends a single negative entry after verifying the derived
// balance covers it. The lock, the balance read and the append all happen
// inside the caller's transaction, so a concurrent debit cannot observe a
// stale balance.
func (s *LedgerService) DebitTx(tx *sql.Tx, transactionID, accountID string, currency models.Currency, amount float64, entryType models.EntryType, metadata map[string]any) (float64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	if entryType.IsCredit() {
		return 0, fmt.Errorf("entry type %s is not a debit reason", entryType)
	}

	if err := s.lockAccount(tx, accountID); err != nil {
		return 0, err
	}

	balance, err := s.balanceTx(tx, accountID, currency)
	if err != nil {
		return 0, err
	}

	if balance < amount {
		return 0, ErrInsufficientBalance
	}

	if err := s.appendEntry(tx, transactionID, accountID, currency, -amount, entryType, metadata); err != nil {
		return 0, err
	}

	return balance - amount, nil
}

// GetBalance returns the committed derived balance for one account and
// currency.
func (s *LedgerService) GetBalance(ctx context.Context, accountID string, currency models.Currency) (float64, error) {
	var balance float64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount), 0)
		FROM ledger_entries
		WHERE account_id = $1 AND currency = $2`,
		accountID, currency).Scan(&balance)
	return balance, err
}

// ListEntries returns the most recent ledger entries for an account.
func (s *LedgerService) ListEntries(ctx context.Context, accountID string, limit int) ([]models.LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, transaction_id, account_id, currency, amount, entry_type, COALESCE(metadata, 'null'), created_at
		FROM ledger_entries
		WHERE account_id = $1
		ORDER BY created_at DESC
		LIMIT $2`,
		accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []models.LedgerEntry{}
	for rows.Next() {
		var entry models.LedgerEntry
		var metadataJSON []byte
		if err := rows.Scan(&entry.ID, &entry.TransactionID, &entry.AccountID, &entry.Currency,
			&entry.Amount, &entry.EntryType, &metadataJSON, &entry.CreatedAt); err != nil {
			return nil, err
		}
		if len(metadataJSON) > 0 {
			json.Unmarshal(metadataJSON, &entry.Metadata)
		}
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}
