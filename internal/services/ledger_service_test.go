package services

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/mystlabs/backend/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestLedgerService_DebitTx(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewLedgerService(db)

	t.Run("successful debit", func(t *testing.T) {
		mock.ExpectBegin()
		tx, _ := db.Begin()

		mock.ExpectExec("SELECT pg_advisory_xact_lock").
			WithArgs("acct-1").
			WillReturnResult(sqlmock.NewResult(0, 0))

		mock.ExpectQuery("SELECT COALESCE\\(SUM\\(amount\\), 0\\)").
			WithArgs("acct-1", models.CurrencyMYST).
			WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(500.0))

		mock.ExpectExec("INSERT INTO ledger_entries").
			WithArgs("tx-1", "acct-1", models.CurrencyMYST, -200.0, models.EntryBetStake, sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))

		balance, err := service.DebitTx(tx, "tx-1", "acct-1", models.CurrencyMYST, 200, models.EntryBetStake, nil)
		assert.NoError(t, err)
		assert.Equal(t, 300.0, balance)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("insufficient balance leaves ledger untouched", func(t *testing.T) {
		mock.ExpectBegin()
		tx, _ := db.Begin()

		mock.ExpectExec("SELECT pg_advisory_xact_lock").
			WithArgs("acct-1").
			WillReturnResult(sqlmock.NewResult(0, 0))

		mock.ExpectQuery("SELECT COALESCE\\(SUM\\(amount\\), 0\\)").
			WithArgs("acct-1", models.CurrencyMYST).
			WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(50.0))

		_, err := service.DebitTx(tx, "tx-1", "acct-1", models.CurrencyMYST, 100, models.EntryBetStake, nil)
		assert.ErrorIs(t, err, ErrInsufficientBalance)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects non-positive amount", func(t *testing.T) {
		mock.ExpectBegin()
		tx, _ := db.Begin()

		_, err := service.DebitTx(tx, "tx-1", "acct-1", models.CurrencyMYST, 0, models.EntryBetStake, nil)
		assert.ErrorIs(t, err, ErrInvalidAmount)
	})

	t.Run("rejects credit reason", func(t *testing.T) {
		mock.ExpectBegin()
		tx, _ := db.Begin()

		_, err := service.DebitTx(tx, "tx-1", "acct-1", models.CurrencyMYST, 100, models.EntryAdminGrant, nil)
		assert.Error(t, err)
	})
}

func TestLedgerService_CreditTx(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewLedgerService(db)

	t.Run("successful credit", func(t *testing.T) {
		mock.ExpectBegin()
		tx, _ := db.Begin()

		mock.ExpectExec("SELECT pg_advisory_xact_lock").
			WithArgs("acct-1").
			WillReturnResult(sqlmock.NewResult(0, 0))

		mock.ExpectQuery("SELECT COALESCE\\(SUM\\(amount\\), 0\\)").
			WithArgs("acct-1", models.CurrencyMYST).
			WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(100.0))

		mock.ExpectExec("INSERT INTO ledger_entries").
			WithArgs("tx-2", "acct-1", models.CurrencyMYST, 960.0, models.EntryPredictionPayout, sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))

		balance, err := service.CreditTx(tx, "tx-2", "acct-1", models.CurrencyMYST, 960, models.EntryPredictionPayout, nil)
		assert.NoError(t, err)
		assert.Equal(t, 1060.0, balance)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects debit reason", func(t *testing.T) {
		mock.ExpectBegin()
		tx, _ := db.Begin()

		_, err := service.CreditTx(tx, "tx-2", "acct-1", models.CurrencyMYST, 10, models.EntryWithdrawalBurn, nil)
		assert.Error(t, err)
	})
}

func TestLedgerService_GetBalance(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewLedgerService(db)

	mock.ExpectQuery("SELECT COALESCE\\(SUM\\(amount\\), 0\\)").
		WithArgs("acct-1", models.CurrencyPoints).
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(42.5))

	balance, err := service.GetBalance(context.Background(), "acct-1", models.CurrencyPoints)
	assert.NoError(t, err)
	assert.Equal(t, 42.5, balance)
	assert.NoError(t, mock.ExpectationsWereMet())
}
