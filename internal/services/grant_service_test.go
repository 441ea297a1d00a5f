package services

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/mystlabs/backend/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestGrantService_Grant(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewGrantService(db, NewLedgerService(db))

	t.Run("successful grant", func(t *testing.T) {
		expectTxStart(mock)
		mock.ExpectExec("SELECT pg_advisory_xact_lock").
			WithArgs("alice").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("SELECT COALESCE\\(SUM\\(amount\\), 0\\)").
			WithArgs("alice", models.CurrencyMYST).
			WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(10.0))
		mock.ExpectExec("INSERT INTO ledger_entries").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		balance, err := service.Grant(context.Background(), "alice", models.CurrencyMYST, 500, models.EntryDemoGrant, "onboarding demo")
		assert.NoError(t, err)
		assert.Equal(t, 510.0, balance)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown currency", func(t *testing.T) {
		_, err := service.Grant(context.Background(), "alice", models.Currency("DOGE"), 500, models.EntryDemoGrant, "")
		assert.ErrorIs(t, err, ErrInvalidCurrency)
	})

	t.Run("debit reason rejected", func(t *testing.T) {
		expectTxStart(mock)
		mock.ExpectRollback()

		_, err := service.Grant(context.Background(), "alice", models.CurrencyMYST, 500, models.EntryBetStake, "")
		assert.Error(t, err)
	})
}

func TestGrantService_GrantHandler(t *testing.T) {
	db, _, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewGrantService(db, NewLedgerService(db))

	t.Run("rejects debit entry types", func(t *testing.T) {
		body := `{"account_id":"alice","currency":"MYST","amount":10,"entry_type":"BET_STAKE"}`
		r := httptest.NewRequest("POST", "/admin/grants", bytes.NewBufferString(body))
		w := httptest.NewRecorder()

		service.GrantHandler(w, r)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("rejects unknown fields", func(t *testing.T) {
		body := `{"account_id":"alice","currency":"MYST","amount":10,"entry_type":"ADMIN_GRANT","pool":"TREASURY"}`
		r := httptest.NewRequest("POST", "/admin/grants", bytes.NewBufferString(body))
		w := httptest.NewRecorder()

		service.GrantHandler(w, r)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}
