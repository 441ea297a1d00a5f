package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"log"
	"net/http"

	"github.com/google/uuid"
	"github.com/mystlabs/backend/internal/audit"
	"github.com/mystlabs/backend/internal/database"
	"github.com/mystlabs/backend/internal/models"
)

// GrantService writes admin-driven credits (demo grants, admin grants,
// referral rewards) through the same ledger append path as everything
// else. The caller identity comes from the admin collaborator; the grant
// reason is restricted to credit entry types.
type GrantService struct {
	db        *sql.DB
	ledger    *LedgerService
	audit     *audit.AuditLogger
	validator *ValidationHelper
	txOpts    database.TxOptions
}

func NewGrantService(db *sql.DB, ledger *LedgerService) *GrantService {
	return &GrantService{
		db:        db,
		ledger:    ledger,
		audit:     audit.NewAuditLogger(),
		validator: NewValidationHelper(),
		txOpts:    database.DefaultTxOptions(),
	}
}

// Grant credits an account and returns the new derived balance.
func (s *GrantService) Grant(ctx context.Context, accountID string, currency models.Currency, amount float64, entryType models.EntryType, reason string) (float64, error) {
	if !currency.Valid() {
		return 0, ErrInvalidCurrency
	}

	transactionID := uuid.NewString()
	var newBalance float64

	err := database.RunInTx(ctx, s.db, s.txOpts, func(tx *sql.Tx) error {
		var err error
		newBalance, err = s.ledger.CreditTx(tx, transactionID, accountID, currency, amount,
			entryType, map[string]any{"reason": reason})
		return err
	})
	if err != nil {
		return 0, err
	}

	s.audit.LogGrant(transactionID, accountID, string(entryType), amount)
	return newBalance, nil
}

// GrantHandler credits an account by admin request
// @Summary Grant currency
// @Description Credit an account with a demo grant, admin grant or referral reward
// @Tags admin
// @Accept json
// @Produce json
// @Param grant body object{account_id=string,currency=string,amount=float64,entry_type=string,reason=string} true "Grant data"
// @Success 200 {object} object{success=bool,balance=float64}
// @Failure 400 {object} ErrorResponse
// @Router /admin/grants [post]
func (s *GrantService) GrantHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AccountID string  `json:"account_id" validate:"required"`
		Currency  string  `json:"currency" validate:"required,oneof=MYST POINTS"`
		Amount    float64 `json:"amount" validate:"required,gt=0"`
		EntryType string  `json:"entry_type" validate:"required,oneof=DEMO_GRANT ADMIN_GRANT REFERRAL_REWARD"`
		Reason    string  `json:"reason" validate:"max=200"`
	}

	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	balance, err := s.Grant(r.Context(), req.AccountID, models.Currency(req.Currency),
		req.Amount, models.EntryType(req.EntryType), req.Reason)
	if err != nil {
		log.Printf("[GRANT] Grant rejected for account %s: %v", req.AccountID, err)
		s.audit.LogError("", req.AccountID, err)
		SendDomainError(w, err)
		return
	}

	SendJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"balance": balance,
	})
}
