package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/mystlabs/backend/internal/audit"
	"github.com/mystlabs/backend/internal/database"
	"github.com/mystlabs/backend/internal/models"
	"github.com/spf13/viper"
)

// WithdrawalService converts a burn of MYST into a fiat payout record. The
// full requested amount is debited, the fee portion is credited into the
// treasury pool, and the request row lands at PENDING_BURN in the same
// transaction. The payout-confirmation collaborator advances the status
// from there; this service only guards the transitions.
type WithdrawalService struct {
	db        *sql.DB
	redis     *redis.Client
	ledger    *LedgerService
	pools     *PoolRegistry
	audit     *audit.AuditLogger
	validator *ValidationHelper
	txOpts    database.TxOptions
	config    WithdrawalConfig
}

type WithdrawalConfig struct {
	FeeRate      float64
	ExchangeRate float64 // fiat units per MYST
	MinFiat      float64
}

// GetWithdrawalConfig returns withdrawal configuration with defaults
func GetWithdrawalConfig() WithdrawalConfig {
	viper.SetDefault("withdrawal.fee_rate", 0.02)
	viper.SetDefault("withdrawal.exchange_rate", 0.02)
	viper.SetDefault("withdrawal.min_fiat", float64(50))

	return WithdrawalConfig{
		FeeRate:      viper.GetFloat64("withdrawal.fee_rate"),
		ExchangeRate: viper.GetFloat64("withdrawal.exchange_rate"),
		MinFiat:      viper.GetFloat64("withdrawal.min_fiat"),
	}
}

func NewWithdrawalService(db *sql.DB, redisClient *redis.Client, ledger *LedgerService, pools *PoolRegistry) *WithdrawalService {
	return &WithdrawalService{
		db:        db,
		redis:     redisClient,
		ledger:    ledger,
		pools:     pools,
		audit:     audit.NewAuditLogger(),
		validator: NewValidationHelper(),
		txOpts:    database.DefaultTxOptions(),
		config:    GetWithdrawalConfig(),
	}
}

// WithdrawalQuote is the arithmetic of one request.
type WithdrawalQuote struct {
	Gross   float64
	Fee     float64
	Burn    float64
	NetFiat float64
}

// QuoteWithdrawal computes fee, net burn amount and fiat value for a
// requested gross amount.
func QuoteWithdrawal(gross float64, config WithdrawalConfig) WithdrawalQuote {
	fee := gross * config.FeeRate
	burn := gross - fee
	return WithdrawalQuote{
		Gross:   gross,
		Fee:     fee,
		Burn:    burn,
		NetFiat: burn * config.ExchangeRate,
	}
}

// RequestWithdrawal burns the requested amount and records the request.
func (s *WithdrawalService) RequestWithdrawal(ctx context.Context, accountID string, amount float64) (*models.WithdrawalRequest, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	quote := QuoteWithdrawal(amount, s.config)
	if quote.NetFiat < s.config.MinFiat {
		return nil, ErrBelowMinimum
	}

	request := &models.WithdrawalRequest{
		ID:           uuid.NewString(),
		AccountID:    accountID,
		GrossAmount:  quote.Gross,
		Fee:          quote.Fee,
		BurnAmount:   quote.Burn,
		NetFiatValue: quote.NetFiat,
		Status:       models.WithdrawalPendingBurn,
		CreatedAt:    time.Now(),
	}

	err := database.RunInTx(ctx, s.db, s.txOpts, func(tx *sql.Tx) error {
		address, err := s.lookupAddress(tx, accountID)
		if err != nil {
			return err
		}
		request.Address = address

		if _, err := s.ledger.DebitTx(tx, request.ID, accountID, models.CurrencyMYST, amount,
			models.EntryWithdrawalBurn, map[string]any{"address": address}); err != nil {
			return err
		}

		if err := s.pools.IncrementTx(tx, models.PoolTreasury, quote.Fee); err != nil {
			return err
		}

		_, err = tx.Exec(`
			INSERT INTO withdrawal_requests (id, account_id, address, gross_amount, fee, burn_amount, net_fiat_value, status, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			request.ID, request.AccountID, request.Address, request.GrossAmount,
			request.Fee, request.BurnAmount, request.NetFiatValue, request.Status, request.CreatedAt)
		return err
	})

	if err != nil {
		return nil, err
	}

	s.audit.LogWithdrawal(request.ID, accountID, quote.Gross, quote.Fee, quote.NetFiat)
	s.queuePayoutEvent(ctx, request)

	return request, nil
}

// lookupAddress reads the destination address maintained by the external
// address collaborator.
func (s *WithdrawalService) lookupAddress(tx *sql.Tx, accountID string) (string, error) {
	var address string
	err := tx.QueryRow(`
		SELECT address FROM withdrawal_addresses WHERE account_id = $1`,
		accountID).Scan(&address)
	if err == sql.ErrNoRows {
		return "", ErrNoAddressOnFile
	}
	return address, err
}

// AdvanceStatus moves a request along PENDING_BURN -> READY_FOR_PAYOUT ->
// PAID. The previous status is part of the WHERE clause, so a concurrent
// or repeated transition fails instead of skipping a state.
func (s *WithdrawalService) AdvanceStatus(ctx context.Context, withdrawalID string, from, to models.WithdrawalStatus) error {
	return database.RunInTx(ctx, s.db, s.txOpts, func(tx *sql.Tx) error {
		var paidAt any
		if to == models.WithdrawalPaid {
			paidAt = time.Now()
		}

		result, err := tx.Exec(`
			UPDATE withdrawal_requests
			SET status = $1, paid_at = COALESCE($2, paid_at)
			WHERE id = $3 AND status = $4`,
			to, paidAt, withdrawalID, from)
		if err != nil {
			return err
		}

		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if rowsAffected == 0 {
			var exists bool
			if err := tx.QueryRow(`SELECT EXISTS(SELECT 1 FROM withdrawal_requests WHERE id = $1)`,
				withdrawalID).Scan(&exists); err != nil {
				return err
			}
			if !exists {
				return ErrWithdrawalNotFound
			}
			return ErrInvalidTransition
		}
		return nil
	})
}

func (s *WithdrawalService) queuePayoutEvent(ctx context.Context, request *models.WithdrawalRequest) {
	if s.redis == nil {
		return
	}

	data, err := json.Marshal(request)
	if err != nil {
		return
	}
	if err := s.redis.RPush(ctx, "payout_queue", data).Err(); err != nil {
		log.Printf("[WITHDRAWAL] Failed to queue payout event for %s: %v", request.ID, err)
	}
}

// RequestWithdrawalHandler handles withdrawal requests
// @Summary Request a withdrawal
// @Description Burn MYST in exchange for a fiat payout
// @Tags withdrawals
// @Accept json
// @Produce json
// @Param withdrawal body object{amount=float64} true "Withdrawal data"
// @Success 201 {object} models.WithdrawalRequest
// @Failure 400 {object} ErrorResponse
// @Router /withdrawals [post]
func (s *WithdrawalService) RequestWithdrawalHandler(w http.ResponseWriter, r *http.Request) {
	accountID, ok := r.Context().Value("userID").(string)
	if !ok || accountID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req struct {
		Amount float64 `json:"amount" validate:"required,gt=0"`
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

	request, err := s.RequestWithdrawal(r.Context(), accountID, req.Amount)
	if err != nil {
		log.Printf("[WITHDRAWAL] Request rejected for account %s: %v", accountID, err)
		s.audit.LogError("", accountID, err)
		SendDomainError(w, err)
		return
	}

	SendJSON(w, http.StatusCreated, map[string]any{
		"success":    true,
		"withdrawal": request,
	})
}

// ListWithdrawalsHandler lists the caller's withdrawal requests
// @Summary List withdrawals
// @Description List the caller's withdrawal requests, newest first
// @Tags withdrawals
// @Produce json
// @Success 200 {array} models.WithdrawalRequest
// @Router /withdrawals [get]
func (s *WithdrawalService) ListWithdrawalsHandler(w http.ResponseWriter, r *http.Request) {
	accountID, ok := r.Context().Value("userID").(string)
	if !ok || accountID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	rows, err := s.db.QueryContext(r.Context(), `
		SELECT id, account_id, address, gross_amount, fee, burn_amount, net_fiat_value, status, paid_at, created_at
		FROM withdrawal_requests
		WHERE account_id = $1
		ORDER BY created_at DESC
		LIMIT 50`, accountID)
	if err != nil {
		SendErrorResponse(w, "Failed to fetch withdrawals", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	requests := []models.WithdrawalRequest{}
	for rows.Next() {
		var req models.WithdrawalRequest
		if err := rows.Scan(&req.ID, &req.AccountID, &req.Address, &req.GrossAmount, &req.Fee,
			&req.BurnAmount, &req.NetFiatValue, &req.Status, &req.PaidAt, &req.CreatedAt); err != nil {
			SendErrorResponse(w, "Failed to fetch withdrawals", http.StatusInternalServerError, nil)
			return
		}
		requests = append(requests, req)
	}

	SendJSON(w, http.StatusOK, map[string]any{
		"withdrawals": requests,
		"count":       len(requests),
	})
}

// MarkReadyHandler advances a request to READY_FOR_PAYOUT
// @Summary Mark withdrawal ready for payout
// @Tags withdrawals
// @Produce json
// @Param withdrawalId path string true "Withdrawal ID"
// @Success 200 {object} object{success=bool}
// @Failure 409 {object} ErrorResponse
// @Router /withdrawals/{withdrawalId}/ready [put]
func (s *WithdrawalService) MarkReadyHandler(w http.ResponseWriter, r *http.Request) {
	s.transitionHandler(w, r, models.WithdrawalPendingBurn, models.WithdrawalReadyForPayout)
}

// MarkPaidHandler advances a request to PAID
// @Summary Mark withdrawal paid
// @Tags withdrawals
// @Produce json
// @Param withdrawalId path string true "Withdrawal ID"
// @Success 200 {object} object{success=bool}
// @Failure 409 {object} ErrorResponse
// @Router /withdrawals/{withdrawalId}/paid [put]
func (s *WithdrawalService) MarkPaidHandler(w http.ResponseWriter, r *http.Request) {
	s.transitionHandler(w, r, models.WithdrawalReadyForPayout, models.WithdrawalPaid)
}

func (s *WithdrawalService) transitionHandler(w http.ResponseWriter, r *http.Request, from, to models.WithdrawalStatus) {
	withdrawalID := chi.URLParam(r, "withdrawalId")

	if err := s.AdvanceStatus(r.Context(), withdrawalID, from, to); err != nil {
		log.Printf("[WITHDRAWAL] Transition %s -> %s failed for %s: %v", from, to, withdrawalID, err)
		SendDomainError(w, err)
		return
	}

	SendJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"status":  to,
	})
}
