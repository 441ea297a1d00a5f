package services

import (
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/mystlabs/backend/internal/models"
)

func parsePositiveInt(s string, max int) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if n < 1 || n > max {
		return 0, fmt.Errorf("value out of range: %d", n)
	}
	return n, nil
}

// AccountService exposes the read side of the ledger and pools.
type AccountService struct {
	db     *sql.DB
	ledger *LedgerService
	pools  *PoolRegistry
}

func NewAccountService(db *sql.DB, ledger *LedgerService, pools *PoolRegistry) *AccountService {
	return &AccountService{db: db, ledger: ledger, pools: pools}
}

// GetBalanceHandler returns the caller's derived balances
// @Summary Get balance
// @Description Derived MYST and POINTS balances for the authenticated account
// @Tags accounts
// @Produce json
// @Success 200 {object} object{account_id=string,myst=float64,points=float64}
// @Failure 500 {object} ErrorResponse
// @Router /balance [get]
func (s *AccountService) GetBalanceHandler(w http.ResponseWriter, r *http.Request) {
	accountID, ok := r.Context().Value("userID").(string)
	if !ok || accountID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	myst, err := s.ledger.GetBalance(r.Context(), accountID, models.CurrencyMYST)
	if err != nil {
		log.Printf("[ACCOUNT] Failed to fetch MYST balance for %s: %v", accountID, err)
		SendErrorResponse(w, "Failed to fetch balance", http.StatusInternalServerError, nil)
		return
	}

	points, err := s.ledger.GetBalance(r.Context(), accountID, models.CurrencyPoints)
	if err != nil {
		log.Printf("[ACCOUNT] Failed to fetch POINTS balance for %s: %v", accountID, err)
		SendErrorResponse(w, "Failed to fetch balance", http.StatusInternalServerError, nil)
		return
	}

	SendJSON(w, http.StatusOK, map[string]any{
		"account_id": accountID,
		"myst":       myst,
		"points":     points,
	})
}

// ListTransactionsHandler returns the caller's recent ledger entries
// @Summary List ledger entries
// @Description Recent ledger entries for the authenticated account
// @Tags accounts
// @Produce json
// @Param limit query int false "Number of entries to return (default: 20, max: 100)"
// @Success 200 {object} object{transactions=[]models.LedgerEntry,count=int}
// @Router /transactions [get]
func (s *AccountService) ListTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	accountID, ok := r.Context().Value("userID").(string)
	if !ok || accountID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	limit := 20
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := parsePositiveInt(limitStr, 100); err == nil {
			limit = l
		}
	}

	entries, err := s.ledger.ListEntries(r.Context(), accountID, limit)
	if err != nil {
		log.Printf("[ACCOUNT] Failed to fetch ledger entries for %s: %v", accountID, err)
		SendErrorResponse(w, "Failed to fetch transactions", http.StatusInternalServerError, nil)
		return
	}

	SendJSON(w, http.StatusOK, map[string]any{
		"transactions": entries,
		"count":        len(entries),
	})
}

// GetPoolBalanceHandler returns a shared pool's running total
// @Summary Get pool balance
// @Description Stored running total for one of the shared pools
// @Tags pools
// @Produce json
// @Param poolId path string true "Pool ID" Enums(TREASURY, LEADERBOARD, REFERRAL, WHEEL)
// @Success 200 {object} object{pool_id=string,balance=float64}
// @Failure 400 {object} ErrorResponse
// @Router /pools/{poolId} [get]
func (s *AccountService) GetPoolBalanceHandler(w http.ResponseWriter, r *http.Request) {
	poolID := models.PoolID(chi.URLParam(r, "poolId"))

	balance, err := s.pools.GetBalance(r.Context(), poolID)
	if err != nil {
		SendDomainError(w, err)
		return
	}

	SendJSON(w, http.StatusOK, map[string]any{
		"pool_id": poolID,
		"balance": balance,
	})
}
