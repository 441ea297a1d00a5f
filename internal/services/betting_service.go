package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/mystlabs/backend/internal/audit"
	"github.com/mystlabs/backend/internal/database"
	"github.com/mystlabs/backend/internal/models"
)

// BettingService validates and records wagers against open markets. The
// stake debit, the option-pool increment, the participant bump and the bet
// insert commit as one unit through the transaction coordinator.
type BettingService struct {
	db        *sql.DB
	ledger    *LedgerService
	audit     *audit.AuditLogger
	validator *ValidationHelper
	txOpts    database.TxOptions
}

func NewBettingService(db *sql.DB, ledger *LedgerService) *BettingService {
	return &BettingService{
		db:        db,
		ledger:    ledger,
		audit:     audit.NewAuditLogger(),
		validator: NewValidationHelper(),
		txOpts:    database.DefaultTxOptions(),
	}
}

// PlaceBet records a single wager. The duplicate-bet guard is the storage
// uniqueness constraint on (market_id, account_id): a concurrent second
// insert fails there, never in a check-then-insert read.
func (s *BettingService) PlaceBet(ctx context.Context, accountID, marketID string, option int, currency models.Currency, stake float64) (*models.Bet, error) {
	if stake <= 0 {
		return nil, ErrInvalidAmount
	}
	if !currency.Valid() {
		return nil, ErrInvalidCurrency
	}

	bet := &models.Bet{
		ID:        uuid.NewString(),
		MarketID:  marketID,
		AccountID: accountID,
		Option:    option,
		Currency:  currency,
		Stake:     stake,
		CreatedAt: time.Now(),
	}

	err := database.RunInTx(ctx, s.db, s.txOpts, func(tx *sql.Tx) error {
		market, err := s.lockMarket(tx, marketID)
		if err != nil {
			return err
		}

		if market.Status != models.MarketOpen || time.Now().After(market.EndsAt) {
			return ErrMarketClosed
		}
		if option < 0 || option >= len(market.Options) {
			return ErrInvalidOption
		}
		if stake < minStakeFor(market, currency) {
			return ErrBelowMinimumStake
		}

		if _, err := s.ledger.DebitTx(tx, bet.ID, accountID, currency, stake, models.EntryBetStake,
			map[string]any{"market_id": marketID, "option": option}); err != nil {
			return err
		}

		if err := s.incrementOptionPool(tx, marketID, option, currency, stake); err != nil {
			return err
		}

		if _, err := tx.Exec(`
			UPDATE markets SET participants = participants + 1 WHERE id = $1`,
			marketID); err != nil {
			return err
		}

		return s.insertBet(tx, bet)
	})

	if err != nil {
		return nil, err
	}

	s.audit.LogBet(bet.ID, accountID, marketID, option, stake)
	return bet, nil
}

func (s *BettingService) lockMarket(tx *sql.Tx, marketID string) (*models.Market, error) {
	var market models.Market
	err := tx.QueryRow(`
		SELECT id, question, options, status, participants, min_stake_myst, min_stake_points, ends_at, created_at
		FROM markets
		WHERE id = $1
		FOR UPDATE`, marketID).Scan(
		&market.ID, &market.Question, pq.Array(&market.Options), &market.Status,
		&market.Participants, &market.MinStakeMYST, &market.MinStakePoints,
		&market.EndsAt, &market.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, ErrMarketNotFound
	}
	return &market, err
}

func (s *BettingService) incrementOptionPool(tx *sql.Tx, marketID string, option int, currency models.Currency, stake float64) error {
	_, err := tx.Exec(`
		INSERT INTO market_option_pools (market_id, option_index, currency, total)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (market_id, option_index, currency) DO UPDATE
		SET total = market_option_pools.total + EXCLUDED.total`,
		marketID, option, currency, stake)
	return err
}

func (s *BettingService) insertBet(tx *sql.Tx, bet *models.Bet) error {
	_, err := tx.Exec(`
		INSERT INTO bets (id, market_id, account_id, option_index, currency, stake, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		bet.ID, bet.MarketID, bet.AccountID, bet.Option, bet.Currency, bet.Stake, bet.CreatedAt)

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return ErrDuplicateBet
	}
	return err
}

func minStakeFor(market *models.Market, currency models.Currency) float64 {
	if currency == models.CurrencyPoints {
		return market.MinStakePoints
	}
	return market.MinStakeMYST
}

// PlaceBetHandler handles bet placement requests
// @Summary Place a bet
// @Description Place a single wager against an open prediction market
// @Tags markets
// @Accept json
// @Produce json
// @Param marketId path string true "Market ID"
// @Param bet body object{option=int,currency=string,stake=float64} true "Bet data"
// @Success 201 {object} models.Bet
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /markets/{marketId}/bets [post]
func (s *BettingService) PlaceBetHandler(w http.ResponseWriter, r *http.Request) {
	accountID, ok := r.Context().Value("userID").(string)
	if !ok || accountID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	marketID := chi.URLParam(r, "marketId")

	var req struct {
		Option   int     `json:"option" validate:"min=0"`
		Currency string  `json:"currency" validate:"required,oneof=MYST POINTS"`
		Stake    float64 `json:"stake" validate:"required,gt=0"`
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

	bet, err := s.PlaceBet(r.Context(), accountID, marketID, req.Option, models.Currency(req.Currency), req.Stake)
	if err != nil {
		log.Printf("[BETTING] Bet rejected for account %s on market %s: %v", accountID, marketID, err)
		s.audit.LogError(marketID, accountID, err)
		SendDomainError(w, err)
		return
	}

	SendJSON(w, http.StatusCreated, map[string]any{
		"success": true,
		"bet":     bet,
	})
}

// GetMarketHandler returns a market with its option pool totals
// @Summary Get market
// @Description Retrieve a market with per-option stake totals
// @Tags markets
// @Produce json
// @Param marketId path string true "Market ID"
// @Success 200 {object} models.Market
// @Failure 404 {object} ErrorResponse
// @Router /markets/{marketId} [get]
func (s *BettingService) GetMarketHandler(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketId")

	var market models.Market
	err := s.db.QueryRowContext(r.Context(), `
		SELECT id, question, options, status, participants, min_stake_myst, min_stake_points,
		       ends_at, outcome, resolved_at, created_at
		FROM markets
		WHERE id = $1`, marketID).Scan(
		&market.ID, &market.Question, pq.Array(&market.Options), &market.Status,
		&market.Participants, &market.MinStakeMYST, &market.MinStakePoints,
		&market.EndsAt, &market.Outcome, &market.ResolvedAt, &market.CreatedAt)

	if err == sql.ErrNoRows {
		SendDomainError(w, ErrMarketNotFound)
		return
	}
	if err != nil {
		log.Printf("[BETTING] Failed to fetch market %s: %v", marketID, err)
		SendErrorResponse(w, "Failed to fetch market", http.StatusInternalServerError, nil)
		return
	}

	pools, err := s.fetchOptionPools(r.Context(), marketID)
	if err != nil {
		log.Printf("[BETTING] Failed to fetch option pools for %s: %v", marketID, err)
		SendErrorResponse(w, "Failed to fetch market", http.StatusInternalServerError, nil)
		return
	}

	SendJSON(w, http.StatusOK, map[string]any{
		"market": market,
		"pools":  pools,
	})
}

func (s *BettingService) fetchOptionPools(ctx context.Context, marketID string) ([]models.OptionPool, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT market_id, option_index, currency, total
		FROM market_option_pools
		WHERE market_id = $1
		ORDER BY option_index, currency`, marketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	pools := []models.OptionPool{}
	for rows.Next() {
		var p models.OptionPool
		if err := rows.Scan(&p.MarketID, &p.Option, &p.Currency, &p.Total); err != nil {
			return nil, err
		}
		pools = append(pools, p)
	}
	return pools, rows.Err()
}
