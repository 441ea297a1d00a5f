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
	"github.com/lib/pq"
	"github.com/mystlabs/backend/internal/audit"
	"github.com/mystlabs/backend/internal/database"
	"github.com/mystlabs/backend/internal/models"
	"github.com/spf13/viper"
)

// SettlementService resolves a market: pari-mutuel payouts for the winning
// side, a platform fee levied on the losing side only, and the fee routed
// into the shared pools. Everything from the status flip to the last pool
// increment commits as one unit; a second resolve attempt fails with
// ALREADY_RESOLVED instead of double-paying.
type SettlementService struct {
	db        *sql.DB
	redis     *redis.Client
	ledger    *LedgerService
	pools     *PoolRegistry
	audit     *audit.AuditLogger
	validator *ValidationHelper
	txOpts    database.TxOptions
	config    SettlementConfig
}

// SettlementConfig carries the fee and split rates. The three named shares
// are fractions of the platform fee; the treasury takes the remainder so
// the split always conserves the fee exactly.
type SettlementConfig struct {
	FeeRate          float64
	LeaderboardShare float64
	ReferralShare    float64
	WheelShare       float64
	PointsPerMYST    float64
}

// GetSettlementConfig returns settlement configuration with defaults
func GetSettlementConfig() SettlementConfig {
	viper.SetDefault("settlement.fee_rate", 0.10)
	viper.SetDefault("settlement.leaderboard_share", 0.15)
	viper.SetDefault("settlement.referral_share", 0.10)
	viper.SetDefault("settlement.wheel_share", 0.05)
	viper.SetDefault("settlement.points_per_myst", float64(100))

	return SettlementConfig{
		FeeRate:          viper.GetFloat64("settlement.fee_rate"),
		LeaderboardShare: viper.GetFloat64("settlement.leaderboard_share"),
		ReferralShare:    viper.GetFloat64("settlement.referral_share"),
		WheelShare:       viper.GetFloat64("settlement.wheel_share"),
		PointsPerMYST:    viper.GetFloat64("settlement.points_per_myst"),
	}
}

func NewSettlementService(db *sql.DB, redisClient *redis.Client, ledger *LedgerService, pools *PoolRegistry) *SettlementService {
	return &SettlementService{
		db:        db,
		redis:     redisClient,
		ledger:    ledger,
		pools:     pools,
		audit:     audit.NewAuditLogger(),
		validator: NewValidationHelper(),
		txOpts:    database.DefaultTxOptions(),
		config:    GetSettlementConfig(),
	}
}

// PayoutPlan is the settlement outcome for one denomination of a market.
// MYST and POINTS bets on the same market settle independently with the
// same rules.
type PayoutPlan struct {
	Currency    models.Currency
	WinningPool float64
	LosingPool  float64
	TotalPool   float64
	PlatformFee float64
	WinPool     float64
	Payouts     map[string]float64 // bet id -> payout
	// TreasurySweep is set instead of payouts when the winning side holds
	// no stakes: the entire pool is routed to the treasury.
	TreasurySweep float64
}

// FeeSplit is the platform fee divided across the shared pools.
type FeeSplit struct {
	Leaderboard float64
	Referral    float64
	Wheel       float64
	Treasury    float64
}

// ComputePlans runs the pari-mutuel math per denomination. The fee is a
// fraction of the losing pool only, so a market with no losers charges no
// fee. Each winning bet receives stake * winPool / winningPool.
func ComputePlans(bets []models.Bet, winningOption int, feeRate float64) []PayoutPlan {
	currencies := []models.Currency{models.CurrencyMYST, models.CurrencyPoints}

	plans := []PayoutPlan{}
	for _, currency := range currencies {
		plan := PayoutPlan{Currency: currency, Payouts: map[string]float64{}}

		for _, bet := range bets {
			if bet.Currency != currency {
				continue
			}
			if bet.Option == winningOption {
				plan.WinningPool += bet.Stake
			} else {
				plan.LosingPool += bet.Stake
			}
		}

		plan.TotalPool = plan.WinningPool + plan.LosingPool
		if plan.TotalPool == 0 {
			continue
		}

		plan.PlatformFee = plan.LosingPool * feeRate
		plan.WinPool = plan.TotalPool - plan.PlatformFee

		if plan.WinningPool == 0 {
			// Nobody backed the outcome: no payouts, the whole pool is
			// swept to the treasury and no fee is split.
			plan.PlatformFee = 0
			plan.WinPool = 0
			plan.TreasurySweep = plan.TotalPool
			plans = append(plans, plan)
			continue
		}

		ratio := plan.WinPool / plan.WinningPool
		for _, bet := range bets {
			if bet.Currency == currency && bet.Option == winningOption {
				plan.Payouts[bet.ID] = bet.Stake * ratio
			}
		}

		plans = append(plans, plan)
	}

	return plans
}

// SplitFee divides the platform fee across the pools. The treasury share
// is computed as the remainder so the four parts always sum to the fee.
func SplitFee(fee float64, config SettlementConfig) FeeSplit {
	split := FeeSplit{
		Leaderboard: fee * config.LeaderboardShare,
		Referral:    fee * config.ReferralShare,
		Wheel:       fee * config.WheelShare,
	}
	split.Treasury = fee - split.Leaderboard - split.Referral - split.Wheel
	return split
}

// Resolve settles a market with the given winning option.
func (s *SettlementService) Resolve(ctx context.Context, marketID string, winningOption int) ([]PayoutPlan, error) {
	var plans []PayoutPlan
	resolvedAt := time.Now()

	err := database.RunInTx(ctx, s.db, s.txOpts, func(tx *sql.Tx) error {
		var status models.MarketStatus
		var options []string
		err := tx.QueryRow(`
			SELECT status, options FROM markets WHERE id = $1 FOR UPDATE`,
			marketID).Scan(&status, pq.Array(&options))
		if err == sql.ErrNoRows {
			return ErrMarketNotFound
		}
		if err != nil {
			return err
		}

		if status != models.MarketOpen {
			return ErrAlreadyResolved
		}
		if winningOption < 0 || winningOption >= len(options) {
			return ErrInvalidOption
		}

		bets, err := s.fetchBets(tx, marketID)
		if err != nil {
			return err
		}

		plans = ComputePlans(bets, winningOption, s.config.FeeRate)

		betAccounts := map[string]string{}
		for _, bet := range bets {
			betAccounts[bet.ID] = bet.AccountID
		}

		for _, plan := range plans {
			if err := s.applyPlan(tx, marketID, plan, betAccounts); err != nil {
				return err
			}
		}

		_, err = tx.Exec(`
			UPDATE markets SET status = $1, outcome = $2, resolved_at = $3 WHERE id = $4`,
			models.MarketResolved, winningOption, resolvedAt, marketID)
		return err
	})

	if err != nil {
		return nil, err
	}

	for _, plan := range plans {
		s.audit.LogSettlement(marketID, winningOption, plan.TotalPool, plan.PlatformFee, len(plan.Payouts))
	}
	s.queueSettlementEvent(ctx, marketID, winningOption, plans)

	return plans, nil
}

func (s *SettlementService) applyPlan(tx *sql.Tx, marketID string, plan PayoutPlan, betAccounts map[string]string) error {
	for betID, payout := range plan.Payouts {
		accountID := betAccounts[betID]

		if _, err := s.ledger.CreditTx(tx, betID, accountID, plan.Currency, payout,
			models.EntryPredictionPayout, map[string]any{"market_id": marketID}); err != nil {
			return err
		}

		if _, err := tx.Exec(`UPDATE bets SET payout = $1 WHERE id = $2`, payout, betID); err != nil {
			return err
		}
	}

	if plan.TreasurySweep > 0 {
		return s.pools.IncrementTx(tx, models.PoolTreasury, s.toMYST(plan.TreasurySweep, plan.Currency))
	}

	if plan.PlatformFee <= 0 {
		return nil
	}

	split := SplitFee(s.toMYST(plan.PlatformFee, plan.Currency), s.config)
	increments := []struct {
		pool  models.PoolID
		delta float64
	}{
		{models.PoolLeaderboard, split.Leaderboard},
		{models.PoolReferral, split.Referral},
		{models.PoolWheel, split.Wheel},
		{models.PoolTreasury, split.Treasury},
	}
	for _, inc := range increments {
		if err := s.pools.IncrementTx(tx, inc.pool, inc.delta); err != nil {
			return err
		}
	}
	return nil
}

// toMYST converts a fee amount into the pools' denomination. Pools hold
// MYST; legacy points fees are converted at the configured rate.
func (s *SettlementService) toMYST(amount float64, currency models.Currency) float64 {
	if currency == models.CurrencyPoints && s.config.PointsPerMYST > 0 {
		return amount / s.config.PointsPerMYST
	}
	return amount
}

func (s *SettlementService) fetchBets(tx *sql.Tx, marketID string) ([]models.Bet, error) {
	rows, err := tx.Query(`
		SELECT id, market_id, account_id, option_index, currency, stake, created_at
		FROM bets
		WHERE market_id = $1`, marketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	bets := []models.Bet{}
	for rows.Next() {
		var bet models.Bet
		if err := rows.Scan(&bet.ID, &bet.MarketID, &bet.AccountID, &bet.Option,
			&bet.Currency, &bet.Stake, &bet.CreatedAt); err != nil {
			return nil, err
		}
		bets = append(bets, bet)
	}
	return bets, rows.Err()
}

func (s *SettlementService) queueSettlementEvent(ctx context.Context, marketID string, winningOption int, plans []PayoutPlan) {
	if s.redis == nil {
		return
	}

	event := map[string]any{
		"market_id":      marketID,
		"winning_option": winningOption,
		"resolved_at":    time.Now(),
		"plans":          plans,
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	if err := s.redis.RPush(ctx, "settlement_events", data).Err(); err != nil {
		log.Printf("[SETTLEMENT] Failed to queue settlement event for %s: %v", marketID, err)
	}
}

// ResolveHandler resolves a market
// @Summary Resolve a market
// @Description Resolve an open market and distribute pari-mutuel payouts
// @Tags markets
// @Accept json
// @Produce json
// @Param marketId path string true "Market ID"
// @Param resolution body object{winning_option=int} true "Resolution data"
// @Success 200 {object} object{success=bool,plans=[]PayoutPlan}
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /markets/{marketId}/resolve [post]
func (s *SettlementService) ResolveHandler(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketId")

	var req struct {
		WinningOption *int `json:"winning_option" validate:"required,min=0"`
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

	plans, err := s.Resolve(r.Context(), marketID, *req.WinningOption)
	if err != nil {
		log.Printf("[SETTLEMENT] Resolve failed for market %s: %v", marketID, err)
		s.audit.LogError(marketID, "", err)
		SendDomainError(w, err)
		return
	}

	SendJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"plans":   plans,
	})
}
