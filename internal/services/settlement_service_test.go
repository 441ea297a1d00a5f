package services

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/mystlabs/backend/internal/models"
	"github.com/stretchr/testify/assert"
)

const epsilon = 1e-6

func testSettlementConfig() SettlementConfig {
	return SettlementConfig{
		FeeRate:          0.10,
		LeaderboardShare: 0.15,
		ReferralShare:    0.10,
		WheelShare:       0.05,
		PointsPerMYST:    100,
	}
}

func mystBet(id, account string, option int, stake float64) models.Bet {
	return models.Bet{ID: id, MarketID: "m1", AccountID: account, Option: option, Currency: models.CurrencyMYST, Stake: stake}
}

func TestComputePlans(t *testing.T) {
	t.Run("pari-mutuel payout with fee on losing side", func(t *testing.T) {
		// YES pool 4000, NO pool 6000, NO wins: fee = 400, winPool = 9600.
		bets := []models.Bet{
			mystBet("b1", "alice", models.OptionYes, 4000),
			mystBet("b2", "bob", models.OptionNo, 600),
			mystBet("b3", "carol", models.OptionNo, 5400),
		}

		plans := ComputePlans(bets, models.OptionNo, 0.10)
		assert.Len(t, plans, 1)

		plan := plans[0]
		assert.Equal(t, models.CurrencyMYST, plan.Currency)
		assert.InDelta(t, 6000, plan.WinningPool, epsilon)
		assert.InDelta(t, 4000, plan.LosingPool, epsilon)
		assert.InDelta(t, 400, plan.PlatformFee, epsilon)
		assert.InDelta(t, 9600, plan.WinPool, epsilon)
		assert.InDelta(t, 960, plan.Payouts["b2"], epsilon)
		assert.InDelta(t, 8640, plan.Payouts["b3"], epsilon)

		// Conservation: payouts + fee == total pool.
		var paid float64
		for _, p := range plan.Payouts {
			paid += p
		}
		assert.InDelta(t, plan.TotalPool, paid+plan.PlatformFee, epsilon)
	})

	t.Run("no fee when no losers", func(t *testing.T) {
		bets := []models.Bet{
			mystBet("b1", "alice", models.OptionYes, 100),
			mystBet("b2", "bob", models.OptionYes, 300),
		}

		plans := ComputePlans(bets, models.OptionYes, 0.10)
		assert.Len(t, plans, 1)
		assert.InDelta(t, 0, plans[0].PlatformFee, epsilon)
		assert.InDelta(t, 100, plans[0].Payouts["b1"], epsilon)
		assert.InDelta(t, 300, plans[0].Payouts["b2"], epsilon)
	})

	t.Run("empty winning side sweeps pool to treasury", func(t *testing.T) {
		bets := []models.Bet{
			mystBet("b1", "alice", models.OptionYes, 250),
			mystBet("b2", "bob", models.OptionYes, 750),
		}

		plans := ComputePlans(bets, models.OptionNo, 0.10)
		assert.Len(t, plans, 1)
		assert.Empty(t, plans[0].Payouts)
		assert.InDelta(t, 0, plans[0].PlatformFee, epsilon)
		assert.InDelta(t, 1000, plans[0].TreasurySweep, epsilon)
	})

	t.Run("denominations settle independently", func(t *testing.T) {
		bets := []models.Bet{
			mystBet("b1", "alice", models.OptionYes, 100),
			mystBet("b2", "bob", models.OptionNo, 100),
			{ID: "b3", MarketID: "m1", AccountID: "carol", Option: models.OptionNo, Currency: models.CurrencyPoints, Stake: 5000},
			{ID: "b4", MarketID: "m1", AccountID: "dave", Option: models.OptionYes, Currency: models.CurrencyPoints, Stake: 2000},
		}

		plans := ComputePlans(bets, models.OptionNo, 0.10)
		assert.Len(t, plans, 2)

		byCurrency := map[models.Currency]PayoutPlan{}
		for _, plan := range plans {
			byCurrency[plan.Currency] = plan
		}

		myst := byCurrency[models.CurrencyMYST]
		assert.InDelta(t, 10, myst.PlatformFee, epsilon)
		assert.InDelta(t, 190, myst.Payouts["b2"], epsilon)

		points := byCurrency[models.CurrencyPoints]
		assert.InDelta(t, 200, points.PlatformFee, epsilon)
		assert.InDelta(t, 6800, points.Payouts["b3"], epsilon)
	})

	t.Run("no bets yields no plans", func(t *testing.T) {
		plans := ComputePlans(nil, models.OptionYes, 0.10)
		assert.Empty(t, plans)
	})
}

func TestSplitFee(t *testing.T) {
	config := testSettlementConfig()

	t.Run("fixed shares", func(t *testing.T) {
		split := SplitFee(400, config)
		assert.InDelta(t, 60, split.Leaderboard, epsilon)
		assert.InDelta(t, 40, split.Referral, epsilon)
		assert.InDelta(t, 20, split.Wheel, epsilon)
		assert.InDelta(t, 280, split.Treasury, epsilon)
	})

	t.Run("split conserves the fee", func(t *testing.T) {
		for _, fee := range []float64{0, 0.01, 1, 33.33, 400, 123456.789} {
			split := SplitFee(fee, config)
			total := split.Leaderboard + split.Referral + split.Wheel + split.Treasury
			assert.InDelta(t, fee, total, epsilon)
		}
	})
}

func TestSettlementService_Resolve(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewSettlementService(db, nil, NewLedgerService(db), NewPoolRegistry(db))

	t.Run("already resolved market", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec("SET LOCAL lock_timeout").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec("SET LOCAL statement_timeout").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("SELECT status, options FROM markets").
			WithArgs("m1").
			WillReturnRows(sqlmock.NewRows([]string{"status", "options"}).
				AddRow(string(models.MarketResolved), "{yes,no}"))
		mock.ExpectRollback()

		_, err := service.Resolve(context.Background(), "m1", models.OptionYes)
		assert.ErrorIs(t, err, ErrAlreadyResolved)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("market not found", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec("SET LOCAL lock_timeout").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec("SET LOCAL statement_timeout").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("SELECT status, options FROM markets").
			WithArgs("missing").
			WillReturnRows(sqlmock.NewRows([]string{"status", "options"}))
		mock.ExpectRollback()

		_, err := service.Resolve(context.Background(), "missing", models.OptionYes)
		assert.ErrorIs(t, err, ErrMarketNotFound)
	})

	t.Run("full resolution pays the winner and routes the fee", func(t *testing.T) {
		// YES 4000 (alice), NO 6000 (bob), NO wins: fee 400, bob gets 9600.
		now := time.Now()
		mock.ExpectBegin()
		mock.ExpectExec("SET LOCAL lock_timeout").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec("SET LOCAL statement_timeout").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("SELECT status, options FROM markets").
			WithArgs("m1").
			WillReturnRows(sqlmock.NewRows([]string{"status", "options"}).
				AddRow(string(models.MarketOpen), "{yes,no}"))

		mock.ExpectQuery("SELECT id, market_id, account_id, option_index, currency, stake, created_at").
			WithArgs("m1").
			WillReturnRows(sqlmock.NewRows([]string{"id", "market_id", "account_id", "option_index", "currency", "stake", "created_at"}).
				AddRow("b1", "m1", "alice", models.OptionYes, models.CurrencyMYST, 4000.0, now).
				AddRow("b2", "m1", "bob", models.OptionNo, models.CurrencyMYST, 6000.0, now))

		mock.ExpectExec("SELECT pg_advisory_xact_lock").
			WithArgs("bob").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("SELECT COALESCE\\(SUM\\(amount\\), 0\\)").
			WithArgs("bob", models.CurrencyMYST).
			WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(0.0))
		mock.ExpectExec("INSERT INTO ledger_entries").
			WithArgs("b2", "bob", models.CurrencyMYST, 9600.0, models.EntryPredictionPayout, sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("UPDATE bets SET payout").
			WithArgs(9600.0, "b2").
			WillReturnResult(sqlmock.NewResult(0, 1))

		mock.ExpectExec("INSERT INTO pools").
			WithArgs(models.PoolLeaderboard, 60.0, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("INSERT INTO pools").
			WithArgs(models.PoolReferral, 40.0, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("INSERT INTO pools").
			WithArgs(models.PoolWheel, 20.0, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("INSERT INTO pools").
			WithArgs(models.PoolTreasury, 280.0, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectExec("UPDATE markets SET status").
			WithArgs(models.MarketResolved, models.OptionNo, sqlmock.AnyArg(), "m1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		plans, err := service.Resolve(context.Background(), "m1", models.OptionNo)
		assert.NoError(t, err)
		assert.Len(t, plans, 1)
		assert.InDelta(t, 400, plans[0].PlatformFee, epsilon)
		assert.InDelta(t, 9600, plans[0].Payouts["b2"], epsilon)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("invalid winning option", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec("SET LOCAL lock_timeout").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec("SET LOCAL statement_timeout").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("SELECT status, options FROM markets").
			WithArgs("m1").
			WillReturnRows(sqlmock.NewRows([]string{"status", "options"}).
				AddRow(string(models.MarketOpen), "{yes,no}"))
		mock.ExpectRollback()

		_, err := service.Resolve(context.Background(), "m1", 5)
		assert.ErrorIs(t, err, ErrInvalidOption)
	})
}
