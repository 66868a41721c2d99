package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/microrun/internal/persistence"
	"github.com/sawpanic/microrun/internal/signal"
	"github.com/sawpanic/microrun/internal/trader"
)

func mockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	raw, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { raw.Close() })
	return NewStore(sqlx.NewDb(raw, "postgres"), 5*time.Second), mock
}

func TestSaveDecisionsSingleTransaction(t *testing.T) {
	store, mock := mockStore(t)

	mock.ExpectBegin()
	prep := mock.ExpectPrepare("INSERT INTO decisions")
	prep.ExpectExec().WillReturnResult(sqlmock.NewResult(1, 1))
	prep.ExpectExec().WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()

	decisions := []signal.Decision{
		{CycleID: "c1", Symbol: "AAAA", Direction: signal.Long, Confidence: 0.7, Entry: 10, TakeProfit: 11, StopLoss: 9.5, ATR: 0.3, Strategies: []string{"momentum-breakout"}},
		{CycleID: "c1", Symbol: "BBBB", Direction: signal.Short, Confidence: 0.8, Entry: 20, TakeProfit: 18, StopLoss: 21, ATR: 0.5, Strategies: []string{"pair-arbitrage"}},
	}
	require.NoError(t, store.SaveDecisions(context.Background(), decisions))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveDecisionsEmptyIsNoop(t *testing.T) {
	store, mock := mockStore(t)
	require.NoError(t, store.SaveDecisions(context.Background(), nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveDecisionsRollsBackOnError(t *testing.T) {
	store, mock := mockStore(t)

	mock.ExpectBegin()
	prep := mock.ExpectPrepare("INSERT INTO decisions")
	prep.ExpectExec().WillReturnError(assert.AnError)
	mock.ExpectRollback()

	err := store.SaveDecisions(context.Background(), []signal.Decision{
		{CycleID: "c1", Symbol: "AAAA", Direction: signal.Long, Strategies: []string{"momentum-breakout"}},
	})
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveSnapshot(t *testing.T) {
	store, mock := mockStore(t)

	mock.ExpectExec("INSERT INTO portfolio_snapshots").
		WillReturnResult(sqlmock.NewResult(1, 1))

	snap := persistence.Snapshot{
		CycleID:    "c1",
		Timestamp:  time.Now().UTC(),
		TradingDay: "2026-08-28",
		Equity:     100_000,
		Cash:       60_000,
		Positions: map[string]*trader.Position{
			"AAAA": {Symbol: "AAAA", Qty: 100, Side: "buy", State: trader.Open},
		},
	}
	require.NoError(t, store.SaveSnapshot(context.Background(), snap))
	assert.NoError(t, mock.ExpectationsWereMet())
}
