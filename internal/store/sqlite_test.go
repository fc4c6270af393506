package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"polaris/internal/strategy"
)

func newTestStore(t *testing.T) *SqliteStore {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	s, err := NewSqliteStoreFromDB(db)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func storedStrategy(id string, mode strategy.Mode) *strategy.Strategy {
	return &strategy.Strategy{
		ID:     id,
		Name:   "momentum-" + id,
		Type:   strategy.TypeMomentum,
		Symbol: "BTC/USDT",
		Mode:   mode,
		Params: strategy.Params{ShortWindow: 5, LongWindow: 20, PositionPct: 0.1},
		Account: strategy.AccountState{
			InitialEquity: 10000,
			Equity:        10500,
			CyclesSeen:    42,
		},
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}
}

func TestStrategyRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	st := storedStrategy("s1", strategy.ModePaper)
	st.PausedFrom = strategy.ModeLive
	st.Account.Position = strategy.Position{Quantity: 0.5, EntryPrice: 48000, TradeID: "t1"}
	require.NoError(t, s.SaveStrategyState(ctx, st))

	loaded, err := s.LoadActiveStrategies(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)

	got := loaded[0]
	assert.Equal(t, st.ID, got.ID)
	assert.Equal(t, strategy.TypeMomentum, got.Type)
	assert.Equal(t, strategy.ModePaper, got.Mode)
	assert.Equal(t, strategy.ModeLive, got.PausedFrom)
	assert.Equal(t, st.Params, got.Params)
	assert.Equal(t, 10500.0, got.Account.Equity)
	assert.Equal(t, int64(42), got.Account.CyclesSeen)
	assert.Equal(t, 0.5, got.Account.Position.Quantity)
}

func TestLoadActiveSkipsRetired(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveStrategyState(ctx, storedStrategy("alive", strategy.ModeLive)))
	require.NoError(t, s.SaveStrategyState(ctx, storedStrategy("paused", strategy.ModePaused)))
	require.NoError(t, s.SaveStrategyState(ctx, storedStrategy("gone", strategy.ModeRetired)))

	loaded, err := s.LoadActiveStrategies(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	modes := map[string]strategy.Mode{}
	for _, st := range loaded {
		modes[st.ID] = st.Mode
	}
	assert.Equal(t, strategy.ModeLive, modes["alive"], "mode is restored exactly as stored")
	assert.Equal(t, strategy.ModePaused, modes["paused"])
}

func TestLoadRejectsCorruptMode(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.db.Create(&StrategyModel{
		ID: "bad", Type: "MOMENTUM", Symbol: "BTC/USDT", Mode: "SORT_OF_LIVE",
	}).Error)

	_, err := s.LoadActiveStrategies(ctx)
	assert.Error(t, err, "an unknown stored mode must fail loudly, not default")
}

func TestTradeAppendAndClose(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	entry := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.AppendTrade(ctx, strategy.Trade{
		ID: "t1", StrategyID: "s1", Symbol: "BTC/USDT", Side: strategy.SideBuy,
		Quantity: 2, EntryPrice: 100, EntryTime: entry, Status: strategy.TradeOpen, Paper: true,
	}))
	require.NoError(t, s.AppendTrade(ctx, strategy.Trade{
		ID: "t2", StrategyID: "s1", Symbol: "BTC/USDT", Side: strategy.SideBuy,
		Quantity: 1, EntryPrice: 110, EntryTime: entry.Add(time.Minute), Status: strategy.TradeOpen, Paper: true,
	}))
	require.NoError(t, s.AppendTrade(ctx, strategy.Trade{
		ID: "other", StrategyID: "s2", Symbol: "ETH/USDT", Side: strategy.SideBuy,
		Quantity: 1, EntryPrice: 50, EntryTime: entry, Status: strategy.TradeOpen, Paper: true,
	}))

	exit := entry.Add(time.Hour)
	require.NoError(t, s.CloseOpenTrades(ctx, "s1", 120, exit))

	trades, err := s.TradesForStrategy(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, trades, 2)

	// Each row realizes P&L against its own entry price.
	assert.Equal(t, strategy.TradeClosed, trades[0].Status)
	assert.InDelta(t, 40, trades[0].PnL, 1e-9)
	assert.InDelta(t, 10, trades[1].PnL, 1e-9)
	assert.Equal(t, 120.0, trades[0].ExitPrice)

	others, err := s.TradesForStrategy(ctx, "s2")
	require.NoError(t, err)
	require.Len(t, others, 1)
	assert.Equal(t, strategy.TradeOpen, others[0].Status, "close is scoped to one strategy")
}

func TestAppendTradeDuplicateIDFails(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tr := strategy.Trade{
		ID: "t1", StrategyID: "s1", Symbol: "BTC/USDT", Side: strategy.SideBuy,
		Quantity: 1, EntryPrice: 100, EntryTime: time.Now(), Status: strategy.TradeOpen,
	}
	require.NoError(t, s.AppendTrade(ctx, tr))
	assert.Error(t, s.AppendTrade(ctx, tr), "audit rows are immutable, no upsert")
}
