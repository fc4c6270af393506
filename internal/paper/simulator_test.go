package paper

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"polaris/internal/signal"
	"polaris/internal/strategy"
)

var simNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func paperStrategy() *strategy.Strategy {
	return &strategy.Strategy{
		ID:     "s1",
		Type:   strategy.TypeMomentum,
		Symbol: "BTC/USDT",
		Mode:   strategy.ModePaper,
		Account: strategy.AccountState{
			InitialEquity: 10000,
			Equity:        10000,
		},
	}
}

func TestApplyHoldIsNoop(t *testing.T) {
	sim := NewSimulator()
	st := paperStrategy()
	before := *st

	fill, err := sim.Apply(st, signal.Signal{Action: signal.ActionHold}, 1, simNow)
	require.NoError(t, err)
	assert.Nil(t, fill.Opened)
	assert.Nil(t, fill.Closed)
	assert.Equal(t, before, *st)
}

func TestApplyBuyOpensPosition(t *testing.T) {
	sim := NewSimulator()
	st := paperStrategy()

	fill, err := sim.Apply(st, signal.Signal{
		Action: signal.ActionBuy, Quantity: 0.02, Price: 50000,
	}, 1, simNow)
	require.NoError(t, err)
	require.NotNil(t, fill.Opened)

	assert.Equal(t, strategy.TradeOpen, fill.Opened.Status)
	assert.True(t, fill.Opened.Paper)
	assert.Equal(t, 0.02, st.Account.Position.Quantity)
	assert.Equal(t, 50000.0, st.Account.Position.EntryPrice)
	assert.Equal(t, 10000.0, st.Account.Equity, "equity moves only on realized P&L")
}

func TestApplyBuyScalesInWithWeightedEntry(t *testing.T) {
	sim := NewSimulator()
	st := paperStrategy()

	_, err := sim.Apply(st, signal.Signal{Action: signal.ActionBuy, Quantity: 1, Price: 100}, 1, simNow)
	require.NoError(t, err)
	_, err = sim.Apply(st, signal.Signal{Action: signal.ActionBuy, Quantity: 1, Price: 110}, 2, simNow)
	require.NoError(t, err)

	assert.Equal(t, 2.0, st.Account.Position.Quantity)
	assert.InDelta(t, 105, st.Account.Position.EntryPrice, 1e-9)
}

func TestApplySellRealizesPnL(t *testing.T) {
	sim := NewSimulator()
	st := paperStrategy()

	_, err := sim.Apply(st, signal.Signal{Action: signal.ActionBuy, Quantity: 2, Price: 100}, 1, simNow)
	require.NoError(t, err)

	fill, err := sim.Apply(st, signal.Signal{Action: signal.ActionSell, Price: 120}, 2, simNow)
	require.NoError(t, err)
	require.NotNil(t, fill.Closed)

	assert.InDelta(t, 40, fill.Closed.PnL, 1e-9)
	assert.InDelta(t, 10040, st.Account.Equity, 1e-9)
	assert.InDelta(t, 40, st.Account.DailyPnL, 1e-9)
	assert.False(t, st.Account.Position.IsOpen(), "sell always closes the whole position")
}

func TestApplySellWhileFlatIsNoop(t *testing.T) {
	sim := NewSimulator()
	st := paperStrategy()

	fill, err := sim.Apply(st, signal.Signal{Action: signal.ActionSell, Price: 100}, 1, simNow)
	require.NoError(t, err)
	assert.Nil(t, fill.Closed)
}

func TestApplyBuyRecordsDCACycle(t *testing.T) {
	sim := NewSimulator()
	st := paperStrategy()
	st.Type = strategy.TypeDCA

	_, err := sim.Apply(st, signal.Signal{Action: signal.ActionBuy, Quantity: 0.1, Price: 100}, 7, simNow)
	require.NoError(t, err)
	assert.Equal(t, int64(7), st.Account.LastDCACycle)
}

func TestApplyRejectsUnsizableBuy(t *testing.T) {
	sim := NewSimulator()
	st := paperStrategy()

	_, err := sim.Apply(st, signal.Signal{Action: signal.ActionBuy, Quantity: 0, Price: 100}, 1, simNow)
	assert.Error(t, err)
}
