package promotion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"polaris/internal/strategy"
)

func paperStrategy(initialEquity float64) *strategy.Strategy {
	return &strategy.Strategy{
		ID:     "s1",
		Type:   strategy.TypeMomentum,
		Symbol: "BTC/USDT",
		Mode:   strategy.ModePaper,
		Account: strategy.AccountState{
			InitialEquity: initialEquity,
			Equity:        initialEquity,
		},
	}
}

// tradeSet builds n closed trades with the given win rate; winners and
// losers are sized so the aggregate hits the target return and profit
// factor exactly.
func tradeSet(n int, winRate, grossProfit, grossLoss float64) []strategy.Trade {
	wins := int(float64(n)*winRate + 0.5)
	trades := make([]strategy.Trade, 0, n)
	for i := 0; i < n; i++ {
		tr := strategy.Trade{Status: strategy.TradeClosed}
		if i < wins {
			tr.PnL = grossProfit / float64(wins)
		} else {
			tr.PnL = -grossLoss / float64(n-wins)
		}
		trades = append(trades, tr)
	}
	return trades
}

func TestScoreWeighting(t *testing.T) {
	cfg := DefaultConfig()

	// 10% return, 60% win rate, profit factor 2.0:
	// 0.4*(10/25) + 0.3*0.6 + 0.3*(2/3) = 0.16 + 0.18 + 0.20 = 0.54
	perf := strategy.Performance{
		TotalReturnPct: 10,
		WinRate:        0.6,
		ProfitFactor:   2.0,
	}
	assert.InDelta(t, 0.54, Score(perf, cfg), 1e-9)

	// Saturated components clamp at the weight sum.
	perf = strategy.Performance{TotalReturnPct: 500, WinRate: 1, ProfitFactor: 50}
	assert.InDelta(t, cfg.MaxScore(), Score(perf, cfg), 1e-9)

	// Deep negative return drags the return component to -WeightReturn.
	perf = strategy.Performance{TotalReturnPct: -80, WinRate: 0, ProfitFactor: 0}
	assert.InDelta(t, -cfg.WeightReturn, Score(perf, cfg), 1e-9)
}

func TestValidateRejectsUnreachableThreshold(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Threshold = 1.0 // weights sum to 1.0, score can never exceed it
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unreachable")

	_, err = NewEvaluator(cfg)
	assert.Error(t, err)
}

func TestEvaluateKeepsPaperBelowThreshold(t *testing.T) {
	ev, err := NewEvaluator(DefaultConfig())
	require.NoError(t, err)

	// 50 trades, 60% win rate, PF 2.0, ~2% return: score well under 0.6.
	st := paperStrategy(10000)
	trades := tradeSet(50, 0.6, 400, 200)
	res := ev.Evaluate(st, trades, false)

	assert.Equal(t, DecisionKeepPaper, res.Decision)
	assert.Less(t, res.Score, 0.6)
	assert.Contains(t, res.Reason, "below threshold")
}

func TestEvaluatePromotesQualifyingStrategy(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RequireApproval = false
	ev, err := NewEvaluator(cfg)
	require.NoError(t, err)

	// 30% return, 70% win rate, PF 3.0:
	// 0.4*1.0 + 0.3*0.7 + 0.3*1.0 = 0.91
	st := paperStrategy(10000)
	trades := tradeSet(40, 0.7, 4500, 1500)
	res := ev.Evaluate(st, trades, false)

	require.Equal(t, DecisionPromote, res.Decision)
	assert.InDelta(t, 0.91, res.Score, 1e-9)
}

func TestEvaluateAwaitsApprovalWhenPolicyRequiresIt(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RequireApproval = true
	ev, err := NewEvaluator(cfg)
	require.NoError(t, err)

	st := paperStrategy(10000)
	trades := tradeSet(40, 0.7, 4500, 1500)

	res := ev.Evaluate(st, trades, false)
	assert.Equal(t, DecisionAwaitApproval, res.Decision)

	res = ev.Evaluate(st, trades, true)
	assert.Equal(t, DecisionPromote, res.Decision)
}

func TestEvaluateInsufficientHistory(t *testing.T) {
	ev, err := NewEvaluator(DefaultConfig())
	require.NoError(t, err)

	st := paperStrategy(10000)
	trades := tradeSet(10, 0.9, 5000, 100)
	res := ev.Evaluate(st, trades, false)

	assert.Equal(t, DecisionKeepPaper, res.Decision)
	assert.Zero(t, res.Score, "no score until the sample is large enough")
	assert.Contains(t, res.Reason, "insufficient history")
}

func TestEvaluateRetiresOnDrawdown(t *testing.T) {
	ev, err := NewEvaluator(DefaultConfig())
	require.NoError(t, err)

	st := paperStrategy(10000)
	// One catastrophic loss: -25% return breaches the 20% retire limit.
	trades := []strategy.Trade{{Status: strategy.TradeClosed, PnL: -2500}}
	res := ev.Evaluate(st, trades, false)

	assert.Equal(t, DecisionRetire, res.Decision)
	assert.Contains(t, res.Reason, "drawdown")
}

func TestEvaluateOpenTradesAreIgnored(t *testing.T) {
	ev, err := NewEvaluator(DefaultConfig())
	require.NoError(t, err)

	st := paperStrategy(10000)
	trades := []strategy.Trade{
		{Status: strategy.TradeOpen, PnL: 999999},
		{Status: strategy.TradeClosed, PnL: 10},
	}
	res := ev.Evaluate(st, trades, false)
	assert.Equal(t, 1, res.Performance.ClosedTrades)
}
