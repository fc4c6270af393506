package promotion

import (
	"fmt"

	"polaris/internal/strategy"
)

type Decision int

const (
	// DecisionKeepPaper keeps the strategy where it is.
	DecisionKeepPaper Decision = iota
	// DecisionPromote transitions PAPER -> LIVE.
	DecisionPromote
	// DecisionAwaitApproval means the score qualifies but the policy
	// requires an operator to approve before going live.
	DecisionAwaitApproval
	// DecisionRetire transitions PAPER -> RETIRED.
	DecisionRetire
)

func (d Decision) String() string {
	switch d {
	case DecisionPromote:
		return "PROMOTE"
	case DecisionAwaitApproval:
		return "AWAIT_APPROVAL"
	case DecisionRetire:
		return "RETIRE"
	default:
		return "KEEP_PAPER"
	}
}

type Result struct {
	Decision    Decision
	Score       float64
	Performance strategy.Performance
	Reason      string
}

// Evaluator scores PAPER strategies and decides admission to live trading.
// Transitions are monotonic: it never demotes LIVE back to PAPER.
type Evaluator struct {
	cfg Config
}

func NewEvaluator(cfg Config) (*Evaluator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Evaluator{cfg: cfg}, nil
}

func (e *Evaluator) Config() Config { return e.cfg }

// Evaluate inspects one PAPER strategy's closed trade history. approved
// reports whether an operator has already cleared this strategy when
// manual approval is in force.
func (e *Evaluator) Evaluate(st *strategy.Strategy, trades []strategy.Trade, approved bool) Result {
	perf := strategy.ComputePerformance(trades, st.Account.InitialEquity)
	res := Result{Performance: perf, Decision: DecisionKeepPaper}

	if perf.TotalReturnPct <= -e.cfg.RetireDrawdownPct || perf.MaxDrawdownPct >= e.cfg.RetireDrawdownPct {
		res.Decision = DecisionRetire
		res.Reason = fmt.Sprintf("drawdown limit breached: return=%.2f%% maxDD=%.2f%% limit=%.2f%%",
			perf.TotalReturnPct, perf.MaxDrawdownPct, e.cfg.RetireDrawdownPct)
		return res
	}

	if perf.ClosedTrades < e.cfg.MinTrades {
		res.Reason = fmt.Sprintf("insufficient history: %d/%d closed trades", perf.ClosedTrades, e.cfg.MinTrades)
		return res
	}

	res.Score = Score(perf, e.cfg)
	if res.Score <= e.cfg.Threshold {
		res.Reason = fmt.Sprintf("score %.3f below threshold %.3f", res.Score, e.cfg.Threshold)
		return res
	}

	if e.cfg.RequireApproval && !approved {
		res.Decision = DecisionAwaitApproval
		res.Reason = fmt.Sprintf("score %.3f qualifies, awaiting operator approval", res.Score)
		return res
	}
	res.Decision = DecisionPromote
	res.Reason = fmt.Sprintf("score %.3f above threshold %.3f", res.Score, e.cfg.Threshold)
	return res
}
