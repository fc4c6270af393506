package strategy

// Performance aggregates the closed trades of one strategy. It feeds both
// the status surface and the promotion score.
type Performance struct {
	ClosedTrades   int     `json:"closed_trades"`
	Wins           int     `json:"wins"`
	Losses         int     `json:"losses"`
	GrossProfit    float64 `json:"gross_profit"`
	GrossLoss      float64 `json:"gross_loss"`
	NetPnL         float64 `json:"net_pnl"`
	WinRate        float64 `json:"win_rate"`
	ProfitFactor   float64 `json:"profit_factor"`
	TotalReturnPct float64 `json:"total_return_pct"`
	MaxDrawdownPct float64 `json:"max_drawdown_pct"`
}

// ComputePerformance walks closed trades in order and derives the usual
// aggregates. Profit factor with zero gross loss is reported as gross
// profit (uncapped here; scoring clamps it).
func ComputePerformance(trades []Trade, initialEquity float64) Performance {
	var p Performance
	equity := initialEquity
	peak := initialEquity
	for _, t := range trades {
		if t.Status != TradeClosed {
			continue
		}
		p.ClosedTrades++
		p.NetPnL += t.PnL
		if t.PnL >= 0 {
			p.Wins++
			p.GrossProfit += t.PnL
		} else {
			p.Losses++
			p.GrossLoss += -t.PnL
		}
		equity += t.PnL
		if equity > peak {
			peak = equity
		}
		if peak > 0 {
			dd := (peak - equity) / peak * 100
			if dd > p.MaxDrawdownPct {
				p.MaxDrawdownPct = dd
			}
		}
	}
	if p.ClosedTrades > 0 {
		p.WinRate = float64(p.Wins) / float64(p.ClosedTrades)
	}
	switch {
	case p.GrossLoss > 0:
		p.ProfitFactor = p.GrossProfit / p.GrossLoss
	default:
		p.ProfitFactor = p.GrossProfit
	}
	if initialEquity > 0 {
		p.TotalReturnPct = p.NetPnL / initialEquity * 100
	}
	return p
}
