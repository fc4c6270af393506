package promotion

import (
	"fmt"

	"polaris/internal/strategy"
)

// Config holds the promotion policy. The weighted score is
//
//	clamp(totalReturnPct/ReturnCapPct, -1, 1) * WeightReturn
//	  + winRate * WeightWinRate
//	  + clamp(profitFactor/ProfitFactorCap, 0, 1) * WeightProfitFactor
//
// so the maximum attainable score is the sum of the weights. Validate
// rejects any threshold at or above that ceiling; a threshold the score can
// never reach makes promotion silently impossible.
type Config struct {
	MinTrades          int     `toml:"min_trades" json:"min_trades"`
	Threshold          float64 `toml:"threshold" json:"threshold"`
	WeightReturn       float64 `toml:"weight_return" json:"weight_return"`
	WeightWinRate      float64 `toml:"weight_win_rate" json:"weight_win_rate"`
	WeightProfitFactor float64 `toml:"weight_profit_factor" json:"weight_profit_factor"`
	ReturnCapPct       float64 `toml:"return_cap_pct" json:"return_cap_pct"`
	ProfitFactorCap    float64 `toml:"profit_factor_cap" json:"profit_factor_cap"`
	RetireDrawdownPct  float64 `toml:"retire_drawdown_pct" json:"retire_drawdown_pct"`
	RequireApproval    bool    `toml:"require_approval" json:"require_approval"`
}

func DefaultConfig() Config {
	return Config{
		MinTrades:          30,
		Threshold:          0.6,
		WeightReturn:       0.4,
		WeightWinRate:      0.3,
		WeightProfitFactor: 0.3,
		ReturnCapPct:       25,
		ProfitFactorCap:    3,
		RetireDrawdownPct:  20,
	}
}

// MaxScore is the ceiling the weighted score can reach when every
// component saturates its cap.
func (c Config) MaxScore() float64 {
	return c.WeightReturn + c.WeightWinRate + c.WeightProfitFactor
}

func (c Config) Validate() error {
	if c.MinTrades <= 0 {
		return fmt.Errorf("promotion: min_trades must be > 0, got %d", c.MinTrades)
	}
	if c.WeightReturn < 0 || c.WeightWinRate < 0 || c.WeightProfitFactor < 0 {
		return fmt.Errorf("promotion: weights must be non-negative")
	}
	if c.ReturnCapPct <= 0 || c.ProfitFactorCap <= 0 {
		return fmt.Errorf("promotion: caps must be > 0, got return=%v profit_factor=%v", c.ReturnCapPct, c.ProfitFactorCap)
	}
	if max := c.MaxScore(); c.Threshold >= max {
		return fmt.Errorf("promotion: threshold %.3f is unreachable, max attainable score is %.3f", c.Threshold, max)
	}
	if c.Threshold <= 0 {
		return fmt.Errorf("promotion: threshold must be > 0, got %v", c.Threshold)
	}
	if c.RetireDrawdownPct <= 0 {
		return fmt.Errorf("promotion: retire_drawdown_pct must be > 0, got %v", c.RetireDrawdownPct)
	}
	return nil
}

// Score computes the weighted promotion score from paper performance.
func Score(p strategy.Performance, c Config) float64 {
	ret := clamp(p.TotalReturnPct/c.ReturnCapPct, -1, 1)
	pf := clamp(p.ProfitFactor/c.ProfitFactorCap, 0, 1)
	return ret*c.WeightReturn + p.WinRate*c.WeightWinRate + pf*c.WeightProfitFactor
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
