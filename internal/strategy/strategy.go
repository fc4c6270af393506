package strategy

import (
	"fmt"
	"strings"
	"time"
)

// Type is the closed set of recognized strategy kinds. Anything outside
// this set is rejected at registration/load time, never silently ignored.
type Type string

const (
	TypeMomentum      Type = "MOMENTUM"
	TypeMeanReversion Type = "MEAN_REVERSION"
	TypeGrid          Type = "GRID"
	TypeDCA           Type = "DCA"
	TypeArbitrage     Type = "ARBITRAGE"
)

func ParseType(s string) (Type, error) {
	switch Type(strings.ToUpper(strings.TrimSpace(s))) {
	case TypeMomentum:
		return TypeMomentum, nil
	case TypeMeanReversion:
		return TypeMeanReversion, nil
	case TypeGrid:
		return TypeGrid, nil
	case TypeDCA:
		return TypeDCA, nil
	case TypeArbitrage:
		return TypeArbitrage, nil
	default:
		return "", fmt.Errorf("unknown strategy type %q", s)
	}
}

type Mode string

const (
	ModePaper   Mode = "PAPER"
	ModeLive    Mode = "LIVE"
	ModePaused  Mode = "PAUSED"
	ModeRetired Mode = "RETIRED"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToUpper(strings.TrimSpace(s))) {
	case ModePaper:
		return ModePaper, nil
	case ModeLive:
		return ModeLive, nil
	case ModePaused:
		return ModePaused, nil
	case ModeRetired:
		return ModeRetired, nil
	default:
		return "", fmt.Errorf("unknown strategy mode %q", s)
	}
}

// Params carries every numeric knob a strategy type may use. Unused fields
// stay zero; Validate checks only what the declared type reads.
type Params struct {
	// MOMENTUM
	ShortWindow int `json:"short_window,omitempty"`
	LongWindow  int `json:"long_window,omitempty"`

	// MEAN_REVERSION
	RSIPeriod  int     `json:"rsi_period,omitempty"`
	Oversold   float64 `json:"oversold,omitempty"`
	Overbought float64 `json:"overbought,omitempty"`

	// GRID
	GridBasePrice float64 `json:"grid_base_price,omitempty"`
	GridStepPct   float64 `json:"grid_step_pct,omitempty"`

	// DCA
	DCAEveryCycles int `json:"dca_every_cycles,omitempty"`

	// ARBITRAGE
	LegSymbol    string  `json:"leg_symbol,omitempty"`
	MinSpreadPct float64 `json:"min_spread_pct,omitempty"`

	// Sizing, shared by all types.
	PositionPct   float64 `json:"position_pct,omitempty"`
	StopLossPct   float64 `json:"stop_loss_pct,omitempty"`
	TakeProfitPct float64 `json:"take_profit_pct,omitempty"`
}

func (p Params) Validate(t Type) error {
	if p.PositionPct <= 0 || p.PositionPct > 1 {
		return fmt.Errorf("position_pct must be in (0,1], got %v", p.PositionPct)
	}
	switch t {
	case TypeMomentum:
		if p.ShortWindow <= 0 || p.LongWindow <= p.ShortWindow {
			return fmt.Errorf("momentum windows invalid: short=%d long=%d", p.ShortWindow, p.LongWindow)
		}
	case TypeMeanReversion:
		if p.RSIPeriod <= 1 {
			return fmt.Errorf("rsi_period must be > 1, got %d", p.RSIPeriod)
		}
		if p.Oversold <= 0 || p.Overbought <= p.Oversold || p.Overbought >= 100 {
			return fmt.Errorf("rsi bands invalid: oversold=%v overbought=%v", p.Oversold, p.Overbought)
		}
	case TypeGrid:
		if p.GridBasePrice <= 0 || p.GridStepPct <= 0 {
			return fmt.Errorf("grid ladder invalid: base=%v step=%v", p.GridBasePrice, p.GridStepPct)
		}
	case TypeDCA:
		if p.DCAEveryCycles <= 0 {
			return fmt.Errorf("dca_every_cycles must be > 0, got %d", p.DCAEveryCycles)
		}
	case TypeArbitrage:
		if strings.TrimSpace(p.LegSymbol) == "" {
			return fmt.Errorf("arbitrage requires leg_symbol")
		}
		if p.MinSpreadPct <= 0 {
			return fmt.Errorf("min_spread_pct must be > 0, got %v", p.MinSpreadPct)
		}
	default:
		return fmt.Errorf("unknown strategy type %q", t)
	}
	return nil
}

// Position is the strategy's current holding. Quantity zero means flat.
type Position struct {
	Quantity   float64   `json:"quantity"`
	EntryPrice float64   `json:"entry_price"`
	OpenedAt   time.Time `json:"opened_at"`
	TradeID    string    `json:"trade_id,omitempty"`
}

func (p Position) IsOpen() bool { return p.Quantity > 0 }

// AccountState is the per-strategy ledger: equity, the open position, and
// the cycle counters the generator needs (DCA scheduling).
type AccountState struct {
	InitialEquity float64  `json:"initial_equity"`
	Equity        float64  `json:"equity"`
	Position      Position `json:"position"`
	CyclesSeen    int64    `json:"cycles_seen"`
	LastDCACycle  int64    `json:"last_dca_cycle"`
	DailyPnL      float64  `json:"daily_pnl"`
	DailyPnLDate  string   `json:"daily_pnl_date,omitempty"`
}

// RollDailyPnL accumulates realized P&L per UTC day, resetting when the
// day changes. Both the paper simulator and the live risk gate use it.
func (a *AccountState) RollDailyPnL(pnl float64, now time.Time) {
	day := now.UTC().Format("2006-01-02")
	if a.DailyPnLDate != day {
		a.DailyPnLDate = day
		a.DailyPnL = 0
	}
	a.DailyPnL += pnl
}

// Strategy is the unit the engine schedules. Promotion transitions Mode in
// place; the strategy keeps its one AccountState across modes.
type Strategy struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Type   Type   `json:"type"`
	Symbol string `json:"symbol"`
	Mode   Mode   `json:"mode"`
	// PausedFrom remembers the mode an operator stop interrupted, so a
	// later start resumes there instead of silently demoting.
	PausedFrom Mode         `json:"paused_from,omitempty"`
	Params     Params       `json:"params"`
	Account    AccountState `json:"account"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

func (s *Strategy) Validate() error {
	if strings.TrimSpace(s.ID) == "" {
		return fmt.Errorf("strategy id is required")
	}
	if strings.TrimSpace(s.Symbol) == "" {
		return fmt.Errorf("strategy %s: symbol is required", s.ID)
	}
	if _, err := ParseType(string(s.Type)); err != nil {
		return fmt.Errorf("strategy %s: %w", s.ID, err)
	}
	if _, err := ParseMode(string(s.Mode)); err != nil {
		return fmt.Errorf("strategy %s: %w", s.ID, err)
	}
	if err := s.Params.Validate(s.Type); err != nil {
		return fmt.Errorf("strategy %s: %w", s.ID, err)
	}
	return nil
}
