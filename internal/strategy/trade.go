package strategy

import "time"

type TradeStatus string

const (
	TradeOpen      TradeStatus = "OPEN"
	TradeClosed    TradeStatus = "CLOSED"
	TradeCancelled TradeStatus = "CANCELLED"
)

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Trade is the immutable audit record of one fill, paper or live. The only
// permitted mutation is attaching the exit on close.
type Trade struct {
	ID         string      `json:"id"`
	StrategyID string      `json:"strategy_id"`
	Symbol     string      `json:"symbol"`
	Side       Side        `json:"side"`
	Quantity   float64     `json:"quantity"`
	EntryPrice float64     `json:"entry_price"`
	EntryTime  time.Time   `json:"entry_time"`
	ExitPrice  float64     `json:"exit_price,omitempty"`
	ExitTime   time.Time   `json:"exit_time,omitempty"`
	PnL        float64     `json:"pnl"`
	Status     TradeStatus `json:"status"`
	Paper      bool        `json:"paper"`
}

// CloseAt attaches the exit and realizes P&L.
func (t *Trade) CloseAt(price float64, at time.Time) {
	t.ExitPrice = price
	t.ExitTime = at
	t.PnL = (price - t.EntryPrice) * t.Quantity
	t.Status = TradeClosed
}
