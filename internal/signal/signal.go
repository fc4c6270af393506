package signal

import "time"

type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

// Signal is the output of one evaluation cycle for one strategy. It is
// ephemeral: dispatched immediately, retained only in the audit log.
type Signal struct {
	StrategyID  string    `json:"strategy_id"`
	Symbol      string    `json:"symbol"`
	Action      Action    `json:"action"`
	Quantity    float64   `json:"quantity,omitempty"`
	Price       float64   `json:"price,omitempty"`
	StopLoss    float64   `json:"stop_loss,omitempty"`
	TakeProfit  float64   `json:"take_profit,omitempty"`
	Confidence  float64   `json:"confidence"`
	Reason      string    `json:"reason,omitempty"`
	GeneratedAt time.Time `json:"generated_at"`
}

func hold(strategyID, symbol, reason string, at time.Time) Signal {
	return Signal{
		StrategyID:  strategyID,
		Symbol:      symbol,
		Action:      ActionHold,
		Reason:      reason,
		GeneratedAt: at,
	}
}
