package paper

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"polaris/internal/signal"
	"polaris/internal/strategy"
)

// Exit describes a position close produced by one signal.
type Exit struct {
	Price float64
	At    time.Time
	PnL   float64
}

// Fill is the outcome of applying one signal: an opened trade, a closed
// position, or neither (HOLD / unsizable signal).
type Fill struct {
	Opened *strategy.Trade
	Closed *Exit
}

// Simulator applies signals against simulated capital. It performs local
// bookkeeping only: no network I/O, no persistence. The caller owns the
// strategy for the duration of the call, so no locking happens here.
type Simulator struct{}

func NewSimulator() *Simulator { return &Simulator{} }

// Apply mutates the strategy's account per the signal and reports the fill.
// BUY on an open position scales in (weighted entry); SELL always closes
// the whole position.
func (s *Simulator) Apply(st *strategy.Strategy, sig signal.Signal, cycle int64, now time.Time) (Fill, error) {
	switch sig.Action {
	case signal.ActionHold:
		return Fill{}, nil
	case signal.ActionBuy:
		return s.applyBuy(st, sig, cycle, now)
	case signal.ActionSell:
		return s.applySell(st, sig, now)
	default:
		return Fill{}, fmt.Errorf("paper: unknown action %q", sig.Action)
	}
}

func (s *Simulator) applyBuy(st *strategy.Strategy, sig signal.Signal, cycle int64, now time.Time) (Fill, error) {
	if sig.Quantity <= 0 || sig.Price <= 0 {
		return Fill{}, fmt.Errorf("paper: unsizable buy qty=%v price=%v", sig.Quantity, sig.Price)
	}
	tr := strategy.Trade{
		ID:         uuid.NewString(),
		StrategyID: st.ID,
		Symbol:     st.Symbol,
		Side:       strategy.SideBuy,
		Quantity:   sig.Quantity,
		EntryPrice: sig.Price,
		EntryTime:  now,
		Status:     strategy.TradeOpen,
		Paper:      true,
	}

	pos := &st.Account.Position
	if pos.IsOpen() {
		total := pos.Quantity + sig.Quantity
		pos.EntryPrice = (pos.EntryPrice*pos.Quantity + sig.Price*sig.Quantity) / total
		pos.Quantity = total
	} else {
		pos.Quantity = sig.Quantity
		pos.EntryPrice = sig.Price
		pos.OpenedAt = now
		pos.TradeID = tr.ID
	}
	if st.Type == strategy.TypeDCA {
		st.Account.LastDCACycle = cycle
	}
	return Fill{Opened: &tr}, nil
}

func (s *Simulator) applySell(st *strategy.Strategy, sig signal.Signal, now time.Time) (Fill, error) {
	pos := &st.Account.Position
	if !pos.IsOpen() {
		return Fill{}, nil
	}
	price := sig.Price
	if price <= 0 {
		return Fill{}, fmt.Errorf("paper: sell without price")
	}
	pnl := (price - pos.EntryPrice) * pos.Quantity
	st.Account.Equity += pnl
	st.Account.RollDailyPnL(pnl, now)
	*pos = strategy.Position{}
	return Fill{Closed: &Exit{Price: price, At: now, PnL: pnl}}, nil
}
