package signal

import (
	"fmt"
	"math"
	"time"

	"github.com/markcheno/go-talib"

	"polaris/internal/market"
	"polaris/internal/strategy"
)

// Input is everything Evaluate is allowed to look at. The arbitrage leg
// price is resolved by the caller so evaluation itself never touches the
// network; LegOK=false means the second leg is unavailable and the
// generator must hold, never guess.
type Input struct {
	Snapshot market.Snapshot
	LegPrice float64
	LegOK    bool
	Cycle    int64
	Now      time.Time
}

// Generator maps (strategy, input) to a Signal. Pure: identical inputs
// always produce identical signals, which is what makes paper replay and
// the crash-recovery idempotence guarantee possible.
type Generator struct {
	Staleness time.Duration
}

func NewGenerator(staleness time.Duration) *Generator {
	if staleness <= 0 {
		staleness = 2 * time.Minute
	}
	return &Generator{Staleness: staleness}
}

// Evaluate derives one signal. Stale or absent market data yields HOLD for
// every strategy type; trading on missing data is a correctness violation.
func (g *Generator) Evaluate(st *strategy.Strategy, in Input) Signal {
	snap := in.Snapshot
	if snap.UpdatedAt.IsZero() || len(snap.Candles) == 0 {
		return hold(st.ID, st.Symbol, "no market data", in.Now)
	}
	if snap.Age(in.Now) > g.Staleness {
		return hold(st.ID, st.Symbol, fmt.Sprintf("stale snapshot age=%s", snap.Age(in.Now).Truncate(time.Second)), in.Now)
	}

	price := snap.LastPrice
	if price <= 0 {
		return hold(st.ID, st.Symbol, "no traded price", in.Now)
	}

	// Protective exits take precedence over entry logic for every type
	// that sells. DCA only accumulates.
	if st.Type != strategy.TypeDCA && st.Account.Position.IsOpen() {
		if sig, ok := g.protectiveExit(st, price, in.Now); ok {
			return sig
		}
	}

	switch st.Type {
	case strategy.TypeMomentum:
		return g.momentum(st, price, in)
	case strategy.TypeMeanReversion:
		return g.meanReversion(st, price, in)
	case strategy.TypeGrid:
		return g.grid(st, price, in)
	case strategy.TypeDCA:
		return g.dca(st, price, in)
	case strategy.TypeArbitrage:
		return g.arbitrage(st, price, in)
	default:
		// Unreachable for validated strategies; hold rather than invent.
		return hold(st.ID, st.Symbol, fmt.Sprintf("unhandled strategy type %s", st.Type), in.Now)
	}
}

func (g *Generator) protectiveExit(st *strategy.Strategy, price float64, now time.Time) (Signal, bool) {
	pos := st.Account.Position
	if st.Params.StopLossPct > 0 {
		stop := pos.EntryPrice * (1 - st.Params.StopLossPct/100)
		if price <= stop {
			return g.sell(st, price, 1, fmt.Sprintf("stop loss hit at %.8g", stop), now), true
		}
	}
	if st.Params.TakeProfitPct > 0 {
		target := pos.EntryPrice * (1 + st.Params.TakeProfitPct/100)
		if price >= target {
			return g.sell(st, price, 1, fmt.Sprintf("take profit hit at %.8g", target), now), true
		}
	}
	return Signal{}, false
}

func (g *Generator) momentum(st *strategy.Strategy, price float64, in Input) Signal {
	closes := in.Snapshot.Closes()
	long := st.Params.LongWindow
	if len(closes) < long+1 {
		return hold(st.ID, st.Symbol, fmt.Sprintf("need %d candles, have %d", long+1, len(closes)), in.Now)
	}
	shortMA := talib.Sma(closes, st.Params.ShortWindow)
	longMA := talib.Sma(closes, long)
	s := shortMA[len(shortMA)-1]
	l := longMA[len(longMA)-1]
	if l <= 0 {
		return hold(st.ID, st.Symbol, "degenerate moving average", in.Now)
	}
	gap := (s - l) / l
	open := st.Account.Position.IsOpen()
	switch {
	case gap > 0 && !open:
		conf := clamp(math.Abs(gap)*50, 0.1, 1)
		return g.buy(st, price, conf, fmt.Sprintf("short MA above long MA by %.3f%%", gap*100), in.Now)
	case gap < 0 && open:
		conf := clamp(math.Abs(gap)*50, 0.1, 1)
		return g.sell(st, price, conf, fmt.Sprintf("short MA below long MA by %.3f%%", -gap*100), in.Now)
	default:
		return hold(st.ID, st.Symbol, "trend unchanged", in.Now)
	}
}

func (g *Generator) meanReversion(st *strategy.Strategy, price float64, in Input) Signal {
	closes := in.Snapshot.Closes()
	period := st.Params.RSIPeriod
	if len(closes) < period+1 {
		return hold(st.ID, st.Symbol, fmt.Sprintf("need %d candles, have %d", period+1, len(closes)), in.Now)
	}
	rsi := talib.Rsi(closes, period)
	r := rsi[len(rsi)-1]
	open := st.Account.Position.IsOpen()
	switch {
	case r <= st.Params.Oversold && !open:
		conf := clamp((st.Params.Oversold-r)/st.Params.Oversold+0.3, 0.1, 1)
		return g.buy(st, price, conf, fmt.Sprintf("RSI %.1f below oversold %.1f", r, st.Params.Oversold), in.Now)
	case r >= st.Params.Overbought && open:
		conf := clamp((r-st.Params.Overbought)/(100-st.Params.Overbought)+0.3, 0.1, 1)
		return g.sell(st, price, conf, fmt.Sprintf("RSI %.1f above overbought %.1f", r, st.Params.Overbought), in.Now)
	default:
		return hold(st.ID, st.Symbol, fmt.Sprintf("RSI %.1f inside bands", r), in.Now)
	}
}

func (g *Generator) grid(st *strategy.Strategy, price float64, in Input) Signal {
	base := st.Params.GridBasePrice
	step := st.Params.GridStepPct / 100
	devPct := (price - base) / base
	open := st.Account.Position.IsOpen()
	switch {
	case devPct <= -step && !open:
		conf := clamp(math.Abs(devPct)/step*0.5, 0.1, 1)
		return g.buy(st, price, conf, fmt.Sprintf("price %.3f%% below grid base", -devPct*100), in.Now)
	case devPct >= step && open:
		conf := clamp(devPct/step*0.5, 0.1, 1)
		return g.sell(st, price, conf, fmt.Sprintf("price %.3f%% above grid base", devPct*100), in.Now)
	default:
		return hold(st.ID, st.Symbol, "inside grid band", in.Now)
	}
}

func (g *Generator) dca(st *strategy.Strategy, price float64, in Input) Signal {
	every := int64(st.Params.DCAEveryCycles)
	if in.Cycle-st.Account.LastDCACycle < every {
		return hold(st.ID, st.Symbol, "dca interval not elapsed", in.Now)
	}
	return g.buy(st, price, 1, fmt.Sprintf("scheduled dca buy, cycle %d", in.Cycle), in.Now)
}

func (g *Generator) arbitrage(st *strategy.Strategy, price float64, in Input) Signal {
	if !in.LegOK || in.LegPrice <= 0 {
		return hold(st.ID, st.Symbol, "second leg unavailable", in.Now)
	}
	spreadPct := (in.LegPrice - price) / price * 100
	open := st.Account.Position.IsOpen()
	switch {
	case spreadPct >= st.Params.MinSpreadPct && !open:
		conf := clamp(spreadPct/st.Params.MinSpreadPct*0.5, 0.1, 1)
		return g.buy(st, price, conf, fmt.Sprintf("cross-venue spread %.3f%%", spreadPct), in.Now)
	case spreadPct <= -st.Params.MinSpreadPct && open:
		conf := clamp(-spreadPct/st.Params.MinSpreadPct*0.5, 0.1, 1)
		return g.sell(st, price, conf, fmt.Sprintf("cross-venue spread %.3f%%", spreadPct), in.Now)
	default:
		return hold(st.ID, st.Symbol, fmt.Sprintf("spread %.3f%% below threshold", spreadPct), in.Now)
	}
}

func (g *Generator) buy(st *strategy.Strategy, price, confidence float64, reason string, now time.Time) Signal {
	qty := st.Account.Equity * st.Params.PositionPct / price
	if qty <= 0 {
		return hold(st.ID, st.Symbol, "no equity to size position", now)
	}
	sig := Signal{
		StrategyID:  st.ID,
		Symbol:      st.Symbol,
		Action:      ActionBuy,
		Quantity:    qty,
		Price:       price,
		Confidence:  confidence,
		Reason:      reason,
		GeneratedAt: now,
	}
	if st.Params.StopLossPct > 0 {
		sig.StopLoss = price * (1 - st.Params.StopLossPct/100)
	}
	if st.Params.TakeProfitPct > 0 {
		sig.TakeProfit = price * (1 + st.Params.TakeProfitPct/100)
	}
	return sig
}

func (g *Generator) sell(st *strategy.Strategy, price, confidence float64, reason string, now time.Time) Signal {
	return Signal{
		StrategyID:  st.ID,
		Symbol:      st.Symbol,
		Action:      ActionSell,
		Quantity:    st.Account.Position.Quantity,
		Price:       price,
		Confidence:  confidence,
		Reason:      reason,
		GeneratedAt: now,
	}
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
