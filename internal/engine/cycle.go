package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"polaris/internal/events"
	"polaris/internal/live"
	"polaris/internal/logger"
	"polaris/internal/market"
	"polaris/internal/paper"
	"polaris/internal/signal"
	"polaris/internal/strategy"
)

const maxParallelEvaluations = 8

// runCycle executes one full pass: apply queued operator commands, fan
// out per-strategy evaluation, then run the promotion pass. Strategies
// never share mutable state, so evaluations run concurrently; per
// strategy, state is copied, mutated, persisted and only swapped back in
// after the persistence write succeeded. A crash therefore loses at most
// the cycle in progress, never a partial strategy update.
func (e *Engine) runCycle(ctx context.Context) {
	e.mu.Lock()
	e.cycle++
	cycle := e.cycle
	e.applyPendingLocked(ctx)
	active := make([]*strategy.Strategy, 0, len(e.strategies))
	for _, st := range e.strategies {
		if st.Mode == strategy.ModePaper || st.Mode == strategy.ModeLive {
			active = append(active, st)
		}
	}
	e.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelEvaluations)
	for _, st := range active {
		g.Go(func() error {
			e.evaluateStrategy(gctx, st, cycle)
			return nil
		})
	}
	_ = g.Wait()

	e.promotionPass(ctx)
}

// applyPendingLocked drains operator commands at the cycle boundary. The
// mode change is persisted before the in-memory state moves; a failed
// write keeps the command queued for the next cycle.
func (e *Engine) applyPendingLocked(ctx context.Context) {
	var requeue []command
	for _, cmd := range e.pending {
		st, ok := e.strategies[cmd.id]
		if !ok {
			continue
		}
		switch cmd.kind {
		case cmdApprove:
			e.approvals[cmd.id] = true
			logger.Infof("engine: promotion approved for strategy %s", cmd.id)
			continue
		case cmdStop:
			if st.Mode != strategy.ModePaper && st.Mode != strategy.ModeLive {
				continue
			}
			work := *st
			work.PausedFrom = work.Mode
			work.Mode = strategy.ModePaused
			if err := e.store.SaveStrategyState(ctx, &work); err != nil {
				logger.Errorf("engine: pause persist failed for %s: %v", cmd.id, err)
				requeue = append(requeue, cmd)
				continue
			}
			*st = work
			e.hub.Publish(events.Event{Kind: events.KindModeChange, StrategyID: st.ID, Detail: "stopped by operator"})
		case cmdStart:
			if st.Mode != strategy.ModePaused {
				continue
			}
			work := *st
			work.Mode = work.PausedFrom
			if work.Mode == "" {
				work.Mode = strategy.ModePaper
			}
			// Resuming into LIVE competes for the same capacity the
			// promotion pass enforces; a stop/start must not sneak past it.
			if work.Mode == strategy.ModeLive {
				maxLive := e.liveLimit()
				if liveCount := e.liveCountLocked(); maxLive == 0 || liveCount >= maxLive {
					detail := fmt.Sprintf("resume refused: live capacity %d full", maxLive)
					logger.Warnf("engine: strategy %s %s", cmd.id, detail)
					e.hub.Publish(events.Event{Kind: events.KindModeChange, StrategyID: cmd.id, Detail: detail})
					continue
				}
			}
			work.PausedFrom = ""
			if err := e.store.SaveStrategyState(ctx, &work); err != nil {
				logger.Errorf("engine: resume persist failed for %s: %v", cmd.id, err)
				requeue = append(requeue, cmd)
				continue
			}
			*st = work
			e.hub.Publish(events.Event{Kind: events.KindModeChange, StrategyID: st.ID, Detail: fmt.Sprintf("resumed as %s", st.Mode)})
		}
	}
	e.pending = requeue
}

// evaluateStrategy runs one strategy through one cycle: snapshot, signal,
// dispatch, persist. st is only written back under the engine lock after
// every persistence write succeeded.
func (e *Engine) evaluateStrategy(ctx context.Context, st *strategy.Strategy, cycle int64) {
	now := time.Now()
	work := *st
	work.Account.CyclesSeen++

	// A degraded market session means live signals would act on data we
	// cannot trust end-to-end; skip the cycle rather than trade blind.
	if work.Mode == strategy.ModeLive && e.session != nil && e.session.Status() != market.StatusConnected {
		logger.Warnf("engine: skipping live strategy %s, market session %s", work.ID, e.session.Status())
		return
	}

	in := signal.Input{Cycle: cycle, Now: now}
	snap, err := e.snapshots.Latest(work.Symbol)
	if err == nil {
		in.Snapshot = snap
	} else {
		var na *market.NotAvailableError
		if !errors.As(err, &na) {
			logger.Warnf("engine: snapshot lookup failed for %s: %v", work.Symbol, err)
		}
	}
	if work.Type == strategy.TypeArbitrage && e.quotes != nil {
		if legPrice, legErr := e.quotes.LastPrice(ctx, work.Params.LegSymbol); legErr == nil {
			in.LegPrice = legPrice
			in.LegOK = true
		} else {
			logger.Debugf("engine: arbitrage leg unavailable for %s: %v", work.ID, legErr)
		}
	}

	sig := e.generator.Evaluate(&work, in)
	if sig.Action != signal.ActionHold {
		logger.Infof("engine: signal strategy=%s action=%s qty=%.8f reason=%q", work.ID, sig.Action, sig.Quantity, sig.Reason)
	}

	switch work.Mode {
	case strategy.ModePaper:
		fill, simErr := e.simulator.Apply(&work, sig, cycle, now)
		if simErr != nil {
			logger.Errorf("engine: paper apply failed for %s: %v", work.ID, simErr)
			return
		}
		e.persistOutcome(ctx, st, &work, fill.Opened, exitOf(fill.Closed))
	case strategy.ModeLive:
		// A LIVE strategy can be hydrated from the store while no live
		// execution is configured; pause it instead of submitting into nil.
		if e.liveMgr == nil {
			logger.Warnf("engine: live execution disabled, pausing strategy %s", work.ID)
			e.pauseLive(ctx, st, "live execution disabled")
			return
		}
		fill, liveErr := e.liveMgr.Submit(ctx, &work, sig, cycle)
		if liveErr != nil {
			e.handleLiveError(ctx, st, &work, liveErr)
			return
		}
		e.persistOutcome(ctx, st, &work, fill.Opened, liveExitOf(fill.Closed))
	}
}

func (e *Engine) liveCountLocked() int {
	n := 0
	for _, st := range e.strategies {
		if st.Mode == strategy.ModeLive {
			n++
		}
	}
	return n
}

// pauseLive parks a LIVE strategy pending operator review, persisting the
// mode change before the in-memory swap.
func (e *Engine) pauseLive(ctx context.Context, st *strategy.Strategy, detail string) {
	paused := *st
	paused.PausedFrom = strategy.ModeLive
	paused.Mode = strategy.ModePaused
	if err := e.store.SaveStrategyState(ctx, &paused); err != nil {
		logger.Errorf("engine: pause persist failed for %s: %v", st.ID, err)
		return
	}
	e.mu.Lock()
	*st = paused
	e.mu.Unlock()
	e.hub.Publish(events.Event{Kind: events.KindStrategyPaused, StrategyID: st.ID, Detail: detail})
}

type exitRecord struct {
	price float64
	at    time.Time
	pnl   float64
}

func exitOf(e *paper.Exit) *exitRecord {
	if e == nil {
		return nil
	}
	return &exitRecord{price: e.Price, at: e.At, pnl: e.PnL}
}

func liveExitOf(e *live.Exit) *exitRecord {
	if e == nil {
		return nil
	}
	return &exitRecord{price: e.Price, at: e.At, pnl: e.PnL}
}

// persistOutcome writes the audit rows and the strategy state, in that
// order, and only then swaps the mutated copy into the engine. A failed
// write leaves the previous in-memory state untouched so memory never
// runs ahead of storage.
func (e *Engine) persistOutcome(ctx context.Context, st, work *strategy.Strategy, opened *strategy.Trade, closed *exitRecord) {
	if opened != nil {
		if err := e.store.AppendTrade(ctx, *opened); err != nil {
			logger.Errorf("engine: trade append failed for %s, cycle discarded: %v", work.ID, err)
			return
		}
	}
	if closed != nil {
		if err := e.store.CloseOpenTrades(ctx, work.ID, closed.price, closed.at); err != nil {
			logger.Errorf("engine: trade close failed for %s, cycle discarded: %v", work.ID, err)
			return
		}
	}
	if err := e.store.SaveStrategyState(ctx, work); err != nil {
		logger.Errorf("engine: state persist failed for %s, cycle discarded: %v", work.ID, err)
		return
	}

	e.mu.Lock()
	*st = *work
	e.mu.Unlock()

	if opened != nil {
		e.hub.Publish(events.Event{
			Kind:       events.KindTradeFill,
			StrategyID: work.ID,
			Detail:     fmt.Sprintf("%s %s qty=%.8f @ %.8f", opened.Side, opened.Symbol, opened.Quantity, opened.EntryPrice),
		})
	}
	if closed != nil {
		e.hub.Publish(events.Event{
			Kind:       events.KindTradeClose,
			StrategyID: work.ID,
			Detail:     fmt.Sprintf("closed @ %.8f pnl=%.2f", closed.price, closed.pnl),
		})
	}
}

// handleLiveError routes live submission failures per the taxonomy: risk
// rejections surface and leave the strategy untouched, terminal exchange
// errors pause it pending operator review, transient failures just log.
func (e *Engine) handleLiveError(ctx context.Context, st, work *strategy.Strategy, err error) {
	var rej *live.Rejection
	if errors.As(err, &rej) {
		logger.Warnf("engine: %v", rej)
		e.hub.Publish(events.Event{Kind: events.KindRiskRejected, StrategyID: work.ID, Detail: rej.Rule + ": " + rej.Detail})
		return
	}
	var term *live.TerminalError
	if errors.As(err, &term) {
		logger.Errorf("engine: terminal exchange error, pausing %s: %v", work.ID, term.Err)
		e.pauseLive(ctx, st, term.Err.Error())
		return
	}
	logger.Warnf("engine: transient live failure for %s: %v", work.ID, err)
}
