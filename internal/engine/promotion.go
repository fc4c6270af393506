package engine

import (
	"context"
	"fmt"

	"polaris/internal/events"
	"polaris/internal/logger"
	"polaris/internal/promotion"
	"polaris/internal/strategy"
)

// promotionPass scores every PAPER strategy after the cycle's fills have
// been persisted. Transitions are monotonic: PAPER moves to LIVE or
// RETIRED, never the other way, and a promotion that the live capacity
// limit cannot accommodate simply stays PAPER until a slot frees up.
func (e *Engine) promotionPass(ctx context.Context) {
	e.mu.Lock()
	candidates := make([]*strategy.Strategy, 0)
	liveCount := 0
	for _, st := range e.strategies {
		switch st.Mode {
		case strategy.ModeLive:
			liveCount++
		case strategy.ModePaper:
			candidates = append(candidates, st)
		}
	}
	e.mu.Unlock()

	for _, st := range candidates {
		trades, err := e.store.TradesForStrategy(ctx, st.ID)
		if err != nil {
			logger.Errorf("engine: trade history load failed for %s: %v", st.ID, err)
			continue
		}
		e.mu.Lock()
		approved := e.approvals[st.ID]
		e.mu.Unlock()

		res := e.evaluator.Evaluate(st, trades, approved)
		switch res.Decision {
		case promotion.DecisionPromote:
			if maxLive := e.liveLimit(); maxLive > 0 && liveCount >= maxLive {
				logger.Infof("engine: strategy %s qualifies (score %.3f) but live capacity %d is full", st.ID, res.Score, maxLive)
				continue
			}
			if e.promote(ctx, st, res) {
				liveCount++
			}
		case promotion.DecisionRetire:
			e.retire(ctx, st, res)
		case promotion.DecisionAwaitApproval:
			e.hub.Publish(events.Event{Kind: events.KindModeChange, StrategyID: st.ID, Detail: res.Reason})
			logger.Infof("engine: strategy %s %s", st.ID, res.Reason)
		}
	}
}

func (e *Engine) liveLimit() int {
	if e.liveMgr == nil {
		return 0
	}
	return e.liveMgr.Guard().Limits().MaxConcurrentLive
}

// promote flips a qualifying strategy to LIVE. The paper position does
// not carry over: live execution starts flat and builds its own book.
func (e *Engine) promote(ctx context.Context, st *strategy.Strategy, res promotion.Result) bool {
	if e.liveMgr == nil {
		logger.Warnf("engine: strategy %s qualifies but no live execution is configured", st.ID)
		return false
	}
	work := *st
	work.Mode = strategy.ModeLive
	work.PausedFrom = ""
	work.Account.Position = strategy.Position{}
	if err := e.store.SaveStrategyState(ctx, &work); err != nil {
		logger.Errorf("engine: promotion persist failed for %s: %v", st.ID, err)
		return false
	}
	e.mu.Lock()
	*st = work
	delete(e.approvals, st.ID)
	e.mu.Unlock()
	detail := fmt.Sprintf("promoted to LIVE, score %.3f", res.Score)
	e.hub.Publish(events.Event{Kind: events.KindModeChange, StrategyID: st.ID, Detail: detail})
	logger.Infof("engine: strategy %s %s", st.ID, detail)
	return true
}

func (e *Engine) retire(ctx context.Context, st *strategy.Strategy, res promotion.Result) {
	work := *st
	work.Mode = strategy.ModeRetired
	work.PausedFrom = ""
	if err := e.store.SaveStrategyState(ctx, &work); err != nil {
		logger.Errorf("engine: retire persist failed for %s: %v", st.ID, err)
		return
	}
	e.mu.Lock()
	*st = work
	delete(e.approvals, st.ID)
	e.mu.Unlock()
	e.hub.Publish(events.Event{Kind: events.KindModeChange, StrategyID: st.ID, Detail: "retired: " + res.Reason})
	logger.Warnf("engine: strategy %s retired: %s", st.ID, res.Reason)
}
