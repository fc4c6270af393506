package live

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"polaris/internal/gateway/exchange"
	"polaris/internal/logger"
	"polaris/internal/signal"
	"polaris/internal/strategy"
)

// TerminalError wraps an exchange rejection that must not be retried. The
// orchestrator pauses the strategy and surfaces an alert.
type TerminalError struct {
	StrategyID string
	Err        error
}

func (e *TerminalError) Error() string {
	return fmt.Sprintf("terminal exchange error strategy=%s: %v", e.StrategyID, e.Err)
}

func (e *TerminalError) Unwrap() error { return e.Err }

// Exit mirrors paper.Exit for live closes.
type Exit struct {
	Price float64
	At    time.Time
	PnL   float64
}

// Fill is the outcome of one live submission.
type Fill struct {
	Opened *strategy.Trade
	Closed *Exit
}

type ManagerConfig struct {
	MaxAttempts    int           `toml:"max_attempts" json:"max_attempts"`
	SubmitTimeout  time.Duration `toml:"submit_timeout" json:"submit_timeout"`
	OrdersPerSec   float64       `toml:"orders_per_sec" json:"orders_per_sec"`
	InitialBackoff time.Duration `toml:"initial_backoff" json:"initial_backoff"`
}

func (c ManagerConfig) withDefaults() ManagerConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.SubmitTimeout <= 0 {
		c.SubmitTimeout = 20 * time.Second
	}
	if c.OrdersPerSec <= 0 {
		c.OrdersPerSec = 2
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 500 * time.Millisecond
	}
	return c
}

type submission struct {
	ctx   context.Context
	st    *strategy.Strategy
	sig   signal.Signal
	cycle int64
	reply chan submissionReply
}

type submissionReply struct {
	fill Fill
	err  error
}

// Manager submits live orders. All submissions for the exchange account
// funnel through one worker goroutine and a rate limiter, so the venue's
// order rate limit is respected no matter how many strategies fire in the
// same cycle. Risk checks run before every submission; after every
// attempt the manager re-queries exchange state instead of trusting its
// optimistic local view.
type Manager struct {
	exch  exchange.Exchange
	guard *Guard
	cfg   ManagerConfig

	limiter *rate.Limiter
	queue   chan submission
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

func NewManager(exch exchange.Exchange, guard *Guard, cfg ManagerConfig) *Manager {
	final := cfg.withDefaults()
	return &Manager{
		exch:    exch,
		guard:   guard,
		cfg:     final,
		limiter: rate.NewLimiter(rate.Limit(final.OrdersPerSec), 1),
		queue:   make(chan submission, 64),
		stopCh:  make(chan struct{}),
	}
}

func (m *Manager) Start() {
	m.wg.Add(1)
	go m.worker()
}

// Stop drains nothing: queued submissions are allowed to complete so the
// exchange-side state stays consistent, then the worker exits.
func (m *Manager) Stop() {
	close(m.stopCh)
	m.wg.Wait()
}

func (m *Manager) Guard() *Guard { return m.guard }

// Submit runs the full gate: risk checks, serialized order placement with
// bounded retry, and post-submission reconciliation. The strategy is owned
// by the calling cycle goroutine; the worker only touches it via the
// submission it was handed.
func (m *Manager) Submit(ctx context.Context, st *strategy.Strategy, sig signal.Signal, cycle int64) (Fill, error) {
	if sig.Action == signal.ActionHold {
		return Fill{}, nil
	}
	sub := submission{
		ctx:   ctx,
		st:    st,
		sig:   sig,
		cycle: cycle,
		reply: make(chan submissionReply, 1),
	}
	select {
	case m.queue <- sub:
	case <-ctx.Done():
		return Fill{}, ctx.Err()
	case <-m.stopCh:
		return Fill{}, fmt.Errorf("live manager: stopped")
	}
	select {
	case r := <-sub.reply:
		return r.fill, r.err
	case <-ctx.Done():
		return Fill{}, ctx.Err()
	}
}

func (m *Manager) worker() {
	defer m.wg.Done()
	for {
		select {
		case <-m.stopCh:
			// Finish what is already queued before exiting.
			for {
				select {
				case sub := <-m.queue:
					sub.reply <- m.process(sub)
				default:
					return
				}
			}
		case sub := <-m.queue:
			sub.reply <- m.process(sub)
		}
	}
}

func (m *Manager) process(sub submission) submissionReply {
	ctx, cancel := context.WithTimeout(sub.ctx, m.cfg.SubmitTimeout)
	defer cancel()

	var fill Fill
	var err error
	switch sub.sig.Action {
	case signal.ActionBuy:
		fill, err = m.buy(ctx, sub.st, sub.sig, sub.cycle)
	case signal.ActionSell:
		fill, err = m.sell(ctx, sub.st, sub.sig)
	default:
		err = fmt.Errorf("live manager: unknown action %q", sub.sig.Action)
	}
	return submissionReply{fill: fill, err: err}
}

func (m *Manager) buy(ctx context.Context, st *strategy.Strategy, sig signal.Signal, cycle int64) (Fill, error) {
	if sig.Quantity <= 0 || sig.Price <= 0 {
		return Fill{}, &TerminalError{StrategyID: st.ID, Err: fmt.Errorf("unsizable order qty=%v price=%v", sig.Quantity, sig.Price)}
	}
	limits := m.guard.Limits()
	if st.Account.DailyPnL <= -limits.MaxDailyLoss {
		return Fill{}, &Rejection{
			StrategyID: st.ID,
			Rule:       "max_daily_loss",
			Detail:     fmt.Sprintf("daily pnl %.2f at or below -%.2f", st.Account.DailyPnL, limits.MaxDailyLoss),
		}
	}

	value := sig.Quantity * sig.Price
	if err := m.guard.Reserve(st.ID, value); err != nil {
		return Fill{}, err
	}

	res, err := m.placeWithRetry(ctx, exchange.OrderRequest{
		Symbol:        st.Symbol,
		Side:          exchange.SideBuy,
		Quantity:      sig.Quantity,
		ClientOrderID: uuid.NewString(),
	})
	if err != nil {
		m.guard.Release(st.ID, value)
		return Fill{}, m.classify(st.ID, err)
	}

	filledQty, avgPrice := m.reconcile(ctx, st, res, exchange.SideBuy)
	if filledQty <= 0 {
		m.guard.Release(st.ID, value)
		return Fill{}, &TerminalError{StrategyID: st.ID, Err: fmt.Errorf("order %s reported no fill", res.OrderID)}
	}
	// Give back the part of the reservation the fill did not use.
	filledValue := filledQty * avgPrice
	if filledValue < value {
		m.guard.Release(st.ID, value-filledValue)
	}

	now := time.Now()
	tr := strategy.Trade{
		ID:         res.OrderID,
		StrategyID: st.ID,
		Symbol:     st.Symbol,
		Side:       strategy.SideBuy,
		Quantity:   filledQty,
		EntryPrice: avgPrice,
		EntryTime:  now,
		Status:     strategy.TradeOpen,
		Paper:      false,
	}
	pos := &st.Account.Position
	if pos.IsOpen() {
		total := pos.Quantity + filledQty
		pos.EntryPrice = (pos.EntryPrice*pos.Quantity + avgPrice*filledQty) / total
		pos.Quantity = total
	} else {
		pos.Quantity = filledQty
		pos.EntryPrice = avgPrice
		pos.OpenedAt = now
		pos.TradeID = tr.ID
	}
	if st.Type == strategy.TypeDCA {
		st.Account.LastDCACycle = cycle
	}
	logger.Infof("live: opened %s qty=%.8f avg=%.8f strategy=%s order=%s", st.Symbol, filledQty, avgPrice, st.ID, res.OrderID)
	return Fill{Opened: &tr}, nil
}

func (m *Manager) sell(ctx context.Context, st *strategy.Strategy, sig signal.Signal) (Fill, error) {
	pos := &st.Account.Position
	if !pos.IsOpen() {
		return Fill{}, nil
	}
	res, err := m.placeWithRetry(ctx, exchange.OrderRequest{
		Symbol:        st.Symbol,
		Side:          exchange.SideSell,
		Quantity:      pos.Quantity,
		ClientOrderID: uuid.NewString(),
	})
	if err != nil {
		return Fill{}, m.classify(st.ID, err)
	}

	filledQty, avgPrice := m.reconcile(ctx, st, res, exchange.SideSell)
	if filledQty <= 0 {
		return Fill{}, &TerminalError{StrategyID: st.ID, Err: fmt.Errorf("close order %s reported no fill", res.OrderID)}
	}
	if avgPrice <= 0 {
		avgPrice = sig.Price
	}

	now := time.Now()
	pnl := (avgPrice - pos.EntryPrice) * filledQty
	closedValue := filledQty * pos.EntryPrice
	st.Account.Equity += pnl
	st.Account.RollDailyPnL(pnl, now)
	if filledQty >= pos.Quantity {
		*pos = strategy.Position{}
	} else {
		pos.Quantity -= filledQty
	}
	m.guard.Release(st.ID, closedValue)
	logger.Infof("live: closed %s qty=%.8f avg=%.8f pnl=%.2f strategy=%s order=%s", st.Symbol, filledQty, avgPrice, pnl, st.ID, res.OrderID)
	return Fill{Closed: &Exit{Price: avgPrice, At: now, PnL: pnl}}, nil
}

// placeWithRetry submits one order, retrying only retryable failures with
// exponential backoff up to the attempt bound. Terminal rejections pass
// straight through.
func (m *Manager) placeWithRetry(ctx context.Context, req exchange.OrderRequest) (*exchange.OrderResult, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = m.cfg.InitialBackoff
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(m.cfg.MaxAttempts-1)), ctx)

	var result *exchange.OrderResult
	op := func() error {
		if err := m.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		res, err := m.exch.PlaceOrder(ctx, req)
		if err != nil {
			if exchange.IsRetryable(err) {
				logger.Warnf("live: retryable submit failure %s %s: %v", req.Side, req.Symbol, err)
				return err
			}
			return backoff.Permanent(err)
		}
		result = res
		return nil
	}
	if err := backoff.Retry(op, policy); err != nil {
		return nil, err
	}
	return result, nil
}

// reconcile re-queries exchange state after a submission attempt and
// bounds the booked fill by it. Partial fills and venue-side surprises
// are expected, so the holding reported by the exchange wins over the
// optimistic local math: if the venue confirms less than the order result
// claims, only the confirmed delta is booked. A holding above the
// expectation is left alone since base currency can arrive outside the
// engine (deposits, manual trades); the book never grows past the order.
func (m *Manager) reconcile(ctx context.Context, st *strategy.Strategy, res *exchange.OrderResult, side exchange.OrderSide) (qty, avgPrice float64) {
	qty = res.FilledQty
	avgPrice = res.AvgPrice
	holding, err := m.exch.BaseHolding(ctx, st.Symbol)
	if err != nil {
		logger.Warnf("live: reconciliation query failed strategy=%s: %v", st.ID, err)
		return qty, avgPrice
	}

	// Position has not been updated yet, so it is the pre-order local view.
	local := st.Account.Position.Quantity
	confirmed := holding - local
	if side == exchange.SideSell {
		confirmed = local - holding
	}
	if confirmed < 0 {
		confirmed = 0
	}
	if confirmed < qty {
		logger.Warnf("live: venue confirms %.8f of reported %.8f fill for %s strategy=%s order=%s, booking confirmed quantity",
			confirmed, qty, st.Symbol, st.ID, res.OrderID)
		qty = confirmed
	}
	return qty, avgPrice
}

func (m *Manager) classify(strategyID string, err error) error {
	var rej *Rejection
	if errors.As(err, &rej) {
		return err
	}
	if exchange.IsRetryable(err) {
		return fmt.Errorf("live: transient submit failure strategy=%s: %w", strategyID, err)
	}
	return &TerminalError{StrategyID: strategyID, Err: err}
}
