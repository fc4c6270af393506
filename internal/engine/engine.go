package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"polaris/internal/events"
	"polaris/internal/live"
	"polaris/internal/logger"
	"polaris/internal/market"
	"polaris/internal/paper"
	"polaris/internal/promotion"
	"polaris/internal/scheduler"
	"polaris/internal/signal"
	"polaris/internal/store"
	"polaris/internal/strategy"
)

type Config struct {
	CycleInterval  time.Duration `toml:"cycle_interval" json:"cycle_interval"`
	Staleness      time.Duration `toml:"staleness" json:"staleness"`
	RunImmediately bool          `toml:"run_immediately" json:"run_immediately"`
}

func (c Config) withDefaults() Config {
	if c.CycleInterval <= 0 {
		c.CycleInterval = 30 * time.Second
	}
	if c.Staleness <= 0 {
		c.Staleness = 2 * time.Minute
	}
	return c
}

// Engine owns the scheduling loop: each cycle it pulls market state,
// drives signal generation for every active strategy, routes results to
// paper or live execution, runs the promotion pass, and persists state.
// There is no ambient singleton; the engine holds explicit references to
// every component and its lifecycle is Start/Stop.
type Engine struct {
	cfg       Config
	store     store.Store
	snapshots *market.Store
	session   *market.Session
	generator *signal.Generator
	simulator *paper.Simulator
	evaluator *promotion.Evaluator
	liveMgr   *live.Manager
	quotes    market.QuoteSource
	hub       *events.Hub

	mu         sync.Mutex
	strategies map[string]*strategy.Strategy
	approvals  map[string]bool
	pending    []command
	cycle      int64

	cancel context.CancelFunc
	done   chan struct{}
}

type commandKind int

const (
	cmdStart commandKind = iota
	cmdStop
	cmdApprove
)

type command struct {
	kind commandKind
	id   string
}

type Params struct {
	Config    Config
	Store     store.Store
	Snapshots *market.Store
	Session   *market.Session
	Evaluator *promotion.Evaluator
	LiveMgr   *live.Manager
	Quotes    market.QuoteSource
	Hub       *events.Hub
}

func New(p Params) (*Engine, error) {
	if p.Store == nil {
		return nil, fmt.Errorf("engine: store is required")
	}
	if p.Snapshots == nil {
		return nil, fmt.Errorf("engine: snapshot store is required")
	}
	if p.Evaluator == nil {
		return nil, fmt.Errorf("engine: promotion evaluator is required")
	}
	cfg := p.Config.withDefaults()
	hub := p.Hub
	if hub == nil {
		hub = events.NewHub(256)
	}
	return &Engine{
		cfg:        cfg,
		store:      p.Store,
		snapshots:  p.Snapshots,
		session:    p.Session,
		generator:  signal.NewGenerator(cfg.Staleness),
		simulator:  paper.NewSimulator(),
		evaluator:  p.Evaluator,
		liveMgr:    p.LiveMgr,
		quotes:     p.Quotes,
		hub:        hub,
		strategies: make(map[string]*strategy.Strategy),
		approvals:  make(map[string]bool),
		done:       make(chan struct{}),
	}, nil
}

func (e *Engine) Hub() *events.Hub { return e.hub }

// Start hydrates every non-RETIRED strategy from the store, resuming each
// in the mode it was persisted with, then launches the cycle loop. Stored
// state is never silently re-initialized: a row that fails validation
// aborts startup.
func (e *Engine) Start(ctx context.Context) error {
	loaded, err := e.store.LoadActiveStrategies(ctx)
	if err != nil {
		return fmt.Errorf("engine: startup load failed: %w", err)
	}
	e.mu.Lock()
	for _, st := range loaded {
		if err := st.Validate(); err != nil {
			e.mu.Unlock()
			return fmt.Errorf("engine: refusing to start with invalid stored strategy: %w", err)
		}
		e.strategies[st.ID] = st
	}
	e.mu.Unlock()
	logger.Infof("engine: resumed %d strategies from store", len(loaded))

	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	sched := scheduler.NewIntervalScheduler(runCtx, e.cfg.CycleInterval)
	sched.RunImmediately = e.cfg.RunImmediately
	go func() {
		defer close(e.done)
		sched.Start(func() { e.runCycle(runCtx) })
	}()
	return nil
}

// Stop cancels the loop and waits for the in-flight cycle to finish.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	<-e.done
}

// Register validates and persists a newly defined strategy, then admits
// it to scheduling. New strategies always begin in PAPER.
func (e *Engine) Register(ctx context.Context, st *strategy.Strategy) error {
	if st.ID == "" {
		st.ID = uuid.NewString()
	}
	if st.Mode == "" {
		st.Mode = strategy.ModePaper
	}
	if st.Mode != strategy.ModePaper {
		return fmt.Errorf("engine: new strategies must register in PAPER mode, got %s", st.Mode)
	}
	st.Symbol = strings.ToUpper(strings.TrimSpace(st.Symbol))
	now := time.Now()
	st.CreatedAt = now
	st.UpdatedAt = now
	if st.Account.InitialEquity <= 0 {
		return fmt.Errorf("engine: strategy %s needs positive initial equity", st.ID)
	}
	if st.Account.Equity == 0 {
		st.Account.Equity = st.Account.InitialEquity
	}
	if err := st.Validate(); err != nil {
		return err
	}

	e.mu.Lock()
	if _, exists := e.strategies[st.ID]; exists {
		e.mu.Unlock()
		return fmt.Errorf("engine: strategy %s already registered", st.ID)
	}
	e.mu.Unlock()

	if err := e.store.SaveStrategyState(ctx, st); err != nil {
		return err
	}
	e.mu.Lock()
	e.strategies[st.ID] = st
	e.mu.Unlock()
	logger.Infof("engine: registered strategy id=%s type=%s symbol=%s", st.ID, st.Type, st.Symbol)
	return nil
}

// StartStrategy queues a resume for a PAUSED strategy; it takes effect at
// the next cycle boundary.
func (e *Engine) StartStrategy(id string) error {
	return e.enqueue(cmdStart, id)
}

// StopStrategy queues a pause. In-flight submissions complete; the pause
// lands at the next cycle boundary.
func (e *Engine) StopStrategy(id string) error {
	return e.enqueue(cmdStop, id)
}

// ApprovePromotion records operator approval for a strategy whose score
// already qualifies under a manual-approval policy.
func (e *Engine) ApprovePromotion(id string) error {
	return e.enqueue(cmdApprove, id)
}

func (e *Engine) enqueue(kind commandKind, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.strategies[id]; !ok {
		return fmt.Errorf("engine: unknown strategy %s", id)
	}
	e.pending = append(e.pending, command{kind: kind, id: id})
	return nil
}

// Strategies returns copies, sorted by creation time.
func (e *Engine) Strategies() []strategy.Strategy {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]strategy.Strategy, 0, len(e.strategies))
	for _, st := range e.strategies {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Symbols lists every symbol an active strategy trades, for the market
// session subscription.
func (e *Engine) Symbols() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	seen := make(map[string]bool)
	var out []string
	for _, st := range e.strategies {
		if st.Mode == strategy.ModeRetired {
			continue
		}
		sym := strings.ToUpper(st.Symbol)
		if !seen[sym] {
			seen[sym] = true
			out = append(out, sym)
		}
	}
	sort.Strings(out)
	return out
}

func (e *Engine) Cycle() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cycle
}
