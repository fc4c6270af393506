package app

import (
	"context"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"polaris/internal/config"
	"polaris/internal/engine"
	"polaris/internal/events"
	"polaris/internal/gateway/binance"
	"polaris/internal/gateway/poloniex"
	"polaris/internal/live"
	"polaris/internal/logger"
	"polaris/internal/market"
	"polaris/internal/promotion"
	"polaris/internal/store"
	httpapi "polaris/internal/transport/http"
)

// App wires the components together and owns their lifecycles. Build
// order is explicit, no registry: persistence first, market data second,
// execution third, the engine on top, HTTP last.
type App struct {
	cfg     *config.Config
	watcher *config.Watcher

	db      store.Store
	session *market.Session
	source  *poloniex.Source
	guard   *live.Guard
	liveMgr *live.Manager
	engine  *engine.Engine
	http    *httpapi.Server
}

func New(cfg *config.Config, watcher *config.Watcher) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)

	db, err := store.NewSqliteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening database failed: %w", err)
	}

	source := poloniex.NewSource(cfg.Poloniex)
	snapshots := market.NewStore(cfg.Market.MaxCached)
	session := market.NewSession(snapshots, source, cfg.Market.HistoryLen)

	guard := live.NewGuard(cfg.Risk.Limits)
	var liveMgr *live.Manager
	if cfg.Poloniex.APIKey != "" {
		liveMgr = live.NewManager(source.Client(), guard, cfg.Risk.Orders)
	} else {
		logger.Warnf("no exchange credentials configured, live execution disabled")
	}

	var quotes market.QuoteSource
	if cfg.Binance.Enabled {
		quotes = binance.NewQuoteSource(3 * time.Second)
	}

	evaluator, err := promotion.NewEvaluator(cfg.Promotion)
	if err != nil {
		return nil, err
	}

	hub := events.NewHub(256)
	session.OnStatusChange = func(st market.SessionStatus) {
		kind := events.KindSessionDegraded
		if st == market.StatusConnected {
			kind = events.KindSessionHealthy
		}
		hub.Publish(events.Event{Kind: kind, Detail: st.String()})
	}

	eng, err := engine.New(engine.Params{
		Config:    cfg.Engine,
		Store:     db,
		Snapshots: snapshots,
		Session:   session,
		Evaluator: evaluator,
		LiveMgr:   liveMgr,
		Quotes:    quotes,
		Hub:       hub,
	})
	if err != nil {
		return nil, err
	}

	srv, err := httpapi.NewServer(httpapi.ServerConfig{
		Addr:    cfg.App.HTTPAddr,
		Engine:  eng,
		Store:   db,
		Session: session,
		Guard:   guard,
	})
	if err != nil {
		return nil, err
	}

	a := &App{
		cfg:     cfg,
		watcher: watcher,
		db:      db,
		session: session,
		source:  source,
		guard:   guard,
		liveMgr: liveMgr,
		engine:  eng,
		http:    srv,
	}
	if watcher != nil {
		watcher.Subscribe(a.applyReload)
	}
	return a, nil
}

// applyReload picks up the runtime-safe subset of a config change: risk
// limits and log level. Everything else requires a restart.
func (a *App) applyReload(cfg *config.Config) {
	a.guard.SetLimits(cfg.Risk.Limits)
	logger.SetLevel(cfg.App.LogLevel)
	logger.Infof("applied reloaded risk limits: %+v", cfg.Risk.Limits)
}

// Run starts everything and blocks until ctx cancels or a component
// fails. The engine is hydrated before the market session connects so
// the subscription covers every stored strategy's symbol.
func (a *App) Run(ctx context.Context) error {
	if a.liveMgr != nil {
		a.liveMgr.Start()
		defer a.liveMgr.Stop()
	}

	if err := a.engine.Start(ctx); err != nil {
		return err
	}
	defer a.engine.Stop()

	symbols := a.subscriptionSymbols()
	if len(symbols) > 0 {
		if err := a.session.Start(ctx, symbols); err != nil {
			return fmt.Errorf("market session start failed: %w", err)
		}
		defer a.session.Close()
	} else {
		logger.Warnf("no symbols to subscribe, market session idle")
	}

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := a.http.Start(ctx); err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	})
	logger.Infof("polaris up: http=%s symbols=%v", a.http.Addr(), symbols)

	err := group.Wait()
	if cerr := a.db.Close(); cerr != nil {
		logger.Errorf("closing database failed: %v", cerr)
	}
	return err
}

func (a *App) subscriptionSymbols() []string {
	seen := make(map[string]bool)
	var out []string
	for _, sym := range append(a.engine.Symbols(), a.cfg.Market.Symbols...) {
		if sym == "" || seen[sym] {
			continue
		}
		seen[sym] = true
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

func (a *App) Engine() *engine.Engine { return a.engine }
