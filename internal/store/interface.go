package store

import (
	"context"
	"time"

	"polaris/internal/strategy"
)

// Store is the persistence collaborator. Each call maps to exactly one
// state transition; no partial writes are exposed to the engine. A failed
// SaveStrategyState must leave the caller free to retry the whole cycle:
// the engine never advances in-memory state past a failed write.
type Store interface {
	// LoadActiveStrategies returns every non-RETIRED strategy, mode
	// exactly as stored.
	LoadActiveStrategies(ctx context.Context) ([]*strategy.Strategy, error)

	SaveStrategyState(ctx context.Context, st *strategy.Strategy) error

	AppendTrade(ctx context.Context, tr strategy.Trade) error

	// CloseOpenTrades attaches the exit to every OPEN trade of the
	// strategy, realizing P&L per row against its own entry price.
	CloseOpenTrades(ctx context.Context, strategyID string, price float64, at time.Time) error

	TradesForStrategy(ctx context.Context, strategyID string) ([]strategy.Trade, error)

	Close() error
}
