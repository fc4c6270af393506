package live

import (
	"fmt"
	"sync"
)

// Limits are the caps the order manager enforces before any submission.
// Values are in quote currency except MaxConcurrentLive.
type Limits struct {
	MaxPositionValue  float64 `toml:"max_position_value" json:"max_position_value"`
	MaxGlobalExposure float64 `toml:"max_global_exposure" json:"max_global_exposure"`
	MaxConcurrentLive int     `toml:"max_concurrent_live" json:"max_concurrent_live"`
	MaxDailyLoss      float64 `toml:"max_daily_loss" json:"max_daily_loss"`
}

func (l Limits) Validate() error {
	if l.MaxPositionValue <= 0 {
		return fmt.Errorf("risk: max_position_value must be > 0, got %v", l.MaxPositionValue)
	}
	if l.MaxGlobalExposure < l.MaxPositionValue {
		return fmt.Errorf("risk: max_global_exposure %v below max_position_value %v", l.MaxGlobalExposure, l.MaxPositionValue)
	}
	if l.MaxConcurrentLive <= 0 {
		return fmt.Errorf("risk: max_concurrent_live must be > 0, got %d", l.MaxConcurrentLive)
	}
	if l.MaxDailyLoss <= 0 {
		return fmt.Errorf("risk: max_daily_loss must be > 0, got %v", l.MaxDailyLoss)
	}
	return nil
}

// Rejection is a risk refusal: the signal was valid but violates limits.
// It is surfaced to the operator; the strategy itself is untouched.
type Rejection struct {
	StrategyID string
	Rule       string
	Detail     string
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("risk rejected strategy=%s rule=%s: %s", r.StrategyID, r.Rule, r.Detail)
}

// Guard is the single arbiter for shared risk counters. Strategies submit
// concurrently; reservations go through one mutex so the sum of open
// exposure can never exceed the global cap, even under races.
type Guard struct {
	mu       sync.Mutex
	limits   Limits
	exposure map[string]float64
}

func NewGuard(limits Limits) *Guard {
	return &Guard{
		limits:   limits,
		exposure: make(map[string]float64),
	}
}

// SetLimits swaps the caps at runtime (config hot reload). Existing
// reservations are kept; only future checks see the new values.
func (g *Guard) SetLimits(limits Limits) {
	g.mu.Lock()
	g.limits = limits
	g.mu.Unlock()
}

func (g *Guard) Limits() Limits {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.limits
}

// Reserve claims value of exposure for a strategy, atomically checking the
// per-strategy and global caps. The caller must later Release what did not
// fill the reservation.
func (g *Guard) Reserve(strategyID string, value float64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if cur := g.exposure[strategyID]; cur+value > g.limits.MaxPositionValue {
		return &Rejection{
			StrategyID: strategyID,
			Rule:       "max_position_value",
			Detail:     fmt.Sprintf("position %.2f + order %.2f exceeds cap %.2f", cur, value, g.limits.MaxPositionValue),
		}
	}
	total := value
	for _, v := range g.exposure {
		total += v
	}
	if total > g.limits.MaxGlobalExposure {
		return &Rejection{
			StrategyID: strategyID,
			Rule:       "max_global_exposure",
			Detail:     fmt.Sprintf("aggregate %.2f exceeds cap %.2f", total, g.limits.MaxGlobalExposure),
		}
	}
	g.exposure[strategyID] += value
	return nil
}

// Release returns exposure to the pool, e.g. the unfilled remainder of an
// order or a closed position.
func (g *Guard) Release(strategyID string, value float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.exposure[strategyID] -= value
	if g.exposure[strategyID] <= 0 {
		delete(g.exposure, strategyID)
	}
}

// Exposure reports the reserved exposure of one strategy and the total.
func (g *Guard) Exposure(strategyID string) (own, total float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for id, v := range g.exposure {
		total += v
		if id == strategyID {
			own = v
		}
	}
	return own, total
}
