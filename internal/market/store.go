package market

import (
	"sort"
	"sync"
	"time"
)

// ErrNotAvailable is returned by Latest when a symbol has never been
// populated. Callers must treat it as "no data", never substitute a
// fabricated snapshot.
type NotAvailableError struct {
	Symbol string
}

func (e *NotAvailableError) Error() string {
	return "market data not available for " + e.Symbol
}

// Store holds the latest snapshot per symbol. Exactly one goroutine (the
// Session consume loop) writes; any number of readers take copies.
type Store struct {
	mu      sync.RWMutex
	window  int
	symbols map[string]*symbolState
}

type symbolState struct {
	candles   []Candle // oldest first, len <= window
	lastPrice float64
	updatedAt time.Time
}

func NewStore(window int) *Store {
	if window <= 0 {
		window = 100
	}
	return &Store{
		window:  window,
		symbols: make(map[string]*symbolState),
	}
}

// ApplyCandle merges one candle into the symbol's window. A candle with the
// same open time as the newest entry replaces it (in-progress update);
// older candles are dropped so per-symbol time stays monotonic.
func (s *Store) ApplyCandle(symbol string, c Candle, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.symbols[symbol]
	if st == nil {
		st = &symbolState{}
		s.symbols[symbol] = st
	}
	n := len(st.candles)
	switch {
	case n == 0 || c.OpenTime > st.candles[n-1].OpenTime:
		st.candles = append(st.candles, c)
		if len(st.candles) > s.window {
			st.candles = st.candles[len(st.candles)-s.window:]
		}
	case c.OpenTime == st.candles[n-1].OpenTime:
		st.candles[n-1] = c
	default:
		return
	}
	st.lastPrice = c.Close
	st.updatedAt = now
}

// ApplyTick updates only the last traded price.
func (s *Store) ApplyTick(symbol string, price float64, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.symbols[symbol]
	if st == nil {
		st = &symbolState{}
		s.symbols[symbol] = st
	}
	st.lastPrice = price
	st.updatedAt = now
}

// Seed replaces the window wholesale, used when history is backfilled on
// startup or after a reconnect. Candles are sorted by open time.
func (s *Store) Seed(symbol string, candles []Candle, now time.Time) {
	sorted := make([]Candle, len(candles))
	copy(sorted, candles)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].OpenTime < sorted[j].OpenTime })
	if len(sorted) > s.window {
		sorted = sorted[len(sorted)-s.window:]
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.symbols[symbol]
	if st == nil {
		st = &symbolState{}
		s.symbols[symbol] = st
	}
	st.candles = sorted
	if len(sorted) > 0 {
		st.lastPrice = sorted[len(sorted)-1].Close
		st.updatedAt = now
	}
}

// Latest returns a copy of the symbol's snapshot, or NotAvailableError if
// the symbol was never populated.
func (s *Store) Latest(symbol string) (Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := s.symbols[symbol]
	if st == nil || st.updatedAt.IsZero() {
		return Snapshot{}, &NotAvailableError{Symbol: symbol}
	}
	candles := make([]Candle, len(st.candles))
	copy(candles, st.candles)
	return Snapshot{
		Symbol:    symbol,
		LastPrice: st.lastPrice,
		Candles:   candles,
		UpdatedAt: st.updatedAt,
	}, nil
}

// Symbols lists populated symbols.
func (s *Store) Symbols() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.symbols))
	for sym := range s.symbols {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}
