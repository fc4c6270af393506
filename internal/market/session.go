package market

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"polaris/internal/logger"
)

type SessionStatus int32

const (
	StatusDisconnected SessionStatus = iota
	StatusConnected
	StatusDegraded
)

func (s SessionStatus) String() string {
	switch s {
	case StatusConnected:
		return "CONNECTED"
	case StatusDegraded:
		return "DEGRADED"
	default:
		return "DISCONNECTED"
	}
}

// Session ties a Source to the snapshot Store: it backfills history,
// consumes streamed candles and ticks, and tracks connection health. On
// disconnect the source reconnects on its own; the session only flips to
// DEGRADED so the orchestrator can skip live signals instead of crashing.
type Session struct {
	Store   *Store
	Source  Source
	History int

	OnStatusChange func(SessionStatus)

	status    atomic.Int32
	startOnce sync.Once
}

func NewSession(store *Store, src Source, history int) *Session {
	return &Session{Store: store, Source: src, History: history}
}

func (s *Session) Status() SessionStatus {
	return SessionStatus(s.status.Load())
}

func (s *Session) setStatus(st SessionStatus) {
	old := s.status.Swap(int32(st))
	if old != int32(st) && s.OnStatusChange != nil {
		s.OnStatusChange(st)
	}
}

// Start backfills each symbol's window and launches the stream consumers.
// It returns an error only when the initial subscription cannot be
// established; later disconnects are reported through the status.
func (s *Session) Start(ctx context.Context, symbols []string) error {
	if s.Source == nil {
		return fmt.Errorf("market session: source is required")
	}
	if len(symbols) == 0 {
		return fmt.Errorf("market session: at least one symbol is required")
	}

	now := time.Now()
	for _, sym := range symbols {
		candles, err := s.Source.FetchHistory(ctx, sym, s.History)
		if err != nil {
			logger.Warnf("market session: history backfill failed symbol=%s: %v", sym, err)
			continue
		}
		s.Store.Seed(strings.ToUpper(sym), candles, now)
	}

	opts := SubscribeOptions{
		OnConnect: func() {
			s.setStatus(StatusConnected)
			logger.Infof("market session: stream connected")
		},
		OnDisconnect: func(err error) {
			s.setStatus(StatusDegraded)
			logger.Warnf("market session: stream disconnected: %v", err)
		},
	}
	candles, err := s.Source.Subscribe(ctx, symbols, opts)
	if err != nil {
		return fmt.Errorf("market session: subscribe failed: %w", err)
	}
	ticks, err := s.Source.SubscribeTrades(ctx, symbols, opts)
	if err != nil {
		return fmt.Errorf("market session: trade subscribe failed: %w", err)
	}

	s.startOnce.Do(func() {
		go s.consumeCandles(ctx, candles)
		go s.consumeTicks(ctx, ticks)
	})
	logger.Infof("market session: started symbols=%v history=%d", symbols, s.History)
	return nil
}

func (s *Session) consumeCandles(ctx context.Context, events <-chan CandleEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			s.Store.ApplyCandle(strings.ToUpper(evt.Symbol), evt.Candle, time.Now())
		}
	}
}

func (s *Session) consumeTicks(ctx context.Context, events <-chan TickEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			s.Store.ApplyTick(strings.ToUpper(evt.Symbol), evt.Price, time.Now())
		}
	}
}

func (s *Session) Stats() SourceStats {
	if s.Source == nil {
		return SourceStats{}
	}
	return s.Source.Stats()
}

func (s *Session) Close() {
	if s.Source != nil {
		if err := s.Source.Close(); err != nil {
			logger.Warnf("market session: source close error: %v", err)
		}
	}
}
