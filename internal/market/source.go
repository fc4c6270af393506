package market

import "context"

type CandleEvent struct {
	Symbol string
	Candle Candle
}

type TickEvent struct {
	Symbol    string
	Price     float64
	EventTime int64
}

type SubscribeOptions struct {
	Buffer       int
	OnConnect    func()
	OnDisconnect func(error)
}

type SourceStats struct {
	Reconnects      int
	SubscribeErrors int
	TokenRefreshes  int
	LastError       string
}

// Source is a streaming market-data feed for one venue.
type Source interface {
	FetchHistory(ctx context.Context, symbol string, limit int) ([]Candle, error)

	Subscribe(ctx context.Context, symbols []string, opts SubscribeOptions) (<-chan CandleEvent, error)

	SubscribeTrades(ctx context.Context, symbols []string, opts SubscribeOptions) (<-chan TickEvent, error)

	Stats() SourceStats

	Close() error
}

// QuoteSource serves the second leg of cross-venue spread checks. It is
// read-only and deliberately narrower than Source.
type QuoteSource interface {
	LastPrice(ctx context.Context, symbol string) (float64, error)
}
