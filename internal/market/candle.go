package market

import "time"

type Candle struct {
	OpenTime  int64   `json:"open_time"`
	CloseTime int64   `json:"close_time"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
	Trades    int64   `json:"trades"`
}

// Snapshot is the latest view of one symbol: last traded price plus a
// fixed-length OHLCV window, newest candle last. Snapshots handed out by
// the Store are copies; callers may keep them without holding any lock.
type Snapshot struct {
	Symbol    string    `json:"symbol"`
	LastPrice float64   `json:"last_price"`
	Candles   []Candle  `json:"candles"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Age reports how old the snapshot is relative to now.
func (s Snapshot) Age(now time.Time) time.Duration {
	if s.UpdatedAt.IsZero() {
		return time.Duration(1<<63 - 1)
	}
	return now.Sub(s.UpdatedAt)
}

// Closes returns the close series of the window, oldest first.
func (s Snapshot) Closes() []float64 {
	out := make([]float64, len(s.Candles))
	for i, c := range s.Candles {
		out[i] = c.Close
	}
	return out
}
