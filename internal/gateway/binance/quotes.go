package binance

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2"
)

// QuoteSource serves Binance spot prices as the second leg for cross-venue
// spread strategies. Quotes are cached briefly so a cycle evaluating many
// arbitrage strategies on the same pair does not hammer the API. A failed
// lookup is returned as an error, never as a stale or fabricated price.
type QuoteSource struct {
	client *binance.Client
	ttl    time.Duration

	mu    sync.Mutex
	cache map[string]cachedQuote
}

type cachedQuote struct {
	price   float64
	fetched time.Time
}

func NewQuoteSource(ttl time.Duration) *QuoteSource {
	if ttl <= 0 {
		ttl = 3 * time.Second
	}
	return &QuoteSource{
		client: binance.NewClient("", ""),
		ttl:    ttl,
		cache:  make(map[string]cachedQuote),
	}
}

func (q *QuoteSource) LastPrice(ctx context.Context, symbol string) (float64, error) {
	clean := toBinanceSymbol(symbol)
	if clean == "" {
		return 0, fmt.Errorf("binance: empty symbol")
	}

	q.mu.Lock()
	if c, ok := q.cache[clean]; ok && time.Since(c.fetched) < q.ttl {
		q.mu.Unlock()
		return c.price, nil
	}
	q.mu.Unlock()

	prices, err := q.client.NewListPricesService().Symbol(clean).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("binance: price lookup for %s: %w", clean, err)
	}
	if len(prices) == 0 {
		return 0, fmt.Errorf("binance: no price for %s", clean)
	}
	price, err := strconv.ParseFloat(prices[0].Price, 64)
	if err != nil || price <= 0 {
		return 0, fmt.Errorf("binance: malformed price %q for %s", prices[0].Price, clean)
	}

	q.mu.Lock()
	q.cache[clean] = cachedQuote{price: price, fetched: time.Now()}
	q.mu.Unlock()
	return price, nil
}

// toBinanceSymbol converts "BTC/USDT" or "BTC_USDT" to "BTCUSDT".
func toBinanceSymbol(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	s = strings.ReplaceAll(s, "/", "")
	return strings.ReplaceAll(s, "_", "")
}
