package poloniex

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"

	"polaris/internal/logger"
	"polaris/internal/market"
	"polaris/internal/pkg/circuit"
)

const (
	candleChannel = "candles_minute_1"
	tradeChannel  = "trades"
	pingInterval  = 20 * time.Second
	readTimeout   = 60 * time.Second
)

// Source implements market.Source on top of the Poloniex streaming API.
// Opening a stream is a two-step handshake: a short-lived bullet token is
// requested over authenticated REST, then the websocket is dialed with
// that token. The token is refreshed in the background before expiry and
// re-announced on the open connection, so subscriptions survive refresh.
type Source struct {
	cfg     Config
	client  *Client
	breaker *circuit.CircuitBreaker

	tokenMu sync.RWMutex
	token   BulletToken

	mu           sync.Mutex
	candleCancel context.CancelFunc
	tradeCancel  context.CancelFunc
	refreshOnce  sync.Once

	// The refresh loop outlives any one subscription: it is bound to the
	// source's own context, not a stream's, and pushes renewed tokens to
	// every registered connection.
	lifeCtx    context.Context
	lifeCancel context.CancelFunc

	announceMu  sync.Mutex
	announcers  map[uint64]func(BulletToken)
	announceSeq uint64

	statsMu sync.Mutex
	stats   market.SourceStats
}

func NewSource(cfg Config) *Source {
	final := cfg.withDefaults()
	lifeCtx, lifeCancel := context.WithCancel(context.Background())
	return &Source{
		cfg:        final,
		client:     NewClient(final),
		breaker:    circuit.NewCircuitBreaker("poloniex-rest", 5, 30*time.Second),
		lifeCtx:    lifeCtx,
		lifeCancel: lifeCancel,
		announcers: make(map[uint64]func(BulletToken)),
	}
}

// registerAnnouncer adds a per-connection callback that receives every
// renewed bullet token, so each open websocket can re-authenticate in
// place without dropping its subscriptions.
func (s *Source) registerAnnouncer(fn func(BulletToken)) uint64 {
	s.announceMu.Lock()
	defer s.announceMu.Unlock()
	s.announceSeq++
	id := s.announceSeq
	s.announcers[id] = fn
	return id
}

func (s *Source) unregisterAnnouncer(id uint64) {
	s.announceMu.Lock()
	defer s.announceMu.Unlock()
	delete(s.announcers, id)
}

func (s *Source) announceAll(tok BulletToken) {
	s.announceMu.Lock()
	fns := make([]func(BulletToken), 0, len(s.announcers))
	for _, fn := range s.announcers {
		fns = append(fns, fn)
	}
	s.announceMu.Unlock()
	for _, fn := range fns {
		fn(tok)
	}
}

// Client exposes the underlying REST client for order-side use.
func (s *Source) Client() *Client { return s.client }

func (s *Source) FetchHistory(ctx context.Context, symbol string, limit int) ([]market.Candle, error) {
	if !s.breaker.Allow() {
		return nil, fmt.Errorf("poloniex: history circuit open for %s", symbol)
	}
	candles, err := s.client.Candles(ctx, symbol, "MINUTE_1", limit)
	if err != nil {
		s.breaker.RecordFailure()
		return nil, err
	}
	s.breaker.RecordSuccess()
	return candles, nil
}

// currentToken returns a valid bullet token, requesting a fresh one when
// none is held or the held one is about to lapse.
func (s *Source) currentToken(ctx context.Context) (BulletToken, error) {
	s.tokenMu.RLock()
	tok := s.token
	s.tokenMu.RUnlock()
	if tok.Token != "" && time.Until(tok.ExpiresAt) > s.cfg.TokenTTLMargin {
		return tok, nil
	}
	fresh, err := s.client.BulletToken(ctx)
	if err != nil {
		return BulletToken{}, err
	}
	s.tokenMu.Lock()
	s.token = fresh
	s.tokenMu.Unlock()
	return fresh, nil
}

// refreshToken fetches a fresh bullet token, stores it, and pushes it to
// every active stream connection via an auth frame. Nothing is
// resubscribed because nothing is dropped.
func (s *Source) refreshToken(ctx context.Context) (BulletToken, error) {
	fresh, err := s.client.BulletToken(ctx)
	if err != nil {
		s.recordError(err)
		return BulletToken{}, err
	}
	s.tokenMu.Lock()
	s.token = fresh
	s.tokenMu.Unlock()
	s.statsMu.Lock()
	s.stats.TokenRefreshes++
	s.statsMu.Unlock()
	logger.Infof("poloniex: bullet token refreshed, valid until %s", fresh.ExpiresAt.Format(time.RFC3339))
	s.announceAll(fresh)
	return fresh, nil
}

// refreshLoop renews the bullet token ahead of expiry for as long as the
// source lives.
func (s *Source) refreshLoop(ctx context.Context) {
	for {
		s.tokenMu.RLock()
		expiresAt := s.token.ExpiresAt
		s.tokenMu.RUnlock()

		wait := time.Until(expiresAt) - s.cfg.TokenTTLMargin
		if wait < time.Second {
			wait = time.Second
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		if _, err := s.refreshToken(ctx); err != nil {
			logger.Warnf("poloniex: bullet token refresh failed: %v", err)
		}
	}
}

func (s *Source) Subscribe(ctx context.Context, symbols []string, opts market.SubscribeOptions) (<-chan market.CandleEvent, error) {
	if len(symbols) == 0 {
		return nil, fmt.Errorf("poloniex: symbols are required for subscription")
	}
	buffer := opts.Buffer
	if buffer <= 0 {
		buffer = 512
	}
	out := make(chan market.CandleEvent, buffer)
	subCtx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	if s.candleCancel != nil {
		s.candleCancel()
	}
	s.candleCancel = cancel
	s.mu.Unlock()

	emit := func(raw gjson.Result) {
		raw.Get("data").ForEach(func(_, item gjson.Result) bool {
			evt, ok := convertCandle(item)
			if !ok {
				return true
			}
			select {
			case <-subCtx.Done():
				return false
			case out <- evt:
			default:
				logger.Warnf("poloniex: candle channel full, drop %s", evt.Symbol)
			}
			return true
		})
	}

	go func() {
		defer close(out)
		s.runStream(subCtx, candleChannel, symbols, opts, emit)
	}()
	return out, nil
}

func (s *Source) SubscribeTrades(ctx context.Context, symbols []string, opts market.SubscribeOptions) (<-chan market.TickEvent, error) {
	if len(symbols) == 0 {
		return nil, fmt.Errorf("poloniex: symbols are required for trade subscription")
	}
	buffer := opts.Buffer
	if buffer <= 0 {
		buffer = 1024
	}
	out := make(chan market.TickEvent, buffer)
	subCtx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	if s.tradeCancel != nil {
		s.tradeCancel()
	}
	s.tradeCancel = cancel
	s.mu.Unlock()

	emit := func(raw gjson.Result) {
		raw.Get("data").ForEach(func(_, item gjson.Result) bool {
			price := item.Get("price").Float()
			if price <= 0 {
				return true
			}
			evt := market.TickEvent{
				Symbol:    fromExchangeSymbol(item.Get("symbol").String()),
				Price:     price,
				EventTime: item.Get("ts").Int(),
			}
			select {
			case <-subCtx.Done():
				return false
			case out <- evt:
			default:
			}
			return true
		})
	}

	go func() {
		defer close(out)
		s.runStream(subCtx, tradeChannel, symbols, opts, emit)
	}()
	return out, nil
}

// runStream owns one websocket connection for one channel: dial with the
// current bullet token, subscribe, pump messages, and on failure reconnect
// with capped exponential backoff plus jitter, resubscribing the same
// symbol set.
func (s *Source) runStream(ctx context.Context, channel string, symbols []string, opts market.SubscribeOptions, emit func(gjson.Result)) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = 0

	var connMu sync.Mutex
	var activeConn *websocket.Conn
	writeFrame := func(v any) error {
		connMu.Lock()
		defer connMu.Unlock()
		if activeConn == nil {
			return fmt.Errorf("no active connection")
		}
		return activeConn.WriteJSON(v)
	}

	announcerID := s.registerAnnouncer(func(tok BulletToken) {
		if err := writeFrame(map[string]any{"event": "auth", "token": tok.Token}); err != nil {
			logger.Debugf("poloniex: auth frame skipped: %v", err)
		}
	})
	defer s.unregisterAnnouncer(announcerID)

	s.refreshOnce.Do(func() {
		go s.refreshLoop(s.lifeCtx)
	})

	for {
		if ctx.Err() != nil {
			return
		}
		tok, err := s.currentToken(ctx)
		if err != nil {
			s.recordSubscribeError(err)
			if opts.OnDisconnect != nil {
				opts.OnDisconnect(err)
			}
			if !sleepWithContext(ctx, bo.NextBackOff()) {
				return
			}
			continue
		}

		dialer := websocket.Dialer{HandshakeTimeout: s.cfg.HTTPTimeout}
		conn, _, err := dialer.DialContext(ctx, tok.Endpoint+"?token="+tok.Token, nil)
		if err != nil {
			s.recordSubscribeError(err)
			if opts.OnDisconnect != nil {
				opts.OnDisconnect(err)
			}
			if !sleepWithContext(ctx, bo.NextBackOff()) {
				return
			}
			continue
		}

		connMu.Lock()
		activeConn = conn
		connMu.Unlock()

		sub := map[string]any{
			"event":   "subscribe",
			"channel": []string{channel},
			"symbols": toExchangeSymbols(symbols),
		}
		if err := writeFrame(sub); err != nil {
			conn.Close()
			s.recordSubscribeError(err)
			if !sleepWithContext(ctx, bo.NextBackOff()) {
				return
			}
			continue
		}

		bo.Reset()
		if opts.OnConnect != nil {
			opts.OnConnect()
		}

		pumpErr := s.pump(ctx, conn, writeFrame, emit)
		connMu.Lock()
		activeConn = nil
		connMu.Unlock()
		conn.Close()

		if ctx.Err() != nil {
			return
		}
		s.recordReconnect(pumpErr)
		if opts.OnDisconnect != nil {
			opts.OnDisconnect(pumpErr)
		}
		if !sleepWithContext(ctx, bo.NextBackOff()) {
			return
		}
	}
}

// pump reads frames until the connection breaks, answering pings on a
// fixed cadence to keep the session alive.
func (s *Source) pump(ctx context.Context, conn *websocket.Conn, writeFrame func(any) error, emit func(gjson.Result)) error {
	pingStop := make(chan struct{})
	defer close(pingStop)
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-pingStop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := writeFrame(map[string]string{"event": "ping"}); err != nil {
					return
				}
			}
		}
	}()

	for {
		if err := conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
			return err
		}
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		msg := gjson.ParseBytes(raw)
		switch msg.Get("event").String() {
		case "pong", "subscribe", "auth":
			continue
		case "error":
			logger.Warnf("poloniex: stream error frame: %s", msg.Get("message").String())
			continue
		}
		emit(msg)
	}
}

func (s *Source) Stats() market.SourceStats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.stats
}

func (s *Source) Close() error {
	s.lifeCancel()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.candleCancel != nil {
		s.candleCancel()
		s.candleCancel = nil
	}
	if s.tradeCancel != nil {
		s.tradeCancel()
		s.tradeCancel = nil
	}
	return nil
}

func (s *Source) recordReconnect(err error) {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	s.stats.Reconnects++
	if err != nil {
		s.stats.LastError = err.Error()
	}
}

func (s *Source) recordSubscribeError(err error) {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	s.stats.SubscribeErrors++
	if err != nil {
		s.stats.LastError = err.Error()
	}
}

func (s *Source) recordError(err error) {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	if err != nil {
		s.stats.LastError = err.Error()
	}
}

func convertCandle(item gjson.Result) (market.CandleEvent, bool) {
	symbol := item.Get("symbol").String()
	if symbol == "" {
		return market.CandleEvent{}, false
	}
	c := market.Candle{
		Open:      item.Get("open").Float(),
		High:      item.Get("high").Float(),
		Low:       item.Get("low").Float(),
		Close:     item.Get("close").Float(),
		Volume:    item.Get("quantity").Float(),
		Trades:    item.Get("tradeCount").Int(),
		OpenTime:  item.Get("startTime").Int(),
		CloseTime: item.Get("closeTime").Int(),
	}
	if c.Close <= 0 {
		return market.CandleEvent{}, false
	}
	return market.CandleEvent{Symbol: fromExchangeSymbol(symbol), Candle: c}, true
}

func toExchangeSymbols(symbols []string) []string {
	out := make([]string, 0, len(symbols))
	for _, sym := range symbols {
		out = append(out, toExchangeSymbol(sym))
	}
	return out
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = time.Second
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
