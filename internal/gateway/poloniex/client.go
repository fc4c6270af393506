package poloniex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"polaris/internal/market"
)

// Client is the authenticated Poloniex REST client. Signing covers
// method, path and the sorted URL-encoded parameters (see sign.go);
// private endpoints additionally require the bullet-token session for
// streaming, which the Source manages.
type Client struct {
	cfg  Config
	http *http.Client
	now  func() time.Time
}

func NewClient(cfg Config) *Client {
	final := cfg.withDefaults()
	return &Client{
		cfg:  final,
		http: &http.Client{Timeout: final.HTTPTimeout},
		now:  time.Now,
	}
}

func (c *Client) do(ctx context.Context, method, path string, params map[string]string, private bool) (gjson.Result, error) {
	if params == nil {
		params = map[string]string{}
	}
	if private {
		params["signTimestamp"] = strconv.FormatInt(c.now().UnixMilli(), 10)
	}

	var body io.Reader
	reqURL := c.cfg.RESTBaseURL + path
	if method == http.MethodGet || method == http.MethodDelete {
		if len(params) > 0 {
			q := url.Values{}
			for k, v := range params {
				q.Set(k, v)
			}
			reqURL += "?" + q.Encode()
		}
	} else {
		payload, err := json.Marshal(params)
		if err != nil {
			return gjson.Result{}, err
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return gjson.Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if private {
		if c.cfg.APIKey == "" || c.cfg.APISecret == "" {
			return gjson.Result{}, fmt.Errorf("poloniex: credentials required for %s %s", method, path)
		}
		req.Header.Set("key", c.cfg.APIKey)
		req.Header.Set("signTimestamp", params["signTimestamp"])
		req.Header.Set("signature", sign(c.cfg.APISecret, method, path, params))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("poloniex: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("poloniex: reading response for %s: %w", path, err)
	}
	parsed := gjson.ParseBytes(raw)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		code := resp.StatusCode
		if v := parsed.Get("code"); v.Exists() && v.Int() != 0 {
			code = int(v.Int())
		}
		msg := parsed.Get("message").String()
		if msg == "" {
			msg = strings.TrimSpace(string(raw))
		}
		e := apiError(code, msg)
		e.Retryable = classifyCode(resp.StatusCode)
		return gjson.Result{}, e
	}
	return parsed, nil
}

// Candles fetches the recent OHLCV window for a symbol. Rows arrive as
// arrays [low, high, open, close, amount, quantity, ..., startTime] with
// the close time in the final element.
func (c *Client) Candles(ctx context.Context, symbol string, interval string, limit int) ([]market.Candle, error) {
	if limit <= 0 {
		limit = 100
	}
	params := map[string]string{
		"interval": interval,
		"limit":    strconv.Itoa(limit),
	}
	res, err := c.do(ctx, http.MethodGet, "/markets/"+toExchangeSymbol(symbol)+"/candles", params, false)
	if err != nil {
		return nil, err
	}
	var out []market.Candle
	res.ForEach(func(_, row gjson.Result) bool {
		arr := row.Array()
		if len(arr) < 12 {
			return true
		}
		out = append(out, market.Candle{
			Low:       arr[0].Float(),
			High:      arr[1].Float(),
			Open:      arr[2].Float(),
			Close:     arr[3].Float(),
			Volume:    arr[5].Float(),
			Trades:    arr[8].Int(),
			OpenTime:  arr[11].Int(),
			CloseTime: arr[10].Int(),
		})
		return true
	})
	return out, nil
}

// LastPrice returns the latest trade price for a symbol.
func (c *Client) LastPrice(ctx context.Context, symbol string) (float64, error) {
	res, err := c.do(ctx, http.MethodGet, "/markets/"+toExchangeSymbol(symbol)+"/price", nil, false)
	if err != nil {
		return 0, err
	}
	price := res.Get("price").Float()
	if price <= 0 {
		return 0, fmt.Errorf("poloniex: no price for %s", symbol)
	}
	return price, nil
}

// BulletToken requests the short-lived streaming credential. The token is
// only valid for TTL; the Source refreshes it before expiry.
type BulletToken struct {
	Token     string
	Endpoint  string
	ExpiresAt time.Time
}

func (c *Client) BulletToken(ctx context.Context) (BulletToken, error) {
	res, err := c.do(ctx, http.MethodPost, "/users/bullet", nil, true)
	if err != nil {
		return BulletToken{}, err
	}
	token := res.Get("data.token").String()
	if token == "" {
		return BulletToken{}, fmt.Errorf("poloniex: bullet response missing token")
	}
	endpoint := res.Get("data.instanceServers.0.endpoint").String()
	if endpoint == "" {
		endpoint = c.cfg.WSBaseURL
	}
	ttl := res.Get("data.instanceServers.0.tokenTTL").Int()
	if ttl <= 0 {
		ttl = int64(10 * time.Minute / time.Millisecond)
	}
	return BulletToken{
		Token:     token,
		Endpoint:  endpoint,
		ExpiresAt: c.now().Add(time.Duration(ttl) * time.Millisecond),
	}, nil
}

// toExchangeSymbol converts "BTC/USDT" to the venue's "BTC_USDT" form.
func toExchangeSymbol(symbol string) string {
	return strings.ReplaceAll(strings.ToUpper(strings.TrimSpace(symbol)), "/", "_")
}

func fromExchangeSymbol(symbol string) string {
	return strings.ReplaceAll(strings.ToUpper(strings.TrimSpace(symbol)), "_", "/")
}
