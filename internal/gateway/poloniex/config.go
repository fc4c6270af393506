package poloniex

import "time"

type Config struct {
	APIKey      string        `toml:"api_key" json:"-"`
	APISecret   string        `toml:"api_secret" json:"-"`
	RESTBaseURL string        `toml:"rest_base_url" json:"rest_base_url"`
	WSBaseURL   string        `toml:"ws_base_url" json:"ws_base_url"`
	HTTPTimeout time.Duration `toml:"http_timeout" json:"http_timeout"`

	// TokenTTLMargin is how long before bullet-token expiry the session
	// refreshes it. Refresh happens in the background so subscriptions
	// are never dropped.
	TokenTTLMargin time.Duration `toml:"token_ttl_margin" json:"token_ttl_margin"`
}

func (c Config) withDefaults() Config {
	if c.RESTBaseURL == "" {
		c.RESTBaseURL = "https://api.poloniex.com"
	}
	if c.WSBaseURL == "" {
		c.WSBaseURL = "wss://ws.poloniex.com/ws"
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = 15 * time.Second
	}
	if c.TokenTTLMargin <= 0 {
		c.TokenTTLMargin = 30 * time.Second
	}
	return c
}
