package poloniex

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSignPayloadCanonicalForm(t *testing.T) {
	payload := signPayload("get", "/orders", map[string]string{
		"symbol":        "BTC_USDT",
		"signTimestamp": "1700000000000",
		"limit":         "10",
	})
	// Method uppercased, params sorted by key, url-encoded, joined with &.
	assert.Equal(t, "GET\n/orders\nlimit=10&signTimestamp=1700000000000&symbol=BTC_USDT", payload)
}

func TestSignPayloadEscapesValues(t *testing.T) {
	payload := signPayload("POST", "/orders", map[string]string{
		"requestBody": `{"symbol":"BTC_USDT"}`,
	})
	assert.Equal(t, "POST\n/orders\nrequestBody=%7B%22symbol%22%3A%22BTC_USDT%22%7D", payload)
}

func TestSignMatchesReferenceHMAC(t *testing.T) {
	secret := "test-secret"
	params := map[string]string{"signTimestamp": "1700000000000"}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte("GET\n/accounts/balances\nsignTimestamp=1700000000000"))
	want := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	assert.Equal(t, want, sign(secret, "GET", "/accounts/balances", params))
}

func TestSymbolMapping(t *testing.T) {
	assert.Equal(t, "BTC_USDT", toExchangeSymbol("BTC/USDT"))
	assert.Equal(t, "ETH_USDT", toExchangeSymbol("eth/usdt"))
	assert.Equal(t, "BTC/USDT", fromExchangeSymbol("BTC_USDT"))
}
