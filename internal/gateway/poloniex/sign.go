package poloniex

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/url"
	"sort"
	"strings"
)

// signPayload builds the canonical string the API signature covers:
// request method, path, and the sorted URL-encoded parameters, joined
// with literal newlines. The signTimestamp parameter must already be in
// params; it is what prevents replay.
func signPayload(method, path string, params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, url.QueryEscape(k)+"="+url.QueryEscape(params[k]))
	}
	return strings.ToUpper(method) + "\n" + path + "\n" + strings.Join(pairs, "&")
}

// sign computes the base64 HMAC-SHA256 signature over the canonical
// payload using the shared secret.
func sign(secret, method, path string, params map[string]string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(signPayload(method, path, params)))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
