package poloniex

import "polaris/internal/gateway/exchange"

func apiError(code int, message string) *exchange.Error {
	return &exchange.Error{
		Venue:     "poloniex",
		Code:      code,
		Message:   message,
		Retryable: classifyCode(code),
	}
}

// classifyCode maps HTTP/venue codes onto the retryable/terminal split.
// Rate limiting and exchange-side trouble are worth retrying; everything
// else (bad parameters, insufficient balance) is terminal.
func classifyCode(code int) bool {
	switch {
	case code == 429:
		return true
	case code >= 500:
		return true
	default:
		return false
	}
}
