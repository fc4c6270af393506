package poloniex

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"polaris/internal/gateway/exchange"
)

const quantityPrecision = 8

// PlaceOrder submits a market order. Quantities are normalized through
// decimal so the wire value never carries float artifacts.
func (c *Client) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (*exchange.OrderResult, error) {
	if req.Quantity <= 0 {
		return nil, apiError(400, "quantity must be positive")
	}
	qty := decimal.NewFromFloat(req.Quantity).Round(quantityPrecision)
	if qty.IsZero() {
		return nil, apiError(400, "quantity rounds to zero")
	}
	params := map[string]string{
		"symbol":   toExchangeSymbol(req.Symbol),
		"side":     string(req.Side),
		"type":     "MARKET",
		"quantity": qty.String(),
	}
	if req.ClientOrderID != "" {
		params["clientOrderId"] = req.ClientOrderID
	}
	res, err := c.do(ctx, http.MethodPost, "/orders", params, true)
	if err != nil {
		return nil, err
	}
	orderID := res.Get("id").String()
	if orderID == "" {
		return nil, fmt.Errorf("poloniex: order response missing id")
	}
	return c.orderResult(ctx, orderID, req.ClientOrderID)
}

// orderResult queries the order back so fills reflect exchange state, not
// the optimistic request.
func (c *Client) orderResult(ctx context.Context, orderID, clientOrderID string) (*exchange.OrderResult, error) {
	res, err := c.do(ctx, http.MethodGet, "/orders/"+orderID, nil, true)
	if err != nil {
		return nil, err
	}
	filled := res.Get("filledQuantity").Float()
	avg := res.Get("avgPrice").Float()
	state := res.Get("state").String()
	return &exchange.OrderResult{
		OrderID:       orderID,
		ClientOrderID: clientOrderID,
		FilledQty:     filled,
		AvgPrice:      avg,
		Complete:      strings.EqualFold(state, "FILLED"),
	}, nil
}

func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	_, err := c.do(ctx, http.MethodDelete, "/orders/"+orderID, nil, true)
	return err
}

func (c *Client) Balances(ctx context.Context) ([]exchange.Balance, error) {
	res, err := c.do(ctx, http.MethodGet, "/accounts/balances", nil, true)
	if err != nil {
		return nil, err
	}
	var out []exchange.Balance
	res.ForEach(func(_, account gjson.Result) bool {
		account.Get("balances").ForEach(func(_, b gjson.Result) bool {
			out = append(out, exchange.Balance{
				Currency:  b.Get("currency").String(),
				Available: b.Get("available").Float(),
				Hold:      b.Get("hold").Float(),
			})
			return true
		})
		return true
	})
	return out, nil
}

// BaseHolding reports the base-currency holding for a symbol, straight
// from the venue.
func (c *Client) BaseHolding(ctx context.Context, symbol string) (float64, error) {
	base, _, ok := strings.Cut(toExchangeSymbol(symbol), "_")
	if !ok {
		return 0, fmt.Errorf("poloniex: malformed symbol %q", symbol)
	}
	balances, err := c.Balances(ctx)
	if err != nil {
		return 0, err
	}
	for _, b := range balances {
		if strings.EqualFold(b.Currency, base) {
			return b.Available + b.Hold, nil
		}
	}
	return 0, nil
}

func (c *Client) Name() string { return "poloniex" }
