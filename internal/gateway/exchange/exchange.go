package exchange

import "context"

type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

type OrderRequest struct {
	Symbol        string
	Side          OrderSide
	Quantity      float64
	ClientOrderID string
}

type OrderResult struct {
	OrderID       string
	ClientOrderID string
	FilledQty     float64
	AvgPrice      float64
	Complete      bool
}

type Balance struct {
	Currency  string
	Available float64
	Hold      float64
}

// Exchange is the narrow order-side surface the live manager needs. Market
// data flows through market.Source instead.
type Exchange interface {
	Name() string

	PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResult, error)

	CancelOrder(ctx context.Context, orderID string) error

	Balances(ctx context.Context) ([]Balance, error)

	// BaseHolding reports the spot holding of the symbol's base currency,
	// re-queried from the venue. The live manager reconciles against this
	// after every submission attempt instead of trusting its local view.
	BaseHolding(ctx context.Context, symbol string) (float64, error)
}
