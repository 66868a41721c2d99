// Package broker talks to the brokerage execution API. The trader is
// its only consumer; market data comes from the provider router, never
// from here.
package broker

import (
	"context"
	"fmt"
	"time"
)

// Side of an order.
type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// OrderStatus mirrors the brokerage's order lifecycle states the
// trader cares about.
type OrderStatus string

const (
	StatusNew             OrderStatus = "new"
	StatusAccepted        OrderStatus = "accepted"
	StatusPartiallyFilled OrderStatus = "partially_filled"
	StatusFilled          OrderStatus = "filled"
	StatusCanceled        OrderStatus = "canceled"
	StatusRejected        OrderStatus = "rejected"
	StatusExpired         OrderStatus = "expired"
)

// Account is the brokerage's view of equity and cash.
type Account struct {
	Equity      float64 `json:"equity"`
	Cash        float64 `json:"cash"`
	BuyingPower float64 `json:"buying_power"`
}

// Position is one open brokerage position. Qty is negative for shorts.
type Position struct {
	Symbol        string  `json:"symbol"`
	Qty           float64 `json:"qty"`
	AvgEntryPrice float64 `json:"avg_entry_price"`
	MarketValue   float64 `json:"market_value"`
	UnrealizedPL  float64 `json:"unrealized_pl"`
}

// Order is a brokerage order, possibly with bracket legs.
type Order struct {
	ID             string      `json:"id"`
	ClientOrderID  string      `json:"client_order_id"`
	Symbol         string      `json:"symbol"`
	Qty            float64     `json:"qty"`
	Side           Side        `json:"side"`
	Status         OrderStatus `json:"status"`
	FilledQty      float64     `json:"filled_qty"`
	FilledAvgPrice float64     `json:"filled_avg_price"`
	SubmittedAt    time.Time   `json:"submitted_at"`
	Legs           []Order     `json:"legs,omitempty"`
}

// BracketRequest submits an entry with both exit legs attached, so at
// most one exit can fill.
type BracketRequest struct {
	Symbol        string
	Qty           int
	Side          Side
	TakeProfit    float64
	StopLoss      float64
	ClientOrderID string
}

// RejectionError marks a submission the brokerage declined. The trader
// logs it and skips the decision; it is never fatal.
type RejectionError struct {
	Symbol string
	Status int
	Reason string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("order for %s rejected (status %d): %s", e.Symbol, e.Status, e.Reason)
}

// Client is the execution surface the trader depends on.
type Client interface {
	GetAccount(ctx context.Context) (*Account, error)
	GetPositions(ctx context.Context) ([]Position, error)
	SubmitBracketOrder(ctx context.Context, req BracketRequest) (*Order, error)
	GetOrderStatus(ctx context.Context, orderID string) (*Order, error)
	CancelOrder(ctx context.Context, orderID string) error
}
