package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
)

const defaultAlpacaTradingURL = "https://paper-api.alpaca.markets"

// Alpaca implements Client against the Alpaca trading API. All calls
// run through a shared circuit breaker so a dead brokerage fails fast
// instead of stalling every cycle on timeouts.
type Alpaca struct {
	apiKey    string
	apiSecret string
	baseURL   string
	client    *http.Client
	breaker   *gobreaker.CircuitBreaker
}

// NewAlpaca creates a trading client. An empty baseURL selects the
// paper-trading endpoint.
func NewAlpaca(apiKey, apiSecret, baseURL string) *Alpaca {
	if baseURL == "" {
		baseURL = defaultAlpacaTradingURL
	}
	settings := gobreaker.Settings{
		Name:    "alpaca-trading",
		Timeout: 60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// A declined order is a healthy brokerage saying no, not an
		// outage; it must not trip the circuit.
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			var rej *RejectionError
			return errors.As(err, &rej)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("brokerage circuit state changed")
		},
	}
	return &Alpaca{
		apiKey:    apiKey,
		apiSecret: apiSecret,
		baseURL:   baseURL,
		client: &http.Client{
			Timeout: 15 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				IdleConnTimeout:     60 * time.Second,
				TLSHandshakeTimeout: 5 * time.Second,
			},
		},
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

type alpacaAccount struct {
	Equity      string `json:"equity"`
	Cash        string `json:"cash"`
	BuyingPower string `json:"buying_power"`
}

func (a *Alpaca) GetAccount(ctx context.Context) (*Account, error) {
	var raw alpacaAccount
	if err := a.do(ctx, http.MethodGet, "/v2/account", nil, &raw); err != nil {
		return nil, err
	}
	return &Account{
		Equity:      parseDecimal(raw.Equity),
		Cash:        parseDecimal(raw.Cash),
		BuyingPower: parseDecimal(raw.BuyingPower),
	}, nil
}

type alpacaPosition struct {
	Symbol        string `json:"symbol"`
	Qty           string `json:"qty"`
	AvgEntryPrice string `json:"avg_entry_price"`
	MarketValue   string `json:"market_value"`
	UnrealizedPL  string `json:"unrealized_pl"`
}

func (a *Alpaca) GetPositions(ctx context.Context) ([]Position, error) {
	var raw []alpacaPosition
	if err := a.do(ctx, http.MethodGet, "/v2/positions", nil, &raw); err != nil {
		return nil, err
	}
	out := make([]Position, 0, len(raw))
	for _, p := range raw {
		out = append(out, Position{
			Symbol:        p.Symbol,
			Qty:           parseDecimal(p.Qty),
			AvgEntryPrice: parseDecimal(p.AvgEntryPrice),
			MarketValue:   parseDecimal(p.MarketValue),
			UnrealizedPL:  parseDecimal(p.UnrealizedPL),
		})
	}
	return out, nil
}

type alpacaOrderRequest struct {
	Symbol        string            `json:"symbol"`
	Qty           string            `json:"qty"`
	Side          string            `json:"side"`
	Type          string            `json:"type"`
	TimeInForce   string            `json:"time_in_force"`
	OrderClass    string            `json:"order_class"`
	ClientOrderID string            `json:"client_order_id,omitempty"`
	TakeProfit    *alpacaLimitPrice `json:"take_profit,omitempty"`
	StopLoss      *alpacaStopPrice  `json:"stop_loss,omitempty"`
}

type alpacaLimitPrice struct {
	LimitPrice string `json:"limit_price"`
}

type alpacaStopPrice struct {
	StopPrice string `json:"stop_price"`
}

type alpacaOrder struct {
	ID             string        `json:"id"`
	ClientOrderID  string        `json:"client_order_id"`
	Symbol         string        `json:"symbol"`
	Qty            string        `json:"qty"`
	Side           string        `json:"side"`
	Status         string        `json:"status"`
	FilledQty      string        `json:"filled_qty"`
	FilledAvgPrice string        `json:"filled_avg_price"`
	SubmittedAt    time.Time     `json:"submitted_at"`
	Legs           []alpacaOrder `json:"legs"`
}

func (a *Alpaca) SubmitBracketOrder(ctx context.Context, req BracketRequest) (*Order, error) {
	body := alpacaOrderRequest{
		Symbol:        req.Symbol,
		Qty:           strconv.Itoa(req.Qty),
		Side:          string(req.Side),
		Type:          "market",
		TimeInForce:   "day",
		OrderClass:    "bracket",
		ClientOrderID: req.ClientOrderID,
		TakeProfit:    &alpacaLimitPrice{LimitPrice: formatPrice(req.TakeProfit)},
		StopLoss:      &alpacaStopPrice{StopPrice: formatPrice(req.StopLoss)},
	}
	var raw alpacaOrder
	if err := a.do(ctx, http.MethodPost, "/v2/orders", body, &raw); err != nil {
		var rej *RejectionError
		if errors.As(err, &rej) {
			rej.Symbol = req.Symbol
		}
		return nil, err
	}
	order := convertOrder(raw)
	return &order, nil
}

func (a *Alpaca) GetOrderStatus(ctx context.Context, orderID string) (*Order, error) {
	var raw alpacaOrder
	if err := a.do(ctx, http.MethodGet, "/v2/orders/"+orderID, nil, &raw); err != nil {
		return nil, err
	}
	order := convertOrder(raw)
	return &order, nil
}

func (a *Alpaca) CancelOrder(ctx context.Context, orderID string) error {
	return a.do(ctx, http.MethodDelete, "/v2/orders/"+orderID, nil, nil)
}

// do runs one API call through the breaker.
func (a *Alpaca) do(ctx context.Context, method, path string, body, out any) error {
	_, err := a.breaker.Execute(func() (any, error) {
		return nil, a.doHTTP(ctx, method, path, body, out)
	})
	return err
}

func (a *Alpaca) doHTTP(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("APCA-API-KEY-ID", a.apiKey)
	req.Header.Set("APCA-API-SECRET-KEY", a.apiSecret)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("alpaca %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		if isRejectionStatus(resp.StatusCode) {
			return &RejectionError{Status: resp.StatusCode, Reason: string(msg)}
		}
		return fmt.Errorf("alpaca %s %s: status %d: %s", method, path, resp.StatusCode, msg)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("alpaca %s %s: decode: %w", method, path, err)
	}
	return nil
}

// Rejections: 403 insufficient buying power, 422 unprocessable order.
func isRejectionStatus(code int) bool {
	return code == http.StatusForbidden || code == http.StatusUnprocessableEntity
}

func convertOrder(raw alpacaOrder) Order {
	o := Order{
		ID:             raw.ID,
		ClientOrderID:  raw.ClientOrderID,
		Symbol:         raw.Symbol,
		Qty:            parseDecimal(raw.Qty),
		Side:           Side(raw.Side),
		Status:         OrderStatus(raw.Status),
		FilledQty:      parseDecimal(raw.FilledQty),
		FilledAvgPrice: parseDecimal(raw.FilledAvgPrice),
		SubmittedAt:    raw.SubmittedAt,
	}
	for _, leg := range raw.Legs {
		o.Legs = append(o.Legs, convertOrder(leg))
	}
	return o
}

func parseDecimal(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

func formatPrice(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
