package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sawpanic/microrun/internal/market"
)

// Alpaca is the primary broker data feed.
type Alpaca struct {
	baseURL string
	key     string
	secret  string
	client  *http.Client
}

// NewAlpaca creates an Alpaca data client against baseURL
// (e.g. https://data.alpaca.markets/v2).
func NewAlpaca(baseURL, key, secret string) *Alpaca {
	return &Alpaca{
		baseURL: strings.TrimRight(baseURL, "/"),
		key:     key,
		secret:  secret,
		client:  newHTTPClient(),
	}
}

func (a *Alpaca) Name() string { return "alpaca" }

func (a *Alpaca) headers() map[string]string {
	return map[string]string{
		"APCA-API-KEY-ID":     a.key,
		"APCA-API-SECRET-KEY": a.secret,
	}
}

type alpacaTradeResponse struct {
	Trade struct {
		Price     float64   `json:"p"`
		Timestamp time.Time `json:"t"`
	} `json:"trade"`
}

func (a *Alpaca) GetQuote(ctx context.Context, symbol string) (market.Quote, error) {
	var resp alpacaTradeResponse
	u := fmt.Sprintf("%s/stocks/%s/trades/latest", a.baseURL, strings.ToUpper(symbol))
	if err := getJSON(ctx, a.client, u, a.headers(), &resp); err != nil {
		return market.Quote{}, err
	}
	if resp.Trade.Price <= 0 {
		return market.Quote{}, fmt.Errorf("no trade for %s", symbol)
	}
	return market.Quote{
		Symbol:    strings.ToUpper(symbol),
		Price:     resp.Trade.Price,
		Timestamp: resp.Trade.Timestamp,
	}, nil
}

type alpacaBarsResponse struct {
	Bars []struct {
		Timestamp time.Time `json:"t"`
		Open      float64   `json:"o"`
		High      float64   `json:"h"`
		Low       float64   `json:"l"`
		Close     float64   `json:"c"`
		Volume    float64   `json:"v"`
	} `json:"bars"`
}

func (a *Alpaca) GetBars(ctx context.Context, symbol, interval string, limit int) ([]market.Bar, error) {
	params := url.Values{}
	params.Set("timeframe", alpacaTimeframe(interval))
	params.Set("limit", strconv.Itoa(limit))
	params.Set("adjustment", "split")

	var resp alpacaBarsResponse
	u := withQuery(fmt.Sprintf("%s/stocks/%s/bars", a.baseURL, strings.ToUpper(symbol)), params)
	if err := getJSON(ctx, a.client, u, a.headers(), &resp); err != nil {
		return nil, err
	}

	bars := make([]market.Bar, 0, len(resp.Bars))
	for _, b := range resp.Bars {
		bars = append(bars, market.Bar{
			Timestamp: b.Timestamp,
			Open:      b.Open,
			High:      b.High,
			Low:       b.Low,
			Close:     b.Close,
			Volume:    b.Volume,
			Source:    a.Name(),
		})
	}
	return bars, nil
}

// GetFundamentals is not offered by the Alpaca data API.
func (a *Alpaca) GetFundamentals(ctx context.Context, symbol string) (market.Fundamentals, error) {
	return market.Fundamentals{}, market.ErrUnsupported
}

// GetETFHoldings is not offered by the Alpaca data API.
func (a *Alpaca) GetETFHoldings(ctx context.Context, etf string) ([]string, error) {
	return nil, market.ErrUnsupported
}

func alpacaTimeframe(interval string) string {
	switch strings.ToLower(interval) {
	case "1min":
		return "1Min"
	case "1hour":
		return "1Hour"
	default:
		return "1Day"
	}
}
