package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sawpanic/microrun/internal/market"
)

const alphaVantageBaseURL = "https://www.alphavantage.co/query"

// AlphaVantage is the second fallback vendor. It is also the holdings
// source for ETF expansion (ETF_PROFILE endpoint).
type AlphaVantage struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewAlphaVantage creates an Alpha Vantage client.
func NewAlphaVantage(apiKey string) *AlphaVantage {
	return &AlphaVantage{baseURL: alphaVantageBaseURL, apiKey: apiKey, client: newHTTPClient()}
}

func (a *AlphaVantage) Name() string { return "alphavantage" }

func (a *AlphaVantage) query(fn, symbol string) string {
	params := url.Values{}
	params.Set("function", fn)
	params.Set("symbol", strings.ToUpper(symbol))
	params.Set("apikey", a.apiKey)
	return withQuery(a.baseURL, params)
}

type alphaVantageQuoteResponse struct {
	GlobalQuote struct {
		Price         string `json:"05. price"`
		LatestTrading string `json:"07. latest trading day"`
	} `json:"Global Quote"`
	Note string `json:"Note"`
}

func (a *AlphaVantage) GetQuote(ctx context.Context, symbol string) (market.Quote, error) {
	var resp alphaVantageQuoteResponse
	if err := getJSON(ctx, a.client, a.query("GLOBAL_QUOTE", symbol), nil, &resp); err != nil {
		return market.Quote{}, err
	}
	if resp.Note != "" {
		return market.Quote{}, fmt.Errorf("alphavantage throttled: %s", truncate([]byte(resp.Note), 80))
	}
	price, err := strconv.ParseFloat(resp.GlobalQuote.Price, 64)
	if err != nil || price <= 0 {
		return market.Quote{}, fmt.Errorf("bad price %q for %s", resp.GlobalQuote.Price, symbol)
	}
	return market.Quote{
		Symbol:    strings.ToUpper(symbol),
		Price:     price,
		Timestamp: time.Now().UTC(),
	}, nil
}

type alphaVantageDailyResponse struct {
	Series map[string]struct {
		Open   string `json:"1. open"`
		High   string `json:"2. high"`
		Low    string `json:"3. low"`
		Close  string `json:"4. close"`
		Volume string `json:"5. volume"`
	} `json:"Time Series (Daily)"`
	Note string `json:"Note"`
}

// GetBars returns daily bars only; intraday intervals are unsupported so
// the router falls through without a health penalty.
func (a *AlphaVantage) GetBars(ctx context.Context, symbol, interval string, limit int) ([]market.Bar, error) {
	if strings.ToLower(interval) != "1day" {
		return nil, market.ErrUnsupported
	}

	var resp alphaVantageDailyResponse
	if err := getJSON(ctx, a.client, a.query("TIME_SERIES_DAILY", symbol), nil, &resp); err != nil {
		return nil, err
	}
	if resp.Note != "" {
		return nil, fmt.Errorf("alphavantage throttled: %s", truncate([]byte(resp.Note), 80))
	}

	bars := make([]market.Bar, 0, len(resp.Series))
	for day, v := range resp.Series {
		ts, err := time.Parse("2006-01-02", day)
		if err != nil {
			continue
		}
		bar := market.Bar{Timestamp: ts, Source: a.Name()}
		bar.Open, _ = strconv.ParseFloat(v.Open, 64)
		bar.High, _ = strconv.ParseFloat(v.High, 64)
		bar.Low, _ = strconv.ParseFloat(v.Low, 64)
		bar.Close, _ = strconv.ParseFloat(v.Close, 64)
		bar.Volume, _ = strconv.ParseFloat(v.Volume, 64)
		if bar.Close > 0 {
			bars = append(bars, bar)
		}
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Timestamp.Before(bars[j].Timestamp) })
	if limit > 0 && len(bars) > limit {
		bars = bars[len(bars)-limit:]
	}
	return bars, nil
}

type alphaVantageOverviewResponse struct {
	Symbol               string `json:"Symbol"`
	MarketCapitalization string `json:"MarketCapitalization"`
	SharesOutstanding    string `json:"SharesOutstanding"`
	Note                 string `json:"Note"`
}

func (a *AlphaVantage) GetFundamentals(ctx context.Context, symbol string) (market.Fundamentals, error) {
	var resp alphaVantageOverviewResponse
	if err := getJSON(ctx, a.client, a.query("OVERVIEW", symbol), nil, &resp); err != nil {
		return market.Fundamentals{}, err
	}
	if resp.Note != "" {
		return market.Fundamentals{}, fmt.Errorf("alphavantage throttled: %s", truncate([]byte(resp.Note), 80))
	}
	cap, _ := strconv.ParseFloat(resp.MarketCapitalization, 64)
	shares, _ := strconv.ParseFloat(resp.SharesOutstanding, 64)
	if cap <= 0 {
		return market.Fundamentals{}, fmt.Errorf("no overview for %s", symbol)
	}
	return market.Fundamentals{
		Symbol:      strings.ToUpper(symbol),
		MarketCap:   cap,
		FloatShares: shares,
	}, nil
}

type alphaVantageETFResponse struct {
	Holdings []struct {
		Symbol string `json:"symbol"`
	} `json:"holdings"`
	Note string `json:"Note"`
}

func (a *AlphaVantage) GetETFHoldings(ctx context.Context, etf string) ([]string, error) {
	var resp alphaVantageETFResponse
	if err := getJSON(ctx, a.client, a.query("ETF_PROFILE", etf), nil, &resp); err != nil {
		return nil, err
	}
	if resp.Note != "" {
		return nil, fmt.Errorf("alphavantage throttled: %s", truncate([]byte(resp.Note), 80))
	}

	symbols := make([]string, 0, len(resp.Holdings))
	for _, h := range resp.Holdings {
		sym := strings.ToUpper(strings.TrimSpace(h.Symbol))
		if sym != "" {
			symbols = append(symbols, sym)
		}
	}
	return symbols, nil
}
