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

const twelveDataBaseURL = "https://api.twelvedata.com"

// TwelveData is the first fallback vendor.
type TwelveData struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewTwelveData creates a Twelve Data client.
func NewTwelveData(apiKey string) *TwelveData {
	return &TwelveData{baseURL: twelveDataBaseURL, apiKey: apiKey, client: newHTTPClient()}
}

func (t *TwelveData) Name() string { return "twelvedata" }

type twelveDataPriceResponse struct {
	Price   string `json:"price"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (t *TwelveData) GetQuote(ctx context.Context, symbol string) (market.Quote, error) {
	params := url.Values{}
	params.Set("symbol", strings.ToUpper(symbol))
	params.Set("apikey", t.apiKey)

	var resp twelveDataPriceResponse
	if err := getJSON(ctx, t.client, withQuery(t.baseURL+"/price", params), nil, &resp); err != nil {
		return market.Quote{}, err
	}
	if resp.Status == "error" {
		return market.Quote{}, fmt.Errorf("twelvedata: %s", resp.Message)
	}
	price, err := strconv.ParseFloat(resp.Price, 64)
	if err != nil || price <= 0 {
		return market.Quote{}, fmt.Errorf("bad price %q for %s", resp.Price, symbol)
	}
	return market.Quote{
		Symbol:    strings.ToUpper(symbol),
		Price:     price,
		Timestamp: time.Now().UTC(),
	}, nil
}

type twelveDataSeriesResponse struct {
	Values []struct {
		Datetime string `json:"datetime"`
		Open     string `json:"open"`
		High     string `json:"high"`
		Low      string `json:"low"`
		Close    string `json:"close"`
		Volume   string `json:"volume"`
	} `json:"values"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (t *TwelveData) GetBars(ctx context.Context, symbol, interval string, limit int) ([]market.Bar, error) {
	params := url.Values{}
	params.Set("symbol", strings.ToUpper(symbol))
	params.Set("interval", twelveDataInterval(interval))
	params.Set("outputsize", strconv.Itoa(limit))
	params.Set("apikey", t.apiKey)

	var resp twelveDataSeriesResponse
	if err := getJSON(ctx, t.client, withQuery(t.baseURL+"/time_series", params), nil, &resp); err != nil {
		return nil, err
	}
	if resp.Status == "error" {
		return nil, fmt.Errorf("twelvedata: %s", resp.Message)
	}

	bars := make([]market.Bar, 0, len(resp.Values))
	for _, v := range resp.Values {
		ts, err := time.Parse("2006-01-02 15:04:05", v.Datetime)
		if err != nil {
			if ts, err = time.Parse("2006-01-02", v.Datetime); err != nil {
				continue
			}
		}
		bar := market.Bar{Timestamp: ts, Source: t.Name()}
		bar.Open, _ = strconv.ParseFloat(v.Open, 64)
		bar.High, _ = strconv.ParseFloat(v.High, 64)
		bar.Low, _ = strconv.ParseFloat(v.Low, 64)
		bar.Close, _ = strconv.ParseFloat(v.Close, 64)
		bar.Volume, _ = strconv.ParseFloat(v.Volume, 64)
		if bar.Close > 0 {
			bars = append(bars, bar)
		}
	}
	// API returns newest first; callers expect oldest first.
	sort.Slice(bars, func(i, j int) bool { return bars[i].Timestamp.Before(bars[j].Timestamp) })
	return bars, nil
}

type twelveDataStatisticsResponse struct {
	Statistics struct {
		ValuationsMetrics struct {
			MarketCapitalization float64 `json:"market_capitalization"`
		} `json:"valuations_metrics"`
		StockStatistics struct {
			SharesOutstanding float64 `json:"shares_outstanding"`
			FloatShares       float64 `json:"float_shares"`
			Avg90Volume       float64 `json:"avg_90_volume"`
		} `json:"stock_statistics"`
	} `json:"statistics"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (t *TwelveData) GetFundamentals(ctx context.Context, symbol string) (market.Fundamentals, error) {
	params := url.Values{}
	params.Set("symbol", strings.ToUpper(symbol))
	params.Set("apikey", t.apiKey)

	var resp twelveDataStatisticsResponse
	if err := getJSON(ctx, t.client, withQuery(t.baseURL+"/statistics", params), nil, &resp); err != nil {
		return market.Fundamentals{}, err
	}
	if resp.Status == "error" {
		return market.Fundamentals{}, fmt.Errorf("twelvedata: %s", resp.Message)
	}
	return market.Fundamentals{
		Symbol:      strings.ToUpper(symbol),
		MarketCap:   resp.Statistics.ValuationsMetrics.MarketCapitalization,
		FloatShares: resp.Statistics.StockStatistics.FloatShares,
		AvgVolume:   resp.Statistics.StockStatistics.Avg90Volume,
	}, nil
}

// GetETFHoldings is not offered on the Twelve Data plan we target.
func (t *TwelveData) GetETFHoldings(ctx context.Context, etf string) ([]string, error) {
	return nil, market.ErrUnsupported
}

func twelveDataInterval(interval string) string {
	switch strings.ToLower(interval) {
	case "1min":
		return "1min"
	case "1hour":
		return "1h"
	default:
		return "1day"
	}
}
