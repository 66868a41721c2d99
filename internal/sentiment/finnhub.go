package sentiment

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const finnhubBaseURL = "https://finnhub.io/api/v1"

// Finnhub scores symbols from the Finnhub news-sentiment endpoint.
// The score is bullish minus bearish percent, so it lands in [-1, 1].
type Finnhub struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewFinnhub creates a client with the given API key.
func NewFinnhub(apiKey string) *Finnhub {
	return &Finnhub{
		apiKey:  apiKey,
		baseURL: finnhubBaseURL,
		client: &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				IdleConnTimeout:     60 * time.Second,
				TLSHandshakeTimeout: 5 * time.Second,
			},
		},
	}
}

type finnhubNewsSentiment struct {
	Sentiment struct {
		BullishPercent float64 `json:"bullishPercent"`
		BearishPercent float64 `json:"bearishPercent"`
	} `json:"sentiment"`
	Buzz struct {
		ArticlesInLastWeek int `json:"articlesInLastWeek"`
	} `json:"buzz"`
}

func (f *Finnhub) Name() string { return "finnhub" }

func (f *Finnhub) Score(ctx context.Context, symbol string) (float64, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("token", f.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		f.baseURL+"/news-sentiment?"+q.Encode(), nil)
	if err != nil {
		return 0, err
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("finnhub request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return 0, fmt.Errorf("finnhub status %d: %s", resp.StatusCode, body)
	}

	var payload finnhubNewsSentiment
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return 0, fmt.Errorf("finnhub decode: %w", err)
	}

	// No coverage reads as neutral rather than zero-bullish.
	if payload.Buzz.ArticlesInLastWeek == 0 {
		return 0, nil
	}
	return payload.Sentiment.BullishPercent - payload.Sentiment.BearishPercent, nil
}
