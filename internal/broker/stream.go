package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const defaultAlpacaStreamURL = "wss://paper-api.alpaca.markets/stream"

// Fill is one trade-update event pushed by the brokerage.
type Fill struct {
	Event     string    `json:"event"`
	OrderID   string    `json:"order_id"`
	Symbol    string    `json:"symbol"`
	Qty       float64   `json:"qty"`
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`
}

// FillHandler receives fill events as they arrive. Called from the
// stream goroutine; handlers must be quick or hand off.
type FillHandler func(Fill)

// Stream listens on the brokerage trade-updates websocket and pushes
// fill notifications to the handler. Reconnects with backoff; the
// trader's reconcile pass covers anything missed while disconnected.
type Stream struct {
	apiKey    string
	apiSecret string
	url       string
	handler   FillHandler
	dial      func(ctx context.Context, url string) (*websocket.Conn, error)
}

// NewStream creates a trade-updates listener. An empty url selects the
// paper-trading stream.
func NewStream(apiKey, apiSecret, url string, handler FillHandler) *Stream {
	if url == "" {
		url = defaultAlpacaStreamURL
	}
	return &Stream{
		apiKey:    apiKey,
		apiSecret: apiSecret,
		url:       url,
		handler:   handler,
		dial: func(ctx context.Context, url string) (*websocket.Conn, error) {
			conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
			return conn, err
		},
	}
}

// Run blocks until ctx is canceled, reconnecting on any stream error.
func (s *Stream) Run(ctx context.Context) {
	backoff := time.Second
	for {
		if err := s.listen(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn().Err(err).Dur("retry_in", backoff).Msg("trade-updates stream dropped")
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

type streamMessage struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

type tradeUpdate struct {
	Event string  `json:"event"`
	Price string  `json:"price"`
	Qty   string  `json:"qty"`
	Order struct {
		ID     string `json:"id"`
		Symbol string `json:"symbol"`
	} `json:"order"`
	Timestamp time.Time `json:"timestamp"`
}

func (s *Stream) listen(ctx context.Context) error {
	conn, err := s.dial(ctx, s.url)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	auth := map[string]any{
		"action": "auth",
		"key":    s.apiKey,
		"secret": s.apiSecret,
	}
	if err := conn.WriteJSON(auth); err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	listen := map[string]any{
		"action": "listen",
		"data":   map[string]any{"streams": []string{"trade_updates"}},
	}
	if err := conn.WriteJSON(listen); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	for {
		var msg streamMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("read: %w", err)
		}
		if msg.Stream != "trade_updates" {
			continue
		}
		var update tradeUpdate
		if err := json.Unmarshal(msg.Data, &update); err != nil {
			log.Warn().Err(err).Msg("unparseable trade update, skipping")
			continue
		}
		if s.handler == nil {
			continue
		}
		s.handler(Fill{
			Event:     update.Event,
			OrderID:   update.Order.ID,
			Symbol:    update.Order.Symbol,
			Qty:       parseDecimal(update.Qty),
			Price:     parseDecimal(update.Price),
			Timestamp: update.Timestamp,
		})
	}
}
