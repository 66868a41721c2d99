package broker

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamDeliversFills(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		// Consume auth and listen frames.
		var auth map[string]any
		require.NoError(t, conn.ReadJSON(&auth))
		assert.Equal(t, "auth", auth["action"])
		var listen map[string]any
		require.NoError(t, conn.ReadJSON(&listen))

		require.NoError(t, conn.WriteJSON(map[string]any{
			"stream": "trade_updates",
			"data": map[string]any{
				"event": "fill",
				"price": "10.55",
				"qty":   "25",
				"order": map[string]any{"id": "ord-1", "symbol": "ABCD"},
			},
		}))
		// Keep the connection open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	fills := make(chan Fill, 1)
	s := NewStream("k", "s", "ws"+strings.TrimPrefix(srv.URL, "http"), func(f Fill) {
		fills <- f
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	select {
	case f := <-fills:
		assert.Equal(t, "fill", f.Event)
		assert.Equal(t, "ord-1", f.OrderID)
		assert.Equal(t, "ABCD", f.Symbol)
		assert.Equal(t, 10.55, f.Price)
		assert.Equal(t, 25.0, f.Qty)
	case <-time.After(3 * time.Second):
		t.Fatal("no fill delivered")
	}
}
