package wssim

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"tradeengine/internal/marketdata/ws"
	"tradeengine/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWalk_StaysNearAndTracksRange(t *testing.T) {
	s := New(map[string]float64{"BTC": 10000})
	s.now = func() time.Time { return time.Date(2024, 5, 1, 1, 0, 0, 0, time.UTC) }

	inst := s.instruments["BTC"]
	for i := 0; i < 200; i++ {
		tk, err := ws.ParseTicker(s.walk("BTC", inst), time.UTC)
		require.NoError(t, err)
		assert.Equal(t, "BTC", tk.Symbol)
		assert.LessOrEqual(t, tk.Low, tk.Last)
		assert.GreaterOrEqual(t, tk.High, tk.Last)
		assert.Greater(t, tk.Ask, tk.Bid)
	}
	last, _ := inst.last.Float64()
	assert.InDelta(t, 10000, last, 10000*0.25)
}

func TestServer_ServesSubscribedSymbolsToIngest(t *testing.T) {
	s := New(map[string]float64{"BTC": 10000, "ETH": 500})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	ing, err := ws.New(ws.Config{URL: "ws" + strings.TrimPrefix(srv.URL, "http"), Symbol: "ETH"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ticks := make(chan model.Tick, 16)
	go func() { _ = ing.Start(ctx, ticks) }()

	var got model.Tick
	require.Eventually(t, func() bool {
		s.Step()
		select {
		case got = <-ticks:
			return true
		default:
			return false
		}
	}, 3*time.Second, 20*time.Millisecond)

	assert.Equal(t, "ETH", got.Symbol)
	assert.InDelta(t, 500, got.Last, 5)
	assert.Equal(t, 1, s.Clients())
}
