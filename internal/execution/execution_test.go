package execution

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"tradeengine/internal/model"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "s3cret"

var fixedNow = time.Date(2024, 5, 1, 1, 0, 0, 0, time.UTC)

type fakeGMO struct {
	t          *testing.T
	orders     []orderRequest
	orderResp  string
	execsResp  string
	badSigSeen bool
}

func (f *fakeGMO) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/private")
	body, _ := io.ReadAll(r.Body)

	ts := r.Header.Get("API-TIMESTAMP")
	if r.Header.Get("API-KEY") != "key" || r.Header.Get("API-SIGN") != Sign(secret, ts, r.Method, path, body) {
		f.badSigSeen = true
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	switch path {
	case pathOrder:
		var o orderRequest
		require.NoError(f.t, json.Unmarshal(body, &o))
		f.orders = append(f.orders, o)
		_, _ = io.WriteString(w, f.orderResp)
	case pathLatestExecutions:
		assert.Equal(f.t, "BTC", r.URL.Query().Get("symbol"))
		_, _ = io.WriteString(w, f.execsResp)
	default:
		http.NotFound(w, r)
	}
}

func newTestGMO(t *testing.T, f *fakeGMO) *GMOExecutor {
	t.Helper()
	f.t = t
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	g := NewGMOExecutor(GMOConfig{BaseURL: srv.URL + "/private", APIKey: "key", APISecret: secret, Symbol: "BTC"})
	g.now = func() time.Time { return fixedNow }
	return g
}

const execsTwo = `{"status":0,"data":{"pagination":{"currentPage":1,"count":2},"list":[
	{"executionId":92123912,"orderId":223456789,"symbol":"BTC","side":"BUY","settleType":"OPEN","size":"0.01","price":"6412345.5","lossGain":"0","fee":"0","timestamp":"2024-05-01T01:00:01.123Z"},
	{"executionId":92123900,"orderId":111,"symbol":"BTC","side":"SELL","settleType":"OPEN","size":"0.01","price":"6400000","lossGain":"0","fee":"0","timestamp":"2024-05-01T00:59:00.000Z"}
]},"responsetime":"2024-05-01T01:00:02.000Z"}`

func TestSign_Deterministic(t *testing.T) {
	got := Sign(secret, "1714525200000", "GET", "/v1/latestExecutions", nil)
	assert.Len(t, got, 64)
	assert.Equal(t, got, Sign(secret, "1714525200000", "GET", "/v1/latestExecutions", []byte{}))
	assert.NotEqual(t, got, Sign(secret, "1714525200001", "GET", "/v1/latestExecutions", nil))
}

func TestGMO_PlaceOrderUsesMatchingExecution(t *testing.T) {
	f := &fakeGMO{
		orderResp: `{"status":0,"data":"223456789","responsetime":"2024-05-01T01:00:00.000Z"}`,
		execsResp: execsTwo,
	}
	g := newTestGMO(t, f)

	r, err := g.PlaceOrder(context.Background(), model.SideBuy, 0.01)
	require.NoError(t, err)
	assert.False(t, f.badSigSeen)

	require.Len(t, f.orders, 1)
	assert.Equal(t, orderRequest{Symbol: "BTC", Side: "BUY", ExecutionType: "MARKET", Size: "0.01"}, f.orders[0])

	assert.Equal(t, "223456789", r.OrderID)
	assert.Equal(t, 6412345.5, r.Price)
	assert.Equal(t, model.SideBuy, r.Side)
	assert.True(t, r.ExecutedAt.Equal(time.Date(2024, 5, 1, 1, 0, 1, 123000000, time.UTC)))
}

func TestGMO_PlaceOrderFillNotVisibleYet(t *testing.T) {
	f := &fakeGMO{
		orderResp: `{"status":0,"data":"999"}`,
		execsResp: execsTwo,
	}
	g := newTestGMO(t, f)

	r, err := g.PlaceOrder(context.Background(), model.SideSell, 0.01)
	require.NoError(t, err)
	assert.Equal(t, 0.0, r.Price)

	price, err := g.LastExecutionPrice(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 6412345.5, price)
}

func TestGMO_APIError(t *testing.T) {
	f := &fakeGMO{
		orderResp: `{"status":1,"messages":[{"message_code":"ERR-201","message_string":"Trading margin is insufficient"}]}`,
	}
	g := newTestGMO(t, f)

	_, err := g.PlaceOrder(context.Background(), model.SideBuy, 0.01)
	assert.ErrorContains(t, err, "ERR-201")
}

func TestGMO_InvalidExecutionRejected(t *testing.T) {
	f := &fakeGMO{
		execsResp: `{"status":0,"data":{"list":[{"orderId":1,"symbol":"BTC","side":"HOLD","size":"1","price":"abc","timestamp":"x"}]}}`,
	}
	g := newTestGMO(t, f)

	_, err := g.LastExecutionPrice(context.Background())
	assert.ErrorContains(t, err, "validate")
}

func TestGMO_NoExecutions(t *testing.T) {
	f := &fakeGMO{execsResp: `{"status":0,"data":{"list":[]}}`}
	g := newTestGMO(t, f)

	_, err := g.LastExecutionPrice(context.Background())
	assert.ErrorIs(t, err, ErrNoExecutions)
}

func TestGMO_BadSignatureSurfacesStatus(t *testing.T) {
	f := &fakeGMO{}
	g := newTestGMO(t, f)
	g.cfg.APISecret = "wrong"

	_, err := g.LastExecutionPrice(context.Background())
	assert.ErrorContains(t, err, "401")
	assert.True(t, f.badSigSeen)
}

func TestPaper_FillsAtMarkWithSlippage(t *testing.T) {
	p := NewPaperExecutor("BTC", 10)
	_, err := p.PlaceOrder(context.Background(), model.SideBuy, 1)
	assert.ErrorIs(t, err, ErrNoMarkPrice)

	_, err = p.LastExecutionPrice(context.Background())
	assert.ErrorIs(t, err, ErrNoExecutions)

	p.MarkPrice(1000)
	buy, err := p.PlaceOrder(context.Background(), model.SideBuy, 1)
	require.NoError(t, err)
	assert.InDelta(t, 1001.0, buy.Price, 1e-9)

	sell, err := p.PlaceOrder(context.Background(), model.SideSell, 1)
	require.NoError(t, err)
	assert.InDelta(t, 999.0, sell.Price, 1e-9)
	assert.NotEqual(t, buy.OrderID, sell.OrderID)

	last, err := p.LastExecutionPrice(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 999.0, last, 1e-9)
	assert.Len(t, p.GetFills(), 2)
}

func TestJournal_RecordAndRecent(t *testing.T) {
	j, err := NewJournal(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	defer j.Close()

	p := NewPaperExecutor("BTC", 0)
	p.Journal = j
	p.MarkPrice(500)
	_, err = p.PlaceOrder(context.Background(), model.SideBuy, 0.5)
	require.NoError(t, err)
	p.MarkPrice(510)
	_, err = p.PlaceOrder(context.Background(), model.SideSell, 0.5)
	require.NoError(t, err)

	rows, err := j.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "SELL", rows[0].Side)
	assert.Equal(t, 510.0, rows[0].Price)
	assert.Equal(t, "BUY", rows[1].Side)
	assert.Equal(t, 0.5, rows[1].Size)
}
