// Package execution handles order placement through the exchange's private
// REST API, plus a paper executor for dry runs and a SQLite fill journal.
package execution

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"tradeengine/internal/model"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// DefaultPrivateURL is the GMO Coin private API root.
const DefaultPrivateURL = "https://api.coin.z.com/private"

const (
	pathOrder            = "/v1/order"
	pathLatestExecutions = "/v1/latestExecutions"
)

// ErrNoExecutions is returned when the exchange reports no recent fills.
var ErrNoExecutions = errors.New("no executions")

// GMOConfig configures the REST client.
type GMOConfig struct {
	BaseURL       string
	APIKey        string
	APISecret     string
	Symbol        string
	ExecutionType string // MARKET, LIMIT, ...
	Timeout       time.Duration
}

// GMOExecutor places market orders on GMO Coin and reads fills back.
type GMOExecutor struct {
	cfg      GMOConfig
	client   *http.Client
	validate *validator.Validate
	now      func() time.Time

	// Journal records each receipt when set.
	Journal *Journal
}

// NewGMOExecutor creates a REST executor.
func NewGMOExecutor(cfg GMOConfig) *GMOExecutor {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultPrivateURL
	}
	if cfg.ExecutionType == "" {
		cfg.ExecutionType = "MARKET"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &GMOExecutor{
		cfg:      cfg,
		client:   &http.Client{Timeout: cfg.Timeout},
		validate: validator.New(),
		now:      time.Now,
	}
}

type orderRequest struct {
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	ExecutionType string `json:"executionType"`
	Size          string `json:"size"`
}

type apiMessage struct {
	Code   string `json:"message_code"`
	String string `json:"message_string"`
}

// envelope is the common response shape; Data is decoded per endpoint.
type envelope struct {
	Status   int             `json:"status"`
	Data     json.RawMessage `json:"data"`
	Messages []apiMessage    `json:"messages"`
}

type execution struct {
	ExecutionID int64  `json:"executionId"`
	OrderID     int64  `json:"orderId" validate:"required"`
	Symbol      string `json:"symbol" validate:"required"`
	Side        string `json:"side" validate:"required,oneof=BUY SELL"`
	Size        string `json:"size" validate:"required,numeric"`
	Price       string `json:"price" validate:"required,numeric"`
	Timestamp   string `json:"timestamp" validate:"required"`
}

type executionList struct {
	List []execution `json:"list" validate:"dive"`
}

// PlaceOrder sends a market order and matches it against the latest
// executions. A receipt with Price 0 means the fill was not visible yet.
func (g *GMOExecutor) PlaceOrder(ctx context.Context, side model.Side, size float64) (model.ExecutionReceipt, error) {
	body, err := json.Marshal(orderRequest{
		Symbol:        g.cfg.Symbol,
		Side:          string(side),
		ExecutionType: g.cfg.ExecutionType,
		Size:          decimal.NewFromFloat(size).String(),
	})
	if err != nil {
		return model.ExecutionReceipt{}, errors.Wrap(err, "encode order")
	}

	env, err := g.do(ctx, http.MethodPost, pathOrder, nil, body)
	if err != nil {
		return model.ExecutionReceipt{}, errors.Wrapf(err, "order %s", side)
	}
	var orderID string
	if err := json.Unmarshal(env.Data, &orderID); err != nil {
		return model.ExecutionReceipt{}, errors.Wrap(err, "decode order id")
	}

	receipt := model.ExecutionReceipt{
		OrderID:    orderID,
		Symbol:     g.cfg.Symbol,
		Side:       side,
		Size:       size,
		ExecutedAt: g.now(),
	}
	log.Info().Str("action", "order").Str("side", string(side)).Str("order_id", orderID).Msg("order accepted")

	execs, err := g.latestExecutions(ctx)
	if err != nil && !errors.Is(err, ErrNoExecutions) {
		return model.ExecutionReceipt{}, err
	}
	for _, e := range execs {
		if strconv.FormatInt(e.OrderID, 10) != orderID {
			continue
		}
		price, err := decimal.NewFromString(e.Price)
		if err != nil {
			return model.ExecutionReceipt{}, errors.Wrap(err, "execution price")
		}
		receipt.Price = price.InexactFloat64()
		if ts, err := time.Parse(time.RFC3339Nano, e.Timestamp); err == nil {
			receipt.ExecutedAt = ts
		}
		break
	}

	if g.Journal != nil {
		if err := g.Journal.Record(ctx, receipt, 0); err != nil {
			log.Warn().Err(err).Str("order_id", orderID).Msg("journal receipt")
		}
	}
	return receipt, nil
}

// LastExecutionPrice returns the price of the most recent fill for the symbol.
func (g *GMOExecutor) LastExecutionPrice(ctx context.Context) (float64, error) {
	execs, err := g.latestExecutions(ctx)
	if err != nil {
		return 0, err
	}
	price, err := decimal.NewFromString(execs[0].Price)
	if err != nil {
		return 0, errors.Wrap(err, "execution price")
	}
	return price.InexactFloat64(), nil
}

func (g *GMOExecutor) latestExecutions(ctx context.Context) ([]execution, error) {
	q := url.Values{}
	q.Set("symbol", g.cfg.Symbol)
	q.Set("page", "1")
	q.Set("count", "100")

	env, err := g.do(ctx, http.MethodGet, pathLatestExecutions, q, nil)
	if err != nil {
		return nil, errors.Wrap(err, "latest executions")
	}
	var list executionList
	if err := json.Unmarshal(env.Data, &list); err != nil {
		return nil, errors.Wrap(err, "decode executions")
	}
	if err := g.validate.Struct(list); err != nil {
		return nil, errors.Wrap(err, "validate executions")
	}
	if len(list.List) == 0 {
		return nil, ErrNoExecutions
	}
	return list.List, nil
}

// do sends a signed request. The signature is HMAC-SHA256 over
// timestamp + method + path + body, keyed with the API secret.
func (g *GMOExecutor) do(ctx context.Context, method, path string, query url.Values, body []byte) (envelope, error) {
	u := g.cfg.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, bytes.NewReader(body))
	if err != nil {
		return envelope{}, errors.Wrap(err, "build request")
	}

	ts := strconv.FormatInt(g.now().UnixMilli(), 10)
	req.Header.Set("API-KEY", g.cfg.APIKey)
	req.Header.Set("API-TIMESTAMP", ts)
	req.Header.Set("API-SIGN", Sign(g.cfg.APISecret, ts, method, path, body))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return envelope{}, errors.Wrap(err, "send")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return envelope{}, errors.Wrap(err, "read body")
	}
	if resp.StatusCode != http.StatusOK {
		return envelope{}, errors.Errorf("unexpected status %d: %s", resp.StatusCode, truncate(raw, 200))
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return envelope{}, errors.Wrapf(err, "decode response: %s", truncate(raw, 200))
	}
	if env.Status != 0 {
		if len(env.Messages) > 0 {
			return envelope{}, errors.Errorf("api status %d: %s %s", env.Status, env.Messages[0].Code, env.Messages[0].String)
		}
		return envelope{}, errors.Errorf("api status %d", env.Status)
	}
	return env, nil
}

// Sign computes the hex HMAC-SHA256 request signature.
func Sign(secret, timestamp, method, path string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp + method + path))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
