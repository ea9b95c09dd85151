package execution

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tradeengine/internal/model"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// ErrNoMarkPrice is returned by the paper executor before any tick was seen.
var ErrNoMarkPrice = errors.New("paper: no mark price yet")

// Fill represents a simulated order fill.
type Fill struct {
	Receipt  model.ExecutionReceipt `json:"receipt"`
	Mark     float64                `json:"mark"`
	Slippage float64                `json:"slippage"`
}

// PaperExecutor simulates order execution at the latest tick price.
// Useful for dry runs against the live feed.
type PaperExecutor struct {
	mu       sync.RWMutex
	symbol   string
	mark     float64
	fills    []Fill
	orderSeq int64

	// Simulation parameters
	slippageBps float64 // basis points of slippage (e.g., 5 = 0.05%)

	// Journal records each fill when set.
	Journal *Journal
}

// NewPaperExecutor creates a paper trading executor.
// slippageBps controls simulated slippage in basis points.
func NewPaperExecutor(symbol string, slippageBps float64) *PaperExecutor {
	return &PaperExecutor{
		symbol:      symbol,
		fills:       make([]Fill, 0, 64),
		slippageBps: slippageBps,
	}
}

// MarkPrice sets the price the next order fills at (before slippage).
func (p *PaperExecutor) MarkPrice(price float64) {
	p.mu.Lock()
	p.mark = price
	p.mu.Unlock()
}

// GetFills returns a snapshot of all fills.
func (p *PaperExecutor) GetFills() []Fill {
	p.mu.RLock()
	defer p.mu.RUnlock()
	cp := make([]Fill, len(p.fills))
	copy(cp, p.fills)
	return cp
}

func (p *PaperExecutor) PlaceOrder(ctx context.Context, side model.Side, size float64) (model.ExecutionReceipt, error) {
	p.mu.Lock()
	if p.mark <= 0 {
		p.mu.Unlock()
		return model.ExecutionReceipt{}, ErrNoMarkPrice
	}
	p.orderSeq++
	orderID := fmt.Sprintf("PAPER-%d", p.orderSeq)

	slippage := p.mark * p.slippageBps / 10000
	price := p.mark + slippage // buy higher
	if side == model.SideSell {
		price = p.mark - slippage // sell lower
	}

	fill := Fill{
		Receipt: model.ExecutionReceipt{
			OrderID:    orderID,
			Symbol:     p.symbol,
			Side:       side,
			Price:      price,
			Size:       size,
			ExecutedAt: time.Now(),
		},
		Mark:     p.mark,
		Slippage: slippage,
	}
	p.fills = append(p.fills, fill)
	p.mu.Unlock()

	log.Info().Str("component", "paper").Str("side", string(side)).Float64("size", size).
		Float64("price", price).Float64("slippage", slippage).Str("order_id", orderID).Msg("paper fill")

	if p.Journal != nil {
		if err := p.Journal.Record(ctx, fill.Receipt, slippage); err != nil {
			log.Warn().Err(err).Str("order_id", orderID).Msg("journal fill")
		}
	}
	return fill.Receipt, nil
}

func (p *PaperExecutor) LastExecutionPrice(context.Context) (float64, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if len(p.fills) == 0 {
		return 0, ErrNoExecutions
	}
	return p.fills[len(p.fills)-1].Receipt.Price, nil
}
