package router

import (
	"context"
	"errors"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vitos/crypto_position_engine/internal/domain"
)

// ErrQueueFull is returned when the report channel cannot absorb more
// executions. Submit itself never blocks.
var ErrQueueFull = errors.New("paper router report queue full")

type restingOrder struct {
	intent domain.OrderIntent
	symbol string
}

// PaperRouter is an in-process OrderRouter that fills intents against the
// live price stream: market intents at the next tick, priced intents once the
// tick crosses their price. It lets the engine run end-to-end without an
// exchange while keeping the exact interface a live router would have.
type PaperRouter struct {
	log     *zap.Logger
	reports chan domain.ExecutionReport
	// resolve maps a position id to its symbol so resting orders only match
	// ticks of their own market.
	resolve func(positionID string) (string, bool)

	mu      sync.Mutex
	resting []restingOrder
}

func NewPaperRouter(log *zap.Logger, queueSize int, resolve func(positionID string) (string, bool)) *PaperRouter {
	if queueSize <= 0 {
		queueSize = 128
	}
	return &PaperRouter{
		log:     log,
		reports: make(chan domain.ExecutionReport, queueSize),
		resolve: resolve,
	}
}

// Submit accepts an intent without blocking. PLACE intents rest until a tick
// crosses them; CANCEL intents drop the matching resting order.
func (r *PaperRouter) Submit(_ context.Context, intent domain.OrderIntent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch intent.Kind {
	case domain.IntentCancel:
		r.removeLocked(intent.PositionID, intent.LadderIndex, intent.Side)
		return nil
	case domain.IntentModify:
		r.removeLocked(intent.PositionID, intent.LadderIndex, intent.Side)
		fallthrough
	default:
		var symbol string
		if r.resolve != nil {
			symbol, _ = r.resolve(intent.PositionID)
		}
		r.resting = append(r.resting, restingOrder{intent: intent, symbol: symbol})
		return nil
	}
}

func (r *PaperRouter) Reports() <-chan domain.ExecutionReport {
	return r.reports
}

// OnTick matches resting orders against a price observation. Call it from the
// feed callback alongside the supervisor dispatch.
func (r *PaperRouter) OnTick(tick domain.PriceTick) {
	r.mu.Lock()
	var kept []restingOrder
	var filled []restingOrder
	for _, o := range r.resting {
		if o.symbol != "" && o.symbol != tick.Symbol {
			kept = append(kept, o)
			continue
		}
		if r.crossed(o.intent, tick.Price) {
			filled = append(filled, o)
		} else {
			kept = append(kept, o)
		}
	}
	r.resting = kept
	r.mu.Unlock()

	for _, o := range filled {
		price := o.intent.Price
		if o.intent.Market() || price.IsZero() {
			price = tick.Price
		}
		report := domain.ExecutionReport{
			PositionID: o.intent.PositionID,
			Fill: &domain.Fill{
				LadderIndex: o.intent.LadderIndex,
				LadderKind:  ladderKind(o.intent),
				Price:       price,
				Quantity:    o.intent.Quantity,
				Timestamp:   tick.Timestamp,
			},
		}
		select {
		case r.reports <- report:
		default:
			r.log.Error("report queue full, execution dropped",
				zap.String("position", o.intent.PositionID),
				zap.Int("ladderIndex", o.intent.LadderIndex))
		}
	}
}

// crossed reports whether a tick fills the intent. Intents are emitted at the
// moment their level is touched, so the common case fills on the same or the
// next tick.
func (r *PaperRouter) crossed(intent domain.OrderIntent, price decimal.Decimal) bool {
	if intent.Market() || intent.Price.IsZero() {
		return true
	}
	if intent.Side == domain.SideLong {
		// Buys fill at or below their price.
		return price.Cmp(intent.Price) <= 0
	}
	return price.Cmp(intent.Price) >= 0
}

func (r *PaperRouter) removeLocked(positionID string, ladderIndex int, side domain.Side) {
	kept := r.resting[:0]
	for _, o := range r.resting {
		if o.intent.PositionID == positionID &&
			o.intent.LadderIndex == ladderIndex &&
			o.intent.Side == side {
			continue
		}
		kept = append(kept, o)
	}
	r.resting = kept
}

// Close drains the router. Pending resting orders are discarded.
func (r *PaperRouter) Close() {
	r.mu.Lock()
	r.resting = nil
	r.mu.Unlock()
	close(r.reports)
}

func ladderKind(intent domain.OrderIntent) domain.LadderKind {
	switch intent.Reason {
	case domain.ReasonEntryLadder:
		return domain.LadderEntry
	case domain.ReasonTPLadder:
		return domain.LadderTP
	default:
		return domain.LadderSL
	}
}
