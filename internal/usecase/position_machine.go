package usecase

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vitos/crypto_position_engine/internal/domain"
)

// PositionStateMachine owns one open position. It consumes price ticks and
// router reports, drives the ladders and the stop controller, and emits
// OrderIntents. All state it touches is owned exclusively by the goroutine
// calling into it, so there is no locking here.
type PositionStateMachine struct {
	cfg     *domain.StrategyConfig
	state   *domain.PositionState
	entries *EntryLadder
	exits   *ExitLadder
	stop    *StopController
	log     *zap.Logger

	// Trailing-entry bookkeeping: best price seen since the previous entry
	// filled (the low for longs, the high for shorts).
	entryTrailBest decimal.Decimal

	// Trailing-TP bookkeeping for the next unfilled level.
	tpTrailIndex int
	tpTrailArmed bool
	tpTrailBest  decimal.Decimal

	stopPlaced bool // a stop intent is in flight
	flattening bool // liquidation guard fired, only the close may proceed
	holdMode   bool // stale feed: no new entries until a tick arrives
}

func NewPositionStateMachine(id string, cfg *domain.StrategyConfig, side domain.Side,
	totalSize, referencePrice decimal.Decimal, log *zap.Logger) *PositionStateMachine {

	state := &domain.PositionState{
		ID:                id,
		Symbol:            cfg.CoinPair,
		Side:              side,
		Phase:             domain.PhaseAwaitingEntry,
		TotalSize:         totalSize,
		ReferencePrice:    referencePrice,
		EntrySlots:        make([]domain.SlotStatus, cfg.EntrySettings.NumberOfEntries),
		TPSlots:           make([]domain.SlotStatus, cfg.TakeProfitSettings.NumberOfTPs),
		OpenedAt:          time.Now(),
		RemainingQuantity: decimal.Zero,
	}
	for i := range state.EntrySlots {
		state.EntrySlots[i] = domain.SlotIdle
	}
	for i := range state.TPSlots {
		state.TPSlots[i] = domain.SlotIdle
	}

	return &PositionStateMachine{
		cfg:            cfg,
		state:          state,
		entries:        NewEntryLadder(cfg.EntrySettings, side, referencePrice, totalSize),
		exits:          NewExitLadder(cfg.TakeProfitSettings, side, totalSize),
		stop:           NewStopController(cfg.StopLossSettings, side, cfg.Leverage),
		log:            log.With(zap.String("position", id), zap.String("symbol", cfg.CoinPair)),
		entryTrailBest: referencePrice,
		tpTrailIndex:   -1,
	}
}

// State exposes the position state. Callers outside the owning goroutine must
// not touch it.
func (m *PositionStateMachine) State() *domain.PositionState {
	return m.state
}

// Config returns the accepted strategy config driving this position.
func (m *PositionStateMachine) Config() *domain.StrategyConfig {
	return m.cfg
}

// OnTick processes one price observation. Conflicting triggers within a tick
// resolve risk-first: stop-loss beats take-profit beats entry, and a tick that
// fires the stop produces no other intent.
func (m *PositionStateMachine) OnTick(tick domain.PriceTick) []domain.OrderIntent {
	if m.state.Phase.Terminal() {
		return nil
	}
	price := tick.Price
	m.state.LastTickAt = tick.Timestamp

	recovering := m.holdMode
	if recovering {
		m.holdMode = false
		m.log.Info("feed recovered, leaving hold mode", zap.String("price", price.String()))
	}

	m.trackEntryTrail(price)

	avg := m.state.AverageEntryPrice
	var tpPrices []decimal.Decimal
	if m.stop.Active() {
		for _, lvl := range m.exits.Levels(avg) {
			tpPrices = append(tpPrices, lvl.Price)
		}
	}
	m.stop.Update(price, tpPrices, m.state.HighestTPIndexHit)
	if stopPrice, _, ok := m.stop.Effective(); ok {
		m.state.CurrentStopPrice = stopPrice
	}

	exposed := m.state.RemainingQuantity.Sign() > 0

	// Liquidation guard overrides the configured stop entirely.
	if exposed && !m.flattening && m.stop.LiquidationBreached() {
		m.flattening = true
		m.stopPlaced = true
		m.log.Warn("stop beyond estimated liquidation price, flattening",
			zap.String("stop", m.state.CurrentStopPrice.String()),
			zap.String("liquidation", m.stop.LiquidationPrice().String()))
		intents := m.cancelPlacedSlots(domain.ReasonLiquidationGuard)
		intents = append(intents, domain.OrderIntent{
			PositionID: m.state.ID,
			Kind:       domain.IntentPlace,
			Side:       m.state.Side.Opposite(),
			Quantity:   m.state.RemainingQuantity,
			Reason:     domain.ReasonLiquidationGuard,
		})
		return intents
	}

	// 1. Stop-loss.
	if exposed && !m.stopPlaced && m.stop.Triggered(price) {
		stopPrice, reason, _ := m.stop.Effective()
		m.stopPlaced = true
		m.log.Info("stop triggered",
			zap.String("stop", stopPrice.String()),
			zap.String("reason", string(reason)))
		return []domain.OrderIntent{{
			PositionID: m.state.ID,
			Kind:       domain.IntentPlace,
			Side:       m.state.Side.Opposite(),
			Price:      stopPrice,
			Quantity:   m.state.RemainingQuantity,
			Reason:     reason,
		}}
	}

	var intents []domain.OrderIntent

	// 2. Take-profit.
	if exposed && !m.flattening {
		if i := m.state.NextUnfilledTP(); i >= 0 && m.state.TPSlots[i] == domain.SlotIdle {
			if fire, fireAt := m.tpTrigger(i, price, avg); fire {
				qty := m.exits.Quantity(i)
				if qty.Cmp(m.state.RemainingQuantity) > 0 {
					qty = m.state.RemainingQuantity
				}
				if qty.Sign() > 0 {
					m.state.TPSlots[i] = domain.SlotPlaced
					intents = append(intents, domain.OrderIntent{
						PositionID:  m.state.ID,
						Kind:        domain.IntentPlace,
						Side:        m.state.Side.Opposite(),
						Price:       fireAt,
						Quantity:    qty,
						LadderIndex: i,
						Reason:      domain.ReasonTPLadder,
					})
				}
			}
		}
	}

	// 3. Entry. Skipped on the first tick after a feed gap: the price may
	// have gapped far through the ladder.
	if !m.flattening && !recovering {
		if i := m.state.NextUnfilledEntry(); i >= 0 && m.state.EntrySlots[i] == domain.SlotIdle {
			if fire, fireAt := m.entryTrigger(i, price); fire {
				m.state.EntrySlots[i] = domain.SlotPlaced
				intents = append(intents, domain.OrderIntent{
					PositionID:  m.state.ID,
					Kind:        domain.IntentPlace,
					Side:        m.state.Side,
					Price:       fireAt,
					Quantity:    m.entries.Level(i).Quantity,
					LadderIndex: i,
					Reason:      domain.ReasonEntryLadder,
				})
			}
		}
	}

	return intents
}

func (m *PositionStateMachine) trackEntryTrail(price decimal.Decimal) {
	if m.entryTrailBest.IsZero() {
		m.entryTrailBest = price
		return
	}
	if m.state.Side == domain.SideLong {
		if price.Cmp(m.entryTrailBest) < 0 {
			m.entryTrailBest = price
		}
	} else if price.Cmp(m.entryTrailBest) > 0 {
		m.entryTrailBest = price
	}
}

func (m *PositionStateMachine) entryTrigger(i int, price decimal.Decimal) (bool, decimal.Decimal) {
	if m.entries.TrailingEnabled() {
		trigger := m.entries.TrailingTrigger(m.entryTrailBest)
		if m.state.Side == domain.SideLong {
			if price.Cmp(trigger) >= 0 {
				return true, trigger
			}
		} else if price.Cmp(trigger) <= 0 {
			return true, trigger
		}
		return false, decimal.Zero
	}
	if m.entries.Triggered(i, price) {
		return true, m.entries.Level(i).Price
	}
	return false, decimal.Zero
}

func (m *PositionStateMachine) tpTrigger(i int, price, avg decimal.Decimal) (bool, decimal.Decimal) {
	if !m.exits.TrailingEnabled() {
		if m.exits.Triggered(avg, i, price) {
			return true, m.exits.Price(avg, i)
		}
		return false, decimal.Zero
	}

	if m.tpTrailIndex != i {
		m.tpTrailIndex = i
		m.tpTrailArmed = false
		m.tpTrailBest = decimal.Zero
	}
	if !m.tpTrailArmed {
		arm := m.exits.ArmPrice(avg, i)
		if m.state.Side == domain.SideLong && price.Cmp(arm) >= 0 ||
			m.state.Side == domain.SideShort && price.Cmp(arm) <= 0 {
			m.tpTrailArmed = true
			m.tpTrailBest = price
		}
		// An unarmed trailing TP never fires, even on a reversal.
		return false, decimal.Zero
	}

	if m.state.Side == domain.SideLong {
		if price.Cmp(m.tpTrailBest) > 0 {
			m.tpTrailBest = price
		}
		trigger := m.exits.TrailingTrigger(m.tpTrailBest)
		if price.Cmp(trigger) <= 0 {
			return true, trigger
		}
		return false, decimal.Zero
	}
	if price.Cmp(m.tpTrailBest) < 0 {
		m.tpTrailBest = price
	}
	trigger := m.exits.TrailingTrigger(m.tpTrailBest)
	if price.Cmp(trigger) >= 0 {
		return true, trigger
	}
	return false, decimal.Zero
}

// OnFill applies a confirmed execution. Replays are harmless: a fill for an
// already-filled slot is dropped, so at-least-once delivery from the router
// cannot double-advance the position.
func (m *PositionStateMachine) OnFill(fill domain.Fill) error {
	if m.state.Phase.Terminal() {
		return domain.ErrPositionClosed
	}

	switch fill.LadderKind {
	case domain.LadderEntry:
		if fill.LadderIndex < 0 || fill.LadderIndex >= len(m.state.EntrySlots) {
			return fmt.Errorf("entry fill index %d out of range", fill.LadderIndex)
		}
		if m.state.EntrySlots[fill.LadderIndex] == domain.SlotFilled {
			m.log.Debug("duplicate entry fill ignored", zap.Int("index", fill.LadderIndex))
			return nil
		}
		m.applyEntryFill(fill)
	case domain.LadderTP:
		if fill.LadderIndex < 0 || fill.LadderIndex >= len(m.state.TPSlots) {
			return fmt.Errorf("tp fill index %d out of range", fill.LadderIndex)
		}
		if m.state.TPSlots[fill.LadderIndex] == domain.SlotFilled {
			m.log.Debug("duplicate tp fill ignored", zap.Int("index", fill.LadderIndex))
			return nil
		}
		m.applyTPFill(fill)
	case domain.LadderSL:
		if !m.stopPlaced {
			m.log.Debug("duplicate stop fill ignored")
			return nil
		}
		m.applyStopFill(fill)
	default:
		return fmt.Errorf("unknown ladder kind %q", fill.LadderKind)
	}
	return nil
}

func (m *PositionStateMachine) applyEntryFill(fill domain.Fill) {
	m.state.EntrySlots[fill.LadderIndex] = domain.SlotFilled
	m.state.Fills = append(m.state.Fills, fill)
	m.state.FilledQuantity = m.state.FilledQuantity.Add(fill.Quantity)
	m.state.RemainingQuantity = m.state.RemainingQuantity.Add(fill.Quantity)

	// Volume-weighted average over entry fills.
	notional, qty := decimal.Zero, decimal.Zero
	for _, f := range m.state.Fills {
		if f.LadderKind == domain.LadderEntry {
			notional = notional.Add(f.Price.Mul(f.Quantity))
			qty = qty.Add(f.Quantity)
		}
	}
	m.state.AverageEntryPrice = notional.Div(qty)
	m.stop.OnEntryFill(fill.Price, m.state.AverageEntryPrice)

	// The next trailing entry trails from this fill onward.
	m.entryTrailBest = fill.Price

	if m.state.Phase == domain.PhaseAwaitingEntry || m.state.Phase == domain.PhasePartiallyFilled {
		if m.state.NextUnfilledEntry() == -1 {
			m.state.Phase = domain.PhaseFullyFilled
		} else {
			m.state.Phase = domain.PhasePartiallyFilled
		}
	}
	m.log.Info("entry filled",
		zap.Int("index", fill.LadderIndex),
		zap.String("price", fill.Price.String()),
		zap.String("avgEntry", m.state.AverageEntryPrice.String()),
		zap.String("phase", string(m.state.Phase)))
}

func (m *PositionStateMachine) applyTPFill(fill domain.Fill) {
	m.state.TPSlots[fill.LadderIndex] = domain.SlotFilled
	m.state.Fills = append(m.state.Fills, fill)
	m.state.RemainingQuantity = m.state.RemainingQuantity.Sub(fill.Quantity)
	if hit := fill.LadderIndex + 1; hit > m.state.HighestTPIndexHit {
		m.state.HighestTPIndexHit = hit
	}

	if m.state.RemainingQuantity.Sign() <= 0 {
		m.close(domain.PhaseClosed)
	} else {
		m.state.Phase = domain.PhaseTPPartial
	}
	m.log.Info("take profit filled",
		zap.Int("index", fill.LadderIndex),
		zap.String("price", fill.Price.String()),
		zap.String("remaining", m.state.RemainingQuantity.String()),
		zap.String("phase", string(m.state.Phase)))
}

func (m *PositionStateMachine) applyStopFill(fill domain.Fill) {
	m.state.Fills = append(m.state.Fills, fill)
	m.state.RemainingQuantity = m.state.RemainingQuantity.Sub(fill.Quantity)
	if m.state.RemainingQuantity.Sign() < 0 {
		m.state.RemainingQuantity = decimal.Zero
	}
	m.stopPlaced = false
	m.close(domain.PhaseStoppedOut)
	m.log.Info("stopped out",
		zap.String("price", fill.Price.String()),
		zap.String("pnl", m.RealizedPnL().String()))
}

// OnReject reacts to an exchange-side rejection relayed by the router.
// Transient reasons re-arm the ladder slot so a later tick retries placement;
// fatal reasons terminate the position and cancel whatever is in flight.
func (m *PositionStateMachine) OnReject(rej domain.OrderRejected) []domain.OrderIntent {
	if m.state.Phase.Terminal() {
		return nil
	}

	if rej.Fatal() {
		m.log.Error("fatal order rejection", zap.Error(rej))
		intents := m.cancelPlacedSlots(domain.ReasonManualCancel)
		m.close(domain.PhaseErrored)
		return intents
	}

	m.log.Warn("transient order rejection, slot re-armed", zap.Error(rej))
	switch rej.LadderKind {
	case domain.LadderEntry:
		if rej.LadderIndex >= 0 && rej.LadderIndex < len(m.state.EntrySlots) &&
			m.state.EntrySlots[rej.LadderIndex] == domain.SlotPlaced {
			m.state.EntrySlots[rej.LadderIndex] = domain.SlotIdle
		}
	case domain.LadderTP:
		if rej.LadderIndex >= 0 && rej.LadderIndex < len(m.state.TPSlots) &&
			m.state.TPSlots[rej.LadderIndex] == domain.SlotPlaced {
			m.state.TPSlots[rej.LadderIndex] = domain.SlotIdle
		}
	case domain.LadderSL:
		m.stopPlaced = false
	}
	return nil
}

// Cancel tears the position down immediately: every in-flight intent is
// cancelled and the machine transitions to CLOSED without waiting for fills.
func (m *PositionStateMachine) Cancel() []domain.OrderIntent {
	if m.state.Phase.Terminal() {
		return nil
	}
	intents := m.cancelPlacedSlots(domain.ReasonManualCancel)
	m.close(domain.PhaseClosed)
	m.log.Info("position cancelled", zap.Int("cancelled_intents", len(intents)))
	return intents
}

// MarkStale puts the machine into hold mode when the feed has been silent
// longer than the timeout. Existing stop/TP slots are untouched; only new
// entries are held back. Clears itself on the next tick.
func (m *PositionStateMachine) MarkStale(now time.Time, timeout time.Duration) error {
	if m.state.Phase.Terminal() || m.holdMode || timeout <= 0 {
		return nil
	}
	if m.state.LastTickAt.IsZero() || now.Sub(m.state.LastTickAt) < timeout {
		return nil
	}
	m.holdMode = true
	m.log.Warn("price feed stale, entering hold mode",
		zap.Time("lastTick", m.state.LastTickAt))
	return domain.ErrStaleFeed
}

// RealizedPnL sums the profit of exit fills against the final average entry.
func (m *PositionStateMachine) RealizedPnL() decimal.Decimal {
	pnl := decimal.Zero
	for _, f := range m.state.Fills {
		if f.LadderKind != domain.LadderTP && f.LadderKind != domain.LadderSL {
			continue
		}
		diff := f.Price.Sub(m.state.AverageEntryPrice)
		if m.state.Side == domain.SideShort {
			diff = diff.Neg()
		}
		pnl = pnl.Add(diff.Mul(f.Quantity))
	}
	return pnl
}

func (m *PositionStateMachine) cancelPlacedSlots(reason domain.IntentReason) []domain.OrderIntent {
	var intents []domain.OrderIntent
	for i, st := range m.state.EntrySlots {
		if st == domain.SlotPlaced {
			m.state.EntrySlots[i] = domain.SlotIdle
			intents = append(intents, domain.OrderIntent{
				PositionID:  m.state.ID,
				Kind:        domain.IntentCancel,
				Side:        m.state.Side,
				LadderIndex: i,
				Reason:      reason,
			})
		}
	}
	for i, st := range m.state.TPSlots {
		if st == domain.SlotPlaced {
			m.state.TPSlots[i] = domain.SlotIdle
			intents = append(intents, domain.OrderIntent{
				PositionID:  m.state.ID,
				Kind:        domain.IntentCancel,
				Side:        m.state.Side.Opposite(),
				LadderIndex: i,
				Reason:      reason,
			})
		}
	}
	return intents
}

func (m *PositionStateMachine) close(phase domain.PositionPhase) {
	m.state.Phase = phase
	m.state.ClosedAt = time.Now()
}
