package usecase

import (
	"github.com/shopspring/decimal"

	"github.com/vitos/crypto_position_engine/internal/domain"
)

// maintenanceMarginRate is the flat maintenance margin assumed when estimating
// the liquidation price. Deliberately conservative; the real rate is tiered
// per exchange and symbol.
var maintenanceMarginRate = decimal.NewFromFloat(0.004)

// StopController computes the currently-effective stop price for one position.
// The configured rules (fixed, trailing, breakeven, moving target, moving
// breakeven) are not phases in time but candidate price sources; the effective
// stop is recomputed every tick as the most protective armed candidate, and
// every candidate only ever tightens, never loosens.
type StopController struct {
	settings domain.StopLossSettings
	side     domain.Side
	leverage int

	active       bool // becomes true on the first entry fill
	firstEntry   decimal.Decimal
	averageEntry decimal.Decimal

	fixedStop decimal.Decimal

	// Sticky price-touch flags for tp1/tp2 activation conditions.
	tp1Reached bool
	tp2Reached bool

	trailingArmed bool
	trailingStop  decimal.Decimal

	breakevenArmed bool
	breakevenStop  decimal.Decimal

	movingBEArmed bool
	movingBEStop  decimal.Decimal

	movingTargetArmed bool
	movingTargetStop  decimal.Decimal
}

func NewStopController(settings domain.StopLossSettings, side domain.Side, leverage int) *StopController {
	return &StopController{settings: settings, side: side, leverage: leverage}
}

// Active reports whether any entry has filled yet. Before that there is
// nothing to protect and no stop price exists.
func (c *StopController) Active() bool {
	return c.active
}

// OnEntryFill records a confirmed entry. The fixed stop re-anchors to the new
// average when the config asks for fixed_from_average; fixed_from_entry stays
// pinned to the first fill.
func (c *StopController) OnEntryFill(fillPrice, averageEntry decimal.Decimal) {
	if !c.active {
		c.active = true
		c.firstEntry = fillPrice
	}
	c.averageEntry = averageEntry

	anchor := c.firstEntry
	if c.settings.Type == domain.StopFromAverage {
		anchor = c.averageEntry
	}
	frac := c.settings.Percentage.Div(hundred)
	if c.side == domain.SideLong {
		c.fixedStop = anchor.Mul(one.Sub(frac))
	} else {
		c.fixedStop = anchor.Mul(one.Add(frac))
	}
}

// Update advances every candidate source against the latest tick. tpPrices are
// the current take-profit levels (recomputed against the live average entry)
// and tpFilled is the highest 1-based TP index confirmed filled. Update is
// idempotent: replaying the same tick or fill count can only leave the stop
// where it is, never move it backwards.
func (c *StopController) Update(price decimal.Decimal, tpPrices []decimal.Decimal, tpFilled int) {
	if !c.active {
		return
	}

	if len(tpPrices) >= 1 && c.reached(price, tpPrices[0]) {
		c.tp1Reached = true
	}
	if len(tpPrices) >= 2 && c.reached(price, tpPrices[1]) {
		c.tp2Reached = true
	}

	c.updateTrailing(price)
	c.updateBreakeven(price, tpPrices)
	c.updateMovingBreakeven(price)
	c.updateMovingTarget(tpPrices, tpFilled)
}

func (c *StopController) updateTrailing(price decimal.Decimal) {
	t := c.settings.TrailingStopLoss
	if t == nil || !t.Enabled {
		return
	}
	if !c.trailingArmed && c.triggerMet(t.ActivationLevel, t.ActivationPercentage, price) {
		c.trailingArmed = true
	}
	if !c.trailingArmed {
		return
	}
	// Trail at the base stop distance from the best price since arming.
	frac := c.settings.Percentage.Div(hundred)
	var candidate decimal.Decimal
	if c.side == domain.SideLong {
		candidate = price.Mul(one.Sub(frac))
	} else {
		candidate = price.Mul(one.Add(frac))
	}
	if c.trailingStop.IsZero() || c.tighter(candidate, c.trailingStop) {
		c.trailingStop = candidate
	}
}

func (c *StopController) updateBreakeven(price decimal.Decimal, tpPrices []decimal.Decimal) {
	b := c.settings.Breakeven
	if b == nil || !b.Enabled || c.breakevenArmed {
		return
	}
	if !c.triggerMet(b.ActivateAt, b.ActivateAtPercentage, price) {
		return
	}
	c.breakevenArmed = true
	switch b.MoveTo {
	case domain.TriggerTP1:
		if len(tpPrices) >= 1 {
			c.breakevenStop = tpPrices[0]
		} else {
			c.breakevenStop = c.averageEntry
		}
	case domain.TriggerPercentage:
		// Lock the given profit above (long) or below (short) the average.
		frac := b.MoveToPercentage.Div(hundred)
		if c.side == domain.SideLong {
			c.breakevenStop = c.averageEntry.Mul(one.Add(frac))
		} else {
			c.breakevenStop = c.averageEntry.Mul(one.Sub(frac))
		}
	default: // breakeven
		c.breakevenStop = c.averageEntry
	}
}

func (c *StopController) updateMovingBreakeven(price decimal.Decimal) {
	mb := c.settings.MovingBreakeven
	if mb == nil || !mb.Enabled || c.movingBEArmed {
		return
	}
	if c.triggerMet(mb.TriggerLevel, mb.TriggerPercentage, price) {
		c.movingBEArmed = true
		c.movingBEStop = c.averageEntry
	}
}

// updateMovingTarget maps the highest filled TP index onto a previously-hit
// level: standard walks the stop to TP(k-1) with TP0 meaning breakeven,
// two_level lags one step further behind so TP1 alone causes no move.
func (c *StopController) updateMovingTarget(tpPrices []decimal.Decimal, tpFilled int) {
	var targetIdx int // 0 = breakeven, n = TPn
	switch c.settings.MovingTarget.Type {
	case domain.MovingTargetStandard:
		if tpFilled < 1 {
			return
		}
		targetIdx = tpFilled - 1
	case domain.MovingTargetTwoLevel:
		if tpFilled < 2 {
			return
		}
		targetIdx = tpFilled - 2
	default:
		return
	}

	target := c.averageEntry
	if targetIdx >= 1 && targetIdx <= len(tpPrices) {
		target = tpPrices[targetIdx-1]
	}
	if !c.movingTargetArmed || c.tighter(target, c.movingTargetStop) {
		c.movingTargetArmed = true
		c.movingTargetStop = target
	}
}

// Effective returns the most protective armed stop price and the source that
// set it. ok is false until the first entry fill.
func (c *StopController) Effective() (price decimal.Decimal, reason domain.IntentReason, ok bool) {
	if !c.active {
		return decimal.Zero, "", false
	}
	price, reason = c.fixedStop, domain.ReasonStopFixed
	if c.trailingArmed && c.tighter(c.trailingStop, price) {
		price, reason = c.trailingStop, domain.ReasonStopTrailing
	}
	if c.breakevenArmed && c.tighter(c.breakevenStop, price) {
		price, reason = c.breakevenStop, domain.ReasonStopBreakeven
	}
	if c.movingBEArmed && c.tighter(c.movingBEStop, price) {
		price, reason = c.movingBEStop, domain.ReasonStopBreakeven
	}
	if c.movingTargetArmed && c.tighter(c.movingTargetStop, price) {
		price, reason = c.movingTargetStop, domain.ReasonStopMovingTarget
	}
	return price, reason, true
}

// Triggered reports whether the tick price crosses the effective stop.
func (c *StopController) Triggered(price decimal.Decimal) bool {
	stop, _, ok := c.Effective()
	if !ok {
		return false
	}
	if c.side == domain.SideLong {
		return price.Cmp(stop) <= 0
	}
	return price.Cmp(stop) >= 0
}

// LiquidationPrice estimates where the exchange would force-close the
// position at the configured leverage, assuming isolated margin.
func (c *StopController) LiquidationPrice() decimal.Decimal {
	if !c.active || c.leverage < 1 {
		return decimal.Zero
	}
	span := one.Div(decimal.NewFromInt(int64(c.leverage))).Sub(maintenanceMarginRate)
	if c.side == domain.SideLong {
		return c.averageEntry.Mul(one.Sub(span))
	}
	return c.averageEntry.Mul(one.Add(span))
}

// LiquidationBreached reports whether the effective stop sits on the wrong
// side of the estimated liquidation price, i.e. the exchange would liquidate
// before the stop could fire. The engine must flatten instead of honoring the
// configured stop in that case.
func (c *StopController) LiquidationBreached() bool {
	stop, _, ok := c.Effective()
	if !ok {
		return false
	}
	liq := c.LiquidationPrice()
	if liq.IsZero() {
		return false
	}
	if c.side == domain.SideLong {
		return stop.Cmp(liq) < 0
	}
	return stop.Cmp(liq) > 0
}

// tighter reports whether a is more protective than b for this side: above it
// for longs, below it for shorts.
func (c *StopController) tighter(a, b decimal.Decimal) bool {
	if c.side == domain.SideLong {
		return a.Cmp(b) > 0
	}
	return a.Cmp(b) < 0
}

// reached reports whether price has touched a profit-side level.
func (c *StopController) reached(price, level decimal.Decimal) bool {
	if c.side == domain.SideLong {
		return price.Cmp(level) >= 0
	}
	return price.Cmp(level) <= 0
}

// triggerMet resolves a TriggerLevel condition against the sticky tp flags or
// the current gain percentage.
func (c *StopController) triggerMet(level domain.TriggerLevel, pct, price decimal.Decimal) bool {
	switch level {
	case domain.TriggerTP1:
		return c.tp1Reached
	case domain.TriggerTP2:
		return c.tp2Reached
	case domain.TriggerPercentage:
		if c.averageEntry.IsZero() {
			return false
		}
		var gain decimal.Decimal
		if c.side == domain.SideLong {
			gain = price.Sub(c.averageEntry).Div(c.averageEntry).Mul(hundred)
		} else {
			gain = c.averageEntry.Sub(price).Div(c.averageEntry).Mul(hundred)
		}
		return gain.Cmp(pct) >= 0
	default:
		return false
	}
}
