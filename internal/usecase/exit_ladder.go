package usecase

import (
	"github.com/shopspring/decimal"

	"github.com/vitos/crypto_position_engine/internal/domain"
)

// ExitLadder derives take-profit levels relative to the average entry price.
// Because averaging shifts as entries fill, prices are recomputed from the
// current average on demand instead of being frozen at arm time.
type ExitLadder struct {
	side     domain.Side
	offsets  []decimal.Decimal
	slices   []decimal.Decimal
	trailing *domain.Trailing
}

func NewExitLadder(settings domain.TakeProfitSettings, side domain.Side, totalSize decimal.Decimal) *ExitLadder {
	count := settings.NumberOfTPs
	return &ExitLadder{
		side:     side,
		offsets:  spacingOffsets(settings.TPSpacing, count),
		slices:   splitQuantity(settings.TPAmounts, totalSize, count),
		trailing: settings.TrailingTP,
	}
}

// Levels returns the ladder computed against the given average entry price,
// ordered nearest first. Slice quantities are the planned amounts; the caller
// caps them to the quantity actually filled.
func (l *ExitLadder) Levels(averageEntry decimal.Decimal) []LadderLevel {
	levels := make([]LadderLevel, len(l.offsets))
	for i := range l.offsets {
		levels[i] = LadderLevel{
			Index:    i,
			Price:    offsetPrice(averageEntry, l.offsets[i], l.side, true),
			Quantity: l.slices[i],
		}
	}
	return levels
}

// Price returns the level-i target for the given average entry.
func (l *ExitLadder) Price(averageEntry decimal.Decimal, i int) decimal.Decimal {
	return offsetPrice(averageEntry, l.offsets[i], l.side, true)
}

// Quantity returns the planned slice for level i.
func (l *ExitLadder) Quantity(i int) decimal.Decimal {
	return l.slices[i]
}

// Len returns the number of ladder levels.
func (l *ExitLadder) Len() int {
	return len(l.offsets)
}

// TrailingEnabled reports whether the next unfilled level trails once armed.
func (l *ExitLadder) TrailingEnabled() bool {
	return l.trailing != nil && l.trailing.Enabled
}

// ArmPrice returns the price that arms the trailing trigger for level i: the
// static price of the previous level, or the level's own price for the first.
// A trailing TP that is never armed never fires, even if price reverses.
func (l *ExitLadder) ArmPrice(averageEntry decimal.Decimal, i int) decimal.Decimal {
	if i == 0 {
		return l.Price(averageEntry, 0)
	}
	return l.Price(averageEntry, i-1)
}

// TrailingTrigger returns the exit trigger given the best price seen since
// arming. Long exits give back the trailing percentage from the high, short
// exits from the low.
func (l *ExitLadder) TrailingTrigger(best decimal.Decimal) decimal.Decimal {
	frac := l.trailing.Percentage.Div(hundred)
	if l.side == domain.SideLong {
		return best.Mul(one.Sub(frac))
	}
	return best.Mul(one.Add(frac))
}

// Triggered reports whether a tick price reaches the static level i.
func (l *ExitLadder) Triggered(averageEntry decimal.Decimal, i int, price decimal.Decimal) bool {
	if l.side == domain.SideLong {
		return price.Cmp(l.Price(averageEntry, i)) >= 0
	}
	return price.Cmp(l.Price(averageEntry, i)) <= 0
}
