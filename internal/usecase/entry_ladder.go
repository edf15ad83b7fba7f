package usecase

import (
	"github.com/shopspring/decimal"

	"github.com/vitos/crypto_position_engine/internal/domain"
)

// EntryLadder derives the concrete entry levels for one position. Prices are
// anchored to the reference price captured at arm time and do not move
// afterwards; only a trailing entry trigger is recomputed per tick.
type EntryLadder struct {
	side     domain.Side
	levels   []LadderLevel
	trailing *domain.Trailing
}

func NewEntryLadder(settings domain.EntrySettings, side domain.Side, referencePrice, totalSize decimal.Decimal) *EntryLadder {
	count := settings.NumberOfEntries
	offsets := spacingOffsets(settings.EntrySpacing, count)
	slices := splitQuantity(settings.EntryAmounts, totalSize, count)

	levels := make([]LadderLevel, count)
	for i := 0; i < count; i++ {
		levels[i] = LadderLevel{
			Index:    i,
			Price:    offsetPrice(referencePrice, offsets[i], side, false),
			Quantity: slices[i],
		}
	}
	return &EntryLadder{side: side, levels: levels, trailing: settings.TrailingEntry}
}

// Levels returns the static ladder, ordered nearest first.
func (l *EntryLadder) Levels() []LadderLevel {
	return l.levels
}

// Level returns the ladder rung at index i.
func (l *EntryLadder) Level(i int) LadderLevel {
	return l.levels[i]
}

// TrailingEnabled reports whether the next unfilled level trails instead of
// resting at its static price.
func (l *EntryLadder) TrailingEnabled() bool {
	return l.trailing != nil && l.trailing.Enabled
}

// TrailingTrigger returns the trailing entry trigger given the best price seen
// since the previous entry filled. Long entries chase the low back up, short
// entries chase the high back down.
func (l *EntryLadder) TrailingTrigger(best decimal.Decimal) decimal.Decimal {
	frac := l.trailing.Percentage.Div(hundred)
	if l.side == domain.SideLong {
		return best.Mul(one.Add(frac))
	}
	return best.Mul(one.Sub(frac))
}

// Triggered reports whether a tick price crosses the static level i.
func (l *EntryLadder) Triggered(i int, price decimal.Decimal) bool {
	if l.side == domain.SideLong {
		return price.Cmp(l.levels[i].Price) <= 0
	}
	return price.Cmp(l.levels[i].Price) >= 0
}
