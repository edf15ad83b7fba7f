package usecase

import (
	"github.com/shopspring/decimal"

	"github.com/vitos/crypto_position_engine/internal/domain"
)

// quantityScale is the number of decimal places quantity slices are quantized
// to. The rounding remainder is folded into the first slice so the slices
// always sum to the total exactly.
const quantityScale = 2

var (
	one     = decimal.NewFromInt(1)
	hundred = decimal.NewFromInt(100)
)

// LadderLevel is one rung of an entry or take-profit ladder.
type LadderLevel struct {
	Index    int
	Price    decimal.Decimal
	Quantity decimal.Decimal
}

// spacingOffsets resolves a Spacing union into percent offsets from the
// reference price, one per level. The mode is dispatched here once, at ladder
// construction, never per tick.
func spacingOffsets(spacing domain.Spacing, count int) []decimal.Decimal {
	offsets := make([]decimal.Decimal, count)
	switch spacing.Mode {
	case domain.SpacingFixedPercentage:
		// Level i sits i steps away: offsets 0, p, 2p, ...
		for i := 0; i < count; i++ {
			offsets[i] = spacing.FixedPercentage.Mul(decimal.NewFromInt(int64(i)))
		}
	case domain.SpacingMultiplier:
		// Geometric ladder: offset at level i is base * mult^i.
		step := spacing.Base
		for i := 0; i < count; i++ {
			offsets[i] = step
			step = step.Mul(spacing.Multiplier)
		}
	case domain.SpacingManual:
		// Manual gaps between consecutive levels, accumulated from the reference.
		cum := decimal.Zero
		for i := 0; i < count; i++ {
			offsets[i] = cum
			if i < len(spacing.Manual) {
				cum = cum.Add(spacing.Manual[i])
			}
		}
	}
	return offsets
}

// offsetPrice applies a percent offset to a reference price, away in the given
// direction: entries ladder against the move (long entries below the
// reference), exits ladder with it.
func offsetPrice(ref, offsetPct decimal.Decimal, side domain.Side, towardProfit bool) decimal.Decimal {
	frac := offsetPct.Div(hundred)
	up := (side == domain.SideLong) == towardProfit
	if up {
		return ref.Mul(one.Add(frac))
	}
	return ref.Mul(one.Sub(frac))
}

// splitQuantity resolves an Amounts union into per-level quantity slices that
// sum to total exactly. Slices are truncated to quantityScale and the lost
// remainder is assigned to the first slice.
func splitQuantity(amounts domain.Amounts, total decimal.Decimal, count int) []decimal.Decimal {
	slices := make([]decimal.Decimal, count)
	switch amounts.Mode {
	case domain.AmountsManual:
		for i := 0; i < count && i < len(amounts.Manual); i++ {
			slices[i] = total.Mul(amounts.Manual[i]).Div(hundred).Truncate(quantityScale)
		}
	default: // evenly
		each := total.Div(decimal.NewFromInt(int64(count))).Truncate(quantityScale)
		for i := 0; i < count; i++ {
			slices[i] = each
		}
	}

	allocated := decimal.Zero
	for _, s := range slices {
		allocated = allocated.Add(s)
	}
	slices[0] = slices[0].Add(total.Sub(allocated))
	return slices
}
