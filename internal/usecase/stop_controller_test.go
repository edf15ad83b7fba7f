package usecase_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitos/crypto_position_engine/internal/domain"
	"github.com/vitos/crypto_position_engine/internal/usecase"
)

var testTPs = []decimal.Decimal{d("102"), d("103"), d("104.5")}

func TestStopController_InactiveBeforeFirstFill(t *testing.T) {
	c := usecase.NewStopController(domain.StopLossSettings{
		Type:       domain.StopFromAverage,
		Percentage: decimal.NewFromInt(5),
	}, domain.SideLong, 10)

	_, _, ok := c.Effective()
	assert.False(t, ok)
	assert.False(t, c.Triggered(d("1")))
}

func TestStopController_FixedFromEntryStaysPinned(t *testing.T) {
	c := usecase.NewStopController(domain.StopLossSettings{
		Type:       domain.StopFromEntry,
		Percentage: decimal.NewFromInt(5),
	}, domain.SideLong, 10)

	c.OnEntryFill(d("100"), d("100"))
	stop, reason, ok := c.Effective()
	require.True(t, ok)
	assert.Equal(t, domain.ReasonStopFixed, reason)
	assert.True(t, stop.Equal(d("95")), "got %s", stop)

	// A second entry moves the average but not the first-entry anchor.
	c.OnEntryFill(d("98"), d("99"))
	stop, _, _ = c.Effective()
	assert.True(t, stop.Equal(d("95")), "got %s", stop)
}

func TestStopController_FixedFromAverageReanchors(t *testing.T) {
	c := usecase.NewStopController(domain.StopLossSettings{
		Type:       domain.StopFromAverage,
		Percentage: decimal.NewFromInt(5),
	}, domain.SideLong, 10)

	c.OnEntryFill(d("100"), d("100"))
	c.OnEntryFill(d("98"), d("99"))
	stop, _, _ := c.Effective()
	assert.True(t, stop.Equal(d("94.05")), "got %s", stop)
}

func TestStopController_MovingTargetStandard(t *testing.T) {
	c := usecase.NewStopController(domain.StopLossSettings{
		Type:         domain.StopFromAverage,
		Percentage:   decimal.NewFromInt(5),
		MovingTarget: domain.MovingTarget{Type: domain.MovingTargetStandard},
	}, domain.SideLong, 10)
	c.OnEntryFill(d("100"), d("100"))

	// TP1 filled: stop moves to breakeven (average entry).
	c.Update(d("102"), testTPs, 1)
	stop, reason, _ := c.Effective()
	assert.Equal(t, domain.ReasonStopMovingTarget, reason)
	assert.True(t, stop.Equal(d("100")), "got %s", stop)

	// TP2 filled: stop moves to TP1's price exactly, not TP2's.
	c.Update(d("103"), testTPs, 2)
	stop, _, _ = c.Effective()
	assert.True(t, stop.Equal(d("102")), "got %s", stop)
}

func TestStopController_MovingTargetTwoLevel(t *testing.T) {
	c := usecase.NewStopController(domain.StopLossSettings{
		Type:         domain.StopFromAverage,
		Percentage:   decimal.NewFromInt(5),
		MovingTarget: domain.MovingTarget{Type: domain.MovingTargetTwoLevel},
	}, domain.SideLong, 10)
	c.OnEntryFill(d("100"), d("100"))

	// TP1 alone causes no move: fixed stop stays effective.
	c.Update(d("102"), testTPs, 1)
	stop, reason, _ := c.Effective()
	assert.Equal(t, domain.ReasonStopFixed, reason)
	assert.True(t, stop.Equal(d("95")), "got %s", stop)

	// TP2 filled: stop moves to breakeven only.
	c.Update(d("103"), testTPs, 2)
	stop, _, _ = c.Effective()
	assert.True(t, stop.Equal(d("100")), "got %s", stop)

	// TP3 filled: stop moves to TP1.
	c.Update(d("104.5"), testTPs, 3)
	stop, _, _ = c.Effective()
	assert.True(t, stop.Equal(d("102")), "got %s", stop)
}

func TestStopController_MovingTargetIdempotentUnderReplay(t *testing.T) {
	c := usecase.NewStopController(domain.StopLossSettings{
		Type:         domain.StopFromAverage,
		Percentage:   decimal.NewFromInt(5),
		MovingTarget: domain.MovingTarget{Type: domain.MovingTargetStandard},
	}, domain.SideLong, 10)
	c.OnEntryFill(d("100"), d("100"))

	c.Update(d("103"), testTPs, 2)
	stop1, _, _ := c.Effective()

	// Replayed ticks with the same fill count change nothing.
	c.Update(d("103"), testTPs, 2)
	c.Update(d("101"), testTPs, 2)
	stop2, _, _ := c.Effective()
	assert.True(t, stop1.Equal(stop2))
}

func TestStopController_BreakevenNeverLoosens(t *testing.T) {
	c := usecase.NewStopController(domain.StopLossSettings{
		Type:       domain.StopFromAverage,
		Percentage: decimal.NewFromInt(5),
		Breakeven: &domain.Breakeven{
			Enabled:    true,
			MoveTo:     domain.TriggerBreakeven,
			ActivateAt: domain.TriggerTP1,
		},
	}, domain.SideLong, 10)
	c.OnEntryFill(d("100"), d("100"))

	// Price touches TP1: breakeven arms and snaps to the average entry.
	c.Update(d("102"), testTPs, 0)
	stop, reason, _ := c.Effective()
	assert.Equal(t, domain.ReasonStopBreakeven, reason)
	assert.True(t, stop.Equal(d("100")), "got %s", stop)

	// Averaging down afterwards implies a looser fixed stop; breakeven holds.
	c.OnEntryFill(d("96"), d("98"))
	c.Update(d("97"), testTPs, 0)
	stop, reason, _ = c.Effective()
	assert.Equal(t, domain.ReasonStopBreakeven, reason)
	assert.True(t, stop.Equal(d("100")), "got %s", stop)
}

func TestStopController_BreakevenMoveToPercentageLocksProfit(t *testing.T) {
	c := usecase.NewStopController(domain.StopLossSettings{
		Type:       domain.StopFromAverage,
		Percentage: decimal.NewFromInt(5),
		Breakeven: &domain.Breakeven{
			Enabled:              true,
			MoveTo:               domain.TriggerPercentage,
			MoveToPercentage:     decimal.NewFromInt(1),
			ActivateAt:           domain.TriggerPercentage,
			ActivateAtPercentage: decimal.NewFromInt(3),
		},
	}, domain.SideLong, 10)
	c.OnEntryFill(d("100"), d("100"))

	// 2% gain: not armed yet.
	c.Update(d("102"), testTPs, 0)
	stop, _, _ := c.Effective()
	assert.True(t, stop.Equal(d("95")), "got %s", stop)

	// 3% gain: armed, stop locks +1%.
	c.Update(d("103"), testTPs, 0)
	stop, _, _ = c.Effective()
	assert.True(t, stop.Equal(d("101")), "got %s", stop)
}

func TestStopController_TrailingArmsAndRatchets(t *testing.T) {
	c := usecase.NewStopController(domain.StopLossSettings{
		Type:       domain.StopFromAverage,
		Percentage: decimal.NewFromInt(2),
		TrailingStopLoss: &domain.TrailingStopLoss{
			Enabled:         true,
			ActivationLevel: domain.TriggerTP1,
		},
	}, domain.SideLong, 10)
	c.OnEntryFill(d("100"), d("100"))

	// Below TP1: trailing not armed, fixed stop rules.
	c.Update(d("101"), testTPs, 0)
	stop, reason, _ := c.Effective()
	assert.Equal(t, domain.ReasonStopFixed, reason)
	assert.True(t, stop.Equal(d("98")), "got %s", stop)

	// TP1 touched: trailing arms 2% under the price.
	c.Update(d("102"), testTPs, 0)
	stop, reason, _ = c.Effective()
	assert.Equal(t, domain.ReasonStopTrailing, reason)
	assert.True(t, stop.Equal(d("99.96")), "got %s", stop)

	// Higher price ratchets the trail up...
	c.Update(d("105"), testTPs, 0)
	stop, _, _ = c.Effective()
	assert.True(t, stop.Equal(d("102.9")), "got %s", stop)

	// ...and a pullback never loosens it.
	c.Update(d("103"), testTPs, 0)
	stop, _, _ = c.Effective()
	assert.True(t, stop.Equal(d("102.9")), "got %s", stop)
}

func TestStopController_MovingBreakevenComposesMostProtective(t *testing.T) {
	c := usecase.NewStopController(domain.StopLossSettings{
		Type:         domain.StopFromAverage,
		Percentage:   decimal.NewFromInt(5),
		MovingTarget: domain.MovingTarget{Type: domain.MovingTargetStandard},
		MovingBreakeven: &domain.MovingBreakeven{
			Enabled:      true,
			TriggerLevel: domain.TriggerTP1,
		},
	}, domain.SideLong, 10)
	c.OnEntryFill(d("100"), d("100"))

	// TP1 touched and TP2 filled: moving breakeven says 100, moving target
	// says 102. Most protective wins.
	c.Update(d("103"), testTPs, 2)
	stop, reason, _ := c.Effective()
	assert.Equal(t, domain.ReasonStopMovingTarget, reason)
	assert.True(t, stop.Equal(d("102")), "got %s", stop)
}

func TestStopController_ShortDirection(t *testing.T) {
	c := usecase.NewStopController(domain.StopLossSettings{
		Type:       domain.StopFromAverage,
		Percentage: decimal.NewFromInt(5),
	}, domain.SideShort, 10)
	c.OnEntryFill(d("100"), d("100"))

	stop, _, _ := c.Effective()
	assert.True(t, stop.Equal(d("105")), "short stop sits above entry, got %s", stop)
	assert.False(t, c.Triggered(d("104")))
	assert.True(t, c.Triggered(d("105")))
}

func TestStopController_LiquidationGuard(t *testing.T) {
	// 10x long: liquidation near entry*(1 - 0.1 + 0.004) = 90.4.
	c := usecase.NewStopController(domain.StopLossSettings{
		Type:       domain.StopFromAverage,
		Percentage: decimal.NewFromInt(5),
	}, domain.SideLong, 10)
	c.OnEntryFill(d("100"), d("100"))

	assert.True(t, c.LiquidationPrice().Equal(d("90.4")), "got %s", c.LiquidationPrice())
	assert.False(t, c.LiquidationBreached(), "a 5%% stop is inside a 10x liquidation band")

	// 50x long: liquidation at 100*(1 - 0.02 + 0.004) = 98.4, the configured
	// 5% stop can never fire first.
	tight := usecase.NewStopController(domain.StopLossSettings{
		Type:       domain.StopFromAverage,
		Percentage: decimal.NewFromInt(5),
	}, domain.SideLong, 50)
	tight.OnEntryFill(d("100"), d("100"))
	assert.True(t, tight.LiquidationBreached())
}
