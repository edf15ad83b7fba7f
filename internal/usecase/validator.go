package usecase

import (
	"fmt"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/vitos/crypto_position_engine/internal/domain"
)

const (
	maxLeverage    = 125
	maxLadderSteps = 10
)

// amountEpsilon is the tolerance when checking that a manual distribution
// sums to 100%.
var amountEpsilon = decimal.NewFromFloat(0.01)

var maxStopLossPct = decimal.NewFromInt(50)

// ConfigValidator checks a StrategyConfig for internal consistency before it
// is armed. Validation is pure: it collects every violation and never mutates
// or partially accepts the config.
type ConfigValidator struct{}

func NewConfigValidator() *ConfigValidator {
	return &ConfigValidator{}
}

// Validate returns nil when the config is acceptable, otherwise the full list
// of violations.
func (v *ConfigValidator) Validate(cfg *domain.StrategyConfig) domain.ValidationErrors {
	var errs domain.ValidationErrors

	add := func(field, rule, format string, args ...any) {
		errs = append(errs, domain.ValidationError{
			Field:   field,
			Rule:    rule,
			Message: fmt.Sprintf(format, args...),
		})
	}

	if cfg.CoinPair == "" {
		add("coinPair", "required", "coin pair must be set")
	}
	if cfg.Leverage < 1 || cfg.Leverage > maxLeverage {
		add("leverage", "range", "leverage %d outside [1, %d]", cfg.Leverage, maxLeverage)
	}
	if cfg.MarginType != "isolated" && cfg.MarginType != "cross" {
		add("marginType", "enum", "margin type %q is not isolated or cross", cfg.MarginType)
	}

	v.validateLadder(&errs, "entrySettings", ladderSpec{
		kind:     cfg.EntrySettings.Type,
		count:    cfg.EntrySettings.NumberOfEntries,
		countKey: "numberOfEntries",
		spacing:  cfg.EntrySettings.EntrySpacing,
		amounts:  cfg.EntrySettings.EntryAmounts,
		trailing: cfg.EntrySettings.TrailingEntry,
	})
	v.validateLadder(&errs, "takeProfitSettings", ladderSpec{
		kind:     cfg.TakeProfitSettings.Type,
		count:    cfg.TakeProfitSettings.NumberOfTPs,
		countKey: "numberOfTPs",
		spacing:  cfg.TakeProfitSettings.TPSpacing,
		amounts:  cfg.TakeProfitSettings.TPAmounts,
		trailing: cfg.TakeProfitSettings.TrailingTP,
	})
	v.validateStopLoss(&errs, cfg)

	if len(errs) == 0 {
		return nil
	}
	return errs
}

type ladderSpec struct {
	kind     domain.EntryType
	count    int
	countKey string
	spacing  domain.Spacing
	amounts  domain.Amounts
	trailing *domain.Trailing
}

func (v *ConfigValidator) validateLadder(errs *domain.ValidationErrors, field string, spec ladderSpec) {
	add := func(sub, rule, format string, args ...any) {
		*errs = append(*errs, domain.ValidationError{
			Field:   field + "." + sub,
			Rule:    rule,
			Message: fmt.Sprintf(format, args...),
		})
	}

	switch spec.kind {
	case domain.EntrySingle:
		if spec.count != 1 {
			add(spec.countKey, "consistency", "type is single but count is %d", spec.count)
		}
	case domain.EntryMultiple:
		if spec.count < 1 || spec.count > maxLadderSteps {
			add(spec.countKey, "range", "count %d outside [1, %d]", spec.count, maxLadderSteps)
		}
	default:
		add("type", "enum", "unknown ladder type %q", spec.kind)
	}
	if spec.count < 1 || spec.count > maxLadderSteps {
		// Already reported above; the checks below assume a sane count.
		return
	}

	switch spec.spacing.Mode {
	case domain.SpacingManual:
		if len(spec.spacing.Manual) != spec.count-1 {
			add("spacing.manual", "length", "manual spacing needs exactly %d elements, got %d",
				spec.count-1, len(spec.spacing.Manual))
		}
		for i, gap := range spec.spacing.Manual {
			if gap.Sign() <= 0 {
				add("spacing.manual", "monotonic", "gap %d must be positive to keep levels strictly widening, got %s",
					i, gap)
			}
		}
	case domain.SpacingFixedPercentage:
		if spec.count > 1 && spec.spacing.FixedPercentage.Sign() <= 0 {
			add("spacing.fixedPercentage", "positive", "fixed spacing must be positive, got %s",
				spec.spacing.FixedPercentage)
		}
	case domain.SpacingMultiplier:
		if spec.spacing.Base.Sign() <= 0 {
			add("spacing.base", "positive", "multiplier base must be positive, got %s", spec.spacing.Base)
		}
		if spec.spacing.Multiplier.Cmp(decimal.NewFromInt(1)) < 0 {
			add("spacing.multiplier", "range", "multiplier must be >= 1, got %s", spec.spacing.Multiplier)
		}
	default:
		add("spacing.type", "enum", "unknown spacing mode %q", spec.spacing.Mode)
	}

	switch spec.amounts.Mode {
	case domain.AmountsEvenly:
		// Nothing to check.
	case domain.AmountsManual:
		if len(spec.amounts.Manual) != spec.count {
			add("amounts.manual", "length", "manual amounts need exactly %d elements, got %d",
				spec.count, len(spec.amounts.Manual))
			break
		}
		if bad := lo.CountBy(spec.amounts.Manual, func(d decimal.Decimal) bool { return d.Sign() <= 0 }); bad > 0 {
			add("amounts.manual", "positive", "%d amount slice(s) are not positive", bad)
		}
		sum := lo.Reduce(spec.amounts.Manual, func(acc, d decimal.Decimal, _ int) decimal.Decimal {
			return acc.Add(d)
		}, decimal.Zero)
		if sum.Sub(decimal.NewFromInt(100)).Abs().Cmp(amountEpsilon) > 0 {
			add("amounts.manual", "sum", "manual amounts must sum to 100%%, got %s%%", sum)
		}
	default:
		add("amounts.type", "enum", "unknown amount mode %q", spec.amounts.Mode)
	}

	if spec.trailing != nil && spec.trailing.Enabled && spec.trailing.Percentage.Sign() <= 0 {
		add("trailing.percentage", "positive", "trailing percentage must be positive, got %s",
			spec.trailing.Percentage)
	}
}

func (v *ConfigValidator) validateStopLoss(errs *domain.ValidationErrors, cfg *domain.StrategyConfig) {
	sl := cfg.StopLossSettings
	numTPs := cfg.TakeProfitSettings.NumberOfTPs

	add := func(sub, rule, format string, args ...any) {
		*errs = append(*errs, domain.ValidationError{
			Field:   "stopLossSettings." + sub,
			Rule:    rule,
			Message: fmt.Sprintf(format, args...),
		})
	}

	if sl.Type != domain.StopFromEntry && sl.Type != domain.StopFromAverage {
		add("type", "enum", "unknown stop loss type %q", sl.Type)
	}
	if sl.Percentage.Sign() <= 0 || sl.Percentage.Cmp(maxStopLossPct) > 0 {
		add("percentage", "range", "stop loss percentage %s outside (0, 50]", sl.Percentage)
	}

	// Any rule whose trigger references TPk needs at least k configured TPs.
	checkTrigger := func(sub string, level domain.TriggerLevel, pct decimal.Decimal, allowBreakeven bool) {
		switch level {
		case domain.TriggerTP1:
			if numTPs < 1 {
				add(sub, "consistency", "references tp1 but no take profits are configured")
			}
		case domain.TriggerTP2:
			if numTPs < 2 {
				add(sub, "consistency", "references tp2 but only %d take profit(s) configured", numTPs)
			}
		case domain.TriggerPercentage:
			if pct.Sign() <= 0 {
				add(sub, "positive", "percentage trigger requires a positive percentage, got %s", pct)
			}
		case domain.TriggerBreakeven:
			if !allowBreakeven {
				add(sub, "enum", "breakeven is not a valid trigger here")
			}
		default:
			add(sub, "enum", "unknown trigger level %q", level)
		}
	}

	if t := sl.TrailingStopLoss; t != nil && t.Enabled {
		checkTrigger("trailingStopLoss.activationLevel", t.ActivationLevel, t.ActivationPercentage, false)
	}
	if b := sl.Breakeven; b != nil && b.Enabled {
		checkTrigger("breakeven.activateAt", b.ActivateAt, b.ActivateAtPercentage, false)
		checkTrigger("breakeven.moveTo", b.MoveTo, b.MoveToPercentage, true)
	}
	if mb := sl.MovingBreakeven; mb != nil && mb.Enabled {
		checkTrigger("movingBreakeven.triggerLevel", mb.TriggerLevel, mb.TriggerPercentage, false)
	}

	switch sl.MovingTarget.Type {
	case domain.MovingTargetNone:
	case domain.MovingTargetStandard:
		if numTPs < 1 {
			add("movingTarget.type", "consistency", "standard moving target requires at least one take profit")
		}
	case domain.MovingTargetTwoLevel:
		if numTPs < 2 {
			add("movingTarget.type", "consistency", "two_level moving target requires at least 2 take profits, got %d", numTPs)
		}
	default:
		add("movingTarget.type", "enum", "unknown moving target type %q", sl.MovingTarget.Type)
	}
}
