package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// All percentage-valued fields in a strategy config are expressed in percent
// units (1.0 means 1%). Amount distributions are percent of the total position
// size and must sum to 100.

type EntryType string

const (
	EntrySingle   EntryType = "single"
	EntryMultiple EntryType = "multiple"
)

type SpacingMode string

const (
	SpacingManual          SpacingMode = "manual"
	SpacingFixedPercentage SpacingMode = "fixed_percentage"
	SpacingMultiplier      SpacingMode = "percentage_multiplier"
)

type AmountMode string

const (
	AmountsEvenly AmountMode = "evenly"
	AmountsManual AmountMode = "manual"
)

type StopLossType string

const (
	StopFromEntry   StopLossType = "fixed_from_entry"
	StopFromAverage StopLossType = "fixed_from_average"
)

type MovingTargetType string

const (
	MovingTargetNone     MovingTargetType = "none"
	MovingTargetStandard MovingTargetType = "standard"
	MovingTargetTwoLevel MovingTargetType = "two_level"
)

// TriggerLevel selects what arms a stop tightening rule: a ladder milestone
// ("tp1", "tp2", "breakeven") or "percentage" paired with a percent value.
type TriggerLevel string

const (
	TriggerTP1        TriggerLevel = "tp1"
	TriggerTP2        TriggerLevel = "tp2"
	TriggerBreakeven  TriggerLevel = "breakeven"
	TriggerPercentage TriggerLevel = "percentage"
)

// Spacing is the tagged union behind entrySpacing / tpSpacing. Exactly one
// variant is populated, selected by Mode.
type Spacing struct {
	Mode            SpacingMode
	Manual          []decimal.Decimal // percent gap between consecutive levels, len = count-1
	FixedPercentage decimal.Decimal
	Base            decimal.Decimal
	Multiplier      decimal.Decimal
}

func (s *Spacing) UnmarshalJSON(data []byte) error {
	var raw struct {
		Type            SpacingMode       `json:"type"`
		Manual          []decimal.Decimal `json:"manual"`
		FixedPercentage decimal.Decimal   `json:"fixedPercentage"`
		Base            decimal.Decimal   `json:"base"`
		Multiplier      decimal.Decimal   `json:"multiplier"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	s.Mode = raw.Type
	s.Manual = raw.Manual
	s.FixedPercentage = raw.FixedPercentage
	s.Base = raw.Base
	s.Multiplier = raw.Multiplier
	return nil
}

func (s Spacing) MarshalJSON() ([]byte, error) {
	out := map[string]any{"type": s.Mode}
	switch s.Mode {
	case SpacingManual:
		out["manual"] = s.Manual
	case SpacingFixedPercentage:
		out["fixedPercentage"] = s.FixedPercentage
	case SpacingMultiplier:
		out["base"] = s.Base
		out["multiplier"] = s.Multiplier
	}
	return json.Marshal(out)
}

// Amounts is the tagged union behind entryAmounts / tpAmounts.
type Amounts struct {
	Mode   AmountMode
	Manual []decimal.Decimal // percent of total size per level, must sum to 100
}

func (a *Amounts) UnmarshalJSON(data []byte) error {
	var raw struct {
		Type   AmountMode        `json:"type"`
		Manual []decimal.Decimal `json:"manual"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	a.Mode = raw.Type
	a.Manual = raw.Manual
	return nil
}

func (a Amounts) MarshalJSON() ([]byte, error) {
	out := map[string]any{"type": a.Mode}
	if a.Mode == AmountsManual {
		out["manual"] = a.Manual
	}
	return json.Marshal(out)
}

// Trailing turns a static ladder level into a trailing trigger at the given
// percent distance from the best price seen since arming.
type Trailing struct {
	Enabled    bool            `json:"enabled"`
	Percentage decimal.Decimal `json:"percentage"`
}

type EntrySettings struct {
	Type            EntryType `json:"type"`
	NumberOfEntries int       `json:"numberOfEntries"`
	EntrySpacing    Spacing   `json:"entrySpacing"`
	EntryAmounts    Amounts   `json:"entryAmounts"`
	TrailingEntry   *Trailing `json:"trailingEntry,omitempty"`
}

type TakeProfitSettings struct {
	Type        EntryType `json:"type"`
	NumberOfTPs int       `json:"numberOfTPs"`
	TPSpacing   Spacing   `json:"tpSpacing"`
	TPAmounts   Amounts   `json:"tpAmounts"`
	TrailingTP  *Trailing `json:"trailingTP,omitempty"`
}

type TrailingStopLoss struct {
	Enabled              bool            `json:"enabled"`
	ActivationLevel      TriggerLevel    `json:"activationLevel"`
	ActivationPercentage decimal.Decimal `json:"activationPercentage,omitempty"`
}

// Breakeven moves the stop to MoveTo once ActivateAt is met. MoveTo is
// "breakeven", "tp1" or "percentage" (profit locked above average entry).
type Breakeven struct {
	Enabled              bool            `json:"enabled"`
	MoveTo               TriggerLevel    `json:"moveTo"`
	MoveToPercentage     decimal.Decimal `json:"moveToPercentage,omitempty"`
	ActivateAt           TriggerLevel    `json:"activateAt"`
	ActivateAtPercentage decimal.Decimal `json:"activateAtPercentage,omitempty"`
}

type MovingTarget struct {
	Type MovingTargetType `json:"type"`
}

type MovingBreakeven struct {
	Enabled           bool            `json:"enabled"`
	TriggerLevel      TriggerLevel    `json:"triggerLevel"`
	TriggerPercentage decimal.Decimal `json:"triggerPercentage,omitempty"`
}

type StopLossSettings struct {
	Type             StopLossType      `json:"type"`
	Percentage       decimal.Decimal   `json:"percentage"`
	TrailingStopLoss *TrailingStopLoss `json:"trailingStopLoss,omitempty"`
	Breakeven        *Breakeven        `json:"breakeven,omitempty"`
	MovingTarget     MovingTarget      `json:"movingTarget"`
	MovingBreakeven  *MovingBreakeven  `json:"movingBreakeven,omitempty"`
}

// StrategyConfig is the behavioral contract produced by the strategy builder.
// It is immutable once accepted by the validator.
type StrategyConfig struct {
	AccountID          string             `json:"accountId"`
	CoinPair           string             `json:"coinPair"`
	AmountType         string             `json:"amountType"`
	Leverage           int                `json:"leverage"`
	MarginType         string             `json:"marginType"` // "isolated" or "cross"
	EntrySettings      EntrySettings      `json:"entrySettings"`
	TakeProfitSettings TakeProfitSettings `json:"takeProfitSettings"`
	StopLossSettings   StopLossSettings   `json:"stopLossSettings"`
}

// StoredStrategy is the export wrapper persisted by the builder. The engine
// only ever consumes the validated Config field; BacktestResults is carried
// through as an opaque blob.
type StoredStrategy struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	CoinPair        string          `json:"coinPair"`
	Config          StrategyConfig  `json:"config"`
	Created         time.Time       `json:"created"`
	BacktestResults json.RawMessage `json:"backtest_results,omitempty"`
}
