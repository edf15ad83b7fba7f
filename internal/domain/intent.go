package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type IntentKind string

const (
	IntentPlace  IntentKind = "PLACE"
	IntentCancel IntentKind = "CANCEL"
	IntentModify IntentKind = "MODIFY"
)

type IntentReason string

const (
	ReasonEntryLadder      IntentReason = "ENTRY_LADDER"
	ReasonTPLadder         IntentReason = "TP_LADDER"
	ReasonStopFixed        IntentReason = "STOP_FIXED"
	ReasonStopTrailing     IntentReason = "STOP_TRAILING"
	ReasonStopBreakeven    IntentReason = "STOP_BREAKEVEN"
	ReasonStopMovingTarget IntentReason = "STOP_MOVING_TARGET"
	ReasonManualCancel     IntentReason = "MANUAL_CANCEL"
	ReasonLiquidationGuard IntentReason = "LIQUIDATION_GUARD"
)

// OrderIntent is the engine's instruction to the external order router.
type OrderIntent struct {
	PositionID  string          `json:"positionId"`
	Kind        IntentKind      `json:"kind"`
	Side        Side            `json:"side"`
	Price       decimal.Decimal `json:"price"` // zero for market-close intents
	Quantity    decimal.Decimal `json:"quantity"`
	LadderIndex int             `json:"ladderIndex"`
	Reason      IntentReason    `json:"reason"`
}

// Market reports whether the intent should execute at market, ignoring Price.
func (i OrderIntent) Market() bool {
	return i.Reason == ReasonLiquidationGuard
}

// PriceTick is one observation from the price feed.
type PriceTick struct {
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
}

// ExecutionReport is the router's terminal answer to one OrderIntent: either
// a fill or a rejection.
type ExecutionReport struct {
	PositionID string
	Fill       *Fill
	Reject     *OrderRejected
}
