package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ValidationError pinpoints a single config violation.
type ValidationError struct {
	Field   string
	Rule    string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (%s)", e.Field, e.Message, e.Rule)
}

// ValidationErrors is the full set of violations found in one config. A config
// is never partially accepted: any non-empty set rejects it whole.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, len(e))
	for i, v := range e {
		msgs[i] = v.Error()
	}
	return "invalid strategy config: " + strings.Join(msgs, "; ")
}

// RejectReason classifies exchange-side rejections relayed by the router.
type RejectReason string

const (
	RejectPriceMoved         RejectReason = "PRICE_MOVED"
	RejectInsufficientMargin RejectReason = "INSUFFICIENT_MARGIN"
	RejectInvalidSymbol      RejectReason = "INVALID_SYMBOL"
	RejectUnknown            RejectReason = "UNKNOWN"
)

// OrderRejected is relayed by the router when the exchange refuses an order.
type OrderRejected struct {
	LadderIndex int
	LadderKind  LadderKind
	Reason      RejectReason
	Message     string
}

func (e OrderRejected) Error() string {
	return fmt.Sprintf("order rejected (%s ladder %d): %s: %s", e.LadderKind, e.LadderIndex, e.Reason, e.Message)
}

// Fatal reports whether the rejection can never succeed on retry. Fatal
// rejections terminate the position; transient ones re-arm the ladder slot.
func (e OrderRejected) Fatal() bool {
	return e.Reason == RejectInsufficientMargin || e.Reason == RejectInvalidSymbol
}

var (
	// ErrStaleFeed marks a feed gap beyond the staleness timeout. Non-fatal:
	// the position holds and the error clears on the next tick.
	ErrStaleFeed = errors.New("price feed stale")

	// ErrLiquidationRisk marks an effective stop computed on the wrong side of
	// the estimated liquidation price. Fatal: the position must be flattened.
	ErrLiquidationRisk = errors.New("stop price beyond estimated liquidation price")

	// ErrPositionClosed is returned for events addressed to a terminal position.
	ErrPositionClosed = errors.New("position already closed")

	// ErrStrategyNotFound is returned by repositories for unknown ids.
	ErrStrategyNotFound = errors.New("strategy not found")
)
