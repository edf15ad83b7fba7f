package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// Opposite returns the closing side for a position side.
func (s Side) Opposite() Side {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}

type PositionPhase string

const (
	PhaseAwaitingEntry   PositionPhase = "AWAITING_ENTRY"
	PhasePartiallyFilled PositionPhase = "PARTIALLY_FILLED"
	PhaseFullyFilled     PositionPhase = "FULLY_FILLED"
	PhaseTPPartial       PositionPhase = "TP_PARTIAL"
	PhaseClosed          PositionPhase = "CLOSED"
	PhaseStoppedOut      PositionPhase = "STOPPED_OUT"
	PhaseErrored         PositionPhase = "ERRORED"
)

// Terminal reports whether no further transitions are possible.
func (p PositionPhase) Terminal() bool {
	return p == PhaseClosed || p == PhaseStoppedOut || p == PhaseErrored
}

type LadderKind string

const (
	LadderEntry LadderKind = "ENTRY"
	LadderTP    LadderKind = "TP"
	LadderSL    LadderKind = "SL"
)

// Fill is a confirmed execution relayed by the order router.
type Fill struct {
	LadderIndex int             `json:"ladderIndex"`
	LadderKind  LadderKind      `json:"ladderKind"`
	Price       decimal.Decimal `json:"price"`
	Quantity    decimal.Decimal `json:"quantity"`
	Timestamp   time.Time       `json:"timestamp"`
}

// SlotStatus tracks one ladder level through the order lifecycle.
type SlotStatus string

const (
	SlotIdle   SlotStatus = "IDLE"   // level not yet triggered
	SlotPlaced SlotStatus = "PLACED" // intent emitted, awaiting router report
	SlotFilled SlotStatus = "FILLED"
)

// PositionState is mutated exclusively by the owning PositionStateMachine.
type PositionState struct {
	ID        string
	Symbol    string
	Side      Side
	Phase     PositionPhase
	TotalSize decimal.Decimal

	ReferencePrice    decimal.Decimal // price at arm time, anchors the entry ladder
	AverageEntryPrice decimal.Decimal
	FilledQuantity    decimal.Decimal // total quantity entered so far
	RemainingQuantity decimal.Decimal // quantity still exposed (entered - exited)
	CurrentStopPrice  decimal.Decimal

	EntrySlots []SlotStatus
	TPSlots    []SlotStatus

	Fills             []Fill
	HighestTPIndexHit int // 1-based, 0 = none

	LastTickAt time.Time
	OpenedAt   time.Time
	ClosedAt   time.Time
}

// EntriesFilled counts entry slots confirmed filled.
func (s *PositionState) EntriesFilled() int {
	n := 0
	for _, st := range s.EntrySlots {
		if st == SlotFilled {
			n++
		}
	}
	return n
}

// NextUnfilledEntry returns the lowest entry index not yet filled, or -1.
func (s *PositionState) NextUnfilledEntry() int {
	for i, st := range s.EntrySlots {
		if st != SlotFilled {
			return i
		}
	}
	return -1
}

// NextUnfilledTP returns the lowest TP index not yet filled, or -1.
func (s *PositionState) NextUnfilledTP() int {
	for i, st := range s.TPSlots {
		if st != SlotFilled {
			return i
		}
	}
	return -1
}

// ArchivedPosition is the closed-position record kept in storage.
type ArchivedPosition struct {
	ID           string
	StrategyID   string
	Symbol       string
	Side         Side
	Phase        PositionPhase
	AverageEntry decimal.Decimal
	TotalEntered decimal.Decimal
	RealizedPnL  decimal.Decimal
	Leverage     int
	MarginType   string
	OpenedAt     time.Time
	ClosedAt     time.Time
}
