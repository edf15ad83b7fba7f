package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vitos/crypto_position_engine/internal/domain"
)

const (
	defaultTickBuffer  = 16
	defaultEventBuffer = 64
)

type SupervisorOptions struct {
	// TickBuffer bounds the per-position tick channel. When a consumer
	// stalls, old ticks are dropped and the latest is retained.
	TickBuffer int
	// StalenessTimeout forces hold mode after this long without a tick.
	// Zero disables the check.
	StalenessTimeout time.Duration
}

type runnerEvent struct {
	fill   *domain.Fill
	reject *domain.OrderRejected
	cancel bool
}

type positionRunner struct {
	id      string
	symbol  string
	machine *PositionStateMachine
	ticks   chan domain.PriceTick
	events  chan runnerEvent
}

// PositionSupervisor is the composition root of the engine: one goroutine per
// armed position, ticks fanned out through bounded coalescing channels,
// intents forwarded to the order router, router reports routed back.
type PositionSupervisor struct {
	validator  *ConfigValidator
	router     domain.OrderRouter
	archive    domain.PositionArchive
	log        *zap.Logger
	tickBuffer int
	staleness  time.Duration

	mu       sync.RWMutex
	runners  map[string]*positionRunner
	bySymbol map[string]map[string]*positionRunner

	wg        sync.WaitGroup
	closed    chan struct{}
	closeOnce sync.Once
}

func NewPositionSupervisor(router domain.OrderRouter, archive domain.PositionArchive,
	log *zap.Logger, opts SupervisorOptions) *PositionSupervisor {

	if opts.TickBuffer <= 0 {
		opts.TickBuffer = defaultTickBuffer
	}
	s := &PositionSupervisor{
		validator:  NewConfigValidator(),
		router:     router,
		archive:    archive,
		log:        log,
		tickBuffer: opts.TickBuffer,
		staleness:  opts.StalenessTimeout,
		runners:    make(map[string]*positionRunner),
		bySymbol:   make(map[string]map[string]*positionRunner),
		closed:     make(chan struct{}),
	}

	s.wg.Add(1)
	go s.routeReports()

	return s
}

// Arm validates the strategy config and, if it is acceptable, starts a
// position state machine for it. Returns the new position id.
func (s *PositionSupervisor) Arm(ctx context.Context, strategy *domain.StoredStrategy,
	side domain.Side, totalSize, referencePrice decimal.Decimal) (string, error) {

	if errs := s.validator.Validate(&strategy.Config); errs != nil {
		return "", errs
	}

	id := uuid.NewString()
	machine := NewPositionStateMachine(id, &strategy.Config, side, totalSize, referencePrice, s.log)
	r := &positionRunner{
		id:      id,
		symbol:  strategy.Config.CoinPair,
		machine: machine,
		ticks:   make(chan domain.PriceTick, s.tickBuffer),
		events:  make(chan runnerEvent, defaultEventBuffer),
	}

	s.mu.Lock()
	s.runners[id] = r
	if s.bySymbol[r.symbol] == nil {
		s.bySymbol[r.symbol] = make(map[string]*positionRunner)
	}
	s.bySymbol[r.symbol][id] = r
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run(r, strategy.ID)

	s.log.Info("position armed",
		zap.String("position", id),
		zap.String("strategy", strategy.ID),
		zap.String("symbol", r.symbol),
		zap.String("side", string(side)))
	return id, nil
}

// Dispatch fans a price tick out to every position on its symbol. Never
// blocks: when a position's channel is full the oldest queued tick is dropped
// so the latest price is always retained.
func (s *PositionSupervisor) Dispatch(tick domain.PriceTick) {
	s.mu.RLock()
	runners := lo.Values(s.bySymbol[tick.Symbol])
	s.mu.RUnlock()

	for _, r := range runners {
		select {
		case r.ticks <- tick:
		default:
			select {
			case <-r.ticks:
			default:
			}
			select {
			case r.ticks <- tick:
			default:
			}
		}
	}
}

// Cancel asks a position to tear down: pending intents are cancelled and the
// machine closes without waiting for fills.
func (s *PositionSupervisor) Cancel(id string) error {
	s.mu.RLock()
	r, ok := s.runners[id]
	s.mu.RUnlock()
	if !ok {
		return domain.ErrPositionClosed
	}
	select {
	case r.events <- runnerEvent{cancel: true}:
		return nil
	case <-s.closed:
		return domain.ErrPositionClosed
	}
}

// Symbols returns the symbols with at least one live position.
func (s *PositionSupervisor) Symbols() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lo.Keys(s.bySymbol)
}

// SymbolOf returns the symbol a live position trades.
func (s *PositionSupervisor) SymbolOf(id string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.runners[id]
	if !ok {
		return "", false
	}
	return r.symbol, true
}

// ActiveCount returns the number of live positions.
func (s *PositionSupervisor) ActiveCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.runners)
}

// Close stops every runner without cancelling resting orders and waits for
// them to drain.
func (s *PositionSupervisor) Close() {
	s.closeOnce.Do(func() { close(s.closed) })
	s.wg.Wait()
}

func (s *PositionSupervisor) run(r *positionRunner, strategyID string) {
	defer s.wg.Done()
	defer s.remove(r)

	staleEvery := time.Second
	if s.staleness > 0 && s.staleness/2 > staleEvery {
		staleEvery = s.staleness / 2
	}
	ticker := time.NewTicker(staleEvery)
	defer ticker.Stop()

	for {
		select {
		case tick := <-r.ticks:
			s.submit(r.machine.OnTick(tick))
		case ev := <-r.events:
			switch {
			case ev.fill != nil:
				if err := r.machine.OnFill(*ev.fill); err != nil {
					s.log.Error("fill not applied", zap.String("position", r.id), zap.Error(err))
				}
			case ev.reject != nil:
				s.submit(r.machine.OnReject(*ev.reject))
			case ev.cancel:
				s.submit(r.machine.Cancel())
			}
		case now := <-ticker.C:
			_ = r.machine.MarkStale(now, s.staleness)
		case <-s.closed:
			return
		}

		if r.machine.State().Phase.Terminal() {
			s.archiveRunner(r, strategyID)
			return
		}
	}
}

func (s *PositionSupervisor) submit(intents []domain.OrderIntent) {
	for _, intent := range intents {
		if err := s.router.Submit(context.Background(), intent); err != nil {
			s.log.Error("intent not accepted by router",
				zap.String("position", intent.PositionID),
				zap.String("reason", string(intent.Reason)),
				zap.Error(err))
		}
	}
}

// routeReports pumps the router's terminal reports back into the owning
// runner's mailbox.
func (s *PositionSupervisor) routeReports() {
	defer s.wg.Done()
	for {
		select {
		case report, ok := <-s.router.Reports():
			if !ok {
				return
			}
			s.mu.RLock()
			r, found := s.runners[report.PositionID]
			s.mu.RUnlock()
			if !found {
				continue
			}
			ev := runnerEvent{fill: report.Fill, reject: report.Reject}
			select {
			case r.events <- ev:
			case <-s.closed:
				return
			}
		case <-s.closed:
			return
		}
	}
}

func (s *PositionSupervisor) archiveRunner(r *positionRunner, strategyID string) {
	if s.archive == nil {
		return
	}
	st := r.machine.State()
	cfg := r.machine.Config()
	rec := &domain.ArchivedPosition{
		ID:           st.ID,
		StrategyID:   strategyID,
		Symbol:       st.Symbol,
		Side:         st.Side,
		Phase:        st.Phase,
		AverageEntry: st.AverageEntryPrice,
		TotalEntered: st.FilledQuantity,
		RealizedPnL:  r.machine.RealizedPnL(),
		Leverage:     cfg.Leverage,
		MarginType:   cfg.MarginType,
		OpenedAt:     st.OpenedAt,
		ClosedAt:     st.ClosedAt,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.archive.Archive(ctx, rec); err != nil {
		s.log.Error("failed to archive position", zap.String("position", st.ID), zap.Error(err))
	}
}

func (s *PositionSupervisor) remove(r *positionRunner) {
	s.mu.Lock()
	delete(s.runners, r.id)
	if m := s.bySymbol[r.symbol]; m != nil {
		delete(m, r.id)
		if len(m) == 0 {
			delete(s.bySymbol, r.symbol)
		}
	}
	s.mu.Unlock()
}
