package usecase_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vitos/crypto_position_engine/internal/domain"
	"github.com/vitos/crypto_position_engine/internal/usecase"
)

type fakeRouter struct {
	mu      sync.Mutex
	intents []domain.OrderIntent
	reports chan domain.ExecutionReport
}

func newFakeRouter() *fakeRouter {
	return &fakeRouter{reports: make(chan domain.ExecutionReport, 64)}
}

func (f *fakeRouter) Submit(_ context.Context, intent domain.OrderIntent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.intents = append(f.intents, intent)
	return nil
}

func (f *fakeRouter) Reports() <-chan domain.ExecutionReport {
	return f.reports
}

func (f *fakeRouter) submitted() []domain.OrderIntent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.OrderIntent, len(f.intents))
	copy(out, f.intents)
	return out
}

func (f *fakeRouter) reportFill(positionID string, fill domain.Fill) {
	f.reports <- domain.ExecutionReport{PositionID: positionID, Fill: &fill}
}

type fakeArchive struct {
	mu      sync.Mutex
	records []*domain.ArchivedPosition
}

func (f *fakeArchive) Archive(_ context.Context, pos *domain.ArchivedPosition) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, pos)
	return nil
}

func (f *fakeArchive) ListClosed(_ context.Context, _ int) ([]*domain.ArchivedPosition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.records, nil
}

func (f *fakeArchive) archived() []*domain.ArchivedPosition {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*domain.ArchivedPosition, len(f.records))
	copy(out, f.records)
	return out
}

func storedStrategy(cfg *domain.StrategyConfig) *domain.StoredStrategy {
	return &domain.StoredStrategy{
		ID:       "strat-1",
		Name:     "test ladder",
		CoinPair: cfg.CoinPair,
		Config:   *cfg,
	}
}

func newSupervisor(t *testing.T) (*usecase.PositionSupervisor, *fakeRouter, *fakeArchive) {
	t.Helper()
	router := newFakeRouter()
	archive := &fakeArchive{}
	sup := usecase.NewPositionSupervisor(router, archive, zap.NewNop(), usecase.SupervisorOptions{})
	t.Cleanup(sup.Close)
	return sup, router, archive
}

func TestSupervisor_ArmRejectsInvalidConfig(t *testing.T) {
	sup, _, _ := newSupervisor(t)

	cfg := validConfig()
	cfg.Leverage = 0
	_, err := sup.Arm(context.Background(), storedStrategy(cfg), domain.SideLong,
		decimal.NewFromInt(10), d("100"))

	require.Error(t, err)
	var verrs domain.ValidationErrors
	require.ErrorAs(t, err, &verrs)
	assert.Equal(t, 0, sup.ActiveCount())
}

func TestSupervisor_FullLifecycleThroughRouterReports(t *testing.T) {
	sup, router, archive := newSupervisor(t)

	id, err := sup.Arm(context.Background(), storedStrategy(singleEntryOneTP()),
		domain.SideLong, decimal.NewFromInt(10), d("100"))
	require.NoError(t, err)
	assert.Equal(t, 1, sup.ActiveCount())

	symbol, ok := sup.SymbolOf(id)
	require.True(t, ok)
	assert.Equal(t, "BTCUSDT", symbol)
	assert.Equal(t, []string{"BTCUSDT"}, sup.Symbols())

	// First tick places the entry.
	sup.Dispatch(tick("100"))
	require.Eventually(t, func() bool {
		return len(router.submitted()) == 1
	}, time.Second, 5*time.Millisecond)
	entry := router.submitted()[0]
	assert.Equal(t, domain.ReasonEntryLadder, entry.Reason)
	assert.Equal(t, id, entry.PositionID)

	router.reportFill(id, entryFill(0, "100", "10"))

	// TP at 105 places once the fill has been applied and the price reaches it.
	require.Eventually(t, func() bool {
		sup.Dispatch(tick("105"))
		intents := router.submitted()
		return len(intents) == 2 && intents[1].Reason == domain.ReasonTPLadder
	}, time.Second, 5*time.Millisecond)

	router.reportFill(id, tpFill(0, "105", "10"))

	// The TP fill closes the position; the runner archives and unregisters.
	require.Eventually(t, func() bool {
		return sup.ActiveCount() == 0 && len(archive.archived()) == 1
	}, time.Second, 5*time.Millisecond)

	rec := archive.archived()[0]
	assert.Equal(t, id, rec.ID)
	assert.Equal(t, "strat-1", rec.StrategyID)
	assert.Equal(t, domain.PhaseClosed, rec.Phase)
	assert.True(t, rec.RealizedPnL.Equal(d("50")), "got %s", rec.RealizedPnL)
	assert.Equal(t, 10, rec.Leverage)
	assert.Empty(t, sup.Symbols())
}

func TestSupervisor_CancelTearsDownPosition(t *testing.T) {
	sup, router, archive := newSupervisor(t)

	id, err := sup.Arm(context.Background(), storedStrategy(validConfig()),
		domain.SideLong, decimal.NewFromInt(10), d("100"))
	require.NoError(t, err)

	sup.Dispatch(tick("100"))
	require.Eventually(t, func() bool {
		return len(router.submitted()) == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, sup.Cancel(id))
	require.Eventually(t, func() bool {
		return sup.ActiveCount() == 0
	}, time.Second, 5*time.Millisecond)

	// The in-flight entry intent was cancelled on the way out.
	cancels := lo.Filter(router.submitted(), func(in domain.OrderIntent, _ int) bool {
		return in.Kind == domain.IntentCancel
	})
	require.Len(t, cancels, 1)
	assert.Equal(t, domain.ReasonManualCancel, cancels[0].Reason)

	require.Len(t, archive.archived(), 1)
	assert.Equal(t, domain.PhaseClosed, archive.archived()[0].Phase)

	assert.ErrorIs(t, sup.Cancel(id), domain.ErrPositionClosed)
}

func TestSupervisor_DispatchNeverBlocks(t *testing.T) {
	sup, _, _ := newSupervisor(t)

	_, err := sup.Arm(context.Background(), storedStrategy(validConfig()),
		domain.SideLong, decimal.NewFromInt(10), d("150"))
	require.NoError(t, err)

	// Far more ticks than the buffer holds, none of them near a trigger. A
	// stalled or slow consumer must never back-pressure the feed path.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10_000; i++ {
			sup.Dispatch(tick("150"))
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Dispatch blocked under tick flood")
	}
}

func TestSupervisor_DispatchUnknownSymbolIsNoOp(t *testing.T) {
	sup, router, _ := newSupervisor(t)

	sup.Dispatch(domain.PriceTick{Symbol: "ETHUSDT", Price: d("2000"), Timestamp: time.Now()})
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, router.submitted())
}
