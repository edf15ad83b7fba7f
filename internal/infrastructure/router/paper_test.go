package router

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vitos/crypto_position_engine/internal/domain"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func tickAt(symbol, price string) domain.PriceTick {
	return domain.PriceTick{Symbol: symbol, Price: d(price), Timestamp: time.Now()}
}

func buyIntent(positionID string, index int, price string) domain.OrderIntent {
	return domain.OrderIntent{
		PositionID:  positionID,
		Kind:        domain.IntentPlace,
		Side:        domain.SideLong,
		Price:       d(price),
		Quantity:    d("1"),
		LadderIndex: index,
		Reason:      domain.ReasonEntryLadder,
	}
}

func resolver(symbols map[string]string) func(string) (string, bool) {
	return func(id string) (string, bool) {
		s, ok := symbols[id]
		return s, ok
	}
}

func TestPaperRouter_FillsWhenPriceCrosses(t *testing.T) {
	r := NewPaperRouter(zap.NewNop(), 8, resolver(map[string]string{"p1": "BTCUSDT"}))
	defer r.Close()

	require.NoError(t, r.Submit(context.Background(), buyIntent("p1", 0, "99")))

	// Above the limit: the buy rests.
	r.OnTick(tickAt("BTCUSDT", "100"))
	select {
	case rep := <-r.Reports():
		t.Fatalf("unexpected fill at %s", rep.Fill.Price)
	default:
	}

	// Crossing fills at the intent price, not the tick price.
	r.OnTick(tickAt("BTCUSDT", "98.5"))
	rep := <-r.Reports()
	require.NotNil(t, rep.Fill)
	assert.Equal(t, "p1", rep.PositionID)
	assert.Equal(t, domain.LadderEntry, rep.Fill.LadderKind)
	assert.True(t, rep.Fill.Price.Equal(d("99")), "got %s", rep.Fill.Price)
	assert.True(t, rep.Fill.Quantity.Equal(d("1")))
}

func TestPaperRouter_SellFillsAtOrAbove(t *testing.T) {
	r := NewPaperRouter(zap.NewNop(), 8, resolver(map[string]string{"p1": "BTCUSDT"}))
	defer r.Close()

	require.NoError(t, r.Submit(context.Background(), domain.OrderIntent{
		PositionID: "p1",
		Kind:       domain.IntentPlace,
		Side:       domain.SideShort,
		Price:      d("105"),
		Quantity:   d("1"),
		Reason:     domain.ReasonTPLadder,
	}))

	r.OnTick(tickAt("BTCUSDT", "104"))
	select {
	case <-r.Reports():
		t.Fatal("sell must not fill below its price")
	default:
	}

	r.OnTick(tickAt("BTCUSDT", "105"))
	rep := <-r.Reports()
	assert.Equal(t, domain.LadderTP, rep.Fill.LadderKind)
	assert.True(t, rep.Fill.Price.Equal(d("105")))
}

func TestPaperRouter_MarketIntentFillsAtTickPrice(t *testing.T) {
	r := NewPaperRouter(zap.NewNop(), 8, resolver(map[string]string{"p1": "BTCUSDT"}))
	defer r.Close()

	require.NoError(t, r.Submit(context.Background(), domain.OrderIntent{
		PositionID: "p1",
		Kind:       domain.IntentPlace,
		Side:       domain.SideShort,
		Quantity:   d("2"),
		Reason:     domain.ReasonLiquidationGuard,
	}))

	r.OnTick(tickAt("BTCUSDT", "97.3"))
	rep := <-r.Reports()
	assert.Equal(t, domain.LadderSL, rep.Fill.LadderKind)
	assert.True(t, rep.Fill.Price.Equal(d("97.3")), "market fill takes the tick price")
}

func TestPaperRouter_CancelRemovesRestingOrder(t *testing.T) {
	r := NewPaperRouter(zap.NewNop(), 8, resolver(map[string]string{"p1": "BTCUSDT"}))
	defer r.Close()

	require.NoError(t, r.Submit(context.Background(), buyIntent("p1", 0, "99")))
	require.NoError(t, r.Submit(context.Background(), domain.OrderIntent{
		PositionID:  "p1",
		Kind:        domain.IntentCancel,
		Side:        domain.SideLong,
		LadderIndex: 0,
		Reason:      domain.ReasonManualCancel,
	}))

	r.OnTick(tickAt("BTCUSDT", "90"))
	select {
	case <-r.Reports():
		t.Fatal("cancelled order must not fill")
	default:
	}
}

func TestPaperRouter_IgnoresOtherSymbols(t *testing.T) {
	r := NewPaperRouter(zap.NewNop(), 8, resolver(map[string]string{
		"p1": "BTCUSDT",
		"p2": "ETHUSDT",
	}))
	defer r.Close()

	require.NoError(t, r.Submit(context.Background(), buyIntent("p1", 0, "99")))
	require.NoError(t, r.Submit(context.Background(), buyIntent("p2", 0, "2000")))

	// An ETH tick fills only the ETH order, however deep it would cross BTC.
	r.OnTick(tickAt("ETHUSDT", "1990"))
	rep := <-r.Reports()
	assert.Equal(t, "p2", rep.PositionID)

	select {
	case rep := <-r.Reports():
		t.Fatalf("unexpected second fill for %s", rep.PositionID)
	default:
	}
}

func TestPaperRouter_ModifyReplacesOrder(t *testing.T) {
	r := NewPaperRouter(zap.NewNop(), 8, resolver(map[string]string{"p1": "BTCUSDT"}))
	defer r.Close()

	require.NoError(t, r.Submit(context.Background(), buyIntent("p1", 0, "95")))

	modified := buyIntent("p1", 0, "98")
	modified.Kind = domain.IntentModify
	require.NoError(t, r.Submit(context.Background(), modified))

	// Fills once, at the modified price.
	r.OnTick(tickAt("BTCUSDT", "97"))
	rep := <-r.Reports()
	assert.True(t, rep.Fill.Price.Equal(d("98")), "got %s", rep.Fill.Price)
	select {
	case <-r.Reports():
		t.Fatal("the original order must have been replaced, not kept")
	default:
	}
}
