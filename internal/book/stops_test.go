package book

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nanobook/internal/types"
)

func TestStopMarketRestsPending(t *testing.T) {
	b := New()
	res, err := b.SubmitStopMarket(types.Buy, 10500, 100)
	require.NoError(t, err)

	assert.Equal(t, types.StatusPending, res.Status)
	assert.Equal(t, 1, b.PendingStopCount())
}

func TestCancelPendingStop(t *testing.T) {
	b := New()
	res, err := b.SubmitStopMarket(types.Buy, 10500, 100)
	require.NoError(t, err)

	cr := b.Cancel(res.OrderID)
	assert.True(t, cr.Success)
	assert.Equal(t, types.Quantity(100), cr.CancelledQuantity)
	assert.Equal(t, 0, b.PendingStopCount())
}

func TestStopValidation(t *testing.T) {
	b := New()
	_, err := b.SubmitStopMarket(types.Buy, 0, 100)
	assert.ErrorIs(t, err, types.ErrInvalidPrice)
	_, err = b.SubmitStopMarket(types.Buy, 10000, 0)
	assert.ErrorIs(t, err, types.ErrZeroQuantity)
}

func TestSellStopFiresOnTradeThroughTrigger(t *testing.T) {
	b := New()
	// Thin bid above the trigger, deep bid below it for the stop to hit.
	mustSubmit(t, b, types.Buy, 9600, 10, types.GTC)
	mustSubmit(t, b, types.Buy, 9400, 100, types.GTC)

	stop, err := b.SubmitStopMarket(types.Sell, 9500, 50)
	require.NoError(t, err)
	require.Equal(t, 1, b.PendingStopCount())

	// Consuming the thin bid prints at 9600: above the trigger, no fire.
	mustSubmit(t, b, types.Sell, 9600, 10, types.GTC)
	require.Equal(t, 1, b.PendingStopCount())

	// The next print lands at 9400: mark <= trigger, the stop converts to
	// an IOC market sell and sweeps the deep bid.
	res := mustSubmit(t, b, types.Sell, 9400, 10, types.GTC)

	assert.Equal(t, 0, b.PendingStopCount())
	trades := b.Trades()
	require.Len(t, trades, 3)
	assert.Equal(t, types.Price(9400), trades[2].Price)
	assert.Equal(t, types.Quantity(50), trades[2].Quantity)
	assert.Equal(t, stop.OrderID, trades[2].SellID)
	// The stop's fill is reported within the triggering submit call.
	assert.Len(t, res.Trades, 2)
	checkInvariants(t, b)
}

func TestBuyStopFiresOnMarkAboveTrigger(t *testing.T) {
	b := New()
	mustSubmit(t, b, types.Sell, 10550, 10, types.GTC)
	mustSubmit(t, b, types.Sell, 10600, 100, types.GTC)
	// A bid keeps the pre-trade mark (mid) below the trigger.
	mustSubmit(t, b, types.Buy, 10300, 5, types.GTC)

	_, err := b.SubmitStopMarket(types.Buy, 10500, 40)
	require.NoError(t, err)

	// Lifting the 10550 ask prints above the 10500 trigger; the stop buys
	// from the next ask level.
	mustSubmit(t, b, types.Buy, 10550, 10, types.GTC)

	assert.Equal(t, 0, b.PendingStopCount())
	trades := b.Trades()
	require.Len(t, trades, 2)
	assert.Equal(t, types.Price(10550), trades[0].Price)
	assert.Equal(t, types.Price(10600), trades[1].Price)
	assert.Equal(t, types.Quantity(40), trades[1].Quantity)
}

func TestStopResidualCancelsWhenLiquidityExhausted(t *testing.T) {
	b := New()
	_, err := b.SubmitStopMarket(types.Sell, 9500, 50)
	require.NoError(t, err)

	// A lone bid at the trigger marks the book at 9500: the stop fires,
	// part-fills against that bid and cancels its IOC residual.
	mustSubmit(t, b, types.Buy, 9500, 10, types.GTC)

	assert.Equal(t, 0, b.PendingStopCount())
	trades := b.Trades()
	require.Len(t, trades, 1)
	assert.Equal(t, types.Price(9500), trades[0].Price)
	assert.Equal(t, types.Quantity(10), trades[0].Quantity)
	_, haveBid := b.BestBid()
	assert.False(t, haveBid, "the stop consumed the bid")
}

func TestTrailingStopPendingStatuses(t *testing.T) {
	b := New()
	for _, anchor := range []types.AnchorKind{types.AnchorFixed, types.AnchorPercentage, types.AnchorATR} {
		res, err := b.SubmitTrailingStopMarket(types.Sell, 9500, 100, anchor, 0.05, 14)
		require.NoError(t, err)
		assert.Equal(t, types.StatusPending, res.Status)
	}
	assert.Equal(t, 3, b.PendingStopCount())
}

func TestTrailingPercentagePeakRatchets(t *testing.T) {
	b := New()
	mustSubmit(t, b, types.Buy, 9000, 1000, types.GTC)

	// 5% sell trail; trades walk the mark up to 10000 then drop to 9499.
	_, err := b.SubmitTrailingStopMarket(types.Sell, 9000, 50, types.AnchorPercentage, 0.05, 0)
	require.NoError(t, err)

	for _, p := range []types.Price{9800, 10000} {
		mustSubmit(t, b, types.Sell, p, 10, types.GTC)
		mustSubmit(t, b, types.Buy, p, 10, types.GTC)
	}
	require.Equal(t, 1, b.PendingStopCount(), "trail must not fire while the mark rises")

	// Peak 10000 puts the trigger at 9500; a print through it fires.
	mustSubmit(t, b, types.Sell, 9499, 10, types.GTC)
	mustSubmit(t, b, types.Buy, 9499, 10, types.GTC)
	assert.Equal(t, 0, b.PendingStopCount())

	trades := b.Trades()
	last := trades[len(trades)-1]
	assert.Equal(t, types.Price(9000), last.Price, "stop sells into the resting bid")
	checkInvariants(t, b)
}

func TestTrailingBuyStopTracksLowestMark(t *testing.T) {
	b := New()
	mustSubmit(t, b, types.Sell, 11000, 1000, types.GTC)

	_, err := b.SubmitTrailingStopMarket(types.Buy, 11000, 50, types.AnchorPercentage, 0.05, 0)
	require.NoError(t, err)

	// Mark falls to 10000: trigger descends to 10500.
	for _, p := range []types.Price{10400, 10000} {
		mustSubmit(t, b, types.Buy, p, 10, types.GTC)
		mustSubmit(t, b, types.Sell, p, 10, types.GTC)
	}
	require.Equal(t, 1, b.PendingStopCount())

	mustSubmit(t, b, types.Buy, 10501, 10, types.GTC)
	mustSubmit(t, b, types.Sell, 10501, 10, types.GTC)
	assert.Equal(t, 0, b.PendingStopCount())
}

func TestMarkFallsBackToMidThenOneSided(t *testing.T) {
	b := New()
	_, ok := b.Mark()
	assert.False(t, ok)

	mustSubmit(t, b, types.Buy, 10000, 10, types.GTC)
	m, ok := b.Mark()
	require.True(t, ok)
	assert.Equal(t, types.Price(10000), m, "one-sided book marks at its best")

	mustSubmit(t, b, types.Sell, 10100, 10, types.GTC)
	m, _ = b.Mark()
	assert.Equal(t, types.Price(10050), m, "two-sided book marks at mid")

	mustSubmit(t, b, types.Buy, 10100, 10, types.GTC)
	m, _ = b.Mark()
	assert.Equal(t, types.Price(10100), m, "last trade dominates the mark")
}

func TestMarkATRNeedsHistory(t *testing.T) {
	_, ok := markATR([]types.Price{100, 101}, 3)
	assert.False(t, ok)

	atr, ok := markATR([]types.Price{100, 102, 101, 105}, 3)
	require.True(t, ok)
	assert.InDelta(t, (2.0+1.0+4.0)/3.0, atr, 1e-12)
}
