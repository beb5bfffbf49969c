// Package exchange wraps the order book with the string-token API surface,
// input validation and locking. All mutating operations serialize on one
// writer lock; read-only snapshots take it shared.
package exchange

import (
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"nanobook/internal/book"
	"nanobook/internal/types"
)

type Exchange struct {
	mu   sync.RWMutex
	book *book.Book
	lg   zerolog.Logger
}

func New() *Exchange {
	return &Exchange{
		book: book.New(),
		lg:   log.With().Str("component", "exchange").Logger(),
	}
}

// SubmitLimit validates the side and time-in-force tokens and submits a
// limit order. Validation failures reject before any book mutation.
func (e *Exchange) SubmitLimit(side string, price types.Price, qty types.Quantity, tif string) (book.SubmitResult, error) {
	s, err := types.ParseSide(side)
	if err != nil {
		return book.SubmitResult{}, err
	}
	t, err := types.ParseTIF(tif)
	if err != nil {
		return book.SubmitResult{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	res, err := e.book.SubmitLimit(s, price, qty, t)
	if err != nil {
		return res, err
	}
	e.lg.Debug().
		Uint64("orderId", res.OrderID).
		Str("side", s.String()).
		Int64("price", price).
		Uint64("qty", qty).
		Str("tif", t.String()).
		Str("status", res.Status.String()).
		Msg("limit order")
	return res, nil
}

// SubmitMarket submits an order that fills immediately against available
// liquidity and never rests.
func (e *Exchange) SubmitMarket(side string, qty types.Quantity) (book.SubmitResult, error) {
	s, err := types.ParseSide(side)
	if err != nil {
		return book.SubmitResult{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	res, err := e.book.SubmitMarket(s, qty)
	if err != nil {
		return res, err
	}
	e.lg.Debug().
		Uint64("orderId", res.OrderID).
		Str("side", s.String()).
		Uint64("qty", qty).
		Str("status", res.Status.String()).
		Msg("market order")
	return res, nil
}

// SubmitStopMarket parks a stop that becomes a market order when the mark
// breaches the trigger.
func (e *Exchange) SubmitStopMarket(side string, trigger types.Price, qty types.Quantity) (book.SubmitResult, error) {
	s, err := types.ParseSide(side)
	if err != nil {
		return book.SubmitResult{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.book.SubmitStopMarket(s, trigger, qty)
}

// SubmitTrailingStopMarket parks a trailing stop. The atrPeriod argument is
// only meaningful for the "atr" anchor.
func (e *Exchange) SubmitTrailingStopMarket(side string, initialTrigger types.Price, qty types.Quantity, anchor string, param float64, atrPeriod int) (book.SubmitResult, error) {
	s, err := types.ParseSide(side)
	if err != nil {
		return book.SubmitResult{}, err
	}
	a, err := types.ParseAnchor(anchor)
	if err != nil {
		return book.SubmitResult{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.book.SubmitTrailingStopMarket(s, initialTrigger, qty, a, param, atrPeriod)
}

// Cancel removes a resting order or pending stop.
func (e *Exchange) Cancel(id types.OrderID) book.CancelResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	res := e.book.Cancel(id)
	if res.Success {
		e.lg.Debug().Uint64("orderId", id).Uint64("cancelled", res.CancelledQuantity).Msg("cancel")
	}
	return res
}

// Modify replaces an order via cancel-then-submit, losing time priority
// and issuing a fresh id.
func (e *Exchange) Modify(id types.OrderID, newPrice types.Price, newQty types.Quantity) book.ModifyResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.book.Modify(id, newPrice, newQty)
}

// BestBidAsk returns the top of book; nil when a side is empty.
func (e *Exchange) BestBidAsk() (bid, ask *types.Price) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if p, ok := e.book.BestBid(); ok {
		bid = &p
	}
	if p, ok := e.book.BestAsk(); ok {
		ask = &p
	}
	return bid, ask
}

// Spread returns ask minus bid, or nil while either side is empty.
func (e *Exchange) Spread() *types.Price {
	e.mu.RLock()
	defer e.mu.RUnlock()
	bid, haveBid := e.book.BestBid()
	ask, haveAsk := e.book.BestAsk()
	if !haveBid || !haveAsk {
		return nil
	}
	s := ask - bid
	return &s
}

// DepthSnapshot is a consistent view of up to n levels per side.
type DepthSnapshot struct {
	Bids []book.DepthEntry
	Asks []book.DepthEntry
}

func (e *Exchange) Depth(n int) DepthSnapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	bids, asks := e.book.Depth(n)
	return DepthSnapshot{Bids: bids, Asks: asks}
}

// Trades returns a copy of the trade log.
func (e *Exchange) Trades() []book.Trade {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]book.Trade, len(e.book.Trades()))
	copy(out, e.book.Trades())
	return out
}

func (e *Exchange) ClearTrades() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.book.ClearTrades()
}

func (e *Exchange) PendingStopCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.book.PendingStopCount()
}
