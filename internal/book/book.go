package book

import (
	"github.com/tidwall/btree"

	"nanobook/internal/types"
)

// Order is a resting or in-flight order node. Nodes are linked intrusively
// into their price level so a cancel can splice them out in O(1) once the
// id index has resolved the pointer.
type Order struct {
	ID        types.OrderID
	Side      types.Side
	Price     types.Price
	Quantity  types.Quantity // total volume requested
	Remaining types.Quantity
	TIF       types.TimeInForce
	Seq       uint64 // arrival counter

	level      *priceLevel
	prev, next *Order
}

// Trade is one match print. Sequence numbers are strictly increasing for
// the lifetime of the book.
type Trade struct {
	BuyID    types.OrderID
	SellID   types.OrderID
	Price    types.Price
	Quantity types.Quantity
	Seq      uint64
}

// SubmitResult reports the outcome of a submit at the end of the call,
// including any trades printed while matching (stop cascades included).
type SubmitResult struct {
	OrderID           types.OrderID
	Status            types.OrderStatus
	FilledQuantity    types.Quantity
	RestingQuantity   types.Quantity
	CancelledQuantity types.Quantity
	Trades            []Trade
}

// priceLevel holds the FIFO queue of orders resting at one price.
type priceLevel struct {
	price      types.Price
	head, tail *Order
	total      types.Quantity
}

func (l *priceLevel) push(o *Order) {
	o.level = l
	o.prev = l.tail
	o.next = nil
	if l.tail != nil {
		l.tail.next = o
	} else {
		l.head = o
	}
	l.tail = o
	l.total += o.Remaining
}

func (l *priceLevel) unlink(o *Order) {
	if o.prev != nil {
		o.prev.next = o.next
	} else {
		l.head = o.next
	}
	if o.next != nil {
		o.next.prev = o.prev
	} else {
		l.tail = o.prev
	}
	l.total -= o.Remaining
	o.level, o.prev, o.next = nil, nil, nil
}

type levels = btree.BTreeG[*priceLevel]

// Book is a price-time-priority limit order book. Bids iterate highest
// first, asks lowest first; orders within a level are FIFO by arrival.
// The book is not safe for concurrent use; callers serialize access.
type Book struct {
	bids *levels
	asks *levels

	idIndex map[types.OrderID]*Order
	stops   *stopManager

	trades  []Trade
	nextID  types.OrderID
	nextSeq uint64

	lastTrade types.Price
	haveTrade bool
}

func New() *Book {
	// Both trees sort best-first, so Min() is top of book on either side.
	bids := btree.NewBTreeG(func(a, b *priceLevel) bool {
		return a.price > b.price
	})
	asks := btree.NewBTreeG(func(a, b *priceLevel) bool {
		return a.price < b.price
	})
	b := &Book{
		bids:    bids,
		asks:    asks,
		idIndex: make(map[types.OrderID]*Order),
		nextID:  1,
	}
	b.stops = newStopManager(b)
	return b
}

func (b *Book) sideLevels(s types.Side) *levels {
	if s == types.Buy {
		return b.bids
	}
	return b.asks
}

// crosses reports whether an aggressor limit price reaches a resting level.
// A nil limit is infinitely aggressive (market order).
func crosses(side types.Side, limit *types.Price, restingPrice types.Price) bool {
	if limit == nil {
		return true
	}
	if side == types.Buy {
		return restingPrice <= *limit
	}
	return restingPrice >= *limit
}

// match sweeps the opposing side in price priority, consuming resting
// orders FIFO while the aggressor crosses. Trades print at the resting
// order's price.
func (b *Book) match(o *Order, limit *types.Price) []Trade {
	var out []Trade
	opposing := b.sideLevels(o.Side.Opposite())
	for o.Remaining > 0 {
		level, ok := opposing.MinMut()
		if !ok || !crosses(o.Side, limit, level.price) {
			break
		}
		for o.Remaining > 0 && level.head != nil {
			resting := level.head
			qty := min(o.Remaining, resting.Remaining)
			o.Remaining -= qty
			resting.Remaining -= qty
			level.total -= qty

			t := Trade{Price: level.price, Quantity: qty, Seq: b.nextSeq}
			b.nextSeq++
			if o.Side == types.Buy {
				t.BuyID, t.SellID = o.ID, resting.ID
			} else {
				t.BuyID, t.SellID = resting.ID, o.ID
			}
			out = append(out, t)
			b.trades = append(b.trades, t)
			b.lastTrade = level.price
			b.haveTrade = true

			if resting.Remaining == 0 {
				level.unlink(resting)
				delete(b.idIndex, resting.ID)
			}
		}
		if level.head == nil {
			opposing.Delete(level)
		}
	}
	return out
}

// crossableQuantity pre-scans the opposing side for the total quantity
// available at prices the limit reaches. Used by the FOK gate.
func (b *Book) crossableQuantity(side types.Side, limit types.Price) types.Quantity {
	var avail types.Quantity
	opposing := b.sideLevels(side.Opposite())
	opposing.Scan(func(level *priceLevel) bool {
		if !crosses(side, &limit, level.price) {
			return false
		}
		avail += level.total
		return true
	})
	return avail
}

// SubmitLimit runs the full limit-order pipeline: FOK gate, cross, TIF
// finalization, then stop trigger evaluation against the mutated book.
func (b *Book) SubmitLimit(side types.Side, price types.Price, qty types.Quantity, tif types.TimeInForce) (SubmitResult, error) {
	if qty == 0 {
		return SubmitResult{}, types.ErrZeroQuantity
	}
	if price <= 0 {
		return SubmitResult{}, types.ErrInvalidPrice
	}

	if tif == types.FOK && b.crossableQuantity(side, price) < qty {
		// Book untouched; the id is still consumed so results stay
		// attributable in the trade-less reject path.
		id := b.nextID
		b.nextID++
		return SubmitResult{
			OrderID:           id,
			Status:            types.StatusRejected,
			CancelledQuantity: qty,
		}, nil
	}

	o := &Order{
		ID:        b.nextID,
		Side:      side,
		Price:     price,
		Quantity:  qty,
		Remaining: qty,
		TIF:       tif,
		Seq:       b.nextSeq,
	}
	b.nextID++
	b.nextSeq++

	trades := b.match(o, &price)
	res := SubmitResult{
		OrderID:        o.ID,
		FilledQuantity: qty - o.Remaining,
		Trades:         trades,
	}

	switch {
	case o.Remaining == 0:
		res.Status = types.StatusFilled
	case tif == types.IOC:
		res.CancelledQuantity = o.Remaining
		if res.FilledQuantity > 0 {
			res.Status = types.StatusPartiallyFilled
		} else {
			res.Status = types.StatusCancelled
		}
	default:
		b.rest(o)
		res.RestingQuantity = o.Remaining
		if res.FilledQuantity > 0 {
			res.Status = types.StatusPartiallyFilled
		} else {
			res.Status = types.StatusNew
		}
	}

	res.Trades = append(res.Trades, b.stops.evaluate()...)
	return res, nil
}

// SubmitMarket is an infinitely aggressive order with IOC semantics: it
// never rests and is rejected outright when the opposing side is empty.
func (b *Book) SubmitMarket(side types.Side, qty types.Quantity) (SubmitResult, error) {
	if qty == 0 {
		return SubmitResult{}, types.ErrZeroQuantity
	}
	id := b.nextID
	b.nextID++

	if _, ok := b.sideLevels(side.Opposite()).Min(); !ok {
		return SubmitResult{
			OrderID:           id,
			Status:            types.StatusRejected,
			CancelledQuantity: qty,
		}, nil
	}

	o := &Order{ID: id, Side: side, Quantity: qty, Remaining: qty, Seq: b.nextSeq}
	b.nextSeq++
	trades := b.match(o, nil)

	res := SubmitResult{
		OrderID:           id,
		FilledQuantity:    qty - o.Remaining,
		CancelledQuantity: o.Remaining,
		Trades:            trades,
	}
	switch {
	case o.Remaining == 0:
		res.Status = types.StatusFilled
	case res.FilledQuantity > 0:
		res.Status = types.StatusPartiallyFilled
	default:
		res.Status = types.StatusCancelled
	}

	res.Trades = append(res.Trades, b.stops.evaluate()...)
	return res, nil
}

// rest inserts a residual order at its price level, creating the level if
// absent, and records it in the id index.
func (b *Book) rest(o *Order) {
	side := b.sideLevels(o.Side)
	level, ok := side.GetMut(&priceLevel{price: o.Price})
	if !ok {
		level = &priceLevel{price: o.Price}
		side.Set(level)
	}
	level.push(o)
	b.idIndex[o.ID] = o
}

// CancelResult reports a cancel. Err is set when the id was not found.
type CancelResult struct {
	Success           bool
	CancelledQuantity types.Quantity
	Err               error
}

// Cancel removes a resting order or a pending stop by id.
func (b *Book) Cancel(id types.OrderID) CancelResult {
	if o, ok := b.idIndex[id]; ok {
		level := o.level
		level.unlink(o)
		if level.head == nil {
			b.sideLevels(o.Side).Delete(level)
		}
		delete(b.idIndex, id)
		// The mark may have moved; any resulting stop fills land in the
		// trade log.
		b.stops.evaluate()
		return CancelResult{Success: true, CancelledQuantity: o.Remaining}
	}
	if qty, ok := b.stops.cancel(id); ok {
		return CancelResult{Success: true, CancelledQuantity: qty}
	}
	return CancelResult{Err: ErrOrderNotFound}
}

// ModifyResult reports a modify. The replacement order id is fresh; time
// priority is lost by design of cancel-then-submit.
type ModifyResult struct {
	Success           bool
	NewOrderID        types.OrderID
	CancelledQuantity types.Quantity
	Result            SubmitResult
	Err               error
}

// Modify cancels the order and submits a GTC replacement at the new price
// and quantity.
func (b *Book) Modify(id types.OrderID, newPrice types.Price, newQty types.Quantity) ModifyResult {
	o, ok := b.idIndex[id]
	if !ok {
		return ModifyResult{Err: ErrOrderNotFound}
	}
	side := o.Side
	cancelled := b.Cancel(id)
	res, err := b.SubmitLimit(side, newPrice, newQty, types.GTC)
	if err != nil {
		return ModifyResult{Err: err, CancelledQuantity: cancelled.CancelledQuantity}
	}
	return ModifyResult{
		Success:           true,
		NewOrderID:        res.OrderID,
		CancelledQuantity: cancelled.CancelledQuantity,
		Result:            res,
	}
}

// BestBid returns the top bid price, if any.
func (b *Book) BestBid() (types.Price, bool) {
	if l, ok := b.bids.Min(); ok {
		return l.price, true
	}
	return 0, false
}

// BestAsk returns the top ask price, if any.
func (b *Book) BestAsk() (types.Price, bool) {
	if l, ok := b.asks.Min(); ok {
		return l.price, true
	}
	return 0, false
}

// DepthEntry is one aggregated level of a depth snapshot.
type DepthEntry struct {
	Price types.Price
	Total types.Quantity
}

// Depth returns up to n aggregated levels per side, best first.
func (b *Book) Depth(n int) (bids, asks []DepthEntry) {
	collect := func(side *levels) []DepthEntry {
		var out []DepthEntry
		side.Scan(func(l *priceLevel) bool {
			if len(out) >= n {
				return false
			}
			out = append(out, DepthEntry{Price: l.price, Total: l.total})
			return true
		})
		return out
	}
	return collect(b.bids), collect(b.asks)
}

// Trades returns the append-only trade log.
func (b *Book) Trades() []Trade {
	return b.trades
}

// ClearTrades empties the trade log. Sequence numbers keep advancing.
func (b *Book) ClearTrades() {
	b.trades = nil
}

// PendingStopCount reports the number of stops awaiting a trigger.
func (b *Book) PendingStopCount() int {
	return b.stops.count()
}

// Mark is the stop-evaluation reference price: last trade print, else mid,
// else the populated side's best.
func (b *Book) Mark() (types.Price, bool) {
	if b.haveTrade {
		return b.lastTrade, true
	}
	bid, haveBid := b.BestBid()
	ask, haveAsk := b.BestAsk()
	switch {
	case haveBid && haveAsk:
		return (bid + ask) / 2, true
	case haveBid:
		return bid, true
	case haveAsk:
		return ask, true
	}
	return 0, false
}
