package book

import (
	"errors"
	"math"

	"nanobook/internal/types"
)

var ErrOrderNotFound = errors.New("not found")

// stopOrder is a pending stop or trailing stop. Triggers are tracked as
// floats because percentage and ATR anchors produce fractional trigger
// levels between integer marks.
type stopOrder struct {
	id      types.OrderID
	side    types.Side
	qty     types.Quantity
	trigger float64

	trailing  bool
	anchor    types.AnchorKind
	param     float64
	atrPeriod int

	peak     types.Price
	havePeak bool
	marks    []types.Price // mark history for the ATR anchor
}

// update folds a new mark into the trailing state. Peaks only ever move in
// the holder's favor: sell stops track the highest mark, buy stops the
// lowest. The trigger is recomputed after every peak move.
func (s *stopOrder) update(mark types.Price) {
	if !s.trailing {
		return
	}
	if !s.havePeak {
		s.peak = mark
		s.havePeak = true
	} else if s.side == types.Sell && mark > s.peak {
		s.peak = mark
	} else if s.side == types.Buy && mark < s.peak {
		s.peak = mark
	}
	if s.anchor == types.AnchorATR {
		if n := len(s.marks); n == 0 || s.marks[n-1] != mark {
			s.marks = append(s.marks, mark)
		}
	}

	switch s.anchor {
	case types.AnchorPercentage:
		if s.side == types.Sell {
			s.trigger = float64(s.peak) * (1 - s.param)
		} else {
			s.trigger = float64(s.peak) * (1 + s.param)
		}
	case types.AnchorATR:
		atr, ok := markATR(s.marks, s.atrPeriod)
		if !ok {
			return // initial trigger holds until enough history
		}
		if s.side == types.Sell {
			s.trigger = float64(s.peak) - atr*s.param
		} else {
			s.trigger = float64(s.peak) + atr*s.param
		}
	}
}

// fires reports whether the mark breaches the trigger.
func (s *stopOrder) fires(mark types.Price) bool {
	if s.side == types.Sell {
		return float64(mark) <= s.trigger
	}
	return float64(mark) >= s.trigger
}

// markATR is a Wilder-smoothed average true range over a mark history,
// where each true range collapses to the absolute mark move.
func markATR(marks []types.Price, period int) (float64, bool) {
	if period <= 0 || len(marks) < period+1 {
		return 0, false
	}
	sum := 0.0
	for i := 1; i <= period; i++ {
		sum += math.Abs(float64(marks[i] - marks[i-1]))
	}
	atr := sum / float64(period)
	for i := period + 1; i < len(marks); i++ {
		tr := math.Abs(float64(marks[i] - marks[i-1]))
		atr = (atr*float64(period-1) + tr) / float64(period)
	}
	return atr, true
}

type stopManager struct {
	book       *Book
	pending    []*stopOrder
	evaluating bool
}

func newStopManager(b *Book) *stopManager {
	return &stopManager{book: b}
}

func (m *stopManager) count() int {
	return len(m.pending)
}

// add registers a pending stop. Stops are held off-book; they do not
// participate in matching until triggered.
func (m *stopManager) add(s *stopOrder) {
	m.pending = append(m.pending, s)
}

func (m *stopManager) cancel(id types.OrderID) (types.Quantity, bool) {
	for i, s := range m.pending {
		if s.id == id {
			m.pending = append(m.pending[:i], m.pending[i+1:]...)
			return s.qty, true
		}
	}
	return 0, false
}

// evaluate runs the trigger sweep after a book mutation. Fired stops are
// converted to IOC market orders and re-submitted through the matching
// pipeline; since those fills move the mark, the sweep repeats until a
// pass fires nothing. Re-entrant calls from the inner submits are no-ops.
func (m *stopManager) evaluate() []Trade {
	if m.evaluating {
		return nil
	}
	m.evaluating = true
	defer func() { m.evaluating = false }()

	var out []Trade
	for {
		mark, ok := m.book.Mark()
		if !ok {
			return out
		}
		var fired []*stopOrder
		remaining := m.pending[:0]
		for _, s := range m.pending {
			s.update(mark)
			if s.fires(mark) {
				fired = append(fired, s)
			} else {
				remaining = append(remaining, s)
			}
		}
		m.pending = remaining
		if len(fired) == 0 {
			return out
		}
		for _, s := range fired {
			if _, emptyOk := m.book.sideLevels(s.side.Opposite()).Min(); !emptyOk {
				continue // no liquidity; the triggered stop cancels
			}
			o := &Order{
				ID:        s.id,
				Side:      s.side,
				Quantity:  s.qty,
				Remaining: s.qty,
				Seq:       m.book.nextSeq,
			}
			m.book.nextSeq++
			out = append(out, m.book.match(o, nil)...)
		}
	}
}

// SubmitStopMarket parks a stop-market order until its trigger is breached.
func (b *Book) SubmitStopMarket(side types.Side, trigger types.Price, qty types.Quantity) (SubmitResult, error) {
	if qty == 0 {
		return SubmitResult{}, types.ErrZeroQuantity
	}
	if trigger <= 0 {
		return SubmitResult{}, types.ErrInvalidPrice
	}
	id := b.nextID
	b.nextID++
	b.stops.add(&stopOrder{
		id:      id,
		side:    side,
		qty:     qty,
		trigger: float64(trigger),
		anchor:  types.AnchorFixed,
	})
	return SubmitResult{OrderID: id, Status: types.StatusPending, RestingQuantity: qty}, nil
}

// SubmitTrailingStopMarket parks a trailing stop whose trigger follows the
// best-ever mark according to the anchor kind.
func (b *Book) SubmitTrailingStopMarket(side types.Side, initialTrigger types.Price, qty types.Quantity, anchor types.AnchorKind, param float64, atrPeriod int) (SubmitResult, error) {
	if qty == 0 {
		return SubmitResult{}, types.ErrZeroQuantity
	}
	if initialTrigger <= 0 {
		return SubmitResult{}, types.ErrInvalidPrice
	}
	id := b.nextID
	b.nextID++
	b.stops.add(&stopOrder{
		id:        id,
		side:      side,
		qty:       qty,
		trigger:   float64(initialTrigger),
		trailing:  true,
		anchor:    anchor,
		param:     param,
		atrPeriod: atrPeriod,
	})
	return SubmitResult{OrderID: id, Status: types.StatusPending, RestingQuantity: qty}, nil
}
