package execution

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/fillsim/internal/types"
)

// triggerState is the evaluation state an order carries between ticks.
type triggerState struct {
	armed       bool            // Stop-limit armed; never unarms
	trailing    decimal.Decimal // Trailing-stop trigger price
	trailingSet bool            // Unset means +inf for buys, -inf for sells
}

// orderTerms are the parts of an order the trigger rules read.
type orderTerms struct {
	ordType types.OrdType
	dir     types.Direction
	price   decimal.Decimal // limit
	stopPx  decimal.Decimal // stop, or trailing offset
}

// tighten moves the trailing trigger toward execution: down for buys, up for sells.
func (s triggerState) tighten(dir types.Direction, candidate decimal.Decimal) triggerState {
	switch {
	case !s.trailingSet:
		s.trailing, s.trailingSet = candidate, true
	case dir == types.DirectionBuy && candidate.LessThan(s.trailing):
		s.trailing = candidate
	case dir == types.DirectionSell && candidate.GreaterThan(s.trailing):
		s.trailing = candidate
	}
	return s
}

func limitReached(dir types.Direction, price, limit decimal.Decimal) bool {
	if dir == types.DirectionBuy {
		return price.LessThanOrEqual(limit)
	}
	return price.GreaterThanOrEqual(limit)
}

func stopReached(dir types.Direction, price, stop decimal.Decimal) bool {
	if dir == types.DirectionBuy {
		return price.GreaterThanOrEqual(stop)
	}
	return price.LessThanOrEqual(stop)
}

// evaluatePoint applies the trigger rules to a single observed price.
// It reports whether the order fills at that price.
func evaluatePoint(o orderTerms, s triggerState, price decimal.Decimal) (triggerState, bool, error) {
	switch o.ordType {
	case types.OrdTypeMarket:
		return s, true, nil

	case types.OrdTypeLimit:
		return s, limitReached(o.dir, price, o.price), nil

	case types.OrdTypeStop:
		return s, stopReached(o.dir, price, o.stopPx), nil

	case types.OrdTypeTrailingStop:
		var candidate decimal.Decimal
		if o.dir == types.DirectionBuy {
			candidate = price.Add(o.stopPx)
		} else {
			candidate = price.Sub(o.stopPx)
		}
		s = s.tighten(o.dir, candidate)
		return s, stopReached(o.dir, price, s.trailing), nil

	case types.OrdTypeStopLimit:
		if !s.armed && stopReached(o.dir, price, o.stopPx) {
			s.armed = true
		}
		if !s.armed {
			return s, false, nil
		}
		return s, limitReached(o.dir, price, o.price), nil

	default:
		return s, false, fmt.Errorf("%w: %s", types.ErrUnsupportedOrderType, o.ordType)
	}
}

// evaluateBar applies the trigger rules to the full range of a completed bar.
// Limit and stop-limit fill at the limit price, stop at the stop price and
// trailing stop at the trailing trigger.
func evaluateBar(o orderTerms, s triggerState, bar types.Bar) (triggerState, decimal.Decimal, bool, error) {
	buy := o.dir == types.DirectionBuy

	// The side of the range that would trade through a limit, and the side
	// that would touch a stop.
	limitSide, stopSide := bar.High, bar.Low
	if buy {
		limitSide, stopSide = bar.Low, bar.High
	}

	switch o.ordType {
	case types.OrdTypeLimit:
		return s, o.price, limitReached(o.dir, limitSide, o.price), nil

	case types.OrdTypeStop:
		return s, o.stopPx, stopReached(o.dir, stopSide, o.stopPx), nil

	case types.OrdTypeTrailingStop:
		var candidate decimal.Decimal
		if buy {
			candidate = bar.Low.Add(o.stopPx)
		} else {
			candidate = bar.High.Sub(o.stopPx)
		}
		s = s.tighten(o.dir, candidate)
		return s, s.trailing, stopReached(o.dir, stopSide, s.trailing), nil

	case types.OrdTypeStopLimit:
		if !s.armed && stopReached(o.dir, stopSide, o.stopPx) {
			s.armed = true
		}
		if !s.armed {
			return s, decimal.Zero, false, nil
		}
		return s, o.price, limitReached(o.dir, limitSide, o.price), nil

	default:
		// Market orders are priced by resolvePrice, never by range.
		return s, decimal.Zero, false, fmt.Errorf("%w: %s on bar range", types.ErrUnsupportedOrderType, o.ordType)
	}
}
