package execution

import (
	"github.com/shopspring/decimal"
	"github.com/tathienbao/fillsim/internal/types"
)

// tick is one market data point handed to price resolution.
// Exactly one field is set.
type tick struct {
	quote *types.Quote
	trade *types.Trade
	bar   *types.Bar
}

// resolvePrice picks the execution price for a tick. Zero means no price is
// available and the tick should be skipped.
func resolvePrice(cfg SimulatedConfig, o *types.Order, mode types.FillMode, dir types.Direction, t tick) decimal.Decimal {
	if o.StrategyFill {
		return o.StrategyPrice
	}

	if t.quote != nil && cfg.FillOnQuote {
		if dir == types.DirectionBuy && !t.quote.Ask.IsZero() {
			return t.quote.Ask
		}
		if dir == types.DirectionSell && !t.quote.Bid.IsZero() {
			return t.quote.Bid
		}
	}

	if t.trade != nil && cfg.FillOnTrade && !t.trade.Price.IsZero() {
		return t.trade.Price
	}

	if t.bar != nil && cfg.FillOnBar {
		// A stop that fired with no price known closes at the bar price.
		if o.StrategyComponent == types.ComponentStop && o.StrategyPrice.IsPositive() {
			return o.StrategyPrice
		}
		if o.ForceMarket {
			if !t.bar.Close.IsZero() {
				return t.bar.Close
			}
			if !t.bar.Open.IsZero() {
				return t.bar.Open
			}
		}
		switch mode {
		case types.FillModeLastBarClose, types.FillModeNextBarClose:
			return t.bar.Close
		case types.FillModeNextBarOpen:
			return t.bar.Open
		}
	}

	return decimal.Zero
}

// resolveQty picks the tentative fill quantity. With partial fills enabled a
// quote fills at most the size on the opposite side of the book.
func resolveQty(cfg SimulatedConfig, dir types.Direction, leaves decimal.Decimal, t tick) decimal.Decimal {
	if t.quote != nil && cfg.PartialFills {
		if dir == types.DirectionBuy && t.quote.AskSize.IsPositive() {
			return t.quote.AskSize
		}
		if dir == types.DirectionSell && t.quote.BidSize.IsPositive() {
			return t.quote.BidSize
		}
	}
	return leaves
}
