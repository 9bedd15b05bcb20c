package execution

import (
	"github.com/shopspring/decimal"
	"github.com/tathienbao/fillsim/internal/types"
)

// SlippageProvider adjusts the average price of a fill report.
// It receives the weighted average including this fill and returns the
// average the report should carry.
type SlippageProvider interface {
	ExecutionPrice(r types.ExecutionReport) decimal.Decimal
}

// NoSlippage leaves the weighted average untouched.
type NoSlippage struct{}

// ExecutionPrice implements SlippageProvider.
func (NoSlippage) ExecutionPrice(r types.ExecutionReport) decimal.Decimal {
	return r.AvgPx
}

// TickSlippage moves this fill's price a fixed number of ticks against the
// order, then folds it into the average by the fill's share of CumQty.
type TickSlippage struct {
	Ticks    int
	TickSize decimal.Decimal
}

// ExecutionPrice implements SlippageProvider.
func (s TickSlippage) ExecutionPrice(r types.ExecutionReport) decimal.Decimal {
	if s.Ticks == 0 || r.CumQty.IsZero() {
		return r.AvgPx
	}

	amount := s.TickSize.Mul(decimal.NewFromInt(int64(s.Ticks)))
	adj := amount.Mul(r.LastQty).Div(r.CumQty)

	dir, err := r.Side.Direction()
	if err != nil {
		return r.AvgPx
	}
	if dir == types.DirectionBuy {
		return r.AvgPx.Add(adj) // Buy higher
	}
	return r.AvgPx.Sub(adj) // Sell lower
}
