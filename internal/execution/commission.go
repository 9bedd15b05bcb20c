package execution

import (
	"github.com/shopspring/decimal"
	"github.com/tathienbao/fillsim/internal/types"
)

// CommissionData is the commission attached to one execution report.
type CommissionData struct {
	Type   types.CommType
	Amount decimal.Decimal
}

// CommissionProvider computes the commission for a fill.
type CommissionProvider interface {
	CommissionData(r types.ExecutionReport) CommissionData
}

// FixedCommission charges a fixed rate on each fill's LastQty/LastPx.
type FixedCommission struct {
	Type types.CommType
	Rate decimal.Decimal // per unit, fraction of notional, or flat amount
}

// CommissionData implements CommissionProvider.
func (c FixedCommission) CommissionData(r types.ExecutionReport) CommissionData {
	switch c.Type {
	case types.CommTypePerUnit:
		return CommissionData{Type: c.Type, Amount: c.Rate.Mul(r.LastQty)}
	case types.CommTypePercent:
		return CommissionData{Type: c.Type, Amount: c.Rate.Mul(r.LastQty).Mul(r.LastPx)}
	case types.CommTypeAbsolute:
		return CommissionData{Type: c.Type, Amount: c.Rate}
	default:
		return CommissionData{Type: types.CommTypeNone, Amount: decimal.Zero}
	}
}

// NoCommission charges nothing.
type NoCommission struct{}

// CommissionData implements CommissionProvider.
func (NoCommission) CommissionData(types.ExecutionReport) CommissionData {
	return CommissionData{Type: types.CommTypeNone, Amount: decimal.Zero}
}
