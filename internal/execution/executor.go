// Package execution simulates the matching of working orders against
// streamed market data and emits execution reports.
package execution

import (
	"github.com/tathienbao/fillsim/internal/types"
)

// Executor accepts order lifecycle requests.
type Executor interface {
	// Send starts simulating an order.
	Send(order *types.Order) error

	// Cancel withdraws a working order. Unknown ids are ignored.
	Cancel(clOrdID string) error

	// Replace swaps a working order for one with new terms.
	// Unknown OrigClOrdIDs are ignored.
	Replace(req types.ReplaceRequest) error
}

// ReportHandler is called for every execution report, in emission order.
// It runs without simulator locks held and may call back into the Executor.
type ReportHandler func(r types.ExecutionReport)
