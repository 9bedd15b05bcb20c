// Package types defines shared types used across the fill simulator.
package types

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Side represents the side of an order.
type Side int

const (
	SideUnknown Side = iota
	SideBuy
	SideBuyMinus
	SideSell
	SideSellShort
)

func (s Side) String() string {
	switch s {
	case SideBuy:
		return "BUY"
	case SideBuyMinus:
		return "BUY_MINUS"
	case SideSell:
		return "SELL"
	case SideSellShort:
		return "SELL_SHORT"
	default:
		return fmt.Sprintf("SIDE(%d)", int(s))
	}
}

// Direction collapses an order side to buy or sell.
// Returns ErrUnsupportedSide for anything outside the four known sides.
func (s Side) Direction() (Direction, error) {
	switch s {
	case SideBuy, SideBuyMinus:
		return DirectionBuy, nil
	case SideSell, SideSellShort:
		return DirectionSell, nil
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedSide, s)
	}
}

// ParseSide parses a side name as written in config and data files.
func ParseSide(s string) (Side, error) {
	switch s {
	case "buy", "BUY":
		return SideBuy, nil
	case "buy_minus", "BUY_MINUS":
		return SideBuyMinus, nil
	case "sell", "SELL":
		return SideSell, nil
	case "sell_short", "SELL_SHORT":
		return SideSellShort, nil
	default:
		return SideUnknown, fmt.Errorf("%w: %q", ErrUnsupportedSide, s)
	}
}

// Direction is the buy/sell collapse of Side used by trigger rules.
type Direction int

const (
	DirectionBuy Direction = iota + 1
	DirectionSell
)

// PositionSide represents the direction of an open position.
type PositionSide int

const (
	PositionFlat PositionSide = iota
	PositionLong
	PositionShort
)

func (s PositionSide) String() string {
	switch s {
	case PositionLong:
		return "LONG"
	case PositionShort:
		return "SHORT"
	default:
		return "FLAT"
	}
}

// CloseSide returns the order side that closes a position of this side.
func (s PositionSide) CloseSide() Side {
	switch s {
	case PositionLong:
		return SideSell
	case PositionShort:
		return SideBuy
	default:
		return SideUnknown
	}
}

// OpenSide returns the order side that opens a position of this side.
func (s PositionSide) OpenSide() Side {
	switch s {
	case PositionLong:
		return SideBuy
	case PositionShort:
		return SideSell
	default:
		return SideUnknown
	}
}

// OrdType represents the order type.
type OrdType int

const (
	OrdTypeMarket OrdType = iota + 1
	OrdTypeLimit
	OrdTypeStop
	OrdTypeTrailingStop
	OrdTypeStopLimit
)

func (t OrdType) String() string {
	switch t {
	case OrdTypeMarket:
		return "MARKET"
	case OrdTypeLimit:
		return "LIMIT"
	case OrdTypeStop:
		return "STOP"
	case OrdTypeTrailingStop:
		return "TRAILING_STOP"
	case OrdTypeStopLimit:
		return "STOP_LIMIT"
	default:
		return fmt.Sprintf("ORDTYPE(%d)", int(t))
	}
}

// IsValid reports whether t is a known order type.
func (t OrdType) IsValid() bool {
	return t >= OrdTypeMarket && t <= OrdTypeStopLimit
}

// TimeInForce represents how long an order stays working.
type TimeInForce int

const (
	TimeInForceDay TimeInForce = iota
	TimeInForceGTC
	TimeInForceIOC
	TimeInForceFOK
	TimeInForceGTD // Good till date, expires at Order.ExpireTime
)

func (t TimeInForce) String() string {
	switch t {
	case TimeInForceDay:
		return "DAY"
	case TimeInForceGTC:
		return "GTC"
	case TimeInForceIOC:
		return "IOC"
	case TimeInForceFOK:
		return "FOK"
	case TimeInForceGTD:
		return "GTD"
	default:
		return "UNKNOWN"
	}
}

// RequiresExpiry reports whether the order needs an expiry reminder.
func (t TimeInForce) RequiresExpiry() bool {
	return t == TimeInForceGTD
}

// FillMode selects which point of a bar determines the execution price.
type FillMode int

const (
	FillModeDefault FillMode = iota // Use the simulator default
	FillModeLastBarClose
	FillModeNextBarClose
	FillModeNextBarOpen
)

func (m FillMode) String() string {
	switch m {
	case FillModeLastBarClose:
		return "last_bar_close"
	case FillModeNextBarClose:
		return "next_bar_close"
	case FillModeNextBarOpen:
		return "next_bar_open"
	default:
		return "default"
	}
}

// ParseFillMode parses a bar fill mode name.
func ParseFillMode(s string) (FillMode, error) {
	switch s {
	case "", "default":
		return FillModeDefault, nil
	case "last_bar_close":
		return FillModeLastBarClose, nil
	case "next_bar_close":
		return FillModeNextBarClose, nil
	case "next_bar_open":
		return FillModeNextBarOpen, nil
	default:
		return FillModeDefault, fmt.Errorf("unknown bar fill mode %q", s)
	}
}

// OrdStatus represents the state of an order.
type OrdStatus int

const (
	OrdStatusPendingNew OrdStatus = iota
	OrdStatusNew
	OrdStatusPartiallyFilled
	OrdStatusFilled
	OrdStatusCancelled
	OrdStatusReplaced
	OrdStatusRejected
	OrdStatusExpired
)

func (s OrdStatus) String() string {
	switch s {
	case OrdStatusPendingNew:
		return "PENDING_NEW"
	case OrdStatusNew:
		return "NEW"
	case OrdStatusPartiallyFilled:
		return "PARTIALLY_FILLED"
	case OrdStatusFilled:
		return "FILLED"
	case OrdStatusCancelled:
		return "CANCELLED"
	case OrdStatusReplaced:
		return "REPLACED"
	case OrdStatusRejected:
		return "REJECTED"
	case OrdStatusExpired:
		return "EXPIRED"
	default:
		return "UNKNOWN"
	}
}

// IsWorking returns true if the order may still receive fills.
func (s OrdStatus) IsWorking() bool {
	switch s {
	case OrdStatusPendingNew, OrdStatusNew, OrdStatusPartiallyFilled, OrdStatusReplaced:
		return true
	default:
		return false
	}
}

// IsFinal returns true if the order is in a terminal state.
func (s OrdStatus) IsFinal() bool {
	switch s {
	case OrdStatusFilled, OrdStatusCancelled, OrdStatusRejected, OrdStatusExpired:
		return true
	default:
		return false
	}
}

// ExecType identifies the kind of execution report.
type ExecType int

const (
	ExecTypePartialFill ExecType = iota + 1
	ExecTypeFill
	ExecTypeCancelled
	ExecTypeReplace
)

func (t ExecType) String() string {
	switch t {
	case ExecTypePartialFill:
		return "PARTIAL_FILL"
	case ExecTypeFill:
		return "FILL"
	case ExecTypeCancelled:
		return "CANCELLED"
	case ExecTypeReplace:
		return "REPLACE"
	default:
		return "UNKNOWN"
	}
}

// IsTerminal returns true for reports that end an order's life.
func (t ExecType) IsTerminal() bool {
	return t == ExecTypeFill || t == ExecTypeCancelled
}

// CommType identifies how a commission amount was computed.
type CommType int

const (
	CommTypeNone CommType = iota
	CommTypePerUnit
	CommTypePercent
	CommTypeAbsolute
)

func (t CommType) String() string {
	switch t {
	case CommTypePerUnit:
		return "per_unit"
	case CommTypePercent:
		return "percent"
	case CommTypeAbsolute:
		return "absolute"
	default:
		return "none"
	}
}

// ParseCommType parses a commission type name.
func ParseCommType(s string) (CommType, error) {
	switch s {
	case "", "none":
		return CommTypeNone, nil
	case "per_unit":
		return CommTypePerUnit, nil
	case "percent":
		return CommTypePercent, nil
	case "absolute":
		return CommTypeAbsolute, nil
	default:
		return CommTypeNone, fmt.Errorf("unknown commission type %q", s)
	}
}

// Quote is a top of book update.
type Quote struct {
	Time    time.Time
	Ask     decimal.Decimal
	AskSize decimal.Decimal
	Bid     decimal.Decimal
	BidSize decimal.Decimal
}

// Mid returns the quote midpoint, or the non-zero side when one side is empty.
func (q Quote) Mid() decimal.Decimal {
	switch {
	case q.Ask.IsZero():
		return q.Bid
	case q.Bid.IsZero():
		return q.Ask
	default:
		return q.Ask.Add(q.Bid).Div(decimal.NewFromInt(2))
	}
}

// Trade is a last-sale print.
type Trade struct {
	Time  time.Time
	Price decimal.Decimal
	Size  decimal.Decimal
}

// BarType identifies how a bar was built.
type BarType int

const (
	BarTypeTime BarType = iota + 1
	BarTypeTick
	BarTypeVolume
	BarTypeRange
)

func (t BarType) String() string {
	switch t {
	case BarTypeTime:
		return "time"
	case BarTypeTick:
		return "tick"
	case BarTypeVolume:
		return "volume"
	case BarTypeRange:
		return "range"
	default:
		return "unknown"
	}
}

// ParseBarType parses a bar type name.
func ParseBarType(s string) (BarType, error) {
	switch s {
	case "", "time":
		return BarTypeTime, nil
	case "tick":
		return BarTypeTick, nil
	case "volume":
		return BarTypeVolume, nil
	case "range":
		return BarTypeRange, nil
	default:
		return 0, fmt.Errorf("unknown bar type %q", s)
	}
}

// Bar is an OHLC bar. Size is the bar length in its type's unit
// (seconds for time bars).
type Bar struct {
	Time   time.Time
	Type   BarType
	Size   int64
	Open   decimal.Decimal
	High   decimal.Decimal
	Low    decimal.Decimal
	Close  decimal.Decimal
	Volume int64
}

// BarSpec names a bar series by type and size.
type BarSpec struct {
	Type BarType
	Size int64
}

// BarFilter is a set of accepted bar series. An empty filter accepts every bar.
type BarFilter []BarSpec

// Contains reports whether bars of the given type and size pass the filter.
func (f BarFilter) Contains(barType BarType, size int64) bool {
	if len(f) == 0 {
		return true
	}
	for _, spec := range f {
		if spec.Type == barType && spec.Size == size {
			return true
		}
	}
	return false
}

// Order is a single working order as seen by the fill simulator.
// The simulator reads it; report consumers mutate it through Apply.
type Order struct {
	ClOrdID     string
	Symbol      string
	Side        Side
	Type        OrdType
	Qty         decimal.Decimal
	Price       decimal.Decimal // Limit price
	StopPx      decimal.Decimal // Stop price, or trailing offset for trailing stops
	TimeInForce TimeInForce
	ExpireTime  time.Time
	Status      OrdStatus

	CumQty    decimal.Decimal
	LeavesQty decimal.Decimal
	AvgPx     decimal.Decimal

	StopLimitArmed bool
	ForceMarket    bool
	FillMode       FillMode

	StrategyComponent string // Originating component, e.g. ComponentStop
	StrategyFill      bool   // StrategyPrice pins the fill price
	StrategyPrice     decimal.Decimal

	Currency string
	Text     string
}

// ComponentStop tags orders sent by a position stop.
const ComponentStop = "Stop"

// NewOrder returns an order in PendingNew state with leaves set to qty.
func NewOrder(clOrdID, symbol string, side Side, ordType OrdType, qty decimal.Decimal) *Order {
	return &Order{
		ClOrdID:   clOrdID,
		Symbol:    symbol,
		Side:      side,
		Type:      ordType,
		Qty:       qty,
		LeavesQty: qty,
		Status:    OrdStatusPendingNew,
	}
}

// Apply updates the order from an execution report addressed to it.
func (o *Order) Apply(r ExecutionReport) {
	switch r.ExecType {
	case ExecTypeReplace:
		o.ClOrdID = r.ClOrdID
		o.Type = r.OrdType
		o.Qty = r.OrderQty
		o.Price = r.Price
		o.StopPx = r.StopPx
		o.TimeInForce = r.TimeInForce
	case ExecTypePartialFill, ExecTypeFill:
		o.AvgPx = r.AvgPx
	}
	o.Status = r.OrdStatus
	o.CumQty = r.CumQty
	o.LeavesQty = r.LeavesQty
}

// ReplaceRequest asks to replace a working order with new terms.
type ReplaceRequest struct {
	ClOrdID     string
	OrigClOrdID string
	Type        OrdType
	Qty         decimal.Decimal
	Price       decimal.Decimal
	StopPx      decimal.Decimal
	TimeInForce TimeInForce
	ExpireTime  time.Time
}

// Replacement returns a copy of the order carrying the request's terms.
// Fill accounting and strategy tags carry over.
func (o *Order) Replacement(req ReplaceRequest) *Order {
	r := *o
	r.ClOrdID = req.ClOrdID
	r.Type = req.Type
	r.Qty = req.Qty
	r.Price = req.Price
	r.StopPx = req.StopPx
	r.TimeInForce = req.TimeInForce
	r.ExpireTime = req.ExpireTime
	r.LeavesQty = req.Qty.Sub(o.CumQty)
	r.Status = OrdStatusReplaced
	return &r
}

// ExecutionReport is emitted by the simulator for every order state change.
type ExecutionReport struct {
	ExecID       string
	TransactTime time.Time
	ClOrdID      string
	OrigClOrdID  string
	ExecType     ExecType
	OrdStatus    OrdStatus
	Symbol       string
	Side         Side
	OrdType      OrdType
	AvgPx        decimal.Decimal
	OrderQty     decimal.Decimal
	LastQty      decimal.Decimal
	CumQty       decimal.Decimal
	LeavesQty    decimal.Decimal
	LastPx       decimal.Decimal
	Price        decimal.Decimal
	StopPx       decimal.Decimal
	Currency     string
	Text         string
	CommType     CommType
	Commission   decimal.Decimal
	TimeInForce  TimeInForce
}

// Position represents an open position.
type Position struct {
	ID         string
	Symbol     string
	Side       PositionSide
	Qty        decimal.Decimal
	EntryPrice decimal.Decimal
	EntryTime  time.Time
	RealizedPL decimal.Decimal // Gross of commission
	Commission decimal.Decimal
}

// InstrumentSpec defines the specifications of a trading instrument.
type InstrumentSpec struct {
	Symbol     string
	TickSize   decimal.Decimal // Minimum price movement
	PointValue decimal.Decimal // Currency value per point per unit
	Currency   string
}

// Common instrument specifications.
var (
	InstrumentMES = InstrumentSpec{
		Symbol:     "MES",
		TickSize:   decimal.RequireFromString("0.25"),
		PointValue: decimal.RequireFromString("5.00"),
		Currency:   "USD",
	}

	InstrumentMGC = InstrumentSpec{
		Symbol:     "MGC",
		TickSize:   decimal.RequireFromString("0.10"),
		PointValue: decimal.RequireFromString("10.00"),
		Currency:   "USD",
	}
)

// GetInstrumentSpec returns the specification for a symbol.
func GetInstrumentSpec(symbol string) (InstrumentSpec, bool) {
	switch symbol {
	case "MES":
		return InstrumentMES, true
	case "MGC":
		return InstrumentMGC, true
	default:
		return InstrumentSpec{}, false
	}
}
