package types

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

// TestSide_Direction tests the buy/sell collapse and the unsupported-side fault.
func TestSide_Direction(t *testing.T) {
	tests := []struct {
		side    Side
		want    Direction
		wantErr bool
	}{
		{SideBuy, DirectionBuy, false},
		{SideBuyMinus, DirectionBuy, false},
		{SideSell, DirectionSell, false},
		{SideSellShort, DirectionSell, false},
		{SideUnknown, 0, true},
		{Side(99), 0, true},
	}

	for _, tt := range tests {
		got, err := tt.side.Direction()
		if tt.wantErr {
			if !errors.Is(err, ErrUnsupportedSide) {
				t.Errorf("Side(%d).Direction() err = %v, want ErrUnsupportedSide", tt.side, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("Side(%d).Direction() unexpected err: %v", tt.side, err)
		}
		if got != tt.want {
			t.Errorf("Side(%d).Direction() = %d, want %d", tt.side, got, tt.want)
		}
	}
}

func TestParseSide(t *testing.T) {
	if s, err := ParseSide("sell_short"); err != nil || s != SideSellShort {
		t.Errorf("ParseSide(sell_short) = %v, %v", s, err)
	}
	if _, err := ParseSide("hold"); !errors.Is(err, ErrUnsupportedSide) {
		t.Errorf("ParseSide(hold) err = %v, want ErrUnsupportedSide", err)
	}
}

// TestPositionSide_OrderSides tests the opening and closing order sides.
func TestPositionSide_OrderSides(t *testing.T) {
	tests := []struct {
		side      PositionSide
		wantOpen  Side
		wantClose Side
	}{
		{PositionLong, SideBuy, SideSell},
		{PositionShort, SideSell, SideBuy},
		{PositionFlat, SideUnknown, SideUnknown},
	}

	for _, tt := range tests {
		if got := tt.side.OpenSide(); got != tt.wantOpen {
			t.Errorf("%s.OpenSide() = %s, want %s", tt.side, got, tt.wantOpen)
		}
		if got := tt.side.CloseSide(); got != tt.wantClose {
			t.Errorf("%s.CloseSide() = %s, want %s", tt.side, got, tt.wantClose)
		}
	}
}

// TestOrdStatus_IsWorking tests which statuses may still fill.
func TestOrdStatus_IsWorking(t *testing.T) {
	tests := []struct {
		status OrdStatus
		want   bool
	}{
		{OrdStatusPendingNew, true},
		{OrdStatusNew, true},
		{OrdStatusPartiallyFilled, true},
		{OrdStatusReplaced, true},
		{OrdStatusFilled, false},
		{OrdStatusCancelled, false},
		{OrdStatusRejected, false},
		{OrdStatusExpired, false},
	}

	for _, tt := range tests {
		if got := tt.status.IsWorking(); got != tt.want {
			t.Errorf("%s.IsWorking() = %v, want %v", tt.status, got, tt.want)
		}
		if tt.want && tt.status.IsFinal() {
			t.Errorf("%s is both working and final", tt.status)
		}
	}
}

func TestOrdType_IsValid(t *testing.T) {
	for _, ot := range []OrdType{OrdTypeMarket, OrdTypeLimit, OrdTypeStop, OrdTypeTrailingStop, OrdTypeStopLimit} {
		if !ot.IsValid() {
			t.Errorf("%s.IsValid() = false, want true", ot)
		}
	}
	for _, ot := range []OrdType{0, OrdType(99)} {
		if ot.IsValid() {
			t.Errorf("%s.IsValid() = true, want false", ot)
		}
	}
}

func TestParseFillMode(t *testing.T) {
	tests := []struct {
		in      string
		want    FillMode
		wantErr bool
	}{
		{"", FillModeDefault, false},
		{"last_bar_close", FillModeLastBarClose, false},
		{"next_bar_close", FillModeNextBarClose, false},
		{"next_bar_open", FillModeNextBarOpen, false},
		{"mid", FillModeDefault, true},
	}

	for _, tt := range tests {
		got, err := ParseFillMode(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseFillMode(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseFillMode(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

// TestBarFilter_Contains tests bar series filtering.
func TestBarFilter_Contains(t *testing.T) {
	var empty BarFilter
	if !empty.Contains(BarTypeTick, 100) {
		t.Error("empty filter should accept every bar")
	}

	f := BarFilter{{Type: BarTypeTime, Size: 60}, {Type: BarTypeTime, Size: 300}}
	if !f.Contains(BarTypeTime, 300) {
		t.Error("filter should accept 300s time bars")
	}
	if f.Contains(BarTypeTime, 900) {
		t.Error("filter should reject 900s time bars")
	}
	if f.Contains(BarTypeTick, 60) {
		t.Error("filter should reject tick bars")
	}
}

func TestQuote_Mid(t *testing.T) {
	q := Quote{Ask: decimal.RequireFromString("101"), Bid: decimal.RequireFromString("100")}
	if !q.Mid().Equal(decimal.RequireFromString("100.5")) {
		t.Errorf("Mid() = %s, want 100.5", q.Mid())
	}

	askOnly := Quote{Ask: decimal.NewFromInt(7)}
	if !askOnly.Mid().Equal(decimal.NewFromInt(7)) {
		t.Errorf("ask-only Mid() = %s, want 7", askOnly.Mid())
	}
}

// TestOrder_Apply tests that fill reports drive the order's accounting.
func TestOrder_Apply(t *testing.T) {
	o := NewOrder("o-1", "MES", SideBuy, OrdTypeLimit, decimal.NewFromInt(10))

	o.Apply(ExecutionReport{
		ExecType:  ExecTypePartialFill,
		OrdStatus: OrdStatusPartiallyFilled,
		AvgPx:     decimal.NewFromInt(100),
		CumQty:    decimal.NewFromInt(4),
		LeavesQty: decimal.NewFromInt(6),
	})

	if o.Status != OrdStatusPartiallyFilled {
		t.Errorf("Status = %s, want PARTIALLY_FILLED", o.Status)
	}
	if !o.CumQty.Equal(decimal.NewFromInt(4)) || !o.LeavesQty.Equal(decimal.NewFromInt(6)) {
		t.Errorf("cum/leaves = %s/%s, want 4/6", o.CumQty, o.LeavesQty)
	}

	o.Apply(ExecutionReport{
		ExecType:  ExecTypeCancelled,
		OrdStatus: OrdStatusCancelled,
		AvgPx:     decimal.Zero, // cancel never rewrites the average price
		CumQty:    decimal.NewFromInt(4),
		LeavesQty: decimal.NewFromInt(6),
	})
	if !o.AvgPx.Equal(decimal.NewFromInt(100)) {
		t.Errorf("AvgPx = %s, want 100 after cancel", o.AvgPx)
	}
	if !o.Status.IsFinal() {
		t.Error("order should be final after cancel")
	}
}

// TestOrder_Replacement tests that replacement terms carry fill accounting.
func TestOrder_Replacement(t *testing.T) {
	o := NewOrder("o-1", "MES", SideSell, OrdTypeLimit, decimal.NewFromInt(10))
	o.CumQty = decimal.NewFromInt(3)
	o.AvgPx = decimal.NewFromInt(50)
	o.StrategyComponent = ComponentStop

	expire := time.Date(2024, 1, 2, 15, 0, 0, 0, time.UTC)
	r := o.Replacement(ReplaceRequest{
		ClOrdID:     "o-2",
		OrigClOrdID: "o-1",
		Type:        OrdTypeStopLimit,
		Qty:         decimal.NewFromInt(8),
		Price:       decimal.NewFromInt(49),
		StopPx:      decimal.NewFromInt(51),
		TimeInForce: TimeInForceGTD,
		ExpireTime:  expire,
	})

	if r == o {
		t.Fatal("Replacement must return a new order")
	}
	if r.ClOrdID != "o-2" || r.Type != OrdTypeStopLimit || r.Status != OrdStatusReplaced {
		t.Errorf("replacement terms not applied: %+v", r)
	}
	if !r.LeavesQty.Equal(decimal.NewFromInt(5)) {
		t.Errorf("LeavesQty = %s, want 5", r.LeavesQty)
	}
	if !r.AvgPx.Equal(decimal.NewFromInt(50)) || r.StrategyComponent != ComponentStop {
		t.Error("replacement should carry average price and strategy tags")
	}
	if o.ClOrdID != "o-1" {
		t.Error("original order must not be modified")
	}
}

// TestGetInstrumentSpec tests instrument lookup.
func TestGetInstrumentSpec(t *testing.T) {
	spec, ok := GetInstrumentSpec("MES")
	if !ok {
		t.Fatal("MES should be known")
	}
	if !spec.TickSize.Equal(decimal.RequireFromString("0.25")) {
		t.Errorf("MES TickSize = %s, want 0.25", spec.TickSize)
	}

	if _, ok := GetInstrumentSpec("XYZ"); ok {
		t.Error("XYZ should be unknown")
	}
}
