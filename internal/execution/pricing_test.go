package execution

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/fillsim/internal/types"
)

func TestResolvePrice(t *testing.T) {
	quote := &types.Quote{Ask: dec("101"), AskSize: dec("5"), Bid: dec("100"), BidSize: dec("7")}
	trade := &types.Trade{Price: dec("100.5")}
	bar := &types.Bar{Open: dec("99"), High: dec("102"), Low: dec("98"), Close: dec("101.5")}
	all := DefaultSimulatedConfig()

	tests := []struct {
		name  string
		cfg   SimulatedConfig
		order types.Order
		mode  types.FillMode
		dir   types.Direction
		tick  tick
		want  string
	}{
		{"buy takes ask", all, types.Order{}, types.FillModeLastBarClose, types.DirectionBuy, tick{quote: quote}, "101"},
		{"sell takes bid", all, types.Order{}, types.FillModeLastBarClose, types.DirectionSell, tick{quote: quote}, "100"},
		{"quote disabled", barCfg(), types.Order{}, types.FillModeLastBarClose, types.DirectionBuy, tick{quote: quote}, "0"},
		{"empty ask", all, types.Order{}, types.FillModeLastBarClose, types.DirectionBuy, tick{quote: &types.Quote{Bid: dec("1")}}, "0"},
		{"trade", all, types.Order{}, types.FillModeLastBarClose, types.DirectionBuy, tick{trade: trade}, "100.5"},
		{"bar close", all, types.Order{}, types.FillModeNextBarClose, types.DirectionBuy, tick{bar: bar}, "101.5"},
		{"bar open", all, types.Order{}, types.FillModeNextBarOpen, types.DirectionBuy, tick{bar: bar}, "99"},
		{"force market prefers close", all, types.Order{ForceMarket: true}, types.FillModeNextBarOpen, types.DirectionBuy, tick{bar: bar}, "101.5"},
		{"stop component before force market", all, types.Order{ForceMarket: true, StrategyComponent: types.ComponentStop, StrategyPrice: dec("97")}, types.FillModeNextBarOpen, types.DirectionSell, tick{bar: bar}, "97"},
		{"unpriced stop component uses bar mode", all, types.Order{StrategyComponent: types.ComponentStop}, types.FillModeNextBarOpen, types.DirectionSell, tick{bar: bar}, "99"},
		{"stop component ignores quote path", all, types.Order{StrategyComponent: types.ComponentStop, StrategyPrice: dec("97")}, types.FillModeLastBarClose, types.DirectionSell, tick{quote: quote}, "100"},
		{"strategy fill wins", all, types.Order{StrategyFill: true, StrategyPrice: dec("42")}, types.FillModeLastBarClose, types.DirectionBuy, tick{quote: quote}, "42"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := resolvePrice(tt.cfg, &tt.order, tt.mode, tt.dir, tt.tick)
			if !got.Equal(dec(tt.want)) {
				t.Errorf("resolvePrice() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestResolveQty(t *testing.T) {
	quote := &types.Quote{Ask: dec("101"), AskSize: dec("5"), Bid: dec("100"), BidSize: dec("7")}
	leaves := dec("20")

	partial := DefaultSimulatedConfig()
	partial.PartialFills = true

	tests := []struct {
		name string
		cfg  SimulatedConfig
		dir  types.Direction
		tick tick
		want string
	}{
		{"partial buy takes ask size", partial, types.DirectionBuy, tick{quote: quote}, "5"},
		{"partial sell takes bid size", partial, types.DirectionSell, tick{quote: quote}, "7"},
		{"partial off", DefaultSimulatedConfig(), types.DirectionBuy, tick{quote: quote}, "20"},
		{"no size on book", partial, types.DirectionBuy, tick{quote: &types.Quote{Ask: dec("1")}}, "20"},
		{"trades fill remaining", partial, types.DirectionBuy, tick{trade: &types.Trade{Price: dec("1"), Size: dec("1")}}, "20"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := resolveQty(tt.cfg, tt.dir, leaves, tt.tick)
			if !got.Equal(dec(tt.want)) {
				t.Errorf("resolveQty() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestFixedCommission(t *testing.T) {
	r := types.ExecutionReport{LastQty: dec("4"), LastPx: dec("50")}

	tests := []struct {
		name     string
		provider CommissionProvider
		wantType types.CommType
		want     string
	}{
		{"per unit", FixedCommission{Type: types.CommTypePerUnit, Rate: dec("0.62")}, types.CommTypePerUnit, "2.48"},
		{"percent", FixedCommission{Type: types.CommTypePercent, Rate: dec("0.001")}, types.CommTypePercent, "0.2"},
		{"absolute", FixedCommission{Type: types.CommTypeAbsolute, Rate: dec("1.5")}, types.CommTypeAbsolute, "1.5"},
		{"none", FixedCommission{}, types.CommTypeNone, "0"},
		{"no commission", NoCommission{}, types.CommTypeNone, "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.provider.CommissionData(r)
			if got.Type != tt.wantType || !got.Amount.Equal(dec(tt.want)) {
				t.Errorf("CommissionData() = %v %s, want %v %s", got.Type, got.Amount, tt.wantType, tt.want)
			}
		})
	}
}

func TestTickSlippage(t *testing.T) {
	slip := TickSlippage{Ticks: 2, TickSize: dec("0.25")}

	tests := []struct {
		name string
		r    types.ExecutionReport
		want string
	}{
		{"buy full fill", types.ExecutionReport{Side: types.SideBuy, AvgPx: dec("100"), LastQty: dec("1"), CumQty: dec("1")}, "100.5"},
		{"sell full fill", types.ExecutionReport{Side: types.SideSell, AvgPx: dec("100"), LastQty: dec("1"), CumQty: dec("1")}, "99.5"},
		{"buy second half", types.ExecutionReport{Side: types.SideBuy, AvgPx: dec("100"), LastQty: dec("1"), CumQty: dec("2")}, "100.25"},
		{"unknown side untouched", types.ExecutionReport{AvgPx: dec("100"), LastQty: dec("1"), CumQty: dec("1")}, "100"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := slip.ExecutionPrice(tt.r); !got.Equal(dec(tt.want)) {
				t.Errorf("ExecutionPrice() = %s, want %s", got, tt.want)
			}
		})
	}

	if got := (NoSlippage{}).ExecutionPrice(types.ExecutionReport{AvgPx: dec("7")}); !got.Equal(dec("7")) {
		t.Errorf("NoSlippage = %s, want 7", got)
	}
	if got := (TickSlippage{}).ExecutionPrice(types.ExecutionReport{AvgPx: dec("7"), CumQty: decimal.NewFromInt(1)}); !got.Equal(dec("7")) {
		t.Errorf("zero ticks = %s, want 7", got)
	}
}

func TestParseFillModes(t *testing.T) {
	if m, err := ParseQuoteFillMode("next"); err != nil || m != QuoteFillNext {
		t.Errorf("ParseQuoteFillMode(next) = %v, %v", m, err)
	}
	if m, err := ParseTradeFillMode("LAST"); err != nil || m != TradeFillLast {
		t.Errorf("ParseTradeFillMode(LAST) = %v, %v", m, err)
	}
	if _, err := ParseQuoteFillMode("soon"); err == nil {
		t.Error("expected error for unknown quote fill mode")
	}
	if _, err := ParseTradeFillMode("soon"); err == nil {
		t.Error("expected error for unknown trade fill mode")
	}
}
