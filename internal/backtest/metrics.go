package backtest

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/fillsim/internal/strategy"
)

// Performance summarises closed trades and the equity curve.
type Performance struct {
	WinningTrades int
	LosingTrades  int
	WinRate       decimal.Decimal // As ratio
	ProfitFactor  decimal.Decimal // Gross profit / gross loss; zero without losses
	AverageWin    decimal.Decimal
	AverageLoss   decimal.Decimal // Negative
	Expectancy    decimal.Decimal // Net P&L expected per trade
	MaxDrawdown   decimal.Decimal // As ratio
	SharpeRatio   decimal.Decimal // Annualized from daily closing equity
}

// ComputePerformance derives performance figures. riskFreeRate is annual
// (0.05 for 5%).
func ComputePerformance(trades []strategy.Trade, curve []EquityPoint, riskFreeRate decimal.Decimal) Performance {
	var (
		p           Performance
		grossProfit = decimal.Zero
		grossLoss   = decimal.Zero
	)

	for _, trade := range trades {
		switch {
		case trade.NetPL.IsPositive():
			p.WinningTrades++
			grossProfit = grossProfit.Add(trade.NetPL)
		case trade.NetPL.IsNegative():
			p.LosingTrades++
			grossLoss = grossLoss.Add(trade.NetPL.Abs())
		}
	}

	if n := len(trades); n > 0 {
		p.WinRate = decimal.NewFromInt(int64(p.WinningTrades)).Div(decimal.NewFromInt(int64(n)))
		p.Expectancy = grossProfit.Sub(grossLoss).Div(decimal.NewFromInt(int64(n)))
	}
	if p.WinningTrades > 0 {
		p.AverageWin = grossProfit.Div(decimal.NewFromInt(int64(p.WinningTrades)))
	}
	if p.LosingTrades > 0 {
		p.AverageLoss = grossLoss.Neg().Div(decimal.NewFromInt(int64(p.LosingTrades)))
	}
	if grossLoss.IsPositive() {
		p.ProfitFactor = grossProfit.Div(grossLoss)
	}

	p.MaxDrawdown = maxDrawdown(curve)
	p.SharpeRatio = sharpeRatio(dailyReturns(curve), riskFreeRate)
	return p
}

func maxDrawdown(curve []EquityPoint) decimal.Decimal {
	if len(curve) == 0 {
		return decimal.Zero
	}

	hwm := curve[0].Equity
	maxDD := decimal.Zero

	for _, point := range curve {
		if point.Equity.GreaterThan(hwm) {
			hwm = point.Equity
		}
		if hwm.IsPositive() {
			dd := hwm.Sub(point.Equity).Div(hwm)
			if dd.GreaterThan(maxDD) {
				maxDD = dd
			}
		}
	}

	return maxDD
}

// dailyReturns takes the last equity point of each UTC day and returns the
// day-over-day changes.
func dailyReturns(curve []EquityPoint) []decimal.Decimal {
	var closes []decimal.Decimal
	var day time.Time
	for _, point := range curve {
		d := point.Timestamp.UTC().Truncate(24 * time.Hour)
		if len(closes) > 0 && d.Equal(day) {
			closes[len(closes)-1] = point.Equity
			continue
		}
		day = d
		closes = append(closes, point.Equity)
	}

	if len(closes) < 2 {
		return nil
	}
	returns := make([]decimal.Decimal, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i-1].IsZero() {
			continue
		}
		returns = append(returns, closes[i].Sub(closes[i-1]).Div(closes[i-1]))
	}
	return returns
}

// sharpeRatio is (mean - rf) / stddev * sqrt(252) over daily returns.
func sharpeRatio(returns []decimal.Decimal, riskFreeRate decimal.Decimal) decimal.Decimal {
	if len(returns) < 2 {
		return decimal.Zero
	}

	stdDev := standardDeviation(returns)
	if stdDev.IsZero() {
		return decimal.Zero
	}

	dailyRf := riskFreeRate.Div(decimal.NewFromInt(252))
	excess := mean(returns).Sub(dailyRf)
	return excess.Div(stdDev).Mul(decimal.NewFromFloat(math.Sqrt(252)))
}

func mean(values []decimal.Decimal) decimal.Decimal {
	if len(values) == 0 {
		return decimal.Zero
	}

	sum := decimal.Zero
	for _, v := range values {
		sum = sum.Add(v)
	}
	return sum.Div(decimal.NewFromInt(int64(len(values))))
}

// standardDeviation is the sample standard deviation.
func standardDeviation(values []decimal.Decimal) decimal.Decimal {
	if len(values) < 2 {
		return decimal.Zero
	}

	m := mean(values)
	sumSquares := decimal.Zero
	for _, v := range values {
		diff := v.Sub(m)
		sumSquares = sumSquares.Add(diff.Mul(diff))
	}

	variance := sumSquares.Div(decimal.NewFromInt(int64(len(values) - 1))).InexactFloat64()
	if variance <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromFloat(math.Sqrt(variance))
}
