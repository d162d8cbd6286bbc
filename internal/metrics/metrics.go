// Package metrics implements the online performance-statistics engine
// of spec.md §4.5. It is grounded on the teacher's
// src/analysis/core/statistics.go and financial.go: small, defensively
// guarded free functions, composed by a stateful Engine that updates
// its running sums one tick at a time rather than replaying history.
package metrics

import (
	"math"
	"time"

	"github.com/backtest-replay/server/internal/models"
)

// runningStat folds one new sample into a running mean/variance pair using
// Welford's online algorithm, mirroring the teacher's
// CalculateMeanStd's guard against a zero-length sample.
type runningStat struct {
	n    int
	mean float64
	m2   float64
}

func (r *runningStat) add(x float64) {
	r.n++
	delta := x - r.mean
	r.mean += delta / float64(r.n)
	delta2 := x - r.mean
	r.m2 += delta * delta2
}

func (r *runningStat) stddev() float64 {
	if r.n < 2 {
		return 0
	}
	return math.Sqrt(r.m2 / float64(r.n))
}

// equityOf marks a Position to market against a PriceSnapshot: cash
// plus long lots at current price, minus short lots at current price
// (short sale proceeds are already folded into cash at open). The
// Position's money fields are decimal.Decimal; this is the one place
// they cross into float64, since Sharpe/Sortino/drawdown are ratios of
// returns, not currency amounts, and gain nothing from exact decimal
// arithmetic.
func equityOf(pos *models.Position, snap *models.PriceSnapshot) float64 {
	equity := pos.Cash.InexactFloat64()
	for symbol, lots := range pos.Long {
		price, ok := snap.Price[symbol]
		if !ok {
			continue
		}
		for _, lot := range lots {
			equity += lot.Quantity.InexactFloat64() * price
		}
	}
	for symbol, lots := range pos.Short {
		price, ok := snap.Price[symbol]
		if !ok {
			continue
		}
		for _, lot := range lots {
			equity -= lot.Quantity.InexactFloat64() * price
		}
	}
	return equity
}

// Engine accumulates the running statistics behind every MetricsReport.
// Each client holds three (periodic, trade, end-of-day), each fed via
// OnTick by its owner.
type Engine struct {
	initialCash float64
	riskFree    float64

	returns runningStat
	losses  runningStat // magnitudes of negative returns only, for Sortino

	hasEquity      bool
	lastEquity     float64
	peakEquity     float64
	peakTime       time.Time
	maxDrawdown    float64
	inDrawdown     bool
	drawdownStart  time.Time
	maxDDDuration  time.Duration

	lastRealisedPnL float64
	wins, lossCount int
	sumGain, sumLoss float64
}

// New returns an Engine seeded from a client's BacktestConfig.
func New(cfg models.BacktestConfig) *Engine {
	initialCash := cfg.InitialCash.InexactFloat64()
	return &Engine{
		initialCash: initialCash,
		riskFree:    cfg.RiskFree.InexactFloat64(),
		peakEquity:  initialCash,
		lastEquity:  initialCash,
	}
}

// OnTick folds one mark-to-market observation into the running
// statistics: equity return, drawdown, and any newly realised P&L
// since the previous call.
func (e *Engine) OnTick(pos *models.Position, snap *models.PriceSnapshot, ts time.Time) {
	equity := equityOf(pos, snap)

	if e.hasEquity && e.lastEquity != 0 {
		ret := (equity - e.lastEquity) / e.lastEquity
		e.returns.add(ret)
		if ret < 0 {
			e.losses.add(-ret)
		}
	}
	e.lastEquity = equity
	e.hasEquity = true

	if equity > e.peakEquity {
		e.peakEquity = equity
		e.peakTime = ts
		e.inDrawdown = false
	} else if equity < e.peakEquity {
		if !e.inDrawdown {
			e.inDrawdown = true
			e.drawdownStart = e.peakTime
		}
		if dd := ts.Sub(e.drawdownStart); dd > e.maxDDDuration {
			e.maxDDDuration = dd
		}
	}
	if e.peakEquity > 0 {
		if dd := (e.peakEquity - equity) / e.peakEquity; dd > e.maxDrawdown {
			e.maxDrawdown = dd
		}
	}

	realisedPnL := pos.RealisedPnL.InexactFloat64()
	delta := realisedPnL - e.lastRealisedPnL
	switch {
	case delta > 0:
		e.wins++
		e.sumGain += delta
	case delta < 0:
		e.lossCount++
		e.sumLoss += -delta
	}
	e.lastRealisedPnL = realisedPnL
}

// Report snapshots the engine's running state into the wire payload
// for the given report flavor.
func (e *Engine) Report(reportType models.MetricsReportType, pos *models.Position, snap *models.PriceSnapshot, ts time.Time) models.MetricsReport {
	equity := equityOf(pos, snap)

	totalReturn := 0.0
	if e.initialCash != 0 {
		totalReturn = (equity - e.initialCash) / e.initialCash
	}

	sharpe := 0.0
	if std := e.returns.stddev(); std > 0 {
		sharpe = (e.returns.mean - e.riskFree) / std
	}

	sortino := 0.0
	if dd := e.losses.stddev(); dd > 0 {
		sortino = (e.returns.mean - e.riskFree) / dd
	}

	trades := e.wins + e.lossCount
	winRate := 0.0
	if trades > 0 {
		winRate = float64(e.wins) / float64(trades)
	}

	avgGain := 0.0
	if e.wins > 0 {
		avgGain = e.sumGain / float64(e.wins)
	}
	avgLoss := 0.0
	if e.lossCount > 0 {
		avgLoss = e.sumLoss / float64(e.lossCount)
	}
	avgGainLossRatio := 0.0
	if avgLoss > 0 {
		avgGainLossRatio = avgGain / avgLoss
	}

	expectancy := winRate*avgGain - (1-winRate)*avgLoss

	profitFactor := 0.0
	switch {
	case e.sumLoss > 0:
		profitFactor = e.sumGain / e.sumLoss
	case e.sumGain > 0:
		profitFactor = math.Inf(1)
	}

	return models.MetricsReport{
		ReportType:          reportType,
		Timestamp:           ts,
		Equity:              equity,
		TotalReturn:         totalReturn,
		Sharpe:              sharpe,
		Sortino:             sortino,
		WinRate:             winRate,
		AvgGainLossRatio:    avgGainLossRatio,
		Expectancy:          expectancy,
		ProfitFactor:        profitFactor,
		MaxDrawdown:         e.maxDrawdown,
		MaxDrawdownDuration: e.maxDDDuration,
	}
}
