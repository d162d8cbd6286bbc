package metrics

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/backtest-replay/server/internal/models"
)

func d(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func snapAt(ts time.Time, prices map[string]float64) *models.PriceSnapshot {
	return &models.PriceSnapshot{Price: prices, Timestamp: ts}
}

func TestTotalReturnTracksEquityChange(t *testing.T) {
	e := New(models.BacktestConfig{InitialCash: d(1000)})
	pos := models.NewPosition(d(1000))
	pos.Long["AAPL"] = []models.LongLot{{Quantity: d(10), Price: d(100), TotalCost: d(1000)}}
	pos.Cash = decimal.Zero

	ts := time.Date(2024, 1, 1, 9, 30, 0, 0, time.UTC)
	e.OnTick(pos, snapAt(ts, map[string]float64{"AAPL": 110}), ts)

	report := e.Report(models.ReportPeriodic, pos, snapAt(ts, map[string]float64{"AAPL": 110}), ts)
	if report.Equity != 1100 {
		t.Fatalf("expected equity 1100, got %v", report.Equity)
	}
	want := (1100.0 - 1000.0) / 1000.0
	if report.TotalReturn != want {
		t.Fatalf("expected total return %v, got %v", want, report.TotalReturn)
	}
}

func TestDrawdownTracksPeakToTrough(t *testing.T) {
	e := New(models.BacktestConfig{InitialCash: d(1000)})
	pos := models.NewPosition(d(1000))
	pos.Cash = d(1000)

	ts := time.Date(2024, 1, 1, 9, 30, 0, 0, time.UTC)
	e.OnTick(pos, snapAt(ts, nil), ts)

	pos.Cash = d(1200)
	ts2 := ts.Add(time.Minute)
	e.OnTick(pos, snapAt(ts2, nil), ts2)

	pos.Cash = d(900)
	ts3 := ts2.Add(time.Minute)
	e.OnTick(pos, snapAt(ts3, nil), ts3)

	report := e.Report(models.ReportPeriodic, pos, snapAt(ts3, nil), ts3)
	want := (1200.0 - 900.0) / 1200.0
	if report.MaxDrawdown != want {
		t.Fatalf("expected max drawdown %v, got %v", want, report.MaxDrawdown)
	}
	if report.MaxDrawdownDuration <= 0 {
		t.Fatalf("expected non-zero drawdown duration, got %v", report.MaxDrawdownDuration)
	}
}

func TestWinRateAndProfitFactorFromRealisedPnL(t *testing.T) {
	e := New(models.BacktestConfig{InitialCash: d(1000)})
	pos := models.NewPosition(d(1000))
	ts := time.Date(2024, 1, 1, 9, 30, 0, 0, time.UTC)

	pos.RealisedPnL = d(100)
	e.OnTick(pos, snapAt(ts, nil), ts)

	pos.RealisedPnL = d(50) // a loss of 50 relative to the prior realised total
	e.OnTick(pos, snapAt(ts, nil), ts)

	report := e.Report(models.ReportTrade, pos, snapAt(ts, nil), ts)
	if report.WinRate != 0.5 {
		t.Fatalf("expected win rate 0.5, got %v", report.WinRate)
	}
	if report.ProfitFactor != 2 { // 100 gain / 50 loss
		t.Fatalf("expected profit factor 2, got %v", report.ProfitFactor)
	}
}

func TestReportWithNoDataIsZeroedNotNaN(t *testing.T) {
	e := New(models.BacktestConfig{InitialCash: decimal.Zero})
	pos := models.NewPosition(decimal.Zero)
	ts := time.Now()
	report := e.Report(models.ReportPeriodic, pos, snapAt(ts, nil), ts)
	if report.Sharpe != 0 || report.Sortino != 0 || report.TotalReturn != 0 {
		t.Fatalf("expected zeroed report on empty input, got %+v", report)
	}
}
