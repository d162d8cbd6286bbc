package session

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/backtest-replay/server/internal/models"
)

func d(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func TestAddSubscriptionsFrozenDuringReplay(t *testing.T) {
	cs := NewClientSession("c1", models.BacktestConfig{InitialCash: d(1000)}, nil)
	added := cs.AddSubscriptions([]string{"AAPL", "MSFT"}, true)
	if added != nil {
		t.Fatalf("expected nil during active replay, got %v", added)
	}
	if len(cs.Subscriptions()) != 0 {
		t.Fatalf("subscriptions must not change during active replay")
	}

	added = cs.AddSubscriptions([]string{"AAPL", "AAPL"}, false)
	if len(added) != 1 || added[0] != "AAPL" {
		t.Fatalf("expected AAPL added once, got %v", added)
	}
}

func TestFilterPassesEverythingForWildcard(t *testing.T) {
	cs := NewClientSession("c1", models.BacktestConfig{InitialCash: d(1000)}, nil)
	cs.AddSubscriptions([]string{"*"}, false)

	batch := models.MarketBatch{Quotes: []models.Quote{{Symbol: "AAPL", Price: 1}, {Symbol: "MSFT", Price: 2}}}
	filtered := cs.Filter(batch)
	if len(filtered.Quotes) != 2 {
		t.Fatalf("wildcard subscriber should see the full batch")
	}
}

func TestFilterRestrictsToSubscribedSymbols(t *testing.T) {
	cs := NewClientSession("c1", models.BacktestConfig{InitialCash: d(1000)}, nil)
	cs.AddSubscriptions([]string{"AAPL"}, false)

	batch := models.MarketBatch{Quotes: []models.Quote{{Symbol: "AAPL", Price: 1}, {Symbol: "MSFT", Price: 2}}}
	filtered := cs.Filter(batch)
	if len(filtered.Quotes) != 1 || filtered.Quotes[0].Symbol != "AAPL" {
		t.Fatalf("expected only AAPL, got %+v", filtered.Quotes)
	}
}

func TestEndOfDayRolloverEmitsOncePerDayBoundary(t *testing.T) {
	cs := NewClientSession("c1", models.BacktestConfig{InitialCash: d(1000)}, nil)
	cs.EODReport = true

	day1 := time.Date(2024, 1, 1, 15, 0, 0, 0, time.UTC)
	snap := models.NewPriceSnapshot()
	if eod, _ := cs.ProcessMarketData(models.MarketBatch{Timestamp: day1}, snap); eod != nil {
		t.Fatalf("expected no EOD report on the first observed day")
	}

	day1b := time.Date(2024, 1, 1, 20, 0, 0, 0, time.UTC)
	if eod, _ := cs.ProcessMarketData(models.MarketBatch{Timestamp: day1b}, snap); eod != nil {
		t.Fatalf("expected no EOD report while still within day 1")
	}

	day2 := time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC)
	eod, _ := cs.ProcessMarketData(models.MarketBatch{Timestamp: day2}, snap)
	if eod == nil {
		t.Fatalf("expected an EOD report on day rollover")
	}
	if eod.ReportType != models.ReportEndOfDay {
		t.Fatalf("expected ENDOFDAY report type, got %s", eod.ReportType)
	}
}

func TestPeriodicReportFiresEveryNBatches(t *testing.T) {
	cs := NewClientSession("c1", models.BacktestConfig{InitialCash: d(1000)}, nil)
	cs.PeriodicPeriod = 2
	snap := models.NewPriceSnapshot()
	ts := time.Now()

	_, p1 := cs.ProcessMarketData(models.MarketBatch{Timestamp: ts}, snap)
	if p1 != nil {
		t.Fatalf("expected no periodic report on first batch")
	}
	_, p2 := cs.ProcessMarketData(models.MarketBatch{Timestamp: ts}, snap)
	if p2 == nil {
		t.Fatalf("expected a periodic report on the 2nd batch")
	}
}
