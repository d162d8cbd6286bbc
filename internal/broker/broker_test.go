package broker

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/backtest-replay/server/internal/models"
)

func f(v float64) *float64 { return &v }

func d(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func newTestBroker() *Broker {
	b := New(models.BacktestConfig{InitialCash: d(100000)})
	b.now = func() time.Time { return time.Date(2024, 1, 1, 9, 30, 0, 0, time.UTC) }
	return b
}

func TestSubmitRejectsDuplicateID(t *testing.T) {
	b := newTestBroker()
	order := models.Order{ID: "o1", Symbol: "AAPL", Side: models.SideBuy, Effect: models.EffectOpenLong, Type: models.OrderMarket, Quantity: 10}

	first := b.Submit([]models.Order{order})
	if first[0].Status != models.StatusOpen {
		t.Fatalf("expected first submit open, got %s", first[0].Status)
	}

	second := b.Submit([]models.Order{order})
	if second[0].Status != models.StatusRejected {
		t.Fatalf("expected duplicate id rejected, got %s", second[0].Status)
	}
	if len(b.GetOpenOrders()) != 1 {
		t.Fatalf("duplicate submit must not mutate open order count")
	}
}

func TestSubmitRejectsInvalidEffect(t *testing.T) {
	b := newTestBroker()
	order := models.Order{ID: "o1", Symbol: "AAPL", Side: models.SideBuy, Effect: models.EffectCloseLong, Type: models.OrderMarket, Quantity: 10}
	out := b.Submit([]models.Order{order})
	if out[0].Status != models.StatusRejected {
		t.Fatalf("BUY + CLOSE_LONG must be rejected, got %s", out[0].Status)
	}
}

func TestMarketOrderFillsAtQuotePrice(t *testing.T) {
	b := newTestBroker()
	b.Submit([]models.Order{{ID: "o1", Symbol: "AAPL", Side: models.SideBuy, Effect: models.EffectOpenLong, Type: models.OrderMarket, Quantity: 10}})

	batch := models.MarketBatch{
		Timestamp: time.Date(2024, 1, 1, 9, 31, 0, 0, time.UTC),
		Quotes:    []models.Quote{{Symbol: "AAPL", Price: 100, Ask: f(100.5), Bid: f(99.5)}},
	}
	updated, filled := b.ProcessOpenOrders(batch)

	if len(filled) != 1 {
		t.Fatalf("expected 1 fill, got %d", len(filled))
	}
	if filled[0].Price != 100.5 {
		t.Fatalf("buy market order should fill at ask, got %v", filled[0].Price)
	}
	if len(updated) != 1 || updated[0].Status != models.StatusFilled {
		t.Fatalf("expected order fully filled")
	}
	if len(b.GetOpenOrders()) != 0 {
		t.Fatalf("filled order must leave the open book")
	}

	pos := b.GetPosition()
	if len(pos.Long["AAPL"]) != 1 || !pos.Long["AAPL"][0].Quantity.Equal(d(10)) {
		t.Fatalf("expected one long lot of 10, got %+v", pos.Long["AAPL"])
	}
	wantCash := d(100000.0 - 100.5*10)
	if !pos.Cash.Equal(wantCash) {
		t.Fatalf("expected cash %v, got %v", wantCash, pos.Cash)
	}
}

func TestLimitOrderDoesNotFillWhenUnreachable(t *testing.T) {
	b := newTestBroker()
	b.Submit([]models.Order{{ID: "o1", Symbol: "AAPL", Side: models.SideBuy, Effect: models.EffectOpenLong, Type: models.OrderLimit, Quantity: 10, Price: 90}})

	batch := models.MarketBatch{
		Timestamp: time.Now(),
		Quotes:    []models.Quote{{Symbol: "AAPL", Price: 100, Ask: f(100.5), Bid: f(99.5)}},
	}
	_, filled := b.ProcessOpenOrders(batch)
	if len(filled) != 0 {
		t.Fatalf("limit buy at 90 must not fill against ask 100.5")
	}
	if len(b.GetOpenOrders()) != 1 {
		t.Fatalf("unfilled order must remain open")
	}
}

func TestStopOrderConvertsAndFillsInSameBatch(t *testing.T) {
	b := newTestBroker()
	b.Submit([]models.Order{{ID: "o1", Symbol: "AAPL", Side: models.SideBuy, Effect: models.EffectOpenLong, Type: models.OrderStop, Quantity: 5, StopPrice: 100}})

	batch := models.MarketBatch{
		Timestamp: time.Now(),
		Bars:      []models.Bar{{Symbol: "AAPL", Open: 101, High: 102, Low: 99, Close: 101.5, Volume: 100000}},
	}
	updated, filled := b.ProcessOpenOrders(batch)

	if len(filled) != 1 {
		t.Fatalf("stop order triggered by bar.High should fill in the same pass, got %d fills", len(filled))
	}
	if filled[0].Price != 101 {
		t.Fatalf("converted market order should fill at bar open, got %v", filled[0].Price)
	}
	// two updates: the STOP->MARKET conversion, then the fill.
	if len(updated) != 2 {
		t.Fatalf("expected 2 update events (convert + fill), got %d", len(updated))
	}
}

func TestVolumeSlippageCapsPartialFill(t *testing.T) {
	b := New(models.BacktestConfig{
		InitialCash: d(100000),
		Slippage: &models.SlippageModel{
			Volume: &models.VolumeSlippage{MaxParticipation: d(0.1), AllowPartialFills: true},
		},
	})
	b.Submit([]models.Order{{ID: "o1", Symbol: "AAPL", Side: models.SideBuy, Effect: models.EffectOpenLong, Type: models.OrderMarket, Quantity: 1000}})

	batch := models.MarketBatch{
		Timestamp: time.Now(),
		Bars:      []models.Bar{{Symbol: "AAPL", Open: 100, High: 100, Low: 100, Close: 100, Volume: 5000}},
	}
	updated, filled := b.ProcessOpenOrders(batch)
	if len(filled) != 1 || filled[0].Quantity != 500 {
		t.Fatalf("expected partial fill capped at 10%% of bar volume (500), got %+v", filled)
	}
	if updated[0].Status != models.StatusPartial {
		t.Fatalf("expected order left PARTIAL, got %s", updated[0].Status)
	}
	if len(b.GetOpenOrders()) != 1 {
		t.Fatalf("partially filled order must remain open")
	}
}

func TestPriceSlippageWidensBuyPrice(t *testing.T) {
	b := New(models.BacktestConfig{
		InitialCash: d(100000),
		Slippage: &models.SlippageModel{
			Price: &models.PriceSlippage{Fixed: d(100)}, // 100 bps = 1%
		},
	})
	b.Submit([]models.Order{{ID: "o1", Symbol: "AAPL", Side: models.SideBuy, Effect: models.EffectOpenLong, Type: models.OrderMarket, Quantity: 1}})

	batch := models.MarketBatch{
		Timestamp: time.Now(),
		Quotes:    []models.Quote{{Symbol: "AAPL", Price: 100}},
	}
	_, filled := b.ProcessOpenOrders(batch)
	if len(filled) != 1 {
		t.Fatalf("expected a fill")
	}
	want := 101.0
	if filled[0].Price != want {
		t.Fatalf("expected slipped price %v, got %v", want, filled[0].Price)
	}
}

func TestCommissionMinimumApplied(t *testing.T) {
	b := New(models.BacktestConfig{
		InitialCash: d(100000),
		Commission:  &models.CommissionModel{Rate: d(0.0001), Minimum: d(5)},
	})
	b.Submit([]models.Order{{ID: "o1", Symbol: "AAPL", Side: models.SideBuy, Effect: models.EffectOpenLong, Type: models.OrderMarket, Quantity: 1}})
	batch := models.MarketBatch{Timestamp: time.Now(), Quotes: []models.Quote{{Symbol: "AAPL", Price: 100}}}
	_, filled := b.ProcessOpenOrders(batch)
	if filled[0].Commission != 5 {
		t.Fatalf("expected commission floor of 5, got %v", filled[0].Commission)
	}
}

func TestCloseLongConsumesFIFOLots(t *testing.T) {
	b := newTestBroker()
	b.Submit([]models.Order{
		{ID: "o1", Symbol: "AAPL", Side: models.SideBuy, Effect: models.EffectOpenLong, Type: models.OrderMarket, Quantity: 10},
	})
	b.ProcessOpenOrders(models.MarketBatch{Timestamp: time.Now(), Quotes: []models.Quote{{Symbol: "AAPL", Price: 100}}})

	b.Submit([]models.Order{
		{ID: "o2", Symbol: "AAPL", Side: models.SideBuy, Effect: models.EffectOpenLong, Type: models.OrderMarket, Quantity: 5},
	})
	b.ProcessOpenOrders(models.MarketBatch{Timestamp: time.Now(), Quotes: []models.Quote{{Symbol: "AAPL", Price: 110}}})

	b.Submit([]models.Order{
		{ID: "o3", Symbol: "AAPL", Side: models.SideSell, Effect: models.EffectCloseLong, Type: models.OrderMarket, Quantity: 12},
	})
	_, filled := b.ProcessOpenOrders(models.MarketBatch{Timestamp: time.Now(), Quotes: []models.Quote{{Symbol: "AAPL", Price: 120}}})
	if len(filled) != 1 {
		t.Fatalf("expected the close order to fill")
	}

	pos := b.GetPosition()
	// 10 @ 100 consumed fully (pnl 20*10=200) + 2 @ 110 consumed (pnl 10*2=20) = 220.
	if !pos.RealisedPnL.Equal(d(220)) {
		t.Fatalf("expected realised pnl 220, got %v", pos.RealisedPnL)
	}
	if len(pos.Long["AAPL"]) != 1 || !pos.Long["AAPL"][0].Quantity.Equal(d(3)) {
		t.Fatalf("expected 3 shares left in the second lot, got %+v", pos.Long["AAPL"])
	}
}

func TestCancelRemovesOrderFromBook(t *testing.T) {
	b := newTestBroker()
	b.Submit([]models.Order{{ID: "o1", Symbol: "AAPL", Side: models.SideBuy, Effect: models.EffectOpenLong, Type: models.OrderLimit, Quantity: 10, Price: 50}})
	out := b.Cancel([]string{"o1"})
	if len(out) != 1 || out[0].Status != models.StatusCancelled {
		t.Fatalf("expected cancelled order returned")
	}
	if len(b.GetOpenOrders()) != 0 {
		t.Fatalf("cancelled order must leave the book")
	}
}

func TestCancelUnknownIDIsNoop(t *testing.T) {
	b := newTestBroker()
	out := b.Cancel([]string{"missing"})
	if len(out) != 0 {
		t.Fatalf("cancelling an unknown id should produce no output, got %+v", out)
	}
}

func TestAmendFilledOrderIsNoop(t *testing.T) {
	b := newTestBroker()
	b.Submit([]models.Order{{ID: "o1", Symbol: "AAPL", Side: models.SideBuy, Effect: models.EffectOpenLong, Type: models.OrderMarket, Quantity: 10}})
	b.ProcessOpenOrders(models.MarketBatch{Timestamp: time.Now(), Quotes: []models.Quote{{Symbol: "AAPL", Price: 100}}})
	// fully filled and removed; amend should be a no-op since it's gone.
	out := b.Amend([]models.PartialOrder{{ID: "o1", Quantity: f(1)}})
	if len(out) != 0 {
		t.Fatalf("amending a filled/removed order should be a no-op")
	}
}

func TestCancelAllClearsOpenSymbols(t *testing.T) {
	b := newTestBroker()
	b.Submit([]models.Order{
		{ID: "o1", Symbol: "AAPL", Side: models.SideBuy, Effect: models.EffectOpenLong, Type: models.OrderLimit, Quantity: 10, Price: 50},
		{ID: "o2", Symbol: "MSFT", Side: models.SideBuy, Effect: models.EffectOpenLong, Type: models.OrderLimit, Quantity: 5, Price: 40},
	})
	b.CancelAll()
	if len(b.GetOpenOrders()) != 0 {
		t.Fatalf("expected no open orders after cancelAll")
	}
	if len(b.OpenSymbolSet()) != 0 {
		t.Fatalf("expected open symbol set cleared after cancelAll")
	}
}

func TestOpenOrdersPreserveInsertionOrder(t *testing.T) {
	b := newTestBroker()
	ids := []string{"o1", "o2", "o3"}
	for _, id := range ids {
		b.Submit([]models.Order{{ID: id, Symbol: "AAPL", Side: models.SideBuy, Effect: models.EffectOpenLong, Type: models.OrderLimit, Quantity: 1, Price: 1}})
	}
	open := b.GetOpenOrders()
	for i, id := range ids {
		if open[i].ID != id {
			t.Fatalf("expected insertion order %v, got %v", ids, open)
		}
	}
}
