package protocol

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/backtest-replay/server/internal/models"
	"github.com/backtest-replay/server/internal/timeutil"
)

// Codec translates between the domain model (time.Time) and the wire
// representation (integer epoch in a negotiated unit), per spec.md §6:
// "Timestamps on the wire are always integers ... on decode they
// become local absolute times."
type Codec struct {
	Unit timeutil.EpochUnit
	Loc  *time.Location
}

func (c Codec) epoch(t time.Time) int64 {
	v, err := timeutil.FromTime(t, c.Unit)
	if err != nil {
		return t.Unix()
	}
	return v
}

// Epoch exposes epoch for callers outside this package that need to
// stamp a single timestamp (e.g. a login/logout result) without
// building a whole wire struct.
func (c Codec) Epoch(t time.Time) int64 { return c.epoch(t) }

// DecodeTime converts a wire epoch integer back to an absolute time in
// the codec's configured timezone.
func (c Codec) DecodeTime(epoch int64) time.Time {
	t, err := timeutil.ToTime(epoch, c.Unit, c.Loc)
	if err != nil {
		return time.Unix(epoch, 0)
	}
	return t
}

// QuoteWire is the wire shape of models.Quote.
type QuoteWire struct {
	Symbol    string   `json:"symbol"`
	Timestamp int64    `json:"timestamp"`
	Price     float64  `json:"price"`
	Bid       *float64 `json:"bid,omitempty"`
	Ask       *float64 `json:"ask,omitempty"`
	Volume    *float64 `json:"volume,omitempty"`
}

// BarWire is the wire shape of models.Bar.
type BarWire struct {
	Symbol    string  `json:"symbol"`
	Timestamp int64   `json:"timestamp"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
}

// BatchWire is the wire shape of models.MarketBatch.
type BatchWire struct {
	Timestamp int64       `json:"timestamp"`
	Quotes    []QuoteWire `json:"quotes,omitempty"`
	Bars      []BarWire   `json:"bars,omitempty"`
}

// Batch converts a MarketBatch to its wire shape.
func (c Codec) Batch(b models.MarketBatch) BatchWire {
	out := BatchWire{Timestamp: c.epoch(b.Timestamp)}
	for _, q := range b.Quotes {
		out.Quotes = append(out.Quotes, QuoteWire{
			Symbol: q.Symbol, Timestamp: c.epoch(q.Timestamp), Price: q.Price,
			Bid: q.Bid, Ask: q.Ask, Volume: q.Volume,
		})
	}
	for _, bar := range b.Bars {
		out.Bars = append(out.Bars, BarWire{
			Symbol: bar.Symbol, Timestamp: c.epoch(bar.Timestamp),
			Open: bar.Open, High: bar.High, Low: bar.Low, Close: bar.Close, Volume: bar.Volume,
		})
	}
	return out
}

// OrderStateWire is the wire shape of models.OrderState.
type OrderStateWire struct {
	ID                string             `json:"id"`
	Symbol            string             `json:"symbol"`
	Side              models.OrderSide   `json:"side"`
	Effect            models.OrderEffect `json:"effect"`
	Type              models.OrderType   `json:"type"`
	Quantity          float64            `json:"quantity"`
	Price             float64            `json:"price,omitempty"`
	StopPrice         float64            `json:"stopPrice,omitempty"`
	FilledQuantity    float64            `json:"filledQuantity"`
	RemainingQuantity float64            `json:"remainingQuantity"`
	Status            models.OrderStatus `json:"status"`
	Modified          int64              `json:"modified"`
}

// OrderStates converts an OrderState slice to its wire shape.
func (c Codec) OrderStates(list []models.OrderState) []OrderStateWire {
	out := make([]OrderStateWire, len(list))
	for i, s := range list {
		out[i] = OrderStateWire{
			ID: s.ID, Symbol: s.Symbol, Side: s.Side, Effect: s.Effect, Type: s.Type,
			Quantity: s.Quantity, Price: s.Price, StopPrice: s.StopPrice,
			FilledQuantity: s.FilledQuantity, RemainingQuantity: s.RemainingQuantity,
			Status: s.Status, Modified: c.epoch(s.Modified),
		}
	}
	return out
}

// FillWire is the wire shape of models.Fill.
type FillWire struct {
	ID         string           `json:"id"`
	OrderID    string           `json:"orderId"`
	Symbol     string           `json:"symbol"`
	Side       models.OrderSide `json:"side"`
	Price      float64          `json:"price"`
	Quantity   float64          `json:"quantity"`
	Commission float64          `json:"commission"`
	Created    int64            `json:"created"`
}

// Fills converts a Fill slice to its wire shape.
func (c Codec) Fills(list []models.Fill) []FillWire {
	out := make([]FillWire, len(list))
	for i, f := range list {
		out[i] = FillWire{
			ID: f.ID, OrderID: f.OrderID, Symbol: f.Symbol, Side: f.Side,
			Price: f.Price, Quantity: f.Quantity, Commission: f.Commission, Created: c.epoch(f.Created),
		}
	}
	return out
}

// OrderEventPayload is the payload of an "order" event, spec.md §6.
type OrderEventPayload struct {
	Updated []OrderStateWire `json:"updated"`
	Fill    []FillWire       `json:"fill"`
}

// PositionWire is the wire shape of models.Position. Cash/commission/PnL
// stay decimal.Decimal on the wire: it marshals to a bare JSON number
// like float64 would, so there is nothing to convert.
type PositionWire struct {
	Cash            decimal.Decimal              `json:"cash"`
	Long            map[string][]models.LongLot  `json:"long"`
	Short           map[string][]models.ShortLot `json:"short"`
	TotalCommission decimal.Decimal              `json:"totalCommission"`
	RealisedPnL     decimal.Decimal              `json:"realisedPnL"`
	Modified        int64                        `json:"modified"`
}

// Position converts a Position to its wire shape.
func (c Codec) Position(p *models.Position) PositionWire {
	return PositionWire{
		Cash: p.Cash, Long: p.Long, Short: p.Short,
		TotalCommission: p.TotalCommission, RealisedPnL: p.RealisedPnL, Modified: c.epoch(p.Modified),
	}
}

// MetricsReportWire is the wire shape of models.MetricsReport.
type MetricsReportWire struct {
	ReportType          models.MetricsReportType `json:"reportType"`
	Timestamp           int64                    `json:"timestamp"`
	Equity              float64                  `json:"equity"`
	TotalReturn         float64                  `json:"totalReturn"`
	Sharpe              float64                  `json:"sharpe"`
	Sortino             float64                  `json:"sortino"`
	WinRate             float64                  `json:"winRate"`
	AvgGainLossRatio    float64                  `json:"avgGainLossRatio"`
	Expectancy          float64                  `json:"expectancy"`
	ProfitFactor        float64                  `json:"profitFactor"`
	MaxDrawdown         float64                  `json:"maxDrawdown"`
	MaxDrawdownDuration int64                    `json:"maxDrawdownDurationMs"`
}

// MetricsReport converts a MetricsReport to its wire shape.
func (c Codec) MetricsReport(r models.MetricsReport) MetricsReportWire {
	return MetricsReportWire{
		ReportType: r.ReportType, Timestamp: c.epoch(r.Timestamp), Equity: r.Equity,
		TotalReturn: r.TotalReturn, Sharpe: r.Sharpe, Sortino: r.Sortino, WinRate: r.WinRate,
		AvgGainLossRatio: r.AvgGainLossRatio, Expectancy: r.Expectancy, ProfitFactor: r.ProfitFactor,
		MaxDrawdown: r.MaxDrawdown, MaxDrawdownDuration: r.MaxDrawdownDuration.Milliseconds(),
	}
}

// TableInfoWire is the wire shape of models.TableInfo.
type TableInfoWire struct {
	Name      string `json:"name"`
	StartTime int64  `json:"startTime"`
	EndTime   int64  `json:"endTime"`
}

// TableInfos converts a TableInfo slice to its wire shape.
func (c Codec) TableInfos(list []models.TableInfo) []TableInfoWire {
	out := make([]TableInfoWire, len(list))
	for i, ti := range list {
		out[i] = TableInfoWire{Name: ti.Name, StartTime: c.epoch(ti.StartTime), EndTime: c.epoch(ti.EndTime)}
	}
	return out
}
