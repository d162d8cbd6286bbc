// Package session implements the two session layers of spec.md §4.2/§3:
// ClientSession (per logical client: broker + metrics + subscriptions)
// and ConnectionSession (per transport: the live-client map plus the
// single active-replay flag). It is grounded on the teacher's
// MultiSourceManager (src/data_source/multi_source_manager.go) for the
// map+insertion-order-index discipline used to keep client iteration
// deterministic.
package session

import (
	"time"

	"github.com/backtest-replay/server/internal/broker"
	"github.com/backtest-replay/server/internal/metrics"
	"github.com/backtest-replay/server/internal/models"
	"github.com/backtest-replay/server/internal/timeutil"
)

// wildcard is the subscription sentinel meaning "match any symbol".
const wildcard = "*"

// ClientSession owns one logical client's broker, its three metrics
// engines, and its subscription set, per spec.md §4.2.
type ClientSession struct {
	CID string

	subscriptions map[string]struct{}

	Broker *broker.Broker

	periodic *metrics.Engine
	trade    *metrics.Engine
	eod      *metrics.Engine
	cfg      models.BacktestConfig

	PeriodicPeriod int
	TradeReport    bool
	EODReport      bool

	ReplayTime time.Time
	EventCount int

	calendars    *timeutil.CalendarCache
	dayIndex     int64
	hasDayIndex  bool
	periodicTick int
}

// NewClientSession constructs a ClientSession backed by a fresh Broker and metrics
// triplet, per the config supplied to login. calendars resolves the
// trading calendar lazily per symbol (spec.md §4.2, §8 invariant 10),
// since a single client can hold orders and subscriptions across
// symbols on different markets.
func NewClientSession(cid string, cfg models.BacktestConfig, calendars *timeutil.CalendarCache) *ClientSession {
	return &ClientSession{
		CID:           cid,
		subscriptions: make(map[string]struct{}),
		Broker:        broker.New(cfg),
		periodic:      metrics.New(cfg),
		trade:         metrics.New(cfg),
		eod:           metrics.New(cfg),
		cfg:           cfg,
		calendars:     calendars,
	}
}

// AddSubscriptions adds symbols not already present, returning only
// those actually added. During an active replay this is a frozen
// no-op per spec.md §4.2.
func (cs *ClientSession) AddSubscriptions(symbols []string, replayActive bool) []string {
	if replayActive {
		return nil
	}
	added := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if _, exists := cs.subscriptions[s]; !exists {
			cs.subscriptions[s] = struct{}{}
			added = append(added, s)
		}
	}
	return added
}

// RemoveSubscriptions removes symbols present in the set, returning
// only those actually removed. Frozen during an active replay.
func (cs *ClientSession) RemoveSubscriptions(symbols []string, replayActive bool) []string {
	if replayActive {
		return nil
	}
	removed := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if _, exists := cs.subscriptions[s]; exists {
			delete(cs.subscriptions, s)
			removed = append(removed, s)
		}
	}
	return removed
}

// HasWildcard reports whether this client subscribes to every symbol.
func (cs *ClientSession) HasWildcard() bool {
	_, ok := cs.subscriptions[wildcard]
	return ok
}

// Subscriptions returns the raw subscription set (read-only use).
func (cs *ClientSession) Subscriptions() map[string]struct{} {
	return cs.subscriptions
}

// Filter returns the subset of batch this client is subscribed to: the
// full batch when subscribed to "*", otherwise rows matching the
// subscription set.
func (cs *ClientSession) Filter(batch models.MarketBatch) models.MarketBatch {
	if cs.HasWildcard() {
		return batch
	}
	out := models.MarketBatch{Timestamp: batch.Timestamp}
	if batch.IsBars() {
		for _, bar := range batch.Bars {
			if _, ok := cs.subscriptions[bar.Symbol]; ok {
				out.Bars = append(out.Bars, bar)
			}
		}
	} else {
		for _, q := range batch.Quotes {
			if _, ok := cs.subscriptions[q.Symbol]; ok {
				out.Quotes = append(out.Quotes, q)
			}
		}
	}
	return out
}

// ProcessOrderUpdate feeds batch through the broker (spec.md §4.3) and
// reports whether an order event should be emitted, plus an optional
// TRADE metrics report when a fill occurred and tradeReport is set.
func (cs *ClientSession) ProcessOrderUpdate(batch models.MarketBatch, snapshot *models.PriceSnapshot) (updated []models.OrderState, fills []models.Fill, metricsReport *models.MetricsReport) {
	updated, fills = cs.Broker.ProcessOpenOrders(batch)
	if len(fills) > 0 && cs.TradeReport {
		pos := cs.Broker.GetPosition()
		cs.trade.OnTick(pos, snapshot, batch.Timestamp)
		r := cs.trade.Report(models.ReportTrade, pos, snapshot, batch.Timestamp)
		metricsReport = &r
	}
	return updated, fills, metricsReport
}

// ProcessMarketData updates the periodic/EOD running stats on every
// batch, returning an ENDOFDAY report on day rollover and a PERIODIC
// report every PeriodicPeriod batches, per spec.md §4.2.
func (cs *ClientSession) ProcessMarketData(batch models.MarketBatch, snapshot *models.PriceSnapshot) (eodReport *models.MetricsReport, periodicReport *models.MetricsReport) {
	pos := cs.Broker.GetPosition()
	cs.periodic.OnTick(pos, snapshot, batch.Timestamp)

	dayIdx := cs.sessionDayIndex(batch)
	if cs.hasDayIndex && dayIdx > cs.dayIndex {
		if cs.EODReport {
			r := cs.eod.Report(models.ReportEndOfDay, pos, snapshot, batch.Timestamp)
			eodReport = &r
		}
		cs.eod = metrics.New(cs.cfg)
	}
	cs.dayIndex = dayIdx
	cs.hasDayIndex = true

	cs.eod.OnTick(pos, snapshot, batch.Timestamp)

	if cs.PeriodicPeriod > 0 {
		cs.periodicTick++
		if cs.periodicTick%cs.PeriodicPeriod == 0 {
			r := cs.periodic.Report(models.ReportPeriodic, pos, snapshot, batch.Timestamp)
			periodicReport = &r
		}
	}

	return eodReport, periodicReport
}

// sessionDayIndex resolves the trading calendar for the batch's leading
// symbol (deterministic per spec.md §4.3's first-appearance ordering)
// and returns the trading-day index of batch.Timestamp on that
// calendar. A batch spanning several markets' symbols still rolls this
// client's EOD boundary once per batch, keyed on the symbol that
// appears first in it.
func (cs *ClientSession) sessionDayIndex(batch models.MarketBatch) int64 {
	if cs.calendars == nil {
		return timeutil.DayIndex(batch.Timestamp, time.UTC)
	}
	symbols := batch.Symbols()
	symbol := ""
	if len(symbols) > 0 {
		symbol = symbols[0]
	}
	return cs.calendars.ForSymbol(symbol).SessionDayIndex(batch.Timestamp)
}
