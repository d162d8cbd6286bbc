// Package replay implements the replay orchestrator of spec.md §4.4 /
// Component G: it drives one DataSource iterator, advances every
// client's replay clock, and fans batches out to the broker/metrics
// pipeline in the phase-1-orders-then-phase-2-market order the spec
// requires for correct event ordering.
package replay

import (
	"context"
	"time"

	"github.com/backtest-replay/server/internal/datasource"
	"github.com/backtest-replay/server/internal/models"
	"github.com/backtest-replay/server/internal/protocol"
	"github.com/backtest-replay/server/internal/session"
)

// Orchestrator runs one replay to completion, emitting frames through
// Emit as they are produced rather than buffering them, so a
// long-running replay can share a transport with other in-flight
// requests (spec.md §5's cooperative-scheduling note). Run is meant to
// execute on the connection's single dispatch goroutine: it never
// spawns one of its own, and instead drains Requests itself between
// batches, so a submitOrders/cancelOrders/etc. arriving mid-replay is
// dispatched inline on the same goroutine that owns the session and
// broker maps, never concurrently with them.
type Orchestrator struct {
	Source datasource.Source
	Conn   *session.ConnectionSession
	Codec  protocol.Codec
	Emit   func(*protocol.Response) error

	// Requests is the connection's shared inbound-frame channel. Run
	// drains it between batches instead of a second goroutine
	// dispatching against the same connection concurrently.
	Requests <-chan []byte
	// Dispatch routes one drained frame through the connection's
	// method table, e.g. (*protocol.Router).Dispatch.
	Dispatch func([]byte) *protocol.Response

	// DefaultReplayInterval paces a replay that requests no explicit
	// interval, per the server's configured
	// replay.default_replay_interval_ms. Zero means run flat-out,
	// draining pending requests between batches instead of sleeping.
	DefaultReplayInterval time.Duration

	evicted bool
}

// pump drains Requests for up to d, dispatching each frame inline as
// it arrives, then returns once d elapses or ctx is cancelled. This is
// the replay interval's pacing sleep, reimplemented as a select loop
// so ordinary requests are still served during the wait.
func (o *Orchestrator) pump(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	for {
		if o.evicted {
			return
		}
		select {
		case raw, ok := <-o.Requests:
			if !ok {
				return
			}
			o.dispatchAndEmit(raw)
		case <-timer.C:
			return
		case <-ctx.Done():
			return
		}
	}
}

// drainPending dispatches every frame already queued on Requests
// without blocking, used between batches when no pacing interval is
// configured.
func (o *Orchestrator) drainPending() {
	for {
		if o.evicted {
			return
		}
		select {
		case raw, ok := <-o.Requests:
			if !ok {
				return
			}
			o.dispatchAndEmit(raw)
		default:
			return
		}
	}
}

func (o *Orchestrator) dispatchAndEmit(raw []byte) {
	if o.Dispatch == nil {
		return
	}
	if resp := o.Dispatch(raw); resp != nil {
		o.checkEmit(resp)
	}
}

// Run executes the algorithm of spec.md §4.4 steps 1-8, returning the
// final result/error response (the caller is responsible for stamping
// it with the originating request id).
func (o *Orchestrator) Run(ctx context.Context, params protocol.ReplayParams) *protocol.Response {
	if o.Conn.IsReplayActive() {
		return protocol.ErrorResponse(nil, protocol.CodeReplayAlreadyActive, "a replay is already active on this connection")
	}

	if params.Table == "" {
		return protocol.ErrorResponse(nil, protocol.CodeNoReplayTable, "replay requires a table name")
	}

	tables, err := o.Source.EnumerateTables(ctx)
	if err != nil {
		return protocol.ErrorResponse(nil, protocol.CodeDataSourceError, err.Error())
	}
	if !tableKnown(tables, params.Table) {
		return protocol.ErrorResponse(nil, protocol.CodeInvalidTable, "unknown table: "+params.Table)
	}

	if err := o.Conn.StartReplay(params.ReplayID); err != nil {
		return protocol.ErrorResponse(nil, protocol.CodeReplayAlreadyActive, err.Error())
	}
	defer o.Conn.EndReplay()

	// Step 1 - snapshot every client's reporting flags.
	for _, cs := range o.Conn.Clients() {
		cs.PeriodicPeriod = params.PeriodicReport
		cs.TradeReport = params.TradeReport
		cs.EODReport = params.EndOfDayReport
	}

	// Step 2 - union of subscriptions ("*" anywhere => no filter).
	filter := unionSubscriptions(o.Conn.Clients())

	from := o.Codec.DecodeTime(params.From)
	to := o.Codec.DecodeTime(params.To)

	// Step 3 - open the iterator.
	it, err := o.Source.Open(ctx, params.Table, from, to, filter)
	if err != nil {
		return protocol.ErrorResponse(nil, protocol.CodeDataSourceError, err.Error())
	}
	defer it.Close()

	begin := time.Now()
	snapshot := models.NewPriceSnapshot()

	// Step 5 - stream batches in strict time order.
	for {
		if err := ctx.Err(); err != nil {
			return protocol.ErrorResponse(nil, protocol.CodeReplayError, "replay cancelled: "+err.Error())
		}

		batch, ok, err := it.Next(ctx)
		if err != nil {
			return protocol.ErrorResponse(nil, protocol.CodeReplayError, err.Error())
		}
		if !ok {
			break
		}

		o.runBatch(batch, snapshot, params)
		if o.evicted {
			return protocol.ErrorResponse(nil, protocol.CodeReplayError, "replay aborted: connection evicted")
		}

		if interval := o.replayInterval(params); interval > 0 {
			o.pump(ctx, interval)
		} else {
			o.drainPending()
		}
	}

	// Step 6 - completion result.
	return protocol.ResultResponse(0, "", map[string]interface{}{
		"replayId": params.ReplayID,
		"begin":    begin.UnixMilli(),
		"end":      time.Now().UnixMilli(),
	})
}

// replayInterval resolves the pacing interval for this run: an explicit
// per-request interval wins, otherwise the server's configured default.
func (o *Orchestrator) replayInterval(params protocol.ReplayParams) time.Duration {
	if params.ReplayInterval > 0 {
		return time.Duration(params.ReplayInterval) * time.Millisecond
	}
	return o.DefaultReplayInterval
}

// runBatch performs steps 5a-5d for one batch: snapshot merge, clock
// advance, phase 1 (orders) for every client, then phase 2 (market)
// for every client.
func (o *Orchestrator) runBatch(batch models.MarketBatch, snapshot *models.PriceSnapshot, params protocol.ReplayParams) {
	snapshot.Merge(batch)

	clients := o.Conn.Clients()
	for _, cs := range clients {
		cs.ReplayTime = batch.Timestamp
	}

	// Phase 1 - orders: only clients with an open order in this batch's
	// symbols are touched, per spec.md §4.4 step 5c.
	for _, cs := range clients {
		open := cs.Broker.OpenSymbolSet()
		if len(open) == 0 || !batchIntersects(batch, open) {
			continue
		}
		updated, fills, report := cs.ProcessOrderUpdate(batch, snapshot)
		if len(updated) > 0 {
			o.emitOrder(cs.CID, updated, fills)
		}
		if report != nil {
			o.emitMetrics(cs.CID, *report)
		}
	}

	// Phase 2 - market: runs for every client only after phase 1 has
	// completed for all of them (spec.md §4.4's ordering guarantee).
	if params.MarketMultiplex {
		for _, cs := range clients {
			eod, periodic := cs.ProcessMarketData(batch, snapshot)
			o.emitReports(cs.CID, eod, periodic)
		}
		o.emitMarket(protocol.MultiplexCID, batch)
		return
	}

	for _, cs := range clients {
		slice := cs.Filter(batch)
		eod, periodic := cs.ProcessMarketData(batch, snapshot)
		o.emitReports(cs.CID, eod, periodic)
		if slice.Len() > 0 {
			o.emitMarket(cs.CID, slice)
		}
	}
}

func (o *Orchestrator) emitReports(cid string, eod, periodic *models.MetricsReport) {
	if eod != nil {
		o.emitMetrics(cid, *eod)
	}
	if periodic != nil {
		o.emitMetrics(cid, *periodic)
	}
}

func (o *Orchestrator) emitOrder(cid string, updated []models.OrderState, fills []models.Fill) {
	payload := protocol.OrderEventPayload{Updated: o.Codec.OrderStates(updated), Fill: o.Codec.Fills(fills)}
	o.checkEmit(protocol.EventResponse(cid, protocol.EventOrder, payload))
}

func (o *Orchestrator) emitMetrics(cid string, report models.MetricsReport) {
	o.checkEmit(protocol.EventResponse(cid, protocol.EventMetrics, o.Codec.MetricsReport(report)))
}

func (o *Orchestrator) emitMarket(cid string, batch models.MarketBatch) {
	o.checkEmit(protocol.EventResponse(cid, protocol.EventMarket, o.Codec.Batch(batch)))
}

// checkEmit records whether the connection has been evicted so Run can
// abort the batch loop instead of continuing to process a replay no one
// can observe any more.
func (o *Orchestrator) checkEmit(resp *protocol.Response) {
	if err := o.Emit(resp); err != nil {
		o.evicted = true
	}
}

func tableKnown(tables []models.TableInfo, name string) bool {
	for _, t := range tables {
		if t.Name == name {
			return true
		}
	}
	return false
}

// unionSubscriptions computes the DataSource symbol filter: nil (no
// filter) if any client subscribes to "*", otherwise the union of
// every client's subscription set.
func unionSubscriptions(clients []*session.ClientSession) []string {
	union := make(map[string]struct{})
	for _, cs := range clients {
		if cs.HasWildcard() {
			return nil
		}
		for sym := range cs.Subscriptions() {
			union[sym] = struct{}{}
		}
	}
	out := make([]string, 0, len(union))
	for sym := range union {
		out = append(out, sym)
	}
	return out
}

// batchIntersects reports whether any symbol in batch has an open
// order in openSymbols.
func batchIntersects(batch models.MarketBatch, openSymbols map[string]struct{}) bool {
	for _, sym := range batch.Symbols() {
		if _, ok := openSymbols[sym]; ok {
			return true
		}
	}
	return false
}
