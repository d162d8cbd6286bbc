// Package handlers wires the protocol router's method table to the
// session/broker/datasource layers, per spec.md Component I: thin
// glue that validates params, calls into a session or its broker, and
// returns a result or lets order-domain rejections flow through as a
// successful response.
package handlers

import (
	"context"
	"time"

	"github.com/backtest-replay/server/internal/logger"
	"github.com/backtest-replay/server/internal/models"
	"github.com/backtest-replay/server/internal/protocol"
	"github.com/backtest-replay/server/internal/replay"
	"github.com/backtest-replay/server/internal/session"
	"github.com/backtest-replay/server/internal/timeutil"
)

// Deps bundles everything a handler needs, built once per connection.
type Deps struct {
	Ctx          context.Context
	Conn         *session.ConnectionSession
	Codec        protocol.Codec
	Calendars    *timeutil.CalendarCache
	Orchestrator *replay.Orchestrator
	Log          *logger.Logger
}

func (d *Deps) ctx() context.Context {
	if d.Ctx != nil {
		return d.Ctx
	}
	return context.Background()
}

// RegisterAll wires every method named in spec.md §6 onto router.
func RegisterAll(router *protocol.Router, d *Deps) {
	router.Register("init", protocol.ScopeConnection, d.handleInit)
	router.Register("login", protocol.ScopeClientCreate, d.handleLogin)
	router.Register("logout", protocol.ScopeClient, d.handleLogout)
	router.Register("subscribe", protocol.ScopeClient, d.handleSubscribe)
	router.Register("unsubscribe", protocol.ScopeClient, d.handleUnsubscribe)
	router.Register("getPosition", protocol.ScopeClient, d.handleGetPosition)
	router.Register("getOpenOrders", protocol.ScopeClient, d.handleGetOpenOrders)
	router.Register("submitOrders", protocol.ScopeClient, d.handleSubmitOrders)
	router.Register("amendOrders", protocol.ScopeClient, d.handleAmendOrders)
	router.Register("cancelOrders", protocol.ScopeClient, d.handleCancelOrders)
	router.Register("cancelAllOrders", protocol.ScopeClient, d.handleCancelAllOrders)
	router.Register("replay", protocol.ScopeConnection, d.handleReplay)
}

func (d *Deps) handleInit(req *protocol.Request) *protocol.Response {
	tables, err := d.Orchestrator.Source.EnumerateTables(d.ctx())
	if err != nil {
		return protocol.ErrorResponse(&req.ID, protocol.CodeDataSourceError, err.Error())
	}
	return protocol.ResultResponse(req.ID, "", map[string]interface{}{
		"replayTables": d.Codec.TableInfos(tables),
	})
}

func (d *Deps) handleLogin(req *protocol.Request) *protocol.Response {
	params, err := protocol.Decode[protocol.LoginParams](req.Params)
	if err != nil {
		return protocol.ErrorResponse(&req.ID, protocol.CodeInvalidParams, err.Error())
	}
	if !params.Config.InitialCash.IsPositive() {
		return protocol.ErrorResponse(&req.ID, protocol.CodeInvalidParams, "config.initialCash must be > 0")
	}

	cs := session.NewClientSession(req.CID, params.Config, d.Calendars)
	if err := d.Conn.Login(cs); err != nil {
		return protocol.ErrorResponse(&req.ID, protocol.CodeReplayActive, err.Error())
	}
	return protocol.ResultResponse(req.ID, req.CID, map[string]interface{}{
		"connected": true,
		"timestamp": d.Codec.Epoch(time.Now()),
	})
}

func (d *Deps) handleLogout(req *protocol.Request) *protocol.Response {
	d.Conn.Logout(req.CID)
	return protocol.ResultResponse(req.ID, req.CID, map[string]interface{}{
		"connected": false,
		"timestamp": d.Codec.Epoch(time.Now()),
	})
}

func (d *Deps) handleSubscribe(req *protocol.Request) *protocol.Response {
	symbols, err := protocol.Decode[[]string](req.Params)
	if err != nil {
		return protocol.ErrorResponse(&req.ID, protocol.CodeInvalidParams, err.Error())
	}
	cs, _ := d.Conn.Get(req.CID)
	added := cs.AddSubscriptions(symbols, d.Conn.IsReplayActive())
	return protocol.ResultResponse(req.ID, req.CID, added)
}

func (d *Deps) handleUnsubscribe(req *protocol.Request) *protocol.Response {
	symbols, err := protocol.Decode[[]string](req.Params)
	if err != nil {
		return protocol.ErrorResponse(&req.ID, protocol.CodeInvalidParams, err.Error())
	}
	cs, _ := d.Conn.Get(req.CID)
	removed := cs.RemoveSubscriptions(symbols, d.Conn.IsReplayActive())
	return protocol.ResultResponse(req.ID, req.CID, removed)
}

func (d *Deps) handleGetPosition(req *protocol.Request) *protocol.Response {
	cs, _ := d.Conn.Get(req.CID)
	return protocol.ResultResponse(req.ID, req.CID, d.Codec.Position(cs.Broker.GetPosition()))
}

func (d *Deps) handleGetOpenOrders(req *protocol.Request) *protocol.Response {
	cs, _ := d.Conn.Get(req.CID)
	return protocol.ResultResponse(req.ID, req.CID, d.Codec.OrderStates(cs.Broker.GetOpenOrders()))
}

func (d *Deps) handleSubmitOrders(req *protocol.Request) *protocol.Response {
	orders, err := protocol.Decode[[]models.Order](req.Params)
	if err != nil {
		return protocol.ErrorResponse(&req.ID, protocol.CodeInvalidParams, err.Error())
	}
	cs, _ := d.Conn.Get(req.CID)
	states := cs.Broker.Submit(orders)
	d.emitOrderEvent(req.CID, states, nil)
	return protocol.ResultResponse(req.ID, req.CID, countAccepted(states))
}

// countAccepted counts states that were not rejected, matching the
// "count accepted"/"count matched"/"count cancelled" convention shared
// by submitOrders/amendOrders/cancelOrders/cancelAllOrders.
func countAccepted(states []models.OrderState) int {
	n := 0
	for _, s := range states {
		if s.Status != models.StatusRejected {
			n++
		}
	}
	return n
}

func (d *Deps) handleAmendOrders(req *protocol.Request) *protocol.Response {
	partials, err := protocol.Decode[[]models.PartialOrder](req.Params)
	if err != nil {
		return protocol.ErrorResponse(&req.ID, protocol.CodeInvalidParams, err.Error())
	}
	cs, _ := d.Conn.Get(req.CID)
	states := cs.Broker.Amend(partials)
	d.emitOrderEvent(req.CID, states, nil)
	return protocol.ResultResponse(req.ID, req.CID, len(states))
}

func (d *Deps) handleCancelOrders(req *protocol.Request) *protocol.Response {
	ids, err := protocol.Decode[[]string](req.Params)
	if err != nil {
		return protocol.ErrorResponse(&req.ID, protocol.CodeInvalidParams, err.Error())
	}
	cs, _ := d.Conn.Get(req.CID)
	states := cs.Broker.Cancel(ids)
	d.emitOrderEvent(req.CID, states, nil)
	return protocol.ResultResponse(req.ID, req.CID, len(states))
}

func (d *Deps) handleCancelAllOrders(req *protocol.Request) *protocol.Response {
	cs, _ := d.Conn.Get(req.CID)
	states := cs.Broker.CancelAll()
	d.emitOrderEvent(req.CID, states, nil)
	return protocol.ResultResponse(req.ID, req.CID, len(states))
}

// emitOrderEvent pushes an "order" event for a synchronous (non-replay)
// order mutation, matching spec.md §7's "order-domain rejections ...
// succeed and emit an order event with status REJECTED".
func (d *Deps) emitOrderEvent(cid string, states []models.OrderState, fills []models.Fill) {
	if len(states) == 0 || d.Orchestrator == nil || d.Orchestrator.Emit == nil {
		return
	}
	payload := protocol.OrderEventPayload{Updated: d.Codec.OrderStates(states), Fill: d.Codec.Fills(fills)}
	d.Orchestrator.Emit(protocol.EventResponse(cid, protocol.EventOrder, payload))
}

// handleReplay runs the replay orchestrator to completion on this same
// dispatch goroutine. Other requests queued on the connection are
// still served while it runs: the orchestrator drains them itself
// between batches (see replay.Orchestrator.Run), so no second
// goroutine ever touches this connection's session or broker state,
// per spec.md §5.
func (d *Deps) handleReplay(req *protocol.Request) *protocol.Response {
	params, err := protocol.Decode[protocol.ReplayParams](req.Params)
	if err != nil {
		return protocol.ErrorResponse(&req.ID, protocol.CodeInvalidParams, err.Error())
	}
	resp := d.Orchestrator.Run(d.ctx(), params)
	id := req.ID
	resp.ID = &id
	return resp
}
