package handlers

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/backtest-replay/server/internal/datasource"
	"github.com/backtest-replay/server/internal/models"
	"github.com/backtest-replay/server/internal/protocol"
	"github.com/backtest-replay/server/internal/replay"
	"github.com/backtest-replay/server/internal/session"
	"github.com/backtest-replay/server/internal/timeutil"
)

type stubSource struct{ tables []models.TableInfo }

func (s *stubSource) EnumerateTables(ctx context.Context) ([]models.TableInfo, error) {
	return s.tables, nil
}
func (s *stubSource) Open(ctx context.Context, table string, from, to time.Time, symbols []string) (datasource.Iterator, error) {
	return nil, nil
}
func (s *stubSource) Close() error { return nil }

func newTestRouter() (*protocol.Router, *session.ConnectionSession) {
	conn := session.NewConnectionSession(timeutil.Milliseconds, time.UTC)
	d := &Deps{
		Conn:  conn,
		Codec: protocol.Codec{Unit: timeutil.Milliseconds, Loc: time.UTC},
		Orchestrator: &replay.Orchestrator{
			Source: &stubSource{tables: []models.TableInfo{{Name: "ticks"}}},
			Conn:   conn,
			Codec:  protocol.Codec{Unit: timeutil.Milliseconds, Loc: time.UTC},
			Emit:   func(*protocol.Response) error { return nil },
		},
	}
	router := protocol.NewRouter(func(cid string) bool { _, ok := conn.Get(cid); return ok })
	RegisterAll(router, d)
	return router, conn
}

func mustJSON(v interface{}) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func TestLoginThenSubmitOrder(t *testing.T) {
	router, conn := newTestRouter()

	loginReq := protocol.Request{Method: "login", ID: 1, CID: "c1", Params: mustJSON(protocol.LoginParams{Config: models.BacktestConfig{InitialCash: decimal.NewFromInt(1000)}})}
	resp := router.Dispatch(mustJSON(loginReq))
	if resp.Type != "result" {
		t.Fatalf("expected successful login, got %+v", resp)
	}
	if _, ok := conn.Get("c1"); !ok {
		t.Fatalf("expected client registered after login")
	}

	order := models.Order{ID: "o1", Symbol: "AAPL", Side: models.SideBuy, Effect: models.EffectOpenLong, Type: models.OrderMarket, Quantity: 10}
	submitReq := protocol.Request{Method: "submitOrders", ID: 2, CID: "c1", Params: mustJSON([]models.Order{order})}
	resp = router.Dispatch(mustJSON(submitReq))
	if resp.Type != "result" || resp.Result != 1 {
		t.Fatalf("expected 1 order accepted, got %+v", resp)
	}
}

func TestLoginRequiresCIDButNotPreexisting(t *testing.T) {
	router, _ := newTestRouter()
	req := protocol.Request{Method: "login", ID: 1, CID: "brandnew", Params: mustJSON(protocol.LoginParams{Config: models.BacktestConfig{InitialCash: decimal.NewFromInt(1000)}})}
	resp := router.Dispatch(mustJSON(req))
	if resp.Type != "result" {
		t.Fatalf("expected login for a fresh cid to succeed, got %+v", resp)
	}
}

func TestSubmitOrdersUnknownCIDRejected(t *testing.T) {
	router, _ := newTestRouter()
	req := protocol.Request{Method: "submitOrders", ID: 1, CID: "ghost", Params: mustJSON([]models.Order{})}
	resp := router.Dispatch(mustJSON(req))
	if resp.Error == nil || resp.Error.Code != protocol.CodeInvalidClient {
		t.Fatalf("expected INVALID_CLIENT, got %+v", resp)
	}
}

func TestInitReturnsReplayTables(t *testing.T) {
	router, _ := newTestRouter()
	req := protocol.Request{Method: "init", ID: 1, Params: mustJSON(map[string]interface{}{})}
	resp := router.Dispatch(mustJSON(req))
	if resp.Type != "result" {
		t.Fatalf("expected successful init, got %+v", resp)
	}
	result, ok := resp.Result.(map[string]interface{})
	if !ok {
		t.Fatalf("expected map result, got %T", resp.Result)
	}
	tables, ok := result["replayTables"].([]protocol.TableInfoWire)
	if !ok || len(tables) != 1 || tables[0].Name != "ticks" {
		t.Fatalf("expected one advertised table, got %+v", result["replayTables"])
	}
}
