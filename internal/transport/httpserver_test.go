package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/backtest-replay/server/internal/datasource"
	"github.com/backtest-replay/server/internal/logger"
	"github.com/backtest-replay/server/internal/models"
	"github.com/backtest-replay/server/internal/protocol"
	"github.com/backtest-replay/server/internal/timeutil"
)

type fakeSource struct{ tables []models.TableInfo }

func (s *fakeSource) EnumerateTables(ctx context.Context) ([]models.TableInfo, error) {
	return s.tables, nil
}
func (s *fakeSource) Open(ctx context.Context, table string, from, to time.Time, symbols []string) (datasource.Iterator, error) {
	return nil, nil
}
func (s *fakeSource) Close() error { return nil }

func newTestServer(t *testing.T) (*httptest.Server, *Server) {
	t.Helper()
	srv := NewServer("", 0, &fakeSource{tables: []models.TableInfo{{Name: "ticks"}}}, nil, timeutil.Milliseconds, time.UTC, logger.New("test"))
	ts := httptest.NewServer(srv.engineForTest())
	return ts, srv
}

func TestHealthEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/health")
	if err != nil {
		t.Fatalf("GET /api/health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestWebSocketLoginRoundTrip(t *testing.T) {
	ts, _ := newTestServer(t)
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	req := protocol.Request{
		Method: "login",
		ID:     1,
		CID:    "c1",
		Params: mustJSON(t, protocol.LoginParams{Config: models.BacktestConfig{InitialCash: decimal.NewFromInt(1000)}}),
	}
	if err := conn.WriteJSON(req); err != nil {
		t.Fatalf("write: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var resp protocol.Response
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatalf("read: %v", err)
	}
	if resp.Type != "result" {
		t.Fatalf("expected successful login, got %+v", resp)
	}
}

func mustJSON(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}
