package control

import (
	"context"
	"testing"
	"time"

	"github.com/backtest-replay/server/internal/datasource"
	"github.com/backtest-replay/server/internal/logger"
	"github.com/backtest-replay/server/internal/models"
	"github.com/backtest-replay/server/internal/transport"
)

type stubSource struct{ tables []models.TableInfo }

func (s *stubSource) EnumerateTables(ctx context.Context) ([]models.TableInfo, error) {
	return s.tables, nil
}
func (s *stubSource) Open(ctx context.Context, table string, from, to time.Time, symbols []string) (datasource.Iterator, error) {
	return nil, nil
}
func (s *stubSource) Close() error { return nil }

func TestListReplayTables(t *testing.T) {
	src := &stubSource{tables: []models.TableInfo{{Name: "ticks_2024"}}}
	svc := NewService(src, transport.NewHub(logger.New("test")), logger.New("test"))

	resp, err := svc.ListReplayTables(context.Background(), &Empty{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.Tables) != 1 || resp.Tables[0].Name != "ticks_2024" {
		t.Fatalf("expected one table named ticks_2024, got %+v", resp.Tables)
	}
}

func TestGetActiveReplayEmptyHub(t *testing.T) {
	svc := NewService(&stubSource{}, transport.NewHub(logger.New("test")), logger.New("test"))

	resp, err := svc.GetActiveReplay(context.Background(), &Empty{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.ConnectionIDs) != 0 {
		t.Fatalf("expected no active replays, got %+v", resp.ConnectionIDs)
	}
}

func TestDisconnectUnknownConnection(t *testing.T) {
	svc := NewService(&stubSource{}, transport.NewHub(logger.New("test")), logger.New("test"))

	resp, err := svc.DisconnectConnection(context.Background(), &DisconnectConnectionRequest{ConnectionID: "ghost"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Disconnected {
		t.Fatalf("expected disconnected=false for unknown connection")
	}
}
