package sqlitesource

import (
	"context"
	"testing"
	"time"
)

func TestEnumerateAndReplayQuotesGroupedByTimestamp(t *testing.T) {
	src, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer src.Close()

	ctx := context.Background()
	_, err = src.db.ExecContext(ctx, `CREATE TABLE ticks_2024_01_02 (
		timestamp DATETIME NOT NULL,
		symbol TEXT NOT NULL,
		price REAL NOT NULL,
		bid REAL,
		ask REAL,
		volume REAL
	)`)
	if err != nil {
		t.Fatalf("create table: %v", err)
	}

	t0 := time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)
	t1 := t0.Add(time.Second)
	rows := []struct {
		ts     time.Time
		symbol string
		price  float64
	}{
		{t0, "AAPL", 100},
		{t0, "MSFT", 200},
		{t1, "AAPL", 101},
	}
	for _, r := range rows {
		if _, err := src.db.ExecContext(ctx, `INSERT INTO ticks_2024_01_02 (timestamp, symbol, price) VALUES (?, ?, ?)`, r.ts, r.symbol, r.price); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	tables, err := src.EnumerateTables(ctx)
	if err != nil {
		t.Fatalf("enumerate: %v", err)
	}
	if len(tables) != 1 || tables[0].Name != "ticks_2024_01_02" {
		t.Fatalf("expected one enumerated table, got %+v", tables)
	}

	it, err := src.Open(ctx, "ticks_2024_01_02", t0.Add(-time.Hour), t1.Add(time.Hour), nil)
	if err != nil {
		t.Fatalf("open replay: %v", err)
	}
	defer it.Close()

	batch, ok, err := it.Next(ctx)
	if err != nil || !ok {
		t.Fatalf("expected first batch, err=%v ok=%v", err, ok)
	}
	if batch.IsBars() {
		t.Fatalf("expected quote batch")
	}
	if len(batch.Quotes) != 2 {
		t.Fatalf("expected 2 quotes sharing timestamp %v, got %d", t0, len(batch.Quotes))
	}

	batch2, ok, err := it.Next(ctx)
	if err != nil || !ok {
		t.Fatalf("expected second batch, err=%v ok=%v", err, ok)
	}
	if len(batch2.Quotes) != 1 || batch2.Quotes[0].Symbol != "AAPL" {
		t.Fatalf("expected single AAPL quote in second batch, got %+v", batch2.Quotes)
	}

	_, ok, err = it.Next(ctx)
	if err != nil || ok {
		t.Fatalf("expected iterator to be exhausted, ok=%v err=%v", ok, err)
	}
}

func TestOpenRejectsInvalidTableName(t *testing.T) {
	src, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer src.Close()

	_, err = src.Open(context.Background(), "drop table; --", time.Now(), time.Now(), nil)
	if err == nil {
		t.Fatalf("expected invalid table name to be rejected")
	}
}
