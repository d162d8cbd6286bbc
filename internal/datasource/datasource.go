// Package datasource defines the storage-agnostic replay data source
// contract of spec.md Component B, and the batching shared by its
// concrete backends (sqlitesource, pqsource). It generalizes the
// teacher's IDataSource interface (src/interfaces/data_source.go) from
// "fetch latest ticks for a symbol" to "stream a time-ordered, symbol-
// filtered slice of a named table as MarketBatch values".
package datasource

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/backtest-replay/server/internal/models"
)

// Source enumerates the replayable tables a backend holds and opens a
// time/symbol-bounded stream over one of them.
type Source interface {
	EnumerateTables(ctx context.Context) ([]models.TableInfo, error)
	Open(ctx context.Context, table string, from, to time.Time, symbols []string) (Iterator, error)
	Close() error
}

// Iterator streams MarketBatch values in ascending timestamp order.
// Each batch groups every row sharing one exact timestamp, per
// spec.md §4.2's replay-batch definition.
type Iterator interface {
	Next(ctx context.Context) (models.MarketBatch, bool, error)
	Close() error
}

// barColumns is probed against a query's result set to classify a
// table as bars vs quotes without requiring a separate schema catalog
// query per backend.
var barColumns = map[string]bool{"open": true, "high": true, "low": true, "close": true}

// rowIterator adapts a *sql.Rows cursor (already ordered by timestamp)
// into the batched Iterator contract, buffering one row of lookahead
// so it knows when a timestamp group has ended.
type rowIterator struct {
	rows    *sql.Rows
	cols    []string
	isBars  bool
	pending scannedRow
	hasNext bool
	done    bool
}

type scannedRow struct {
	timestamp time.Time
	symbol    string
	// quote fields
	price      float64
	bid, ask   *float64
	volumeP    *float64
	// bar fields
	open, high, low, close, volume float64
}

// newRowIterator wraps rows, classifying the table as bars or quotes
// from its column set and priming the one-row lookahead buffer.
func newRowIterator(rows *sql.Rows) (*rowIterator, error) {
	cols, err := rows.Columns()
	if err != nil {
		rows.Close()
		return nil, err
	}
	isBars := false
	for _, c := range cols {
		if barColumns[c] {
			isBars = true
			break
		}
	}
	it := &rowIterator{rows: rows, cols: cols, isBars: isBars}
	if err := it.advance(); err != nil {
		rows.Close()
		return nil, err
	}
	return it, nil
}

func (it *rowIterator) advance() error {
	if !it.rows.Next() {
		it.hasNext = false
		return it.rows.Err()
	}
	row, err := it.scan()
	if err != nil {
		return err
	}
	it.pending = row
	it.hasNext = true
	return nil
}

func (it *rowIterator) scan() (scannedRow, error) {
	var row scannedRow
	if it.isBars {
		err := it.rows.Scan(&row.timestamp, &row.symbol, &row.open, &row.high, &row.low, &row.close, &row.volume)
		return row, err
	}
	var bid, ask, vol sql.NullFloat64
	err := it.rows.Scan(&row.timestamp, &row.symbol, &row.price, &bid, &ask, &vol)
	if err != nil {
		return row, err
	}
	if bid.Valid {
		row.bid = &bid.Float64
	}
	if ask.Valid {
		row.ask = &ask.Float64
	}
	if vol.Valid {
		row.volumeP = &vol.Float64
	}
	return row, nil
}

// Next collects every buffered row sharing the next distinct timestamp
// into one MarketBatch.
func (it *rowIterator) Next(ctx context.Context) (models.MarketBatch, bool, error) {
	if it.done || !it.hasNext {
		return models.MarketBatch{}, false, nil
	}

	batch := models.MarketBatch{Timestamp: it.pending.timestamp}
	ts := it.pending.timestamp

	for it.hasNext && it.pending.timestamp.Equal(ts) {
		if err := ctx.Err(); err != nil {
			return models.MarketBatch{}, false, err
		}
		r := it.pending
		if it.isBars {
			batch.Bars = append(batch.Bars, models.Bar{
				Symbol: r.symbol, Timestamp: r.timestamp,
				Open: r.open, High: r.high, Low: r.low, Close: r.close, Volume: r.volume,
			})
		} else {
			batch.Quotes = append(batch.Quotes, models.Quote{
				Symbol: r.symbol, Timestamp: r.timestamp,
				Price: r.price, Bid: r.bid, Ask: r.ask, Volume: r.volumeP,
			})
		}
		if err := it.advance(); err != nil {
			return models.MarketBatch{}, false, err
		}
	}

	if !it.hasNext {
		it.done = true
	}
	return batch, true, nil
}

func (it *rowIterator) Close() error {
	return it.rows.Close()
}

// quoteSelectCols/barSelectCols name the columns each backend selects,
// in the fixed order rowIterator.scan expects.
const (
	quoteSelectCols = "timestamp, symbol, price, bid, ask, volume"
	barSelectCols   = "timestamp, symbol, open, high, low, close, volume"
)

// ProbeIsBars asks the driver for a table's column names (via a
// zero-row select) to decide whether it holds bars or quotes, without
// a separate schema-catalog query per backend.
func ProbeIsBars(ctx context.Context, db *sql.DB, table string) (bool, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("SELECT * FROM %s LIMIT 1", table))
	if err != nil {
		return false, fmt.Errorf("datasource: probing columns of %s: %w", table, err)
	}
	defer rows.Close()
	cols, err := rows.Columns()
	if err != nil {
		return false, err
	}
	for _, c := range cols {
		if barColumns[c] {
			return true, nil
		}
	}
	return false, nil
}

// SelectColsFor returns the fixed select list rowIterator.scan expects
// for a bar or quote table.
func SelectColsFor(isBars bool) string {
	if isBars {
		return barSelectCols
	}
	return quoteSelectCols
}

// NewIterator wraps an already-executed, timestamp-ordered *sql.Rows
// cursor as an Iterator.
func NewIterator(rows *sql.Rows) (Iterator, error) {
	return newRowIterator(rows)
}

// BuildQuery renders a time/symbol-bounded SELECT against table using
// the backend-specific placeholder style ph (e.g. "?" for sqlite,
// "$1".. for postgres).
func BuildQuery(table, selectCols string, from, to time.Time, symbols []string, ph func(n int) string) (string, []interface{}) {
	args := []interface{}{from, to}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE timestamp >= %s AND timestamp <= %s", selectCols, table, ph(1), ph(2))

	if len(symbols) > 0 {
		placeholders := make([]string, len(symbols))
		for i, s := range symbols {
			args = append(args, s)
			placeholders[i] = ph(len(args))
		}
		query += fmt.Sprintf(" AND symbol IN (%s)", joinComma(placeholders))
	}
	query += " ORDER BY timestamp"
	return query, args
}

func joinComma(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += ", "
		}
		out += p
	}
	return out
}

// ValidTableName is deliberately conservative: table identifiers come
// only from EnumerateTables, but Open re-checks the shape before
// interpolating it into a query string.
func ValidTableName(name string) bool {
	if name == "" {
		return false
	}
	for _, r := range name {
		if !(r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')) {
			return false
		}
	}
	return true
}

// ErrInvalidTable is returned by a backend's Open when table fails
// ValidTableName.
var ErrInvalidTable = fmt.Errorf("datasource: invalid table name")
