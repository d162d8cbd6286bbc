// Package sqlitesource implements the datasource.Source contract over
// a modernc.org/sqlite database, grounded on the teacher's
// src/storage/sqlite.go AsyncSQLiteDB (schema init and
// database/sql-over-modernc.org/sqlite usage), retargeted from
// write-path bulk inserts to read-path replay streaming.
package sqlitesource

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/backtest-replay/server/internal/apperrors"
	"github.com/backtest-replay/server/internal/datasource"
	"github.com/backtest-replay/server/internal/logger"
	"github.com/backtest-replay/server/internal/models"
)

// Source streams replay tables out of a single sqlite file.
type Source struct {
	db     *sql.DB
	errors *apperrors.Handler
}

// Open opens (or creates) the sqlite file at path, retrying a transient
// failure to obtain the file lock with the same backoff the teacher
// used for its network fetches.
func Open(path string) (*Source, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlitesource: open %s: %w", path, err)
	}

	h := apperrors.NewHandler(logger.New("sqlitesource"))
	if _, err := h.ExecuteWithRetry("sqlitesource.datasource.ping", 3, func() (interface{}, error) {
		return nil, db.Ping()
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlitesource: open %s: %w", path, err)
	}
	return &Source{db: db, errors: h}, nil
}

func (s *Source) Close() error { return s.db.Close() }

// EnumerateTables lists user tables and their timestamp bounds.
func (s *Source) EnumerateTables(ctx context.Context) ([]models.TableInfo, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%'`)
	if err != nil {
		return nil, fmt.Errorf("sqlitesource: enumerate tables: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]models.TableInfo, 0, len(names))
	for _, name := range names {
		if !datasource.ValidTableName(name) {
			continue
		}
		var start, end sql.NullTime
		q := fmt.Sprintf("SELECT MIN(timestamp), MAX(timestamp) FROM %s", name)
		if err := s.db.QueryRowContext(ctx, q).Scan(&start, &end); err != nil {
			continue // not a replay table (missing a timestamp column); skip it
		}
		if !start.Valid {
			continue
		}
		out = append(out, models.TableInfo{Name: name, StartTime: start.Time, EndTime: end.Time})
	}
	return out, nil
}

// Open opens a time/symbol-bounded, timestamp-ordered stream over table.
func (s *Source) Open(ctx context.Context, table string, from, to time.Time, symbols []string) (datasource.Iterator, error) {
	if !datasource.ValidTableName(table) {
		return nil, datasource.ErrInvalidTable
	}
	isBars, err := datasource.ProbeIsBars(ctx, s.db, table)
	if err != nil {
		return nil, err
	}

	query, args := datasource.BuildQuery(table, datasource.SelectColsFor(isBars), from, to, symbols, func(int) string { return "?" })

	// Retry with backoff so a transient failure (a concurrent writer
	// holding the sqlite lock) does not fail the replay outright. Every
	// error is retried; one that persists through all attempts surfaces.
	result, err := s.errors.ExecuteWithRetry("sqlitesource.datasource.query", 3, func() (interface{}, error) {
		return s.db.QueryContext(ctx, query, args...)
	})
	if err != nil {
		return nil, fmt.Errorf("sqlitesource: query %s: %w", table, err)
	}
	return datasource.NewIterator(result.(*sql.Rows))
}
