// Package pqsource implements the datasource.Source contract over a
// PostgreSQL database via lib/pq, grounded on the teacher's
// src/storage/postgres.go PostgresDB (schema conventions, $N
// placeholder style), retargeted to read-path replay streaming.
package pqsource

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/backtest-replay/server/internal/apperrors"
	"github.com/backtest-replay/server/internal/datasource"
	"github.com/backtest-replay/server/internal/logger"
	"github.com/backtest-replay/server/internal/models"
)

// Source streams replay tables out of a PostgreSQL schema.
type Source struct {
	db     *sql.DB
	errors *apperrors.Handler
}

// Open dials PostgreSQL using a libpq connection string, retrying a
// transient connection failure the same way the teacher retried its
// network fetches.
func Open(connString string) (*Source, error) {
	db, err := sql.Open("postgres", connString)
	if err != nil {
		return nil, fmt.Errorf("pqsource: open: %w", err)
	}

	h := apperrors.NewHandler(logger.New("pqsource"))
	if _, err := h.ExecuteWithRetry("pqsource.datasource.ping", 3, func() (interface{}, error) {
		return nil, db.Ping()
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("pqsource: open: %w", err)
	}
	return &Source{db: db, errors: h}, nil
}

func (s *Source) Close() error { return s.db.Close() }

// EnumerateTables lists base tables in the public schema and their
// timestamp bounds.
func (s *Source) EnumerateTables(ctx context.Context) ([]models.TableInfo, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT table_name FROM information_schema.tables WHERE table_schema = 'public' AND table_type = 'BASE TABLE'`)
	if err != nil {
		return nil, fmt.Errorf("pqsource: enumerate tables: %w", err)
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
			continue
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

	query, args := datasource.BuildQuery(table, datasource.SelectColsFor(isBars), from, to, symbols, func(n int) string { return fmt.Sprintf("$%d", n) })

	// Retry with backoff so a transient failure (a dropped connection)
	// does not fail the replay outright. Every error is retried; one that
	// persists through all attempts surfaces.
	result, err := s.errors.ExecuteWithRetry("pqsource.datasource.query", 3, func() (interface{}, error) {
		return s.db.QueryContext(ctx, query, args...)
	})
	if err != nil {
		return nil, fmt.Errorf("pqsource: query %s: %w", table, err)
	}
	return datasource.NewIterator(result.(*sql.Rows))
}
