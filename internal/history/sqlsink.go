package history

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/loykin/watchdogd/internal/events"
)

// Dialect selects placeholder style and column types for SQLSink.
type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
)

// SQLSink appends events to a relational table through database/sql. The
// driver is chosen by the caller; the subpackages register them.
type SQLSink struct {
	db      *sql.DB
	dialect Dialect
	table   string
}

// NewSQLSink wraps db and creates the table and its index if missing.
func NewSQLSink(ctx context.Context, db *sql.DB, dialect Dialect, table string) (*SQLSink, error) {
	if table == "" {
		table = DefaultTable
	}
	if err := ValidateTable(table); err != nil {
		return nil, err
	}
	s := &SQLSink{db: db, dialect: dialect, table: table}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("create %s history schema: %w", dialect, err)
	}
	return s, nil
}

func (s *SQLSink) ensureSchema(ctx context.Context) error {
	id, ts := "INTEGER PRIMARY KEY AUTOINCREMENT", "TIMESTAMP"
	if s.dialect == Postgres {
		id, ts = "BIGSERIAL PRIMARY KEY", "TIMESTAMPTZ"
	}
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s(
			id %s,
			occurred_at %s NOT NULL,
			service TEXT NOT NULL,
			kind TEXT NOT NULL,
			detail TEXT NOT NULL,
			pid INTEGER NOT NULL,
			exit_code INTEGER NULL,
			uptime_ms BIGINT NOT NULL,
			started_at %s NULL,
			restart_count INTEGER NOT NULL,
			crash_count INTEGER NOT NULL,
			service_kind TEXT NOT NULL,
			command TEXT NOT NULL
		);`, s.table, id, ts, ts),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_service ON %s(service, occurred_at);`, s.table, s.table),
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

// ph returns the n-th (1-based) bind placeholder.
func (s *SQLSink) ph(n int) string {
	if s.dialect == Postgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

func (s *SQLSink) placeholders(n int) string {
	out := make([]string, n)
	for i := range out {
		out[i] = s.ph(i + 1)
	}
	return strings.Join(out, ", ")
}

func (s *SQLSink) Send(ctx context.Context, e events.Event) error {
	r := RecordOf(e)
	var exitCode, startedAt any
	if r.ExitCode != nil {
		exitCode = *r.ExitCode
	}
	if r.StartedAt != nil {
		startedAt = *r.StartedAt
	}
	q := fmt.Sprintf(`INSERT INTO %s(occurred_at, service, kind, detail, pid, exit_code, uptime_ms, started_at, restart_count, crash_count, service_kind, command)
		VALUES(%s);`, s.table, s.placeholders(12))
	_, err := s.db.ExecContext(ctx, q,
		r.OccurredAt, r.Service, r.Kind, r.Detail, r.PID, exitCode, r.UptimeMS,
		startedAt, r.RestartCount, r.CrashCount, r.ServiceKind, r.Command)
	if err != nil {
		return fmt.Errorf("insert %s event for %s: %w", r.Kind, r.Service, err)
	}
	return nil
}

// Recent returns up to limit records, newest first. An empty service
// selects every service.
func (s *SQLSink) Recent(ctx context.Context, service string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 100
	}
	q := fmt.Sprintf(`SELECT occurred_at, service, kind, detail, pid, exit_code, uptime_ms, started_at, restart_count, crash_count, service_kind, command FROM %s`, s.table)
	args := []any{}
	if service != "" {
		q += " WHERE service = " + s.ph(1)
		args = append(args, service)
	}
	q += fmt.Sprintf(" ORDER BY occurred_at DESC, id DESC LIMIT %d", limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Record
	for rows.Next() {
		var (
			r         Record
			exitCode  sql.NullInt64
			startedAt sql.NullTime
		)
		if err := rows.Scan(&r.OccurredAt, &r.Service, &r.Kind, &r.Detail, &r.PID, &exitCode,
			&r.UptimeMS, &startedAt, &r.RestartCount, &r.CrashCount, &r.ServiceKind, &r.Command); err != nil {
			return nil, err
		}
		if exitCode.Valid {
			c := int(exitCode.Int64)
			r.ExitCode = &c
		}
		if startedAt.Valid {
			t := startedAt.Time.UTC()
			r.StartedAt = &t
		}
		r.OccurredAt = r.OccurredAt.UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// Ping checks the connection within d.
func (s *SQLSink) Ping(ctx context.Context, d time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	return s.db.PingContext(ctx)
}

func (s *SQLSink) Table() string { return s.table }

func (s *SQLSink) Close() error { return s.db.Close() }
