package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/loykin/watchdogd/internal/events"
	"github.com/loykin/watchdogd/internal/history"
)

// Options locate the ClickHouse server and table.
type Options struct {
	Addr     string
	Database string
	Username string
	Password string
	Table    string
	// DialTimeout bounds connect and the initial ping.
	DialTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.Addr == "" {
		o.Addr = "localhost:9000"
	}
	if o.Database == "" {
		o.Database = "default"
	}
	if o.Username == "" {
		o.Username = "default"
	}
	if o.Table == "" {
		o.Table = history.DefaultTable
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = 5 * time.Second
	}
	return o
}

// Sink sends events to ClickHouse using the official native client.
type Sink struct {
	conn  driver.Conn
	table string
}

// New connects, pings and creates the events table if it is missing.
func New(opts Options) (*Sink, error) {
	opts = opts.withDefaults()
	if err := history.ValidateTable(opts.Table); err != nil {
		return nil, err
	}
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{opts.Addr},
		Auth: clickhouse.Auth{
			Database: opts.Database,
			Username: opts.Username,
			Password: opts.Password,
		},
		DialTimeout: opts.DialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), opts.DialTimeout)
	defer cancel()
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	s := &Sink{conn: conn, table: opts.Table}
	if err := s.ensureSchema(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("create ClickHouse history schema: %w", err)
	}
	return s, nil
}

func (s *Sink) ensureSchema(ctx context.Context) error {
	return s.conn.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			occurred_at DateTime64(3, 'UTC'),
			service LowCardinality(String),
			kind LowCardinality(String),
			detail String,
			pid Int64,
			exit_code Nullable(Int32),
			uptime_ms Int64,
			started_at Nullable(DateTime64(3, 'UTC')),
			restart_count Int64,
			crash_count Int64,
			service_kind LowCardinality(String),
			command String
		) ENGINE = MergeTree()
		ORDER BY (service, occurred_at)`, s.table))
}

func (s *Sink) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

func (s *Sink) Send(ctx context.Context, e events.Event) error {
	r := history.RecordOf(e)
	var exitCode *int32
	if r.ExitCode != nil {
		c := int32(*r.ExitCode)
		exitCode = &c
	}
	query := fmt.Sprintf(`INSERT INTO %s (occurred_at, service, kind, detail, pid, exit_code, uptime_ms, started_at, restart_count, crash_count, service_kind, command) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, s.table)

	err := s.conn.Exec(ctx, query,
		r.OccurredAt,
		r.Service,
		r.Kind,
		r.Detail,
		int64(r.PID),
		exitCode,
		r.UptimeMS,
		r.StartedAt,
		int64(r.RestartCount),
		int64(r.CrashCount),
		r.ServiceKind,
		r.Command,
	)
	if err != nil {
		return fmt.Errorf("failed to insert event into ClickHouse: %w", err)
	}
	return nil
}

// Count returns the number of stored events for service.
func (s *Sink) Count(ctx context.Context, service string) (uint64, error) {
	var n uint64
	row := s.conn.QueryRow(ctx, fmt.Sprintf("SELECT count() FROM %s WHERE service = ?", s.table), service)
	if err := row.Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}
