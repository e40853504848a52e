package clickhouse

import (
	"context"
	"fmt"
	"regexp"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/loykin/buildprobe/internal/history"
)

// Sink archives build reports using the official ClickHouse Go client.
type Sink struct {
	conn  driver.Conn
	table string
}

// tableName matches table or database.table; the name is spliced into SQL.
var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// New connects to the native protocol address addr (host:port) and makes
// sure table exists.
func New(addr, table string) (*Sink, error) {
	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("invalid ClickHouse table name %q", table)
	}
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: "default",
			Username: "default",
			Password: "",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	ctx := context.Background()
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	s := &Sink{conn: conn, table: table}
	if err := s.ensureSchema(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return s, nil
}

func (s *Sink) ensureSchema(ctx context.Context) error {
	err := s.conn.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			received_at DateTime64(3),
			remote String,
			report_time String,
			total_ms Nullable(Float64),
			events String
		) ENGINE = MergeTree()
		ORDER BY received_at`, s.table))
	if err != nil {
		return fmt.Errorf("failed to create ClickHouse table %s: %w", s.table, err)
	}
	return nil
}

func (s *Sink) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	events, err := e.Report.EventsJSON()
	if err != nil {
		return err
	}
	var total *float64
	if v, ok := e.Report.Total(); ok {
		total = &v
	}

	query := fmt.Sprintf(`INSERT INTO %s (received_at, remote, report_time, total_ms, events) VALUES (?, ?, ?, ?, ?)`, s.table)
	if err := s.conn.Exec(ctx, query, e.ReceivedAt.UTC(), e.Remote, e.Report.Time, total, events); err != nil {
		return fmt.Errorf("failed to insert report into ClickHouse: %w", err)
	}
	return nil
}
