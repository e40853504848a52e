package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/loykin/buildprobe/internal/history"
)

// Sink archives build reports to a SQLite database.
type Sink struct {
	db *sql.DB
}

// New creates a new SQLite history sink.
// DSN format:
//   - "sqlite:///path/to/file.db"
//   - "sqlite://:memory:"
//   - "/path/to/file.db" (without prefix)
//   - ":memory:" (in-memory database)
func New(dsn string) (*Sink, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("empty SQLite DSN")
	}

	if strings.HasPrefix(strings.ToLower(dsn), "sqlite://") {
		dsn = dsn[len("sqlite://"):]
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// a second connection to ":memory:" would see an empty database
	db.SetMaxOpenConns(1)

	sink := &Sink{db: db}
	if err := sink.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return sink, nil
}

func (s *Sink) ensureSchema(ctx context.Context) error {
	stmt := `CREATE TABLE IF NOT EXISTS build_reports(
		received_at TIMESTAMP NOT NULL DEFAULT (CURRENT_TIMESTAMP),
		remote TEXT NOT NULL,
		report_time TEXT NOT NULL,
		total_ms REAL,
		events TEXT NOT NULL
	);`
	_, err := s.db.ExecContext(ctx, stmt)
	return err
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	events, err := e.Report.EventsJSON()
	if err != nil {
		return err
	}
	var total sql.NullFloat64
	total.Float64, total.Valid = e.Report.Total()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO build_reports(received_at, remote, report_time, total_ms, events)
		VALUES(?, ?, ?, ?, ?);`,
		e.ReceivedAt.UTC(), e.Remote, e.Report.Time, total, events)
	return err
}

func (s *Sink) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
