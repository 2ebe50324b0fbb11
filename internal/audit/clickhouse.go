package audit

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// ClickHouseSink mirrors lifecycle events to ClickHouse over its native
// protocol, for deployments that already run a ClickHouse-backed analytics
// pipeline alongside the daemon.
type ClickHouseSink struct {
	conn  driver.Conn
	table string
}

// NewClickHouseSink dials addr (host:port) and pings the server. It does not
// check for or create the table.
func NewClickHouseSink(addr, database, table string) (*ClickHouseSink, error) {
	if table == "" {
		table = "process_history"
	}
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{Database: database},
	})
	if err != nil {
		return nil, fmt.Errorf("connect clickhouse: %w", err)
	}
	if err := conn.Ping(context.Background()); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping clickhouse: %w", err)
	}
	return &ClickHouseSink{conn: conn, table: table}, nil
}

func (s *ClickHouseSink) Record(ctx context.Context, e Event) error {
	query := fmt.Sprintf(
		`INSERT INTO %s (event, occurred_at, project, name, pid, exit_code, error) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		s.table)
	exitCode := 0
	if e.ExitCode != nil {
		exitCode = *e.ExitCode
	}
	if err := s.conn.Exec(ctx, query, string(e.Type), e.Timestamp.UTC(), e.Project, e.Name, e.PID, exitCode, e.Error); err != nil {
		return fmt.Errorf("insert into clickhouse: %w", err)
	}
	return nil
}

func (s *ClickHouseSink) Close() error { return s.conn.Close() }
