package audit

import (
	"fmt"
	"net/url"
)

// New builds a Sink from a driver name ("sqlite", "postgres", "clickhouse")
// and a driver-specific DSN. An empty driver yields NoopSink.
func New(driver, dsn string) (Sink, error) {
	switch driver {
	case "", "none":
		return NoopSink{}, nil
	case "sqlite", "postgres":
		return NewSQLSink(dsn)
	case "clickhouse":
		addr, database, table := parseClickHouseDSN(dsn)
		return NewClickHouseSink(addr, database, table)
	default:
		return nil, fmt.Errorf("unsupported audit driver: %s", driver)
	}
}

// parseClickHouseDSN reads "clickhouse://host:port?database=db&table=tbl",
// defaulting database to "default" and table to "process_history".
func parseClickHouseDSN(dsn string) (addr, database, table string) {
	database, table = "default", "process_history"
	u, err := url.Parse(dsn)
	if err != nil || u.Host == "" {
		return dsn, database, table
	}
	addr = u.Host
	if d := u.Query().Get("database"); d != "" {
		database = d
	}
	if t := u.Query().Get("table"); t != "" {
		table = t
	}
	return addr, database, table
}
