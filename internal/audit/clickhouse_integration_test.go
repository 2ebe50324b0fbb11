package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/clickhouse"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestClickHouseSinkAgainstContainer(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container-backed integration test in short mode")
	}
	ctx := context.Background()

	container, err := clickhouse.Run(ctx,
		"clickhouse/clickhouse-server:24.3.2.23",
		clickhouse.WithUsername("default"),
		clickhouse.WithPassword(""),
		clickhouse.WithDatabase("default"),
		testcontainers.WithWaitStrategy(
			wait.ForHTTP("/ping").WithPort("8123/tcp").WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err, "start clickhouse container")
	defer func() { require.NoError(t, container.Terminate(ctx)) }()

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "9000")
	require.NoError(t, err)
	addr := host + ":" + port.Port()

	sink, err := NewClickHouseSink(addr, "default", "process_history")
	require.NoError(t, err, "NewClickHouseSink")
	defer func() { require.NoError(t, sink.Close()) }()

	require.NoError(t, sink.conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS process_history (
			event String,
			occurred_at DateTime64(6),
			project String,
			name String,
			pid UInt32,
			exit_code Int32,
			error String
		) ENGINE = MergeTree()
		ORDER BY (occurred_at, project, name)
	`))

	exitCode := 0
	require.NoError(t, sink.Record(ctx, Event{Type: EventStart, Project: "demo", Name: "web", Timestamp: time.Now(), PID: 42}))
	require.NoError(t, sink.Record(ctx, Event{Type: EventStop, Project: "demo", Name: "web", Timestamp: time.Now(), PID: 42, ExitCode: &exitCode}))

	var count uint64
	row := sink.conn.QueryRow(ctx, "SELECT COUNT(*) FROM process_history WHERE project = ? AND name = ?", "demo", "web")
	require.NoError(t, row.Scan(&count))
	require.Equal(t, uint64(2), count)
}
