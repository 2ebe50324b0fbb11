package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestSQLSinkAgainstPostgresContainer(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container-backed integration test in short mode")
	}
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("mcprocd"),
		postgres.WithUsername("mcprocd"),
		postgres.WithPassword("mcprocd"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err, "start postgres container")
	defer func() { require.NoError(t, container.Terminate(ctx)) }()

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err, "connection string")

	sink, err := NewSQLSink(dsn)
	require.NoError(t, err, "NewSQLSink")
	defer func() { require.NoError(t, sink.Close()) }()

	exitCode := 0
	require.NoError(t, sink.Record(ctx, Event{Type: EventStart, Project: "demo", Name: "web", Timestamp: time.Now(), PID: 42}))
	require.NoError(t, sink.Record(ctx, Event{Type: EventStop, Project: "demo", Name: "web", Timestamp: time.Now(), PID: 42, ExitCode: &exitCode}))

	var count int
	row := sink.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM process_history WHERE project = $1 AND name = $2", "demo", "web")
	require.NoError(t, row.Scan(&count))
	require.Equal(t, 2, count)
}
