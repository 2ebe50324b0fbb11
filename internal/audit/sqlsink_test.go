package audit

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func TestSQLSinkRecordsAndPersistsEvents(t *testing.T) {
	dsn := "sqlite://" + filepath.Join(t.TempDir(), "history.db")
	sink, err := NewSQLSink(dsn)
	if err != nil {
		t.Fatalf("NewSQLSink: %v", err)
	}
	defer func() { _ = sink.Close() }()

	exitCode := 0
	err = sink.Record(context.Background(), Event{
		Type: EventStart, Project: "demo", Name: "web", Timestamp: time.Now(), PID: 123,
	})
	if err != nil {
		t.Fatalf("Record(start): %v", err)
	}
	err = sink.Record(context.Background(), Event{
		Type: EventStop, Project: "demo", Name: "web", Timestamp: time.Now(), PID: 123, ExitCode: &exitCode,
	})
	if err != nil {
		t.Fatalf("Record(stop): %v", err)
	}

	var count int
	row := sink.db.QueryRowContext(context.Background(), "SELECT COUNT(*) FROM process_history WHERE project = ? AND name = ?", "demo", "web")
	if err := row.Scan(&count); err != nil {
		t.Fatalf("scan count: %v", err)
	}
	if count != 2 {
		t.Fatalf("count = %d, want 2", count)
	}
}

func TestNewSQLSinkRejectsEmptyDSN(t *testing.T) {
	if _, err := NewSQLSink("  "); err == nil {
		t.Fatalf("expected error for empty DSN")
	}
}
