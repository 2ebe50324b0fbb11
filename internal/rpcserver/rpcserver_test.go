package rpcserver_test

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mcprocd/mcprocd/internal/audit"
	"github.com/mcprocd/mcprocd/internal/env"
	"github.com/mcprocd/mcprocd/internal/eventbus"
	"github.com/mcprocd/mcprocd/internal/loghub"
	"github.com/mcprocd/mcprocd/internal/registry"
	"github.com/mcprocd/mcprocd/internal/rpcclient"
	"github.com/mcprocd/mcprocd/internal/rpcserver"
	"github.com/mcprocd/mcprocd/internal/supervisor"
	"github.com/mcprocd/mcprocd/internal/wire"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testDaemon struct {
	client *rpcclient.Client
	hub    *loghub.Hub
	bus    *eventbus.Bus
	reg    *registry.Registry
	cancel context.CancelFunc
}

func startTestDaemon(t *testing.T) *testDaemon {
	t.Helper()
	reg := registry.New()
	hub := loghub.New(256, 256, 10)
	bus := eventbus.New(256)
	sv := supervisor.New(reg, hub, bus, env.New(), t.TempDir(), "test", audit.NoopSink{})
	socketPath := filepath.Join(t.TempDir(), "ctl.sock")
	srv := rpcserver.New(sv, hub, bus, reg, socketPath, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ctx) }()

	client := rpcclient.New(socketPath)
	t.Cleanup(func() {
		cancel()
		_ = srv.Close()
	})
	waitForSocket(t, client)
	return &testDaemon{client: client, hub: hub, bus: bus, reg: reg, cancel: cancel}
}

// waitForSocket exists because Server.Serve binds the listener
// asynchronously; tests dial only once the socket file is ready.
func waitForSocket(t *testing.T, c *rpcclient.Client) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	var lastErr error
	for time.Now().Before(deadline) {
		if _, _, err := c.Get(wire.GetReq{Project: "probe", Name: "probe"}); err == nil {
			return
		} else {
			lastErr = err
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("server socket never became ready: %v", lastErr)
}

func TestStartGetListStopRoundTrip(t *testing.T) {
	d := startTestDaemon(t)

	var chunks int
	rec, err := d.client.Start(wire.StartReq{
		Project: "proj", Name: "proc1",
		Command: registry.CommandSpec{Shell: "echo hello; sleep 2"},
	}, func(wire.StartChunk) { chunks++ })
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if rec.Name != "proc1" || rec.Project != "proj" {
		t.Fatalf("Start record = %+v, want name=proc1 project=proj", rec)
	}

	got, found, err := d.client.Get(wire.GetReq{Project: "proj", Name: "proc1"})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !found || got.Name != "proc1" {
		t.Fatalf("Get = found=%v rec=%+v, want found with name proc1", found, got)
	}

	list, err := d.client.List(wire.ListReq{Project: "proj"})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("List = %d records, want 1", len(list))
	}

	if err := d.client.Stop(wire.StopReq{Project: "proj", Name: "proc1", Force: true}); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestGetLogsTailReturnsCapturedLines(t *testing.T) {
	d := startTestDaemon(t)

	if _, err := d.client.Start(wire.StartReq{
		Project: "proj", Name: "tail1",
		Command: registry.CommandSpec{Shell: "echo line-one; echo line-two"},
	}, nil); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Give capture goroutines a moment to drain stdout into the hub.
	time.Sleep(100 * time.Millisecond)

	resp, err := d.client.DaemonStatus()
	if err != nil {
		t.Fatalf("DaemonStatus: %v", err)
	}
	if resp.Version != "test" {
		t.Fatalf("DaemonStatus.Version = %q, want %q", resp.Version, "test")
	}

	var lines []string
	stop, err := d.client.GetLogs(wire.GetLogsReq{Project: "proj", Name: "tail1", Tail: 10}, func(c wire.GetLogsChunk) {
		if c.Entry != nil {
			lines = append(lines, c.Entry.Content)
		}
	})
	if err != nil {
		t.Fatalf("GetLogs: %v", err)
	}
	defer stop()

	deadline := time.Now().Add(time.Second)
	for len(lines) < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if len(lines) < 2 {
		t.Fatalf("expected at least 2 tailed lines, got %v", lines)
	}
}

// TestGetLogsFollowReleasesSubscriberSlotOnDisconnect covers the spec's
// bounded-release requirement for streaming GetLogs: once the client
// disconnects, the server's hub (and, when include_events is set, bus)
// subscription must be torn down promptly rather than leaking.
func TestGetLogsFollowReleasesSubscriberSlotOnDisconnect(t *testing.T) {
	d := startTestDaemon(t)

	if _, err := d.client.Start(wire.StartReq{
		Project: "proj", Name: "follow1",
		Command: registry.CommandSpec{Shell: "sleep 5"},
	}, nil); err != nil {
		t.Fatalf("Start: %v", err)
	}

	stop, err := d.client.GetLogs(wire.GetLogsReq{
		Project: "proj", Name: "follow1", Follow: true, IncludeEvents: true,
	}, func(wire.GetLogsChunk) {})
	if err != nil {
		t.Fatalf("GetLogs: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for d.hub.SubscriberCount("proj", "follow1") == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if d.hub.SubscriberCount("proj", "follow1") == 0 {
		t.Fatalf("expected the hub subscriber slot to be registered while following")
	}

	stop() // disconnect

	deadline = time.Now().Add(2 * time.Second)
	for (d.hub.SubscriberCount("proj", "follow1") != 0 || d.bus.SubscriberCount("proj", "follow1") != 0) && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := d.hub.SubscriberCount("proj", "follow1"); got != 0 {
		t.Fatalf("hub subscriber count after disconnect = %d, want 0 within bounded time", got)
	}
	if got := d.bus.SubscriberCount("proj", "follow1"); got != 0 {
		t.Fatalf("bus subscriber count after disconnect = %d, want 0 within bounded time", got)
	}

	_ = d.client.Stop(wire.StopReq{Project: "proj", Name: "follow1", Force: true})
}

func TestCleanRemovesTerminatedProcess(t *testing.T) {
	d := startTestDaemon(t)

	if _, err := d.client.Start(wire.StartReq{
		Project: "proj", Name: "clean1",
		Command: registry.CommandSpec{Shell: "exit 0"},
	}, nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	resp, err := d.client.Clean(wire.CleanReq{Project: "proj", Force: true})
	if err != nil {
		t.Fatalf("Clean: %v", err)
	}
	found := false
	for _, p := range resp.Deleted {
		if strings.Contains(p, "clean1") {
			found = true
		}
	}
	if !found {
		t.Fatalf("Clean.Deleted = %v, want it to include clean1's log file", resp.Deleted)
	}
	if _, fo, err := d.client.Get(wire.GetReq{Project: "proj", Name: "clean1"}); err != nil || fo {
		t.Fatalf("Get after Clean: found=%v err=%v, want the record gone", fo, err)
	}
}
