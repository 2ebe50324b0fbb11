package wire

import (
	"encoding/gob"
	"time"

	"github.com/mcprocd/mcprocd/internal/eventbus"
	"github.com/mcprocd/mcprocd/internal/loghub"
	"github.com/mcprocd/mcprocd/internal/registry"
)

// StartReq is the Start operation's request payload (spec §4.1).
type StartReq struct {
	Name, Project  string
	Command        registry.CommandSpec
	Toolchain      string
	Cwd            string
	Env            []string
	WaitForPattern string
	WaitTimeout    time.Duration
	ForceRestart   bool
}

// StartChunk carries one log line captured during the readiness wait.
type StartChunk struct{ Entry loghub.Entry }

// StartFinal carries the terminal ProcessRecord snapshot.
type StartFinal struct{ Record registry.Record }

// StopReq is the Stop operation's request payload.
type StopReq struct {
	Project, Name string
	Force         bool
}

// RestartReq is the Restart operation's request payload.
type RestartReq struct {
	Project, Name  string
	WaitForPattern string
	WaitTimeout    time.Duration
}

// GetReq/GetResp implement the Get operation.
type GetReq struct{ Project, Name string }
type GetResp struct {
	Record registry.Record
	Found  bool
}

// ListReq/ListResp implement the List operation.
type ListReq struct {
	Project string
	States  []registry.State
}
type ListResp struct{ Records []registry.Record }

// GetLogsReq is the GetLogs operation's request payload.
type GetLogsReq struct {
	Project       string
	Name          string // empty = all processes in project
	Tail          int
	Follow        bool
	IncludeEvents bool
}

// GetLogsChunk carries either a log entry or an interleaved lifecycle event.
type GetLogsChunk struct {
	ProcessName string
	Entry       *loghub.Entry
	Event       *eventbus.Event
}

// GrepReq is the Grep operation's request payload.
type GrepReq struct {
	Project, Name, Pattern string
	Before, After          int
	Since, Until           time.Time
}

// GrepResp is the Grep operation's response payload.
type GrepResp struct{ Matches []loghub.Match }

// CleanReq/CleanResp implement the Clean operation.
type CleanReq struct {
	Project string
	Force   bool
}
type CleanResp struct{ Stopped, Deleted []string }

// DaemonStatusResp implements the DaemonStatus operation.
type DaemonStatusResp struct {
	Version          string
	PID              int
	StartTime        time.Time
	Uptime           time.Duration
	StateRoot        string
	NonTerminalCount int
}

func init() {
	gob.Register(StartReq{})
	gob.Register(StartChunk{})
	gob.Register(StartFinal{})
	gob.Register(StopReq{})
	gob.Register(RestartReq{})
	gob.Register(GetReq{})
	gob.Register(GetResp{})
	gob.Register(ListReq{})
	gob.Register(ListResp{})
	gob.Register(GetLogsReq{})
	gob.Register(GetLogsChunk{})
	gob.Register(GrepReq{})
	gob.Register(GrepResp{})
	gob.Register(CleanReq{})
	gob.Register(CleanResp{})
	gob.Register(DaemonStatusResp{})
}
