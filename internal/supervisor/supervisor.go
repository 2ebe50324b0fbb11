// Package supervisor implements the Process Supervisor (spec §4.1): spawn,
// status tracking, wait-for-log readiness, graceful vs. forced termination,
// process-group cleanup, and restart. It orchestrates internal/process (OS
// mechanics), internal/registry (the in-memory source of truth),
// internal/loghub (capture/persistence), internal/eventbus (lifecycle
// fan-out), internal/portscan (best-effort port sampling), and
// internal/audit (write-only history), grounded on the monitor-loop
// coordination in internal/manager but with auto-restart-on-crash removed
// entirely — that policy is an explicit non-goal here.
package supervisor

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/mcprocd/mcprocd/internal/audit"
	"github.com/mcprocd/mcprocd/internal/env"
	"github.com/mcprocd/mcprocd/internal/eventbus"
	"github.com/mcprocd/mcprocd/internal/loghub"
	"github.com/mcprocd/mcprocd/internal/mcperrors"
	"github.com/mcprocd/mcprocd/internal/metrics"
	"github.com/mcprocd/mcprocd/internal/paths"
	"github.com/mcprocd/mcprocd/internal/portscan"
	"github.com/mcprocd/mcprocd/internal/process"
	"github.com/mcprocd/mcprocd/internal/registry"
	"github.com/mcprocd/mcprocd/internal/validate"
)

// DefaultStopGrace is the bounded grace period before Stop escalates to a
// forced kill (spec §4.1 step 4: "implementation ≈ 5 seconds").
const DefaultStopGrace = 5 * time.Second

// startGrace is how long Start waits, absent a wait_for_pattern, to catch a
// child that exits immediately after spawn (spec §4.1 step 9).
const startGrace = 150 * time.Millisecond

// StartRequest mirrors the Start operation's inputs (spec §4.1).
type StartRequest struct {
	Name           string
	Project        string
	Command        registry.CommandSpec
	Toolchain      string
	Cwd            string
	Env            []string
	WaitForPattern string
	WaitTimeout    time.Duration
	ForceRestart   bool
}

// StopRequest mirrors the Stop operation's inputs.
type StopRequest struct {
	Project string
	Name    string
	Force   bool
}

// CleanResult reports what a Clean call did.
type CleanResult struct {
	Stopped []string
	Deleted []string
}

// DaemonStatus mirrors the DaemonStatus operation's output.
type DaemonStatus struct {
	Version           string
	PID               int
	StartTime         time.Time
	Uptime            time.Duration
	StateRoot         string
	NonTerminalCount  int
}

// Supervisor is the daemon-wide coordinator. It holds exactly one entry per
// (project, name), matching the registry's single-writer-per-key model.
type Supervisor struct {
	mu    sync.Mutex
	procs map[registry.Key]*process.Process

	reg *registry.Registry
	hub *loghub.Hub
	bus *eventbus.Bus
	env *env.Env

	stateRoot string
	version   string
	startTime time.Time

	audit audit.Sink
}

// New constructs a Supervisor. audit may be nil (audit.NoopSink{}) if no
// history sink was configured.
func New(reg *registry.Registry, hub *loghub.Hub, bus *eventbus.Bus, envM *env.Env, stateRoot, version string, sink audit.Sink) *Supervisor {
	if sink == nil {
		sink = audit.NoopSink{}
	}
	return &Supervisor{
		procs:     make(map[registry.Key]*process.Process),
		reg:       reg,
		hub:       hub,
		bus:       bus,
		env:       envM,
		stateRoot: stateRoot,
		version:   version,
		startTime: time.Now(),
		audit:     sink,
	}
}

// Start spawns name under project per spec §4.1. The returned record is the
// final snapshot after Running/Failed transition (or a timed-out-but-still-
// running readiness wait).
func (s *Supervisor) Start(ctx context.Context, req StartRequest) (registry.Record, error) {
	if err := validate.Name(req.Name); err != nil {
		return registry.Record{}, err
	}
	if err := validate.Project(req.Project); err != nil {
		return registry.Record{}, err
	}
	if err := (process.CommandSpec{Shell: req.Command.Shell, Argv: req.Command.Argv}).Validate(); err != nil {
		return registry.Record{}, mcperrors.Wrap(mcperrors.InvalidArgument, "invalid command_spec", err)
	}

	key := registry.Key{Project: req.Project, Name: req.Name}

	if err := s.resolveExisting(ctx, key, req.ForceRestart); err != nil {
		return registry.Record{}, err
	}

	spec := process.Spec{
		Name:           req.Name,
		Project:        req.Project,
		Command:        process.CommandSpec{Shell: req.Command.Shell, Argv: req.Command.Argv},
		Toolchain:      req.Toolchain,
		WorkDir:        req.Cwd,
		Env:            req.Env,
		WaitForPattern: req.WaitForPattern,
		WaitTimeout:    req.WaitTimeout,
	}

	proc := process.New(spec)
	s.mu.Lock()
	s.procs[key] = proc
	s.mu.Unlock()

	logPath := paths.ProcessLogPath(s.stateRoot, req.Project, req.Name)
	if err := paths.EnsureLogDir(s.stateRoot, req.Project); err != nil {
		return s.fail(key, spec, logPath, fmt.Errorf("create log directory: %w", err))
	}

	header := fmt.Sprintf("command=%q cwd=%q start_time=%s", commandString(spec.Command), spec.WorkDir, time.Now().UTC().Format(time.RFC3339))
	s.hub.Open(req.Project, req.Name, logPath, header)

	s.publish(eventbus.EventStarting, key, 0)
	s.setRecord(key, func(r *registry.Record) {
		*r = registry.Record{
			ID: req.Project + "/" + req.Name, Name: req.Name, Project: req.Project,
			Command: req.Command, Toolchain: req.Toolchain, Cwd: req.Cwd, Env: req.Env,
			WaitForPattern: req.WaitForPattern, WaitTimeout: req.WaitTimeout,
			State: registry.Starting, LogFilePath: logPath, Generation: proc.Generation(),
		}
	})

	outR, outW, err := os.Pipe()
	if err != nil {
		return s.fail(key, spec, logPath, err)
	}
	errR, errW, err := os.Pipe()
	if err != nil {
		return s.fail(key, spec, logPath, err)
	}

	mergedEnv := s.env.Merge(spec.Env)
	cmd := proc.ConfigureCmd(mergedEnv, outW, errW)

	if err := proc.TryStart(cmd); err != nil {
		_ = outR.Close()
		_ = errR.Close()
		return s.fail(key, spec, logPath, err)
	}

	go s.hub.CaptureStream(req.Project, req.Name, loghub.LevelStdout, outR)
	go s.hub.CaptureStream(req.Project, req.Name, loghub.LevelStderr, errR)

	if proc.MonitoringStartIfNeeded() {
		go s.monitor(key, proc)
	}

	metrics.IncStart(req.Project, req.Name)
	snap := proc.Snapshot()
	s.setRecord(key, func(r *registry.Record) {
		r.PID = snap.PID
		r.ProcessGroupID = snap.GroupID
		r.StartTime = snap.StartedAt
	})
	s.audit.Record(ctx, audit.Event{Type: audit.EventStart, Project: req.Project, Name: req.Name, Timestamp: snap.StartedAt, PID: snap.PID})

	rec := s.awaitReadiness(ctx, key, proc, spec)
	return rec, nil
}

// resolveExisting enforces step 2 of Start: an existing non-terminal record
// is either force-restarted (stopped and awaited) or rejected with
// AlreadyExists.
func (s *Supervisor) resolveExisting(ctx context.Context, key registry.Key, force bool) error {
	rec, ok := s.reg.Get(key)
	if !ok || rec.State.Terminal() {
		return nil
	}
	if !force {
		return mcperrors.New(mcperrors.AlreadyExists, fmt.Sprintf("process already running: %s/%s", key.Project, key.Name))
	}
	return s.Stop(ctx, StopRequest{Project: key.Project, Name: key.Name, Force: false})
}

// awaitReadiness implements step 8-10 of Start. With a wait_for_pattern it
// resolves on the first matching line or on the wait timeout. Without one it
// waits the fixed startGrace window and resolves Running unless the child
// exited within it; captured output does not end that window early.
func (s *Supervisor) awaitReadiness(ctx context.Context, key registry.Key, proc *process.Process, spec process.Spec) registry.Record {
	start := time.Now()
	var timedOut bool
	var matched string
	var matchCtx []string

	if spec.WaitForPattern == "" {
		if err := proc.AwaitGrace(startGrace); err != nil && process.IsEarlyExitErr(err) {
			return s.observeEarlyExit(key, proc)
		}
	} else {
		re, err := regexp.Compile(spec.WaitForPattern)
		if err != nil {
			return s.finalizeFailed(key, proc, mcperrors.New(mcperrors.InvalidArgument, "invalid wait_for_pattern"))
		}
		sub := s.hub.Subscribe(key.Project, key.Name)
		defer s.hub.Unsubscribe(key.Project, key.Name, sub)

		timeout := spec.EffectiveWaitTimeout()
		deadline := time.After(timeout)
	waitLoop:
		for {
			select {
			case entry, ok := <-sub:
				if !ok {
					break waitLoop
				}
				if re.MatchString(entry.Content) {
					matched = entry.Content
					break waitLoop
				}
			case <-deadline:
				timedOut = true
				break waitLoop
			case <-ctx.Done():
				timedOut = true
				break waitLoop
			}
			if alive, _ := proc.DetectAlive(); !alive {
				return s.observeEarlyExit(key, proc)
			}
		}
		metrics.ObserveReadinessWait(key.Project, key.Name, time.Since(start).Seconds(), timedOut)
	}

	if alive, _ := proc.DetectAlive(); !alive {
		return s.observeEarlyExit(key, proc)
	}

	var readiness *registry.ReadinessDetail
	if spec.WaitForPattern != "" {
		readiness = &registry.ReadinessDetail{Pattern: spec.WaitForPattern, MatchedLine: matched, Context: matchCtx, TimedOut: timedOut}
	}

	s.setRecord(key, func(r *registry.Record) {
		from := string(r.State)
		r.State = registry.Running
		r.Readiness = readiness
		metrics.RecordStateTransition(key.Project, key.Name, from, string(registry.Running))
	})
	s.publish(eventbus.EventStarted, key, proc.Snapshot().PID)

	rec, _ := s.reg.Get(key)
	return rec
}

func (s *Supervisor) observeEarlyExit(key registry.Key, proc *process.Process) registry.Record {
	snap := proc.Snapshot()
	detail := ""
	if snap.ExitErr != nil {
		detail = snap.ExitErr.Error()
	}
	return s.finalizeFailed(key, proc, mcperrors.New(mcperrors.Internal, "process exited during startup: "+detail))
}

func (s *Supervisor) finalizeFailed(key registry.Key, proc *process.Process, cause error) registry.Record {
	snap := proc.Snapshot()
	tail := s.stderrTail(key)
	s.setRecord(key, func(r *registry.Record) {
		from := string(r.State)
		r.State = registry.Failed
		r.Exit = &registry.ExitDetail{Reason: cause.Error(), StderrTail: tail}
		metrics.RecordStateTransition(key.Project, key.Name, from, string(registry.Failed))
	})
	metrics.IncFailure(key.Project, key.Name)
	errMsg := cause.Error()
	s.publishErr(eventbus.EventFailed, key, snap.PID, errMsg)
	rec, _ := s.reg.Get(key)
	return rec
}

func (s *Supervisor) fail(key registry.Key, spec process.Spec, logPath string, cause error) (registry.Record, error) {
	s.setRecord(key, func(r *registry.Record) {
		if r.Name == "" {
			*r = registry.Record{ID: spec.Project + "/" + spec.Name, Name: spec.Name, Project: spec.Project, LogFilePath: logPath}
		}
		r.State = registry.Failed
		r.Exit = &registry.ExitDetail{Reason: cause.Error()}
	})
	metrics.IncFailure(spec.Project, spec.Name)
	s.publishErr(eventbus.EventFailed, key, 0, cause.Error())
	rec, _ := s.reg.Get(key)
	return rec, nil
}

func (s *Supervisor) stderrTail(key registry.Key) []string {
	entries := s.hub.Tail(key.Project, key.Name, 20)
	tail := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Level == loghub.LevelStderr {
			tail = append(tail, e.Content)
		}
	}
	return tail
}

// monitor waits for the child to exit and finalizes the record accordingly.
// It never restarts the process: automatic restart on crash is a non-goal.
func (s *Supervisor) monitor(key registry.Key, proc *process.Process) {
	cmd := proc.CopyCmd()
	if cmd == nil || cmd.Process == nil {
		proc.MonitoringStop()
		return
	}
	err := cmd.Wait()
	proc.MarkExited(err)
	proc.CloseWaitDone()
	proc.CloseWriters()
	proc.MonitoringStop()

	snap := proc.Snapshot()
	rec, ok := s.reg.Get(key)
	if !ok {
		return
	}
	if rec.State.Terminal() {
		return // Stop/Restart already finalized this transition
	}

	stopping := proc.StopRequested()
	target := registry.Failed
	if stopping {
		target = registry.Stopped
	}

	exit := &registry.ExitDetail{StderrTail: s.stderrTail(key)}
	if snap.ExitErr != nil {
		exit.Reason = snap.ExitErr.Error()
	} else if !stopping {
		exit.Reason = "unexpected exit"
	}

	s.setRecord(key, func(r *registry.Record) {
		from := string(r.State)
		r.State = target
		r.Exit = exit
		metrics.RecordStateTransition(key.Project, key.Name, from, string(target))
	})
	if target == registry.Failed {
		metrics.IncFailure(key.Project, key.Name)
	}
	s.audit.Record(context.Background(), audit.Event{Type: audit.EventStop, Project: key.Project, Name: key.Name, Timestamp: snap.StoppedAt})
	s.publish(eventType(target), key, snap.PID)
}

// Stop implements spec §4.1 Stop: idempotent, graceful-then-forced, process
// group signalling.
func (s *Supervisor) Stop(ctx context.Context, req StopRequest) error {
	if err := validate.Name(req.Name); err != nil {
		return err
	}
	key := registry.Key{Project: req.Project, Name: req.Name}
	rec, ok := s.reg.Get(key)
	if !ok || rec.State.Terminal() {
		return nil // idempotent
	}

	s.mu.Lock()
	proc := s.procs[key]
	s.mu.Unlock()
	if proc == nil {
		return nil
	}

	s.setRecord(key, func(r *registry.Record) {
		from := string(r.State)
		r.State = registry.Stopping
		metrics.RecordStateTransition(key.Project, key.Name, from, string(registry.Stopping))
	})
	s.publish(eventbus.EventStopping, key, rec.PID)

	var err error
	if req.Force {
		err = proc.Kill()
	} else {
		err = proc.Stop(DefaultStopGrace)
	}

	_ = s.hub.Close(req.Project, req.Name)
	metrics.IncStop(req.Project, req.Name)

	snap := proc.Snapshot()
	exit := &registry.ExitDetail{StderrTail: s.stderrTail(key)}
	if err != nil {
		exit.Reason = err.Error()
	}
	s.setRecord(key, func(r *registry.Record) {
		from := string(r.State)
		r.State = registry.Stopped
		r.Exit = exit
		metrics.RecordStateTransition(key.Project, key.Name, from, string(registry.Stopped))
	})
	s.audit.Record(ctx, audit.Event{Type: audit.EventStop, Project: req.Project, Name: req.Name, Timestamp: time.Now().UTC(), ExitCode: exitCode(snap.ExitErr)})
	s.publish(eventbus.EventStopped, key, snap.PID)
	return nil
}

// Restart implements spec §4.1 Restart: Stop (waiting for terminal state)
// followed by Start with the original parameters. The log file and
// (project, name) key are preserved; the log hub's Open call appends a new
// generation marker.
func (s *Supervisor) Restart(ctx context.Context, key registry.Key, overrides StartRequest) (registry.Record, error) {
	rec, ok := s.reg.Get(key)
	if !ok {
		return registry.Record{}, mcperrors.New(mcperrors.NotFound, fmt.Sprintf("no such process: %s/%s", key.Project, key.Name))
	}
	if !rec.State.Terminal() {
		if err := s.Stop(ctx, StopRequest{Project: key.Project, Name: key.Name, Force: false}); err != nil {
			return registry.Record{}, err
		}
	}

	req := StartRequest{
		Name: rec.Name, Project: rec.Project, Command: rec.Command, Toolchain: rec.Toolchain,
		Cwd: rec.Cwd, Env: rec.Env, WaitForPattern: rec.WaitForPattern, WaitTimeout: rec.WaitTimeout,
		ForceRestart: true,
	}
	if overrides.WaitForPattern != "" {
		req.WaitForPattern = overrides.WaitForPattern
	}
	if overrides.WaitTimeout > 0 {
		req.WaitTimeout = overrides.WaitTimeout
	}
	metrics.IncRestart(key.Project, key.Name)
	return s.Start(ctx, req)
}

// Get returns a single record snapshot. It does not refresh ports; the
// record's Ports are those stored by the last SamplePorts run.
func (s *Supervisor) Get(key registry.Key) (registry.Record, bool) {
	return s.reg.Get(key)
}

// List returns matching record snapshots.
func (s *Supervisor) List(project string, states []registry.State) []registry.Record {
	return s.reg.List(project, states)
}

// Clean implements spec §4.1 Clean: stop every non-terminal record in scope,
// then, for every record in scope (terminal ones included), delete its log
// file and drop it from the log hub and the registry.
func (s *Supervisor) Clean(ctx context.Context, project string, force bool) (CleanResult, error) {
	var result CleanResult
	records := s.reg.List(project, nil)
	for _, rec := range records {
		if !rec.State.Terminal() {
			if err := s.Stop(ctx, StopRequest{Project: rec.Project, Name: rec.Name, Force: force}); err != nil {
				return result, err
			}
			result.Stopped = append(result.Stopped, rec.Project+"/"+rec.Name)
		}
	}
	records = s.reg.List(project, nil)
	for _, rec := range records {
		key := rec.Key()
		s.hub.Remove(rec.Project, rec.Name)
		if rec.LogFilePath != "" {
			if err := os.Remove(rec.LogFilePath); err == nil {
				result.Deleted = append(result.Deleted, rec.LogFilePath)
			}
		}
		s.reg.Delete(key)
		s.mu.Lock()
		delete(s.procs, key)
		s.mu.Unlock()
	}
	return result, nil
}

// Status returns the DaemonStatus operation's output.
func (s *Supervisor) Status() DaemonStatus {
	return DaemonStatus{
		Version:          s.version,
		PID:              os.Getpid(),
		StartTime:        s.startTime,
		Uptime:           time.Since(s.startTime),
		StateRoot:        s.stateRoot,
		NonTerminalCount: s.reg.CountNonTerminal(),
	}
}

// SamplePorts refreshes the ports field of every non-terminal record. It is
// driven by internal/scheduler on a fixed interval (spec §4.1: "a background
// sampler enumerates sockets owned by the record's pid and its
// descendants").
func (s *Supervisor) SamplePorts(ctx context.Context) {
	for _, rec := range s.reg.List("", []registry.State{registry.Starting, registry.Running}) {
		if rec.PID == 0 {
			continue
		}
		ports := portscan.ListeningPorts(ctx, int32(rec.PID))
		key := rec.Key()
		s.reg.WithLock(key, func(cur *registry.Record, set func(*registry.Record)) {
			if cur == nil || cur.State.Terminal() {
				return
			}
			cur.Ports = ports
			set(cur)
		})
	}
	metrics.SetNonTerminalRecords(s.reg.CountNonTerminal())
}

func (s *Supervisor) setRecord(key registry.Key, mutate func(r *registry.Record)) {
	s.reg.WithLock(key, func(cur *registry.Record, set func(*registry.Record)) {
		var r registry.Record
		if cur != nil {
			r = *cur
		} else {
			r = registry.Record{Project: key.Project, Name: key.Name}
		}
		mutate(&r)
		set(&r)
	})
}

func (s *Supervisor) publish(t eventbus.EventType, key registry.Key, pid int) {
	s.bus.Publish(eventbus.Event{Type: t, ProcessID: key.Project + "/" + key.Name, Name: key.Name, Project: key.Project, Timestamp: time.Now().UTC(), PID: pid})
}

func (s *Supervisor) publishErr(t eventbus.EventType, key registry.Key, pid int, errMsg string) {
	s.bus.Publish(eventbus.Event{Type: t, ProcessID: key.Project + "/" + key.Name, Name: key.Name, Project: key.Project, Timestamp: time.Now().UTC(), PID: pid, Error: errMsg})
}

func eventType(s registry.State) eventbus.EventType {
	if s == registry.Failed {
		return eventbus.EventFailed
	}
	return eventbus.EventStopped
}

func exitCode(err error) *int {
	if err == nil {
		return nil
	}
	code := 1
	return &code
}

func commandString(c process.CommandSpec) string {
	if c.Shell != "" {
		return c.Shell
	}
	return strings.Join(c.Argv, " ")
}
