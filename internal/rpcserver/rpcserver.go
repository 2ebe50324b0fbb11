// Package rpcserver exposes the Supervisor and Log Hub over the daemon's
// Unix domain control socket (spec §6), framed with internal/wire. One
// goroutine serves each connection; streaming operations (Start, GetLogs)
// write a sequence of chunk frames followed by a final frame, and stop as
// soon as the client disconnects.
package rpcserver

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"net"
	"os"
	"regexp"

	"github.com/mcprocd/mcprocd/internal/eventbus"
	"github.com/mcprocd/mcprocd/internal/loghub"
	"github.com/mcprocd/mcprocd/internal/mcperrors"
	"github.com/mcprocd/mcprocd/internal/registry"
	"github.com/mcprocd/mcprocd/internal/supervisor"
	"github.com/mcprocd/mcprocd/internal/wire"
)

// Server binds the Supervisor/Hub/Bus to the control socket.
type Server struct {
	sv         *supervisor.Supervisor
	hub        *loghub.Hub
	bus        *eventbus.Bus
	reg        *registry.Registry
	socketPath string
	log        *slog.Logger

	listener net.Listener
}

func New(sv *supervisor.Supervisor, hub *loghub.Hub, bus *eventbus.Bus, reg *registry.Registry, socketPath string, logger *slog.Logger) *Server {
	return &Server{sv: sv, hub: hub, bus: bus, reg: reg, socketPath: socketPath, log: logger}
}

// Serve binds the socket and accepts connections until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	_ = os.Remove(s.socketPath)
	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return err
	}
	if err := os.Chmod(s.socketPath, 0o600); err != nil {
		_ = ln.Close()
		return err
	}
	s.listener = ln

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				if errors.Is(err, net.ErrClosed) {
					return nil
				}
				s.log.Error("accept failed", "error", err)
				continue
			}
		}
		go s.handleConn(ctx, conn)
	}
}

// Close removes the socket file.
func (s *Server) Close() error {
	if s.listener != nil {
		_ = s.listener.Close()
	}
	return os.Remove(s.socketPath)
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer func() { _ = conn.Close() }()
	r := bufio.NewReader(conn)

	env, err := wire.ReadFrame(r)
	if err != nil {
		return
	}

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		// A read on a closed/disconnected conn unblocks promptly, letting
		// streaming handlers below observe disconnection without polling.
		buf := make([]byte, 1)
		_, _ = conn.Read(buf)
		cancel()
	}()

	switch env.Op {
	case wire.OpStart:
		s.handleStart(connCtx, conn, env)
	case wire.OpStop:
		s.handleStop(conn, env)
	case wire.OpRestart:
		s.handleRestart(connCtx, conn, env)
	case wire.OpGet:
		s.handleGet(conn, env)
	case wire.OpList:
		s.handleList(conn, env)
	case wire.OpGetLogs:
		s.handleGetLogs(connCtx, conn, env)
	case wire.OpGrep:
		s.handleGrep(conn, env)
	case wire.OpClean:
		s.handleClean(connCtx, conn, env)
	case wire.OpDaemonStatus:
		s.handleDaemonStatus(conn, env)
	default:
		writeErr(conn, env.Op, errors.New("unknown operation"))
	}
}

func (s *Server) handleStart(ctx context.Context, conn net.Conn, env wire.Envelope) {
	req, ok := env.Data.(wire.StartReq)
	if !ok {
		writeErr(conn, env.Op, errors.New("malformed Start request"))
		return
	}
	sub := s.bus.Subscribe(req.Project, req.Name)
	logSub := s.hub.Subscribe(req.Project, req.Name)
	defer s.bus.Unsubscribe(req.Project, req.Name, sub)
	defer s.hub.Unsubscribe(req.Project, req.Name, logSub)

	streamCtx, stopStream := context.WithCancel(ctx)
	defer stopStream()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case entry, ok := <-logSub:
				if !ok {
					return
				}
				if werr := wire.WriteFrame(conn, wire.Envelope{Op: env.Op, Kind: wire.KindChunk, Data: wire.StartChunk{Entry: entry}}); werr != nil {
					return
				}
			case <-streamCtx.Done():
				return
			}
		}
	}()

	rec, err := s.sv.Start(ctx, supervisor.StartRequest{
		Name: req.Name, Project: req.Project, Command: req.Command, Toolchain: req.Toolchain,
		Cwd: req.Cwd, Env: req.Env, WaitForPattern: req.WaitForPattern, WaitTimeout: req.WaitTimeout,
		ForceRestart: req.ForceRestart,
	})
	// End the chunk stream before the final (or error) frame is written.
	stopStream()
	<-done
	if err != nil {
		writeErr(conn, env.Op, err)
		return
	}
	_ = wire.WriteFrame(conn, wire.Envelope{Op: env.Op, Kind: wire.KindFinal, Data: wire.StartFinal{Record: rec}})
}

func (s *Server) handleStop(conn net.Conn, env wire.Envelope) {
	req, ok := env.Data.(wire.StopReq)
	if !ok {
		writeErr(conn, env.Op, errors.New("malformed Stop request"))
		return
	}
	if err := s.sv.Stop(context.Background(), supervisor.StopRequest{Project: req.Project, Name: req.Name, Force: req.Force}); err != nil {
		writeErr(conn, env.Op, err)
		return
	}
	_ = wire.WriteFrame(conn, wire.Envelope{Op: env.Op, Kind: wire.KindFinal})
}

func (s *Server) handleRestart(ctx context.Context, conn net.Conn, env wire.Envelope) {
	req, ok := env.Data.(wire.RestartReq)
	if !ok {
		writeErr(conn, env.Op, errors.New("malformed Restart request"))
		return
	}
	key := registry.Key{Project: req.Project, Name: req.Name}
	rec, err := s.sv.Restart(ctx, key, supervisor.StartRequest{WaitForPattern: req.WaitForPattern, WaitTimeout: req.WaitTimeout})
	if err != nil {
		writeErr(conn, env.Op, err)
		return
	}
	_ = wire.WriteFrame(conn, wire.Envelope{Op: env.Op, Kind: wire.KindFinal, Data: wire.StartFinal{Record: rec}})
}

func (s *Server) handleGet(conn net.Conn, env wire.Envelope) {
	req, ok := env.Data.(wire.GetReq)
	if !ok {
		writeErr(conn, env.Op, errors.New("malformed Get request"))
		return
	}
	rec, found := s.sv.Get(registry.Key{Project: req.Project, Name: req.Name})
	_ = wire.WriteFrame(conn, wire.Envelope{Op: env.Op, Kind: wire.KindFinal, Data: wire.GetResp{Record: rec, Found: found}})
}

func (s *Server) handleList(conn net.Conn, env wire.Envelope) {
	req, ok := env.Data.(wire.ListReq)
	if !ok {
		writeErr(conn, env.Op, errors.New("malformed List request"))
		return
	}
	recs := s.sv.List(req.Project, req.States)
	_ = wire.WriteFrame(conn, wire.Envelope{Op: env.Op, Kind: wire.KindFinal, Data: wire.ListResp{Records: recs}})
}

func (s *Server) handleGetLogs(ctx context.Context, conn net.Conn, env wire.Envelope) {
	req, ok := env.Data.(wire.GetLogsReq)
	if !ok {
		writeErr(conn, env.Op, errors.New("malformed GetLogs request"))
		return
	}
	names := s.matchingNames(req.Project, req.Name)

	for _, name := range names {
		tail := s.hub.Tail(req.Project, name, req.Tail)
		for _, e := range tail {
			if werr := wire.WriteFrame(conn, wire.Envelope{Op: env.Op, Kind: wire.KindChunk, Data: wire.GetLogsChunk{ProcessName: name, Entry: &e}}); werr != nil {
				return
			}
		}
	}

	if !req.Follow {
		_ = wire.WriteFrame(conn, wire.Envelope{Op: env.Op, Kind: wire.KindFinal})
		return
	}

	type sub struct {
		name string
		logs loghub.Subscription
		evts eventbus.Subscription
	}
	var subs []sub
	for _, name := range names {
		entry := sub{name: name, logs: s.hub.Subscribe(req.Project, name)}
		if req.IncludeEvents {
			entry.evts = s.bus.Subscribe(req.Project, name)
		}
		subs = append(subs, entry)
	}
	defer func() {
		for _, sub := range subs {
			s.hub.Unsubscribe(req.Project, sub.name, sub.logs)
			if sub.evts != nil {
				s.bus.Unsubscribe(req.Project, sub.name, sub.evts)
			}
		}
	}()

	merged := make(chan wire.GetLogsChunk, 256)
	for _, sub := range subs {
		go func(name string, logs loghub.Subscription) {
			for e := range logs {
				entry := e
				select {
				case merged <- wire.GetLogsChunk{ProcessName: name, Entry: &entry}:
				case <-ctx.Done():
					return
				}
			}
		}(sub.name, sub.logs)
		if sub.evts != nil {
			go func(name string, evts eventbus.Subscription) {
				for e := range evts {
					evt := e
					select {
					case merged <- wire.GetLogsChunk{ProcessName: name, Event: &evt}:
					case <-ctx.Done():
						return
					}
				}
			}(sub.name, sub.evts)
		}
	}

	for {
		select {
		case chunk := <-merged:
			if werr := wire.WriteFrame(conn, wire.Envelope{Op: env.Op, Kind: wire.KindChunk, Data: chunk}); werr != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) matchingNames(project, name string) []string {
	if name != "" {
		return []string{name}
	}
	var names []string
	for _, rec := range s.sv.List(project, nil) {
		names = append(names, rec.Name)
	}
	return names
}

func (s *Server) handleGrep(conn net.Conn, env wire.Envelope) {
	req, ok := env.Data.(wire.GrepReq)
	if !ok {
		writeErr(conn, env.Op, errors.New("malformed Grep request"))
		return
	}
	re, err := regexp.Compile(req.Pattern)
	if err != nil {
		writeErr(conn, env.Op, mcperrors.Wrap(mcperrors.InvalidArgument, "invalid grep pattern", err))
		return
	}
	rec, found := s.sv.Get(registry.Key{Project: req.Project, Name: req.Name})
	if !found {
		writeErr(conn, env.Op, mcperrors.New(mcperrors.NotFound, "no such process"))
		return
	}
	matches, err := loghub.Grep(rec.LogFilePath, loghub.GrepOptions{
		Pattern: re, Before: req.Before, After: req.After, Since: req.Since, Until: req.Until,
	})
	if err != nil {
		writeErr(conn, env.Op, mcperrors.Wrap(mcperrors.Internal, "grep failed", err))
		return
	}
	_ = wire.WriteFrame(conn, wire.Envelope{Op: env.Op, Kind: wire.KindFinal, Data: wire.GrepResp{Matches: matches}})
}

func (s *Server) handleClean(ctx context.Context, conn net.Conn, env wire.Envelope) {
	req, ok := env.Data.(wire.CleanReq)
	if !ok {
		writeErr(conn, env.Op, errors.New("malformed Clean request"))
		return
	}
	result, err := s.sv.Clean(ctx, req.Project, req.Force)
	if err != nil {
		writeErr(conn, env.Op, err)
		return
	}
	_ = wire.WriteFrame(conn, wire.Envelope{Op: env.Op, Kind: wire.KindFinal, Data: wire.CleanResp{Stopped: result.Stopped, Deleted: result.Deleted}})
}

func (s *Server) handleDaemonStatus(conn net.Conn, env wire.Envelope) {
	st := s.sv.Status()
	_ = wire.WriteFrame(conn, wire.Envelope{Op: env.Op, Kind: wire.KindFinal, Data: wire.DaemonStatusResp{
		Version: st.Version, PID: st.PID, StartTime: st.StartTime, Uptime: st.Uptime,
		StateRoot: st.StateRoot, NonTerminalCount: st.NonTerminalCount,
	}})
}

func writeErr(conn net.Conn, op wire.Op, err error) {
	_ = wire.WriteFrame(conn, wire.Envelope{Op: op, Kind: wire.KindError, Error: err.Error()})
}
