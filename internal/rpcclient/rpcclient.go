// Package rpcclient is a thin client for the daemon's control socket,
// used by external collaborators (the CLI, the MCP tool adapter) — neither
// of which is implemented in this module (spec §2: both are out of scope
// here, reached only through this package's contract).
package rpcclient

import (
	"bufio"
	"fmt"
	"net"

	"github.com/mcprocd/mcprocd/internal/registry"
	"github.com/mcprocd/mcprocd/internal/wire"
)

// Client dials the daemon's Unix socket per call; the protocol is one
// request per connection, matching the server's one-goroutine-per-conn model.
type Client struct {
	socketPath string
}

func New(socketPath string) *Client { return &Client{socketPath: socketPath} }

func (c *Client) dial() (net.Conn, error) {
	return net.Dial("unix", c.socketPath)
}

// Start issues a Start request, streaming log chunks to onChunk as they
// arrive, and returns the final record.
func (c *Client) Start(req wire.StartReq, onChunk func(wire.StartChunk)) (registry.Record, error) {
	conn, err := c.dial()
	if err != nil {
		return registry.Record{}, err
	}
	defer func() { _ = conn.Close() }()

	if err := wire.WriteFrame(conn, wire.Envelope{Op: wire.OpStart, Kind: wire.KindRequest, Data: req}); err != nil {
		return registry.Record{}, err
	}
	r := bufio.NewReader(conn)
	for {
		env, err := wire.ReadFrame(r)
		if err != nil {
			return registry.Record{}, err
		}
		switch env.Kind {
		case wire.KindChunk:
			if chunk, ok := env.Data.(wire.StartChunk); ok && onChunk != nil {
				onChunk(chunk)
			}
		case wire.KindFinal:
			final, _ := env.Data.(wire.StartFinal)
			return final.Record, nil
		case wire.KindError:
			return registry.Record{}, fmt.Errorf("%s", env.Error)
		}
	}
}

func (c *Client) Stop(req wire.StopReq) error {
	_, err := c.roundTrip(wire.OpStop, req)
	return err
}

func (c *Client) Restart(req wire.RestartReq) (registry.Record, error) {
	env, err := c.roundTrip(wire.OpRestart, req)
	if err != nil {
		return registry.Record{}, err
	}
	final, _ := env.Data.(wire.StartFinal)
	return final.Record, nil
}

func (c *Client) Get(req wire.GetReq) (registry.Record, bool, error) {
	env, err := c.roundTrip(wire.OpGet, req)
	if err != nil {
		return registry.Record{}, false, err
	}
	resp, _ := env.Data.(wire.GetResp)
	return resp.Record, resp.Found, nil
}

func (c *Client) List(req wire.ListReq) ([]registry.Record, error) {
	env, err := c.roundTrip(wire.OpList, req)
	if err != nil {
		return nil, err
	}
	resp, _ := env.Data.(wire.ListResp)
	return resp.Records, nil
}

func (c *Client) Grep(req wire.GrepReq) (wire.GrepResp, error) {
	env, err := c.roundTrip(wire.OpGrep, req)
	if err != nil {
		return wire.GrepResp{}, err
	}
	resp, _ := env.Data.(wire.GrepResp)
	return resp, nil
}

func (c *Client) Clean(req wire.CleanReq) (wire.CleanResp, error) {
	env, err := c.roundTrip(wire.OpClean, req)
	if err != nil {
		return wire.CleanResp{}, err
	}
	resp, _ := env.Data.(wire.CleanResp)
	return resp, nil
}

func (c *Client) DaemonStatus() (wire.DaemonStatusResp, error) {
	env, err := c.roundTrip(wire.OpDaemonStatus, struct{}{})
	if err != nil {
		return wire.DaemonStatusResp{}, err
	}
	resp, _ := env.Data.(wire.DaemonStatusResp)
	return resp, nil
}

// GetLogs streams tailed/live log chunks to onChunk until the server sends a
// KindFinal frame (non-follow) or the caller closes the returned stopper.
func (c *Client) GetLogs(req wire.GetLogsReq, onChunk func(wire.GetLogsChunk)) (func(), error) {
	conn, err := c.dial()
	if err != nil {
		return nil, err
	}
	if err := wire.WriteFrame(conn, wire.Envelope{Op: wire.OpGetLogs, Kind: wire.KindRequest, Data: req}); err != nil {
		_ = conn.Close()
		return nil, err
	}
	go func() {
		defer func() { _ = conn.Close() }()
		r := bufio.NewReader(conn)
		for {
			env, err := wire.ReadFrame(r)
			if err != nil {
				return
			}
			switch env.Kind {
			case wire.KindChunk:
				if chunk, ok := env.Data.(wire.GetLogsChunk); ok && onChunk != nil {
					onChunk(chunk)
				}
			case wire.KindFinal, wire.KindError:
				return
			}
		}
	}()
	return func() { _ = conn.Close() }, nil
}

// roundTrip sends one request and returns the single terminal frame (final
// or error) for unary operations.
func (c *Client) roundTrip(op wire.Op, data interface{}) (wire.Envelope, error) {
	conn, err := c.dial()
	if err != nil {
		return wire.Envelope{}, err
	}
	defer func() { _ = conn.Close() }()

	if err := wire.WriteFrame(conn, wire.Envelope{Op: op, Kind: wire.KindRequest, Data: data}); err != nil {
		return wire.Envelope{}, err
	}
	r := bufio.NewReader(conn)
	env, err := wire.ReadFrame(r)
	if err != nil {
		return wire.Envelope{}, err
	}
	if env.Kind == wire.KindError {
		return wire.Envelope{}, fmt.Errorf("%s", env.Error)
	}
	return env, nil
}
