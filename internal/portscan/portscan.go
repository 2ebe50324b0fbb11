// Package portscan implements the Process Supervisor's best-effort port
// sampler (spec §4.1): enumerate sockets owned by a pid or its descendants
// and report the TCP ports they have bound. Absence of a port is never an
// error — sampling is advisory only.
package portscan

import (
	"context"

	gopsnet "github.com/shirou/gopsutil/v4/net"
	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// ListeningPorts returns the sorted, de-duplicated set of local TCP ports in
// LISTEN state owned by pid or any of its descendants. Errors from the
// underlying platform probe are swallowed; an empty result is returned
// instead, since port detection is explicitly best-effort.
func ListeningPorts(ctx context.Context, pid int32) []int {
	pids := descendants(ctx, pid)
	pids[pid] = struct{}{}

	conns, err := gopsnet.ConnectionsWithContext(ctx, "tcp")
	if err != nil {
		return nil
	}

	seen := make(map[int]struct{})
	for _, c := range conns {
		if c.Status != "LISTEN" {
			continue
		}
		if _, ok := pids[c.Pid]; !ok {
			continue
		}
		seen[int(c.Laddr.Port)] = struct{}{}
	}

	ports := make([]int, 0, len(seen))
	for p := range seen {
		ports = append(ports, p)
	}
	return sortInts(ports)
}

// descendants returns the set of pids reachable from root via child links,
// root excluded, for best-effort process-tree-wide port attribution.
func descendants(ctx context.Context, root int32) map[int32]struct{} {
	out := make(map[int32]struct{})
	queue := []int32{root}
	for len(queue) > 0 {
		pid := queue[0]
		queue = queue[1:]
		p, err := gopsproc.NewProcessWithContext(ctx, pid)
		if err != nil {
			continue
		}
		children, err := p.ChildrenWithContext(ctx)
		if err != nil {
			continue
		}
		for _, c := range children {
			if _, ok := out[c.Pid]; ok {
				continue
			}
			out[c.Pid] = struct{}{}
			queue = append(queue, c.Pid)
		}
	}
	return out
}

func sortInts(in []int) []int {
	for i := 1; i < len(in); i++ {
		for j := i; j > 0 && in[j-1] > in[j]; j-- {
			in[j-1], in[j] = in[j], in[j-1]
		}
	}
	return in
}
