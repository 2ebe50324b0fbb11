package process

import (
	"bytes"
	"errors"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"sync"
	"syscall"
	"time"
)

// Process wraps a single *exec.Cmd with the bookkeeping the Supervisor needs
// to start, stop, and monitor it: a start/stop generation, a waitDone signal
// shared between an explicit Stop/Kill and a background monitor goroutine,
// and the stdio writers handed to it by the log hub.
type Process struct {
	spec       Spec
	cmd        *exec.Cmd
	status     Status
	mu         sync.Mutex
	stopping   bool // true once Stop has been requested; the Supervisor's monitor reads it to record Stopped rather than Failed
	generation int  // incremented on every successful TryStart; the log hub keeps its own per-run line numbering
	outCloser  io.WriteCloser
	errCloser  io.WriteCloser
	waitDone   chan struct{} // closed by whichever goroutine calls cmd.Wait
	monitoring bool          // true while a monitor goroutine owns the wait
}

func New(spec Spec) *Process { return &Process{spec: spec} }

// UpdateSpec replaces the internal spec under lock, used by Restart.
func (r *Process) UpdateSpec(s Spec) {
	r.mu.Lock()
	r.spec = s
	r.mu.Unlock()
}

// ConfigureCmd builds and configures *exec.Cmd for this process using
// mergedEnv. stdout/stderr are writers supplied by the caller's log hub
// pipe; this package owns no file paths or rotation policy of its own.
func (r *Process) ConfigureCmd(mergedEnv []string, stdout, stderr io.WriteCloser) *exec.Cmd {
	r.mu.Lock()
	spec := r.spec // copy to avoid holding the lock during exec.Command construction
	r.mu.Unlock()

	cmd := spec.BuildCommand()
	if spec.WorkDir != "" {
		cmd.Dir = spec.WorkDir
	}
	if len(mergedEnv) > 0 {
		cmd.Env = mergedEnv
	}
	configureSysProcAttr(cmd)

	r.EnsureLogClosers(stdout, stderr)
	if stdout != nil {
		cmd.Stdout = stdout
	}
	if stderr != nil {
		cmd.Stderr = stderr
	}
	return cmd
}

func (r *Process) CopyCmd() *exec.Cmd {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cmd
}

func (r *Process) SetStarted(cmd *exec.Cmd) {
	pid := cmd.Process.Pid
	r.mu.Lock()
	r.cmd = cmd
	r.waitDone = make(chan struct{})
	r.generation++
	r.status = Status{
		Name:      r.spec.Name,
		Running:   true,
		PID:       pid,
		GroupID:   pid,
		StartedAt: time.Now(),
		startUnix: getProcStartUnix(pid),
	}
	r.stopping = false
	r.mu.Unlock()
}

// TryStart atomically starts the command and records the resulting state.
func (r *Process) TryStart(cmd *exec.Cmd) error {
	if err := cmd.Start(); err != nil {
		return err
	}
	r.SetStarted(cmd)
	return nil
}

// Generation returns how many times TryStart has started this Process. The
// log hub does not read it: it resets its own line numbers in Hub.Open.
func (r *Process) Generation() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.generation
}

func (r *Process) CloseWaitDone() {
	r.mu.Lock()
	if r.waitDone != nil {
		close(r.waitDone)
		r.waitDone = nil
	}
	r.mu.Unlock()
}

func (r *Process) WaitDoneChan() chan struct{} {
	r.mu.Lock()
	wd := r.waitDone
	r.mu.Unlock()
	return wd
}

func (r *Process) MarkExited(err error) {
	r.mu.Lock()
	r.status.Running = false
	r.status.StoppedAt = time.Now()
	r.status.ExitErr = err
	r.mu.Unlock()
}

func (r *Process) SetStopRequested(v bool) {
	r.mu.Lock()
	r.stopping = v
	r.mu.Unlock()
}

func (r *Process) StopRequested() bool {
	r.mu.Lock()
	v := r.stopping
	r.mu.Unlock()
	return v
}

func (r *Process) MonitoringStartIfNeeded() bool {
	r.mu.Lock()
	if r.monitoring {
		r.mu.Unlock()
		return false
	}
	r.monitoring = true
	r.mu.Unlock()
	return true
}

func (r *Process) MonitoringStop() {
	r.mu.Lock()
	r.monitoring = false
	r.mu.Unlock()
}

// IsMonitoring reports whether a monitor goroutine (the Supervisor) is
// actively waiting on the underlying process. When true, Stop/Kill must not
// call cmd.Wait themselves, to avoid a double-wait race; they wait on
// waitDone instead.
func (r *Process) IsMonitoring() bool {
	r.mu.Lock()
	v := r.monitoring
	r.mu.Unlock()
	return v
}

func (r *Process) OutErrClosers() (io.WriteCloser, io.WriteCloser) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.outCloser, r.errCloser
}

func (r *Process) EnsureLogClosers(stdout, stderr io.WriteCloser) {
	r.mu.Lock()
	if r.outCloser == nil && stdout != nil {
		r.outCloser = stdout
	}
	if r.errCloser == nil && stderr != nil {
		r.errCloser = stderr
	}
	r.mu.Unlock()
}

func (r *Process) CloseWriters() {
	r.mu.Lock()
	if r.outCloser != nil {
		_ = r.outCloser.Close()
		r.outCloser = nil
	}
	if r.errCloser != nil {
		_ = r.errCloser.Close()
		r.errCloser = nil
	}
	r.mu.Unlock()
}

// Snapshot returns a copy of the current status.
func (r *Process) Snapshot() Status {
	r.mu.Lock()
	s := r.status
	r.mu.Unlock()
	return s
}

// DetectAlive probes liveness without racing os/exec's own bookkeeping.
func (r *Process) DetectAlive() (bool, string) {
	r.mu.Lock()
	cmd := r.cmd
	r.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return false, ""
	}
	pid := cmd.Process.Pid
	if runtime.GOOS == "linux" {
		// A quickly-exiting child can linger as a zombie; treat that as not alive.
		if isZombieLinux(pid) {
			return false, ""
		}
		if !processExists(pid) {
			return false, ""
		}
	} else if !processExists(-pid) {
		return false, ""
	}
	if r.pidWasReused(pid) {
		return false, ""
	}
	return true, "exec:pid"
}

// pidWasReused compares the OS-reported start time of the running pid
// against the one recorded at spawn, so a reaped child whose pid has since
// been handed to an unrelated process doesn't read back as still alive.
func (r *Process) pidWasReused(pid int) bool {
	r.mu.Lock()
	recorded := r.status.startUnix
	r.mu.Unlock()
	if recorded == 0 {
		return false
	}
	current := getProcStartUnix(pid)
	return current != 0 && current != recorded
}

// isZombieLinux returns true if /proc/<pid>/status reports a zombie state (Z) on Linux.
func isZombieLinux(pid int) bool {
	path := "/proc/" + strconv.Itoa(pid) + "/status"
	b, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	return bytes.Contains(b, []byte("State:\tZ"))
}

// AwaitGrace blocks for up to d, returning errEarlyExit if the process exits
// before the deadline. The Supervisor calls this during the Starting→Running
// transition (spec.md §4.1 step 9) when no wait_for_pattern is set, to catch
// processes that die immediately after spawn.
func (r *Process) AwaitGrace(d time.Duration) error {
	if d <= 0 {
		return nil
	}
	r.mu.Lock()
	cmd := r.cmd
	r.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return errEarlyExit("process not started")
	}
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		alive, _ := r.DetectAlive()
		if !alive {
			rs := r.Snapshot()
			detail := ""
			if rs.ExitErr != nil {
				detail = rs.ExitErr.Error()
			}
			return errEarlyExit(detail)
		}
		time.Sleep(10 * time.Millisecond)
	}
	return nil
}

// Stop sends SIGTERM to the process group and waits up to wait for exit,
// escalating to SIGKILL on timeout. Coordinates with a Supervisor monitor
// goroutine via the monitoring flag and waitDone channel so that cmd.Wait is
// called exactly once.
func (r *Process) Stop(wait time.Duration) error {
	alive, _ := r.DetectAlive()
	if !alive {
		return nil
	}
	r.SetStopRequested(true)
	cmd := r.CopyCmd()
	if cmd != nil && cmd.Process != nil {
		pid := cmd.Process.Pid
		_ = killProcess(-pid, syscall.SIGTERM)
		r.waitOrEscalate(cmd, pid, wait)
	}
	return r.stopResult()
}

// Kill sends SIGKILL to the process group and attempts to reap promptly.
func (r *Process) Kill() error {
	cmd := r.CopyCmd()
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	pid := cmd.Process.Pid
	_ = killProcess(-pid, syscall.SIGKILL)
	r.waitOrEscalate(cmd, pid, 200*time.Millisecond)
	return r.stopResult()
}

// stopResult returns the child's exit error, except that an exit caused by
// the SIGTERM or SIGKILL that Stop and Kill send counts as success (nil).
func (r *Process) stopResult() error {
	err := r.Snapshot().ExitErr
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		if ws, ok := ee.Sys().(syscall.WaitStatus); ok && ws.Signaled() && (ws.Signal() == syscall.SIGTERM || ws.Signal() == syscall.SIGKILL) {
			return nil
		}
	}
	return err
}

// waitOrEscalate waits for cmd to exit, deferring to an existing monitor
// goroutine when one owns the wait, claiming the wait itself otherwise, and
// escalating to SIGKILL if wait elapses before exit is observed.
func (r *Process) waitOrEscalate(cmd *exec.Cmd, pid int, wait time.Duration) {
	if r.IsMonitoring() {
		r.awaitChannel(r.WaitDoneChan(), pid, wait)
		return
	}
	if r.MonitoringStartIfNeeded() {
		ch := make(chan error, 1)
		go func() {
			err := cmd.Wait()
			r.CloseWaitDone()
			r.MarkExited(err)
			ch <- err
		}()
		r.awaitErrChannel(ch, pid, wait)
		r.CloseWriters()
		r.MonitoringStop()
		return
	}
	// Someone else claimed monitoring concurrently between the two checks above.
	r.awaitChannel(r.WaitDoneChan(), pid, wait)
}

func (r *Process) awaitChannel(wd chan struct{}, pid int, wait time.Duration) {
	if wd == nil {
		time.Sleep(wait)
		return
	}
	select {
	case <-wd:
	case <-time.After(wait):
		_ = killProcess(-pid, syscall.SIGKILL)
		select {
		case <-wd:
		case <-time.After(200 * time.Millisecond):
		}
	}
}

func (r *Process) awaitErrChannel(ch chan error, pid int, wait time.Duration) {
	select {
	case <-ch:
	case <-time.After(wait):
		_ = killProcess(-pid, syscall.SIGKILL)
		select {
		case <-ch:
		case <-time.After(200 * time.Millisecond):
		}
	}
}
