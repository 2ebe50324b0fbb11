package process

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"syscall"
	"testing"
	"time"
)

// waitForFile polls until path exists and has non-empty content, or fails the
// test once deadline elapses.
func waitForFile(t *testing.T, path string, deadline time.Duration) string {
	t.Helper()
	end := time.Now().Add(deadline)
	for time.Now().Before(end) {
		b, err := os.ReadFile(path)
		if err == nil && len(b) > 0 {
			return string(b)
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s to be written", path)
	return ""
}

func pidAlive(pid int) bool {
	return syscall.Kill(pid, 0) == nil
}

// TestStopKillsEntireProcessGroup covers scenario S3: stopping a process must
// also terminate descendants forked under its process group, not just the
// immediate child exec.Cmd wraps.
func TestStopKillsEntireProcessGroup(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires Unix process-group signaling")
	}
	pidFile := filepath.Join(t.TempDir(), "child.pid")
	script := fmt.Sprintf(`sleep 30 & echo $! > %s; wait`, pidFile)
	p := startTestProcess(t, Spec{Name: "group", Command: CommandSpec{Shell: script}})

	childPIDStr := waitForFile(t, pidFile, 2*time.Second)
	var childPID int
	if _, err := fmt.Sscanf(childPIDStr, "%d", &childPID); err != nil {
		t.Fatalf("parsing child pid from %q: %v", childPIDStr, err)
	}
	if !pidAlive(childPID) {
		t.Fatalf("expected background child %d to be alive before Stop", childPID)
	}

	if err := p.Stop(2 * time.Second); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for pidAlive(childPID) && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	if pidAlive(childPID) {
		t.Fatalf("expected background child %d to be killed along with its group leader", childPID)
	}
}

// TestKillEscalatesPastIgnoredSigterm verifies that a child trapping SIGTERM
// still gets reaped, via the SIGKILL escalation in waitOrEscalate.
func TestKillEscalatesPastIgnoredSigterm(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires Unix signal trapping")
	}
	p := startTestProcess(t, Spec{Name: "trap", Command: CommandSpec{Shell: `trap '' TERM; sleep 30`}})

	// Give the shell a moment to install the trap before signaling.
	time.Sleep(100 * time.Millisecond)

	start := time.Now()
	if err := p.Stop(300 * time.Millisecond); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Fatalf("Stop took %v, expected SIGKILL escalation well under 3s", elapsed)
	}
	if alive, _ := p.DetectAlive(); alive {
		t.Fatalf("expected process trapping SIGTERM to be killed by SIGKILL escalation")
	}
}

func TestIsZombieLinuxFalseForRunningProcess(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("zombie detection reads /proc, Linux-only")
	}
	p := startTestProcess(t, Spec{Command: CommandSpec{Shell: "sleep 2"}})
	defer func() { _ = p.Kill() }()

	snap := p.Snapshot()
	if isZombieLinux(snap.PID) {
		t.Fatalf("expected a freshly-started process to not be reported as a zombie")
	}
}

func TestIsZombieLinuxFalseForNonexistentPID(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("zombie detection reads /proc, Linux-only")
	}
	// A pid that (almost certainly) does not exist must not be misreported as
	// a zombie; isZombieLinux should fail open (false) when /proc/<pid>/status
	// can't be read.
	if isZombieLinux(1 << 30) {
		t.Fatalf("expected isZombieLinux to report false for a nonexistent pid")
	}
}

func TestPidWasReusedDetectsChangedStartTime(t *testing.T) {
	p := startTestProcess(t, Spec{Command: CommandSpec{Shell: "sleep 2"}})
	defer func() { _ = p.Kill() }()

	snap := p.Snapshot()
	if p.pidWasReused(snap.PID) {
		t.Fatalf("pidWasReused should be false immediately after start")
	}

	// Simulate the OS having recycled the pid to an unrelated process by
	// forging a recorded start time that can't match the real one.
	r := p
	r.mu.Lock()
	r.status.startUnix = 1
	r.mu.Unlock()

	if getProcStartUnix(snap.PID) == 0 {
		t.Skip("getProcStartUnix unsupported/unavailable in this environment")
	}
	if !p.pidWasReused(snap.PID) {
		t.Fatalf("expected pidWasReused to report true once the recorded start time diverges")
	}
}
