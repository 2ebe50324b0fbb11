// Package paths resolves the XDG-like filesystem layout described in spec
// §6: the runtime root (socket + pidfile), the state root (log directory),
// and the per-process log file path.
package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// RuntimeRoot resolves <runtime_root>: $XDG_RUNTIME_DIR/mcproc if set, else
// /tmp/mcproc-<uid>.
func RuntimeRoot() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "mcproc")
	}
	return fmt.Sprintf("/tmp/mcproc-%d", os.Getuid())
}

// StateRoot resolves <state_root>: $XDG_STATE_HOME if set, else
// ~/.local/state, joined with "mcproc".
func StateRoot() string {
	if dir := os.Getenv("XDG_STATE_HOME"); dir != "" {
		return filepath.Join(dir, "mcproc")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".local", "state", "mcproc")
}

// SocketPath returns <runtime_root>/mcprocd.sock.
func SocketPath(runtimeRoot string) string {
	return filepath.Join(runtimeRoot, "mcprocd.sock")
}

// PIDFilePath returns <runtime_root>/mcprocd.pid.
func PIDFilePath(runtimeRoot string) string {
	return filepath.Join(runtimeRoot, "mcprocd.pid")
}

// DaemonLogPath returns <state_root>/log/mcprocd.log.
func DaemonLogPath(stateRoot string) string {
	return filepath.Join(stateRoot, "log", "mcprocd.log")
}

// ProcessLogPath returns <state_root>/log/<project>/<name>.log.
func ProcessLogPath(stateRoot, project, name string) string {
	return filepath.Join(stateRoot, "log", project, name+".log")
}

// EnsureRuntimeRoot creates runtimeRoot (mode 0700; the socket and pidfile
// within it get their own 0600 permissions) if it does not already exist.
func EnsureRuntimeRoot(runtimeRoot string) error {
	return os.MkdirAll(runtimeRoot, 0o700)
}

// EnsureLogDir creates the directory that will hold a process's log file.
func EnsureLogDir(stateRoot, project string) error {
	return os.MkdirAll(filepath.Join(stateRoot, "log", project), 0o750)
}

// WritePIDFile writes pid to path as ASCII digits (spec §6).
func WritePIDFile(path string, pid int) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(pid)), 0o600)
}

// ReadPIDFile reads the pid recorded at path.
func ReadPIDFile(path string) (int, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(string(b))
}

// RemovePIDFile best-effort removes path; a missing file is not an error.
func RemovePIDFile(path string) error {
	err := os.Remove(path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
