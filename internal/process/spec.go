package process

import (
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// CommandSpec describes how to invoke a child process. Exactly one of
// Shell or Argv must be set: Shell is passed verbatim to the default
// system shell ("sh -c <Shell>"); Argv is executed directly with no
// shell involved.
type CommandSpec struct {
	Shell string
	Argv  []string
}

// Validate enforces the "exactly one of shell or argv" invariant from
// spec.md §3.
func (c CommandSpec) Validate() error {
	hasShell := strings.TrimSpace(c.Shell) != ""
	hasArgv := len(c.Argv) > 0
	switch {
	case hasShell == hasArgv:
		return fmt.Errorf("command_spec must set exactly one of shell or argv")
	case hasArgv && strings.TrimSpace(c.Argv[0]) == "":
		return fmt.Errorf("command_spec argv[0] must not be empty")
	}
	return nil
}

// Spec describes a process to be managed by the Supervisor.
type Spec struct {
	Name    string
	Project string
	Command CommandSpec
	// Toolchain optionally wraps the resolved command through a version
	// manager shim, e.g. "mise" turns the final argv into
	// "mise exec -- <original argv...>" (spec.md §4.1 step 4).
	Toolchain string
	WorkDir   string
	Env       []string

	WaitForPattern string
	WaitTimeout    time.Duration
}

// DefaultWaitTimeout is used when WaitForPattern is set without an
// explicit WaitTimeout (spec.md §3: default 30s).
const DefaultWaitTimeout = 30 * time.Second

// EffectiveWaitTimeout returns the configured timeout, defaulting per spec.
func (s Spec) EffectiveWaitTimeout() time.Duration {
	if s.WaitTimeout > 0 {
		return s.WaitTimeout
	}
	return DefaultWaitTimeout
}

// BuildCommand constructs an *exec.Cmd for the spec's command form,
// honoring an optional toolchain wrapper. It never invokes a shell for
// the argv form, and never double-wraps the shell form.
func (s Spec) BuildCommand() *exec.Cmd {
	argv := s.resolveArgv()
	if len(argv) == 0 {
		return getTrueCommand()
	}
	if s.Toolchain != "" {
		argv = append(toolchainExecPrefix(s.Toolchain), argv...)
	}
	// #nosec G204 -- argv is operator-supplied configuration, not untrusted input.
	return exec.Command(argv[0], argv[1:]...)
}

func (s Spec) resolveArgv() []string {
	if len(s.Command.Argv) > 0 {
		return append([]string(nil), s.Command.Argv...)
	}
	if strings.TrimSpace(s.Command.Shell) != "" {
		return shellArgv(s.Command.Shell)
	}
	return nil
}

// toolchainExecPrefix builds the "<toolchain> exec --" prefix described in
// spec.md §4.1 step 4 (e.g. "mise exec --").
func toolchainExecPrefix(toolchain string) []string {
	fields := strings.Fields(toolchain)
	return append(fields, "exec", "--")
}
