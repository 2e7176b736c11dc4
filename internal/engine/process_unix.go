//go:build !windows

package engine

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/steveyegge/swarm/internal/config"
	"github.com/steveyegge/swarm/internal/constants"
)

// pidAlive probes a PID with signal 0.
func pidAlive(pid int) bool {
	return unix.Kill(pid, 0) == nil
}

// startDetached launches argv as a background process in its own session,
// with stdout/stderr redirected to the given log files. Returns the PID.
func startDetached(argv []string, cwd string, env map[string]string, stdoutPath, stderrPath string) (pid int, cleanup func(), err error) {
	stdout, err := os.OpenFile(stdoutPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return 0, nil, fmt.Errorf("opening stdout log: %w", err)
	}
	stderr, err := os.OpenFile(stderrPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		stdout.Close()
		return 0, nil, fmt.Errorf("opening stderr log: %w", err)
	}
	closeLogs := func() {
		stdout.Close()
		stderr.Close()
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = cwd
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.Env = os.Environ()
	for _, k := range config.SortedEnvKeys(env) {
		cmd.Env = append(cmd.Env, k+"="+env[k])
	}
	// New session: the worker must survive this short-lived invocation.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		closeLogs()
		return 0, nil, fmt.Errorf("starting process: %w", err)
	}
	pid = cmd.Process.Pid

	// Detach: the child is reaped by init, not by us.
	_ = cmd.Process.Release()
	closeLogs()
	return pid, func() { terminatePid(pid) }, nil
}

// terminatePid kills a process gracefully then forcefully: SIGTERM, poll
// every 100ms for up to the grace period, then SIGKILL. "No such process"
// is ignored silently; repeated kills are idempotent.
func terminatePid(pid int) {
	if err := unix.Kill(pid, unix.SIGTERM); err != nil {
		return // already gone
	}
	deadline := time.Now().Add(constants.KillGracePeriod)
	for time.Now().Before(deadline) {
		if !pidAlive(pid) {
			return
		}
		time.Sleep(constants.KillPollInterval)
	}
	_ = unix.Kill(pid, unix.SIGKILL)
}
