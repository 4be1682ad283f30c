package procprobe

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// UnixProbe implements Probe with lsof/ps and Unix signals. When lsof is
// unavailable or not permitted to enumerate sockets, port checks fall back
// to a bind-then-release test.
type UnixProbe struct {
	// hooks, overridable in tests
	lsofListeners func(port int) ([]int, error)
	psCommand     func(pid int) (string, error)
	signal        func(pid int, sig syscall.Signal) error
	procState     func(pid int) (byte, error)
}

// NewUnixProbe returns a Probe backed by the system's lsof and ps tools.
func NewUnixProbe() *UnixProbe {
	return &UnixProbe{
		lsofListeners: lsofListeners,
		psCommand:     psCommand,
		signal:        sendSignal,
		procState:     procState,
	}
}

func (u *UnixProbe) PortInUse(port int) (bool, error) {
	pids, err := u.lsofListeners(port)
	if err != nil {
		// Restricted environment: lsof may be missing or forbidden from
		// enumerating sockets. Fall back to the bind test.
		return bindTest(port), nil
	}
	return len(pids) > 0, nil
}

func (u *UnixProbe) OwnerOfPort(port int) (int, error) {
	pids, err := u.lsofListeners(port)
	if err != nil {
		if bindTest(port) {
			return 0, fmt.Errorf("port %d is bound but its owner could not be determined: %w", port, err)
		}
		return 0, nil
	}
	if len(pids) == 0 {
		return 0, nil
	}
	return pids[0], nil
}

func (u *UnixProbe) ProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	// Signal 0 delivers nothing; it only checks existence and permission.
	if u.signal(pid, syscall.Signal(0)) != nil {
		return false
	}
	// Signal 0 also succeeds on zombies. An exited-but-unreaped child
	// holds no sockets and cannot be killed any deader, so it counts as
	// dead here.
	if state, err := u.procState(pid); err == nil && state == 'Z' {
		return false
	}
	return true
}

func (u *UnixProbe) CommandLine(pid int) (string, error) {
	return u.psCommand(pid)
}

func (u *UnixProbe) Terminate(pid int, grace time.Duration) error {
	if pid <= 0 || !u.ProcessAlive(pid) {
		return nil
	}

	if err := u.signal(pid, syscall.SIGTERM); err != nil {
		// Already gone between the liveness check and the signal.
		return nil
	}

	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		if !u.ProcessAlive(pid) {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}

	if err := u.signal(pid, syscall.SIGKILL); err != nil {
		return nil
	}
	// SIGKILL cannot be ignored; give the kernel a moment to reap.
	time.Sleep(100 * time.Millisecond)
	if u.ProcessAlive(pid) {
		return fmt.Errorf("process %d survived SIGKILL", pid)
	}
	return nil
}

// lsofListeners returns the pids listening on a local TCP port.
func lsofListeners(port int) ([]int, error) {
	out, err := exec.Command("lsof", "-ti", fmt.Sprintf("tcp:%d", port), "-sTCP:LISTEN").Output()
	if err != nil {
		// Exit status 1 with empty output means "nothing found", which is
		// a successful negative answer, not a failure.
		if ee, ok := err.(*exec.ExitError); ok && ee.ExitCode() == 1 && len(out) == 0 && len(ee.Stderr) == 0 {
			return nil, nil
		}
		return nil, fmt.Errorf("lsof: %w", err)
	}

	var pids []int
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		if line == "" {
			continue
		}
		pid, convErr := strconv.Atoi(strings.TrimSpace(line))
		if convErr != nil {
			continue
		}
		pids = append(pids, pid)
	}
	return pids, nil
}

// psCommand returns the full command line of a process.
func psCommand(pid int) (string, error) {
	out, err := exec.Command("ps", "-o", "command=", "-p", strconv.Itoa(pid)).Output()
	if err != nil {
		return "", fmt.Errorf("ps -p %d: %w", pid, err)
	}
	cmd := strings.TrimSpace(string(out))
	if cmd == "" {
		return "", fmt.Errorf("process %d has no command line", pid)
	}
	return cmd, nil
}

func sendSignal(pid int, sig syscall.Signal) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return p.Signal(sig)
}

// procState returns the process state letter from /proc/<pid>/stat
// (R/S/D/Z/T...). The state is the field right after the parenthesized
// comm, which may itself contain spaces and parentheses, so scan from the
// last ')'.
func procState(pid int) (byte, error) {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return 0, err
	}
	i := bytes.LastIndexByte(data, ')')
	if i < 0 || i+2 >= len(data) {
		return 0, fmt.Errorf("malformed stat for pid %d", pid)
	}
	return data[i+2], nil
}
