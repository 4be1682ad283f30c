package tunnel

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"
)

// LaunchSpec describes one local-to-remote forward to be opened through a
// jump host.
type LaunchSpec struct {
	Instance      string
	LocalPort     int
	RemoteHost    string
	RemotePort    int
	JumpHost      string
	JumpPort      int // 22, or 443 for jump hosts that only accept SSH there
	ControlMaster bool
}

// ForwardArg renders the ssh -L argument for this spec.
func (s LaunchSpec) ForwardArg() string {
	return fmt.Sprintf("%d:%s:%d", s.LocalPort, s.RemoteHost, s.RemotePort)
}

// Launcher starts the OS process that implements a forward. The returned
// pid is 0 when the process detaches beyond tracking (ssh -f re-forks);
// the manager resolves ownership through the port registry afterwards.
// stderr carries whatever the launch produced, for diagnostics.
type Launcher interface {
	Launch(ctx context.Context, spec LaunchSpec) (pid int, stderr string, err error)
}

// ExecLauncher launches forwards with the system ssh binary. Processes are
// started in their own session so they outlive whichever request handler
// asked for them.
//
// Two strategies, selected per jump host:
//
//   - Control-master hosts: `ssh -f -N` with ControlMaster options. The
//     command stays in the foreground until authentication completes, then
//     re-forks; its exit tells us auth succeeded but leaves no pid.
//   - Plain hosts: fully backgrounded `ssh -N`, pid tracked, readiness
//     established only by the manager's port polling.
type ExecLauncher struct {
	SSHBinary  string
	ControlDir string // directory for ControlPath sockets; empty disables reuse

	// launchTimeout bounds the foreground phase of the control-master
	// strategy, which blocks through authentication.
	launchTimeout time.Duration
}

// NewExecLauncher returns a launcher using sshBinary ("ssh" when empty).
func NewExecLauncher(sshBinary, controlDir string) *ExecLauncher {
	if sshBinary == "" {
		sshBinary = "ssh"
	}
	return &ExecLauncher{
		SSHBinary:     sshBinary,
		ControlDir:    controlDir,
		launchTimeout: 30 * time.Second,
	}
}

func (l *ExecLauncher) Launch(ctx context.Context, spec LaunchSpec) (int, string, error) {
	if spec.ControlMaster {
		return l.launchForeground(ctx, spec)
	}
	return l.launchBackground(spec)
}

// launchForeground runs ssh -f: the command blocks until the forward is
// authenticated, then the forward continues in a detached child. Exit code
// 0 here means auth succeeded, NOT that the port is bound yet; the child
// may still be starting, so the caller must verify the bind separately.
func (l *ExecLauncher) launchForeground(ctx context.Context, spec LaunchSpec) (int, string, error) {
	ctx, cancel := context.WithTimeout(ctx, l.launchTimeout)
	defer cancel()

	args := l.commonArgs(spec)
	args = append(args, "-f")
	if l.ControlDir != "" {
		args = append(args,
			"-o", "ControlMaster=auto",
			"-o", fmt.Sprintf("ControlPath=%s", filepath.Join(l.ControlDir, "cm-%r@%h:%p")),
			"-o", "ControlPersist=yes",
		)
	}
	args = append(args, spec.JumpHost)

	cmd := exec.CommandContext(ctx, l.SSHBinary, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	err := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		err = fmt.Errorf("launch did not complete authentication within %s", l.launchTimeout)
	}
	// The authenticated forward lives in a re-forked child whose pid we
	// cannot see from here.
	return 0, stderr.String(), err
}

// launchBackground starts ssh -N detached and returns immediately with the
// child's pid. The process may exit asynchronously (bad auth, bind
// failure); only the manager's port verification decides success.
func (l *ExecLauncher) launchBackground(spec LaunchSpec) (int, string, error) {
	args := l.commonArgs(spec)
	args = append(args, spec.JumpHost)

	// Deliberately not CommandContext: the forward must survive the
	// request that created it. Teardown goes through the port registry.
	cmd := exec.Command(l.SSHBinary, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return 0, stderr.String(), fmt.Errorf("start %s: %w", l.SSHBinary, err)
	}

	pid := cmd.Process.Pid
	go cmd.Wait() // reap when it eventually exits

	return pid, stderr.String(), nil
}

func (l *ExecLauncher) commonArgs(spec LaunchSpec) []string {
	args := []string{
		"-L", spec.ForwardArg(),
		"-N",
		"-o", "ExitOnForwardFailure=yes",
		"-o", "ServerAliveInterval=30",
	}
	if spec.JumpPort != 0 && spec.JumpPort != 22 {
		args = append(args, "-p", fmt.Sprint(spec.JumpPort))
	}
	return args
}

// authFailure recognizes authentication trouble in launch stderr,
// including jump hosts that demand an interactive second factor. These
// must surface as actionable messages, not generic timeouts.
func authFailure(stderr string) (string, bool) {
	lower := strings.ToLower(stderr)
	switch {
	case strings.Contains(lower, "permission denied"):
		return "jump host rejected authentication (permission denied) - check your SSH key or agent", true
	case strings.Contains(lower, "authentication failed"):
		return "jump host rejected authentication - check credentials", true
	case strings.Contains(lower, "verification code") ||
		strings.Contains(lower, "duo") ||
		strings.Contains(lower, "two-factor") ||
		strings.Contains(lower, "keyboard-interactive"):
		return "jump host requires an interactive multi-factor step - authenticate once manually (e.g. open a plain ssh session) and retry", true
	case strings.Contains(lower, "host key verification failed"):
		return "jump host key verification failed - update known_hosts", true
	}
	return "", false
}
