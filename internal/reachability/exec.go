package reachability

import (
	"context"
	"os/exec"
	"time"
)

// ExecProber runs the probe through the system ssh binary. This honors the
// operator's ~/.ssh/config, which is where jump-host specifics (alternate
// ports, ProxyJump chains, control sockets) already live.
type ExecProber struct {
	SSHBinary string

	// runCommand is overridable in tests.
	runCommand func(ctx context.Context, name string, args ...string) (string, error)
}

// NewExecProber returns a prober that shells out to sshBinary ("ssh" if
// empty).
func NewExecProber(sshBinary string) *ExecProber {
	if sshBinary == "" {
		sshBinary = "ssh"
	}
	return &ExecProber{
		SSHBinary:  sshBinary,
		runCommand: runCombined,
	}
}

func (p *ExecProber) Probe(ctx context.Context, jumpHost, targetHost string, targetPort int, timeout time.Duration) Result {
	// The overall budget covers both the SSH hop and the probe itself.
	ctx, cancel := context.WithTimeout(ctx, timeout+5*time.Second)
	defer cancel()

	args := []string{
		"-o", "BatchMode=yes",
		"-o", "ConnectTimeout=5",
		jumpHost,
		probeCommand(targetHost, targetPort, timeout),
	}
	output, err := p.runCommand(ctx, p.SSHBinary, args...)
	return classify(targetHost, targetPort, output, err)
}

func runCombined(ctx context.Context, name string, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	return string(out), err
}
