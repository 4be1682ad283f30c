// Package procprobe answers questions about local ports and the processes
// bound to them. The tunnel manager uses it both for idempotency ("is the
// forward's port already bound?") and for reclamation ("who owns it, and is
// it safe to kill?").
package procprobe

import (
	"fmt"
	"net"
	"time"
)

// Probe is the platform capability the tunnel manager is written against.
// Production code uses UnixProbe; tests inject fakes.
type Probe interface {
	// PortInUse reports whether a local TCP port currently has a listener.
	PortInUse(port int) (bool, error)

	// OwnerOfPort returns the pid of the process listening on the port,
	// or 0 when the port is free or the owner cannot be determined.
	OwnerOfPort(port int) (int, error)

	// ProcessAlive reports whether a process with the given pid exists.
	ProcessAlive(pid int) bool

	// CommandLine returns the command line of the process, for deciding
	// whether a port owner is one of our forwards or an unrelated service.
	CommandLine(pid int) (string, error)

	// Terminate asks the process to exit, waits up to grace, then kills
	// it. Terminating a dead or unknown pid is a no-op.
	Terminate(pid int, grace time.Duration) error
}

// WaitReleased polls until the port is observed free or the deadline
// passes. A TCP listener's release is not synchronous with the death of
// its owner, so callers must poll rather than assume.
func WaitReleased(p Probe, port int, within time.Duration) error {
	deadline := time.Now().Add(within)
	for {
		inUse, err := p.PortInUse(port)
		if err == nil && !inUse {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("port %d still bound after %s", port, within)
		}
		time.Sleep(200 * time.Millisecond)
	}
}

// bindTest reports whether the port is in use by attempting to bind it.
// Bind success means the port was free; the probe listener is released
// immediately. This is the fallback when socket enumeration is not
// permitted.
func bindTest(port int) bool {
	l, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return true
	}
	l.Close()
	return false
}
