package procprobe

import (
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"testing"
	"time"
)

// listenOnFreePort binds a loopback listener and returns it with its port.
func listenOnFreePort(t *testing.T) (net.Listener, int) {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l, l.Addr().(*net.TCPAddr).Port
}

func TestBindTestFallback(t *testing.T) {
	probe := NewUnixProbe()
	// Force the fallback path regardless of whether lsof exists here.
	probe.lsofListeners = func(port int) ([]int, error) {
		return nil, errors.New("lsof: permission denied")
	}

	_, port := listenOnFreePort(t)

	inUse, err := probe.PortInUse(port)
	if err != nil {
		t.Fatalf("PortInUse: %v", err)
	}
	if !inUse {
		t.Errorf("port %d has a listener but was reported free", port)
	}
}

func TestPortInUseFreePort(t *testing.T) {
	probe := NewUnixProbe()
	probe.lsofListeners = func(port int) ([]int, error) {
		return nil, errors.New("lsof unavailable")
	}

	l, port := listenOnFreePort(t)
	l.Close()

	inUse, err := probe.PortInUse(port)
	if err != nil {
		t.Fatalf("PortInUse: %v", err)
	}
	if inUse {
		t.Errorf("port %d is free but was reported in use", port)
	}
}

func TestOwnerOfPortViaLsof(t *testing.T) {
	probe := NewUnixProbe()
	probe.lsofListeners = func(port int) ([]int, error) {
		if port == 9001 {
			return []int{4242}, nil
		}
		return nil, nil
	}

	pid, err := probe.OwnerOfPort(9001)
	if err != nil {
		t.Fatalf("OwnerOfPort: %v", err)
	}
	if pid != 4242 {
		t.Errorf("owner = %d, want 4242", pid)
	}

	pid, err = probe.OwnerOfPort(9002)
	if err != nil {
		t.Fatalf("OwnerOfPort: %v", err)
	}
	if pid != 0 {
		t.Errorf("owner of free port = %d, want 0", pid)
	}
}

func TestProcessAlive(t *testing.T) {
	probe := NewUnixProbe()

	if !probe.ProcessAlive(os.Getpid()) {
		t.Error("own process reported dead")
	}
	if probe.ProcessAlive(0) {
		t.Error("pid 0 should never be reported alive")
	}
	if probe.ProcessAlive(-1) {
		t.Error("negative pid should never be reported alive")
	}
}

func TestZombieCountsAsDead(t *testing.T) {
	probe := NewUnixProbe()
	// Signal 0 succeeds on zombies; only the proc state tells them apart.
	probe.signal = func(pid int, sig syscall.Signal) error {
		return nil
	}
	probe.procState = func(pid int) (byte, error) {
		return 'Z', nil
	}

	if probe.ProcessAlive(4242) {
		t.Error("zombie reported alive")
	}
	if err := probe.Terminate(4242, 3*time.Second); err != nil {
		t.Errorf("Terminate of a zombie returned %v, want no-op", err)
	}
}

func TestTerminateExitedButUnreapedChild(t *testing.T) {
	cmd := exec.Command("sleep", "30")
	if err := cmd.Start(); err != nil {
		t.Fatalf("start sleep: %v", err)
	}
	pid := cmd.Process.Pid
	t.Cleanup(func() {
		cmd.Process.Kill()
		cmd.Wait()
	})

	// Terminate runs while we are the parent and have not reaped yet, so
	// the child lingers as a zombie after SIGTERM. That must not read as
	// a process surviving termination.
	probe := NewUnixProbe()
	start := time.Now()
	if err := probe.Terminate(pid, 3*time.Second); err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Errorf("Terminate burned the whole grace period on a zombie")
	}
}

func TestTerminateDeadPidIsNoop(t *testing.T) {
	probe := NewUnixProbe()
	probe.signal = func(pid int, sig syscall.Signal) error {
		return syscall.ESRCH
	}

	if err := probe.Terminate(99999, time.Second); err != nil {
		t.Errorf("Terminate of a dead pid returned %v, want nil", err)
	}
}

func TestTerminateGracefulExit(t *testing.T) {
	cmd := exec.Command("sleep", "30")
	if err := cmd.Start(); err != nil {
		t.Fatalf("start sleep: %v", err)
	}
	pid := cmd.Process.Pid
	t.Cleanup(func() {
		cmd.Process.Kill()
		cmd.Wait()
	})

	probe := NewUnixProbe()
	if err := probe.Terminate(pid, 3*time.Second); err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	cmd.Wait()

	if probe.ProcessAlive(pid) {
		t.Errorf("process %d still alive after Terminate", pid)
	}
}

func TestWaitReleased(t *testing.T) {
	probe := NewUnixProbe()
	probe.lsofListeners = func(port int) ([]int, error) {
		return nil, errors.New("force bind test")
	}

	l, port := listenOnFreePort(t)

	go func() {
		time.Sleep(300 * time.Millisecond)
		l.Close()
	}()

	if err := WaitReleased(probe, port, 3*time.Second); err != nil {
		t.Errorf("WaitReleased: %v", err)
	}
}

func TestWaitReleasedTimesOut(t *testing.T) {
	probe := NewUnixProbe()
	probe.lsofListeners = func(port int) ([]int, error) {
		return []int{1234}, nil
	}

	err := WaitReleased(probe, 9001, 300*time.Millisecond)
	if err == nil {
		t.Fatal("expected timeout error for a port that never releases")
	}
	if want := fmt.Sprintf("port %d still bound", 9001); !strings.Contains(err.Error(), want) {
		t.Errorf("error = %q, want substring %q", err, want)
	}
}
