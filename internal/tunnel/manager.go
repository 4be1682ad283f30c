// Package tunnel owns the lifecycle of local SSH port forwards to NSO
// instances: creation, verification, idempotent reuse, reclamation of the
// local ports they bind, and teardown.
//
// One Manager is constructed per process and handed to whoever composes
// the HTTP boundary; there is no package-level singleton. Records are
// keyed by instance name. Per-instance locks serialize connect/disconnect
// for the same instance while leaving different instances fully parallel;
// a per-port lock makes reclamation of a local port a critical section.
package tunnel

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/netauto/nsosync/internal/audit"
	"github.com/netauto/nsosync/internal/config"
	"github.com/netauto/nsosync/internal/logutil"
	"github.com/netauto/nsosync/internal/procprobe"
)

var (
	// ErrNotFound reports a disconnect for an instance without a tunnel.
	// Expected and reportable, not a fault.
	ErrNotFound = errors.New("no active tunnel for instance")

	// ErrPortConflict reports a local port held by a process that is not
	// one of our forwards. The operator must intervene; we never kill
	// unrelated services.
	ErrPortConflict = errors.New("local port is bound by an unrelated process")
)

// Record is the manager's bookkeeping for one instance's tunnel. A direct
// record marks an instance reachable without a forward: it never holds a
// pid and never claims a local port.
type Record struct {
	PID       int       `json:"pid"` // -1 when the port is bound but the owner could not be identified
	LocalPort int       `json:"local_port"`
	Direct    bool      `json:"direct"`
	JumpHost  string    `json:"jump_host,omitempty"`
	StartedAt time.Time `json:"started_at"`
}

// Status is the outcome of a connect or disconnect call.
type Status struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	PID       int    `json:"pid,omitempty"`
	LocalPort int    `json:"local_port,omitempty"`
	Direct    bool   `json:"direct,omitempty"`
	URL       string `json:"url,omitempty"`
}

// Manager creates, verifies and tears down forwards. Construct with
// NewManager; the zero value is not usable.
type Manager struct {
	probe    procprobe.Probe
	launcher Launcher
	rec      *audit.Recorder

	mu        sync.Mutex
	records   map[string]*Record
	instLocks map[string]*sync.Mutex
	portLocks map[int]*sync.Mutex

	// tunables, shrunk in tests
	verifyInterval time.Duration // between port-bound polls
	verifyAttempts int           // polls before giving up (~15s total)
	terminateGrace time.Duration
	releaseWait    time.Duration // budget for a reclaimed port to actually free
}

// NewManager wires the manager to its process probe, launcher and audit
// recorder (a nil recorder drops events).
func NewManager(probe procprobe.Probe, launcher Launcher, rec *audit.Recorder) *Manager {
	return &Manager{
		probe:          probe,
		launcher:       launcher,
		rec:            rec,
		records:        make(map[string]*Record),
		instLocks:      make(map[string]*sync.Mutex),
		portLocks:      make(map[int]*sync.Mutex),
		verifyInterval: 500 * time.Millisecond,
		verifyAttempts: 30,
		terminateGrace: 3 * time.Second,
		releaseWait:    5 * time.Second,
	}
}

// Connect ensures a live forward (or a direct-access record) exists for
// the instance. Calling it again while a matching forward is live is a
// successful no-op: the manager never opens a duplicate forward for an
// instance that already has one.
func (m *Manager) Connect(ctx context.Context, inst config.Instance) (Status, error) {
	unlock := m.lockInstance(inst.Name)
	defer unlock()

	// Reuse a live, matching record.
	if rec, ok := m.getRecord(inst.Name); ok {
		if st, live := m.checkExisting(inst, rec); live {
			return st, nil
		}
		// Stale: process dead or port moved. Clean up and re-establish.
		if rec.PID > 0 {
			if err := m.probe.Terminate(rec.PID, m.terminateGrace); err != nil {
				log.Printf("[tunnel] %s: terminating stale pid %d: %v", logutil.SanitizeForLog(inst.Name), rec.PID, err)
			}
		}
		m.deleteRecord(inst.Name)
		m.rec.Record(inst.Name, audit.EventSwept, rec.LocalPort, rec.PID, "stale record removed before reconnect")
	}

	// Directly reachable instances need bookkeeping only.
	if !inst.UseTunnel {
		m.putRecord(inst.Name, &Record{PID: 0, Direct: true, StartedAt: time.Now()})
		m.rec.Record(inst.Name, audit.EventDirect, 0, 0, "direct access, no forward needed")
		return Status{
			Success: true,
			Message: fmt.Sprintf("direct access to %s (no tunnel needed)", inst.Name),
			Direct:  true,
		}, nil
	}

	unlockPort := m.lockPort(inst.LocalPort)
	defer unlockPort()

	spec := LaunchSpec{
		Instance:      inst.Name,
		LocalPort:     inst.LocalPort,
		RemoteHost:    inst.Host,
		RemotePort:    inst.Port,
		JumpHost:      inst.JumpHost,
		JumpPort:      inst.JumpPort,
		ControlMaster: inst.ControlMaster,
	}

	if err := m.reclaimPort(inst.Name, spec); err != nil {
		m.rec.Record(inst.Name, audit.EventFailed, inst.LocalPort, 0, err.Error())
		return Status{Success: false, Message: err.Error()}, err
	}

	launchPID, stderr, launchErr := m.launcher.Launch(ctx, spec)
	if launchErr != nil {
		msg := fmt.Sprintf("tunnel launch failed: %v", launchErr)
		if hint, ok := authFailure(stderr); ok {
			msg = hint
		} else if s := strings.TrimSpace(stderr); s != "" {
			msg += ": " + logutil.Truncate(s, 200)
		}
		m.rec.Record(inst.Name, audit.EventFailed, inst.LocalPort, launchPID, msg)
		return Status{Success: false, Message: msg}, errors.New(msg)
	}

	// Verification is mandatory regardless of launch strategy: a clean
	// launch exit proves nothing about the forward being up.
	if err := m.verifyBound(ctx, inst.LocalPort); err != nil {
		if launchPID > 0 {
			if termErr := m.probe.Terminate(launchPID, m.terminateGrace); termErr != nil {
				log.Printf("[tunnel] %s: terminating failed launch pid %d: %v", logutil.SanitizeForLog(inst.Name), launchPID, termErr)
			}
		}
		msg := fmt.Sprintf("forward on port %d never came up: %v", inst.LocalPort, err)
		if hint, ok := authFailure(stderr); ok {
			msg = hint
		}
		m.rec.Record(inst.Name, audit.EventFailed, inst.LocalPort, launchPID, msg)
		return Status{Success: false, Message: msg}, errors.New(msg)
	}

	pid := m.resolvePID(launchPID, spec)

	rec := &Record{
		PID:       pid,
		LocalPort: inst.LocalPort,
		JumpHost:  inst.JumpHost,
		StartedAt: time.Now(),
	}
	m.putRecord(inst.Name, rec)
	m.rec.Record(inst.Name, audit.EventEstablished, inst.LocalPort, pid,
		fmt.Sprintf("forward to %s:%d via %s", inst.Host, inst.Port, inst.JumpHost))

	return Status{
		Success:   true,
		Message:   fmt.Sprintf("tunnel created on port %d", inst.LocalPort),
		PID:       pid,
		LocalPort: inst.LocalPort,
		URL:       fmt.Sprintf("%s://localhost:%d", inst.APIScheme(), inst.LocalPort),
	}, nil
}

// Disconnect tears down the instance's tunnel. The record is removed
// unconditionally, even when termination fails: a presumed-dead record
// left behind is worse than losing track of a process that may outlive us.
func (m *Manager) Disconnect(instance string) (Status, error) {
	unlock := m.lockInstance(instance)
	defer unlock()

	rec, ok := m.getRecord(instance)
	if !ok {
		return Status{Success: false, Message: fmt.Sprintf("no active tunnel found for %s", instance)}, ErrNotFound
	}

	if !rec.Direct {
		pid := rec.PID
		if pid <= 0 {
			// Untracked forward: reclaim by scanning the bound port.
			if owner, err := m.probe.OwnerOfPort(rec.LocalPort); err == nil && owner > 0 {
				pid = owner
			}
		}
		if pid > 0 {
			if err := m.probe.Terminate(pid, m.terminateGrace); err != nil {
				log.Printf("[tunnel] %s: terminate pid %d failed (record cleared anyway): %v",
					logutil.SanitizeForLog(instance), pid, err)
			}
		}
	}

	m.deleteRecord(instance)
	m.rec.Record(instance, audit.EventClosed, rec.LocalPort, rec.PID, "")

	return Status{Success: true, Message: "tunnel closed successfully"}, nil
}

// DisconnectAll tears down every tracked tunnel. Used during shutdown.
func (m *Manager) DisconnectAll() {
	m.mu.Lock()
	names := make([]string, 0, len(m.records))
	for name := range m.records {
		names = append(names, name)
	}
	m.mu.Unlock()

	for _, name := range names {
		if _, err := m.Disconnect(name); err != nil && !errors.Is(err, ErrNotFound) {
			log.Printf("[tunnel] shutdown disconnect %s: %v", logutil.SanitizeForLog(name), err)
		}
	}
}

// ListActive returns a copy of the tunnel table. Records whose process has
// died are swept here; this lazy reconciliation is the only staleness
// detection outside Connect.
func (m *Manager) ListActive() map[string]Record {
	m.mu.Lock()
	type candidate struct {
		name string
		rec  *Record
	}
	candidates := make([]candidate, 0, len(m.records))
	for name, rec := range m.records {
		candidates = append(candidates, candidate{name, rec})
	}
	m.mu.Unlock()

	out := make(map[string]Record, len(candidates))
	for _, c := range candidates {
		if !m.isStale(*c.rec) {
			out[c.name] = *c.rec
			continue
		}
		// The staleness probes run without the instance lock, so a
		// concurrent Connect may have replaced this record with a fresh
		// one. Only drop the exact record judged stale; never a
		// replacement.
		if m.dropIfCurrent(c.name, c.rec) {
			m.rec.Record(c.name, audit.EventSwept, c.rec.LocalPort, c.rec.PID, "process no longer alive")
			continue
		}
		if cur, ok := m.getRecord(c.name); ok {
			out[c.name] = *cur
		}
	}
	return out
}

// dropIfCurrent removes the record for name only if rec is still the one
// stored. Records are replaced wholesale, never mutated, so pointer
// identity is sufficient.
func (m *Manager) dropIfCurrent(name string, rec *Record) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.records[name]; ok && cur == rec {
		delete(m.records, name)
		return true
	}
	return false
}

// ActiveEndpoint returns the host:port a client should use to reach the
// instance's API right now: the tunnel's local endpoint, or the instance
// address itself for direct records.
func (m *Manager) ActiveEndpoint(inst config.Instance) (string, int, bool) {
	rec, ok := m.getRecord(inst.Name)
	if !ok {
		return "", 0, false
	}
	if rec.Direct {
		return inst.Host, inst.Port, true
	}
	return "localhost", rec.LocalPort, true
}

// checkExisting decides whether an existing record satisfies this connect
// call: live process (or still-bound untracked port), matching local port,
// port actually bound.
func (m *Manager) checkExisting(inst config.Instance, rec *Record) (Status, bool) {
	if rec.Direct {
		if inst.UseTunnel {
			return Status{}, false // config changed; rebuild as a forward
		}
		return Status{
			Success: true,
			Message: fmt.Sprintf("direct access to %s already active", inst.Name),
			Direct:  true,
		}, true
	}

	if rec.LocalPort != inst.LocalPort {
		return Status{}, false
	}
	if rec.PID > 0 && !m.probe.ProcessAlive(rec.PID) {
		return Status{}, false
	}
	inUse, err := m.probe.PortInUse(rec.LocalPort)
	if err != nil || !inUse {
		return Status{}, false
	}

	return Status{
		Success:   true,
		Message:   fmt.Sprintf("tunnel to %s already active", inst.Name),
		PID:       rec.PID,
		LocalPort: rec.LocalPort,
		URL:       fmt.Sprintf("%s://localhost:%d", inst.APIScheme(), rec.LocalPort),
	}, true
}

// reclaimPort frees the requested local port if a prior forward of ours
// still holds it. An unrelated owner is a conflict, never a kill.
func (m *Manager) reclaimPort(instance string, spec LaunchSpec) error {
	inUse, err := m.probe.PortInUse(spec.LocalPort)
	if err != nil {
		return fmt.Errorf("checking port %d: %w", spec.LocalPort, err)
	}
	if !inUse {
		return nil
	}

	owner, err := m.probe.OwnerOfPort(spec.LocalPort)
	if err != nil || owner <= 0 {
		return fmt.Errorf("%w: port %d is bound but its owner could not be identified", ErrPortConflict, spec.LocalPort)
	}

	cmdline, err := m.probe.CommandLine(owner)
	if err != nil || !looksLikeForward(cmdline, spec) {
		return fmt.Errorf("%w: port %d is held by pid %d (%s)", ErrPortConflict, spec.LocalPort, owner, logutil.Truncate(cmdline, 120))
	}

	if err := m.probe.Terminate(owner, m.terminateGrace); err != nil {
		return fmt.Errorf("reclaiming port %d from pid %d: %w", spec.LocalPort, owner, err)
	}
	// The listener does not vanish with the process; poll for the actual
	// release before relaunching.
	if err := procprobe.WaitReleased(m.probe, spec.LocalPort, m.releaseWait); err != nil {
		return fmt.Errorf("reclaimed pid %d but %w", owner, err)
	}

	m.rec.Record(instance, audit.EventReclaimed, spec.LocalPort, owner, "terminated prior forward")
	return nil
}

// verifyBound polls until the local port is observed bound, the attempt
// budget runs out, or the context is cancelled.
func (m *Manager) verifyBound(ctx context.Context, port int) error {
	for attempt := 0; attempt < m.verifyAttempts; attempt++ {
		inUse, err := m.probe.PortInUse(port)
		if err == nil && inUse {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("verification cancelled: %w", ctx.Err())
		case <-time.After(m.verifyInterval):
		}
	}
	return fmt.Errorf("bind never happened within %s", time.Duration(m.verifyAttempts)*m.verifyInterval)
}

// resolvePID decides which pid to store for a verified forward. A forward
// that is functionally present is Active even when no pid can be pinned
// down; that is what -1 means.
func (m *Manager) resolvePID(launchPID int, spec LaunchSpec) int {
	if launchPID > 0 && m.probe.ProcessAlive(launchPID) {
		return launchPID
	}
	owner, err := m.probe.OwnerOfPort(spec.LocalPort)
	if err != nil || owner <= 0 {
		return -1
	}
	if cmdline, cmdErr := m.probe.CommandLine(owner); cmdErr == nil && looksLikeForward(cmdline, spec) {
		return owner
	}
	return -1
}

func (m *Manager) isStale(rec Record) bool {
	if rec.Direct {
		return false
	}
	if rec.PID > 0 {
		return !m.probe.ProcessAlive(rec.PID)
	}
	// Untracked pid: the bound port is the only sign of life.
	inUse, err := m.probe.PortInUse(rec.LocalPort)
	return err == nil && !inUse
}

// looksLikeForward checks a process command line for the shape of one of
// our forwards before we are willing to kill it.
func looksLikeForward(cmdline string, spec LaunchSpec) bool {
	if !strings.Contains(cmdline, "ssh") || !strings.Contains(cmdline, "-L") || !strings.Contains(cmdline, "-N") {
		return false
	}
	return strings.Contains(cmdline, spec.ForwardArg())
}

func (m *Manager) lockInstance(name string) func() {
	m.mu.Lock()
	l, ok := m.instLocks[name]
	if !ok {
		l = &sync.Mutex{}
		m.instLocks[name] = l
	}
	m.mu.Unlock()
	l.Lock()
	return l.Unlock
}

func (m *Manager) lockPort(port int) func() {
	m.mu.Lock()
	l, ok := m.portLocks[port]
	if !ok {
		l = &sync.Mutex{}
		m.portLocks[port] = l
	}
	m.mu.Unlock()
	l.Lock()
	return l.Unlock
}

func (m *Manager) getRecord(name string) (*Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[name]
	return rec, ok
}

func (m *Manager) putRecord(name string, rec *Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[name] = rec
}

func (m *Manager) deleteRecord(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, name)
}
