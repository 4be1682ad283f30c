package reachability

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"golang.org/x/crypto/ssh"
)

// NativeProber dials the jump host with an in-process SSH client and runs
// the probe there. Useful where the ssh binary is unavailable (containers)
// and key-based auth to the jump host is configured.
type NativeProber struct {
	User     string
	KeyPath  string
	JumpPort int // 0 means 22

	// dial is overridable in tests.
	dial func(network, addr string, config *ssh.ClientConfig) (sshRunner, error)
}

// sshRunner is the slice of *ssh.Client the prober needs.
type sshRunner interface {
	CombinedOutput(cmd string) ([]byte, error)
	Close() error
}

// NewNativeProber returns a prober authenticating as user with the private
// key at keyPath.
func NewNativeProber(user, keyPath string, jumpPort int) *NativeProber {
	return &NativeProber{
		User:     user,
		KeyPath:  keyPath,
		JumpPort: jumpPort,
		dial:     dialSSH,
	}
}

func (p *NativeProber) Probe(ctx context.Context, jumpHost, targetHost string, targetPort int, timeout time.Duration) Result {
	key, err := os.ReadFile(p.KeyPath)
	if err != nil {
		return Result{Message: fmt.Sprintf("read SSH key: %v", err)}
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return Result{Message: fmt.Sprintf("parse SSH key: %v", err)}
	}

	port := p.JumpPort
	if port == 0 {
		port = 22
	}
	cfg := &ssh.ClientConfig{
		User:            p.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         10 * time.Second,
	}

	runner, err := p.dial("tcp", net.JoinHostPort(jumpHost, fmt.Sprint(port)), cfg)
	if err != nil {
		return Result{Message: fmt.Sprintf("SSH to jump host %s failed: %v", jumpHost, err)}
	}
	defer runner.Close()

	type probeDone struct {
		output string
		err    error
	}
	done := make(chan probeDone, 1)
	go func() {
		out, runErr := runner.CombinedOutput(probeCommand(targetHost, targetPort, timeout))
		done <- probeDone{output: string(out), err: runErr}
	}()

	select {
	case d := <-done:
		return classify(targetHost, targetPort, d.output, d.err)
	case <-ctx.Done():
		return Result{Message: fmt.Sprintf("probe of %s:%d cancelled: %v", targetHost, targetPort, ctx.Err())}
	case <-time.After(timeout + 10*time.Second):
		return Result{Message: fmt.Sprintf("probe of %s:%d did not return from the jump host in time", targetHost, targetPort)}
	}
}

// dialSSH opens an SSH session factory on the jump host.
func dialSSH(network, addr string, config *ssh.ClientConfig) (sshRunner, error) {
	client, err := ssh.Dial(network, addr, config)
	if err != nil {
		return nil, err
	}
	return &clientRunner{client: client}, nil
}

type clientRunner struct {
	client *ssh.Client
}

func (r *clientRunner) CombinedOutput(cmd string) ([]byte, error) {
	session, err := r.client.NewSession()
	if err != nil {
		return nil, err
	}
	defer session.Close()
	return session.CombinedOutput(cmd)
}

func (r *clientRunner) Close() error {
	return r.client.Close()
}
