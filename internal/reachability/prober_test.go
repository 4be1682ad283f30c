package reachability

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestClassify(t *testing.T) {
	probeErr := errors.New("exit status 1")

	tests := []struct {
		name      string
		output    string
		err       error
		reachable bool
		contains  string
	}{
		{
			name:      "success",
			output:    "Connection to 10.0.0.5 8888 port [tcp/*] succeeded!",
			err:       nil,
			reachable: true,
			contains:  "reachable",
		},
		{
			name:     "refused",
			output:   "nc: connect to 10.0.0.5 port 8888 (tcp) failed: Connection refused",
			err:      probeErr,
			contains: "refused",
		},
		{
			name:     "timeout",
			output:   "nc: connect to 10.0.0.5 port 8888 (tcp) timed out: Operation now in progress",
			err:      probeErr,
			contains: "timed out",
		},
		{
			name:     "unreachable",
			output:   "nc: connect to 10.0.0.5 port 8888 (tcp) failed: No route to host",
			err:      probeErr,
			contains: "unreachable",
		},
		{
			name:     "dns failure",
			output:   "nc: getaddrinfo: Name or service not known",
			err:      probeErr,
			contains: "cannot resolve",
		},
		{
			name:     "unclassifiable",
			output:   "Killed",
			err:      probeErr,
			contains: "probe of 10.0.0.5:8888 failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := classify("10.0.0.5", 8888, tt.output, tt.err)
			if res.Reachable != tt.reachable {
				t.Errorf("reachable = %v, want %v", res.Reachable, tt.reachable)
			}
			if !strings.Contains(res.Message, tt.contains) {
				t.Errorf("message %q does not contain %q", res.Message, tt.contains)
			}
		})
	}
}

func TestExecProberBuildsProbeOnJumpHost(t *testing.T) {
	var gotName string
	var gotArgs []string

	p := NewExecProber("ssh")
	p.runCommand = func(ctx context.Context, name string, args ...string) (string, error) {
		gotName = name
		gotArgs = args
		return "succeeded!", nil
	}

	res := p.Probe(context.Background(), "devm", "10.0.0.5", 8888, 3*time.Second)
	if !res.Reachable {
		t.Fatalf("expected reachable, got %q", res.Message)
	}
	if gotName != "ssh" {
		t.Errorf("binary = %q, want ssh", gotName)
	}

	joined := strings.Join(gotArgs, " ")
	if !strings.Contains(joined, "devm") {
		t.Errorf("args %q missing jump host", joined)
	}
	if !strings.Contains(joined, "nc -z -v -w 3 10.0.0.5 8888") {
		t.Errorf("args %q missing probe command", joined)
	}
	if !strings.Contains(joined, "BatchMode=yes") {
		t.Errorf("args %q should force non-interactive mode", joined)
	}
}

func TestExecProberNeverPanicsOnFailure(t *testing.T) {
	p := NewExecProber("")
	p.runCommand = func(ctx context.Context, name string, args ...string) (string, error) {
		return "", errors.New("ssh: connect to host devm port 22: Connection timed out")
	}

	res := p.Probe(context.Background(), "devm", "10.0.0.5", 8888, time.Second)
	if res.Reachable {
		t.Error("failed probe reported reachable")
	}
	if res.Message == "" {
		t.Error("failure result must carry a diagnosis")
	}
}
