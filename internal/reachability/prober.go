// Package reachability checks whether an NSO endpoint can be reached from
// a jump host. The probe runs on the jump host itself: the whole point of
// the forward is that the target is not reachable from this machine, so a
// local connect attempt would prove nothing.
package reachability

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Result is the structured answer of a probe. Probers never propagate
// panics or raw transport errors past this boundary.
type Result struct {
	Reachable bool   `json:"reachable"`
	Message   string `json:"message"`
}

// Prober checks target reachability from a jump host.
type Prober interface {
	Probe(ctx context.Context, jumpHost, targetHost string, targetPort int, timeout time.Duration) Result
}

// probeCommand is the connectivity check executed on the jump host.
func probeCommand(targetHost string, targetPort int, timeout time.Duration) string {
	secs := int(timeout.Seconds())
	if secs < 1 {
		secs = 1
	}
	return fmt.Sprintf("nc -z -v -w %d %s %d", secs, targetHost, targetPort)
}

// classify turns the probe's textual output and exit condition into a
// Result. It recognizes the common TCP failure modes; anything it cannot
// classify falls back to a generic message carrying the raw output.
func classify(targetHost string, targetPort int, output string, err error) Result {
	endpoint := fmt.Sprintf("%s:%d", targetHost, targetPort)

	if err == nil {
		return Result{Reachable: true, Message: fmt.Sprintf("%s is reachable from the jump host", endpoint)}
	}

	lower := strings.ToLower(output)
	switch {
	case strings.Contains(lower, "refused"):
		return Result{Message: fmt.Sprintf("connection to %s refused - the host is up but nothing listens on the port", endpoint)}
	case strings.Contains(lower, "timed out") || strings.Contains(lower, "timeout"):
		return Result{Message: fmt.Sprintf("connection to %s timed out", endpoint)}
	case strings.Contains(lower, "unreachable") || strings.Contains(lower, "no route"):
		return Result{Message: fmt.Sprintf("%s is unreachable from the jump host", endpoint)}
	case strings.Contains(lower, "name or service not known") || strings.Contains(lower, "could not resolve"):
		return Result{Message: fmt.Sprintf("jump host cannot resolve %s", targetHost)}
	}

	msg := fmt.Sprintf("probe of %s failed: %v", endpoint, err)
	if out := strings.TrimSpace(output); out != "" {
		msg += " (" + out + ")"
	}
	return Result{Message: msg}
}
