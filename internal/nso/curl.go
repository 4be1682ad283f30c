package nso

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"os/exec"
	"strings"
	"time"

	"github.com/netauto/nsosync/internal/logutil"
)

// CurlClient shells out to curl instead of using net/http. Some instances
// negotiate TLS parameters that Go's stack refuses; the system curl
// accepts them, so this client exists as a configuration-time alternative.
type CurlClient struct {
	ep Endpoint

	// runCurl is swapped out in tests.
	runCurl func(ctx context.Context, args ...string) ([]byte, error)
}

func NewCurlClient(ep Endpoint) *CurlClient {
	c := &CurlClient{ep: ep}
	c.runCurl = c.exec
	return c
}

func (c *CurlClient) exec(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "curl", args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return nil, fmt.Errorf("curl: %s", logutil.Truncate(msg, rawSnippet))
	}
	return stdout.Bytes(), nil
}

// get fetches an endpoint path. Credentials go through -u as a single
// argv element, never through a shell. The timeout caps the whole
// transfer via --max-time, not just connection setup; a device that
// connects and then stalls must not hang a check forever. The context
// deadline backstops --max-time in case curl itself wedges.
func (c *CurlClient) get(ctx context.Context, path string, timeout time.Duration, extra ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout+2*time.Second)
	defer cancel()

	secs := int(timeout / time.Second)
	args := []string{
		"-k", "-s",
		"--connect-timeout", fmt.Sprint(secs),
		"--max-time", fmt.Sprint(secs),
	}
	if c.ep.Username != "" {
		args = append(args, "-u", c.ep.Username+":"+c.ep.Password)
	}
	args = append(args, extra...)
	args = append(args, c.ep.BaseURL()+path)
	return c.runCurl(ctx, args...)
}

func (c *CurlClient) TestConnection(ctx context.Context) ConnResult {
	body, err := c.get(ctx, devicesPath, testTimeout)
	if err != nil {
		return ConnResult{Success: false, Message: err.Error()}
	}
	s := string(body)
	if strings.Contains(s, "<devices") || strings.Contains(s, `"tailf-ncs:devices"`) {
		return ConnResult{Success: true, Message: "successfully connected"}
	}
	return ConnResult{Success: false, Message: "unexpected response: " + logutil.Truncate(s, 100)}
}

func (c *CurlClient) ListDevices(ctx context.Context) ([]string, error) {
	body, err := c.get(ctx, deviceListPath, listTimeout, "-H", "Accept: application/yang-data+json")
	if err != nil {
		return nil, err
	}
	return extractDeviceNames(body), nil
}

func (c *CurlClient) CheckDeviceSync(ctx context.Context, device string) Outcome {
	path := fmt.Sprintf("%s=%s/check-sync", deviceListPath, url.PathEscape(device))
	body, err := c.get(ctx, path, checkTimeout,
		"-X", "POST",
		"-H", "Content-Type: application/yang-data+json",
		"-d", "{}",
	)
	if err != nil {
		return Outcome{Device: device, Status: StatusError, Err: err.Error()}
	}
	return Outcome{
		Device: device,
		Status: ParseSyncResult(extractSyncResult(body)),
		Raw:    logutil.Truncate(string(body), rawSnippet),
	}
}
