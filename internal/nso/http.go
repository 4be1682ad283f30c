package nso

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/netauto/nsosync/internal/logutil"
)

// Per-operation budgets. Connection tests should fail fast; a check-sync
// action can genuinely take tens of seconds on a slow device.
const (
	testTimeout  = 5 * time.Second
	listTimeout  = 20 * time.Second
	checkTimeout = 30 * time.Second
)

// rawSnippet bounds how much response body an Outcome carries.
const rawSnippet = 200

// HTTPClient talks RESTCONF over net/http. Instances run self-signed
// certificates behind the tunnel, so verification is disabled.
type HTTPClient struct {
	ep     Endpoint
	client *http.Client
}

func NewHTTPClient(ep Endpoint) *HTTPClient {
	return &HTTPClient{
		ep: ep,
		client: &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
			},
		},
	}
}

func (c *HTTPClient) TestConnection(ctx context.Context) ConnResult {
	ctx, cancel := context.WithTimeout(ctx, testTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.ep.BaseURL()+devicesPath, nil)
	if err != nil {
		return ConnResult{Success: false, Message: fmt.Sprintf("building request: %v", err)}
	}
	c.auth(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return ConnResult{Success: false, Message: classifyTransportErr(err)}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		return ConnResult{Success: true, Message: "successfully connected"}
	case resp.StatusCode == http.StatusUnauthorized:
		return ConnResult{Success: false, Message: "authentication failed - check credentials"}
	default:
		return ConnResult{Success: false, Message: fmt.Sprintf("connection failed with status %d", resp.StatusCode)}
	}
}

func (c *HTTPClient) ListDevices(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, listTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.ep.BaseURL()+deviceListPath, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/yang-data+json")
	c.auth(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("listing devices: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("listing devices: HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("reading device list: %w", err)
	}
	return extractDeviceNames(body), nil
}

func (c *HTTPClient) CheckDeviceSync(ctx context.Context, device string) Outcome {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	target := fmt.Sprintf("%s%s=%s/check-sync", c.ep.BaseURL(), deviceListPath, url.PathEscape(device))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, strings.NewReader("{}"))
	if err != nil {
		return Outcome{Device: device, Status: StatusError, Err: err.Error()}
	}
	req.Header.Set("Content-Type", "application/yang-data+json")
	req.Header.Set("Accept", "application/yang-data+json")
	c.auth(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return Outcome{Device: device, Status: StatusError, Err: classifyTransportErr(err)}
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if readErr != nil {
		return Outcome{Device: device, Status: StatusError, Err: readErr.Error()}
	}

	if resp.StatusCode != http.StatusOK {
		return Outcome{
			Device: device,
			Status: StatusError,
			Raw:    logutil.Truncate(string(body), rawSnippet),
			Err:    fmt.Sprintf("check-sync returned HTTP %d", resp.StatusCode),
		}
	}

	return Outcome{
		Device: device,
		Status: ParseSyncResult(extractSyncResult(body)),
		Raw:    logutil.Truncate(string(body), rawSnippet),
	}
}

func (c *HTTPClient) auth(req *http.Request) {
	if c.ep.Username != "" {
		req.SetBasicAuth(c.ep.Username, c.ep.Password)
	}
}

// classifyTransportErr turns the usual transport failures into messages
// an operator can act on: a refused connection almost always means the
// tunnel is down.
func classifyTransportErr(err error) string {
	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		return "connection refused - check if tunnel is active"
	case errors.Is(err, context.DeadlineExceeded) || os.IsTimeout(err):
		return "connection timeout"
	default:
		return err.Error()
	}
}
