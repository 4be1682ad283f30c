package nso

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
)

// ConnResult is the outcome of a connection test against an instance.
type ConnResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Client is the device API surface the sync orchestrator needs. Both the
// HTTP and the curl implementation satisfy it; tests inject fakes.
type Client interface {
	TestConnection(ctx context.Context) ConnResult
	ListDevices(ctx context.Context) ([]string, error)
	CheckDeviceSync(ctx context.Context, device string) Outcome
}

// Endpoint is where a client should reach an instance's API right now:
// the tunnel's local side, or the instance host itself for direct access.
type Endpoint struct {
	Scheme   string
	Host     string
	Port     int
	Username string
	Password string
}

// BaseURL renders the endpoint's URL prefix without a trailing slash.
func (e Endpoint) BaseURL() string {
	return fmt.Sprintf("%s://%s:%d", e.Scheme, e.Host, e.Port)
}

// NewClient returns the client implementation named by kind ("curl" or
// "http"; anything else falls back to http).
func NewClient(kind string, ep Endpoint) Client {
	if kind == "curl" {
		return NewCurlClient(ep)
	}
	return NewHTTPClient(ep)
}

const (
	devicesPath    = "/restconf/data/tailf-ncs:devices"
	deviceListPath = "/restconf/data/tailf-ncs:devices/device"
)

// NSO speaks yang-data JSON when asked but some deployments answer the
// curl path in XML regardless, so extraction is defensive: structured
// JSON first, then an XML name scan.
var xmlNameRe = regexp.MustCompile(`<name>([^<]+)</name>`)

func extractDeviceNames(body []byte) []string {
	var payload struct {
		Devices []struct {
			Name string `json:"name"`
		} `json:"tailf-ncs:device"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && len(payload.Devices) > 0 {
		names := make([]string, 0, len(payload.Devices))
		for _, d := range payload.Devices {
			if d.Name != "" {
				names = append(names, d.Name)
			}
		}
		return names
	}

	var names []string
	for _, m := range xmlNameRe.FindAllSubmatch(body, -1) {
		names = append(names, string(m[1]))
	}
	return names
}

var xmlResultRe = regexp.MustCompile(`<result>([^<]+)</result>`)

// extractSyncResult pulls the result field out of a check-sync response,
// whichever encoding it arrived in. Empty means unparsable.
func extractSyncResult(body []byte) string {
	var payload struct {
		Output struct {
			Result string `json:"result"`
		} `json:"tailf-ncs:output"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Output.Result != "" {
		return payload.Output.Result
	}
	if m := xmlResultRe.FindSubmatch(body); m != nil {
		return string(m[1])
	}
	return ""
}
