// Package handlers implements the HTTP API: tunnel lifecycle, device
// listing, sync batches and their history. Collaborators are injected as
// package-level references from main before the router starts serving.
package handlers

import (
	"fmt"

	"github.com/netauto/nsosync/internal/config"
	"github.com/netauto/nsosync/internal/nso"
	"github.com/netauto/nsosync/internal/synccheck"
	"github.com/netauto/nsosync/internal/tunnel"
)

var (
	Inv     *config.Inventory
	Tunnels *tunnel.Manager
	Checker *synccheck.Orchestrator

	// ClientKind selects the device API implementation ("http" or "curl").
	ClientKind string
)

// clientFor builds a device API client pointing at wherever the instance
// is reachable right now. The tunnel (or direct record) must already
// exist; handlers surface that as a 409 rather than auto-connecting.
func clientFor(inst config.Instance) (nso.Client, error) {
	host, port, ok := Tunnels.ActiveEndpoint(inst)
	if !ok {
		return nil, fmt.Errorf("no active tunnel for %s - connect first", inst.Name)
	}
	if inst.Username == "" {
		return nil, fmt.Errorf("%w %s (set %s / %s)", config.ErrNoCredentials, inst.Name, inst.UsernameEnv, inst.PasswordEnv)
	}
	return nso.NewClient(ClientKind, nso.Endpoint{
		Scheme:   inst.APIScheme(),
		Host:     host,
		Port:     port,
		Username: inst.Username,
		Password: inst.Password,
	}), nil
}
